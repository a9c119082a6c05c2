package models

// Discount types a product can carry.
const (
	DiscountNone    = "none"
	DiscountPercent = "percent"
	DiscountAmount  = "amount"
)

// Product is a catalog book. Order placement only reads it and moves Stock and Sold.
type Product struct {
	BaseModel
	Title         string  `json:"title"`
	ISBN          string  `gorm:"index" json:"isbn"`
	Author        string  `json:"author"`
	Format        string  `json:"format"`
	Price         float64 `json:"price"`
	SalePrice     float64 `json:"sale_price"`
	DiscountType  string  `gorm:"default:none" json:"discount_type"`
	DiscountValue float64 `json:"discount_value"`
	Stock         int     `gorm:"not null;default:0;check:stock >= 0" json:"stock"`
	Sold          int     `gorm:"not null;default:0" json:"sold"`
	IsActive      bool    `gorm:"not null" json:"is_active"`
	FreeShipping  bool    `json:"free_shipping"`
}
