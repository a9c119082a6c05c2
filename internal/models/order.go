package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending       OrderStatus = "pending"
	OrderConfirmed     OrderStatus = "confirmed"
	OrderProcessing    OrderStatus = "processing"
	OrderShipped       OrderStatus = "shipped"
	OrderDelivered     OrderStatus = "delivered"
	OrderCanceled      OrderStatus = "canceled"
	OrderReturned      OrderStatus = "returned"
	OrderPaymentFailed OrderStatus = "payment_failed"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderProcessing, OrderShipped,
		OrderDelivered, OrderCanceled, OrderReturned, OrderPaymentFailed:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentPartial    PaymentStatus = "partial"
)

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentSSLCommerz     PaymentMethod = "sslcommerz"
	PaymentBkash          PaymentMethod = "bkash"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
	PaymentCreditCard     PaymentMethod = "credit_card"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentSSLCommerz, PaymentBkash, PaymentBankTransfer, PaymentCreditCard:
		return true
	}
	return false
}

// Online reports whether the method settles through the payment gateway.
func (m PaymentMethod) Online() bool {
	return m != PaymentCashOnDelivery && m != PaymentBankTransfer
}

type DeliveryType string

const (
	DeliveryNormal   DeliveryType = "normal"
	DeliveryOnDemand DeliveryType = "on_demand"
)

// Location is an id+name pair for city, zone and area selections.
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Order struct {
	BaseModel
	OrderNumber    string     `gorm:"uniqueIndex;not null" json:"order_number"`
	IdempotencyKey *string    `gorm:"uniqueIndex" json:"-"`
	UserID         *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`

	CustomerName  string   `json:"customer_name"`
	CustomerPhone string   `json:"customer_phone"`
	CustomerEmail string   `json:"customer_email"`
	StreetAddress string   `json:"street_address"`
	City          Location `gorm:"embedded;embeddedPrefix:city_" json:"city"`
	Zone          Location `gorm:"embedded;embeddedPrefix:zone_" json:"zone"`
	Area          Location `gorm:"embedded;embeddedPrefix:area_" json:"area"`
	Notes         string   `json:"notes"`

	DeliveryType       DeliveryType `json:"delivery_type"`
	Subtotal           float64      `json:"subtotal"`
	ShippingCost       float64      `json:"shipping_cost"`
	CouponCode         string       `json:"coupon_code,omitempty"`
	CouponDiscount     float64      `json:"coupon_discount"`
	CouponDiscountType string       `json:"coupon_discount_type,omitempty"`
	TotalCost          float64      `gorm:"check:total_cost >= 0" json:"total_cost"`
	Currency           string       `json:"currency"`

	OrderStatus   OrderStatus   `gorm:"index;not null" json:"order_status"`
	PaymentStatus PaymentStatus `gorm:"index;not null" json:"payment_status"`
	PaymentMethod PaymentMethod `json:"payment_method"`

	SSLCommerzTransactionID *string    `gorm:"column:sslcommerz_transaction_id;uniqueIndex" json:"sslcommerz_transaction_id,omitempty"`
	SSLCommerzSessionKey    string     `gorm:"column:sslcommerz_session_key" json:"-"`
	GatewayResponse         []byte     `gorm:"type:jsonb" json:"-"`
	PaymentFailureReason    string     `json:"payment_failure_reason,omitempty"`
	PaymentInitiatedAt      *time.Time `json:"payment_initiated_at,omitempty"`
	PaidAt                  *time.Time `json:"paid_at,omitempty"`
	CanceledAt              *time.Time `json:"canceled_at,omitempty"`

	Items []OrderItem `gorm:"constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// OrderItem is a line item. Price fields are a snapshot taken when the order was placed.
type OrderItem struct {
	BaseModel
	OrderID      uuid.UUID `gorm:"type:uuid;index" json:"order_id"`
	ProductID    uuid.UUID `gorm:"type:uuid;index" json:"product_id"`
	Quantity     int       `gorm:"check:quantity >= 1" json:"quantity"`
	Price        float64   `json:"price"`
	SalePrice    float64   `json:"sale_price"`
	UnitPrice    float64   `json:"unit_price"`
	LineTotal    float64   `json:"line_total"`
	Title        string    `json:"title"`
	ISBN         string    `json:"isbn"`
	Author       string    `json:"author"`
	Format       string    `json:"format"`
	FreeShipping bool      `json:"free_shipping"`
}

// OrderSequence holds the last order number issued in a YYMM period.
type OrderSequence struct {
	Period  string `gorm:"primaryKey;size:4"`
	Counter int    `gorm:"not null"`
}
