package models

import "time"

// Coupon discount types.
const (
	CouponPercentage  = "percentage"
	CouponFixedAmount = "fixed_amount"
)

type Coupon struct {
	BaseModel
	Code          string    `gorm:"uniqueIndex;not null" json:"code"`
	DiscountType  string    `json:"discount_type"`
	DiscountValue float64   `json:"discount_value"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidUntil    time.Time `json:"valid_until"`
	IsActive      bool      `gorm:"not null" json:"is_active"`
}

// UsableAt reports whether the coupon can be redeemed at t.
func (c *Coupon) UsableAt(t time.Time) bool {
	if !c.IsActive {
		return false
	}
	if !c.ValidFrom.IsZero() && t.Before(c.ValidFrom) {
		return false
	}
	if !c.ValidUntil.IsZero() && t.After(c.ValidUntil) {
		return false
	}
	return true
}
