package services

import (
	"github.com/shopspring/decimal"

	"github.com/example/bookstore/internal/models"
)

// ShippingRates are the flat delivery charges.
type ShippingRates struct {
	Standard float64
	Express  float64
}

// LinePrice is the priced form of a single line item.
type LinePrice struct {
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Totals is the priced form of a whole order.
type Totals struct {
	Subtotal       decimal.Decimal
	ShippingCost   decimal.Decimal
	CouponDiscount decimal.Decimal
	TotalCost      decimal.Decimal
}

// EffectiveUnitPrice applies the product's own discount. A percent or amount
// discount wins over a stored sale price; the result never drops below zero and is
// rounded up to a whole unit.
func EffectiveUnitPrice(price, salePrice float64, discountType string, discountValue float64) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	v := decimal.NewFromFloat(discountValue)

	var eff decimal.Decimal
	switch discountType {
	case models.DiscountPercent:
		eff = p.Sub(p.Mul(v).Div(decimal.NewFromInt(100)))
	case models.DiscountAmount:
		eff = p.Sub(v)
	default:
		eff = p
		if salePrice > 0 && salePrice < price {
			eff = decimal.NewFromFloat(salePrice)
		}
	}

	if eff.IsNegative() {
		eff = decimal.Zero
	}
	return eff.Ceil()
}

// PriceLine returns the effective unit price and the line total for qty units of p.
func PriceLine(p *models.Product, qty int) LinePrice {
	unit := EffectiveUnitPrice(p.Price, p.SalePrice, p.DiscountType, p.DiscountValue)
	return LinePrice{
		UnitPrice: unit,
		LineTotal: unit.Mul(decimal.NewFromInt(int64(qty))),
	}
}

// CouponDiscount returns the discount a coupon grants on subtotal. The result is
// rounded down to a whole unit and never exceeds the subtotal.
func CouponDiscount(subtotal decimal.Decimal, discountType string, value float64) decimal.Decimal {
	if !subtotal.IsPositive() || value <= 0 {
		return decimal.Zero
	}
	v := decimal.NewFromFloat(value)

	var d decimal.Decimal
	switch discountType {
	case models.CouponPercentage:
		d = subtotal.Mul(v).Div(decimal.NewFromInt(100))
	case models.CouponFixedAmount:
		d = v
	default:
		return decimal.Zero
	}

	d = d.Floor()
	if d.GreaterThan(subtotal) {
		d = subtotal
	}
	return d
}

// ShippingCost derives the delivery charge. Free shipping only applies to
// standard delivery.
func ShippingCost(delivery models.DeliveryType, anyFreeShipping bool, rates ShippingRates) decimal.Decimal {
	if delivery == models.DeliveryOnDemand {
		return decimal.NewFromFloat(rates.Express).Ceil()
	}
	if anyFreeShipping {
		return decimal.Zero
	}
	return decimal.NewFromFloat(rates.Standard).Ceil()
}

// OrderTotals combines the pieces into the payable total, floored at zero.
func OrderTotals(subtotal, shipping, discount decimal.Decimal) Totals {
	total := subtotal.Add(shipping).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Totals{
		Subtotal:       subtotal,
		ShippingCost:   shipping,
		CouponDiscount: discount,
		TotalCost:      total.Ceil(),
	}
}

// WholeUnits rounds an amount to the nearest whole currency unit for comparisons.
func WholeUnits(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(0)
}
