package order

import (
	"github.com/shopspring/decimal"
)

// Discount is either a fraction of the subtotal (0.1 = 10%) or a fixed amount.
// Percent wins when both are set.
type Discount struct {
	Percent float64         `json:"percent,omitempty" bson:"percent,omitempty"`
	Amount  decimal.Decimal `json:"amount" bson:"amount"`
}

func (d Discount) IsZero() bool {
	return d.Percent == 0 && d.Amount.IsZero()
}

// Rates groups the fractional rates applied on top of a subtotal.
type Rates struct {
	Tax           float64
	ServiceFee    float64
	ServiceFeeTax float64
}

// Totals is the derived money snapshot of an order or a bill. Values keep full
// precision; use Display to produce an amount for a receipt or screen.
type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal" bson:"subtotal"`
	Discount      decimal.Decimal `json:"discount" bson:"discount"`
	Tax           decimal.Decimal `json:"tax" bson:"tax"`
	ServiceFee    decimal.Decimal `json:"service_fee" bson:"service_fee"`
	ServiceFeeTax decimal.Decimal `json:"service_fee_tax" bson:"service_fee_tax"`
	Total         decimal.Decimal `json:"total" bson:"total"`
	Tips          decimal.Decimal `json:"tips" bson:"tips"`
	TotalWithTip  decimal.Decimal `json:"total_with_tip" bson:"total_with_tip"`
}

// Display rounds an amount to cents.
func Display(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ComputeTotals applies the discount before tax and service fee.
func ComputeTotals(subtotal, discount decimal.Decimal, rates Rates, tips decimal.Decimal) Totals {
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	base := subtotal.Sub(discount)
	tax := base.Mul(decimal.NewFromFloat(rates.Tax))
	fee := base.Mul(decimal.NewFromFloat(rates.ServiceFee))
	feeTax := fee.Mul(decimal.NewFromFloat(rates.ServiceFeeTax))
	total := base.Add(tax).Add(fee).Add(feeTax)

	return Totals{
		Subtotal:      subtotal,
		Discount:      discount,
		Tax:           tax,
		ServiceFee:    fee,
		ServiceFeeTax: feeTax,
		Total:         total,
		Tips:          tips,
		TotalWithTip:  total.Add(tips),
	}
}

// discountFor resolves the discount for a portion of the order. A fixed amount
// is spread in proportion to the portion's share of the order subtotal.
func discountFor(d Discount, portion, orderSubtotal decimal.Decimal) decimal.Decimal {
	if d.Percent > 0 {
		return portion.Mul(decimal.NewFromFloat(d.Percent))
	}
	if d.Amount.IsZero() || orderSubtotal.IsZero() {
		return decimal.Zero
	}
	if portion.Equal(orderSubtotal) {
		return d.Amount
	}
	return d.Amount.Mul(portion).Div(orderSubtotal)
}
