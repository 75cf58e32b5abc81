package domain

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// moneyPlaces is the minor-unit precision of every stored amount
const moneyPlaces = 2

func init() {
	// Amounts are written as JSON numbers; decoding accepts both forms
	decimal.MarshalJSONWithoutQuotes = true
}

// ItemAmount returns quantity × rate rounded to cents. Negative inputs count as zero.
func ItemAmount(quantity, rate decimal.Decimal) decimal.Decimal {
	if quantity.IsNegative() || rate.IsNegative() {
		return decimal.Zero
	}
	return quantity.Mul(rate).Round(moneyPlaces)
}

// InvoiceTotal sums the item amounts. An empty list totals zero.
func InvoiceTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(ItemAmount(item.Quantity, item.Rate))
	}
	return total
}

// Coerce converts loosely typed form input into a non-negative decimal.
// Anything unparseable, non-finite or negative becomes zero.
func Coerce(v any) decimal.Decimal {
	var d decimal.Decimal
	switch x := v.(type) {
	case decimal.Decimal:
		d = x
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero
		}
		d = *x
	case int:
		d = decimal.NewFromInt(int64(x))
	case int64:
		d = decimal.NewFromInt(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero
		}
		d = decimal.NewFromFloat(x)
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero
		}
		d = decimal.NewFromFloat32(x)
	case json.Number:
		return Coerce(string(x))
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Zero
		}
		d = parsed
	default:
		return decimal.Zero
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// NewLineItem builds an item from form input and derives its amount
func NewLineItem(description string, quantity, rate any) LineItem {
	q, r := Coerce(quantity), Coerce(rate)
	return LineItem{
		Description: strings.TrimSpace(description),
		Quantity:    q,
		Rate:        r,
		Amount:      ItemAmount(q, r),
	}
}

// SetItems replaces the line items and recalculates the amount
func (i *Invoice) SetItems(items []LineItem) {
	i.Items = make([]LineItem, len(items))
	copy(i.Items, items)
	i.Recalculate()
}

// Recalculate refreshes each item amount and the invoice amount
func (i *Invoice) Recalculate() {
	for idx := range i.Items {
		item := &i.Items[idx]
		item.Quantity = Coerce(item.Quantity)
		item.Rate = Coerce(item.Rate)
		item.Amount = ItemAmount(item.Quantity, item.Rate)
	}
	i.Amount = InvoiceTotal(i.Items)
}

// ToMinorUnits converts an amount to integer cents
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(moneyPlaces).Round(0).IntPart()
}

// FromMinorUnits converts integer cents back to an amount
func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -moneyPlaces)
}

// FormatMoney renders an amount as "$1,234.50"; non-USD currencies are
// prefixed with their code
func FormatMoney(d decimal.Decimal, currency string) string {
	negative := d.IsNegative()
	s := d.Abs().StringFixed(moneyPlaces)

	dot := len(s) - 3
	intPart, decPart := s[:dot], s[dot:]

	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}

	prefix := "$"
	if currency != "" && !strings.EqualFold(currency, "USD") {
		prefix = strings.ToUpper(currency) + " "
	}
	if negative {
		prefix = "-" + prefix
	}
	return prefix + b.String() + decPart
}
