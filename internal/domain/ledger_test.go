package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestItemAmount(t *testing.T) {
	tests := []struct {
		name     string
		quantity string
		rate     string
		want     string
	}{
		{"whole numbers", "2", "150", "300"},
		{"rounds to cents", "1.333", "10", "13.33"},
		{"rounds half up", "0.125", "1", "0.13"},
		{"zero quantity", "0", "99.99", "0"},
		{"negative quantity", "-1", "50", "0"},
		{"negative rate", "3", "-5", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ItemAmount(dec(tt.quantity), dec(tt.rate))
			if !got.Equal(dec(tt.want)) {
				t.Fatalf("ItemAmount(%s, %s) = %s, want %s", tt.quantity, tt.rate, got, tt.want)
			}
		})
	}
}

func TestInvoiceTotalMatchesItemSum(t *testing.T) {
	items := []LineItem{
		NewLineItem("design", "1.5", "120"),
		NewLineItem("build", "10", "95.555"),
		NewLineItem("hosting", 1, 20),
	}

	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(ItemAmount(item.Quantity, item.Rate))
	}
	if got := InvoiceTotal(items); !got.Equal(sum) {
		t.Fatalf("total = %s, want %s", got, sum)
	}
	if got := InvoiceTotal(nil); !got.IsZero() {
		t.Fatalf("empty total = %s, want 0", got)
	}
}

func TestRecalculateAfterEdit(t *testing.T) {
	inv := &Invoice{}
	inv.SetItems([]LineItem{
		NewLineItem("phase one", 1, 15000),
		NewLineItem("phase two", 1, 10000),
	})
	if !inv.Amount.Equal(dec("25000")) {
		t.Fatalf("amount = %s, want 25000", inv.Amount)
	}

	inv.Items[1].Rate = dec("12000")
	inv.Recalculate()
	if !inv.Amount.Equal(dec("27000")) {
		t.Fatalf("amount after edit = %s, want 27000", inv.Amount)
	}
	if !inv.Items[1].Amount.Equal(dec("12000")) {
		t.Errorf("item amount = %s, want 12000", inv.Items[1].Amount)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", " 12.50 ", "12.5"},
		{"garbage string", "abc", "0"},
		{"empty string", "", "0"},
		{"int", 7, "7"},
		{"float", 2.25, "2.25"},
		{"nan", math.NaN(), "0"},
		{"inf", math.Inf(1), "0"},
		{"negative", "-4", "0"},
		{"json number", json.Number("3.1"), "3.1"},
		{"nil", nil, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Coerce(tt.in); !got.Equal(dec(tt.want)) {
				t.Fatalf("Coerce(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestMinorUnits(t *testing.T) {
	if got := ToMinorUnits(dec("25000.10")); got != 2500010 {
		t.Fatalf("ToMinorUnits = %d, want 2500010", got)
	}
	if got := FromMinorUnits(1999); !got.Equal(dec("19.99")) {
		t.Fatalf("FromMinorUnits = %s, want 19.99", got)
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     string
	}{
		{"0", "USD", "$0.00"},
		{"1234.5", "USD", "$1,234.50"},
		{"27000", "", "$27,000.00"},
		{"999", "eur", "EUR 999.00"},
		{"-12.3", "USD", "-$12.30"},
	}
	for _, tt := range tests {
		if got := FormatMoney(dec(tt.in), tt.currency); got != tt.want {
			t.Errorf("FormatMoney(%s, %q) = %q, want %q", tt.in, tt.currency, got, tt.want)
		}
	}
}
