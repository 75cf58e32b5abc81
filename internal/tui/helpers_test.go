package tui

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/service"
)

func TestParseItems(t *testing.T) {
	items, err := parseItems("Design:2:150; Consulting: phase 1:3:100 ;")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if !items[0].Amount.Equal(decimal.NewFromInt(300)) {
		t.Errorf("first amount = %s", items[0].Amount)
	}
	if items[1].Description != "Consulting: phase 1" {
		t.Errorf("description = %q", items[1].Description)
	}

	if _, err := parseItems("Design:2"); err == nil {
		t.Error("expected an error for a short item")
	}
}

func TestParseOptionalDate(t *testing.T) {
	zero, err := parseOptionalDate("  ")
	if err != nil || !zero.IsZero() {
		t.Fatalf("empty date: %v, %v", zero, err)
	}
	d, err := parseOptionalDate("2025-03-31")
	if err != nil || d.Day() != 31 {
		t.Fatalf("date: %v, %v", d, err)
	}
	if _, err := parseOptionalDate("31/03/2025"); err == nil {
		t.Error("expected an error for the wrong layout")
	}
}

func TestStatusBadge(t *testing.T) {
	inv := &domain.Invoice{Status: domain.InvoiceStatusSent}

	got := statusBadge(&service.View{Invoice: inv, Overdue: domain.Overdue{IsOverdue: true, DaysOverdue: 3}})
	if !strings.Contains(got, "OVERDUE 3d") {
		t.Errorf("overdue badge = %q", got)
	}
	if got := statusBadge(&service.View{Invoice: inv}); !strings.Contains(got, "SENT") {
		t.Errorf("sent badge = %q", got)
	}
}

func TestTruncateStr(t *testing.T) {
	if got := truncateStr("Acme Corporation", 8); got != "Acme ..." {
		t.Errorf("got %q", got)
	}
	if got := truncateStr("Acme", 8); got != "Acme" {
		t.Errorf("got %q", got)
	}
}
