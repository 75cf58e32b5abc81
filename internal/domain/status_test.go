package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from    InvoiceStatus
		trigger Trigger
		want    InvoiceStatus
		wantErr bool
	}{
		{"", TriggerCreate, InvoiceStatusDraft, false},
		{InvoiceStatusDraft, TriggerSave, InvoiceStatusDraft, false},
		{InvoiceStatusDraft, TriggerSend, InvoiceStatusSent, false},
		{InvoiceStatusSent, TriggerPaymentConfirmed, InvoiceStatusPaid, false},
		{InvoiceStatusSent, TriggerPaymentFailed, InvoiceStatusSent, false},
		{InvoiceStatusPaid, TriggerDelete, "", false},
		{InvoiceStatusDraft, TriggerPaymentConfirmed, InvoiceStatusDraft, true},
		{InvoiceStatusSent, TriggerSend, InvoiceStatusSent, true},
		{InvoiceStatusSent, TriggerSave, InvoiceStatusSent, true},
		{InvoiceStatusPaid, TriggerPaymentConfirmed, InvoiceStatusPaid, true},
		{InvoiceStatusPaid, TriggerPaymentFailed, InvoiceStatusPaid, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.trigger), func(t *testing.T) {
			got, err := Transition(tt.from, tt.trigger)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Transition = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateInvariants(t *testing.T) {
	issue := day("2024-01-01")
	base := func() *Invoice {
		inv := NewInvoice("id-1", "INV-2024-001", "Acme", "Site", issue, issue.AddDate(0, 0, 30))
		inv.SetItems([]LineItem{NewLineItem("work", 1, 100)})
		return inv
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid invoice rejected: %v", err)
	}

	inv := base()
	inv.DueDate = issue.AddDate(0, 0, -1)
	if err := inv.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("due before issue: expected validation error, got %v", err)
	}

	inv = base()
	inv.Status = InvoiceStatusPaid
	if err := inv.Validate(); err == nil {
		t.Error("paid without paid date should be rejected")
	}

	inv = base()
	now := time.Now()
	inv.PaidDate = &now
	if err := inv.Validate(); err == nil {
		t.Error("paid date on a draft should be rejected")
	}

	inv = base()
	inv.Amount = dec("1")
	if err := inv.Validate(); err == nil {
		t.Error("amount drift should be rejected")
	}
}

func TestValidateForSend(t *testing.T) {
	inv := NewInvoice("id-1", "INV-1", "", "Site", day("2024-01-01"), day("2024-01-31"))
	inv.SetItems([]LineItem{NewLineItem("work", 1, 100)})

	err := inv.ValidateForSend()
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "client" {
		t.Fatalf("expected client validation error, got %v", err)
	}

	inv.Client = "Acme"
	inv.Items = append(inv.Items, LineItem{Description: "  "})
	if err := inv.ValidateForSend(); err == nil {
		t.Fatal("expected error for item without description")
	}
}

func TestCloneIsDeep(t *testing.T) {
	link := "https://pay.example/l/1"
	inv := &Invoice{Items: []LineItem{NewLineItem("a", 1, 1)}, PaymentLink: &link}
	c := inv.Clone()
	c.Items[0].Description = "changed"
	*c.PaymentLink = "other"
	if inv.Items[0].Description != "a" || inv.Link() != link {
		t.Fatal("clone shares state with original")
	}
}
