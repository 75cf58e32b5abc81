package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/andy/invoicepay/internal/domain"
)

func TestParseSucceeded(t *testing.T) {
	ev, err := Parse([]byte(`{
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "invoice_id": "inv-1", "status": "succeeded", "amount_received": 2500000}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, ok := ev.(PaymentSucceeded)
	if !ok {
		t.Fatalf("expected PaymentSucceeded, got %T", ev)
	}
	if got.IntentID != "pi_1" || got.InvoiceID != "inv-1" {
		t.Errorf("ids = %s/%s", got.IntentID, got.InvoiceID)
	}
	if got.AmountReceived == nil || got.AmountReceived.String() != "25000" {
		t.Errorf("amount = %v, want 25000", got.AmountReceived)
	}
}

func TestParseInvoiceIDFromMetadata(t *testing.T) {
	ev, err := Parse([]byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_2","metadata":{"invoice_id":"inv-9"}}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := ev.(PaymentSucceeded)
	if got.InvoiceID != "inv-9" {
		t.Errorf("invoice id = %q", got.InvoiceID)
	}
	if got.AmountReceived != nil {
		t.Errorf("expected nil amount, got %s", got.AmountReceived)
	}
}

func TestParseFailedWithoutAmount(t *testing.T) {
	ev, err := Parse([]byte(`{
		"type": "payment_intent.payment_failed",
		"data": {"object": {"id": "pi_3", "invoice_id": "inv-1",
			"last_payment_error": {"code": "card_declined", "message": "Your card has insufficient funds."}}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, ok := ev.(PaymentFailed)
	if !ok {
		t.Fatalf("expected PaymentFailed, got %T", ev)
	}
	if got.Reason != "Your card has insufficient funds." {
		t.Errorf("reason = %q", got.Reason)
	}

	ev, _ = Parse([]byte(`{"type":"payment_intent.payment_failed","data":{"object":{"id":"pi_4"}}}`))
	if ev.(PaymentFailed).Reason == "" {
		t.Error("expected a default reason")
	}
}

func TestParseUnknownType(t *testing.T) {
	ev, err := Parse([]byte(`{"type":"charge.refunded","data":{"object":{}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u, ok := ev.(Unknown); !ok || u.EventType() != "charge.refunded" {
		t.Fatalf("expected Unknown charge.refunded, got %#v", ev)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":        `{`,
		"no type":         `{"data":{}}`,
		"no intent id":    `{"type":"payment_intent.succeeded","data":{"object":{}}}`,
		"negative amount": `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount_received":-5}}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body)); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifier(t *testing.T) {
	payload := []byte(`{"type":"payment_intent.succeeded"}`)

	if err := NewVerifier("").Verify(payload, ""); err != nil {
		t.Fatalf("disabled verifier rejected payload: %v", err)
	}

	v := NewVerifier("whsec_test")
	if err := v.Verify(payload, sign(payload, "whsec_test", time.Now())); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := v.Verify(payload, sign(payload, "wrong", time.Now())); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected rejection for wrong secret, got %v", err)
	}
	if err := v.Verify(payload, sign(payload, "whsec_test", time.Now().Add(-time.Hour))); err == nil {
		t.Fatal("expected rejection for stale timestamp")
	}
}
