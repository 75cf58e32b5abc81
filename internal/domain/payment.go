package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentStatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentStatusSucceeded             IntentStatus = "succeeded"
	IntentStatusFailed                IntentStatus = "failed"
)

// IsTerminal returns true once the processor has decided the intent
func (s IntentStatus) IsTerminal() bool {
	return s == IntentStatusSucceeded || s == IntentStatusFailed
}

// PaymentIntent is a processor-side request to collect an invoice amount
type PaymentIntent struct {
	ID                  string       `json:"id"`
	InvoiceID           string       `json:"invoiceId"`
	AmountMinorUnits    int64        `json:"amountMinorUnits"`
	AmountReceivedMinor int64        `json:"amountReceivedMinor"`
	Currency            string       `json:"currency"`
	Status              IntentStatus `json:"status"`
	FailureReason       string       `json:"failureReason,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// Received returns the captured amount, falling back to the requested amount
func (p *PaymentIntent) Received() decimal.Decimal {
	if p.AmountReceivedMinor > 0 {
		return FromMinorUnits(p.AmountReceivedMinor)
	}
	return FromMinorUnits(p.AmountMinorUnits)
}

// PaymentLink is a hosted payment page. At most one is active per invoice.
type PaymentLink struct {
	ID        string    `json:"id"`
	InvoiceID string    `json:"invoiceId"`
	URL       string    `json:"url"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type EmailEnvelope struct {
	To      string
	Subject string
	Body    string
}

type EmailReceipt struct {
	MessageID string
	SentAt    time.Time
}

// Document is a rendered invoice snapshot
type Document struct {
	URL      string
	Filename string
}
