package webhook

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/andy/invoicepay/internal/domain"
)

const (
	TypePaymentSucceeded = "payment_intent.succeeded"
	TypePaymentFailed    = "payment_intent.payment_failed"
)

// Event is one of PaymentSucceeded, PaymentFailed or Unknown
type Event interface {
	EventType() string
	sealed()
}

// PaymentSucceeded reports a captured payment
type PaymentSucceeded struct {
	IntentID  string
	InvoiceID string // may be empty; the intent record is authoritative
	Status    string
	// AmountReceived is nil when the event omits it
	AmountReceived *decimal.Decimal
}

// PaymentFailed reports a definitive decline
type PaymentFailed struct {
	IntentID  string
	InvoiceID string
	Reason    string
}

// Unknown is any event type the engine does not act on
type Unknown struct {
	Type string
}

func (PaymentSucceeded) EventType() string { return TypePaymentSucceeded }
func (PaymentFailed) EventType() string    { return TypePaymentFailed }
func (e Unknown) EventType() string        { return e.Type }

func (PaymentSucceeded) sealed() {}
func (PaymentFailed) sealed()    {}
func (Unknown) sealed()          {}

type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object payload `json:"object"`
	} `json:"data"`
}

type payload struct {
	ID             string            `json:"id"`
	InvoiceID      string            `json:"invoice_id"`
	Status         string            `json:"status"`
	AmountReceived json.Number       `json:"amount_received"`
	Metadata       map[string]string `json:"metadata"`
	LastError      *struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"last_payment_error"`
}

// Parse decodes a gateway notification. Optional fields may be missing;
// amount_received is in minor units.
func Parse(data []byte) (Event, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, &domain.ValidationError{Field: "payload", Message: "malformed event: " + err.Error()}
	}
	if env.Type == "" {
		return nil, &domain.ValidationError{Field: "type", Message: "event type is required"}
	}

	obj := env.Data.Object
	switch env.Type {
	case TypePaymentSucceeded, TypePaymentFailed:
		if obj.ID == "" {
			return nil, &domain.ValidationError{Field: "data.object.id", Message: "payment intent id is required"}
		}
	default:
		return Unknown{Type: env.Type}, nil
	}

	invoiceID := obj.InvoiceID
	if invoiceID == "" {
		invoiceID = obj.Metadata["invoice_id"]
	}

	if env.Type == TypePaymentFailed {
		return PaymentFailed{
			IntentID:  obj.ID,
			InvoiceID: invoiceID,
			Reason:    failureReason(obj),
		}, nil
	}

	ev := PaymentSucceeded{
		IntentID:  obj.ID,
		InvoiceID: invoiceID,
		Status:    obj.Status,
	}
	if obj.AmountReceived != "" {
		minor, err := decimal.NewFromString(obj.AmountReceived.String())
		if err != nil || minor.IsNegative() {
			return nil, &domain.ValidationError{Field: "data.object.amount_received", Message: "must be a non-negative number"}
		}
		amount := minor.Shift(-2)
		ev.AmountReceived = &amount
	}
	return ev, nil
}

func failureReason(obj payload) string {
	if obj.LastError != nil {
		for _, s := range []string{obj.LastError.Message, obj.LastError.DeclineCode, obj.LastError.Code} {
			if strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return "payment failed"
}
