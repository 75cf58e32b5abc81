package gateway

import (
	"context"

	"github.com/andy/invoicepay/internal/domain"
)

// IntentRequest asks the processor to collect an invoice amount
type IntentRequest struct {
	InvoiceID      string
	InvoiceNumber  string
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
}

// LinkRequest asks the processor for a hosted payment page
type LinkRequest struct {
	InvoiceID     string
	InvoiceNumber string
	Description   string
	AmountMinor   int64
	Currency      string
}

// Processor is the payment provider seen by the adapter. Implementations map
// provider failures to domain.ErrGatewayUnavailable or *domain.PaymentDeclinedError.
type Processor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*domain.PaymentIntent, error)
	ConfirmIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error)
	GetIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error)
	CreateLink(ctx context.Context, req LinkRequest) (*domain.PaymentLink, error)
	DeactivateLink(ctx context.Context, linkID string) error
}
