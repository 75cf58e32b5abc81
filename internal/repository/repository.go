package repository

import (
	"context"
	"errors"
	"time"

	"github.com/andy/invoicepay/internal/domain"
)

// ErrNoChange may be returned by an Update callback to release the invoice
// without writing. Update then returns the current record and a nil error.
var ErrNoChange = errors.New("no change")

// InvoiceFilter narrows List results. Zero values match everything.
type InvoiceFilter struct {
	Status *domain.InvoiceStatus
	Client string
}

// InvoiceRepository manages invoice persistence
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *domain.Invoice) error
	GetByID(ctx context.Context, id string) (*domain.Invoice, error)
	GetByNumber(ctx context.Context, number string) (*domain.Invoice, error)
	List(ctx context.Context, filter InvoiceFilter) ([]*domain.Invoice, error)
	// Update is the only read-modify-write path. It loads the invoice, applies
	// fn and persists the result while holding the invoice's lock, so updates
	// to one invoice are serialized and updates to different invoices are not.
	// The write is rejected if the result breaks an invoice invariant.
	Update(ctx context.Context, id string, fn func(invoice *domain.Invoice) error) (*domain.Invoice, error)
	Delete(ctx context.Context, id string) error
	GetNextInvoiceNumber(ctx context.Context, prefix string, year int) (string, error)
}

// PaymentRepository records gateway-side intents and links
type PaymentRepository interface {
	SaveIntent(ctx context.Context, intent *domain.PaymentIntent) error
	GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
	// SettleIntent records a terminal status, inserting the intent if it is
	// unknown. A succeeded intent is never overwritten. It reports whether
	// anything changed.
	SettleIntent(ctx context.Context, intent *domain.PaymentIntent) (bool, error)
	ListPendingIntents(ctx context.Context, createdBefore time.Time) ([]*domain.PaymentIntent, error)

	// SaveLink stores link as the invoice's only active link
	SaveLink(ctx context.Context, link *domain.PaymentLink) error
	GetActiveLink(ctx context.Context, invoiceID string) (*domain.PaymentLink, error) // Returns nil if none
	DeactivateLinks(ctx context.Context, invoiceID string) error
}

// settle applies the terminal-status rule shared by both implementations
func settle(existing, incoming *domain.PaymentIntent) bool {
	if existing.Status == domain.IntentStatusSucceeded {
		return false
	}
	if existing.Status == incoming.Status && existing.FailureReason == incoming.FailureReason {
		return false
	}
	existing.Status = incoming.Status
	existing.FailureReason = incoming.FailureReason
	if incoming.AmountReceivedMinor > 0 {
		existing.AmountReceivedMinor = incoming.AmountReceivedMinor
	}
	existing.UpdatedAt = time.Now()
	return true
}
