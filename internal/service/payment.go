package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/repository"
)

// ApplyResult says what a payment confirmation did to the invoice
type ApplyResult string

const (
	// Applied moved the invoice to paid
	Applied ApplyResult = "applied"
	// Duplicate means the same intent had already paid the invoice
	Duplicate ApplyResult = "duplicate"
	// AlreadyPaid means a different intent had already paid the invoice
	AlreadyPaid ApplyResult = "already_paid"
	// Pending means the processor has not decided yet
	Pending ApplyResult = "pending"
)

// payments applies terminal payment outcomes to invoices. Both the direct
// confirmation path and webhooks go through it, so racing sources resolve on
// the invoice's status under the store's per-invoice lock.
type payments struct {
	invoices      repository.InvoiceRepository
	acceptPartial bool
	now           func() time.Time
	log           zerolog.Logger
}

// confirmed applies the payment_confirmed trigger. A nil received amount
// means the full invoice amount.
func (p *payments) confirmed(ctx context.Context, invoiceID, intentID string, received *decimal.Decimal) (*domain.Invoice, ApplyResult, error) {
	result := Applied

	inv, err := p.invoices.Update(ctx, invoiceID, func(inv *domain.Invoice) error {
		if inv.Status == domain.InvoiceStatusPaid {
			if inv.PaymentIntentID == intentID {
				result = Duplicate
			} else {
				result = AlreadyPaid
			}
			return repository.ErrNoChange
		}

		next, err := domain.Transition(inv.Status, domain.TriggerPaymentConfirmed)
		if err != nil {
			return err
		}

		amount := inv.Amount
		if received != nil {
			amount = *received
		}
		if err := p.checkAmount(inv, amount); err != nil {
			return err
		}

		now := p.now()
		inv.Status = next
		inv.PaidDate = &now
		inv.PaymentIntentID = intentID
		inv.AmountPaid = amount
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	switch result {
	case Applied:
		p.log.Info().Str("invoice_id", invoiceID).Str("intent_id", intentID).Msg("invoice paid")
	case AlreadyPaid:
		p.log.Warn().
			Str("invoice_id", invoiceID).
			Str("intent_id", intentID).
			Str("paid_by", inv.PaymentIntentID).
			Msg("second successful payment for a paid invoice")
	}
	return inv, result, nil
}

func (p *payments) checkAmount(inv *domain.Invoice, amount decimal.Decimal) error {
	if amount.Equal(inv.Amount) {
		return nil
	}
	if p.acceptPartial && amount.IsPositive() && amount.LessThan(inv.Amount) {
		return nil
	}
	return fmt.Errorf("%w: received %s, invoice total %s",
		domain.ErrAmountMismatch,
		domain.FormatMoney(amount, inv.Currency),
		domain.FormatMoney(inv.Amount, inv.Currency))
}

// failed checks that payment_failed is legal for the invoice. The invoice
// itself does not change.
func (p *payments) failed(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	inv, err := p.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return inv, nil
	}
	if _, err := domain.Transition(inv.Status, domain.TriggerPaymentFailed); err != nil {
		return nil, err
	}
	return inv, nil
}

// isBusinessError reports errors that redelivering the same event cannot fix
func isBusinessError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrAmountMismatch) ||
		errors.Is(err, domain.ErrInvoiceNotFound) ||
		errors.Is(err, domain.ErrIntentNotFound) ||
		errors.Is(err, domain.ErrPaymentDeclined)
}
