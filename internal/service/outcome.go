package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/notify"
)

// Operation names carried on every notification
const (
	OpCreate     = "create"
	OpSave       = "save"
	OpSend       = "send"
	OpPay        = "pay"
	OpConfirm    = "confirm_payment"
	OpWebhook    = "webhook"
	OpDelete     = "delete"
	OpPDF        = "pdf"
	OpLink       = "regenerate_link"
	OpImport     = "import"
	OpReconcile  = "reconcile"
	OpPayFailure = "payment_failed"
)

// Describe turns an engine error into a message fit for the user
func Describe(err error) string {
	var (
		validation *domain.ValidationError
		declined   *domain.PaymentDeclinedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return validation.Error()
	case errors.As(err, &declined):
		if declined.Reason != "" {
			return "Payment declined: " + declined.Reason
		}
		return "Payment declined"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "Payment gateway is unavailable, please try again later"
	case errors.Is(err, context.Canceled):
		return "Operation cancelled"
	case errors.Is(err, domain.ErrInvoiceNotFound):
		return "Invoice not found"
	}
	return err.Error()
}

// reporter hands outcomes to the notifier. Delivery problems are logged and
// never change the result of the operation.
type reporter struct {
	notifier notify.Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func (r reporter) emit(ctx context.Context, o notify.Outcome) {
	if r.notifier == nil {
		return
	}
	o.At = r.now()
	if err := r.notifier.Notify(context.WithoutCancel(ctx), o); err != nil {
		r.log.Warn().Err(err).Str("operation", o.Operation).Msg("failed to deliver notification")
	}
}

func (r reporter) success(ctx context.Context, op, invoiceID, msg string) {
	r.emit(ctx, notify.Outcome{Operation: op, InvoiceID: invoiceID, Success: true, Message: msg})
}

func (r reporter) warn(ctx context.Context, op, invoiceID, msg string) {
	r.emit(ctx, notify.Outcome{Operation: op, InvoiceID: invoiceID, Success: true, Warning: true, Message: msg})
}

func (r reporter) failure(ctx context.Context, op, invoiceID string, err error) {
	r.emit(ctx, notify.Outcome{Operation: op, InvoiceID: invoiceID, Success: false, Message: Describe(err)})
}
