package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/repository"
)

// Adapter is the engine's view of the payment provider. Every call is bounded
// by the configured timeout and transient failures are retried with backoff.
type Adapter struct {
	processor Processor
	payments  repository.PaymentRepository
	mailer    Mailer
	renderer  Renderer
	retry     retrier
	links     *repository.KeyedLocker
	log       zerolog.Logger
}

func NewAdapter(
	processor Processor,
	payments repository.PaymentRepository,
	mailer Mailer,
	renderer Renderer,
	cfg RetryConfig,
	log zerolog.Logger,
) *Adapter {
	return &Adapter{
		processor: processor,
		payments:  payments,
		mailer:    mailer,
		renderer:  renderer,
		retry:     retrier{cfg: cfg.withDefaults(), log: log},
		links:     repository.NewKeyedLocker(),
		log:       log,
	}
}

// intentKey scopes intent creation to the invoice and its amount, so a
// repeated Pay reuses the processor's intent instead of charging twice
func intentKey(inv *domain.Invoice) string {
	return fmt.Sprintf("invoice-%s-%d", inv.ID, domain.ToMinorUnits(inv.Amount))
}

// CreatePaymentIntent opens a pending intent for the invoice amount
func (a *Adapter) CreatePaymentIntent(ctx context.Context, inv *domain.Invoice) (*domain.PaymentIntent, error) {
	if !inv.Amount.IsPositive() {
		return nil, &domain.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	req := IntentRequest{
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.Number,
		AmountMinor:    domain.ToMinorUnits(inv.Amount),
		Currency:       currencyOf(inv),
		IdempotencyKey: intentKey(inv),
	}

	var intent *domain.PaymentIntent
	err := a.retry.do(ctx, "create_intent", func(ctx context.Context) error {
		var err error
		intent, err = a.processor.CreateIntent(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := a.payments.SaveIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("save payment intent: %w", err)
	}

	a.log.Debug().
		Str("invoice_id", inv.ID).
		Str("intent_id", intent.ID).
		Int64("amount_minor", intent.AmountMinorUnits).
		Msg("payment intent created")
	return intent, nil
}

// ConfirmPayment asks the processor to settle an intent. A decline returns a
// *domain.PaymentDeclinedError and is recorded against the intent. An intent
// the processor has not decided yet is returned with its pending status.
func (a *Adapter) ConfirmPayment(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	var intent *domain.PaymentIntent
	err := a.retry.do(ctx, "confirm_intent", func(ctx context.Context) error {
		var err error
		intent, err = a.processor.ConfirmIntent(ctx, intentID)
		return err
	})

	var declined *domain.PaymentDeclinedError
	if errors.As(err, &declined) {
		a.recordDecline(ctx, intentID, declined.Reason)
		return nil, declined
	}
	if err != nil {
		return nil, err
	}

	if intent.Status.IsTerminal() {
		if _, err := a.payments.SettleIntent(ctx, intent); err != nil {
			return nil, fmt.Errorf("settle payment intent: %w", err)
		}
	}
	return intent, nil
}

func (a *Adapter) recordDecline(ctx context.Context, intentID, reason string) {
	stored, err := a.payments.GetIntent(ctx, intentID)
	if err != nil {
		a.log.Warn().Err(err).Str("intent_id", intentID).Msg("declined intent not recorded locally")
		return
	}
	stored.Status = domain.IntentStatusFailed
	stored.FailureReason = reason
	if _, err := a.payments.SettleIntent(ctx, stored); err != nil {
		a.log.Error().Err(err).Str("intent_id", intentID).Msg("failed to record decline")
	}
}

// GetPaymentIntent fetches the processor's current view of an intent
func (a *Adapter) GetPaymentIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	var intent *domain.PaymentIntent
	err := a.retry.do(ctx, "get_intent", func(ctx context.Context) error {
		var err error
		intent, err = a.processor.GetIntent(ctx, intentID)
		return err
	})
	return intent, err
}

// CreatePaymentLink returns the invoice's active link, minting one only when
// none exists
func (a *Adapter) CreatePaymentLink(ctx context.Context, inv *domain.Invoice) (*domain.PaymentLink, error) {
	unlock := a.links.Lock(inv.ID)
	defer unlock()

	active, err := a.payments.GetActiveLink(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("get active link: %w", err)
	}
	if active != nil {
		return active, nil
	}
	return a.mintLink(ctx, inv)
}

// RegeneratePaymentLink deactivates the active link and mints a new one
func (a *Adapter) RegeneratePaymentLink(ctx context.Context, inv *domain.Invoice) (*domain.PaymentLink, error) {
	unlock := a.links.Lock(inv.ID)
	defer unlock()

	if err := a.deactivateLocked(ctx, inv.ID); err != nil {
		return nil, err
	}
	return a.mintLink(ctx, inv)
}

// DeactivatePaymentLinks turns off every link issued for the invoice
func (a *Adapter) DeactivatePaymentLinks(ctx context.Context, invoiceID string) error {
	unlock := a.links.Lock(invoiceID)
	defer unlock()
	return a.deactivateLocked(ctx, invoiceID)
}

func (a *Adapter) deactivateLocked(ctx context.Context, invoiceID string) error {
	active, err := a.payments.GetActiveLink(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("get active link: %w", err)
	}
	if active == nil {
		return nil
	}

	err = a.retry.do(ctx, "deactivate_link", func(ctx context.Context) error {
		return a.processor.DeactivateLink(ctx, active.ID)
	})
	if err != nil {
		return err
	}
	if err := a.payments.DeactivateLinks(ctx, invoiceID); err != nil {
		return fmt.Errorf("deactivate links: %w", err)
	}

	a.log.Info().Str("invoice_id", invoiceID).Str("link_id", active.ID).Msg("payment link deactivated")
	return nil
}

func (a *Adapter) mintLink(ctx context.Context, inv *domain.Invoice) (*domain.PaymentLink, error) {
	if !inv.Amount.IsPositive() {
		return nil, &domain.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	req := LinkRequest{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		Description:   linkDescription(inv),
		AmountMinor:   domain.ToMinorUnits(inv.Amount),
		Currency:      currencyOf(inv),
	}

	var link *domain.PaymentLink
	err := a.retry.do(ctx, "create_link", func(ctx context.Context) error {
		var err error
		link, err = a.processor.CreateLink(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := a.payments.SaveLink(ctx, link); err != nil {
		return nil, fmt.Errorf("save payment link: %w", err)
	}

	a.log.Info().Str("invoice_id", inv.ID).Str("link_id", link.ID).Msg("payment link created")
	return link, nil
}

// SendInvoiceEmail delivers the invoice envelope to the client
func (a *Adapter) SendInvoiceEmail(ctx context.Context, invoiceID string, env domain.EmailEnvelope) (*domain.EmailReceipt, error) {
	if strings.TrimSpace(env.To) == "" {
		return nil, &domain.ValidationError{Field: "clientEmail", Message: "recipient is required"}
	}

	var receipt *domain.EmailReceipt
	err := a.retry.do(ctx, "send_email", func(ctx context.Context) error {
		var err error
		receipt, err = a.mailer.Send(ctx, env)
		return err
	})
	if err != nil {
		return nil, err
	}

	a.log.Info().Str("invoice_id", invoiceID).Str("message_id", receipt.MessageID).Msg("invoice email sent")
	return receipt, nil
}

// GeneratePDF renders a snapshot of the invoice. It never mutates inv.
func (a *Adapter) GeneratePDF(ctx context.Context, inv *domain.Invoice) (*domain.Document, error) {
	snapshot := inv.Clone()

	var doc *domain.Document
	err := a.retry.do(ctx, "generate_pdf", func(ctx context.Context) error {
		var err error
		doc, err = a.renderer.Render(ctx, snapshot)
		return err
	})
	return doc, err
}

func currencyOf(inv *domain.Invoice) string {
	if inv.Currency == "" {
		return "usd"
	}
	return strings.ToLower(inv.Currency)
}

func linkDescription(inv *domain.Invoice) string {
	if inv.Project != "" {
		return fmt.Sprintf("Invoice %s - %s", inv.Number, inv.Project)
	}
	return "Invoice " + inv.Number
}
