package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/notify"
	"github.com/andy/invoicepay/internal/repository"
	"github.com/andy/invoicepay/internal/webhook"
)

// Result is what handling one gateway event achieved. Duplicate deliveries
// succeed with Duplicate set.
type Result struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message"`
}

// WebhookService applies asynchronous gateway events
type WebhookService interface {
	// Handle applies a parsed event. The error is reserved for failures worth
	// redelivering; business rejections come back as an unsuccessful Result.
	Handle(ctx context.Context, ev webhook.Event) (Result, error)

	// HandlePayload verifies, parses and applies a raw delivery
	HandlePayload(ctx context.Context, payload []byte, signature string) (Result, error)
}

type webhookService struct {
	intents  repository.PaymentRepository
	payments *payments
	verifier *webhook.Verifier
	report   reporter
	now      func() time.Time
	log      zerolog.Logger
}

// NewWebhookService creates a webhook service. A nil verifier accepts every payload.
func NewWebhookService(
	invoices repository.InvoiceRepository,
	intents repository.PaymentRepository,
	verifier *webhook.Verifier,
	notifier notify.Notifier,
	opts Options,
	log zerolog.Logger,
) WebhookService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &webhookService{
		intents: intents,
		payments: &payments{
			invoices:      invoices,
			acceptPartial: opts.AcceptPartialPayments,
			now:           opts.Now,
			log:           log,
		},
		verifier: verifier,
		report:   reporter{notifier: notifier, log: log, now: opts.Now},
		now:      opts.Now,
		log:      log,
	}
}

func (s *webhookService) HandlePayload(ctx context.Context, payload []byte, signature string) (Result, error) {
	if err := s.verifier.Verify(payload, signature); err != nil {
		s.report.failure(ctx, OpWebhook, "", err)
		return Result{Success: false, Message: Describe(err)}, err
	}
	ev, err := webhook.Parse(payload)
	if err != nil {
		s.report.failure(ctx, OpWebhook, "", err)
		return Result{Success: false, Message: Describe(err)}, err
	}
	return s.Handle(ctx, ev)
}

func (s *webhookService) Handle(ctx context.Context, ev webhook.Event) (Result, error) {
	switch e := ev.(type) {
	case webhook.PaymentSucceeded:
		return s.succeeded(ctx, e)
	case webhook.PaymentFailed:
		return s.failed(ctx, e)
	case webhook.Unknown:
		s.log.Info().Str("type", e.Type).Msg("ignoring webhook event")
		return Result{Success: true, Message: fmt.Sprintf("ignored %s event", e.Type)}, nil
	}
	return Result{}, fmt.Errorf("unhandled event %T", ev)
}

func (s *webhookService) succeeded(ctx context.Context, e webhook.PaymentSucceeded) (Result, error) {
	log := s.log.With().Str("intent_id", e.IntentID).Logger()

	stored, err := s.storedIntent(ctx, e.IntentID)
	if err != nil {
		return Result{}, err
	}

	invoiceID := e.InvoiceID
	if stored != nil {
		invoiceID = stored.InvoiceID
	}
	if invoiceID == "" {
		err := fmt.Errorf("%w: no invoice bound to %s", domain.ErrIntentNotFound, e.IntentID)
		s.report.failure(ctx, OpWebhook, "", err)
		return Result{Success: false, Message: Describe(err)}, nil
	}

	if stored == nil {
		if res, ok, err := s.checkInvoice(ctx, invoiceID); !ok {
			return res, err
		}
	}

	received := e.AmountReceived
	if received == nil && stored != nil {
		amount := stored.Received()
		received = &amount
	}

	if err := s.settle(ctx, e.IntentID, invoiceID, domain.IntentStatusSucceeded, "", received, stored); err != nil {
		return Result{}, err
	}

	inv, result, err := s.payments.confirmed(ctx, invoiceID, e.IntentID, received)
	if err != nil {
		s.report.failure(ctx, OpWebhook, invoiceID, err)
		if isBusinessError(err) {
			log.Warn().Err(err).Str("invoice_id", invoiceID).Msg("payment event rejected")
			return Result{Success: false, Message: Describe(err)}, nil
		}
		return Result{Success: false, Message: Describe(err)}, err
	}

	switch result {
	case Duplicate:
		log.Debug().Str("invoice_id", inv.ID).Msg("duplicate payment event")
		return Result{Success: true, Duplicate: true, Message: fmt.Sprintf("Invoice %s already paid by this payment", inv.Number)}, nil
	case AlreadyPaid:
		msg := fmt.Sprintf("Invoice %s was already paid by %s; payment %s may be a double charge", inv.Number, inv.PaymentIntentID, e.IntentID)
		s.report.warn(ctx, OpWebhook, inv.ID, msg)
		return Result{Success: true, Message: msg}, nil
	}

	msg := fmt.Sprintf("Invoice %s paid (%s)", inv.Number, domain.FormatMoney(inv.AmountPaid, inv.Currency))
	s.report.success(ctx, OpWebhook, inv.ID, msg)
	return Result{Success: true, Message: msg}, nil
}

func (s *webhookService) failed(ctx context.Context, e webhook.PaymentFailed) (Result, error) {
	stored, err := s.storedIntent(ctx, e.IntentID)
	if err != nil {
		return Result{}, err
	}
	if stored != nil && stored.Status == domain.IntentStatusSucceeded {
		return Result{Success: true, Duplicate: true, Message: "payment already succeeded; failure ignored"}, nil
	}

	invoiceID := e.InvoiceID
	if stored != nil {
		invoiceID = stored.InvoiceID
	}

	if invoiceID == "" {
		msg := fmt.Sprintf("payment %s failed: %s", e.IntentID, e.Reason)
		s.report.emit(ctx, notify.Outcome{Operation: OpPayFailure, Success: false, Message: msg})
		return Result{Success: true, Message: msg}, nil
	}
	if stored == nil {
		if res, ok, err := s.checkInvoice(ctx, invoiceID); !ok {
			return res, err
		}
	}
	if err := s.settle(ctx, e.IntentID, invoiceID, domain.IntentStatusFailed, e.Reason, nil, stored); err != nil {
		return Result{}, err
	}

	inv, err := s.payments.failed(ctx, invoiceID)
	if err != nil {
		s.report.failure(ctx, OpWebhook, invoiceID, err)
		if isBusinessError(err) {
			return Result{Success: false, Message: Describe(err)}, nil
		}
		return Result{Success: false, Message: Describe(err)}, err
	}

	msg := fmt.Sprintf("Payment for invoice %s failed: %s", inv.Number, e.Reason)
	s.report.emit(ctx, notify.Outcome{Operation: OpPayFailure, InvoiceID: inv.ID, Success: false, Message: msg})
	return Result{Success: true, Message: msg}, nil
}

func (s *webhookService) storedIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	pi, err := s.intents.GetIntent(ctx, id)
	if errors.Is(err, domain.ErrIntentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payment intent: %w", err)
	}
	return pi, nil
}

// checkInvoice makes sure an event for an intent we never stored names a real
// invoice before anything is written for it
func (s *webhookService) checkInvoice(ctx context.Context, invoiceID string) (Result, bool, error) {
	_, err := s.payments.invoices.GetByID(ctx, invoiceID)
	if err == nil {
		return Result{}, true, nil
	}
	s.report.failure(ctx, OpWebhook, invoiceID, err)
	if isBusinessError(err) {
		return Result{Success: false, Message: Describe(err)}, false, nil
	}
	return Result{Success: false, Message: Describe(err)}, false, err
}

// settle records the terminal status of the intent. It never downgrades a
// succeeded intent.
func (s *webhookService) settle(ctx context.Context, intentID, invoiceID string, status domain.IntentStatus, reason string, received *decimal.Decimal, stored *domain.PaymentIntent) error {
	now := s.now()
	pi := &domain.PaymentIntent{
		ID:            intentID,
		InvoiceID:     invoiceID,
		Status:        status,
		FailureReason: reason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if stored != nil {
		pi.AmountMinorUnits = stored.AmountMinorUnits
		pi.Currency = stored.Currency
		pi.CreatedAt = stored.CreatedAt
	}
	if received != nil {
		pi.AmountReceivedMinor = domain.ToMinorUnits(*received)
		if pi.AmountMinorUnits == 0 {
			pi.AmountMinorUnits = pi.AmountReceivedMinor
		}
	}
	if _, err := s.intents.SettleIntent(ctx, pi); err != nil {
		return fmt.Errorf("settle payment intent: %w", err)
	}
	return nil
}
