package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/repository"
	"github.com/andy/invoicepay/internal/service"
	"github.com/andy/invoicepay/internal/webhook"
)

// IntentSource reports the processor's current view of an intent
type IntentSource interface {
	GetPaymentIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error)
}

// Options tunes the reconciler
type Options struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	Concurrency int
	Now         func() time.Time
}

// Report counts what one reconciliation pass did
type Report struct {
	Checked   int
	Succeeded int
	Failed    int
	Pending   int
	Errors    int
}

// Reconciler finds intents that stayed pending because a webhook never
// arrived and settles them from the processor's answer. Outcomes go through
// the webhook service so they share its idempotency.
type Reconciler struct {
	intents repository.PaymentRepository
	source  IntentSource
	hooks   service.WebhookService
	opts    Options
	log     zerolog.Logger
}

func NewReconciler(
	intents repository.PaymentRepository,
	source IntentSource,
	hooks service.WebhookService,
	opts Options,
	log zerolog.Logger,
) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{intents: intents, source: source, hooks: hooks, opts: opts, log: log}
}

// Run reconciles every interval until ctx is done. It is a blocking call.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.opts.Interval).Msg("reconciler started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}

// RunOnce checks every stale pending intent once. Failures on single intents
// are counted and logged; only a failure to list intents is returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	pending, err := r.intents.ListPendingIntents(ctx, r.opts.Now().Add(-r.opts.StaleAfter))
	if err != nil {
		return report, fmt.Errorf("list pending intents: %w", err)
	}
	if len(pending) == 0 {
		r.log.Debug().Msg("no stale payment intents")
		return report, nil
	}
	r.log.Info().Int("count", len(pending)).Msg("reconciling stale payment intents")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for _, pi := range pending {
		pi := pi
		g.Go(func() error {
			status, err := r.sync(gctx, pi)

			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			if err != nil {
				report.Errors++
				r.log.Warn().Err(err).Str("intent_id", pi.ID).Msg("reconcile intent")
				return nil
			}
			switch status {
			case domain.IntentStatusSucceeded:
				report.Succeeded++
			case domain.IntentStatusFailed:
				report.Failed++
			default:
				report.Pending++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.log.Info().
		Int("checked", report.Checked).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("errors", report.Errors).
		Msg("reconciliation pass complete")
	return report, ctx.Err()
}

// sync asks the processor about one intent and applies a terminal answer
func (r *Reconciler) sync(ctx context.Context, stored *domain.PaymentIntent) (domain.IntentStatus, error) {
	current, err := r.source.GetPaymentIntent(ctx, stored.ID)
	if err != nil {
		return "", fmt.Errorf("gateway check failed: %w", err)
	}

	var ev webhook.Event
	switch current.Status {
	case domain.IntentStatusSucceeded:
		received := current.Received()
		ev = webhook.PaymentSucceeded{
			IntentID:       stored.ID,
			InvoiceID:      stored.InvoiceID,
			Status:         string(current.Status),
			AmountReceived: &received,
		}
	case domain.IntentStatusFailed:
		reason := current.FailureReason
		if reason == "" {
			reason = "reconciled from gateway"
		}
		ev = webhook.PaymentFailed{IntentID: stored.ID, InvoiceID: stored.InvoiceID, Reason: reason}
	default:
		return current.Status, nil
	}

	res, err := r.hooks.Handle(ctx, ev)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("intent %s: %s", stored.ID, res.Message)
	}
	return current.Status, nil
}
