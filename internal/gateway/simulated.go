package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andy/invoicepay/internal/domain"
)

// OutcomePolicy decides how a confirmation ends. Return nil to approve,
// a *domain.PaymentDeclinedError to decline or a transient error to fail.
type OutcomePolicy func(intent domain.PaymentIntent) error

// Approve approves every confirmation
func Approve() OutcomePolicy {
	return func(domain.PaymentIntent) error { return nil }
}

// Decline declines every confirmation with reason
func Decline(reason string) OutcomePolicy {
	return func(domain.PaymentIntent) error {
		return &domain.PaymentDeclinedError{Reason: reason}
	}
}

// RandomDecline declines roughly rate of all confirmations
func RandomDecline(rate float64, rng *rand.Rand) OutcomePolicy {
	var mu sync.Mutex
	return func(domain.PaymentIntent) error {
		mu.Lock()
		roll := rng.Float64()
		mu.Unlock()
		if roll < rate {
			return &domain.PaymentDeclinedError{Reason: "card_declined"}
		}
		return nil
	}
}

// Simulated is an in-memory Processor for local use and tests
type Simulated struct {
	mu      sync.Mutex
	intents map[string]*domain.PaymentIntent
	keys    map[string]string // idempotency key -> intent id
	links   map[string]*domain.PaymentLink
	policy  OutcomePolicy
	baseURL string
	latency time.Duration
}

// NewSimulated creates a processor that approves unless policy says otherwise
func NewSimulated(policy OutcomePolicy, baseURL string, latency time.Duration) *Simulated {
	if policy == nil {
		policy = Approve()
	}
	if baseURL == "" {
		baseURL = "https://pay.invoicepay.local/l"
	}
	return &Simulated{
		intents: make(map[string]*domain.PaymentIntent),
		keys:    make(map[string]string),
		links:   make(map[string]*domain.PaymentLink),
		policy:  policy,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		latency: latency,
	}
}

// SetLatency changes the delay added to every processor call
func (s *Simulated) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetPolicy swaps the outcome policy
func (s *Simulated) SetPolicy(policy OutcomePolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = policy
}

func (s *Simulated) CreateIntent(ctx context.Context, req IntentRequest) (*domain.PaymentIntent, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A repeated key returns the original intent. Like Stripe, a declined
	// intent goes back to requires_payment_method and can be confirmed again.
	if id, ok := s.keys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		pi := s.intents[id]
		if pi.Status == domain.IntentStatusFailed {
			pi.Status = domain.IntentStatusRequiresPaymentMethod
			pi.FailureReason = ""
			pi.UpdatedAt = time.Now()
		}
		cp := *pi
		return &cp, nil
	}

	now := time.Now()
	pi := &domain.PaymentIntent{
		ID:               "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		InvoiceID:        req.InvoiceID,
		AmountMinorUnits: req.AmountMinor,
		Currency:         req.Currency,
		Status:           domain.IntentStatusRequiresPaymentMethod,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.intents[pi.ID] = pi
	if req.IdempotencyKey != "" {
		s.keys[req.IdempotencyKey] = pi.ID
	}
	cp := *pi
	return &cp, nil
}

func (s *Simulated) ConfirmIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pi, ok := s.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrIntentNotFound, intentID)
	}
	if pi.Status == domain.IntentStatusSucceeded {
		cp := *pi
		return &cp, nil
	}

	if err := s.policy(*pi); err != nil {
		var declined *domain.PaymentDeclinedError
		if !errors.As(err, &declined) {
			return nil, err
		}
		pi.Status = domain.IntentStatusFailed
		pi.FailureReason = declined.Reason
		pi.UpdatedAt = time.Now()
		return nil, declined
	}

	pi.Status = domain.IntentStatusSucceeded
	pi.FailureReason = ""
	pi.AmountReceivedMinor = pi.AmountMinorUnits
	pi.UpdatedAt = time.Now()
	cp := *pi
	return &cp, nil
}

func (s *Simulated) GetIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pi, ok := s.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrIntentNotFound, intentID)
	}
	cp := *pi
	return &cp, nil
}

func (s *Simulated) CreateLink(ctx context.Context, req LinkRequest) (*domain.PaymentLink, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := "plink_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	link := &domain.PaymentLink{
		ID:        id,
		InvoiceID: req.InvoiceID,
		URL:       fmt.Sprintf("%s/%s", s.baseURL, id),
		Active:    true,
		CreatedAt: time.Now(),
	}
	s.links[id] = link
	cp := *link
	return &cp, nil
}

func (s *Simulated) DeactivateLink(ctx context.Context, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link, ok := s.links[linkID]; ok {
		link.Active = false
	}
	return nil
}

func (s *Simulated) wait(ctx context.Context) error {
	s.mu.Lock()
	latency := s.latency
	s.mu.Unlock()

	if latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
