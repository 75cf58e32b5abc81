package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/repository"
)

// countingProcessor wraps the simulated processor, counting calls and failing
// the first failCreates intent creations with a transient error
type countingProcessor struct {
	*Simulated

	mu          sync.Mutex
	creates     int
	confirms    int
	links       int
	failCreates int
}

func (p *countingProcessor) CreateIntent(ctx context.Context, req IntentRequest) (*domain.PaymentIntent, error) {
	p.mu.Lock()
	p.creates++
	fail := p.creates <= p.failCreates
	p.mu.Unlock()
	if fail {
		return nil, domain.Unavailable(errors.New("503 service unavailable"))
	}
	return p.Simulated.CreateIntent(ctx, req)
}

func (p *countingProcessor) ConfirmIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	p.mu.Lock()
	p.confirms++
	p.mu.Unlock()
	return p.Simulated.ConfirmIntent(ctx, id)
}

func (p *countingProcessor) CreateLink(ctx context.Context, req LinkRequest) (*domain.PaymentLink, error) {
	p.mu.Lock()
	p.links++
	p.mu.Unlock()
	return p.Simulated.CreateLink(ctx, req)
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		Timeout:        time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func newTestAdapter(t *testing.T, proc Processor, cfg RetryConfig) (*Adapter, *repository.MemoryPaymentRepo) {
	t.Helper()
	payments := repository.NewMemoryPaymentRepo()
	dir := t.TempDir()
	a := NewAdapter(
		proc,
		payments,
		NewOutboxMailer(filepath.Join(dir, "outbox"), "billing@example.com", zerolog.Nop()),
		NewPDFRenderer(filepath.Join(dir, "pdf"), Issuer{Name: "Andy Watson", Email: "andy@example.com"}),
		cfg,
		zerolog.Nop(),
	)
	return a, payments
}

func testInvoice() *domain.Invoice {
	issue := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := domain.NewInvoice("inv-1", "INV-2024-001", "Acme Corp", "Website", issue, issue.AddDate(0, 0, 30))
	inv.ClientEmail = "ap@acme.test"
	inv.Currency = "USD"
	inv.SetItems([]domain.LineItem{
		domain.NewLineItem("Design", 1, 15000),
		domain.NewLineItem("Build", 1, 10000),
	})
	return inv
}

func TestCreatePaymentLinkIsIdempotent(t *testing.T) {
	proc := &countingProcessor{Simulated: NewSimulated(Approve(), "", 0)}
	a, _ := newTestAdapter(t, proc, fastRetry(3))
	ctx := context.Background()
	inv := testInvoice()

	first, err := a.CreatePaymentLink(ctx, inv)
	if err != nil {
		t.Fatalf("first link: %v", err)
	}
	second, err := a.CreatePaymentLink(ctx, inv)
	if err != nil {
		t.Fatalf("second link: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected same link id, got %s and %s", first.ID, second.ID)
	}
	if proc.links != 1 {
		t.Errorf("expected 1 processor link call, got %d", proc.links)
	}
}

func TestCreatePaymentLinkConcurrent(t *testing.T) {
	proc := &countingProcessor{Simulated: NewSimulated(Approve(), "", time.Millisecond)}
	a, _ := newTestAdapter(t, proc, fastRetry(1))
	inv := testInvoice()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			link, err := a.CreatePaymentLink(context.Background(), inv)
			if err != nil {
				t.Errorf("link %d: %v", i, err)
				return
			}
			ids[i] = link.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent callers got different links: %v", ids)
		}
	}
	if proc.links != 1 {
		t.Errorf("expected 1 processor link call, got %d", proc.links)
	}
}

func TestRegeneratePaymentLink(t *testing.T) {
	proc := &countingProcessor{Simulated: NewSimulated(Approve(), "", 0)}
	a, payments := newTestAdapter(t, proc, fastRetry(1))
	ctx := context.Background()
	inv := testInvoice()

	old, err := a.CreatePaymentLink(ctx, inv)
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	fresh, err := a.RegeneratePaymentLink(ctx, inv)
	if err != nil {
		t.Fatalf("regenerate link: %v", err)
	}
	if fresh.ID == old.ID {
		t.Fatal("expected a new link id")
	}

	active, err := payments.GetActiveLink(ctx, inv.ID)
	if err != nil || active == nil {
		t.Fatalf("get active link: %v %v", active, err)
	}
	if active.ID != fresh.ID {
		t.Errorf("active link = %s, want %s", active.ID, fresh.ID)
	}

	proc.Simulated.mu.Lock()
	oldActive := proc.Simulated.links[old.ID].Active
	proc.Simulated.mu.Unlock()
	if oldActive {
		t.Error("old link still active at the processor")
	}
}

func TestDeactivatePaymentLinks(t *testing.T) {
	a, payments := newTestAdapter(t, NewSimulated(Approve(), "", 0), fastRetry(1))
	ctx := context.Background()
	inv := testInvoice()

	if _, err := a.CreatePaymentLink(ctx, inv); err != nil {
		t.Fatalf("create link: %v", err)
	}
	if err := a.DeactivatePaymentLinks(ctx, inv.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, err := payments.GetActiveLink(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get active link: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active link, got %s", active.ID)
	}

	// nothing to deactivate is fine
	if err := a.DeactivatePaymentLinks(ctx, inv.ID); err != nil {
		t.Fatalf("second deactivate: %v", err)
	}
}

func TestCreatePaymentIntentRejectsZeroAmount(t *testing.T) {
	a, _ := newTestAdapter(t, NewSimulated(Approve(), "", 0), fastRetry(1))
	inv := testInvoice()
	inv.SetItems(nil)

	_, err := a.CreatePaymentIntent(context.Background(), inv)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreatePaymentIntentRetriesTransientErrors(t *testing.T) {
	proc := &countingProcessor{Simulated: NewSimulated(Approve(), "", 0), failCreates: 2}
	a, payments := newTestAdapter(t, proc, fastRetry(3))
	ctx := context.Background()

	intent, err := a.CreatePaymentIntent(ctx, testInvoice())
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if proc.creates != 3 {
		t.Errorf("expected 3 attempts, got %d", proc.creates)
	}
	if intent.AmountMinorUnits != 2500000 {
		t.Errorf("amount = %d, want 2500000", intent.AmountMinorUnits)
	}
	if _, err := payments.GetIntent(ctx, intent.ID); err != nil {
		t.Errorf("intent not stored: %v", err)
	}
}

func TestCreatePaymentIntentGivesUp(t *testing.T) {
	proc := &countingProcessor{Simulated: NewSimulated(Approve(), "", 0), failCreates: 10}
	a, _ := newTestAdapter(t, proc, fastRetry(3))

	_, err := a.CreatePaymentIntent(context.Background(), testInvoice())
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if proc.creates != 3 {
		t.Errorf("expected 3 attempts, got %d", proc.creates)
	}
}

func TestConfirmPaymentDeclineIsNotRetried(t *testing.T) {
	proc := &countingProcessor{Simulated: NewSimulated(Decline("insufficient_funds"), "", 0)}
	a, payments := newTestAdapter(t, proc, fastRetry(5))
	ctx := context.Background()

	intent, err := a.CreatePaymentIntent(ctx, testInvoice())
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	_, err = a.ConfirmPayment(ctx, intent.ID)
	var declined *domain.PaymentDeclinedError
	if !errors.As(err, &declined) {
		t.Fatalf("expected PaymentDeclinedError, got %v", err)
	}
	if declined.Reason != "insufficient_funds" {
		t.Errorf("reason = %q", declined.Reason)
	}
	if proc.confirms != 1 {
		t.Errorf("decline was retried: %d attempts", proc.confirms)
	}

	stored, err := payments.GetIntent(ctx, intent.ID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if stored.Status != domain.IntentStatusFailed || stored.FailureReason != "insufficient_funds" {
		t.Errorf("stored intent = %s/%q", stored.Status, stored.FailureReason)
	}
}

func TestConfirmPaymentSettlesIntent(t *testing.T) {
	a, payments := newTestAdapter(t, NewSimulated(Approve(), "", 0), fastRetry(1))
	ctx := context.Background()

	intent, err := a.CreatePaymentIntent(ctx, testInvoice())
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	settled, err := a.ConfirmPayment(ctx, intent.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if settled.Status != domain.IntentStatusSucceeded {
		t.Fatalf("status = %s", settled.Status)
	}
	if !settled.Received().Equal(testInvoice().Amount) {
		t.Errorf("received = %s", settled.Received())
	}

	stored, _ := payments.GetIntent(ctx, intent.ID)
	if stored.Status != domain.IntentStatusSucceeded {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestCreatePaymentIntentReusesInvoiceIntent(t *testing.T) {
	a, _ := newTestAdapter(t, NewSimulated(Approve(), "", 0), fastRetry(1))
	ctx := context.Background()

	first, err := a.CreatePaymentIntent(ctx, testInvoice())
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	second, err := a.CreatePaymentIntent(ctx, testInvoice())
	if err != nil {
		t.Fatalf("create intent again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("second create opened %s, want %s", second.ID, first.ID)
	}

	other := testInvoice()
	other.ID = "inv-2"
	third, err := a.CreatePaymentIntent(ctx, other)
	if err != nil {
		t.Fatalf("create intent for other invoice: %v", err)
	}
	if third.ID == first.ID {
		t.Error("different invoices share an intent")
	}
}

func TestCreatePaymentIntentAfterDeclineReopensIntent(t *testing.T) {
	proc := NewSimulated(Decline("card_declined"), "", 0)
	a, payments := newTestAdapter(t, proc, fastRetry(1))
	ctx := context.Background()

	intent, err := a.CreatePaymentIntent(ctx, testInvoice())
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := a.ConfirmPayment(ctx, intent.ID); !errors.Is(err, domain.ErrPaymentDeclined) {
		t.Fatalf("expected a decline, got %v", err)
	}

	again, err := a.CreatePaymentIntent(ctx, testInvoice())
	if err != nil {
		t.Fatalf("create intent after decline: %v", err)
	}
	if again.ID != intent.ID {
		t.Errorf("retry opened %s, want %s", again.ID, intent.ID)
	}
	if again.Status != domain.IntentStatusRequiresPaymentMethod {
		t.Errorf("reopened status = %s", again.Status)
	}
	stored, err := payments.GetIntent(ctx, intent.ID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if stored.Status != domain.IntentStatusRequiresPaymentMethod {
		t.Errorf("stored status = %s", stored.Status)
	}

	proc.SetPolicy(Approve())
	settled, err := a.ConfirmPayment(ctx, intent.ID)
	if err != nil {
		t.Fatalf("confirm after decline: %v", err)
	}
	if settled.Status != domain.IntentStatusSucceeded {
		t.Errorf("status = %s", settled.Status)
	}
}

func TestGatewayTimeoutIsUnavailable(t *testing.T) {
	proc := NewSimulated(Approve(), "", 50*time.Millisecond)
	cfg := fastRetry(2)
	cfg.Timeout = 5 * time.Millisecond
	a, _ := newTestAdapter(t, proc, cfg)

	_, err := a.CreatePaymentLink(context.Background(), testInvoice())
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestConfirmPaymentCancelledLeavesIntentPending(t *testing.T) {
	proc := &countingProcessor{Simulated: NewSimulated(Approve(), "", 0)}
	a, payments := newTestAdapter(t, proc, fastRetry(3))

	intent, err := a.CreatePaymentIntent(context.Background(), testInvoice())
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.ConfirmPayment(ctx, intent.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if proc.confirms != 1 {
		t.Errorf("cancelled call was retried: %d attempts", proc.confirms)
	}

	stored, _ := payments.GetIntent(context.Background(), intent.ID)
	if stored.Status != domain.IntentStatusRequiresPaymentMethod {
		t.Errorf("stored status = %s, want pending", stored.Status)
	}
}

func TestSendInvoiceEmail(t *testing.T) {
	a, _ := newTestAdapter(t, NewSimulated(Approve(), "", 0), fastRetry(1))
	ctx := context.Background()

	_, err := a.SendInvoiceEmail(ctx, "inv-1", domain.EmailEnvelope{Subject: "Invoice"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty recipient, got %v", err)
	}

	receipt, err := a.SendInvoiceEmail(ctx, "inv-1", domain.EmailEnvelope{
		To:      "ap@acme.test",
		Subject: "Invoice INV-2024-001",
		Body:    "Please pay",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if receipt.MessageID == "" {
		t.Error("expected a message id")
	}
}

func TestOutboxMailerWritesMessage(t *testing.T) {
	dir := t.TempDir()
	m := NewOutboxMailer(dir, "billing@example.com", zerolog.Nop())

	receipt, err := m.Send(context.Background(), domain.EmailEnvelope{
		To:      "ap@acme.test",
		Subject: "Invoice INV-2024-001",
		Body:    "Amount due: $25,000.00",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, receipt.MessageID+".eml"))
	if err != nil {
		t.Fatalf("read outbox: %v", err)
	}
	for _, want := range []string{"To: ap@acme.test", "Subject: Invoice INV-2024-001", "$25,000.00"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("message missing %q", want)
		}
	}
	if len(m.Sent()) != 1 {
		t.Errorf("sent = %d, want 1", len(m.Sent()))
	}
}

func TestGeneratePDF(t *testing.T) {
	a, _ := newTestAdapter(t, NewSimulated(Approve(), "", 0), fastRetry(1))
	inv := testInvoice()
	before := inv.Clone()

	doc, err := a.GeneratePDF(context.Background(), inv)
	if err != nil {
		t.Fatalf("generate pdf: %v", err)
	}
	if doc.Filename != "INV-2024-001.pdf" {
		t.Errorf("filename = %q", doc.Filename)
	}
	path := strings.TrimPrefix(doc.URL, "file://")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("pdf not written: %v", err)
	}
	if inv.Status != before.Status || !inv.Amount.Equal(before.Amount) || inv.UpdatedAt != before.UpdatedAt {
		t.Error("GeneratePDF mutated the invoice")
	}
}

func TestRenderTextTotalsMatchStoredAmount(t *testing.T) {
	inv := testInvoice()
	text := RenderText(inv, Issuer{Name: "Andy Watson"})

	for _, want := range []string{"INVOICE", "INV-2024-001", "Acme Corp", "Design", "Build", "TOTAL", "$25,000.00"} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered text missing %q", want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", domain.Unavailable(errors.New("boom")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"declined", &domain.PaymentDeclinedError{Reason: "card_declined"}, false},
		{"wrapped declined", fmt.Errorf("confirm: %w", &domain.PaymentDeclinedError{}), false},
		{"validation", &domain.ValidationError{Field: "amount"}, false},
		{"stripe 503", &stripe.Error{HTTPStatusCode: 503}, true},
		{"stripe rate limit", &stripe.Error{HTTPStatusCode: 429, Code: stripe.ErrorCodeRateLimit}, true},
		{"stripe card error", &stripe.Error{HTTPStatusCode: 402, Type: stripe.ErrorTypeCard}, false},
		{"connection reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"plain", errors.New("bad request"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
