package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Outcome is the user-facing result of an engine operation
type Outcome struct {
	Operation string    `json:"operation"`
	InvoiceID string    `json:"invoiceId,omitempty"`
	Success   bool      `json:"success"`
	Warning   bool      `json:"warning,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Notifier receives operation outcomes. Delivery failures are reported to the
// caller, which logs them; they never fail the operation itself.
type Notifier interface {
	Notify(ctx context.Context, o Outcome) error
}

// LogNotifier writes outcomes to the structured log
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, o Outcome) error {
	ev := n.log.Info()
	switch {
	case !o.Success:
		ev = n.log.Error()
	case o.Warning:
		ev = n.log.Warn()
	}
	ev.Str("operation", o.Operation).
		Str("invoice_id", o.InvoiceID).
		Bool("success", o.Success).
		Msg(o.Message)
	return nil
}

// Multi fans an outcome out to every notifier
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, o Outcome) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps outcomes in memory
type Recorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *Recorder) Notify(ctx context.Context, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

// Outcomes returns a copy of everything recorded so far
func (r *Recorder) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Last returns the most recent outcome
func (r *Recorder) Last() (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return Outcome{}, false
	}
	return r.outcomes[len(r.outcomes)-1], true
}
