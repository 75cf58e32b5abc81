package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andy/invoicepay/internal/domain"
)

// Mailer delivers invoice emails
type Mailer interface {
	Send(ctx context.Context, env domain.EmailEnvelope) (*domain.EmailReceipt, error)
}

// OutboxMailer logs each message and, when dir is set, writes it there as an
// .eml file. Real SMTP delivery is left to whatever watches the outbox.
type OutboxMailer struct {
	mu   sync.Mutex
	dir  string
	from string
	log  zerolog.Logger
	sent []domain.EmailEnvelope
}

func NewOutboxMailer(dir, from string, log zerolog.Logger) *OutboxMailer {
	return &OutboxMailer{dir: dir, from: from, log: log}
}

func (m *OutboxMailer) Send(ctx context.Context, env domain.EmailEnvelope) (*domain.EmailReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	receipt := &domain.EmailReceipt{
		MessageID: uuid.NewString(),
		SentAt:    time.Now(),
	}

	if m.dir != "" {
		if err := os.MkdirAll(m.dir, 0755); err != nil {
			return nil, fmt.Errorf("create outbox: %w", err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Message-ID: <%s>\r\n", receipt.MessageID)
		fmt.Fprintf(&b, "Date: %s\r\n", receipt.SentAt.Format(time.RFC1123Z))
		if m.from != "" {
			fmt.Fprintf(&b, "From: %s\r\n", m.from)
		}
		fmt.Fprintf(&b, "To: %s\r\n", env.To)
		fmt.Fprintf(&b, "Subject: %s\r\n", env.Subject)
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(env.Body)

		path := filepath.Join(m.dir, receipt.MessageID+".eml")
		if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
			return nil, fmt.Errorf("write outbox message: %w", err)
		}
	}

	m.mu.Lock()
	m.sent = append(m.sent, env)
	m.mu.Unlock()

	m.log.Info().
		Str("to", env.To).
		Str("subject", env.Subject).
		Str("message_id", receipt.MessageID).
		Msg("invoice email queued")
	return receipt, nil
}

// Sent returns the messages delivered so far
func (m *OutboxMailer) Sent() []domain.EmailEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EmailEnvelope, len(m.sent))
	copy(out, m.sent)
	return out
}
