package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

type fakePublisher struct {
	key  string
	msgs []amqp.Publishing
}

func (f *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.key = key
	f.msgs = append(f.msgs, msg)
	return nil
}

func sample() Outcome {
	return Outcome{
		Operation: "send",
		InvoiceID: "inv-1",
		Success:   true,
		Message:   "Invoice INV-2024-001 sent",
		At:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestKafkaNotifier(t *testing.T) {
	fw := &fakeWriter{}
	n := NewKafkaNotifierWithWriter(fw)

	if err := n.Notify(context.Background(), sample()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "inv-1" {
		t.Errorf("key = %q", fw.msgs[0].Key)
	}

	var got Outcome
	if err := json.Unmarshal(fw.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Message != sample().Message || !got.Success {
		t.Errorf("decoded = %+v", got)
	}
}

func TestAMQPNotifier(t *testing.T) {
	fp := &fakePublisher{}
	n := newAMQPNotifierWithPublisher(fp, "outcomes")

	if err := n.Notify(context.Background(), sample()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if fp.key != "outcomes" || len(fp.msgs) != 1 {
		t.Fatalf("published to %q: %d messages", fp.key, len(fp.msgs))
	}
	if fp.msgs[0].Type != "send" || fp.msgs[0].DeliveryMode != amqp.Persistent {
		t.Errorf("publishing = %+v", fp.msgs[0])
	}
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	broken := NewKafkaNotifierWithWriter(&fakeWriter{err: errors.New("broker down")})
	m := Multi{broken, NewLogNotifier(zerolog.Nop()), rec}

	err := m.Notify(context.Background(), sample())
	if err == nil {
		t.Fatal("expected the kafka error to surface")
	}
	if len(rec.Outcomes()) != 1 {
		t.Fatalf("recorder missed the outcome after an earlier failure")
	}
	last, ok := rec.Last()
	if !ok || last.InvoiceID != "inv-1" {
		t.Errorf("last = %+v", last)
	}
}
