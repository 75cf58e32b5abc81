package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andy/invoicepay/internal/db"
	"github.com/andy/invoicepay/internal/domain"
)

// PaymentRepo is a SQLite implementation of PaymentRepository
type PaymentRepo struct {
	db *db.DB
}

func NewPaymentRepo(database *db.DB) *PaymentRepo {
	return &PaymentRepo{db: database}
}

// SaveIntent upserts an intent unless a succeeded record already exists
func (r *PaymentRepo) SaveIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_intents (
			id, invoice_id, amount_minor, amount_received_minor, currency,
			status, failure_reason, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount_minor = excluded.amount_minor,
			amount_received_minor = excluded.amount_received_minor,
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at
		WHERE payment_intents.status != 'succeeded'
	`,
		intent.ID,
		intent.InvoiceID,
		intent.AmountMinorUnits,
		intent.AmountReceivedMinor,
		intent.Currency,
		string(intent.Status),
		intent.FailureReason,
		intent.CreatedAt.UTC().Format(timeLayout),
		intent.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment intent: %w", err)
	}
	return nil
}

func (r *PaymentRepo) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return getIntent(ctx, r.db, id)
}

// SettleIntent records a terminal status inside a transaction
func (r *PaymentRepo) SettleIntent(ctx context.Context, intent *domain.PaymentIntent) (bool, error) {
	changed := false
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := getIntent(ctx, tx, intent.ID)
		if errors.Is(err, domain.ErrIntentNotFound) {
			now := time.Now()
			if intent.CreatedAt.IsZero() {
				intent.CreatedAt = now
			}
			intent.UpdatedAt = now
			_, err = tx.ExecContext(ctx, `
				INSERT INTO payment_intents (
					id, invoice_id, amount_minor, amount_received_minor, currency,
					status, failure_reason, created_at, updated_at
				)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				intent.ID, intent.InvoiceID, intent.AmountMinorUnits, intent.AmountReceivedMinor,
				intent.Currency, string(intent.Status), intent.FailureReason,
				intent.CreatedAt.UTC().Format(timeLayout), intent.UpdatedAt.UTC().Format(timeLayout),
			)
			if err != nil {
				return fmt.Errorf("failed to insert payment intent: %w", err)
			}
			changed = true
			return nil
		}
		if err != nil {
			return err
		}

		if !settle(existing, intent) {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE payment_intents
			SET status = ?, failure_reason = ?, amount_received_minor = ?, updated_at = ?
			WHERE id = ?
		`,
			string(existing.Status), existing.FailureReason, existing.AmountReceivedMinor,
			existing.UpdatedAt.UTC().Format(timeLayout), existing.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to settle payment intent: %w", err)
		}
		changed = true
		return nil
	})
	return changed, err
}

func (r *PaymentRepo) ListPendingIntents(ctx context.Context, createdBefore time.Time) ([]*domain.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, invoice_id, amount_minor, amount_received_minor, currency,
		       status, failure_reason, created_at, updated_at
		FROM payment_intents
		WHERE status NOT IN ('succeeded', 'failed') AND created_at < ?
		ORDER BY created_at
	`, createdBefore.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending intents: %w", err)
	}
	defer rows.Close()

	intents := make([]*domain.PaymentIntent, 0)
	for rows.Next() {
		pi, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, pi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intents: %w", err)
	}
	return intents, nil
}

// SaveLink deactivates older links for the invoice and stores link as active
func (r *PaymentRepo) SaveLink(ctx context.Context, link *domain.PaymentLink) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE payment_links SET active = 0 WHERE invoice_id = ? AND id != ?",
			link.InvoiceID, link.ID,
		); err != nil {
			return fmt.Errorf("failed to deactivate links: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payment_links (id, invoice_id, url, active, created_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(id) DO UPDATE SET url = excluded.url, active = 1
		`, link.ID, link.InvoiceID, link.URL, link.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("failed to save payment link: %w", err)
		}
		link.Active = true
		return nil
	})
}

func (r *PaymentRepo) GetActiveLink(ctx context.Context, invoiceID string) (*domain.PaymentLink, error) {
	link := &domain.PaymentLink{}
	var createdAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, invoice_id, url, active, created_at
		FROM payment_links
		WHERE invoice_id = ? AND active = 1
	`, invoiceID).Scan(&link.ID, &link.InvoiceID, &link.URL, &link.Active, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment link: %w", err)
	}
	if link.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return link, nil
}

func (r *PaymentRepo) DeactivateLinks(ctx context.Context, invoiceID string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE payment_links SET active = 0 WHERE invoice_id = ?", invoiceID); err != nil {
		return fmt.Errorf("failed to deactivate links: %w", err)
	}
	return nil
}

func getIntent(ctx context.Context, q queryer, id string) (*domain.PaymentIntent, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, invoice_id, amount_minor, amount_received_minor, currency,
		       status, failure_reason, created_at, updated_at
		FROM payment_intents
		WHERE id = ?
	`, id)
	pi, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrIntentNotFound
		}
		return nil, err
	}
	return pi, nil
}

func scanIntent(row rowScanner) (*domain.PaymentIntent, error) {
	pi := &domain.PaymentIntent{}
	var status, createdAt, updatedAt string
	err := row.Scan(
		&pi.ID,
		&pi.InvoiceID,
		&pi.AmountMinorUnits,
		&pi.AmountReceivedMinor,
		&pi.Currency,
		&status,
		&pi.FailureReason,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan payment intent: %w", err)
	}
	pi.Status = domain.IntentStatus(status)
	if pi.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if pi.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return pi, nil
}
