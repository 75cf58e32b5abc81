package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/andy/invoicepay/internal/db"
	"github.com/andy/invoicepay/internal/domain"
)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const invoiceColumns = `
	id, invoice_number, client, client_email, project, description,
	amount, amount_paid, currency, issue_date, due_date, status,
	sent_date, paid_date, payment_link, payment_link_id, payment_intent_id,
	created_at, updated_at`

// InvoiceRepo is a SQLite implementation of InvoiceRepository
type InvoiceRepo struct {
	db    *db.DB
	locks *KeyedLocker
}

// NewInvoiceRepo creates a new InvoiceRepo
func NewInvoiceRepo(database *db.DB) *InvoiceRepo {
	return &InvoiceRepo{db: database, locks: NewKeyedLocker()}
}

// Create inserts a new invoice and its line items
func (r *InvoiceRepo) Create(ctx context.Context, invoice *domain.Invoice) error {
	if err := invoice.Validate(); err != nil {
		return fmt.Errorf("invalid invoice: %w", err)
	}

	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, invoiceArgs(invoice)...)
		if err != nil {
			return mapConstraintError(fmt.Errorf("failed to create invoice: %w", err))
		}
		return replaceLineItems(ctx, tx, invoice)
	})
}

// GetByID retrieves an invoice by ID
func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	return getInvoice(ctx, r.db, "id = ?", id)
}

// GetByNumber retrieves an invoice by invoice number
func (r *InvoiceRepo) GetByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	return getInvoice(ctx, r.db, "invoice_number = ?", number)
}

// List retrieves invoices with optional filters
func (r *InvoiceRepo) List(ctx context.Context, filter InvoiceFilter) ([]*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	args := make([]interface{}, 0)

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Client != "" {
		query += " AND client = ? COLLATE NOCASE"
		args = append(args, filter.Client)
	}

	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]*domain.Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	rows.Close()

	for _, invoice := range invoices {
		if invoice.Items, err = getLineItems(ctx, r.db, invoice.ID); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

// Update applies fn to the stored invoice inside a transaction
func (r *InvoiceRepo) Update(ctx context.Context, id string, fn func(invoice *domain.Invoice) error) (*domain.Invoice, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	var updated *domain.Invoice
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := getInvoice(ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}

		if err := fn(current); err != nil {
			if errors.Is(err, ErrNoChange) {
				updated = current
				return nil
			}
			return err
		}
		if current.ID != id {
			return fmt.Errorf("invoice id is immutable")
		}
		if err := current.Validate(); err != nil {
			return fmt.Errorf("invalid invoice: %w", err)
		}
		current.UpdatedAt = time.Now()

		query := `
			UPDATE invoices
			SET invoice_number = ?, client = ?, client_email = ?, project = ?, description = ?,
			    amount = ?, amount_paid = ?, currency = ?, issue_date = ?, due_date = ?, status = ?,
			    sent_date = ?, paid_date = ?, payment_link = ?, payment_link_id = ?, payment_intent_id = ?,
			    updated_at = ?
			WHERE id = ?
		`
		args := invoiceArgs(current)
		// drop id from the front and created_at, then append the WHERE id
		args = append(args[1:len(args)-2], args[len(args)-1], id)

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return mapConstraintError(fmt.Errorf("failed to update invoice: %w", err))
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrInvoiceNotFound
		}

		if err := replaceLineItems(ctx, tx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes an invoice and its line items
func (r *InvoiceRepo) Delete(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM invoice_line_items WHERE invoice_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete line items: %w", err)
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM invoices WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete invoice: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrInvoiceNotFound
		}
		return nil
	})
}

// GetNextInvoiceNumber generates the next invoice number in format "PREFIX-YEAR-SEQUENCE"
func (r *InvoiceRepo) GetNextInvoiceNumber(ctx context.Context, prefix string, year int) (string, error) {
	pattern := fmt.Sprintf("%s-%d-%%", prefix, year)

	rows, err := r.db.QueryContext(ctx, "SELECT invoice_number FROM invoices WHERE invoice_number LIKE ?", pattern)
	if err != nil {
		return "", fmt.Errorf("failed to get last invoice number: %w", err)
	}
	defer rows.Close()

	numbers := make([]string, 0)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return "", fmt.Errorf("failed to scan invoice number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating invoice numbers: %w", err)
	}

	return nextInvoiceNumber(prefix, year, numbers), nil
}

// invoiceArgs returns column values in invoiceColumns order
func invoiceArgs(inv *domain.Invoice) []interface{} {
	var link interface{}
	if inv.PaymentLink != nil {
		link = *inv.PaymentLink
	}
	return []interface{}{
		inv.ID,
		inv.Number,
		inv.Client,
		inv.ClientEmail,
		inv.Project,
		inv.Description,
		inv.Amount.String(),
		inv.AmountPaid.String(),
		inv.Currency,
		inv.IssueDate.Format(dateLayout),
		inv.DueDate.Format(dateLayout),
		string(inv.Status),
		nullableTime(inv.SentDate),
		nullableTime(inv.PaidDate),
		link,
		inv.PaymentLinkID,
		inv.PaymentIntentID,
		inv.CreatedDate.UTC().Format(timeLayout),
		inv.UpdatedAt.UTC().Format(timeLayout),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func getInvoice(ctx context.Context, q queryer, where string, arg interface{}) (*domain.Invoice, error) {
	row := q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE `+where, arg)
	invoice, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, err
	}
	if invoice.Items, err = getLineItems(ctx, q, invoice.ID); err != nil {
		return nil, err
	}
	return invoice, nil
}

// scanInvoice is a helper to parse invoice columns
func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	invoice := &domain.Invoice{}
	var issueDate, dueDate, status, createdAt, updatedAt string
	var sentDate, paidDate, link sql.NullString

	err := row.Scan(
		&invoice.ID,
		&invoice.Number,
		&invoice.Client,
		&invoice.ClientEmail,
		&invoice.Project,
		&invoice.Description,
		&invoice.Amount,
		&invoice.AmountPaid,
		&invoice.Currency,
		&issueDate,
		&dueDate,
		&status,
		&sentDate,
		&paidDate,
		&link,
		&invoice.PaymentLinkID,
		&invoice.PaymentIntentID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}

	if invoice.IssueDate, err = parseDate(issueDate); err != nil {
		return nil, fmt.Errorf("failed to parse issue_date: %w", err)
	}
	if invoice.DueDate, err = parseDate(dueDate); err != nil {
		return nil, fmt.Errorf("failed to parse due_date: %w", err)
	}
	if invoice.Status, err = domain.ParseInvoiceStatus(status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	if invoice.SentDate, err = scanNullableTime(sentDate); err != nil {
		return nil, fmt.Errorf("failed to parse sent_date: %w", err)
	}
	if invoice.PaidDate, err = scanNullableTime(paidDate); err != nil {
		return nil, fmt.Errorf("failed to parse paid_date: %w", err)
	}
	if link.Valid {
		l := link.String
		invoice.PaymentLink = &l
	}
	if invoice.CreatedDate, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if invoice.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return invoice, nil
}

func getLineItems(ctx context.Context, q queryer, invoiceID string) ([]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT description, quantity, rate, amount
		FROM invoice_line_items
		WHERE invoice_id = ?
		ORDER BY position
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get line items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.Description, &item.Quantity, &item.Rate, &item.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating line items: %w", err)
	}
	return items, nil
}

func replaceLineItems(ctx context.Context, tx *sql.Tx, inv *domain.Invoice) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM invoice_line_items WHERE invoice_id = ?", inv.ID); err != nil {
		return fmt.Errorf("failed to clear line items: %w", err)
	}
	for pos, item := range inv.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_line_items (invoice_id, position, description, quantity, rate, amount)
			VALUES (?, ?, ?, ?, ?, ?)
		`, inv.ID, pos, item.Description, item.Quantity.String(), item.Rate.String(), item.Amount.String())
		if err != nil {
			return fmt.Errorf("failed to add line item: %w", err)
		}
	}
	return nil
}

// mapConstraintError turns a unique violation on invoice_number into ErrDuplicateNumber
func mapConstraintError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", domain.ErrDuplicateNumber, err)
	}
	return err
}
