package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andy/invoicepay/internal/domain"
)

// MemoryInvoiceRepo is an in-process InvoiceRepository. Records are cloned on
// the way in and out so callers never alias stored state.
type MemoryInvoiceRepo struct {
	mu       sync.RWMutex
	invoices map[string]*domain.Invoice
	locks    *KeyedLocker
}

func NewMemoryInvoiceRepo() *MemoryInvoiceRepo {
	return &MemoryInvoiceRepo{
		invoices: make(map[string]*domain.Invoice),
		locks:    NewKeyedLocker(),
	}
}

func (r *MemoryInvoiceRepo) Create(ctx context.Context, invoice *domain.Invoice) error {
	if err := invoice.Validate(); err != nil {
		return fmt.Errorf("invalid invoice: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.invoices[invoice.ID]; ok {
		return fmt.Errorf("invoice %s already exists", invoice.ID)
	}
	if r.numberTakenLocked(invoice.Number, invoice.ID) {
		return domain.ErrDuplicateNumber
	}
	r.invoices[invoice.ID] = invoice.Clone()
	return nil
}

func (r *MemoryInvoiceRepo) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invoices[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	return inv.Clone(), nil
}

func (r *MemoryInvoiceRepo) GetByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, inv := range r.invoices {
		if inv.Number == number {
			return inv.Clone(), nil
		}
	}
	return nil, domain.ErrInvoiceNotFound
}

func (r *MemoryInvoiceRepo) List(ctx context.Context, filter InvoiceFilter) ([]*domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Invoice, 0, len(r.invoices))
	for _, inv := range r.invoices {
		if filter.Status != nil && inv.Status != *filter.Status {
			continue
		}
		if filter.Client != "" && !strings.EqualFold(inv.Client, filter.Client) {
			continue
		}
		out = append(out, inv.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedDate.After(out[j].CreatedDate)
	})
	return out, nil
}

func (r *MemoryInvoiceRepo) Update(ctx context.Context, id string, fn func(invoice *domain.Invoice) error) (*domain.Invoice, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(current); err != nil {
		if errors.Is(err, ErrNoChange) {
			return r.GetByID(ctx, id)
		}
		return nil, err
	}

	if current.ID != id {
		return nil, fmt.Errorf("invoice id is immutable")
	}
	if err := current.Validate(); err != nil {
		return nil, fmt.Errorf("invalid invoice: %w", err)
	}
	current.UpdatedAt = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.invoices[id]; !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	if r.numberTakenLocked(current.Number, id) {
		return nil, domain.ErrDuplicateNumber
	}
	r.invoices[id] = current.Clone()
	return current, nil
}

func (r *MemoryInvoiceRepo) Delete(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.invoices[id]; !ok {
		return domain.ErrInvoiceNotFound
	}
	delete(r.invoices, id)
	return nil
}

// GetNextInvoiceNumber generates the next invoice number in format "PREFIX-YEAR-SEQUENCE"
func (r *MemoryInvoiceRepo) GetNextInvoiceNumber(ctx context.Context, prefix string, year int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	numbers := make([]string, 0, len(r.invoices))
	for _, inv := range r.invoices {
		numbers = append(numbers, inv.Number)
	}
	return nextInvoiceNumber(prefix, year, numbers), nil
}

func (r *MemoryInvoiceRepo) numberTakenLocked(number, exceptID string) bool {
	for id, inv := range r.invoices {
		if id != exceptID && inv.Number == number {
			return true
		}
	}
	return false
}

// MemoryPaymentRepo is an in-process PaymentRepository
type MemoryPaymentRepo struct {
	mu      sync.Mutex
	intents map[string]*domain.PaymentIntent
	links   map[string]*domain.PaymentLink
}

func NewMemoryPaymentRepo() *MemoryPaymentRepo {
	return &MemoryPaymentRepo{
		intents: make(map[string]*domain.PaymentIntent),
		links:   make(map[string]*domain.PaymentLink),
	}
}

func (r *MemoryPaymentRepo) SaveIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.intents[intent.ID]; ok && existing.Status == domain.IntentStatusSucceeded {
		return nil
	}
	cp := *intent
	r.intents[intent.ID] = &cp
	return nil
}

func (r *MemoryPaymentRepo) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pi, ok := r.intents[id]
	if !ok {
		return nil, domain.ErrIntentNotFound
	}
	cp := *pi
	return &cp, nil
}

func (r *MemoryPaymentRepo) SettleIntent(ctx context.Context, intent *domain.PaymentIntent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.intents[intent.ID]
	if !ok {
		cp := *intent
		r.intents[intent.ID] = &cp
		return true, nil
	}
	return settle(existing, intent), nil
}

func (r *MemoryPaymentRepo) ListPendingIntents(ctx context.Context, createdBefore time.Time) ([]*domain.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.PaymentIntent, 0)
	for _, pi := range r.intents {
		if pi.Status.IsTerminal() || !pi.CreatedAt.Before(createdBefore) {
			continue
		}
		cp := *pi
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryPaymentRepo) SaveLink(ctx context.Context, link *domain.PaymentLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.links {
		if l.InvoiceID == link.InvoiceID && l.ID != link.ID {
			l.Active = false
		}
	}
	cp := *link
	cp.Active = true
	r.links[link.ID] = &cp
	return nil
}

func (r *MemoryPaymentRepo) GetActiveLink(ctx context.Context, invoiceID string) (*domain.PaymentLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.links {
		if l.InvoiceID == invoiceID && l.Active {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryPaymentRepo) DeactivateLinks(ctx context.Context, invoiceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.links {
		if l.InvoiceID == invoiceID {
			l.Active = false
		}
	}
	return nil
}
