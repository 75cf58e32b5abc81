package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/gateway"
	"github.com/andy/invoicepay/internal/notify"
	"github.com/andy/invoicepay/internal/repository"
)

// PaymentGateway is the subset of the gateway adapter the engine drives
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, inv *domain.Invoice) (*domain.PaymentIntent, error)
	ConfirmPayment(ctx context.Context, intentID string) (*domain.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error)
	CreatePaymentLink(ctx context.Context, inv *domain.Invoice) (*domain.PaymentLink, error)
	RegeneratePaymentLink(ctx context.Context, inv *domain.Invoice) (*domain.PaymentLink, error)
	DeactivatePaymentLinks(ctx context.Context, invoiceID string) error
	SendInvoiceEmail(ctx context.Context, invoiceID string, env domain.EmailEnvelope) (*domain.EmailReceipt, error)
	GeneratePDF(ctx context.Context, inv *domain.Invoice) (*domain.Document, error)
}

// View is an invoice together with its read-time overdue projection
type View struct {
	Invoice       *domain.Invoice `json:"invoice"`
	Overdue       domain.Overdue  `json:"overdue"`
	DisplayStatus string          `json:"displayStatus"`
}

// NewInvoiceInput describes a draft to create. A zero due date falls back to
// the configured number of days after the issue date.
type NewInvoiceInput struct {
	Number      string
	Client      string
	ClientEmail string
	Project     string
	Description string
	Currency    string
	IssueDate   time.Time
	DueDate     time.Time
	Items       []domain.LineItem
}

// DraftChanges holds the edits for SaveDraft. Nil fields are left alone.
type DraftChanges struct {
	Number      *string
	Client      *string
	ClientEmail *string
	Project     *string
	Description *string
	IssueDate   *time.Time
	DueDate     *time.Time
	Items       []domain.LineItem
}

// ListFilter narrows List. Status matches the display status, so "sent"
// includes overdue invoices and "overdue" only those past due.
type ListFilter struct {
	Status string
	Client string
}

// PaymentResult is the outcome of a direct payment or confirmation
type PaymentResult struct {
	Invoice *domain.Invoice
	Intent  *domain.PaymentIntent
	Result  ApplyResult
}

// InvoiceService drives invoices through draft, sent and paid
type InvoiceService interface {
	// Create stores a new draft with a generated id and number
	Create(ctx context.Context, in NewInvoiceInput) (*domain.Invoice, error)

	// Get looks an invoice up by id or invoice number
	Get(ctx context.Context, ref string) (*View, error)

	// List returns invoices with their overdue projection
	List(ctx context.Context, filter ListFilter) ([]*View, error)

	// SaveDraft edits a draft and recomputes its amount
	SaveDraft(ctx context.Context, ref string, changes DraftChanges) (*domain.Invoice, error)

	// AddItem appends a line item to a draft
	AddItem(ctx context.Context, ref string, item domain.LineItem) (*domain.Invoice, error)

	// SetItemRate changes the rate of one line item on a draft
	SetItemRate(ctx context.Context, ref string, index int, rate any) (*domain.Invoice, error)

	// Send issues a payment link, emails the client and marks the invoice sent
	Send(ctx context.Context, ref string) (*domain.Invoice, error)

	// Pay collects a sent invoice through the gateway
	Pay(ctx context.Context, ref string) (*PaymentResult, error)

	// ConfirmPayment settles an existing intent and applies the outcome
	ConfirmPayment(ctx context.Context, intentID string) (*PaymentResult, error)

	// RegenerateLink replaces the active payment link of a sent invoice
	RegenerateLink(ctx context.Context, ref string) (*domain.Invoice, error)

	// GeneratePDF renders the invoice without changing it
	GeneratePDF(ctx context.Context, ref string) (*domain.Document, error)

	// Delete removes an invoice. It requires confirmed to be true.
	Delete(ctx context.Context, ref string, confirmed bool) error
}

// Options configures the invoice service
type Options struct {
	NumberPrefix          string
	Currency              string
	DefaultDueDays        int
	AcceptPartialPayments bool
	Issuer                gateway.Issuer
	Now                   func() time.Time
}

type invoiceService struct {
	invoices repository.InvoiceRepository
	gateway  PaymentGateway
	payments *payments
	report   reporter
	opts     Options
	log      zerolog.Logger
	confirms singleflight.Group
	// inflight serializes operations with gateway side effects per invoice
	inflight *repository.KeyedLocker
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(
	invoices repository.InvoiceRepository,
	gw PaymentGateway,
	notifier notify.Notifier,
	opts Options,
	log zerolog.Logger,
) InvoiceService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NumberPrefix == "" {
		opts.NumberPrefix = "INV"
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &invoiceService{
		invoices: invoices,
		gateway:  gw,
		payments: &payments{
			invoices:      invoices,
			acceptPartial: opts.AcceptPartialPayments,
			now:           opts.Now,
			log:           log,
		},
		report:   reporter{notifier: notifier, log: log, now: opts.Now},
		opts:     opts,
		log:      log,
		inflight: repository.NewKeyedLocker(),
	}
}

func (s *invoiceService) Create(ctx context.Context, in NewInvoiceInput) (*domain.Invoice, error) {
	inv, err := s.create(ctx, in)
	if err != nil {
		s.report.failure(ctx, OpCreate, "", err)
		return nil, err
	}
	s.report.success(ctx, OpCreate, inv.ID, fmt.Sprintf("Invoice %s created", inv.Number))
	return inv, nil
}

func (s *invoiceService) create(ctx context.Context, in NewInvoiceInput) (*domain.Invoice, error) {
	status, err := domain.Transition("", domain.TriggerCreate)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	issue := in.IssueDate
	if issue.IsZero() {
		issue = now
	}
	due := in.DueDate
	if due.IsZero() {
		due = issue.AddDate(0, 0, s.opts.DefaultDueDays)
	}

	inv := domain.NewInvoice(uuid.NewString(), strings.TrimSpace(in.Number), strings.TrimSpace(in.Client), strings.TrimSpace(in.Project), issue, due)
	inv.Status = status
	inv.ClientEmail = strings.TrimSpace(in.ClientEmail)
	inv.Description = in.Description
	inv.Currency = in.Currency
	if inv.Currency == "" {
		inv.Currency = s.opts.Currency
	}
	inv.CreatedDate = now
	inv.UpdatedAt = now
	inv.SetItems(in.Items)

	if err := inv.ValidateForSend(); err != nil {
		return nil, err
	}

	// A generated number can collide with a concurrent create; try again
	generated := inv.Number == ""
	for attempt := 0; ; attempt++ {
		if generated {
			number, err := s.invoices.GetNextInvoiceNumber(ctx, s.opts.NumberPrefix, inv.IssueDate.Year())
			if err != nil {
				return nil, fmt.Errorf("failed to generate invoice number: %w", err)
			}
			inv.Number = number
		}
		err := s.invoices.Create(ctx, inv)
		if err == nil {
			return inv, nil
		}
		if !generated || !errors.Is(err, domain.ErrDuplicateNumber) || attempt >= 2 {
			return nil, err
		}
	}
}

func (s *invoiceService) Get(ctx context.Context, ref string) (*View, error) {
	inv, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.view(inv), nil
}

func (s *invoiceService) List(ctx context.Context, filter ListFilter) ([]*View, error) {
	var repoFilter repository.InvoiceFilter
	repoFilter.Client = filter.Client

	want := strings.ToLower(strings.TrimSpace(filter.Status))
	if want != "" && want != "overdue" {
		status, err := domain.ParseInvoiceStatus(want)
		if err != nil {
			return nil, err
		}
		repoFilter.Status = &status
	}
	if want == "overdue" {
		sent := domain.InvoiceStatusSent
		repoFilter.Status = &sent
	}

	invoices, err := s.invoices.List(ctx, repoFilter)
	if err != nil {
		return nil, err
	}

	views := make([]*View, 0, len(invoices))
	for _, inv := range invoices {
		v := s.view(inv)
		if want == "overdue" && !v.Overdue.IsOverdue {
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *invoiceService) view(inv *domain.Invoice) *View {
	now := s.opts.Now()
	return &View{
		Invoice:       inv,
		Overdue:       domain.EvaluateOverdue(inv, now),
		DisplayStatus: domain.DisplayStatus(inv, now),
	}
}

// acquire resolves ref and holds the invoice's side-effect lock. The invoice
// is read again once the lock is held.
func (s *invoiceService) acquire(ctx context.Context, ref string) (*domain.Invoice, func(), error) {
	inv, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.inflight.Lock(inv.ID)
	inv, err = s.invoices.GetByID(ctx, inv.ID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return inv, unlock, nil
}

// resolve finds an invoice by id, then by invoice number
func (s *invoiceService) resolve(ctx context.Context, ref string) (*domain.Invoice, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &domain.ValidationError{Field: "id", Message: "invoice id or number is required"}
	}
	inv, err := s.invoices.GetByID(ctx, ref)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, domain.ErrInvoiceNotFound) {
		return nil, err
	}
	return s.invoices.GetByNumber(ctx, ref)
}

func (s *invoiceService) SaveDraft(ctx context.Context, ref string, changes DraftChanges) (*domain.Invoice, error) {
	return s.editDraft(ctx, ref, func(inv *domain.Invoice) error {
		if changes.Number != nil {
			inv.Number = strings.TrimSpace(*changes.Number)
		}
		if changes.Client != nil {
			inv.Client = strings.TrimSpace(*changes.Client)
		}
		if changes.ClientEmail != nil {
			inv.ClientEmail = strings.TrimSpace(*changes.ClientEmail)
		}
		if changes.Project != nil {
			inv.Project = strings.TrimSpace(*changes.Project)
		}
		if changes.Description != nil {
			inv.Description = *changes.Description
		}
		if changes.IssueDate != nil {
			inv.IssueDate = domain.Date(*changes.IssueDate)
		}
		if changes.DueDate != nil {
			inv.DueDate = domain.Date(*changes.DueDate)
		}
		if changes.Items != nil {
			inv.SetItems(changes.Items)
		}
		return nil
	})
}

func (s *invoiceService) AddItem(ctx context.Context, ref string, item domain.LineItem) (*domain.Invoice, error) {
	return s.editDraft(ctx, ref, func(inv *domain.Invoice) error {
		inv.SetItems(append(inv.Items, item))
		return nil
	})
}

func (s *invoiceService) SetItemRate(ctx context.Context, ref string, index int, rate any) (*domain.Invoice, error) {
	return s.editDraft(ctx, ref, func(inv *domain.Invoice) error {
		if index < 0 || index >= len(inv.Items) {
			return &domain.ValidationError{Field: "items", Message: fmt.Sprintf("no line item %d", index+1)}
		}
		inv.Items[index].Rate = domain.Coerce(rate)
		inv.Recalculate()
		return nil
	})
}

// editDraft applies the save trigger: edits are only legal on drafts and the
// result must still be sendable
func (s *invoiceService) editDraft(ctx context.Context, ref string, edit func(inv *domain.Invoice) error) (*domain.Invoice, error) {
	current, err := s.resolve(ctx, ref)
	if err != nil {
		s.report.failure(ctx, OpSave, ref, err)
		return nil, err
	}

	inv, err := s.invoices.Update(ctx, current.ID, func(inv *domain.Invoice) error {
		next, err := domain.Transition(inv.Status, domain.TriggerSave)
		if err != nil {
			return err
		}
		if err := edit(inv); err != nil {
			return err
		}
		inv.Status = next
		inv.Recalculate()
		return inv.ValidateForSend()
	})
	if err != nil {
		s.report.failure(ctx, OpSave, current.ID, err)
		return nil, err
	}

	s.report.success(ctx, OpSave, inv.ID, fmt.Sprintf("Invoice %s saved (%s)", inv.Number, domain.FormatMoney(inv.Amount, inv.Currency)))
	return inv, nil
}

func (s *invoiceService) Send(ctx context.Context, ref string) (*domain.Invoice, error) {
	inv, err := s.send(ctx, ref)
	if err != nil {
		id := ref
		if inv != nil {
			id = inv.ID
		}
		s.report.failure(ctx, OpSend, id, err)
		return nil, err
	}
	s.report.success(ctx, OpSend, inv.ID, fmt.Sprintf("Invoice %s sent to %s", inv.Number, inv.ClientEmail))
	return inv, nil
}

// send returns the invoice it loaded alongside any error so failures can be
// reported against it
func (s *invoiceService) send(ctx context.Context, ref string) (*domain.Invoice, error) {
	inv, unlock, err := s.acquire(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := domain.Transition(inv.Status, domain.TriggerSend); err != nil {
		return inv, err
	}
	if err := inv.ValidateForSend(); err != nil {
		return inv, err
	}

	// Gateway calls run outside the store's write lock; the transition is
	// checked again when the result is written.
	link, err := s.gateway.CreatePaymentLink(ctx, inv)
	if err != nil {
		return inv, err
	}
	linked := inv.Clone()
	linked.PaymentLink = &link.URL
	linked.PaymentLinkID = link.ID

	if _, err := s.gateway.SendInvoiceEmail(ctx, inv.ID, s.envelope(linked)); err != nil {
		return inv, err
	}

	sent, err := s.invoices.Update(ctx, inv.ID, func(cur *domain.Invoice) error {
		next, err := domain.Transition(cur.Status, domain.TriggerSend)
		if err != nil {
			return err
		}
		if err := cur.ValidateForSend(); err != nil {
			return err
		}
		now := s.opts.Now()
		cur.Status = next
		cur.SentDate = &now
		cur.PaymentLink = &link.URL
		cur.PaymentLinkID = link.ID
		return nil
	})
	if err != nil {
		return inv, err
	}

	s.log.Info().Str("invoice_id", sent.ID).Str("link_id", link.ID).Msg("invoice sent")
	return sent, nil
}

func (s *invoiceService) envelope(inv *domain.Invoice) domain.EmailEnvelope {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", inv.Client)
	fmt.Fprintf(&b, "Please find invoice %s for %s below. Payment of %s is due by %s.\n\n",
		inv.Number,
		inv.Project,
		domain.FormatMoney(inv.Amount, inv.Currency),
		inv.DueDate.Format("Jan 02, 2006"))
	b.WriteString(gateway.RenderText(inv, s.opts.Issuer))
	if s.opts.Issuer.Name != "" {
		fmt.Fprintf(&b, "\nThank you,\n%s\n", s.opts.Issuer.Name)
	}

	subject := fmt.Sprintf("Invoice %s", inv.Number)
	if s.opts.Issuer.Name != "" {
		subject = fmt.Sprintf("Invoice %s from %s", inv.Number, s.opts.Issuer.Name)
	}
	return domain.EmailEnvelope{To: inv.ClientEmail, Subject: subject, Body: b.String()}
}

func (s *invoiceService) Pay(ctx context.Context, ref string) (*PaymentResult, error) {
	inv, unlock, err := s.acquire(ctx, ref)
	if err != nil {
		s.report.failure(ctx, OpPay, ref, err)
		return nil, err
	}
	defer unlock()

	if _, err := domain.Transition(inv.Status, domain.TriggerPaymentConfirmed); err != nil {
		s.report.failure(ctx, OpPay, inv.ID, err)
		return nil, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, inv)
	if err != nil {
		s.report.failure(ctx, OpPay, inv.ID, err)
		return nil, err
	}
	return s.ConfirmPayment(ctx, intent.ID)
}

// ConfirmPayment collapses concurrent confirmations of one intent into a
// single gateway call. The shared call is detached from any one caller and
// bounded by the gateway timeout; a caller whose ctx ends stops waiting
// without affecting the others.
func (s *invoiceService) ConfirmPayment(ctx context.Context, intentID string) (*PaymentResult, error) {
	ch := s.confirms.DoChan(intentID, func() (interface{}, error) {
		return s.confirm(context.WithoutCancel(ctx), intentID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PaymentResult), nil
	}
}

func (s *invoiceService) confirm(ctx context.Context, intentID string) (*PaymentResult, error) {
	intent, err := s.gateway.ConfirmPayment(ctx, intentID)
	if err != nil {
		var declined *domain.PaymentDeclinedError
		if errors.As(err, &declined) {
			s.reportDecline(ctx, intentID, declined)
		} else {
			s.report.failure(ctx, OpConfirm, "", err)
		}
		return nil, err
	}

	if !intent.Status.IsTerminal() {
		s.report.success(ctx, OpConfirm, intent.InvoiceID, "Payment is awaiting confirmation from the processor")
		return &PaymentResult{Intent: intent, Result: Pending}, nil
	}

	received := intent.Received()
	inv, result, err := s.payments.confirmed(ctx, intent.InvoiceID, intent.ID, &received)
	if err != nil {
		s.report.failure(ctx, OpConfirm, intent.InvoiceID, err)
		return nil, err
	}

	switch result {
	case Applied:
		s.report.success(ctx, OpConfirm, inv.ID, fmt.Sprintf("Invoice %s paid (%s)", inv.Number, domain.FormatMoney(inv.AmountPaid, inv.Currency)))
	case Duplicate:
		s.report.success(ctx, OpConfirm, inv.ID, fmt.Sprintf("Invoice %s is already paid", inv.Number))
	case AlreadyPaid:
		s.report.warn(ctx, OpConfirm, inv.ID, fmt.Sprintf("Invoice %s was already paid by another payment; check for a double charge", inv.Number))
	}
	return &PaymentResult{Invoice: inv, Intent: intent, Result: result}, nil
}

func (s *invoiceService) reportDecline(ctx context.Context, intentID string, declined *domain.PaymentDeclinedError) {
	intent, err := s.gateway.GetPaymentIntent(ctx, intentID)
	if err != nil {
		s.report.failure(ctx, OpConfirm, "", declined)
		return
	}
	if _, err := s.payments.failed(ctx, intent.InvoiceID); err != nil {
		s.log.Warn().Err(err).Str("intent_id", intentID).Msg("declined payment for unexpected invoice state")
	}
	s.report.failure(ctx, OpConfirm, intent.InvoiceID, declined)
}

func (s *invoiceService) RegenerateLink(ctx context.Context, ref string) (*domain.Invoice, error) {
	inv, unlock, err := s.acquire(ctx, ref)
	if err != nil {
		s.report.failure(ctx, OpLink, ref, err)
		return nil, err
	}
	defer unlock()

	if inv.Status != domain.InvoiceStatusSent {
		err := &domain.ValidationError{Field: "status", Message: "only sent invoices have a payment link to replace"}
		s.report.failure(ctx, OpLink, inv.ID, err)
		return nil, err
	}

	link, err := s.gateway.RegeneratePaymentLink(ctx, inv)
	if err != nil {
		s.report.failure(ctx, OpLink, inv.ID, err)
		return nil, err
	}

	updated, err := s.invoices.Update(ctx, inv.ID, func(cur *domain.Invoice) error {
		if cur.Status != domain.InvoiceStatusSent {
			return repository.ErrNoChange
		}
		cur.PaymentLink = &link.URL
		cur.PaymentLinkID = link.ID
		return nil
	})
	if err != nil {
		s.report.failure(ctx, OpLink, inv.ID, err)
		return nil, err
	}

	s.report.success(ctx, OpLink, updated.ID, fmt.Sprintf("New payment link for %s: %s", updated.Number, link.URL))
	return updated, nil
}

func (s *invoiceService) GeneratePDF(ctx context.Context, ref string) (*domain.Document, error) {
	inv, err := s.resolve(ctx, ref)
	if err != nil {
		s.report.failure(ctx, OpPDF, ref, err)
		return nil, err
	}
	doc, err := s.gateway.GeneratePDF(ctx, inv)
	if err != nil {
		s.report.failure(ctx, OpPDF, inv.ID, err)
		return nil, err
	}
	s.report.success(ctx, OpPDF, inv.ID, fmt.Sprintf("Generated %s", doc.Filename))
	return doc, nil
}

func (s *invoiceService) Delete(ctx context.Context, ref string, confirmed bool) error {
	if !confirmed {
		s.report.failure(ctx, OpDelete, ref, domain.ErrConfirmationRequired)
		return domain.ErrConfirmationRequired
	}

	inv, unlock, err := s.acquire(ctx, ref)
	if err != nil {
		s.report.failure(ctx, OpDelete, ref, err)
		return err
	}
	defer unlock()

	if _, err := domain.Transition(inv.Status, domain.TriggerDelete); err != nil {
		s.report.failure(ctx, OpDelete, inv.ID, err)
		return err
	}

	if err := s.gateway.DeactivatePaymentLinks(ctx, inv.ID); err != nil {
		s.report.failure(ctx, OpDelete, inv.ID, err)
		return err
	}
	if err := s.invoices.Delete(ctx, inv.ID); err != nil {
		s.report.failure(ctx, OpDelete, inv.ID, err)
		return err
	}

	s.report.success(ctx, OpDelete, inv.ID, fmt.Sprintf("Invoice %s deleted", inv.Number))
	return nil
}
