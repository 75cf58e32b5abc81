package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusSent  InvoiceStatus = "sent"
	InvoiceStatusPaid  InvoiceStatus = "paid"
)

// statusOverdue is accepted on input only. Older records stored overdue as a
// status; it is read back as sent and recomputed on every read.
const statusOverdue = "overdue"

// ParseInvoiceStatus normalizes a stored or user supplied status
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(InvoiceStatusDraft):
		return InvoiceStatusDraft, nil
	case string(InvoiceStatusSent), statusOverdue:
		return InvoiceStatusSent, nil
	case string(InvoiceStatusPaid):
		return InvoiceStatusPaid, nil
	}
	return "", &ValidationError{Field: "status", Message: "unknown status " + s}
}

// UnmarshalText lets JSON and YAML decoding go through ParseInvoiceStatus
func (s *InvoiceStatus) UnmarshalText(b []byte) error {
	v, err := ParseInvoiceStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// LineItem is a single billable row. Amount is derived from Quantity and Rate.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"unitRate"`
	Amount      decimal.Decimal `json:"amount"`
}

type Invoice struct {
	ID          string          `json:"id"`
	Number      string          `json:"number"`
	Client      string          `json:"client"`
	ClientEmail string          `json:"clientEmail"`
	Project     string          `json:"project"`
	Description string          `json:"description"`
	Items       []LineItem      `json:"items"`
	Amount      decimal.Decimal `json:"amount"`
	AmountPaid  decimal.Decimal `json:"amountPaid"`
	Currency    string          `json:"currency"`
	IssueDate   time.Time       `json:"issueDate"`
	DueDate     time.Time       `json:"dueDate"`
	Status      InvoiceStatus   `json:"status"`
	SentDate    *time.Time      `json:"sentDate"`
	PaidDate    *time.Time      `json:"paidDate"`

	// Payment references, set by the gateway
	PaymentLink     *string `json:"paymentLink"`
	PaymentLinkID   string  `json:"paymentLinkId,omitempty"`
	PaymentIntentID string  `json:"paymentIntentId,omitempty"`

	CreatedDate time.Time `json:"createdDate"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewInvoice creates a new draft invoice
func NewInvoice(id, number, client, project string, issueDate, dueDate time.Time) *Invoice {
	now := time.Now()
	return &Invoice{
		ID:          id,
		Number:      number,
		Client:      client,
		Project:     project,
		IssueDate:   Date(issueDate),
		DueDate:     Date(dueDate),
		Status:      InvoiceStatusDraft,
		Items:       make([]LineItem, 0),
		CreatedDate: now,
		UpdatedAt:   now,
	}
}

// Date truncates t to a calendar date at UTC midnight
func Date(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CanEdit returns true if the invoice can be modified
func (i *Invoice) CanEdit() bool {
	return i.Status == InvoiceStatusDraft
}

// Link returns the payment link URL or an empty string
func (i *Invoice) Link() string {
	if i.PaymentLink == nil {
		return ""
	}
	return *i.PaymentLink
}

// Clone returns a deep copy so callers never share item slices or date pointers
func (i *Invoice) Clone() *Invoice {
	if i == nil {
		return nil
	}
	c := *i
	c.Items = make([]LineItem, len(i.Items))
	copy(c.Items, i.Items)
	if i.SentDate != nil {
		t := *i.SentDate
		c.SentDate = &t
	}
	if i.PaidDate != nil {
		t := *i.PaidDate
		c.PaidDate = &t
	}
	if i.PaymentLink != nil {
		l := *i.PaymentLink
		c.PaymentLink = &l
	}
	return &c
}

// Validate checks the invariants every stored invoice must hold
func (i *Invoice) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return &ValidationError{Field: "id", Message: "invoice id is required"}
	}
	if strings.TrimSpace(i.Number) == "" {
		return &ValidationError{Field: "number", Message: "invoice number is required"}
	}
	if i.IssueDate.IsZero() {
		return &ValidationError{Field: "issueDate", Message: "issue date is required"}
	}
	if i.DueDate.IsZero() {
		return &ValidationError{Field: "dueDate", Message: "due date is required"}
	}
	if i.DueDate.Before(i.IssueDate) {
		return &ValidationError{Field: "dueDate", Message: "due date must not be before issue date"}
	}
	switch i.Status {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid:
	default:
		return &ValidationError{Field: "status", Message: "unknown status " + string(i.Status)}
	}
	if (i.Status == InvoiceStatusPaid) != (i.PaidDate != nil) {
		return &ValidationError{Field: "paidDate", Message: "paid date must be set exactly when the invoice is paid"}
	}
	if !i.Amount.Equal(InvoiceTotal(i.Items)) {
		return &ValidationError{Field: "amount", Message: "amount does not match line items"}
	}
	return nil
}

// ValidateForSend checks the fields a client-facing invoice needs. Create,
// save and send all require it.
func (i *Invoice) ValidateForSend() error {
	if strings.TrimSpace(i.Client) == "" {
		return &ValidationError{Field: "client", Message: "client is required"}
	}
	if strings.TrimSpace(i.Project) == "" {
		return &ValidationError{Field: "project", Message: "project is required"}
	}
	if len(i.Items) == 0 {
		return &ValidationError{Field: "items", Message: "at least one line item is required"}
	}
	for _, item := range i.Items {
		if strings.TrimSpace(item.Description) == "" {
			return &ValidationError{Field: "items", Message: "every line item needs a description"}
		}
	}
	return nil
}
