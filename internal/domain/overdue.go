package domain

import "time"

// Overdue is the read-time projection of a sent invoice past its due date.
// It is never stored.
type Overdue struct {
	IsOverdue   bool `json:"isOverdue"`
	DaysOverdue int  `json:"daysOverdue"`
}

// EvaluateOverdue reports whether inv is overdue at now. Only sent invoices
// can be overdue; days are counted in started 24h periods past the due date.
func EvaluateOverdue(inv *Invoice, now time.Time) Overdue {
	if inv == nil || inv.Status != InvoiceStatusSent || inv.DueDate.IsZero() {
		return Overdue{}
	}
	if !now.After(inv.DueDate) {
		return Overdue{}
	}

	late := now.Sub(inv.DueDate)
	days := int(late / (24 * time.Hour))
	if late%(24*time.Hour) != 0 {
		days++
	}
	return Overdue{IsOverdue: true, DaysOverdue: days}
}

// DisplayStatus is the status label shown to users, with overdue projected over sent
func DisplayStatus(inv *Invoice, now time.Time) string {
	if EvaluateOverdue(inv, now).IsOverdue {
		return statusOverdue
	}
	return string(inv.Status)
}
