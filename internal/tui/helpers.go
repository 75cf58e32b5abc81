package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/service"
)

// truncateStr truncates a string to the specified length with ellipsis
func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// statusBadge renders the display status of an invoice with color. Overdue
// invoices carry their day count.
func statusBadge(v *service.View) string {
	if v.Overdue.IsOverdue {
		return overdueStyle.Render(fmt.Sprintf("OVERDUE %dd", v.Overdue.DaysOverdue))
	}
	switch v.Invoice.Status {
	case domain.InvoiceStatusDraft:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("DRAFT")
	case domain.InvoiceStatusSent:
		return lipgloss.NewStyle().Foreground(warningColor).Render("SENT")
	case domain.InvoiceStatusPaid:
		return lipgloss.NewStyle().Foreground(successColor).Render("PAID")
	default:
		return strings.ToUpper(v.DisplayStatus)
	}
}

// parseItems reads line items separated by ";" where each item is
// description:quantity:rate
func parseItems(s string) ([]domain.LineItem, error) {
	var items []domain.LineItem
	for _, raw := range strings.Split(s, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 3 {
			return nil, fmt.Errorf("item %q: expected description:quantity:rate", raw)
		}
		n := len(parts)
		items = append(items, domain.NewLineItem(
			strings.TrimSpace(strings.Join(parts[:n-2], ":")),
			strings.TrimSpace(parts[n-2]),
			strings.TrimSpace(parts[n-1]),
		))
	}
	return items, nil
}

// parseOptionalDate returns the zero time for an empty string
func parseOptionalDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}
