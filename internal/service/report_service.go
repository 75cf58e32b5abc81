package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/repository"
)

// Summary is the receivables overview shown on the dashboard
type Summary struct {
	Counts        map[string]int // By display status
	Drafted       decimal.Decimal
	Outstanding   decimal.Decimal // Sent, including overdue
	Overdue       decimal.Decimal
	Collected     decimal.Decimal
	OldestOverdue *View
}

// ReportService provides aggregations over invoices
type ReportService interface {
	GetSummary(ctx context.Context) (*Summary, error)
	GetRevenueByMonth(ctx context.Context, year int) (map[time.Month]decimal.Decimal, error)
}

type reportService struct {
	invoiceRepo repository.InvoiceRepository
	now         func() time.Time
}

// NewReportService creates a new report service
func NewReportService(invoiceRepo repository.InvoiceRepository, now func() time.Time) ReportService {
	if now == nil {
		now = time.Now
	}
	return &reportService{invoiceRepo: invoiceRepo, now: now}
}

func (s *reportService) GetSummary(ctx context.Context) (*Summary, error) {
	invoices, err := s.invoiceRepo.List(ctx, repository.InvoiceFilter{})
	if err != nil {
		return nil, err
	}

	now := s.now()
	summary := &Summary{Counts: make(map[string]int)}

	for _, inv := range invoices {
		overdue := domain.EvaluateOverdue(inv, now)
		summary.Counts[domain.DisplayStatus(inv, now)]++

		switch inv.Status {
		case domain.InvoiceStatusDraft:
			summary.Drafted = summary.Drafted.Add(inv.Amount)
		case domain.InvoiceStatusSent:
			summary.Outstanding = summary.Outstanding.Add(inv.Amount)
			if overdue.IsOverdue {
				summary.Overdue = summary.Overdue.Add(inv.Amount)
				if summary.OldestOverdue == nil || overdue.DaysOverdue > summary.OldestOverdue.Overdue.DaysOverdue {
					summary.OldestOverdue = &View{Invoice: inv, Overdue: overdue, DisplayStatus: domain.DisplayStatus(inv, now)}
				}
			}
		case domain.InvoiceStatusPaid:
			summary.Collected = summary.Collected.Add(inv.AmountPaid)
		}
	}

	return summary, nil
}

func (s *reportService) GetRevenueByMonth(ctx context.Context, year int) (map[time.Month]decimal.Decimal, error) {
	// Get all paid invoices for the year
	paidStatus := domain.InvoiceStatusPaid
	invoices, err := s.invoiceRepo.List(ctx, repository.InvoiceFilter{Status: &paidStatus})
	if err != nil {
		return nil, err
	}

	revenue := make(map[time.Month]decimal.Decimal)
	for m := time.January; m <= time.December; m++ {
		revenue[m] = decimal.Zero
	}

	for _, invoice := range invoices {
		if invoice.PaidDate == nil || invoice.PaidDate.Year() != year {
			continue
		}
		month := invoice.PaidDate.Month()
		revenue[month] = revenue[month].Add(invoice.AmountPaid)
	}

	return revenue, nil
}
