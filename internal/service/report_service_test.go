package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestGetSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.draft(t)
	f.sent(t)
	paid := f.sent(t)
	if _, err := f.svc.Pay(ctx, paid.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}

	summary, err := NewReportService(f.invoices, func() time.Time { return f.now }).GetSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	want := decimal.NewFromInt(25000)
	if summary.Counts["draft"] != 1 || summary.Counts["overdue"] != 1 || summary.Counts["paid"] != 1 {
		t.Errorf("counts = %v", summary.Counts)
	}
	if !summary.Drafted.Equal(want) || !summary.Outstanding.Equal(want) || !summary.Overdue.Equal(want) || !summary.Collected.Equal(want) {
		t.Errorf("totals = drafted %s outstanding %s overdue %s collected %s",
			summary.Drafted, summary.Outstanding, summary.Overdue, summary.Collected)
	}
	if summary.OldestOverdue == nil || summary.OldestOverdue.Overdue.DaysOverdue != 6 {
		t.Errorf("oldest overdue = %+v", summary.OldestOverdue)
	}
}

func TestGetRevenueByMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.sent(t)
	if _, err := f.svc.Pay(ctx, inv.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}

	revenue, err := NewReportService(f.invoices, nil).GetRevenueByMonth(ctx, 2024)
	if err != nil {
		t.Fatalf("revenue: %v", err)
	}
	if len(revenue) != 12 {
		t.Fatalf("months = %d", len(revenue))
	}
	if !revenue[time.February].Equal(decimal.NewFromInt(25000)) {
		t.Errorf("february = %s", revenue[time.February])
	}
	if !revenue[time.January].IsZero() {
		t.Errorf("january = %s", revenue[time.January])
	}
}
