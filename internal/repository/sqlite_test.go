package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andy/invoicepay/internal/db"
	"github.com/andy/invoicepay/internal/domain"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"), "test-key")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return database
}

func TestInvoiceRepoRoundTrip(t *testing.T) {
	repo := NewInvoiceRepo(openTestDB(t))
	ctx := context.Background()

	inv := newInvoice("a", "INV-2024-001")
	inv.ClientEmail = "ap@acme.test"
	inv.SetItems([]domain.LineItem{
		domain.NewLineItem("Design", "1.5", "100.10"),
		domain.NewLineItem("Build", 2, 75),
	})
	if err := repo.Create(ctx, inv); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByNumber(ctx, "INV-2024-001")
	if err != nil {
		t.Fatalf("get by number: %v", err)
	}
	if got.ID != "a" || got.ClientEmail != "ap@acme.test" || got.Status != domain.InvoiceStatusDraft {
		t.Errorf("stored invoice = %+v", got)
	}
	if !got.Amount.Equal(decimal.RequireFromString("300.15")) {
		t.Errorf("amount = %s, want 300.15", got.Amount)
	}
	if len(got.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(got.Items))
	}
	if got.Items[0].Description != "Design" || !got.Items[0].Rate.Equal(decimal.RequireFromString("100.10")) {
		t.Errorf("first item = %+v", got.Items[0])
	}
	if !got.IssueDate.Equal(inv.IssueDate) || !got.DueDate.Equal(inv.DueDate) {
		t.Errorf("dates = %s/%s", got.IssueDate, got.DueDate)
	}
	if got.PaidDate != nil || got.PaymentLink != nil {
		t.Errorf("unset fields came back set: %+v", got)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrInvoiceNotFound) {
		t.Errorf("expected ErrInvoiceNotFound, got %v", err)
	}
}

func TestInvoiceRepoCreateRejectsDuplicateNumber(t *testing.T) {
	repo := NewInvoiceRepo(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, newInvoice("a", "INV-2024-001")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := repo.Create(ctx, newInvoice("b", "INV-2024-001"))
	if !errors.Is(err, domain.ErrDuplicateNumber) {
		t.Fatalf("expected ErrDuplicateNumber, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "b"); !errors.Is(err, domain.ErrInvoiceNotFound) {
		t.Errorf("rejected invoice was stored: %v", err)
	}
}

func TestInvoiceRepoUpdate(t *testing.T) {
	repo := NewInvoiceRepo(openTestDB(t))
	ctx := context.Background()
	if err := repo.Create(ctx, newInvoice("a", "INV-2024-001")); err != nil {
		t.Fatalf("create: %v", err)
	}

	sentAt := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	link := "https://pay.test/l/1"
	_, err := repo.Update(ctx, "a", func(inv *domain.Invoice) error {
		inv.Status = domain.InvoiceStatusSent
		inv.SentDate = &sentAt
		inv.PaymentLink = &link
		inv.SetItems([]domain.LineItem{domain.NewLineItem("build", 3, 100)})
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.GetByID(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.InvoiceStatusSent || got.SentDate == nil || !got.SentDate.Equal(sentAt) {
		t.Errorf("status/sent = %s/%v", got.Status, got.SentDate)
	}
	if got.PaymentLink == nil || *got.PaymentLink != link {
		t.Errorf("link = %v", got.PaymentLink)
	}
	if len(got.Items) != 1 || !got.Amount.Equal(decimal.NewFromInt(300)) {
		t.Errorf("items/amount = %d/%s", len(got.Items), got.Amount)
	}
}

func TestInvoiceRepoUpdateNoChangeLeavesRecord(t *testing.T) {
	repo := NewInvoiceRepo(openTestDB(t))
	ctx := context.Background()
	if err := repo.Create(ctx, newInvoice("a", "INV-2024-001")); err != nil {
		t.Fatalf("create: %v", err)
	}
	before, err := repo.GetByID(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	got, err := repo.Update(ctx, "a", func(inv *domain.Invoice) error {
		inv.Client = "Someone Else"
		return ErrNoChange
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got == nil {
		t.Fatal("expected the current invoice back")
	}

	after, err := repo.GetByID(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Client != before.Client || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("no-change update wrote: %+v", after)
	}
}

func TestInvoiceRepoUpdateRejectsInvalid(t *testing.T) {
	repo := NewInvoiceRepo(openTestDB(t))
	ctx := context.Background()
	if err := repo.Create(ctx, newInvoice("a", "INV-2024-001")); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := repo.Update(ctx, "a", func(inv *domain.Invoice) error {
		inv.Status = domain.InvoiceStatusPaid
		return nil
	})
	if err == nil {
		t.Fatal("expected paid without a paid date to be rejected")
	}
	got, _ := repo.GetByID(ctx, "a")
	if got.Status != domain.InvoiceStatusDraft {
		t.Errorf("status = %s after rejected update", got.Status)
	}
}

func TestInvoiceRepoDelete(t *testing.T) {
	repo := NewInvoiceRepo(openTestDB(t))
	ctx := context.Background()
	if err := repo.Create(ctx, newInvoice("a", "INV-2024-001")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, "a"); !errors.Is(err, domain.ErrInvoiceNotFound) {
		t.Errorf("expected ErrInvoiceNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, "a"); !errors.Is(err, domain.ErrInvoiceNotFound) {
		t.Errorf("second delete: expected ErrInvoiceNotFound, got %v", err)
	}
}

func TestInvoiceRepoNextNumber(t *testing.T) {
	repo := NewInvoiceRepo(openTestDB(t))
	ctx := context.Background()
	for _, n := range []string{"INV-2024-001", "INV-2024-007", "INV-2023-020"} {
		if err := repo.Create(ctx, newInvoice(n, n)); err != nil {
			t.Fatalf("create %s: %v", n, err)
		}
	}

	got, err := repo.GetNextInvoiceNumber(ctx, "INV", 2024)
	if err != nil {
		t.Fatalf("next number: %v", err)
	}
	if got != "INV-2024-008" {
		t.Errorf("next number = %s, want INV-2024-008", got)
	}
}

func TestPaymentRepoSettleKeepsSucceeded(t *testing.T) {
	repo := NewPaymentRepo(openTestDB(t))
	ctx := context.Background()

	intent := &domain.PaymentIntent{
		ID:               "pi_1",
		InvoiceID:        "a",
		AmountMinorUnits: 10000,
		Currency:         "USD",
		Status:           domain.IntentStatusRequiresPaymentMethod,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if err := repo.SaveIntent(ctx, intent); err != nil {
		t.Fatalf("save intent: %v", err)
	}

	succeeded := *intent
	succeeded.Status = domain.IntentStatusSucceeded
	succeeded.AmountReceivedMinor = 10000
	changed, err := repo.SettleIntent(ctx, &succeeded)
	if err != nil || !changed {
		t.Fatalf("settle succeeded: changed=%v err=%v", changed, err)
	}

	failed := *intent
	failed.Status = domain.IntentStatusFailed
	failed.FailureReason = "card_declined"
	changed, err = repo.SettleIntent(ctx, &failed)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if changed {
		t.Error("failure overwrote a succeeded intent")
	}
	if err := repo.SaveIntent(ctx, intent); err != nil {
		t.Fatalf("save over succeeded: %v", err)
	}

	got, err := repo.GetIntent(ctx, "pi_1")
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if got.Status != domain.IntentStatusSucceeded || got.AmountReceivedMinor != 10000 {
		t.Errorf("stored intent = %s/%d", got.Status, got.AmountReceivedMinor)
	}
}

func TestPaymentRepoSettleInsertsUnknownIntent(t *testing.T) {
	repo := NewPaymentRepo(openTestDB(t))
	ctx := context.Background()

	changed, err := repo.SettleIntent(ctx, &domain.PaymentIntent{
		ID:               "pi_ext",
		InvoiceID:        "a",
		AmountMinorUnits: 500,
		Currency:         "USD",
		Status:           domain.IntentStatusFailed,
		FailureReason:    "expired_card",
	})
	if err != nil || !changed {
		t.Fatalf("settle: changed=%v err=%v", changed, err)
	}
	got, err := repo.GetIntent(ctx, "pi_ext")
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if got.Status != domain.IntentStatusFailed || got.FailureReason != "expired_card" {
		t.Errorf("stored intent = %s/%q", got.Status, got.FailureReason)
	}
	if _, err := repo.GetIntent(ctx, "pi_missing"); !errors.Is(err, domain.ErrIntentNotFound) {
		t.Errorf("expected ErrIntentNotFound, got %v", err)
	}
}

func TestPaymentRepoListPendingIntents(t *testing.T) {
	repo := NewPaymentRepo(openTestDB(t))
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	for id, status := range map[string]domain.IntentStatus{
		"pi_pending": domain.IntentStatusRequiresPaymentMethod,
		"pi_done":    domain.IntentStatusSucceeded,
		"pi_failed":  domain.IntentStatusFailed,
	} {
		err := repo.SaveIntent(ctx, &domain.PaymentIntent{
			ID: id, InvoiceID: "a", AmountMinorUnits: 100, Currency: "USD",
			Status: status, CreatedAt: old, UpdatedAt: old,
		})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	pending, err := repo.ListPendingIntents(ctx, time.Now())
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "pi_pending" {
		t.Errorf("pending = %+v", pending)
	}
	if pending, _ := repo.ListPendingIntents(ctx, old.Add(-time.Minute)); len(pending) != 0 {
		t.Errorf("intents newer than the cutoff were listed: %d", len(pending))
	}
}

func TestPaymentRepoSaveLinkKeepsOneActive(t *testing.T) {
	repo := NewPaymentRepo(openTestDB(t))
	ctx := context.Background()

	if link, err := repo.GetActiveLink(ctx, "a"); err != nil || link != nil {
		t.Fatalf("expected no link, got %+v, %v", link, err)
	}

	first := &domain.PaymentLink{ID: "plink_1", InvoiceID: "a", URL: "https://pay.test/l/1", CreatedAt: time.Now()}
	second := &domain.PaymentLink{ID: "plink_2", InvoiceID: "a", URL: "https://pay.test/l/2", CreatedAt: time.Now()}
	if err := repo.SaveLink(ctx, first); err != nil {
		t.Fatalf("save first link: %v", err)
	}
	if err := repo.SaveLink(ctx, second); err != nil {
		t.Fatalf("save second link: %v", err)
	}

	active, err := repo.GetActiveLink(ctx, "a")
	if err != nil {
		t.Fatalf("get active link: %v", err)
	}
	if active == nil || active.ID != "plink_2" || !active.Active {
		t.Fatalf("active link = %+v", active)
	}

	if err := repo.DeactivateLinks(ctx, "a"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if link, _ := repo.GetActiveLink(ctx, "a"); link != nil {
		t.Errorf("link still active after deactivate: %+v", link)
	}
}
