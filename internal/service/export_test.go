package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/repository"
)

func TestExportThenImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.draft(t)
	sent := f.sent(t)

	var buf bytes.Buffer
	n, err := ExportJSON(ctx, f.invoices, &buf)
	if err != nil || n != 2 {
		t.Fatalf("export: %d, %v", n, err)
	}

	target := repository.NewMemoryInvoiceRepo()
	res, err := ImportJSON(ctx, target, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 2 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}

	got, err := target.GetByID(ctx, sent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.InvoiceStatusSent || got.Link() != sent.Link() || !got.Amount.Equal(sent.Amount) {
		t.Errorf("imported = %+v", got)
	}
	if _, err := target.GetByID(ctx, draft.ID); err != nil {
		t.Errorf("draft not imported: %v", err)
	}

	again, err := ImportJSON(ctx, target, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if again.Imported != 0 || again.Skipped != 2 {
		t.Errorf("second result = %+v", again)
	}
}

func TestExportRecordShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t)

	var buf bytes.Buffer
	if _, err := ExportJSON(ctx, f.invoices, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	var records []map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &records); err != nil || len(records) != 1 {
		t.Fatalf("decode export: %d records, %v", len(records), err)
	}
	rec := records[0]
	for _, key := range []string{
		"id", "number", "client", "clientEmail", "project", "description", "items",
		"amount", "issueDate", "dueDate", "status", "paidDate", "paymentLink", "createdDate",
	} {
		if _, ok := rec[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if got := string(rec["number"]); got != `"INV-2024-001"` {
		t.Errorf("number = %s", got)
	}
	if got := string(rec["amount"]); got != "25000" {
		t.Errorf("amount = %s, want a JSON number", got)
	}
	if string(rec["paidDate"]) != "null" || string(rec["paymentLink"]) != "null" {
		t.Errorf("unset fields: paidDate %s paymentLink %s", rec["paidDate"], rec["paymentLink"])
	}

	var items []map[string]json.RawMessage
	if err := json.Unmarshal(rec["items"], &items); err != nil || len(items) != 2 {
		t.Fatalf("decode items: %v", err)
	}
	if got := string(items[0]["unitRate"]); got != "15000" {
		t.Errorf("unitRate = %s", got)
	}
	if _, ok := items[0]["rate"]; ok {
		t.Error("item still carries a rate key")
	}
}

func TestImportRejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	target := repository.NewMemoryInvoiceRepo()

	tests := []struct {
		name  string
		input string
	}{
		{"malformed", `{"not":"an array"}`},
		{"missing id", `[{"number":"INV-1","status":"draft","issueDate":"2024-01-01T00:00:00Z","dueDate":"2024-01-31T00:00:00Z","items":[]}]`},
		{"paid without date", `[{"id":"a","number":"INV-1","status":"paid","issueDate":"2024-01-01T00:00:00Z","dueDate":"2024-01-31T00:00:00Z","items":[]}]`},
		{"duplicate id", `[{"id":"a","number":"INV-1","status":"draft","issueDate":"2024-01-01T00:00:00Z","dueDate":"2024-01-31T00:00:00Z","items":[]},` +
			`{"id":"a","number":"INV-2","status":"draft","issueDate":"2024-01-01T00:00:00Z","dueDate":"2024-01-31T00:00:00Z","items":[]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportJSON(ctx, target, strings.NewReader(tt.input))
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	all, _ := target.List(ctx, repository.InvoiceFilter{})
	if len(all) != 0 {
		t.Errorf("rejected import wrote %d invoices", len(all))
	}
}
