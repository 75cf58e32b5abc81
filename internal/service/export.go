package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/repository"
)

// ImportResult counts what an import did
type ImportResult struct {
	Imported int
	Skipped  int
}

// ExportJSON writes every invoice as one JSON array keyed by id
func ExportJSON(ctx context.Context, invoices repository.InvoiceRepository, w io.Writer) (int, error) {
	all, err := invoices.List(ctx, repository.InvoiceFilter{})
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(all); err != nil {
		return 0, fmt.Errorf("encode invoices: %w", err)
	}
	return len(all), nil
}

// ImportJSON loads an exported array. Invoices whose id already exists are
// skipped; amounts are recomputed from the items and every record must pass
// validation before anything is written.
func ImportJSON(ctx context.Context, invoices repository.InvoiceRepository, r io.Reader) (*ImportResult, error) {
	var records []*domain.Invoice
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, &domain.ValidationError{Field: "file", Message: "malformed invoice export: " + err.Error()}
	}

	seen := make(map[string]bool, len(records))
	for i, inv := range records {
		if inv == nil {
			return nil, &domain.ValidationError{Field: "file", Message: fmt.Sprintf("record %d is empty", i+1)}
		}
		if seen[inv.ID] {
			return nil, &domain.ValidationError{Field: "id", Message: "duplicate id " + inv.ID}
		}
		seen[inv.ID] = true
		inv.Recalculate()
		if err := inv.Validate(); err != nil {
			return nil, fmt.Errorf("record %d (%s): %w", i+1, inv.Number, err)
		}
	}

	result := &ImportResult{}
	for _, inv := range records {
		_, err := invoices.GetByID(ctx, inv.ID)
		if err == nil {
			result.Skipped++
			continue
		}
		if !errors.Is(err, domain.ErrInvoiceNotFound) {
			return result, err
		}
		if err := invoices.Create(ctx, inv); err != nil {
			return result, fmt.Errorf("import %s: %w", inv.Number, err)
		}
		result.Imported++
	}
	return result, nil
}
