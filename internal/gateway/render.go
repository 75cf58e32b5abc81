package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/andy/invoicepay/internal/domain"
)

// Issuer is the sender block printed on every invoice
type Issuer struct {
	Name    string
	Email   string
	Address string
	Phone   string
}

// Renderer produces a document snapshot of an invoice
type Renderer interface {
	Render(ctx context.Context, inv *domain.Invoice) (*domain.Document, error)
}

// RenderText formats an invoice as fixed-width text. The TOTAL line always
// equals the stored amount.
func RenderText(inv *domain.Invoice, issuer Issuer) string {
	var b strings.Builder

	sep := strings.Repeat("=", 64)
	line := strings.Repeat("-", 64)

	b.WriteString("INVOICE\n")
	b.WriteString(sep + "\n")
	b.WriteString(fmt.Sprintf("Invoice #:  %s\n", inv.Number))
	b.WriteString(fmt.Sprintf("Issued:     %s\n", inv.IssueDate.Format("Jan 02, 2006")))
	b.WriteString(fmt.Sprintf("Due:        %s\n", inv.DueDate.Format("Jan 02, 2006")))
	b.WriteString(fmt.Sprintf("Status:     %s\n", strings.ToUpper(string(inv.Status))))

	if issuer.Name != "" || issuer.Email != "" {
		b.WriteString("\nFrom:\n")
		for _, v := range []string{issuer.Name, issuer.Email, issuer.Address, issuer.Phone} {
			if v != "" {
				b.WriteString(fmt.Sprintf("  %s\n", v))
			}
		}
	}

	b.WriteString("\nBill To:\n")
	b.WriteString(fmt.Sprintf("  %s\n", inv.Client))
	if inv.ClientEmail != "" {
		b.WriteString(fmt.Sprintf("  %s\n", inv.ClientEmail))
	}
	b.WriteString(fmt.Sprintf("\nProject:    %s\n", inv.Project))
	if inv.Description != "" {
		b.WriteString(fmt.Sprintf("            %s\n", inv.Description))
	}

	b.WriteString("\n" + line + "\n")
	b.WriteString(fmt.Sprintf("%-30s %8s %10s %12s\n", "Description", "Qty", "Rate", "Amount"))
	b.WriteString(line + "\n")

	for _, item := range inv.Items {
		desc := item.Description
		if len(desc) > 30 {
			desc = desc[:27] + "..."
		}
		b.WriteString(fmt.Sprintf("%-30s %8s %10s %12s\n",
			desc,
			item.Quantity.String(),
			item.Rate.StringFixed(2),
			domain.FormatMoney(item.Amount, inv.Currency),
		))
	}

	b.WriteString(line + "\n")
	b.WriteString(fmt.Sprintf("%51s %12s\n", "TOTAL", domain.FormatMoney(inv.Amount, inv.Currency)))
	if inv.Status == domain.InvoiceStatusPaid {
		b.WriteString(fmt.Sprintf("%51s %12s\n", "PAID", domain.FormatMoney(inv.AmountPaid, inv.Currency)))
	}
	b.WriteString(sep + "\n")

	if link := inv.Link(); link != "" && inv.Status != domain.InvoiceStatusPaid {
		b.WriteString(fmt.Sprintf("\nPay online: %s\n", link))
	}

	return b.String()
}

// PDFRenderer writes invoices as PDF files into dir
type PDFRenderer struct {
	dir    string
	issuer Issuer
}

func NewPDFRenderer(dir string, issuer Issuer) *PDFRenderer {
	return &PDFRenderer{dir: dir, issuer: issuer}
}

func (r *PDFRenderer) Render(ctx context.Context, inv *domain.Invoice) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Invoice "+inv.Number, true)
	pdf.SetAuthor(r.issuer.Name, true)
	pdf.AddPage()
	pdf.SetFont("Courier", "", 10)

	// Courier is cp1252 only
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, l := range strings.Split(RenderText(inv, r.issuer), "\n") {
		pdf.CellFormat(0, 5, tr(l), "", 1, "L", false, 0, "")
	}

	filename := fmt.Sprintf("%s.pdf", inv.Number)
	path := filepath.Join(r.dir, filename)
	if err := pdf.OutputFileAndClose(path); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &domain.Document{URL: "file://" + abs, Filename: filename}, nil
}
