package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/service"
)

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// parseDate parses a date string in various formats
func parseDate(s string) (time.Time, error) {
	switch s {
	case "today":
		return domain.Date(time.Now()), nil
	case "yesterday":
		return domain.Date(time.Now().AddDate(0, 0, -1)), nil
	default:
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("expected format: YYYY-MM-DD, 'today', or 'yesterday'")
		}
		return t, nil
	}
}

// parseItem reads "description:quantity:rate". The description may itself
// contain colons.
func parseItem(s string) (domain.LineItem, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 {
		return domain.LineItem{}, fmt.Errorf("invalid item %q: expected description:quantity:rate", s)
	}
	n := len(parts)
	desc := strings.Join(parts[:n-2], ":")
	return domain.NewLineItem(desc, parts[n-2], parts[n-1]), nil
}

func confirmPrompt(message string) bool {
	fmt.Printf("%s [y/N] ", message)
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	input = strings.TrimSpace(strings.ToLower(input))
	return input == "y" || input == "yes"
}

func money(inv *domain.Invoice) string {
	return domain.FormatMoney(inv.Amount, inv.Currency)
}

func printInvoice(v *service.View) {
	inv := v.Invoice

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Invoice: %s\n", inv.Number)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("ID:      %s\n", inv.ID)
	fmt.Printf("Client:  %s", inv.Client)
	if inv.ClientEmail != "" {
		fmt.Printf(" <%s>", inv.ClientEmail)
	}
	fmt.Println()
	fmt.Printf("Project: %s\n", inv.Project)
	if inv.Description != "" {
		fmt.Printf("Notes:   %s\n", inv.Description)
	}
	fmt.Printf("Issued:  %s\n", inv.IssueDate.Format("2006-01-02"))
	fmt.Printf("Due:     %s\n", inv.DueDate.Format("2006-01-02"))

	status := v.DisplayStatus
	if v.Overdue.IsOverdue {
		status = fmt.Sprintf("%s (%d days)", status, v.Overdue.DaysOverdue)
	}
	fmt.Printf("Status:  %s\n", status)
	if inv.SentDate != nil {
		fmt.Printf("Sent:    %s\n", inv.SentDate.Format("2006-01-02"))
	}
	if inv.PaidDate != nil {
		fmt.Printf("Paid:    %s (%s)\n", inv.PaidDate.Format("2006-01-02"), domain.FormatMoney(inv.AmountPaid, inv.Currency))
	}
	if link := inv.Link(); link != "" && inv.Status == domain.InvoiceStatusSent {
		fmt.Printf("Pay at:  %s\n", link)
	}
	fmt.Println()

	if len(inv.Items) > 0 {
		fmt.Println("Line Items:")
		fmt.Println(strings.Repeat("-", 80))
		fmt.Printf("%-3s %-40s %8s %12s %12s\n", "#", "Description", "Qty", "Rate", "Amount")
		fmt.Println(strings.Repeat("-", 80))
		for i, item := range inv.Items {
			fmt.Printf("%-3d %-40s %8s %12s %12s\n",
				i+1,
				truncate(item.Description, 40),
				item.Quantity.String(),
				domain.FormatMoney(item.Rate, inv.Currency),
				domain.FormatMoney(item.Amount, inv.Currency),
			)
		}
		fmt.Println(strings.Repeat("-", 80))
	}

	fmt.Printf("Total: %s\n", money(inv))
	fmt.Println(strings.Repeat("=", 80))
}
