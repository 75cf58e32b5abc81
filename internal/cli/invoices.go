package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/service"
)

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Manage invoices",
	Long:  `Create, send, collect and manage invoices.`,
}

var invoicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List invoices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		status, _ := cmd.Flags().GetString("status")
		client, _ := cmd.Flags().GetString("client")

		views, err := appInstance.InvoiceService.List(ctx, service.ListFilter{Status: status, Client: client})
		if err != nil {
			return fmt.Errorf("failed to list invoices: %w", err)
		}

		if len(views) == 0 {
			fmt.Println("No invoices found")
			return nil
		}

		fmt.Printf("%-15s %-20s %-20s %-12s %14s %-12s\n", "Number", "Client", "Project", "Due", "Amount", "Status")
		fmt.Println("--------------------------------------------------------------------------------------------------")

		for _, v := range views {
			inv := v.Invoice
			status := v.DisplayStatus
			if v.Overdue.IsOverdue {
				status = fmt.Sprintf("%s %dd", status, v.Overdue.DaysOverdue)
			}
			fmt.Printf("%-15s %-20s %-20s %-12s %14s %-12s\n",
				inv.Number,
				truncate(inv.Client, 20),
				truncate(inv.Project, 20),
				inv.DueDate.Format("2006-01-02"),
				money(inv),
				status,
			)
		}

		fmt.Printf("\nTotal: %d invoice(s)\n", len(views))
		return nil
	},
}

var invoicesShowCmd = &cobra.Command{
	Use:   "show [id_or_number]",
	Short: "Show invoice details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := appInstance.InvoiceService.Get(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}
		printInvoice(view)
		return nil
	},
}

var invoicesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new draft invoice",
	Long: `Create a new draft invoice. Items are given as description:quantity:rate.

Example:
  invoicepay invoices create --client "Acme Corp" --email ap@acme.test \
    --project Website --item "Design:1:15000" --item "Build:1:10000"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		in := service.NewInvoiceInput{}
		in.Number, _ = cmd.Flags().GetString("number")
		in.Client, _ = cmd.Flags().GetString("client")
		in.ClientEmail, _ = cmd.Flags().GetString("email")
		in.Project, _ = cmd.Flags().GetString("project")
		in.Description, _ = cmd.Flags().GetString("description")
		in.Currency, _ = cmd.Flags().GetString("currency")

		if s, _ := cmd.Flags().GetString("issue"); s != "" {
			issue, err := parseDate(s)
			if err != nil {
				return fmt.Errorf("invalid issue date: %w", err)
			}
			in.IssueDate = issue
		}
		if s, _ := cmd.Flags().GetString("due"); s != "" {
			due, err := parseDate(s)
			if err != nil {
				return fmt.Errorf("invalid due date: %w", err)
			}
			in.DueDate = due
		}

		raw, _ := cmd.Flags().GetStringArray("item")
		for _, r := range raw {
			item, err := parseItem(r)
			if err != nil {
				return err
			}
			in.Items = append(in.Items, item)
		}

		inv, err := appInstance.InvoiceService.Create(ctx, in)
		if err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}

		fmt.Printf("✓ Draft invoice created: %s\n", inv.Number)
		fmt.Printf("  Client: %s\n", inv.Client)
		fmt.Printf("  Due: %s\n", inv.DueDate.Format("2006-01-02"))
		fmt.Printf("  Total: %s\n", money(inv))
		return nil
	},
}

var invoicesAddItemCmd = &cobra.Command{
	Use:   "add-item [id_or_number] [description] [quantity] [rate]",
	Short: "Add a line item to a draft invoice",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		item := domain.NewLineItem(args[1], args[2], args[3])
		inv, err := appInstance.InvoiceService.AddItem(context.Background(), args[0], item)
		if err != nil {
			return fmt.Errorf("failed to add item: %w", err)
		}

		fmt.Printf("✓ Added %q to %s\n", item.Description, inv.Number)
		fmt.Printf("  Total: %s\n", money(inv))
		return nil
	},
}

var invoicesSetRateCmd = &cobra.Command{
	Use:   "set-rate [id_or_number] [line] [rate]",
	Short: "Change the rate of a line item on a draft invoice",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid line number: %w", err)
		}

		inv, err := appInstance.InvoiceService.SetItemRate(context.Background(), args[0], line-1, args[2])
		if err != nil {
			return fmt.Errorf("failed to set rate: %w", err)
		}

		fmt.Printf("✓ Line %d of %s updated\n", line, inv.Number)
		fmt.Printf("  Total: %s\n", money(inv))
		return nil
	},
}

var invoicesSaveCmd = &cobra.Command{
	Use:   "save [id_or_number]",
	Short: "Edit the details of a draft invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var changes service.DraftChanges
		flags := cmd.Flags()

		str := func(name string) *string {
			if !flags.Changed(name) {
				return nil
			}
			v, _ := flags.GetString(name)
			return &v
		}
		changes.Number = str("number")
		changes.Client = str("client")
		changes.ClientEmail = str("email")
		changes.Project = str("project")
		changes.Description = str("description")

		for name, dst := range map[string]**time.Time{"issue": &changes.IssueDate, "due": &changes.DueDate} {
			if s := str(name); s != nil {
				d, err := parseDate(*s)
				if err != nil {
					return fmt.Errorf("invalid %s date: %w", name, err)
				}
				*dst = &d
			}
		}

		inv, err := appInstance.InvoiceService.SaveDraft(context.Background(), args[0], changes)
		if err != nil {
			return fmt.Errorf("failed to save invoice: %w", err)
		}

		fmt.Printf("✓ Invoice %s saved (%s)\n", inv.Number, money(inv))
		return nil
	},
}

var invoicesSendCmd = &cobra.Command{
	Use:   "send [id_or_number]",
	Short: "Email a draft invoice with a payment link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := appInstance.InvoiceService.Send(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to send invoice: %w", err)
		}

		fmt.Printf("✓ Invoice %s sent to %s\n", inv.Number, inv.ClientEmail)
		fmt.Printf("  Payment link: %s\n", inv.Link())
		return nil
	},
}

var invoicesPayCmd = &cobra.Command{
	Use:   "pay [id_or_number]",
	Short: "Collect payment for a sent invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := appInstance.InvoiceService.Pay(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to collect payment: %w", err)
		}

		switch res.Result {
		case service.Pending:
			fmt.Printf("Payment %s is awaiting confirmation from the processor\n", res.Intent.ID)
		case service.AlreadyPaid:
			fmt.Printf("! Invoice %s was already paid by %s\n", res.Invoice.Number, res.Invoice.PaymentIntentID)
		default:
			fmt.Printf("✓ Invoice %s paid (%s)\n", res.Invoice.Number, domain.FormatMoney(res.Invoice.AmountPaid, res.Invoice.Currency))
		}
		return nil
	},
}

var invoicesDeleteCmd = &cobra.Command{
	Use:   "delete [id_or_number]",
	Short: "Delete an invoice and deactivate its payment link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		confirmed := yes || confirmPrompt(fmt.Sprintf("Delete invoice %s? This cannot be undone.", args[0]))

		err := appInstance.InvoiceService.Delete(context.Background(), args[0], confirmed)
		if errors.Is(err, domain.ErrConfirmationRequired) {
			fmt.Println("Cancelled.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to delete invoice: %w", err)
		}

		fmt.Printf("✓ Invoice %s deleted\n", args[0])
		return nil
	},
}

var invoicesPDFCmd = &cobra.Command{
	Use:   "pdf [id_or_number]",
	Short: "Render an invoice as PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := appInstance.InvoiceService.GeneratePDF(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to generate PDF: %w", err)
		}

		fmt.Printf("✓ Generated %s\n", doc.Filename)
		fmt.Printf("  %s\n", doc.URL)
		return nil
	},
}

var invoicesLinkCmd = &cobra.Command{
	Use:   "link [id_or_number]",
	Short: "Replace the payment link of a sent invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := appInstance.InvoiceService.RegenerateLink(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to regenerate link: %w", err)
		}

		fmt.Printf("✓ New payment link for %s\n", inv.Number)
		fmt.Printf("  %s\n", inv.Link())
		return nil
	},
}

var invoicesExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export all invoices as JSON (stdout when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var w io.Writer = os.Stdout
		if len(args) == 1 {
			f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			defer f.Close()
			w = f
		}

		n, err := service.ExportJSON(context.Background(), appInstance.InvoiceRepo, w)
		if err != nil {
			return fmt.Errorf("failed to export invoices: %w", err)
		}
		if len(args) == 1 {
			fmt.Printf("✓ Exported %d invoice(s) to %s\n", n, args[0])
		}
		return nil
	},
}

var invoicesImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import invoices from a JSON export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()

		res, err := service.ImportJSON(context.Background(), appInstance.InvoiceRepo, f)
		if err != nil {
			return fmt.Errorf("failed to import invoices: %w", err)
		}

		fmt.Printf("✓ Imported %d invoice(s), skipped %d already present\n", res.Imported, res.Skipped)
		return nil
	},
}

func init() {
	invoicesCmd.AddCommand(invoicesListCmd)
	invoicesCmd.AddCommand(invoicesShowCmd)
	invoicesCmd.AddCommand(invoicesCreateCmd)
	invoicesCmd.AddCommand(invoicesAddItemCmd)
	invoicesCmd.AddCommand(invoicesSetRateCmd)
	invoicesCmd.AddCommand(invoicesSaveCmd)
	invoicesCmd.AddCommand(invoicesSendCmd)
	invoicesCmd.AddCommand(invoicesPayCmd)
	invoicesCmd.AddCommand(invoicesDeleteCmd)
	invoicesCmd.AddCommand(invoicesPDFCmd)
	invoicesCmd.AddCommand(invoicesLinkCmd)
	invoicesCmd.AddCommand(invoicesExportCmd)
	invoicesCmd.AddCommand(invoicesImportCmd)

	// List flags
	invoicesListCmd.Flags().String("client", "", "Filter by client name")
	invoicesListCmd.Flags().String("status", "", "Filter by status (draft, sent, overdue, paid)")

	// Create and save flags
	for _, c := range []*cobra.Command{invoicesCreateCmd, invoicesSaveCmd} {
		c.Flags().String("number", "", "Invoice number (generated when empty)")
		c.Flags().String("client", "", "Client name")
		c.Flags().String("email", "", "Client email address")
		c.Flags().String("project", "", "Project name")
		c.Flags().String("description", "", "Notes shown on the invoice")
		c.Flags().String("issue", "", "Issue date (defaults to today)")
		c.Flags().String("due", "", "Due date (defaults to the configured number of days after issue)")
	}
	invoicesCreateCmd.Flags().String("currency", "", "Currency code (defaults to config)")
	invoicesCreateCmd.Flags().StringArray("item", nil, "Line item as description:quantity:rate (repeatable)")
	invoicesCreateCmd.MarkFlagRequired("client")
	invoicesCreateCmd.MarkFlagRequired("project")

	// Delete flags
	invoicesDeleteCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
}
