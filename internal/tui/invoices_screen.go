package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/andy/invoicepay/internal/app"
	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/service"
)

type invoiceViewMode int

const (
	invoiceViewList    invoiceViewMode = iota
	invoiceViewDetail                  // Viewing a single invoice
	invoiceViewNew                     // Filling the new invoice form
	invoiceViewConfirm                 // Waiting for y/n before delete
)

// new invoice form field indices
const (
	newFieldClient = iota
	newFieldEmail
	newFieldProject
	newFieldDue
	newFieldItems
	newFieldCount
)

var listFilters = []string{"", "draft", "sent", "overdue", "paid"}

// InvoicesModel displays invoices and drives them through their lifecycle
type InvoicesModel struct {
	app       *app.App
	mode      invoiceViewMode
	views     []*service.View
	cursor    int
	filter    int
	selected  *service.View
	loading   bool
	err       error
	statusMsg string

	fields     []textinput.Model
	fieldFocus int
}

// IsCapturingInput returns true when the new invoice form is active
func (m *InvoicesModel) IsCapturingInput() bool {
	return m.mode == invoiceViewNew
}

type invoicesDataMsg struct {
	views []*service.View
	err   error
}

type invoiceDetailMsg struct {
	view *service.View
	err  error
}

// invoiceActionMsg reports the result of send, pay, delete, pdf or link
type invoiceActionMsg struct {
	status string
	id     string // reload this invoice when set
	err    error
}

// NewInvoicesModel creates a new invoices screen model
func NewInvoicesModel(a *app.App) tea.Model {
	return &InvoicesModel{
		app:     a,
		mode:    invoiceViewList,
		loading: true,
	}
}

func (m *InvoicesModel) Init() tea.Cmd {
	return m.loadInvoices()
}

func (m *InvoicesModel) loadInvoices() tea.Cmd {
	filter := service.ListFilter{Status: listFilters[m.filter]}
	return func() tea.Msg {
		views, err := m.app.InvoiceService.List(context.Background(), filter)
		return invoicesDataMsg{views: views, err: err}
	}
}

func (m *InvoicesModel) loadDetail(id string) tea.Cmd {
	return func() tea.Msg {
		view, err := m.app.InvoiceService.Get(context.Background(), id)
		return invoiceDetailMsg{view: view, err: err}
	}
}

func (m *InvoicesModel) send(id string) tea.Cmd {
	return func() tea.Msg {
		inv, err := m.app.InvoiceService.Send(context.Background(), id)
		if err != nil {
			return invoiceActionMsg{id: id, err: err}
		}
		return invoiceActionMsg{id: id, status: fmt.Sprintf("Invoice %s sent to %s", inv.Number, inv.ClientEmail)}
	}
}

func (m *InvoicesModel) pay(id string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.app.InvoiceService.Pay(context.Background(), id)
		if err != nil {
			return invoiceActionMsg{id: id, err: err}
		}
		switch res.Result {
		case service.Pending:
			return invoiceActionMsg{id: id, status: "Payment is awaiting confirmation from the processor"}
		case service.AlreadyPaid:
			return invoiceActionMsg{id: id, status: fmt.Sprintf("Invoice %s was already paid by another payment", res.Invoice.Number)}
		}
		return invoiceActionMsg{id: id, status: fmt.Sprintf("Invoice %s paid (%s)",
			res.Invoice.Number, domain.FormatMoney(res.Invoice.AmountPaid, res.Invoice.Currency))}
	}
}

func (m *InvoicesModel) delete(id, number string) tea.Cmd {
	return func() tea.Msg {
		if err := m.app.InvoiceService.Delete(context.Background(), id, true); err != nil {
			return invoiceActionMsg{err: err}
		}
		return invoiceActionMsg{status: fmt.Sprintf("Invoice %s deleted", number)}
	}
}

func (m *InvoicesModel) generatePDF(id string) tea.Cmd {
	return func() tea.Msg {
		doc, err := m.app.InvoiceService.GeneratePDF(context.Background(), id)
		if err != nil {
			return invoiceActionMsg{id: id, err: err}
		}
		return invoiceActionMsg{id: id, status: fmt.Sprintf("Generated %s", doc.URL)}
	}
}

func (m *InvoicesModel) regenerateLink(id string) tea.Cmd {
	return func() tea.Msg {
		inv, err := m.app.InvoiceService.RegenerateLink(context.Background(), id)
		if err != nil {
			return invoiceActionMsg{id: id, err: err}
		}
		return invoiceActionMsg{id: id, status: fmt.Sprintf("New payment link: %s", inv.Link())}
	}
}

func (m *InvoicesModel) create() tea.Cmd {
	in := service.NewInvoiceInput{
		Client:      m.fields[newFieldClient].Value(),
		ClientEmail: m.fields[newFieldEmail].Value(),
		Project:     m.fields[newFieldProject].Value(),
	}
	due, dueErr := parseOptionalDate(m.fields[newFieldDue].Value())
	items, itemsErr := parseItems(m.fields[newFieldItems].Value())

	return func() tea.Msg {
		if err := errors.Join(dueErr, itemsErr); err != nil {
			return invoiceActionMsg{err: err}
		}
		in.DueDate = due
		in.Items = items

		inv, err := m.app.InvoiceService.Create(context.Background(), in)
		if err != nil {
			return invoiceActionMsg{err: err}
		}
		return invoiceActionMsg{id: inv.ID, status: fmt.Sprintf("Draft %s created (%s)", inv.Number, domain.FormatMoney(inv.Amount, inv.Currency))}
	}
}

func (m *InvoicesModel) initForm() {
	m.fields = make([]textinput.Model, newFieldCount)
	placeholders := []string{"Client name", "client@example.com", "Project", "YYYY-MM-DD (optional)", "Design:1:1500; Build:10:95"}
	widths := []int{40, 40, 40, 20, 60}

	for i := range m.fields {
		m.fields[i] = textinput.New()
		m.fields[i].Placeholder = placeholders[i]
		m.fields[i].Width = widths[i]
		m.fields[i].CharLimit = 256
	}

	m.fieldFocus = newFieldClient
	m.fields[newFieldClient].Focus()
}

func (m *InvoicesModel) openForm() tea.Cmd {
	m.mode = invoiceViewNew
	m.err = nil
	m.statusMsg = ""
	m.initForm()
	return textinput.Blink
}

func (m *InvoicesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case RefreshDataMsg:
		m.loading = true
		return m, m.loadInvoices()

	case OpenNewInvoiceFormMsg:
		m.loading = false
		return m, m.openForm()

	case invoicesDataMsg:
		m.loading = false
		m.err = msg.err
		m.views = msg.views
		if m.cursor >= len(m.views) {
			m.cursor = max(len(m.views)-1, 0)
		}
		return m, nil

	case invoiceDetailMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.selected = msg.view
		m.mode = invoiceViewDetail
		return m, nil

	case invoiceActionMsg:
		m.loading = false
		if msg.err != nil {
			m.err = errors.New(service.Describe(msg.err))
			if m.mode == invoiceViewConfirm {
				m.mode = invoiceViewDetail
			}
			return m, nil
		}
		m.statusMsg = msg.status
		if msg.id != "" {
			return m, tea.Batch(m.loadInvoices(), m.loadDetail(msg.id))
		}
		m.mode = invoiceViewList
		m.selected = nil
		return m, m.loadInvoices()

	case tea.KeyMsg:
		if m.loading {
			return m, nil
		}

		switch m.mode {
		case invoiceViewList:
			return m.updateList(msg)
		case invoiceViewDetail:
			return m.updateDetail(msg)
		case invoiceViewNew:
			return m.updateForm(msg)
		case invoiceViewConfirm:
			return m.updateConfirm(msg)
		}
	}

	// Forward non-key messages to the focused input (for cursor blink, etc.)
	if m.mode == invoiceViewNew {
		var cmd tea.Cmd
		m.fields[m.fieldFocus], cmd = m.fields[m.fieldFocus].Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *InvoicesModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil

	switch {
	case key.Matches(msg, DefaultKeyMap.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, DefaultKeyMap.Down):
		if m.cursor < len(m.views)-1 {
			m.cursor++
		}
	case key.Matches(msg, DefaultKeyMap.Select):
		if len(m.views) > 0 {
			m.loading = true
			return m, m.loadDetail(m.views[m.cursor].Invoice.ID)
		}
	case key.Matches(msg, DefaultKeyMap.Filter):
		m.filter = (m.filter + 1) % len(listFilters)
		m.cursor = 0
		m.loading = true
		return m, m.loadInvoices()
	case key.Matches(msg, DefaultKeyMap.New):
		return m, m.openForm()
	}

	return m, nil
}

func (m *InvoicesModel) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	inv := m.selected.Invoice
	m.err = nil

	switch {
	case key.Matches(msg, DefaultKeyMap.Back):
		m.mode = invoiceViewList
		m.selected = nil
		m.statusMsg = ""
		return m, nil
	case key.Matches(msg, DefaultKeyMap.Send):
		m.loading = true
		return m, m.send(inv.ID)
	case key.Matches(msg, DefaultKeyMap.Pay):
		m.loading = true
		return m, m.pay(inv.ID)
	case key.Matches(msg, DefaultKeyMap.PDF):
		m.loading = true
		return m, m.generatePDF(inv.ID)
	case key.Matches(msg, DefaultKeyMap.Link):
		m.loading = true
		return m, m.regenerateLink(inv.ID)
	case key.Matches(msg, DefaultKeyMap.Delete):
		m.mode = invoiceViewConfirm
		return m, nil
	}
	return m, nil
}

func (m *InvoicesModel) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, DefaultKeyMap.Confirm) {
		m.loading = true
		return m, m.delete(m.selected.Invoice.ID, m.selected.Invoice.Number)
	}
	m.mode = invoiceViewDetail
	m.statusMsg = "Delete cancelled"
	return m, nil
}

func (m *InvoicesModel) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = invoiceViewList
		m.err = nil
		return m, nil

	case "tab", "down":
		m.fields[m.fieldFocus].Blur()
		m.fieldFocus = (m.fieldFocus + 1) % newFieldCount
		return m, m.fields[m.fieldFocus].Focus()

	case "shift+tab", "up":
		m.fields[m.fieldFocus].Blur()
		m.fieldFocus = (m.fieldFocus - 1 + newFieldCount) % newFieldCount
		return m, m.fields[m.fieldFocus].Focus()

	case "enter":
		if m.fieldFocus == newFieldCount-1 {
			m.loading = true
			return m, m.create()
		}
		m.fields[m.fieldFocus].Blur()
		m.fieldFocus++
		return m, m.fields[m.fieldFocus].Focus()

	case "ctrl+s":
		m.loading = true
		return m, m.create()
	}

	var cmd tea.Cmd
	m.fields[m.fieldFocus], cmd = m.fields[m.fieldFocus].Update(msg)
	return m, cmd
}

func (m *InvoicesModel) View() string {
	if m.loading {
		return "Loading..."
	}

	switch m.mode {
	case invoiceViewDetail, invoiceViewConfirm:
		return m.viewDetail()
	case invoiceViewNew:
		return m.viewForm()
	default:
		return m.viewList()
	}
}

func (m *InvoicesModel) viewMessages() string {
	var s string
	if m.statusMsg != "" {
		s += lipgloss.NewStyle().Foreground(successColor).
			Render("  "+m.statusMsg) + "\n\n"
	}
	if m.err != nil {
		s += lipgloss.NewStyle().Foreground(errorColor).
			Render(fmt.Sprintf("  Error: %v", m.err)) + "\n\n"
	}
	return s
}

func (m *InvoicesModel) viewList() string {
	title := "Invoices"
	if f := listFilters[m.filter]; f != "" {
		title = fmt.Sprintf("Invoices (%s)", f)
	}

	s := titleStyle.Render(title) + "\n\n"
	s += m.viewMessages()

	if len(m.views) == 0 && m.err == nil {
		s += subtitleStyle.Render("  No invoices. Press 'n' to create one.")
		s += "\n\n" + helpStyle.Render("  n: new invoice  f: filter")
		return s
	}

	s += subtitleStyle.Render(fmt.Sprintf(
		"  %-14s  %-20s  %-18s  %-10s  %12s  %s",
		"Number", "Client", "Project", "Due", "Amount", "Status",
	)) + "\n"

	for i, v := range m.views {
		inv := v.Invoice
		line := fmt.Sprintf("  %-14s  %-20s  %-18s  %-10s  %12s  ",
			inv.Number,
			truncateStr(inv.Client, 20),
			truncateStr(inv.Project, 18),
			inv.DueDate.Format("2006-01-02"),
			domain.FormatMoney(inv.Amount, inv.Currency),
		)

		if i == m.cursor {
			s += selectedStyle.Render(line) + statusBadge(v) + "\n"
		} else {
			s += line + statusBadge(v) + "\n"
		}
	}

	s += "\n" + helpStyle.Render("  j/k: navigate  enter: view detail  n: new invoice  f: filter")

	return s
}

func (m *InvoicesModel) viewDetail() string {
	if m.selected == nil {
		return "No invoice selected"
	}
	v := m.selected
	inv := v.Invoice

	s := titleStyle.Render(fmt.Sprintf("Invoice %s", inv.Number)) + "  " + statusBadge(v) + "\n\n"
	s += m.viewMessages()

	s += fmt.Sprintf("  Client:   %s", inv.Client)
	if inv.ClientEmail != "" {
		s += fmt.Sprintf(" <%s>", inv.ClientEmail)
	}
	s += "\n"
	s += fmt.Sprintf("  Project:  %s\n", inv.Project)
	s += fmt.Sprintf("  Issued:   %s\n", inv.IssueDate.Format("Jan 02, 2006"))
	s += fmt.Sprintf("  Due:      %s\n", inv.DueDate.Format("Jan 02, 2006"))
	if inv.PaidDate != nil {
		s += fmt.Sprintf("  Paid:     %s (%s)\n", inv.PaidDate.Format("Jan 02, 2006"), domain.FormatMoney(inv.AmountPaid, inv.Currency))
	}
	if inv.Status == domain.InvoiceStatusSent && inv.Link() != "" {
		s += fmt.Sprintf("  Pay at:   %s\n", inv.Link())
	}
	s += "\n"

	if len(inv.Items) == 0 {
		s += subtitleStyle.Render("  No line items") + "\n"
	} else {
		s += subtitleStyle.Render(fmt.Sprintf(
			"  %-35s  %8s  %12s  %12s",
			"Description", "Qty", "Rate", "Amount",
		)) + "\n"

		for _, item := range inv.Items {
			s += fmt.Sprintf("  %-35s  %8s  %12s  %12s\n",
				truncateStr(item.Description, 35),
				item.Quantity.String(),
				domain.FormatMoney(item.Rate, inv.Currency),
				domain.FormatMoney(item.Amount, inv.Currency),
			)
		}
	}

	s += "\n" + lipgloss.NewStyle().Bold(true).Render(
		fmt.Sprintf("  Total:  %s", domain.FormatMoney(inv.Amount, inv.Currency)),
	) + "\n"

	if m.mode == invoiceViewConfirm {
		s += "\n" + lipgloss.NewStyle().Foreground(warningColor).Render(
			fmt.Sprintf("  Delete invoice %s? This cannot be undone. [y/N]", inv.Number))
		return s
	}

	s += "\n" + helpStyle.Render("  "+detailHelp(inv.Status))
	return s
}

func detailHelp(status domain.InvoiceStatus) string {
	switch status {
	case domain.InvoiceStatusDraft:
		return "s: send  g: pdf  d: delete  esc: back"
	case domain.InvoiceStatusSent:
		return "p: pay  l: new link  g: pdf  d: delete  esc: back"
	}
	return "g: pdf  d: delete  esc: back"
}

func (m *InvoicesModel) viewForm() string {
	s := titleStyle.Render("New Invoice") + "\n\n"

	labels := []string{"Client:", "Email:", "Project:", "Due date:", "Items (description:qty:rate; ...):"}
	for i, label := range labels {
		indicator := "  "
		labelStyle := subtitleStyle
		if i == m.fieldFocus {
			indicator = "> "
			labelStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
		}
		s += fmt.Sprintf("%s%s\n  %s\n\n", indicator, labelStyle.Render(label), m.fields[i].View())
	}

	if m.err != nil {
		s += lipgloss.NewStyle().Foreground(errorColor).
			Render(fmt.Sprintf("  Error: %v", m.err)) + "\n\n"
	}

	s += helpStyle.Render("  tab/shift+tab: navigate fields  ctrl+s: create  enter: next/create  esc: cancel")

	return s
}
