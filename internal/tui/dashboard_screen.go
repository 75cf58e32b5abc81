package tui

import (
	"context"
	"fmt"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/andy/invoicepay/internal/app"
	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/service"
)

// DashboardModel represents the dashboard home screen
type DashboardModel struct {
	app *app.App

	summary *service.Summary
	overdue []*service.View

	loading bool
	err     error
}

type dashboardDataMsg struct {
	summary *service.Summary
	overdue []*service.View
	err     error
}

// NewDashboardModel creates a new dashboard model
func NewDashboardModel(a *app.App) tea.Model {
	return &DashboardModel{
		app:     a,
		loading: true,
	}
}

func (m *DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.loadData(), tickRefresh())
}

func (m *DashboardModel) loadData() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()

		summary, err := m.app.ReportService.GetSummary(ctx)
		if err != nil {
			return dashboardDataMsg{err: fmt.Errorf("summary: %w", err)}
		}

		overdue, err := m.app.InvoiceService.List(ctx, service.ListFilter{Status: "overdue"})
		if err != nil {
			return dashboardDataMsg{err: fmt.Errorf("overdue invoices: %w", err)}
		}
		sort.Slice(overdue, func(i, j int) bool {
			return overdue[i].Overdue.DaysOverdue > overdue[j].Overdue.DaysOverdue
		})

		return dashboardDataMsg{summary: summary, overdue: overdue}
	}
}

func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		m.loading = false
		m.err = msg.err
		m.summary = msg.summary
		m.overdue = msg.overdue
		return m, nil

	case refreshTickMsg:
		return m, tea.Batch(m.loadData(), tickRefresh())

	case RefreshDataMsg:
		m.loading = true
		return m, m.loadData()
	}

	return m, nil
}

func (m *DashboardModel) View() string {
	if m.loading {
		return "Loading dashboard..."
	}

	if m.err != nil {
		return lipgloss.NewStyle().Foreground(errorColor).
			Render(fmt.Sprintf("Error: %v", m.err))
	}

	currency := m.app.Config.Invoice.Currency
	sum := m.summary

	var s string
	s += fmt.Sprintf("  Drafts:       %-4d %14s\n", sum.Counts["draft"], amountStyle.Render(domain.FormatMoney(sum.Drafted, currency)))
	s += fmt.Sprintf("  Outstanding:  %-4d %14s\n", sum.Counts["sent"]+sum.Counts["overdue"], amountStyle.Render(domain.FormatMoney(sum.Outstanding, currency)))
	s += fmt.Sprintf("  Overdue:      %-4d %14s\n", sum.Counts["overdue"], overdueStyle.Render(domain.FormatMoney(sum.Overdue, currency)))
	s += fmt.Sprintf("  Collected:    %-4d %14s\n", sum.Counts["paid"], amountStyle.Render(domain.FormatMoney(sum.Collected, currency)))

	s += "\n" + m.renderOverdue()
	return s
}

func (m *DashboardModel) renderOverdue() string {
	header := "  Overdue Invoices\n"
	if len(m.overdue) == 0 {
		return header + subtitleStyle.Render("  Nothing overdue") + "\n"
	}

	s := header
	limit := 8
	if len(m.overdue) < limit {
		limit = len(m.overdue)
	}

	for _, v := range m.overdue[:limit] {
		inv := v.Invoice
		s += fmt.Sprintf("  %-14s %-20s %12s  %s\n",
			inv.Number,
			truncateStr(inv.Client, 20),
			domain.FormatMoney(inv.Amount, inv.Currency),
			statusBadge(v),
		)
	}
	if len(m.overdue) > limit {
		s += subtitleStyle.Render(fmt.Sprintf("  and %d more", len(m.overdue)-limit)) + "\n"
	}

	return s
}
