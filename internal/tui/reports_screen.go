package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/andy/invoicepay/internal/app"
	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/service"
)

// ReportsModel shows receivables and monthly revenue
type ReportsModel struct {
	app         *app.App
	revenueYear int

	summary *service.Summary
	monthly map[time.Month]decimal.Decimal

	loading bool
	err     error
}

type reportsDataMsg struct {
	summary *service.Summary
	monthly map[time.Month]decimal.Decimal
	err     error
}

// NewReportsModel creates a new reports screen model
func NewReportsModel(a *app.App) tea.Model {
	return &ReportsModel{
		app:         a,
		revenueYear: time.Now().Year(),
		loading:     true,
	}
}

func (m *ReportsModel) Init() tea.Cmd {
	return m.loadData()
}

func (m *ReportsModel) loadData() tea.Cmd {
	year := m.revenueYear
	return func() tea.Msg {
		ctx := context.Background()

		summary, err := m.app.ReportService.GetSummary(ctx)
		if err != nil {
			return reportsDataMsg{err: err}
		}
		monthly, err := m.app.ReportService.GetRevenueByMonth(ctx, year)
		if err != nil {
			return reportsDataMsg{err: err}
		}
		return reportsDataMsg{summary: summary, monthly: monthly}
	}
}

func (m *ReportsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case RefreshDataMsg:
		m.loading = true
		return m, m.loadData()

	case reportsDataMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.summary = msg.summary
			m.monthly = msg.monthly
		}
		return m, nil

	case tea.KeyMsg:
		if m.loading {
			return m, nil
		}

		switch {
		case key.Matches(msg, DefaultKeyMap.Left), msg.String() == "[":
			m.revenueYear--
			m.loading = true
			return m, m.loadData()

		case key.Matches(msg, DefaultKeyMap.Right), msg.String() == "]":
			if m.revenueYear < time.Now().Year() {
				m.revenueYear++
				m.loading = true
				return m, m.loadData()
			}
		}
	}

	return m, nil
}

func (m *ReportsModel) View() string {
	if m.loading {
		return titleStyle.Render("Reports") + "\n\n  Loading..."
	}

	if m.err != nil {
		return titleStyle.Render("Reports") + "\n\n" +
			lipgloss.NewStyle().Foreground(errorColor).Render(fmt.Sprintf("  Error: %v", m.err))
	}

	currency := m.app.Config.Invoice.Currency

	s := titleStyle.Render("Reports") + "\n\n"

	s += lipgloss.NewStyle().Bold(true).Render("  Receivables") + "\n"
	s += fmt.Sprintf("    Outstanding: %s\n", domain.FormatMoney(m.summary.Outstanding, currency))
	s += fmt.Sprintf("    Overdue:     %s\n", domain.FormatMoney(m.summary.Overdue, currency))
	if o := m.summary.OldestOverdue; o != nil {
		s += fmt.Sprintf("    Oldest:      %s, %s (%d days)\n", o.Invoice.Number, o.Invoice.Client, o.Overdue.DaysOverdue)
	}
	s += "\n"

	s += m.renderMonthlyRevenue(currency)

	s += "\n" + helpStyle.Render("  h/l or [/]: prev/next year")

	return s
}

func (m *ReportsModel) renderMonthlyRevenue(currency string) string {
	s := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("  Revenue %d", m.revenueYear)) + "\n"

	peak := decimal.Zero
	total := decimal.Zero
	for _, v := range m.monthly {
		if v.GreaterThan(peak) {
			peak = v
		}
		total = total.Add(v)
	}

	const maxBar = 25
	barStyle := lipgloss.NewStyle().Foreground(primaryColor)

	for month := time.January; month <= time.December; month++ {
		v := m.monthly[month]
		barLen := 0
		if peak.IsPositive() {
			barLen = int(v.Div(peak).Mul(decimal.NewFromInt(maxBar)).IntPart())
		}
		s += fmt.Sprintf("    %-4s %s %12s\n",
			month.String()[:3],
			barStyle.Render(fmt.Sprintf("%-25s", strings.Repeat("█", barLen))),
			domain.FormatMoney(v, currency),
		)
	}

	s += fmt.Sprintf("    %-4s %-25s %12s\n", "", "", amountStyle.Render(domain.FormatMoney(total, currency)))
	return s
}
