package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// SwitchScreenMsg requests a screen change
type SwitchScreenMsg struct {
	Screen Screen
}

// RefreshDataMsg requests data refresh
type RefreshDataMsg struct{}

// ErrorMsg carries error information
type ErrorMsg struct {
	Err error
}

// OpenNewInvoiceFormMsg tells the invoices screen to open the new invoice form
type OpenNewInvoiceFormMsg struct{}

// firstRunCheckMsg reports whether the store has any invoices
type firstRunCheckMsg struct {
	hasInvoices bool
}

// refreshTickMsg re-projects overdue state while a screen stays open
type refreshTickMsg struct{}

const refreshInterval = time.Minute

func tickRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}
