package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/andy/invoicepay/internal/app"
	"github.com/andy/invoicepay/internal/service"
)

// Screen represents the current active screen
type Screen int

const (
	ScreenDashboard Screen = iota
	ScreenInvoices
	ScreenReports
	ScreenSettings
)

// String returns the screen name
func (s Screen) String() string {
	switch s {
	case ScreenDashboard:
		return "Dashboard"
	case ScreenInvoices:
		return "Invoices"
	case ScreenReports:
		return "Reports"
	case ScreenSettings:
		return "Settings"
	default:
		return "Unknown"
	}
}

// Model is the root Bubble Tea model
type Model struct {
	app           *app.App
	currentScreen Screen
	width         int
	height        int

	// Screen models (lazy initialized)
	dashboard tea.Model
	invoices  tea.Model
	reports   tea.Model
	settings  tea.Model

	checkedFirstRun bool

	err error
}

// New creates a new root model
func New(a *app.App) Model {
	return Model{
		app:           a,
		currentScreen: ScreenDashboard,
		dashboard:     NewDashboardModel(a),
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.checkFirstRun(), m.dashboard.Init())
}

// checkFirstRun checks whether any invoice exists yet
func (m *Model) checkFirstRun() tea.Cmd {
	return func() tea.Msg {
		views, err := m.app.InvoiceService.List(context.Background(), service.ListFilter{})
		if err != nil {
			return firstRunCheckMsg{hasInvoices: true} // assume yes on error
		}
		return firstRunCheckMsg{hasInvoices: len(views) > 0}
	}
}

func (m *Model) screen(s Screen) *tea.Model {
	switch s {
	case ScreenDashboard:
		return &m.dashboard
	case ScreenInvoices:
		return &m.invoices
	case ScreenReports:
		return &m.reports
	case ScreenSettings:
		return &m.settings
	}
	return nil
}

// initScreen lazy-initializes a screen on first visit,
// and sends a RefreshDataMsg on subsequent visits so screens reload data.
func (m *Model) initScreen(s Screen) tea.Cmd {
	slot := m.screen(s)
	if slot == nil {
		return nil
	}
	if *slot == nil {
		switch s {
		case ScreenDashboard:
			*slot = NewDashboardModel(m.app)
		case ScreenInvoices:
			*slot = NewInvoicesModel(m.app)
		case ScreenReports:
			*slot = NewReportsModel(m.app)
		case ScreenSettings:
			*slot = NewSettingsModel(m.app)
		}
		return (*slot).Init()
	}
	return func() tea.Msg { return RefreshDataMsg{} }
}

// InputCapturer is implemented by screens that capture keyboard input (e.g. text forms).
// When active, global navigation keys are suppressed.
type InputCapturer interface {
	IsCapturingInput() bool
}

func (m *Model) activeScreenCapturingInput() bool {
	slot := m.screen(m.currentScreen)
	if slot == nil {
		return false
	}
	if ic, ok := (*slot).(InputCapturer); ok {
		return ic.IsCapturingInput()
	}
	return false
}

func (m *Model) switchTo(s Screen) tea.Cmd {
	m.currentScreen = s
	return m.initScreen(s)
}

// Update implements tea.Model - routes keys to screens
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		m.err = nil

		// Skip global navigation when a screen is capturing text input
		if !m.activeScreenCapturingInput() {
			switch {
			case key.Matches(msg, DefaultKeyMap.Quit):
				return m, tea.Quit
			case key.Matches(msg, DefaultKeyMap.Dashboard):
				return m, m.switchTo(ScreenDashboard)
			case key.Matches(msg, DefaultKeyMap.Invoices):
				return m, m.switchTo(ScreenInvoices)
			case key.Matches(msg, DefaultKeyMap.Reports):
				return m, m.switchTo(ScreenReports)
			case key.Matches(msg, DefaultKeyMap.Settings):
				return m, m.switchTo(ScreenSettings)
			}
		}

	case firstRunCheckMsg:
		if !m.checkedFirstRun && !msg.hasInvoices {
			m.checkedFirstRun = true
			initCmd := m.switchTo(ScreenInvoices)
			openFormCmd := func() tea.Msg { return OpenNewInvoiceFormMsg{} }
			return m, tea.Sequence(initCmd, openFormCmd)
		}
		m.checkedFirstRun = true
		return m, nil

	case SwitchScreenMsg:
		return m, m.switchTo(msg.Screen)

	case ErrorMsg:
		m.err = msg.Err
		return m, nil
	}

	// Route message to current screen
	var cmd tea.Cmd
	if slot := m.screen(m.currentScreen); slot != nil && *slot != nil {
		*slot, cmd = (*slot).Update(msg)
	}
	return m, cmd
}

// View implements tea.Model - renders header + current screen + footer
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := headerStyle.Render(fmt.Sprintf("invoicepay - %s", m.currentScreen.String()))
	footer := footerStyle.Render("[H]ome  [I]nvoices  [R]eports  [,] Settings  [Q]uit")

	content := "Loading..."
	if slot := m.screen(m.currentScreen); slot != nil && *slot != nil {
		content = (*slot).View()
	}

	errorDisplay := ""
	if m.err != nil {
		errorDisplay = lipgloss.NewStyle().
			Foreground(errorColor).
			Render(fmt.Sprintf("\nError: %s", m.err.Error()))
	}

	innerWidth := m.width - 6 // border (2) + padding (4)
	if innerWidth < 20 {
		innerWidth = 20
	}
	dividerWidth := innerWidth - 12
	if dividerWidth < 10 {
		dividerWidth = 10
	}
	divider := lipgloss.NewStyle().Foreground(borderColor).Render(strings.Repeat("─", dividerWidth))

	body := fmt.Sprintf("%s\n%s\n\n%s%s\n\n%s\n%s", header, divider, content, errorDisplay, divider, footer)

	frame := appBorderStyle.
		Width(innerWidth).
		Height(m.height - 4)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, frame.Render(body))
}

// Run starts the TUI
func Run(a *app.App) error {
	p := tea.NewProgram(New(a), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
