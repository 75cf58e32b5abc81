package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/andy/invoicepay/internal/app"
)

type settingsMode int

const (
	settingsModeView settingsMode = iota
	settingsModeEdit
)

// settings form field indices
const (
	settingsFieldOutputDir = iota
	settingsFieldPrefix
	settingsFieldCurrency
	settingsFieldDueDays
	settingsFieldPartial
	settingsFieldCount
)

type settingsSavedMsg struct {
	err error
}

// SettingsModel manages the settings screen. Saved settings take effect on
// the next start.
type SettingsModel struct {
	app        *app.App
	mode       settingsMode
	fields     []textinput.Model
	fieldFocus int
	err        error
	statusMsg  string
}

// NewSettingsModel creates a new settings screen
func NewSettingsModel(a *app.App) tea.Model {
	return &SettingsModel{
		app:  a,
		mode: settingsModeView,
	}
}

// IsCapturingInput returns true when the edit form is active
func (m *SettingsModel) IsCapturingInput() bool {
	return m.mode == settingsModeEdit
}

func (m *SettingsModel) Init() tea.Cmd {
	return nil
}

func (m *SettingsModel) initForm() {
	cfg := m.app.Config.Invoice
	values := []string{
		cfg.OutputDir,
		cfg.NumberPrefix,
		cfg.Currency,
		strconv.Itoa(cfg.DefaultDueDays),
		strconv.FormatBool(cfg.AcceptPartialPayments),
	}
	placeholders := []string{"/path/to/invoices", "INV", "USD", "30", "false"}
	limits := []int{256, 20, 3, 5, 5}
	widths := []int{60, 20, 10, 10, 10}

	m.fields = make([]textinput.Model, settingsFieldCount)
	for i := range m.fields {
		m.fields[i] = textinput.New()
		m.fields[i].Placeholder = placeholders[i]
		m.fields[i].CharLimit = limits[i]
		m.fields[i].Width = widths[i]
		m.fields[i].SetValue(values[i])
	}

	m.fieldFocus = settingsFieldOutputDir
	m.fields[settingsFieldOutputDir].Focus()
}

func (m *SettingsModel) saveSettings() tea.Cmd {
	return func() tea.Msg {
		outputDir := m.fields[settingsFieldOutputDir].Value()
		prefix := m.fields[settingsFieldPrefix].Value()
		currency := strings.ToUpper(m.fields[settingsFieldCurrency].Value())

		if outputDir == "" {
			return settingsSavedMsg{err: fmt.Errorf("output directory is required")}
		}
		if prefix == "" {
			return settingsSavedMsg{err: fmt.Errorf("invoice prefix is required")}
		}
		if len(currency) != 3 {
			return settingsSavedMsg{err: fmt.Errorf("currency must be a three letter code")}
		}

		dueDays, err := strconv.Atoi(m.fields[settingsFieldDueDays].Value())
		if err != nil || dueDays <= 0 {
			return settingsSavedMsg{err: fmt.Errorf("due days must be a positive number")}
		}

		partial, err := strconv.ParseBool(m.fields[settingsFieldPartial].Value())
		if err != nil {
			return settingsSavedMsg{err: fmt.Errorf("partial payments must be true or false")}
		}

		m.app.Config.Invoice.OutputDir = outputDir
		m.app.Config.Invoice.NumberPrefix = prefix
		m.app.Config.Invoice.Currency = currency
		m.app.Config.Invoice.DefaultDueDays = dueDays
		m.app.Config.Invoice.AcceptPartialPayments = partial

		if err := m.app.SaveConfig(); err != nil {
			return settingsSavedMsg{err: fmt.Errorf("failed to save config: %w", err)}
		}

		return settingsSavedMsg{}
	}
}

func (m *SettingsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.mode == settingsModeEdit {
		return m.updateForm(msg)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.err = nil
		if msg.String() == "enter" {
			m.mode = settingsModeEdit
			m.statusMsg = ""
			m.initForm()
			return m, m.fields[m.fieldFocus].Focus()
		}
	}

	return m, nil
}

func (m *SettingsModel) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case settingsSavedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.mode = settingsModeView
		m.statusMsg = "Settings saved; restart to apply"
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			m.mode = settingsModeView
			m.err = nil
			return m, nil

		case "tab", "down":
			m.fields[m.fieldFocus].Blur()
			m.fieldFocus = (m.fieldFocus + 1) % settingsFieldCount
			return m, m.fields[m.fieldFocus].Focus()

		case "shift+tab", "up":
			m.fields[m.fieldFocus].Blur()
			m.fieldFocus = (m.fieldFocus - 1 + settingsFieldCount) % settingsFieldCount
			return m, m.fields[m.fieldFocus].Focus()

		case "enter":
			if m.fieldFocus == settingsFieldCount-1 {
				return m, m.saveSettings()
			}
			m.fields[m.fieldFocus].Blur()
			m.fieldFocus++
			return m, m.fields[m.fieldFocus].Focus()

		case "ctrl+s":
			return m, m.saveSettings()
		}
	}

	var cmd tea.Cmd
	m.fields[m.fieldFocus], cmd = m.fields[m.fieldFocus].Update(msg)
	return m, cmd
}

func (m *SettingsModel) View() string {
	if m.mode == settingsModeEdit {
		return m.viewForm()
	}
	return m.viewSettings()
}

func (m *SettingsModel) viewSettings() string {
	s := titleStyle.Render("Settings") + "\n\n"

	if m.statusMsg != "" {
		s += lipgloss.NewStyle().Foreground(successColor).
			Render("  "+m.statusMsg) + "\n\n"
	}

	cfg := m.app.Config

	labelStyle := lipgloss.NewStyle().Bold(true).Width(22)
	valueStyle := lipgloss.NewStyle().Foreground(primaryColor)
	row := func(label, value string) string {
		return fmt.Sprintf("  %s %s\n", labelStyle.Render(label), valueStyle.Render(value))
	}

	s += subtitleStyle.Render("  Invoice Settings") + "\n\n"
	s += row("Output Directory:", cfg.Invoice.OutputDir)
	s += row("Number Prefix:", cfg.Invoice.NumberPrefix)
	s += row("Currency:", cfg.Invoice.Currency)
	s += row("Default Due Days:", strconv.Itoa(cfg.Invoice.DefaultDueDays))
	s += row("Partial Payments:", strconv.FormatBool(cfg.Invoice.AcceptPartialPayments))

	s += "\n" + subtitleStyle.Render("  Payments") + "\n\n"
	s += row("Provider:", cfg.Gateway.Provider)
	s += row("Webhook Address:", cfg.Webhook.Addr)
	s += row("Signature Check:", strconv.FormatBool(cfg.Webhook.Secret != ""))

	s += "\n" + helpStyle.Render("  enter: edit invoice settings")

	return s
}

func (m *SettingsModel) viewForm() string {
	s := titleStyle.Render("Edit Settings") + "\n\n"

	labels := []string{"Output Directory:", "Number Prefix:", "Currency:", "Default Due Days:", "Accept Partial Payments:"}
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

	s += helpStyle.Render("  tab/shift+tab: navigate fields  ctrl+s: save  enter: next/save  esc: cancel")

	return s
}
