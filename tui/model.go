package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the countdown timer.
type tickMsg time.Time

// state represents the current phase of the login flow.
type state int

const (
	stateInit       state = iota
	stateBrowser          // authorize URL opened or printed
	stateWaiting          // waiting for the browser redirect
	stateExchanging       // trading the code for tokens
	stateSuccess          // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the browser login TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	// Authorization step
	authURL     string
	manualURL   bool
	redirectURL string
	deadline    time.Time
	remaining   time.Duration

	// Success / error display
	tokenPreview string
	expiresIn    time.Duration
	errMsg       string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles, defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("77")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("77")).
			Padding(0, 2)

	styleURLBox = lipgloss.NewStyle().
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 1)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("77"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.state != stateWaiting {
			return m, nil
		}
		m.remaining = max(time.Until(m.deadline), 0)
		if m.remaining > 0 {
			return m, tickAfterSecond()
		}
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Login flow messages ─────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgServerStarted:
		m.redirectURL = msg.RedirectURL
		m.addStatus(statusOK, "Callback server listening on "+msg.RedirectURL)
		return m, nil

	case MsgOpeningBrowser:
		m.authURL = msg.AuthURL
		m.state = stateBrowser
		m.addStatus(statusInfo, "Opening browser...")
		return m, nil

	case MsgBrowserFailed:
		m.authURL = msg.AuthURL
		m.manualURL = true
		m.state = stateBrowser
		m.addStatus(statusWarn, fmt.Sprintf("Failed to open browser: %v", msg.Err))
		return m, nil

	case MsgWaitingForCallback:
		m.deadline = msg.Deadline
		m.remaining = max(time.Until(msg.Deadline), 0)
		m.state = stateWaiting
		return m, tickAfterSecond()

	case MsgCallbackReceived:
		m.addStatus(statusOK, "Authorization code received")
		return m, nil

	case MsgExchanging:
		m.state = stateExchanging
		m.addStatus(statusInfo, "Exchanging code for access token...")
		return m, nil

	case MsgTokenSaved:
		m.addStatus(statusOK, "Tokens saved to "+msg.Path)
		return m, nil

	case MsgDone:
		m.tokenPreview = msg.Preview
		m.expiresIn = msg.ExpiresIn
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while the listener starts, the browser opens, and the
// flow waits for the redirect or exchanges the code.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Envato Authorization  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateBrowser, stateWaiting:
		if m.manualURL {
			b.WriteString(styleBold.Render("Open this URL in your browser to authorize:"))
		} else {
			b.WriteString(styleDim.Render("If the browser did not open, visit:"))
		}
		b.WriteString("\n")
		b.WriteString(styleURLBox.Render(m.authURL))
		b.WriteString("\n\n")

		b.WriteString(m.spinner.View())
		b.WriteString(" Waiting for authentication...")
		if m.state == stateWaiting && m.remaining > 0 {
			b.WriteString("  ")
			b.WriteString(styleDim.Render(formatDuration(m.remaining) + " remaining"))
		}
		b.WriteString("\n")

	case stateExchanging:
		b.WriteString(m.spinner.View())
		b.WriteString(" Exchanging code for access token...\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Starting callback server...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown after a successful login.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ✓ Authentication successful!"))
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("Access Token: "))
	b.WriteString(m.tokenPreview + "\n")

	if m.expiresIn > 0 {
		b.WriteString(styleBold.Render("Expires In:   "))
		b.WriteString(formatDuration(m.expiresIn) + "\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Authentication failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
