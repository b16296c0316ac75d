package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// ChatPort is the TUI-facing subset of the support service.
type ChatPort interface {
	Query(ctx context.Context, q schema.Query) (*schema.QueryResponse, error)
}

type role int

const (
	roleUser role = iota
	roleAssistant
	roleSystem
)

type line struct {
	role    role
	text    string
	sources []string
}

// answerMsg carries the result of one turn back into Update.
type answerMsg struct {
	resp *schema.QueryResponse
	err  error
	took time.Duration
}

// Model is the Bubble Tea model of the chat client.
type Model struct {
	service  ChatPort
	options  schema.Options
	timeout  time.Duration
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	lines    []line
	status   string
	pending  bool
	ready    bool
}

// New creates a chat model. opts is sent with every message; a fresh message
// id is generated per turn.
func New(service ChatPort, opts schema.Options, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a support question and press Enter"
	ti.Focus()
	ti.CharLimit = 2000
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return Model{
		service:  service,
		options:  opts,
		timeout:  timeout,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		status:   "Ready. Ctrl+C to quit.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := historyBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, status, input box, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.pending {
				return m, nil
			}
			m.input.Reset()
			m.lines = append(m.lines, line{role: roleUser, text: q})
			m.pending = true
			m.status = "Thinking..."
			m.refresh()
			return m, tea.Batch(m.ask(q), m.spinner.Tick)
		}
	case answerMsg:
		m.pending = false
		switch {
		case msg.err != nil:
			m.lines = append(m.lines, line{role: roleSystem, text: "Error: " + msg.err.Error()})
			m.status = "The last message failed. You can send it again."
		case msg.resp == nil:
			m.lines = append(m.lines, line{role: roleSystem, text: "Duplicate message ignored."})
			m.status = "Ready."
		default:
			m.lines = append(m.lines, line{role: roleAssistant, text: msg.resp.Answer, sources: sources(msg.resp)})
			m.status = fmt.Sprintf("Answered in %s, %d context(s).", msg.took.Round(time.Millisecond), len(msg.resp.Matches))
		}
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) ask(text string) tea.Cmd {
	opts := m.options
	opts.MessageID = uuid.NewString()
	svc, timeout := m.service, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		resp, err := svc.Query(ctx, schema.Query{Text: text, Options: opts})
		return answerMsg{resp: resp, err: err, took: time.Since(start)}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Support Assistant")
	status := statusStyle.Render(m.status)
	if m.pending {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" +
		historyBoxStyle.Render(m.viewport.View()) + "\n" +
		inputBoxStyle.Render(m.input.View()) + "\n" +
		status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	if len(m.lines) == 0 {
		return statusStyle.Render("No messages yet.")
	}
	width := max(20, m.viewport.Width-2)
	var b strings.Builder
	for i, l := range m.lines {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch l.role {
		case roleUser:
			b.WriteString(userStyle.Render("You: "))
		case roleAssistant:
			b.WriteString(assistantStyle.Render("Assistant: "))
		default:
			b.WriteString(systemStyle.Render("! "))
		}
		b.WriteString(lipgloss.NewStyle().Width(width).Render(l.text))
		if len(l.sources) > 0 {
			b.WriteString("\n")
			b.WriteString(statusStyle.Render("sources: " + strings.Join(l.sources, ", ")))
		}
	}
	return b.String()
}

// sources lists the distinct sources of the contexts used for an answer.
func sources(resp *schema.QueryResponse) []string {
	seen := make(map[string]struct{}, len(resp.Matches))
	var out []string
	for _, c := range resp.Matches {
		if c.Source == "" {
			continue
		}
		if _, ok := seen[c.Source]; ok {
			continue
		}
		seen[c.Source] = struct{}{}
		out = append(out, c.Source)
	}
	return out
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	historyBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	systemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
