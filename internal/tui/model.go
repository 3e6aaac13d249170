// Package tui is the terminal chat interface behind "kioku talk".
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hyperjump/kioku/internal/models"
)

// Asker answers a question given the conversation so far. *client.Client implements it.
type Asker interface {
	Query(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error)
}

type answerMsg struct {
	resp *models.QueryResponse
	err  error
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	asker    Asker
	timeout  time.Duration
	input    textinput.Model
	viewport viewport.Model
	history  []models.Message
	server   string
	status   string
	pending  bool
	ready    bool
}

// New creates a chat model that sends questions through asker. server is shown in the header.
func New(asker Asker, server string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your notes and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		asker:    asker,
		timeout:  2 * time.Minute,
		input:    ti,
		viewport: viewport.New(0, 0),
		server:   server,
		status:   "Ctrl+C to quit, Ctrl+L to start over.",
	}
}

// History returns the conversation so far.
func (m Model) History() []models.Message {
	return m.history
}

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, resize and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		// header, status and one spacer line
		vh := msg.Height - 3 - th - ih - 1
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh)
		m.refresh()
		return m, nil
	case answerMsg:
		m.pending = false
		if msg.err != nil {
			if errors.Is(msg.err, models.ErrGenerationUnavailable) {
				m.status = models.GenerationFailureMessage
			} else {
				m.status = "Error: " + msg.err.Error()
			}
			return m, nil
		}
		m.history = msg.resp.Messages
		m.status = "Ctrl+C to quit, Ctrl+L to start over."
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyCtrlL:
			if !m.pending {
				m.history = nil
				m.status = "Conversation cleared."
				m.refresh()
			}
			return m, nil
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.pending {
				return m, nil
			}
			m.pending = true
			m.status = "Thinking..."
			m.input.Reset()
			return m, m.ask(q)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(query string) tea.Cmd {
	prior := make([]models.Message, len(m.history))
	copy(prior, m.history)
	asker, timeout := m.asker, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		resp, err := asker.Query(ctx, &models.QueryRequest{Messages: prior, Query: query})
		return answerMsg{resp: resp, err: err}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(renderTranscript(m.history, m.viewport.Width))
	m.viewport.GotoBottom()
}

// View renders the header, transcript, input and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Kioku") + " " + dimStyle.Render(m.server)
	status := statusStyle.Render(m.status)
	return header + "\n" + transcriptStyle.Render(m.viewport.View()) + "\n" + inputStyle.Render(m.input.View()) + "\n" + status
}

func renderTranscript(history []models.Message, width int) string {
	if len(history) == 0 {
		return dimStyle.Render("No messages yet.")
	}
	wrap := lipgloss.NewStyle().Width(max(10, width-4))
	var b strings.Builder
	for i, msg := range history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.Role {
		case models.RoleAssistant:
			b.WriteString(assistantStyle.Render("Kioku:"))
		default:
			b.WriteString(userStyle.Render("You:"))
		}
		b.WriteString("\n")
		b.WriteString(wrap.Render(msg.Content))
	}
	return b.String()
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
