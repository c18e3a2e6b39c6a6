package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/japaniel/sragetl/pkg/assistant"
)

// Asker is the TUI-facing subset of the assistant.
type Asker interface {
	Ask(ctx context.Context, question string) (*assistant.Reply, error)
}

// AskTimeout bounds one question, language model included.
const AskTimeout = 60 * time.Second

type turn struct {
	question string
	reply    *assistant.Reply
	err      error
}

type replyMsg turn

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	asker    Asker
	input    textinput.Model
	viewport viewport.Model
	turns    []turn
	summary  string
	status   string
	waiting  bool
	ready    bool
}

// New creates a chat model. summary is shown under the header.
func New(asker Asker, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Pergunte sobre os dados de SRAG e pressione Enter"
	ti.Focus()
	ti.CharLimit = 500
	return Model{
		asker:    asker,
		input:    ti,
		viewport: viewport.New(0, 0),
		summary:  summary,
		status:   "Pronto. Ctrl+C para sair.",
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), AskTimeout)
		defer cancel()
		reply, err := m.asker.Ask(ctx, question)
		return replyMsg{question: question, reply: reply, err: err}
	}
}

// Update handles window, key and reply events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 3 + ih // header, summary, status
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil
	case replyMsg:
		m.waiting = false
		m.turns = append(m.turns, turn(msg))
		switch {
		case msg.err != nil:
			m.status = "Erro: " + msg.err.Error()
		case msg.reply.Generated:
			m.status = fmt.Sprintf("Resposta gerada (confiança %.2f)", msg.reply.Confidence)
		default:
			m.status = fmt.Sprintf("Resposta dos documentos (confiança %.2f)", msg.reply.Confidence)
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.waiting {
				return m, nil
			}
			m.input.Reset()
			m.waiting = true
			m.status = "Consultando..."
			return m, m.ask(q)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the header, transcript, input and status line.
func (m Model) View() string {
	if !m.ready {
		return "Carregando..."
	}
	header := headerStyle.Render("SRAG DATASUS - Assistente")
	summary := dimStyle.Render(m.summary)
	status := statusStyle.Render(m.status)
	return header + "\n" + summary + "\n" + transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return "Nenhuma pergunta ainda."
	}
	var sb strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(questionStyle.Render("Você: " + t.question))
		sb.WriteString("\n")
		if t.err != nil {
			sb.WriteString(errorStyle.Render(t.err.Error()))
			continue
		}
		sb.WriteString(t.reply.Answer.Answer)
		for _, s := range t.reply.Sources {
			sb.WriteString("\n")
			sb.WriteString(dimStyle.Render(fmt.Sprintf("  fonte #%d %s (similaridade %.3f)", s.ID, describe(s.Metadata), s.Similarity)))
		}
	}
	return sb.String()
}

func describe(meta map[string]any) string {
	var parts []string
	for _, k := range []string{"source", "topic", "year"} {
		if v, ok := meta[k]; ok {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, "/")
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
