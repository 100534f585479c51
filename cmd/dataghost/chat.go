// Interactive chat over the ask pipeline using bubbletea.
package main

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dataghost/internal/types"
)

const chatHelp = `Commands:

  /help   show this help
  /clear  clear the transcript
  /quit   exit (also /exit, Ctrl+C, Esc)

Ask anything about the loaded dataset. When a clarification is needed,
answer with key=value pairs, e.g. "metric=revenue".`

type chatEntry struct {
	role   string // "you", "ghost", or "error"
	text   string
	result *types.AskResult
}

type answerMsg struct {
	question string
	result   *types.AskResult
	err      error
}

type chatModel struct {
	app      *app
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	styles   renderStyles

	history        []chatEntry
	conversationID string
	// pendingQuestion holds the question whose answer asked for
	// clarification, so a key=value reply resumes it.
	pendingQuestion string
	isLoading       bool
	ready           bool
	width           int
	height          int
}

func startChat(a *app) error {
	program := tea.NewProgram(newChatModel(a), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func newChatModel(a *app) chatModel {
	styles := newRenderStyles()

	ti := textinput.New()
	ti.Placeholder = "Ask about your data... (Enter to send, /quit to exit)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 512
	ti.Width = 80
	ti.PromptStyle = styles.Prompt

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Label

	vp := viewport.New(80, 20)
	vp.SetContent("")

	return chatModel{
		app:      a,
		input:    ti,
		viewport: vp,
		spinner:  sp,
		styles:   styles,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if !m.isLoading {
				return m.handleSubmit()
			}
		}
		if !m.isLoading {
			m.input, tiCmd = m.input.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 2
		inputHeight := 3
		footerHeight := 1
		if !m.ready {
			m.viewport = viewport.New(msg.Width-2, msg.Height-headerHeight-inputHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 2
			m.viewport.Height = msg.Height - headerHeight - inputHeight - footerHeight
		}
		m.input.Width = msg.Width - 6
		m.viewport.SetContent(m.renderHistory())

	case spinner.TickMsg:
		if m.isLoading {
			var spCmd tea.Cmd
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case answerMsg:
		m.isLoading = false
		if msg.err != nil {
			m.history = append(m.history, chatEntry{role: "error", text: msg.err.Error()})
		} else {
			m.conversationID = msg.result.ConversationID
			if msg.result.NeedsClarification {
				m.pendingQuestion = msg.question
			} else {
				m.pendingQuestion = ""
			}
			m.history = append(m.history, chatEntry{role: "ghost", result: msg.result})
		}
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return m, nil
	}
	if strings.HasPrefix(line, "/") {
		return m.handleCommand(line)
	}

	question := line
	var clarifications map[string]string
	if m.pendingQuestion != "" {
		if parsed, ok := inlineClarifications(line); ok {
			question = m.pendingQuestion
			clarifications = parsed
		}
	}

	m.history = append(m.history, chatEntry{role: "you", text: line})
	m.input.Reset()
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
	m.isLoading = true

	return m, tea.Batch(m.spinner.Tick, m.askCmd(question, clarifications))
}

func (m chatModel) handleCommand(line string) (tea.Model, tea.Cmd) {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit", "/q":
		return m, tea.Quit

	case "/clear":
		m.history = nil
		m.pendingQuestion = ""
		m.input.Reset()
		m.viewport.SetContent("")
		return m, nil

	case "/help":
		m.history = append(m.history, chatEntry{role: "ghost", text: chatHelp})

	default:
		m.history = append(m.history, chatEntry{role: "error", text: "unknown command " + line + ", try /help"})
	}

	m.input.Reset()
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
	return m, nil
}

func (m chatModel) askCmd(question string, clarifications map[string]string) tea.Cmd {
	pipe := m.app.pipe
	conversationID := m.conversationID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		result, err := pipe.Run(ctx, types.AskRequest{
			Question:       question,
			ConversationID: conversationID,
			Clarifications: clarifications,
		})
		return answerMsg{question: question, result: result, err: err}
	}
}

func (m chatModel) renderHistory() string {
	var b strings.Builder
	width := m.viewport.Width
	for _, entry := range m.history {
		switch entry.role {
		case "you":
			b.WriteString(m.styles.Prompt.Render("You"))
			b.WriteString("\n")
			b.WriteString(entry.text)
			b.WriteString("\n\n")
		case "error":
			b.WriteString(m.styles.Error.Render("Error: " + entry.text))
			b.WriteString("\n\n")
		default:
			b.WriteString(m.styles.Section.Render("dataghost"))
			b.WriteString("\n")
			if entry.result != nil {
				b.WriteString(renderAskResult(entry.result, width))
			} else {
				b.WriteString(renderMarkdown(entry.text, width))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m chatModel) View() string {
	if !m.ready {
		return "Starting..."
	}

	body := m.viewport.View()
	if m.isLoading {
		body += "\n" + m.spinner.View() + m.styles.Muted.Render(" thinking...")
	}

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorAccent).
		Padding(0, 1)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderChatHeader(),
		body,
		inputStyle.Render(m.input.View()),
		m.styles.Muted.Render("Enter to send · /help for commands · /quit to exit"),
	)
}

func (m chatModel) renderChatHeader() string {
	title := m.styles.Headline.Render("dataghost")
	badge := m.styles.Badge.Background(colorAccent).Render("v" + version)

	var status string
	if m.isLoading {
		status = lipgloss.NewStyle().Foreground(colorMedium).Render("● working")
	} else {
		status = lipgloss.NewStyle().Foreground(colorHigh).Render("● ready")
	}

	line := lipgloss.JoinHorizontal(lipgloss.Center, title, " ", badge, "  ", status)

	divider := ""
	if m.width > 0 {
		divider = m.styles.Muted.Render(strings.Repeat("─", m.width))
	}
	return lipgloss.JoinVertical(lipgloss.Left, line, divider)
}

// inlineClarifications parses a reply like "metric=revenue time_column=date".
// Every field must be a key=value pair for the line to count as one.
func inlineClarifications(line string) (map[string]string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}
	out := make(map[string]string, len(fields))
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" || value == "" {
			return nil, false
		}
		out[key] = value
	}
	return out, true
}
