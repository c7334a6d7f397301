package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"localchat/internal/domain"
)

type entryRole int

const (
	entryUser entryRole = iota
	entryAssistant
	entrySystem
	entryError
)

type entry struct {
	role     entryRole
	content  string
	rendered string // cached glamour output for assistant entries
}

// ModelDeps are the collaborators injected into the chat model.
type ModelDeps struct {
	Store     domain.HistoryStore
	Generator GenerationService
	ModelName string
	Logger    *slog.Logger
}

// Model is the root Bubble Tea model: a transcript viewport over an input
// area, with a status bar showing the model and a prompt token estimate.
type Model struct {
	deps ModelDeps

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	chatID  domain.ChatID
	title   string
	entries []entry

	// In-flight generation state, driven by bridged events.
	busy          bool
	visible       string
	thinking      bool
	thinkingSince time.Time
	notice        string

	mdRenderer *glamour.TermRenderer

	width    int
	height   int
	quitting bool
}

// New loads the active chat and builds the initial model.
func New(ctx context.Context, deps ModelDeps) (Model, error) {
	chatID, err := deps.Store.Active(ctx)
	if err != nil {
		return Model{}, err
	}
	chat, err := deps.Store.Chat(ctx, chatID)
	if err != nil {
		return Model{}, err
	}

	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Prompt = "> "
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorAccent)

	m := Model{
		deps:    deps,
		input:   ta,
		spinner: sp,
		chatID:  chatID,
	}
	if chat.Title != nil {
		m.title = *chat.Title
	}
	for _, msg := range chat.Messages {
		role := entryUser
		if msg.Role == domain.RoleAssistant {
			role = entryAssistant
		}
		m.entries = append(m.entries, entry{role: role, content: domain.StripThinkTags(msg.Text())})
	}
	return m, nil
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		// Cached markdown renders are width-dependent.
		m.mdRenderer = nil
		for i := range m.entries {
			m.entries[i].rendered = ""
		}
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case DeltaMsg:
		// Raw deltas drive nothing directly; render events carry the
		// displayable state.
		return m, nil

	case RenderMsg:
		m.visible = msg.Update.Visible
		if msg.Update.Thinking && !m.thinking {
			m.thinkingSince = time.Now()
		}
		m.thinking = msg.Update.Thinking
		m.refreshTranscript()
		return m, nil

	case RetryMsg:
		m.notice = fmt.Sprintf("Connection timed out, retrying (%d/%d)...",
			msg.Payload.Attempt, msg.Payload.Max)
		return m, nil

	case CompletedMsg:
		m.finishTurn(entry{role: entryAssistant, content: msg.Payload.Content})
		return m, nil

	case CancelledMsg:
		e := entry{role: entrySystem, content: "Generation stopped."}
		if strings.TrimSpace(msg.Payload.Content) != "" {
			m.entries = append(m.entries, entry{role: entryAssistant, content: msg.Payload.Content})
		}
		m.finishTurn(e)
		return m, nil

	case FailedMsg:
		m.finishTurn(entry{role: entryError, content: msg.Payload.Error})
		return m, nil

	case TitleMsg:
		m.title = msg.Payload.Title
		return m, nil

	case GenerateDoneMsg:
		// Terminal UI state was already settled by the completion,
		// cancellation, or failure event. Log residual errors only.
		if msg.Err != nil {
			m.deps.Logger.Debug("generate returned", "error", msg.Err)
		}
		m.busy = false
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.busy {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.busy {
			m.deps.Generator.Cancel()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEsc:
		if m.busy {
			m.deps.Generator.Cancel()
		}
		return m, nil

	case tea.KeyEnter:
		if msg.Alt {
			break // Alt+Enter inserts a newline via the textarea
		}
		return m.submit()

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if !m.busy {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy {
		return m, nil
	}

	m.input.Reset()
	m.entries = append(m.entries, entry{role: entryUser, content: text})
	m.busy = true
	m.visible = ""
	m.thinking = false
	m.notice = ""
	m.refreshTranscript()

	return m, generateCmd(m.deps.Generator, m.chatID, text)
}

// finishTurn appends the closing entry and resets in-flight state.
func (m *Model) finishTurn(e entry) {
	m.entries = append(m.entries, e)
	m.busy = false
	m.visible = ""
	m.thinking = false
	m.notice = ""
	m.refreshTranscript()
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "  Loading..."
	}

	header := titleStyle.Render(m.headerText())
	inputView := m.input.View()
	if m.busy {
		inputView = m.progressLine()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		inputView,
		m.statusLine(),
	)
}

func (m Model) headerText() string {
	if m.title != "" {
		return m.title
	}
	return "New chat"
}

func (m Model) progressLine() string {
	label := "Generating..."
	if m.thinking {
		label = fmt.Sprintf("Thinking... (%ds)", int(time.Since(m.thinkingSince).Seconds()))
	}
	line := m.spinner.View() + " " + thinkingText.Render(label)
	if m.notice != "" {
		line += "\n" + systemText.Render(m.notice)
	}
	return line
}

func (m Model) statusLine() string {
	var prompt strings.Builder
	for _, e := range m.entries {
		prompt.WriteString(e.content)
		prompt.WriteByte('\n')
	}
	status := fmt.Sprintf("%s | ~%d tokens | Ctrl+C quit, Esc stop",
		m.deps.ModelName, estimateTokens(prompt.String()))
	return statusStyle.Render(status)
}

func (m *Model) layout() {
	headerH := 1
	statusH := 1
	inputH := 3
	contentH := m.height - headerH - statusH - inputH
	if contentH < 3 {
		contentH = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = contentH
	m.input.SetWidth(m.width)
}

// refreshTranscript re-renders the viewport content from the transcript
// plus any in-flight visible text.
func (m *Model) refreshTranscript() {
	var b strings.Builder
	for i := range m.entries {
		b.WriteString(m.renderEntry(&m.entries[i]))
		b.WriteByte('\n')
	}
	if m.busy && m.visible != "" {
		b.WriteString(assistantLabel.Render("assistant"))
		b.WriteByte('\n')
		b.WriteString(m.visible)
		b.WriteByte('\n')
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderEntry(e *entry) string {
	switch e.role {
	case entryUser:
		return userLabel.Render("you") + "\n" + e.content
	case entryAssistant:
		if e.rendered == "" {
			e.rendered = m.renderMarkdown(e.content)
		}
		return assistantLabel.Render("assistant") + "\n" + e.rendered
	case entryError:
		return errorText.Render(e.content)
	default:
		return systemText.Render(e.content)
	}
}

func (m *Model) renderMarkdown(content string) string {
	if m.mdRenderer == nil {
		width := m.width
		if width <= 0 {
			width = 80
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return content
		}
		m.mdRenderer = r
	}
	rendered, err := m.mdRenderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}
