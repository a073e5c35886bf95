// Package chatui is an interactive terminal chat over the query service.
package chatui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/ragchat/internal/query"
)

// Asker answers chat turns.
type Asker interface {
	Ask(ctx context.Context, req query.Request) (*query.Response, error)
}

type turn struct {
	query     string
	response  string
	sources   int
	scores    []float64
	latency   time.Duration
	noContext bool
	failed    bool
	pending   bool
}

type answerMsg struct {
	resp    *query.Response
	latency time.Duration
}

type errMsg struct {
	err error
}

// Model is the bubbletea chat model.
type Model struct {
	ctx      context.Context
	asker    Asker
	user     string
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	turns    []turn
	waiting  bool
	width    int
	quitting bool
}

// NewModel creates a chat model asking on behalf of user.
func NewModel(ctx context.Context, asker Asker, user string) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask about the indexed documents..."
	ti.CharLimit = 1000
	ti.Width = 60
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = dimStyle

	return Model{
		ctx:      ctx,
		asker:    asker,
		user:     user,
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		width:    80,
	}
}

// Run starts the chat program and blocks until the user quits.
func Run(ctx context.Context, asker Asker, user string) error {
	_, err := tea.NewProgram(NewModel(ctx, asker, user), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		resp, err := m.asker.Ask(m.ctx, query.Request{Query: q, UserName: m.user})
		if err != nil {
			return errMsg{err: err}
		}
		return answerMsg{resp: resp, latency: time.Since(start)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.waiting {
				return m, nil
			}
			m.waiting = true
			m.turns = append(m.turns, turn{query: q, pending: true})
			m.input.SetValue("")
			m.refresh()
			return m, tea.Batch(m.ask(q), m.spinner.Tick)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-5, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case answerMsg:
		m.finish(func(t *turn) {
			t.response = msg.resp.Response
			t.sources = len(msg.resp.Sources)
			t.noContext = msg.resp.NoContext
			t.latency = msg.latency
			for _, p := range msg.resp.Sources {
				t.scores = append(t.scores, float64(p.Score))
			}
		})
		return m, nil

	case errMsg:
		m.finish(func(t *turn) {
			t.response = msg.err.Error()
			t.failed = true
		})
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var inputCmd, vpCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(inputCmd, vpCmd)
}

func (m *Model) finish(fill func(*turn)) {
	m.waiting = false
	if n := len(m.turns); n > 0 && m.turns[n-1].pending {
		t := &m.turns[n-1]
		t.pending = false
		fill(t)
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTurns())
	m.viewport.GotoBottom()
}

func (m Model) renderTurns() string {
	if len(m.turns) == 0 {
		return dimStyle.Render("No messages yet.")
	}

	wrap := textStyle.Width(max(m.width-6, 20))
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(userStyle.Render("You: ") + textStyle.Render(t.query) + "\n")

		switch {
		case t.pending:
			b.WriteString(botStyle.Render("Bot: ") + m.spinner.View() + dimStyle.Render(" thinking") + "\n")
			continue
		case t.failed:
			b.WriteString(botStyle.Render("Bot: ") + errorStyle.Render(t.response) + "\n")
			continue
		case t.noContext:
			b.WriteString(botStyle.Render("Bot: ") + warningStyle.Render(t.response) + "\n")
		default:
			b.WriteString(botStyle.Render("Bot: ") + wrap.Render(t.response) + "\n")
		}

		b.WriteString(dimStyle.Render("     "+FormatSources(t.sources)+" · "+FormatLatency(t.latency)) + "\n")
		if spark := scoreSparkline(t.scores); spark != "" {
			b.WriteString(spark + "\n")
		}
	}
	return b.String()
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	title := " ragchat "
	if m.user != "" {
		title += "· " + m.user + " "
	}
	return headerStyle.Render(title) + "\n" +
		m.viewport.View() + "\n" +
		m.input.View() + "\n" +
		footerStyle.Render("[enter] ask  [esc] quit")
}
