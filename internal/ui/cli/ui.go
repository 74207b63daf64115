package cli

import (
	"context"
	"fmt"
	"time"

	"synsched/internal/core/ports"
	"synsched/internal/engine/scheduler"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type item struct {
	title, desc string
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + i.desc }

type panelMode int

const (
	panelDocuments panelMode = iota
	panelScheduler
)

type model struct {
	ctx      context.Context
	svc      ports.SessionService
	sim      ports.Simulator
	interval time.Duration

	docList    list.Model
	mode       panelMode
	paused     bool
	docs       []ports.DocumentView
	stats      scheduler.Stats
	tick       uint64
	lastUpdate time.Time
	status     string
}

// tickMsg asks the model to advance the session by one tick.
type tickMsg struct{}

type updateMsg struct {
	update ports.Update
	err    error
}

type actionResultMsg struct {
	action string
	doc    scheduler.DocumentID
	err    error
}

func initialModel(ctx context.Context, svc ports.SessionService, sim ports.Simulator, interval time.Duration) model {
	docList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	docList.Title = "Documents"
	docList.SetShowStatusBar(false)
	docList.SetFilteringEnabled(true)

	if interval <= 0 {
		interval = defaultTickInterval
	}
	return model{
		ctx:        ctx,
		svc:        svc,
		sim:        sim,
		interval:   interval,
		docList:    docList,
		mode:       panelDocuments,
		lastUpdate: time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return m.stepCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return handleKeyActions(msg, m)
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		width := msg.Width - h
		height := msg.Height - v - 14
		if height < 5 {
			height = 5
		}
		m.docList.SetSize(width, height)
		return m, nil
	case tickMsg:
		return m, m.stepCmd()
	case updateMsg:
		if msg.err != nil {
			m.status = errorStyle.Render(fmt.Sprintf("Tick failed: %v", msg.err))
		} else {
			m.applyUpdate(msg.update)
		}
		return m, m.scheduleTick()
	case actionResultMsg:
		if msg.err != nil {
			m.status = errorStyle.Render(fmt.Sprintf("%s doc %d failed: %v", msg.action, msg.doc, msg.err))
		} else {
			m.status = statusStyle.Render(fmt.Sprintf("%s doc %d", msg.action, msg.doc))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.docList, cmd = m.docList.Update(msg)
	return m, cmd
}

func (m *model) applyUpdate(update ports.Update) {
	m.docs = update.Documents
	m.stats = update.Scheduler
	m.tick = update.Tick
	m.lastUpdate = update.At

	items := make([]list.Item, 0, len(m.docs))
	for _, doc := range m.docs {
		items = append(items, documentItem(doc))
	}
	m.docList.SetItems(items)
}

func documentItem(doc ports.DocumentView) item {
	marker := ""
	if doc.Focused {
		marker = "* "
	}
	s := doc.Schedule
	state := "no tree"
	switch {
	case s.Unavailable:
		state = "grammar unavailable"
	case s.HasTree && s.InstalledVersion == doc.Version:
		state = "current (" + s.InstalledLane.String() + ")"
	case s.HasTree:
		state = fmt.Sprintf("stale v%d (%s)", s.InstalledVersion, s.InstalledLane)
	}
	return item{
		title: fmt.Sprintf("%s%s", marker, doc.Path),
		desc:  fmt.Sprintf("%s %s %s v%d %s", doc.Language, s.Tier, s.Hotness, doc.Version, state),
	}
}

// stepCmd advances the session off the UI goroutine. With a simulator and
// while not paused it produces editor activity as well.
func (m model) stepCmd() tea.Cmd {
	ctx, svc, sim, paused := m.ctx, m.svc, m.sim, m.paused
	return func() tea.Msg {
		if sim != nil && !paused {
			if err := sim.Step(ctx); err != nil {
				return updateMsg{err: err}
			}
			update, err := svc.Snapshot(ctx)
			return updateMsg{update: update, err: err}
		}
		update, err := svc.Tick(ctx)
		return updateMsg{update: update, err: err}
	}
}

func (m model) scheduleTick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) selectedDocument() (ports.DocumentView, bool) {
	if len(m.docs) == 0 {
		return ports.DocumentView{}, false
	}
	idx := m.docList.Index()
	if idx < 0 || idx >= len(m.docs) {
		idx = 0
	}
	return m.docs[idx], true
}

func (m model) View() string {
	status := statusStyle.Render(fmt.Sprintf("Last update: %v | tick %d | %d documents | %d/%d in flight | %d ready",
		m.lastUpdate.Format("15:04:05"), m.tick, len(m.docs), m.stats.InFlight, m.stats.Limit, m.stats.Ready))

	header := fmt.Sprintf("%s\n%s | %s\n", titleStyle("Syntax Scheduler"), status, renderSummary(m))
	help := renderHelp(m)

	body := renderDocumentPanel(m)
	if m.mode == panelScheduler {
		body = renderSchedulerPanel(m)
	}
	if m.status != "" {
		body += "\n\n" + m.status
	}

	return docStyle.Render(header + "\n" + help + "\n\n" + body)
}
