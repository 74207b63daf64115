package cli

import (
	"context"

	"synsched/internal/engine/scheduler"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

func handleKeyActions(msg tea.KeyMsg, m model) (tea.Model, tea.Cmd) {
	// Let the list own the keyboard while a filter is being typed.
	if m.docList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.docList, cmd = m.docList.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "tab":
		if m.mode == panelDocuments {
			m.mode = panelScheduler
		} else {
			m.mode = panelDocuments
		}
		return m, nil
	case " ", "space":
		m.paused = !m.paused
		return m, nil
	}

	if m.mode != panelDocuments {
		return m, nil
	}

	switch msg.String() {
	case "f":
		doc, ok := m.selectedDocument()
		if !ok {
			return m, nil
		}
		return m, documentActionCmd(m.ctx, "focus", doc.ID, m.svc.Focus)
	case "r":
		doc, ok := m.selectedDocument()
		if !ok {
			return m, nil
		}
		return m, documentActionCmd(m.ctx, "reset", doc.ID, m.svc.Reset)
	}

	var cmd tea.Cmd
	m.docList, cmd = m.docList.Update(msg)
	return m, cmd
}

func documentActionCmd(ctx context.Context, action string, id scheduler.DocumentID, fn func(context.Context, scheduler.DocumentID) error) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{action: action, doc: id, err: fn(ctx, id)}
	}
}
