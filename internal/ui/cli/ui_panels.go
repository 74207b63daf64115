package cli

import (
	"fmt"
	"strings"
	"time"

	"synsched/internal/core/ports"
)

func renderHelp(m model) string {
	keys := "Keys: tab panel | / filter | f focus | r reset | space pause | q quit"
	if m.mode == panelScheduler {
		keys = "Keys: tab panel | space pause | q quit"
	}
	if m.paused {
		keys += " | PAUSED"
	}
	return statusStyle.Render(keys)
}

func renderSummary(m model) string {
	current, stale, unavailable := 0, 0, 0
	for _, doc := range m.docs {
		switch {
		case doc.Schedule.Unavailable:
			unavailable++
		case doc.Schedule.HasTree && doc.Schedule.InstalledVersion == doc.Version:
			current++
		default:
			stale++
		}
	}
	if stale == 0 && unavailable == 0 {
		return successStyle.Render("All trees current")
	}
	parts := []string{pendingStyle.Render(fmt.Sprintf("%d pending", stale))}
	if unavailable > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d unavailable", unavailable)))
	}
	parts = append(parts, successStyle.Render(fmt.Sprintf("%d current", current)))
	return strings.Join(parts, " | ")
}

func renderDocumentPanel(m model) string {
	return m.docList.View() + "\n\n" + renderDocumentDetails(m)
}

func renderDocumentDetails(m model) string {
	doc, ok := m.selectedDocument()
	if !ok {
		return statusStyle.Render("No documents open.")
	}
	s := doc.Schedule
	lines := []string{
		fmt.Sprintf("Document %d: %s", doc.ID, doc.Path),
		fmt.Sprintf("  Language: %s | Tier: %s | Hotness: %s | Size: %d bytes", doc.Language, s.Tier, s.Hotness, doc.Size),
		fmt.Sprintf("  Version: %d | Epoch: %d | Viewport: [%d, %d)", doc.Version, s.Epoch, doc.Viewport.Start, doc.Viewport.End),
		"  Tree: " + treeSummary(doc),
	}
	if s.Pending != nil {
		lines = append(lines, fmt.Sprintf("  Pending edit: v%d -> v%d", s.Pending.BaseVersion, s.Pending.Version))
	}
	if s.SinceVisible > 0 && !doc.Focused {
		lines = append(lines, fmt.Sprintf("  Last visible: %s ago", s.SinceVisible.Round(time.Millisecond)))
	}
	for _, lane := range s.Lanes {
		line := fmt.Sprintf("  %-10s", lane.Lane.String())
		if lane.Active != 0 {
			line += fmt.Sprintf(" running task %v", lane.Active)
		} else {
			line += " idle"
		}
		if lane.Failures > 0 {
			line += fmt.Sprintf(" | %d failures, cooldown %s", lane.Failures, lane.Cooldown.Round(time.Millisecond))
		}
		lines = append(lines, line)
	}
	if s.LastError != nil {
		lines = append(lines, errorStyle.Render("  Last error: "+s.LastError.Error()))
	}
	return strings.Join(lines, "\n")
}

func treeSummary(doc ports.DocumentView) string {
	s := doc.Schedule
	switch {
	case s.Unavailable:
		return errorStyle.Render("grammar unavailable")
	case !s.HasTree:
		return pendingStyle.Render("none yet")
	case s.InstalledVersion == doc.Version:
		summary := fmt.Sprintf("v%d from %s lane", s.InstalledVersion, s.InstalledLane)
		if doc.TreeHasError {
			summary += " (syntax errors)"
		}
		return successStyle.Render(summary)
	default:
		return pendingStyle.Render(fmt.Sprintf("v%d from %s lane, behind by %d", s.InstalledVersion, s.InstalledLane, doc.Version-s.InstalledVersion))
	}
}

func renderSchedulerPanel(m model) string {
	c := m.stats.Counters
	lines := []string{
		fmt.Sprintf("Scheduler %s", m.stats.ID),
		fmt.Sprintf("  Documents: %d | Running: %d | Ready: %d | Limit: %d", m.stats.Documents, m.stats.Running, m.stats.Ready, m.stats.Limit),
		fmt.Sprintf("  Tasks: launched=%d collected=%d installed=%d discarded=%d failed=%d timed_out=%d",
			c.Launched, c.Collected, c.Installed, c.Discarded, c.Failed, c.TimedOut),
		"",
		"Timing",
	}
	if len(m.stats.Timing) == 0 {
		lines = append(lines, statusStyle.Render("  No parses measured yet."))
	}
	for _, e := range m.stats.Timing {
		injections := ""
		if e.Key.Injections {
			injections = "+inj"
		}
		lines = append(lines, fmt.Sprintf("  %-10s %-6s %-11s %-4s avg %-10s timeouts %.2f  n=%d",
			e.Key.Language, e.Key.Tier, e.Key.Class, injections, e.EMA.Round(time.Microsecond), e.TimeoutRate, e.Samples))
	}
	return strings.Join(lines, "\n")
}
