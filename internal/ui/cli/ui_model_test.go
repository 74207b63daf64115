package cli

import (
	"context"
	"strings"
	"testing"
	"time"

	coreapp "synsched/internal/core/app"

	tea "github.com/charmbracelet/bubbletea"
)

func runCmd(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	return cmd()
}

func TestModel_TickAndPanels(t *testing.T) {
	a := newTestApp(t)
	svc := a.SessionService()
	ctx := context.Background()
	if _, err := svc.OpenContent(ctx, "a.go", "go", []byte("package a\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.OpenContent(ctx, "b.py", "python", []byte("x = 1\n")); err != nil {
		t.Fatal(err)
	}

	m := initialModel(ctx, svc, nil, time.Millisecond)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 60})
	m = updated.(model)

	msg := runCmd(t, m.Init())
	if _, ok := msg.(updateMsg); !ok {
		t.Fatalf("expected updateMsg from Init, got %T", msg)
	}
	updated, next := m.Update(msg)
	state, ok := updated.(model)
	if !ok {
		t.Fatalf("expected model type, got %T", updated)
	}
	if next == nil {
		t.Fatal("expected the next tick to be scheduled")
	}
	if state.tick != 1 || len(state.docList.Items()) != 2 {
		t.Fatalf("expected tick 1 with 2 documents, got tick %d and %d items", state.tick, len(state.docList.Items()))
	}
	if !strings.Contains(state.View(), "Syntax Scheduler") {
		t.Fatal("expected dashboard title in view")
	}

	updated, _ = state.Update(tea.KeyMsg{Type: tea.KeyTab})
	state = updated.(model)
	if state.mode != panelScheduler {
		t.Fatalf("expected scheduler panel after tab, got %v", state.mode)
	}
	if !strings.Contains(state.View(), "Timing") {
		t.Fatal("expected timing section in scheduler panel")
	}

	updated, _ = state.Update(tea.KeyMsg{Type: tea.KeyTab})
	state = updated.(model)
	if state.mode != panelDocuments {
		t.Fatalf("expected documents panel after second tab, got %v", state.mode)
	}

	updated, _ = state.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	state = updated.(model)
	if !state.paused {
		t.Fatal("expected space to pause")
	}
	if !strings.Contains(state.View(), "PAUSED") {
		t.Fatal("expected paused marker in help line")
	}
}

func TestModel_FocusAndResetSelectedDocument(t *testing.T) {
	a := newTestApp(t)
	svc := a.SessionService()
	ctx := context.Background()
	first, _ := svc.OpenContent(ctx, "a.go", "go", []byte("package a\n"))
	second, _ := svc.OpenContent(ctx, "b.go", "go", []byte("package b\n"))

	m := initialModel(ctx, svc, nil, time.Millisecond)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 60})
	m = updated.(model)
	updated, _ = m.Update(runCmd(t, m.Init()))
	m = updated.(model)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(model)
	doc, ok := m.selectedDocument()
	if !ok || doc.ID != second.ID {
		t.Fatalf("expected second document selected, got %+v", doc)
	}

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'f'}})
	m = updated.(model)
	result, ok := runCmd(t, cmd).(actionResultMsg)
	if !ok || result.err != nil || result.doc != second.ID {
		t.Fatalf("unexpected focus result %+v", result)
	}
	updated, _ = m.Update(result)
	m = updated.(model)
	if !strings.Contains(m.status, "focus doc") {
		t.Fatalf("expected status line for focus, got %q", m.status)
	}

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range snap.Documents {
		if d.Focused != (d.ID == second.ID) {
			t.Fatalf("expected focus on %d only, got %+v (first is %d)", second.ID, d, first.ID)
		}
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	result, ok = runCmd(t, cmd).(actionResultMsg)
	if !ok || result.err != nil || result.action != "reset" {
		t.Fatalf("unexpected reset result %+v", result)
	}
}

func TestModel_SimulatorDrivesEditsUntilPaused(t *testing.T) {
	a := newTestApp(t)
	svc := a.SessionService()
	ctx := context.Background()
	if _, err := svc.OpenContent(ctx, "a.go", "go", []byte("package a\n")); err != nil {
		t.Fatal(err)
	}

	m := initialModel(ctx, svc, coreapp.NewSimulator(svc, coreapp.SimulatorOptions{Seed: 1, TypeEvery: 1}), time.Millisecond)
	updated, _ := m.Update(runCmd(t, m.stepCmd()))
	m = updated.(model)
	if m.docs[0].Version != 2 {
		t.Fatalf("expected simulated edit to bump version, got %d", m.docs[0].Version)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	m = updated.(model)
	updated, _ = m.Update(runCmd(t, m.stepCmd()))
	m = updated.(model)
	if m.docs[0].Version != 2 {
		t.Fatalf("expected no edits while paused, got version %d", m.docs[0].Version)
	}
	if m.tick != 2 {
		t.Fatalf("expected the paused step to still tick, got %d", m.tick)
	}
}
