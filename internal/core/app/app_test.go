package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"synsched/internal/core/config"
	"synsched/internal/core/errors"
	"synsched/internal/core/ports"
	"synsched/internal/core/watcher"
	"synsched/internal/engine/parser"
	"synsched/internal/engine/scheduler"
)

func newTestApp(t *testing.T, eng parser.Engine, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	a, err := New(cfg, Deps{Engine: eng})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// tickUntil runs editor ticks until cond holds for doc or the deadline
// passes.
func tickUntil(t *testing.T, a *App, id scheduler.DocumentID, cond func(ports.DocumentView) bool) ports.DocumentView {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		update := a.Tick()
		for _, doc := range update.Documents {
			if doc.ID == id && cond(doc) {
				return doc
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("document %d never reached the expected state", id)
	return ports.DocumentView{}
}

func installed(version uint64) func(ports.DocumentView) bool {
	return func(v ports.DocumentView) bool {
		return v.Schedule.HasTree && v.Schedule.InstalledVersion == version
	}
}

func TestApp_OpenAndTickInstallsTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := newTestApp(t, &parser.MockEngine{}, nil)
	view, err := a.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if view.Language != "go" || view.Version != 1 || !view.Focused {
		t.Fatalf("unexpected view after open: %+v", view)
	}

	again, err := a.Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if again.ID != view.ID {
		t.Fatalf("expected reopen to return doc %d, got %d", view.ID, again.ID)
	}

	got := tickUntil(t, a, view.ID, installed(1))
	if got.Schedule.InstalledLane != scheduler.LaneBackground {
		t.Fatalf("expected background tree, got %s", got.Schedule.InstalledLane)
	}
}

func TestApp_OpenRejectsUnknownLanguage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.unknownext")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := newTestApp(t, &parser.MockEngine{}, nil)
	if _, err := a.Open(path); !errors.IsCode(err, errors.CodeNotSupported) {
		t.Fatalf("expected NOT_SUPPORTED, got %v", err)
	}
	if _, err := a.Open(filepath.Join(dir, "missing.go")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApp_EditIsParsedIncrementally(t *testing.T) {
	eng := &parser.MockEngine{}
	a := newTestApp(t, eng, nil)
	view := a.OpenContent("buffer.py", "python", []byte("def f():\n    return 1\n"))
	tickUntil(t, a, view.ID, installed(1))

	edited, err := a.Edit(ports.EditRequest{Doc: view.ID, Start: 4, OldEnd: 5, Insert: []byte("g")})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Version != 2 {
		t.Fatalf("expected version 2, got %d", edited.Version)
	}
	if edited.Schedule.Pending == nil || edited.Schedule.Pending.BaseVersion != 1 {
		t.Fatalf("expected pending delta from version 1, got %+v", edited.Schedule.Pending)
	}

	tickUntil(t, a, view.ID, installed(2))
	if eng.IncrementalCalls() == 0 {
		t.Fatal("expected the edit to be reparsed incrementally")
	}
}

func TestApp_EditValidation(t *testing.T) {
	a := newTestApp(t, &parser.MockEngine{}, nil)
	view := a.OpenContent("buffer.go", "go", []byte("package x\n"))

	tests := []struct {
		name string
		req  ports.EditRequest
		code errors.ErrorCode
	}{
		{"unknown document", ports.EditRequest{Doc: 99}, errors.CodeNotFound},
		{"negative start", ports.EditRequest{Doc: view.ID, Start: -1, OldEnd: 0}, errors.CodeValidationError},
		{"inverted range", ports.EditRequest{Doc: view.ID, Start: 5, OldEnd: 2}, errors.CodeValidationError},
		{"past end", ports.EditRequest{Doc: view.ID, Start: 0, OldEnd: 100}, errors.CodeValidationError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.Edit(tc.req); !errors.IsCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}

	if got := a.Snapshot().Documents[0].Version; got != 1 {
		t.Fatalf("failed edits must not bump the version, got %d", got)
	}
}

func TestApp_ScrollClampsViewport(t *testing.T) {
	a := newTestApp(t, &parser.MockEngine{}, nil)
	view := a.OpenContent("big.go", "go", bytes.Repeat([]byte("a"), 10000))
	if view.Viewport != (parser.Span{Start: 0, End: DefaultViewportBytes}) {
		t.Fatalf("unexpected initial viewport %v", view.Viewport)
	}

	tests := []struct {
		delta int
		want  parser.Span
	}{
		{1000, parser.Span{Start: 1000, End: 1000 + DefaultViewportBytes}},
		{100000, parser.Span{Start: 10000 - DefaultViewportBytes, End: 10000}},
		{-1000000, parser.Span{Start: 0, End: DefaultViewportBytes}},
	}
	for _, tc := range tests {
		got, err := a.Scroll(view.ID, tc.delta)
		if err != nil {
			t.Fatalf("Scroll(%d): %v", tc.delta, err)
		}
		if got.Viewport != tc.want {
			t.Fatalf("Scroll(%d): expected %v, got %v", tc.delta, tc.want, got.Viewport)
		}
	}
}

func TestApp_FocusAndCloseDocument(t *testing.T) {
	a := newTestApp(t, &parser.MockEngine{}, nil)
	first := a.OpenContent("a.go", "go", []byte("package a\n"))
	second := a.OpenContent("b.go", "go", []byte("package b\n"))

	if err := a.Focus(second.ID); err != nil {
		t.Fatalf("Focus: %v", err)
	}
	update := a.Tick()
	if len(update.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(update.Documents))
	}
	if update.Documents[0].Focused || !update.Documents[1].Focused {
		t.Fatalf("expected only the second document focused: %+v", update.Documents)
	}
	if update.Documents[1].Schedule.Hotness != scheduler.Visible {
		t.Fatalf("expected focused document visible, got %s", update.Documents[1].Schedule.Hotness)
	}

	if err := a.CloseDocument(second.ID); err != nil {
		t.Fatalf("CloseDocument: %v", err)
	}
	snap := a.Snapshot()
	if len(snap.Documents) != 1 || !snap.Documents[0].Focused || snap.Documents[0].ID != first.ID {
		t.Fatalf("expected focus to move to the remaining document: %+v", snap.Documents)
	}
	if _, ok := a.Scheduler().DocumentStats(second.ID); ok {
		t.Fatal("expected closed document evicted from the scheduler")
	}
	if err := a.CloseDocument(second.ID); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND on second close, got %v", err)
	}
	if err := a.Focus(second.ID); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND on focus, got %v", err)
	}
}

func TestApp_HandleChangesBumpsVersion(t *testing.T) {
	a := newTestApp(t, &parser.MockEngine{}, nil)
	view := a.OpenContent("/virtual/main.rs", "rust", []byte("fn main() {}\n"))

	a.HandleChanges([]watcher.Change{
		{Path: "/virtual/main.rs", Content: []byte("fn main() { println!(\"hi\"); }\n")},
		{Path: "/virtual/other.rs", Content: []byte("ignored")},
	})
	snap := a.Snapshot()
	if snap.Documents[0].Version != 2 || snap.Documents[0].Size != len("fn main() { println!(\"hi\"); }\n") {
		t.Fatalf("expected reloaded content at version 2, got %+v", snap.Documents[0])
	}

	a.HandleChanges([]watcher.Change{{Path: "/virtual/main.rs", Removed: true}})
	if got := a.Snapshot().Documents[0].Version; got != 2 {
		t.Fatalf("removal must keep the buffer, got version %d", got)
	}

	tickUntil(t, a, view.ID, installed(2))
}

func TestApp_Reconfigure(t *testing.T) {
	a := newTestApp(t, &parser.MockEngine{}, nil)

	cfg := config.DefaultConfig()
	cfg.Scheduler.MaxConcurrency = 2
	if err := a.Reconfigure(cfg); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if got := a.Scheduler().Stats().Limit; got != 2 {
		t.Fatalf("expected limit 2, got %d", got)
	}

	bad := config.DefaultConfig()
	bad.Tiers.Small.Injections = "sometimes"
	if err := a.Reconfigure(bad); err == nil {
		t.Fatal("expected invalid tier policy to be rejected")
	}
	if a.Config != cfg {
		t.Fatal("rejected config must not replace the active one")
	}
}

func TestTuningFromDefaultConfigMatchesDefaults(t *testing.T) {
	tuning, err := TuningFromConfig(config.DefaultConfig())
	if err != nil {
		t.Fatalf("TuningFromConfig: %v", err)
	}
	if tuning != scheduler.DefaultTuning() {
		t.Fatalf("expected default tuning, got %+v", tuning)
	}
}

func TestLoaderOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	verify := false
	cfg.Grammars.Verify = &verify
	cfg.Injections = []config.Injection{{Host: "markdown", Target: "go", Query: "(code) @injection.content"}}
	disabled := false
	cfg.Languages = map[string]config.Language{"css": {Enabled: &disabled}}

	opts, err := LoaderOptions(cfg, nil)
	if err != nil {
		t.Fatalf("LoaderOptions: %v", err)
	}
	if !opts.SkipVerify {
		t.Fatal("expected verification skipped")
	}
	if len(opts.Injections) != 1 || opts.Injections[0].Host != "markdown" {
		t.Fatalf("unexpected injections %+v", opts.Injections)
	}
	if opts.Registry["css"].Enabled {
		t.Fatal("expected css disabled in registry")
	}
}

func TestHealthService(t *testing.T) {
	eng := &parser.MockEngine{ParseErr: errors.New(errors.CodeGrammarUnavailable, "no grammar")}
	a := newTestApp(t, eng, nil)
	health := NewHealthService(a)

	if status := health.Check(t.Context()); status.Status != "up" {
		t.Fatalf("expected up with no documents, got %+v", status)
	}

	view := a.OpenContent("x.go", "go", []byte("package x\n"))
	tickUntil(t, a, view.ID, func(v ports.DocumentView) bool { return v.Schedule.Unavailable })

	status := health.Check(t.Context())
	if status.Status != "degraded" {
		t.Fatalf("expected degraded status, got %+v", status)
	}
	if status.Components["grammars"] == "ok" {
		t.Fatalf("expected grammar component to report the failure: %+v", status.Components)
	}
}
