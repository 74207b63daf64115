package parser

import (
	"context"
	"strings"
	"testing"
	"time"

	"synsched/internal/shared/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sitter "github.com/tree-sitter/go-tree-sitter"
)

func newTestLoader(t *testing.T) *GrammarLoader {
	t.Helper()
	loader, err := NewGrammarLoader(LoaderOptions{})
	if err != nil {
		t.Fatalf("NewGrammarLoader: %v", err)
	}
	return loader
}

func TestTreeSitterEngine_ParseFull(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	src := []byte("package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n")

	tree, err := engine.Parse(context.Background(), src, "go", newTestLoader(t), Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !tree.Full() || tree.Span() != (Span{Start: 0, End: len(src)}) {
		t.Fatalf("expected full span, got full=%v span=%s", tree.Full(), tree.Span())
	}
	if tree.Root() == nil || tree.HasError() {
		t.Fatalf("expected error-free native tree")
	}
	if tree.Language() != "go" {
		t.Fatalf("unexpected language %q", tree.Language())
	}
	if engine.LeasedParsers() != 0 {
		t.Fatalf("expected parser returned to its pool")
	}
}

func TestTreeSitterEngine_ParseViewport(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	var b strings.Builder
	b.WriteString("package main\n\n")
	for i := 0; i < 200; i++ {
		b.WriteString("func f() { _ = 1 }\n")
	}
	src := []byte(b.String())
	view := Span{Start: 0, End: 120}

	tree, err := engine.Parse(context.Background(), src, "go", newTestLoader(t), Options{Span: &view})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tree.Full() {
		t.Fatal("viewport parse must not claim full coverage")
	}
	if tree.Span() != view {
		t.Fatalf("expected span %s, got %s", view, tree.Span())
	}
	if end := tree.Root().EndByte(); int(end) > view.End {
		t.Fatalf("viewport tree extends past its range: %d", end)
	}
}

func TestTreeSitterEngine_ViewportSpanIsClamped(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	src := []byte("package main\n")
	view := Span{Start: -5, End: 1 << 20}

	tree, err := engine.Parse(context.Background(), src, "go", newTestLoader(t), Options{Span: &view})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tree.Span() != (Span{Start: 0, End: len(src)}) {
		t.Fatalf("expected clamped span, got %s", tree.Span())
	}
}

// steppingClock advances by step on every read.
func steppingClock(step time.Duration) func() time.Time {
	clock := time.Unix(0, 0)
	return func() time.Time {
		clock = clock.Add(step)
		return clock
	}
}

func TestTreeSitterEngine_Timeout(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	engine.now = steppingClock(time.Millisecond)
	src := []byte(strings.Repeat("func f() { _ = 1 }\n", 5000))

	_, err := engine.Parse(context.Background(), src, "go", newTestLoader(t), Options{Timeout: time.Nanosecond})
	if !IsTimeout(err) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if engine.LeasedParsers() != 0 {
		t.Fatal("parser leaked after timeout")
	}
}

func TestTreeSitterEngine_DeadlineFromProgressCallback(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	// The budget outlasts the pre-parse check, so it can only expire from
	// inside the parser's progress callback.
	engine.now = steppingClock(time.Millisecond)
	src := []byte(strings.Repeat("func f() { _ = 1 }\n", 20000))

	_, err := engine.Parse(context.Background(), src, "go", newTestLoader(t), Options{Timeout: 5 * time.Millisecond})
	if !IsTimeout(err) {
		t.Fatalf("expected TIMEOUT from inside the parse, got %v", err)
	}
}

func TestTreeSitterEngine_Cancelled(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Parse(ctx, []byte("package main\n"), "go", newTestLoader(t), Options{})
	if !IsCancelled(err) {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
}

func TestTreeSitterEngine_GrammarUnavailable(t *testing.T) {
	engine := NewTreeSitterEngine(nil)

	_, err := engine.Parse(context.Background(), []byte("IDENTIFICATION DIVISION."), "cobol", newTestLoader(t), Options{})
	if !IsGrammarUnavailable(err) {
		t.Fatalf("expected GRAMMAR_UNAVAILABLE, got %v", err)
	}

	_, err = engine.Parse(context.Background(), []byte("x"), "go", nil, Options{})
	if !IsGrammarUnavailable(err) {
		t.Fatalf("expected GRAMMAR_UNAVAILABLE without a loader, got %v", err)
	}
}

func TestTreeSitterEngine_IncrementalMatchesFullParse(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	loader := newTestLoader(t)
	oldSrc := []byte("package main\n\nfunc a() {}\n")
	insert := "func b() { return }\n"
	newSrc := append(append([]byte(nil), oldSrc...), insert...)

	prev, err := engine.Parse(context.Background(), oldSrc, "go", loader, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	edit := Edit{StartByte: len(oldSrc), OldEndByte: len(oldSrc), NewEndByte: len(newSrc)}
	before := testutil.ToFloat64(observability.IncrementalFallbacksTotal)
	got, err := engine.UpdateIncremental(context.Background(), prev, oldSrc, newSrc, edit, "go", loader, Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("UpdateIncremental: %v", err)
	}
	if after := testutil.ToFloat64(observability.IncrementalFallbacksTotal); after != before {
		t.Fatalf("expected no fallback, counter moved %v -> %v", before, after)
	}

	want, err := engine.Parse(context.Background(), newSrc, "go", loader, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Root().ToSexp() != want.Root().ToSexp() {
		t.Fatalf("incremental tree differs from full parse:\n%s\n%s", got.Root().ToSexp(), want.Root().ToSexp())
	}
	if !got.Full() {
		t.Fatal("incremental result must cover the whole document")
	}

	// The base tree must be untouched by the edit.
	if prev.Root().EndByte() != uint(len(oldSrc)) {
		t.Fatalf("base tree was mutated: ends at %d", prev.Root().EndByte())
	}
}

func TestTreeSitterEngine_IncrementalFallsBackToFullParse(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	loader := newTestLoader(t)
	oldSrc := []byte("package main\n")
	newSrc := []byte("package main\n\nfunc c() {}\n")

	tests := []struct {
		name string
		prev *Tree
		edit Edit
	}{
		{"no native base", NewTree("go", Span{End: len(oldSrc)}, true, false), Edit{StartByte: len(oldSrc), OldEndByte: len(oldSrc), NewEndByte: len(newSrc)}},
		{"nil base", nil, Edit{StartByte: len(oldSrc), OldEndByte: len(oldSrc), NewEndByte: len(newSrc)}},
		{"inconsistent edit", nil, Edit{StartByte: 0, OldEndByte: 1, NewEndByte: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(observability.IncrementalFallbacksTotal)
			tree, err := engine.UpdateIncremental(context.Background(), tt.prev, oldSrc, newSrc, tt.edit, "go", loader, Options{Timeout: time.Second})
			if err != nil {
				t.Fatalf("expected fallback to hide the failure, got %v", err)
			}
			if tree == nil || tree.Root() == nil || tree.HasError() {
				t.Fatal("expected a usable tree from the fallback parse")
			}
			if after := testutil.ToFloat64(observability.IncrementalFallbacksTotal); after != before+1 {
				t.Fatalf("expected fallback counter to increase by one, %v -> %v", before, after)
			}
		})
	}
}

func TestTreeSitterEngine_IncrementalTimeoutDoesNotFallBack(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	loader := newTestLoader(t)
	oldSrc := []byte(strings.Repeat("func f() {}\n", 2000))
	prev, err := engine.Parse(context.Background(), oldSrc, "go", loader, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	newSrc := append([]byte("// x\n"), oldSrc...)
	edit := Edit{StartByte: 0, OldEndByte: 0, NewEndByte: 5}
	engine.now = steppingClock(time.Millisecond)

	_, err = engine.UpdateIncremental(context.Background(), prev, oldSrc, newSrc, edit, "go", loader, Options{Timeout: time.Nanosecond})
	if !IsTimeout(err) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}

func TestTreeSitterEngine_Injections(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	loader := newTestLoader(t)
	src := []byte(`<html><head><style>body { color: red; }</style></head>
<body><script>let x = 1 + 2;</script></body></html>`)

	plain, err := engine.Parse(context.Background(), src, "html", loader, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if plain.Injected() || len(plain.Layers()) != 0 {
		t.Fatal("expected no layers without injections")
	}

	tree, err := engine.Parse(context.Background(), src, "html", loader, Options{Injections: true})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !tree.Injected() {
		t.Fatal("expected tree to be marked as injected")
	}
	got := map[string]Layer{}
	for _, l := range tree.Layers() {
		got[l.Language] = l
	}
	for _, lang := range []string{"javascript", "css"} {
		layer, ok := got[lang]
		if !ok {
			t.Fatalf("missing %s layer, have %v", lang, tree.Layers())
		}
		if layer.Root() == nil || len(layer.Ranges) != 1 {
			t.Fatalf("%s layer: expected one range and a native root", lang)
		}
	}
	js := got["javascript"].Ranges[0]
	if string(src[js.Start:js.End]) != "let x = 1 + 2;" {
		t.Fatalf("unexpected script range %q", src[js.Start:js.End])
	}
}

func TestTreeSitterEngine_InjectionsLimitedToViewport(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	head := "<html><body><script>var a = 1;</script>\n"
	src := []byte(head + strings.Repeat("<p>text</p>\n", 50) + "<style>p { margin: 0; }</style></body></html>")
	view := Span{Start: 0, End: len(head)}

	tree, err := engine.Parse(context.Background(), src, "html", newTestLoader(t), Options{Injections: true, Span: &view})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, l := range tree.Layers() {
		if l.Language == "css" {
			t.Fatal("style outside the viewport must not be injected")
		}
	}
}

type panicLoader struct{}

func (panicLoader) Language(string) (*sitter.Language, error) { panic("boom") }
func (panicLoader) Injections(string) ([]*InjectionQuery, error) {
	return nil, nil
}

func TestTreeSitterEngine_RecoversPanics(t *testing.T) {
	engine := NewTreeSitterEngine(nil)
	tree, err := engine.Parse(context.Background(), []byte("x"), "go", panicLoader{}, Options{})
	if tree != nil || err == nil {
		t.Fatal("expected engine failure from panicking loader")
	}
	if IsTimeout(err) || IsCancelled(err) || IsGrammarUnavailable(err) {
		t.Fatalf("expected ENGINE_FAILURE, got %v", err)
	}
}

func TestPointAt(t *testing.T) {
	src := []byte("ab\ncde\n")
	tests := []struct {
		offset int
		want   sitter.Point
	}{
		{0, sitter.Point{Row: 0, Column: 0}},
		{2, sitter.Point{Row: 0, Column: 2}},
		{3, sitter.Point{Row: 1, Column: 0}},
		{5, sitter.Point{Row: 1, Column: 2}},
		{100, sitter.Point{Row: 2, Column: 0}},
	}
	for _, tt := range tests {
		if got := pointAt(src, tt.offset); got != tt.want {
			t.Errorf("pointAt(%d) = %+v, want %+v", tt.offset, got, tt.want)
		}
	}
}
