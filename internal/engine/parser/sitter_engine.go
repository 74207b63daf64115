package parser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"synsched/internal/shared/observability"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// TreeSitterEngine is the reference Engine. It holds no per-document state;
// parsers are leased from per-grammar pools for the duration of one call.
type TreeSitterEngine struct {
	pools  poolSet
	logger *slog.Logger
	now    func() time.Time
}

func NewTreeSitterEngine(logger *slog.Logger) *TreeSitterEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeSitterEngine{logger: logger, now: time.Now}
}

// LeasedParsers returns the number of parsers currently checked out.
func (e *TreeSitterEngine) LeasedParsers() int {
	return e.pools.leased()
}

func (e *TreeSitterEngine) Parse(ctx context.Context, content []byte, language string, loader Loader, opts Options) (tree *Tree, err error) {
	defer recoverEngine(language, &tree, &err)

	lang, err := loadLanguage(loader, language)
	if err != nil {
		return nil, err
	}
	b := newBudget(ctx, opts.Timeout, e.now)
	return e.build(b, lang, content, nil, language, loader, opts)
}

func (e *TreeSitterEngine) UpdateIncremental(ctx context.Context, prev *Tree, oldContent, newContent []byte, edit Edit, language string, loader Loader, opts Options) (*Tree, error) {
	start := e.now()
	tree, err := e.updateIncremental(ctx, prev, oldContent, newContent, edit, language, loader, opts)
	if err == nil {
		return tree, nil
	}
	if IsTimeout(err) || IsCancelled(err) || IsGrammarUnavailable(err) {
		return nil, err
	}

	e.logger.Warn("incremental update failed, falling back to full parse",
		"language", language,
		"error", err,
	)
	observability.IncrementalFallbacksTotal.Inc()

	if opts.Timeout > 0 {
		remaining := opts.Timeout - e.now().Sub(start)
		if remaining <= 0 {
			return nil, timeoutError(language, opts.Timeout)
		}
		opts.Timeout = remaining
	}
	return e.Parse(ctx, newContent, language, loader, opts)
}

func (e *TreeSitterEngine) updateIncremental(ctx context.Context, prev *Tree, oldContent, newContent []byte, edit Edit, language string, loader Loader, opts Options) (tree *Tree, err error) {
	defer recoverEngine(language, &tree, &err)

	if err := checkIncrementalBase(prev, oldContent, newContent, edit, language, opts); err != nil {
		return nil, err
	}
	lang, err := loadLanguage(loader, language)
	if err != nil {
		return nil, err
	}

	base := prev.native().Clone()
	defer base.Close()
	base.Edit(&sitter.InputEdit{
		StartByte:      uint(edit.StartByte),
		OldEndByte:     uint(edit.OldEndByte),
		NewEndByte:     uint(edit.NewEndByte),
		StartPosition:  pointAt(oldContent, edit.StartByte),
		OldEndPosition: pointAt(oldContent, edit.OldEndByte),
		NewEndPosition: pointAt(newContent, edit.NewEndByte),
	})

	b := newBudget(ctx, opts.Timeout, e.now)
	return e.build(b, lang, newContent, base, language, loader, opts)
}

func checkIncrementalBase(prev *Tree, oldContent, newContent []byte, edit Edit, language string, opts Options) error {
	switch {
	case prev == nil || prev.native() == nil:
		return engineFailure(language, "incremental base has no native tree", nil)
	case prev.language != language:
		return engineFailure(language, fmt.Sprintf("incremental base was parsed as %q", prev.language), nil)
	case !prev.full:
		return engineFailure(language, "incremental base does not cover the whole document", nil)
	case opts.Span != nil:
		return engineFailure(language, "incremental updates cannot be span-restricted", nil)
	case edit.StartByte < 0 || edit.StartByte > edit.OldEndByte || edit.OldEndByte > len(oldContent):
		return engineFailure(language, fmt.Sprintf("edit %+v out of range for old content", edit), nil)
	case edit.NewEndByte < edit.StartByte || edit.NewEndByte > len(newContent):
		return engineFailure(language, fmt.Sprintf("edit %+v out of range for new content", edit), nil)
	case len(newContent)-len(oldContent) != (edit.NewEndByte - edit.OldEndByte):
		return engineFailure(language, "edit does not account for the content length change", nil)
	}
	return nil
}

func (e *TreeSitterEngine) build(b *budget, lang *sitter.Language, content []byte, old *sitter.Tree, language string, loader Loader, opts Options) (*Tree, error) {
	covered := Span{Start: 0, End: len(content)}
	var ranges []sitter.Range
	if opts.Span != nil {
		covered = clampSpan(*opts.Span, len(content))
		ranges = []sitter.Range{rangeFor(content, covered)}
	}

	native, err := e.parseRanges(b, lang, content, old, ranges, language)
	if err != nil {
		return nil, err
	}

	tree := &Tree{
		language: language,
		span:     covered,
		full:     opts.Span == nil,
		hasError: native.RootNode().HasError(),
		root:     newRootHandle(native),
	}

	if opts.Injections {
		layers, err := e.parseInjections(b, native, content, covered, language, loader)
		if err != nil {
			return nil, err
		}
		tree.injected = true
		tree.layers = layers
	}
	return tree, nil
}

func (e *TreeSitterEngine) parseRanges(b *budget, lang *sitter.Language, content []byte, old *sitter.Tree, ranges []sitter.Range, language string) (*sitter.Tree, error) {
	if b.exceeded(sitter.ParseState{}) {
		return nil, b.err(language)
	}

	pool := e.pools.get(lang)
	sp := pool.Get()
	defer pool.Put(sp)

	if len(ranges) > 0 {
		if err := sp.SetIncludedRanges(ranges); err != nil {
			return nil, engineFailure(language, "invalid included ranges", err)
		}
	}

	read := func(offset int, _ sitter.Point) []byte {
		if offset >= len(content) {
			return nil
		}
		return content[offset:]
	}
	native := sp.ParseWithOptions(read, old, &sitter.ParseOptions{ProgressCallback: b.exceeded})
	if native == nil {
		if err := b.err(language); err != nil {
			return nil, err
		}
		return nil, engineFailure(language, "parser returned no tree", nil)
	}
	return native, nil
}

// parseInjections parses every injection target captured inside within.
// Targets that fail to load are skipped; running out of budget aborts the
// whole tree.
func (e *TreeSitterEngine) parseInjections(b *budget, host *sitter.Tree, content []byte, within Span, language string, loader Loader) ([]Layer, error) {
	queries, err := loader.Injections(language)
	if err != nil {
		e.logger.Debug("injections unavailable", "language", language, "error", err)
		return nil, nil
	}

	var layers []Layer
	for _, q := range queries {
		ranges := q.ranges(host.RootNode(), content, within)
		if len(ranges) == 0 {
			continue
		}
		lang, err := loader.Language(q.Target)
		if err != nil {
			continue
		}
		native, err := e.parseRanges(b, lang, content, nil, ranges, q.Target)
		if err != nil {
			if IsTimeout(err) || IsCancelled(err) {
				return nil, err
			}
			e.logger.Debug("injection layer failed", "host", language, "target", q.Target, "error", err)
			continue
		}

		spans := make([]Span, len(ranges))
		for i, r := range ranges {
			spans[i] = Span{Start: int(r.StartByte), End: int(r.EndByte)}
		}
		layers = append(layers, Layer{Language: q.Target, Ranges: spans, root: newRootHandle(native)})
	}
	return layers, nil
}

func loadLanguage(loader Loader, language string) (*sitter.Language, error) {
	if loader == nil {
		return nil, grammarUnavailable(language, fmt.Errorf("no loader"))
	}
	lang, err := loader.Language(language)
	if err != nil {
		if IsGrammarUnavailable(err) {
			return nil, err
		}
		return nil, grammarUnavailable(language, err)
	}
	return lang, nil
}

func recoverEngine(language string, tree **Tree, err *error) {
	if r := recover(); r != nil {
		*tree = nil
		*err = engineFailure(language, fmt.Sprintf("parser panic: %v", r), nil)
	}
}

// budget is polled from the parser's progress callback, which runs on the
// parsing goroutine.
type budget struct {
	ctx      context.Context
	timeout  time.Duration
	deadline time.Time
	now      func() time.Time
	expired  bool
}

func newBudget(ctx context.Context, timeout time.Duration, now func() time.Time) *budget {
	b := &budget{ctx: ctx, timeout: timeout, now: now}
	if timeout > 0 {
		b.deadline = now().Add(timeout)
	}
	return b
}

func (b *budget) exceeded(sitter.ParseState) bool {
	if b.ctx.Err() != nil {
		return true
	}
	if !b.deadline.IsZero() && b.now().After(b.deadline) {
		b.expired = true
		return true
	}
	return false
}

func (b *budget) err(language string) error {
	if err := b.ctx.Err(); err != nil {
		return cancelledError(language, err)
	}
	if b.expired {
		return timeoutError(language, b.timeout)
	}
	return nil
}

func clampSpan(s Span, n int) Span {
	s.Start = max(0, min(s.Start, n))
	s.End = max(s.Start, min(s.End, n))
	return s
}

func rangeFor(content []byte, s Span) sitter.Range {
	return sitter.Range{
		StartByte:  uint(s.Start),
		EndByte:    uint(s.End),
		StartPoint: pointAt(content, s.Start),
		EndPoint:   pointAt(content, s.End),
	}
}

// pointAt converts a byte offset into a row/column point. Columns are byte
// counts, as tree-sitter expects.
func pointAt(content []byte, offset int) sitter.Point {
	offset = max(0, min(offset, len(content)))
	var row, col uint
	for _, c := range content[:offset] {
		if c == '\n' {
			row++
			col = 0
			continue
		}
		col++
	}
	return sitter.Point{Row: row, Column: col}
}
