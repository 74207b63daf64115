package parser

import (
	"fmt"
	"runtime"
	"time"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// Span is a half-open byte range [Start, End).
type Span struct {
	Start int
	End   int
}

func (s Span) Len() int {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

func (s Span) Empty() bool { return s.Len() == 0 }

// Contains reports whether o lies entirely within s.
func (s Span) Contains(o Span) bool {
	return o.Start >= s.Start && o.End <= s.End
}

func (s Span) String() string {
	return fmt.Sprintf("%d..%d", s.Start, s.End)
}

// Edit describes a single replacement: bytes [StartByte, OldEndByte) of the
// old content became [StartByte, NewEndByte) of the new content.
type Edit struct {
	StartByte  int
	OldEndByte int
	NewEndByte int
}

// ComposeEdits folds b, expressed against the content produced by a, into a
// single edit expressed against the content a was applied to.
func ComposeEdits(a, b Edit) Edit {
	start := min(a.StartByte, b.StartByte)
	mid := max(a.NewEndByte, b.OldEndByte)
	return Edit{
		StartByte:  start,
		OldEndByte: mid + a.OldEndByte - a.NewEndByte,
		NewEndByte: mid + b.NewEndByte - b.OldEndByte,
	}
}

// Options are the per-task parse knobs resolved by the scheduler.
type Options struct {
	// Injections enables parsing of embedded-language layers.
	Injections bool
	// Span restricts the parse to a byte range. Nil parses the whole content.
	Span *Span
	// Timeout is the self-abort budget. Zero disables the deadline.
	Timeout time.Duration
}

// Layer is an injected-language parse covering a set of host ranges.
type Layer struct {
	Language string
	Ranges   []Span
	root     *rootHandle
}

// Root returns the layer's root node, or nil for trees without a native
// parse.
func (l Layer) Root() *sitter.Node {
	if l.root == nil {
		return nil
	}
	return l.root.tree.RootNode()
}

// Tree is an immutable parse result. It is not tagged with a document
// version; callers that install trees track that alongside.
type Tree struct {
	language string
	span     Span
	full     bool
	hasError bool
	// injected is set when injection layers were requested for this tree,
	// even if none matched.
	injected bool
	root     *rootHandle
	layers   []Layer
}

// NewTree builds a tree without a native parse. It is used by engines that
// do not produce tree-sitter output, such as MockEngine.
func NewTree(language string, span Span, full, injected bool) *Tree {
	return &Tree{language: language, span: span, full: full, injected: injected}
}

func (t *Tree) Language() string { return t.language }

// Span is the byte range the tree covers.
func (t *Tree) Span() Span { return t.span }

// Full reports whether the tree covers the entire document.
func (t *Tree) Full() bool { return t.full }

func (t *Tree) HasError() bool { return t.hasError }

func (t *Tree) Injected() bool { return t.injected }

// Layers returns a copy of the injection layers.
func (t *Tree) Layers() []Layer {
	return append([]Layer(nil), t.layers...)
}

// Root returns the root node, or nil for trees without a native parse. The
// node is valid for as long as t is reachable.
func (t *Tree) Root() *sitter.Node {
	if t.root == nil {
		return nil
	}
	return t.root.tree.RootNode()
}

// WithLayersFrom returns a copy of t whose injection layers are replaced by
// src's. The native trees are shared, not copied.
func (t *Tree) WithLayersFrom(src *Tree) *Tree {
	if src == nil || !src.injected {
		return t
	}
	out := *t
	out.injected = true
	out.layers = append([]Layer(nil), src.layers...)
	return &out
}

func (t *Tree) native() *sitter.Tree {
	if t.root == nil {
		return nil
	}
	return t.root.tree
}

// rootHandle owns a native tree. Several Tree values may share one handle;
// the native memory is released once the last of them is collected.
type rootHandle struct {
	tree *sitter.Tree
}

func newRootHandle(tree *sitter.Tree) *rootHandle {
	h := &rootHandle{tree: tree}
	runtime.AddCleanup(h, func(t *sitter.Tree) { t.Close() }, tree)
	return h
}
