package parser

import (
	"sync"
	"testing"
	"time"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
)

func goLanguage() *sitter.Language {
	return sitter.NewLanguage(tree_sitter_go.Language())
}

func TestParserPool_GetPutTracksLeases(t *testing.T) {
	pool := NewParserPool(goLanguage())

	sp := pool.Get()
	if sp == nil {
		t.Fatal("expected non-nil parser from pool")
	}
	if got := pool.Stats(); got != 1 {
		t.Fatalf("expected 1 lease, got %d", got)
	}
	if pool.OldestLease(time.Now().Add(time.Second)) < time.Second {
		t.Fatal("expected oldest lease to reflect elapsed time")
	}

	pool.Put(sp)
	if got := pool.Stats(); got != 0 {
		t.Fatalf("expected 0 leases after Put, got %d", got)
	}
	if pool.OldestLease(time.Now()) != 0 {
		t.Fatal("expected no oldest lease when nothing is leased")
	}
}

func TestParserPool_PutNil(t *testing.T) {
	pool := NewParserPool(goLanguage())
	pool.Put(nil)
}

func TestParserPool_PutClearsIncludedRanges(t *testing.T) {
	pool := NewParserPool(goLanguage())
	src := []byte("package main\nfunc main() {}\n")

	sp := pool.Get()
	if err := sp.SetIncludedRanges([]sitter.Range{rangeFor(src, Span{Start: 0, End: 12})}); err != nil {
		t.Fatalf("SetIncludedRanges: %v", err)
	}
	pool.Put(sp)

	// sync.Pool may hand back a fresh parser; either way it must see the
	// whole document.
	sp = pool.Get()
	defer pool.Put(sp)
	tree := sp.Parse(src, nil)
	if tree == nil {
		t.Fatal("expected tree")
	}
	defer tree.Close()
	if end := tree.RootNode().EndByte(); int(end) < len(src)-1 {
		t.Fatalf("expected full-document parse, root ends at %d", end)
	}
}

func TestParserPool_ConcurrentAccess(t *testing.T) {
	pool := NewParserPool(goLanguage())

	const goroutines = 20
	const iters = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)

	src := []byte("package main\nfunc run() {}\n")
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				sp := pool.Get()
				tree := sp.Parse(src, nil)
				if tree == nil {
					t.Errorf("expected non-nil parse tree")
				} else {
					tree.Close()
				}
				pool.Put(sp)
			}
		}()
	}

	wg.Wait()
	if got := pool.Stats(); got != 0 {
		t.Fatalf("expected all leases returned, got %d", got)
	}
}

func TestPoolSet_OnePoolPerLanguage(t *testing.T) {
	var set poolSet
	lang := goLanguage()
	if set.get(lang) != set.get(lang) {
		t.Fatal("expected the same pool for the same grammar")
	}
	sp := set.get(lang).Get()
	if set.leased() != 1 {
		t.Fatalf("expected 1 leased parser, got %d", set.leased())
	}
	set.get(lang).Put(sp)
}
