package scheduler

import (
	"fmt"
	"time"

	"synsched/internal/engine/parser"
	"synsched/internal/engine/tier"
	"synsched/internal/engine/timing"
)

// DocumentID identifies an open document. The editing core owns the space.
type DocumentID uint64

// TaskID is a process-unique, monotonically increasing parse task handle.
// Zero means "no task".
type TaskID uint64

type Hotness int

const (
	Cold Hotness = iota
	Warm
	Visible
)

func (h Hotness) String() string {
	switch h {
	case Cold:
		return "cold"
	case Warm:
		return "warm"
	case Visible:
		return "visible"
	default:
		return fmt.Sprintf("hotness(%d)", int(h))
	}
}

// Lane is one of the independent per-document scheduling tracks.
type Lane int

const (
	LaneViewportUrgent Lane = iota
	LaneViewportEnrich
	LaneBackground
	laneCount
)

func (l Lane) String() string {
	switch l {
	case LaneViewportUrgent:
		return "urgent"
	case LaneViewportEnrich:
		return "enrich"
	case LaneBackground:
		return "background"
	default:
		return fmt.Sprintf("lane(%d)", int(l))
	}
}

// Lanes returns every lane in launch priority order.
func Lanes() []Lane {
	return []Lane{LaneViewportUrgent, LaneViewportEnrich, LaneBackground}
}

// scope ranks how much of a document a lane's result covers. At equal
// versions a wider scope supersedes a narrower one.
func (l Lane) scope() int {
	switch l {
	case LaneBackground:
		return 2
	case LaneViewportEnrich:
		return 1
	default:
		return 0
	}
}

// OptionsKey identifies the policy options a tree was produced under.
type OptionsKey struct {
	Injections bool
}

type TaskKind int

const (
	KindFullParse TaskKind = iota
	KindIncremental
	KindViewport
)

func (k TaskKind) String() string {
	switch k {
	case KindFullParse:
		return "full"
	case KindIncremental:
		return "incremental"
	case KindViewport:
		return "viewport"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k TaskKind) class() timing.Class {
	switch k {
	case KindIncremental:
		return timing.ClassIncremental
	case KindViewport:
		return timing.ClassViewport
	default:
		return timing.ClassFull
	}
}

// Delta is a composed edit taking the document from BaseVersion to Version.
type Delta struct {
	BaseVersion uint64
	Version     uint64
	Edit        parser.Edit
}

// EnsureRequest is everything the editor knows about a document this tick.
// Content must not be mutated after it is handed over.
type EnsureRequest struct {
	Doc      DocumentID
	Version  uint64
	Language string
	Content  []byte
	Viewport parser.Span
	Hotness  Hotness
	Loader   parser.Loader
}

type EnsureResult struct {
	// HasTree reports whether any tree is installed.
	HasTree bool
	// Changed reports whether the installed tree changed during this call.
	Changed bool
	Tree    *parser.Tree
	// Version is the document version Tree was parsed from.
	Version uint64
	Tier    tier.Tier
	// Hotness is the effective classification after recency promotion.
	Hotness Hotness
}

// TaskSpec is a fully resolved unit of work. It holds no references into
// scheduler state.
type TaskSpec struct {
	Doc        DocumentID
	ID         TaskID
	Lane       Lane
	Kind       TaskKind
	Epoch      uint64
	Version    uint64
	Language   string
	Options    OptionsKey
	Tier       tier.Tier
	Hotness    Hotness
	Timeout    time.Duration
	Injections bool
	Span       parser.Span
	Content    []byte
	Loader     parser.Loader

	// Incremental inputs.
	Base        *parser.Tree
	BaseContent []byte
	Edit        parser.Edit
}

func (t TaskSpec) timingKey() timing.Key {
	return timing.Key{Language: t.Language, Tier: t.Tier, Class: t.Kind.class(), Injections: t.Injections}
}

// CompletedTask is a worker's report, delivered through the collector inbox.
type CompletedTask struct {
	Doc      DocumentID
	ID       TaskID
	Lane     Lane
	Kind     TaskKind
	Epoch    uint64
	Version  uint64
	Language string
	Options  OptionsKey
	Tier     tier.Tier
	Span     parser.Span
	Content  []byte
	Tree     *parser.Tree
	Err      error
	Elapsed  time.Duration
	Key      timing.Key
}

func (c CompletedTask) ok() bool { return c.Err == nil && c.Tree != nil }
