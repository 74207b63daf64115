package scheduler

import (
	"time"

	"synsched/internal/engine/parser"
	"synsched/internal/engine/tier"
)

type laneState struct {
	// active is the task currently owning the lane, queued or running.
	active TaskID
	// activeEpoch and activeVersion describe the active task.
	activeEpoch   uint64
	activeVersion uint64
	cooldownUntil time.Time
	failures      int
	// planned remembers what the lane last produced successfully so an
	// unchanged request does not launch the same work twice.
	planned laneKey
}

type laneKey struct {
	epoch   uint64
	version uint64
	span    parser.Span
	valid   bool
}

func (l *laneState) busy() bool { return l.active != 0 }

// busyWith reports whether the lane's active task targets epoch and version.
func (l *laneState) busyWith(epoch, version uint64) bool {
	return l.busy() && l.activeEpoch == epoch && l.activeVersion == version
}

func (l *laneState) assign(spec TaskSpec) {
	l.active = spec.ID
	l.activeEpoch = spec.Epoch
	l.activeVersion = spec.Version
}

func (l *laneState) coolingDown(now time.Time) bool {
	return now.Before(l.cooldownUntil)
}

type schedule struct {
	lanes       [laneCount]laneState
	epoch       uint64
	lastVisible time.Time
	completed   []CompletedTask
}

// baseTree is the newest full-document tree, kept as the incremental base
// even while a narrower tree is installed.
type baseTree struct {
	tree    *parser.Tree
	version uint64
	content []byte
}

type slot struct {
	tree    *parser.Tree
	version uint64
	lane    Lane
	base    *baseTree
	// edits is a contiguous chain of deltas not yet covered by a background
	// install. Each delta's BaseVersion is the previous one's Version.
	edits       []Delta
	dirty       bool
	options     OptionsKey
	haveOptions bool
	language    string
	// unavailable is set once the language's grammar failed to load.
	unavailable bool
}

func (s *slot) hasTree() bool { return s.tree != nil }

// covers reports whether the installed tree was parsed from version and
// spans the given range.
func (s *slot) covers(version uint64, span parser.Span) bool {
	if s.tree == nil || s.version != version {
		return false
	}
	return s.tree.Full() || s.tree.Span().Contains(span)
}

func (s *slot) dropTree() {
	s.tree = nil
	s.version = 0
	s.base = nil
	s.edits = nil
	s.dirty = true
}

// maxEditChain bounds the delta chain; older links are composed together.
const maxEditChain = 64

// noteEdit extends the chain when d starts where it ends, and restarts it
// otherwise.
func (s *slot) noteEdit(d Delta) {
	if n := len(s.edits); n > 0 && s.edits[n-1].Version == d.BaseVersion {
		s.edits = append(s.edits, d)
	} else {
		s.edits = append(s.edits[:0], d)
	}
	if len(s.edits) > maxEditChain {
		s.edits[1] = composeDeltas(s.edits[0], s.edits[1])
		s.edits = s.edits[1:]
	}
}

// deltaBetween composes the chain from version from up to version to.
func (s *slot) deltaBetween(from, to uint64) (Delta, bool) {
	start := -1
	for i, d := range s.edits {
		if d.BaseVersion == from {
			start = i
			break
		}
	}
	if start < 0 {
		return Delta{}, false
	}
	out := s.edits[start]
	for _, d := range s.edits[start+1:] {
		if out.Version == to {
			break
		}
		out = composeDeltas(out, d)
	}
	return out, out.Version == to
}

// pending is the whole chain as one delta.
func (s *slot) pending() *Delta {
	if len(s.edits) == 0 {
		return nil
	}
	out := s.edits[0]
	for _, d := range s.edits[1:] {
		out = composeDeltas(out, d)
	}
	return &out
}

// trimEdits drops links a background tree at version now covers. A chain
// that cannot be reached from that version is discarded.
func (s *slot) trimEdits(version uint64) {
	i := 0
	for i < len(s.edits) && s.edits[i].Version <= version {
		i++
	}
	rest := s.edits[i:]
	if len(rest) > 0 && rest[0].BaseVersion != version {
		rest = nil
	}
	s.edits = append(s.edits[:0], rest...)
}

func composeDeltas(a, b Delta) Delta {
	return Delta{BaseVersion: a.BaseVersion, Version: b.Version, Edit: parser.ComposeEdits(a.Edit, b.Edit)}
}

// DocEntry is the scheduler's per-document state. It is only touched on the
// goroutine driving the Scheduler.
type DocEntry struct {
	id       DocumentID
	schedule schedule
	slot     slot

	lastTier  tier.Tier
	hasTier   bool
	hotness   Hotness
	version   uint64
	viewport  parser.Span
	lastError error
}

func newDocEntry(id DocumentID) *DocEntry {
	return &DocEntry{id: id, slot: slot{dirty: true}}
}

// bumpEpoch invalidates everything in flight or queued for the entry.
// Lane markers stay in place until their tasks are collected.
func (e *DocEntry) bumpEpoch() {
	e.schedule.epoch++
	e.schedule.completed = nil
	for i := range e.schedule.lanes {
		e.schedule.lanes[i].planned = laneKey{}
		e.schedule.lanes[i].failures = 0
		e.schedule.lanes[i].cooldownUntil = time.Time{}
	}
}

func (e *DocEntry) lane(l Lane) *laneState {
	return &e.schedule.lanes[l]
}
