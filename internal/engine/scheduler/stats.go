package scheduler

import (
	"sort"
	"time"

	"synsched/internal/engine/tier"
	"synsched/internal/engine/timing"
)

type Stats struct {
	ID        string
	Documents int
	InFlight  int
	Running   int
	Ready     int
	Limit     int
	Counters  Counters
	Timing    []timing.Entry
}

type LaneStats struct {
	Lane     Lane
	Active   TaskID
	Cooldown time.Duration
	Failures int
}

type DocumentStats struct {
	Doc              DocumentID
	Language         string
	Tier             tier.Tier
	Hotness          Hotness
	Epoch            uint64
	Version          uint64
	HasTree          bool
	InstalledVersion uint64
	InstalledLane    Lane
	Dirty            bool
	Pending          *Delta
	// SinceVisible is the time since the document was last Visible or
	// Warm. Zero when it never was.
	SinceVisible time.Duration
	Unavailable  bool
	Lanes        [laneCount]LaneStats
	LastError    error
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ID:        s.id,
		Documents: len(s.entries),
		InFlight:  s.exec.limiter.InFlight(),
		Running:   s.col.running(),
		Ready:     len(s.exec.ready),
		Limit:     s.exec.limiter.Limit(),
		Counters:  s.counters,
		Timing:    s.metrics.Snapshot(),
	}
}

func (s *Scheduler) DocumentStats(id DocumentID) (DocumentStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return DocumentStats{}, false
	}
	return s.documentStats(e, s.now()), true
}

// Documents returns stats for every tracked document ordered by id.
func (s *Scheduler) Documents() []DocumentStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]DocumentStats, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, s.documentStats(e, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Doc < out[j].Doc })
	return out
}

func (s *Scheduler) documentStats(e *DocEntry, now time.Time) DocumentStats {
	ds := DocumentStats{
		Doc:              e.id,
		Language:         e.slot.language,
		Tier:             e.lastTier,
		Hotness:          e.hotness,
		Epoch:            e.schedule.epoch,
		Version:          e.version,
		HasTree:          e.slot.hasTree(),
		InstalledVersion: e.slot.version,
		InstalledLane:    e.slot.lane,
		Dirty:            e.slot.dirty,
		Unavailable:      e.slot.unavailable,
		LastError:        e.lastError,
	}
	ds.Pending = e.slot.pending()
	if !e.schedule.lastVisible.IsZero() {
		ds.SinceVisible = now.Sub(e.schedule.lastVisible)
	}
	for _, lane := range Lanes() {
		l := e.lane(lane)
		ls := LaneStats{Lane: lane, Active: l.active, Failures: l.failures}
		if l.coolingDown(now) {
			ls.Cooldown = l.cooldownUntil.Sub(now)
		}
		ds.Lanes[lane] = ls
	}
	return ds
}
