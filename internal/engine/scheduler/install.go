package scheduler

import (
	"sort"
	"time"

	"synsched/internal/engine/parser"
	"synsched/internal/shared/observability"
)

type cooldownPolicy struct {
	base time.Duration
	max  time.Duration
}

// delay doubles the base cooldown per consecutive failure, capped at max.
func (p cooldownPolicy) delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := p.base
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	maxDelay := p.max
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

type installOutcome struct {
	changed bool
	lane    Lane
	version uint64
	// failures are the results that came back without a tree this pass.
	failures []CompletedTask
	// unavailable is set when this pass learned the grammar cannot load.
	unavailable bool
}

// installable reports whether c may replace or extend the installed tree.
func installable(s *slot, c CompletedTask) bool {
	if !s.hasTree() {
		return true
	}
	switch {
	case c.Version > s.version:
		return true
	case c.Version < s.version:
		return false
	}
	if c.Lane.scope() > s.lane.scope() {
		return true
	}
	// Enrich layers merge onto a full tree of the same version.
	return c.Lane == LaneViewportEnrich && s.tree.Full()
}

// decideInstall applies at most one completed result to the entry. Failures
// start lane cooldowns. Results that may still install later stay queued;
// the rest are discarded.
func decideInstall(e *DocEntry, now time.Time, cooldown cooldownPolicy) installOutcome {
	var out installOutcome
	s := &e.slot

	var ready []CompletedTask
	for _, c := range e.schedule.completed {
		l := e.lane(c.Lane)
		if !c.ok() {
			l.failures++
			l.cooldownUntil = now.Add(cooldown.delay(l.failures))
			l.planned = laneKey{}
			e.lastError = c.Err
			if parser.IsGrammarUnavailable(c.Err) && !s.unavailable {
				s.unavailable = true
				out.unavailable = true
			}
			out.failures = append(out.failures, c)
			continue
		}
		l.failures = 0
		l.cooldownUntil = time.Time{}
		l.planned = laneKey{epoch: c.Epoch, version: c.Version, span: c.Span, valid: true}
		ready = append(ready, c)
	}
	e.schedule.completed = nil

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Version != ready[j].Version {
			return ready[i].Version > ready[j].Version
		}
		return ready[i].Lane.scope() > ready[j].Lane.scope()
	})

	for i, c := range ready {
		if !installable(s, c) {
			observability.TasksDiscardedTotal.Inc()
			continue
		}
		install(e, c)
		out.changed = true
		out.lane = c.Lane
		out.version = c.Version
		for _, rest := range ready[i+1:] {
			if installable(s, rest) {
				e.schedule.completed = append(e.schedule.completed, rest)
			} else {
				observability.TasksDiscardedTotal.Inc()
			}
		}
		observability.TreesInstalledTotal.WithLabelValues(c.Lane.String()).Inc()
		break
	}
	return out
}

func install(e *DocEntry, c CompletedTask) {
	s := &e.slot
	tree := c.Tree

	if s.hasTree() && c.Version == s.version {
		switch {
		case c.Lane == LaneViewportEnrich && s.tree.Full():
			s.tree = s.tree.WithLayersFrom(c.Tree)
			e.lastError = nil
			return
		case c.Lane == LaneBackground && s.tree.Injected() && !tree.Injected():
			tree = tree.WithLayersFrom(s.tree)
		}
	}

	s.tree = tree
	s.version = c.Version
	s.lane = c.Lane
	e.lastError = nil
	if c.Lane != LaneBackground {
		return
	}
	s.base = &baseTree{tree: c.Tree, version: c.Version, content: c.Content}
	s.trimEdits(c.Version)
	s.dirty = c.Version != e.version
}
