package scheduler

import (
	"time"

	"synsched/internal/engine/parser"
	"synsched/internal/engine/tier"
	"synsched/internal/engine/timing"
)

// derived is the pure projection of a request through the tier policy.
type derived struct {
	tier     tier.Tier
	cfg      tier.Config
	options  OptionsKey
	viewport parser.Span
	// workDisabled is set for Cold documents in tiers that do not parse
	// hidden documents.
	workDisabled bool
}

func derive(req EnsureRequest, policy tier.Policy) derived {
	t := policy.TierForBytes(len(req.Content))
	cfg := policy.Cfg(t)
	return derived{
		tier:         t,
		cfg:          cfg,
		options:      OptionsKey{Injections: cfg.Injections == tier.InjectionsEager},
		viewport:     clampViewport(req.Viewport, len(req.Content), cfg.ViewportCap),
		workDisabled: req.Hotness == Cold && !cfg.ParseHidden,
	}
}

// clampViewport bounds v to the content and to at most limit bytes from its
// start.
func clampViewport(v parser.Span, length, limit int) parser.Span {
	start := max(0, min(v.Start, length))
	end := max(start, min(v.End, length))
	if limit > 0 && end-start > limit {
		end = start + limit
	}
	return parser.Span{Start: start, End: end}
}

// padViewport widens v by pad bytes on each side, within the content.
func padViewport(v parser.Span, length, pad int) parser.Span {
	return parser.Span{Start: max(0, v.Start-pad), End: min(length, v.End+pad)}
}

type normalizeOutcome struct {
	changed     bool
	epochBumped bool
	reason      string
}

// normalize reconciles the entry with the request before planning. It
// returns whether the installed tree changed.
func normalize(e *DocEntry, now time.Time, req EnsureRequest, d derived) normalizeOutcome {
	var out normalizeOutcome
	s := &e.slot

	invalidate := func(reason string) {
		if s.hasTree() {
			out.changed = true
		}
		s.dropTree()
		e.bumpEpoch()
		out.epochBumped = true
		out.reason = reason
	}

	switch {
	case s.language != req.Language:
		if s.language != "" || s.hasTree() {
			invalidate("language")
		}
		s.language = req.Language
		s.unavailable = false
	case s.haveOptions && s.options != d.options:
		invalidate("options")
	case s.hasTree() && req.Version < s.version:
		invalidate("version_regression")
	case d.workDisabled && s.hasTree():
		invalidate("cold_release")
	}
	s.options = d.options
	s.haveOptions = true

	if req.Hotness == Visible || req.Hotness == Warm {
		e.schedule.lastVisible = now
	}
	if s.base == nil || s.base.version != req.Version {
		s.dirty = true
	}

	e.lastTier = d.tier
	e.hasTier = true
	e.hotness = req.Hotness
	e.version = req.Version
	e.viewport = d.viewport
	return out
}

type planner struct {
	metrics *timing.Metrics
	nextID  func() TaskID
}

func (p *planner) baseSpec(e *DocEntry, req EnsureRequest, d derived, lane Lane, kind TaskKind, injections bool) TaskSpec {
	return TaskSpec{
		Doc:        e.id,
		ID:         p.nextID(),
		Lane:       lane,
		Kind:       kind,
		Epoch:      e.schedule.epoch,
		Version:    req.Version,
		Language:   req.Language,
		Options:    d.options,
		Tier:       d.tier,
		Hotness:    req.Hotness,
		Injections: injections,
		Content:    req.Content,
		Loader:     req.Loader,
	}
}

func (p *planner) withTimeout(spec TaskSpec, cfg tier.Config) TaskSpec {
	spec.Timeout = p.metrics.DeriveTimeout(spec.timingKey(), cfg.MinTimeout, cfg.MaxTimeout)
	return spec
}

func laneAvailable(e *DocEntry, lane Lane, now time.Time) bool {
	l := e.lane(lane)
	return !l.busy() && !l.coolingDown(now)
}

// incrementalDelta returns the edits that bridge the base tree to the
// requested version.
func incrementalDelta(s *slot, version uint64) (Delta, bool) {
	if s.base == nil {
		return Delta{}, false
	}
	return s.deltaBetween(s.base.version, version)
}

// planBackground schedules a whole-document parse when the tree is dirty or
// absent. It prefers an incremental update over a full parse.
func (p *planner) planBackground(e *DocEntry, now time.Time, req EnsureRequest, d derived) (TaskSpec, bool) {
	s := &e.slot
	if d.workDisabled || s.unavailable || !s.dirty {
		return TaskSpec{}, false
	}
	if !laneAvailable(e, LaneBackground, now) {
		return TaskSpec{}, false
	}

	injections := d.cfg.Injections == tier.InjectionsEager
	var spec TaskSpec
	if delta, ok := incrementalDelta(s, req.Version); ok {
		spec = p.baseSpec(e, req, d, LaneBackground, KindIncremental, injections)
		spec.Base = s.base.tree
		spec.BaseContent = s.base.content
		spec.Edit = delta.Edit
	} else {
		spec = p.baseSpec(e, req, d, LaneBackground, KindFullParse, injections)
	}
	spec.Span = parser.Span{Start: 0, End: len(req.Content)}
	// The edit chain stays until a background tree installs, so a task
	// that is pruned or fails can be planned again incrementally.
	return p.withTimeout(spec, d.cfg), true
}

// planViewportUrgent schedules a narrow, injection-free parse of the visible
// range when nothing installed for the current version covers it.
func (p *planner) planViewportUrgent(e *DocEntry, now time.Time, req EnsureRequest, d derived) (TaskSpec, bool) {
	s := &e.slot
	if req.Hotness != Visible || s.unavailable || d.viewport.Empty() {
		return TaskSpec{}, false
	}
	if s.covers(req.Version, d.viewport) {
		return TaskSpec{}, false
	}
	// A pending incremental update is fast enough to stand in for the
	// viewport parse unless the background lane is backing off.
	if _, ok := incrementalDelta(s, req.Version); ok && !e.lane(LaneBackground).coolingDown(now) {
		return TaskSpec{}, false
	}
	// A whole-document parse of a viewport-sized document is no slower
	// than the viewport parse itself, whether it is planned now or already
	// owns the background lane.
	if d.viewport.Start == 0 && d.viewport.End == len(req.Content) && s.dirty {
		bg := e.lane(LaneBackground)
		if laneAvailable(e, LaneBackground, now) || bg.busyWith(e.schedule.epoch, req.Version) {
			return TaskSpec{}, false
		}
	}
	if !laneAvailable(e, LaneViewportUrgent, now) {
		return TaskSpec{}, false
	}
	key := laneKey{epoch: e.schedule.epoch, version: req.Version, span: d.viewport, valid: true}
	if e.lane(LaneViewportUrgent).planned == key {
		return TaskSpec{}, false
	}

	spec := p.baseSpec(e, req, d, LaneViewportUrgent, KindViewport, false)
	spec.Span = d.viewport
	return p.withTimeout(spec, d.cfg), true
}

// planViewportEnrich adds injection layers around the viewport for tiers
// that parse injections lazily. It waits for a full tree at the current
// version.
func (p *planner) planViewportEnrich(e *DocEntry, now time.Time, req EnsureRequest, d derived) (TaskSpec, bool) {
	s := &e.slot
	if req.Hotness == Cold || d.cfg.Injections != tier.InjectionsLazy || s.unavailable || d.viewport.Empty() {
		return TaskSpec{}, false
	}
	if s.tree == nil || s.version != req.Version || !s.tree.Full() {
		return TaskSpec{}, false
	}
	if !laneAvailable(e, LaneViewportEnrich, now) {
		return TaskSpec{}, false
	}
	l := e.lane(LaneViewportEnrich)
	if s.tree.Injected() && l.planned.valid && l.planned.epoch == e.schedule.epoch &&
		l.planned.version == req.Version && l.planned.span.Contains(d.viewport) {
		return TaskSpec{}, false
	}

	spec := p.baseSpec(e, req, d, LaneViewportEnrich, KindViewport, true)
	spec.Span = padViewport(d.viewport, len(req.Content), d.cfg.ViewportCap)
	return p.withTimeout(spec, d.cfg), true
}
