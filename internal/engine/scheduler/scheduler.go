package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"synsched/internal/core/errors"
	"synsched/internal/engine/parser"
	"synsched/internal/engine/recency"
	"synsched/internal/engine/tier"
	"synsched/internal/engine/timing"
	"synsched/internal/shared/observability"
	"synsched/internal/shared/util"
)

// Tuning holds every knob that can change while the scheduler runs.
type Tuning struct {
	Policy            tier.Policy
	Timing            timing.Params
	MaxConcurrency    int
	HiddenLaunchRate  float64
	HiddenLaunchBurst int
	CooldownBase      time.Duration
	CooldownMax       time.Duration
	RecencyCapacity   int
}

func DefaultTuning() Tuning {
	return Tuning{
		Policy:            tier.DefaultPolicy(),
		Timing:            timing.DefaultParams(),
		MaxConcurrency:    4,
		HiddenLaunchRate:  8,
		HiddenLaunchBurst: 4,
		CooldownBase:      250 * time.Millisecond,
		CooldownMax:       30 * time.Second,
		RecencyCapacity:   8,
	}
}

type Options struct {
	Engine parser.Engine
	Tuning Tuning
	// ResultBuffer bounds the collector inbox. Workers wait for space when
	// it is full.
	ResultBuffer int
	Now          func() time.Time
	Logger       *slog.Logger
}

// Scheduler keeps per-document parse trees fresh. All methods are safe to
// call from any goroutine; Ensure is meant to be called once per document
// per editor tick and never waits on a parse.
type Scheduler struct {
	mu sync.Mutex

	id     string
	logger *slog.Logger
	now    func() time.Time

	policy   tier.Policy
	cooldown cooldownPolicy
	metrics  *timing.Metrics
	recent   *recency.Tracker[DocumentID]

	entries map[DocumentID]*DocEntry
	planner planner
	col     *collector
	exec    *executor
	cancel  context.CancelFunc
	lastID  TaskID
	closed  bool

	counters Counters
}

// Counters are cumulative since New.
type Counters struct {
	Launched  uint64
	Collected uint64
	Installed uint64
	Discarded uint64
	Failed    uint64
	TimedOut  uint64
}

func New(opts Options) (*Scheduler, error) {
	if opts.Engine == nil {
		return nil, errors.New(errors.CodeValidationError, "scheduler requires an engine")
	}
	t := opts.Tuning
	if t.MaxConcurrency <= 0 {
		t.MaxConcurrency = 1
	}
	metrics, err := timing.New(t.Timing)
	if err != nil {
		return nil, fmt.Errorf("timing params: %w", err)
	}
	if opts.ResultBuffer <= 0 {
		opts.ResultBuffer = 256
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	id := uuid.NewString()
	logger := opts.Logger.With("scheduler_id", id)
	ctx, cancel := context.WithCancel(context.Background())
	col := newCollector(opts.ResultBuffer)

	s := &Scheduler{
		id:       id,
		logger:   logger,
		now:      opts.Now,
		policy:   t.Policy,
		cooldown: cooldownPolicy{base: t.CooldownBase, max: t.CooldownMax},
		metrics:  metrics,
		recent:   recency.New[DocumentID](t.RecencyCapacity),
		entries:  make(map[DocumentID]*DocEntry),
		col:      col,
		cancel:   cancel,
		exec: &executor{
			ctx:     ctx,
			engine:  opts.Engine,
			inbox:   col.inbox,
			logger:  logger,
			limiter: util.NewConcurrencyLimiter(t.MaxConcurrency),
			pacer:   util.NewLimiter(t.HiddenLaunchRate, t.HiddenLaunchBurst),
		},
	}
	s.planner = planner{metrics: metrics, nextID: s.nextTaskID}
	logger.Debug("scheduler started", "max_concurrency", t.MaxConcurrency)
	return s, nil
}

func (s *Scheduler) nextTaskID() TaskID {
	s.lastID++
	return s.lastID
}

func (s *Scheduler) ID() string { return s.id }

// Ensure reconciles one document with the editor's current view of it: it
// collects finished work, installs at most one new tree and plans whatever
// the lanes still need.
func (s *Scheduler) Ensure(req EnsureRequest) EnsureResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	req.Hotness = s.classify(req.Doc, req.Hotness)
	s.collect()

	e := s.entry(req.Doc)
	d := derive(req, s.policy)
	norm := normalize(e, now, req, d)
	if norm.epochBumped {
		observability.EpochBumpsTotal.WithLabelValues(norm.reason).Inc()
		s.logger.Debug("document epoch bumped", "doc", req.Doc, "reason", norm.reason, "epoch", e.schedule.epoch)
	}
	s.counters.Discarded += uint64(s.exec.prune(s.entries, func(spec TaskSpec) bool {
		return spec.Doc != req.Doc || (spec.Epoch == e.schedule.epoch && spec.Version == req.Version)
	}))

	inst := decideInstall(e, now, s.cooldown)
	s.logFailures(e, inst)
	if inst.changed {
		s.counters.Installed++
	}

	if !s.closed {
		s.plan(e, now, req, d)
		s.pump(now)
	}

	return EnsureResult{
		HasTree: e.slot.hasTree(),
		Changed: norm.changed || inst.changed,
		Tree:    e.slot.tree,
		Version: e.slot.version,
		Tier:    d.tier,
		Hotness: req.Hotness,
	}
}

// classify promotes a recently visible Cold document to Warm and records
// visible ones.
func (s *Scheduler) classify(id DocumentID, h Hotness) Hotness {
	switch h {
	case Visible:
		s.recent.Touch(id)
	case Cold:
		if s.recent.Contains(id) {
			return Warm
		}
	}
	return h
}

func (s *Scheduler) entry(id DocumentID) *DocEntry {
	e, ok := s.entries[id]
	if !ok {
		e = newDocEntry(id)
		s.entries[id] = e
		observability.DocumentsTracked.Set(float64(len(s.entries)))
	}
	return e
}

func (s *Scheduler) collect() {
	st := s.col.drainFinished(s.entries, s.metrics)
	s.counters.Collected += uint64(st.collected)
	s.counters.Discarded += uint64(st.discarded)
	s.counters.Failed += uint64(st.failed)
	s.counters.TimedOut += uint64(st.timedOut)
}

func (s *Scheduler) plan(e *DocEntry, now time.Time, req EnsureRequest, d derived) {
	planners := []func(*DocEntry, time.Time, EnsureRequest, derived) (TaskSpec, bool){
		s.planner.planViewportUrgent,
		s.planner.planViewportEnrich,
		s.planner.planBackground,
	}
	for _, plan := range planners {
		spec, ok := plan(e, now, req, d)
		if !ok {
			continue
		}
		e.lane(spec.Lane).assign(spec)
		s.exec.submit(spec)
		s.logger.Debug("parse task planned",
			"doc", spec.Doc, "task", spec.ID, "lane", spec.Lane.String(), "kind", spec.Kind.String(),
			"version", spec.Version, "span", spec.Span.String(), "timeout", spec.Timeout)
	}
}

func (s *Scheduler) pump(now time.Time) {
	launched, dropped := s.exec.pump(now, s.entries, s.col)
	s.counters.Launched += uint64(launched)
	s.counters.Discarded += uint64(dropped)
}

func (s *Scheduler) logFailures(e *DocEntry, inst installOutcome) {
	for _, f := range inst.failures {
		l := e.lane(f.Lane)
		switch {
		case parser.IsTimeout(f.Err):
			s.logger.Debug("parse timed out", "doc", e.id, "lane", f.Lane.String(), "failures", l.failures, "error", f.Err)
		case parser.IsGrammarUnavailable(f.Err):
		default:
			s.logger.Warn("parse failed", "doc", e.id, "lane", f.Lane.String(), "failures", l.failures, "error", f.Err)
		}
	}
	if inst.unavailable {
		s.logger.Warn("grammar unavailable, highlighting disabled for document",
			"doc", e.id, "language", e.slot.language, "error", e.lastError)
	}
}

// NoteEdit records an edit the editing core applied. A delta whose base is
// the pending delta's target extends it; anything else replaces it. The
// chain is kept until a background tree covering it installs.
func (s *Scheduler) NoteEdit(id DocumentID, delta Delta) error {
	if delta.Version <= delta.BaseVersion {
		return errors.AddContext(
			errors.New(errors.CodeValidationError, "delta must move to a newer version"),
			errors.CtxDocument, id)
	}
	if delta.Edit.OldEndByte < delta.Edit.StartByte || delta.Edit.NewEndByte < delta.Edit.StartByte {
		return errors.AddContext(
			errors.New(errors.CodeValidationError, "edit ends before it starts"),
			errors.CtxDocument, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(id).slot.noteEdit(delta)
	return nil
}

// Evict forgets a closed document. Its running tasks are discarded when they
// finish.
func (s *Scheduler) Evict(id DocumentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return
	}
	s.counters.Discarded += uint64(s.exec.prune(s.entries, func(spec TaskSpec) bool { return spec.Doc != id }))
	delete(s.entries, id)
	s.recent.Remove(id)
	observability.DocumentsTracked.Set(float64(len(s.entries)))
}

// Reset drops the document's tree and invalidates all of its work. A
// language previously found unavailable is retried.
func (s *Scheduler) Reset(id DocumentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	e.slot.dropTree()
	e.slot.unavailable = false
	e.lastError = nil
	e.bumpEpoch()
	s.counters.Discarded += uint64(s.exec.prune(s.entries, func(spec TaskSpec) bool { return spec.Doc != id }))
	observability.EpochBumpsTotal.WithLabelValues("reset").Inc()
}

// Tree returns the installed tree and the version it was parsed from.
func (s *Scheduler) Tree(id DocumentID) (*parser.Tree, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || !e.slot.hasTree() {
		return nil, 0, false
	}
	return e.slot.tree, e.slot.version, true
}

// Reconfigure applies new tuning. Trees parsed under options the new policy
// no longer produces are invalidated on their next Ensure.
func (s *Scheduler) Reconfigure(t Tuning) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.metrics.SetParams(t.Timing); err != nil {
		return fmt.Errorf("timing params: %w", err)
	}
	s.policy = t.Policy
	s.cooldown = cooldownPolicy{base: t.CooldownBase, max: t.CooldownMax}
	if t.MaxConcurrency <= 0 {
		t.MaxConcurrency = 1
	}
	// Running tasks keep their permits; a lower limit only blocks new
	// launches until enough of them return.
	s.exec.limiter.SetLimit(t.MaxConcurrency)
	s.exec.pacer.SetRate(s.now(), t.HiddenLaunchRate, t.HiddenLaunchBurst)
	for _, evicted := range s.recent.Resize(t.RecencyCapacity) {
		s.logger.Debug("recency entry dropped on resize", "doc", evicted)
	}
	s.logger.Info("scheduler reconfigured", "max_concurrency", t.MaxConcurrency, "recency", s.recent.Cap())
	return nil
}

// Close stops planning, cancels running tasks and waits for them to return.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.exec.ready = nil
	s.cancel()
	s.mu.Unlock()

	s.exec.wg.Wait()
	return s.col.inbox.Close()
}
