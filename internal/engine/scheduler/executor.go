package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"synsched/internal/data/queue"
	"synsched/internal/engine/parser"
	"synsched/internal/shared/observability"
	"synsched/internal/shared/util"
)

// executor launches planned tasks onto worker goroutines under the global
// concurrency limit. Tasks that cannot get a permit wait in the ready list.
type executor struct {
	ctx    context.Context
	engine parser.Engine
	inbox  *queue.MemoryQueue[CompletedTask]
	logger *slog.Logger

	limiter *util.ConcurrencyLimiter
	pacer   *util.Limiter
	wg      sync.WaitGroup

	ready []TaskSpec
}

// lessReady orders the ready list: lane priority, then hotness, then age.
func lessReady(a, b TaskSpec) bool {
	if a.Lane != b.Lane {
		return a.Lane < b.Lane
	}
	if a.Hotness != b.Hotness {
		return a.Hotness > b.Hotness
	}
	return a.ID < b.ID
}

func (x *executor) submit(specs ...TaskSpec) {
	x.ready = append(x.ready, specs...)
}

// stale reports whether a queued task no longer owns its lane.
func stale(spec TaskSpec, entries map[DocumentID]*DocEntry) bool {
	e, ok := entries[spec.Doc]
	if !ok {
		return true
	}
	return e.schedule.epoch != spec.Epoch || e.lane(spec.Lane).active != spec.ID
}

// prune drops queued tasks for which keep returns false and frees their
// lanes.
func (x *executor) prune(entries map[DocumentID]*DocEntry, keep func(TaskSpec) bool) int {
	kept := x.ready[:0]
	dropped := 0
	for _, spec := range x.ready {
		if keep(spec) {
			kept = append(kept, spec)
			continue
		}
		dropped++
		if e, ok := entries[spec.Doc]; ok {
			if l := e.lane(spec.Lane); l.active == spec.ID {
				l.active = 0
			}
		}
	}
	clear(x.ready[len(kept):])
	x.ready = kept
	if dropped > 0 {
		observability.TasksDiscardedTotal.Add(float64(dropped))
	}
	return dropped
}

// pump launches as many ready tasks as permits allow. Hidden background
// parses also need a pacer token.
func (x *executor) pump(now time.Time, entries map[DocumentID]*DocEntry, col *collector) (launched, dropped int) {
	dropped = x.prune(entries, func(spec TaskSpec) bool { return !stale(spec, entries) })
	sort.SliceStable(x.ready, func(i, j int) bool { return lessReady(x.ready[i], x.ready[j]) })

	kept := x.ready[:0]
	saturated := false
	for _, spec := range x.ready {
		if saturated {
			kept = append(kept, spec)
			continue
		}
		if !x.limiter.TryAcquire() {
			saturated = true
			kept = append(kept, spec)
			continue
		}
		if spec.Lane == LaneBackground && spec.Hotness != Visible && !x.pacer.AllowAt(now, 1) {
			x.limiter.Release()
			kept = append(kept, spec)
			continue
		}
		col.track(spec)
		x.launch(spec)
		launched++
	}
	clear(x.ready[len(kept):])
	x.ready = kept
	observability.ReadyQueueDepth.Set(float64(len(x.ready)))
	return launched, dropped
}

func (x *executor) launch(spec TaskSpec) {
	observability.TasksLaunchedTotal.WithLabelValues(spec.Lane.String(), spec.Kind.String()).Inc()
	limiter := x.limiter
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		defer limiter.Release()
		observability.TasksInFlight.Inc()
		defer observability.TasksInFlight.Dec()

		x.deliver(spec, x.run(spec))
	}()
}

// deliver hands a result to the collector, waiting for room when the inbox
// is full.
func (x *executor) deliver(spec TaskSpec, done CompletedTask) {
	switch x.inbox.Enqueue(done) {
	case queue.EnqueueAccepted:
		return
	case queue.EnqueueClosed:
		x.logger.Debug("parse result dropped", "task", spec.ID, "doc", spec.Doc, "error", queue.ErrClosed)
		return
	}
	observability.ResultInboxFullTotal.Inc()
	if err := x.inbox.EnqueueWait(x.ctx, done); err != nil {
		x.logger.Debug("parse result dropped", "task", spec.ID, "doc", spec.Doc, "error", err)
	}
}

func (x *executor) run(spec TaskSpec) CompletedTask {
	ctx, span := observability.Tracer.Start(x.ctx, "scheduler.parse", trace.WithAttributes(
		attribute.String("language", spec.Language),
		attribute.String("lane", spec.Lane.String()),
		attribute.String("kind", spec.Kind.String()),
		attribute.Int64("version", int64(spec.Version)),
		attribute.Int("bytes", len(spec.Content)),
	))
	defer span.End()

	opts := parser.Options{Injections: spec.Injections, Timeout: spec.Timeout}
	if spec.Kind == KindViewport {
		viewport := spec.Span
		opts.Span = &viewport
	}

	start := time.Now()
	var (
		tree *parser.Tree
		err  error
	)
	if spec.Kind == KindIncremental {
		tree, err = x.engine.UpdateIncremental(ctx, spec.Base, spec.BaseContent, spec.Content, spec.Edit, spec.Language, spec.Loader, opts)
	} else {
		tree, err = x.engine.Parse(ctx, spec.Content, spec.Language, spec.Loader, opts)
	}
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case err == nil:
	case parser.IsTimeout(err):
		outcome = "timeout"
	case parser.IsCancelled(err):
		outcome = "cancelled"
	default:
		outcome = "error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	observability.ParsingDuration.WithLabelValues(spec.Language, spec.Lane.String(), outcome).Observe(elapsed.Seconds())
	observability.TasksCompletedTotal.WithLabelValues(spec.Lane.String(), outcome).Inc()

	return CompletedTask{
		Doc:      spec.Doc,
		ID:       spec.ID,
		Lane:     spec.Lane,
		Kind:     spec.Kind,
		Epoch:    spec.Epoch,
		Version:  spec.Version,
		Language: spec.Language,
		Options:  spec.Options,
		Tier:     spec.Tier,
		Span:     spec.Span,
		Content:  spec.Content,
		Tree:     tree,
		Err:      err,
		Elapsed:  elapsed,
		Key:      spec.timingKey(),
	}
}
