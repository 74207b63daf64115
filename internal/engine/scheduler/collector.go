package scheduler

import (
	"synsched/internal/data/queue"
	"synsched/internal/engine/parser"
	"synsched/internal/engine/timing"
	"synsched/internal/shared/observability"
)

// launchRecord is what the collector remembers about a running task so a
// result can be matched back to its lane without trusting the worker.
type launchRecord struct {
	doc   DocumentID
	lane  Lane
	epoch uint64
}

// collector receives worker results and routes them to document entries.
type collector struct {
	inbox    *queue.MemoryQueue[CompletedTask]
	launched map[TaskID]launchRecord
}

func newCollector(buffer int) *collector {
	return &collector{
		inbox:    queue.NewMemoryQueue[CompletedTask](buffer),
		launched: make(map[TaskID]launchRecord),
	}
}

func (c *collector) track(spec TaskSpec) {
	c.launched[spec.ID] = launchRecord{doc: spec.Doc, lane: spec.Lane, epoch: spec.Epoch}
}

func (c *collector) running() int { return len(c.launched) }

type collectStats struct {
	collected int
	discarded int
	failed    int
	timedOut  int
}

// drainFinished empties the inbox. Every result frees its lane if the lane
// still points at it; results for evicted documents, stale epochs or
// cancelled runs are discarded, the rest are queued on their entry for the
// install decision.
func (c *collector) drainFinished(entries map[DocumentID]*DocEntry, metrics *timing.Metrics) collectStats {
	var st collectStats
	for _, done := range c.inbox.Drain(0) {
		st.collected++
		rec, known := c.launched[done.ID]
		delete(c.launched, done.ID)
		if !known {
			rec = launchRecord{doc: done.Doc, lane: done.Lane, epoch: done.Epoch}
		}

		cancelled := parser.IsCancelled(done.Err)
		if !cancelled {
			metrics.RecordTaskResult(done.Key, done.Elapsed, parser.IsTimeout(done.Err), done.ok())
		}
		if done.Err != nil && !cancelled {
			st.failed++
			if parser.IsTimeout(done.Err) {
				st.timedOut++
			}
		}

		e, ok := entries[rec.doc]
		if !ok {
			st.discarded++
			observability.TasksDiscardedTotal.Inc()
			continue
		}
		if l := e.lane(rec.lane); l.active == done.ID {
			l.active = 0
		}
		if cancelled || rec.epoch != e.schedule.epoch {
			st.discarded++
			observability.TasksDiscardedTotal.Inc()
			continue
		}
		e.schedule.completed = append(e.schedule.completed, done)
	}
	return st
}
