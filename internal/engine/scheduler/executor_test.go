package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"synsched/internal/data/queue"
	"synsched/internal/shared/observability"
)

func TestExecutorDeliver_WaitsForRoomWhenInboxIsFull(t *testing.T) {
	inbox := queue.NewMemoryQueue[CompletedTask](1)
	x := &executor{ctx: context.Background(), inbox: inbox, logger: slog.Default()}

	before := testutil.ToFloat64(observability.ResultInboxFullTotal)
	x.deliver(TaskSpec{ID: 1}, CompletedTask{ID: 1})
	if got := testutil.ToFloat64(observability.ResultInboxFullTotal); got != before {
		t.Fatalf("accepted result must not count as full, got %v want %v", got, before)
	}

	done := make(chan struct{})
	go func() {
		x.deliver(TaskSpec{ID: 2}, CompletedTask{ID: 2})
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("deliver returned while the inbox was full")
	case <-time.After(20 * time.Millisecond):
	}
	if got := testutil.ToFloat64(observability.ResultInboxFullTotal); got != before+1 {
		t.Fatalf("full inbox counter = %v, want %v", got, before+1)
	}

	if got := inbox.Drain(0); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("unexpected drain %+v", got)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deliver did not resume after the inbox drained")
	}
	if got := inbox.Drain(0); len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("expected the waiting result, got %+v", got)
	}
}

func TestExecutorDeliver_ClosedInboxDropsResult(t *testing.T) {
	inbox := queue.NewMemoryQueue[CompletedTask](1)
	_ = inbox.Close()
	x := &executor{ctx: context.Background(), inbox: inbox, logger: slog.Default()}

	before := testutil.ToFloat64(observability.ResultInboxFullTotal)
	x.deliver(TaskSpec{ID: 1}, CompletedTask{ID: 1})
	if inbox.Len() != 0 {
		t.Fatalf("closed inbox must not accept results")
	}
	if got := testutil.ToFloat64(observability.ResultInboxFullTotal); got != before {
		t.Fatalf("closed inbox is not a full inbox, got %v want %v", got, before)
	}
}
