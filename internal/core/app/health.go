package app

import (
	"context"
	"fmt"
	"time"

	"synsched/internal/shared/util"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
	// MaxHeapMB degrades the status above this heap size. Zero disables it.
	MaxHeapMB uint64
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}

	if s.app == nil || s.app.sched == nil {
		status.Status = "down"
		status.Components["scheduler"] = "missing"
		return status
	}

	stats := s.app.sched.Stats()
	status.Components["scheduler"] = fmt.Sprintf("ok (%d documents, %d/%d in flight, %d ready)",
		stats.Documents, stats.InFlight, stats.Limit, stats.Ready)

	unavailable := 0
	for _, doc := range s.app.sched.Documents() {
		if doc.Unavailable {
			unavailable++
		}
	}
	if unavailable > 0 {
		status.Status = "degraded"
		status.Components["grammars"] = fmt.Sprintf("%d documents without a grammar", unavailable)
	} else {
		status.Components["grammars"] = "ok"
	}

	heap := util.GetHeapAllocMB()
	status.Components["heap"] = fmt.Sprintf("%d MB", heap)
	if s.MaxHeapMB > 0 && heap > s.MaxHeapMB {
		status.Status = "degraded"
	}

	return status
}
