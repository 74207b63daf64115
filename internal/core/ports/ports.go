package ports

import (
	"context"
	"time"

	"synsched/internal/engine/parser"
	"synsched/internal/engine/scheduler"
)

// DocumentView is the editor-side state of an open document together with
// what the scheduler knows about it.
type DocumentView struct {
	ID       scheduler.DocumentID
	Path     string
	Language string
	Size     int
	Version  uint64
	Viewport parser.Span
	Focused  bool
	// TreeHasError reports syntax errors in the installed tree.
	TreeHasError bool
	Schedule     scheduler.DocumentStats
}

// Update is emitted to driving adapters after every editor tick.
type Update struct {
	Tick      uint64
	At        time.Time
	Changed   int
	Documents []DocumentView
	Scheduler scheduler.Stats
}

// EditRequest replaces [Start, OldEnd) of the current content with Insert.
type EditRequest struct {
	Doc    scheduler.DocumentID
	Start  int
	OldEnd int
	Insert []byte
}

// SessionService is the driving port over an editor session: documents are
// opened, edited, scrolled and focused, and every Tick asks the scheduler to
// keep their trees fresh.
type SessionService interface {
	Open(ctx context.Context, path string) (DocumentView, error)
	OpenContent(ctx context.Context, name, language string, content []byte) (DocumentView, error)
	CloseDocument(ctx context.Context, id scheduler.DocumentID) error
	Edit(ctx context.Context, req EditRequest) (DocumentView, error)
	Scroll(ctx context.Context, id scheduler.DocumentID, delta int) (DocumentView, error)
	Focus(ctx context.Context, id scheduler.DocumentID) error
	Reset(ctx context.Context, id scheduler.DocumentID) error
	Tick(ctx context.Context) (Update, error)
	Snapshot(ctx context.Context) (Update, error)
	Subscribe(ctx context.Context, handler func(Update)) error
}

// Simulator drives a SessionService with synthetic editor activity.
type Simulator interface {
	Step(ctx context.Context) error
}
