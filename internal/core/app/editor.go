package app

import (
	"fmt"

	domainErrors "synsched/internal/core/errors"
	"synsched/internal/core/ports"
	"synsched/internal/core/watcher"
	"synsched/internal/engine/parser"
	"synsched/internal/engine/scheduler"
)

// Edit applies a replacement to a document, producing the next version and
// reporting the delta to the scheduler.
func (a *App) Edit(req ports.EditRequest) (ports.DocumentView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc, ok := a.docs[req.Doc]
	if !ok {
		return ports.DocumentView{}, notFound(req.Doc)
	}
	if req.Start < 0 || req.OldEnd < req.Start || req.OldEnd > len(doc.content) {
		return ports.DocumentView{}, domainErrors.AddContext(
			domainErrors.New(domainErrors.CodeValidationError,
				fmt.Sprintf("edit range %d..%d outside document of %d bytes", req.Start, req.OldEnd, len(doc.content))),
			domainErrors.CtxDocument, fmt.Sprint(req.Doc))
	}

	next := make([]byte, 0, len(doc.content)-(req.OldEnd-req.Start)+len(req.Insert))
	next = append(next, doc.content[:req.Start]...)
	next = append(next, req.Insert...)
	next = append(next, doc.content[req.OldEnd:]...)

	delta := scheduler.Delta{
		BaseVersion: doc.version,
		Version:     doc.version + 1,
		Edit: parser.Edit{
			StartByte:  req.Start,
			OldEndByte: req.OldEnd,
			NewEndByte: req.Start + len(req.Insert),
		},
	}
	if err := a.sched.NoteEdit(doc.id, delta); err != nil {
		return ports.DocumentView{}, err
	}

	doc.content = next
	doc.version = delta.Version
	doc.viewport = clampView(doc.viewport.Start, a.viewport, len(next))
	return a.viewLocked(doc), nil
}

// Scroll moves the viewport by delta bytes, keeping it inside the document.
func (a *App) Scroll(id scheduler.DocumentID, delta int) (ports.DocumentView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc, ok := a.docs[id]
	if !ok {
		return ports.DocumentView{}, notFound(id)
	}
	start := doc.viewport.Start + delta
	start = min(start, max(0, len(doc.content)-a.viewport))
	doc.viewport = clampView(start, a.viewport, len(doc.content))
	return a.viewLocked(doc), nil
}

// Focus makes id the visible document. Every other document is hidden.
func (a *App) Focus(id scheduler.DocumentID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.docs[id]; !ok {
		return notFound(id)
	}
	a.focus = id
	return nil
}

// Reset forces a full reparse of id on the next tick.
func (a *App) Reset(id scheduler.DocumentID) error {
	a.mu.Lock()
	_, ok := a.docs[id]
	a.mu.Unlock()
	if !ok {
		return notFound(id)
	}
	a.sched.Reset(id)
	return nil
}

// Tick runs one editor frame: every open document is handed to the
// scheduler, focused one visible and the rest hidden.
func (a *App) Tick() ports.Update {
	a.mu.Lock()
	a.ticks++
	changed := 0
	for _, id := range a.idsLocked() {
		doc := a.docs[id]
		hotness := scheduler.Cold
		if id == a.focus {
			hotness = scheduler.Visible
		}
		res := a.sched.Ensure(scheduler.EnsureRequest{
			Doc:      id,
			Version:  doc.version,
			Language: doc.language,
			Content:  doc.content,
			Viewport: doc.viewport,
			Hotness:  hotness,
			Loader:   a.loader,
		})
		if res.Changed {
			changed++
		}
	}
	update := a.snapshotLocked(changed)
	a.mu.Unlock()

	a.emitUpdate(update)
	return update
}

// Snapshot reports the current session state without running a tick.
func (a *App) Snapshot() ports.Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(0)
}

func (a *App) snapshotLocked(changed int) ports.Update {
	ids := a.idsLocked()
	views := make([]ports.DocumentView, 0, len(ids))
	for _, id := range ids {
		views = append(views, a.viewLocked(a.docs[id]))
	}
	return ports.Update{
		Tick:      a.ticks,
		At:        a.now(),
		Changed:   changed,
		Documents: views,
		Scheduler: a.sched.Stats(),
	}
}

// HandleChanges turns settled on-disk modifications into new document
// versions. The scheduler sees them as replacements without a delta, so the
// next background pass is a full parse.
func (a *App) HandleChanges(changes []watcher.Change) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, change := range changes {
		id, ok := a.byPath[change.Path]
		if !ok {
			continue
		}
		doc := a.docs[id]
		if change.Removed {
			a.logger.Warn("open document removed on disk; keeping buffer", "doc", id, "path", change.Path)
			continue
		}
		doc.content = change.Content
		doc.version++
		doc.viewport = clampView(doc.viewport.Start, a.viewport, len(change.Content))
		a.logger.Info("document reloaded from disk", "doc", id, "path", change.Path, "version", doc.version, "bytes", len(change.Content))
	}
}

// StartWatcher follows every opened path on disk.
func (a *App) StartWatcher() error {
	w, err := watcher.NewWatcher(a.Config.Watch.Debounce, a.Config.Watch.Exclude, a.HandleChanges)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for path := range a.byPath {
		if _, err := w.Track(path); err != nil {
			a.logger.Warn("cannot watch document", "path", path, "error", err)
		}
	}
	a.activeWatcher = w
	return nil
}
