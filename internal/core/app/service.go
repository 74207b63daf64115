package app

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"synsched/internal/core/errors"
	"synsched/internal/core/ports"
	"synsched/internal/engine/scheduler"
	"synsched/internal/shared/observability"
)

type sessionService struct {
	app *App
}

var _ ports.SessionService = (*sessionService)(nil)

func NewSessionService(app *App) ports.SessionService {
	return &sessionService{app: app}
}

func (a *App) SessionService() ports.SessionService {
	return NewSessionService(a)
}

func (s *sessionService) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.app == nil {
		return fmt.Errorf("app is required")
	}
	return nil
}

func (s *sessionService) Open(ctx context.Context, path string) (ports.DocumentView, error) {
	ctx, span := observability.Tracer.Start(ctx, "sessionService.Open", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	if err := s.ready(ctx); err != nil {
		return ports.DocumentView{}, err
	}
	view, err := s.app.Open(path)
	if err != nil {
		span.RecordError(err)
		return ports.DocumentView{}, errors.AddContext(err, errors.CtxOperation, "open")
	}
	return view, nil
}

func (s *sessionService) OpenContent(ctx context.Context, name, language string, content []byte) (ports.DocumentView, error) {
	if err := s.ready(ctx); err != nil {
		return ports.DocumentView{}, err
	}
	return s.app.OpenContent(name, language, content), nil
}

func (s *sessionService) CloseDocument(ctx context.Context, id scheduler.DocumentID) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.app.CloseDocument(id)
}

func (s *sessionService) Edit(ctx context.Context, req ports.EditRequest) (ports.DocumentView, error) {
	if err := s.ready(ctx); err != nil {
		return ports.DocumentView{}, err
	}
	view, err := s.app.Edit(req)
	if err != nil {
		return ports.DocumentView{}, errors.AddContext(err, errors.CtxOperation, "edit")
	}
	return view, nil
}

func (s *sessionService) Scroll(ctx context.Context, id scheduler.DocumentID, delta int) (ports.DocumentView, error) {
	if err := s.ready(ctx); err != nil {
		return ports.DocumentView{}, err
	}
	return s.app.Scroll(id, delta)
}

func (s *sessionService) Focus(ctx context.Context, id scheduler.DocumentID) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.app.Focus(id)
}

func (s *sessionService) Reset(ctx context.Context, id scheduler.DocumentID) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.app.Reset(id)
}

func (s *sessionService) Tick(ctx context.Context) (ports.Update, error) {
	_, span := observability.Tracer.Start(ctx, "sessionService.Tick")
	defer span.End()

	if err := s.ready(ctx); err != nil {
		return ports.Update{}, err
	}
	update := s.app.Tick()
	span.SetAttributes(
		attribute.Int64("tick", int64(update.Tick)),
		attribute.Int("documents", len(update.Documents)),
		attribute.Int("changed", update.Changed),
	)
	return update, nil
}

func (s *sessionService) Snapshot(ctx context.Context) (ports.Update, error) {
	if err := s.ready(ctx); err != nil {
		return ports.Update{}, err
	}
	return s.app.Snapshot(), nil
}

// Subscribe installs handler until ctx is done.
func (s *sessionService) Subscribe(ctx context.Context, handler func(ports.Update)) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("update handler is required")
	}
	s.app.SetUpdateHandler(handler)
	go func() {
		<-ctx.Done()
		s.app.SetUpdateHandler(nil)
	}()
	return nil
}
