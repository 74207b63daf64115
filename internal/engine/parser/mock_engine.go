package parser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MockCall records one engine invocation.
type MockCall struct {
	Incremental bool
	Language    string
	Length      int
	Options     Options
}

// MockEngine is a programmable Engine for tests. Trees it returns carry no
// native parse. The zero value succeeds immediately.
type MockEngine struct {
	// Delay is how long each call takes before returning.
	Delay time.Duration
	// Gate, when set, blocks every call until a value is received or the
	// call's context or budget ends.
	Gate chan struct{}
	// ParseErr is returned by Parse and by the fallback path of
	// UpdateIncremental.
	ParseErr error
	// IncrementalErr makes the incremental path fail, triggering the same
	// fallback as the reference engine.
	IncrementalErr error
	// Hook, when set, runs before the result is produced and may override
	// the error.
	Hook func(MockCall) error

	parses       atomic.Int64
	incrementals atomic.Int64
	fallbacks    atomic.Int64

	mu    sync.Mutex
	calls []MockCall
}

func (m *MockEngine) Parse(ctx context.Context, content []byte, language string, loader Loader, opts Options) (*Tree, error) {
	m.parses.Add(1)
	call := MockCall{Language: language, Length: len(content), Options: opts}
	if err := m.run(ctx, call); err != nil {
		return nil, err
	}
	if m.ParseErr != nil {
		return nil, m.ParseErr
	}
	return mockTree(language, len(content), opts), nil
}

func (m *MockEngine) UpdateIncremental(ctx context.Context, prev *Tree, oldContent, newContent []byte, edit Edit, language string, loader Loader, opts Options) (*Tree, error) {
	m.incrementals.Add(1)
	call := MockCall{Incremental: true, Language: language, Length: len(newContent), Options: opts}
	if err := m.run(ctx, call); err != nil {
		return nil, err
	}
	if m.IncrementalErr == nil && prev != nil && prev.language == language {
		return mockTree(language, len(newContent), opts), nil
	}
	m.fallbacks.Add(1)
	return m.Parse(ctx, newContent, language, loader, opts)
}

func (m *MockEngine) run(ctx context.Context, call MockCall) error {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	var deadline <-chan time.Time
	if call.Options.Timeout > 0 {
		timer := time.NewTimer(call.Options.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	if m.Delay > 0 {
		delay := time.NewTimer(m.Delay)
		defer delay.Stop()
		select {
		case <-delay.C:
		case <-deadline:
			return timeoutError(call.Language, call.Options.Timeout)
		case <-ctx.Done():
			return cancelledError(call.Language, ctx.Err())
		}
	}
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-deadline:
			return timeoutError(call.Language, call.Options.Timeout)
		case <-ctx.Done():
			return cancelledError(call.Language, ctx.Err())
		}
	}
	if m.Hook != nil {
		return m.Hook(call)
	}
	return nil
}

func mockTree(language string, length int, opts Options) *Tree {
	span := Span{Start: 0, End: length}
	if opts.Span != nil {
		span = clampSpan(*opts.Span, length)
	}
	return NewTree(language, span, opts.Span == nil, opts.Injections)
}

// ParseCalls counts Parse invocations, including incremental fallbacks.
func (m *MockEngine) ParseCalls() int64 { return m.parses.Load() }

func (m *MockEngine) IncrementalCalls() int64 { return m.incrementals.Load() }

func (m *MockEngine) Fallbacks() int64 { return m.fallbacks.Load() }

// Calls returns a copy of every recorded invocation in arrival order.
func (m *MockEngine) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}
