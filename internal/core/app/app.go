package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"synsched/internal/core/config"
	domainErrors "synsched/internal/core/errors"
	"synsched/internal/core/ports"
	"synsched/internal/core/watcher"
	"synsched/internal/engine/parser"
	"synsched/internal/engine/scheduler"
)

// DefaultViewportBytes is the size of the simulated screen.
const DefaultViewportBytes = 4096

// Deps overrides the collaborators App would otherwise build from config.
type Deps struct {
	Engine parser.Engine
	Loader parser.Loader
	// Resolver maps paths to language ids. Defaults to the loader's
	// registry when the loader is a *parser.GrammarLoader.
	Resolver      *parser.Resolver
	Now           func() time.Time
	Logger        *slog.Logger
	ViewportBytes int
}

// App is an editor session: a set of open documents whose parse trees are
// kept fresh by a scheduler.
type App struct {
	Config *config.Config

	sched    *scheduler.Scheduler
	loader   parser.Loader
	resolver *parser.Resolver
	logger   *slog.Logger
	now      func() time.Time
	viewport int

	mu     sync.Mutex
	docs   map[scheduler.DocumentID]*document
	byPath map[string]scheduler.DocumentID
	nextID scheduler.DocumentID
	focus  scheduler.DocumentID
	ticks  uint64

	activeWatcher *watcher.Watcher

	updateMu sync.RWMutex
	onUpdate func(ports.Update)
}

type document struct {
	id       scheduler.DocumentID
	path     string
	language string
	content  []byte
	version  uint64
	viewport parser.Span
}

func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	viewport := deps.ViewportBytes
	if viewport <= 0 {
		viewport = DefaultViewportBytes
	}

	loader := deps.Loader
	if loader == nil {
		opts, err := LoaderOptions(cfg, logger)
		if err != nil {
			return nil, err
		}
		gl, err := parser.NewGrammarLoader(opts)
		if err != nil {
			return nil, fmt.Errorf("build grammar loader: %w", err)
		}
		loader = gl
	}

	resolver := deps.Resolver
	if resolver == nil {
		registry, err := registryFor(cfg, loader)
		if err != nil {
			return nil, err
		}
		resolver, err = parser.NewResolver(registry)
		if err != nil {
			return nil, fmt.Errorf("build language resolver: %w", err)
		}
	}

	engine := deps.Engine
	if engine == nil {
		engine = parser.NewTreeSitterEngine(logger)
	}

	tuning, err := TuningFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(scheduler.Options{
		Engine:       engine,
		Tuning:       tuning,
		ResultBuffer: cfg.Scheduler.ResultBuffer,
		Now:          now,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Config:   cfg,
		sched:    sched,
		loader:   loader,
		resolver: resolver,
		logger:   logger,
		now:      now,
		viewport: viewport,
		docs:     make(map[scheduler.DocumentID]*document),
		byPath:   make(map[string]scheduler.DocumentID),
	}, nil
}

func registryFor(cfg *config.Config, loader parser.Loader) (map[string]parser.LanguageSpec, error) {
	if gl, ok := loader.(*parser.GrammarLoader); ok {
		return gl.LanguageRegistry(), nil
	}
	return parser.BuildLanguageRegistry(languageOverrides(cfg))
}

// Scheduler exposes the underlying scheduler for stats and tests.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Open reads path and adds it to the session. Opening a path twice returns
// the existing document.
func (a *App) Open(path string) (ports.DocumentView, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ports.DocumentView{}, err
	}
	a.mu.Lock()
	if id, ok := a.byPath[abs]; ok {
		view := a.viewLocked(a.docs[id])
		a.mu.Unlock()
		return view, nil
	}
	w := a.activeWatcher
	a.mu.Unlock()

	language, ok := a.resolver.Resolve(abs)
	if !ok {
		return ports.DocumentView{}, domainErrors.AddContext(
			domainErrors.New(domainErrors.CodeNotSupported, "no language for path"),
			domainErrors.CtxDocument, abs)
	}

	var content []byte
	if w != nil {
		content, err = w.Track(abs)
	} else {
		content, err = os.ReadFile(abs)
	}
	if err != nil {
		return ports.DocumentView{}, fmt.Errorf("open %s: %w", abs, err)
	}
	return a.add(abs, language, content), nil
}

// OpenContent adds an in-memory document.
func (a *App) OpenContent(name, language string, content []byte) ports.DocumentView {
	return a.add(name, language, content)
}

func (a *App) add(path, language string, content []byte) ports.DocumentView {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	doc := &document{
		id:       a.nextID,
		path:     path,
		language: language,
		content:  content,
		version:  1,
	}
	doc.viewport = clampView(0, a.viewport, len(content))
	a.docs[doc.id] = doc
	if path != "" {
		a.byPath[path] = doc.id
	}
	if a.focus == 0 {
		a.focus = doc.id
	}
	a.logger.Info("document opened", "doc", doc.id, "path", path, "language", language, "bytes", len(content))
	return a.viewLocked(doc)
}

// CloseDocument evicts id from the scheduler and forgets it.
func (a *App) CloseDocument(id scheduler.DocumentID) error {
	a.mu.Lock()
	doc, ok := a.docs[id]
	if !ok {
		a.mu.Unlock()
		return notFound(id)
	}
	delete(a.docs, id)
	delete(a.byPath, doc.path)
	if a.focus == id {
		a.focus = a.firstIDLocked()
	}
	w := a.activeWatcher
	a.mu.Unlock()

	if w != nil {
		w.Untrack(doc.path)
	}
	a.sched.Evict(id)
	return nil
}

func (a *App) firstIDLocked() scheduler.DocumentID {
	var first scheduler.DocumentID
	for id := range a.docs {
		if first == 0 || id < first {
			first = id
		}
	}
	return first
}

// IDs returns the open documents in opening order.
func (a *App) IDs() []scheduler.DocumentID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idsLocked()
}

func (a *App) idsLocked() []scheduler.DocumentID {
	ids := make([]scheduler.DocumentID, 0, len(a.docs))
	for id := range a.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (a *App) SetUpdateHandler(handler func(ports.Update)) {
	a.updateMu.Lock()
	defer a.updateMu.Unlock()
	a.onUpdate = handler
}

func (a *App) emitUpdate(update ports.Update) {
	a.updateMu.RLock()
	handler := a.onUpdate
	a.updateMu.RUnlock()
	if handler != nil {
		handler(update)
	}
}

// Close stops the watcher and the scheduler.
func (a *App) Close() error {
	a.mu.Lock()
	w := a.activeWatcher
	a.activeWatcher = nil
	a.mu.Unlock()

	var werr error
	if w != nil {
		werr = w.Close()
	}
	if err := a.sched.Close(); err != nil {
		return err
	}
	return werr
}

func (a *App) viewLocked(doc *document) ports.DocumentView {
	view := ports.DocumentView{
		ID:       doc.id,
		Path:     doc.path,
		Language: doc.language,
		Size:     len(doc.content),
		Version:  doc.version,
		Viewport: doc.viewport,
		Focused:  doc.id == a.focus,
	}
	if st, ok := a.sched.DocumentStats(doc.id); ok {
		view.Schedule = st
	}
	if tree, _, ok := a.sched.Tree(doc.id); ok {
		view.TreeHasError = tree.HasError()
	}
	return view
}

func notFound(id scheduler.DocumentID) error {
	return domainErrors.AddContext(
		domainErrors.New(domainErrors.CodeNotFound, "document not open"),
		domainErrors.CtxDocument, fmt.Sprint(id))
}

func clampView(start, length, size int) parser.Span {
	start = max(0, min(start, size))
	return parser.Span{Start: start, End: min(size, start+length)}
}
