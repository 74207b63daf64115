package parser

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"synsched/internal/engine/parser/grammar"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_css "github.com/tree-sitter/tree-sitter-css/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_html "github.com/tree-sitter/tree-sitter-html/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// Loader resolves grammars and injection queries by language id. It is
// shared with workers and must be safe for concurrent use.
type Loader interface {
	Language(id string) (*sitter.Language, error)
	Injections(host string) ([]*InjectionQuery, error)
}

type LoaderOptions struct {
	// Registry restricts which languages may be loaded. Nil uses the
	// defaults.
	Registry map[string]LanguageSpec
	// ManifestPath points at a dynamic grammar manifest. Shared objects are
	// resolved relative to GrammarsDir.
	ManifestPath string
	GrammarsDir  string
	// SkipVerify disables manifest checksum verification.
	SkipVerify bool
	// Injections are added to DefaultInjectionRules.
	Injections []InjectionRule
	Logger     *slog.Logger
}

type GrammarLoader struct {
	registry map[string]LanguageSpec
	rules    map[string][]InjectionRule
	logger   *slog.Logger

	mu        sync.Mutex
	languages map[string]*sitter.Language
	queries   map[string][]*InjectionQuery
	failed    map[string]error
}

func NewGrammarLoader(opts LoaderOptions) (*GrammarLoader, error) {
	registry := opts.Registry
	if registry == nil {
		var err error
		registry, err = BuildLanguageRegistry(nil)
		if err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gl := &GrammarLoader{
		registry:  cloneLanguageRegistry(registry),
		rules:     make(map[string][]InjectionRule),
		logger:    logger,
		languages: make(map[string]*sitter.Language),
		queries:   make(map[string][]*InjectionQuery),
		failed:    make(map[string]error),
	}

	rules := append(DefaultInjectionRules(), opts.Injections...)
	for _, rule := range rules {
		if err := rule.validate(); err != nil {
			return nil, err
		}
		gl.rules[rule.Host] = append(gl.rules[rule.Host], rule)
	}

	if opts.ManifestPath != "" {
		if err := gl.loadManifest(opts.ManifestPath, opts.GrammarsDir, !opts.SkipVerify); err != nil {
			return nil, err
		}
	}
	return gl, nil
}

func (gl *GrammarLoader) loadManifest(manifestPath, grammarsDir string, verify bool) error {
	if grammarsDir == "" {
		grammarsDir = filepath.Dir(manifestPath)
	}
	manifest, err := grammar.LoadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("load grammar manifest: %w", err)
	}
	languages, issues, err := grammar.LoadVerified(grammarsDir, manifest, verify)
	if err != nil {
		return fmt.Errorf("verify grammars: %w", err)
	}
	for _, issue := range issues {
		gl.logger.Warn("dynamic grammar rejected", "language", issue.Language, "reason", issue.Reason)
		gl.failed[issue.Language] = fmt.Errorf("%s", issue.String())
	}
	for id, lang := range languages {
		if _, ok := gl.registry[id]; !ok {
			gl.registry[id] = LanguageSpec{Name: id, Enabled: true}
		}
		gl.languages[id] = lang
	}
	return nil
}

// Language returns the grammar for id, loading built-ins on first use.
// Failures are remembered so a broken grammar is not retried per task.
func (gl *GrammarLoader) Language(id string) (*sitter.Language, error) {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	return gl.languageLocked(id)
}

func (gl *GrammarLoader) languageLocked(id string) (*sitter.Language, error) {
	if lang, ok := gl.languages[id]; ok {
		return lang, nil
	}
	if err, ok := gl.failed[id]; ok {
		return nil, grammarUnavailable(id, err)
	}

	spec, ok := gl.registry[id]
	if !ok || !spec.Enabled {
		return nil, grammarUnavailable(id, nil)
	}

	lang := builtinLanguage(id)
	if lang == nil {
		err := fmt.Errorf("language %q is enabled but no grammar is linked or listed in the manifest", id)
		gl.failed[id] = err
		return nil, grammarUnavailable(id, err)
	}
	gl.languages[id] = lang
	return lang, nil
}

// Injections returns compiled injection queries for host. Targets that
// cannot be loaded are skipped with a warning.
func (gl *GrammarLoader) Injections(host string) ([]*InjectionQuery, error) {
	gl.mu.Lock()
	defer gl.mu.Unlock()

	if qs, ok := gl.queries[host]; ok {
		return qs, nil
	}
	rules := gl.rules[host]
	if len(rules) == 0 {
		gl.queries[host] = nil
		return nil, nil
	}

	lang, err := gl.languageLocked(host)
	if err != nil {
		return nil, err
	}

	qs := make([]*InjectionQuery, 0, len(rules))
	for _, rule := range rules {
		if _, err := gl.languageLocked(rule.Target); err != nil {
			gl.logger.Warn("injection target unavailable", "host", host, "target", rule.Target, "error", err)
			continue
		}
		q, err := compileInjection(lang, rule)
		if err != nil {
			gl.logger.Warn("injection query rejected", "host", host, "target", rule.Target, "error", err)
			continue
		}
		qs = append(qs, q)
	}
	gl.queries[host] = qs
	return qs, nil
}

// SupportedLanguages lists enabled language ids.
func (gl *GrammarLoader) SupportedLanguages() []string {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	ids := make([]string, 0, len(gl.registry))
	for id, spec := range gl.registry {
		if spec.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (gl *GrammarLoader) LanguageRegistry() map[string]LanguageSpec {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	return cloneLanguageRegistry(gl.registry)
}

func builtinLanguage(id string) *sitter.Language {
	switch strings.ToLower(id) {
	case "css":
		return sitter.NewLanguage(tree_sitter_css.Language())
	case "go":
		return sitter.NewLanguage(tree_sitter_go.Language())
	case "html":
		return sitter.NewLanguage(tree_sitter_html.Language())
	case "java":
		return sitter.NewLanguage(tree_sitter_java.Language())
	case "javascript":
		return sitter.NewLanguage(tree_sitter_javascript.Language())
	case "python":
		return sitter.NewLanguage(tree_sitter_python.Language())
	case "rust":
		return sitter.NewLanguage(tree_sitter_rust.Language())
	case "tsx":
		return sitter.NewLanguage(tree_sitter_typescript.LanguageTSX())
	case "typescript":
		return sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
	default:
		return nil
	}
}
