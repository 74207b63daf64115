package parser

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// LanguageSpec describes how paths map onto a language id. Filenames are
// glob patterns matched against the lower-cased base name.
type LanguageSpec struct {
	Name       string
	Extensions []string
	Filenames  []string
	Enabled    bool
}

type LanguageOverride struct {
	Enabled    *bool
	Extensions []string
	Filenames  []string
}

func DefaultLanguageRegistry() map[string]LanguageSpec {
	return map[string]LanguageSpec{
		"css": {
			Name:       "css",
			Extensions: []string{".css"},
			Enabled:    true,
		},
		"go": {
			Name:       "go",
			Extensions: []string{".go"},
			Enabled:    true,
		},
		"html": {
			Name:       "html",
			Extensions: []string{".html", ".htm"},
			Enabled:    true,
		},
		"java": {
			Name:       "java",
			Extensions: []string{".java"},
			Enabled:    true,
		},
		"javascript": {
			Name:       "javascript",
			Extensions: []string{".js", ".cjs", ".mjs", ".jsx"},
			Enabled:    true,
		},
		"python": {
			Name:       "python",
			Extensions: []string{".py", ".pyi"},
			Filenames:  []string{"sconstruct", "sconscript"},
			Enabled:    true,
		},
		"rust": {
			Name:       "rust",
			Extensions: []string{".rs"},
			Enabled:    true,
		},
		"tsx": {
			Name:       "tsx",
			Extensions: []string{".tsx"},
			Enabled:    true,
		},
		"typescript": {
			Name:       "typescript",
			Extensions: []string{".ts", ".mts", ".cts"},
			Enabled:    true,
		},
	}
}

// BuildLanguageRegistry applies overrides on top of the defaults. An
// override for an unknown id adds a new language, enabled unless stated
// otherwise; its grammar must then come from a dynamic manifest.
func BuildLanguageRegistry(overrides map[string]LanguageOverride) (map[string]LanguageSpec, error) {
	registry := cloneLanguageRegistry(DefaultLanguageRegistry())
	for language, override := range overrides {
		language = strings.TrimSpace(strings.ToLower(language))
		if language == "" {
			return nil, fmt.Errorf("language override with empty id")
		}
		spec, ok := registry[language]
		if !ok {
			spec = LanguageSpec{Name: language, Enabled: true}
		}
		if override.Enabled != nil {
			spec.Enabled = *override.Enabled
		}
		if len(override.Extensions) > 0 {
			spec.Extensions = normalizeExtensions(override.Extensions)
		}
		if len(override.Filenames) > 0 {
			spec.Filenames = normalizeFilenames(override.Filenames)
		}
		registry[language] = spec
	}

	if err := validateLanguageRegistry(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

func cloneLanguageRegistry(in map[string]LanguageSpec) map[string]LanguageSpec {
	out := make(map[string]LanguageSpec, len(in))
	for id, spec := range in {
		copySpec := spec
		copySpec.Extensions = append([]string(nil), spec.Extensions...)
		copySpec.Filenames = append([]string(nil), spec.Filenames...)
		out[id] = copySpec
	}
	return out
}

func validateLanguageRegistry(registry map[string]LanguageSpec) error {
	extOwner := make(map[string]string)
	for _, id := range sortedRegistryIDs(registry) {
		spec := registry[id]
		if !spec.Enabled {
			continue
		}
		for _, ext := range normalizeExtensions(spec.Extensions) {
			if existing, ok := extOwner[ext]; ok && existing != id {
				return fmt.Errorf("duplicate extension %q owned by %q and %q", ext, existing, id)
			}
			extOwner[ext] = id
		}
		for _, pattern := range spec.Filenames {
			if _, err := glob.Compile(pattern); err != nil {
				return fmt.Errorf("language %q: invalid filename pattern %q: %w", id, pattern, err)
			}
		}
	}
	return nil
}

func normalizeExtensions(values []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(values))
	for _, value := range values {
		raw := strings.TrimSpace(strings.ToLower(value))
		if raw == "" {
			continue
		}
		if !strings.HasPrefix(raw, ".") {
			raw = "." + raw
		}
		if seen[raw] {
			continue
		}
		seen[raw] = true
		out = append(out, raw)
	}
	sort.Strings(out)
	return out
}

func normalizeFilenames(values []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(values))
	for _, value := range values {
		raw := strings.TrimSpace(strings.ToLower(path.Base(value)))
		if raw == "" || raw == "." {
			continue
		}
		if seen[raw] {
			continue
		}
		seen[raw] = true
		out = append(out, raw)
	}
	sort.Strings(out)
	return out
}

func sortedRegistryIDs(registry map[string]LanguageSpec) []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type filenameRule struct {
	language string
	pattern  glob.Glob
}

// Resolver maps file paths to language ids. Filename patterns win over
// extensions; among extensions the longest suffix wins.
type Resolver struct {
	filenames  []filenameRule
	extensions map[string]string
}

func NewResolver(registry map[string]LanguageSpec) (*Resolver, error) {
	r := &Resolver{extensions: make(map[string]string)}
	for _, id := range sortedRegistryIDs(registry) {
		spec := registry[id]
		if !spec.Enabled {
			continue
		}
		for _, pattern := range spec.Filenames {
			g, err := glob.Compile(strings.ToLower(pattern))
			if err != nil {
				return nil, fmt.Errorf("language %q: invalid filename pattern %q: %w", id, pattern, err)
			}
			r.filenames = append(r.filenames, filenameRule{language: id, pattern: g})
		}
		for _, ext := range normalizeExtensions(spec.Extensions) {
			r.extensions[ext] = id
		}
	}
	return r, nil
}

// Resolve returns the language id for p, or false when nothing matches.
func (r *Resolver) Resolve(p string) (string, bool) {
	base := strings.ToLower(filepath.Base(p))
	for _, rule := range r.filenames {
		if rule.pattern.Match(base) {
			return rule.language, true
		}
	}

	// Walk dots left to right so ".d.ts" is tried before ".ts".
	for i := 0; i < len(base); i++ {
		if base[i] != '.' {
			continue
		}
		if id, ok := r.extensions[base[i:]]; ok {
			return id, true
		}
	}
	return "", false
}
