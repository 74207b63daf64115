package parser

import (
	"fmt"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

const injectionCapture = "injection.content"

// InjectionRule embeds Target inside Host wherever Query captures
// @injection.content.
type InjectionRule struct {
	Host   string
	Target string
	Query  string
}

func DefaultInjectionRules() []InjectionRule {
	return []InjectionRule{
		{Host: "html", Target: "javascript", Query: `(script_element (raw_text) @injection.content)`},
		{Host: "html", Target: "css", Query: `(style_element (raw_text) @injection.content)`},
	}
}

func (r InjectionRule) validate() error {
	if strings.TrimSpace(r.Host) == "" || strings.TrimSpace(r.Target) == "" {
		return fmt.Errorf("injection rule needs host and target")
	}
	if r.Host == r.Target {
		return fmt.Errorf("injection rule %s -> %s is self-referential", r.Host, r.Target)
	}
	if !strings.Contains(r.Query, "@"+injectionCapture) {
		return fmt.Errorf("injection rule %s -> %s: query must capture @%s", r.Host, r.Target, injectionCapture)
	}
	return nil
}

// InjectionQuery is a compiled rule. Queries are immutable once built and
// may be run by several cursors at once.
type InjectionQuery struct {
	Target  string
	query   *sitter.Query
	capture uint
}

func compileInjection(lang *sitter.Language, rule InjectionRule) (*InjectionQuery, error) {
	q, qerr := sitter.NewQuery(lang, rule.Query)
	if qerr != nil {
		return nil, fmt.Errorf("compile injection %s -> %s: %s", rule.Host, rule.Target, qerr.Error())
	}
	idx, ok := q.CaptureIndexForName(injectionCapture)
	if !ok {
		q.Close()
		return nil, fmt.Errorf("injection %s -> %s: missing @%s capture", rule.Host, rule.Target, injectionCapture)
	}
	return &InjectionQuery{Target: rule.Target, query: q, capture: idx}, nil
}

// ranges returns the captured byte ranges inside within, ordered and
// non-overlapping as SetIncludedRanges requires.
func (iq *InjectionQuery) ranges(root *sitter.Node, content []byte, within Span) []sitter.Range {
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.SetByteRange(uint(within.Start), uint(within.End))

	var out []sitter.Range
	lastEnd := uint(0)
	matches := cursor.Matches(iq.query, root, content)
	for m := matches.Next(); m != nil; m = matches.Next() {
		for _, c := range m.Captures {
			if c.Index != uint32(iq.capture) {
				continue
			}
			r := c.Node.Range()
			if r.StartByte < lastEnd || r.EndByte <= r.StartByte {
				continue
			}
			out = append(out, r)
			lastEnd = r.EndByte
		}
	}
	return out
}
