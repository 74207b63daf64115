package parser

import (
	"context"
	"fmt"
	"time"

	domainErrors "synsched/internal/core/errors"
)

// Engine is the capability boundary to the actual parser. Implementations
// must be safe for concurrent use by multiple workers.
type Engine interface {
	// Parse produces a tree for content. Errors carry one of the codes
	// TIMEOUT, CANCELLED, ENGINE_FAILURE or GRAMMAR_UNAVAILABLE.
	Parse(ctx context.Context, content []byte, language string, loader Loader, opts Options) (*Tree, error)

	// UpdateIncremental reparses newContent reusing prev, which was parsed
	// from oldContent. Engines fall back to a full Parse when the
	// incremental path fails for any reason other than a timeout or
	// cancellation.
	UpdateIncremental(ctx context.Context, prev *Tree, oldContent, newContent []byte, edit Edit, language string, loader Loader, opts Options) (*Tree, error)
}

func timeoutError(language string, budget time.Duration) error {
	return domainErrors.New(domainErrors.CodeTimeout, "parse exceeded its budget").(*domainErrors.DomainError).
		WithContext(domainErrors.CtxLanguage, language).
		WithContext(domainErrors.CtxBudget, budget.String())
}

func cancelledError(language string, cause error) error {
	return domainErrors.Wrap(cause, domainErrors.CodeCancelled, "parse cancelled").(*domainErrors.DomainError).
		WithContext(domainErrors.CtxLanguage, language)
}

func engineFailure(language, msg string, cause error) error {
	return domainErrors.Wrap(cause, domainErrors.CodeEngineFailure, msg).(*domainErrors.DomainError).
		WithContext(domainErrors.CtxLanguage, language)
}

func grammarUnavailable(language string, cause error) error {
	msg := fmt.Sprintf("no grammar for %q", language)
	if cause == nil {
		return domainErrors.New(domainErrors.CodeGrammarUnavailable, msg).(*domainErrors.DomainError).
			WithContext(domainErrors.CtxLanguage, language)
	}
	return domainErrors.Wrap(cause, domainErrors.CodeGrammarUnavailable, msg).(*domainErrors.DomainError).
		WithContext(domainErrors.CtxLanguage, language)
}

// IsTimeout reports whether err is a parse timeout.
func IsTimeout(err error) bool {
	return domainErrors.IsCode(err, domainErrors.CodeTimeout)
}

// IsCancelled reports whether err is a parse cancellation.
func IsCancelled(err error) bool {
	return domainErrors.IsCode(err, domainErrors.CodeCancelled)
}

// IsGrammarUnavailable reports whether err means the language cannot be
// parsed at all.
func IsGrammarUnavailable(err error) bool {
	return domainErrors.IsCode(err, domainErrors.CodeGrammarUnavailable)
}
