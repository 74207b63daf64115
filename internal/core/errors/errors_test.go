package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeTimeout, "parse exceeded budget")
		if err.Error() != "[TIMEOUT] parse exceeded budget" {
			t.Errorf("expected [TIMEOUT] parse exceeded budget, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("query syntax error")
		err := Wrap(original, CodeEngineFailure, "injection query failed")
		expected := "[ENGINE_FAILURE] injection query failed: query syntax error"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeCancelled, "context done")
		if !IsCode(err, CodeCancelled) {
			t.Error("expected IsCode to return true for CodeCancelled")
		}
		if IsCode(err, CodeTimeout) {
			t.Error("expected IsCode to return false for CodeTimeout")
		}
	})

	t.Run("IsCodeThroughFmtWrap", func(t *testing.T) {
		err := fmt.Errorf("task 7: %w", New(CodeGrammarUnavailable, "no grammar"))
		if !IsCode(err, CodeGrammarUnavailable) {
			t.Error("expected IsCode to see through fmt.Errorf wrapping")
		}
	})

	t.Run("AddContext", func(t *testing.T) {
		err := AddContext(New(CodeTimeout, "slow"), CtxLanguage, "go")
		var de *DomainError
		if !errors.As(err, &de) {
			t.Fatalf("expected DomainError, got %T", err)
		}
		if de.Context[CtxLanguage] != "go" {
			t.Fatalf("expected language context, got %v", de.Context)
		}

		foreign := AddContext(errors.New("boom"), CtxLane, "background")
		if !IsCode(foreign, CodeInternal) {
			t.Fatalf("expected foreign error to be wrapped as internal, got %v", foreign)
		}
	})

	t.Run("CodeOf", func(t *testing.T) {
		if got := CodeOf(nil); got != "" {
			t.Fatalf("expected empty code for nil, got %q", got)
		}
		if got := CodeOf(errors.New("plain")); got != CodeInternal {
			t.Fatalf("expected internal for foreign error, got %q", got)
		}
		if got := CodeOf(Wrap(errors.New("x"), CodeEngineFailure, "y")); got != CodeEngineFailure {
			t.Fatalf("expected engine failure, got %q", got)
		}
	})
}
