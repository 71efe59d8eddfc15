package core

import (
	"errors"
	"fmt"
)

// ErrEmptyText marks structured model output whose text field is empty.
var ErrEmptyText = errors.New("empty text field")

// PipelineError is the only error the orchestrator surfaces to its caller.
// It is produced when every recovery option at the named stage is exhausted,
// or when the guard stage fails (guard failures are never recovered).
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ModelInvocationError wraps a model backend failure (timeout or backend
// error). The orchestrator retries these up to its retry budget before
// falling back.
type ModelInvocationError struct {
	Role string // "junior" or "senior"
	Err  error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("%s model invocation failed: %v", e.Role, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// ParseError wraps malformed structured model output. Retried with a
// correction hint, then the pipeline falls back.
type ParseError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed %s output: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RetrievalError wraps a similarity or rerank backend failure. Retrieval is
// best-effort: the router logs these and degrades to an empty hit set, so a
// RetrievalError never crosses a stage boundary.
type RetrievalError struct {
	Backend string // "embed", "search" or "rerank"
	Err     error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s backend failed: %v", e.Backend, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// GuardError marks a sanitizer failure. Fatal: the request fails rather than
// release unmasked content.
type GuardError struct {
	Err error
}

func (e *GuardError) Error() string { return fmt.Sprintf("guard failed: %v", e.Err) }

func (e *GuardError) Unwrap() error { return e.Err }
