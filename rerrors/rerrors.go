// Package rerrors classifies the error kinds named in the core's error
// handling design: which ones recover locally and which must surface as
// programming/schema violations.
package rerrors

import (
	"errors"
	"fmt"
)

// Kind distinguishes the error classes the core must treat differently.
type Kind int

const (
	// KindInvariant is an invariant violation (e.g. a capacity breach after
	// a tracker update). Logged and surfaced as a detection conflict, not
	// fatal.
	KindInvariant Kind = iota
	// KindRule is a rule exception inside the Detection Engine, isolated
	// per-rule; other rules continue.
	KindRule
	// KindModelUnavailable means the Predictor's classifier artifact is
	// absent or failed to load; the predictor switches to heuristic mode.
	KindModelUnavailable
	// KindExternalGenerator is an LLM interpreter or judge failure.
	KindExternalGenerator
	// KindStructure is a Context Patcher structural-identity violation;
	// hard failure, the updated model is discarded.
	KindStructure
	// KindBadInput is a bad input snapshot; fails fast, no partial init.
	KindBadInput
)

func (k Kind) String() string {
	switch k {
	case KindInvariant:
		return "invariant_violation"
	case KindRule:
		return "rule_exception"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindExternalGenerator:
		return "external_generator_failure"
	case KindStructure:
		return "structure_violation"
	case KindBadInput:
		return "bad_input"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or any error it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Fatal reports whether a Kind is one that, per the error handling policy,
// must surface rather than be recovered from locally.
func (k Kind) Fatal() bool {
	switch k {
	case KindStructure, KindBadInput:
		return true
	default:
		return false
	}
}
