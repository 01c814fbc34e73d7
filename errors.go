package stencil

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a validation failure.
type ErrorKind string

const (
	// MissingRequired indicates a required variable has no effective value.
	MissingRequired ErrorKind = "MISSING_REQUIRED"

	// InvalidValue indicates a present value violates a length, pattern,
	// or custom constraint.
	InvalidValue ErrorKind = "INVALID_VALUE"
)

// Rule identifies which validation rule produced an error.
type Rule string

const (
	RuleRequired  Rule = "required"
	RuleMaxLength Rule = "max_length"
	RuleMinLength Rule = "min_length"
	RulePattern   Rule = "pattern"
	RuleCustom    Rule = "custom"
)

// ValidationError describes a single rule violation for a variable.
// It is a value object: rebuilt on every validation pass, never mutated.
// Message formatting lives in Error() so the engine stays free of
// presentation concerns.
type ValidationError struct {
	Kind     ErrorKind
	Rule     Rule
	Variable string
	Position Position

	// Limit carries the rule threshold for length rules, 0 otherwise.
	Limit int

	// Detail carries the message from a custom rule, empty otherwise.
	Detail string
}

// Error renders the human-readable message for the violation.
func (e ValidationError) Error() string {
	switch e.Rule {
	case RuleRequired:
		return fmt.Sprintf("%s is required", e.Variable)
	case RuleMaxLength:
		return fmt.Sprintf("%s must be no longer than %d characters", e.Variable, e.Limit)
	case RuleMinLength:
		return fmt.Sprintf("%s must be at least %d characters", e.Variable, e.Limit)
	case RulePattern:
		return fmt.Sprintf("%s has an invalid format", e.Variable)
	case RuleCustom:
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s", e.Variable, e.Detail)
		}
	}
	return fmt.Sprintf("%s is invalid", e.Variable)
}

// Sentinel errors for session and promotion operations.
// Use errors.Is to branch on them.
var (
	// ErrUnknownVariable is returned when an operation names a variable
	// the template does not define.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrMissingVariable is returned by Render when a required variable
	// has no value and no default.
	ErrMissingVariable = errors.New("missing required variable")

	// ErrNotValid rejects promotion of a value that failed validation.
	ErrNotValid = errors.New("value is not valid")

	// ErrNotDirty rejects promotion of a value that was never edited.
	ErrNotDirty = errors.New("value is not dirty")

	// ErrNoStore rejects promotion when the session has no shared store.
	ErrNoStore = errors.New("no shared store configured")

	// ErrSessionClosed is returned by session operations after Close.
	ErrSessionClosed = errors.New("session closed")
)
