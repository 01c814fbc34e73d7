package stencil

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Result is the outcome of validating a single variable value.
type Result struct {
	Valid  bool
	Errors []ValidationError
}

// Validate checks a candidate value against the variable's required flag
// and the given options. It is pure, deterministic, and cheap enough to
// run on every keystroke.
//
// Rules are evaluated in a fixed order and every violation is collected;
// the order of Errors is an observable contract:
//
//  1. required: the trimmed value is empty for a required variable
//  2. max_length: the raw value exceeds MaxLength runes
//  3. min_length: the trimmed value falls short of MinLength runes
//  4. pattern: the trimmed value does not match Pattern
//  5. custom: the Custom callback rejected the value
//
// The min_length rule fires on empty values too, so an empty required
// variable with a minimum length reports both violations. Pattern and
// custom rules are skipped while the trimmed value is empty; the rules
// above already cover emptiness. Lengths count Unicode runes, matching
// the user-facing notion of characters.
func Validate(v Variable, value string, opts Options) Result {
	trimmed := strings.TrimSpace(value)
	var errs []ValidationError

	if v.Required && trimmed == "" {
		errs = append(errs, ValidationError{
			Kind:     MissingRequired,
			Rule:     RuleRequired,
			Variable: v.Name,
			Position: v.Position,
		})
	}

	if opts.MaxLength > 0 && utf8.RuneCountInString(value) > opts.MaxLength {
		errs = append(errs, ValidationError{
			Kind:     InvalidValue,
			Rule:     RuleMaxLength,
			Variable: v.Name,
			Position: v.Position,
			Limit:    opts.MaxLength,
		})
	}

	if opts.MinLength > 0 && utf8.RuneCountInString(trimmed) < opts.MinLength {
		errs = append(errs, ValidationError{
			Kind:     InvalidValue,
			Rule:     RuleMinLength,
			Variable: v.Name,
			Position: v.Position,
			Limit:    opts.MinLength,
		})
	}

	if opts.Pattern != nil && trimmed != "" && !opts.Pattern.MatchString(trimmed) {
		errs = append(errs, ValidationError{
			Kind:     InvalidValue,
			Rule:     RulePattern,
			Variable: v.Name,
			Position: v.Position,
		})
	}

	if opts.Custom != nil && trimmed != "" {
		if err := opts.Custom(value); err != nil {
			errs = append(errs, customError(v, err))
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// customError converts a custom rule failure into a ValidationError tagged
// with the variable's name and position, even when the callback returned a
// ValidationError of its own.
func customError(v Variable, err error) ValidationError {
	var ve ValidationError
	if errors.As(err, &ve) {
		ve.Variable = v.Name
		ve.Position = v.Position
		if ve.Kind == "" {
			ve.Kind = InvalidValue
		}
		if ve.Rule == "" {
			ve.Rule = RuleCustom
		}
		return ve
	}
	return ValidationError{
		Kind:     InvalidValue,
		Rule:     RuleCustom,
		Variable: v.Name,
		Position: v.Position,
		Detail:   err.Error(),
	}
}
