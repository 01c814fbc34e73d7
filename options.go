package stencil

import (
	"fmt"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/zoobzio/clockz"
)

// DefaultMaxLength bounds variable values unless a manifest or caller
// overrides it. Effectively no limit for short inputs.
const DefaultMaxLength = 1000

// DefaultDelay is the quiet period after the last edit before a Damper
// commits its local value.
const DefaultDelay = 300 * time.Millisecond

// DefaultMaxWait caps how long a burst of edits can defer a commit.
// The ceiling is measured from the first edit after the damper went idle.
const DefaultMaxWait = 1000 * time.Millisecond

// Options controls how a variable's value is validated.
// The zero value applies only the required rule implied by the variable
// itself; a zero MaxLength or MinLength disables the respective rule.
type Options struct {
	// MaxLength caps the raw value length in runes. 0 disables the rule.
	MaxLength int

	// MinLength requires the trimmed value to have at least this many
	// runes. 0 disables the rule.
	MinLength int

	// Pattern, when set, must match the trimmed value. Compile it at
	// configuration-build time; a bad expression never reaches validation.
	Pattern *regexp.Regexp

	// Custom, when set, is invoked with the raw value once the trimmed
	// value is non-empty. A returned error is recorded as a violation.
	Custom func(value string) error
}

// DefaultOptions returns the options applied when nothing overrides them.
func DefaultOptions() Options {
	return Options{MaxLength: DefaultMaxLength}
}

// Validate checks the options for coherence. Call it when accepting
// options from configuration rather than code.
func (o Options) Validate() error {
	if err := validation.ValidateStruct(&o,
		validation.Field(&o.MaxLength, validation.Min(0)),
		validation.Field(&o.MinLength, validation.Min(0)),
	); err != nil {
		return err
	}
	if o.MaxLength > 0 && o.MinLength > o.MaxLength {
		return fmt.Errorf("minLength %d exceeds maxLength %d", o.MinLength, o.MaxLength)
	}
	return nil
}

// DamperConfig holds the timing configuration for a Damper.
type DamperConfig struct {
	// Delay is the quiet period after the last edit before a commit.
	Delay time.Duration

	// MaxWait forces a commit this long after the first edit of a burst,
	// no matter how often edits keep arriving.
	MaxWait time.Duration
}

// Validate checks the configuration for coherence.
func (c DamperConfig) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.Delay, validation.Required, validation.Min(time.Duration(0)).Exclusive()),
		validation.Field(&c.MaxWait, validation.Required, validation.Min(time.Duration(0)).Exclusive()),
	); err != nil {
		return err
	}
	if c.MaxWait < c.Delay {
		return fmt.Errorf("maxWait %v is shorter than delay %v", c.MaxWait, c.Delay)
	}
	return nil
}

// damperSettings holds construction options for a Damper.
type damperSettings struct {
	cfg        DamperConfig
	clock      clockz.Clock
	onPending  func()
	onComplete func()
}

// DamperOption configures a Damper.
type DamperOption func(*damperSettings)

// WithDelay sets the quiet period after the last edit before a commit.
// Each new edit restarts this period.
func WithDelay(d time.Duration) DamperOption {
	return func(s *damperSettings) {
		s.cfg.Delay = d
	}
}

// WithMaxWait sets the hard ceiling on how long a burst of edits can
// defer a commit. It is measured from the first edit after the damper
// went idle and is never restarted by later edits.
func WithMaxWait(d time.Duration) DamperOption {
	return func(s *damperSettings) {
		s.cfg.MaxWait = d
	}
}

// WithClock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic debounce testing.
func WithClock(clock clockz.Clock) DamperOption {
	return func(s *damperSettings) {
		s.clock = clock
	}
}

// WithOnPending registers a callback invoked exactly once each time the
// damper leaves idle. Advisory UI hook; runs on the damper's goroutine.
func WithOnPending(fn func()) DamperOption {
	return func(s *damperSettings) {
		s.onPending = fn
	}
}

// WithOnComplete registers a callback invoked exactly once per commit,
// whether or not the committed value changed. Advisory UI hook; runs on
// the damper's goroutine.
func WithOnComplete(fn func()) DamperOption {
	return func(s *damperSettings) {
		s.onComplete = fn
	}
}
