package stencil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// DefaultReloadDebounce is the default debounce duration for manifest
// change processing.
const DefaultReloadDebounce = 150 * time.Millisecond

// Reloader watches a manifest source for changes, decodes and builds the
// template, and delivers it to application code with automatic rollback
// on failure.
//
// If any stage fails, the previous valid template is retained and the
// Reloader enters a degraded state while continuing to watch for valid
// updates. Hosts typically recreate their editing sessions inside the
// apply callback.
type Reloader struct {
	source         Source
	apply          func(ctx context.Context, prev, curr *Template) error
	debounce       time.Duration
	startupTimeout time.Duration
	syncMode       bool
	clock          clockz.Clock
	format         Format
	metrics        MetricsProvider
	onStop         func(ReloaderState)

	state     atomic.Int32
	current   atomic.Pointer[Template]
	lastError atomic.Pointer[error]
	failures  *failureLog

	mu      sync.Mutex
	started bool

	// For sync mode: channel to receive changes
	changes <-chan []byte
}

// NewReloader creates a Reloader that watches a source for manifest
// changes.
//
// The source emits raw bytes when the manifest changes. Bytes are
// decoded as YAML or JSON, validated, and built into a Template. On
// success, the apply callback is invoked with previous and current
// templates; prev is nil on the first load.
//
// Instance configuration uses chainable methods before calling Start().
//
// Example:
//
//	reloader := stencil.NewReloader(
//	    stencil.NewFileSource("template.yaml"),
//	    func(ctx context.Context, prev, curr *stencil.Template) error {
//	        return host.SwapTemplate(curr)
//	    },
//	).Debounce(200 * time.Millisecond)
func NewReloader(source Source, apply func(ctx context.Context, prev, curr *Template) error) *Reloader {
	r := &Reloader{
		source:   source,
		apply:    apply,
		debounce: DefaultReloadDebounce,
		clock:    clockz.RealClock,
	}
	r.state.Store(int32(StateLoading))
	return r
}

// Debounce sets the debounce duration for change processing.
// Changes arriving within this duration are coalesced into a single
// reload. Default: DefaultReloadDebounce. Must be called before Start().
func (r *Reloader) Debounce(d time.Duration) *Reloader {
	r.debounce = d
	return r
}

// SyncMode enables synchronous processing for testing.
// In sync mode, changes are processed immediately without debouncing
// or async goroutines, making tests deterministic. Must be called before Start().
func (r *Reloader) SyncMode() *Reloader {
	r.syncMode = true
	return r
}

// Clock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic debounce testing.
// Must be called before Start().
func (r *Reloader) Clock(clock clockz.Clock) *Reloader {
	r.clock = clock
	return r
}

// Format enforces a manifest data format. Default: FormatAuto, which
// detects JSON or YAML from content. Must be called before Start().
func (r *Reloader) Format(f Format) *Reloader {
	r.format = f
	return r
}

// StartupTimeout sets the maximum duration to wait for the initial
// manifest from the source. If the source fails to emit within this
// duration, Start() returns an error.
// Default: no timeout (wait indefinitely). Must be called before Start().
func (r *Reloader) StartupTimeout(d time.Duration) *Reloader {
	r.startupTimeout = d
	return r
}

// Metrics sets a metrics provider for observability integration.
// The provider receives callbacks on state changes, reload
// success/failure, and change events. Must be called before Start().
func (r *Reloader) Metrics(provider MetricsProvider) *Reloader {
	r.metrics = provider
	return r
}

// OnStop sets a callback invoked when the reloader stops watching. The
// callback receives the final state, for graceful shutdown scenarios.
// Must be called before Start().
func (r *Reloader) OnStop(fn func(ReloaderState)) *Reloader {
	r.onStop = fn
	return r
}

// FailureLogSize sets the number of recent reload failures to retain.
// When set, Failures() returns up to this many entries. Use 0 (default)
// to only retain the most recent error via LastError().
// Must be called before Start().
func (r *Reloader) FailureLogSize(n int) *Reloader {
	r.failures = newFailureLog(n)
	return r
}

// State returns the current state of the Reloader.
func (r *Reloader) State() ReloaderState {
	return ReloaderState(r.state.Load())
}

// Current returns the current valid template, or nil if no valid
// template has been applied.
func (r *Reloader) Current() *Template {
	return r.current.Load()
}

// LastError returns the last error encountered, or nil if no error occurred.
func (r *Reloader) LastError() error {
	ptr := r.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// Failures returns the recent reload failures, oldest first.
// Returns nil if the failure log is not enabled (see FailureLogSize).
func (r *Reloader) Failures() []ReloadFailure {
	return r.failures.all()
}

// Start begins watching for changes. It blocks until the first manifest
// is processed (success or failure), then continues watching
// asynchronously.
//
// If the initial manifest fails, Start returns the error but continues
// watching in the background for valid updates.
//
// In sync mode, Start only processes the initial value. Use Process()
// to manually trigger processing of subsequent values.
//
// Start can only be called once. Subsequent calls return an error.
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("reloader already started")
	}
	r.started = true
	r.mu.Unlock()

	capitan.Emit(ctx, ReloaderStarted,
		KeyDebounce.Field(r.debounce),
	)

	changes, err := r.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start source: %w", err)
	}

	// Wait for first value and process synchronously
	var initialErr error

	// Wrap context with startup timeout if configured
	startupCtx := ctx
	if r.startupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = r.clock.WithTimeout(ctx, r.startupTimeout)
		defer cancel()
	}

	select {
	case <-startupCtx.Done():
		if r.startupTimeout > 0 && startupCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("startup timeout: source did not emit initial manifest within %v", r.startupTimeout)
		}
		return startupCtx.Err()
	case raw, ok := <-changes:
		if !ok {
			return fmt.Errorf("source closed before emitting initial manifest")
		}
		capitan.Emit(ctx, ReloadChangeReceived)
		if r.metrics != nil {
			r.metrics.OnChangeReceived()
		}
		initialErr = r.process(ctx, raw)
	}

	if r.syncMode {
		// In sync mode, store channel for manual processing
		r.changes = changes
		return initialErr
	}

	// Continue watching asynchronously
	go r.watch(ctx, changes)

	return initialErr
}

// Process reads and processes the next value from the source.
// This is only available in sync mode and is used for deterministic
// testing. Returns false if no value is available or the channel is
// closed.
func (r *Reloader) Process(ctx context.Context) bool {
	if !r.syncMode {
		return false
	}

	select {
	case raw, ok := <-r.changes:
		if !ok {
			return false
		}
		capitan.Emit(ctx, ReloadChangeReceived)
		if r.metrics != nil {
			r.metrics.OnChangeReceived()
		}
		_ = r.process(ctx, raw) //nolint:errcheck // Errors stored via fail
		return true
	default:
		return false
	}
}

// process decodes, validates, builds, and delivers a single manifest
// update.
func (r *Reloader) process(ctx context.Context, raw []byte) error {
	start := r.clock.Now()
	oldState := r.State()

	var m Manifest
	if err := unmarshal(raw, &m, r.format); err != nil {
		r.fail(ctx, oldState, "decode", err, start)
		capitan.Emit(ctx, ReloadDecodeFailed,
			KeyError.Field(err.Error()),
		)
		return fmt.Errorf("decode failed: %w", err)
	}

	if err := validate.Struct(&m); err != nil {
		r.fail(ctx, oldState, "validate", err, start)
		capitan.Emit(ctx, ReloadValidationFailed,
			KeyError.Field(err.Error()),
		)
		return fmt.Errorf("validation failed: %w", err)
	}

	tmpl, err := m.Build()
	if err != nil {
		r.fail(ctx, oldState, "build", err, start)
		capitan.Emit(ctx, ReloadBuildFailed,
			KeyError.Field(err.Error()),
		)
		return fmt.Errorf("build failed: %w", err)
	}

	prev := r.current.Load()
	if err := r.apply(ctx, prev, tmpl); err != nil {
		r.fail(ctx, oldState, "apply", err, start)
		capitan.Emit(ctx, ReloadApplyFailed,
			KeyError.Field(err.Error()),
		)
		return fmt.Errorf("apply failed: %w", err)
	}

	// Success - store template and clear the failure log
	r.current.Store(tmpl)
	r.lastError.Store(nil)
	r.failures.clear()
	r.transitionState(ctx, oldState, StateHealthy)
	capitan.Emit(ctx, ReloadApplied,
		KeyTemplate.Field(tmpl.Name()),
		KeyVariables.Field(len(tmpl.variables)),
	)
	if r.metrics != nil {
		r.metrics.OnReloadSuccess(r.clock.Since(start))
	}

	return nil
}

// fail records a stage failure and transitions to the failure state.
func (r *Reloader) fail(ctx context.Context, oldState ReloaderState, stage string, err error, start time.Time) {
	e := err
	r.lastError.Store(&e)
	r.failures.push(ReloadFailure{Stage: stage, Err: err, At: r.clock.Now()})
	r.transitionState(ctx, oldState, r.failureState())
	if r.metrics != nil {
		r.metrics.OnReloadFailure(stage, r.clock.Since(start))
	}
}

// failureState returns the appropriate failure state based on whether a
// valid template has ever been applied.
func (r *Reloader) failureState() ReloaderState {
	if r.current.Load() == nil {
		return StateEmpty
	}
	return StateDegraded
}

// transitionState updates the state and emits a state change event if changed.
func (r *Reloader) transitionState(ctx context.Context, oldState, newState ReloaderState) {
	if oldState == newState {
		return
	}
	r.state.Store(int32(newState))
	capitan.Emit(ctx, ReloaderStateChanged,
		KeyOldState.Field(oldState.String()),
		KeyNewState.Field(newState.String()),
	)
	if r.metrics != nil {
		r.metrics.OnStateChange(oldState, newState)
	}
}

// watch processes changes from the source channel with debouncing.
func (r *Reloader) watch(ctx context.Context, changes <-chan []byte) {
	defer func() {
		finalState := r.State()
		capitan.Emit(ctx, ReloaderStopped,
			KeyState.Field(finalState.String()),
		)
		if r.onStop != nil {
			r.onStop(finalState)
		}
	}()

	var (
		timer      clockz.Timer
		pending    []byte
		hasPending bool
	)

	for {
		// Get timer channel or nil if no timer
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case raw, ok := <-changes:
			if !ok {
				// Channel closed, process any pending change
				if hasPending {
					_ = r.process(ctx, pending) //nolint:errcheck // Errors stored via fail
				}
				return
			}

			capitan.Emit(ctx, ReloadChangeReceived)
			if r.metrics != nil {
				r.metrics.OnChangeReceived()
			}
			pending = raw
			hasPending = true

			// Reset or start debounce timer
			if timer == nil {
				timer = r.clock.NewTimer(r.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C():
					default:
					}
				}
				timer.Reset(r.debounce)
			}

		case <-timerC:
			if hasPending {
				_ = r.process(ctx, pending) //nolint:errcheck // Errors stored via fail
				hasPending = false
			}
		}
	}
}
