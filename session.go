package stencil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Session is one editing pass over a template: a damper-backed binding
// per variable, host callbacks for display updates, and an explicit
// promotion action into an optional shared store.
//
// Edits flow through Set into the variable's damper; once the quiet
// period (or the maxWait ceiling) elapses, the committed value is
// validated, the variable's state updated, and OnChange invoked. Host
// callbacks run on the committing variable's damper goroutine and must
// not call back into the session for that same variable.
type Session struct {
	template *Template
	store    Store
	clock    clockz.Clock
	delay    time.Duration
	maxWait  time.Duration

	onChange   func(name, value string)
	onPending  func(name string)
	onComplete func(name string)

	mu       sync.Mutex
	started  bool
	closed   bool
	bindings map[string]*binding
	order    []string
}

// NewSession creates a session for the given template. Instance
// configuration uses chainable methods before calling Start().
func NewSession(tmpl *Template) *Session {
	return &Session{
		template: tmpl,
		clock:    clockz.RealClock,
		delay:    DefaultDelay,
		maxWait:  DefaultMaxWait,
	}
}

// Store attaches the shared store used to seed initial values and to
// receive promotions. Default: none. Must be called before Start().
func (s *Session) Store(store Store) *Session {
	s.store = store
	return s
}

// Delay sets the quiet period after the last edit before a variable's
// value commits. Default: DefaultDelay. Must be called before Start().
func (s *Session) Delay(d time.Duration) *Session {
	s.delay = d
	return s
}

// MaxWait sets the hard ceiling on how long continuous edits can defer
// a commit. Default: DefaultMaxWait. Must be called before Start().
func (s *Session) MaxWait(d time.Duration) *Session {
	s.maxWait = d
	return s
}

// Clock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic debounce testing.
// Must be called before Start().
func (s *Session) Clock(clock clockz.Clock) *Session {
	s.clock = clock
	return s
}

// OnChange registers the host callback that receives each committed
// value that differs from the variable's previous committed value.
// Must be called before Start().
func (s *Session) OnChange(fn func(name, value string)) *Session {
	s.onChange = fn
	return s
}

// OnPending registers an advisory hook fired exactly once each time a
// variable enters the pending state. Must be called before Start().
func (s *Session) OnPending(fn func(name string)) *Session {
	s.onPending = fn
	return s
}

// OnComplete registers an advisory hook fired exactly once per commit,
// changed or not. Must be called before Start().
func (s *Session) OnComplete(fn func(name string)) *Session {
	s.onComplete = fn
	return s
}

// Start materializes a binding and damper per template variable. Initial
// values come from the shared store when it already holds the name,
// otherwise from the variable's default, and are validated immediately.
// Timing configuration is checked here, before any timer exists.
//
// Start can only be called once. Subsequent calls return an error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	s.mu.Unlock()

	cfg := DamperConfig{Delay: s.delay, MaxWait: s.maxWait}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("damper config: %w", err)
	}

	bindings := make(map[string]*binding, len(s.template.variables))
	order := make([]string, 0, len(s.template.variables))

	for _, v := range s.template.Variables() {
		initial := v.Default
		fromStore := false
		if s.store != nil && s.store.Has(v.Name) {
			if val, ok := s.store.Get(v.Name); ok {
				initial = val
				fromStore = true
			}
		}

		b := newBinding(v, s.template.Options(v.Name), initial, fromStore, s.onChange)

		name := v.Name
		damperOpts := []DamperOption{
			WithDelay(s.delay),
			WithMaxWait(s.maxWait),
			WithClock(s.clock),
		}
		if fn := s.onPending; fn != nil {
			damperOpts = append(damperOpts, WithOnPending(func() { fn(name) }))
		}
		if fn := s.onComplete; fn != nil {
			damperOpts = append(damperOpts, WithOnComplete(func() { fn(name) }))
		}

		d, err := NewDamper(name, initial, b.apply, damperOpts...)
		if err != nil {
			for _, prev := range order {
				bindings[prev].damper.Close()
			}
			return fmt.Errorf("damper for %q: %w", name, err)
		}
		b.damper = d
		bindings[name] = b
		order = append(order, name)
	}

	s.mu.Lock()
	s.bindings = bindings
	s.order = order
	s.mu.Unlock()

	capitan.Emit(ctx, SessionStarted,
		KeyTemplate.Field(s.template.Name()),
		KeyVariables.Field(len(order)),
		KeyDelay.Field(s.delay),
		KeyMaxWait.Field(s.maxWait),
	)
	return nil
}

// Template returns the template this session edits.
func (s *Session) Template() *Template {
	return s.template
}

// lookup returns the named binding for read access.
func (s *Session) lookup(name string) (*binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bindings == nil {
		return nil, fmt.Errorf("session not started")
	}
	b, ok := s.bindings[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	return b, nil
}

// lookupLive returns the named binding for mutation, rejecting closed
// sessions.
func (s *Session) lookupLive(name string) (*binding, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()
	return s.lookup(name)
}

// Set records a local edit to the named variable. The edit is buffered
// by the variable's damper; validation and host notification happen on
// commit. Typing never fails: the only errors are naming a variable the
// template does not define or using a closed session.
func (s *Session) Set(ctx context.Context, name, value string) error {
	b, err := s.lookupLive(name)
	if err != nil {
		return err
	}
	b.damper.Set(ctx, value)
	return nil
}

// Check validates a candidate value without touching any state. Use it
// for live feedback on raw keystrokes ahead of the commit.
func (s *Session) Check(name, value string) (Result, error) {
	b, err := s.lookup(name)
	if err != nil {
		return Result{}, err
	}
	return Validate(b.variable, value, b.opts), nil
}

// Flush commits the named variable's buffered edit immediately, for
// blur or submit paths.
func (s *Session) Flush(ctx context.Context, name string) error {
	b, err := s.lookupLive(name)
	if err != nil {
		return err
	}
	b.damper.Flush(ctx)
	return nil
}

// FlushAll commits every variable's buffered edit immediately.
func (s *Session) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	bindings, order := s.bindings, s.order
	s.mu.Unlock()

	if bindings == nil {
		return fmt.Errorf("session not started")
	}
	for _, name := range order {
		bindings[name].damper.Flush(ctx)
	}
	return nil
}

// Reset restores the named variable to its initial value, discarding
// any buffered edit and clearing dirty. A reset is not a commit: no
// callbacks fire.
func (s *Session) Reset(ctx context.Context, name string) error {
	b, err := s.lookupLive(name)
	if err != nil {
		return err
	}
	b.reset(ctx)
	return nil
}

// State returns the named variable's committed state.
func (s *Session) State(name string) (VariableState, error) {
	b, err := s.lookup(name)
	if err != nil {
		return VariableState{}, err
	}
	return b.current(), nil
}

// Snapshot returns the host view of the named variable: committed state
// plus live pending/local data and the derived status message.
func (s *Session) Snapshot(name string) (Snapshot, error) {
	b, err := s.lookup(name)
	if err != nil {
		return Snapshot{}, err
	}
	return b.snapshot(), nil
}

// Snapshots returns the host view of every variable, keyed by name.
func (s *Session) Snapshots() map[string]Snapshot {
	s.mu.Lock()
	bindings, order := s.bindings, s.order
	s.mu.Unlock()

	out := make(map[string]Snapshot, len(order))
	for _, name := range order {
		out[name] = bindings[name].snapshot()
	}
	return out
}

// Values returns the committed value of every variable, keyed by name.
func (s *Session) Values() map[string]string {
	s.mu.Lock()
	bindings, order := s.bindings, s.order
	s.mu.Unlock()

	out := make(map[string]string, len(order))
	for _, name := range order {
		out[name] = bindings[name].state.Load().Value
	}
	return out
}

// Render substitutes the committed values into the template text.
func (s *Session) Render() (string, error) {
	return s.template.Render(s.Values())
}

// Promote copies the named variable's committed value into the shared
// store. All preconditions are required: the value is valid, dirty, and
// not already sourced from the store. Promotion is explicit and
// idempotent per (name, value) pair; it never clears dirty or otherwise
// mutates display state.
func (s *Session) Promote(ctx context.Context, name string) error {
	b, err := s.lookupLive(name)
	if err != nil {
		return err
	}
	if s.store == nil {
		return ErrNoStore
	}

	st := b.state.Load()
	if !st.Valid {
		capitan.Emit(ctx, PromotionRejected,
			KeyVariable.Field(name),
			KeyError.Field(ErrNotValid.Error()),
		)
		return fmt.Errorf("%w: %s", ErrNotValid, name)
	}
	if !st.Dirty {
		capitan.Emit(ctx, PromotionRejected,
			KeyVariable.Field(name),
			KeyError.Field(ErrNotDirty.Error()),
		)
		return fmt.Errorf("%w: %s", ErrNotDirty, name)
	}
	if b.sourced.Load() {
		// Already backed by the store; promoting again changes nothing.
		return nil
	}
	if v, ok := s.store.Get(name); ok && v == st.Value {
		// The store already holds this exact value; just relink.
		b.sourced.Store(true)
		return nil
	}

	if err := s.store.Set(name, st.Value); err != nil {
		capitan.Emit(ctx, PromotionRejected,
			KeyVariable.Field(name),
			KeyError.Field(err.Error()),
		)
		return fmt.Errorf("store set %q: %w", name, err)
	}
	b.sourced.Store(true)
	capitan.Emit(ctx, PromotionApplied,
		KeyVariable.Field(name),
	)
	return nil
}

// Close disposes every damper. Buffered edits are dropped without a
// commit and no callback fires after Close returns. Close is
// idempotent; subsequent mutating calls return ErrSessionClosed while
// reads keep working on the final state.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	bindings, order := s.bindings, s.order
	s.mu.Unlock()

	for _, name := range order {
		bindings[name].damper.Close()
	}
	capitan.Emit(context.Background(), SessionClosed,
		KeyTemplate.Field(s.template.Name()),
	)
}
