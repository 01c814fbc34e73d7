package stencil

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// CommitFunc receives each committed value whose content differs from
// the previously committed value. It runs on the damper's goroutine;
// do not call back into the same damper from inside it.
type CommitFunc func(ctx context.Context, value string)

// Damper debounces rapid edits to a single input, committing a stable
// value to its owner after a quiet period and exposing pending state in
// between. A hard ceiling forces a commit when edits never go quiet.
//
// Concurrency model: a single event loop goroutine owns the local value,
// the pending flag, and both timers. Public methods talk to the loop
// through channels and queries read atomic mirrors, so no mutexes are
// required. Each input owns an independent Damper; there is no
// cross-input coordination.
type Damper struct {
	name       string
	fn         CommitFunc
	delay      time.Duration
	maxWait    time.Duration
	clock      clockz.Clock
	onPending  func()
	onComplete func()

	committed atomic.Pointer[string]
	local     atomic.Pointer[string]
	pending   atomic.Bool

	editCh  chan editReq
	flushCh chan flushReq
	resetCh chan resetReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

type editReq struct {
	ctx   context.Context
	value string
	done  chan struct{}
}

type flushReq struct {
	ctx  context.Context
	done chan struct{}
}

type resetReq struct {
	ctx   context.Context
	value string
	done  chan struct{}
}

// NewDamper creates a running Damper whose committed value starts at
// initial. fn is invoked for commits that change the committed value;
// nil is allowed when only the pending/complete hooks matter. The
// configuration is validated before the event loop starts: a
// nonpositive delay or maxWait, or maxWait shorter than delay, is
// rejected here rather than surfacing mid-edit.
func NewDamper(name, initial string, fn CommitFunc, opts ...DamperOption) (*Damper, error) {
	s := damperSettings{
		cfg:   DamperConfig{Delay: DefaultDelay, MaxWait: DefaultMaxWait},
		clock: clockz.RealClock,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("damper config: %w", err)
	}

	d := &Damper{
		name:       name,
		fn:         fn,
		delay:      s.cfg.Delay,
		maxWait:    s.cfg.MaxWait,
		clock:      s.clock,
		onPending:  s.onPending,
		onComplete: s.onComplete,
		editCh:     make(chan editReq),
		flushCh:    make(chan flushReq),
		resetCh:    make(chan resetReq),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	init := initial
	d.local.Store(&init)
	d.committed.Store(&init)

	go d.run(initial)
	return d, nil
}

// Name returns the input name the damper was created with.
func (d *Damper) Name() string {
	return d.name
}

// Value returns the last committed value.
func (d *Damper) Value() string {
	return *d.committed.Load()
}

// Local returns the current local value. It leads the committed value
// while edits are pending and converges to it on commit.
func (d *Damper) Local() string {
	return *d.local.Load()
}

// Pending reports whether edits are buffered awaiting a commit.
func (d *Damper) Pending() bool {
	return d.pending.Load()
}

// State returns the damper's current state.
func (d *Damper) State() DamperState {
	if d.pending.Load() {
		return StatePending
	}
	return StateIdle
}

// Set records an edit to the local value. The first edit differing from
// the committed value moves the damper to pending, arming the delay
// timer and the maxWait ceiling; every later edit restarts only the
// delay timer. An idle edit equal to the committed value is ignored
// entirely. Set returns once the loop has absorbed the edit, so Local
// reflects it immediately. After Close, Set is a no-op.
func (d *Damper) Set(ctx context.Context, value string) {
	if d.closed.Load() {
		return
	}
	req := editReq{ctx: ctx, value: value, done: make(chan struct{})}
	select {
	case d.editCh <- req:
	case <-d.stopped:
		return
	}
	select {
	case <-req.done:
	case <-d.stopped:
	}
}

// Flush commits any buffered edit immediately with the usual commit
// callbacks, instead of waiting out the quiet period. No-op while idle
// or after Close.
func (d *Damper) Flush(ctx context.Context) {
	if d.closed.Load() {
		return
	}
	req := flushReq{ctx: ctx, done: make(chan struct{})}
	select {
	case d.flushCh <- req:
	case <-d.stopped:
		return
	}
	select {
	case <-req.done:
	case <-d.stopped:
	}
}

// Reset discards any buffered edit, releases both timers, and makes
// value both the committed and the local value. A reset is not a
// commit: no callbacks fire. No-op after Close.
func (d *Damper) Reset(ctx context.Context, value string) {
	if d.closed.Load() {
		return
	}
	req := resetReq{ctx: ctx, value: value, done: make(chan struct{})}
	select {
	case d.resetCh <- req:
	case <-d.stopped:
		return
	}
	select {
	case <-req.done:
	case <-d.stopped:
	}
}

// Close stops the event loop and releases both timers. Buffered edits
// are dropped without a commit, and once Close returns no callback will
// ever fire. Close is idempotent and safe to call concurrently.
func (d *Damper) Close() {
	if d.closed.CompareAndSwap(false, true) {
		close(d.stopCh)
	}
	<-d.stopped
}

// run is the event loop. It owns local, committed, pending, and both
// timers; nothing else touches them.
func (d *Damper) run(initial string) {
	defer func() {
		capitan.Emit(context.Background(), DamperClosed,
			KeyVariable.Field(d.name),
		)
		close(d.stopped)
	}()

	var (
		local      = initial
		committed  = initial
		pending    bool
		delayTimer clockz.Timer
		ceilTimer  clockz.Timer
		editCtx    = context.Background()
	)

	stopTimer := func(t clockz.Timer) {
		if t == nil {
			return
		}
		if !t.Stop() {
			select {
			case <-t.C():
			default:
			}
		}
	}

	armDelay := func() {
		if delayTimer == nil {
			delayTimer = d.clock.NewTimer(d.delay)
			return
		}
		stopTimer(delayTimer)
		delayTimer.Reset(d.delay)
	}

	armCeiling := func() {
		if ceilTimer == nil {
			ceilTimer = d.clock.NewTimer(d.maxWait)
			return
		}
		stopTimer(ceilTimer)
		ceilTimer.Reset(d.maxWait)
	}

	setLocal := func(v string) {
		local = v
		c := v
		d.local.Store(&c)
	}

	setCommitted := func(v string) {
		committed = v
		c := v
		d.committed.Store(&c)
	}

	setPending := func(p bool) {
		pending = p
		d.pending.Store(p)
	}

	commit := func(ctx context.Context) {
		stopTimer(delayTimer)
		stopTimer(ceilTimer)
		setPending(false)
		changed := local != committed
		setCommitted(local)
		if d.onComplete != nil {
			d.onComplete()
		}
		capitan.Emit(ctx, DamperCommitted,
			KeyVariable.Field(d.name),
		)
		if changed && d.fn != nil {
			d.fn(ctx, local)
		}
	}

	for {
		// Timer channels participate in the select only while pending,
		// so a stale fire can never produce a second commit.
		var delayC, ceilC <-chan time.Time
		if pending {
			if delayTimer != nil {
				delayC = delayTimer.C()
			}
			if ceilTimer != nil {
				ceilC = ceilTimer.C()
			}
		}

		select {
		case <-d.stopCh:
			stopTimer(delayTimer)
			stopTimer(ceilTimer)
			return

		case req := <-d.editCh:
			editCtx = req.ctx
			setLocal(req.value)
			if !pending {
				if req.value == committed {
					close(req.done)
					continue
				}
				setPending(true)
				armCeiling()
				if d.onPending != nil {
					d.onPending()
				}
				capitan.Emit(req.ctx, DamperPending,
					KeyVariable.Field(d.name),
				)
			}
			armDelay()
			close(req.done)

		case <-delayC:
			commit(editCtx)

		case <-ceilC:
			commit(editCtx)

		case req := <-d.flushCh:
			if pending {
				commit(req.ctx)
			}
			close(req.done)

		case req := <-d.resetCh:
			stopTimer(delayTimer)
			stopTimer(ceilTimer)
			setPending(false)
			setLocal(req.value)
			setCommitted(req.value)
			capitan.Emit(req.ctx, DamperReset,
				KeyVariable.Field(d.name),
			)
			close(req.done)
		}
	}
}
