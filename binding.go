package stencil

import (
	"context"
	"fmt"
	"sync/atomic"
	"unicode/utf8"

	"github.com/zoobzio/capitan"
)

// VariableState is the authoritative editing state of one variable,
// owned by the session and mutated only through a damper commit or an
// explicit reset.
//
// Invariant: Valid is true exactly when Errors is empty. Dirty latches
// true once the value first departs from its initial value and stays
// true until an explicit reset.
type VariableState struct {
	Value  string
	Valid  bool
	Dirty  bool
	Errors []ValidationError
}

// Snapshot is the host-facing view of a variable: the committed state
// plus live pending/local data and the derived status message.
type Snapshot struct {
	Value   string
	Local   string
	Pending bool
	Valid   bool
	Dirty   bool
	Errors  []ValidationError
	Status  string
}

// binding ties one template variable to its damper and owner state.
// Commits arrive on the damper's goroutine via apply; reads go through
// the atomic state pointer.
type binding struct {
	variable  Variable
	opts      Options
	initial   string
	fromStore bool
	onChange  func(name, value string)

	damper  *Damper
	state   atomic.Pointer[VariableState]
	sourced atomic.Bool
}

// newBinding seeds the owner state with the initial value, validated
// immediately so Valid and Errors are truthful before any edit. The
// damper is attached by the session afterwards.
func newBinding(v Variable, opts Options, initial string, fromStore bool, onChange func(name, value string)) *binding {
	b := &binding{
		variable:  v,
		opts:      opts,
		initial:   initial,
		fromStore: fromStore,
		onChange:  onChange,
	}
	res := Validate(v, initial, opts)
	b.state.Store(&VariableState{
		Value:  initial,
		Valid:  res.Valid,
		Errors: res.Errors,
	})
	b.sourced.Store(fromStore)
	return b
}

// apply accepts a committed value: validate, update owner state, and
// notify the host. Runs on the damper's goroutine, only for commits
// whose value actually changed.
func (b *binding) apply(ctx context.Context, value string) {
	res := Validate(b.variable, value, b.opts)
	prev := b.state.Load()
	b.state.Store(&VariableState{
		Value:  value,
		Valid:  res.Valid,
		Dirty:  prev.Dirty || value != b.initial,
		Errors: res.Errors,
	})
	b.sourced.Store(false)

	capitan.Emit(ctx, BindingChanged,
		KeyVariable.Field(b.variable.Name),
	)
	if !res.Valid {
		capitan.Emit(ctx, BindingInvalid,
			KeyVariable.Field(b.variable.Name),
			KeyErrors.Field(len(res.Errors)),
		)
	}

	if b.onChange != nil {
		b.onChange(b.variable.Name, value)
	}
}

// reset restores the initial value and provenance, clearing dirty.
func (b *binding) reset(ctx context.Context) {
	b.damper.Reset(ctx, b.initial)
	res := Validate(b.variable, b.initial, b.opts)
	b.state.Store(&VariableState{
		Value:  b.initial,
		Valid:  res.Valid,
		Errors: res.Errors,
	})
	b.sourced.Store(b.fromStore)
}

// current returns a copy of the owner state.
func (b *binding) current() VariableState {
	st := b.state.Load()
	out := *st
	out.Errors = append([]ValidationError(nil), st.Errors...)
	return out
}

// snapshot assembles the host view, including live damper data.
func (b *binding) snapshot() Snapshot {
	st := b.state.Load()
	pending := b.damper.Pending()
	return Snapshot{
		Value:   st.Value,
		Local:   b.damper.Local(),
		Pending: pending,
		Valid:   st.Valid,
		Dirty:   st.Dirty,
		Errors:  append([]ValidationError(nil), st.Errors...),
		Status:  b.status(pending, st),
	}
}

// status derives the display message: typing feedback while pending, a
// modified marker while dirty, else the remaining character count when
// a maximum length is configured.
func (b *binding) status(pending bool, st *VariableState) string {
	switch {
	case pending:
		return "Typing…"
	case st.Dirty:
		return "Modified"
	case b.opts.MaxLength > 0:
		return fmt.Sprintf("%d characters remaining", b.opts.MaxLength-utf8.RuneCountInString(st.Value))
	default:
		return ""
	}
}
