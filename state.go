package stencil

// DamperState represents the current state of a Damper.
type DamperState int32

const (
	// StateIdle indicates the local value matches the committed value and
	// no timers are armed.
	StateIdle DamperState = iota

	// StatePending indicates edits are buffered and a commit is scheduled.
	StatePending
)

// String returns the string representation of the state.
func (s DamperState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	default:
		return "unknown"
	}
}

// ReloaderState represents the current state of a Reloader.
type ReloaderState int32

const (
	// StateLoading indicates the Reloader is initializing and has not yet
	// processed any manifest.
	StateLoading ReloaderState = iota

	// StateHealthy indicates the Reloader has a valid template applied.
	StateHealthy

	// StateDegraded indicates the last manifest change failed decoding,
	// building, or application. The previous valid template remains active.
	StateDegraded

	// StateEmpty indicates the initial manifest load failed and no valid
	// template has ever been obtained. The Reloader continues watching
	// for valid updates.
	StateEmpty
)

// String returns the string representation of the state.
func (s ReloaderState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateEmpty:
		return "empty"
	default:
		return "unknown"
	}
}
