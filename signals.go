package stencil

import "github.com/zoobzio/capitan"

// Damper lifecycle signals.
var (
	// DamperPending is emitted when an edit opens a pending window.
	DamperPending = capitan.NewSignal(
		"stencil.damper.pending",
		"Damper entered pending state",
	)

	// DamperCommitted is emitted when a pending window closes and the
	// local value becomes the committed value.
	DamperCommitted = capitan.NewSignal(
		"stencil.damper.committed",
		"Damper committed local value",
	)

	// DamperReset is emitted when a Damper is reset to a new baseline.
	DamperReset = capitan.NewSignal(
		"stencil.damper.reset",
		"Damper reset to baseline value",
	)

	// DamperClosed is emitted when a Damper is closed.
	DamperClosed = capitan.NewSignal(
		"stencil.damper.closed",
		"Damper closed",
	)
)

// Binding signals.
var (
	// BindingChanged is emitted when a committed value reaches a binding.
	BindingChanged = capitan.NewSignal(
		"stencil.binding.changed",
		"Binding received committed value",
	)

	// BindingInvalid is emitted when a committed value fails validation.
	BindingInvalid = capitan.NewSignal(
		"stencil.binding.invalid",
		"Binding value failed validation",
	)
)

// Session lifecycle signals.
var (
	// SessionStarted is emitted when a Session begins accepting edits.
	SessionStarted = capitan.NewSignal(
		"stencil.session.started",
		"Session started",
	)

	// SessionClosed is emitted when a Session is closed.
	SessionClosed = capitan.NewSignal(
		"stencil.session.closed",
		"Session closed",
	)
)

// Promotion signals.
var (
	// PromotionApplied is emitted when a variable value is written to the store.
	PromotionApplied = capitan.NewSignal(
		"stencil.promotion.applied",
		"Variable promoted to store",
	)

	// PromotionRejected is emitted when a promotion attempt is refused.
	PromotionRejected = capitan.NewSignal(
		"stencil.promotion.rejected",
		"Promotion rejected",
	)
)

// Reloader lifecycle signals.
var (
	// ReloaderStarted is emitted when a Reloader begins watching.
	ReloaderStarted = capitan.NewSignal(
		"stencil.reloader.started",
		"Reloader watching started",
	)

	// ReloaderStopped is emitted when a Reloader stops watching.
	ReloaderStopped = capitan.NewSignal(
		"stencil.reloader.stopped",
		"Reloader watching stopped",
	)

	// ReloaderStateChanged is emitted when a Reloader transitions between states.
	ReloaderStateChanged = capitan.NewSignal(
		"stencil.reloader.state.changed",
		"Reloader state transition",
	)
)

// Reload processing signals.
var (
	// ReloadChangeReceived is emitted when raw data is received from the source.
	ReloadChangeReceived = capitan.NewSignal(
		"stencil.reload.change.received",
		"Raw change received from source",
	)

	// ReloadDecodeFailed is emitted when manifest decoding fails.
	ReloadDecodeFailed = capitan.NewSignal(
		"stencil.reload.decode.failed",
		"Manifest decode failed",
	)

	// ReloadValidationFailed is emitted when manifest validation fails.
	ReloadValidationFailed = capitan.NewSignal(
		"stencil.reload.validation.failed",
		"Manifest validation failed",
	)

	// ReloadBuildFailed is emitted when template construction fails.
	ReloadBuildFailed = capitan.NewSignal(
		"stencil.reload.build.failed",
		"Template build failed",
	)

	// ReloadApplyFailed is emitted when the apply function fails.
	ReloadApplyFailed = capitan.NewSignal(
		"stencil.reload.apply.failed",
		"Apply function failed",
	)

	// ReloadApplied is emitted when a template is successfully applied.
	ReloadApplied = capitan.NewSignal(
		"stencil.reload.applied",
		"Template applied successfully",
	)
)
