package stencil

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key reloader events.
type MetricsProvider interface {
	// OnStateChange is called when the reloader transitions between states.
	OnStateChange(from, to ReloaderState)

	// OnReloadSuccess is called when a manifest is successfully applied.
	// Duration is the time taken to decode, validate, build, and apply.
	OnReloadSuccess(duration time.Duration)

	// OnReloadFailure is called when a reload fails at any stage.
	// Stage indicates where the failure occurred: "decode", "validate",
	// "build", or "apply".
	OnReloadFailure(stage string, duration time.Duration)

	// OnChangeReceived is called when raw data is received from the source.
	OnChangeReceived()
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnStateChange(_, _ ReloaderState)          {}
func (NoOpMetricsProvider) OnReloadSuccess(_ time.Duration)           {}
func (NoOpMetricsProvider) OnReloadFailure(_ string, _ time.Duration) {}
func (NoOpMetricsProvider) OnChangeReceived()                         {}
