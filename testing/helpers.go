// Package testing provides test utilities and helpers for stencil reloader testing.
package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/zoobzio/stencil"
)

// TestManifest returns a minimal valid manifest for testing reloaders.
// It declares a single required variable "topic" with a default value.
func TestManifest(name string) []byte {
	return []byte(fmt.Sprintf(`name: %s
template: "Remember to review {{topic}} before the exam."
variables:
  - name: topic
    required: true
    default: algebra
`, name))
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForState waits until the reloader reaches the expected state or timeout occurs.
func WaitForState(t *testing.T, r *stencil.Reloader, expected stencil.ReloaderState, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return r.State() == expected
	})
}

// RequireState fails the test immediately if the reloader is not in the expected state.
func RequireState(t *testing.T, r *stencil.Reloader, expected stencil.ReloaderState) {
	t.Helper()
	if got := r.State(); got != expected {
		t.Fatalf("expected state %s, got %s", expected, got)
	}
}

// RequireTemplate fails the test if no template is current or the template
// doesn't satisfy the check.
func RequireTemplate(t *testing.T, r *stencil.Reloader, check func(*stencil.Template) bool) {
	t.Helper()
	tmpl := r.Current()
	if tmpl == nil {
		t.Fatal("expected template to be present, got none")
	}
	if !check(tmpl) {
		t.Fatalf("template check failed: %s", tmpl.Name())
	}
}

// NewTestReloader creates a reloader with a sync channel source for testing.
// Returns the reloader and a channel for sending manifest bytes.
func NewTestReloader(t *testing.T, apply func(ctx context.Context, prev, curr *stencil.Template) error) (*stencil.Reloader, chan<- []byte) {
	t.Helper()
	ch := make(chan []byte, 10)
	r := stencil.NewReloader(
		stencil.NewSyncChannelSource(ch),
		apply,
	).SyncMode()
	return r, ch
}
