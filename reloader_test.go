package stencil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zoobzio/clockz"
)

func manifestYAML(name string) []byte {
	return []byte(`
name: ` + name + `
template: "Remember to review {{topic}} before the exam."
variables:
  - name: topic
    required: true
    maxLength: 20
`)
}

var (
	manifestJSON = []byte(`{"name": "exam-note", "template": "Remember {{topic}}.", "variables": [{"name": "topic", "required": true}]}`)

	// Fails JSON detection on the leading bracket.
	garbageBytes = []byte(`[unclosed`)

	// Decodes fine but has no name.
	missingNameYAML = []byte(`
template: "Hello {{name}}!"
`)

	// Decodes and validates but names a variable absent from the text.
	ghostVariableYAML = []byte(`
name: broken
template: "Hello {{name}}!"
variables:
  - name: ghost
`)
)

// errorSource fails Watch immediately.
type errorSource struct{}

func (errorSource) Watch(_ context.Context) (<-chan []byte, error) {
	return nil, errors.New("watch exploded")
}

// neverSource watches forever without emitting.
type neverSource struct{}

func (neverSource) Watch(_ context.Context) (<-chan []byte, error) {
	return make(chan []byte), nil
}

// recordingMetrics captures provider callbacks for assertions.
type recordingMetrics struct {
	mu          sync.Mutex
	transitions []string
	successes   int
	failures    []string
	changes     atomic.Int32
}

func (m *recordingMetrics) OnStateChange(from, to ReloaderState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from.String()+"->"+to.String())
}

func (m *recordingMetrics) OnReloadSuccess(_ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes++
}

func (m *recordingMetrics) OnReloadFailure(stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, stage)
}

func (m *recordingMetrics) OnChangeReceived() {
	m.changes.Add(1)
}

func waitForChanges(t *testing.T, m *recordingMetrics, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.changes.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d changes, saw %d", want, m.changes.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReloader_BasicYAML(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- manifestYAML("exam-note")

	var applied atomic.Int32
	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, prev, curr *Template) error {
		applied.Add(1)
		if prev != nil {
			t.Errorf("expected nil prev on first load, got %v", prev.Name())
		}
		if curr.Name() != "exam-note" {
			t.Errorf("expected exam-note, got %s", curr.Name())
		}
		return nil
	}).SyncMode()

	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if applied.Load() != 1 {
		t.Errorf("expected 1 apply, got %d", applied.Load())
	}
	if reloader.State() != StateHealthy {
		t.Errorf("expected healthy, got %s", reloader.State())
	}
	if reloader.Current() == nil {
		t.Fatal("expected current template")
	}
	if reloader.Current().Name() != "exam-note" {
		t.Errorf("expected exam-note, got %s", reloader.Current().Name())
	}
	if reloader.LastError() != nil {
		t.Errorf("expected no error, got %v", reloader.LastError())
	}
}

func TestReloader_BasicJSON(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- manifestJSON

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if reloader.Current().Name() != "exam-note" {
		t.Errorf("expected exam-note, got %s", reloader.Current().Name())
	}
}

func TestReloader_InitialDecodeFailure(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- garbageBytes

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	err := reloader.Start(ctx)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !strings.Contains(err.Error(), "decode failed") {
		t.Errorf("expected decode failure, got %v", err)
	}
	if reloader.State() != StateEmpty {
		t.Errorf("expected empty, got %s", reloader.State())
	}
	if reloader.Current() != nil {
		t.Error("expected no current template")
	}
	if reloader.LastError() == nil {
		t.Error("expected LastError set")
	}
}

func TestReloader_InitialValidationFailure(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- missingNameYAML

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	err := reloader.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("expected validation failure, got %v", err)
	}
	if reloader.State() != StateEmpty {
		t.Errorf("expected empty, got %s", reloader.State())
	}
}

func TestReloader_InitialBuildFailure(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- ghostVariableYAML

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	err := reloader.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "build failed") {
		t.Errorf("expected build failure, got %v", err)
	}
}

func TestReloader_ApplyCallbackError(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- manifestYAML("exam-note")

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return errors.New("host rejected")
	}).SyncMode()

	err := reloader.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "apply failed") {
		t.Errorf("expected apply failure, got %v", err)
	}
	if reloader.State() != StateEmpty {
		t.Errorf("expected empty, got %s", reloader.State())
	}
	if reloader.Current() != nil {
		t.Error("expected no current template after apply failure")
	}
}

func TestReloader_RecoversAfterInitialFailure(t *testing.T) {
	// A failed first load leaves the reloader watching; the next valid
	// manifest takes over.
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- garbageBytes

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	if err := reloader.Start(ctx); err == nil {
		t.Fatal("expected initial failure")
	}
	if reloader.State() != StateEmpty {
		t.Fatalf("expected empty, got %s", reloader.State())
	}

	ch <- manifestYAML("exam-note")
	if !reloader.Process(ctx) {
		t.Fatal("expected Process to consume the update")
	}
	if reloader.State() != StateHealthy {
		t.Errorf("expected healthy, got %s", reloader.State())
	}
	if reloader.LastError() != nil {
		t.Errorf("expected error cleared, got %v", reloader.LastError())
	}
}

func TestReloader_RollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- manifestYAML("exam-note")

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch <- garbageBytes
	if !reloader.Process(ctx) {
		t.Fatal("expected Process to consume the update")
	}

	if reloader.State() != StateDegraded {
		t.Errorf("expected degraded, got %s", reloader.State())
	}
	if reloader.Current() == nil || reloader.Current().Name() != "exam-note" {
		t.Error("expected previous template retained")
	}
	if reloader.LastError() == nil {
		t.Error("expected LastError set")
	}
}

func TestReloader_RecoverFromDegraded(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- manifestYAML("v1")

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch <- garbageBytes
	reloader.Process(ctx)
	if reloader.State() != StateDegraded {
		t.Fatalf("expected degraded, got %s", reloader.State())
	}

	ch <- manifestYAML("v2")
	reloader.Process(ctx)

	if reloader.State() != StateHealthy {
		t.Errorf("expected healthy, got %s", reloader.State())
	}
	if reloader.Current().Name() != "v2" {
		t.Errorf("expected v2, got %s", reloader.Current().Name())
	}
	if reloader.LastError() != nil {
		t.Errorf("expected error cleared, got %v", reloader.LastError())
	}
}

func TestReloader_PrevCurrSequence(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- manifestYAML("v1")

	var prevs []*Template
	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, prev, _ *Template) error {
		prevs = append(prevs, prev)
		return nil
	}).SyncMode()

	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := reloader.Current()

	ch <- manifestYAML("v2")
	reloader.Process(ctx)

	if len(prevs) != 2 {
		t.Fatalf("expected 2 applies, got %d", len(prevs))
	}
	if prevs[0] != nil {
		t.Error("expected nil prev on first load")
	}
	if prevs[1] != first {
		t.Error("expected second prev to be the first template")
	}
}

func TestReloader_CannotStartTwice(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- manifestYAML("exam-note")

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := reloader.Start(ctx); err == nil {
		t.Error("expected error on second start")
	}
}

func TestReloader_SourceWatchError(t *testing.T) {
	ctx := context.Background()
	reloader := NewReloader(errorSource{}, func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	err := reloader.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "failed to start source") {
		t.Errorf("expected source error, got %v", err)
	}
}

func TestReloader_SourceClosedBeforeFirstValue(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte)
	close(ch)

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	err := reloader.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "source closed") {
		t.Errorf("expected closed source error, got %v", err)
	}
}

func TestReloader_ContextCanceledBeforeFirstValue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reloader := NewReloader(neverSource{}, func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	err := reloader.Start(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestReloader_StartupTimeout(t *testing.T) {
	ctx := context.Background()
	reloader := NewReloader(neverSource{}, func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode().StartupTimeout(50 * time.Millisecond)

	err := reloader.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "startup timeout") {
		t.Errorf("expected startup timeout, got %v", err)
	}
}

func TestReloader_ProcessOutsideSyncMode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan []byte, 8)
	ch <- manifestYAML("exam-note")

	reloader := NewReloader(NewChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	})
	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if reloader.Process(ctx) {
		t.Error("expected Process to refuse outside sync mode")
	}
}

func TestReloader_ProcessDrainsAndStops(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- manifestYAML("v1")

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Nothing buffered: Process reports false without blocking.
	if reloader.Process(ctx) {
		t.Error("expected false with no pending value")
	}

	ch <- manifestYAML("v2")
	ch <- manifestYAML("v3")
	if !reloader.Process(ctx) || !reloader.Process(ctx) {
		t.Fatal("expected two processed updates")
	}
	if reloader.Current().Name() != "v3" {
		t.Errorf("expected v3, got %s", reloader.Current().Name())
	}

	close(ch)
	if reloader.Process(ctx) {
		t.Error("expected false after source closed")
	}
}

func TestReloader_StaticSource(t *testing.T) {
	ctx := context.Background()
	reloader := NewReloader(NewStaticSource(manifestYAML("exam-note")), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if reloader.State() != StateHealthy {
		t.Errorf("expected healthy, got %s", reloader.State())
	}

	// The static source emits once; there is never a second value.
	if reloader.Process(ctx) {
		t.Error("expected no further values")
	}
}

func TestReloader_FormatJSONRejectsYAML(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- manifestYAML("exam-note")

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode().Format(FormatJSON)

	err := reloader.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "expected JSON") {
		t.Errorf("expected JSON format rejection, got %v", err)
	}
}

func TestReloader_FormatYAMLAcceptsJSON(t *testing.T) {
	// JSON is a YAML subset, so the YAML format still decodes it.
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- manifestJSON

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode().Format(FormatYAML)

	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if reloader.Current().Name() != "exam-note" {
		t.Errorf("expected exam-note, got %s", reloader.Current().Name())
	}
}

func TestReloader_FailureLog(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- manifestYAML("exam-note")

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode().FailureLogSize(3)

	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if reloader.Failures() != nil {
		t.Errorf("expected no failures yet, got %v", reloader.Failures())
	}

	ch <- garbageBytes
	ch <- missingNameYAML
	ch <- ghostVariableYAML
	reloader.Process(ctx)
	reloader.Process(ctx)
	reloader.Process(ctx)

	failures := reloader.Failures()
	stages := make([]string, len(failures))
	for i, f := range failures {
		stages[i] = f.Stage
		if f.Err == nil {
			t.Errorf("expected error recorded for stage %s", f.Stage)
		}
		if f.At.IsZero() {
			t.Errorf("expected timestamp for stage %s", f.Stage)
		}
	}
	if diff := cmp.Diff([]string{"decode", "validate", "build"}, stages); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}

	// A fourth failure evicts the oldest.
	ch <- garbageBytes
	reloader.Process(ctx)
	failures = reloader.Failures()
	stages = stages[:0]
	for _, f := range failures {
		stages = append(stages, f.Stage)
	}
	if diff := cmp.Diff([]string{"validate", "build", "decode"}, stages); diff != "" {
		t.Errorf("stages after eviction mismatch (-want +got):\n%s", diff)
	}

	// Success clears the log.
	ch <- manifestYAML("v2")
	reloader.Process(ctx)
	if reloader.Failures() != nil {
		t.Errorf("expected log cleared on success, got %v", reloader.Failures())
	}
}

func TestReloader_FailureLogDisabled(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 8)
	ch <- garbageBytes

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode()

	if err := reloader.Start(ctx); err == nil {
		t.Fatal("expected initial failure")
	}
	if reloader.Failures() != nil {
		t.Errorf("expected nil failures when log disabled, got %v", reloader.Failures())
	}
	if reloader.LastError() == nil {
		t.Error("expected LastError still tracked")
	}
}

func TestReloader_Metrics(t *testing.T) {
	ctx := context.Background()
	metrics := &recordingMetrics{}
	ch := make(chan []byte, 8)
	ch <- manifestYAML("v1")

	reloader := NewReloader(NewSyncChannelSource(ch), func(_ context.Context, _, _ *Template) error {
		return nil
	}).SyncMode().Metrics(metrics)

	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch <- garbageBytes
	reloader.Process(ctx)
	ch <- manifestYAML("v2")
	reloader.Process(ctx)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.successes != 2 {
		t.Errorf("expected 2 successes, got %d", metrics.successes)
	}
	if diff := cmp.Diff([]string{"decode"}, metrics.failures); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	want := []string{"loading->healthy", "healthy->degraded", "degraded->healthy"}
	if diff := cmp.Diff(want, metrics.transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	if metrics.changes.Load() != 3 {
		t.Errorf("expected 3 changes received, got %d", metrics.changes.Load())
	}
}

func TestReloader_DebounceCoalescesRapidChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockz.NewFakeClock()
	metrics := &recordingMetrics{}
	applied := make(chan string, 8)
	ch := make(chan []byte, 8)

	reloader := NewReloader(NewChannelSource(ch), func(_ context.Context, _, curr *Template) error {
		applied <- curr.Name()
		return nil
	}).Clock(clock).Debounce(100 * time.Millisecond).Metrics(metrics)

	ch <- manifestYAML("v1")
	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if name := <-applied; name != "v1" {
		t.Fatalf("expected v1, got %s", name)
	}

	// Three rapid changes inside the debounce window.
	ch <- manifestYAML("v2")
	waitForChanges(t, metrics, 2)
	ch <- manifestYAML("v3")
	waitForChanges(t, metrics, 3)
	ch <- manifestYAML("v4")
	waitForChanges(t, metrics, 4)

	// Let the watch loop re-arm the timer, then fire it.
	time.Sleep(10 * time.Millisecond)
	clock.Advance(100 * time.Millisecond)
	clock.BlockUntilReady()

	select {
	case name := <-applied:
		if name != "v4" {
			t.Errorf("expected coalesced v4, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced apply")
	}

	select {
	case name := <-applied:
		t.Errorf("unexpected extra apply %s", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReloader_DebounceProcessesPendingOnClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockz.NewFakeClock()
	metrics := &recordingMetrics{}
	applied := make(chan string, 8)
	stopped := make(chan ReloaderState, 1)
	ch := make(chan []byte, 8)

	reloader := NewReloader(NewChannelSource(ch), func(_ context.Context, _, curr *Template) error {
		applied <- curr.Name()
		return nil
	}).Clock(clock).Metrics(metrics).OnStop(func(s ReloaderState) { stopped <- s })

	ch <- manifestYAML("v1")
	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-applied

	// A change still waiting on the debounce timer when the source closes
	// is processed on shutdown.
	ch <- manifestYAML("v2")
	waitForChanges(t, metrics, 2)
	close(ch)

	select {
	case name := <-applied:
		if name != "v2" {
			t.Errorf("expected v2, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pending apply")
	}

	select {
	case state := <-stopped:
		if state != StateHealthy {
			t.Errorf("expected healthy at stop, got %s", state)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stop callback")
	}
}

func TestReloader_OnStopOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	applied := make(chan string, 8)
	stopped := make(chan ReloaderState, 1)
	ch := make(chan []byte, 8)

	reloader := NewReloader(NewChannelSource(ch), func(_ context.Context, _, curr *Template) error {
		applied <- curr.Name()
		return nil
	}).OnStop(func(s ReloaderState) { stopped <- s })

	ch <- manifestYAML("v1")
	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-applied

	cancel()

	select {
	case state := <-stopped:
		if state != StateHealthy {
			t.Errorf("expected healthy at stop, got %s", state)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stop callback")
	}
}

func TestReloader_AsyncRollback(t *testing.T) {
	// Same rollback contract through the async watch path.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := &recordingMetrics{}
	applied := make(chan string, 8)
	ch := make(chan []byte, 8)

	reloader := NewReloader(NewChannelSource(ch), func(_ context.Context, _, curr *Template) error {
		applied <- curr.Name()
		return nil
	}).Debounce(time.Millisecond).Metrics(metrics)

	ch <- manifestYAML("v1")
	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-applied

	ch <- garbageBytes
	deadline := time.Now().Add(2 * time.Second)
	for reloader.State() != StateDegraded {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for degraded state, at %s", reloader.State())
		}
		time.Sleep(time.Millisecond)
	}
	if reloader.Current().Name() != "v1" {
		t.Errorf("expected v1 retained, got %s", reloader.Current().Name())
	}
}
