package stencil

import "context"

// Source observes a manifest location for changes and emits raw bytes
// on a channel. Implementations must emit the current value immediately
// upon Watch() being called to support initial template loading.
type Source interface {
	// Watch begins observing the source and returns a channel that emits
	// raw manifest bytes when changes occur. The channel is closed when
	// the context is canceled or an unrecoverable error occurs.
	//
	// Implementations should emit the current value immediately to
	// support initial template loading.
	Watch(ctx context.Context) (<-chan []byte, error)
}

// ChannelSource wraps an existing byte channel as a Source.
// Useful for testing and custom feeds that already produce bytes.
type ChannelSource struct {
	ch   <-chan []byte
	sync bool
}

// NewChannelSource creates a ChannelSource that forwards values from the
// given channel through an internal goroutine.
func NewChannelSource(ch <-chan []byte) *ChannelSource {
	return &ChannelSource{ch: ch, sync: false}
}

// NewSyncChannelSource creates a ChannelSource that returns the source
// channel directly without an intermediate goroutine.
// Use with SyncMode() for deterministic testing.
func NewSyncChannelSource(ch <-chan []byte) *ChannelSource {
	return &ChannelSource{ch: ch, sync: true}
}

// Watch returns a channel that emits values from the wrapped channel.
func (s *ChannelSource) Watch(ctx context.Context) (<-chan []byte, error) {
	if s.sync {
		return s.ch, nil
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-s.ch:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StaticSource emits a fixed manifest once and never changes.
// Useful for hosts that load templates from embedded assets.
type StaticSource struct {
	data []byte
}

// NewStaticSource creates a StaticSource for the given manifest bytes.
func NewStaticSource(data []byte) *StaticSource {
	return &StaticSource{data: data}
}

// Watch emits the manifest bytes once and closes the channel.
func (s *StaticSource) Watch(_ context.Context) (<-chan []byte, error) {
	out := make(chan []byte, 1)
	out <- s.data
	close(out)
	return out, nil
}
