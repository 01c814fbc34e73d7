// Package nats provides a stencil.Source implementation for manifests
// stored in NATS KV, using the native Watch API.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/zoobzio/stencil"
)

// Source watches a NATS KV key holding a manifest, using the Watch API.
type Source struct {
	kv  jetstream.KeyValue
	key string
}

// Option configures a Source.
type Option func(*Source)

// New creates a Source for the given NATS KV key.
func New(kv jetstream.KeyValue, key string, opts ...Option) *Source {
	s := &Source{
		kv:  kv,
		key: key,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch begins watching the NATS KV key and returns a channel that emits
// the manifest bytes whenever the key changes. The current value is
// emitted immediately to support initial template loading.
func (s *Source) Watch(ctx context.Context) (<-chan []byte, error) {
	// Start watching the key
	watcher, err := s.kv.Watch(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch key: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil entry signals end of initial values
				if entry == nil {
					continue
				}
				// Skip delete operations
				if entry.Operation() == jetstream.KeyValueDelete || entry.Operation() == jetstream.KeyValuePurge {
					continue
				}

				select {
				case out <- entry.Value():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Ensure Source implements stencil.Source.
var _ stencil.Source = (*Source)(nil)
