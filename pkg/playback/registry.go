// SPDX-License-Identifier: GPL-2.0-or-later

package playback

import "sync"

// Reader consumes frames from a playback engine.
//
// The frame passed to Receive is only valid for the duration of the
// call, it is overwritten on the next tick. Readers that keep the frame
// must copy it. Receive must not block or call back into the registry.
type Reader interface {
	Receive(frame []byte)
}

// ReaderFunc adapts a function to a Reader.
type ReaderFunc func(frame []byte)

// Receive calls f(frame).
func (f ReaderFunc) Receive(frame []byte) {
	f(frame)
}

// Handle identifies a registration.
type Handle uint64

type registration struct {
	handle Handle
	reader Reader
	source string
}

// Registry maps readers to the engine they read from.
// Registration order is delivery order.
type Registry struct {
	entries    []registration
	nextHandle Handle
	mu         sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds reader with source as its declared engine.
// Each call creates a new registration.
func (r *Registry) Register(reader Reader, source string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextHandle++
	r.entries = append(r.entries, registration{
		handle: r.nextHandle,
		reader: reader,
		source: source,
	})
	return r.nextHandle
}

func (r *Registry) find(h Handle) int {
	for i := range r.entries {
		if r.entries[i].handle == h {
			return i
		}
	}
	return -1
}

// SetSource changes the source of a registration.
// Returns false if the handle is not registered.
func (r *Registry) SetSource(h Handle, source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.find(h)
	if i == -1 {
		return false
	}
	r.entries[i].source = source
	return true
}

// Unregister removes a registration.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.find(h); i != -1 {
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
	}
}

// HasReaderFor returns true if at least one reader declares source.
func (r *Registry) HasReaderFor(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.source == source {
			return true
		}
	}
	return false
}

// Len returns the number of registered readers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// deliver calls Receive on every reader of source, or on every reader if all is set.
func (r *Registry) deliver(frame []byte, source string, all bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if all || e.source == source {
			e.reader.Receive(frame)
		}
	}
}
