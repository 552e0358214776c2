// SPDX-License-Identifier: GPL-2.0-or-later

// Package recorder accumulates frames into a new take.
package recorder

import (
	"errors"
	"fmt"
	"framereplay/pkg/frame"
	"framereplay/pkg/log"
	"sync"
)

// ErrInvalidState recording operation called out of sequence.
var ErrInvalidState = errors.New("invalid recorder state")

// Sink receives finished takes.
type Sink interface {
	AddTake(*frame.Store) error
}

// Recorder records a single take at a time.
type Recorder struct {
	sink   Sink
	logger log.ILogger

	store *frame.Store // nil when not recording.
	mu    sync.Mutex
}

// NewRecorder returns a recorder that hands finished takes to sink.
func NewRecorder(sink Sink, logger log.ILogger) *Recorder {
	return &Recorder{
		sink:   sink,
		logger: logger,
	}
}

// StartRecording begins a new take.
func (r *Recorder) StartRecording(layout frame.Layout, takeID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		return fmt.Errorf("%w: take %d is already recording", ErrInvalidState, r.store.TakeID())
	}
	if err := frame.CheckTakeID(takeID); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	store, err := frame.NewStore(takeID, layout)
	if err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	r.store = store

	log.Info(r.logger).Src("recorder").Msgf("recording take %d, frame size %d", takeID, layout.FrameSize)
	return nil
}

// AddDataToRecording appends buf[offset:] as a single frame.
func (r *Recorder) AddDataToRecording(buf []byte, offset int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return fmt.Errorf("%w: not recording", ErrInvalidState)
	}
	if offset < 0 || offset > len(buf) {
		return fmt.Errorf("%w: offset %d out of range %d", frame.ErrMalformedFrame, offset, len(buf))
	}
	return r.store.Append(buf[offset:])
}

// FinishRecording makes the take immutable and passes it to the sink.
// If the sink fails the take is kept and the call can be retried.
func (r *Recorder) FinishRecording() (*frame.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	store := r.store
	if store == nil {
		return nil, fmt.Errorf("%w: not recording", ErrInvalidState)
	}
	store.Finish()

	if err := r.sink.AddTake(store); err != nil {
		return nil, fmt.Errorf("save take %d: %w", store.TakeID(), err)
	}
	r.store = nil

	log.Info(r.logger).Src("recorder").Msgf("take %d finished, %d frames", store.TakeID(), store.FrameCount())
	return store, nil
}

// IsRecording returns true if a take is being recorded.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store != nil
}

// TakeID returns the take being recorded.
func (r *Recorder) TakeID() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return 0, false
	}
	return r.store.TakeID(), true
}
