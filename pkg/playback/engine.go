// SPDX-License-Identifier: GPL-2.0-or-later

package playback

import (
	"errors"
	"framereplay/pkg/frame"
	"framereplay/pkg/log"
	"math"
)

// ErrNoBufferAvailable no buffer is bound and no default buffer could be used.
var ErrNoBufferAvailable = errors.New("no playback buffer available")

// State playback state.
type State int

// Playback states.
const (
	StateIdle State = iota
	StatePlaying
)

func (s State) String() string {
	if s == StatePlaying {
		return "playing"
	}
	return "idle"
}

// BufferProvider lists the takes that can be played by default.
type BufferProvider interface {
	DefaultBuffers() []*frame.Store
}

// Options engine options.
type Options struct {
	// Bind the first default buffer when StartPlayback
	// is called without a bound buffer.
	DefaultToFirstBuffer bool
	Buffers              BufferProvider
}

// Engine plays back a take in real time. Frame N is delivered to the
// readers of the engine once the time elapsed since StartPlayback reaches
// the difference between the timestamp of frame N and the first frame.
//
// The engine is not safe for concurrent use, it is driven by a single
// caller that invokes Tick once per cycle and passes in the current time.
type Engine struct {
	id       string
	registry *Registry
	opts     Options
	logger   log.ILogger

	buffer *frame.Store
	state  State
	active bool

	cursor       int
	currentFrame []byte // Reused across ticks.

	sessionStart float64
	firstFrameTS float64
	nextFrameTS  float64
}

// NewEngine returns an idle engine. Readers select the engine by id.
func NewEngine(id string, registry *Registry, logger log.ILogger, opts Options) *Engine {
	return &Engine{
		id:           id,
		registry:     registry,
		opts:         opts,
		logger:       logger,
		sessionStart: math.Inf(1),
	}
}

// ID returns the engine id.
func (e *Engine) ID() string {
	return e.id
}

// SetPlaybackBuffer stops playback if playing and binds buffer.
func (e *Engine) SetPlaybackBuffer(buffer *frame.Store) {
	if e.state == StatePlaying {
		e.StopPlayback()
	}
	e.buffer = buffer
}

// StartPlayback starts playing the bound buffer from the first frame.
func (e *Engine) StartPlayback(now float64) error {
	if e.buffer == nil {
		if err := e.bindDefaultBuffer(); err != nil {
			return err
		}
	}

	layout := e.buffer.Layout()
	size := int(layout.FrameSize)
	if cap(e.currentFrame) >= size {
		e.currentFrame = e.currentFrame[:size]
	} else {
		e.currentFrame = make([]byte, size)
	}

	stream := e.buffer.Bytes()
	if len(stream) >= size {
		copy(e.currentFrame, stream[:size])
		e.firstFrameTS = layout.Timestamp(e.currentFrame)
	} else {
		// End of stream on the first advance.
		for i := range e.currentFrame {
			e.currentFrame[i] = 0
		}
		e.firstFrameTS = 0
	}

	e.nextFrameTS = e.firstFrameTS
	e.sessionStart = now
	e.cursor = 0
	e.state = StatePlaying
	e.active = true

	log.Info(e.logger).Src("engine").Player(e.id).
		Msgf("playing take %d", e.buffer.TakeID())
	return nil
}

func (e *Engine) bindDefaultBuffer() error {
	if !e.opts.DefaultToFirstBuffer || e.opts.Buffers == nil {
		return ErrNoBufferAvailable
	}
	buffers := e.opts.Buffers.DefaultBuffers()
	if len(buffers) == 0 {
		return ErrNoBufferAvailable
	}

	log.Info(e.logger).Src("engine").Player(e.id).
		Msgf("no playback buffer set, using take %d", buffers[0].TakeID())
	e.SetPlaybackBuffer(buffers[0])
	return nil
}

// StopPlayback stops playback. Calling it while idle does nothing.
func (e *Engine) StopPlayback() {
	e.sessionStart = math.Inf(1)
	e.state = StateIdle
	e.active = false
}

// Tick advances playback to now and pushes the current frame to the readers.
func (e *Engine) Tick(now float64) {
	e.active = e.registry.HasReaderFor(e.id)
	if !e.active || e.state != StatePlaying {
		return
	}

	if now-e.sessionStart >= e.nextFrameTS-e.firstFrameTS {
		if !e.advance() {
			e.StopPlayback()
			log.Info(e.logger).Src("engine").Player(e.id).
				Msgf("take %d finished", e.buffer.TakeID())
		}
	}

	e.UpdateCurrentFrameBuffer(false)
}

// advance copies the frame at the cursor into the current frame and loads
// the timestamp of the following frame. Returns false at the end of the stream.
func (e *Engine) advance() bool {
	stream := e.buffer.Bytes()
	size := len(e.currentFrame)
	if e.cursor+size > len(stream) {
		return false
	}

	copy(e.currentFrame, stream[e.cursor:e.cursor+size])
	e.cursor += size

	layout := e.buffer.Layout()
	if e.cursor+size <= len(stream) {
		e.nextFrameTS = layout.Timestamp(stream[e.cursor : e.cursor+size])
	} else {
		// Last frame, the next tick ends playback.
		e.nextFrameTS = layout.Timestamp(e.currentFrame)
	}
	return true
}

// UpdateCurrentFrameBuffer delivers the current frame to every reader of
// this engine while active, or to every registered reader if force is set.
func (e *Engine) UpdateCurrentFrameBuffer(force bool) {
	if e.currentFrame == nil {
		return
	}
	if !force && !e.active {
		return
	}
	e.registry.deliver(e.currentFrame, e.id, force)
}

// State returns the playback state.
func (e *Engine) State() State {
	return e.state
}

// IsActive returns true if a reader selected this engine on the last tick.
func (e *Engine) IsActive() bool {
	return e.active
}

// Cursor returns the byte offset of the next frame to be read.
func (e *Engine) Cursor() int {
	return e.cursor
}

// ActiveBuffer returns the bound buffer, or nil.
func (e *Engine) ActiveBuffer() *frame.Store {
	return e.buffer
}

// CurrentFrame returns a copy of the current frame.
func (e *Engine) CurrentFrame() []byte {
	if e.currentFrame == nil {
		return nil
	}
	frame := make([]byte, len(e.currentFrame))
	copy(frame, e.currentFrame)
	return frame
}

// Status engine status.
type Status struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Active  bool   `json:"active"`
	TakeID  *int   `json:"takeId"`
	Frame   int    `json:"frame"`
	Frames  int    `json:"frames"`
	Readers bool   `json:"readers"`
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	s := Status{
		ID:      e.id,
		State:   e.state.String(),
		Active:  e.active,
		Readers: e.registry.HasReaderFor(e.id),
	}
	if e.buffer != nil {
		takeID := e.buffer.TakeID()
		s.TakeID = &takeID
		s.Frames = e.buffer.FrameCount()
		s.Frame = e.cursor / int(e.buffer.Layout().FrameSize)
	}
	return s
}
