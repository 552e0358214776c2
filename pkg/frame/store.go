// SPDX-License-Identifier: GPL-2.0-or-later

package frame

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Store errors.
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrFinished       = errors.New("store is finished")
	ErrInvalidTakeID  = errors.New("invalid take id")
)

// MaxTakeID largest take id the take format can hold.
const MaxTakeID = math.MaxUint32

// CheckTakeID returns ErrInvalidTakeID if takeID cannot be stored.
func CheckTakeID(takeID int) error {
	if takeID < 0 || int64(takeID) > MaxTakeID {
		return fmt.Errorf("%w: %d", ErrInvalidTakeID, takeID)
	}
	return nil
}

// Store is an append-only concatenation of fixed size frames
// belonging to a single take. The length of the stream is
// always a multiple of the frame size.
//
// A store is written by a single recorder and becomes immutable
// once finished, after which it may be shared by any number of
// playback engines.
type Store struct {
	takeID int
	layout Layout
	stream []byte

	finished bool
	mu       sync.Mutex
}

// NewStore returns an empty store that can be appended to.
func NewStore(takeID int, layout Layout) (*Store, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		takeID: takeID,
		layout: layout,
	}, nil
}

// NewFinishedStore returns an immutable store from previously recorded data.
func NewFinishedStore(takeID int, layout Layout, data []byte) (*Store, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if len(data)%int(layout.FrameSize) != 0 {
		return nil, fmt.Errorf("%w: stream length %d is not a multiple of frame size %d",
			ErrMalformedFrame, len(data), layout.FrameSize)
	}
	size := int(layout.FrameSize)
	for i := 0; i < len(data); i += size {
		if err := checkTimestamp(layout, data[i:i+size]); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i/size, err)
		}
	}
	return &Store{
		takeID:   takeID,
		layout:   layout,
		stream:   data,
		finished: true,
	}, nil
}

// TakeID returns the take the store belongs to.
func (s *Store) TakeID() int {
	return s.takeID
}

// Layout returns the frame layout.
func (s *Store) Layout() Layout {
	return s.layout
}

// Append appends a single frame.
func (s *Store) Append(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return ErrFinished
	}
	if len(frame) != int(s.layout.FrameSize) {
		return fmt.Errorf("%w: got %d bytes, expected %d",
			ErrMalformedFrame, len(frame), s.layout.FrameSize)
	}
	if err := checkTimestamp(s.layout, frame); err != nil {
		return err
	}
	s.stream = append(s.stream, frame...)
	return nil
}

// Playback never advances past a NaN or infinite timestamp.
func checkTimestamp(layout Layout, frame []byte) error {
	ts := layout.Timestamp(frame)
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return fmt.Errorf("%w: timestamp %v", ErrMalformedFrame, ts)
	}
	return nil
}

// Finish makes the store immutable.
func (s *Store) Finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

// Finished returns true if the store is immutable.
func (s *Store) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Bytes returns the record stream. The returned slice must not be modified.
func (s *Store) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Len returns the length of the record stream in bytes.
func (s *Store) Len() int {
	return len(s.Bytes())
}

// FrameCount returns the number of frames in the store.
func (s *Store) FrameCount() int {
	return s.Len() / int(s.layout.FrameSize)
}

// Frame returns frame i without copying.
func (s *Store) Frame(i int) []byte {
	size := int(s.layout.FrameSize)
	stream := s.Bytes()
	return stream[i*size : (i+1)*size]
}

// Duration returns the time between the first and last frame in seconds.
func (s *Store) Duration() float64 {
	n := s.FrameCount()
	if n == 0 {
		return 0
	}
	return s.layout.Timestamp(s.Frame(n-1)) - s.layout.Timestamp(s.Frame(0))
}
