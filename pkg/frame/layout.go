// SPDX-License-Identifier: GPL-2.0-or-later

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Supported timestamp field sizes.
const (
	TimestampFloat32 = 4
	TimestampFloat64 = 8
)

// ErrInvalidLayout invalid frame layout.
var ErrInvalidLayout = errors.New("invalid frame layout")

// Layout describes how a single frame is laid out in a byte buffer.
// The embedded timestamp is a little endian float in seconds.
type Layout struct {
	FrameSize       uint32 `json:"frameSize"`
	TimestampOffset uint32 `json:"timestampOffset"`
	TimestampSize   uint32 `json:"timestampSize"`
}

// Validate returns ErrInvalidLayout if the layout cannot describe a frame.
func (l Layout) Validate() error {
	if l.FrameSize == 0 {
		return fmt.Errorf("%w: zero frame size", ErrInvalidLayout)
	}
	if l.TimestampSize != TimestampFloat32 && l.TimestampSize != TimestampFloat64 {
		return fmt.Errorf("%w: unsupported timestamp size: %d", ErrInvalidLayout, l.TimestampSize)
	}
	if uint64(l.TimestampOffset)+uint64(l.TimestampSize) > uint64(l.FrameSize) {
		return fmt.Errorf("%w: timestamp field %d+%d exceeds frame size %d",
			ErrInvalidLayout, l.TimestampOffset, l.TimestampSize, l.FrameSize)
	}
	return nil
}

// Timestamp reads the timestamp field of frame in seconds.
// frame must be at least FrameSize long.
func (l Layout) Timestamp(frame []byte) float64 {
	field := frame[l.TimestampOffset : l.TimestampOffset+l.TimestampSize]
	if l.TimestampSize == TimestampFloat64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(field))
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(field)))
}

// PutTimestamp writes ts into the timestamp field of frame.
func (l Layout) PutTimestamp(frame []byte, ts float64) {
	field := frame[l.TimestampOffset : l.TimestampOffset+l.TimestampSize]
	if l.TimestampSize == TimestampFloat64 {
		binary.LittleEndian.PutUint64(field, math.Float64bits(ts))
		return
	}
	binary.LittleEndian.PutUint32(field, math.Float32bits(float32(ts)))
}
