// SPDX-License-Identifier: GPL-2.0-or-later

package frame

// Take file format.
//
// <takeID>.take
//   version     uint8
//   takeID      uint32
//   frameSize   uint32
//   tsOffset    uint32
//   tsSize      uint32
//   frameCount  uint32
//   frames      [frameCount][frameSize]byte
//
// Header fields are big endian. Frames are stored exactly as they
// were recorded, the timestamp inside each frame is little endian.

import (
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
)

const takeVersion = 0

// HeaderSize marshaled header size.
const HeaderSize = 21

// ErrUnsupportedVersion unsupported version.
var ErrUnsupportedVersion = errors.New("unsupported version")

// MarshalTake writes a finished store in the take format.
func MarshalTake(w io.Writer, s *Store) error {
	if !s.Finished() {
		return fmt.Errorf("marshal take %d: %w", s.TakeID(), ErrNotFinished)
	}
	if err := CheckTakeID(s.TakeID()); err != nil {
		return fmt.Errorf("marshal take: %w", err)
	}
	layout := s.Layout()
	stream := s.Bytes()

	bw := bitio.NewWriter(w)
	fields := []uint32{
		uint32(s.TakeID()),
		layout.FrameSize,
		layout.TimestampOffset,
		layout.TimestampSize,
		uint32(s.FrameCount()),
	}
	if err := bw.WriteByte(takeVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	for _, field := range fields {
		if err := bw.WriteBits(uint64(field), 32); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if _, err := bw.Write(stream); err != nil {
		return fmt.Errorf("write frames: %w", err)
	}
	return bw.Close()
}

// ErrNotFinished store is still being recorded.
var ErrNotFinished = errors.New("store is not finished")

// UnmarshalTake reads a store in the take format. The returned store is finished.
func UnmarshalTake(r io.Reader) (*Store, error) {
	br := bitio.NewReader(r)

	version, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != takeVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var fields [5]uint32
	for i := range fields {
		v, err := br.ReadBits(32)
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		fields[i] = uint32(v)
	}

	takeID := int(fields[0])
	layout := Layout{
		FrameSize:       fields[1],
		TimestampOffset: fields[2],
		TimestampSize:   fields[3],
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	// Frames are read without preallocating, the header may lie about the count.
	size := int64(fields[4]) * int64(layout.FrameSize)
	data, err := io.ReadAll(io.LimitReader(br, size))
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("read frames: %w", io.ErrUnexpectedEOF)
	}

	return NewFinishedStore(takeID, layout, data)
}
