package recorder

import (
	"errors"
	"framereplay/pkg/frame"
	"framereplay/pkg/log"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockSink struct {
	takes []*frame.Store
	err   error
}

func (s *mockSink) AddTake(store *frame.Store) error {
	if s.err != nil {
		return s.err
	}
	s.takes = append(s.takes, store)
	return nil
}

var testLayout = frame.Layout{FrameSize: 12, TimestampOffset: 0, TimestampSize: 4}

func TestRecorder(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		sink := &mockSink{}
		logger := log.NewMockLogger()
		r := NewRecorder(sink, logger)

		require.NoError(t, r.StartRecording(testLayout, 4))
		require.True(t, r.IsRecording())
		takeID, ok := r.TakeID()
		require.True(t, ok)
		require.Equal(t, 4, takeID)

		frame0 := make([]byte, 12)
		frame1 := make([]byte, 12)
		testLayout.PutTimestamp(frame1, 1)
		frame1[11] = 9

		require.NoError(t, r.AddDataToRecording(frame0, 0))

		// Leading bytes that are not part of the frame.
		withHeader := append([]byte{0xff, 0xff}, frame1...)
		require.NoError(t, r.AddDataToRecording(withHeader, 2))

		store, err := r.FinishRecording()
		require.NoError(t, err)
		require.False(t, r.IsRecording())
		require.True(t, store.Finished())
		require.Equal(t, append(frame0, frame1...), store.Bytes())
		require.Equal(t, []*frame.Store{store}, sink.takes)

		require.Equal(t, []log.Entry{
			{Level: log.LevelInfo, Src: "recorder", Msg: "recording take 4, frame size 12"},
			{Level: log.LevelInfo, Src: "recorder", Msg: "take 4 finished, 2 frames"},
		}, logger.Entries())
	})
	t.Run("alreadyRecording", func(t *testing.T) {
		r := NewRecorder(&mockSink{}, log.NewMockLogger())
		require.NoError(t, r.StartRecording(testLayout, 1))

		err := r.StartRecording(testLayout, 1)
		require.ErrorIs(t, err, ErrInvalidState)
		err = r.StartRecording(testLayout, 2)
		require.ErrorIs(t, err, ErrInvalidState)
	})
	t.Run("invalidLayout", func(t *testing.T) {
		r := NewRecorder(&mockSink{}, log.NewMockLogger())
		err := r.StartRecording(frame.Layout{FrameSize: 2, TimestampSize: 4}, 1)
		require.ErrorIs(t, err, frame.ErrInvalidLayout)
		require.False(t, r.IsRecording())
	})
	t.Run("notRecording", func(t *testing.T) {
		r := NewRecorder(&mockSink{}, log.NewMockLogger())

		err := r.AddDataToRecording(make([]byte, 12), 0)
		require.ErrorIs(t, err, ErrInvalidState)

		_, err = r.FinishRecording()
		require.ErrorIs(t, err, ErrInvalidState)

		_, ok := r.TakeID()
		require.False(t, ok)
	})
	t.Run("malformedFrame", func(t *testing.T) {
		r := NewRecorder(&mockSink{}, log.NewMockLogger())
		require.NoError(t, r.StartRecording(testLayout, 1))

		cases := []struct {
			name   string
			buf    []byte
			offset int
		}{
			{"short", make([]byte, 11), 0},
			{"long", make([]byte, 13), 0},
			{"offsetLeavesShort", make([]byte, 12), 1},
			{"negativeOffset", make([]byte, 12), -1},
			{"offsetPastEnd", make([]byte, 12), 13},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				err := r.AddDataToRecording(tc.buf, tc.offset)
				require.ErrorIs(t, err, frame.ErrMalformedFrame)
			})
		}

		// No partial frame reached the store.
		store, err := r.FinishRecording()
		require.NoError(t, err)
		require.Equal(t, 0, store.Len())
	})
	t.Run("sinkErr", func(t *testing.T) {
		errMock := errors.New("mock")
		sink := &mockSink{err: errMock}
		r := NewRecorder(sink, log.NewMockLogger())
		require.NoError(t, r.StartRecording(testLayout, 1))
		require.NoError(t, r.AddDataToRecording(make([]byte, 12), 0))

		_, err := r.FinishRecording()
		require.ErrorIs(t, err, errMock)
		require.True(t, r.IsRecording())

		// The take is finished, later frames are rejected.
		err = r.AddDataToRecording(make([]byte, 12), 0)
		require.ErrorIs(t, err, frame.ErrFinished)

		sink.err = nil
		store, err := r.FinishRecording()
		require.NoError(t, err)
		require.False(t, r.IsRecording())
		require.Equal(t, 1, store.FrameCount())
		require.Equal(t, []*frame.Store{store}, sink.takes)
	})
	t.Run("invalidTakeID", func(t *testing.T) {
		r := NewRecorder(&mockSink{}, log.NewMockLogger())
		require.ErrorIs(t, r.StartRecording(testLayout, -1), frame.ErrInvalidTakeID)
		require.ErrorIs(t, r.StartRecording(testLayout, frame.MaxTakeID+1), frame.ErrInvalidTakeID)
		require.False(t, r.IsRecording())
	})
}
