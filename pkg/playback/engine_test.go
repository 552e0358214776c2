package playback

import (
	"framereplay/pkg/frame"
	"framereplay/pkg/log"
	"framereplay/pkg/recorder"
	"testing"

	"github.com/stretchr/testify/require"
)

type testReader struct {
	frames [][]byte
}

func (r *testReader) Receive(f []byte) {
	c := make([]byte, len(f))
	copy(c, f)
	r.frames = append(r.frames, c)
}

func (r *testReader) last() []byte {
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

type countReader struct {
	n int
}

func (r *countReader) Receive([]byte) {
	r.n++
}

type testBuffers []*frame.Store

func (b testBuffers) DefaultBuffers() []*frame.Store {
	return b
}

var testLayout = frame.Layout{FrameSize: 12, TimestampOffset: 0, TimestampSize: 4}

// newTestStore returns a finished store with one frame per timestamp.
// The last byte of frame i is i+1.
func newTestStore(t *testing.T, layout frame.Layout, timestamps ...float64) *frame.Store {
	t.Helper()
	var data []byte
	for i, ts := range timestamps {
		f := make([]byte, layout.FrameSize)
		layout.PutTimestamp(f, ts)
		f[len(f)-1] = byte(i + 1)
		data = append(data, f...)
	}
	s, err := frame.NewFinishedStore(1, layout, data)
	require.NoError(t, err)
	return s
}

func newTestEngine(id string, registry *Registry) *Engine {
	return NewEngine(id, registry, log.NewMockLogger(), Options{})
}

func TestEngineScenario(t *testing.T) {
	store := newTestStore(t, testLayout, 0.0, 1.0)
	registry := NewRegistry()
	reader := &testReader{}
	registry.Register(reader, "main")

	e := newTestEngine("main", registry)
	e.SetPlaybackBuffer(store)
	require.NoError(t, e.StartPlayback(0))
	require.Equal(t, StatePlaying, e.State())

	frame0 := store.Frame(0)
	frame1 := store.Frame(1)

	e.Tick(0)
	require.Equal(t, [][]byte{frame0}, reader.frames)

	e.Tick(0.5)
	require.Equal(t, [][]byte{frame0, frame0}, reader.frames)

	e.Tick(1.0)
	require.Equal(t, [][]byte{frame0, frame0, frame1}, reader.frames)
	require.Equal(t, StatePlaying, e.State())

	e.Tick(1.1)
	require.Equal(t, StateIdle, e.State())
	require.False(t, e.IsActive())
	require.Len(t, reader.frames, 3)

	// Stale ticks do not restart playback.
	e.Tick(5)
	e.Tick(6)
	require.Equal(t, StateIdle, e.State())
	require.Len(t, reader.frames, 3)
}

func TestEngineVisitsEveryFrame(t *testing.T) {
	cases := []struct {
		name       string
		layout     frame.Layout
		timestamps []float64
	}{
		{"single", testLayout, []float64{3}},
		{"constantRate", testLayout, []float64{0, 0.1, 0.2, 0.3, 0.4}},
		{"variableRate", frame.Layout{FrameSize: 20, TimestampOffset: 8, TimestampSize: 8}, []float64{10, 10.01, 10.5, 12, 12.001, 15}},
		{"sameTimestamp", frame.Layout{FrameSize: 6, TimestampOffset: 1, TimestampSize: 4}, []float64{1, 1, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t, tc.layout, tc.timestamps...)
			registry := NewRegistry()
			reader := &testReader{}
			registry.Register(reader, "main")

			e := newTestEngine("main", registry)
			e.SetPlaybackBuffer(store)
			require.NoError(t, e.StartPlayback(100))

			var visited [][]byte
			var cursors []int
			now := 100.0
			for i := 0; i < 100000 && e.State() == StatePlaying; i++ {
				prev := e.Cursor()
				e.Tick(now)
				if e.Cursor() != prev {
					visited = append(visited, reader.last())
					cursors = append(cursors, e.Cursor())
				}
				now += 0.001
			}
			require.Equal(t, StateIdle, e.State())

			expected := make([][]byte, store.FrameCount())
			for i := range expected {
				expected[i] = store.Frame(i)
			}
			require.Equal(t, expected, visited)
			for i, c := range cursors {
				require.Equal(t, (i+1)*int(tc.layout.FrameSize), c)
			}
		})
	}
}

func TestEngineTiming(t *testing.T) {
	timestamps := []float64{0.0, 0.5, 1.2}
	store := newTestStore(t, testLayout, timestamps...)
	registry := NewRegistry()
	reader := &testReader{}
	registry.Register(reader, "main")

	e := newTestEngine("main", registry)
	e.SetPlaybackBuffer(store)

	const start = 50.0
	require.NoError(t, e.StartPlayback(start))

	firstSeen := map[byte]float64{}
	for step := 0; step <= 200 && e.State() == StatePlaying; step++ {
		now := start + float64(step)*0.01
		e.Tick(now)
		if f := reader.last(); f != nil {
			id := f[len(f)-1]
			if _, ok := firstSeen[id]; !ok {
				firstSeen[id] = now - start
			}
		}
	}

	require.Len(t, firstSeen, 3)
	for i, ts := range timestamps {
		elapsed := firstSeen[byte(i+1)]
		require.GreaterOrEqual(t, elapsed, ts)
		require.Less(t, elapsed, ts+0.02)
	}
}

func TestEngineEmptyStore(t *testing.T) {
	store, err := frame.NewFinishedStore(1, testLayout, nil)
	require.NoError(t, err)

	registry := NewRegistry()
	reader := &testReader{}
	registry.Register(reader, "main")

	e := newTestEngine("main", registry)
	e.SetPlaybackBuffer(store)
	require.NoError(t, e.StartPlayback(0))
	require.Equal(t, StatePlaying, e.State())

	e.Tick(0)
	require.Equal(t, StateIdle, e.State())
	require.Empty(t, reader.frames)
}

func TestEngineStopIdempotent(t *testing.T) {
	store := newTestStore(t, testLayout, 0, 1)
	registry := NewRegistry()
	registry.Register(&testReader{}, "main")

	e := newTestEngine("main", registry)
	e.SetPlaybackBuffer(store)

	e.StopPlayback()
	before := *e
	e.StopPlayback()
	require.Equal(t, before, *e)

	require.NoError(t, e.StartPlayback(0))
	e.Tick(0)
	e.StopPlayback()
	before = *e
	e.StopPlayback()
	require.Equal(t, before, *e)
	require.Equal(t, StateIdle, e.State())
}

func TestEngineInactive(t *testing.T) {
	store := newTestStore(t, testLayout, 0, 1, 2)
	registry := NewRegistry()
	other := &testReader{}
	registry.Register(other, "other")

	e := newTestEngine("main", registry)
	e.SetPlaybackBuffer(store)
	require.NoError(t, e.StartPlayback(0))

	// Nobody reads from main, playback is held.
	e.Tick(0)
	e.Tick(5)
	require.False(t, e.IsActive())
	require.Equal(t, StatePlaying, e.State())
	require.Equal(t, 0, e.Cursor())
	require.Empty(t, other.frames)

	reader := &testReader{}
	registry.Register(reader, "main")
	e.Tick(5)
	require.True(t, e.IsActive())
	require.Equal(t, 12, e.Cursor())
	require.Equal(t, [][]byte{store.Frame(0)}, reader.frames)
	require.Empty(t, other.frames)
}

func TestEngineFanOut(t *testing.T) {
	storeA := newTestStore(t, testLayout, 0, 1)
	storeB := newTestStore(t, testLayout, 7, 8)

	registry := NewRegistry()
	readerA1 := &testReader{}
	readerA2 := &testReader{}
	readerB := &testReader{}
	registry.Register(readerA1, "a")
	handleB := registry.Register(readerB, "b")
	registry.Register(readerA2, "a")

	a := newTestEngine("a", registry)
	a.SetPlaybackBuffer(storeA)
	b := newTestEngine("b", registry)
	b.SetPlaybackBuffer(storeB)

	require.NoError(t, a.StartPlayback(0))
	require.NoError(t, b.StartPlayback(0))

	a.Tick(0)
	b.Tick(0)
	a.Tick(1)

	require.Equal(t, [][]byte{storeA.Frame(0), storeA.Frame(1)}, readerA1.frames)
	require.Equal(t, readerA1.frames, readerA2.frames)
	require.Equal(t, [][]byte{storeB.Frame(0)}, readerB.frames)

	t.Run("force", func(t *testing.T) {
		a.UpdateCurrentFrameBuffer(true)
		require.Equal(t, storeA.Frame(1), readerB.last())
		require.Len(t, readerA1.frames, 3)
	})
	t.Run("switchSource", func(t *testing.T) {
		require.True(t, registry.SetSource(handleB, "a"))
		b.Tick(2)
		require.False(t, b.IsActive())
		require.Len(t, readerB.frames, 2)
	})
}

func TestEngineSetPlaybackBufferWhilePlaying(t *testing.T) {
	storeA := newTestStore(t, testLayout, 0, 1, 2)
	storeB := newTestStore(t, frame.Layout{FrameSize: 5, TimestampSize: 4}, 0)

	registry := NewRegistry()
	reader := &testReader{}
	registry.Register(reader, "main")

	e := newTestEngine("main", registry)
	e.SetPlaybackBuffer(storeA)
	require.NoError(t, e.StartPlayback(0))
	e.Tick(0)
	e.Tick(1)
	require.Equal(t, 24, e.Cursor())

	e.SetPlaybackBuffer(storeB)
	require.Equal(t, StateIdle, e.State())
	require.Equal(t, storeB, e.ActiveBuffer())

	e.Tick(2)
	require.Len(t, reader.frames, 2)

	require.NoError(t, e.StartPlayback(10))
	e.Tick(10)
	require.Equal(t, storeB.Frame(0), reader.last())
	require.Len(t, reader.last(), 5)
	e.Tick(10)
	require.Equal(t, StateIdle, e.State())
}

func TestEngineDefaultBuffer(t *testing.T) {
	store := newTestStore(t, testLayout, 0)

	t.Run("enabled", func(t *testing.T) {
		logger := log.NewMockLogger()
		e := NewEngine("main", NewRegistry(), logger, Options{
			DefaultToFirstBuffer: true,
			Buffers:              testBuffers{store, newTestStore(t, testLayout, 1)},
		})
		require.NoError(t, e.StartPlayback(0))
		require.Equal(t, store, e.ActiveBuffer())
		require.Equal(t, log.Entry{
			Level:  log.LevelInfo,
			Src:    "engine",
			Player: "main",
			Msg:    "no playback buffer set, using take 1",
		}, logger.Entries()[0])
	})
	t.Run("disabled", func(t *testing.T) {
		e := NewEngine("main", NewRegistry(), log.NewMockLogger(), Options{
			Buffers: testBuffers{store},
		})
		require.ErrorIs(t, e.StartPlayback(0), ErrNoBufferAvailable)
		require.Equal(t, StateIdle, e.State())
	})
	t.Run("noBuffers", func(t *testing.T) {
		e := NewEngine("main", NewRegistry(), log.NewMockLogger(), Options{
			DefaultToFirstBuffer: true,
			Buffers:              testBuffers{},
		})
		require.ErrorIs(t, e.StartPlayback(0), ErrNoBufferAvailable)
	})
	t.Run("noProvider", func(t *testing.T) {
		e := NewEngine("main", NewRegistry(), log.NewMockLogger(), Options{
			DefaultToFirstBuffer: true,
		})
		require.ErrorIs(t, e.StartPlayback(0), ErrNoBufferAvailable)
	})
}

type memorySink struct {
	takes []*frame.Store
}

func (s *memorySink) AddTake(store *frame.Store) error {
	s.takes = append(s.takes, store)
	return nil
}

func TestRecordAndPlayBack(t *testing.T) {
	layout := frame.Layout{FrameSize: 9, TimestampOffset: 5, TimestampSize: 4}
	sink := &memorySink{}
	rec := recorder.NewRecorder(sink, log.NewMockLogger())
	require.NoError(t, rec.StartRecording(layout, 3))

	var recorded [][]byte
	for i := 0; i < 20; i++ {
		f := make([]byte, layout.FrameSize)
		for j := range f {
			f[j] = byte(i*7 + j)
		}
		layout.PutTimestamp(f, float64(i)*0.25)
		recorded = append(recorded, f)
		require.NoError(t, rec.AddDataToRecording(f, 0))
	}
	store, err := rec.FinishRecording()
	require.NoError(t, err)

	registry := NewRegistry()
	reader := &testReader{}
	registry.Register(reader, "main")

	e := NewEngine("main", registry, log.NewMockLogger(), Options{
		DefaultToFirstBuffer: true,
		Buffers:              testBuffers(sink.takes),
	})
	require.NoError(t, e.StartPlayback(0))
	require.Equal(t, store, e.ActiveBuffer())

	var played [][]byte
	now := 0.0
	for e.State() == StatePlaying {
		prev := e.Cursor()
		e.Tick(now)
		if e.Cursor() != prev {
			played = append(played, reader.last())
		}
		now += 0.05
	}
	require.Equal(t, recorded, played)
}

func TestEngineReusesFrameBuffer(t *testing.T) {
	timestamps := make([]float64, 1000)
	for i := range timestamps {
		timestamps[i] = float64(i)
	}
	store := newTestStore(t, testLayout, timestamps...)

	registry := NewRegistry()
	reader := &countReader{}
	registry.Register(reader, "main")

	e := newTestEngine("main", registry)
	e.SetPlaybackBuffer(store)
	require.NoError(t, e.StartPlayback(0))
	first := &e.currentFrame[0]

	now := 0.0
	allocs := testing.AllocsPerRun(100, func() {
		e.Tick(now)
		now++
	})
	require.Zero(t, allocs)
	require.Equal(t, StatePlaying, e.State())
	require.Same(t, first, &e.currentFrame[0])

	// Restarting with the same frame size keeps the buffer.
	require.NoError(t, e.StartPlayback(0))
	require.Same(t, first, &e.currentFrame[0])
}

func TestEngineStatus(t *testing.T) {
	registry := NewRegistry()
	e := newTestEngine("main", registry)
	require.Equal(t, Status{ID: "main", State: "idle"}, e.Status())
	require.Nil(t, e.CurrentFrame())

	store := newTestStore(t, testLayout, 0, 1)
	registry.Register(&countReader{}, "main")
	e.SetPlaybackBuffer(store)
	require.NoError(t, e.StartPlayback(0))
	e.Tick(0)

	takeID := 1
	require.Equal(t, Status{
		ID:      "main",
		State:   "playing",
		Active:  true,
		TakeID:  &takeID,
		Frame:   1,
		Frames:  2,
		Readers: true,
	}, e.Status())
	require.Equal(t, store.Frame(0), e.CurrentFrame())
}
