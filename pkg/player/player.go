// SPDX-License-Identifier: GPL-2.0-or-later

// Package player drives the playback engines and the recorder.
package player

import (
	"context"
	"errors"
	"fmt"
	"framereplay/pkg/frame"
	"framereplay/pkg/log"
	"framereplay/pkg/playback"
	"framereplay/pkg/recorder"
	"sync"
	"time"
)

// ErrPlayerNotExist player does not exist.
var ErrPlayerNotExist = errors.New("player does not exist")

// DefaultTickRate ticks per second.
const DefaultTickRate = 60

// Clock returns the current time in seconds.
type Clock interface {
	Now() float64
}

type monotonicClock struct {
	start time.Time
}

// Now returns seconds since the clock was created.
func (c monotonicClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// NewClock returns a monotonic clock starting at zero.
func NewClock() Clock {
	return monotonicClock{start: time.Now()}
}

// Takes provides the takes that can be bound to a player
// and stores finished recordings.
type Takes interface {
	playback.BufferProvider
	recorder.Sink
	Take(takeID int) (*frame.Store, error)
}

// Options manager options.
type Options struct {
	DefaultToFirstBuffer bool

	// Defaults to a monotonic clock.
	Clock Clock
}

// Manager owns one playback engine per player and a single recorder.
// Every engine call goes through the manager lock, engines
// only ever see one caller at a time.
type Manager struct {
	names    []string
	engines  map[string]*playback.Engine
	registry *playback.Registry
	recorder *recorder.Recorder

	takes  Takes
	clock  Clock
	logger log.ILogger
	mu     sync.Mutex
}

// NewManager returns a manager with one idle engine per name.
func NewManager(
	names []string,
	takes Takes,
	registry *playback.Registry,
	logger log.ILogger,
	opts Options,
) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = NewClock()
	}

	engineOpts := playback.Options{
		DefaultToFirstBuffer: opts.DefaultToFirstBuffer,
		Buffers:              takes,
	}
	engines := make(map[string]*playback.Engine, len(names))
	for _, name := range names {
		engines[name] = playback.NewEngine(name, registry, logger, engineOpts)
	}

	return &Manager{
		names:    names,
		engines:  engines,
		registry: registry,
		recorder: recorder.NewRecorder(takes, logger),
		takes:    takes,
		clock:    clock,
		logger:   logger,
	}
}

// Registry returns the reader registry shared by all engines.
func (m *Manager) Registry() *playback.Registry {
	return m.registry
}

// Names returns the player names in configured order.
func (m *Manager) Names() []string {
	names := make([]string, len(m.names))
	copy(names, m.names)
	return names
}

// Exist returns true if player exists.
func (m *Manager) Exist(name string) bool {
	_, exist := m.engines[name]
	return exist
}

// Run ticks every engine until the context is canceled.
func (m *Manager) Run(ctx context.Context, tickRate int) {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	log.Info(m.logger).Src("player").Msgf("ticking %d players at %dHz", len(m.names), tickRate)
	for {
		select {
		case <-ticker.C:
			m.Tick()
		case <-ctx.Done():
			m.stopAll()
			return
		}
	}
}

// Tick ticks every engine once in configured order.
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for _, name := range m.names {
		m.engines[name].Tick(now)
	}
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.names {
		m.engines[name].StopPlayback()
	}
}

func (m *Manager) engine(name string) (*playback.Engine, error) {
	e, exist := m.engines[name]
	if !exist {
		return nil, fmt.Errorf("%w: %v", ErrPlayerNotExist, name)
	}
	return e, nil
}

// Bind binds take to player, stopping playback if playing.
func (m *Manager) Bind(name string, takeID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.engine(name)
	if err != nil {
		return err
	}
	take, err := m.takes.Take(takeID)
	if err != nil {
		return err
	}
	e.SetPlaybackBuffer(take)

	log.Info(m.logger).Src("player").Player(name).Msgf("bound take %d", takeID)
	return nil
}

// Start starts playback from the first frame.
func (m *Manager) Start(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.engine(name)
	if err != nil {
		return err
	}
	return e.StartPlayback(m.clock.Now())
}

// Stop stops playback.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.engine(name)
	if err != nil {
		return err
	}
	e.StopPlayback()
	return nil
}

// PlayerStatus returns the status of a single player.
func (m *Manager) PlayerStatus(name string) (playback.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.engine(name)
	if err != nil {
		return playback.Status{}, err
	}
	return e.Status(), nil
}

// Status returns the status of every player in configured order.
func (m *Manager) Status() []playback.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := make([]playback.Status, len(m.names))
	for i, name := range m.names {
		status[i] = m.engines[name].Status()
	}
	return status
}

// StartRecording starts recording a new take.
func (m *Manager) StartRecording(layout frame.Layout, takeID int) error {
	return m.recorder.StartRecording(layout, takeID)
}

// AddFrame appends buf[offset:] to the take being recorded.
func (m *Manager) AddFrame(buf []byte, offset int) error {
	return m.recorder.AddDataToRecording(buf, offset)
}

// FinishRecording finishes the take and saves it.
func (m *Manager) FinishRecording() (*frame.Store, error) {
	return m.recorder.FinishRecording()
}

// RecordingStatus recorder status.
type RecordingStatus struct {
	Recording bool `json:"recording"`
	TakeID    *int `json:"takeId"`
}

// RecordingStatus returns the recorder status.
func (m *Manager) RecordingStatus() RecordingStatus {
	takeID, recording := m.recorder.TakeID()
	if !recording {
		return RecordingStatus{}
	}
	return RecordingStatus{Recording: true, TakeID: &takeID}
}
