// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package system

import (
	"context"
	"fmt"
	"framereplay/pkg/log"
	"framereplay/pkg/playback"
	"framereplay/pkg/player"
	"framereplay/pkg/storage"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status stores system status.
type Status struct {
	CPUUsage           int    `json:"cpuUsage"`
	RAMUsage           int    `json:"ramUsage"`
	DiskUsage          int64  `json:"diskUsage"`
	DiskUsageFormatted string `json:"diskUsageFormatted"`
	Replay             Replay `json:"replay"`
}

// Replay summarizes takes, players and the recorder.
type Replay struct {
	Takes     int  `json:"takes"`
	Players   int  `json:"players"`
	Playing   int  `json:"playing"`
	Readers   int  `json:"readers"`
	Recording bool `json:"recording"`
}

type (
	cpuFunc    func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc    func() (*mem.VirtualMemoryStat, error)
	diskFunc   func() (storage.DiskUsage, error)
	replayFunc func() Replay
)

// ReplayStatus returns a function that summarizes c and m.
func ReplayStatus(c *storage.Container, m *player.Manager) func() Replay {
	return func() Replay {
		players := m.Status()
		r := Replay{
			Takes:     len(c.Takes()),
			Players:   len(players),
			Readers:   m.Registry().Len(),
			Recording: m.RecordingStatus().Recording,
		}
		for _, p := range players {
			if p.State == playback.StatePlaying.String() {
				r.Playing++
			}
		}
		return r
	}
}

// System .
type System struct {
	cpu    cpuFunc
	ram    ramFunc
	disk   diskFunc
	replay replayFunc

	status   Status
	duration time.Duration

	logger log.ILogger
	mu     sync.Mutex
	o      sync.Once
}

// New returns new System. Host usage is sampled by StatusLoop,
// replay is queried on every call to Status.
func New(disk diskFunc, replay replayFunc, logger log.ILogger) *System {
	return &System{
		cpu:    cpu.PercentWithContext,
		ram:    mem.VirtualMemory,
		disk:   disk,
		replay: replay,

		duration: 10 * time.Second,

		logger: logger,
	}
}

func (s *System) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return fmt.Errorf("get cpu usage: %w", err)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return fmt.Errorf("get ram usage: %w", err)
	}
	diskUsage, err := s.disk()
	if err != nil {
		return fmt.Errorf("get disk usage: %w", err)
	}

	var cpuPercent int
	if len(cpuUsage) != 0 {
		cpuPercent = int(cpuUsage[0])
	}

	s.mu.Lock()
	s.status = Status{
		CPUUsage:           cpuPercent,
		RAMUsage:           int(ramUsage.UsedPercent),
		DiskUsage:          diskUsage.Used,
		DiskUsageFormatted: diskUsage.Formatted,
	}
	s.mu.Unlock()

	return nil
}

// StatusLoop updates system status until context is canceled.
func (s *System) StatusLoop(ctx context.Context) {
	s.o.Do(func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.update(ctx); err != nil && ctx.Err() == nil {
				log.Error(s.logger).Src("app").Msgf("update system status: %v", err)
				select {
				case <-time.After(s.duration):
				case <-ctx.Done():
				}
			}
		}
	})
}

// Status returns cpu, ram and disk usage together with the replay summary.
func (s *System) Status() Status {
	var replay Replay
	if s.replay != nil {
		replay = s.replay()
	}

	s.mu.Lock()
	status := s.status
	s.mu.Unlock()

	status.Replay = replay
	return status
}
