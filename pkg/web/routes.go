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

package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"framereplay/pkg/frame"
	"framereplay/pkg/log"
	"framereplay/pkg/playback"
	"framereplay/pkg/player"
	"framereplay/pkg/recorder"
	"framereplay/pkg/storage"
	"framereplay/pkg/system"
	"framereplay/pkg/web/auth"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const jsonContentType = "application/json"

// Maximum size of an uploaded take or frame.
const maxBodySize = 1 << 30

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", jsonContentType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// errorStatus maps domain errors to http status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrTakeNotExist),
		errors.Is(err, player.ErrPlayerNotExist):
		return http.StatusNotFound
	case errors.Is(err, recorder.ErrInvalidState),
		errors.Is(err, frame.ErrFinished),
		errors.Is(err, playback.ErrNoBufferAvailable):
		return http.StatusConflict
	case errors.Is(err, frame.ErrInvalidLayout),
		errors.Is(err, frame.ErrMalformedFrame),
		errors.Is(err, frame.ErrUnsupportedVersion),
		errors.Is(err, storage.ErrInvalidTakeID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseTakeID(s string) (int, error) {
	takeID, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrInvalidTakeID, s)
	}
	if err := frame.CheckTakeID(takeID); err != nil {
		return 0, err
	}
	return takeID, nil
}

func parseUint32(query url.Values, key string) (uint32, error) {
	v, err := strconv.ParseUint(query.Get(key), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %v: %w", key, err)
	}
	return uint32(v), nil
}

func parseCSVParam(query url.Values, key string) []string {
	csv := query.Get(key)
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}

// TakeList returns a summary of all takes.
func TakeList(c *storage.Container) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, c.Takes())
	})
}

// TakeDownload serves a take file.
func TakeDownload(c *storage.Container) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		takeID, err := parseTakeID(mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		take, err := c.Take(takeID)
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}

		var b bytes.Buffer
		if err := frame.MarshalTake(&b, take); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=\"%d.take\"", takeID))
		w.Write(b.Bytes()) //nolint:errcheck
	})
}

// TakeImport imports a take file, the take id must match the url.
func TakeImport(c *storage.Container) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		takeID, err := parseTakeID(mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		take, err := frame.UnmarshalTake(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if take.TakeID() != takeID {
			http.Error(w,
				fmt.Sprintf("take id mismatch: url %d file %d", takeID, take.TakeID()),
				http.StatusBadRequest)
			return
		}

		if err := c.AddTake(take); err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
	})
}

// TakeDelete deletes a take.
func TakeDelete(c *storage.Container) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		takeID, err := parseTakeID(mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := c.DeleteTake(takeID); err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
	})
}

// PlayerList returns the status of every player.
func PlayerList(m *player.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, m.Status())
	})
}

// PlayerStatus returns the status of a single player.
func PlayerStatus(m *player.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, err := m.PlayerStatus(mux.Vars(r)["name"])
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		writeJSON(w, status)
	})
}

// PlayerBind binds a take to a player.
func PlayerBind(m *player.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		takeID, err := parseTakeID(r.URL.Query().Get("take"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.Bind(mux.Vars(r)["name"], takeID); err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
	})
}

// PlayerStart starts playback.
func PlayerStart(m *player.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := m.Start(mux.Vars(r)["name"]); err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
	})
}

// PlayerStop stops playback.
func PlayerStop(m *player.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := m.Stop(mux.Vars(r)["name"]); err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
	})
}

// RecordStart starts recording a take.
func RecordStart(m *player.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		takeID, err := parseTakeID(query.Get("take"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var layout frame.Layout
		for key, dst := range map[string]*uint32{
			"frameSize": &layout.FrameSize,
			"tsOffset":  &layout.TimestampOffset,
			"tsSize":    &layout.TimestampSize,
		} {
			if *dst, err = parseUint32(query, key); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		if err := m.StartRecording(layout, takeID); err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
	})
}

// RecordFrame appends the request body, starting at offset, as a single frame.
func RecordFrame(m *player.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := 0
		if o := r.URL.Query().Get("offset"); o != "" {
			var err error
			if offset, err = strconv.Atoi(o); err != nil {
				http.Error(w, fmt.Sprintf("invalid offset: %v", err), http.StatusBadRequest)
				return
			}
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := m.AddFrame(body, offset); err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
	})
}

// RecordFinish finishes and saves the take being recorded.
func RecordFinish(m *player.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		take, err := m.FinishRecording()
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		writeJSON(w, storage.TakeInfo{
			ID:       take.TakeID(),
			Layout:   take.Layout(),
			Frames:   take.FrameCount(),
			Duration: take.Duration(),
		})
	})
}

// RecordStatus returns the recorder status.
func RecordStatus(m *player.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, m.RecordingStatus())
	})
}

// SystemStatus returns system status.
func SystemStatus(s *system.System) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.Status())
	})
}

func parseLevels(query url.Values) ([]log.Level, error) {
	var levels []log.Level
	for _, levelStr := range parseCSVParam(query, "levels") {
		levelInt, err := strconv.Atoi(levelStr)
		if err != nil {
			return nil, fmt.Errorf("invalid levels list: %v %w", query.Get("levels"), err)
		}
		levels = append(levels, log.Level(levelInt))
	}
	return levels, nil
}

// LogFeed opens a websocket with system logs.
func LogFeed(logger *log.Logger, a *auth.Authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		levels, err := parseLevels(query)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q := log.Query{
			Levels:  levels,
			Sources: parseCSVParam(query, "sources"),
			Players: parseCSVParam(query, "players"),
		}

		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		feed, cancel := logger.Subscribe()
		defer cancel()

		for {
			var entry log.Entry
			select {
			case entry = <-feed:
			case <-logger.Ctx.Done():
				return
			case <-r.Context().Done():
				return
			}

			if !log.LevelInLevels(entry.Level, q.Levels) ||
				!log.StringInStrings(entry.Src, q.Sources) ||
				!log.StringInStrings(entry.Player, q.Players) {
				continue
			}

			// Validate auth before each message.
			if !a.ValidateRequest(r) {
				return
			}

			if err := c.WriteJSON(entry); err != nil {
				return
			}
		}
	})
}

// LogQuery handles log queries.
func LogQuery(logDB *log.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		levels, err := parseLevels(query)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var limit int
		if l := query.Get("limit"); l != "" {
			if limit, err = strconv.Atoi(l); err != nil {
				http.Error(w, fmt.Sprintf("could not convert limit to int: %v", err), http.StatusBadRequest)
				return
			}
		}

		var time uint64
		if t := query.Get("time"); t != "" {
			if time, err = strconv.ParseUint(t, 10, 64); err != nil {
				http.Error(w, fmt.Sprintf("could not convert time to int: %v", err), http.StatusBadRequest)
				return
			}
		}

		q := log.Query{
			Levels:  levels,
			Sources: parseCSVParam(query, "sources"),
			Players: parseCSVParam(query, "players"),
			Time:    log.UnixMicro(time),
			Limit:   limit,
		}

		logs, err := logDB.Query(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, logs)
	})
}

// LogSources handles list of log sources.
func LogSources(l *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, l.Sources())
	})
}
