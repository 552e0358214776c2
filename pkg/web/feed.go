// SPDX-License-Identifier: GPL-2.0-or-later

package web

import (
	"framereplay/pkg/log"
	"framereplay/pkg/player"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Frames buffered per feed before frames are dropped.
const feedBufferSize = 8

const feedWriteTimeout = 5 * time.Second

// feedReader forwards frames from a player to a websocket.
type feedReader struct {
	id     string
	frames chan []byte
}

func newFeedReader() *feedReader {
	return &feedReader{
		id:     uuid.NewString(),
		frames: make(chan []byte, feedBufferSize),
	}
}

// Receive is called by the playback engine on every tick.
// Frames are dropped if the client falls behind.
func (f *feedReader) Receive(frame []byte) {
	c := make([]byte, len(frame))
	copy(c, frame)
	select {
	case f.frames <- c:
	default:
	}
}

// PlayerFeed opens a websocket that streams the frames of a player as
// binary messages. Text messages from the client switch the feed to the
// player with that name.
func PlayerFeed(m *player.Manager, logger log.ILogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if !m.Exist(name) {
			http.Error(w, player.ErrPlayerNotExist.Error()+": "+name, http.StatusNotFound)
			return
		}

		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		reader := newFeedReader()
		registry := m.Registry()
		handle := registry.Register(reader, name)
		defer registry.Unregister(handle)

		log.Debug(logger).Src("feed").Player(name).Msgf("%v connected", reader.id)
		defer log.Debug(logger).Src("feed").Msgf("%v disconnected", reader.id)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				msgType, msg, err := c.ReadMessage()
				if err != nil {
					return
				}
				if msgType != websocket.TextMessage {
					continue
				}
				source := string(msg)
				if !m.Exist(source) {
					continue
				}
				registry.SetSource(handle, source)
				log.Debug(logger).Src("feed").Player(source).Msgf("%v switched", reader.id)
			}
		}()

		for {
			select {
			case frame := <-reader.frames:
				c.SetWriteDeadline(time.Now().Add(feedWriteTimeout)) //nolint:errcheck
				if err := c.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}
