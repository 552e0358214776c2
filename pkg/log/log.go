// SPDX-License-Identifier: GPL-2.0-or-later

package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// UnixMicro time in microseconds.
type UnixMicro uint64

// Entry log entry.
type Entry struct {
	Level  Level     `json:"level"`
	Time   UnixMicro `json:"time"`
	Src    string    `json:"src"`
	Player string    `json:"player"`
	Msg    string    `json:"msg"`
}

// ILogger logger interface.
type ILogger interface {
	Log(Entry)
}

// Event defines log event.
type Event struct {
	level  Level
	time   UnixMicro
	src    string
	player string

	logger ILogger
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Player sets event player.
func (e *Event) Player(name string) *Event {
	e.player = name
	return e
}

// Msg sends the *Event with msg added as the message field.
func (e *Event) Msg(msg string) {
	e.logger.Log(Entry{
		Level:  e.level,
		Time:   e.time,
		Src:    e.src,
		Player: e.player,
		Msg:    msg,
	})
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func Error(l ILogger) *Event {
	return newEvent(l, LevelError)
}

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func Warn(l ILogger) *Event {
	return newEvent(l, LevelWarning)
}

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func Info(l ILogger) *Event {
	return newEvent(l, LevelInfo)
}

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func Debug(l ILogger) *Event {
	return newEvent(l, LevelDebug)
}

func newEvent(l ILogger, level Level) *Event {
	return &Event{
		level:  level,
		time:   UnixMicro(time.Now().UnixMicro()),
		logger: l,
	}
}

// Feed defines feed of logs.
type Feed <-chan Entry
type logFeed chan Entry

// Logger logs.
type Logger struct {
	feed  logFeed      // feed of logs.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.

	sources   map[string]struct{}
	sourcesMu sync.Mutex

	Ctx context.Context
	wg  *sync.WaitGroup
}

// NewLogger returns a logger, call Start before logging.
func NewLogger(wg *sync.WaitGroup) *Logger {
	return &Logger{
		feed:    make(logFeed),
		sub:     make(chan logFeed),
		unsub:   make(chan logFeed),
		sources: make(map[string]struct{}),
		wg:      wg,
	}
}

// Start logger.
func (l *Logger) Start(ctx context.Context) {
	l.Ctx = ctx
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case entry := <-l.feed:
				for ch := range subs {
					ch <- entry
				}
			}
		}
	}()
}

// Log sends an entry to all subscribers.
// Entries sent after the context is canceled are dropped.
func (l *Logger) Log(entry Entry) {
	if entry.Time == 0 {
		entry.Time = UnixMicro(time.Now().UnixMicro())
	}
	if entry.Src != "" {
		l.sourcesMu.Lock()
		l.sources[entry.Src] = struct{}{}
		l.sourcesMu.Unlock()
	}
	select {
	case l.feed <- entry:
	case <-l.Ctx.Done():
	}
}

// Sources returns every source that has logged so far, sorted.
func (l *Logger) Sources() []string {
	l.sourcesMu.Lock()
	defer l.sourcesMu.Unlock()

	sources := make([]string, 0, len(l.sources))
	for src := range l.sources {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources
}

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Entry, CancelFunc) {
	feed := make(logFeed)
	l.sub <- feed

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		case <-l.Ctx.Done():
			return
		}
	}
}

// LogToStdout prints log feed to Stdout.
func (l *Logger) LogToStdout(ctx context.Context) {
	l.logToWriter(ctx, os.Stdout)
}

func (l *Logger) logToWriter(ctx context.Context, w io.Writer) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry := <-feed:
			fmt.Fprintln(w, formatEntry(entry))
		case <-ctx.Done():
			return
		}
	}
}

func formatEntry(entry Entry) string {
	var output string

	switch entry.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if entry.Player != "" {
		output += entry.Player + ": "
	}
	if entry.Src != "" {
		output += strings.ToUpper(entry.Src[:1]) + entry.Src[1:] + ": "
	}

	output += entry.Msg
	return output
}

// LevelInLevels returns true if levels is nil or contains level.
func LevelInLevels(level Level, levels []Level) bool {
	if levels == nil {
		return true
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

// StringInStrings returns true if strs is nil or contains str.
func StringInStrings(str string, strs []string) bool {
	if strs == nil {
		return true
	}
	for _, s := range strs {
		if s == str {
			return true
		}
	}
	return false
}
