// SPDX-License-Identifier: GPL-2.0-or-later

package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"fmt"
	"io"
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

// ParseLevel converts a level name into a Level.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "error":
		return LevelError, true
	case "warning", "warn":
		return LevelWarning, true
	case "info":
		return LevelInfo, true
	case "debug":
		return LevelDebug, true
	}
	return 0, false
}

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// UnixMicro time in microseconds.
type UnixMicro uint64

// Entry log entry.
type Entry struct {
	Level Level
	Src   string // Source.
	Run   string // Conversion run id.
	Msg   string
}

// Log defines log entry with a timestamp.
type Log struct {
	Level Level
	Time  UnixMicro // Timestamp.
	Msg   string    // Message
	Src   string    // Source.
	Run   string    // Conversion run id.
}

// ILogger interface used by the decoding packages.
type ILogger interface {
	Log(Entry)
}

// Event defines log event.
type Event struct {
	level Level
	src   string
	run   string

	logger ILogger
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Run sets event run id.
func (e *Event) Run(runID string) *Event {
	e.run = runID
	return e
}

// Msg sends the *Event with msg added as the message field.
func (e *Event) Msg(msg string) {
	e.logger.Log(Entry{
		Level: e.level,
		Src:   e.src,
		Run:   e.run,
		Msg:   msg,
	})
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func Error(l ILogger) *Event { return &Event{level: LevelError, logger: l} }

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func Warn(l ILogger) *Event { return &Event{level: LevelWarning, logger: l} }

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func Info(l ILogger) *Event { return &Event{level: LevelInfo, logger: l} }

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func Debug(l ILogger) *Event { return &Event{level: LevelDebug, logger: l} }

// Feed defines feed of logs.
type Feed <-chan Log

type logFeed chan Log

const feedBuffer = 256

// Logger logs.
type Logger struct {
	feed  logFeed            // feed of logs.
	sub   chan logFeed       // subscribe requests.
	unsub chan logFeed       // unsubscribe requests.
	flush chan chan struct{} // flush requests.
	done  chan struct{}      // closed when the logger stops.

	// Keep track of the previous entry time to ensure
	// that the next entry will have a later time.
	prevEntryTime UnixMicro
	timeMu        sync.Mutex

	wg      *sync.WaitGroup
	sources []string
}

// NewLogger returns a new Logger, call Start before logging.
func NewLogger(wg *sync.WaitGroup, sources []string) *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		flush: make(chan chan struct{}),
		done:  make(chan struct{}),

		wg:      wg,
		sources: sources,
	}
}

// Start logger.
func (l *Logger) Start(ctx context.Context) error {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.done)

		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				for ch := range subs {
					close(ch)
				}
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case msg := <-l.feed:
				for ch := range subs {
					select {
					case ch <- msg:
					case <-ctx.Done():
					}
				}

			case res := <-l.flush:
				// Wait for all subscribers to drain their feed.
				for ch := range subs {
					for len(ch) != 0 {
						select {
						case <-ctx.Done():
						case <-time.After(time.Millisecond):
						}
						if ctx.Err() != nil {
							break
						}
					}
				}
				close(res)
			}
		}
	}()
	return nil
}

// Log sends entry to all subscribers, drops it if the logger is stopped.
func (l *Logger) Log(entry Entry) {
	l.timeMu.Lock()
	now := UnixMicro(time.Now().UnixNano() / 1000)
	if now <= l.prevEntryTime {
		now = l.prevEntryTime + 1
	}
	l.prevEntryTime = now
	l.timeMu.Unlock()

	log := Log{
		Level: entry.Level,
		Time:  now,
		Msg:   entry.Msg,
		Src:   entry.Src,
		Run:   entry.Run,
	}
	select {
	case l.feed <- log:
	case <-l.done:
	}
}

// Error starts a new message with error level.
func (l *Logger) Error() *Event { return Error(l) }

// Warn starts a new message with warn level.
func (l *Logger) Warn() *Event { return Warn(l) }

// Info starts a new message with info level.
func (l *Logger) Info() *Event { return Info(l) }

// Debug starts a new message with debug level.
func (l *Logger) Debug() *Event { return Debug(l) }

// Flush blocks until every subscriber has consumed the logs sent before the call.
func (l *Logger) Flush() {
	res := make(chan struct{})
	select {
	case l.flush <- res:
	case <-l.done:
		return
	}
	select {
	case <-res:
	case <-l.done:
	}
}

// Sources returns the sorted list of log sources.
func (l *Logger) Sources() []string {
	sources := append([]string(nil), l.sources...)
	sort.Strings(sources)
	return sources
}

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed, feedBuffer)
	select {
	case l.sub <- feed:
	case <-l.done:
		close(feed)
	}

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
		case <-l.done:
			return
		case _, ok := <-feed:
			if !ok {
				return
			}
		}
	}
}

// LogToWriter prints log feed to w until the context is canceled.
// The subscription is made before returning.
func (l *Logger) LogToWriter(ctx context.Context, w io.Writer, maxLevel Level) {
	feed, cancel := l.Subscribe()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		printFeed(ctx, feed, w, maxLevel)
	}()
}

func printFeed(ctx context.Context, feed <-chan Log, w io.Writer, maxLevel Level) {
	for {
		select {
		case log, ok := <-feed:
			if !ok {
				return
			}
			if log.Level <= maxLevel {
				fmt.Fprintln(w, formatLog(log))
			}
		case <-ctx.Done():
			return
		}
	}
}

func formatLog(log Log) string {
	var output string

	switch log.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if log.Src != "" {
		output += strings.ToUpper(log.Src[:1]) + log.Src[1:] + ": "
	}

	output += log.Msg
	return output
}

// MockLogger records entries, used for testing.
type MockLogger struct {
	entries []Entry
	mu      sync.Mutex
}

// NewMockLogger used for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// Log records entry.
func (m *MockLogger) Log(entry Entry) {
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (m *MockLogger) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Msgs returns the recorded messages at the given level.
func (m *MockLogger) Msgs(level Level) []string {
	var msgs []string
	for _, e := range m.Entries() {
		if e.Level == level {
			msgs = append(msgs, e.Msg)
		}
	}
	return msgs
}
