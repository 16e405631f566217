// Package progress defines the event stream emitted by the acquisition
// pipeline for presentation-layer consumers.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level classifies a progress event.
type Level string

const (
	// LevelInfo marks normal pipeline progress.
	LevelInfo Level = "info"

	// LevelSuccess marks a completed unit of work (token acquired, region done).
	LevelSuccess Level = "success"

	// LevelWarning marks a recoverable condition (retry, rate limit, slow account).
	LevelWarning Level = "warning"

	// LevelError marks a terminal failure (account exhausted, publish failed).
	LevelError Level = "error"
)

// Event is one entry in the progress stream.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Region    string    `json:"region,omitempty"`
}

// Sink receives progress events. Delivery is fire-and-forget: emitters do
// not block on a sink and never retry emission.
type Sink interface {
	Emit(Event)
}

// Emit builds an event and delivers it to sink. A nil sink is allowed and
// drops the event.
func Emit(sink Sink, level Level, region, format string, args ...any) {
	if sink == nil {
		return
	}
	sink.Emit(Event{
		Timestamp: time.Now(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
		Region:    region,
	})
}

// DefaultCollectorSize bounds the collector's ring buffer.
const DefaultCollectorSize = 500

// Collector is a bounded in-memory ring buffer of events, kept for
// presentation layers that poll recent activity.
type Collector struct {
	mu     sync.Mutex
	events []Event
	max    int
}

// NewCollector creates a collector retaining at most max events.
func NewCollector(max int) *Collector {
	if max <= 0 {
		max = DefaultCollectorSize
	}
	return &Collector{max: max}
}

// Emit appends an event, evicting the oldest once the buffer is full.
func (c *Collector) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	if len(c.events) > c.max {
		c.events = c.events[len(c.events)-c.max:]
	}
}

// Recent returns up to n of the most recent events, oldest first.
func (c *Collector) Recent(n int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.events) {
		n = len(c.events)
	}
	out := make([]Event, n)
	copy(out, c.events[len(c.events)-n:])
	return out
}

// Clear discards all buffered events.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// LoggerSink forwards progress events to a zerolog logger.
type LoggerSink struct {
	logger zerolog.Logger
}

// NewLoggerSink creates a sink that logs events at the matching zerolog level.
func NewLoggerSink(logger zerolog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Emit implements Sink.
func (s *LoggerSink) Emit(e Event) {
	var evt *zerolog.Event
	switch e.Level {
	case LevelWarning:
		evt = s.logger.Warn()
	case LevelError:
		evt = s.logger.Error()
	default:
		evt = s.logger.Info()
	}
	if e.Region != "" {
		evt = evt.Str("region", e.Region)
	}
	evt.Str("level", string(e.Level)).Msg(e.Message)
}

// Fanout delivers each event to every attached sink in order.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}
