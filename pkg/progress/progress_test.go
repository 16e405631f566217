package progress

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCollector_BoundedBuffer(t *testing.T) {
	c := NewCollector(5)

	for i := 0; i < 8; i++ {
		c.Emit(Event{
			Timestamp: time.Now(),
			Level:     LevelInfo,
			Message:   fmt.Sprintf("event %d", i),
		})
	}

	events := c.Recent(0)
	if len(events) != 5 {
		t.Fatalf("len(Recent(0)) = %d, want 5", len(events))
	}
	// Oldest entries are evicted first.
	if events[0].Message != "event 3" {
		t.Errorf("oldest retained = %q, want %q", events[0].Message, "event 3")
	}
	if events[4].Message != "event 7" {
		t.Errorf("newest retained = %q, want %q", events[4].Message, "event 7")
	}
}

func TestCollector_Recent(t *testing.T) {
	c := NewCollector(10)
	for i := 0; i < 4; i++ {
		c.Emit(Event{Message: fmt.Sprintf("event %d", i)})
	}

	tests := []struct {
		n         int
		wantLen   int
		wantFirst string
	}{
		{n: 2, wantLen: 2, wantFirst: "event 2"},
		{n: 0, wantLen: 4, wantFirst: "event 0"},
		{n: 100, wantLen: 4, wantFirst: "event 0"},
	}

	for _, tt := range tests {
		got := c.Recent(tt.n)
		if len(got) != tt.wantLen {
			t.Errorf("Recent(%d) len = %d, want %d", tt.n, len(got), tt.wantLen)
			continue
		}
		if got[0].Message != tt.wantFirst {
			t.Errorf("Recent(%d)[0] = %q, want %q", tt.n, got[0].Message, tt.wantFirst)
		}
	}
}

func TestCollector_Clear(t *testing.T) {
	c := NewCollector(10)
	c.Emit(Event{Message: "event"})
	c.Clear()

	if got := c.Recent(0); len(got) != 0 {
		t.Errorf("Recent(0) after Clear = %d events, want 0", len(got))
	}
}

func TestEmit_NilSinkIsSafe(t *testing.T) {
	// Must not panic.
	Emit(nil, LevelInfo, "", "dropped %d", 1)
}

func TestEmit_FormatsAndStamps(t *testing.T) {
	c := NewCollector(10)
	Emit(c, LevelWarning, "EU", "retry %d for %s", 2, "acct")

	events := c.Recent(1)
	if len(events) != 1 {
		t.Fatal("expected one event")
	}
	e := events[0]
	if e.Message != "retry 2 for acct" {
		t.Errorf("Message = %q", e.Message)
	}
	if e.Level != LevelWarning || e.Region != "EU" {
		t.Errorf("event = %+v, want warning level and region EU", e)
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	a := NewCollector(10)
	b := NewCollector(10)

	sink := Fanout{a, nil, b}
	sink.Emit(Event{Message: "event"})

	if len(a.Recent(0)) != 1 || len(b.Recent(0)) != 1 {
		t.Error("fanout did not deliver to every sink")
	}
}

func TestLoggerSink_DoesNotPanicPerLevel(t *testing.T) {
	sink := NewLoggerSink(zerolog.Nop())
	for _, level := range []Level{LevelInfo, LevelSuccess, LevelWarning, LevelError} {
		sink.Emit(Event{Level: level, Message: "event", Region: "EU"})
	}
}
