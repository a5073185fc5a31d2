package session

import (
	"log/slog"
	"time"
)

// Event records a completed state transition. Events are emitted after the
// transition's side effects have run, so observers never see a state ahead
// of the machine.
type Event struct {
	From   State
	To     State
	At     time.Time
	Reason string
}

// Sink receives session events. Emit must not block: the machine emits
// while holding its lock.
type Sink interface {
	Emit(Event)
}

// ChannelSink buffers events in a channel. When the buffer is full the
// event is dropped rather than blocking the machine.
type ChannelSink struct {
	events chan Event
}

var _ Sink = (*ChannelSink)(nil)

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a LogSink writing to the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(event Event) {
	s.logger.Info("session state changed",
		"from", event.From.String(),
		"to", event.To.String(),
		"reason", event.Reason,
	)
}
