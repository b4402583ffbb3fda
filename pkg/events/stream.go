package events

import (
	"log/slog"
	"sync"
)

// DefaultStreamBuffer bounds the per-client event buffer for streaming
// subscribers.
const DefaultStreamBuffer = 256

// StreamSubscriber buffers bus events for one streaming client. The SSE
// handler ranges over Events until the subscriber is closed, either by the
// handler on client disconnect or by the bus at shutdown. OnEvent never
// blocks the bus delivery goroutine: when the client falls behind and the
// buffer fills up, the oldest buffered event is dropped, mirroring the
// overflow policy of the bus queue itself.
type StreamSubscriber struct {
	id     string
	logger *slog.Logger

	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int64
}

// NewStreamSubscriber creates a streaming subscriber identified by id.
// buffer <= 0 selects DefaultStreamBuffer.
func NewStreamSubscriber(id string, buffer int, logger *slog.Logger) *StreamSubscriber {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamSubscriber{
		id:     id,
		logger: logger.With("subscriber_id", id),
		ch:     make(chan Event, buffer),
	}
}

// OnEvent buffers ev for the client. Called by the bus delivery goroutine.
func (s *StreamSubscriber) OnEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for {
		select {
		case s.ch <- ev:
			return nil
		default:
		}
		select {
		case old := <-s.ch:
			s.dropped++
			s.logger.Warn("Stream buffer full, dropping oldest event",
				"dropped_entity_id", old.EntityID,
				"dropped_status", old.Status,
				"total_dropped", s.dropped)
		default:
			// client drained the buffer between selects; retry the send
		}
	}
}

// Events is the channel the streaming handler consumes. It is closed when
// the subscriber is closed.
func (s *StreamSubscriber) Events() <-chan Event {
	return s.ch
}

// Close ends the stream and closes the Events channel. Safe to call more
// than once; the bus also calls it for subscribers still registered at
// shutdown.
func (s *StreamSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	if s.dropped > 0 {
		s.logger.Debug("Stream closed", "dropped_events", s.dropped)
	}
	return nil
}
