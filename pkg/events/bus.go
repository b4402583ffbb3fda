package events

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

const (
	// DefaultQueueSize bounds the pending event queue per session.
	DefaultQueueSize = 1024
	// DefaultCommandBuffer bounds pending scheduler commands per session.
	DefaultCommandBuffer = 64
)

// Subscriber receives every event published on a session bus, in publication
// order. OnEvent must not block for long; slow consumers should buffer
// internally.
type Subscriber interface {
	OnEvent(ev Event) error
}

// Flusher is implemented by subscribers that buffer output (report writers).
// Flush is called once during bus shutdown, before Close.
type Flusher interface {
	Flush() error
}

// Closer is implemented by subscribers holding resources released at
// shutdown.
type Closer interface {
	Close() error
}

// Bus is the per-session event fan-out. One delivery goroutine drains a
// bounded queue so subscribers observe publication order; a full queue drops
// the oldest pending event rather than blocking the publisher.
type Bus struct {
	sessionID string
	logger    *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]Subscriber
	stopped     bool

	queue    chan Event
	commands chan Command

	loopDone chan struct{}
	stopOnce sync.Once

	dropped int64 // events discarded by overflow, guarded by mu
}

// NewBus creates a bus for one session and starts its delivery goroutine.
// queueSize <= 0 selects DefaultQueueSize.
func NewBus(sessionID string, queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		sessionID:   sessionID,
		logger:      logger.With("session_id", sessionID),
		subscribers: make(map[string]Subscriber),
		queue:       make(chan Event, queueSize),
		commands:    make(chan Command, DefaultCommandBuffer),
		loopDone:    make(chan struct{}),
	}
	go b.deliverLoop()
	return b
}

// Publish enqueues ev for asynchronous delivery. When the queue is full the
// oldest pending event is dropped and logged; Publish never blocks the
// caller. Publishing after Shutdown is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	for {
		select {
		case b.queue <- ev:
			return
		default:
		}
		select {
		case old := <-b.queue:
			b.dropped++
			b.logger.Warn("Event queue full, dropping oldest event",
				"dropped_entity_id", old.EntityID,
				"dropped_status", old.Status,
				"total_dropped", b.dropped)
		default:
			// consumer drained the queue between selects; retry the send
		}
	}
}

// Subscribe registers sub under id. Subsequent events are delivered in
// publication order. Registering an existing id replaces the subscriber.
func (b *Bus) Subscribe(id string, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return fmt.Errorf("bus for session %s is shut down", b.sessionID)
	}
	b.subscribers[id] = sub
	b.logger.Debug("Subscriber registered", "subscriber_id", id)
	return nil
}

// Unsubscribe removes the subscriber registered under id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
	b.logger.Debug("Subscriber removed", "subscriber_id", id)
}

// PublishCommand queues a scheduler control command. Returns an error when
// the command buffer is full or the bus is shut down.
func (b *Bus) PublishCommand(cmd Command) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return fmt.Errorf("bus for session %s is shut down", b.sessionID)
	}
	select {
	case b.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("command buffer full (%d pending)", DefaultCommandBuffer)
	}
}

// PollCommand returns the next pending command without blocking.
func (b *Bus) PollCommand() (Command, bool) {
	select {
	case cmd := <-b.commands:
		return cmd, true
	default:
		return Command{}, false
	}
}

// Shutdown stops intake, drains pending events to subscribers, then flushes
// and closes subscribers that support it. Safe to call more than once.
func (b *Bus) Shutdown() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		close(b.queue)
		b.mu.Unlock()

		<-b.loopDone

		b.mu.Lock()
		subs := b.snapshotLocked()
		b.subscribers = make(map[string]Subscriber)
		b.mu.Unlock()

		for _, s := range subs {
			if f, ok := s.sub.(Flusher); ok {
				if err := f.Flush(); err != nil {
					b.logger.Error("Subscriber flush failed", "subscriber_id", s.id, "error", err)
				}
			}
			if c, ok := s.sub.(Closer); ok {
				if err := c.Close(); err != nil {
					b.logger.Error("Subscriber close failed", "subscriber_id", s.id, "error", err)
				}
			}
		}
		b.logger.Debug("Event bus shut down", "dropped_events", b.dropped)
	})
}

type subEntry struct {
	id  string
	sub Subscriber
}

// snapshotLocked returns subscribers in a stable order; callers hold b.mu.
func (b *Bus) snapshotLocked() []subEntry {
	subs := make([]subEntry, 0, len(b.subscribers))
	for id, sub := range b.subscribers {
		subs = append(subs, subEntry{id, sub})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

// deliverLoop is the sole consumer of the queue. Running deliveries in one
// goroutine is what guarantees per-subscriber publication order.
func (b *Bus) deliverLoop() {
	defer close(b.loopDone)
	for ev := range b.queue {
		b.mu.RLock()
		subs := b.snapshotLocked()
		b.mu.RUnlock()

		for _, s := range subs {
			b.deliver(s.id, s.sub, ev)
		}
	}
}

// deliver isolates subscriber failures: an error or panic in one subscriber
// never suppresses delivery to the others.
func (b *Bus) deliver(id string, sub Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber panicked",
				"subscriber_id", id, "entity_id", ev.EntityID, "panic", r)
		}
	}()
	if err := sub.OnEvent(ev); err != nil {
		b.logger.Error("Subscriber rejected event",
			"subscriber_id", id, "entity_id", ev.EntityID, "error", err)
	}
}
