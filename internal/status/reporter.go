// Package status delivers recorder lifecycle events to one listener per
// session id. Delivery is at-most-once and best-effort: events for unknown
// sessions, events that overflow a listener's queue and events the listener
// fails to accept are dropped.
package status

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventType is the first field of a notification
type EventType int

// EventStatus is the only event type emitted by the recorder
const EventStatus EventType = 1

// Code is the status subcode of an EventStatus notification. The values are
// fixed by the scripting side; 3 is intentionally unused.
type Code int

const (
	CodeStarting Code = 1
	CodeRunning  Code = 2
	CodeStopped  Code = 4
)

func (c Code) String() string {
	switch c {
	case CodeStarting:
		return "starting"
	case CodeRunning:
		return "running"
	case CodeStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Event is one notification as delivered to a listener
type Event struct {
	SessionID string    `json:"id"`
	Type      EventType `json:"event"`
	Code      Code      `json:"code"`
}

// Listener receives events for one session id
type Listener interface {
	Deliver(Event) error
}

// ListenerFunc adapts a function to the Listener interface
type ListenerFunc func(Event) error

func (f ListenerFunc) Deliver(e Event) error {
	return f(e)
}

type subscription struct {
	sessionID string
	listener  Listener
	queue     chan Event
	stop      chan struct{}
}

// Reporter routes events to registered listeners. Each listener has its own
// bounded queue drained by a single goroutine, so events for one session
// arrive in the order they were notified.
type Reporter struct {
	queueSize int

	mutex     sync.Mutex
	listeners map[string]*subscription
	closed    bool
	wg        sync.WaitGroup

	dropped atomic.Int64
}

// NewReporter creates a reporter whose listener queues hold queueSize events
func NewReporter(queueSize int) *Reporter {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Reporter{
		queueSize: queueSize,
		listeners: make(map[string]*subscription),
	}
}

// Register makes listener the receiver for sessionID, replacing any previous
// listener. The returned function unregisters this listener only; it is a
// no-op once another listener has taken its place.
func (r *Reporter) Register(sessionID string, listener Listener) func() {
	sub := &subscription{
		sessionID: sessionID,
		listener:  listener,
		queue:     make(chan Event, r.queueSize),
		stop:      make(chan struct{}),
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		slog.Debug("Status listener registered after close, ignoring", "session", sessionID)
		return func() {}
	}

	if previous, ok := r.listeners[sessionID]; ok {
		slog.Debug("Replacing status listener", "session", sessionID)
		r.stopLocked(previous)
	}
	r.listeners[sessionID] = sub

	r.wg.Add(1)
	go r.run(sub)

	slog.Debug("Status listener registered", "session", sessionID)

	return func() {
		r.mutex.Lock()
		defer r.mutex.Unlock()
		if current, ok := r.listeners[sessionID]; ok && current == sub {
			r.stopLocked(sub)
			slog.Debug("Status listener unregistered", "session", sessionID)
		}
	}
}

// Unregister removes whatever listener is registered for sessionID
func (r *Reporter) Unregister(sessionID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if sub, ok := r.listeners[sessionID]; ok {
		r.stopLocked(sub)
	}
}

// Notify queues a status event for sessionID. It never blocks.
func (r *Reporter) Notify(sessionID string, code Code) {
	event := Event{SessionID: sessionID, Type: EventStatus, Code: code}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	sub, ok := r.listeners[sessionID]
	if !ok {
		r.dropped.Add(1)
		slog.Debug("No status listener, dropping event", "session", sessionID, "code", code)
		return
	}

	select {
	case sub.queue <- event:
	default:
		r.dropped.Add(1)
		slog.Warn("Status queue full, dropping event", "session", sessionID, "code", code, "queue_size", r.queueSize)
	}
}

// Dropped returns how many events were not delivered
func (r *Reporter) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops every listener and waits for their goroutines. Later
// notifications are dropped.
func (r *Reporter) Close() {
	r.mutex.Lock()
	r.closed = true
	for _, sub := range r.listeners {
		r.stopLocked(sub)
	}
	r.mutex.Unlock()

	r.wg.Wait()
}

func (r *Reporter) stopLocked(sub *subscription) {
	delete(r.listeners, sub.sessionID)
	close(sub.stop)
}

func (r *Reporter) run(sub *subscription) {
	defer r.wg.Done()

	for {
		select {
		case <-sub.stop:
			if pending := len(sub.queue); pending > 0 {
				r.dropped.Add(int64(pending))
				slog.Debug("Status listener stopped with pending events", "session", sub.sessionID, "pending", pending)
			}
			return
		case event := <-sub.queue:
			if err := sub.listener.Deliver(event); err != nil {
				r.dropped.Add(1)
				slog.Debug("Status listener unreachable, dropping event", "session", sub.sessionID, "code", event.Code, "error", err)
			}
		}
	}
}
