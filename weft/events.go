// ABOUTME: StatusChange events, the per-run append-only event log, and the non-blocking emitter.
// ABOUTME: The run loop never blocks on observers: events queue internally and fan out on a dedicated goroutine.
package weft

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// StatusChange is one immutable node state transition. Observers receive
// copies; nothing in a StatusChange is shared with the tracker.
type StatusChange struct {
	EventID string         `json:"event_id"`
	RunID   string         `json:"run_id"`
	NodeID  string         `json:"node_id"`
	State   ExecutionState `json:"state"`
	Value   any            `json:"value,omitempty"`
	Err     string         `json:"error,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Attempt int            `json:"attempt,omitempty"`
	At      time.Time      `json:"at"`
}

// newEventID returns a lexically sortable event identifier.
func newEventID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// EventFilter selects events from a run's log. Zero values match everything.
type EventFilter struct {
	States []ExecutionState
	NodeID string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// EventSummary aggregates a run's event log.
type EventSummary struct {
	TotalEvents int            `json:"total_events"`
	ByState     map[string]int `json:"by_state"`
	ByNode      map[string]int `json:"by_node"`
	FirstEvent  *time.Time     `json:"first_event,omitempty"`
	LastEvent   *time.Time     `json:"last_event,omitempty"`
}

// EventLog is the in-memory, append-only record of one run's status changes.
// Safe for concurrent readers while the run appends.
type EventLog struct {
	mu     sync.RWMutex
	events []StatusChange
}

// NewEventLog returns an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) append(ev StatusChange) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Events returns a copy of the full log in append order.
func (l *EventLog) Events() []StatusChange {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]StatusChange(nil), l.events...)
}

// EventsFrom returns a copy of the log starting at the given index. Used by
// streaming consumers that poll for new entries.
func (l *EventLog) EventsFrom(idx int) []StatusChange {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if idx < 0 {
		idx = 0
	}
	if idx >= len(l.events) {
		return nil
	}
	return append([]StatusChange(nil), l.events[idx:]...)
}

// Query returns the events matching the filter, paginated.
func (l *EventLog) Query(f EventFilter) []StatusChange {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var matched []StatusChange
	for _, ev := range l.events {
		if matchesFilter(ev, f) {
			matched = append(matched, ev)
		}
	}
	return applyPagination(matched, f.Limit, f.Offset)
}

// Count returns the number of events matching the filter, ignoring pagination.
func (l *EventLog) Count(f EventFilter) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, ev := range l.events {
		if matchesFilter(ev, f) {
			n++
		}
	}
	return n
}

// Tail returns the most recent n events in append order.
func (l *EventLog) Tail(n int) []StatusChange {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || len(l.events) == 0 {
		return nil
	}
	if n > len(l.events) {
		n = len(l.events)
	}
	return append([]StatusChange(nil), l.events[len(l.events)-n:]...)
}

// Summarize aggregates the whole log.
func (l *EventLog) Summarize() *EventSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := &EventSummary{
		TotalEvents: len(l.events),
		ByState:     make(map[string]int),
		ByNode:      make(map[string]int),
	}
	for _, ev := range l.events {
		s.ByState[ev.State.String()]++
		if ev.NodeID != "" {
			s.ByNode[ev.NodeID]++
		}
	}
	if len(l.events) > 0 {
		first := l.events[0].At
		last := l.events[len(l.events)-1].At
		s.FirstEvent = &first
		s.LastEvent = &last
	}
	return s
}

func matchesFilter(ev StatusChange, f EventFilter) bool {
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if ev.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.NodeID != "" && ev.NodeID != f.NodeID {
		return false
	}
	if f.Since != nil && ev.At.Before(*f.Since) {
		return false
	}
	if f.Until != nil && ev.At.After(*f.Until) {
		return false
	}
	return true
}

func applyPagination(events []StatusChange, limit, offset int) []StatusChange {
	if offset > 0 {
		if offset >= len(events) {
			return nil
		}
		events = events[offset:]
	}
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}

// subscriber is one live event consumer. Sends never block: when the buffer
// is full the event is dropped and counted.
type subscriber struct {
	ch      chan StatusChange
	dropped int
}

// emitter decouples the run loop from observers. emit appends to the log and
// an internal queue; a dedicated goroutine drains the queue to the callback
// and subscriber channels in order, then closes every channel once the run
// is over and the queue is empty.
type emitter struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []StatusChange
	closed bool

	log      *EventLog
	callback func(StatusChange)

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int

	done chan struct{}
}

func newEmitter(log *EventLog, callback func(StatusChange)) *emitter {
	e := &emitter{
		log:      log,
		callback: callback,
		subs:     make(map[int]*subscriber),
		done:     make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	go e.dispatch()
	return e
}

// emit stamps the event and hands it off. Never blocks.
func (e *emitter) emit(ev StatusChange) {
	if ev.EventID == "" {
		ev.EventID = newEventID()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if e.log != nil {
		e.log.append(ev)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.cond.Signal()
	e.mu.Unlock()
}

func (e *emitter) dispatch() {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 && e.closed {
			e.mu.Unlock()
			break
		}
		batch := e.queue
		e.queue = nil
		e.mu.Unlock()

		for _, ev := range batch {
			e.deliver(ev)
		}
	}

	e.subMu.Lock()
	for _, s := range e.subs {
		close(s.ch)
	}
	e.subs = nil
	e.subMu.Unlock()
	close(e.done)
}

func (e *emitter) deliver(ev StatusChange) {
	if e.callback != nil {
		e.callback(ev)
	}
	e.subMu.Lock()
	for _, s := range e.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped++
		}
	}
	e.subMu.Unlock()
}

// subscribe registers a buffered event channel. The channel closes when the
// run finishes and all queued events have been delivered. The returned func
// unsubscribes early.
func (e *emitter) subscribe(buf int) (<-chan StatusChange, func()) {
	if buf <= 0 {
		buf = 256
	}
	ch := make(chan StatusChange, buf)

	e.subMu.Lock()
	if e.subs == nil {
		// Dispatcher already shut down.
		e.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = &subscriber{ch: ch}
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		if s, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(s.ch)
		}
		e.subMu.Unlock()
	}
	return ch, cancel
}

// close stops the emitter after the queue drains. Subscriber channels close
// once every pending event has been delivered.
func (e *emitter) close() {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
}

// wait blocks until the dispatcher has drained and shut down.
func (e *emitter) wait() {
	<-e.done
}
