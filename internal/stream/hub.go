package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/progrunhq/progrun/internal/platform/config"
	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/platform/metrics"
)

// ErrTooManySubscribers is returned when an execution topic is at capacity
var ErrTooManySubscribers = errors.New("too many subscribers for execution")

// Subscriber receives the event stream of one execution or one user. Its
// mutex serializes concurrent deliveries: user rollup subscribers are fed
// from multiple execution topics at once.
type Subscriber struct {
	ID string
	ch chan Event

	mu      sync.Mutex
	dropped int
	warned  bool
}

// Events returns the subscriber's delivery channel
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Dropped returns the number of events dropped for this subscriber
func (s *Subscriber) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// topic is the per-execution event stream with its bounded log cache.
// Its mutex serializes publication against join+replay so a line is either
// replayed or delivered live, never both and never neither.
type topic struct {
	mu          sync.Mutex
	executionID string
	seq         uint64
	cache       []Event
	subscribers map[*Subscriber]bool
	completed   bool
	teardown    *time.Timer
}

// Hub multiplexes execution output to subscribers with replay-on-join
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
	users  map[string]map[*Subscriber]bool

	cacheLines int
	grace      time.Duration
	buffer     int
	maxSubs    int
	log        logger.Logger
	met        *metrics.Metrics
}

// NewHub creates a streaming hub
func NewHub(cfg config.StreamingConfig, log logger.Logger, met *metrics.Metrics) *Hub {
	return &Hub{
		topics:     make(map[string]*topic),
		users:      make(map[string]map[*Subscriber]bool),
		cacheLines: cfg.CacheLines,
		grace:      cfg.GracePeriod,
		buffer:     cfg.SubscriberBuffer,
		maxSubs:    cfg.MaxSubscribers,
		log:        log,
		met:        met,
	}
}

func (h *Hub) getOrCreateTopic(executionID string) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[executionID]
	if !ok {
		t = &topic{
			executionID: executionID,
			subscribers: make(map[*Subscriber]bool),
		}
		h.topics[executionID] = t
		if h.met != nil {
			h.met.StreamTopics.Set(float64(len(h.topics)))
		}
	}
	return t
}

// Publish delivers an event to every subscriber of the execution topic and,
// when the event carries a user id, to that user's rollup channel. Publishers
// never block on slow subscribers.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	t := h.getOrCreateTopic(event.ExecutionID)

	t.mu.Lock()
	t.seq++
	event.Seq = t.seq

	if event.Type == EventOutput || event.Type == EventError {
		t.cache = append(t.cache, event)
		if len(t.cache) > h.cacheLines {
			t.cache = t.cache[len(t.cache)-h.cacheLines:]
		}
	}

	for sub := range t.subscribers {
		h.deliver(sub, event)
	}

	if event.Type == EventCompleted {
		t.completed = true
		t.teardown = time.AfterFunc(h.grace, func() {
			h.removeTopic(event.ExecutionID)
		})
	}
	t.mu.Unlock()

	if event.UserID != "" {
		h.mu.RLock()
		for sub := range h.users[event.UserID] {
			h.deliver(sub, event)
		}
		h.mu.RUnlock()
	}

	if h.met != nil {
		h.met.StreamEventsPublished.WithLabelValues(string(event.Type)).Inc()
	}
}

// deliver pushes an event into a subscriber's buffer with a drop-oldest
// policy. The first drop also enqueues a warning event.
func (h *Hub) deliver(sub *Subscriber, event Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	select {
	case sub.ch <- event:
		return
	default:
	}

	// Buffer full: drop the oldest entry to make room.
	select {
	case <-sub.ch:
		sub.dropped++
		if h.met != nil {
			h.met.StreamEventsDropped.WithLabelValues(string(event.Type)).Inc()
		}
	default:
	}

	if !sub.warned {
		sub.warned = true
		warning := Event{
			ExecutionID: event.ExecutionID,
			Type:        EventWarning,
			Line:        "subscriber too slow, oldest events dropped",
			Timestamp:   time.Now(),
		}
		select {
		case sub.ch <- warning:
		default:
		}
	}

	select {
	case sub.ch <- event:
	default:
		sub.dropped++
	}
}

// JoinExecution subscribes to an execution's event stream. The cached log
// tail is delivered first as a single InitialLogs event; the join and replay
// are atomic with respect to new publications.
func (h *Hub) JoinExecution(executionID string) (*Subscriber, error) {
	t := h.getOrCreateTopic(executionID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if h.maxSubs > 0 && len(t.subscribers) >= h.maxSubs {
		return nil, ErrTooManySubscribers
	}

	sub := &Subscriber{
		ID: uuid.New().String(),
		ch: make(chan Event, h.buffer),
	}

	lines := make([]interface{}, len(t.cache))
	for i, cached := range t.cache {
		lines[i] = cached
	}
	sub.ch <- Event{
		ExecutionID: executionID,
		Type:        EventInitialLogs,
		Data:        map[string]interface{}{"lines": lines},
		Timestamp:   time.Now(),
	}

	t.subscribers[sub] = true
	if h.met != nil {
		h.met.StreamSubscribers.Inc()
	}
	return sub, nil
}

// LeaveExecution removes a subscriber from an execution topic
func (h *Hub) LeaveExecution(executionID string, sub *Subscriber) {
	h.mu.RLock()
	t, ok := h.topics[executionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	if t.subscribers[sub] {
		delete(t.subscribers, sub)
		close(sub.ch)
		if h.met != nil {
			h.met.StreamSubscribers.Dec()
		}
	}
	t.mu.Unlock()
}

// JoinUser subscribes to the rollup stream of every execution owned by a user
func (h *Hub) JoinUser(userID string) *Subscriber {
	sub := &Subscriber{
		ID: uuid.New().String(),
		ch: make(chan Event, h.buffer),
	}

	h.mu.Lock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[*Subscriber]bool)
	}
	h.users[userID][sub] = true
	h.mu.Unlock()

	if h.met != nil {
		h.met.StreamSubscribers.Inc()
	}
	return sub
}

// LeaveUser removes a user rollup subscriber
func (h *Hub) LeaveUser(userID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.users[userID]
	if !ok || !subs[sub] {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.users, userID)
	}
	close(sub.ch)
	if h.met != nil {
		h.met.StreamSubscribers.Dec()
	}
}

// CachedLogs returns the cached log tail for an execution
func (h *Hub) CachedLogs(executionID string, lastN int) []Event {
	h.mu.RLock()
	t, ok := h.topics[executionID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cache := t.cache
	if lastN > 0 && len(cache) > lastN {
		cache = cache[len(cache)-lastN:]
	}
	out := make([]Event, len(cache))
	copy(out, cache)
	return out
}

func (h *Hub) removeTopic(executionID string) {
	h.mu.Lock()
	t, ok := h.topics[executionID]
	if ok {
		delete(h.topics, executionID)
		if h.met != nil {
			h.met.StreamTopics.Set(float64(len(h.topics)))
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	for sub := range t.subscribers {
		delete(t.subscribers, sub)
		close(sub.ch)
		if h.met != nil {
			h.met.StreamSubscribers.Dec()
		}
	}
	t.mu.Unlock()

	h.log.Debug("stream topic removed", "execution_id", executionID)
}

// SweepExpired removes completed topics whose teardown timer was lost.
// Called by the janitor as a backstop.
func (h *Hub) SweepExpired() int {
	h.mu.RLock()
	var expired []string
	for id, t := range h.topics {
		t.mu.Lock()
		if t.completed && t.teardown == nil {
			expired = append(expired, id)
		}
		t.mu.Unlock()
	}
	h.mu.RUnlock()

	for _, id := range expired {
		h.removeTopic(id)
	}
	return len(expired)
}

// Emit implements Emitter so the hub can be handed directly to the process
// supervisor.
func (h *Hub) Emit(event Event) { h.Publish(event) }
