// Package hub fans domain events out to live subscribers (cashier, barista,
// courier, manager dashboards). It is a notification layer, not an event
// log: a subscriber that falls behind gets its oldest buffered events
// dropped and is told to resync from snapshot state instead.
package hub

import (
	"sync"

	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

// dashboardRoles may receive dashboard-topic events, mirroring who sees
// aggregate sales figures.
var dashboardRoles = map[models.Role]bool{
	models.RoleManager: true,
	models.RoleCashier: true,
}

type Subscription struct {
	ID     string
	Role   models.Role
	topics map[string]bool

	mu     sync.Mutex
	ch     chan models.DomainEvent
	gapped bool
	closed bool
}

// Events is the subscriber's receive channel. It is closed when the
// subscription is removed from the hub.
func (s *Subscription) Events() <-chan models.DomainEvent {
	return s.ch
}

// TakeGap reports and clears the overflow flag. The caller stamps the next
// delivered event with resync=true so the client re-pulls snapshot state.
func (s *Subscription) TakeGap() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	gap := s.gapped
	s.gapped = false
	return gap
}

func (s *Subscription) wants(event models.DomainEvent) bool {
	if !s.topics[event.Topic] {
		return false
	}
	if event.Topic == models.TopicDashboard && !dashboardRoles[s.Role] {
		return false
	}
	return true
}

// offer delivers without ever blocking the publisher. On a full buffer it
// drops the oldest event, flags the gap, and retries once.
func (s *Subscription) offer(event models.DomainEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- event:
		return true
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	s.gapped = true

	select {
	case s.ch <- event:
	default:
	}
	return false
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	buffer  int
	logger  *logger.Logger
	dropped func() // metrics callback, may be nil
}

func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		logger: log,
	}
}

// OnDrop registers a callback fired once per overflowing delivery.
func (h *Hub) OnDrop(fn func()) {
	h.dropped = fn
}

func (h *Hub) Subscribe(id string, role models.Role, topics []string) *Subscription {
	sub := &Subscription{
		ID:     id,
		Role:   role,
		topics: make(map[string]bool, len(topics)),
		ch:     make(chan models.DomainEvent, h.buffer),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	h.logger.Debug("", "hub_subscribed", "Subscriber "+id+" joined as "+string(role))
	return sub
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	if ok {
		sub.close()
		h.logger.Debug("", "hub_unsubscribed", "Subscriber "+id+" left")
	}
}

// Publish delivers the event to every matching subscriber. It never blocks:
// slow subscribers lose their oldest buffered event instead.
func (h *Hub) Publish(event models.DomainEvent) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.wants(event) {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.offer(event) {
			if h.dropped != nil {
				h.dropped()
			}
			h.logger.Warn("", "hub_overflow",
				"Subscriber "+sub.ID+" buffer overflowed, flagged for resync")
		}
	}
}

// SubscriberCount is used by health reporting.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
