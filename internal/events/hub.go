package events

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"teamline/internal/domain"
)

// Topic groups notifications by the kind of entity that changed.
type Topic string

const (
	TopicProject     Topic = "project"
	TopicApplication Topic = "application"
	TopicInvitation  Topic = "invitation"
	TopicChat        Topic = "chat"
)

var AllTopics = []Topic{TopicProject, TopicApplication, TopicInvitation, TopicChat}

func ParseTopic(s string) (Topic, bool) {
	t := Topic(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllTopics {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Notification tells subscribers that something changed; it carries no state.
// Clients refetch the entity it names. Users lists the people the change
// concerns so per-user streams can filter.
type Notification struct {
	Topic     Topic    `json:"topic"`
	EventID   int64    `json:"event_id"`
	Type      string   `json:"type"`
	ProjectID string   `json:"project_id,omitempty"`
	EntityID  string   `json:"entity_id"`
	Users     []string `json:"users,omitempty"`
}

// Concerns reports whether userID is among the notification's users. An
// empty user list concerns everyone.
func (n Notification) Concerns(userID string) bool {
	if len(n.Users) == 0 {
		return true
	}
	for _, u := range n.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// FromEvent derives the notification for a committed event log row.
func FromEvent(evt domain.Event, users ...string) Notification {
	topic, ok := ParseTopic(evt.EntityKind)
	if !ok {
		topic = TopicProject
	}
	return Notification{
		Topic:     topic,
		EventID:   evt.ID,
		Type:      evt.Type,
		ProjectID: evt.ProjectID,
		EntityID:  evt.EntityID,
		Users:     users,
	}
}

const defaultSubscriberCapacity = 64

type HubOption func(*Hub)

func HubWithLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// HubWithSubscriberCapacity overrides the buffered channel size per subscriber.
func HubWithSubscriberCapacity(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// Hub fans committed changes out to in-process subscribers. Delivery is best
// effort: a full subscriber drops its oldest notification, and nothing is
// buffered for topics nobody listens to. The event log stays the source of
// truth for clients that fall behind.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[*subscriber]struct{}
	capacity    int
	logger      zerolog.Logger
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subscribers: map[Topic]map[*subscriber]struct{}{},
		capacity:    defaultSubscriberCapacity,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Subscription is an active registration on one or more topics.
type Subscription struct {
	C      <-chan Notification
	cancel func()
}

// Close ends the subscription and closes C.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe registers for the given topics, or all topics when none are named.
func (h *Hub) Subscribe(topics ...Topic) Subscription {
	if len(topics) == 0 {
		topics = AllTopics
	}
	sub := &subscriber{ch: make(chan Notification, h.capacity)}
	h.mu.Lock()
	for _, t := range topics {
		if h.subscribers[t] == nil {
			h.subscribers[t] = map[*subscriber]struct{}{}
		}
		h.subscribers[t][sub] = struct{}{}
	}
	h.mu.Unlock()
	return Subscription{
		C: sub.ch,
		cancel: func() {
			h.remove(sub, topics)
		},
	}
}

func (h *Hub) remove(sub *subscriber, topics []Topic) {
	h.mu.Lock()
	for _, t := range topics {
		if subs := h.subscribers[t]; subs != nil {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.subscribers, t)
			}
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish delivers n to every subscriber of its topic without blocking.
func (h *Hub) Publish(n Notification) {
	if h == nil {
		return
	}
	h.mu.RLock()
	live := h.subscribers[n.Topic]
	subs := make([]*subscriber, 0, len(live))
	for sub := range live {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		if dropped, ok := sub.deliver(n); ok {
			h.logger.Warn().Str("topic", string(dropped.Topic)).Str("type", dropped.Type).Int64("event_id", dropped.EventID).Msg("subscriber queue full, dropped oldest notification")
		}
	}
}

// Subscribers returns the number of live subscriptions on a topic.
func (h *Hub) Subscribers(t Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[t])
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Notification
	closed bool
}

// deliver enqueues n, evicting the oldest queued notification when full. It
// returns the evicted notification, if any.
func (s *subscriber) deliver(n Notification) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Notification{}, false
	}
	select {
	case s.ch <- n:
		return Notification{}, false
	default:
	}
	var dropped Notification
	var ok bool
	select {
	case dropped, ok = <-s.ch:
	default:
	}
	s.ch <- n
	return dropped, ok
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
