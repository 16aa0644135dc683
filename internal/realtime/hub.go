package realtime

import (
	"sync"

	"dispatch/internal/logger"
	"dispatch/internal/observability"
)

// Subscriber is one connected client. Messages are queued on a bounded
// buffer; a full buffer drops the message for that subscriber only.
type Subscriber struct {
	ID       string
	Identity string

	mu       sync.Mutex
	send     chan []byte
	channels map[string]struct{}
	closed   bool
}

// NewSubscriber creates a subscriber with room for buffer pending messages.
func NewSubscriber(id, identity string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscriber{
		ID:       id,
		Identity: identity,
		send:     make(chan []byte, buffer),
		channels: make(map[string]struct{}),
	}
}

// Messages returns the queue of outbound payloads. It is closed when the
// subscriber is removed from the hub.
func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

// Channels returns the channels the subscriber currently belongs to.
func (s *Subscriber) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// deliver queues payload without blocking. It reports false when the
// subscriber is closed or its buffer is full.
func (s *Subscriber) deliver(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Hub tracks channel membership. A channel exists while it has at least one
// subscriber.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
	log   logger.ILogger
}

// NewHub creates an empty hub.
func NewHub(log logger.ILogger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Subscriber]struct{}),
		log:   log,
	}
}

// Join adds sub to channel, creating the channel on first use.
func (h *Hub) Join(sub *Subscriber, channel string) {
	sub.mu.Lock()
	closed := sub.closed
	sub.mu.Unlock()
	if closed {
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[channel]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[channel] = room
	}
	room[sub] = struct{}{}
	h.mu.Unlock()

	sub.mu.Lock()
	sub.channels[channel] = struct{}{}
	sub.mu.Unlock()
}

// Leave removes sub from channel and drops the channel once empty.
func (h *Hub) Leave(sub *Subscriber, channel string) {
	h.mu.Lock()
	h.leaveLocked(sub, channel)
	h.mu.Unlock()

	sub.mu.Lock()
	delete(sub.channels, channel)
	sub.mu.Unlock()
}

func (h *Hub) leaveLocked(sub *Subscriber, channel string) {
	room, ok := h.rooms[channel]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, channel)
	}
}

// Remove takes sub out of every channel and closes its queue.
func (h *Hub) Remove(sub *Subscriber) {
	channels := sub.Channels()

	h.mu.Lock()
	for _, ch := range channels {
		h.leaveLocked(sub, ch)
	}
	h.mu.Unlock()

	sub.mu.Lock()
	sub.channels = make(map[string]struct{})
	sub.mu.Unlock()

	sub.close()
}

// Broadcast delivers payload to every subscriber of channel and returns how
// many received it. Slow subscribers miss the message.
func (h *Hub) Broadcast(channel string, payload []byte) int {
	h.mu.RLock()
	room := h.rooms[channel]
	subs := make([]*Subscriber, 0, len(room))
	for sub := range room {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.deliver(payload) {
			delivered++
			continue
		}
		observability.RealtimeDroppedTotal.Inc()
		h.log.Warning("dropped realtime message",
			logger.String("channel", channel),
			logger.String("subscriber", sub.ID))
	}
	return delivered
}

// Send delivers payload to a single subscriber.
func (h *Hub) Send(sub *Subscriber, payload []byte) bool {
	return sub.deliver(payload)
}

// ChannelCount returns the number of live channels.
func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// MemberCount returns the number of subscribers of channel.
func (h *Hub) MemberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channel])
}
