package stats

import "sync"

// PubSubSubscriber delivers a published payload to whatever owns the
// connection (the transport layer implements this over the wire).
type PubSubSubscriber interface {
	Feed(channel string, payload []byte)
}

// PubSubHub is the in-process channel registry PUBLISH fans out through.
// The durable record spec §3 calls the "pubsub column family" is kept
// alongside this for introspection and TTL-driven cleanup, but delivery
// always happens through the live subscriber held here — a restarted
// process has no subscribers to redeliver to regardless of what's on disk.
type PubSubHub struct {
	mu       sync.RWMutex
	channels map[string]map[string]PubSubSubscriber // channel -> connID -> subscriber
}

// NewPubSubHub returns an empty hub.
func NewPubSubHub() *PubSubHub {
	return &PubSubHub{channels: map[string]map[string]PubSubSubscriber{}}
}

// Subscribe registers sub under channel/connID, replacing any existing
// registration for the same pair.
func (h *PubSubHub) Subscribe(channel, connID string, sub PubSubSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.channels[channel]
	if !ok {
		m = map[string]PubSubSubscriber{}
		h.channels[channel] = m
	}
	m[connID] = sub
}

// Unsubscribe removes connID's registration for channel, if any.
func (h *PubSubHub) Unsubscribe(channel, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(m, connID)
	if len(m) == 0 {
		delete(h.channels, channel)
	}
}

// UnsubscribeAll removes connID from every channel it's registered under,
// used when a connection closes.
func (h *PubSubHub) UnsubscribeAll(connID string, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		if m, ok := h.channels[ch]; ok {
			delete(m, connID)
			if len(m) == 0 {
				delete(h.channels, ch)
			}
		}
	}
}

// Publish delivers payload to every current subscriber of channel and
// returns how many received it.
func (h *PubSubHub) Publish(channel string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m := h.channels[channel]
	for _, sub := range m {
		sub.Feed(channel, payload)
	}
	return len(m)
}

// ChannelSubscriberCount reports how many connections are subscribed to
// channel.
func (h *PubSubHub) ChannelSubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Channels lists every channel with at least one current subscriber.
func (h *PubSubHub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.channels))
	for ch := range h.channels {
		out = append(out, ch)
	}
	return out
}
