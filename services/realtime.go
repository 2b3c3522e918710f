package services

import (
	"sync"
	"time"
)

// EventType names a change on a channel's message feed
type EventType string

const (
	EventMessageCreated  EventType = "message.created"
	EventMessageUpdated  EventType = "message.updated"
	EventMessageDeleted  EventType = "message.deleted"
	EventReactionUpdated EventType = "reaction.updated"

	// EventMemberRevoked ends a user's subscriptions on a channel. It is
	// consumed by the hub and never delivered to clients.
	EventMemberRevoked EventType = "member.revoked"
)

// Event is a single change notification. Delivery is at-least-once, so
// consumers must tolerate duplicates.
type Event struct {
	Type      EventType    `json:"type"`
	ChannelID uint         `json:"channel_id"`
	MessageID string       `json:"message_id"`
	Message   *MessageView `json:"message,omitempty"`
	UserID    uint         `json:"user_id,omitempty"`
	At        time.Time    `json:"at"`
}

// NewEvent builds an event for a rendered message
func NewEvent(eventType EventType, view MessageView) Event {
	return Event{
		Type:      eventType,
		ChannelID: view.ChannelID,
		MessageID: view.ID,
		Message:   &view,
		At:        time.Now().UTC(),
	}
}

// NewRevocation builds the event that disconnects userID from channelID
func NewRevocation(channelID, userID uint) Event {
	return Event{
		Type:      EventMemberRevoked,
		ChannelID: channelID,
		UserID:    userID,
		At:        time.Now().UTC(),
	}
}

// Publisher delivers events to every subscriber of the event's channel
type Publisher interface {
	Publish(evt Event)
}

// Hub is an in-process registry of per-channel subscriptions.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint]map[chan Event]uint // channel -> subscription -> user
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[uint]map[chan Event]uint)}
}

// Subscribe registers a buffered subscription on channelID for userID. The
// subscription is closed by Unsubscribe or when userID's membership is revoked.
func (h *Hub) Subscribe(channelID, userID uint, buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.subs[channelID] == nil {
		h.subs[channelID] = make(map[chan Event]uint)
	}
	h.subs[channelID][ch] = userID
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes and closes a subscription. Calling it twice is safe.
func (h *Hub) Unsubscribe(channelID uint, ch chan Event) {
	h.mu.Lock()
	subs := h.subs[channelID]
	_, exists := subs[ch]
	if exists {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.subs, channelID)
		}
	}
	h.mu.Unlock()

	if exists {
		close(ch)
	}
}

// Publish fans evt out to the subscribers of evt.ChannelID. A revocation
// closes the revoked user's subscriptions instead.
func (h *Hub) Publish(evt Event) {
	if evt.Type == EventMemberRevoked {
		h.revoke(evt.ChannelID, evt.UserID)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[evt.ChannelID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *Hub) revoke(channelID, userID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[channelID]
	for ch, subscriber := range subs {
		if subscriber == userID {
			delete(subs, ch)
			close(ch)
		}
	}
	if len(subs) == 0 {
		delete(h.subs, channelID)
	}
}

// SubscriberCount returns the number of live subscriptions on channelID
func (h *Hub) SubscriberCount(channelID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channelID])
}

var (
	publisherInstance Publisher
	hubInstance       = NewHub()
)

// GetHub returns the process-wide hub that websocket clients subscribe to
func GetHub() *Hub {
	return hubInstance
}

// SetHub replaces the process-wide hub (primarily for testing)
func SetHub(hub *Hub) {
	hubInstance = hub
}

// GetPublisher returns the configured publisher, defaulting to the local hub
func GetPublisher() Publisher {
	if publisherInstance == nil {
		return hubInstance
	}
	return publisherInstance
}

// SetPublisher sets the publisher used by the message service
func SetPublisher(publisher Publisher) {
	publisherInstance = publisher
}
