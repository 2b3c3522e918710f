package services

import (
	"context"
	"sort"
	"sync"
)

// MessageStore is an id-keyed, in-memory copy of one channel's messages, kept
// current by applying feed events. Duplicate deliveries are absorbed: a create
// for a known id is ignored and an update never replaces a newer version.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string]MessageView
}

// NewMessageStore creates a store seeded with an initial page of messages
func NewMessageStore(initial []MessageView) *MessageStore {
	store := &MessageStore{messages: make(map[string]MessageView, len(initial))}
	for _, view := range initial {
		store.messages[view.ID] = view
	}
	return store
}

// Apply merges evt into the store and reports whether the store changed
func (s *MessageStore) Apply(evt Event) bool {
	if evt.Message == nil || evt.Message.ID == "" {
		return false
	}
	incoming := *evt.Message

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.messages[incoming.ID]
	switch evt.Type {
	case EventMessageCreated:
		if exists {
			return false
		}
	case EventMessageUpdated, EventReactionUpdated, EventMessageDeleted:
		if exists && current.Deleted {
			return false
		}
		if exists && incoming.Version < current.Version {
			return false
		}
		if exists && incoming.Version == current.Version && evt.Type != EventReactionUpdated {
			return false
		}
	default:
		return false
	}

	if incoming.Deleted {
		incoming = placeholderOf(incoming)
	}
	s.messages[incoming.ID] = incoming
	return true
}

// Consume applies events from a subscription until it closes or ctx ends.
// onChange, if non-nil, is called after every event that changed the store.
func (s *MessageStore) Consume(ctx context.Context, events <-chan Event, onChange func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if s.Apply(evt) && onChange != nil {
				onChange(evt)
			}
		}
	}
}

// Get returns a message by id
func (s *MessageStore) Get(id string) (MessageView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, ok := s.messages[id]
	return view, ok
}

// Len returns the number of messages held
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Messages returns all messages in created_at order, ties broken by id, with
// Grouped recomputed against each message's current predecessor
func (s *MessageStore) Messages() []MessageView {
	s.mu.RLock()
	out := make([]MessageView, 0, len(s.messages))
	for _, view := range s.messages {
		out = append(out, view)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	for i := range out {
		out[i].Grouped = i > 0 && shouldGroupViews(out[i-1], out[i])
	}
	return out
}

// placeholderOf strips everything a deleted message must not expose
func placeholderOf(view MessageView) MessageView {
	return MessageView{
		ID:          view.ID,
		ChannelID:   view.ChannelID,
		MessageType: view.MessageType,
		Version:     view.Version,
		Deleted:     true,
		Placeholder: DeletedPlaceholder,
		CreatedAt:   view.CreatedAt,
		DeletedAt:   view.DeletedAt,
	}
}
