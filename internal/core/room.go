package core

import "github.com/campuslink/campuslink-server/internal/store"

// Room groups the clients subscribed to one context and carries the
// context's merged presence set.
type Room struct {
	Context  store.ChatContext
	clients  map[*Client]struct{}
	presence *presenceSet
}

// NewRoom constructs a room with no clients.
func NewRoom(chat store.ChatContext) *Room {
	return &Room{
		Context:  chat,
		clients:  make(map[*Client]struct{}),
		presence: newPresenceSet(),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Clients returns the clients currently in the room.
func (r *Room) Clients() []*Client {
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast sends an event to all clients in the room.
func (r *Room) Broadcast(event *Event) {
	for client := range r.clients {
		deliver(client, event)
	}
}

// BroadcastExcept sends an event to all clients except one, typically the
// author who already applied the change optimistically.
func (r *Room) BroadcastExcept(event *Event, skip *Client) {
	for client := range r.clients {
		if client == skip {
			continue
		}
		deliver(client, event)
	}
}

func deliver(client *Client, event *Event) {
	select {
	case client.Events <- event:
	default:
		// Drop if slow consumer.
	}
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

// Track merges a presence record; returns true if peers should be synced.
func (r *Room) Track(rec PresenceRecord) bool {
	return r.presence.track(rec)
}

// Untrack removes an identity's presence record.
func (r *Room) Untrack(userID int64) bool {
	return r.presence.untrack(userID)
}

// Presence returns the merged peer set ordered by identity.
func (r *Room) Presence() []PresenceRecord {
	return r.presence.snapshot()
}

// OnlineCount is the number of distinct identities tracked in the room.
func (r *Room) OnlineCount() int {
	return r.presence.onlineCount()
}

// InCall returns the presence records currently flagged as in a call.
func (r *Room) InCall() []PresenceRecord {
	return r.presence.inCall()
}
