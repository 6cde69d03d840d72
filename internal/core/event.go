package core

import (
	"time"

	"github.com/campuslink/campuslink-server/internal/mediaengine"
	"github.com/campuslink/campuslink-server/internal/store"
)

// EventKind is a notification the core emits to clients. The set is a
// closed union handled by exhaustive switches; a new kind is a
// compile-visible addition, not a stringly-matched broadcast name.
type EventKind int

const (
	// EventPresenceSynced carries the full merged peer set of a context
	// after any join, leave, or republish.
	EventPresenceSynced EventKind = iota
	// EventMessageInserted notifies peers about a message authored by
	// another identity.
	EventMessageInserted
	// EventMessageAck confirms the sender's own message so the optimistic
	// local entry reconciles instead of rendering twice.
	EventMessageAck
	// EventHistory delivers message history to a client upon joining a context.
	EventHistory
	// EventSessionCreated notifies peers that a call session opened; for a
	// non-participant this is the incoming-call surface.
	EventSessionCreated
	// EventSessionUpdated notifies peers that a session's lifecycle state changed.
	EventSessionUpdated
	// EventCallJoined confirms to a client that it is now in the call.
	EventCallJoined
	// EventError notifies clients about a domain error.
	EventError
)

// SessionView is a call session with the initiator's display data
// denormalized for rendering.
type SessionView struct {
	ID              string
	Context         store.ChatContext
	InitiatorID     int64
	InitiatorName   string
	InitiatorAvatar string
	Status          store.SessionStatus
	StartedAt       time.Time
	EndedAt         *time.Time
}

// MessageAck reconciles an optimistic local send with its persisted row.
type MessageAck struct {
	ClientRef string
	ID        int64
	CreatedAt time.Time
}

// CallJoinInfo is handed to a client that entered a call.
type CallJoinInfo struct {
	Session *SessionView
	Resumed bool // true when a reconnect silently re-entered the call
	Media   *mediaengine.JoinInfo
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Context  store.ChatContext
	Presence []PresenceRecord
	Message  *MessageView
	Messages []MessageView // For EventHistory
	Ack      *MessageAck
	Session  *SessionView
	Join     *CallJoinInfo
	Error    *CoreError
}
