package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeJoin        = "join"
	InboundTypeLeave       = "leave"
	InboundTypeMsg         = "msg"
	InboundTypeRead        = "read"
	InboundTypeCallStart   = "call_start"
	InboundTypeCallJoin    = "call_join"
	InboundTypeCallLeave   = "call_leave"
	InboundTypeCallEnd     = "call_end"
	InboundTypeCallDismiss = "call_dismiss"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNamePresence    = "presence"
	EventNameHistory     = "history"
	EventNameMessage     = "message"
	EventNameAck         = "ack"
	EventNameCallCreated = "call_created"
	EventNameCallUpdated = "call_updated"
	EventNameCallJoined  = "call_joined"
)

// JoinData subscribes to a context channel. Context is "kind:id", e.g.
// "cluster:12" or "project:7".
type JoinData struct {
	Context string `json:"context"`
}

// MsgData is a chat message from the client. Ref is a client-chosen value
// echoed back in the ack so the optimistic local entry can be reconciled.
type MsgData struct {
	Context  string `json:"context"`
	Body     string `json:"body"`
	Kind     string `json:"kind,omitempty"`
	Metadata string `json:"metadata,omitempty"`
	Ref      string `json:"ref,omitempty"`
}

// ReadData marks a message as read by the sender of this frame.
type ReadData struct {
	Context   string `json:"context"`
	MessageID int64  `json:"message_id"`
}

// CallStartData opens (or joins the already open) call in a context.
type CallStartData struct {
	Context string `json:"context"`
}

// CallSessionData addresses an existing call session.
type CallSessionData struct {
	SessionID string `json:"session_id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// PresenceEntry is one online peer in a context.
type PresenceEntry struct {
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	InCall    bool   `json:"in_call,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	LastSeen  int64  `json:"last_seen"`
}

// PresenceData is the full peer set of a context after any change.
type PresenceData struct {
	Context string          `json:"context"`
	Peers   []PresenceEntry `json:"peers"`
}

// MessageData is a stored chat message pushed to peers.
type MessageData struct {
	ID       int64   `json:"id"`
	Context  string  `json:"context"`
	UserID   int64   `json:"user_id"`
	Name     string  `json:"name"`
	Avatar   string  `json:"avatar,omitempty"`
	Body     string  `json:"body"`
	Kind     string  `json:"kind"`
	Metadata string  `json:"metadata,omitempty"`
	ReadBy   []int64 `json:"read_by,omitempty"`
	TS       int64   `json:"ts"`
}

// HistoryData replays recent messages on context join, oldest first.
type HistoryData struct {
	Context  string        `json:"context"`
	Messages []MessageData `json:"messages"`
}

// AckData confirms a send. Ref matches the MsgData.Ref the client chose.
type AckData struct {
	Context string `json:"context"`
	Ref     string `json:"ref,omitempty"`
	ID      int64  `json:"id"`
	TS      int64  `json:"ts"`
}

// SessionData describes a call session's current lifecycle state.
type SessionData struct {
	SessionID       string `json:"session_id"`
	Context         string `json:"context"`
	InitiatorID     int64  `json:"initiator_id"`
	InitiatorName   string `json:"initiator_name,omitempty"`
	InitiatorAvatar string `json:"initiator_avatar,omitempty"`
	Status          string `json:"status"`
	StartedAt       int64  `json:"started_at"`
	EndedAt         *int64 `json:"ended_at,omitempty"`
}

// CallJoinedData confirms the client is in the call. Media is present when
// a media backend is configured.
type CallJoinedData struct {
	Session SessionData `json:"session"`
	Resumed bool        `json:"resumed,omitempty"`
	Media   *MediaData  `json:"media,omitempty"`
}

// MediaData carries credentials for the media backend.
type MediaData struct {
	URL   string `json:"url"`
	Room  string `json:"room"`
	Token string `json:"token"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
