package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// User represents a platform member visible to the realtime layer.
// Profile CRUD lives elsewhere; this is the subset presence and chat need.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	AvatarURL    string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	CreatedAt    time.Time
}

// Display returns the name peers should see, falling back to the login
// name when no display name is set.
func (u *User) Display() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// ContextKind identifies which scope a chat/call context belongs to.
type ContextKind string

const (
	ContextCluster ContextKind = "cluster"
	ContextFyp     ContextKind = "fyp"
	ContextProject ContextKind = "project"
)

// ChatContext is the logical room a chat or call belongs to. Each kind has
// its own message table; the kind is resolved once at the boundary and
// carried as a value from then on.
type ChatContext struct {
	Kind ContextKind
	ID   int64
}

// Key returns the canonical "kind:id" form used for channel names.
func (c ChatContext) Key() string {
	return fmt.Sprintf("%s:%d", c.Kind, c.ID)
}

// Valid reports whether the context names a known kind and a positive id.
func (c ChatContext) Valid() bool {
	switch c.Kind {
	case ContextCluster, ContextFyp, ContextProject:
		return c.ID > 0
	}
	return false
}

// MessageTable returns the physical message table and its scope column
// for this context kind.
func (c ChatContext) MessageTable() (table, scopeColumn string) {
	switch c.Kind {
	case ContextFyp:
		return "fyp_messages", "fyp_id"
	case ContextProject:
		return "project_messages", "project_id"
	default:
		return "cluster_messages", "cluster_id"
	}
}

// ParseContext parses a "kind:id" key into a ChatContext.
func ParseContext(key string) (ChatContext, error) {
	kind, idStr, ok := strings.Cut(key, ":")
	if !ok {
		return ChatContext{}, fmt.Errorf("malformed context %q", key)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return ChatContext{}, fmt.Errorf("malformed context id %q: %w", idStr, err)
	}
	c := ChatContext{Kind: ContextKind(kind), ID: id}
	if !c.Valid() {
		return ChatContext{}, fmt.Errorf("unknown context %q", key)
	}
	return c, nil
}

// SessionStatus defines call session lifecycle states.
// Transitions are monotonic: waiting -> active -> ended, or waiting -> missed.
type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
	SessionMissed  SessionStatus = "missed"
)

// Terminal reports whether the status ends the session lifecycle.
func (s SessionStatus) Terminal() bool {
	return s == SessionEnded || s == SessionMissed
}

// Rank orders lifecycle states so that regressing updates can be ignored.
func (s SessionStatus) Rank() int {
	switch s {
	case SessionWaiting:
		return 0
	case SessionActive:
		return 1
	default:
		return 2
	}
}

// CallSession is the durable record of one call, shared by all participants.
type CallSession struct {
	ID          string // UUID
	Context     ChatContext
	InitiatorID int64
	Status      SessionStatus
	StartedAt   time.Time
	EndedAt     *time.Time
}

// CallParticipant is one join of a user into a call session. Rejoins reuse
// the latest row; "currently in call" means the latest row for (session,
// user) has a null LeftAt.
type CallParticipant struct {
	ID        int64
	SessionID string
	UserID    int64
	JoinedAt  time.Time
	LeftAt    *time.Time
}

// Present reports whether this row represents a participant still in the call.
func (p *CallParticipant) Present() bool {
	return p != nil && p.LeftAt == nil
}

// MessageKind classifies chat message payloads.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageAudio  MessageKind = "audio"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// ChatMessage is a persisted chat message scoped to one context.
type ChatMessage struct {
	ID        int64
	Context   ChatContext
	UserID    int64
	Body      string
	Kind      MessageKind
	Metadata  string  // opaque JSON blob
	ReadBy    []int64 // additive set of reader identities
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, displayName, avatarURL, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUserBySessionID retrieves a guest user by session ID.
	GetUserBySessionID(ctx context.Context, sessionID string) (*User, error)
}

// MessageStore handles chat message persistence. All operations are scoped
// by a ChatContext which selects the physical table.
type MessageStore interface {
	// SaveMessage persists a message and fills in its assigned ID.
	SaveMessage(ctx context.Context, msg *ChatMessage) error

	// ListMessages retrieves messages from a context in chronological order.
	// If beforeID is provided, returns messages older than that ID.
	ListMessages(ctx context.Context, chat ChatContext, limit int, beforeID *int64) ([]*ChatMessage, error)

	// MarkRead appends userID to the message's read_by set. Idempotent;
	// read marks are never retracted.
	MarkRead(ctx context.Context, chat ChatContext, messageID, userID int64) error
}

// SessionStore handles call session and participant persistence. Every
// mutation is a single statement that is independently safe to retry or
// duplicate; status transitions are guarded so they never regress.
type SessionStore interface {
	// CreateSession inserts a session row with status waiting.
	CreateSession(ctx context.Context, sess *CallSession) error

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, id string) (*CallSession, error)

	// GetActiveOrWaiting returns the most recent non-terminal session for
	// the context, or nil if there is none.
	GetActiveOrWaiting(ctx context.Context, chat ChatContext) (*CallSession, error)

	// PromoteSession moves a waiting session to active once a second
	// distinct identity has joined. A no-op when already active or
	// terminal, so redundant promotions from racing joiners are safe.
	PromoteSession(ctx context.Context, id string) (bool, error)

	// EndSession marks the session terminal with the given status. The
	// update only applies while the session is still non-terminal.
	EndSession(ctx context.Context, id string, status SessionStatus, endedAt time.Time) (bool, error)

	// EndSessionIfAbandoned terminates the session only if no participant
	// row is current. Active sessions close as ended, waiting ones as
	// missed. The check and update run as one statement so a racing join
	// cannot be overridden by a stale local participant count.
	EndSessionIfAbandoned(ctx context.Context, id string, endedAt time.Time) (bool, error)

	// ListWaitingBefore returns waiting sessions started before the cutoff,
	// candidates for being marked missed by the ring-timeout sweep.
	ListWaitingBefore(ctx context.Context, cutoff time.Time) ([]*CallSession, error)

	// ListSessionsForUser lists the most recent sessions the user
	// participated in, newest first.
	ListSessionsForUser(ctx context.Context, userID int64, limit int) ([]*CallSession, error)

	// AddParticipant inserts a participant row and fills in its ID.
	AddParticipant(ctx context.Context, p *CallParticipant) error

	// GetCurrentParticipant returns the latest participant row for
	// (session, user), or nil if the user never joined.
	GetCurrentParticipant(ctx context.Context, sessionID string, userID int64) (*CallParticipant, error)

	// RejoinParticipant clears LeftAt and refreshes JoinedAt on an existing
	// row so a rejoin does not create a shadowing duplicate.
	RejoinParticipant(ctx context.Context, participantID int64, joinedAt time.Time) error

	// LeaveParticipant sets LeftAt on the user's current row.
	LeaveParticipant(ctx context.Context, sessionID string, userID int64, leftAt time.Time) error

	// CountPresent counts participants whose latest row has a null LeftAt.
	CountPresent(ctx context.Context, sessionID string) (int, error)

	// ListParticipants lists all participant rows for a session.
	ListParticipants(ctx context.Context, sessionID string) ([]*CallParticipant, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
	SessionStore

	// Close closes the underlying database connection.
	Close() error
}
