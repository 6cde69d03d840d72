package core

import (
	"context"
	"time"

	"github.com/campuslink/campuslink-server/internal/mediaengine"
	"github.com/campuslink/campuslink-server/internal/store"
)

// CallService abstracts call session lifecycle logic for the Hub. The Hub
// processes call commands through this interface without depending on the
// service layer implementation.
type CallService interface {
	// Start opens a call in a context, or joins the already open one.
	// The flag reports whether a new session was created.
	Start(ctx context.Context, chat store.ChatContext, initiatorID int64) (*store.CallSession, bool, error)

	// Join makes the user a current participant; idempotent, handles
	// rejoin, and promotes waiting to active on a second identity.
	Join(ctx context.Context, sessionID string, userID int64) (*store.CallSession, error)

	// Leave marks the user gone and ends the session when abandoned.
	Leave(ctx context.Context, sessionID string, userID int64) (*store.CallSession, error)

	// End terminates the session for everyone.
	End(ctx context.Context, sessionID string, byUserID int64) (*store.CallSession, error)

	// Get retrieves a session by ID.
	Get(ctx context.Context, sessionID string) (*store.CallSession, error)

	// Resume returns the open session the user is still a current
	// participant of in the context, or nil.
	Resume(ctx context.Context, chat store.ChatContext, userID int64) (*store.CallSession, error)

	// Open returns the context's waiting or active session, or nil.
	Open(ctx context.Context, chat store.ChatContext) (*store.CallSession, error)

	// IsParticipant reports whether the user ever joined the session.
	IsParticipant(ctx context.Context, sessionID string, userID int64) (bool, error)

	// SweepMissed closes waiting sessions older than ringTimeout as missed.
	SweepMissed(ctx context.Context, ringTimeout time.Duration) ([]*store.CallSession, error)

	// MediaJoinInfo mints media credentials, or nil without a media backend.
	MediaJoinInfo(ctx context.Context, sess *store.CallSession, userID int64, displayName string) (*mediaengine.JoinInfo, error)
}
