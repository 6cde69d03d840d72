package livekit

import (
	"context"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/campuslink/campuslink-server/internal/mediaengine"
	"github.com/campuslink/campuslink-server/internal/store"
)

// Engine implements mediaengine.Engine using LiveKit as the media backend.
type Engine struct {
	apiKey    string
	apiSecret string
	wsURL     string
}

// New creates a new LiveKit engine.
func New(apiKey, apiSecret, wsURL string) *Engine {
	return &Engine{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
	}
}

// RoomName derives the media room name for a session. LiveKit creates
// rooms on demand when the first user connects, so no API call is needed.
func (e *Engine) RoomName(sess *store.CallSession) string {
	return fmt.Sprintf("campuslink-%s-%d-%s", sess.Context.Kind, sess.Context.ID, sess.ID)
}

// GenerateJoinInfo creates join credentials for a user to join the call.
func (e *Engine) GenerateJoinInfo(_ context.Context, sess *store.CallSession, userID int64, displayName string) (*mediaengine.JoinInfo, error) {
	roomName := e.RoomName(sess)
	identity := fmt.Sprintf("user-%d", userID)

	at := auth.NewAccessToken(e.apiKey, e.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(displayName).
		SetValidFor(time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &mediaengine.JoinInfo{
		URL:      e.wsURL,
		Token:    token,
		RoomName: roomName,
		Identity: identity,
	}, nil
}

// Ensure Engine implements mediaengine.Engine
var _ mediaengine.Engine = (*Engine)(nil)
