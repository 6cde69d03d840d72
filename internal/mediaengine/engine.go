package mediaengine

import (
	"context"

	"github.com/campuslink/campuslink-server/internal/store"
)

// JoinInfo contains the credentials a client needs to attach its media
// streams to a call. Media negotiation itself happens directly between the
// client and the media backend.
type JoinInfo struct {
	URL      string `json:"url"`       // media server WebSocket URL
	Token    string `json:"token"`     // access token scoped to the call room
	RoomName string `json:"room_name"` // media room name
	Identity string `json:"identity"`  // user identity inside the room
}

// Engine abstracts the media backend for call sessions. The session
// lifecycle layer only creates rooms and mints join credentials; it never
// touches SDP/ICE.
type Engine interface {
	// RoomName derives the media room name for a session.
	RoomName(sess *store.CallSession) string

	// GenerateJoinInfo creates join credentials for a user.
	GenerateJoinInfo(ctx context.Context, sess *store.CallSession, userID int64, displayName string) (*JoinInfo, error)
}
