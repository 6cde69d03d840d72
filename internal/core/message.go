package core

import (
	"time"

	"github.com/campuslink/campuslink-server/internal/store"
)

// MessageView is a chat message with the sender's display data
// denormalized for rendering.
type MessageView struct {
	ID        int64
	Context   store.ChatContext
	UserID    int64
	Name      string
	Avatar    string
	Body      string
	Kind      store.MessageKind
	Metadata  string
	ReadBy    []int64
	CreatedAt time.Time
}

func messageView(msg *store.ChatMessage, name, avatar string) MessageView {
	return MessageView{
		ID:        msg.ID,
		Context:   msg.Context,
		UserID:    msg.UserID,
		Name:      name,
		Avatar:    avatar,
		Body:      msg.Body,
		Kind:      msg.Kind,
		Metadata:  msg.Metadata,
		ReadBy:    msg.ReadBy,
		CreatedAt: msg.CreatedAt,
	}
}
