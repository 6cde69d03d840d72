package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/campuslink/campuslink-server/internal/store"
)

const (
	defaultMessagePage = 50
	maxMessagePage     = 200
)

// MessagesHandlers provides HTTP handlers for message history endpoints.
// Live traffic goes over the socket; this is for scrollback pagination.
type MessagesHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewMessagesHandlers creates a new messages handlers instance.
func NewMessagesHandlers(st store.Store, logger *zerolog.Logger) *MessagesHandlers {
	return &MessagesHandlers{
		store: st,
		log:   logger,
	}
}

// MessageResponse represents a chat message in API responses.
type MessageResponse struct {
	ID        int64   `json:"id"`
	UserID    int64   `json:"user_id"`
	Name      string  `json:"name"`
	Avatar    string  `json:"avatar,omitempty"`
	Body      string  `json:"body"`
	Kind      string  `json:"kind"`
	Metadata  string  `json:"metadata,omitempty"`
	ReadBy    []int64 `json:"read_by,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// List returns older messages of a context, oldest first within the page.
// GET /api/contexts/:kind/:id/messages?limit=N&before=ID
func (h *MessagesHandlers) List(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid context id"})
		return
	}
	chat := store.ChatContext{Kind: store.ContextKind(c.Param("kind")), ID: chatID}
	if !chat.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown context"})
		return
	}

	limit := defaultMessagePage
	if raw := c.Query("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 || n > maxMessagePage {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	var beforeID *int64
	if raw := c.Query("before"); raw != "" {
		id, convErr := strconv.ParseInt(raw, 10, 64)
		if convErr != nil || id < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before cursor"})
			return
		}
		beforeID = &id
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), chat, limit, beforeID)
	if err != nil {
		h.log.Error().Err(err).Str("context", chat.Key()).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	// Sender display data is denormalized per page; a page rarely has more
	// than a handful of distinct authors.
	authors := make(map[int64]*store.User)
	resp := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		u, ok := authors[msg.UserID]
		if !ok {
			u, err = h.store.GetUserByID(c.Request.Context(), msg.UserID)
			if err != nil {
				u = &store.User{ID: msg.UserID}
			}
			authors[msg.UserID] = u
		}
		resp = append(resp, MessageResponse{
			ID:        msg.ID,
			UserID:    msg.UserID,
			Name:      u.Display(),
			Avatar:    u.AvatarURL,
			Body:      msg.Body,
			Kind:      string(msg.Kind),
			Metadata:  msg.Metadata,
			ReadBy:    msg.ReadBy,
			CreatedAt: msg.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	c.JSON(http.StatusOK, gin.H{"context": chat.Key(), "messages": resp})
}
