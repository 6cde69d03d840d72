package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/campuslink/campuslink-server/internal/service/calls"
	"github.com/campuslink/campuslink-server/internal/store"
)

const defaultHistoryLimit = 20

// CallsHandlers provides HTTP handlers for call history endpoints.
type CallsHandlers struct {
	service *calls.Service
	log     *zerolog.Logger
}

// NewCallsHandlers creates a new calls handlers instance.
func NewCallsHandlers(svc *calls.Service, logger *zerolog.Logger) *CallsHandlers {
	return &CallsHandlers{
		service: svc,
		log:     logger,
	}
}

// SessionResponse represents a call session in API responses.
type SessionResponse struct {
	ID          string  `json:"id"`
	Context     string  `json:"context"`
	InitiatorID int64   `json:"initiator_id"`
	Status      string  `json:"status"`
	StartedAt   string  `json:"started_at"`
	EndedAt     *string `json:"ended_at,omitempty"`
}

// ParticipantResponse represents one join of a user into a session.
type ParticipantResponse struct {
	UserID   int64   `json:"user_id"`
	JoinedAt string  `json:"joined_at"`
	LeftAt   *string `json:"left_at,omitempty"`
}

// SessionDetailResponse is a session with its participant rows.
type SessionDetailResponse struct {
	SessionResponse
	Participants []ParticipantResponse `json:"participants"`
}

func sessionToResponse(s *store.CallSession) SessionResponse {
	resp := SessionResponse{
		ID:          s.ID,
		Context:     s.Context.Key(),
		InitiatorID: s.InitiatorID,
		Status:      string(s.Status),
		StartedAt:   s.StartedAt.Format(time.RFC3339),
	}
	if s.EndedAt != nil {
		endedAt := s.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &endedAt
	}
	return resp
}

// ListHistory returns the authenticated user's recent call sessions.
// GET /api/calls?limit=N
func (h *CallsHandlers) ListHistory(c *gin.Context) {
	userID := currentUserID(c)

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	sessions, err := h.service.History(c.Request.Context(), userID, limit)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to list call history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, sessionToResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"calls": resp})
}

// GetSession returns one session with its participant rows. Only users who
// took part in the call may read it.
// GET /api/calls/:id
func (h *CallsHandlers) GetSession(c *gin.Context) {
	userID := currentUserID(c)
	sessionID := c.Param("id")

	sess, err := h.service.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, calls.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "call not found"})
			return
		}
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to get session")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	joined, err := h.service.IsParticipant(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to check participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !joined && sess.InitiatorID != userID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
		return
	}

	participants, err := h.service.Participants(c.Request.Context(), sessionID)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to list participants")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	detail := SessionDetailResponse{SessionResponse: sessionToResponse(sess)}
	for _, p := range participants {
		pr := ParticipantResponse{
			UserID:   p.UserID,
			JoinedAt: p.JoinedAt.Format(time.RFC3339),
		}
		if p.LeftAt != nil {
			leftAt := p.LeftAt.Format(time.RFC3339)
			pr.LeftAt = &leftAt
		}
		detail.Participants = append(detail.Participants, pr)
	}

	c.JSON(http.StatusOK, detail)
}
