package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campuslink/campuslink-server/internal/mediaengine"
	"github.com/campuslink/campuslink-server/internal/store"
)

// Common errors for call operations.
var (
	ErrSessionNotFound = errors.New("call session not found")
	ErrSessionEnded    = errors.New("call session has ended")
	ErrNotParticipant  = errors.New("not a participant in this call")
)

// Service owns call session lifecycle decisions. Every decision the clients
// used to make from locally cached state (promotion, last-leaver
// termination) runs here against the store, in statements that are
// individually safe under concurrent writers.
type Service struct {
	store  store.Store
	engine mediaengine.Engine
}

// New creates a call service. engine may be nil when no media backend is
// configured; sessions then carry lifecycle state only.
func New(st store.Store, engine mediaengine.Engine) *Service {
	return &Service{
		store:  st,
		engine: engine,
	}
}

// Start opens a call in the given context. If a waiting or active session
// already exists there, no new row is created: the initiator joins the
// existing one instead, keeping at most one open session per context.
// The returned flag reports whether a new session was created.
func (s *Service) Start(ctx context.Context, chat store.ChatContext, initiatorID int64) (*store.CallSession, bool, error) {
	existing, err := s.store.GetActiveOrWaiting(ctx, chat)
	if err != nil {
		return nil, false, fmt.Errorf("check open session: %w", err)
	}
	if existing != nil {
		sess, joinErr := s.Join(ctx, existing.ID, initiatorID)
		if joinErr != nil {
			return nil, false, joinErr
		}
		return sess, false, nil
	}

	now := time.Now().UTC()
	sess := &store.CallSession{
		ID:          uuid.New().String(),
		Context:     chat,
		InitiatorID: initiatorID,
		Status:      store.SessionWaiting,
		StartedAt:   now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}

	p := &store.CallParticipant{
		SessionID: sess.ID,
		UserID:    initiatorID,
		JoinedAt:  now,
	}
	if err := s.store.AddParticipant(ctx, p); err != nil {
		return nil, false, fmt.Errorf("add initiator participant: %w", err)
	}

	return sess, true, nil
}

// Join makes the user a current participant of the session. Idempotent: a
// user who never joined gets a row, one who left gets their row
// reactivated, one already present is a no-op. A join by a second distinct
// identity promotes waiting to active. Returns the refreshed session.
func (s *Service) Join(ctx context.Context, sessionID string, userID int64) (*store.CallSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if sess.Status.Terminal() {
		return nil, ErrSessionEnded
	}

	now := time.Now().UTC()

	p, err := s.store.GetCurrentParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	switch {
	case p == nil:
		p = &store.CallParticipant{SessionID: sessionID, UserID: userID, JoinedAt: now}
		if err := s.store.AddParticipant(ctx, p); err != nil {
			return nil, fmt.Errorf("add participant: %w", err)
		}
	case p.LeftAt != nil:
		if err := s.store.RejoinParticipant(ctx, p.ID, now); err != nil {
			return nil, fmt.Errorf("rejoin participant: %w", err)
		}
	default:
		// Already a current participant.
	}

	if _, err := s.store.PromoteSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("promote session: %w", err)
	}

	sess, err = s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return sess, nil
}

// Leave marks the user as having left and terminates the session if nobody
// is left in it: an abandoned active session closes as ended, a waiting one
// that was never answered as missed. Returns the refreshed session.
func (s *Service) Leave(ctx context.Context, sessionID string, userID int64) (*store.CallSession, error) {
	p, err := s.store.GetCurrentParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	if p == nil {
		return nil, ErrNotParticipant
	}

	now := time.Now().UTC()
	if p.LeftAt == nil {
		if err := s.store.LeaveParticipant(ctx, sessionID, userID, now); err != nil {
			return nil, fmt.Errorf("leave participant: %w", err)
		}
	}

	if _, err := s.store.EndSessionIfAbandoned(ctx, sessionID, now); err != nil {
		return nil, fmt.Errorf("end abandoned session: %w", err)
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return sess, nil
}

// End terminates the session for everyone. Only participants (or the
// initiator) may end a call. Idempotent on already-terminal sessions.
// An active session closes as ended; one still waiting closes as missed.
func (s *Service) End(ctx context.Context, sessionID string, byUserID int64) (*store.CallSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if sess.Status.Terminal() {
		return sess, nil
	}

	p, err := s.store.GetCurrentParticipant(ctx, sessionID, byUserID)
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	if p == nil && sess.InitiatorID != byUserID {
		return nil, ErrNotParticipant
	}

	now := time.Now().UTC()
	status := store.SessionEnded
	if sess.Status == store.SessionWaiting {
		status = store.SessionMissed
	}
	if _, err := s.store.EndSession(ctx, sessionID, status, now); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if err := s.closeOpenRows(ctx, sessionID, now); err != nil {
		return nil, err
	}

	sess, err = s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return sess, nil
}

// Get retrieves a session by ID.
func (s *Service) Get(ctx context.Context, sessionID string) (*store.CallSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Resume returns the open session in the context the user is still a
// current participant of, or nil. Used on (re)subscribe so a reconnecting
// client silently re-enters a call it never explicitly left.
func (s *Service) Resume(ctx context.Context, chat store.ChatContext, userID int64) (*store.CallSession, error) {
	sess, err := s.store.GetActiveOrWaiting(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("check open session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}
	p, err := s.store.GetCurrentParticipant(ctx, sess.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	if !p.Present() {
		return nil, nil
	}
	return sess, nil
}

// Open returns the context's waiting or active session, or nil.
func (s *Service) Open(ctx context.Context, chat store.ChatContext) (*store.CallSession, error) {
	sess, err := s.store.GetActiveOrWaiting(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("check open session: %w", err)
	}
	return sess, nil
}

// IsParticipant reports whether the user has ever joined the session.
func (s *Service) IsParticipant(ctx context.Context, sessionID string, userID int64) (bool, error) {
	p, err := s.store.GetCurrentParticipant(ctx, sessionID, userID)
	if err != nil {
		return false, fmt.Errorf("get participant: %w", err)
	}
	return p != nil, nil
}

// Participants lists all join rows of a session.
func (s *Service) Participants(ctx context.Context, sessionID string) ([]*store.CallParticipant, error) {
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

// History lists the user's most recent sessions, newest first.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]*store.CallSession, error) {
	sessions, err := s.store.ListSessionsForUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// SweepMissed marks waiting sessions older than ringTimeout as missed and
// returns the sessions it closed so their contexts can be notified.
func (s *Service) SweepMissed(ctx context.Context, ringTimeout time.Duration) ([]*store.CallSession, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-ringTimeout)

	stale, err := s.store.ListWaitingBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}

	var swept []*store.CallSession
	for _, sess := range stale {
		ok, err := s.store.EndSession(ctx, sess.ID, store.SessionMissed, now)
		if err != nil {
			return swept, fmt.Errorf("mark missed: %w", err)
		}
		if !ok {
			continue // answered or ended since the list query
		}
		if err := s.closeOpenRows(ctx, sess.ID, now); err != nil {
			return swept, err
		}
		sess.Status = store.SessionMissed
		sess.EndedAt = &now
		swept = append(swept, sess)
	}
	return swept, nil
}

// MediaJoinInfo mints media credentials for a session participant. Returns
// nil when no media backend is configured.
func (s *Service) MediaJoinInfo(ctx context.Context, sess *store.CallSession, userID int64, displayName string) (*mediaengine.JoinInfo, error) {
	if s.engine == nil {
		return nil, nil
	}
	info, err := s.engine.GenerateJoinInfo(ctx, sess, userID, displayName)
	if err != nil {
		return nil, fmt.Errorf("generate join info: %w", err)
	}
	return info, nil
}

// closeOpenRows closes every still-current participant row after a session
// went terminal, so rejoin checks never resurrect a finished call.
func (s *Service) closeOpenRows(ctx context.Context, sessionID string, leftAt time.Time) error {
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	for _, p := range participants {
		if p.LeftAt != nil {
			continue
		}
		if err := s.store.LeaveParticipant(ctx, sessionID, p.UserID, leftAt); err != nil {
			return fmt.Errorf("close participant row: %w", err)
		}
	}
	return nil
}
