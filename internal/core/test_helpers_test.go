package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/campuslink/campuslink-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// memStore is an in-memory store.Store with the same single-row semantics
// the sqlite implementation has, so hub tests run without a database file.
type memStore struct {
	mu           sync.Mutex
	users        map[int64]*store.User
	nextUserID   int64
	messages     map[string][]*store.ChatMessage
	nextMsgID    int64
	sessions     map[string]*store.CallSession
	sessionOrder []string
	participants []*store.CallParticipant
	nextPartID   int64
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[int64]*store.User),
		messages: make(map[string][]*store.ChatMessage),
		sessions: make(map[string]*store.CallSession),
	}
}

func (m *memStore) addUser(username, displayName string) *store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUserID++
	u := &store.User{ID: m.nextUserID, Username: username, DisplayName: displayName, CreatedAt: time.Now()}
	m.users[u.ID] = u
	return u
}

func (m *memStore) CreateUser(_ context.Context, username, displayName, avatarURL, passwordHash string) (*store.User, error) {
	u := m.addUser(username, displayName)
	u.AvatarURL = avatarURL
	u.PasswordHash = passwordHash
	return u, nil
}

func (m *memStore) CreateGuestUser(_ context.Context, sessionID string) (*store.User, error) {
	u := m.addUser("guest", "")
	u.IsGuest = true
	u.SessionID = sessionID
	return u, nil
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d not found", id)
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q not found", username)
}

func (m *memStore) GetUserBySessionID(_ context.Context, sessionID string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.SessionID == sessionID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("session %q not found", sessionID)
}

func (m *memStore) SaveMessage(_ context.Context, msg *store.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMsgID++
	msg.ID = m.nextMsgID
	cp := *msg
	key := msg.Context.Key()
	m.messages[key] = append(m.messages[key], &cp)
	return nil
}

func (m *memStore) ListMessages(_ context.Context, chat store.ChatContext, limit int, beforeID *int64) ([]*store.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ChatMessage
	for _, msg := range m.messages[chat.Key()] {
		if beforeID != nil && msg.ID >= *beforeID {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) MarkRead(_ context.Context, chat store.ChatContext, messageID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[chat.Key()] {
		if msg.ID != messageID {
			continue
		}
		for _, id := range msg.ReadBy {
			if id == userID {
				return nil
			}
		}
		msg.ReadBy = append(msg.ReadBy, userID)
		return nil
	}
	return nil
}

func (m *memStore) CreateSession(_ context.Context, sess *store.CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sess.ID] = &cp
	m.sessionOrder = append(m.sessionOrder, sess.ID)
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*store.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}
	cp := *sess
	return &cp, nil
}

func (m *memStore) GetActiveOrWaiting(_ context.Context, chat store.ChatContext) (*store.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sessionOrder) - 1; i >= 0; i-- {
		sess := m.sessions[m.sessionOrder[i]]
		if sess.Context == chat && !sess.Status.Terminal() {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) PromoteSession(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.Status != store.SessionWaiting {
		return false, nil
	}
	if m.distinctJoinersLocked(id) < 2 {
		return false, nil
	}
	sess.Status = store.SessionActive
	return true, nil
}

func (m *memStore) EndSession(_ context.Context, id string, status store.SessionStatus, endedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.Status.Terminal() {
		return false, nil
	}
	sess.Status = status
	sess.EndedAt = &endedAt
	return true, nil
}

func (m *memStore) EndSessionIfAbandoned(_ context.Context, id string, endedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.Status.Terminal() {
		return false, nil
	}
	if m.countPresentLocked(id) > 0 {
		return false, nil
	}
	if sess.Status == store.SessionActive {
		sess.Status = store.SessionEnded
	} else {
		sess.Status = store.SessionMissed
	}
	sess.EndedAt = &endedAt
	return true, nil
}

func (m *memStore) ListWaitingBefore(_ context.Context, cutoff time.Time) ([]*store.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.CallSession
	for _, id := range m.sessionOrder {
		sess := m.sessions[id]
		if sess.Status == store.SessionWaiting && sess.StartedAt.Before(cutoff) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListSessionsForUser(_ context.Context, userID int64, limit int) ([]*store.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []*store.CallSession
	for i := len(m.participants) - 1; i >= 0; i-- {
		p := m.participants[i]
		if p.UserID != userID || seen[p.SessionID] {
			continue
		}
		seen[p.SessionID] = true
		cp := *m.sessions[p.SessionID]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *memStore) AddParticipant(_ context.Context, p *store.CallParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPartID++
	p.ID = m.nextPartID
	cp := *p
	m.participants = append(m.participants, &cp)
	return nil
}

func (m *memStore) GetCurrentParticipant(_ context.Context, sessionID string, userID int64) (*store.CallParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.participants) - 1; i >= 0; i-- {
		p := m.participants[i]
		if p.SessionID == sessionID && p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) RejoinParticipant(_ context.Context, participantID int64, joinedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.ID == participantID {
			p.LeftAt = nil
			p.JoinedAt = joinedAt
			return nil
		}
	}
	return fmt.Errorf("participant %d not found", participantID)
}

func (m *memStore) LeaveParticipant(_ context.Context, sessionID string, userID int64, leftAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.participants) - 1; i >= 0; i-- {
		p := m.participants[i]
		if p.SessionID == sessionID && p.UserID == userID {
			if p.LeftAt == nil {
				cp := leftAt
				p.LeftAt = &cp
			}
			return nil
		}
	}
	return nil
}

func (m *memStore) CountPresent(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countPresentLocked(sessionID), nil
}

func (m *memStore) ListParticipants(_ context.Context, sessionID string) ([]*store.CallParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.CallParticipant
	for _, p := range m.participants {
		if p.SessionID == sessionID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

// countPresentLocked counts users whose latest row has a null LeftAt.
func (m *memStore) countPresentLocked(sessionID string) int {
	latest := make(map[int64]*store.CallParticipant)
	for _, p := range m.participants {
		if p.SessionID == sessionID {
			latest[p.UserID] = p
		}
	}
	n := 0
	for _, p := range latest {
		if p.LeftAt == nil {
			n++
		}
	}
	return n
}

func (m *memStore) distinctJoinersLocked(sessionID string) int {
	seen := make(map[int64]bool)
	for _, p := range m.participants {
		if p.SessionID == sessionID {
			seen[p.UserID] = true
		}
	}
	return len(seen)
}

var _ store.Store = (*memStore)(nil)
