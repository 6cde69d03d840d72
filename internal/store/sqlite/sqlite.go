package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/campuslink/campuslink-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file (":memory:" for tests).
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, displayName, avatarURL, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, display_name, avatar_url, password_hash, is_guest)
		VALUES (?, ?, ?, ?, 0)
	`
	result, err := s.db.ExecContext(ctx, query, username, displayName, avatarURL, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// CreateGuestUser creates a temporary guest user with session ID.
func (s *SQLiteStore) CreateGuestUser(ctx context.Context, sessionID string) (*store.User, error) {
	query := `
		INSERT INTO users (username, display_name, password_hash, is_guest, session_id)
		VALUES (?, ?, '', 1, ?)
	`
	guestUsername := "guest_" + sessionID[:8]

	result, err := s.db.ExecContext(ctx, query, guestUsername, guestUsername, sessionID)
	if err != nil {
		return nil, fmt.Errorf("insert guest user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, display_name, avatar_url, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, display_name, avatar_url, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE username = ? AND is_guest = 0
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

// GetUserBySessionID retrieves a guest user by session ID.
func (s *SQLiteStore) GetUserBySessionID(ctx context.Context, sessionID string) (*store.User, error) {
	query := `
		SELECT id, username, display_name, avatar_url, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE session_id = ? AND is_guest = 1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, sessionID))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&user.PasswordHash,
		&user.IsGuest,
		&user.SessionID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message to the context's table.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.ChatMessage) error {
	table, scope := msg.Context.MessageTable()
	metadata := msg.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	readBy := []byte("[]")
	if len(msg.ReadBy) > 0 {
		b, err := json.Marshal(msg.ReadBy)
		if err != nil {
			return fmt.Errorf("marshal read_by: %w", err)
		}
		readBy = b
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, user_id, message, message_type, metadata, read_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, table, scope)
	result, err := s.db.ExecContext(ctx, query,
		msg.Context.ID, msg.UserID, msg.Body, string(msg.Kind), metadata, string(readBy), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = id
	return nil
}

// ListMessages retrieves messages from a context with pagination.
func (s *SQLiteStore) ListMessages(ctx context.Context, chat store.ChatContext, limit int, beforeID *int64) ([]*store.ChatMessage, error) {
	table, scope := chat.MessageTable()

	var query string
	var args []interface{}

	if beforeID != nil {
		query = fmt.Sprintf(`
			SELECT id, user_id, message, message_type, metadata, read_by, created_at
			FROM %s
			WHERE %s = ? AND id < ?
			ORDER BY id DESC
			LIMIT ?
		`, table, scope)
		args = []interface{}{chat.ID, *beforeID, limit}
	} else {
		query = fmt.Sprintf(`
			SELECT id, user_id, message, message_type, metadata, read_by, created_at
			FROM %s
			WHERE %s = ?
			ORDER BY id DESC
			LIMIT ?
		`, table, scope)
		args = []interface{}{chat.ID, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.ChatMessage
	for rows.Next() {
		msg := store.ChatMessage{Context: chat}
		var kind, readBy string
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Body, &kind, &msg.Metadata, &readBy, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Kind = store.MessageKind(kind)
		if err := json.Unmarshal([]byte(readBy), &msg.ReadBy); err != nil {
			return nil, fmt.Errorf("unmarshal read_by: %w", err)
		}
		messages = append(messages, &msg)
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, rows.Err()
}

// MarkRead appends userID to the message's read_by set. The duplicate guard
// runs inside the statement, so repeated marks from racing viewports are
// no-ops.
func (s *SQLiteStore) MarkRead(ctx context.Context, chat store.ChatContext, messageID, userID int64) error {
	table, scope := chat.MessageTable()
	query := fmt.Sprintf(`
		UPDATE %s
		SET read_by = json_insert(read_by, '$[#]', ?)
		WHERE id = ? AND %s = ?
		  AND NOT EXISTS (SELECT 1 FROM json_each(%s.read_by) WHERE json_each.value = ?)
	`, table, scope, table)
	_, err := s.db.ExecContext(ctx, query, userID, messageID, chat.ID, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// ==== SessionStore implementation ====

// CreateSession inserts a session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *store.CallSession) error {
	query := `
		INSERT INTO call_sessions (id, context_type, context_id, initiator_id, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID,
		string(sess.Context.Kind),
		sess.Context.ID,
		sess.InitiatorID,
		string(sess.Status),
		sess.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*store.CallSession, error) {
	query := `
		SELECT id, context_type, context_id, initiator_id, status, started_at, ended_at
		FROM call_sessions
		WHERE id = ?
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", err)
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

// GetActiveOrWaiting returns the most recent non-terminal session for the
// context, or nil if there is none.
func (s *SQLiteStore) GetActiveOrWaiting(ctx context.Context, chat store.ChatContext) (*store.CallSession, error) {
	query := `
		SELECT id, context_type, context_id, initiator_id, status, started_at, ended_at
		FROM call_sessions
		WHERE context_type = ? AND context_id = ? AND status IN ('waiting', 'active')
		ORDER BY started_at DESC
		LIMIT 1
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, string(chat.Kind), chat.ID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No open session
	}
	if err != nil {
		return nil, fmt.Errorf("query open session: %w", err)
	}
	return sess, nil
}

// PromoteSession moves a waiting session to active once two distinct
// identities have joined. The status filter makes redundant promotions
// from racing joiners no-ops.
func (s *SQLiteStore) PromoteSession(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE call_sessions
		SET status = 'active'
		WHERE id = ? AND status = 'waiting'
		  AND (SELECT COUNT(DISTINCT user_id) FROM call_participants WHERE session_id = ?) >= 2
	`
	result, err := s.db.ExecContext(ctx, query, id, id)
	if err != nil {
		return false, fmt.Errorf("promote session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// EndSession marks the session terminal. Only applies while non-terminal.
func (s *SQLiteStore) EndSession(ctx context.Context, id string, status store.SessionStatus, endedAt time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("end session: status %q is not terminal", status)
	}
	query := `
		UPDATE call_sessions
		SET status = ?, ended_at = ?
		WHERE id = ? AND status IN ('waiting', 'active')
	`
	result, err := s.db.ExecContext(ctx, query, string(status), endedAt, id)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// EndSessionIfAbandoned terminates the session only when no participant's
// latest row is still current. The remaining-participant check runs inside
// the statement, so a join that lands first wins over the leave.
func (s *SQLiteStore) EndSessionIfAbandoned(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	query := `
		UPDATE call_sessions
		SET status = CASE WHEN status = 'active' THEN 'ended' ELSE 'missed' END,
		    ended_at = ?
		WHERE id = ? AND status IN ('waiting', 'active')
		  AND NOT EXISTS (
			SELECT 1 FROM call_participants p
			WHERE p.session_id = call_sessions.id
			  AND p.left_at IS NULL
			  AND p.id = (
				SELECT MAX(p2.id) FROM call_participants p2
				WHERE p2.session_id = p.session_id AND p2.user_id = p.user_id
			  )
		  )
	`
	result, err := s.db.ExecContext(ctx, query, endedAt, id)
	if err != nil {
		return false, fmt.Errorf("end abandoned session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListWaitingBefore returns waiting sessions started before the cutoff.
func (s *SQLiteStore) ListWaitingBefore(ctx context.Context, cutoff time.Time) ([]*store.CallSession, error) {
	query := `
		SELECT id, context_type, context_id, initiator_id, status, started_at, ended_at
		FROM call_sessions
		WHERE status = 'waiting' AND started_at < ?
		ORDER BY started_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query waiting sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// ListSessionsForUser lists the most recent sessions the user participated
// in, newest first.
func (s *SQLiteStore) ListSessionsForUser(ctx context.Context, userID int64, limit int) ([]*store.CallSession, error) {
	query := `
		SELECT DISTINCT c.id, c.context_type, c.context_id, c.initiator_id, c.status, c.started_at, c.ended_at
		FROM call_sessions c
		JOIN call_participants p ON c.id = p.session_id
		WHERE p.user_id = ?
		ORDER BY c.started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions for user: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

func scanSession(scan func(dest ...any) error) (*store.CallSession, error) {
	var sess store.CallSession
	var kind, status string
	var endedAt sql.NullTime

	err := scan(
		&sess.ID,
		&kind,
		&sess.Context.ID,
		&sess.InitiatorID,
		&status,
		&sess.StartedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Context.Kind = store.ContextKind(kind)
	sess.Status = store.SessionStatus(status)
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]*store.CallSession, error) {
	var sessions []*store.CallSession
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// AddParticipant adds a participant row to a session.
func (s *SQLiteStore) AddParticipant(ctx context.Context, p *store.CallParticipant) error {
	query := `
		INSERT INTO call_participants (session_id, user_id, joined_at, left_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, p.SessionID, p.UserID, p.JoinedAt, p.LeftAt)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	p.ID = id
	return nil
}

// GetCurrentParticipant returns the latest participant row for (session,
// user), or nil if the user never joined this session.
func (s *SQLiteStore) GetCurrentParticipant(ctx context.Context, sessionID string, userID int64) (*store.CallParticipant, error) {
	query := `
		SELECT id, session_id, user_id, joined_at, left_at
		FROM call_participants
		WHERE session_id = ? AND user_id = ?
		ORDER BY id DESC
		LIMIT 1
	`
	var p store.CallParticipant
	var leftAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, sessionID, userID).Scan(
		&p.ID,
		&p.SessionID,
		&p.UserID,
		&p.JoinedAt,
		&leftAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Never joined
	}
	if err != nil {
		return nil, fmt.Errorf("query participant: %w", err)
	}

	if leftAt.Valid {
		p.LeftAt = &leftAt.Time
	}
	return &p, nil
}

// RejoinParticipant reactivates an existing row instead of inserting a
// duplicate that would shadow it.
func (s *SQLiteStore) RejoinParticipant(ctx context.Context, participantID int64, joinedAt time.Time) error {
	query := `
		UPDATE call_participants
		SET joined_at = ?, left_at = NULL
		WHERE id = ?
	`
	_, err := s.db.ExecContext(ctx, query, joinedAt, participantID)
	if err != nil {
		return fmt.Errorf("rejoin participant: %w", err)
	}
	return nil
}

// LeaveParticipant sets LeftAt on the user's current row.
func (s *SQLiteStore) LeaveParticipant(ctx context.Context, sessionID string, userID int64, leftAt time.Time) error {
	query := `
		UPDATE call_participants
		SET left_at = ?
		WHERE left_at IS NULL
		  AND id = (
			SELECT id FROM call_participants
			WHERE session_id = ? AND user_id = ?
			ORDER BY id DESC
			LIMIT 1
		  )
	`
	_, err := s.db.ExecContext(ctx, query, leftAt, sessionID, userID)
	if err != nil {
		return fmt.Errorf("leave participant: %w", err)
	}
	return nil
}

// CountPresent counts distinct users whose latest row is still current.
func (s *SQLiteStore) CountPresent(ctx context.Context, sessionID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM call_participants p
		WHERE p.session_id = ?
		  AND p.left_at IS NULL
		  AND p.id = (
			SELECT MAX(p2.id) FROM call_participants p2
			WHERE p2.session_id = p.session_id AND p2.user_id = p.user_id
		  )
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count present participants: %w", err)
	}
	return count, nil
}

// ListParticipants lists all participant rows for a session.
func (s *SQLiteStore) ListParticipants(ctx context.Context, sessionID string) ([]*store.CallParticipant, error) {
	query := `
		SELECT id, session_id, user_id, joined_at, left_at
		FROM call_participants
		WHERE session_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []*store.CallParticipant
	for rows.Next() {
		var p store.CallParticipant
		var leftAt sql.NullTime

		if err := rows.Scan(&p.ID, &p.SessionID, &p.UserID, &p.JoinedAt, &leftAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}

		if leftAt.Valid {
			p.LeftAt = &leftAt.Time
		}
		participants = append(participants, &p)
	}

	return participants, rows.Err()
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
