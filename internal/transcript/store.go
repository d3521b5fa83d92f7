package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"portfoliochat/internal/models"
	"portfoliochat/internal/storage"
)

const (
	DefaultHistoryLimit = 50
	DefaultRecentLimit  = 10
)

var (
	ErrNotFound       = errors.New("conversation not found")
	ErrInvalidRole    = errors.New("invalid message role")
	ErrEmptyContent   = errors.New("content cannot be empty")
	ErrEmptySessionID = errors.New("session_id is required")
)

// Publisher is told about every committed change to a conversation.
type Publisher interface {
	Publish(ctx context.Context, sessionID string) error
}

// Store is the transcript adapter over the SQL database. It owns both
// conversations and their messages; messages are never updated or deleted.
type Store struct {
	db        *sql.DB
	dialect   string
	publisher Publisher
}

// NewStore builds a store for the given dialect. publisher may be nil.
func NewStore(db *sql.DB, dialect string, publisher Publisher) (*Store, error) {
	d, err := storage.Normalize(dialect)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d, publisher: publisher}, nil
}

// AppendMessage writes a message with a server-assigned timestamp and upserts the
// conversation's last_updated and preview in the same transaction. An admin
// message also clears ai_active in that transaction.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role models.Role, content string) (*models.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC().Truncate(time.Microsecond)
	var prev time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID,
	).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return nil, fmt.Errorf("latest message time: %w", err)
	case !now.After(prev):
		now = prev.UTC().Add(time.Microsecond)
	}

	preview := models.Preview(content)
	if _, err = tx.ExecContext(ctx, s.upsertChatSQL(), sessionID, preview, now, now); err != nil {
		return nil, fmt.Errorf("upsert chat: %w", err)
	}
	if role == models.RoleAdmin {
		// the admin holds the conversation until the AI is switched back on
		if _, err = tx.ExecContext(ctx, `UPDATE chats SET ai_active = ? WHERE session_id = ?`, false, sessionID); err != nil {
			return nil, fmt.Errorf("hand over chat: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}

	s.publish(ctx, sessionID)
	return &models.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: now,
	}, nil
}

func (s *Store) upsertChatSQL() string {
	if s.dialect == storage.DialectMySQL {
		return `INSERT INTO chats (session_id, preview, ai_active, created_at, last_updated)
			VALUES (?, ?, 1, ?, ?)
			ON DUPLICATE KEY UPDATE preview = VALUES(preview), last_updated = VALUES(last_updated)`
	}
	return `INSERT INTO chats (session_id, preview, ai_active, created_at, last_updated)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET preview = excluded.preview, last_updated = excluded.last_updated`
}

// LoadHistory returns the most recent limit messages, oldest first. Read
// failures are logged and yield an empty transcript.
func (s *Store) LoadHistory(ctx context.Context, sessionID string, limit int) []*models.Message {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	messages, err := s.loadHistory(ctx, sessionID, limit)
	if err != nil {
		log.Printf("transcript: load history %s: %v", sessionID, err)
		return []*models.Message{}
	}
	return messages
}

func (s *Store) loadHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0, limit)
	for rows.Next() {
		m := new(models.Message)
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		m.Timestamp = m.Timestamp.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest first from the query; flip to chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// LastMessage returns the newest message of the conversation or ErrNotFound.
func (s *Store) LastMessage(ctx context.Context, sessionID string) (*models.Message, error) {
	messages, err := s.loadHistory(ctx, sessionID, 1)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ErrNotFound
	}
	return messages[0], nil
}

// GetConversationMeta returns the conversation row or ErrNotFound.
func (s *Store) GetConversationMeta(ctx context.Context, sessionID string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, preview, ai_active, created_at, last_updated FROM chats WHERE session_id = ?`,
		sessionID,
	).Scan(&c.SessionID, &c.Preview, &c.AIActive, &c.CreatedAt, &c.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.LastUpdated = c.LastUpdated.UTC()
	return &c, nil
}

// SetAIActive flips the handoff flag. It appends nothing.
func (s *Store) SetAIActive(ctx context.Context, sessionID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET ai_active = ? WHERE session_id = ?`, active, sessionID)
	if err != nil {
		return fmt.Errorf("update ai_active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("chat rows affected: %w", err)
	}
	if affected == 0 {
		// MySQL reports 0 when the value is unchanged
		if _, err := s.GetConversationMeta(ctx, sessionID); err != nil {
			return err
		}
	}
	s.publish(ctx, sessionID)
	return nil
}

// ListRecentConversations returns conversations by last_updated, newest first.
func (s *Store) ListRecentConversations(ctx context.Context, maxN int) ([]models.Conversation, error) {
	if maxN <= 0 {
		maxN = DefaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, preview, ai_active, created_at, last_updated FROM chats
		 ORDER BY last_updated DESC LIMIT ?`,
		maxN,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0, maxN)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.SessionID, &c.Preview, &c.AIActive, &c.CreatedAt, &c.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.LastUpdated = c.LastUpdated.UTC()
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// MarkContactNotified records that the admin was paged for this conversation.
// It reports true only for the first caller.
func (s *Store) MarkContactNotified(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET contact_notified = 1 WHERE session_id = ? AND contact_notified = 0`,
		sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("mark contact notified: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("chat rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *Store) publish(ctx context.Context, sessionID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, sessionID); err != nil {
		log.Printf("transcript: publish change %s: %v", sessionID, err)
	}
}
