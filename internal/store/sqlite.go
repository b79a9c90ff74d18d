// ABOUTME: SQLite implementation of MessageStore using modernc.org/sqlite
// ABOUTME: Provides chat message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements MessageStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database only lives as long as its connection
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_messages (
			message_id   TEXT PRIMARY KEY,
			room         TEXT NOT NULL,
			sender_role  TEXT NOT NULL,
			agent_id     TEXT,
			content      TEXT NOT NULL,
			is_read      INTEGER NOT NULL DEFAULT 0,
			client_nonce TEXT,
			created_at   TEXT NOT NULL,

			CHECK (sender_role IN ('customer', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_room
			ON chat_messages(room, message_id);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_messages_nonce
			ON chat_messages(room, client_nonce) WHERE client_nonce IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

const messageColumns = `message_id, room, sender_role, agent_id, content, is_read, client_nonce, created_at`

// InsertMessage persists a message. Returns ErrDuplicateMessage when the
// room already holds a message with the same client nonce.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *ChatMessage) (*ChatMessage, error) {
	m, err := prepareInsert(msg)
	if err != nil {
		return nil, err
	}

	var nonce *string
	if m.ClientNonce != "" {
		nonce = &m.ClientNonce
	}

	query := `INSERT INTO chat_messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		m.ID,
		m.Room,
		string(m.SenderRole),
		m.AgentID,
		m.Content,
		boolToInt(m.Read),
		nonce,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrDuplicateMessage
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved chat message",
		"message_id", m.ID,
		"room", m.Room,
		"sender_role", m.SenderRole,
	)
	return m, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// ListMessages returns the most recent messages for a room, ordered
// chronologically (ASC). Uses a DESC subquery to pick the N most recent rows,
// then re-orders ASC so callers receive messages in conversation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, room string, limit int) ([]*ChatMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM (
			SELECT ` + messageColumns + `
			FROM chat_messages
			WHERE room = ?
			ORDER BY message_id DESC
			LIMIT ?
		)
		ORDER BY message_id ASC
	`
	return s.queryMessages(ctx, query, room, clampLimit(limit))
}

// GetMessage retrieves a single message by ID
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*ChatMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE message_id = ?`
	msgs, err := s.queryMessages(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return msgs[0], nil
}

// GetMessageByNonce finds the message written with the given client nonce
func (s *SQLiteStore) GetMessageByNonce(ctx context.Context, room, nonce string) (*ChatMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE room = ? AND client_nonce = ?`
	msgs, err := s.queryMessages(ctx, query, room, nonce)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return msgs[0], nil
}

// UpdateMessages applies patch to every message selected by filter.
func (s *SQLiteStore) UpdateMessages(ctx context.Context, filter MessageFilter, patch MessagePatch) ([]*ChatMessage, error) {
	if filter.Room == "" {
		return nil, fmt.Errorf("%w: room is required", ErrInvalidMessage)
	}
	if patch.Read == nil {
		return nil, nil
	}

	var args []any
	query := `UPDATE chat_messages SET is_read = ? WHERE room = ?`
	args = append(args, boolToInt(*patch.Read), filter.Room)

	if filter.SenderRole != "" {
		query += ` AND sender_role = ?`
		args = append(args, string(filter.SenderRole))
	}
	if filter.UnreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` RETURNING ` + messageColumns

	updated, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updating messages: %w", err)
	}

	sort.Slice(updated, func(i, j int) bool { return updated[i].ID < updated[j].ID })

	s.logger.Debug("updated chat messages",
		"room", filter.Room,
		"sender_role", filter.SenderRole,
		"count", len(updated),
	)
	return updated, nil
}

// queryMessages is a helper that executes a query and returns messages
func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*ChatMessage
	for rows.Next() {
		msg := &ChatMessage{}
		var role, createdAtStr string
		var read int
		var nonce sql.NullString

		if err := rows.Scan(
			&msg.ID,
			&msg.Room,
			&role,
			&msg.AgentID,
			&msg.Content,
			&read,
			&nonce,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.SenderRole = Role(role)
		msg.Read = read != 0
		msg.ClientNonce = nonce.String
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		msgs = append(msgs, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return msgs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
