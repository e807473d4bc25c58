package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/storage"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS delayed_message (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id   TEXT    NOT NULL UNIQUE,
	dedup_key    TEXT    NOT NULL DEFAULT '',
	content      TEXT    NOT NULL,
	topic        TEXT    NOT NULL,
	created_at   INTEGER NOT NULL,
	due_at       INTEGER NOT NULL,
	processed_at INTEGER,
	status       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_delayed_message_topic_status ON delayed_message(topic, status, due_at);
CREATE INDEX IF NOT EXISTS idx_delayed_message_dedup ON delayed_message(topic, dedup_key);
`

const selectColumns = `SELECT id, message_id, dedup_key, content, topic, created_at, due_at, processed_at, status FROM delayed_message`

// MessageRepository implements storage.MessageRepository on an embedded SQLite file
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository opens (creating if needed) the database at path and migrates the schema
func NewMessageRepository(path string) (*MessageRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer avoids SQLITE_BUSY under concurrent CAS updates
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &MessageRepository{db: db}, nil
}

// Save inserts a new message
func (r *MessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO delayed_message (message_id, dedup_key, content, topic, created_at, due_at, processed_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.DedupKey, msg.Content, msg.Topic,
		msg.CreatedAt.UnixMilli(), msg.DueAt.UnixMilli(), nullableMillis(msg.ProcessedAt), string(msg.Status),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: message_id %s", domain.ErrDuplicate, msg.MessageID)
		}
		return fmt.Errorf("%w: failed to insert message: %w", domain.ErrDatabaseError, err)
	}

	id, err := res.LastInsertId()
	if err == nil {
		msg.ID = strconv.FormatInt(id, 10)
	}
	return nil
}

// FindByMessageID retrieves a message by its message ID
func (r *MessageRepository) FindByMessageID(ctx context.Context, messageID string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE message_id = ?`, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("%w: failed to get message: %w", domain.ErrDatabaseError, err)
	}
	return msg, nil
}

// FindByDedupKey returns the topic's messages carrying dedupKey
func (r *MessageRepository) FindByDedupKey(ctx context.Context, dedupKey, topic string) ([]*domain.Message, error) {
	return r.query(ctx, selectColumns+` WHERE dedup_key = ? AND topic = ? ORDER BY due_at`, dedupKey, topic)
}

// UpdateStatus applies a compare-and-set status transition
func (r *MessageRepository) UpdateStatus(ctx context.Context, messageID string, to domain.Status, from ...domain.Status) (bool, error) {
	if !to.Valid() {
		return false, domain.ErrValidationFailed
	}

	q := `UPDATE delayed_message SET status = ?`
	args := []any{string(to)}
	if to == domain.StatusDone {
		q += `, processed_at = ?`
		args = append(args, time.Now().UnixMilli())
	}
	q += ` WHERE message_id = ?`
	args = append(args, messageID)
	if len(from) > 0 {
		clause, statusArgs := inClause(from)
		q += ` AND status IN ` + clause
		args = append(args, statusArgs...)
	}

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("%w: failed to update message status: %w", domain.ErrDatabaseError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: failed to update message status: %w", domain.ErrDatabaseError, err)
	}
	return n > 0, nil
}

// FindPending returns the topic's messages in the given statuses
func (r *MessageRepository) FindPending(ctx context.Context, topic string, statuses ...domain.Status) ([]*domain.Message, error) {
	clause, statusArgs := inClause(storage.PendingStatuses(statuses))
	args := append([]any{topic}, statusArgs...)
	return r.query(ctx, selectColumns+` WHERE topic = ? AND status IN `+clause+` ORDER BY due_at`, args...)
}

// FindOverdue returns the topic's PENDING messages due at or before asOf
func (r *MessageRepository) FindOverdue(ctx context.Context, topic string, asOf time.Time) ([]*domain.Message, error) {
	return r.query(ctx, selectColumns+` WHERE topic = ? AND status = ? AND due_at <= ? ORDER BY due_at`,
		topic, string(domain.StatusPending), asOf.UnixMilli())
}

// DeleteByMessageID removes a message
func (r *MessageRepository) DeleteByMessageID(ctx context.Context, messageID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM delayed_message WHERE message_id = ?`, messageID)
	if err != nil {
		return false, fmt.Errorf("%w: failed to delete message: %w", domain.ErrDatabaseError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: failed to delete message: %w", domain.ErrDatabaseError, err)
	}
	return n > 0, nil
}

// CountByStatus counts the topic's messages in a status
func (r *MessageRepository) CountByStatus(ctx context.Context, topic string, status domain.Status) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delayed_message WHERE topic = ? AND status = ?`, topic, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count messages: %w", domain.ErrDatabaseError, err)
	}
	return n, nil
}

// Close closes the database
func (r *MessageRepository) Close() error {
	return r.db.Close()
}

func (r *MessageRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query messages: %w", domain.ErrDatabaseError, err)
	}
	defer rows.Close()

	result := make([]*domain.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan message: %w", domain.ErrDatabaseError, err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read messages: %w", domain.ErrDatabaseError, err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*domain.Message, error) {
	var (
		id          int64
		msg         domain.Message
		createdAt   int64
		dueAt       int64
		processedAt sql.NullInt64
		status      string
	)
	if err := s.Scan(&id, &msg.MessageID, &msg.DedupKey, &msg.Content, &msg.Topic,
		&createdAt, &dueAt, &processedAt, &status); err != nil {
		return nil, err
	}

	msg.ID = strconv.FormatInt(id, 10)
	msg.CreatedAt = time.UnixMilli(createdAt)
	msg.DueAt = time.UnixMilli(dueAt)
	if processedAt.Valid {
		t := time.UnixMilli(processedAt.Int64)
		msg.ProcessedAt = &t
	}
	msg.Status = domain.Status(status)
	return &msg, nil
}

func inClause(statuses []domain.Status) (string, []any) {
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	return "(" + strings.Join(placeholders, ", ") + ")", args
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
