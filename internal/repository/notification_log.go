package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/watchdog"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const createNotificationTable = `
	CREATE TABLE IF NOT EXISTS watchdog_notifications (
		id          UUID PRIMARY KEY,
		kind        TEXT NOT NULL,
		topics      TEXT[] NOT NULL,
		text        TEXT NOT NULL,
		delivered   BOOLEAN NOT NULL,
		error       TEXT,
		created_at  TIMESTAMPTZ NOT NULL
	)`

// NotificationLogRepository watchdog 通知审计表
type NotificationLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ watchdog.Recorder = (*NotificationLogRepository)(nil)

// NewNotificationLogRepository 创建通知审计仓库
func NewNotificationLogRepository(db *sql.DB, logger *zap.Logger) *NotificationLogRepository {
	return &NotificationLogRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 创建审计表（已存在则跳过）
func (r *NotificationLogRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createNotificationTable); err != nil {
		return fmt.Errorf("failed to create watchdog_notifications: %w", err)
	}
	return nil
}

// Record 写入一条通知记录
func (r *NotificationLogRepository) Record(ctx context.Context, n watchdog.Notification) error {
	if n.ID == "" {
		return fmt.Errorf("notification id is required")
	}

	var errText sql.NullString
	if n.Error != "" {
		errText = sql.NullString{String: n.Error, Valid: true}
	}

	query := `
		INSERT INTO watchdog_notifications (id, kind, topics, text, delivered, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		string(n.Kind),
		pq.Array(n.Topics),
		n.Text,
		n.Delivered,
		errText,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// NotificationEntry 审计表中的一行
type NotificationEntry struct {
	ID        string
	Kind      watchdog.Kind
	Topics    []string
	Text      string
	Delivered bool
	Error     string
	CreatedAt time.Time
}

// ListRecent 按时间倒序返回最近的通知记录，limit <= 0 时默认 50
func (r *NotificationLogRepository) ListRecent(ctx context.Context, limit int) ([]NotificationEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, kind, topics, text, delivered, error, created_at
		FROM watchdog_notifications
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var entries []NotificationEntry
	for rows.Next() {
		var (
			entry   NotificationEntry
			kind    string
			topics  pq.StringArray
			errText sql.NullString
		)
		if err := rows.Scan(&entry.ID, &kind, &topics, &entry.Text, &entry.Delivered, &errText, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		entry.Kind = watchdog.Kind(kind)
		entry.Topics = []string(topics)
		entry.Error = errText.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return entries, nil
}
