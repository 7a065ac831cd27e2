package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/watchdog"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockNotificationDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *NotificationLogRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewNotificationLogRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockNotificationDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS watchdog_notifications`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_Success(t *testing.T) {
	db, mock, repo := setupMockNotificationDB(t)
	defer db.Close()

	n := watchdog.Notification{
		ID:        uuid.New().String(),
		Kind:      watchdog.KindAlert,
		Topics:    []string{"DL303/TC", "current"},
		Text:      "Alert topic:\nDL303/TC            \t1\ncurrent             \t1",
		CreatedAt: time.Now(),
		Delivered: true,
	}

	mock.ExpectExec(`INSERT INTO watchdog_notifications`).
		WithArgs(n.ID, "alert", pq.Array(n.Topics), n.Text, true, nil, n.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Record(context.Background(), n))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_FailedDeliveryStoresError(t *testing.T) {
	db, mock, repo := setupMockNotificationDB(t)
	defer db.Close()

	n := watchdog.Notification{
		ID:        uuid.New().String(),
		Kind:      watchdog.KindUnknown,
		Topics:    []string{"camera/power"},
		Text:      "Other topic:\ncamera/power",
		CreatedAt: time.Now(),
		Error:     "notification failed: sendMessage: status 400",
	}

	mock.ExpectExec(`INSERT INTO watchdog_notifications`).
		WithArgs(n.ID, "unknown", pq.Array(n.Topics), n.Text, false, n.Error, n.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Record(context.Background(), n))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_MissingID(t *testing.T) {
	db, _, repo := setupMockNotificationDB(t)
	defer db.Close()

	err := repo.Record(context.Background(), watchdog.Notification{Kind: watchdog.KindAlert})
	assert.Error(t, err)
}

func TestRecord_DBError(t *testing.T) {
	db, mock, repo := setupMockNotificationDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO watchdog_notifications`).
		WillReturnError(errors.New("connection refused"))

	err := repo.Record(context.Background(), watchdog.Notification{ID: uuid.New().String()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecent(t *testing.T) {
	db, mock, repo := setupMockNotificationDB(t)
	defer db.Close()

	id1, id2 := uuid.New().String(), uuid.New().String()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "kind", "topics", "text", "delivered", "error", "created_at"}).
		AddRow(id1, "recovered", "{current}", "Fixed topic:\ncurrent", true, nil, now).
		AddRow(id2, "alert", "{DL303/TC,waterTank}", "Alert topic:", false, "timeout", now.Add(-20*time.Second))

	mock.ExpectQuery(`SELECT id, kind, topics`).
		WithArgs(50).
		WillReturnRows(rows)

	entries, err := repo.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, watchdog.KindRecovered, entries[0].Kind)
	assert.Equal(t, []string{"current"}, entries[0].Topics)
	assert.Empty(t, entries[0].Error)
	assert.Equal(t, []string{"DL303/TC", "waterTank"}, entries[1].Topics)
	assert.Equal(t, "timeout", entries[1].Error)
	require.NoError(t, mock.ExpectationsWereMet())
}
