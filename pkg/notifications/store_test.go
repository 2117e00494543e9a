package notifications

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(), mock, db
}

var notificationCols = []string{
	"id", "tenant_id", "recipient_id", "kind", "title", "body", "read_at", "created_at",
}

func TestSend_DefaultsKind(t *testing.T) {
	store, mock, db := newStore(t)

	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs(int64(7), int64(42), "generic", "Welcome", "Hello").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))

	n := &Notification{TenantID: 7, RecipientID: 42, Title: "Welcome", Body: "Hello"}
	err := store.Send(context.Background(), db, n)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.ID)
	assert.Equal(t, "generic", n.Kind)
}

func TestSendBatch_StopsOnFirstFailure(t *testing.T) {
	store, mock, db := newStore(t)

	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs(int64(7), int64(1), "billing", "Credit applied", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), time.Now()))
	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs(int64(7), int64(2), "billing", "Credit applied", "").
		WillReturnError(sql.ErrConnDone)

	sent, err := store.SendBatch(context.Background(), db, 7, []int64{1, 2, 3}, "billing", "Credit applied", "")
	require.Error(t, err)
	assert.Nil(t, sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForRecipient_KeysetPagination(t *testing.T) {
	store, mock, db := newStore(t)

	mock.ExpectQuery(`AND id < \$3 ORDER BY id DESC LIMIT \$4`).
		WithArgs(int64(7), int64(42), int64(30), 2).
		WillReturnRows(sqlmock.NewRows(notificationCols).
			AddRow(int64(29), int64(7), int64(42), "generic", "b", "", nil, time.Now()).
			AddRow(int64(28), int64(7), int64(42), "generic", "a", "", nil, time.Now()))

	list, err := store.ListForRecipient(context.Background(), db, 7, 42, ListOptions{BeforeID: 30, Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(29), list[0].ID)
	assert.Equal(t, int64(28), list[1].ID)
}

func TestListForRecipient_UnreadOnly(t *testing.T) {
	store, mock, db := newStore(t)

	mock.ExpectQuery(`read_at IS NULL ORDER BY id DESC LIMIT \$3`).
		WithArgs(int64(7), int64(42), 50).
		WillReturnRows(sqlmock.NewRows(notificationCols))

	list, err := store.ListForRecipient(context.Background(), db, 7, 42, ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFindForRecipient_OtherRecipientInvisible(t *testing.T) {
	store, mock, db := newStore(t)

	mock.ExpectQuery("FROM notifications").
		WithArgs(int64(5), int64(7), int64(42)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.FindForRecipient(context.Background(), db, 7, 42, 5)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestMarkAsRead_Transitions(t *testing.T) {
	store, mock, db := newStore(t)

	mock.ExpectExec("UPDATE notifications").
		WithArgs(int64(5), int64(7), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkAsRead(context.Background(), db, 7, 42, 5)
	assert.NoError(t, err)
}

func TestMarkAsRead_AlreadyReadIsNoOp(t *testing.T) {
	store, mock, db := newStore(t)

	read := time.Now().Add(-time.Hour)
	mock.ExpectExec("UPDATE notifications").
		WithArgs(int64(5), int64(7), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM notifications").
		WithArgs(int64(5), int64(7), int64(42)).
		WillReturnRows(sqlmock.NewRows(notificationCols).
			AddRow(int64(5), int64(7), int64(42), "generic", "t", "", read, time.Now()))

	err := store.MarkAsRead(context.Background(), db, 7, 42, 5)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAsRead_NotFound(t *testing.T) {
	store, mock, db := newStore(t)

	mock.ExpectExec("UPDATE notifications").
		WithArgs(int64(5), int64(7), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM notifications").
		WithArgs(int64(5), int64(7), int64(42)).
		WillReturnError(sql.ErrNoRows)

	err := store.MarkAsRead(context.Background(), db, 7, 42, 5)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestMarkAllAsRead_CountsTransitioned(t *testing.T) {
	store, mock, db := newStore(t)

	mock.ExpectExec("UPDATE notifications").
		WithArgs(int64(7), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := store.MarkAllAsRead(context.Background(), db, 7, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestCountUnread(t *testing.T) {
	store, mock, db := newStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(7), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := store.CountUnread(context.Background(), db, 7, 42)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
