package sessions

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/arcway/toolops/pkg/models"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*CockroachStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := &CockroachStore{db: db}
	require.NoError(t, store.prepareStatements())
	return store, mock
}

func TestCockroachStore_Create(t *testing.T) {
	store, mock := newMockStore(t)
	session := &models.Session{
		ID:        "sess-1",
		AgentID:   "agent-1",
		Key:       "agent-1:user-1",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(session.ID, session.AgentID, session.Key, session.Title, []byte("null"), session.CreatedAt, session.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Create(context.Background(), session))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_Create_MissingID(t *testing.T) {
	store, _ := newMockStore(t)
	err := store.Create(context.Background(), &models.Session{})
	require.Error(t, err)
}

func TestCockroachStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "agent_id", "key", "title", "metadata", "created_at", "updated_at"}).
		AddRow("sess-1", "agent-1", "agent-1:user-1", "", []byte("{}"), now, now)
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").WithArgs("sess-1").WillReturnRows(rows)

	session, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "agent-1", session.AgentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_Get_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestCockroachStore_Update(t *testing.T) {
	store, mock := newMockStore(t)
	session := &models.Session{ID: "sess-1", Title: "updated"}

	mock.ExpectExec("UPDATE sessions SET title").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Update(context.Background(), session))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_Update_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	session := &models.Session{ID: "missing"}

	mock.ExpectExec("UPDATE sessions SET title").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), session)
	require.Error(t, err)
}

func TestCockroachStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM sessions").WithArgs("sess-1").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "sess-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_Delete_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM sessions").WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "missing")
	require.Error(t, err)
}

func TestCockroachStore_AppendMessage(t *testing.T) {
	store, mock := newMockStore(t)
	msg := &models.Message{
		ID:        "msg-1",
		SessionID: "sess-1",
		Role:      models.RoleUser,
		Content:   "hello",
		CreatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sessions SET updated_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.AppendMessage(context.Background(), "sess-1", msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_AppendMessage_MissingID(t *testing.T) {
	store, _ := newMockStore(t)
	err := store.AppendMessage(context.Background(), "sess-1", &models.Message{})
	require.Error(t, err)
}

func TestCockroachStore_GetHistory(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "session_id", "role", "content", "interaction_type", "metadata", "created_at"}).
		AddRow("msg-2", "sess-1", "assistant", "second", "chat", []byte("null"), now).
		AddRow("msg-1", "sess-1", "user", "first", "chat", []byte("null"), now.Add(-time.Minute))

	mock.ExpectQuery("SELECT (.+) FROM messages").WithArgs("sess-1", 10).WillReturnRows(rows)

	history, err := store.GetHistory(context.Background(), "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "first", history[0].Content)
	require.Equal(t, "second", history[1].Content)
}

func TestCockroachStore_Close(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectClose()
	require.NoError(t, store.Close())
}

func TestCockroachConfig_Defaults(t *testing.T) {
	cfg := DefaultCockroachConfig()
	require.Equal(t, "toolops", cfg.Database)
	require.Equal(t, 26257, cfg.Port)
}

func TestNewCockroachStoreFromDSN_EmptyDSN(t *testing.T) {
	_, err := NewCockroachStoreFromDSN("", nil)
	require.Error(t, err)
}
