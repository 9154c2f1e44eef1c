package toolops

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/arcway/toolops/pkg/models"
)

func newMockCockroachStore(t *testing.T) (*CockroachStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &CockroachStore{db: db}, mock
}

func TestCockroachStore_UpdateOperation_GuardHolds(t *testing.T) {
	store, mock := newMockCockroachStore(t)
	op := &models.ToolOperation{
		OperationID: "op-1",
		State:       models.StateExecuting,
		Step:        "executing",
		UpdatedAt:   time.Now(),
	}
	expected := models.StateCollecting

	mock.ExpectExec("UPDATE toolops_operations SET state").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateOperation(context.Background(), op, &expected)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_UpdateOperation_GuardFails(t *testing.T) {
	store, mock := newMockCockroachStore(t)
	op := &models.ToolOperation{
		OperationID: "op-1",
		State:       models.StateExecuting,
		UpdatedAt:   time.Now(),
	}
	expected := models.StateCollecting

	mock.ExpectExec("UPDATE toolops_operations SET state").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateOperation(context.Background(), op, &expected)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindIllegalStateTransition, kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_UpdateOperation_NoGuard(t *testing.T) {
	store, mock := newMockCockroachStore(t)
	op := &models.ToolOperation{OperationID: "op-1", State: models.StateCompleted, UpdatedAt: time.Now()}

	mock.ExpectExec("UPDATE toolops_operations SET state").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateOperation(context.Background(), op, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_ClaimItem_Wins(t *testing.T) {
	store, mock := newMockCockroachStore(t)
	claimedUntil := time.Now().Add(time.Minute)

	mock.ExpectExec("INSERT INTO toolops_claims").
		WithArgs("item-1", claimedUntil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	claimed, err := store.ClaimItem(context.Background(), "item-1", claimedUntil)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_ClaimItem_AlreadyHeld(t *testing.T) {
	store, mock := newMockCockroachStore(t)
	claimedUntil := time.Now().Add(time.Minute)

	mock.ExpectExec("INSERT INTO toolops_claims").
		WithArgs("item-1", claimedUntil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := store.ClaimItem(context.Background(), "item-1", claimedUntil)
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestCockroachStore_GetOperationByID_NotFound(t *testing.T) {
	store, mock := newMockCockroachStore(t)

	mock.ExpectQuery("SELECT (.+) FROM toolops_operations WHERE operation_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetOperationByID(context.Background(), "missing")
	require.Error(t, err)
}

func TestCockroachStore_GetItem(t *testing.T) {
	store, mock := newMockCockroachStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"item_id", "operation_id", "session_id", "content_type", "schedule_id", "state", "status",
		"content", "raw_content", "scheduled_time", "executed_time", "posted_time", "retry_count",
		"last_error", "api_response", "created_at", "updated_at",
	}).AddRow("item-1", "op-1", "sess-1", "tweet", "sched-1", models.StateExecuting, models.StatusScheduled,
		[]byte(`{"text":"hi"}`), "hi", now, nil, nil, 0, "", []byte("null"), now, now)

	mock.ExpectQuery("SELECT (.+) FROM toolops_items WHERE item_id").WithArgs("item-1").WillReturnRows(rows)

	item, err := store.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	require.Equal(t, "sched-1", item.ScheduleID)
	require.Equal(t, "hi", item.Content["text"])
}

func TestCockroachStore_CreateSchedule(t *testing.T) {
	store, mock := newMockCockroachStore(t)
	now := time.Now()
	sched := &models.Schedule{
		ScheduleID:  "sched-1",
		OperationID: "op-1",
		SessionID:   "sess-1",
		ContentType: "tweet",
		State:       models.ScheduleStatePending,
		Type:        models.ScheduleOneTime,
		StartTime:   &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO toolops_schedules").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.CreateSchedule(context.Background(), sched))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_ReclaimStaleItems(t *testing.T) {
	store, mock := newMockCockroachStore(t)

	mock.ExpectExec("DELETE FROM toolops_claims WHERE claimed_until").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.ReclaimStaleItems(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestCockroachConfig_Defaults(t *testing.T) {
	cfg := DefaultCockroachConfig()
	require.Equal(t, "toolops", cfg.Database)
	require.Equal(t, 26257, cfg.Port)
}
