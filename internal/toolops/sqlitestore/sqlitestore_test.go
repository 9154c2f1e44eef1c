package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway/toolops/internal/toolops"
	"github.com/arcway/toolops/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{Path: filepath.Join(t.TempDir(), "toolops.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedOperation(t *testing.T, store *Store, sessionID string, state models.OperationState) *models.ToolOperation {
	t.Helper()
	now := time.Now().UTC()
	op := &models.ToolOperation{
		OperationID: "op-" + sessionID,
		SessionID:   sessionID,
		ToolType:    "tweet",
		ContentType: "tweet",
		State:       state,
		Step:        "created",
		Input:       models.OperationInput{Command: "draft a tweet"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateOperation(context.Background(), op))
	return op
}

func TestSqliteStore_CreateAndGetOperationByID(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateCollecting)

	got, err := store.GetOperationByID(context.Background(), op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, op.ToolType, got.ToolType)
	assert.Equal(t, models.StateCollecting, got.State)
	assert.Equal(t, "draft a tweet", got.Input.Command)
}

func TestSqliteStore_GetOperationByID_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOperationByID(context.Background(), "missing")
	require.Error(t, err)
	kind, ok := toolops.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, toolops.KindStorageUnavailable, kind)
}

func TestSqliteStore_GetOperationBySession_ExcludesTerminalStates(t *testing.T) {
	store := newTestStore(t)
	seedOperation(t, store, "session-1", models.StateCompleted)

	got, err := store.GetOperationBySession(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSqliteStore_UpdateOperation_GuardHolds(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateCollecting)

	op.State = models.StateApproving
	op.UpdatedAt = time.Now().UTC()
	expected := models.StateCollecting
	require.NoError(t, store.UpdateOperation(context.Background(), op, &expected))

	got, err := store.GetOperationByID(context.Background(), op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, models.StateApproving, got.State)
}

func TestSqliteStore_UpdateOperation_GuardFails(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateCollecting)

	op.State = models.StateApproving
	wrongExpectation := models.StateExecuting
	err := store.UpdateOperation(context.Background(), op, &wrongExpectation)
	require.Error(t, err)
	kind, ok := toolops.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, toolops.KindIllegalStateTransition, kind)
}

func TestSqliteStore_InsertAndGetItems(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateCollecting)
	now := time.Now().UTC()

	items := []*models.ToolItem{
		{
			ItemID:      "item-1",
			OperationID: op.OperationID,
			SessionID:   op.SessionID,
			ContentType: "tweet",
			State:       models.StateApproving,
			Status:      models.StatusPending,
			Content:     map[string]any{"text": "draft one"},
			RawContent:  "draft one",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ItemID:      "item-2",
			OperationID: op.OperationID,
			SessionID:   op.SessionID,
			ContentType: "tweet",
			State:       models.StateApproving,
			Status:      models.StatusPending,
			Content:     map[string]any{"text": "draft two"},
			RawContent:  "draft two",
			CreatedAt:   now.Add(time.Second),
			UpdatedAt:   now.Add(time.Second),
		},
	}
	require.NoError(t, store.InsertItems(context.Background(), items))

	got, err := store.GetItems(context.Background(), op.OperationID, toolops.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "draft one", got[0].Content["text"])

	one, err := store.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, "draft one", one.RawContent)
}

func TestSqliteStore_GetItems_FiltersByStateAndStatus(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateCollecting)
	now := time.Now().UTC()

	items := []*models.ToolItem{
		{ItemID: "item-1", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet",
			State: models.StateExecuting, Status: models.StatusApproved, CreatedAt: now, UpdatedAt: now},
		{ItemID: "item-2", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet",
			State: models.StateCompleted, Status: models.StatusRejected, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, store.InsertItems(context.Background(), items))

	state := models.StateExecuting
	status := models.StatusApproved
	got, err := store.GetItems(context.Background(), op.OperationID, toolops.ItemFilter{State: &state, Status: &status})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "item-1", got[0].ItemID)
}

func TestSqliteStore_UpdateItemsState(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateCollecting)
	now := time.Now().UTC()

	items := []*models.ToolItem{
		{ItemID: "item-1", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet",
			State: models.StateApproving, Status: models.StatusPending, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, store.InsertItems(context.Background(), items))

	require.NoError(t, store.UpdateItemsState(context.Background(), []string{"item-1"}, models.StateExecuting, models.StatusApproved))

	got, err := store.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateExecuting, got.State)
	assert.Equal(t, models.StatusApproved, got.Status)
}

func TestSqliteStore_UpdateItemExecution(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateCollecting)
	now := time.Now().UTC()

	item := &models.ToolItem{
		ItemID: "item-1", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet",
		State: models.StateExecuting, Status: models.StatusScheduled, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertItems(context.Background(), []*models.ToolItem{item}))

	item.State = models.StateCompleted
	item.Status = models.StatusExecuted
	executed := time.Now().UTC()
	item.ExecutedTime = &executed
	item.APIResponse = map[string]any{"posted": true}
	item.UpdatedAt = executed
	require.NoError(t, store.UpdateItemExecution(context.Background(), item))

	got, err := store.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, got.Status)
	require.NotNil(t, got.ExecutedTime)
	assert.Equal(t, true, got.APIResponse["posted"])
}

func TestSqliteStore_CreateAndGetSchedule(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateExecuting)
	now := time.Now().UTC()

	sched := &models.Schedule{
		ScheduleID:  "sched-1",
		OperationID: op.OperationID,
		SessionID:   op.SessionID,
		ContentType: "tweet",
		State:       models.ScheduleStatePending,
		Type:        models.ScheduleMultiple,
		StartTime:   &now,
		Interval:    30 * time.Second,
		TotalItems:  3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateSchedule(context.Background(), sched))

	got, err := store.GetSchedule(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleMultiple, got.Type)
	assert.Equal(t, 30*time.Second, got.Interval)
	assert.Equal(t, 3, got.TotalItems)
}

func TestSqliteStore_UpdateSchedule(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateExecuting)
	now := time.Now().UTC()

	sched := &models.Schedule{
		ScheduleID: "sched-1", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet",
		State: models.ScheduleStatePending, Type: models.ScheduleOneTime, StartTime: &now,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateSchedule(context.Background(), sched))

	sched.State = models.ScheduleStateActive
	sched.ApprovedItems = []string{"item-1", "item-2"}
	sched.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.UpdateSchedule(context.Background(), sched))

	got, err := store.GetSchedule(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStateActive, got.State)
	assert.Equal(t, []string{"item-1", "item-2"}, got.ApprovedItems)
}

func TestSqliteStore_UpdateSchedule_NotFound(t *testing.T) {
	store := newTestStore(t)
	sched := &models.Schedule{ScheduleID: "missing", State: models.ScheduleStateActive, UpdatedAt: time.Now().UTC()}
	err := store.UpdateSchedule(context.Background(), sched)
	require.Error(t, err)
}

func TestSqliteStore_ListDueItems(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateExecuting)
	now := time.Now().UTC()

	sched := &models.Schedule{
		ScheduleID: "sched-1", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet",
		State: models.ScheduleStateActive, Type: models.ScheduleOneTime, StartTime: &now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateSchedule(context.Background(), sched))

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	items := []*models.ToolItem{
		{ItemID: "due-1", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet", ScheduleID: "sched-1",
			State: models.StateExecuting, Status: models.StatusScheduled, ScheduledTime: &past, CreatedAt: now, UpdatedAt: now},
		{ItemID: "not-due-1", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet", ScheduleID: "sched-1",
			State: models.StateExecuting, Status: models.StatusScheduled, ScheduledTime: &future, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, store.InsertItems(context.Background(), items))

	due, err := store.ListDueItems(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due-1", due[0].ItemID)
}

func TestSqliteStore_ListActiveMonitors(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateExecuting)
	now := time.Now().UTC()
	expiry := now.Add(time.Hour)

	active := &models.Schedule{
		ScheduleID: "sched-monitor", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "intent",
		State: models.ScheduleStateActive, Type: models.ScheduleMonitoring, CheckInterval: time.Second,
		ExpirationTimestamp: &expiry, Condition: &models.ConditionDescriptor{Asset: "NEAR", Operator: ">=", Threshold: 3},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateSchedule(context.Background(), active))

	completed := &models.Schedule{
		ScheduleID: "sched-done", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "intent",
		State: models.ScheduleStateCompleted, Type: models.ScheduleMonitoring, CheckInterval: time.Second,
		ExpirationTimestamp: &expiry, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateSchedule(context.Background(), completed))

	monitors, err := store.ListActiveMonitors(context.Background())
	require.NoError(t, err)
	require.Len(t, monitors, 1)
	assert.Equal(t, "sched-monitor", monitors[0].ScheduleID)
	require.NotNil(t, monitors[0].Condition)
	assert.Equal(t, "NEAR", monitors[0].Condition.Asset)
}

func TestSqliteStore_ClaimItem_WinsThenBlocksUntilExpiry(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateExecuting)
	now := time.Now().UTC()
	item := &models.ToolItem{ItemID: "item-1", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet",
		State: models.StateExecuting, Status: models.StatusScheduled, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertItems(context.Background(), []*models.ToolItem{item}))

	claimed, err := store.ClaimItem(context.Background(), "item-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, claimed)

	stillHeld, err := store.ClaimItem(context.Background(), "item-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, stillHeld)
}

func TestSqliteStore_ClaimItem_StaleClaimIsReclaimable(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateExecuting)
	now := time.Now().UTC()
	item := &models.ToolItem{ItemID: "item-1", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet",
		State: models.StateExecuting, Status: models.StatusScheduled, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertItems(context.Background(), []*models.ToolItem{item}))

	claimed, err := store.ClaimItem(context.Background(), "item-1", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)

	reclaimed, err := store.ClaimItem(context.Background(), "item-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, reclaimed, "a claim whose claimed_until has already passed must not block a new claim")
}

func TestSqliteStore_ReclaimStaleItems(t *testing.T) {
	store := newTestStore(t)
	op := seedOperation(t, store, "session-1", models.StateExecuting)
	now := time.Now().UTC()
	items := []*models.ToolItem{
		{ItemID: "item-1", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet",
			State: models.StateExecuting, Status: models.StatusScheduled, CreatedAt: now, UpdatedAt: now},
		{ItemID: "item-2", OperationID: op.OperationID, SessionID: op.SessionID, ContentType: "tweet",
			State: models.StateExecuting, Status: models.StatusScheduled, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, store.InsertItems(context.Background(), items))

	_, err := store.ClaimItem(context.Background(), "item-1", now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = store.ClaimItem(context.Background(), "item-2", now.Add(time.Hour))
	require.NoError(t, err)

	n, err := store.ReclaimStaleItems(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSqliteStore_InsertAndListSessionMessages(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	msgs := []*models.Message{
		{ID: "msg-1", SessionID: "session-1", Role: models.RoleUser, Content: "hi", InteractionType: models.InteractionChat, CreatedAt: now},
		{ID: "msg-2", SessionID: "session-1", Role: models.RoleAssistant, Content: "hello", InteractionType: models.InteractionChat, CreatedAt: now.Add(time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, store.InsertMessage(context.Background(), m))
	}

	got, err := store.ListSessionMessages(context.Background(), "session-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Content)
	assert.Equal(t, "hello", got[1].Content)
}
