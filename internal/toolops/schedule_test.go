package toolops

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway/toolops/internal/backoff"
	"github.com/arcway/toolops/pkg/models"
)

func newTestScheduleManager(store Store, states *StateManager) *ScheduleManager {
	return NewScheduleManager(store, states, backoff.BackoffPolicy{InitialMs: 1, MaxMs: 2, Factor: 2, Jitter: 0}, 2, nil)
}

func TestScheduleInfo_ValidateByType(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		info ScheduleInfo
		ok   bool
	}{
		{"one_time missing start", ScheduleInfo{Type: models.ScheduleOneTime}, false},
		{"one_time ok", ScheduleInfo{Type: models.ScheduleOneTime, StartTime: &now}, true},
		{"multiple missing fields", ScheduleInfo{Type: models.ScheduleMultiple, StartTime: &now}, false},
		{"multiple ok", ScheduleInfo{Type: models.ScheduleMultiple, StartTime: &now, Interval: time.Minute, TotalItems: 2}, true},
		{"recurring missing interval", ScheduleInfo{Type: models.ScheduleRecurring, StartTime: &now}, false},
		{"recurring ok", ScheduleInfo{Type: models.ScheduleRecurring, StartTime: &now, Interval: time.Hour}, true},
		{"monitoring missing condition", ScheduleInfo{Type: models.ScheduleMonitoring, CheckInterval: time.Second, ExpirationTimestamp: &now}, false},
		{"monitoring ok", ScheduleInfo{Type: models.ScheduleMonitoring, CheckInterval: time.Second, ExpirationTimestamp: &now, Condition: &models.ConditionDescriptor{Asset: "NEAR"}}, true},
		{"unknown type", ScheduleInfo{Type: models.ScheduleType("bogus")}, false},
	}
	for _, c := range cases {
		err := c.info.validate()
		if c.ok {
			assert.NoError(t, err, c.name)
		} else {
			assert.Error(t, err, c.name)
		}
	}
}

func seedExecutingOperationWithItems(t *testing.T, store Store, states *StateManager, n int) (*models.ToolOperation, []*models.ToolItem) {
	t.Helper()
	op, err := states.StartOperation(context.Background(), "session-1", "tweet", "tweet", models.OperationInput{Command: "draft tweets"})
	require.NoError(t, err)

	var ids []string
	var items []*models.ToolItem
	for i := 0; i < n; i++ {
		item := &models.ToolItem{
			ItemID:      fmt.Sprintf("item-%d", i+1),
			OperationID: op.OperationID,
			SessionID:   op.SessionID,
			ContentType: "tweet",
			State:       models.StateExecuting,
			Status:      models.StatusApproved,
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:   time.Now(),
		}
		items = append(items, item)
		ids = append(ids, item.ItemID)
	}
	require.NoError(t, store.InsertItems(context.Background(), items))

	updated, err := states.UpdateOperation(context.Background(), op.OperationID, statePtr(models.StateExecuting), "executing", &models.OperationOutput{
		ApprovedItemIDs: ids,
	}, "")
	require.NoError(t, err)
	return updated, items
}

func TestScheduleManager_InitializeScheduleRejectsInvalidInfo(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	m := newTestScheduleManager(store, states)

	_, err := m.InitializeSchedule(context.Background(), "op-1", "session-1", "tweet", ScheduleInfo{Type: models.ScheduleOneTime})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindIllegalStateTransition, kind)
}

func TestScheduleManager_ActivateScheduleOneTime(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	m := newTestScheduleManager(store, states)
	op, items := seedExecutingOperationWithItems(t, store, states, 1)

	start := time.Now().UTC()
	scheduleID, err := m.InitializeSchedule(context.Background(), op.OperationID, op.SessionID, "tweet", ScheduleInfo{
		Type:      models.ScheduleOneTime,
		StartTime: &start,
	})
	require.NoError(t, err)

	ok, err := m.ActivateSchedule(context.Background(), op.OperationID, scheduleID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.GetItem(context.Background(), items[0].ItemID)
	require.NoError(t, err)
	assert.Equal(t, scheduleID, got.ScheduleID)
	assert.Equal(t, models.StatusScheduled, got.Status)
	require.NotNil(t, got.ScheduledTime)

	sched, err := store.GetSchedule(context.Background(), scheduleID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStateActive, sched.State)
	assert.Contains(t, sched.ApprovedItems, items[0].ItemID)
}

func TestScheduleManager_ActivateScheduleMultipleSpacesItems(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	m := newTestScheduleManager(store, states)
	op, items := seedExecutingOperationWithItems(t, store, states, 3)

	start := time.Now().UTC()
	scheduleID, err := m.InitializeSchedule(context.Background(), op.OperationID, op.SessionID, "tweet", ScheduleInfo{
		Type:       models.ScheduleMultiple,
		StartTime:  &start,
		Interval:   10 * time.Second,
		TotalItems: len(items),
	})
	require.NoError(t, err)

	ok, err := m.ActivateSchedule(context.Background(), op.OperationID, scheduleID)
	require.NoError(t, err)
	require.True(t, ok)

	var scheduledTimes []time.Time
	for _, item := range items {
		got, err := store.GetItem(context.Background(), item.ItemID)
		require.NoError(t, err)
		require.NotNil(t, got.ScheduledTime)
		scheduledTimes = append(scheduledTimes, *got.ScheduledTime)
	}
	require.Len(t, scheduledTimes, 3)
	assert.True(t, scheduledTimes[0].Before(scheduledTimes[1]))
	assert.True(t, scheduledTimes[1].Before(scheduledTimes[2]))
	assert.Equal(t, 10*time.Second, scheduledTimes[1].Sub(scheduledTimes[0]))
}

func TestScheduleManager_ActivateScheduleRequiresExecutingOperation(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	m := newTestScheduleManager(store, states)

	op, err := states.StartOperation(context.Background(), "session-1", "tweet", "tweet", models.OperationInput{})
	require.NoError(t, err)

	start := time.Now().UTC()
	scheduleID, err := m.InitializeSchedule(context.Background(), op.OperationID, op.SessionID, "tweet", ScheduleInfo{
		Type:      models.ScheduleOneTime,
		StartTime: &start,
	})
	require.NoError(t, err)

	ok, err := m.ActivateSchedule(context.Background(), op.OperationID, scheduleID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScheduleManager_UpdateItemExecutionStatus_Success(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	m := newTestScheduleManager(store, states)
	op, items := seedExecutingOperationWithItems(t, store, states, 1)

	start := time.Now().UTC()
	scheduleID, err := m.InitializeSchedule(context.Background(), op.OperationID, op.SessionID, "tweet", ScheduleInfo{Type: models.ScheduleOneTime, StartTime: &start})
	require.NoError(t, err)
	_, err = m.ActivateSchedule(context.Background(), op.OperationID, scheduleID)
	require.NoError(t, err)

	require.NoError(t, m.UpdateItemExecutionStatus(context.Background(), items[0].ItemID, models.StatusExecuted, map[string]any{"ok": true}, nil))

	got, err := store.GetItem(context.Background(), items[0].ItemID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, got.State)
	assert.Equal(t, models.StatusExecuted, got.Status)

	finished, err := store.GetOperationByID(context.Background(), op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, finished.State)

	sched, err := store.GetSchedule(context.Background(), scheduleID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStateCompleted, sched.State)
}

func TestScheduleManager_UpdateItemExecutionStatus_TransientFailureReschedules(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	m := newTestScheduleManager(store, states)
	op, items := seedExecutingOperationWithItems(t, store, states, 1)

	start := time.Now().UTC()
	scheduleID, err := m.InitializeSchedule(context.Background(), op.OperationID, op.SessionID, "tweet", ScheduleInfo{Type: models.ScheduleOneTime, StartTime: &start})
	require.NoError(t, err)
	_, err = m.ActivateSchedule(context.Background(), op.OperationID, scheduleID)
	require.NoError(t, err)

	cause := NewTransientError(KindToolExecutionFailed, "timeout", nil)
	require.NoError(t, m.UpdateItemExecutionStatus(context.Background(), items[0].ItemID, models.StatusFailed, nil, cause))

	got, err := store.GetItem(context.Background(), items[0].ItemID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ScheduledTime)
}

func TestScheduleManager_UpdateItemExecutionStatus_PermanentFailureIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	m := newTestScheduleManager(store, states)
	op, items := seedExecutingOperationWithItems(t, store, states, 1)

	start := time.Now().UTC()
	scheduleID, err := m.InitializeSchedule(context.Background(), op.OperationID, op.SessionID, "tweet", ScheduleInfo{Type: models.ScheduleOneTime, StartTime: &start})
	require.NoError(t, err)
	_, err = m.ActivateSchedule(context.Background(), op.OperationID, scheduleID)
	require.NoError(t, err)

	cause := NewError(KindToolExecutionFailed, "permanently rejected", nil)
	require.NoError(t, m.UpdateItemExecutionStatus(context.Background(), items[0].ItemID, models.StatusFailed, nil, cause))

	got, err := store.GetItem(context.Background(), items[0].ItemID)
	require.NoError(t, err)
	assert.Equal(t, models.StateError, got.State)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestScheduleManager_UpdateItemExecutionStatus_RetryCapIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	m := newTestScheduleManager(store, states)
	op, items := seedExecutingOperationWithItems(t, store, states, 1)

	start := time.Now().UTC()
	scheduleID, err := m.InitializeSchedule(context.Background(), op.OperationID, op.SessionID, "tweet", ScheduleInfo{Type: models.ScheduleOneTime, StartTime: &start})
	require.NoError(t, err)
	_, err = m.ActivateSchedule(context.Background(), op.OperationID, scheduleID)
	require.NoError(t, err)

	cause := NewTransientError(KindToolExecutionFailed, "timeout", nil)
	for i := 0; i < 2; i++ {
		require.NoError(t, m.UpdateItemExecutionStatus(context.Background(), items[0].ItemID, models.StatusFailed, nil, cause))
	}

	got, err := store.GetItem(context.Background(), items[0].ItemID)
	require.NoError(t, err)
	assert.Equal(t, models.StateError, got.State)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
}

func TestScheduleManager_ExpireItemIsTerminalRegardlessOfRetryCount(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	m := newTestScheduleManager(store, states)
	op, items := seedExecutingOperationWithItems(t, store, states, 1)

	expiration := time.Now().UTC().Add(time.Hour)
	scheduleID, err := m.InitializeSchedule(context.Background(), op.OperationID, op.SessionID, "intent", ScheduleInfo{
		Type:                models.ScheduleMonitoring,
		CheckInterval:       time.Second,
		ExpirationTimestamp: &expiration,
		Condition:           &models.ConditionDescriptor{Asset: "NEAR", Operator: ">=", Threshold: 3},
	})
	require.NoError(t, err)
	_, err = m.ActivateSchedule(context.Background(), op.OperationID, scheduleID)
	require.NoError(t, err)

	require.NoError(t, m.ExpireItem(context.Background(), items[0].ItemID))

	got, err := store.GetItem(context.Background(), items[0].ItemID)
	require.NoError(t, err)
	assert.Equal(t, models.StateError, got.State)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, "expired", got.LastError)

	finished, err := store.GetOperationByID(context.Background(), op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, models.StateError, finished.State)
}
