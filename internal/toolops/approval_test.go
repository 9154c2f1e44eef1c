package toolops

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway/toolops/pkg/models"
)

type fakeClassifier struct {
	results []*Classification
	errs    []error
	calls   int
}

func (f *fakeClassifier) Classify(ctx context.Context, items []*models.ToolItem, reply string) (*Classification, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return f.results[len(f.results)-1], nil
}

func seedApprovingOperation(t *testing.T, store Store, states *StateManager, n int) (*models.ToolOperation, []*models.ToolItem) {
	t.Helper()
	op, err := states.StartOperation(context.Background(), "session-1", "tweet", "tweet", models.OperationInput{Command: "draft tweets"})
	require.NoError(t, err)

	var items []*models.ToolItem
	for i := 0; i < n; i++ {
		items = append(items, &models.ToolItem{
			ItemID:      fmt.Sprintf("item-%d", i+1),
			OperationID: op.OperationID,
			SessionID:   op.SessionID,
			ContentType: "tweet",
			Content:     map[string]any{"text": fmt.Sprintf("draft %d", i+1)},
		})
	}
	manager := NewApprovalManager(store, states, nil, 0, nil)
	_, err = manager.EnterApproving(context.Background(), op, items)
	require.NoError(t, err)

	updated, err := states.store.GetOperationByID(context.Background(), op.OperationID)
	require.NoError(t, err)
	return updated, items
}

func TestApprovalManager_FullApproval(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	op, items := seedApprovingOperation(t, store, states, 2)

	classifier := &fakeClassifier{results: []*Classification{{Action: models.ActionFullApproval}}}
	manager := NewApprovalManager(store, states, classifier, 0, nil)

	result, err := manager.HandleReply(context.Background(), op, "looks good, post them", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFullApproval, result.Action)
	assert.Equal(t, models.StateExecuting, result.Operation.State)

	for _, item := range items {
		got, err := store.GetItem(context.Background(), item.ItemID)
		require.NoError(t, err)
		assert.Equal(t, models.StateExecuting, got.State)
		assert.Equal(t, models.StatusApproved, got.Status)
	}
}

func TestApprovalManager_PartialApproval(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	op, items := seedApprovingOperation(t, store, states, 2)

	classifier := &fakeClassifier{results: []*Classification{{
		Action:            models.ActionPartialApproval,
		ApprovedIndices:   []int{1},
		RegenerateIndices: []int{2},
	}}}
	manager := NewApprovalManager(store, states, classifier, 0, nil)

	regenerateCalls := 0
	regenerate := func(ctx context.Context, op *models.ToolOperation, count int) ([]*models.ToolItem, error) {
		regenerateCalls++
		require.Equal(t, 1, count)
		return []*models.ToolItem{{
			ItemID:      "item-3",
			OperationID: op.OperationID,
			SessionID:   op.SessionID,
			ContentType: "tweet",
			Content:     map[string]any{"text": "draft 3"},
		}}, nil
	}

	result, err := manager.HandleReply(context.Background(), op, "approve the first, redo the second", regenerate)
	require.NoError(t, err)
	assert.Equal(t, models.ActionPartialApproval, result.Action)
	assert.Equal(t, 1, regenerateCalls)

	approved, err := store.GetItem(context.Background(), items[0].ItemID)
	require.NoError(t, err)
	assert.Equal(t, models.StateExecuting, approved.State)
	assert.Equal(t, models.StatusApproved, approved.Status)

	rejected, err := store.GetItem(context.Background(), items[1].ItemID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, rejected.State)
	assert.Equal(t, models.StatusRejected, rejected.Status)

	replacement, err := store.GetItem(context.Background(), "item-3")
	require.NoError(t, err)
	assert.Equal(t, models.StateApproving, replacement.State)
}

func TestApprovalManager_RegenerateAllForcesEmptyApprovedSet(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	op, items := seedApprovingOperation(t, store, states, 3)

	// A classifier that follows classifierSystemPrompt's instruction to omit
	// both index arrays for REGENERATE_ALL.
	classifier := &fakeClassifier{results: []*Classification{{Action: models.ActionRegenerateAll}}}
	manager := NewApprovalManager(store, states, classifier, 0, nil)

	regenerateCalls := 0
	regenerate := func(ctx context.Context, op *models.ToolOperation, count int) ([]*models.ToolItem, error) {
		regenerateCalls++
		require.Equal(t, 3, count)
		return []*models.ToolItem{{
			ItemID:      "item-new",
			OperationID: op.OperationID,
			SessionID:   op.SessionID,
			ContentType: "tweet",
		}}, nil
	}

	result, err := manager.HandleReply(context.Background(), op, "redo all of these", regenerate)
	require.NoError(t, err)
	assert.Equal(t, models.ActionRegenerateAll, result.Action)
	assert.Equal(t, 1, regenerateCalls)

	for _, item := range items {
		got, err := store.GetItem(context.Background(), item.ItemID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, got.Status)
	}
}

func TestApprovalManager_PartialApprovalPartitionViolationIsMalformed(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	op, _ := seedApprovingOperation(t, store, states, 2)

	// Neither index list covers item 2: a genuine classifier bug, not
	// REGENERATE_ALL. A single bad partition is recoverable (AWAIT_INPUT),
	// since the malformed streak resets on every successfully-parsed
	// classification regardless of what it asked for.
	classifier := &fakeClassifier{results: []*Classification{
		{Action: models.ActionPartialApproval, ApprovedIndices: []int{1}},
	}}
	manager := NewApprovalManager(store, states, classifier, 0, nil)

	result, err := manager.HandleReply(context.Background(), op, "approve the first", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionAwaitInput, result.Action)
	assert.Equal(t, op.OperationID, result.Operation.OperationID)
}

func TestApprovalManager_Cancel(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	op, items := seedApprovingOperation(t, store, states, 2)

	classifier := &fakeClassifier{results: []*Classification{{Action: models.ActionCancel}}}
	manager := NewApprovalManager(store, states, classifier, 0, nil)

	result, err := manager.HandleReply(context.Background(), op, "never mind", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCancel, result.Action)
	assert.Equal(t, models.StateCancelled, result.Operation.State)

	for _, item := range items {
		got, err := store.GetItem(context.Background(), item.ItemID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, got.Status)
	}
}

func TestApprovalManager_AwaitInput(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	op, _ := seedApprovingOperation(t, store, states, 1)

	classifier := &fakeClassifier{results: []*Classification{{Action: models.ActionAwaitInput, Rationale: "which one?"}}}
	manager := NewApprovalManager(store, states, classifier, 0, nil)

	result, err := manager.HandleReply(context.Background(), op, "huh?", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionAwaitInput, result.Action)
	assert.Equal(t, "which one?", result.Clarification)
}

func TestApprovalManager_ClassifierError(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	op, _ := seedApprovingOperation(t, store, states, 1)

	classifier := &fakeClassifier{results: []*Classification{{Action: models.ActionError, Rationale: "give up"}}}
	manager := NewApprovalManager(store, states, classifier, 0, nil)

	result, err := manager.HandleReply(context.Background(), op, "abort", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionError, result.Action)
	assert.Equal(t, models.StateError, result.Operation.State)
}

func TestApprovalManager_TwoConsecutiveMalformedRepliesEndOperation(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	op, _ := seedApprovingOperation(t, store, states, 1)

	classifier := &fakeClassifier{errs: []error{fmt.Errorf("bad json"), fmt.Errorf("bad json again")}}
	manager := NewApprovalManager(store, states, classifier, 0, nil)

	result, err := manager.HandleReply(context.Background(), op, "???", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionAwaitInput, result.Action)

	result, err = manager.HandleReply(context.Background(), op, "???", nil)
	require.Error(t, err)
	assert.Equal(t, models.ActionError, result.Action)
	assert.Equal(t, models.StateError, result.Operation.State)
}

func TestApprovalManager_RegenerationRoundsCapTriggersCancel(t *testing.T) {
	store := NewMemoryStore()
	states := NewStateManager(store, nil)
	op, _ := seedApprovingOperation(t, store, states, 1)

	classifier := &fakeClassifier{results: []*Classification{
		{Action: models.ActionPartialApproval, RegenerateIndices: []int{1}},
	}}
	manager := NewApprovalManager(store, states, classifier, 1, nil)
	op.Metadata.RegenerationRounds = 1

	result, err := manager.HandleReply(context.Background(), op, "redo it", func(ctx context.Context, op *models.ToolOperation, count int) ([]*models.ToolItem, error) {
		t.Fatal("regenerate should not be called once the round cap is exceeded")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.ActionCancel, result.Action)
	assert.Equal(t, models.StateCancelled, result.Operation.State)
}
