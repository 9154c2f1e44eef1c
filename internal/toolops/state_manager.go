package toolops

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arcway/toolops/internal/observability"
	"github.com/arcway/toolops/pkg/models"
)

// legalTransitions is the operation-level state table from §4.3. Any
// transition not listed here is rejected without side effects.
var legalTransitions = map[models.OperationState]map[models.OperationState]bool{
	models.StateInactive: {
		models.StateCollecting: true,
	},
	models.StateCollecting: {
		models.StateApproving: true,
		models.StateExecuting: true, // tools with requires_approval=false skip APPROVING entirely
		models.StateError:     true,
		models.StateCancelled: true,
	},
	models.StateApproving: {
		models.StateExecuting: true,
		models.StateCollecting: true, // regeneration loop
		models.StateError:      true,
		models.StateCancelled:  true,
	},
	models.StateExecuting: {
		models.StateCompleted: true,
		models.StateCancelled: true,
		models.StateError:     true,
	},
}

// IsLegalTransition reports whether from->to is permitted by §4.3.
func IsLegalTransition(from, to models.OperationState) bool {
	if from == to {
		return false
	}
	next, ok := legalTransitions[from]
	return ok && next[to]
}

// StateManager owns the operation-level state machine: creates/updates/ends
// operations and items, enforces legal transitions, and keeps an operation's
// aggregate status consistent with its items'.
type StateManager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	tracer *observability.Tracer
}

// NewStateManager constructs a StateManager over store.
func NewStateManager(store Store, logger *slog.Logger) *StateManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateManager{
		store:  store,
		logger: logger.With("component", "tool-state-manager"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithTracer attaches a tracer to m, returning m for chaining. A nil
// argument leaves tracing disabled.
func (m *StateManager) WithTracer(tracer *observability.Tracer) *StateManager {
	m.tracer = tracer
	return m
}

// StartOperation creates a new operation for sessionID, failing
// ConflictingOperation if one is already non-terminal.
func (m *StateManager) StartOperation(ctx context.Context, sessionID, toolType, contentType string, input models.OperationInput) (*models.ToolOperation, error) {
	existing, err := m.store.GetOperationBySession(ctx, sessionID)
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "checking for existing operation", err)
	}
	if existing != nil {
		return nil, NewError(KindConflictingOperation, "session "+sessionID+" already has a non-terminal operation", nil)
	}

	now := m.now()
	op := &models.ToolOperation{
		OperationID: uuid.NewString(),
		SessionID:   sessionID,
		ToolType:    toolType,
		ContentType: contentType,
		State:       models.StateInactive,
		Input:       input,
		Output: models.OperationOutput{
			Status: models.StatusPending,
		},
		Metadata:  models.OperationMetadata{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.stampHistory(op, models.StateInactive, "created")

	if err := m.store.CreateOperation(ctx, op); err != nil {
		return nil, NewError(KindStorageUnavailable, "creating operation", err)
	}

	// Every new operation immediately enters COLLECTING: INACTIVE is a
	// momentary bookkeeping state, never observed by callers.
	if err := m.transition(ctx, op, models.StateCollecting, "collecting"); err != nil {
		return nil, err
	}
	return op, nil
}

func (m *StateManager) stampHistory(op *models.ToolOperation, state models.OperationState, step string) {
	op.State = state
	op.Step = step
	op.Metadata.StateHistory = append(op.Metadata.StateHistory, models.StateHistoryEntry{
		State: state,
		Step:  step,
		At:    m.now(),
	})
}

// transition validates from->to, writes the history entry, and persists.
func (m *StateManager) transition(ctx context.Context, op *models.ToolOperation, to models.OperationState, step string) error {
	from := op.State
	if !IsLegalTransition(from, to) {
		m.logger.Warn("rejected illegal operation transition",
			"operation_id", op.OperationID, "from", from, "to", to)
		return NewError(KindIllegalStateTransition, string(from)+" -> "+string(to)+" is not a legal transition", nil)
	}
	if m.tracer != nil {
		_, span := m.tracer.TraceStateTransition(ctx, op.OperationID, string(from), string(to))
		span.End()
	}
	m.stampHistory(op, to, step)
	op.UpdatedAt = m.now()
	if err := m.store.UpdateOperation(ctx, op, &from); err != nil {
		return NewError(KindStorageUnavailable, "persisting transition", err)
	}
	return nil
}

// UpdateOperation validates transitions, merges content updates into the
// output envelope, and merges metadata, matching §4.3's update_operation.
func (m *StateManager) UpdateOperation(ctx context.Context, operationID string, state *models.OperationState, step string, contentUpdates *models.OperationOutput, metadataEndReason string) (*models.ToolOperation, error) {
	op, err := m.store.GetOperationByID(ctx, operationID)
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "loading operation", err)
	}

	if state != nil {
		if err := m.transition(ctx, op, *state, step); err != nil {
			return nil, err
		}
	} else if step != "" {
		op.Step = step
	}

	if contentUpdates != nil {
		if contentUpdates.PendingItemIDs != nil {
			op.Output.PendingItemIDs = contentUpdates.PendingItemIDs
		}
		if contentUpdates.ApprovedItemIDs != nil {
			op.Output.ApprovedItemIDs = contentUpdates.ApprovedItemIDs
		}
		if contentUpdates.RejectedItemIDs != nil {
			op.Output.RejectedItemIDs = contentUpdates.RejectedItemIDs
		}
		if contentUpdates.APIResponse != nil {
			op.Output.APIResponse = contentUpdates.APIResponse
		}
		if contentUpdates.Status != "" {
			op.Output.Status = contentUpdates.Status
		}
	}
	if metadataEndReason != "" {
		op.Metadata.EndReason = metadataEndReason
	}

	op.UpdatedAt = m.now()
	expected := op.State
	if err := m.store.UpdateOperation(ctx, op, &expected); err != nil {
		return nil, NewError(KindStorageUnavailable, "persisting operation update", err)
	}
	return op, nil
}

// EndOperation maps status to a terminal state per §4.3 and persists it.
func (m *StateManager) EndOperation(ctx context.Context, operationID string, status models.EndStatus, reason string, apiResponse map[string]any) (*models.ToolOperation, error) {
	op, err := m.store.GetOperationByID(ctx, operationID)
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "loading operation", err)
	}

	var terminal models.OperationState
	var outStatus models.OperationStatus
	switch status {
	case models.EndApproved:
		terminal, outStatus = models.StateCompleted, models.StatusExecuted
	case models.EndRejected:
		terminal, outStatus = models.StateCancelled, models.StatusRejected
	case models.EndFailed:
		terminal, outStatus = models.StateError, models.StatusFailed
	default:
		return nil, NewError(KindIllegalStateTransition, "unknown end status "+string(status), nil)
	}

	if err := m.transition(ctx, op, terminal, "ended"); err != nil {
		return nil, err
	}
	op.Output.Status = outStatus
	if apiResponse != nil {
		op.Output.APIResponse = apiResponse
	}
	if reason != "" {
		op.Metadata.EndReason = reason
	}
	op.UpdatedAt = m.now()
	expected := op.State
	if err := m.store.UpdateOperation(ctx, op, &expected); err != nil {
		return nil, NewError(KindStorageUnavailable, "persisting end_operation", err)
	}
	return op, nil
}

// GetOperationItems returns an operation's items, optionally filtered.
func (m *StateManager) GetOperationItems(ctx context.Context, operationID string, filter ItemFilter) ([]*models.ToolItem, error) {
	items, err := m.store.GetItems(ctx, operationID, filter)
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "loading items", err)
	}
	return items, nil
}

// UpdateOperationItems bulk-transitions a set of items.
func (m *StateManager) UpdateOperationItems(ctx context.Context, itemIDs []string, state models.OperationState, status models.OperationStatus) error {
	if err := m.store.UpdateItemsState(ctx, itemIDs, state, status); err != nil {
		return NewError(KindStorageUnavailable, "updating items", err)
	}
	return nil
}

// SyncItemsToOperationStatus propagates an operation-level status change to
// its items per §4.3's table.
func (m *StateManager) SyncItemsToOperationStatus(ctx context.Context, operationID string, status models.OperationStatus) error {
	items, err := m.store.GetItems(ctx, operationID, ItemFilter{})
	if err != nil {
		return NewError(KindStorageUnavailable, "loading items to sync", err)
	}
	var ids []string
	for _, item := range items {
		ids = append(ids, item.ItemID)
	}
	if len(ids) == 0 {
		return nil
	}

	var state models.OperationState
	var itemStatus models.OperationStatus
	switch status {
	case models.StatusApproved:
		state, itemStatus = models.StateExecuting, models.StatusApproved
	case models.StatusExecuted:
		state, itemStatus = models.StateCompleted, models.StatusExecuted
	case models.StatusRejected:
		state, itemStatus = models.StateCancelled, models.StatusRejected
	case models.StatusFailed:
		state, itemStatus = models.StateError, models.StatusFailed
	default:
		return nil
	}
	return m.UpdateOperationItems(ctx, ids, state, itemStatus)
}

// AggregateStatus computes an operation's aggregate status from its items'
// statuses, per §4.3: any non-terminal item -> PENDING; all EXECUTED ->
// EXECUTED; all REJECTED -> REJECTED; all FAILED -> FAILED; mixed -> PENDING.
func AggregateStatus(items []*models.ToolItem) models.OperationStatus {
	if len(items) == 0 {
		return models.StatusPending
	}
	allExecuted, allRejected, allFailed := true, true, true
	for _, item := range items {
		if !item.Terminal() {
			return models.StatusPending
		}
		if item.Status != models.StatusExecuted {
			allExecuted = false
		}
		if item.Status != models.StatusRejected {
			allRejected = false
		}
		if item.Status != models.StatusFailed {
			allFailed = false
		}
	}
	switch {
	case allExecuted:
		return models.StatusExecuted
	case allRejected:
		return models.StatusRejected
	case allFailed:
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}

// ValidateItems checks that an operation's pending/approved/rejected
// rosters partition exactly the item set it owns.
func (m *StateManager) ValidateItems(ctx context.Context, operationID string) error {
	op, err := m.store.GetOperationByID(ctx, operationID)
	if err != nil {
		return NewError(KindStorageUnavailable, "loading operation", err)
	}
	items, err := m.store.GetItems(ctx, operationID, ItemFilter{})
	if err != nil {
		return NewError(KindStorageUnavailable, "loading items", err)
	}

	actual := make(map[string]bool, len(items))
	for _, item := range items {
		actual[item.ItemID] = true
	}

	seen := make(map[string]string, len(items))
	rosters := map[string][]string{
		"pending":  op.Output.PendingItemIDs,
		"approved": op.Output.ApprovedItemIDs,
		"rejected": op.Output.RejectedItemIDs,
	}
	for name, roster := range rosters {
		for _, id := range roster {
			if other, dup := seen[id]; dup {
				return NewError(KindIllegalStateTransition, "item "+id+" appears in both "+other+" and "+name+" rosters", nil)
			}
			seen[id] = name
			if !actual[id] {
				return NewError(KindIllegalStateTransition, "roster references unknown item "+id, nil)
			}
		}
	}
	for id := range actual {
		if _, ok := seen[id]; !ok {
			return NewError(KindIllegalStateTransition, "item "+id+" is not present in any roster", nil)
		}
	}
	return nil
}
