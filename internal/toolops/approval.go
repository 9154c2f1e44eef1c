package toolops

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcway/toolops/internal/observability"
	"github.com/arcway/toolops/pkg/models"
)

// Classification is the parsed result of sending one user reply plus the
// current item set to the LLM classifier.
type Classification struct {
	Action            models.ApprovalAction `json:"action"`
	ApprovedIndices   []int                  `json:"approved_indices,omitempty"`
	RegenerateIndices []int                  `json:"regenerate_indices,omitempty"`
	Rationale         string                 `json:"rationale,omitempty"`
}

// Classifier interprets a free-text approval reply against the currently
// presented items, returning the ApprovalAction sum type. Implementations
// are expected to go through an LLM.Client and enforce the JSON schema
// described in §4.4.
type Classifier interface {
	Classify(ctx context.Context, items []*models.ToolItem, reply string) (*Classification, error)
}

// RegenerateFunc asks the owning tool to produce exactly count replacement
// items for op.
type RegenerateFunc func(ctx context.Context, op *models.ToolOperation, count int) ([]*models.ToolItem, error)

// DefaultMaxRegenerationRounds is the default cap from §4.4's config.
const DefaultMaxRegenerationRounds = 3

// ApprovalManager drives the APPROVING sub-protocol.
type ApprovalManager struct {
	store                Store
	states               *StateManager
	classifier           Classifier
	logger               *slog.Logger
	now                  func() time.Time
	maxRegenerationRounds int
	malformedStreak      map[string]int
	metrics              *observability.Metrics
}

// WithMetrics attaches metrics to a, returning a for chaining. A nil
// argument leaves metrics disabled.
func (a *ApprovalManager) WithMetrics(metrics *observability.Metrics) *ApprovalManager {
	a.metrics = metrics
	return a
}

// NewApprovalManager constructs an ApprovalManager.
func NewApprovalManager(store Store, states *StateManager, classifier Classifier, maxRegenerationRounds int, logger *slog.Logger) *ApprovalManager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRegenerationRounds <= 0 {
		maxRegenerationRounds = DefaultMaxRegenerationRounds
	}
	return &ApprovalManager{
		store:                store,
		states:               states,
		classifier:           classifier,
		logger:               logger.With("component", "approval-manager"),
		now:                  func() time.Time { return time.Now().UTC() },
		maxRegenerationRounds: maxRegenerationRounds,
		malformedStreak:      make(map[string]int),
	}
}

// PresentationResult is returned when an operation first enters APPROVING.
type PresentationResult struct {
	ApprovalState string
	Items         []*models.ToolItem
}

// EnterApproving persists the given items as APPROVING/PENDING and presents
// them for approval (step 1 of §4.4's protocol).
func (a *ApprovalManager) EnterApproving(ctx context.Context, op *models.ToolOperation, items []*models.ToolItem) (*PresentationResult, error) {
	var ids []string
	for _, item := range items {
		item.State = models.StateApproving
		item.Status = models.StatusPending
		ids = append(ids, item.ItemID)
	}
	if err := a.store.InsertItems(ctx, items); err != nil {
		return nil, NewError(KindStorageUnavailable, "persisting approving items", err)
	}

	if op.State != models.StateApproving {
		if _, err := a.states.UpdateOperation(ctx, op.OperationID, statePtr(models.StateApproving), "awaiting_approval", &models.OperationOutput{
			PendingItemIDs: ids,
		}, ""); err != nil {
			return nil, err
		}
	}

	return &PresentationResult{ApprovalState: "AWAITING_APPROVAL", Items: items}, nil
}

// HandleReplyResult is the outcome of processing one approval reply.
type HandleReplyResult struct {
	Action        models.ApprovalAction
	Clarification string
	Operation     *models.ToolOperation
}

// HandleReply classifies reply and applies the resulting action (step 2-3 of
// §4.4's protocol).
func (a *ApprovalManager) HandleReply(ctx context.Context, op *models.ToolOperation, reply string, regenerate RegenerateFunc) (*HandleReplyResult, error) {
	items, err := a.states.GetOperationItems(ctx, op.OperationID, ItemFilter{
		State: statePtr(models.StateApproving),
	})
	if err != nil {
		return nil, err
	}

	classification, err := a.classifier.Classify(ctx, items, reply)
	if err != nil {
		return a.handleMalformed(ctx, op, err)
	}
	a.malformedStreak[op.OperationID] = 0
	if a.metrics != nil {
		a.metrics.ApprovalClassified(string(classification.Action))
	}

	switch classification.Action {
	case models.ActionFullApproval:
		return a.applyFullApproval(ctx, op, items)
	case models.ActionPartialApproval, models.ActionRegenerateAll:
		return a.applyPartialApproval(ctx, op, items, classification, regenerate)
	case models.ActionCancel:
		return a.applyCancel(ctx, op, items)
	case models.ActionAwaitInput:
		return &HandleReplyResult{Action: models.ActionAwaitInput, Clarification: classification.Rationale, Operation: op}, nil
	case models.ActionError:
		updated, err := a.states.EndOperation(ctx, op.OperationID, models.EndFailed, classification.Rationale, nil)
		if err != nil {
			return nil, err
		}
		return &HandleReplyResult{Action: models.ActionError, Operation: updated}, nil
	default:
		return a.handleMalformed(ctx, op, fmt.Errorf("unrecognized action %q", classification.Action))
	}
}

func (a *ApprovalManager) handleMalformed(ctx context.Context, op *models.ToolOperation, cause error) (*HandleReplyResult, error) {
	a.malformedStreak[op.OperationID]++
	if a.malformedStreak[op.OperationID] >= 2 {
		delete(a.malformedStreak, op.OperationID)
		updated, err := a.states.EndOperation(ctx, op.OperationID, models.EndFailed, "two consecutive malformed approval replies", nil)
		if err != nil {
			return nil, err
		}
		return &HandleReplyResult{Action: models.ActionError, Operation: updated}, NewError(KindClassificationMalformed, "classifier reply unparseable", cause)
	}
	a.logger.Warn("malformed approval classification", "operation_id", op.OperationID, "error", cause)
	return &HandleReplyResult{
		Action:        models.ActionAwaitInput,
		Clarification: "I couldn't understand that reply — please say which items to approve, regenerate, or cancel.",
		Operation:     op,
	}, nil
}

func (a *ApprovalManager) applyFullApproval(ctx context.Context, op *models.ToolOperation, items []*models.ToolItem) (*HandleReplyResult, error) {
	var ids []string
	for _, item := range items {
		ids = append(ids, item.ItemID)
	}
	if err := a.states.UpdateOperationItems(ctx, ids, models.StateExecuting, models.StatusApproved); err != nil {
		return nil, err
	}
	updated, err := a.states.UpdateOperation(ctx, op.OperationID, statePtr(models.StateExecuting), "approved", &models.OperationOutput{
		ApprovedItemIDs: ids,
		PendingItemIDs:  []string{},
	}, "")
	if err != nil {
		return nil, err
	}
	delete(a.malformedStreak, op.OperationID)
	a.recordRegenerationRounds(op)
	return &HandleReplyResult{Action: models.ActionFullApproval, Operation: updated}, nil
}

func (a *ApprovalManager) recordRegenerationRounds(op *models.ToolOperation) {
	if a.metrics != nil {
		a.metrics.RegenerationRounds.Observe(float64(op.Metadata.RegenerationRounds))
	}
}

func (a *ApprovalManager) applyPartialApproval(ctx context.Context, op *models.ToolOperation, items []*models.ToolItem, classification *Classification, regenerate RegenerateFunc) (*HandleReplyResult, error) {
	n := len(items)
	approvedSet := make(map[int]bool, len(classification.ApprovedIndices))
	regenSet := make(map[int]bool, len(classification.RegenerateIndices))
	if classification.Action == models.ActionRegenerateAll {
		// REGENERATE_ALL is PARTIAL_APPROVAL with an empty approved set,
		// per §4.4 — the classifier isn't expected to enumerate indices for it.
		for idx := 1; idx <= n; idx++ {
			regenSet[idx] = true
		}
	} else {
		for _, idx := range classification.ApprovedIndices {
			approvedSet[idx] = true
		}
		for _, idx := range classification.RegenerateIndices {
			regenSet[idx] = true
		}
	}
	for idx := 1; idx <= n; idx++ {
		if approvedSet[idx] == regenSet[idx] {
			// Either both false (missing) or both true (overlap): a
			// classification error per §4.4 step 2.
			return a.handleMalformed(ctx, op, fmt.Errorf("index %d is not exactly one of approved/regenerate", idx))
		}
	}

	regenerationRounds := op.Metadata.RegenerationRounds + 1
	if regenerationRounds > a.maxRegenerationRounds {
		return a.applyCancel(ctx, op, items)
	}

	var approvedIDs, regenIDs []string
	for idx, item := range items {
		position := idx + 1
		if approvedSet[position] {
			approvedIDs = append(approvedIDs, item.ItemID)
		} else {
			regenIDs = append(regenIDs, item.ItemID)
		}
	}

	if len(approvedIDs) > 0 {
		if err := a.states.UpdateOperationItems(ctx, approvedIDs, models.StateExecuting, models.StatusApproved); err != nil {
			return nil, err
		}
	}
	if len(regenIDs) > 0 {
		if err := a.states.UpdateOperationItems(ctx, regenIDs, models.StateCompleted, models.StatusRejected); err != nil {
			return nil, err
		}
	}

	updated, err := a.states.UpdateOperation(ctx, op.OperationID, statePtr(models.StateCollecting), "regenerating", &models.OperationOutput{
		ApprovedItemIDs: approvedIDs,
		RejectedItemIDs: regenIDs,
	}, "")
	if err != nil {
		return nil, err
	}
	op = updated
	op.Metadata.RegenerationRounds = regenerationRounds
	if err := a.store.UpdateOperation(ctx, op, statePtr(op.State)); err != nil {
		return nil, NewError(KindStorageUnavailable, "persisting regeneration rounds", err)
	}

	replacements, err := regenerate(ctx, op, len(regenIDs))
	if err != nil {
		return nil, NewError(KindToolExecutionFailed, "regenerating items", err)
	}

	presentation, err := a.EnterApproving(ctx, op, replacements)
	if err != nil {
		return nil, err
	}
	return &HandleReplyResult{Action: classification.Action, Operation: op, Clarification: fmt.Sprintf("regenerated %d item(s)", len(presentation.Items))}, nil
}

func (a *ApprovalManager) applyCancel(ctx context.Context, op *models.ToolOperation, items []*models.ToolItem) (*HandleReplyResult, error) {
	var ids []string
	for _, item := range items {
		if !item.Terminal() {
			ids = append(ids, item.ItemID)
		}
	}
	if len(ids) > 0 {
		if err := a.states.UpdateOperationItems(ctx, ids, models.StateCancelled, models.StatusRejected); err != nil {
			return nil, err
		}
	}
	updated, err := a.states.EndOperation(ctx, op.OperationID, models.EndRejected, "user_cancel", nil)
	if err != nil {
		return nil, err
	}
	delete(a.malformedStreak, op.OperationID)
	a.recordRegenerationRounds(op)
	return &HandleReplyResult{Action: models.ActionCancel, Operation: updated}, nil
}

func statePtr(s models.OperationState) *models.OperationState { return &s }

// classifierSchemaJSON documents (for tool-implementing classifiers) the strict
// JSON shape the LLM must return; kept here so an implementation can embed
// or reference it when building the prompt contract.
const classifierSchemaJSON = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"enum": ["FULL_APPROVAL", "PARTIAL_APPROVAL", "REGENERATE_ALL", "CANCEL", "AWAIT_INPUT", "ERROR"]},
    "approved_indices": {"type": "array", "items": {"type": "integer"}},
    "regenerate_indices": {"type": "array", "items": {"type": "integer"}},
    "rationale": {"type": "string"}
  }
}`

// ClassifierSchema returns the JSON schema document for the classifier's
// expected output shape.
func ClassifierSchema() []byte {
	return []byte(classifierSchemaJSON)
}
