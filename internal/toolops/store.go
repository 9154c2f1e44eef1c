// Package toolops implements the tool-operation lifecycle engine: the
// interlocking state machines for an operation, its items, its schedule, and
// the background executor that realizes scheduled items.
package toolops

import (
	"context"
	"time"

	"github.com/arcway/toolops/pkg/models"
)

// ItemFilter narrows Store.GetItems by state and/or status; a nil pointer
// means "don't filter on this field".
type ItemFilter struct {
	State  *models.OperationState
	Status *models.OperationStatus
}

// Store is the Persistence Contract: idempotent CRUD with the query filters
// every other component needs, guarded by atomic find-and-update on primary
// key so state transitions can be conditioned on expected current state.
type Store interface {
	// InsertMessage appends one message to a session's audit log.
	InsertMessage(ctx context.Context, msg *models.Message) error

	// ListSessionMessages returns the most recent limit messages for a
	// session, oldest first.
	ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// CreateOperation persists a new operation.
	CreateOperation(ctx context.Context, op *models.ToolOperation) error

	// GetOperationBySession returns the session's non-terminal operation,
	// or nil if none exists.
	GetOperationBySession(ctx context.Context, sessionID string) (*models.ToolOperation, error)

	// GetOperationByID fetches one operation by primary key.
	GetOperationByID(ctx context.Context, operationID string) (*models.ToolOperation, error)

	// UpdateOperation persists op, optionally guarded by expectedState: if
	// expectedState is non-nil and the stored state doesn't match, the
	// update is rejected with KindIllegalStateTransition and no side
	// effects occur.
	UpdateOperation(ctx context.Context, op *models.ToolOperation, expectedState *models.OperationState) error

	// InsertItems persists a batch of newly generated items.
	InsertItems(ctx context.Context, items []*models.ToolItem) error

	// GetItems returns an operation's items, optionally filtered.
	GetItems(ctx context.Context, operationID string, filter ItemFilter) ([]*models.ToolItem, error)

	// GetItem fetches one item by primary key.
	GetItem(ctx context.Context, itemID string) (*models.ToolItem, error)

	// UpdateItemsState bulk-sets state/status for a set of item ids.
	UpdateItemsState(ctx context.Context, itemIDs []string, state models.OperationState, status models.OperationStatus) error

	// UpdateItemExecution records the outcome of one execution attempt.
	UpdateItemExecution(ctx context.Context, item *models.ToolItem) error

	// CreateSchedule persists a new schedule.
	CreateSchedule(ctx context.Context, sched *models.Schedule) error

	// GetSchedule fetches one schedule by primary key.
	GetSchedule(ctx context.Context, scheduleID string) (*models.Schedule, error)

	// UpdateSchedule persists sched.
	UpdateSchedule(ctx context.Context, sched *models.Schedule) error

	// ListDueItems returns items with status=SCHEDULED, scheduled_time<=now,
	// and an ACTIVE owning schedule.
	ListDueItems(ctx context.Context, now time.Time, limit int) ([]*models.ToolItem, error)

	// ListActiveMonitors returns all ACTIVE monitoring schedules.
	ListActiveMonitors(ctx context.Context) ([]*models.Schedule, error)

	// ClaimItem conditionally leases itemID to the calling executor: it
	// inserts a row keyed by item_id into a separate claims table
	// (claims/toolops_claims) carrying claimed_until, succeeding only if no
	// live claim exists. The item's own state/status are untouched by the
	// claim itself; this prevents double execution under concurrent executor
	// ticks without serializing on the item row.
	ClaimItem(ctx context.Context, itemID string, claimedUntil time.Time) (bool, error)

	// ReclaimStaleItems deletes claims whose claimed_until is before now,
	// returning how many were deleted. The items' state and status are left
	// unchanged; an item whose claim was deleted can be claimed again.
	ReclaimStaleItems(ctx context.Context, now time.Time) (int, error)
}
