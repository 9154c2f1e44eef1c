package toolops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/arcway/toolops/internal/backoff"
	"github.com/arcway/toolops/pkg/models"
)

// ScheduleInfo is the caller-supplied planning input to InitializeSchedule;
// which fields are required depends on Type, per §4.5.
type ScheduleInfo struct {
	Type                models.ScheduleType
	StartTime           *time.Time
	Interval            time.Duration
	TotalItems          int
	CheckInterval       time.Duration
	ExpirationTimestamp *time.Time
	Condition           *models.ConditionDescriptor
}

func (s ScheduleInfo) validate() error {
	switch s.Type {
	case models.ScheduleOneTime:
		if s.StartTime == nil {
			return fmt.Errorf("one_time schedule requires start_time")
		}
	case models.ScheduleMultiple:
		if s.StartTime == nil || s.Interval <= 0 || s.TotalItems <= 0 {
			return fmt.Errorf("multiple schedule requires start_time, interval, and total_items")
		}
	case models.ScheduleRecurring:
		if s.StartTime == nil || s.Interval <= 0 {
			return fmt.Errorf("recurring schedule requires start_time and interval")
		}
	case models.ScheduleMonitoring:
		if s.CheckInterval <= 0 || s.ExpirationTimestamp == nil || s.Condition == nil {
			return fmt.Errorf("monitoring schedule requires check_interval, expiration_timestamp, and condition")
		}
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
	return nil
}

// ScheduleManager plans and tracks time/condition-based realization of
// items.
type ScheduleManager struct {
	store   Store
	states  *StateManager
	logger  *slog.Logger
	now     func() time.Time
	backoff backoff.BackoffPolicy
	maxRetries int
}

// NewScheduleManager constructs a ScheduleManager. policy governs per-item
// retry backoff (base_delay·factor^(retry_count-1) plus jitter, capped at
// max_delay); maxRetries
// is the retry cap before an item is marked permanently FAILED.
func NewScheduleManager(store Store, states *StateManager, policy backoff.BackoffPolicy, maxRetries int, logger *slog.Logger) *ScheduleManager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ScheduleManager{
		store:      store,
		states:     states,
		logger:     logger.With("component", "schedule-manager"),
		now:        func() time.Time { return time.Now().UTC() },
		backoff:    policy,
		maxRetries: maxRetries,
	}
}

// InitializeSchedule validates info and persists a new PENDING schedule.
func (m *ScheduleManager) InitializeSchedule(ctx context.Context, operationID, sessionID, contentType string, info ScheduleInfo) (string, error) {
	if err := info.validate(); err != nil {
		return "", NewError(KindIllegalStateTransition, err.Error(), nil)
	}

	now := m.now()
	sched := &models.Schedule{
		ScheduleID:          uuid.NewString(),
		OperationID:         operationID,
		SessionID:           sessionID,
		ContentType:         contentType,
		State:               models.ScheduleStatePending,
		Type:                info.Type,
		StartTime:           info.StartTime,
		Interval:            info.Interval,
		TotalItems:          info.TotalItems,
		CheckInterval:       info.CheckInterval,
		ExpirationTimestamp: info.ExpirationTimestamp,
		Condition:           info.Condition,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := m.store.CreateSchedule(ctx, sched); err != nil {
		return "", NewError(KindStorageUnavailable, "creating schedule", err)
	}
	return sched.ScheduleID, nil
}

// ActivateSchedule requires the operation be EXECUTING and schedules its
// EXECUTING/APPROVED items, ignoring any others (with none, it returns
// false); it assigns scheduled_time to each approved item in
// deterministic order (creation order, then item id), marks the schedule
// ACTIVE, and marks items SCHEDULED.
func (m *ScheduleManager) ActivateSchedule(ctx context.Context, operationID, scheduleID string) (bool, error) {
	op, err := m.store.GetOperationByID(ctx, operationID)
	if err != nil {
		return false, NewError(KindStorageUnavailable, "loading operation", err)
	}
	if op.State != models.StateExecuting {
		return false, nil
	}

	items, err := m.store.GetItems(ctx, operationID, ItemFilter{
		State:  statePtr(models.StateExecuting),
		Status: statusPtr(models.StatusApproved),
	})
	if err != nil {
		return false, NewError(KindStorageUnavailable, "loading approved items", err)
	}
	if len(items) == 0 {
		return false, nil
	}

	sched, err := m.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return false, NewError(KindStorageUnavailable, "loading schedule", err)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ItemID < items[j].ItemID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	now := m.now()
	var ids []string
	for i, item := range items {
		var scheduledAt time.Time
		if sched.Type == models.ScheduleMonitoring {
			scheduledAt = *sched.ExpirationTimestamp
		} else {
			start := now
			if sched.StartTime != nil {
				start = *sched.StartTime
			}
			scheduledAt = start.Add(time.Duration(i) * sched.Interval)
		}
		item.ScheduleID = scheduleID
		item.ScheduledTime = &scheduledAt
		item.Status = models.StatusScheduled
		item.UpdatedAt = now
		if err := m.store.UpdateItemExecution(ctx, item); err != nil {
			return false, NewError(KindStorageUnavailable, "persisting scheduled_time", err)
		}
		ids = append(ids, item.ItemID)
	}

	sched.State = models.ScheduleStateActive
	sched.ApprovedItems = ids
	sched.UpdatedAt = now
	if err := m.store.UpdateSchedule(ctx, sched); err != nil {
		return false, NewError(KindStorageUnavailable, "activating schedule", err)
	}
	return true, nil
}

// UpdateItemExecutionStatus records the outcome of one execution attempt
// per §4.5, applying exponential backoff on transient failure and
// recomputing the schedule/operation's aggregate terminal state once every
// item is terminal. On StatusFailed, cause's transience (see NewTransientError)
// decides whether the item gets rescheduled with backoff or fails terminally:
// an untagged or nil cause defaults to transient, matching the retry-first
// behavior the executor's ordinary tool failures expect.
func (m *ScheduleManager) UpdateItemExecutionStatus(ctx context.Context, itemID string, status models.OperationStatus, apiResponse map[string]any, cause error) error {
	item, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return NewError(KindStorageUnavailable, "loading item", err)
	}

	now := m.now()
	switch status {
	case models.StatusExecuted:
		item.State = models.StateCompleted
		item.Status = models.StatusExecuted
		item.ExecutedTime = &now
		item.APIResponse = apiResponse
		item.LastError = ""
	case models.StatusFailed:
		item.RetryCount++
		transient := true
		if cause != nil {
			item.LastError = cause.Error()
			var tagged *Error
			if errors.As(cause, &tagged) {
				transient = tagged.Transient
			}
		}
		if transient && item.RetryCount < m.maxRetries {
			delay := backoff.ComputeBackoff(m.backoff, item.RetryCount)
			next := now.Add(delay)
			item.ScheduledTime = &next
			item.Status = models.StatusScheduled
		} else {
			item.State = models.StateError
			item.Status = models.StatusFailed
		}
	default:
		return NewError(KindIllegalStateTransition, "unsupported execution status "+string(status), nil)
	}
	item.UpdatedAt = now

	if err := m.store.UpdateItemExecution(ctx, item); err != nil {
		return NewError(KindStorageUnavailable, "persisting item execution", err)
	}

	return m.recomputeScheduleAndOperation(ctx, item.ScheduleID, item.OperationID)
}

// ExpireItem terminally fails itemID because its monitoring schedule's
// expiration_timestamp passed before the condition fired. Unlike
// UpdateItemExecutionStatus's FAILED branch, this never consults retry_count
// or backoff: an expired monitor is always a terminal outcome, per §4.6.
func (m *ScheduleManager) ExpireItem(ctx context.Context, itemID string) error {
	item, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return NewError(KindStorageUnavailable, "loading item", err)
	}

	now := m.now()
	item.State = models.StateError
	item.Status = models.StatusFailed
	item.LastError = "expired"
	item.UpdatedAt = now
	m.logger.Info("monitor item expired", "item_id", itemID, "kind", KindScheduleExpired)

	if err := m.store.UpdateItemExecution(ctx, item); err != nil {
		return NewError(KindStorageUnavailable, "persisting item expiry", err)
	}

	return m.recomputeScheduleAndOperation(ctx, item.ScheduleID, item.OperationID)
}

func (m *ScheduleManager) recomputeScheduleAndOperation(ctx context.Context, scheduleID, operationID string) error {
	items, err := m.store.GetItems(ctx, operationID, ItemFilter{})
	if err != nil {
		return NewError(KindStorageUnavailable, "loading items for aggregate", err)
	}

	allTerminal := true
	for _, item := range items {
		if !item.Terminal() {
			allTerminal = false
			break
		}
	}
	if !allTerminal {
		return nil
	}

	if scheduleID != "" {
		sched, err := m.store.GetSchedule(ctx, scheduleID)
		if err == nil && sched.State == models.ScheduleStateActive {
			sched.State = models.ScheduleStateCompleted
			sched.UpdatedAt = m.now()
			if err := m.store.UpdateSchedule(ctx, sched); err != nil {
				return NewError(KindStorageUnavailable, "completing schedule", err)
			}
		}
	}

	status := AggregateStatus(items)
	var endStatus models.EndStatus
	switch status {
	case models.StatusExecuted:
		endStatus = models.EndApproved
	case models.StatusRejected:
		endStatus = models.EndRejected
	case models.StatusFailed:
		endStatus = models.EndFailed
	default:
		return nil
	}
	_, err = m.states.EndOperation(ctx, operationID, endStatus, "all items terminal", nil)
	return err
}

func statusPtr(s models.OperationStatus) *models.OperationStatus { return &s }
