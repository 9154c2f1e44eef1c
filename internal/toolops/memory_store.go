package toolops

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arcway/toolops/pkg/models"
)

const maxMessagesPerSession = 1000

// MemoryStore is an in-memory Store for tests and local runs: one mutex
// guards all maps, and every returned value is a deep-enough copy that
// callers can't mutate internal state through it.
type MemoryStore struct {
	mu         sync.Mutex
	messages   map[string][]*models.Message
	operations map[string]*models.ToolOperation
	items      map[string]*models.ToolItem
	schedules  map[string]*models.Schedule
	claims     map[string]time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:   make(map[string][]*models.Message),
		operations: make(map[string]*models.ToolOperation),
		items:      make(map[string]*models.ToolItem),
		schedules:  make(map[string]*models.Schedule),
		claims:     make(map[string]time.Time),
	}
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	return &c
}

func cloneOperation(o *models.ToolOperation) *models.ToolOperation {
	c := *o
	c.Output.PendingItemIDs = append([]string(nil), o.Output.PendingItemIDs...)
	c.Output.ApprovedItemIDs = append([]string(nil), o.Output.ApprovedItemIDs...)
	c.Output.RejectedItemIDs = append([]string(nil), o.Output.RejectedItemIDs...)
	c.Metadata.StateHistory = append([]models.StateHistoryEntry(nil), o.Metadata.StateHistory...)
	return &c
}

func cloneItem(i *models.ToolItem) *models.ToolItem {
	c := *i
	return &c
}

func cloneSchedule(s *models.Schedule) *models.Schedule {
	c := *s
	c.PendingItems = append([]string(nil), s.PendingItems...)
	c.ApprovedItems = append([]string(nil), s.ApprovedItems...)
	c.RejectedItems = append([]string(nil), s.RejectedItems...)
	return &c
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" || msg.SessionID == "" {
		return NewError(KindStorageUnavailable, "message id and session_id are required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.messages[msg.SessionID]
	history = append(history, cloneMessage(msg))
	if len(history) > maxMessagesPerSession {
		history = history[len(history)-maxMessagesPerSession:]
	}
	s.messages[msg.SessionID] = history
	return nil
}

func (s *MemoryStore) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.messages[sessionID]
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}
	start := len(history) - limit
	out := make([]*models.Message, 0, limit)
	for _, m := range history[start:] {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func (s *MemoryStore) CreateOperation(ctx context.Context, op *models.ToolOperation) error {
	if op.OperationID == "" {
		return NewError(KindStorageUnavailable, "operation_id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.operations[op.OperationID]; exists {
		return NewError(KindStorageUnavailable, "operation already exists", nil)
	}
	s.operations[op.OperationID] = cloneOperation(op)
	return nil
}

func (s *MemoryStore) GetOperationBySession(ctx context.Context, sessionID string) (*models.ToolOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.operations {
		if op.SessionID == sessionID && op.NonTerminal() {
			return cloneOperation(op), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetOperationByID(ctx context.Context, operationID string) (*models.ToolOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[operationID]
	if !ok {
		return nil, NewError(KindStorageUnavailable, "operation not found", nil)
	}
	return cloneOperation(op), nil
}

func (s *MemoryStore) UpdateOperation(ctx context.Context, op *models.ToolOperation, expectedState *models.OperationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.operations[op.OperationID]
	if !ok {
		return NewError(KindStorageUnavailable, "operation not found", nil)
	}
	if expectedState != nil && current.State != *expectedState {
		return NewError(KindIllegalStateTransition, "operation state changed underneath caller", nil)
	}
	s.operations[op.OperationID] = cloneOperation(op)
	return nil
}

func (s *MemoryStore) InsertItems(ctx context.Context, items []*models.ToolItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if item.ItemID == "" {
			return NewError(KindStorageUnavailable, "item_id is required", nil)
		}
		s.items[item.ItemID] = cloneItem(item)
	}
	return nil
}

func (s *MemoryStore) GetItems(ctx context.Context, operationID string, filter ItemFilter) ([]*models.ToolItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ToolItem
	for _, item := range s.items {
		if item.OperationID != operationID {
			continue
		}
		if filter.State != nil && item.State != *filter.State {
			continue
		}
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		out = append(out, cloneItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (s *MemoryStore) GetItem(ctx context.Context, itemID string) (*models.ToolItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, NewError(KindStorageUnavailable, "item not found", nil)
	}
	return cloneItem(item), nil
}

func (s *MemoryStore) UpdateItemsState(ctx context.Context, itemIDs []string, state models.OperationState, status models.OperationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range itemIDs {
		item, ok := s.items[id]
		if !ok {
			continue
		}
		item.State = state
		item.Status = status
		item.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) UpdateItemExecution(ctx context.Context, item *models.ToolItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ItemID]; !ok {
		return NewError(KindStorageUnavailable, "item not found", nil)
	}
	s.items[item.ItemID] = cloneItem(item)
	return nil
}

func (s *MemoryStore) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	if sched.ScheduleID == "" {
		return NewError(KindStorageUnavailable, "schedule_id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sched.ScheduleID] = cloneSchedule(sched)
	return nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return nil, NewError(KindStorageUnavailable, "schedule not found", nil)
	}
	return cloneSchedule(sched), nil
}

func (s *MemoryStore) UpdateSchedule(ctx context.Context, sched *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sched.ScheduleID]; !ok {
		return NewError(KindStorageUnavailable, "schedule not found", nil)
	}
	s.schedules[sched.ScheduleID] = cloneSchedule(sched)
	return nil
}

func (s *MemoryStore) ListDueItems(ctx context.Context, now time.Time, limit int) ([]*models.ToolItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ToolItem
	for _, item := range s.items {
		if item.Status != models.StatusScheduled || item.ScheduledTime == nil {
			continue
		}
		if item.ScheduledTime.After(now) {
			continue
		}
		sched, ok := s.schedules[item.ScheduleID]
		if !ok || sched.State != models.ScheduleStateActive {
			continue
		}
		if claimedUntil, claimed := s.claims[item.ItemID]; claimed && claimedUntil.After(now) {
			continue
		}
		out = append(out, cloneItem(item))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledTime.Before(*out[j].ScheduledTime) ||
			(out[i].ScheduledTime.Equal(*out[j].ScheduledTime) && out[i].ItemID < out[j].ItemID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListActiveMonitors(ctx context.Context) ([]*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Schedule
	for _, sched := range s.schedules {
		if sched.Type == models.ScheduleMonitoring && sched.State == models.ScheduleStateActive {
			out = append(out, cloneSchedule(sched))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleID < out[j].ScheduleID })
	return out, nil
}

func (s *MemoryStore) ClaimItem(ctx context.Context, itemID string, claimedUntil time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return false, NewError(KindStorageUnavailable, "item not found", nil)
	}
	if item.Status != models.StatusScheduled {
		return false, nil
	}
	if until, claimed := s.claims[itemID]; claimed && until.After(time.Now()) {
		return false, nil
	}
	s.claims[itemID] = claimedUntil
	return true, nil
}

func (s *MemoryStore) ReclaimStaleItems(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, until := range s.claims {
		if until.Before(now) {
			delete(s.claims, id)
			count++
		}
	}
	return count, nil
}
