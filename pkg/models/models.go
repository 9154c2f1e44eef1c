// Package models holds the persisted entities of the tool operation
// lifecycle: sessions, messages, operations, items and schedules.
package models

import "time"

// Session is a conversational thread. It owns an append-only Message log
// and at most one non-terminal ToolOperation at any moment.
type Session struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Key       string         `json:"key"`
	Title     string         `json:"title"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Message is one append-only entry in a session's audit log.
type Message struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	Role            Role            `json:"role"`
	Content         string          `json:"content"`
	InteractionType InteractionType `json:"interaction_type"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// StateHistoryEntry stamps one state-machine transition for audit and for
// the transition-legality property test.
type StateHistoryEntry struct {
	State OperationState `json:"state"`
	Step  string         `json:"step"`
	At    time.Time      `json:"at"`
}

// OperationInput is the input envelope of a ToolOperation: the original
// command plus whatever the tool body parsed out of it.
type OperationInput struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	ScheduleID string         `json:"schedule_id,omitempty"`
}

// OperationOutput is the rolling output envelope of a ToolOperation.
type OperationOutput struct {
	PendingItemIDs  []string        `json:"pending_item_ids"`
	ApprovedItemIDs []string        `json:"approved_item_ids"`
	RejectedItemIDs []string        `json:"rejected_item_ids"`
	APIResponse     map[string]any  `json:"api_response,omitempty"`
	Status          OperationStatus `json:"status"`
}

// OperationMetadata is the bookkeeping envelope of a ToolOperation.
type OperationMetadata struct {
	StateHistory        []StateHistoryEntry `json:"state_history"`
	RequiresApproval     bool                `json:"requires_approval"`
	RequiresScheduling   bool                `json:"requires_scheduling"`
	EndReason            string              `json:"end_reason,omitempty"`
	RegenerationRounds   int                 `json:"regeneration_rounds"`
}

// ToolOperation is one user intent that needs tool work.
type ToolOperation struct {
	OperationID string            `json:"operation_id"`
	SessionID   string            `json:"session_id"`
	ToolType    string            `json:"tool_type"`
	ContentType string            `json:"content_type"`
	State       OperationState    `json:"state"`
	Step        string            `json:"step"`
	Input       OperationInput    `json:"input"`
	Output      OperationOutput   `json:"output"`
	Metadata    OperationMetadata `json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NonTerminal reports whether the operation still has outstanding work.
func (o *ToolOperation) NonTerminal() bool {
	return !o.State.Terminal()
}

// ToolItem is one artifact produced by an operation.
type ToolItem struct {
	ItemID        string         `json:"item_id"`
	OperationID   string         `json:"operation_id"`
	SessionID     string         `json:"session_id"`
	ContentType   string         `json:"content_type"`
	ScheduleID    string         `json:"schedule_id,omitempty"`
	State         OperationState `json:"state"`
	Status        OperationStatus `json:"status"`
	Content       map[string]any `json:"content,omitempty"`
	RawContent    string         `json:"raw_content"`
	ScheduledTime *time.Time     `json:"scheduled_time,omitempty"`
	ExecutedTime  *time.Time     `json:"executed_time,omitempty"`
	PostedTime    *time.Time     `json:"posted_time,omitempty"`
	RetryCount    int            `json:"retry_count"`
	LastError     string         `json:"last_error,omitempty"`
	APIResponse   map[string]any `json:"api_response,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Terminal reports whether the item's status will never change again
// outside of last_error updates on replay-safe re-reporting.
func (i *ToolItem) Terminal() bool {
	return i.Status.Terminal()
}

// ConditionDescriptor is a tool-interpreted predicate for monitoring
// schedules, e.g. {asset: "NEAR", operator: ">=", threshold: 3.0}.
type ConditionDescriptor struct {
	Asset     string  `json:"asset"`
	Operator  string  `json:"operator"`
	Threshold float64 `json:"threshold"`
}

// Schedule is the plan for realizing a group of approved items.
type Schedule struct {
	ScheduleID          string        `json:"schedule_id"`
	OperationID         string        `json:"operation_id"`
	SessionID           string        `json:"session_id"`
	ContentType         string        `json:"content_type"`
	State               ScheduleState `json:"state"`
	Type                ScheduleType  `json:"type"`
	StartTime           *time.Time    `json:"start_time,omitempty"`
	Interval            time.Duration `json:"interval,omitempty"`
	TotalItems          int           `json:"total_items,omitempty"`
	CheckInterval        time.Duration        `json:"check_interval,omitempty"`
	ExpirationTimestamp *time.Time    `json:"expiration_timestamp,omitempty"`
	Condition           *ConditionDescriptor `json:"condition,omitempty"`
	PendingItems        []string      `json:"pending_items"`
	ApprovedItems       []string      `json:"approved_items"`
	RejectedItems       []string      `json:"rejected_items"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}
