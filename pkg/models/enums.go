package models

// OperationState is the operation-level state machine defined by the
// tool state manager. Transitions are validated in internal/toolops.
type OperationState string

const (
	StateInactive   OperationState = "INACTIVE"
	StateCollecting OperationState = "COLLECTING"
	StateApproving  OperationState = "APPROVING"
	StateExecuting  OperationState = "EXECUTING"
	StateCompleted  OperationState = "COMPLETED"
	StateCancelled  OperationState = "CANCELLED"
	StateError      OperationState = "ERROR"
)

// Terminal reports whether the state has no outgoing transitions.
func (s OperationState) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateError:
		return true
	default:
		return false
	}
}

// OperationStatus is the aggregate outcome attached to an operation or item,
// distinct from its state machine position.
type OperationStatus string

const (
	StatusPending   OperationStatus = "PENDING"
	StatusApproved  OperationStatus = "APPROVED"
	StatusRejected  OperationStatus = "REJECTED"
	StatusScheduled OperationStatus = "SCHEDULED"
	StatusExecuted  OperationStatus = "EXECUTED"
	StatusFailed    OperationStatus = "FAILED"
)

// Terminal reports whether the status will never change again outside of
// last_error updates on replay-safe re-reporting.
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// EndStatus is the status passed to EndOperation; it maps to a terminal state.
type EndStatus string

const (
	EndApproved EndStatus = "APPROVED"
	EndRejected EndStatus = "REJECTED"
	EndFailed   EndStatus = "FAILED"
)

// ScheduleState tracks a schedule's own lifecycle.
type ScheduleState string

const (
	ScheduleStatePending   ScheduleState = "PENDING"
	ScheduleStateActive    ScheduleState = "ACTIVE"
	ScheduleStatePaused    ScheduleState = "PAUSED"
	ScheduleStateCompleted ScheduleState = "COMPLETED"
	ScheduleStateCancelled ScheduleState = "CANCELLED"
	ScheduleStateError     ScheduleState = "ERROR"
)

// ScheduleType selects how a schedule turns approved items into executions.
type ScheduleType string

const (
	ScheduleOneTime   ScheduleType = "one_time"
	ScheduleMultiple  ScheduleType = "multiple"
	ScheduleRecurring ScheduleType = "recurring"
	ScheduleMonitoring ScheduleType = "monitoring"
)

// ItemExecutionStatus names an executor-internal claim marker, distinct from
// OperationStatus. Nothing in this module sets it: executor claims are kept
// in the store's claims table, and an item's status never takes this value.
type ItemExecutionStatus string

const (
	ExecClaimed ItemExecutionStatus = "EXECUTING-CLAIMED"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// InteractionType classifies why a message was appended, mirroring the
// distinction the agent state manager needs between ordinary chat turns and
// tool-flow turns.
type InteractionType string

const (
	InteractionChat      InteractionType = "chat"
	InteractionToolReply InteractionType = "tool_reply"
	InteractionSystem    InteractionType = "system"
)

// ApprovalAction is the sum type the Approval Manager classifies a free-text
// reply into. It intentionally has no "unknown" catch-all beyond Error: a
// classifier that can't decide returns AwaitInput, not a zero value.
type ApprovalAction string

const (
	ActionFullApproval    ApprovalAction = "FULL_APPROVAL"
	ActionPartialApproval ApprovalAction = "PARTIAL_APPROVAL"
	ActionRegenerateAll   ApprovalAction = "REGENERATE_ALL"
	ActionCancel          ApprovalAction = "CANCEL"
	ActionAwaitInput      ApprovalAction = "AWAIT_INPUT"
	ActionError           ApprovalAction = "ERROR"
)

// AgentState is the session-level router state from the agent state manager.
type AgentState string

const (
	AgentNormalChat    AgentState = "NORMAL_CHAT"
	AgentToolOperation AgentState = "TOOL_OPERATION"
)

// AgentAction drives AgentState transitions. Kept as a typed enum rather
// than bare strings.
type AgentAction string

const (
	ActionStartTool    AgentAction = "START_TOOL"
	ActionCompleteTool AgentAction = "COMPLETE_TOOL"
	ActionCancelTool   AgentAction = "CANCEL_TOOL"
	ActionAgentError   AgentAction = "ERROR"
)
