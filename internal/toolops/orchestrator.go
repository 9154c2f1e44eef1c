package toolops

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arcway/toolops/internal/observability"
	"github.com/arcway/toolops/pkg/models"
)

// TriggerDetector maps free text to a tool_type, the consumed contract of
// §6: detect(text) -> tool_type?.
type TriggerDetector interface {
	Detect(text string) (toolType string, ok bool)
}

// ChatCompleter is the minimal normal-chat fallback contract the
// Orchestrator needs from an LLM client; the classifier used by the
// Approval Manager is a separate, narrower Classifier consumer.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []models.Message, model string) (string, error)
}

// ReplyEnvelope is the standard marshaled result of one Orchestrator
// dispatch, per §4.8.
type ReplyEnvelope struct {
	Status   string         `json:"status"`
	State    models.AgentState `json:"state"`
	Response string         `json:"response"`
	Data     map[string]any `json:"data,omitempty"`
}

// Orchestrator is the per-message entry point for tool flow: it looks up
// the tool by registry, constructs/injects collaborators, and marshals
// results into the standard reply envelope.
type Orchestrator struct {
	registry   *Registry
	states     *StateManager
	approvals  *ApprovalManager
	schedules  *ScheduleManager
	agentState *AgentStateManager
	detector   TriggerDetector
	chat       ChatCompleter
	defaultModel string
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// WithObservability attaches metrics and tracing to o, returning o for
// chaining. Either argument may be nil to leave that signal disabled.
func (o *Orchestrator) WithObservability(metrics *observability.Metrics, tracer *observability.Tracer) *Orchestrator {
	o.metrics = metrics
	o.tracer = tracer
	return o
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(
	registry *Registry,
	states *StateManager,
	approvals *ApprovalManager,
	schedules *ScheduleManager,
	agentState *AgentStateManager,
	detector TriggerDetector,
	chat ChatCompleter,
	defaultModel string,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:     registry,
		states:       states,
		approvals:    approvals,
		schedules:    schedules,
		agentState:   agentState,
		detector:     detector,
		chat:         chat,
		defaultModel: defaultModel,
		logger:       logger.With("component", "orchestrator"),
	}
}

// ResolveForOperation implements ToolResolver for the Executor: it loads the
// operation and constructs a fresh tool instance for its tool_type.
func (o *Orchestrator) ResolveForOperation(ctx context.Context, operationID string) (Tool, *models.ToolOperation, error) {
	op, err := o.states.store.GetOperationByID(ctx, operationID)
	if err != nil {
		return nil, nil, NewError(KindStorageUnavailable, "loading operation for resolution", err)
	}
	tool, err := o.registry.Construct(op.ToolType)
	if err != nil {
		return nil, nil, err
	}
	return tool, op, nil
}

// HandleMessage is the top-level entry point matching §4.7's "on each
// inbound message" description plus §4.8's dispatch.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, message string) (*ReplyEnvelope, error) {
	state := o.agentState.Current(sessionID)

	if state == models.AgentNormalChat {
		toolType, ok := o.detector.Detect(message)
		if !ok {
			reply, err := o.normalChat(ctx, sessionID, message)
			if err != nil {
				return nil, err
			}
			return &ReplyEnvelope{Status: "ok", State: models.AgentNormalChat, Response: reply}, nil
		}
		o.agentState.Apply(ctx, sessionID, models.ActionStartTool)
		return o.dispatchToTool(ctx, sessionID, toolType, message)
	}

	// TOOL_OPERATION: always delegate to the bound operation's tool.
	op, err := o.states.store.GetOperationBySession(ctx, sessionID)
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "loading bound operation", err)
	}
	if op == nil {
		// Operation ended between messages without a COMPLETE_TOOL/CANCEL_TOOL
		// action reaching us; resync the router rather than erroring.
		o.agentState.Apply(ctx, sessionID, models.ActionCompleteTool)
		return o.HandleMessage(ctx, sessionID, message)
	}
	return o.dispatchToOperation(ctx, op, message)
}

func (o *Orchestrator) normalChat(ctx context.Context, sessionID, message string) (string, error) {
	return o.chat.Complete(ctx, []models.Message{{
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   message,
	}}, o.defaultModel)
}

func (o *Orchestrator) dispatchToTool(ctx context.Context, sessionID, toolType, message string) (*ReplyEnvelope, error) {
	entry, err := o.registry.Lookup(toolType)
	if err != nil {
		o.agentState.Apply(ctx, sessionID, models.ActionAgentError)
		return nil, err
	}

	op, err := o.states.StartOperation(ctx, sessionID, toolType, entry.ContentType, models.OperationInput{Command: message})
	if err != nil {
		if kind, _ := KindOf(err); kind == KindConflictingOperation {
			return &ReplyEnvelope{Status: "refused", State: models.AgentToolOperation, Response: "you already have an operation in progress"}, nil
		}
		o.agentState.Apply(ctx, sessionID, models.ActionAgentError)
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.OperationStarted(toolType)
	}

	tool, err := o.registry.Construct(toolType)
	if err != nil {
		o.agentState.Apply(ctx, sessionID, models.ActionAgentError)
		return nil, err
	}

	result, err := tool.Run(ctx, op, message)
	if err != nil {
		o.agentState.Apply(ctx, sessionID, models.ActionAgentError)
		return nil, NewError(KindToolExecutionFailed, "tool.Run failed", err)
	}

	if entry.RequiresApproval {
		presentation, err := o.approvals.EnterApproving(ctx, op, result.Items)
		if err != nil {
			return nil, err
		}
		return &ReplyEnvelope{
			Status:   "awaiting_approval",
			State:    models.AgentToolOperation,
			Response: presentApprovalPrompt(presentation.Items),
			Data:     map[string]any{"items": presentation.Items},
		}, nil
	}

	op, err = o.beginExecution(ctx, op, result.Items)
	if err != nil {
		o.agentState.Apply(ctx, sessionID, models.ActionAgentError)
		return nil, err
	}

	if entry.RequiresScheduling || result.RequiresScheduling {
		return o.scheduleAndReply(ctx, sessionID, op, tool, entry)
	}
	return o.finishSynchronousRun(ctx, sessionID, op, result)
}

// beginExecution persists freshly generated items as EXECUTING/APPROVED and
// transitions op out of COLLECTING straight into EXECUTING, the path a tool
// with requires_approval=false takes instead of going through APPROVING.
func (o *Orchestrator) beginExecution(ctx context.Context, op *models.ToolOperation, items []*models.ToolItem) (*models.ToolOperation, error) {
	var ids []string
	for _, item := range items {
		item.State = models.StateExecuting
		item.Status = models.StatusApproved
		ids = append(ids, item.ItemID)
	}
	if err := o.states.store.InsertItems(ctx, items); err != nil {
		return nil, NewError(KindStorageUnavailable, "persisting generated items", err)
	}
	return o.states.UpdateOperation(ctx, op.OperationID, statePtr(models.StateExecuting), "executing", &models.OperationOutput{
		ApprovedItemIDs: ids,
	}, "")
}

func (o *Orchestrator) dispatchToOperation(ctx context.Context, op *models.ToolOperation, message string) (*ReplyEnvelope, error) {
	entry, err := o.registry.Lookup(op.ToolType)
	if err != nil {
		return nil, err
	}
	tool, err := o.registry.Construct(op.ToolType)
	if err != nil {
		return nil, err
	}

	switch op.State {
	case models.StateApproving:
		regenerate := func(ctx context.Context, op *models.ToolOperation, count int) ([]*models.ToolItem, error) {
			result, err := tool.GenerateContent(ctx, op, op.Input.Parameters, count)
			if err != nil {
				return nil, err
			}
			return result.Items, nil
		}
		result, err := o.approvals.HandleReply(ctx, op, message, regenerate)
		if err != nil {
			return nil, err
		}
		return o.envelopeFromApproval(ctx, op.SessionID, result, entry, tool)

	case models.StateCollecting:
		result, err := tool.GenerateContent(ctx, op, op.Input.Parameters, 0)
		if err != nil {
			return nil, NewError(KindToolExecutionFailed, "continued generation failed", err)
		}
		presentation, err := o.approvals.EnterApproving(ctx, op, result.Items)
		if err != nil {
			return nil, err
		}
		return &ReplyEnvelope{
			Status:   "awaiting_approval",
			State:    models.AgentToolOperation,
			Response: presentApprovalPrompt(presentation.Items),
			Data:     map[string]any{"items": presentation.Items},
		}, nil

	default:
		o.agentState.Apply(ctx, op.SessionID, models.ActionCompleteTool)
		return &ReplyEnvelope{Status: "completed", State: models.AgentNormalChat, Response: "that operation has already finished"}, nil
	}
}

func (o *Orchestrator) envelopeFromApproval(ctx context.Context, sessionID string, result *HandleReplyResult, entry RegistryEntry, tool Tool) (*ReplyEnvelope, error) {
	switch result.Action {
	case models.ActionFullApproval:
		if entry.RequiresScheduling {
			return o.scheduleAndReply(ctx, sessionID, result.Operation, tool, entry)
		}
		if o.metrics != nil {
			o.metrics.OperationEnded(entry.ToolType, "executed")
		}
		o.agentState.Apply(ctx, sessionID, models.ActionCompleteTool)
		return &ReplyEnvelope{Status: "completed", State: models.AgentNormalChat, Response: "approved and executed"}, nil
	case models.ActionCancel:
		if o.metrics != nil {
			o.metrics.OperationEnded(entry.ToolType, "rejected")
		}
		o.agentState.Apply(ctx, sessionID, models.ActionCancelTool)
		return &ReplyEnvelope{Status: "cancelled", State: models.AgentNormalChat, Response: "cancelled"}, nil
	case models.ActionError:
		if o.metrics != nil {
			o.metrics.OperationEnded(entry.ToolType, "failed")
		}
		o.agentState.Apply(ctx, sessionID, models.ActionAgentError)
		return &ReplyEnvelope{Status: "error", State: models.AgentNormalChat, Response: "something went wrong processing that"}, nil
	default:
		return &ReplyEnvelope{Status: "awaiting_approval", State: models.AgentToolOperation, Response: result.Clarification}, nil
	}
}

// finishSynchronousRun marks op's already-EXECUTING items COMPLETED/EXECUTED
// and ends the operation. Callers must have run the items through
// beginExecution first.
func (o *Orchestrator) finishSynchronousRun(ctx context.Context, sessionID string, op *models.ToolOperation, result *GenerateResult) (*ReplyEnvelope, error) {
	var ids []string
	for _, item := range result.Items {
		ids = append(ids, item.ItemID)
	}
	if err := o.states.UpdateOperationItems(ctx, ids, models.StateCompleted, models.StatusExecuted); err != nil {
		return nil, err
	}
	updated, err := o.states.EndOperation(ctx, op.OperationID, models.EndApproved, "synchronous execution", result.APIResponse)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.OperationEnded(op.ToolType, "executed")
	}
	o.agentState.Apply(ctx, sessionID, models.ActionCompleteTool)
	return &ReplyEnvelope{
		Status:   "completed",
		State:    models.AgentNormalChat,
		Response: "done",
		Data:     map[string]any{"operation": updated, "items": result.Items},
	}, nil
}

// scheduleAndReply drives op's approved items through InitializeSchedule and
// ActivateSchedule, replacing the canned "scheduled" reply that previously
// never touched the Schedule Manager.
func (o *Orchestrator) scheduleAndReply(ctx context.Context, sessionID string, op *models.ToolOperation, tool Tool, entry RegistryEntry) (*ReplyEnvelope, error) {
	if _, err := o.initializeAndActivateSchedule(ctx, op, tool, entry); err != nil {
		o.agentState.Apply(ctx, sessionID, models.ActionAgentError)
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.OperationEnded(entry.ToolType, "scheduled")
	}
	o.agentState.Apply(ctx, sessionID, models.ActionCompleteTool)
	return &ReplyEnvelope{Status: "scheduled", State: models.AgentNormalChat, Response: "approved — scheduling for execution"}, nil
}

// initializeAndActivateSchedule loads op's EXECUTING/APPROVED items, asks
// tool (which must implement ScheduleProvider) for their schedule_info, and
// calls InitializeSchedule followed by ActivateSchedule so the items carry a
// scheduled_time the Executor's due-time sweep can find.
func (o *Orchestrator) initializeAndActivateSchedule(ctx context.Context, op *models.ToolOperation, tool Tool, entry RegistryEntry) (string, error) {
	provider, ok := tool.(ScheduleProvider)
	if !ok {
		return "", NewError(KindIllegalStateTransition, "tool_type "+entry.ToolType+" requires scheduling but its tool has no ScheduleFor", nil)
	}

	items, err := o.states.GetOperationItems(ctx, op.OperationID, ItemFilter{
		State:  statePtr(models.StateExecuting),
		Status: statusPtr(models.StatusApproved),
	})
	if err != nil {
		return "", err
	}

	info, err := provider.ScheduleFor(op, items)
	if err != nil {
		return "", NewError(KindToolExecutionFailed, "computing schedule_info", err)
	}

	scheduleID, err := o.schedules.InitializeSchedule(ctx, op.OperationID, op.SessionID, entry.ContentType, info)
	if err != nil {
		return "", err
	}
	if _, err := o.schedules.ActivateSchedule(ctx, op.OperationID, scheduleID); err != nil {
		return "", err
	}
	return scheduleID, nil
}

func presentApprovalPrompt(items []*models.ToolItem) string {
	if len(items) == 0 {
		return "nothing to approve"
	}
	var b strings.Builder
	b.WriteString("Here's what I'd do:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.RawContent)
	}
	b.WriteString("\nReply to approve, partially approve, regenerate, or cancel.")
	return b.String()
}
