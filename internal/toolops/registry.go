package toolops

import (
	"context"

	"github.com/arcway/toolops/pkg/models"
)

// GenerateResult is one batch of freshly generated items plus the API
// response a synchronous (non-scheduled) tool invocation may already carry.
type GenerateResult struct {
	Items       []*models.ToolItem
	APIResponse map[string]any

	// RequiresScheduling overrides the registry's static requires_scheduling
	// for this one batch. Some tools (intents' limit orders, among the
	// deposit/withdraw/swap commands its RegistryEntry otherwise marks
	// synchronous) only need a schedule for a subset of what they handle.
	RequiresScheduling bool
}

// ExecutionResult is the outcome of executing one scheduled item.
type ExecutionResult struct {
	Success     bool
	APIResponse map[string]any
	Error       string
}

// Tool is the capability interface every tool body implements. Every method
// is implemented by every tool; a tool with no monitoring support still
// provides CheckCondition, and its RegistryEntry sets SupportsMonitoring=false.
type Tool interface {
	// Run handles the first message of a new operation: the Orchestrator has
	// already started op, and Run parses the command and generates the first
	// batch of items for it.
	Run(ctx context.Context, op *models.ToolOperation, message string) (*GenerateResult, error)

	// GenerateContent produces count replacement items during the
	// regeneration loop or continued COLLECTING.
	GenerateContent(ctx context.Context, op *models.ToolOperation, params map[string]any, count int) (*GenerateResult, error)

	// ExecuteScheduledOperation performs one item's real-world effect.
	// Implementations must be idempotent, keyed by item.ItemID, so
	// at-least-once redelivery from the executor is safe.
	ExecuteScheduledOperation(ctx context.Context, item *models.ToolItem) (*ExecutionResult, error)

	// CheckCondition evaluates a monitoring schedule's predicate. Tools that
	// don't support monitoring schedules set SupportsMonitoring=false on their
	// RegistryEntry and never report fire=true here.
	CheckCondition(ctx context.Context, sched *models.Schedule) (fire bool, err error)
}

// ScheduleProvider is an optional capability implemented by tools whose
// approved items need a Schedule Manager plan: the Orchestrator type-asserts
// for it wherever requires_scheduling applies (either statically, via the
// tool's RegistryEntry, or per-batch, via GenerateResult.RequiresScheduling)
// and uses the returned ScheduleInfo to drive InitializeSchedule.
type ScheduleProvider interface {
	ScheduleFor(op *models.ToolOperation, items []*models.ToolItem) (ScheduleInfo, error)
}

// RegistryEntry is the immutable metadata row the Orchestrator consults
// before dispatching to a tool.
type RegistryEntry struct {
	ToolType              string
	ContentType           string
	RequiresApproval      bool
	RequiresScheduling    bool
	SupportsMonitoring    bool
	RequiredCollaborators []string
	Factory               func() Tool
}

// Registry is the immutable table keyed by tool_type.
type Registry struct {
	entries map[string]RegistryEntry
}

// NewRegistry builds a Registry from a set of entries.
func NewRegistry(entries ...RegistryEntry) *Registry {
	r := &Registry{entries: make(map[string]RegistryEntry, len(entries))}
	for _, e := range entries {
		r.entries[e.ToolType] = e
	}
	return r
}

// Lookup returns the entry for toolType, or KindUnknownTool if unregistered.
func (r *Registry) Lookup(toolType string) (RegistryEntry, error) {
	entry, ok := r.entries[toolType]
	if !ok {
		return RegistryEntry{}, NewError(KindUnknownTool, "tool_type "+toolType+" is not registered", nil)
	}
	return entry, nil
}

// Construct builds a fresh Tool instance for toolType via its registered
// factory.
func (r *Registry) Construct(toolType string) (Tool, error) {
	entry, err := r.Lookup(toolType)
	if err != nil {
		return nil, err
	}
	if entry.Factory == nil {
		return nil, NewError(KindUnknownTool, "tool_type "+toolType+" has no factory", nil)
	}
	return entry.Factory(), nil
}
