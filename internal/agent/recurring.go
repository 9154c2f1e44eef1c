package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/arcway/toolops/internal/tasks"
	"github.com/arcway/toolops/internal/toolops"
	"github.com/arcway/toolops/pkg/models"
)

// NewRecurringRunFunc builds the tasks.RunFunc that bridges a cron fire back
// into the tool operation lifecycle engine: it resolves the tool owning
// itemID's operation and replays the item's scheduled execution, the same
// idempotent path the due-time sweep uses.
func NewRecurringRunFunc(store toolops.Store, schedule *toolops.ScheduleManager, resolver toolops.ToolResolver) tasks.RunFunc {
	return func(ctx context.Context, operationID, itemID string) (string, error) {
		item, err := store.GetItem(ctx, itemID)
		if err != nil {
			return "", fmt.Errorf("agent: loading recurring item %s: %w", itemID, err)
		}
		if item == nil {
			return "", fmt.Errorf("agent: recurring item %s not found", itemID)
		}

		tool, _, err := resolver.ResolveForOperation(ctx, operationID)
		if err != nil {
			return "", fmt.Errorf("agent: resolving tool for operation %s: %w", operationID, err)
		}

		result, err := tool.ExecuteScheduledOperation(ctx, item)
		if err != nil {
			_ = schedule.UpdateItemExecutionStatus(ctx, itemID, models.StatusFailed, nil, err)
			return "", err
		}
		if !result.Success {
			_ = schedule.UpdateItemExecutionStatus(ctx, itemID, models.StatusFailed, result.APIResponse, errors.New(result.Error))
			return "", fmt.Errorf("agent: recurring execution of item %s failed: %s", itemID, result.Error)
		}
		if err := schedule.UpdateItemExecutionStatus(ctx, itemID, models.StatusExecuted, result.APIResponse, nil); err != nil {
			return "", fmt.Errorf("agent: recording recurring execution result: %w", err)
		}
		return "recurring fire executed", nil
	}
}
