package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunFunc performs one recurring-schedule fire for the tool operation and
// item a ScheduledTask is linked to, returning a human-readable summary of
// what happened (stored on the TaskExecution as Response).
type RunFunc func(ctx context.Context, operationID, itemID string) (string, error)

// ToolOpsExecutor bridges cron fires from the scheduler to the tool
// operation lifecycle engine: each fire re-invokes the owning tool's
// scheduled-execution path for the task's linked operation/item.
type ToolOpsExecutor struct {
	run    RunFunc
	logger *slog.Logger
}

// NewToolOpsExecutor creates an executor that calls run on every fire.
func NewToolOpsExecutor(run RunFunc, logger *slog.Logger) *ToolOpsExecutor {
	if logger == nil {
		logger = slog.Default().With("component", "tasks.tool-ops-executor")
	}
	return &ToolOpsExecutor{run: run, logger: logger}
}

// Execute runs a scheduled task by delegating to the linked tool operation.
func (e *ToolOpsExecutor) Execute(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (string, error) {
	if task == nil {
		return "", fmt.Errorf("task is required")
	}
	if task.LinkedOperationID == "" || task.LinkedItemID == "" {
		return "", fmt.Errorf("task %s has no linked operation/item", task.ID)
	}
	if exec != nil {
		exec.LinkedItemID = task.LinkedItemID
	}

	e.logger.Info("firing recurring tool operation",
		"task_id", task.ID,
		"operation_id", task.LinkedOperationID,
		"item_id", task.LinkedItemID,
	)

	response, err := e.run(ctx, task.LinkedOperationID, task.LinkedItemID)
	if err != nil {
		e.logger.Error("recurring tool operation fire failed",
			"task_id", task.ID,
			"operation_id", task.LinkedOperationID,
			"error", err,
		)
		return "", err
	}
	return response, nil
}

// NoOpExecutor is a no-operation executor for testing.
type NoOpExecutor struct {
	Response string
	Error    error
	Delay    time.Duration
}

// Execute returns a configured response after an optional delay.
func (e *NoOpExecutor) Execute(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (string, error) {
	if e.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.Delay):
		}
	}
	return e.Response, e.Error
}

// CallbackExecutor wraps a function as an Executor.
type CallbackExecutor struct {
	Fn func(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (string, error)
}

// Execute calls the wrapped function.
func (e *CallbackExecutor) Execute(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (string, error) {
	if e.Fn == nil {
		return "", fmt.Errorf("callback function is nil")
	}
	return e.Fn(ctx, task, exec)
}
