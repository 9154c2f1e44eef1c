package tasks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestToolOpsExecutor_CallsRunWithLinkedIDs(t *testing.T) {
	var gotOperationID, gotItemID string

	exec := NewToolOpsExecutor(func(ctx context.Context, operationID, itemID string) (string, error) {
		gotOperationID = operationID
		gotItemID = itemID
		return "done", nil
	}, nil)

	task := &ScheduledTask{
		ID:                "task-1",
		LinkedOperationID: "op-1",
		LinkedItemID:      "item-1",
	}
	execution := &TaskExecution{ID: "exec-1"}

	resp, err := exec.Execute(context.Background(), task, execution)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "done" {
		t.Errorf("response = %q, want %q", resp, "done")
	}
	if gotOperationID != "op-1" {
		t.Errorf("operationID = %q, want %q", gotOperationID, "op-1")
	}
	if gotItemID != "item-1" {
		t.Errorf("itemID = %q, want %q", gotItemID, "item-1")
	}
	if execution.LinkedItemID != "item-1" {
		t.Errorf("execution.LinkedItemID = %q, want %q", execution.LinkedItemID, "item-1")
	}
}

func TestToolOpsExecutor_RequiresTask(t *testing.T) {
	exec := NewToolOpsExecutor(func(ctx context.Context, operationID, itemID string) (string, error) {
		return "", nil
	}, nil)

	_, err := exec.Execute(context.Background(), nil, &TaskExecution{})
	if err == nil {
		t.Error("expected error for nil task")
	}
}

func TestToolOpsExecutor_RequiresLinkedIDs(t *testing.T) {
	exec := NewToolOpsExecutor(func(ctx context.Context, operationID, itemID string) (string, error) {
		return "should not be called", nil
	}, nil)

	tests := []struct {
		name string
		task *ScheduledTask
	}{
		{"missing both", &ScheduledTask{ID: "t1"}},
		{"missing item", &ScheduledTask{ID: "t1", LinkedOperationID: "op-1"}},
		{"missing operation", &ScheduledTask{ID: "t1", LinkedItemID: "item-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.Execute(context.Background(), tt.task, &TaskExecution{})
			if err == nil {
				t.Error("expected error for unlinked task")
			}
		})
	}
}

func TestToolOpsExecutor_PropagatesErrors(t *testing.T) {
	expectedErr := errors.New("execution failed")
	exec := NewToolOpsExecutor(func(ctx context.Context, operationID, itemID string) (string, error) {
		return "", expectedErr
	}, nil)

	task := &ScheduledTask{ID: "test", LinkedOperationID: "op-1", LinkedItemID: "item-1"}
	_, err := exec.Execute(context.Background(), task, &TaskExecution{})
	if !errors.Is(err, expectedErr) {
		t.Errorf("error = %v, want %v", err, expectedErr)
	}
}

func TestNoOpExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("returns configured response", func(t *testing.T) {
		exec := &NoOpExecutor{
			Response: "test response",
		}
		task := &ScheduledTask{ID: "test"}
		execution := &TaskExecution{ID: "exec"}

		resp, err := exec.Execute(ctx, task, execution)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp != "test response" {
			t.Errorf("response = %q, want %q", resp, "test response")
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		expectedErr := errors.New("configured error")
		exec := &NoOpExecutor{
			Error: expectedErr,
		}
		task := &ScheduledTask{ID: "test"}
		execution := &TaskExecution{ID: "exec"}

		_, err := exec.Execute(ctx, task, execution)
		if !errors.Is(err, expectedErr) {
			t.Errorf("error = %v, want %v", err, expectedErr)
		}
	})

	t.Run("respects context cancellation during delay", func(t *testing.T) {
		exec := &NoOpExecutor{
			Response: "test",
			Delay:    1 * time.Second,
		}
		task := &ScheduledTask{ID: "test"}
		execution := &TaskExecution{ID: "exec"}

		ctx, cancel := context.WithCancel(ctx)
		cancel() // Cancel immediately

		_, err := exec.Execute(ctx, task, execution)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})

	t.Run("completes after delay", func(t *testing.T) {
		exec := &NoOpExecutor{
			Response: "delayed response",
			Delay:    10 * time.Millisecond,
		}
		task := &ScheduledTask{ID: "test"}
		execution := &TaskExecution{ID: "exec"}

		start := time.Now()
		resp, err := exec.Execute(ctx, task, execution)
		duration := time.Since(start)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp != "delayed response" {
			t.Errorf("response = %q, want %q", resp, "delayed response")
		}
		if duration < 10*time.Millisecond {
			t.Errorf("expected at least 10ms delay, got %v", duration)
		}
	})
}

func TestCallbackExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("calls provided function", func(t *testing.T) {
		called := false
		exec := &CallbackExecutor{
			Fn: func(ctx context.Context, task *ScheduledTask, e *TaskExecution) (string, error) {
				called = true
				return "callback response", nil
			},
		}
		task := &ScheduledTask{ID: "test"}
		execution := &TaskExecution{ID: "exec"}

		resp, err := exec.Execute(ctx, task, execution)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called {
			t.Error("callback function was not called")
		}
		if resp != "callback response" {
			t.Errorf("response = %q, want %q", resp, "callback response")
		}
	})

	t.Run("returns error for nil function", func(t *testing.T) {
		exec := &CallbackExecutor{Fn: nil}
		task := &ScheduledTask{ID: "test"}
		execution := &TaskExecution{ID: "exec"}

		_, err := exec.Execute(ctx, task, execution)
		if err == nil {
			t.Error("expected error for nil function")
		}
	})

	t.Run("propagates errors from callback", func(t *testing.T) {
		expectedErr := errors.New("callback error")
		exec := &CallbackExecutor{
			Fn: func(ctx context.Context, task *ScheduledTask, e *TaskExecution) (string, error) {
				return "", expectedErr
			},
		}
		task := &ScheduledTask{ID: "test"}
		execution := &TaskExecution{ID: "exec"}

		_, err := exec.Execute(ctx, task, execution)
		if !errors.Is(err, expectedErr) {
			t.Errorf("error = %v, want %v", err, expectedErr)
		}
	})

	t.Run("receives correct arguments", func(t *testing.T) {
		var receivedTask *ScheduledTask
		var receivedExec *TaskExecution

		exec := &CallbackExecutor{
			Fn: func(ctx context.Context, task *ScheduledTask, e *TaskExecution) (string, error) {
				receivedTask = task
				receivedExec = e
				return "", nil
			},
		}
		task := &ScheduledTask{ID: "task-123", Name: "Test Task"}
		execution := &TaskExecution{ID: "exec-456", TaskID: "task-123"}

		_, err := exec.Execute(ctx, task, execution)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if receivedTask.ID != "task-123" {
			t.Errorf("task ID = %q, want %q", receivedTask.ID, "task-123")
		}
		if receivedExec.ID != "exec-456" {
			t.Errorf("execution ID = %q, want %q", receivedExec.ID, "exec-456")
		}
	})
}
