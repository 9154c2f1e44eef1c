package toolops

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arcway/toolops/internal/observability"
	"github.com/arcway/toolops/pkg/models"
)

// ExecutorConfig tunes the Schedule Executor's cadences, per §6's
// tick_interval/claim_timeout config fields.
type ExecutorConfig struct {
	TickInterval  time.Duration
	ClaimTimeout  time.Duration
	MonitorTick   time.Duration
	BatchSize     int
}

// DefaultExecutorConfig returns the defaults named in §4.6.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		TickInterval: time.Second,
		ClaimTimeout: 60 * time.Second,
		MonitorTick:  time.Second,
		BatchSize:    50,
	}
}

// ToolResolver constructs the Tool instance that owns an item, keyed by the
// item's operation's tool_type.
type ToolResolver interface {
	ResolveForOperation(ctx context.Context, operationID string) (Tool, *models.ToolOperation, error)
}

// Executor is the single long-lived background worker: a due-time sweeper,
// a monitor sweeper, and a stale-claim reclaim loop, each on its own
// cadence, one goroutine per duty under a shared sync.WaitGroup.
type Executor struct {
	store    Store
	schedule *ScheduleManager
	resolver ToolResolver
	cfg      ExecutorConfig
	logger   *slog.Logger
	now      func() time.Time
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// WithObservability attaches metrics and tracing to e, returning e for
// chaining. Either argument may be nil to leave that signal disabled.
func (e *Executor) WithObservability(metrics *observability.Metrics, tracer *observability.Tracer) *Executor {
	e.metrics = metrics
	e.tracer = tracer
	return e
}

// NewExecutor constructs an Executor.
func NewExecutor(store Store, schedule *ScheduleManager, resolver ToolResolver, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg = DefaultExecutorConfig()
	}
	return &Executor{
		store:    store,
		schedule: schedule,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With("component", "schedule-executor"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the sweeper goroutines; Stop(ctx) or cancelling ctx tears
// them down.
func (e *Executor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(3)
	go e.runLoop(ctx, e.cfg.TickInterval, e.dueTimeSweep)
	go e.runLoop(ctx, e.cfg.MonitorTick, e.monitorSweep)
	go e.runLoop(ctx, e.cfg.ClaimTimeout, e.reclaimStale)
}

// Stop signals all sweepers to exit and waits for them.
func (e *Executor) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) runLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// dueTimeSweep implements duty 1 of §4.6: claim and execute items whose
// scheduled_time has passed.
func (e *Executor) dueTimeSweep(ctx context.Context) {
	defer e.observeSweep(ctx, "due_time")()
	due, err := e.store.ListDueItems(ctx, e.now(), e.cfg.BatchSize)
	if err != nil {
		e.logger.Error("listing due items", "error", err)
		e.recordStorageError("list_due_items")
		return
	}
	for _, item := range due {
		e.executeOne(ctx, item)
	}
}

// observeSweep starts a trace span (if tracing is configured) and returns a
// func that ends the span and records the sweep's duration on completion.
func (e *Executor) observeSweep(ctx context.Context, sweep string) func() {
	start := e.now()
	var span func()
	if e.tracer != nil {
		_, s := e.tracer.TraceExecutorTick(ctx, sweep)
		span = func() { s.End() }
	}
	return func() {
		if e.metrics != nil {
			e.metrics.SchedulerTick(sweep).Observe(e.now().Sub(start).Seconds())
		}
		if span != nil {
			span()
		}
	}
}

func (e *Executor) recordStorageError(op string) {
	if e.metrics != nil {
		e.metrics.StorageError(op)
	}
}

func (e *Executor) executeOne(ctx context.Context, item *models.ToolItem) {
	claimed, err := e.store.ClaimItem(ctx, item.ItemID, e.now().Add(e.cfg.ClaimTimeout))
	if err != nil {
		e.logger.Error("claiming item", "item_id", item.ItemID, "error", err)
		return
	}
	if !claimed {
		return
	}

	tool, _, err := e.resolver.ResolveForOperation(ctx, item.OperationID)
	if err != nil {
		e.logger.Error("resolving tool for item", "item_id", item.ItemID, "error", err)
		cause := NewTransientError(KindToolExecutionFailed, "resolving tool", err)
		_ = e.schedule.UpdateItemExecutionStatus(ctx, item.ItemID, models.StatusFailed, nil, cause)
		return
	}

	result, err := tool.ExecuteScheduledOperation(ctx, item)
	if err != nil {
		e.logger.Warn("scheduled execution failed", "item_id", item.ItemID, "error", err)
		cause := NewTransientError(KindToolExecutionFailed, "scheduled execution failed", err)
		if uErr := e.schedule.UpdateItemExecutionStatus(ctx, item.ItemID, models.StatusFailed, nil, cause); uErr != nil {
			e.logger.Error("recording execution failure", "item_id", item.ItemID, "error", uErr)
		}
		e.recordItemExecuted(item.ContentType, "failure")
		return
	}
	if !result.Success {
		cause := NewTransientError(KindToolExecutionFailed, result.Error, nil)
		if uErr := e.schedule.UpdateItemExecutionStatus(ctx, item.ItemID, models.StatusFailed, result.APIResponse, cause); uErr != nil {
			e.logger.Error("recording execution failure", "item_id", item.ItemID, "error", uErr)
		}
		e.recordItemExecuted(item.ContentType, "failure")
		return
	}
	if uErr := e.schedule.UpdateItemExecutionStatus(ctx, item.ItemID, models.StatusExecuted, result.APIResponse, nil); uErr != nil {
		e.logger.Error("recording execution success", "item_id", item.ItemID, "error", uErr)
	}
	e.recordItemExecuted(item.ContentType, "success")
}

func (e *Executor) recordItemExecuted(contentType, outcome string) {
	if e.metrics != nil {
		e.metrics.ItemExecuted(contentType, outcome)
	}
}

// monitorSweep implements duty 2 of §4.6: check each ACTIVE monitoring
// schedule for expiration or a fired condition.
func (e *Executor) monitorSweep(ctx context.Context) {
	defer e.observeSweep(ctx, "monitor")()
	monitors, err := e.store.ListActiveMonitors(ctx)
	if err != nil {
		e.logger.Error("listing active monitors", "error", err)
		e.recordStorageError("list_active_monitors")
		return
	}
	now := e.now()
	for _, sched := range monitors {
		if sched.ExpirationTimestamp != nil && !now.Before(*sched.ExpirationTimestamp) {
			e.expireMonitor(ctx, sched)
			continue
		}

		tool, _, err := e.resolver.ResolveForOperation(ctx, sched.OperationID)
		if err != nil {
			e.logger.Error("resolving tool for monitor", "schedule_id", sched.ScheduleID, "error", err)
			continue
		}
		fire, err := tool.CheckCondition(ctx, sched)
		if err != nil {
			e.logger.Error("checking monitor condition", "schedule_id", sched.ScheduleID, "error", err)
			continue
		}
		if !fire {
			continue
		}
		e.fireMonitor(ctx, sched, tool)
	}
}

func (e *Executor) expireMonitor(ctx context.Context, sched *models.Schedule) {
	items, err := e.store.GetItems(ctx, sched.OperationID, ItemFilter{Status: statusPtr(models.StatusScheduled)})
	if err != nil {
		e.logger.Error("listing monitor items to expire", "schedule_id", sched.ScheduleID, "error", err)
		return
	}
	for _, item := range items {
		if err := e.schedule.ExpireItem(ctx, item.ItemID); err != nil {
			e.logger.Error("expiring monitor item", "item_id", item.ItemID, "error", err)
		}
	}
}

func (e *Executor) fireMonitor(ctx context.Context, sched *models.Schedule, tool Tool) {
	items, err := e.store.GetItems(ctx, sched.OperationID, ItemFilter{Status: statusPtr(models.StatusScheduled)})
	if err != nil || len(items) == 0 {
		return
	}
	item := items[0]
	if claimed, err := e.store.ClaimItem(ctx, item.ItemID, e.now().Add(e.cfg.ClaimTimeout)); err != nil || !claimed {
		return
	}
	result, err := tool.ExecuteScheduledOperation(ctx, item)
	if err != nil || !result.Success {
		msg := ""
		if err != nil {
			msg = err.Error()
		} else {
			msg = result.Error
		}
		_ = e.schedule.UpdateItemExecutionStatus(ctx, item.ItemID, models.StatusFailed, nil, NewTransientError(KindToolExecutionFailed, msg, nil))
		e.recordItemExecuted(item.ContentType, "failure")
		return
	}
	_ = e.schedule.UpdateItemExecutionStatus(ctx, item.ItemID, models.StatusExecuted, result.APIResponse, nil)
	e.recordItemExecuted(item.ContentType, "success")
}

// reclaimStale implements the claim-timeout reclaim rule of §4.6.
func (e *Executor) reclaimStale(ctx context.Context) {
	defer e.observeSweep(ctx, "reclaim")()
	n, err := e.store.ReclaimStaleItems(ctx, e.now())
	if err != nil {
		e.logger.Error("reclaiming stale claims", "error", err)
		e.recordStorageError("reclaim_stale_items")
		return
	}
	if n > 0 {
		e.logger.Info("reclaimed stale claims", "count", n)
	}
	if e.metrics != nil {
		e.metrics.ClaimReclaimedBy(n)
	}
}
