package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quailyquaily/autopilot/approval"
)

// SchedulerConfig bounds the worker pool and its polling cadence.
type SchedulerConfig struct {
	MaxWorkers    int
	PollInterval  time.Duration
	SweepInterval time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxWorkers:    4,
		PollInterval:  time.Second,
		SweepInterval: 15 * time.Second,
	}
}

// Scheduler pulls ready tasks from the store and runs them on a bounded
// worker pool. The store's atomic claim is the only cross-worker
// coordination; the scheduler keeps no authoritative in-memory task state.
// A sweep loop expires stale gates and moves waiting tasks whose gates
// resolved back into the ready set.
type Scheduler struct {
	Store *GormStore
	Exec  *Executor
	Gate  *approval.Gate
	Cfg   SchedulerConfig
	Log   *slog.Logger

	mu            sync.Mutex
	activeWorkers int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(store *GormStore, exec *Executor, gate *approval.Gate, cfg SchedulerConfig, log *slog.Logger) *Scheduler {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultSchedulerConfig().MaxWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultSchedulerConfig().PollInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSchedulerConfig().SweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		Store: store,
		Exec:  exec,
		Gate:  gate,
		Cfg:   cfg,
		Log:   log,
	}
}

// Start launches the polling and sweep loops. It returns immediately; Stop
// waits for in-flight workers to finish.
func (sch *Scheduler) Start(ctx context.Context) error {
	if sch == nil || sch.Store == nil || sch.Exec == nil {
		return fmt.Errorf("scheduler is not fully wired")
	}
	ctx, sch.cancel = context.WithCancel(ctx)

	sch.wg.Add(1)
	go sch.pollLoop(ctx)
	sch.wg.Add(1)
	go sch.sweepLoop(ctx)

	sch.Log.InfoContext(ctx, "scheduler_started", "max_workers", sch.Cfg.MaxWorkers, "poll_interval", sch.Cfg.PollInterval.String())
	return nil
}

func (sch *Scheduler) Stop() {
	if sch.cancel != nil {
		sch.cancel()
	}
	sch.wg.Wait()
	sch.Log.Info("scheduler_stopped")
}

func (sch *Scheduler) pollLoop(ctx context.Context) {
	defer sch.wg.Done()
	ticker := time.NewTicker(sch.Cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sch.pollAndDispatch(ctx)
		}
	}
}

func (sch *Scheduler) pollAndDispatch(ctx context.Context) {
	sch.mu.Lock()
	if sch.activeWorkers >= sch.Cfg.MaxWorkers {
		sch.mu.Unlock()
		return
	}
	sch.activeWorkers++
	sch.mu.Unlock()

	workerID := "worker_" + uuid.New().String()
	t, ok, err := sch.Store.Claim(ctx, workerID)
	if err != nil || !ok {
		if err != nil {
			sch.Log.WarnContext(ctx, "task_claim_error", "error", err)
		}
		sch.releaseSlot()
		return
	}

	sch.Log.InfoContext(ctx, "task_dispatched", "task_id", t.ID, "worker_id", workerID, "priority", string(t.Priority))
	sch.wg.Add(1)
	go func() {
		defer sch.wg.Done()
		defer sch.releaseSlot()
		if err := sch.Exec.Run(ctx, t, workerID); err != nil {
			sch.Log.ErrorContext(ctx, "worker_run_error", "task_id", t.ID, "worker_id", workerID, "error", err)
		}
	}()
}

func (sch *Scheduler) releaseSlot() {
	sch.mu.Lock()
	sch.activeWorkers--
	sch.mu.Unlock()
}

func (sch *Scheduler) sweepLoop(ctx context.Context) {
	defer sch.wg.Done()
	ticker := time.NewTicker(sch.Cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sch.Sweep(ctx)
		}
	}
}

// Sweep expires overdue gates and reconciles waiting tasks with their gate
// state: a favorably resolved gate moves the task back to ready, a rejected
// or expired one fails it.
func (sch *Scheduler) Sweep(ctx context.Context) {
	if sch.Gate == nil {
		return
	}
	expired, _, err := sch.Gate.ExpirePending(ctx)
	if err != nil {
		sch.Log.WarnContext(ctx, "gate_sweep_error", "error", err)
	}
	for _, rec := range expired {
		if rec.TaskID == "" {
			continue
		}
		if err := sch.Store.Transition(ctx, rec.TaskID, StatusWaitingApproval, StatusFailed, "approval expired before resolution"); err != nil {
			sch.Log.WarnContext(ctx, "task_expire_error", "task_id", rec.TaskID, "error", err)
		} else {
			sch.Log.InfoContext(ctx, "task_failed_on_expiry", "task_id", rec.TaskID, "approval_id", rec.ID)
		}
	}

	waiting, err := sch.Store.ListByStatus(ctx, StatusWaitingApproval)
	if err != nil {
		sch.Log.WarnContext(ctx, "waiting_list_error", "error", err)
		return
	}
	for _, t := range waiting {
		sch.reconcileWaiting(ctx, t)
	}
}

func (sch *Scheduler) reconcileWaiting(ctx context.Context, t *AutoTask) {
	store := sch.Gate.Store

	if rec, ok, err := store.OpenForStep(ctx, t.ID, t.CurrentStep); err == nil && ok {
		switch rec.Status {
		case approval.StatusApproved:
			sch.requeue(ctx, t, "")
		case approval.StatusRejected:
			sch.failWaiting(ctx, t, "approval rejected: "+rec.Reason)
		case approval.StatusExpired:
			sch.failWaiting(ctx, t, "approval expired before resolution")
		}
		return
	} else if err != nil {
		sch.Log.WarnContext(ctx, "approval_lookup_error", "task_id", t.ID, "error", err)
		return
	}

	if rec, ok, err := store.DecisionForStep(ctx, t.ID, t.CurrentStep); err == nil && ok {
		if rec.Status.Resolved() {
			sch.requeue(ctx, t, rec.Chosen)
		}
	} else if err != nil {
		sch.Log.WarnContext(ctx, "decision_lookup_error", "task_id", t.ID, "error", err)
	}
}

func (sch *Scheduler) requeue(ctx context.Context, t *AutoTask, chosen string) {
	if err := sch.Store.Transition(ctx, t.ID, StatusWaitingApproval, StatusReady, ""); err != nil {
		sch.Log.WarnContext(ctx, "task_requeue_error", "task_id", t.ID, "error", err)
		return
	}
	args := []any{"task_id", t.ID, "step_index", t.CurrentStep}
	if chosen != "" {
		args = append(args, "chosen", chosen)
	}
	sch.Log.InfoContext(ctx, "task_requeued", args...)
}

func (sch *Scheduler) failWaiting(ctx context.Context, t *AutoTask, reason string) {
	if err := sch.Store.Transition(ctx, t.ID, StatusWaitingApproval, StatusFailed, reason); err != nil {
		sch.Log.WarnContext(ctx, "task_fail_error", "task_id", t.ID, "error", err)
		return
	}
	sch.Log.InfoContext(ctx, "task_failed_on_gate", "task_id", t.ID, "reason", reason)
}
