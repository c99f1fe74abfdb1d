package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/approval"
	"github.com/quailyquaily/autopilot/plan"
	"github.com/quailyquaily/autopilot/safety"
	"github.com/quailyquaily/autopilot/tools"
)

// Executor runs one claimed task's remaining steps. Everything it needs is
// passed in explicitly; the store's conditional updates are the only
// cross-worker coordination.
type Executor struct {
	Tasks    *GormStore
	Plans    *plan.GormStore
	Registry *tools.Registry
	Assessor *safety.Assessor
	Gate     *approval.Gate
	Sink     safety.AuditSink
	Log      *slog.Logger

	TenantID    string
	StepTimeout time.Duration
	MaxAttempts int
	BackoffBase time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(tasks *GormStore, plans *plan.GormStore, registry *tools.Registry, assessor *safety.Assessor, gate *approval.Gate, sink safety.AuditSink, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		Tasks:       tasks,
		Plans:       plans,
		Registry:    registry,
		Assessor:    assessor,
		Gate:        gate,
		Sink:        sink,
		Log:         log,
		StepTimeout: 2 * time.Minute,
		MaxAttempts: 3,
		BackoffBase: time.Second,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes the task the worker just claimed, from its current step to
// the end of the plan, yielding on gates and observing cancellation between
// steps. The task is always released before Run returns; a returned error
// means the release itself could not be recorded.
func (e *Executor) Run(ctx context.Context, t *AutoTask, workerID string) error {
	if e == nil || e.Tasks == nil {
		return fmt.Errorf("nil executor")
	}
	if t == nil || t.Status != StatusRunning {
		return fmt.Errorf("executor needs a claimed running task")
	}
	log := e.Log.With("task_id", t.ID, "worker_id", workerID)

	p, err := e.loadPlan(ctx, t)
	if err != nil {
		log.ErrorContext(ctx, "plan_load_error", "error", err)
		return e.failTask(ctx, t, workerID, fmt.Sprintf("plan unavailable: %v", err))
	}
	if p.Status == plan.StatusPending || p.Status == plan.StatusApproved {
		if err := e.Plans.UpdateStatus(ctx, p.ID, plan.StatusExecuting); err != nil {
			log.WarnContext(ctx, "plan_status_update_error", "error", err)
		}
	}
	t.TotalSteps = len(p.Steps)

	for t.CurrentStep < len(p.Steps) {
		step := &p.Steps[t.CurrentStep]

		// cancellation is observed only between steps
		cancelled, err := e.Tasks.CancelRequested(ctx, t.ID)
		if err != nil {
			log.WarnContext(ctx, "cancel_check_error", "error", err)
		} else if cancelled {
			return e.cancelTask(ctx, t, workerID)
		}

		assessment := e.Assessor.Assess(ctx, safety.StepInput{
			TaskID:   t.ID,
			TenantID: e.TenantID,
			Action:   step.Action,
			Params:   step.Params,
			BaseRisk: step.Risk,
		}, tools.SimulateFunc(step.Handler()))
		if assessment.Blocked() {
			reason := "step blocked by constraint checks"
			if len(assessment.Reasons) > 0 {
				reason = "step blocked: " + strings.Join(assessment.Reasons, "; ")
			}
			return e.failTask(ctx, t, workerID, reason)
		}

		verdict, err := e.Gate.Check(ctx, gateRequest(t, step, assessment.Risk))
		if err != nil {
			log.ErrorContext(ctx, "gate_check_error", "error", err, "step_index", step.Index)
			return e.failTask(ctx, t, workerID, fmt.Sprintf("approval gate failure: %v", err))
		}
		switch verdict.Verdict {
		case approval.VerdictWait:
			log.InfoContext(ctx, "task_waiting_approval", "step_index", step.Index, "risk", string(assessment.Risk))
			return e.Tasks.ReleaseTo(ctx, t, workerID, StatusWaitingApproval)
		case approval.VerdictRefuse:
			return e.failTask(ctx, t, workerID, verdict.Reason)
		}
		if verdict.Chosen != "" {
			if step.Params == nil {
				step.Params = map[string]any{}
			}
			step.Params["choice"] = verdict.Chosen
		}

		result, execErr := e.executeStep(ctx, t, step)
		if execErr != nil {
			e.auditStepError(ctx, t, step, assessment.Risk, execErr)
			return e.failTask(ctx, t, workerID, execErr.Error())
		}

		t.StepResults = append(t.StepResults, result)
		t.CurrentStep++
		t.Progress = float64(t.CurrentStep) / float64(t.TotalSteps)
		if err := e.Tasks.UpdateUnderClaim(ctx, t, workerID); err != nil {
			if errors.Is(err, ErrClaimLost) {
				log.WarnContext(ctx, "task_claim_lost", "step_index", step.Index)
				return nil
			}
			return err
		}
		log.InfoContext(ctx, "step_completed", "step_index", step.Index, "action", step.Action, "attempts", result.Attempts)
	}

	if err := e.Plans.UpdateStatus(ctx, p.ID, plan.StatusCompleted); err != nil {
		log.WarnContext(ctx, "plan_status_update_error", "error", err)
	}
	t.Progress = 1
	if err := e.Tasks.ReleaseTo(ctx, t, workerID, StatusCompleted); err != nil {
		return err
	}
	e.auditTerminal(ctx, t, "task_completed", safety.OutcomeAllowed, "")
	log.InfoContext(ctx, "task_completed", "steps", t.CurrentStep)
	return nil
}

func (e *Executor) loadPlan(ctx context.Context, t *AutoTask) (*plan.Plan, error) {
	if strings.TrimSpace(t.PlanID) == "" {
		return nil, fmt.Errorf("task has no plan attached")
	}
	p, ok, err := e.Plans.Get(ctx, t.PlanID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("plan %s not found", t.PlanID)
	}
	if err := p.BindHandlers(e.Registry); err != nil {
		return nil, err
	}
	return p, nil
}

// executeStep runs one step with a per-attempt timeout and bounded
// exponential backoff on retryable failures. The attempt count is per step,
// never shared across steps.
func (e *Executor) executeStep(ctx context.Context, t *AutoTask, step *plan.Step) (StepResult, error) {
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	stepTimeout := e.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = 2 * time.Minute
	}

	started := e.now().UTC()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		output, err := step.Handler().Execute(stepCtx, step.Params)
		cancel()
		if err == nil {
			return StepResult{
				StepIndex:  step.Index,
				Action:     step.Action,
				Output:     output,
				Attempts:   attempt,
				StartedAt:  started,
				FinishedAt: e.now().UTC(),
			}, nil
		}
		lastErr = err

		if !retryable(err) {
			return StepResult{}, fmt.Errorf("step %d (%s) failed: %w", step.Index, step.Action, err)
		}
		if attempt == maxAttempts {
			break
		}
		backoff := e.BackoffBase
		if backoff <= 0 {
			backoff = time.Second
		}
		backoff <<= attempt - 1
		e.Log.WarnContext(ctx, "step_retrying",
			"task_id", t.ID, "step_index", step.Index, "attempt", attempt, "backoff", backoff.String(), "error", err)
		if err := e.sleep(ctx, backoff); err != nil {
			return StepResult{}, fmt.Errorf("step %d (%s) aborted during backoff: %w", step.Index, step.Action, err)
		}
	}
	return StepResult{}, fmt.Errorf("step %d (%s) failed after %d attempts: %w", step.Index, step.Action, maxAttempts, lastErr)
}

// retryable treats timeouts and explicitly retryable tool errors as
// transient; everything else is fatal for the task.
func retryable(err error) bool {
	var execErr *tools.ExecError
	if errors.As(err, &execErr) {
		return execErr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

func (e *Executor) failTask(ctx context.Context, t *AutoTask, workerID, reason string) error {
	t.LastError = reason
	if e.Plans != nil && strings.TrimSpace(t.PlanID) != "" {
		if err := e.Plans.UpdateStatus(ctx, t.PlanID, plan.StatusFailed); err != nil {
			e.Log.WarnContext(ctx, "plan_status_update_error", "task_id", t.ID, "error", err)
		}
	}
	if err := e.Tasks.ReleaseTo(ctx, t, workerID, StatusFailed); err != nil {
		return err
	}
	e.auditTerminal(ctx, t, "task_failed", safety.OutcomeError, reason)
	e.Log.WarnContext(ctx, "task_failed", "task_id", t.ID, "reason", reason)
	return nil
}

func (e *Executor) cancelTask(ctx context.Context, t *AutoTask, workerID string) error {
	if err := e.Tasks.ReleaseTo(ctx, t, workerID, StatusCancelled); err != nil {
		return err
	}
	e.auditTerminal(ctx, t, "task_cancelled", safety.OutcomeAllowed, "cancel requested")
	e.Log.InfoContext(ctx, "task_cancelled", "task_id", t.ID, "completed_steps", t.CurrentStep)
	return nil
}

func gateRequest(t *AutoTask, step *plan.Step, risk safety.RiskLevel) approval.StepRequest {
	req := approval.StepRequest{
		TaskID:    t.ID,
		StepIndex: step.Index,
		Mode:      t.Mode,
		Risk:      risk,
		Summary:   stepSummary(step),
	}
	if opts, ok := step.Params["options"].([]any); ok && len(opts) > 0 {
		for _, o := range opts {
			if s, ok := o.(string); ok && strings.TrimSpace(s) != "" {
				req.Options = append(req.Options, strings.TrimSpace(s))
			}
		}
		if q, ok := step.Params["question"].(string); ok {
			req.Question = q
		}
		if d, ok := step.Params["default_option"].(string); ok {
			req.DefaultOption = d
		}
		if ts, ok := step.Params["timeout_seconds"].(float64); ok && ts > 0 {
			req.TimeoutSeconds = int(ts)
		}
	}
	return req
}

func stepSummary(step *plan.Step) string {
	if target, ok := step.Params["path"].(string); ok && target != "" {
		return fmt.Sprintf("%s %s", step.Action, target)
	}
	if target, ok := step.Params["table"].(string); ok && target != "" {
		return fmt.Sprintf("%s on %s", step.Action, target)
	}
	return step.Action
}

func (e *Executor) auditStepError(ctx context.Context, t *AutoTask, step *plan.Step, risk safety.RiskLevel, execErr error) {
	if e.Sink == nil {
		return
	}
	detail := map[string]any{
		"step_index": step.Index,
		"action":     step.Action,
		"error":      execErr.Error(),
	}
	entry := safety.AuditEntry{
		ID:         safety.NewEntryID(),
		TaskID:     t.ID,
		ActionType: "step_execute",
		Detail:     detail,
		RiskLevel:  risk,
		Outcome:    safety.OutcomeError,
		CreatedAt:  e.now().UTC(),
	}
	if h, err := safety.DetailHash(detail); err == nil {
		entry.DetailHash = h
	}
	if err := e.Sink.Emit(ctx, entry); err != nil {
		e.Log.WarnContext(ctx, "audit_emit_error", "error", err, "task_id", t.ID)
	}
}

func (e *Executor) auditTerminal(ctx context.Context, t *AutoTask, actionType string, outcome safety.Outcome, reason string) {
	if e.Sink == nil {
		return
	}
	detail := map[string]any{
		"status":       string(t.Status),
		"current_step": t.CurrentStep,
		"total_steps":  t.TotalSteps,
	}
	if reason != "" {
		detail["reason"] = reason
	}
	entry := safety.AuditEntry{
		ID:         safety.NewEntryID(),
		TaskID:     t.ID,
		ActionType: actionType,
		Detail:     detail,
		RiskLevel:  safety.RiskNone,
		Outcome:    outcome,
		CreatedAt:  e.now().UTC(),
	}
	if h, err := safety.DetailHash(detail); err == nil {
		entry.DetailHash = h
	}
	if err := e.Sink.Emit(ctx, entry); err != nil {
		e.Log.WarnContext(ctx, "audit_emit_error", "error", err, "task_id", t.ID)
	}
}
