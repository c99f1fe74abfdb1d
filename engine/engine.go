// Package engine is the facade tying classification, compilation, safety
// assessment, approval gating, and scheduled execution together behind a
// small operation surface.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/autopilot/approval"
	"github.com/quailyquaily/autopilot/intent"
	"github.com/quailyquaily/autopilot/internal/strutil"
	"github.com/quailyquaily/autopilot/plan"
	"github.com/quailyquaily/autopilot/safety"
	"github.com/quailyquaily/autopilot/task"
)

// Engine wires the pipeline stages. All state lives in the stores; the
// engine itself is stateless and safe for concurrent use.
type Engine struct {
	Classifier *intent.Classifier
	Compiler   *plan.Compiler

	Tasks *task.GormStore
	Plans *plan.GormStore
	Gate  *approval.Gate
	Audit *safety.GormAuditStore

	Log *slog.Logger

	// TenantID scopes every compiled step for constraint checks.
	TenantID string

	// MinAutonomyConfidence is the classification confidence below which a
	// submitted task is demoted to manual mode regardless of the requested
	// mode. Low-confidence intents never run unattended.
	MinAutonomyConfidence float64
}

func New(classifier *intent.Classifier, compiler *plan.Compiler, tasks *task.GormStore, plans *plan.GormStore, gate *approval.Gate, audit *safety.GormAuditStore, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Classifier:            classifier,
		Compiler:              compiler,
		Tasks:                 tasks,
		Plans:                 plans,
		Gate:                  gate,
		Audit:                 audit,
		Log:                   log,
		MinAutonomyConfidence: 0.6,
	}
}

// SubmitOptions carries the caller's execution preferences for a new task.
type SubmitOptions struct {
	Title    string
	Mode     approval.ExecutionMode
	Priority task.Priority
	Session  map[string]string
}

// SubmitIntent classifies the text, compiles and assesses a plan, and
// creates a ready task bound to it. A compilation failure surfaces to the
// caller and no task is created.
func (e *Engine) SubmitIntent(ctx context.Context, text string, opts SubmitOptions) (*task.AutoTask, error) {
	if e == nil || e.Tasks == nil || e.Plans == nil || e.Compiler == nil {
		return nil, fmt.Errorf("engine is not fully wired")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty intent text")
	}

	cls := e.Classifier.Classify(ctx, text, opts.Session)
	e.Log.InfoContext(ctx, "intent_classified",
		"classification_id", cls.ID, "type", string(cls.Type), "confidence", cls.Confidence)

	mode := opts.Mode
	if !mode.Known() {
		mode = approval.ModeSupervised
	}
	if cls.Confidence < e.MinAutonomyConfidence && mode != approval.ModeManual {
		e.Log.InfoContext(ctx, "mode_demoted",
			"classification_id", cls.ID, "confidence", cls.Confidence, "from", string(mode), "to", string(approval.ModeManual))
		mode = approval.ModeManual
	}

	p, err := e.Compiler.Compile(ctx, cls, plan.Context{TenantID: e.TenantID, Session: opts.Session})
	if err != nil {
		return nil, err
	}
	if err := e.Plans.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("persist plan: %w", err)
	}

	priority := opts.Priority
	if !priority.Known() {
		priority = task.PriorityNormal
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = taskTitle(text)
	}
	t := &task.AutoTask{
		Title:      title,
		IntentText: text,
		Status:     task.StatusPending,
		Mode:       mode,
		Priority:   priority,
		PlanID:     p.ID,
		TotalSteps: len(p.Steps),
	}
	if err := e.Tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}
	if err := e.Plans.Attach(ctx, p.ID, t.ID); err != nil {
		return nil, fmt.Errorf("attach plan %s to task %s: %w", p.ID, t.ID, err)
	}
	if err := e.Tasks.Transition(ctx, t.ID, task.StatusPending, task.StatusReady, ""); err != nil {
		return nil, fmt.Errorf("mark task %s ready: %w", t.ID, err)
	}
	t.Status = task.StatusReady

	e.Log.InfoContext(ctx, "task_submitted",
		"task_id", t.ID, "plan_id", p.ID, "mode", string(mode), "risk", string(p.Risk), "steps", len(p.Steps))
	return t, nil
}

// TaskStatus is the caller-facing progress view of a task.
type TaskStatus struct {
	TaskID      string  `json:"task_id"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	CurrentStep int     `json:"current_step"`
	TotalSteps  int     `json:"total_steps"`
	LastError   string  `json:"last_error,omitempty"`
}

func (e *Engine) GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	t, ok, err := e.Tasks.Get(ctx, taskID)
	if err != nil {
		return TaskStatus{}, err
	}
	if !ok {
		return TaskStatus{}, fmt.Errorf("task %s not found", taskID)
	}
	return TaskStatus{
		TaskID:      t.ID,
		Status:      string(t.Status),
		Progress:    t.Progress,
		CurrentStep: t.CurrentStep,
		TotalSteps:  t.TotalSteps,
		LastError:   t.LastError,
	}, nil
}

// ResolveApproval records a human verdict and moves the blocked task along:
// approval requeues it, rejection fails it.
func (e *Engine) ResolveApproval(ctx context.Context, approvalID string, approve bool, decidedBy, reason string) error {
	if e == nil || e.Gate == nil {
		return fmt.Errorf("engine has no approval gate")
	}
	rec, err := e.Gate.Resolve(ctx, approvalID, approve, decidedBy, reason)
	if err != nil {
		return err
	}
	if rec.TaskID == "" {
		return nil
	}
	if approve {
		return e.requeue(ctx, rec.TaskID)
	}
	return e.failWaiting(ctx, rec.TaskID, "approval rejected: "+strings.TrimSpace(reason))
}

// ResolveDecision records the chosen option and requeues the blocked task.
func (e *Engine) ResolveDecision(ctx context.Context, decisionID, chosen, decidedBy, reason string) error {
	if e == nil || e.Gate == nil {
		return fmt.Errorf("engine has no approval gate")
	}
	rec, err := e.Gate.ResolveDecision(ctx, decisionID, chosen, decidedBy, reason)
	if err != nil {
		return err
	}
	if rec.TaskID == "" {
		return nil
	}
	return e.requeue(ctx, rec.TaskID)
}

func (e *Engine) requeue(ctx context.Context, taskID string) error {
	err := e.Tasks.Transition(ctx, taskID, task.StatusWaitingApproval, task.StatusReady, "")
	if err != nil {
		// the task may have moved on already (sweep raced us, or it was
		// cancelled); the resolution itself stands
		e.Log.WarnContext(ctx, "task_requeue_skipped", "task_id", taskID, "error", err)
		return nil
	}
	return nil
}

func (e *Engine) failWaiting(ctx context.Context, taskID, reason string) error {
	if err := e.Tasks.Transition(ctx, taskID, task.StatusWaitingApproval, task.StatusFailed, reason); err != nil {
		e.Log.WarnContext(ctx, "task_fail_skipped", "task_id", taskID, "error", err)
	}
	return nil
}

// CancelTask requests cooperative cancellation. Unclaimed tasks cancel
// immediately; a running task observes the flag between steps.
func (e *Engine) CancelTask(ctx context.Context, taskID string) error {
	return e.Tasks.RequestCancel(ctx, taskID)
}

// ListAuditEntries returns a task's safety trail in insertion order.
func (e *Engine) ListAuditEntries(ctx context.Context, taskID string) ([]safety.AuditEntry, error) {
	if e == nil || e.Audit == nil {
		return nil, fmt.Errorf("engine has no audit store")
	}
	return e.Audit.ListByTask(ctx, taskID)
}

// PreviewPlan classifies and compiles without creating a task, dry-running
// every step. The standalone plan is persisted so a later submit can refer
// to what was previewed, but nothing will execute it.
func (e *Engine) PreviewPlan(ctx context.Context, text string, session map[string]string) (*plan.Plan, error) {
	if e == nil || e.Compiler == nil {
		return nil, fmt.Errorf("engine has no compiler")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty intent text")
	}
	cls := e.Classifier.Classify(ctx, text, session)
	p, err := e.Compiler.Compile(ctx, cls, plan.Context{TenantID: e.TenantID, Session: session})
	if err != nil {
		return nil, err
	}
	sim, err := e.Compiler.Simulate(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("simulate plan %s: %w", p.ID, err)
	}
	p.Simulation = sim
	if e.Plans != nil {
		if err := e.Plans.Create(ctx, p); err != nil {
			e.Log.WarnContext(ctx, "preview_persist_error", "plan_id", p.ID, "error", err)
		}
	}
	return p, nil
}

// RecordIntentFeedback attaches user feedback to a stored classification so
// heuristics and prompts can be tuned against real corrections.
func (e *Engine) RecordIntentFeedback(ctx context.Context, classificationID, feedback string) error {
	rec, ok := e.Classifier.Recorder.(*intent.GormStore)
	if !ok || rec == nil {
		return fmt.Errorf("intent store does not accept feedback")
	}
	return rec.AttachFeedback(ctx, classificationID, feedback)
}

func taskTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	return strutil.TruncateUTF8(text, 64)
}
