package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/safety"
)

// Notifier surfaces pending approvals and decisions to a human channel.
type Notifier interface {
	ApprovalRequested(ctx context.Context, rec Approval)
	DecisionRequested(ctx context.Context, rec Decision)
}

// LogNotifier announces pending gates on the structured log. It is the
// default when no delivery channel is wired.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) ApprovalRequested(ctx context.Context, rec Approval) {
	n.logger().InfoContext(ctx, "approval_requested",
		"approval_id", rec.ID,
		"task_id", rec.TaskID,
		"step_index", rec.StepIndex,
		"risk", string(rec.Risk),
		"summary", rec.ActionSummary,
		"expires_at", rec.ExpiresAt.Format(time.RFC3339),
	)
}

func (n LogNotifier) DecisionRequested(ctx context.Context, rec Decision) {
	n.logger().InfoContext(ctx, "decision_requested",
		"decision_id", rec.ID,
		"task_id", rec.TaskID,
		"step_index", rec.StepIndex,
		"question", rec.Question,
		"options", strings.Join(rec.Options, ", "),
		"default", rec.DefaultOption,
	)
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Log != nil {
		return n.Log
	}
	return slog.Default()
}

// Verdict is the gate's answer for one step.
type Verdict string

const (
	// VerdictProceed means the step may run now, either because the policy
	// skipped the gate or because a human already approved it.
	VerdictProceed Verdict = "proceed"
	// VerdictWait means a pending approval or decision blocks the step.
	VerdictWait Verdict = "wait"
	// VerdictRefuse means the gate was rejected or expired and the task
	// must not run the step.
	VerdictRefuse Verdict = "refuse"
)

// GateResult carries the verdict plus the record backing it, when one exists.
type GateResult struct {
	Verdict  Verdict
	Approval *Approval
	Decision *Decision
	// Chosen holds the selected option when a decision resolved the gate.
	Chosen string
	Reason string
}

// Gate decides per step whether execution may proceed, raising approvals and
// decisions as the policy demands. An expired approval carries the same
// consequence as a rejection.
type Gate struct {
	Policy   Policy
	Store    Store
	Sink     safety.AuditSink
	Notifier Notifier
	Log      *slog.Logger

	now func() time.Time
}

func NewGate(policy Policy, store Store, sink safety.AuditSink, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		Policy:   policy,
		Store:    store,
		Sink:     sink,
		Notifier: LogNotifier{Log: log},
		Log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the gate's time source. Intended for tests that need to
// move expiry deadlines.
func (g *Gate) SetClock(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// StepRequest describes the step being gated.
type StepRequest struct {
	TaskID    string
	StepIndex int
	Mode      ExecutionMode
	Risk      safety.RiskLevel
	Summary   string

	// Decision fields; a non-empty Options list makes this a multi-option
	// decision instead of a binary approval.
	Question       string
	Options        []string
	DefaultOption  string
	TimeoutSeconds int
}

// Check evaluates the gate for a step. It is safe to call repeatedly: the
// first call under a require policy creates the pending record, later calls
// observe its state.
func (g *Gate) Check(ctx context.Context, req StepRequest) (GateResult, error) {
	if g == nil || g.Store == nil {
		return GateResult{}, fmt.Errorf("nil approval gate")
	}
	if len(req.Options) > 0 {
		return g.checkDecision(ctx, req)
	}
	return g.checkApproval(ctx, req)
}

func (g *Gate) checkApproval(ctx context.Context, req StepRequest) (GateResult, error) {
	if !g.Policy.RequiresApproval(req.Mode, req.Risk) {
		// auto-approved; no record is written, only the trail entry
		g.audit(ctx, req, "approval_skipped", safety.OutcomeAllowed, map[string]any{
			"mode": string(req.Mode),
		})
		return GateResult{Verdict: VerdictProceed, Reason: "auto-approved by policy"}, nil
	}

	rec, ok, err := g.Store.OpenForStep(ctx, req.TaskID, req.StepIndex)
	if err != nil {
		return GateResult{}, fmt.Errorf("look up approval for task %s step %d: %w", req.TaskID, req.StepIndex, err)
	}
	if !ok {
		created := Approval{
			ID:            NewApprovalID(),
			TaskID:        req.TaskID,
			StepIndex:     req.StepIndex,
			ActionSummary: req.Summary,
			Risk:          req.Risk,
			CreatedAt:     g.now().UTC(),
		}
		created.ExpiresAt = created.CreatedAt.Add(g.Policy.ExpiryFor(req.Mode))
		if _, err := g.Store.CreateApproval(ctx, created); err != nil {
			return GateResult{}, fmt.Errorf("create approval for task %s step %d: %w", req.TaskID, req.StepIndex, err)
		}
		created.Status = StatusPending
		g.audit(ctx, req, "approval_requested", safety.OutcomeWarning, map[string]any{
			"approval_id": created.ID,
			"expires_at":  created.ExpiresAt.Unix(),
		})
		if g.Notifier != nil {
			g.Notifier.ApprovalRequested(ctx, created)
		}
		return GateResult{Verdict: VerdictWait, Approval: &created}, nil
	}

	switch rec.Status {
	case StatusApproved:
		return GateResult{Verdict: VerdictProceed, Approval: &rec, Reason: rec.Reason}, nil
	case StatusPending:
		if !rec.ExpiresAt.IsZero() && !g.now().UTC().Before(rec.ExpiresAt) {
			// past deadline but the sweep has not run yet; treat as expired
			return GateResult{Verdict: VerdictRefuse, Approval: &rec, Reason: "approval expired"}, nil
		}
		return GateResult{Verdict: VerdictWait, Approval: &rec}, nil
	case StatusRejected:
		return GateResult{Verdict: VerdictRefuse, Approval: &rec, Reason: rejectionReason(rec.Reason, "approval rejected")}, nil
	case StatusExpired:
		return GateResult{Verdict: VerdictRefuse, Approval: &rec, Reason: "approval expired"}, nil
	default:
		return GateResult{}, fmt.Errorf("approval %s has unknown status %q", rec.ID, rec.Status)
	}
}

func (g *Gate) checkDecision(ctx context.Context, req StepRequest) (GateResult, error) {
	rec, ok, err := g.Store.DecisionForStep(ctx, req.TaskID, req.StepIndex)
	if err != nil {
		return GateResult{}, fmt.Errorf("look up decision for task %s step %d: %w", req.TaskID, req.StepIndex, err)
	}
	if !ok {
		created := Decision{
			ID:             NewDecisionID(),
			TaskID:         req.TaskID,
			StepIndex:      req.StepIndex,
			Question:       req.Question,
			Options:        req.Options,
			DefaultOption:  req.DefaultOption,
			TimeoutSeconds: req.TimeoutSeconds,
			CreatedAt:      g.now().UTC(),
		}
		if _, err := g.Store.CreateDecision(ctx, created); err != nil {
			return GateResult{}, fmt.Errorf("create decision for task %s step %d: %w", req.TaskID, req.StepIndex, err)
		}
		created.Status = DecisionPending
		g.audit(ctx, req, "decision_requested", safety.OutcomeWarning, map[string]any{
			"decision_id": created.ID,
			"options":     created.Options,
		})
		if g.Notifier != nil {
			g.Notifier.DecisionRequested(ctx, created)
		}
		return GateResult{Verdict: VerdictWait, Decision: &created}, nil
	}

	switch rec.Status {
	case DecisionResolved, DecisionTimedOut:
		return GateResult{Verdict: VerdictProceed, Decision: &rec, Chosen: rec.Chosen, Reason: rec.Reason}, nil
	case DecisionPending:
		if !rec.ExpiresAt.IsZero() && !g.now().UTC().Before(rec.ExpiresAt) {
			// resolve in place to the default rather than waiting for the sweep
			if err := g.timeoutDecision(ctx, &rec); err != nil {
				return GateResult{}, err
			}
			return GateResult{Verdict: VerdictProceed, Decision: &rec, Chosen: rec.Chosen, Reason: "timed out to default option"}, nil
		}
		return GateResult{Verdict: VerdictWait, Decision: &rec}, nil
	default:
		return GateResult{}, fmt.Errorf("decision %s has unknown status %q", rec.ID, rec.Status)
	}
}

func (g *Gate) timeoutDecision(ctx context.Context, rec *Decision) error {
	timedOut, err := g.Store.TimeoutDecisionsDue(ctx, g.now())
	if err != nil {
		return fmt.Errorf("time out decision %s: %w", rec.ID, err)
	}
	for _, d := range timedOut {
		g.auditResolution(ctx, d.TaskID, "decision_timed_out", safety.OutcomeAllowed, map[string]any{
			"decision_id": d.ID,
			"chosen":      d.Chosen,
		})
		if d.ID == rec.ID {
			*rec = d
		}
	}
	if rec.Status == DecisionPending {
		// someone resolved it between our check and the sweep
		fresh, ok, err := g.Store.GetDecision(ctx, rec.ID)
		if err != nil || !ok {
			return fmt.Errorf("reload decision %s after timeout sweep: %w", rec.ID, err)
		}
		*rec = fresh
	}
	return nil
}

// Resolve records a human verdict on a pending approval. Approve must be
// true or false; a resolved approval cannot be changed.
func (g *Gate) Resolve(ctx context.Context, approvalID string, approve bool, decidedBy, reason string) (Approval, error) {
	if g == nil || g.Store == nil {
		return Approval{}, fmt.Errorf("nil approval gate")
	}
	status := StatusRejected
	if approve {
		status = StatusApproved
	}
	if err := g.Store.ResolveApproval(ctx, approvalID, status, decidedBy, reason); err != nil {
		return Approval{}, err
	}
	rec, ok, err := g.Store.GetApproval(ctx, approvalID)
	if err != nil {
		return Approval{}, err
	}
	if !ok {
		return Approval{}, ErrNotFound
	}
	outcome := safety.OutcomeBlocked
	action := "approval_rejected"
	if approve {
		outcome = safety.OutcomeAllowed
		action = "approval_granted"
	}
	g.auditResolution(ctx, rec.TaskID, action, outcome, map[string]any{
		"approval_id": rec.ID,
		"decided_by":  decidedBy,
		"reason":      reason,
		"step_index":  rec.StepIndex,
	})
	return rec, nil
}

// ResolveDecision records the chosen option on a pending decision.
func (g *Gate) ResolveDecision(ctx context.Context, decisionID, chosen, decidedBy, reason string) (Decision, error) {
	if g == nil || g.Store == nil {
		return Decision{}, fmt.Errorf("nil approval gate")
	}
	if err := g.Store.ResolveDecision(ctx, decisionID, chosen, decidedBy, reason); err != nil {
		return Decision{}, err
	}
	rec, ok, err := g.Store.GetDecision(ctx, decisionID)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{}, ErrNotFound
	}
	g.auditResolution(ctx, rec.TaskID, "decision_resolved", safety.OutcomeAllowed, map[string]any{
		"decision_id": rec.ID,
		"chosen":      rec.Chosen,
		"decided_by":  decidedBy,
		"step_index":  rec.StepIndex,
	})
	return rec, nil
}

// ExpirePending sweeps pending approvals and decisions past their deadlines.
// Expired approvals are returned so the caller can fail their tasks.
func (g *Gate) ExpirePending(ctx context.Context) (expired []Approval, timedOut []Decision, err error) {
	if g == nil || g.Store == nil {
		return nil, nil, fmt.Errorf("nil approval gate")
	}
	now := g.now()
	expired, err = g.Store.ExpireApprovalsDue(ctx, now)
	if err != nil {
		return nil, nil, fmt.Errorf("expire approvals: %w", err)
	}
	for _, rec := range expired {
		g.auditResolution(ctx, rec.TaskID, "approval_expired", safety.OutcomeBlocked, map[string]any{
			"approval_id": rec.ID,
			"step_index":  rec.StepIndex,
		})
	}
	timedOut, err = g.Store.TimeoutDecisionsDue(ctx, now)
	if err != nil {
		return expired, nil, fmt.Errorf("time out decisions: %w", err)
	}
	for _, rec := range timedOut {
		g.auditResolution(ctx, rec.TaskID, "decision_timed_out", safety.OutcomeAllowed, map[string]any{
			"decision_id": rec.ID,
			"chosen":      rec.Chosen,
		})
	}
	return expired, timedOut, nil
}

// IsAlreadyResolved reports whether err means the record had already left
// pending.
func IsAlreadyResolved(err error) bool {
	return errors.Is(err, ErrAlreadyResolved)
}

func (g *Gate) audit(ctx context.Context, req StepRequest, actionType string, outcome safety.Outcome, detail map[string]any) {
	if g.Sink == nil {
		return
	}
	if detail == nil {
		detail = map[string]any{}
	}
	detail["step_index"] = req.StepIndex
	detail["summary"] = req.Summary
	entry := safety.AuditEntry{
		ID:         safety.NewEntryID(),
		TaskID:     req.TaskID,
		ActionType: actionType,
		Detail:     detail,
		RiskLevel:  req.Risk,
		Outcome:    outcome,
		CreatedAt:  g.now().UTC(),
	}
	if h, err := safety.DetailHash(detail); err == nil {
		entry.DetailHash = h
	}
	if err := g.Sink.Emit(ctx, entry); err != nil {
		g.Log.WarnContext(ctx, "audit_emit_error", "error", err, "action_type", actionType)
	}
}

func (g *Gate) auditResolution(ctx context.Context, taskID, actionType string, outcome safety.Outcome, detail map[string]any) {
	g.audit(ctx, StepRequest{TaskID: taskID}, actionType, outcome, detail)
}

func rejectionReason(reason, fallback string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fallback
	}
	return fallback + ": " + reason
}
