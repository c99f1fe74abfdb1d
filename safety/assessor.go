package safety

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Assessment is the full result of assessing one step.
type Assessment struct {
	Risk       RiskLevel
	Outcome    Outcome
	Checks     []CheckResult
	Simulation *SimulationResult
	Reasons    []string
}

func (a Assessment) Blocked() bool {
	return a.Outcome == OutcomeBlocked || a.Outcome == OutcomeError
}

// Assessor evaluates candidate steps against the constraint set and an
// optional dry-run simulation. Every call writes exactly one audit entry,
// allowed or not; assessment is never silent.
type Assessor struct {
	checks []Check
	sink   AuditSink
	log    *slog.Logger

	now func() time.Time
}

func NewAssessor(checks []Check, sink AuditSink, log *slog.Logger) *Assessor {
	if len(checks) == 0 {
		checks = DefaultChecks()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Assessor{
		checks: checks,
		sink:   sink,
		log:    log,
		now:    time.Now,
	}
}

// Assess runs every constraint check and, when sim is non-nil, a dry-run
// simulation. A failed check forces a blocked outcome and a risk of at least
// high regardless of what the simulation predicted; a check-engine or
// simulation failure is treated conservatively as blocked (fail-closed).
func (a *Assessor) Assess(ctx context.Context, in StepInput, sim SimulateFunc) Assessment {
	if a == nil {
		return Assessment{Risk: RiskCritical, Outcome: OutcomeError, Reasons: []string{"nil assessor"}}
	}

	out := Assessment{Risk: in.BaseRisk, Outcome: OutcomeAllowed}
	blocked := false

	for _, c := range a.checks {
		if c == nil {
			continue
		}
		res := evaluateCheck(c, in)
		out.Checks = append(out.Checks, res)
		if !res.Passed {
			blocked = true
			out.Reasons = append(out.Reasons, fmt.Sprintf("%s: %s", res.CheckID, res.Message))
			continue
		}
		if res.RiskHint.Rank() > out.Risk.Rank() {
			out.Risk = res.RiskHint
		}
	}

	if sim != nil && !blocked {
		res, err := sim(ctx, in.Params)
		if err != nil {
			// Fail closed: a broken simulator blocks rather than allows.
			blocked = true
			out.Outcome = OutcomeError
			out.Reasons = append(out.Reasons, fmt.Sprintf("simulation error: %v", err))
		} else {
			out.Simulation = &res
			if !res.Success {
				out.Risk = MaxRisk(out.Risk, RiskHigh)
				out.Outcome = OutcomeWarning
				out.Reasons = append(out.Reasons, "simulation predicts failure")
			}
		}
	}

	if blocked {
		out.Risk = MaxRisk(out.Risk, RiskHigh)
		if out.Outcome != OutcomeError {
			out.Outcome = OutcomeBlocked
		}
	}

	a.writeAudit(ctx, in, out)
	return out
}

func evaluateCheck(c Check, in StepInput) (res CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			res = CheckResult{
				CheckID: c.ID(),
				Passed:  false,
				Message: fmt.Sprintf("check panicked: %v", r),
			}
		}
	}()
	return c.Evaluate(in)
}

func (a *Assessor) writeAudit(ctx context.Context, in StepInput, out Assessment) {
	detail := map[string]any{
		"action": in.Action,
		"params": in.Params,
	}
	if in.TenantID != "" {
		detail["tenant_id"] = in.TenantID
	}
	hash, err := DetailHash(detail)
	if err != nil {
		hash = "hash_error"
	}

	entry := AuditEntry{
		ID:         NewEntryID(),
		TaskID:     in.TaskID,
		ActionType: "step_assess",
		Detail:     detail,
		DetailHash: hash,
		Checks:     out.Checks,
		Simulation: out.Simulation,
		RiskLevel:  out.Risk,
		Outcome:    out.Outcome,
		CreatedAt:  a.now().UTC(),
	}
	if a.sink == nil {
		return
	}
	if err := a.sink.Emit(ctx, entry); err != nil {
		a.log.Warn("audit_emit_error", "entry_id", entry.ID, "task_id", in.TaskID, "error", err.Error())
	}
}
