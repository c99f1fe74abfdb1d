package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/intent"
	"github.com/quailyquaily/autopilot/safety"
	"github.com/quailyquaily/autopilot/tools"
)

// Status is the lifecycle of a compiled plan.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExecuting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Step is one atomic, parameter-complete action. Params are fully bound at
// compile time; the runtime never resolves anything further. The handler is
// bound by BindHandlers and never re-resolved by name mid-execution.
type Step struct {
	Index  int              `json:"index"`
	Action string           `json:"action"`
	Params map[string]any   `json:"params,omitempty"`
	Risk   safety.RiskLevel `json:"risk"`

	handler tools.Tool
}

func (s *Step) Handler() tools.Tool { return s.handler }

// Simulation summarizes the dry run of a standalone (preview) plan.
type Simulation struct {
	Success bool                      `json:"success"`
	Steps   []safety.SimulationResult `json:"steps,omitempty"`
}

// Plan owns an ordered sequence of steps compiled from one classification.
// Overall risk is the maximum across steps; a single high-risk step makes
// the whole plan high-risk.
type Plan struct {
	ID         string           `json:"id"`
	IntentID   string           `json:"intent_id"`
	IntentType intent.Type      `json:"intent_type"`
	Confidence float64          `json:"confidence"`
	Status     Status           `json:"status"`
	Risk       safety.RiskLevel `json:"risk"`
	Steps      []Step           `json:"steps"`
	Simulation *Simulation      `json:"simulation,omitempty"`

	// TaskID is set once the plan is attached to a task; a plan belongs to
	// exactly one task. Empty for standalone preview plans.
	TaskID string `json:"task_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// OverallRisk recomputes max step risk. Stored and recomputed values must
// agree; the compiler sets Risk from this.
func (p *Plan) OverallRisk() safety.RiskLevel {
	if p == nil {
		return safety.RiskNone
	}
	out := safety.RiskNone
	for _, s := range p.Steps {
		out = safety.MaxRisk(out, s.Risk)
	}
	return out
}

// BindHandlers resolves every step's action in the registry and stores the
// handler on the step. It fails up front on the first unresolvable action so
// a plan never discovers a missing handler deep inside a running task.
func (p *Plan) BindHandlers(registry *tools.Registry) error {
	if p == nil {
		return fmt.Errorf("nil plan")
	}
	for i := range p.Steps {
		name := strings.TrimSpace(p.Steps[i].Action)
		t, ok := registry.Get(name)
		if !ok {
			return fmt.Errorf("no registered handler for action %q (step %d)", name, i)
		}
		p.Steps[i].handler = t
	}
	return nil
}
