package safety

import "context"

// SimulationResult is the predicted effect of a step without committing it.
type SimulationResult struct {
	Success     bool     `json:"success"`
	Summary     string   `json:"summary,omitempty"`
	SideEffects []string `json:"side_effects,omitempty"`
	// PredictedRecords is the number of records the step would touch, when
	// the simulator can estimate it. -1 means unknown.
	PredictedRecords int `json:"predicted_records"`
}

// SimulateFunc dry-runs a step. Tools that support simulation are adapted to
// this signature by the plan compiler; a nil func means the action has no
// dry-run support and assessment proceeds on constraint checks alone.
type SimulateFunc func(ctx context.Context, params map[string]any) (SimulationResult, error)
