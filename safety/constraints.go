package safety

import (
	"fmt"
	"strings"
)

// StepInput is what the assessor sees of a candidate step: the resolved
// action name, its fully-bound parameters, the risk the tool itself declares,
// and the tenant the surrounding task runs under.
type StepInput struct {
	TaskID   string
	TenantID string
	Action   string
	Params   map[string]any
	BaseRisk RiskLevel
}

// CheckResult is the evaluation of one constraint against one step. A check
// that fails (Passed=false) blocks the step outright; a check that passes may
// still raise the step's risk through RiskHint.
type CheckResult struct {
	CheckID  string    `json:"check_id"`
	Passed   bool      `json:"passed"`
	Message  string    `json:"message,omitempty"`
	RiskHint RiskLevel `json:"risk_hint,omitempty"`
}

// Check is one constraint rule. Evaluate must not perform the action; it
// inspects the step descriptor only.
type Check interface {
	ID() string
	Evaluate(in StepInput) CheckResult
}

// DefaultChecks returns the built-in constraint set.
func DefaultChecks() []Check {
	return []Check{
		NewTenantScopeCheck(),
		NewExternalCommCheck(nil),
		NewIrreversibleEffectCheck(nil),
		NewBulkMutationCheck(),
	}
}

// TenantScopeCheck fails any step whose parameters address a tenant other
// than the one the task runs under.
type TenantScopeCheck struct{}

func NewTenantScopeCheck() *TenantScopeCheck { return &TenantScopeCheck{} }

func (c *TenantScopeCheck) ID() string { return "tenant_scope" }

func (c *TenantScopeCheck) Evaluate(in StepInput) CheckResult {
	target := strings.TrimSpace(paramString(in.Params, "tenant_id"))
	if target == "" || in.TenantID == "" || target == in.TenantID {
		return CheckResult{CheckID: c.ID(), Passed: true}
	}
	return CheckResult{
		CheckID: c.ID(),
		Passed:  false,
		Message: fmt.Sprintf("step targets tenant %q outside current tenant %q", target, in.TenantID),
	}
}

// ExternalCommCheck flags steps that send communication outside the platform
// (messages, email, webhooks). It never blocks on its own; it raises risk so
// the gate decides.
type ExternalCommCheck struct {
	Actions map[string]bool
}

func NewExternalCommCheck(actions []string) *ExternalCommCheck {
	set := make(map[string]bool, len(actions))
	for _, a := range actions {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			set[a] = true
		}
	}
	if len(set) == 0 {
		set = map[string]bool{"send_message": true, "send_email": true, "webhook_post": true}
	}
	return &ExternalCommCheck{Actions: set}
}

func (c *ExternalCommCheck) ID() string { return "external_communication" }

func (c *ExternalCommCheck) Evaluate(in StepInput) CheckResult {
	action := strings.ToLower(strings.TrimSpace(in.Action))
	if !c.Actions[action] && strings.TrimSpace(paramString(in.Params, "recipient")) == "" {
		return CheckResult{CheckID: c.ID(), Passed: true}
	}
	return CheckResult{
		CheckID:  c.ID(),
		Passed:   true,
		Message:  "step sends external communication",
		RiskHint: RiskLow,
	}
}

// IrreversibleEffectCheck raises risk to high for steps whose effect cannot
// be undone (deletes, destructive updates).
type IrreversibleEffectCheck struct {
	Actions map[string]bool
}

func NewIrreversibleEffectCheck(actions []string) *IrreversibleEffectCheck {
	set := make(map[string]bool, len(actions))
	for _, a := range actions {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			set[a] = true
		}
	}
	if len(set) == 0 {
		set = map[string]bool{"record_delete": true, "file_delete": true}
	}
	return &IrreversibleEffectCheck{Actions: set}
}

func (c *IrreversibleEffectCheck) ID() string { return "irreversible_effect" }

func (c *IrreversibleEffectCheck) Evaluate(in StepInput) CheckResult {
	action := strings.ToLower(strings.TrimSpace(in.Action))
	irreversible := c.Actions[action] || strings.HasPrefix(action, "delete_")
	if !irreversible {
		if b, ok := in.Params["irreversible"].(bool); !ok || !b {
			return CheckResult{CheckID: c.ID(), Passed: true}
		}
	}
	return CheckResult{
		CheckID:  c.ID(),
		Passed:   true,
		Message:  "step has an irreversible effect",
		RiskHint: RiskHigh,
	}
}

// BulkMutationCheck raises risk for steps that mutate many records at once.
// Combined with an irreversible effect the max-risk aggregation lands the
// step at critical.
type BulkMutationCheck struct{}

func NewBulkMutationCheck() *BulkMutationCheck { return &BulkMutationCheck{} }

func (c *BulkMutationCheck) ID() string { return "bulk_mutation" }

func (c *BulkMutationCheck) Evaluate(in StepInput) CheckResult {
	scope := strings.ToLower(strings.TrimSpace(paramString(in.Params, "scope")))
	action := strings.ToLower(strings.TrimSpace(in.Action))
	bulk := scope == "all" || strings.Contains(action, "_all") || strings.HasPrefix(action, "bulk_")
	if !bulk {
		return CheckResult{CheckID: c.ID(), Passed: true}
	}
	hint := RiskMedium
	if strings.Contains(action, "delete") || strings.Contains(action, "update") {
		hint = RiskCritical
	}
	return CheckResult{
		CheckID:  c.ID(),
		Passed:   true,
		Message:  "step mutates records in bulk",
		RiskHint: hint,
	}
}

func paramString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
