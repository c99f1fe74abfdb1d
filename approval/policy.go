package approval

import (
	"fmt"
	"os"
	"time"

	"github.com/quailyquaily/autopilot/safety"
	"gopkg.in/yaml.v3"
)

// ModePolicy configures gating under a single execution mode.
// AutoApproveCeiling is the highest risk level allowed to proceed without a
// human; an empty ceiling means nothing is auto-approved in that mode.
type ModePolicy struct {
	AutoApproveCeiling safety.RiskLevel `yaml:"auto_approve_ceiling"`
	Expiry             time.Duration    `yaml:"expiry"`
}

// Policy decides, for a given mode and risk, whether a step needs human
// approval. Risk at or above HardGateFloor always requires approval no
// matter the mode, so a misconfigured ceiling cannot wave through a
// destructive step.
type Policy struct {
	Modes         map[ExecutionMode]ModePolicy `yaml:"modes"`
	HardGateFloor safety.RiskLevel             `yaml:"hard_gate_floor"`
	DefaultExpiry time.Duration                `yaml:"default_expiry"`
}

func DefaultPolicy() Policy {
	return Policy{
		Modes: map[ExecutionMode]ModePolicy{
			ModeAutonomous: {AutoApproveCeiling: safety.RiskLow, Expiry: 30 * time.Minute},
			ModeSupervised: {AutoApproveCeiling: safety.RiskNone, Expiry: 15 * time.Minute},
			ModeManual:     {AutoApproveCeiling: "", Expiry: 30 * time.Minute},
		},
		HardGateFloor: safety.RiskHigh,
		DefaultExpiry: 30 * time.Minute,
	}
}

// LoadPolicyFile reads a YAML policy, filling unset fields from the default.
func LoadPolicyFile(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	p := DefaultPolicy()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	for mode, mp := range p.Modes {
		if !mode.Known() {
			return Policy{}, fmt.Errorf("policy file %s: unknown execution mode %q", path, mode)
		}
		if mp.AutoApproveCeiling != "" && !mp.AutoApproveCeiling.Known() {
			return Policy{}, fmt.Errorf("policy file %s: unknown risk level %q for mode %q", path, mp.AutoApproveCeiling, mode)
		}
	}
	return p, nil
}

// RequiresApproval reports whether a step of the given risk needs a human
// under the given mode. Manual mode and unknown modes always require; risk at
// or above the hard gate floor always requires.
func (p Policy) RequiresApproval(mode ExecutionMode, risk safety.RiskLevel) bool {
	if p.HardGateFloor.Known() && risk.Rank() >= p.HardGateFloor.Rank() {
		return true
	}
	if mode == ModeManual {
		return true
	}
	mp, ok := p.Modes[mode]
	if !ok {
		return true
	}
	if mp.AutoApproveCeiling == "" {
		return true
	}
	return risk.Rank() > mp.AutoApproveCeiling.Rank()
}

// ExpiryFor returns the pending-approval lifetime for a mode.
func (p Policy) ExpiryFor(mode ExecutionMode) time.Duration {
	if mp, ok := p.Modes[mode]; ok && mp.Expiry > 0 {
		return mp.Expiry
	}
	if p.DefaultExpiry > 0 {
		return p.DefaultExpiry
	}
	return 30 * time.Minute
}
