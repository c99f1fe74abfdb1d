package approval

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quailyquaily/autopilot/safety"
)

func TestPolicyRequiresApproval(t *testing.T) {
	p := DefaultPolicy()

	cases := []struct {
		name string
		mode ExecutionMode
		risk safety.RiskLevel
		want bool
	}{
		{"autonomous none", ModeAutonomous, safety.RiskNone, false},
		{"autonomous low", ModeAutonomous, safety.RiskLow, false},
		{"autonomous medium", ModeAutonomous, safety.RiskMedium, true},
		{"autonomous high", ModeAutonomous, safety.RiskHigh, true},
		{"autonomous critical", ModeAutonomous, safety.RiskCritical, true},
		{"supervised none", ModeSupervised, safety.RiskNone, false},
		{"supervised low", ModeSupervised, safety.RiskLow, true},
		{"supervised medium", ModeSupervised, safety.RiskMedium, true},
		{"manual none", ModeManual, safety.RiskNone, true},
		{"manual low", ModeManual, safety.RiskLow, true},
		{"unknown mode", ExecutionMode("yolo"), safety.RiskNone, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.RequiresApproval(tc.mode, tc.risk); got != tc.want {
				t.Fatalf("RequiresApproval(%s, %s) = %v, want %v", tc.mode, tc.risk, got, tc.want)
			}
		})
	}
}

func TestPolicyHardGateFloorOverridesCeiling(t *testing.T) {
	p := DefaultPolicy()
	p.Modes[ModeAutonomous] = ModePolicy{AutoApproveCeiling: safety.RiskCritical, Expiry: time.Minute}

	if !p.RequiresApproval(ModeAutonomous, safety.RiskHigh) {
		t.Fatal("risk at the hard gate floor must require approval even with a critical ceiling")
	}
	if !p.RequiresApproval(ModeAutonomous, safety.RiskCritical) {
		t.Fatal("critical risk must require approval")
	}
	if p.RequiresApproval(ModeAutonomous, safety.RiskMedium) {
		t.Fatal("risk below the floor should honor the ceiling")
	}
}

func TestLoadPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	raw := `
modes:
  autonomous:
    auto_approve_ceiling: medium
    expiry: 10m
hard_gate_floor: high
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}
	if p.Modes[ModeAutonomous].AutoApproveCeiling != safety.RiskMedium {
		t.Fatalf("ceiling = %q, want medium", p.Modes[ModeAutonomous].AutoApproveCeiling)
	}
	if p.Modes[ModeAutonomous].Expiry != 10*time.Minute {
		t.Fatalf("expiry = %v, want 10m", p.Modes[ModeAutonomous].Expiry)
	}
	// unset modes keep their defaults
	if p.Modes[ModeSupervised].AutoApproveCeiling != safety.RiskNone {
		t.Fatalf("supervised ceiling = %q, want none", p.Modes[ModeSupervised].AutoApproveCeiling)
	}
}

func TestLoadPolicyFileRejectsUnknownValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	raw := `
modes:
  autonomous:
    auto_approve_ceiling: galactic
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicyFile(path); err == nil {
		t.Fatal("expected error for unknown risk level")
	}
}
