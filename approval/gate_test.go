package approval

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/quailyquaily/autopilot/safety"
)

type memorySink struct {
	mu      sync.Mutex
	entries []safety.AuditEntry
}

func (m *memorySink) Emit(_ context.Context, e safety.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memorySink) byAction(actionType string) []safety.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []safety.AuditEntry
	for _, e := range m.entries {
		if e.ActionType == actionType {
			out = append(out, e)
		}
	}
	return out
}

func newTestGate(t *testing.T) (*Gate, *SQLiteStore, *memorySink) {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gate.db"))
	if err != nil {
		t.Fatal(err)
	}
	sink := &memorySink{}
	g := NewGate(DefaultPolicy(), store, sink, slog.Default())
	return g, store, sink
}

func TestGateAutoApproveLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	g, store, sink := newTestGate(t)

	res, err := g.Check(ctx, StepRequest{
		TaskID:    "task_1",
		StepIndex: 0,
		Mode:      ModeAutonomous,
		Risk:      safety.RiskLow,
		Summary:   "append a todo line",
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Verdict != VerdictProceed {
		t.Fatalf("verdict = %q, want proceed", res.Verdict)
	}
	if _, ok, _ := store.OpenForStep(ctx, "task_1", 0); ok {
		t.Fatal("auto-approved step must not create an approval record")
	}
	if got := sink.byAction("approval_skipped"); len(got) != 1 {
		t.Fatalf("approval_skipped entries = %d, want 1", len(got))
	}
}

func TestGateRequireCreatesPendingThenHonorsResolution(t *testing.T) {
	ctx := context.Background()
	g, _, sink := newTestGate(t)

	req := StepRequest{
		TaskID:    "task_1",
		StepIndex: 0,
		Mode:      ModeAutonomous,
		Risk:      safety.RiskCritical,
		Summary:   "delete all contacts",
	}

	res, err := g.Check(ctx, req)
	if err != nil {
		t.Fatalf("first Check: %v", err)
	}
	if res.Verdict != VerdictWait || res.Approval == nil {
		t.Fatalf("first check = %+v, want wait with approval", res)
	}
	if len(sink.byAction("approval_requested")) != 1 {
		t.Fatal("missing approval_requested audit entry")
	}

	// a second check must not raise a second approval
	res2, err := g.Check(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Verdict != VerdictWait || res2.Approval.ID != res.Approval.ID {
		t.Fatalf("second check raised a new gate: %+v", res2)
	}

	if _, err := g.Resolve(ctx, res.Approval.ID, true, "operator", "verified scope"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	res3, err := g.Check(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res3.Verdict != VerdictProceed {
		t.Fatalf("post-approval verdict = %q, want proceed", res3.Verdict)
	}
}

func TestGateRejectionRefuses(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(t)

	req := StepRequest{TaskID: "task_1", StepIndex: 0, Mode: ModeManual, Risk: safety.RiskLow, Summary: "write file"}
	res, err := g.Check(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Resolve(ctx, res.Approval.ID, false, "operator", "not now"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	res2, err := g.Check(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Verdict != VerdictRefuse {
		t.Fatalf("verdict = %q, want refuse", res2.Verdict)
	}
}

func TestGateExpiredApprovalRefuses(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(t)

	req := StepRequest{TaskID: "task_1", StepIndex: 0, Mode: ModeManual, Risk: safety.RiskMedium, Summary: "send report"}
	res, err := g.Check(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != VerdictWait {
		t.Fatalf("verdict = %q, want wait", res.Verdict)
	}

	g.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

	res2, err := g.Check(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Verdict != VerdictRefuse {
		t.Fatalf("verdict past deadline = %q, want refuse", res2.Verdict)
	}

	expired, _, err := g.ExpirePending(ctx)
	if err != nil {
		t.Fatalf("ExpirePending: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != res.Approval.ID {
		t.Fatalf("expired = %+v", expired)
	}
}

func TestGateDecisionFlow(t *testing.T) {
	ctx := context.Background()
	g, _, sink := newTestGate(t)

	req := StepRequest{
		TaskID:         "task_1",
		StepIndex:      1,
		Mode:           ModeSupervised,
		Risk:           safety.RiskMedium,
		Summary:        "notify owner",
		Question:       "which channel",
		Options:        []string{"email", "sms"},
		DefaultOption:  "email",
		TimeoutSeconds: 300,
	}

	res, err := g.Check(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != VerdictWait || res.Decision == nil {
		t.Fatalf("check = %+v, want wait with decision", res)
	}
	if len(sink.byAction("decision_requested")) != 1 {
		t.Fatal("missing decision_requested audit entry")
	}

	if _, err := g.ResolveDecision(ctx, res.Decision.ID, "sms", "operator", "email is down"); err != nil {
		t.Fatalf("ResolveDecision: %v", err)
	}

	res2, err := g.Check(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Verdict != VerdictProceed || res2.Chosen != "sms" {
		t.Fatalf("post-resolution check = %+v, want proceed with sms", res2)
	}
}

func TestGateDecisionTimesOutToDefault(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(t)

	req := StepRequest{
		TaskID:         "task_1",
		StepIndex:      1,
		Mode:           ModeAutonomous,
		Risk:           safety.RiskLow,
		Summary:        "notify owner",
		Question:       "which channel",
		Options:        []string{"email", "sms"},
		DefaultOption:  "email",
		TimeoutSeconds: 60,
	}
	if _, err := g.Check(ctx, req); err != nil {
		t.Fatal(err)
	}

	g.now = func() time.Time { return time.Now().Add(time.Hour) }

	res, err := g.Check(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != VerdictProceed || res.Chosen != "email" {
		t.Fatalf("timed-out decision = %+v, want proceed with default email", res)
	}
}
