package plan

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quailyquaily/autopilot/db"
	"github.com/quailyquaily/autopilot/intent"
	"github.com/quailyquaily/autopilot/safety"
)

func newTestPlanStore(t *testing.T) *GormStore {
	t.Helper()
	cfg := db.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "planstore_test.db")
	gdb, err := db.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewGormStore(gdb)
}

func samplePlan(id string) *Plan {
	return &Plan{
		ID:         id,
		IntentID:   "int_1",
		IntentType: intent.TypeTodo,
		Confidence: 0.7,
		Status:     StatusPending,
		Risk:       safety.RiskLow,
		Steps: []Step{
			{Index: 0, Action: "write_file", Params: map[string]any{"path": "todos/a.md", "content": "# a\n"}, Risk: safety.RiskLow},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestPlanStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestPlanStore(t)

	in := samplePlan("plan_rt1")
	in.Simulation = &Simulation{Success: true, Steps: []safety.SimulationResult{{Success: true, Summary: "would write todos/a.md"}}}
	if err := store.Create(ctx, in); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok, err := store.Get(ctx, "plan_rt1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.IntentType != in.IntentType || got.Status != in.Status || got.Risk != in.Risk {
		t.Fatalf("got %+v", got)
	}
	if len(got.Steps) != 1 || got.Steps[0].Action != "write_file" || got.Steps[0].Risk != safety.RiskLow {
		t.Fatalf("steps = %+v", got.Steps)
	}
	if got.Simulation == nil || !got.Simulation.Success {
		t.Fatalf("simulation = %+v", got.Simulation)
	}
	if got.TaskID != "" {
		t.Fatalf("standalone plan has task id %q", got.TaskID)
	}
}

func TestPlanStoreAttachIsOnceOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestPlanStore(t)

	if err := store.Create(ctx, samplePlan("plan_att1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Attach(ctx, "plan_att1", "task_a"); err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	if err := store.Attach(ctx, "plan_att1", "task_b"); err == nil {
		t.Fatal("second Attach should fail")
	}

	got, _, err := store.Get(ctx, "plan_att1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TaskID != "task_a" {
		t.Fatalf("task id = %q, want task_a", got.TaskID)
	}
}

func TestPlanStoreAttachMissingPlan(t *testing.T) {
	if err := newTestPlanStore(t).Attach(context.Background(), "plan_nope", "task_a"); err == nil {
		t.Fatal("expected error for missing plan")
	}
}

func TestPlanStoreUpdateStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestPlanStore(t)

	if err := store.Create(ctx, samplePlan("plan_st1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.UpdateStatus(ctx, "plan_st1", StatusExecuting); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := store.UpdateStatus(ctx, "plan_st1", Status("bogus")); err == nil {
		t.Fatal("unknown status should be rejected")
	}

	got, _, err := store.Get(ctx, "plan_st1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusExecuting {
		t.Fatalf("status = %s", got.Status)
	}
}
