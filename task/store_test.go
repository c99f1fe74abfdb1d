package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/quailyquaily/autopilot/db"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := db.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "tasks.db")
	gdb, err := db.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newTestDB(t))

	tk := &AutoTask{Title: "solo", IntentText: "do one thing", Status: StatusReady}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, ok, err := s.Claim(ctx, fmt.Sprintf("worker_%d", n))
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins = append(wins, got.ClaimedBy)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("claims won = %d, want exactly 1 (%v)", len(wins), wins)
	}
	got, _, _ := s.Get(ctx, tk.ID)
	if got.Status != StatusRunning || got.ClaimedBy != wins[0] {
		t.Fatalf("task after claim = %+v", got)
	}
}

func TestClaimPrefersUrgent(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newTestDB(t))

	low := &AutoTask{Title: "low", IntentText: "x", Status: StatusReady, Priority: PriorityLow}
	urgent := &AutoTask{Title: "urgent", IntentText: "x", Status: StatusReady, Priority: PriorityUrgent}
	for _, tk := range []*AutoTask{low, urgent} {
		if err := s.Create(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	got, ok, err := s.Claim(ctx, "worker_a")
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}
	if got.ID != urgent.ID {
		t.Fatalf("claimed %s, want the urgent task %s", got.ID, urgent.ID)
	}
}

func TestUpdateUnderClaimDetectsLostOwnership(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newTestDB(t))

	tk := &AutoTask{Title: "t", IntentText: "x", Status: StatusReady}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatal(err)
	}
	claimed, ok, err := s.Claim(ctx, "worker_a")
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}

	claimed.CurrentStep = 1
	claimed.StepResults = []StepResult{{StepIndex: 0, Action: "echo", Attempts: 1}}
	if err := s.UpdateUnderClaim(ctx, claimed, "worker_a"); err != nil {
		t.Fatalf("update under own claim: %v", err)
	}

	if err := s.UpdateUnderClaim(ctx, claimed, "worker_b"); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("update under foreign claim err = %v, want ErrClaimLost", err)
	}
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newTestDB(t))

	tk := &AutoTask{Title: "t", IntentText: "x", Status: StatusReady}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatal(err)
	}

	if err := s.Transition(ctx, tk.ID, StatusReady, StatusCompleted, ""); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("ready -> completed err = %v, want ErrBadTransition", err)
	}
	if err := s.Transition(ctx, tk.ID, StatusReady, StatusCancelled, ""); err != nil {
		t.Fatalf("ready -> cancelled: %v", err)
	}
	// terminal absorbs
	if err := s.Transition(ctx, tk.ID, StatusCancelled, StatusReady, ""); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("cancelled -> ready err = %v, want ErrBadTransition", err)
	}
	// conditional update guards against stale expectations
	if err := s.Transition(ctx, tk.ID, StatusReady, StatusRunning, ""); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("stale transition err = %v, want ErrClaimLost", err)
	}
}

func TestRequestCancelImmediateWhenUnclaimed(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newTestDB(t))

	tk := &AutoTask{Title: "t", IntentText: "x", Status: StatusReady}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestCancel(ctx, tk.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	got, _, _ := s.Get(ctx, tk.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}
	if err := s.RequestCancel(ctx, tk.ID); err == nil {
		t.Fatal("cancelling a terminal task must error")
	}
}

func TestRequestCancelFlagsRunningTask(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(newTestDB(t))

	tk := &AutoTask{Title: "t", IntentText: "x", Status: StatusReady}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.Claim(ctx, "worker_a"); err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}

	if err := s.RequestCancel(ctx, tk.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	got, _, _ := s.Get(ctx, tk.ID)
	if got.Status != StatusRunning {
		t.Fatalf("running task must not be cancelled preemptively, status = %q", got.Status)
	}
	flagged, err := s.CancelRequested(ctx, tk.ID)
	if err != nil || !flagged {
		t.Fatalf("CancelRequested = %v, %v; want true", flagged, err)
	}
}
