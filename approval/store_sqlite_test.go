package approval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quailyquaily/autopilot/safety"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "approvals.db")
	s, err := NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s
}

func TestApprovalResolveIsOneShot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateApproval(ctx, Approval{
		TaskID:        "task_1",
		StepIndex:     0,
		ActionSummary: "delete 42 records",
		Risk:          safety.RiskCritical,
	})
	if err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	if err := s.ResolveApproval(ctx, id, StatusApproved, "operator", "looks fine"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	err = s.ResolveApproval(ctx, id, StatusRejected, "operator", "changed my mind")
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second resolve err = %v, want ErrAlreadyResolved", err)
	}

	rec, ok, err := s.GetApproval(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetApproval: ok=%v err=%v", ok, err)
	}
	if rec.Status != StatusApproved {
		t.Fatalf("status = %q, want approved", rec.Status)
	}
	if rec.DecidedBy != "operator" || rec.Reason != "looks fine" {
		t.Fatalf("resolution fields lost: %+v", rec)
	}
	if rec.DecidedAt == nil {
		t.Fatal("decided_at not set")
	}
}

func TestApprovalResolveRejectsBadStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, err := s.CreateApproval(ctx, Approval{TaskID: "task_1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ResolveApproval(ctx, id, StatusExpired, "x", ""); err == nil {
		t.Fatal("expected error: expired is not a human resolution")
	}
	if err := s.ResolveApproval(ctx, "apr_missing", StatusApproved, "x", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id err = %v, want ErrNotFound", err)
	}
}

func TestExpireApprovalsDue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	past, err := s.CreateApproval(ctx, Approval{
		TaskID:    "task_old",
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	future, err := s.CreateApproval(ctx, Approval{
		TaskID:    "task_new",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	expired, err := s.ExpireApprovalsDue(ctx, now)
	if err != nil {
		t.Fatalf("ExpireApprovalsDue: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != past {
		t.Fatalf("expired = %+v, want exactly the past approval", expired)
	}

	rec, _, _ := s.GetApproval(ctx, past)
	if rec.Status != StatusExpired {
		t.Fatalf("past status = %q, want expired", rec.Status)
	}
	rec, _, _ = s.GetApproval(ctx, future)
	if rec.Status != StatusPending {
		t.Fatalf("future status = %q, want pending", rec.Status)
	}

	// expiry is a resolution: it cannot be overridden afterwards
	err = s.ResolveApproval(ctx, past, StatusApproved, "operator", "too late")
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("resolve after expiry err = %v, want ErrAlreadyResolved", err)
	}
}

func TestOpenForStepReturnsLatest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	if _, err := s.CreateApproval(ctx, Approval{TaskID: "task_1", StepIndex: 2, CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	latest, err := s.CreateApproval(ctx, Approval{TaskID: "task_1", StepIndex: 2, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}

	rec, ok, err := s.OpenForStep(ctx, "task_1", 2)
	if err != nil || !ok {
		t.Fatalf("OpenForStep: ok=%v err=%v", ok, err)
	}
	if rec.ID != latest {
		t.Fatalf("got %s, want latest %s", rec.ID, latest)
	}

	if _, ok, _ := s.OpenForStep(ctx, "task_1", 5); ok {
		t.Fatal("unexpected approval for step with none")
	}
}

func TestDecisionTimeoutResolvesToDefault(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	id, err := s.CreateDecision(ctx, Decision{
		TaskID:         "task_1",
		StepIndex:      1,
		Question:       "which channel",
		Options:        []string{"email", "sms"},
		DefaultOption:  "email",
		CreatedAt:      now.Add(-time.Hour),
		TimeoutSeconds: 60,
	})
	if err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}

	timedOut, err := s.TimeoutDecisionsDue(ctx, now)
	if err != nil {
		t.Fatalf("TimeoutDecisionsDue: %v", err)
	}
	if len(timedOut) != 1 || timedOut[0].ID != id {
		t.Fatalf("timedOut = %+v", timedOut)
	}
	if timedOut[0].Chosen != "email" {
		t.Fatalf("chosen = %q, want default email", timedOut[0].Chosen)
	}

	err = s.ResolveDecision(ctx, id, "sms", "operator", "")
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("resolve after timeout err = %v, want ErrAlreadyResolved", err)
	}
}

func TestResolveDecisionValidatesOption(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateDecision(ctx, Decision{
		TaskID:  "task_1",
		Options: []string{"keep", "archive"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.ResolveDecision(ctx, id, "discard", "operator", ""); err == nil {
		t.Fatal("expected error for option not in the list")
	}
	if err := s.ResolveDecision(ctx, id, "Archive", "operator", ""); err != nil {
		t.Fatalf("case-insensitive option match failed: %v", err)
	}
	rec, _, _ := s.GetDecision(ctx, id)
	if rec.Status != DecisionResolved || rec.Chosen != "Archive" {
		t.Fatalf("decision = %+v", rec)
	}
}
