package approval

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyResolved is returned when resolving an approval or decision that
// has already left pending. Resolved records are immutable.
var ErrAlreadyResolved = errors.New("approval already resolved")

// ErrNotFound is returned when resolving an approval or decision that does
// not exist.
var ErrNotFound = errors.New("approval not found")

// Store persists approvals and decisions. Implementations must make
// resolution conditional on pending status so a record can be resolved at
// most once.
type Store interface {
	CreateApproval(ctx context.Context, rec Approval) (string, error)
	GetApproval(ctx context.Context, id string) (Approval, bool, error)
	// OpenForStep returns the latest non-skipped approval for a task step,
	// resolved or not.
	OpenForStep(ctx context.Context, taskID string, stepIndex int) (Approval, bool, error)
	// ResolveApproval moves a pending approval to approved or rejected.
	ResolveApproval(ctx context.Context, id string, status Status, decidedBy, reason string) error
	// ExpireApprovalsDue marks pending approvals past their deadline as
	// expired and returns them.
	ExpireApprovalsDue(ctx context.Context, now time.Time) ([]Approval, error)

	CreateDecision(ctx context.Context, rec Decision) (string, error)
	GetDecision(ctx context.Context, id string) (Decision, bool, error)
	DecisionForStep(ctx context.Context, taskID string, stepIndex int) (Decision, bool, error)
	// ResolveDecision records the chosen option on a pending decision.
	ResolveDecision(ctx context.Context, id string, chosen, decidedBy, reason string) error
	// TimeoutDecisionsDue resolves pending decisions past their deadline to
	// their default option and returns them.
	TimeoutDecisionsDue(ctx context.Context, now time.Time) ([]Decision, error)
}
