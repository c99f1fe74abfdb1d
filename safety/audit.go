package safety

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Outcome is the final safety verdict recorded with every audit entry.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeBlocked Outcome = "blocked"
	OutcomeWarning Outcome = "warning"
	OutcomeError   Outcome = "error"
)

// AuditEntry is one append-only record of a safety-relevant decision. Entries
// are never updated or deleted; they are the canonical forensic trail.
type AuditEntry struct {
	ID         string         `json:"id"`
	TaskID     string         `json:"task_id,omitempty"`
	ActionType string         `json:"action_type"`
	Detail     map[string]any `json:"detail,omitempty"`
	DetailHash string         `json:"detail_hash,omitempty"`

	Checks     []CheckResult     `json:"checks,omitempty"`
	Simulation *SimulationResult `json:"simulation,omitempty"`

	RiskLevel RiskLevel `json:"risk_level"`
	Outcome   Outcome   `json:"outcome"`

	CreatedAt time.Time `json:"created_at"`
}

// AuditSink receives audit entries. Sink failures are logged by callers and
// never block the decision that produced the entry.
type AuditSink interface {
	Emit(ctx context.Context, e AuditEntry) error
}

// MultiSink fans an entry out to every sink, returning the first error after
// all sinks have been attempted.
type MultiSink []AuditSink

func (m MultiSink) Emit(ctx context.Context, e AuditEntry) error {
	var firstErr error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func NewEntryID() string {
	return "evt_" + randHex(8)
}

func randHex(nbytes int) string {
	if nbytes <= 0 {
		nbytes = 8
	}
	b := make([]byte, nbytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
