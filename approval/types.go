package approval

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/safety"
)

// ExecutionMode governs how much human gating a task requires.
type ExecutionMode string

const (
	ModeAutonomous ExecutionMode = "autonomous"
	ModeSupervised ExecutionMode = "supervised"
	ModeManual     ExecutionMode = "manual"
)

func (m ExecutionMode) Known() bool {
	switch m {
	case ModeAutonomous, ModeSupervised, ModeManual:
		return true
	}
	return false
}

func ParseMode(s string) (ExecutionMode, bool) {
	m := ExecutionMode(strings.ToLower(strings.TrimSpace(s)))
	if m.Known() {
		return m, true
	}
	return ModeManual, false
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusSkipped  Status = "skipped"
)

// Resolved reports whether the approval has left pending. Once resolved the
// record is immutable.
func (s Status) Resolved() bool { return s != StatusPending && s != "" }

// Approval is one binary gate instance tied to a task, and optionally to a
// specific step (StepIndex -1 gates the whole plan).
type Approval struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	StepIndex int    `json:"step_index"`

	ActionSummary string           `json:"action_summary"`
	Risk          safety.RiskLevel `json:"risk"`

	Status    Status     `json:"status"`
	DecidedBy string     `json:"decided_by,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionResolved DecisionStatus = "resolved"
	DecisionTimedOut DecisionStatus = "timed_out"
)

func (s DecisionStatus) Resolved() bool { return s != DecisionPending && s != "" }

// Decision is a multi-option human-in-the-loop question a task raises
// mid-execution. Unlike a binary approval, timeout resolves to the default
// option rather than a rejection, since it represents a choice.
type Decision struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	StepIndex int    `json:"step_index"`

	Question      string   `json:"question"`
	Options       []string `json:"options"`
	DefaultOption string   `json:"default_option"`

	Status    DecisionStatus `json:"status"`
	Chosen    string         `json:"chosen,omitempty"`
	DecidedBy string         `json:"decided_by,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`

	TimeoutSeconds int       `json:"timeout_seconds"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func NewApprovalID() string { return "apr_" + randHex(12) }
func NewDecisionID() string { return "dec_" + randHex(12) }

func randHex(nbytes int) string {
	if nbytes <= 0 {
		nbytes = 12
	}
	b := make([]byte, nbytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
