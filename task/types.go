package task

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/approval"
)

// Status is the lifecycle state of a task. Transitions only move along the
// edges in transitionEdges; terminal states absorb.
type Status string

const (
	StatusPending         Status = "pending"
	StatusReady           Status = "ready"
	StatusRunning         Status = "running"
	StatusPaused          Status = "paused"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

func (s Status) Known() bool {
	_, ok := transitionEdges[s]
	return ok
}

// Terminal reports whether the status absorbs: no transition leaves it.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var transitionEdges = map[Status][]Status{
	StatusPending:         {StatusReady, StatusFailed, StatusCancelled},
	StatusReady:           {StatusRunning, StatusPaused, StatusFailed, StatusCancelled},
	StatusRunning:         {StatusPaused, StatusWaitingApproval, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:          {StatusReady, StatusRunning, StatusFailed, StatusCancelled},
	StatusWaitingApproval: {StatusReady, StatusRunning, StatusFailed, StatusCancelled},
	StatusCompleted:       nil,
	StatusFailed:          nil,
	StatusCancelled:       nil,
}

// CanTransition reports whether from -> to is a legal edge. Transitions out
// of a terminal status are always rejected.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	for _, next := range transitionEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Known() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p.Known() {
		return p, true
	}
	return PriorityNormal, false
}

// StepResult is one completed step's outcome. Results are append-only: a
// task with current_step N has exactly N results, in step order.
type StepResult struct {
	StepIndex  int       `json:"step_index"`
	Action     string    `json:"action"`
	Output     string    `json:"output,omitempty"`
	Attempts   int       `json:"attempts"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// AutoTask is the unit of work tracked end to end.
type AutoTask struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	IntentText string `json:"intent_text"`

	Status   Status                 `json:"status"`
	Mode     approval.ExecutionMode `json:"execution_mode"`
	Priority Priority               `json:"priority"`

	PlanID      string  `json:"plan_id,omitempty"`
	CurrentStep int     `json:"current_step"`
	TotalSteps  int     `json:"total_steps"`
	Progress    float64 `json:"progress"`

	StepResults []StepResult `json:"step_results,omitempty"`
	LastError   string       `json:"last_error,omitempty"`

	ClaimedBy       string     `json:"claimed_by,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewTaskID() string { return "task_" + randHex(8) }

func randHex(nbytes int) string {
	if nbytes <= 0 {
		nbytes = 8
	}
	b := make([]byte, nbytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
