package intent

import (
	"strings"
	"time"
)

// Type is the classified purpose of a user's free-text request.
type Type string

const (
	TypeAppCreate Type = "app_create"
	TypeTodo      Type = "todo"
	TypeMonitor   Type = "monitor"
	TypeAction    Type = "action"
	TypeSchedule  Type = "schedule"
	TypeGoal      Type = "goal"
	TypeTool      Type = "tool"
	TypeQuery     Type = "query"
	TypeUnknown   Type = "unknown"
)

var knownTypes = map[Type]bool{
	TypeAppCreate: true,
	TypeTodo:      true,
	TypeMonitor:   true,
	TypeAction:    true,
	TypeSchedule:  true,
	TypeGoal:      true,
	TypeTool:      true,
	TypeQuery:     true,
	TypeUnknown:   true,
}

func (t Type) Known() bool { return knownTypes[t] }

// ParseType maps model output (and a few aliases the model tends to emit)
// onto the closed type set. Anything unrecognized is unknown.
func ParseType(s string) Type {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "app_create", "app", "application", "create_app":
		return TypeAppCreate
	case "todo", "task", "reminder":
		return TypeTodo
	case "monitor", "watch", "alert", "on_change":
		return TypeMonitor
	case "action", "execute", "do", "run":
		return TypeAction
	case "schedule", "scheduled", "daily", "weekly", "monthly", "cron":
		return TypeSchedule
	case "goal", "objective", "target", "achieve":
		return TypeGoal
	case "tool", "command", "trigger", "when_i_say":
		return TypeTool
	case "query", "question", "lookup", "search":
		return TypeQuery
	default:
		return TypeUnknown
	}
}

// Classification is an immutable record of one classification request. It is
// never mutated after creation except to attach human feedback.
type Classification struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Type       Type              `json:"type"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
	Feedback   string            `json:"feedback,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// WithFeedback returns a copy with human feedback attached; the original
// classification fields are untouched.
func (c Classification) WithFeedback(feedback string) Classification {
	c.Feedback = strings.TrimSpace(feedback)
	return c
}
