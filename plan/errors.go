package plan

import "fmt"

// CompilationError means no safe decomposition exists for an intent. The
// surrounding task is never created.
type CompilationError struct {
	IntentID string
	Reason   string
}

func (e *CompilationError) Error() string {
	if e == nil {
		return "plan compilation error"
	}
	return fmt.Sprintf("plan compilation failed for intent %s: %s", e.IntentID, e.Reason)
}
