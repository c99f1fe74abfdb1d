package task

import (
	"testing"

	"pgregory.net/rapid"
)

var allStatuses = []Status{
	StatusPending, StatusReady, StatusRunning, StatusPaused,
	StatusWaitingApproval, StatusCompleted, StatusFailed, StatusCancelled,
}

// Terminal statuses absorb: no random walk along legal edges can ever leave
// one.
func TestTerminalStatusesAbsorb(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cur := StatusPending
		reachedTerminal := false
		n := rapid.IntRange(1, 40).Draw(rt, "walk_length")
		for i := 0; i < n; i++ {
			next := rapid.SampledFrom(allStatuses).Draw(rt, "next")
			if !CanTransition(cur, next) {
				continue
			}
			if reachedTerminal {
				rt.Fatalf("transition %s -> %s allowed after terminal state", cur, next)
			}
			cur = next
			if cur.Terminal() {
				reachedTerminal = true
			}
		}
		if reachedTerminal && !cur.Terminal() {
			rt.Fatalf("walk left terminal state, ended at %s", cur)
		}
	})
}

func TestNoSelfTransitions(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.SampledFrom(allStatuses).Draw(rt, "status")
		if CanTransition(s, s) {
			rt.Fatalf("self transition allowed for %s", s)
		}
	})
}

// Every legal edge connects two known statuses, and every edge out of
// running can be produced by the executor (yield, terminal, or pause).
func TestTransitionEdgesAreClosed(t *testing.T) {
	for from, nexts := range transitionEdges {
		if !from.Known() {
			t.Fatalf("edge map contains unknown status %q", from)
		}
		for _, to := range nexts {
			if !to.Known() {
				t.Fatalf("edge %s -> %q targets unknown status", from, to)
			}
			if from.Terminal() {
				t.Fatalf("terminal status %s has outgoing edge to %s", from, to)
			}
		}
	}
}
