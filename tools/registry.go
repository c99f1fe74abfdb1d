// Package tools defines the runtime boundary for plan steps: a
// capability-keyed registry mapping an action name to a handler. The engine
// resolves handlers once at plan-compile time and treats each Execute call as
// opaque and atomic.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quailyquaily/autopilot/safety"
)

type Tool interface {
	Name() string
	Description() string
	ParameterSchema() string
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// Simulator is implemented by tools that can predict a step's effect without
// committing it. Tools without it are assessed on constraint checks alone.
type Simulator interface {
	Simulate(ctx context.Context, params map[string]any) (safety.SimulationResult, error)
}

// RiskRater is implemented by tools that declare their own base risk. Tools
// without it default to low.
type RiskRater interface {
	DeclaredRisk() safety.RiskLevel
}

// ExecError marks a step failure as retryable or fatal. Errors that are not
// ExecError are treated as fatal.
type ExecError struct {
	Retryable bool
	Err       error
}

func (e *ExecError) Error() string {
	if e == nil || e.Err == nil {
		return "step execution error"
	}
	return e.Err.Error()
}

func (e *ExecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func Retryable(err error) *ExecError { return &ExecError{Retryable: true, Err: err} }
func Fatal(err error) *ExecError     { return &ExecError{Retryable: false, Err: err} }

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	if r == nil || t == nil {
		return
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) All() []Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// DeclaredRisk returns the base risk a tool declares for itself.
func DeclaredRisk(t Tool) safety.RiskLevel {
	if rr, ok := t.(RiskRater); ok {
		risk := rr.DeclaredRisk()
		if risk.Known() {
			return risk
		}
	}
	return safety.RiskLow
}

// SimulateFunc adapts a tool's optional Simulate method to the assessor's
// signature. Returns nil when the tool has no dry-run support.
func SimulateFunc(t Tool) safety.SimulateFunc {
	sim, ok := t.(Simulator)
	if !ok {
		return nil
	}
	return func(ctx context.Context, params map[string]any) (safety.SimulationResult, error) {
		return sim.Simulate(ctx, params)
	}
}

// ValidateParams checks that the required top-level keys of a tool's schema
// are present. Compilation uses it so no step reaches execution with
// unresolved parameters.
func ValidateParams(t Tool, params map[string]any) error {
	required, err := requiredKeys(t.ParameterSchema())
	if err != nil {
		return nil // tolerate unparseable schemas; execution still validates
	}
	for _, k := range required {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("missing required parameter %q for action %q", k, t.Name())
		}
	}
	return nil
}
