package plan

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/intent"
	"github.com/quailyquaily/autopilot/internal/jsonutil"
	"github.com/quailyquaily/autopilot/llm"
	"github.com/quailyquaily/autopilot/safety"
	"github.com/quailyquaily/autopilot/tools"
)

// Context is the compile-time snapshot. Compilation is deterministic for a
// given classification + context pair.
type Context struct {
	TenantID string
	Session  map[string]string
}

type Compiler struct {
	Registry *tools.Registry
	Assessor *safety.Assessor

	// Client synthesizes steps for free-form intents (action, goal). When
	// nil the compiler uses its deterministic keyword templates instead.
	Client  llm.Client
	Model   string
	Timeout time.Duration

	Log *slog.Logger
}

func NewCompiler(registry *tools.Registry, assessor *safety.Assessor) *Compiler {
	return &Compiler{
		Registry: registry,
		Assessor: assessor,
		Timeout:  30 * time.Second,
	}
}

type stepDescriptor struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// Compile decomposes a classification into an ordered plan. Every step is
// parameter-complete, resolved against the registry, and risk-assessed; the
// plan's overall risk is the maximum across steps. Failure to find a safe
// decomposition returns *CompilationError and no plan.
func (c *Compiler) Compile(ctx context.Context, cls intent.Classification, pctx Context) (*Plan, error) {
	if c == nil || c.Registry == nil {
		return nil, &CompilationError{IntentID: cls.ID, Reason: "compiler has no registry"}
	}

	descriptors, err := c.decompose(ctx, cls)
	if err != nil {
		return nil, err
	}
	if len(descriptors) == 0 {
		return nil, &CompilationError{IntentID: cls.ID, Reason: "decomposition produced no steps"}
	}

	p := &Plan{
		ID:         "plan_" + planRandHex(8),
		IntentID:   cls.ID,
		IntentType: cls.Type,
		Confidence: cls.Confidence,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	for i, d := range descriptors {
		action := strings.TrimSpace(d.Action)
		if action == "" {
			return nil, &CompilationError{IntentID: cls.ID, Reason: fmt.Sprintf("step %d has no action", i)}
		}
		p.Steps = append(p.Steps, Step{Index: i, Action: action, Params: d.Params})
	}

	if err := p.BindHandlers(c.Registry); err != nil {
		return nil, &CompilationError{IntentID: cls.ID, Reason: err.Error()}
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		if err := tools.ValidateParams(step.handler, step.Params); err != nil {
			return nil, &CompilationError{IntentID: cls.ID, Reason: err.Error()}
		}

		in := safety.StepInput{
			TenantID: pctx.TenantID,
			Action:   step.Action,
			Params:   step.Params,
			BaseRisk: tools.DeclaredRisk(step.handler),
		}
		var assessment safety.Assessment
		if c.Assessor != nil {
			assessment = c.Assessor.Assess(ctx, in, tools.SimulateFunc(step.handler))
		} else {
			assessment = safety.Assessment{Risk: in.BaseRisk, Outcome: safety.OutcomeAllowed}
		}
		if assessment.Blocked() {
			return nil, &CompilationError{
				IntentID: cls.ID,
				Reason:   fmt.Sprintf("step %d (%s) blocked: %s", i, step.Action, strings.Join(assessment.Reasons, "; ")),
			}
		}
		step.Risk = assessment.Risk
	}

	p.Risk = p.OverallRisk()
	return p, nil
}

// Simulate dry-runs every step of a plan without executing anything,
// supporting preview semantics for standalone plans.
func (c *Compiler) Simulate(ctx context.Context, p *Plan) (*Simulation, error) {
	if c == nil || p == nil {
		return nil, fmt.Errorf("nil compiler or plan")
	}
	out := &Simulation{Success: true}
	for i := range p.Steps {
		step := &p.Steps[i]
		sim := tools.SimulateFunc(step.handler)
		if sim == nil {
			out.Steps = append(out.Steps, safety.SimulationResult{
				Success:          true,
				Summary:          fmt.Sprintf("%s has no dry-run support", step.Action),
				PredictedRecords: -1,
			})
			continue
		}
		res, err := sim(ctx, step.Params)
		if err != nil {
			return nil, fmt.Errorf("simulating step %d (%s): %w", i, step.Action, err)
		}
		if !res.Success {
			out.Success = false
		}
		out.Steps = append(out.Steps, res)
	}
	p.Simulation = out
	return out, nil
}

func (c *Compiler) decompose(ctx context.Context, cls intent.Classification) ([]stepDescriptor, error) {
	switch cls.Type {
	case intent.TypeQuery:
		return []stepDescriptor{{Action: "echo", Params: map[string]any{"text": cls.Text}}}, nil
	case intent.TypeTodo:
		return templateSteps("todos", "md", cls), nil
	case intent.TypeAppCreate:
		return templateSteps("apps", "yaml", cls), nil
	case intent.TypeMonitor:
		return templateSteps("monitors", "yaml", cls), nil
	case intent.TypeSchedule:
		return templateSteps("schedules", "yaml", cls), nil
	case intent.TypeTool:
		return templateSteps("commands", "yaml", cls), nil
	case intent.TypeAction, intent.TypeGoal:
		if c.Client != nil {
			return c.synthesize(ctx, cls)
		}
		return keywordSynthesize(cls)
	default:
		return nil, &CompilationError{IntentID: cls.ID, Reason: fmt.Sprintf("no decomposition for intent type %q", cls.Type)}
	}
}

// synthesize asks the model for step descriptors constrained to registered
// actions. A model timeout or error here is a fatal compilation error, never
// a silent fallback.
func (c *Compiler) synthesize(ctx context.Context, cls intent.Classification) ([]stepDescriptor, error) {
	actions := make([]map[string]string, 0)
	for _, t := range c.Registry.All() {
		actions = append(actions, map[string]string{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.ParameterSchema(),
		})
	}

	payload := map[string]any{
		"intent":   cls.Text,
		"type":     string(cls.Type),
		"entities": cls.Entities,
		"actions":  actions,
		"rules": []string{
			"Decompose the intent into the minimal ordered list of steps.",
			"Use only the listed actions; every parameter must be fully resolved now.",
			"Return an empty list if no safe decomposition exists.",
		},
	}
	b, _ := json.Marshal(payload)
	sys := "You compile user intents into execution steps. Return ONLY JSON: " +
		`{"steps": [{"action": string, "params": object}]}.`

	cctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	res, err := c.Client.Chat(cctx, llm.Request{
		Model:     c.Model,
		ForceJSON: true,
		Messages: []llm.Message{
			{Role: "system", Content: sys},
			{Role: "user", Content: string(b)},
		},
		Parameters: map[string]any{
			"max_tokens":  800,
			"temperature": 0,
		},
	})
	if err != nil {
		return nil, &CompilationError{IntentID: cls.ID, Reason: fmt.Sprintf("step synthesis failed: %v", err)}
	}

	var parsed struct {
		Steps []stepDescriptor `json:"steps"`
	}
	if err := jsonutil.DecodeWithFallback(res.Text, &parsed); err != nil {
		return nil, &CompilationError{IntentID: cls.ID, Reason: "step synthesis returned invalid JSON"}
	}
	if len(parsed.Steps) == 0 {
		return nil, &CompilationError{IntentID: cls.ID, Reason: "model found no safe decomposition"}
	}
	return parsed.Steps, nil
}

// keywordSynthesize is the deterministic no-model path for free-form intents.
func keywordSynthesize(cls intent.Classification) ([]stepDescriptor, error) {
	lower := strings.ToLower(cls.Text)

	if strings.Contains(lower, "delete all") {
		params := map[string]any{"table": "records", "scope": "all"}
		if t := strings.TrimSpace(cls.Entities["table"]); t != "" {
			params["table"] = t
		}
		return []stepDescriptor{{Action: "record_delete", Params: params}}, nil
	}

	recipient := strings.TrimSpace(cls.Entities["recipient"])
	if recipient != "" || strings.Contains(lower, "send") {
		if recipient == "" {
			recipient = firstEmail(cls.Text)
		}
		if recipient == "" {
			return nil, &CompilationError{IntentID: cls.ID, Reason: "send intent has no resolvable recipient"}
		}
		params := map[string]any{
			"recipient": recipient,
			"body":      cls.Text,
		}
		if s := strings.TrimSpace(cls.Entities["subject"]); s != "" {
			params["subject"] = s
		}
		return []stepDescriptor{{Action: "send_message", Params: params}}, nil
	}

	return nil, &CompilationError{IntentID: cls.ID, Reason: "no safe decomposition for free-form intent"}
}

func templateSteps(kind, ext string, cls intent.Classification) []stepDescriptor {
	name := stableName(cls.Text)
	var content string
	if ext == "md" {
		content = "# " + strings.TrimSpace(cls.Text) + "\n"
	} else {
		content = manifestYAML(kind, cls)
	}
	return []stepDescriptor{{
		Action: "write_file",
		Params: map[string]any{
			"path":    fmt.Sprintf("%s/%s.%s", kind, name, ext),
			"content": content,
		},
	}}
}

func firstEmail(text string) string {
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, ".,;:!?()<>\"'")
		at := strings.Index(tok, "@")
		if at > 0 && strings.Contains(tok[at:], ".") {
			return tok
		}
	}
	return ""
}

// stableName derives a filesystem-safe name from the intent text so the same
// text always compiles to the same path.
func stableName(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(strings.ToLower(text))))
	return hex.EncodeToString(sum[:6])
}

func planRandHex(nbytes int) string {
	b := make([]byte, nbytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
