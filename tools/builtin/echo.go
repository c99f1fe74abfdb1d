package builtin

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/quailyquaily/autopilot/safety"
)

// EchoTool returns its input unchanged. It backs read-only lookup steps and
// keeps end-to-end tests free of real side effects.
type EchoTool struct{}

func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Name() string        { return "echo" }
func (t *EchoTool) Description() string { return "Echo the given text back. No side effects." }

func (t *EchoTool) ParameterSchema() string {
	return `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "text": { "type": "string", "description": "Text to echo back." }
  },
  "required": ["text"]
}`
}

func (t *EchoTool) DeclaredRisk() safety.RiskLevel { return safety.RiskNone }

func (t *EchoTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	_ = ctx
	out := map[string]any{"text": strings.TrimSpace(getString(params, "text"))}
	b, _ := json.Marshal(out)
	return string(b), nil
}

func (t *EchoTool) Simulate(ctx context.Context, params map[string]any) (safety.SimulationResult, error) {
	_ = ctx
	_ = params
	return safety.SimulationResult{Success: true, Summary: "echo has no effect", PredictedRecords: 0}, nil
}
