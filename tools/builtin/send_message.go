package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/safety"
	"github.com/quailyquaily/autopilot/tools"
)

// SendMessageTool delivers a message to a recipient through a pluggable
// sender. The default sender appends to a JSONL outbox file, which is what
// the channel adapters tail in deployment.
type SendMessageTool struct {
	Enabled    bool
	OutboxPath string
	MaxBytes   int

	// Sender overrides outbox delivery when set (used by channel adapters).
	Sender func(ctx context.Context, recipient, subject, body string) error
}

func NewSendMessageTool(enabled bool, outboxPath string) *SendMessageTool {
	outboxPath = strings.TrimSpace(outboxPath)
	if outboxPath == "" {
		outboxPath = "/tmp/.autopilot-outbox.jsonl"
	}
	return &SendMessageTool{
		Enabled:    enabled,
		OutboxPath: outboxPath,
		MaxBytes:   64 * 1024,
	}
}

func (t *SendMessageTool) Name() string { return "send_message" }
func (t *SendMessageTool) Description() string {
	return "Send a message to a recipient (email address or channel handle)."
}

func (t *SendMessageTool) ParameterSchema() string {
	return `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "recipient": { "type": "string", "description": "Email address or channel handle." },
    "subject": { "type": "string", "description": "Optional subject line." },
    "body": { "type": "string", "description": "Message body." }
  },
  "required": ["recipient", "body"]
}`
}

func (t *SendMessageTool) DeclaredRisk() safety.RiskLevel { return safety.RiskLow }

func (t *SendMessageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t == nil || !t.Enabled {
		return "", tools.Fatal(fmt.Errorf("send_message tool is disabled"))
	}
	recipient := strings.TrimSpace(getString(params, "recipient"))
	if recipient == "" {
		return "", tools.Fatal(fmt.Errorf("missing recipient"))
	}
	body := strings.TrimSpace(getString(params, "body"))
	if body == "" {
		return "", tools.Fatal(fmt.Errorf("missing body"))
	}
	subject := strings.TrimSpace(getString(params, "subject"))

	maxBytes := t.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	if len(body) > maxBytes {
		return "", tools.Fatal(fmt.Errorf("body exceeds %d bytes", maxBytes))
	}

	if t.Sender != nil {
		if err := t.Sender(ctx, recipient, subject, body); err != nil {
			// Delivery failures are transient from the engine's view.
			return "", tools.Retryable(err)
		}
	} else if err := t.appendOutbox(recipient, subject, body); err != nil {
		return "", tools.Retryable(err)
	}

	out := map[string]any{"delivered": true, "recipient": recipient}
	b, _ := json.Marshal(out)
	return string(b), nil
}

func (t *SendMessageTool) Simulate(ctx context.Context, params map[string]any) (safety.SimulationResult, error) {
	_ = ctx
	recipient := strings.TrimSpace(getString(params, "recipient"))
	if recipient == "" {
		return safety.SimulationResult{Success: false, Summary: "missing recipient", PredictedRecords: 0}, nil
	}
	return safety.SimulationResult{
		Success:          true,
		Summary:          fmt.Sprintf("would deliver one message to %s", recipient),
		SideEffects:      []string{"external communication"},
		PredictedRecords: 1,
	}, nil
}

func (t *SendMessageTool) appendOutbox(recipient, subject, body string) error {
	if dir := filepath.Dir(t.OutboxPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(t.OutboxPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	rec := map[string]any{
		"recipient": recipient,
		"subject":   subject,
		"body":      body,
		"ts":        time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(b, '\n'))
	return err
}
