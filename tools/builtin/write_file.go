package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quailyquaily/autopilot/safety"
	"github.com/quailyquaily/autopilot/tools"
)

// WriteFileTool writes content under a sandbox base directory. Paths are
// cleaned and confined; escaping the base dir is a fatal error.
type WriteFileTool struct {
	Enabled  bool
	MaxBytes int
	BaseDir  string
}

func NewWriteFileTool(enabled bool, maxBytes int, baseDir string) *WriteFileTool {
	if maxBytes <= 0 {
		maxBytes = 512 * 1024
	}
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		baseDir = "/tmp/.autopilot-files"
	}
	return &WriteFileTool{
		Enabled:  enabled,
		MaxBytes: maxBytes,
		BaseDir:  baseDir,
	}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write text content to a file under the engine's file area."
}

func (t *WriteFileTool) ParameterSchema() string {
	return `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "path": { "type": "string", "description": "Relative file path inside the file area." },
    "content": { "type": "string", "description": "File content to write." }
  },
  "required": ["path", "content"]
}`
}

func (t *WriteFileTool) DeclaredRisk() safety.RiskLevel { return safety.RiskLow }

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	_ = ctx
	if t == nil || !t.Enabled {
		return "", tools.Fatal(fmt.Errorf("write_file tool is disabled"))
	}
	rel := strings.TrimSpace(getString(params, "path"))
	if rel == "" {
		return "", tools.Fatal(fmt.Errorf("missing path"))
	}
	content := getString(params, "content")
	if len(content) > t.MaxBytes {
		return "", tools.Fatal(fmt.Errorf("content exceeds %d bytes", t.MaxBytes))
	}

	full, err := t.resolve(rel)
	if err != nil {
		return "", tools.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return "", tools.Retryable(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o600); err != nil {
		return "", tools.Retryable(err)
	}

	out := map[string]any{"path": full, "bytes": len(content)}
	b, _ := json.Marshal(out)
	return string(b), nil
}

func (t *WriteFileTool) Simulate(ctx context.Context, params map[string]any) (safety.SimulationResult, error) {
	_ = ctx
	rel := strings.TrimSpace(getString(params, "path"))
	if rel == "" {
		return safety.SimulationResult{Success: false, Summary: "missing path", PredictedRecords: 0}, nil
	}
	if _, err := t.resolve(rel); err != nil {
		return safety.SimulationResult{Success: false, Summary: err.Error(), PredictedRecords: 0}, nil
	}
	return safety.SimulationResult{
		Success:          true,
		Summary:          fmt.Sprintf("would write %d bytes to %s", len(getString(params, "content")), rel),
		SideEffects:      []string{"file write"},
		PredictedRecords: 1,
	}, nil
}

func (t *WriteFileTool) resolve(rel string) (string, error) {
	base, err := filepath.Abs(t.BaseDir)
	if err != nil {
		return "", err
	}
	full := filepath.Clean(filepath.Join(base, rel))
	if full != base && !strings.HasPrefix(full, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes file area: %s", rel)
	}
	return full, nil
}
