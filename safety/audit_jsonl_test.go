package safety

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONLAuditSinkAppendsOneLinePerEntry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewJSONLAuditSink(path, 0)
	if err != nil {
		t.Fatalf("NewJSONLAuditSink: %v", err)
	}
	defer sink.Close()

	for i := 0; i < 3; i++ {
		err := sink.Emit(ctx, AuditEntry{
			ID:         NewEntryID(),
			TaskID:     "task_1",
			ActionType: "step_assess",
			RiskLevel:  RiskLow,
			Outcome:    OutcomeAllowed,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
		var entry AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		if entry.TaskID != "task_1" || entry.Outcome != OutcomeAllowed {
			t.Fatalf("line %d = %+v", lines, entry)
		}
	}
	if lines != 3 {
		t.Fatalf("lines = %d, want 3", lines)
	}
}

func TestJSONLAuditSinkRotates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	sink, err := NewJSONLAuditSink(path, 256)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	for i := 0; i < 20; i++ {
		err := sink.Emit(ctx, AuditEntry{
			ID:         NewEntryID(),
			TaskID:     "task_1",
			ActionType: "step_assess",
			Detail:     map[string]any{"padding": "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"},
			RiskLevel:  RiskLow,
			Outcome:    OutcomeAllowed,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
	}

	names, err := filepath.Glob(path + "*")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) < 2 {
		t.Fatalf("files = %v, want the live file plus at least one rotation", names)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("live file missing after rotation: %v", err)
	}
}
