package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quailyquaily/autopilot/db"
	"github.com/quailyquaily/autopilot/tools"
	"gorm.io/gorm"
)

func newTestGorm(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := db.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "builtin_test.db")
	gdb, err := db.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func TestEchoReturnsTrimmedText(t *testing.T) {
	out, err := NewEchoTool().Execute(context.Background(), map[string]any{"text": "  hello  "})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var parsed map[string]string
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if parsed["text"] != "hello" {
		t.Fatalf("text = %q", parsed["text"])
	}
}

func TestWriteFileConfinesToBaseDir(t *testing.T) {
	base := t.TempDir()
	tool := NewWriteFileTool(true, 1024, base)
	ctx := context.Background()

	if _, err := tool.Execute(ctx, map[string]any{"path": "notes/a.md", "content": "hi"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(base, "notes", "a.md"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "hi" {
		t.Fatalf("content = %q", b)
	}

	for _, escape := range []string{"../outside.md", "notes/../../outside.md"} {
		_, err := tool.Execute(ctx, map[string]any{"path": escape, "content": "x"})
		var ee *tools.ExecError
		if err == nil || !errors.As(err, &ee) || ee.Retryable {
			t.Fatalf("path %q: err = %v, want fatal ExecError", escape, err)
		}
	}
}

func TestWriteFileAbsolutePathStaysInside(t *testing.T) {
	// filepath.Join treats a leading slash as relative to the base, so an
	// "absolute" path must still land under it.
	base := t.TempDir()
	tool := NewWriteFileTool(true, 1024, base)
	if _, err := tool.Execute(context.Background(), map[string]any{"path": "/abs.md", "content": "x"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "abs.md")); err != nil {
		t.Fatalf("file not under base: %v", err)
	}
}

func TestWriteFileRejectsOversizeAndDisabled(t *testing.T) {
	ctx := context.Background()

	small := NewWriteFileTool(true, 4, t.TempDir())
	if _, err := small.Execute(ctx, map[string]any{"path": "a.md", "content": "too long"}); err == nil {
		t.Fatal("oversize content accepted")
	}

	disabled := NewWriteFileTool(false, 1024, t.TempDir())
	if _, err := disabled.Execute(ctx, map[string]any{"path": "a.md", "content": "x"}); err == nil {
		t.Fatal("disabled tool executed")
	}
}

func TestWriteFileSimulateReportsEscape(t *testing.T) {
	tool := NewWriteFileTool(true, 1024, t.TempDir())
	res, err := tool.Simulate(context.Background(), map[string]any{"path": "../escape.md", "content": "x"})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if res.Success {
		t.Fatal("escaping path simulated as success")
	}
}

func TestSendMessageAppendsOutbox(t *testing.T) {
	outbox := filepath.Join(t.TempDir(), "outbox.jsonl")
	tool := NewSendMessageTool(true, outbox)
	ctx := context.Background()

	for _, recipient := range []string{"a@example.com", "b@example.com"} {
		if _, err := tool.Execute(ctx, map[string]any{"recipient": recipient, "body": "hello", "subject": "hi"}); err != nil {
			t.Fatalf("Execute(%s): %v", recipient, err)
		}
	}

	f, err := os.Open(outbox)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var recipients []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]string
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("outbox line not JSON: %v", err)
		}
		recipients = append(recipients, rec["recipient"])
	}
	if len(recipients) != 2 || recipients[0] != "a@example.com" || recipients[1] != "b@example.com" {
		t.Fatalf("recipients = %v", recipients)
	}
}

func TestSendMessageSenderOverridesOutbox(t *testing.T) {
	outbox := filepath.Join(t.TempDir(), "outbox.jsonl")
	tool := NewSendMessageTool(true, outbox)

	var got string
	tool.Sender = func(ctx context.Context, recipient, subject, body string) error {
		got = recipient
		return nil
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"recipient": "c@example.com", "body": "x"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "c@example.com" {
		t.Fatalf("sender got %q", got)
	}
	if _, err := os.Stat(outbox); !os.IsNotExist(err) {
		t.Fatal("outbox written despite custom sender")
	}
}

func TestSendMessageSenderFailureIsRetryable(t *testing.T) {
	tool := NewSendMessageTool(true, filepath.Join(t.TempDir(), "outbox.jsonl"))
	tool.Sender = func(ctx context.Context, recipient, subject, body string) error {
		return errors.New("smtp down")
	}

	_, err := tool.Execute(context.Background(), map[string]any{"recipient": "a@b.c", "body": "x"})
	var ee *tools.ExecError
	if !errors.As(err, &ee) || !ee.Retryable {
		t.Fatalf("err = %v, want retryable ExecError", err)
	}
}

func TestSendMessageRequiresRecipientAndBody(t *testing.T) {
	tool := NewSendMessageTool(true, filepath.Join(t.TempDir(), "outbox.jsonl"))
	ctx := context.Background()

	cases := []map[string]any{
		{"body": "x"},
		{"recipient": "a@b.c"},
		{"recipient": "  ", "body": "x"},
	}
	for _, params := range cases {
		_, err := tool.Execute(ctx, params)
		var ee *tools.ExecError
		if err == nil || !errors.As(err, &ee) || ee.Retryable {
			t.Fatalf("params %v: err = %v, want fatal ExecError", params, err)
		}
	}
}

func TestRecordDeleteRespectsWhitelistAndCutoff(t *testing.T) {
	gdb := newTestGorm(t)
	if err := gdb.Exec(`CREATE TABLE records (id INTEGER PRIMARY KEY, created_at INTEGER)`).Error; err != nil {
		t.Fatal(err)
	}
	if err := gdb.Exec(`INSERT INTO records (id, created_at) VALUES (1, 100), (2, 200), (3, 300)`).Error; err != nil {
		t.Fatal(err)
	}

	tool := NewRecordDeleteTool(true, gdb, []string{"records"})
	ctx := context.Background()

	if _, err := tool.Execute(ctx, map[string]any{"table": "users"}); err == nil {
		t.Fatal("non-whitelisted table accepted")
	}

	sim, err := tool.Simulate(ctx, map[string]any{"table": "records", "older_than_unix": 250})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if !sim.Success || sim.PredictedRecords != 2 {
		t.Fatalf("sim = %+v, want 2 predicted", sim)
	}

	out, err := tool.Execute(ctx, map[string]any{"table": "records", "older_than_unix": 250})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil || parsed.Deleted != 2 {
		t.Fatalf("out = %s, err = %v", out, err)
	}

	var count int64
	if err := gdb.Raw(`SELECT COUNT(*) FROM records`).Scan(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("remaining rows = %d, want 1", count)
	}
}

func TestRecordDeleteDisabledFailsClosed(t *testing.T) {
	tool := NewRecordDeleteTool(false, newTestGorm(t), []string{"records"})

	if _, err := tool.Execute(context.Background(), map[string]any{"table": "records"}); err == nil {
		t.Fatal("disabled tool executed")
	}
	sim, err := tool.Simulate(context.Background(), map[string]any{"table": "records"})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if sim.Success {
		t.Fatal("disabled tool simulated as success")
	}
	if !strings.Contains(sim.Summary, "disabled") {
		t.Fatalf("summary = %q", sim.Summary)
	}
}
