package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/quailyquaily/autopilot/safety"
)

// SQLiteStore keeps approvals and decisions in a standalone sqlite database,
// separate from the task tables, so the gate trail survives task cleanup.
type SQLiteStore struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	s := &SQLiteStore{dsn: dsn}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) CreateApproval(ctx context.Context, rec Approval) (string, error) {
	if s == nil {
		return "", fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = now.Add(30 * time.Minute)
	}
	rec.Status = StatusPending

	id := rec.ID
	if strings.TrimSpace(id) == "" {
		id = NewApprovalID()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_approvals (
  id, task_id, step_index,
  created_at_unix, expires_at_unix, decided_at_unix,
  status, decided_by, reason,
  action_summary, risk_level
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, id, strings.TrimSpace(rec.TaskID), rec.StepIndex,
		rec.CreatedAt.Unix(), rec.ExpiresAt.Unix(), nullTimeUnix(rec.DecidedAt),
		string(rec.Status), strings.TrimSpace(rec.DecidedBy), strings.TrimSpace(rec.Reason),
		strings.TrimSpace(rec.ActionSummary), string(rec.Risk),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (Approval, bool, error) {
	if s == nil {
		return Approval{}, false, fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return Approval{}, false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Approval{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, approvalSelect+` WHERE id = ?`, id)
	rec, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return Approval{}, false, nil
	}
	if err != nil {
		return Approval{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) OpenForStep(ctx context.Context, taskID string, stepIndex int) (Approval, bool, error) {
	if s == nil {
		return Approval{}, false, fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return Approval{}, false, err
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Approval{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, approvalSelect+`
 WHERE task_id = ? AND step_index = ?
 ORDER BY created_at_unix DESC, id DESC
 LIMIT 1`, taskID, stepIndex)
	rec, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return Approval{}, false, nil
	}
	if err != nil {
		return Approval{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) ResolveApproval(ctx context.Context, id string, status Status, decidedBy, reason string) error {
	if s == nil {
		return fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("missing approval id")
	}

	switch status {
	case StatusApproved, StatusRejected:
	default:
		return fmt.Errorf("invalid resolution status: %q", status)
	}

	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
UPDATE task_approvals
SET status = ?, decided_by = ?, reason = ?, decided_at_unix = ?
WHERE id = ? AND status = ?
`, string(status), strings.TrimSpace(decidedBy), strings.TrimSpace(reason), now, id, string(StatusPending))
	if err != nil {
		return err
	}
	return s.checkResolved(ctx, res, `SELECT status FROM task_approvals WHERE id = ?`, id)
}

func (s *SQLiteStore) ExpireApprovalsDue(ctx context.Context, now time.Time) ([]Approval, error) {
	if s == nil {
		return nil, fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	cutoff := now.UTC().Unix()

	rows, err := s.db.QueryContext(ctx, approvalSelect+`
 WHERE status = ? AND expires_at_unix <= ?`, string(StatusPending), cutoff)
	if err != nil {
		return nil, err
	}
	var due []Approval
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []Approval
	for _, rec := range due {
		res, err := s.db.ExecContext(ctx, `
UPDATE task_approvals
SET status = ?, decided_at_unix = ?
WHERE id = ? AND status = ?
`, string(StatusExpired), cutoff, rec.ID, string(StatusPending))
		if err != nil {
			return expired, err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// resolved by someone else between select and update
			continue
		}
		t := now.UTC()
		rec.Status = StatusExpired
		rec.DecidedAt = &t
		expired = append(expired, rec)
	}
	return expired, nil
}

func (s *SQLiteStore) CreateDecision(ctx context.Context, rec Decision) (string, error) {
	if s == nil {
		return "", fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return "", err
	}
	if len(rec.Options) == 0 {
		return "", fmt.Errorf("decision needs at least one option")
	}
	if strings.TrimSpace(rec.DefaultOption) == "" {
		rec.DefaultOption = rec.Options[0]
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.TimeoutSeconds <= 0 {
		rec.TimeoutSeconds = 600
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.CreatedAt.Add(time.Duration(rec.TimeoutSeconds) * time.Second)
	}
	rec.Status = DecisionPending

	id := rec.ID
	if strings.TrimSpace(id) == "" {
		id = NewDecisionID()
	}

	optionsJSON, _ := json.Marshal(rec.Options)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_decisions (
  id, task_id, step_index,
  created_at_unix, expires_at_unix, decided_at_unix,
  status, chosen, decided_by, reason,
  question, options_json, default_option, timeout_seconds
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, id, strings.TrimSpace(rec.TaskID), rec.StepIndex,
		rec.CreatedAt.Unix(), rec.ExpiresAt.Unix(), nullTimeUnix(rec.DecidedAt),
		string(rec.Status), strings.TrimSpace(rec.Chosen), strings.TrimSpace(rec.DecidedBy), strings.TrimSpace(rec.Reason),
		strings.TrimSpace(rec.Question), string(optionsJSON), strings.TrimSpace(rec.DefaultOption), rec.TimeoutSeconds,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) GetDecision(ctx context.Context, id string) (Decision, bool, error) {
	if s == nil {
		return Decision{}, false, fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return Decision{}, false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Decision{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, decisionSelect+` WHERE id = ?`, id)
	rec, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) DecisionForStep(ctx context.Context, taskID string, stepIndex int) (Decision, bool, error) {
	if s == nil {
		return Decision{}, false, fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return Decision{}, false, err
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Decision{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, decisionSelect+`
 WHERE task_id = ? AND step_index = ?
 ORDER BY created_at_unix DESC, id DESC
 LIMIT 1`, taskID, stepIndex)
	rec, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) ResolveDecision(ctx context.Context, id string, chosen, decidedBy, reason string) error {
	if s == nil {
		return fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("missing decision id")
	}
	chosen = strings.TrimSpace(chosen)
	if chosen == "" {
		return fmt.Errorf("missing chosen option")
	}

	rec, ok, err := s.GetDecision(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if !optionAllowed(rec.Options, chosen) {
		return fmt.Errorf("option %q is not among the decision options", chosen)
	}

	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
UPDATE task_decisions
SET status = ?, chosen = ?, decided_by = ?, reason = ?, decided_at_unix = ?
WHERE id = ? AND status = ?
`, string(DecisionResolved), chosen, strings.TrimSpace(decidedBy), strings.TrimSpace(reason), now, id, string(DecisionPending))
	if err != nil {
		return err
	}
	return s.checkResolved(ctx, res, `SELECT status FROM task_decisions WHERE id = ?`, id)
}

func (s *SQLiteStore) TimeoutDecisionsDue(ctx context.Context, now time.Time) ([]Decision, error) {
	if s == nil {
		return nil, fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	cutoff := now.UTC().Unix()

	rows, err := s.db.QueryContext(ctx, decisionSelect+`
 WHERE status = ? AND expires_at_unix <= ?`, string(DecisionPending), cutoff)
	if err != nil {
		return nil, err
	}
	var due []Decision
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var timedOut []Decision
	for _, rec := range due {
		res, err := s.db.ExecContext(ctx, `
UPDATE task_decisions
SET status = ?, chosen = ?, decided_at_unix = ?
WHERE id = ? AND status = ?
`, string(DecisionTimedOut), rec.DefaultOption, cutoff, rec.ID, string(DecisionPending))
		if err != nil {
			return timedOut, err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue
		}
		t := now.UTC()
		rec.Status = DecisionTimedOut
		rec.Chosen = rec.DefaultOption
		rec.DecidedAt = &t
		timedOut = append(timedOut, rec)
	}
	return timedOut, nil
}

// checkResolved distinguishes "already resolved" from "no such record" when a
// conditional resolve updates zero rows.
func (s *SQLiteStore) checkResolved(ctx context.Context, res sql.Result, statusQuery, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var cur string
	err = s.db.QueryRowContext(ctx, statusQuery, id).Scan(&cur)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w (status %s)", ErrAlreadyResolved, cur)
}

const approvalSelect = `
SELECT
  id, task_id, step_index,
  created_at_unix, expires_at_unix, decided_at_unix,
  status, decided_by, reason,
  action_summary, risk_level
FROM task_approvals`

const decisionSelect = `
SELECT
  id, task_id, step_index,
  created_at_unix, expires_at_unix, decided_at_unix,
  status, chosen, decided_by, reason,
  question, options_json, default_option, timeout_seconds
FROM task_decisions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (Approval, error) {
	var (
		rec           Approval
		createdAtUnix int64
		expiresAtUnix int64
		decidedAtUnix sql.NullInt64
		status        string
		riskLevel     string
	)
	err := row.Scan(
		&rec.ID, &rec.TaskID, &rec.StepIndex,
		&createdAtUnix, &expiresAtUnix, &decidedAtUnix,
		&status, &rec.DecidedBy, &rec.Reason,
		&rec.ActionSummary, &riskLevel,
	)
	if err != nil {
		return Approval{}, err
	}
	rec.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	rec.ExpiresAt = time.Unix(expiresAtUnix, 0).UTC()
	if decidedAtUnix.Valid {
		t := time.Unix(decidedAtUnix.Int64, 0).UTC()
		rec.DecidedAt = &t
	}
	rec.Status = Status(status)
	rec.Risk, _ = safety.ParseRiskLevel(riskLevel)
	return rec, nil
}

func scanDecision(row rowScanner) (Decision, error) {
	var (
		rec           Decision
		createdAtUnix int64
		expiresAtUnix int64
		decidedAtUnix sql.NullInt64
		status        string
		optionsJSON   string
	)
	err := row.Scan(
		&rec.ID, &rec.TaskID, &rec.StepIndex,
		&createdAtUnix, &expiresAtUnix, &decidedAtUnix,
		&status, &rec.Chosen, &rec.DecidedBy, &rec.Reason,
		&rec.Question, &optionsJSON, &rec.DefaultOption, &rec.TimeoutSeconds,
	)
	if err != nil {
		return Decision{}, err
	}
	rec.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	rec.ExpiresAt = time.Unix(expiresAtUnix, 0).UTC()
	if decidedAtUnix.Valid {
		t := time.Unix(decidedAtUnix.Int64, 0).UTC()
		rec.DecidedAt = &t
	}
	rec.Status = DecisionStatus(status)
	_ = json.Unmarshal([]byte(optionsJSON), &rec.Options)
	return rec, nil
}

func (s *SQLiteStore) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return err
	}
	s.db = db
	return s.migrate()
}

func (s *SQLiteStore) ensureOpen() error {
	if s.db != nil {
		return nil
	}
	return s.open()
}

func (s *SQLiteStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite db is not open")
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS task_approvals (
  id TEXT PRIMARY KEY,
  task_id TEXT,
  step_index INTEGER NOT NULL DEFAULT -1,
  created_at_unix INTEGER NOT NULL,
  expires_at_unix INTEGER NOT NULL,
  decided_at_unix INTEGER,
  status TEXT NOT NULL,
  decided_by TEXT,
  reason TEXT,
  action_summary TEXT,
  risk_level TEXT
);
CREATE INDEX IF NOT EXISTS idx_task_approvals_status ON task_approvals(status);
CREATE INDEX IF NOT EXISTS idx_task_approvals_task ON task_approvals(task_id);
CREATE TABLE IF NOT EXISTS task_decisions (
  id TEXT PRIMARY KEY,
  task_id TEXT,
  step_index INTEGER NOT NULL DEFAULT -1,
  created_at_unix INTEGER NOT NULL,
  expires_at_unix INTEGER NOT NULL,
  decided_at_unix INTEGER,
  status TEXT NOT NULL,
  chosen TEXT,
  decided_by TEXT,
  reason TEXT,
  question TEXT,
  options_json TEXT,
  default_option TEXT,
  timeout_seconds INTEGER NOT NULL DEFAULT 600
);
CREATE INDEX IF NOT EXISTS idx_task_decisions_status ON task_decisions(status);
CREATE INDEX IF NOT EXISTS idx_task_decisions_task ON task_decisions(task_id);
`)
	return err
}

func optionAllowed(options []string, chosen string) bool {
	for _, o := range options {
		if strings.EqualFold(strings.TrimSpace(o), chosen) {
			return true
		}
	}
	return false
}

func nullTimeUnix(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Unix()
}
