package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/approval"
	"github.com/quailyquaily/autopilot/db/models"
	"gorm.io/gorm"
)

// ErrClaimLost is returned when a worker's conditional update matched no row:
// the worker no longer owns the task and must stop mutating it.
var ErrClaimLost = errors.New("task claim lost")

// ErrBadTransition is returned when a requested status change is not a legal
// lifecycle edge.
var ErrBadTransition = errors.New("illegal task status transition")

// GormStore persists tasks. All cross-worker coordination happens through
// conditional updates here; no in-process lock is authoritative.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(gdb *gorm.DB) *GormStore {
	return &GormStore{DB: gdb}
}

func (s *GormStore) Create(ctx context.Context, t *AutoTask) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("nil task store")
	}
	if t == nil {
		return fmt.Errorf("nil task")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = NewTaskID()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if !t.Status.Known() {
		return fmt.Errorf("unknown task status %q", t.Status)
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	row, err := taskToRow(t)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*AutoTask, bool, error) {
	if s == nil || s.DB == nil {
		return nil, false, fmt.Errorf("nil task store")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, nil
	}
	var row models.AutoTask
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	t, err := rowToTask(row)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// priorityOrder sorts urgent first, then high, normal, low.
const priorityOrder = `CASE priority
 WHEN 'urgent' THEN 0
 WHEN 'high' THEN 1
 WHEN 'normal' THEN 2
 ELSE 3 END, created_at ASC`

// Claim atomically moves one ready task to running under the given worker.
// At most one worker can win a task: the transition is a conditional update
// on (id, status), so a concurrent claim on the same row affects zero rows
// and moves on to the next candidate.
func (s *GormStore) Claim(ctx context.Context, workerID string) (*AutoTask, bool, error) {
	if s == nil || s.DB == nil {
		return nil, false, fmt.Errorf("nil task store")
	}
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, false, fmt.Errorf("missing worker id")
	}

	var candidates []models.AutoTask
	err := s.DB.WithContext(ctx).
		Where("status = ?", string(StatusReady)).
		Order(priorityOrder).
		Limit(8).
		Find(&candidates).Error
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	for _, row := range candidates {
		nowUnix := now.Unix()
		res := s.DB.WithContext(ctx).
			Model(&models.AutoTask{}).
			Where("id = ? AND status = ?", row.ID, string(StatusReady)).
			Updates(map[string]any{
				"status":     string(StatusRunning),
				"claimed_by": workerID,
				"claimed_at": nowUnix,
				"updated_at": nowUnix,
			})
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected == 0 {
			// another worker won this row
			continue
		}
		t, err := rowToTask(row)
		if err != nil {
			return nil, false, err
		}
		t.Status = StatusRunning
		t.ClaimedBy = workerID
		t.ClaimedAt = &now
		t.UpdatedAt = now
		return t, true, nil
	}
	return nil, false, nil
}

// Reclaim atomically moves a waiting_approval task whose gate resolved back
// to running under the given worker. Same conditional-update discipline as
// Claim.
func (s *GormStore) Reclaim(ctx context.Context, id, workerID string) (*AutoTask, bool, error) {
	if s == nil || s.DB == nil {
		return nil, false, fmt.Errorf("nil task store")
	}
	now := time.Now().UTC()
	nowUnix := now.Unix()
	res := s.DB.WithContext(ctx).
		Model(&models.AutoTask{}).
		Where("id = ? AND status = ?", id, string(StatusWaitingApproval)).
		Updates(map[string]any{
			"status":     string(StatusRunning),
			"claimed_by": workerID,
			"claimed_at": nowUnix,
			"updated_at": nowUnix,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	t, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		return nil, false, fmt.Errorf("reload task %s after reclaim: %w", id, err)
	}
	return t, true, nil
}

// UpdateUnderClaim writes progress fields while re-verifying ownership. A
// zero-row update means the claim was lost (cancelled, failed elsewhere, or
// reassigned) and surfaces ErrClaimLost.
func (s *GormStore) UpdateUnderClaim(ctx context.Context, t *AutoTask, workerID string) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("nil task store")
	}
	if t == nil {
		return fmt.Errorf("nil task")
	}
	resultsJSON, err := json.Marshal(t.StepResults)
	if err != nil {
		return fmt.Errorf("marshal step results: %w", err)
	}
	now := time.Now().UTC()
	res := s.DB.WithContext(ctx).
		Model(&models.AutoTask{}).
		Where("id = ? AND claimed_by = ? AND status = ?", t.ID, workerID, string(StatusRunning)).
		Updates(map[string]any{
			"current_step":      t.CurrentStep,
			"total_steps":       t.TotalSteps,
			"progress":          t.Progress,
			"step_results_json": string(resultsJSON),
			"last_error":        t.LastError,
			"updated_at":        now.Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update task %s: %w", t.ID, ErrClaimLost)
	}
	t.UpdatedAt = now
	return nil
}

// ReleaseTo moves a running task the worker owns to a new status, clearing
// the claim. Used for yield (waiting_approval), terminal transitions, and
// cooperative cancellation.
func (s *GormStore) ReleaseTo(ctx context.Context, t *AutoTask, workerID string, to Status) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("nil task store")
	}
	if t == nil {
		return fmt.Errorf("nil task")
	}
	if !CanTransition(StatusRunning, to) {
		return fmt.Errorf("%w: running -> %s", ErrBadTransition, to)
	}
	resultsJSON, err := json.Marshal(t.StepResults)
	if err != nil {
		return fmt.Errorf("marshal step results: %w", err)
	}
	now := time.Now().UTC()
	res := s.DB.WithContext(ctx).
		Model(&models.AutoTask{}).
		Where("id = ? AND claimed_by = ? AND status = ?", t.ID, workerID, string(StatusRunning)).
		Updates(map[string]any{
			"status":            string(to),
			"claimed_by":        "",
			"claimed_at":        nil,
			"current_step":      t.CurrentStep,
			"total_steps":       t.TotalSteps,
			"progress":          t.Progress,
			"step_results_json": string(resultsJSON),
			"last_error":        t.LastError,
			"updated_at":        now.Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("release task %s to %s: %w", t.ID, to, ErrClaimLost)
	}
	t.Status = to
	t.ClaimedBy = ""
	t.ClaimedAt = nil
	t.UpdatedAt = now
	return nil
}

// Transition moves an unclaimed task along a legal edge with a conditional
// update on the expected current status.
func (s *GormStore) Transition(ctx context.Context, id string, from, to Status, lastError string) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("nil task store")
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
	}
	updates := map[string]any{
		"status":     string(to),
		"updated_at": time.Now().UTC().Unix(),
	}
	if strings.TrimSpace(lastError) != "" {
		updates["last_error"] = strings.TrimSpace(lastError)
	}
	res := s.DB.WithContext(ctx).
		Model(&models.AutoTask{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transition task %s %s -> %s: %w", id, from, to, ErrClaimLost)
	}
	return nil
}

// RequestCancel persists a cooperative cancellation request. Tasks not yet
// held by a worker are cancelled immediately; a running task keeps its flag
// for the executor to observe between steps.
func (s *GormStore) RequestCancel(ctx context.Context, id string) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("nil task store")
	}
	t, ok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is already %s", id, t.Status)
	}

	nowUnix := time.Now().UTC().Unix()
	switch t.Status {
	case StatusPending, StatusReady, StatusPaused, StatusWaitingApproval:
		res := s.DB.WithContext(ctx).
			Model(&models.AutoTask{}).
			Where("id = ? AND status = ?", id, string(t.Status)).
			Updates(map[string]any{
				"status":           string(StatusCancelled),
				"cancel_requested": true,
				"updated_at":       nowUnix,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		// status moved under us; fall through to flag-only
	}
	return s.DB.WithContext(ctx).
		Model(&models.AutoTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"cancel_requested": true,
			"updated_at":       nowUnix,
		}).Error
}

// CancelRequested re-reads only the cooperative cancellation flag.
func (s *GormStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, fmt.Errorf("nil task store")
	}
	var row models.AutoTask
	err := s.DB.WithContext(ctx).Select("cancel_requested").Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return false, err
	}
	return row.CancelRequested, nil
}

func (s *GormStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*AutoTask, error) {
	if s == nil || s.DB == nil {
		return nil, fmt.Errorf("nil task store")
	}
	raw := make([]string, 0, len(statuses))
	for _, st := range statuses {
		raw = append(raw, string(st))
	}
	var rows []models.AutoTask
	q := s.DB.WithContext(ctx).Order("created_at ASC, id ASC")
	if len(raw) > 0 {
		q = q.Where("status IN ?", raw)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*AutoTask, 0, len(rows))
	for _, row := range rows {
		t, err := rowToTask(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func taskToRow(t *AutoTask) (models.AutoTask, error) {
	resultsJSON, err := json.Marshal(t.StepResults)
	if err != nil {
		return models.AutoTask{}, fmt.Errorf("marshal step results: %w", err)
	}
	row := models.AutoTask{
		ID:              t.ID,
		Title:           strings.TrimSpace(t.Title),
		IntentText:      strings.TrimSpace(t.IntentText),
		Status:          string(t.Status),
		ExecutionMode:   string(t.Mode),
		Priority:        string(t.Priority),
		PlanID:          strings.TrimSpace(t.PlanID),
		CurrentStep:     t.CurrentStep,
		TotalSteps:      t.TotalSteps,
		Progress:        t.Progress,
		StepResultsJSON: string(resultsJSON),
		LastError:       t.LastError,
		ClaimedBy:       t.ClaimedBy,
		CancelRequested: t.CancelRequested,
		CreatedAt:       t.CreatedAt.Unix(),
		UpdatedAt:       t.UpdatedAt.Unix(),
	}
	if t.ClaimedAt != nil {
		u := t.ClaimedAt.Unix()
		row.ClaimedAt = &u
	}
	return row, nil
}

func rowToTask(row models.AutoTask) (*AutoTask, error) {
	t := &AutoTask{
		ID:              row.ID,
		Title:           row.Title,
		IntentText:      row.IntentText,
		Status:          Status(row.Status),
		Mode:            approval.ExecutionMode(row.ExecutionMode),
		Priority:        Priority(row.Priority),
		PlanID:          row.PlanID,
		CurrentStep:     row.CurrentStep,
		TotalSteps:      row.TotalSteps,
		Progress:        row.Progress,
		LastError:       row.LastError,
		ClaimedBy:       row.ClaimedBy,
		CancelRequested: row.CancelRequested,
		CreatedAt:       time.Unix(row.CreatedAt, 0).UTC(),
		UpdatedAt:       time.Unix(row.UpdatedAt, 0).UTC(),
	}
	if !t.Status.Known() {
		return nil, fmt.Errorf("task %s has unknown status %q", row.ID, row.Status)
	}
	if row.ClaimedAt != nil {
		at := time.Unix(*row.ClaimedAt, 0).UTC()
		t.ClaimedAt = &at
	}
	if strings.TrimSpace(row.StepResultsJSON) != "" {
		if err := json.Unmarshal([]byte(row.StepResultsJSON), &t.StepResults); err != nil {
			return nil, fmt.Errorf("task %s has corrupt step results: %w", row.ID, err)
		}
	}
	return t, nil
}
