package safety

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/db/models"
	"github.com/quailyquaily/autopilot/internal/strutil"
	"gorm.io/gorm"
)

const maxPersistedDetailBytes = 16 * 1024

// GormAuditStore persists audit entries in SQLite. It only ever inserts and
// reads; there is no update or delete path.
type GormAuditStore struct {
	DB *gorm.DB
}

func NewGormAuditStore(gdb *gorm.DB) *GormAuditStore {
	return &GormAuditStore{DB: gdb}
}

func (s *GormAuditStore) Emit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.DB == nil {
		return nil
	}
	row := models.SafetyAuditEntry{
		ID:         e.ID,
		TaskID:     strings.TrimSpace(e.TaskID),
		ActionType: strings.TrimSpace(e.ActionType),
		RiskLevel:  string(e.RiskLevel),
		Outcome:    string(e.Outcome),
		CreatedAt:  e.CreatedAt.Unix(),
	}
	if row.ID == "" {
		row.ID = NewEntryID()
	}
	if row.CreatedAt <= 0 {
		row.CreatedAt = time.Now().Unix()
	}
	row.DetailJSON = marshalTruncated(e.Detail)
	if len(e.Checks) > 0 {
		row.ChecksJSON = marshalTruncated(e.Checks)
	}
	if e.Simulation != nil {
		row.SimulationJSON = marshalTruncated(e.Simulation)
	}
	return s.DB.WithContext(ctx).Create(&row).Error
}

// ListByTask returns the per-task trail in causal (creation) order.
func (s *GormAuditStore) ListByTask(ctx context.Context, taskID string) ([]AuditEntry, error) {
	if s == nil || s.DB == nil {
		return nil, nil
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, nil
	}

	var rows []models.SafetyAuditEntry
	err := s.DB.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToEntry(r))
	}
	return out, nil
}

func rowToEntry(r models.SafetyAuditEntry) AuditEntry {
	e := AuditEntry{
		ID:         r.ID,
		TaskID:     r.TaskID,
		ActionType: r.ActionType,
		RiskLevel:  RiskLevel(r.RiskLevel),
		Outcome:    Outcome(r.Outcome),
		CreatedAt:  time.Unix(r.CreatedAt, 0).UTC(),
	}
	if r.DetailJSON != "" {
		_ = json.Unmarshal([]byte(r.DetailJSON), &e.Detail)
	}
	if r.ChecksJSON != "" {
		_ = json.Unmarshal([]byte(r.ChecksJSON), &e.Checks)
	}
	if r.SimulationJSON != "" {
		var sim SimulationResult
		if json.Unmarshal([]byte(r.SimulationJSON), &sim) == nil {
			e.Simulation = &sim
		}
	}
	return e
}

func marshalTruncated(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strutil.TruncateUTF8(string(b), maxPersistedDetailBytes)
}
