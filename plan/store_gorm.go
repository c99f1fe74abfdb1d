package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/db/models"
	"github.com/quailyquaily/autopilot/intent"
	"github.com/quailyquaily/autopilot/safety"
	"gorm.io/gorm"
)

type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(gdb *gorm.DB) *GormStore {
	return &GormStore{DB: gdb}
}

func (s *GormStore) Create(ctx context.Context, p *Plan) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("nil plan store")
	}
	if p == nil {
		return fmt.Errorf("nil plan")
	}
	row, err := planToRow(p)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*Plan, bool, error) {
	if s == nil || s.DB == nil {
		return nil, false, fmt.Errorf("nil plan store")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, nil
	}

	var row models.ExecutionPlan
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	p, err := rowToPlan(row)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Attach binds a standalone plan to a task. A plan belongs to exactly one
// task; attaching an already-attached plan fails.
func (s *GormStore) Attach(ctx context.Context, planID, taskID string) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("nil plan store")
	}
	res := s.DB.WithContext(ctx).
		Model(&models.ExecutionPlan{}).
		Where("id = ? AND (task_id IS NULL OR task_id = '')", strings.TrimSpace(planID)).
		Updates(map[string]any{
			"task_id":    strings.TrimSpace(taskID),
			"updated_at": time.Now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("plan %s not found or already attached", planID)
	}
	return nil
}

func (s *GormStore) UpdateStatus(ctx context.Context, planID string, status Status) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("nil plan store")
	}
	if !status.Known() {
		return fmt.Errorf("unknown plan status %q", status)
	}
	return s.DB.WithContext(ctx).
		Model(&models.ExecutionPlan{}).
		Where("id = ?", strings.TrimSpace(planID)).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().Unix(),
		}).Error
}

func planToRow(p *Plan) (models.ExecutionPlan, error) {
	stepsJSON, err := json.Marshal(p.Steps)
	if err != nil {
		return models.ExecutionPlan{}, err
	}
	row := models.ExecutionPlan{
		ID:         p.ID,
		IntentID:   p.IntentID,
		IntentType: string(p.IntentType),
		Confidence: p.Confidence,
		Status:     string(p.Status),
		RiskLevel:  string(p.Risk),
		StepsJSON:  string(stepsJSON),
		TaskID:     p.TaskID,
		CreatedAt:  p.CreatedAt.Unix(),
		UpdatedAt:  time.Now().Unix(),
	}
	if row.CreatedAt <= 0 {
		row.CreatedAt = time.Now().Unix()
	}
	if p.Simulation != nil {
		if b, err := json.Marshal(p.Simulation); err == nil {
			row.SimulationJSON = string(b)
		}
	}
	return row, nil
}

func rowToPlan(row models.ExecutionPlan) (*Plan, error) {
	p := &Plan{
		ID:         row.ID,
		IntentID:   row.IntentID,
		IntentType: intent.Type(row.IntentType),
		Confidence: row.Confidence,
		Status:     Status(row.Status),
		Risk:       safety.RiskLevel(row.RiskLevel),
		TaskID:     row.TaskID,
		CreatedAt:  time.Unix(row.CreatedAt, 0).UTC(),
	}
	if err := json.Unmarshal([]byte(row.StepsJSON), &p.Steps); err != nil {
		return nil, fmt.Errorf("plan %s has corrupt steps: %w", row.ID, err)
	}
	if row.SimulationJSON != "" {
		var sim Simulation
		if json.Unmarshal([]byte(row.SimulationJSON), &sim) == nil {
			p.Simulation = &sim
		}
	}
	return p, nil
}
