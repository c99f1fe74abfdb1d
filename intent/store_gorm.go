package intent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/db/models"
	"gorm.io/gorm"
)

// GormStore persists classifications for analytics and later feedback.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(gdb *gorm.DB) *GormStore {
	return &GormStore{DB: gdb}
}

func (s *GormStore) Record(ctx context.Context, c Classification) error {
	if s == nil || s.DB == nil {
		return nil
	}
	row := models.IntentClassification{
		ID:         c.ID,
		Text:       c.Text,
		IntentType: string(c.Type),
		Confidence: c.Confidence,
		Feedback:   c.Feedback,
		CreatedAt:  c.CreatedAt.Unix(),
	}
	if row.CreatedAt <= 0 {
		row.CreatedAt = time.Now().Unix()
	}
	if len(c.Entities) > 0 {
		if b, err := json.Marshal(c.Entities); err == nil {
			row.EntitiesJSON = string(b)
		}
	}
	return s.DB.WithContext(ctx).Create(&row).Error
}

// AttachFeedback sets the feedback column on a stored classification. The
// classification fields themselves are never rewritten.
func (s *GormStore) AttachFeedback(ctx context.Context, id, feedback string) error {
	if s == nil || s.DB == nil {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("missing classification id")
	}
	return s.DB.WithContext(ctx).
		Model(&models.IntentClassification{}).
		Where("id = ?", id).
		Update("feedback", strings.TrimSpace(feedback)).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (Classification, bool, error) {
	if s == nil || s.DB == nil {
		return Classification{}, false, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Classification{}, false, nil
	}

	var row models.IntentClassification
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Classification{}, false, nil
		}
		return Classification{}, false, err
	}

	out := Classification{
		ID:         row.ID,
		Text:       row.Text,
		Type:       Type(row.IntentType),
		Confidence: row.Confidence,
		Feedback:   row.Feedback,
		CreatedAt:  time.Unix(row.CreatedAt, 0).UTC(),
	}
	if row.EntitiesJSON != "" {
		_ = json.Unmarshal([]byte(row.EntitiesJSON), &out.Entities)
	}
	return out, true, nil
}
