package models

type IntentClassification struct {
	ID           string  `gorm:"column:id;type:text;primaryKey"`
	Text         string  `gorm:"column:text;type:text;not null"`
	IntentType   string  `gorm:"column:intent_type;type:text;not null;index:idx_intent_classifications_type"`
	Confidence   float64 `gorm:"column:confidence;not null"`
	EntitiesJSON string  `gorm:"column:entities_json;type:text"`
	Feedback     string  `gorm:"column:feedback;type:text"`
	CreatedAt    int64   `gorm:"column:created_at;not null"`
}

func (IntentClassification) TableName() string { return "intent_classifications" }
