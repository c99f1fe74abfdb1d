package models

type ExecutionPlan struct {
	ID         string  `gorm:"column:id;type:text;primaryKey"`
	IntentID   string  `gorm:"column:intent_id;type:text;index:idx_execution_plans_intent"`
	IntentType string  `gorm:"column:intent_type;type:text;not null"`
	Confidence float64 `gorm:"column:confidence;not null"`
	Status     string  `gorm:"column:status;type:text;not null"`
	RiskLevel  string  `gorm:"column:risk_level;type:text;not null"`

	StepsJSON      string `gorm:"column:steps_json;type:text;not null"`
	SimulationJSON string `gorm:"column:simulation_json;type:text"`

	TaskID string `gorm:"column:task_id;type:text;index:idx_execution_plans_task"`

	CreatedAt int64 `gorm:"column:created_at;not null"`
	UpdatedAt int64 `gorm:"column:updated_at;not null"`
}

func (ExecutionPlan) TableName() string { return "execution_plans" }
