package models

// AutoTask is the persisted form of a tracked task. Step results are stored
// as a JSON array in step_results_json; enum columns hold the string form of
// the domain constants.
type AutoTask struct {
	ID            string  `gorm:"column:id;type:text;primaryKey"`
	Title         string  `gorm:"column:title;type:text;not null"`
	IntentText    string  `gorm:"column:intent_text;type:text;not null"`
	Status        string  `gorm:"column:status;type:text;not null;index:idx_auto_tasks_status"`
	ExecutionMode string  `gorm:"column:execution_mode;type:text;not null"`
	Priority      string  `gorm:"column:priority;type:text;not null"`
	PlanID        string  `gorm:"column:plan_id;type:text"`
	CurrentStep   int     `gorm:"column:current_step;not null"`
	TotalSteps    int     `gorm:"column:total_steps;not null"`
	Progress      float64 `gorm:"column:progress;not null"`

	StepResultsJSON string `gorm:"column:step_results_json;type:text"`
	LastError       string `gorm:"column:last_error;type:text"`

	ClaimedBy       string `gorm:"column:claimed_by;type:text"`
	ClaimedAt       *int64 `gorm:"column:claimed_at"`
	CancelRequested bool   `gorm:"column:cancel_requested;not null"`

	CreatedAt int64 `gorm:"column:created_at;not null"`
	UpdatedAt int64 `gorm:"column:updated_at;not null;index:idx_auto_tasks_updated"`
}

func (AutoTask) TableName() string { return "auto_tasks" }
