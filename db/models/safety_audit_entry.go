package models

// SafetyAuditEntry rows are append-only: the store exposes Create and reads,
// never updates or deletes.
type SafetyAuditEntry struct {
	ID         string `gorm:"column:id;type:text;primaryKey"`
	TaskID     string `gorm:"column:task_id;type:text;index:idx_safety_audit_task"`
	ActionType string `gorm:"column:action_type;type:text;not null"`

	DetailJSON     string `gorm:"column:detail_json;type:text"`
	ChecksJSON     string `gorm:"column:checks_json;type:text"`
	SimulationJSON string `gorm:"column:simulation_json;type:text"`

	RiskLevel string `gorm:"column:risk_level;type:text;not null"`
	Outcome   string `gorm:"column:outcome;type:text;not null"`

	CreatedAt int64 `gorm:"column:created_at;not null;index:idx_safety_audit_created"`
}

func (SafetyAuditEntry) TableName() string { return "safety_audit_entries" }
