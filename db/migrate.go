package db

import (
	"fmt"

	"github.com/quailyquaily/autopilot/db/models"
	"gorm.io/gorm"
)

func AutoMigrate(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}
	return gdb.AutoMigrate(
		&models.AutoTask{},
		&models.ExecutionPlan{},
		&models.IntentClassification{},
		&models.SafetyAuditEntry{},
	)
}
