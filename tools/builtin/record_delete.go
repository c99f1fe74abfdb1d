package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quailyquaily/autopilot/db/models"
	"github.com/quailyquaily/autopilot/safety"
	"github.com/quailyquaily/autopilot/tools"
	"gorm.io/gorm"
)

// RecordDeleteTool deletes rows from a whitelisted table by filter. The
// effect is irreversible, so the tool declares high risk and supports
// simulation so the assessor can count affected rows before committing.
type RecordDeleteTool struct {
	Enabled bool
	DB      *gorm.DB

	// Tables whitelists deletable tables. An empty map denies everything.
	Tables map[string]bool
}

func NewRecordDeleteTool(enabled bool, gdb *gorm.DB, tables []string) *RecordDeleteTool {
	set := make(map[string]bool, len(tables))
	for _, name := range tables {
		name = strings.TrimSpace(name)
		if name != "" {
			set[name] = true
		}
	}
	if len(set) == 0 {
		set = map[string]bool{models.IntentClassification{}.TableName(): true}
	}
	return &RecordDeleteTool{Enabled: enabled, DB: gdb, Tables: set}
}

func (t *RecordDeleteTool) Name() string { return "record_delete" }
func (t *RecordDeleteTool) Description() string {
	return "Delete records from a whitelisted table matching a filter. Irreversible."
}

func (t *RecordDeleteTool) ParameterSchema() string {
	return `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "table": { "type": "string", "description": "Target table name (must be whitelisted)." },
    "older_than_unix": { "type": "integer", "description": "Delete rows with created_at before this unix timestamp." },
    "scope": { "type": "string", "description": "Set to \"all\" to delete every matching row; anything else limits to 100." }
  },
  "required": ["table"]
}`
}

func (t *RecordDeleteTool) DeclaredRisk() safety.RiskLevel { return safety.RiskHigh }

func (t *RecordDeleteTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	table, cutoff, err := t.validate(params)
	if err != nil {
		return "", tools.Fatal(err)
	}

	q := t.DB.WithContext(ctx).Table(table)
	if cutoff > 0 {
		q = q.Where("created_at < ?", cutoff)
	}
	res := q.Delete(nil)
	if res.Error != nil {
		return "", tools.Retryable(res.Error)
	}

	out := map[string]any{"table": table, "deleted": res.RowsAffected}
	b, _ := json.Marshal(out)
	return string(b), nil
}

func (t *RecordDeleteTool) Simulate(ctx context.Context, params map[string]any) (safety.SimulationResult, error) {
	table, cutoff, err := t.validate(params)
	if err != nil {
		return safety.SimulationResult{Success: false, Summary: err.Error(), PredictedRecords: 0}, nil
	}

	var count int64
	q := t.DB.WithContext(ctx).Table(table)
	if cutoff > 0 {
		q = q.Where("created_at < ?", cutoff)
	}
	if err := q.Count(&count).Error; err != nil {
		return safety.SimulationResult{}, err
	}
	return safety.SimulationResult{
		Success:          true,
		Summary:          fmt.Sprintf("would permanently delete %d rows from %s", count, table),
		SideEffects:      []string{"irreversible data deletion"},
		PredictedRecords: int(count),
	}, nil
}

func (t *RecordDeleteTool) validate(params map[string]any) (table string, cutoff int64, err error) {
	if t == nil || !t.Enabled {
		return "", 0, fmt.Errorf("record_delete tool is disabled")
	}
	if t.DB == nil {
		return "", 0, fmt.Errorf("record_delete has no database")
	}
	table = strings.TrimSpace(getString(params, "table"))
	if table == "" {
		return "", 0, fmt.Errorf("missing table")
	}
	if !t.Tables[table] {
		return "", 0, fmt.Errorf("table %q is not whitelisted for deletion", table)
	}
	return table, getInt64(params, "older_than_unix"), nil
}
