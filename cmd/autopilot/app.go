package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/autopilot/approval"
	"github.com/quailyquaily/autopilot/db"
	"github.com/quailyquaily/autopilot/engine"
	"github.com/quailyquaily/autopilot/intent"
	"github.com/quailyquaily/autopilot/internal/pathutil"
	"github.com/quailyquaily/autopilot/plan"
	"github.com/quailyquaily/autopilot/safety"
	"github.com/quailyquaily/autopilot/task"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// app holds the fully wired pipeline for one CLI invocation.
type app struct {
	gdb    *gorm.DB
	engine *engine.Engine
	tasks  *task.GormStore
	plans  *plan.GormStore
	gate   *approval.Gate
	audit  *safety.GormAuditStore
	exec   *task.Executor
	sched  *task.Scheduler
	log    *slog.Logger
}

func buildApp(ctx context.Context) (*app, error) {
	log := slog.Default()

	dbCfg := db.DefaultConfig()
	dbCfg.DSN = viper.GetString("db.dsn")
	dbCfg.AutoMigrate = viper.GetBool("db.auto_migrate")
	gdb, err := db.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbCfg.AutoMigrate {
		if err := db.AutoMigrate(gdb); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	auditStore := safety.NewGormAuditStore(gdb)
	sink, err := auditSinkFromViper(auditStore)
	if err != nil {
		return nil, err
	}
	assessor := safety.NewAssessor(safety.DefaultChecks(), sink, log)

	registry := registryFromViper(gdb)

	policy, err := policyFromViper()
	if err != nil {
		return nil, err
	}
	approvalDSN := pathutil.ExpandHomePath(viper.GetString("approvals.dsn"))
	if err := pathutil.EnsureParentDir(approvalDSN); err != nil {
		return nil, fmt.Errorf("create approvals dir: %w", err)
	}
	approvals, err := approval.NewSQLiteStore(approvalDSN)
	if err != nil {
		return nil, fmt.Errorf("open approval store: %w", err)
	}
	gate := approval.NewGate(policy, approvals, sink, log)

	client := llmClientFromViper()
	classifier := &intent.Classifier{
		Client:   client,
		Model:    llmModelFromViper(),
		Timeout:  viper.GetDuration("llm.timeout"),
		Recorder: intent.NewGormStore(gdb),
		Log:      log,
	}
	compiler := &plan.Compiler{
		Registry: registry,
		Assessor: assessor,
		Client:   client,
		Model:    llmModelFromViper(),
		Timeout:  viper.GetDuration("llm.timeout"),
		Log:      log,
	}

	tasks := task.NewGormStore(gdb)
	plans := plan.NewGormStore(gdb)
	exec := task.NewExecutor(tasks, plans, registry, assessor, gate, sink, log)
	exec.TenantID = viper.GetString("engine.tenant_id")

	schedCfg := task.SchedulerConfig{
		MaxWorkers:    viper.GetInt("scheduler.max_workers"),
		PollInterval:  viper.GetDuration("scheduler.poll_interval"),
		SweepInterval: viper.GetDuration("scheduler.sweep_interval"),
	}
	sched := task.NewScheduler(tasks, exec, gate, schedCfg, log)

	eng := engine.New(classifier, compiler, tasks, plans, gate, auditStore, log)
	eng.TenantID = viper.GetString("engine.tenant_id")
	if v := viper.GetFloat64("engine.min_autonomy_confidence"); v > 0 {
		eng.MinAutonomyConfidence = v
	}

	return &app{
		gdb:    gdb,
		engine: eng,
		tasks:  tasks,
		plans:  plans,
		gate:   gate,
		audit:  auditStore,
		exec:   exec,
		sched:  sched,
		log:    log,
	}, nil
}

// auditSinkFromViper fans entries out to the database and, when configured,
// an append-only JSONL file.
func auditSinkFromViper(store *safety.GormAuditStore) (safety.AuditSink, error) {
	path := strings.TrimSpace(viper.GetString("audit.jsonl_path"))
	if path == "" {
		return store, nil
	}
	path = pathutil.ExpandHomePath(path)
	if err := pathutil.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	jsonl, err := safety.NewJSONLAuditSink(path, viper.GetInt64("audit.rotate_max_bytes"))
	if err != nil {
		return nil, fmt.Errorf("open audit jsonl sink: %w", err)
	}
	return safety.MultiSink{store, jsonl}, nil
}

func policyFromViper() (approval.Policy, error) {
	path := strings.TrimSpace(viper.GetString("approvals.policy_file"))
	if path == "" {
		return approval.DefaultPolicy(), nil
	}
	return approval.LoadPolicyFile(pathutil.ExpandHomePath(path))
}
