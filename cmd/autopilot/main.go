package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/quailyquaily/autopilot/internal/pathutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "autopilot - autonomous task execution engine",
	Long: `autopilot turns natural-language intents into supervised execution plans:
classification, plan compilation, risk assessment, human approval gating,
and scheduled multi-worker step execution with a full safety audit trail.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		initLogger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.autopilot/config.yaml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(auditCmd)
}

func initConfig() error {
	if strings.TrimSpace(cfgFile) != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(pathutil.ExpandHomePath("~/.autopilot"))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("AUTOPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("db.dsn", "")
	viper.SetDefault("db.auto_migrate", true)

	viper.SetDefault("approvals.dsn", "~/.autopilot/approvals.db")
	viper.SetDefault("approvals.policy_file", "")

	viper.SetDefault("audit.jsonl_path", "~/.autopilot/audit.jsonl")
	viper.SetDefault("audit.rotate_max_bytes", int64(16*1024*1024))

	viper.SetDefault("engine.tenant_id", "default")
	viper.SetDefault("engine.min_autonomy_confidence", 0.6)

	viper.SetDefault("scheduler.max_workers", 4)
	viper.SetDefault("scheduler.poll_interval", "1s")
	viper.SetDefault("scheduler.sweep_interval", "15s")

	viper.SetDefault("llm.provider", "")
	viper.SetDefault("llm.endpoint", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.timeout", "30s")
}

func initLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(viper.GetString("log.level"))) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(viper.GetString("log.format"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
