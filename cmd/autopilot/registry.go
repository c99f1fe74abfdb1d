package main

import (
	"strings"

	"github.com/quailyquaily/autopilot/internal/pathutil"
	"github.com/quailyquaily/autopilot/tools"
	"github.com/quailyquaily/autopilot/tools/builtin"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

func registryFromViper(gdb *gorm.DB) *tools.Registry {
	r := tools.NewRegistry()
	r.Register(builtin.NewEchoTool())

	viper.SetDefault("tools.write_file.enabled", true)
	viper.SetDefault("tools.write_file.max_bytes", 512*1024)
	viper.SetDefault("tools.write_file.base_dir", "~/.autopilot/workspace")

	viper.SetDefault("tools.send_message.enabled", true)
	viper.SetDefault("tools.send_message.outbox_path", "~/.autopilot/outbox.jsonl")

	viper.SetDefault("tools.record_delete.enabled", false)
	viper.SetDefault("tools.record_delete.tables", []string{})

	r.Register(builtin.NewWriteFileTool(
		viper.GetBool("tools.write_file.enabled"),
		viper.GetInt("tools.write_file.max_bytes"),
		pathutil.ExpandHomePath(strings.TrimSpace(viper.GetString("tools.write_file.base_dir"))),
	))

	r.Register(builtin.NewSendMessageTool(
		viper.GetBool("tools.send_message.enabled"),
		pathutil.ExpandHomePath(strings.TrimSpace(viper.GetString("tools.send_message.outbox_path"))),
	))

	if viper.GetBool("tools.record_delete.enabled") {
		r.Register(builtin.NewRecordDeleteTool(
			true,
			gdb,
			viper.GetStringSlice("tools.record_delete.tables"),
		))
	}

	return r
}
