package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"huddlebot/internal/config"
)

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate the config file and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(cfgPath).Parse()
			if err != nil {
				return err
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Setting", "Value"})
			tw.AppendRows(configRows(cfg))
			tw.SetStyle(table.StyleLight)
			tw.Render()
			return nil
		},
	}
}

// configRows lists the effective settings with defaults filled in and
// secrets masked.
func configRows(cfg *config.Config) []table.Row {
	survey, _ := cfg.Survey.TimeoutOrDefault()
	command, _ := cfg.Router.CommandTimeoutOrDefault()

	owners := make([]string, 0, len(cfg.Telegram.OwnerUserIDs))
	for _, id := range cfg.Telegram.OwnerUserIDs {
		owners = append(owners, fmt.Sprint(id))
	}
	storage := "none"
	if cfg.Storage != nil && strings.TrimSpace(cfg.Storage.Driver) != "" {
		storage = cfg.Storage.Driver + " " + cfg.Storage.Path
	}
	model := cfg.Gemini.Model
	if model == "" {
		model = "(default)"
	}

	rows := []table.Row{
		{"telegram.token", config.Mask(cfg.Telegram.Token)},
		{"telegram.owner_user_ids", strings.Join(owners, ", ")},
		{"telegram.group_log", cfg.Telegram.GroupLog},
		{"logging.level", cfg.Logging.Level},
		{"storage", storage},
		{"survey.timeout", survey},
		{"survey.max_recipients", cfg.Survey.MaxRecipientsOrDefault()},
		{"survey.language", cfg.Survey.LanguageOrDefault()},
		{"gemini.api_key", config.Mask(cfg.Gemini.APIKey)},
		{"gemini.model", model},
		{"router.workers", cfg.Router.WorkersOrDefault()},
		{"router.queue_size", cfg.Router.QueueSizeOrDefault()},
		{"router.command_timeout", command},
	}

	names := make([]string, 0, len(cfg.Plugins))
	for name := range cfg.Plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := "disabled"
		if cfg.Plugins[name].Enabled {
			state = "enabled"
		}
		rows = append(rows, table.Row{"plugins." + name, state})
	}
	return rows
}

