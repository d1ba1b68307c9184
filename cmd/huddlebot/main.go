package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"huddlebot/internal/app"
	"huddlebot/internal/runtime/lifecycle"
	"huddlebot/plugins/gemini"
	"huddlebot/plugins/party"
	"huddlebot/plugins/survey"
	"huddlebot/plugins/system"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "huddlebot",
	Short:         "Telegram bot that asks people questions and gathers the answers",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json or yaml)")
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}

	a.Plugins().Register(
		party.New(),
		survey.New(),
		gemini.New(),
		system.New(),
	)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(parent); err != nil {
		_ = a.Stop(context.Background(), lifecycle.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := lifecycle.StopAppStop
	select {
	case sig := <-sigs:
		reason = lifecycle.FromSignal(sig)
	case <-a.Done():
		if a.Err() != nil {
			reason = lifecycle.StopFatalError
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if reason == lifecycle.StopFatalError {
		return a.Err()
	}
	return nil
}
