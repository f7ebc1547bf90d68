// deputy is a chat-ops assistant: it listens for mentions in team chat,
// analyzes the surrounding thread with an LLM, checks GitHub for duplicate
// issues, cross-references Sentry, and files the issue once confirmed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deputybot/deputy/internal/telemetry"
)

var (
	cfgPath   string
	debugMode bool
)

var rootCmd = &cobra.Command{
	Use:   "deputy",
	Short: "Chat-ops issue deputy for Slack, GitHub, and Sentry",
	Long: `deputy watches team chat for mentions, turns conversation threads into
structured GitHub issues, and warns about likely duplicates before filing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return telemetry.Init(cmd.Context(), "deputy", Version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: ./deputy.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable verbose Slack transport logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
