package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/deputybot/deputy/internal/monitor"
	"github.com/deputybot/deputy/internal/tracker"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

type checkResult struct {
	name   string
	ok     bool
	warn   bool
	detail string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and connectivity to GitHub and Sentry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var results []checkResult

		cfg, err := loadConfig()
		if err != nil {
			results = append(results, checkResult{name: "config", detail: err.Error()})
			render(results)
			os.Exit(1)
		}
		results = append(results, checkResult{name: "config", ok: true, detail: configSource()})

		if err := cfg.Validate(); err != nil {
			results = append(results, checkResult{name: "required settings", detail: err.Error()})
		} else {
			results = append(results, checkResult{name: "required settings", ok: true})
		}

		if cfg.GitHubToken != "" && cfg.GitHubOwner != "" && cfg.GitHubRepo != "" {
			gh := tracker.NewGitHub(cfg.GitHubToken, cfg.GitHubOwner, cfg.GitHubRepo)
			if err := gh.CheckAccess(ctx); err != nil {
				results = append(results, checkResult{name: "github", detail: err.Error()})
			} else {
				results = append(results, checkResult{name: "github", ok: true, detail: cfg.Repo()})
			}
		}

		if cfg.SentryEnabled() {
			sentry := monitor.NewClient(cfg.SentryBaseURL, cfg.SentryToken, cfg.SentryOrg, cfg.SentryProject)
			if _, err := sentry.GetStats(ctx, monitor.Window24h); err != nil {
				results = append(results, checkResult{name: "sentry", detail: err.Error()})
			} else {
				results = append(results, checkResult{name: "sentry", ok: true,
					detail: fmt.Sprintf("%s/%s", cfg.SentryOrg, cfg.SentryProject)})
			}
		} else {
			results = append(results, checkResult{name: "sentry", ok: true, warn: true, detail: "not configured (optional)"})
		}

		render(results)
		for _, r := range results {
			if !r.ok {
				os.Exit(1)
			}
		}
		return nil
	},
}

func render(results []checkResult) {
	for _, r := range results {
		mark := failStyle.Render("✗")
		if r.ok && r.warn {
			mark = warnStyle.Render("⚠")
		} else if r.ok {
			mark = okStyle.Render("✓")
		}
		line := fmt.Sprintf("%s %s", mark, r.name)
		if r.detail != "" {
			line += " " + dimStyle.Render(r.detail)
		}
		fmt.Println(line)
	}
}

func configSource() string {
	if path := configFilePath(); path != "" {
		return path
	}
	return "environment only"
}
