package main

import (
	"log"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/deputybot/deputy/internal/analyzer"
	"github.com/deputybot/deputy/internal/bot"
	"github.com/deputybot/deputy/internal/chat"
	"github.com/deputybot/deputy/internal/config"
	"github.com/deputybot/deputy/internal/keywords"
	"github.com/deputybot/deputy/internal/llm"
	"github.com/deputybot/deputy/internal/monitor"
	"github.com/deputybot/deputy/internal/orchestrator"
	"github.com/deputybot/deputy/internal/similarity"
	"github.com/deputybot/deputy/internal/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Slack and handle mentions until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		llmClient, err := llm.New(cfg.AnthropicAPIKey, cfg.Model)
		if err != nil {
			return err
		}

		gh := tracker.NewGitHub(cfg.GitHubToken, cfg.GitHubOwner, cfg.GitHubRepo)
		pipeline := similarity.New(keywords.NewLLM(llmClient), gh, llmClient, cfg.Repo(), similarity.DefaultScoring())

		var sentry *monitor.Client
		var orchMon orchestrator.Monitor
		var botMon bot.Monitor
		if cfg.SentryEnabled() {
			sentry = monitor.NewClient(cfg.SentryBaseURL, cfg.SentryToken, cfg.SentryOrg, cfg.SentryProject)
			orchMon = sentry
			botMon = sentry
			log.Printf("serve: sentry integration enabled for %s/%s", cfg.SentryOrg, cfg.SentryProject)
		} else {
			log.Println("serve: sentry integration disabled")
		}

		orch := orchestrator.New(gh, pipeline, orchMon, keywords.NewHeuristic(), orchestrator.Config{
			AutoLabels:      cfg.AutoLabels,
			DefaultAssignee: cfg.DefaultAssignee,
			BotHandle:       cfg.BotName,
		})
		gate := orchestrator.NewGate(orch)

		transport, err := chat.NewSlack(chat.SlackConfig{
			BotToken: cfg.SlackBotToken,
			AppToken: cfg.SlackAppToken,
			Debug:    debugMode,
		})
		if err != nil {
			return err
		}

		b := bot.New(transport, analyzer.New(llmClient), orch, gate, botMon, bot.Config{
			BotName:        cfg.BotName,
			Repo:           cfg.Repo(),
			ChannelAllowed: cfg.ChannelAllowed,
		})

		// Hot-reload the channel allow-list when the config file changes.
		if path := configFilePath(); path != "" {
			go func() {
				err := config.Watch(ctx, path, func(next *config.Config) {
					b.SetChannelFilter(next.ChannelAllowed)
					orch.SetAutoLabels(next.AutoLabels)
					log.Printf("serve: reloaded channels=%v auto_labels=%v",
						next.AllowedChannels, next.AutoLabels)
				})
				if err != nil {
					log.Printf("serve: config watch stopped: %v", err)
				}
			}()
		}

		log.Printf("serve: deputy starting for %s as @%s", cfg.Repo(), cfg.BotName)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return transport.Run(ctx) })
		g.Go(func() error { return b.Run(ctx) })
		return g.Wait()
	},
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFrom(cfgPath)
	}
	return config.Load()
}

// configFilePath returns the file to watch for hot reloads, or "" when
// configuration came purely from the environment.
func configFilePath() string {
	if cfgPath != "" {
		return cfgPath
	}
	for _, candidate := range []string{"deputy.yaml", "/etc/deputy/deputy.yaml"} {
		if fileExists(candidate) {
			return candidate
		}
	}
	return ""
}
