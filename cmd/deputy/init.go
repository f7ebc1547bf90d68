package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initForce bool

const defaultConfigFile = "deputy.yaml"

const configTemplate = `# deputy configuration.
# Every key can also be set via environment variable with a DEPUTY_ prefix,
# e.g. DEPUTY_SLACK_BOT_TOKEN. Environment variables win over this file.

# Slack (Socket Mode). The app token must start with xapp-.
slack_bot_token: ""
slack_app_token: ""
bot_name: deputy

# Anthropic
anthropic_api_key: ""
model: claude-sonnet-4-5

# GitHub repository that receives created issues.
github_token: ""
github_owner: ""
github_repo: ""

# Sentry (optional). Leave the token empty to disable the integration.
sentry_token: ""
sentry_base_url: https://sentry.io
sentry_org: ""
sentry_project: ""

# Channel names the bot responds in. Regular expressions, anchored.
# "*" means every channel.
allowed_channels:
  - "*"

# Labels attached to every issue deputy creates, in addition to the
# analyzer's suggestions. Labels not defined in the repository are dropped.
auto_labels:
  - deputy

# Assigned to every created issue when set.
default_assignee: ""
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented deputy.yaml to the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fileExists(defaultConfigFile) && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", defaultConfigFile)
		}
		if err := os.WriteFile(defaultConfigFile, []byte(configTemplate), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", defaultConfigFile, err)
		}
		fmt.Printf("Wrote %s. Fill in the tokens, then run: deputy serve\n", defaultConfigFile)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
