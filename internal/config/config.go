// Package config loads deputy configuration from environment variables and
// an optional deputy.yaml file, with env taking precedence.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the deputy service.
type Config struct {
	// Chat transport
	SlackBotToken string `mapstructure:"slack_bot_token"`
	SlackAppToken string `mapstructure:"slack_app_token"`
	BotName       string `mapstructure:"bot_name"`

	// LLM
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	Model           string `mapstructure:"model"`

	// Issue tracker
	GitHubToken string `mapstructure:"github_token"`
	GitHubOwner string `mapstructure:"github_owner"`
	GitHubRepo  string `mapstructure:"github_repo"`

	// Error monitor (optional; Sentry integration is off when token is empty)
	SentryToken   string `mapstructure:"sentry_token"`
	SentryBaseURL string `mapstructure:"sentry_base_url"`
	SentryOrg     string `mapstructure:"sentry_org"`
	SentryProject string `mapstructure:"sentry_project"`

	// Behavior
	AllowedChannels []string `mapstructure:"allowed_channels"`
	AutoLabels      []string `mapstructure:"auto_labels"`
	DefaultAssignee string   `mapstructure:"default_assignee"`
}

// Defaults applied when neither env nor file provides a value.
const (
	defaultBotName = "deputy"
	defaultModel   = "claude-sonnet-4-5"
	defaultSentry  = "https://sentry.io"
)

// Load reads configuration from DEPUTY_* environment variables and, when
// present, a deputy.yaml in the working directory or /etc/deputy.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file path (used by --config).
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEPUTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bot_name", defaultBotName)
	v.SetDefault("model", defaultModel)
	v.SetDefault("sentry_base_url", defaultSentry)
	v.SetDefault("allowed_channels", []string{"*"})
	v.SetDefault("auto_labels", []string{"deputy"})

	// Bind every key so AutomaticEnv sees it even with no config file.
	for _, key := range []string{
		"slack_bot_token", "slack_app_token", "bot_name",
		"anthropic_api_key", "model",
		"github_token", "github_owner", "github_repo",
		"sentry_token", "sentry_base_url", "sentry_org", "sentry_project",
		"allowed_channels", "auto_labels", "default_assignee",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("deputy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/deputy")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the settings required to serve are present.
func (c *Config) Validate() error {
	var missing []string
	if c.SlackBotToken == "" {
		missing = append(missing, "slack_bot_token")
	}
	if c.SlackAppToken == "" {
		missing = append(missing, "slack_app_token")
	}
	if c.AnthropicAPIKey == "" {
		missing = append(missing, "anthropic_api_key")
	}
	if c.GitHubToken == "" {
		missing = append(missing, "github_token")
	}
	if c.GitHubOwner == "" || c.GitHubRepo == "" {
		missing = append(missing, "github_owner/github_repo")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(c.SlackAppToken, "xapp-") {
		return fmt.Errorf("config: slack_app_token must start with xapp-")
	}
	return nil
}

// SentryEnabled reports whether the error-monitor integration is configured.
func (c *Config) SentryEnabled() bool {
	return c.SentryToken != "" && c.SentryOrg != "" && c.SentryProject != ""
}

// Repo returns the tracker repository in owner/name form.
func (c *Config) Repo() string {
	return c.GitHubOwner + "/" + c.GitHubRepo
}

// ChannelAllowed reports whether the bot should respond in the named channel.
// Patterns are regular expressions; a pattern that fails to compile falls
// back to a literal match. "*" allows every channel.
func (c *Config) ChannelAllowed(channel string) bool {
	if len(c.AllowedChannels) == 0 {
		return true
	}
	for _, pattern := range c.AllowedChannels {
		if pattern == "*" {
			return true
		}
		re, err := regexp.Compile("^" + pattern + "$")
		if err != nil {
			if pattern == channel {
				return true
			}
			continue
		}
		if re.MatchString(channel) {
			return true
		}
	}
	return false
}
