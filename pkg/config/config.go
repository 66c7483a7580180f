package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts a bare JSON string
// and JSON numbers, so allowed_ids can contain "123", 123, or be a single
// scalar value normalized to a one-element list.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Bare string → one-element list.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = []string{s}
		return nil
	}

	// Try []string next.
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Fall back to []any to handle mixed types.
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Group and DM policy values.
const (
	PolicyDisabled  = "disabled"
	PolicyOpen      = "open"
	PolicyAllowlist = "allowlist"
	PolicyPairing   = "pairing"
)

type Config struct {
	Agents      AgentsConfig      `json:"agents"`
	Channels    ChannelsConfig    `json:"channels"`
	ModelList   []ModelConfig     `json:"model_list,omitempty"`
	Gateway     GatewayConfig     `json:"gateway"`
	Session     SessionConfig     `json:"session"`
	Maintenance MaintenanceConfig `json:"maintenance"`

	// path remembers where the config was loaded from so runtime updates
	// (pairing confirmations) can be written back.
	path string
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Provider    string   `env:"BRIDGECLAW_AGENTS_DEFAULTS_PROVIDER"    json:"provider"`
	ModelName   string   `env:"BRIDGECLAW_AGENTS_DEFAULTS_MODEL_NAME"  json:"model_name,omitempty"`
	MaxTokens   int      `env:"BRIDGECLAW_AGENTS_DEFAULTS_MAX_TOKENS"  json:"max_tokens"`
	Temperature *float64 `env:"BRIDGECLAW_AGENTS_DEFAULTS_TEMPERATURE" json:"temperature,omitempty"`
}

// ModelConfig is a model-centric provider entry. The model field uses
// protocol prefix format: [protocol/]model-identifier, protocols "openai"
// (default) and "anthropic".
type ModelConfig struct {
	ModelName  string `json:"model_name"`
	Model      string `json:"model"`
	APIBase    string `json:"api_base,omitempty"`
	APIKey     string `json:"api_key"`
	AuthMethod string `json:"auth_method,omitempty"` // "token" (default) or "oauth"
}

func (c *ModelConfig) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
	Console  ConsoleConfig  `json:"console"`
}

// DiscordConfig carries the full channel policy surface. Legacy key names
// (user_mapping, allow_from) are resolved by Normalize before channel
// construction; channel code reads only the canonical fields.
type DiscordConfig struct {
	Enabled             bool                `env:"BRIDGECLAW_CHANNELS_DISCORD_ENABLED"          json:"enabled"`
	BotToken            string              `env:"BRIDGECLAW_CHANNELS_DISCORD_BOT_TOKEN"        json:"bot_token"`
	AllowedIDs          FlexibleStringSlice `env:"BRIDGECLAW_CHANNELS_DISCORD_ALLOWED_IDS"      json:"allowed_ids"`
	AllowFrom           FlexibleStringSlice `json:"allow_from,omitempty"` // legacy name for allowed_ids
	AutoRespondChannels FlexibleStringSlice `env:"BRIDGECLAW_CHANNELS_DISCORD_AUTO_RESPOND"     json:"auto_respond_channels"`
	MaxConcurrent       int                 `env:"BRIDGECLAW_CHANNELS_DISCORD_MAX_CONCURRENT"   json:"max_concurrent"`
	RateLimit           int                 `env:"BRIDGECLAW_CHANNELS_DISCORD_RATE_LIMIT"       json:"rate_limit"`
	RateLimitHour       int                 `env:"BRIDGECLAW_CHANNELS_DISCORD_RATE_LIMIT_HOUR"  json:"rate_limit_hour"`
	GroupPolicy         string              `env:"BRIDGECLAW_CHANNELS_DISCORD_GROUP_POLICY"     json:"group_policy"`
	DMPolicy            string              `env:"BRIDGECLAW_CHANNELS_DISCORD_DM_POLICY"        json:"dm_policy"`
	RequireMention      bool                `env:"BRIDGECLAW_CHANNELS_DISCORD_REQUIRE_MENTION"  json:"require_mention"`
	UserMapping         map[string]string   `json:"user_mapping,omitempty"` // legacy name
	ExternalUserMapping map[string]string   `json:"external_user_mapping,omitempty"`
}

// Normalize resolves legacy key names and fills defaults. Called once at
// load; channel code never sees the legacy fields.
func (c *DiscordConfig) Normalize() {
	if len(c.AllowedIDs) == 0 && len(c.AllowFrom) > 0 {
		c.AllowedIDs = c.AllowFrom
	}
	c.AllowFrom = nil

	if c.ExternalUserMapping == nil {
		c.ExternalUserMapping = make(map[string]string)
	}
	for k, v := range c.UserMapping {
		if _, ok := c.ExternalUserMapping[k]; !ok {
			c.ExternalUserMapping[k] = v
		}
	}
	c.UserMapping = nil

	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateLimitHour <= 0 {
		c.RateLimitHour = 60
	}
	if c.GroupPolicy == "" {
		c.GroupPolicy = PolicyOpen
	}
	if c.DMPolicy == "" {
		c.DMPolicy = PolicyOpen
	}
}

type TelegramConfig struct {
	Enabled       bool                `env:"BRIDGECLAW_CHANNELS_TELEGRAM_ENABLED"         json:"enabled"`
	Token         string              `env:"BRIDGECLAW_CHANNELS_TELEGRAM_TOKEN"           json:"token"`
	AllowedIDs    FlexibleStringSlice `env:"BRIDGECLAW_CHANNELS_TELEGRAM_ALLOWED_IDS"     json:"allowed_ids"`
	MaxConcurrent int                 `env:"BRIDGECLAW_CHANNELS_TELEGRAM_MAX_CONCURRENT"  json:"max_concurrent"`
	RateLimit     int                 `env:"BRIDGECLAW_CHANNELS_TELEGRAM_RATE_LIMIT"      json:"rate_limit"`
	RateLimitHour int                 `env:"BRIDGECLAW_CHANNELS_TELEGRAM_RATE_LIMIT_HOUR" json:"rate_limit_hour"`
}

type SlackConfig struct {
	Enabled       bool                `env:"BRIDGECLAW_CHANNELS_SLACK_ENABLED"         json:"enabled"`
	BotToken      string              `env:"BRIDGECLAW_CHANNELS_SLACK_BOT_TOKEN"       json:"bot_token"`
	AppToken      string              `env:"BRIDGECLAW_CHANNELS_SLACK_APP_TOKEN"       json:"app_token"`
	AllowedIDs    FlexibleStringSlice `env:"BRIDGECLAW_CHANNELS_SLACK_ALLOWED_IDS"     json:"allowed_ids"`
	MaxConcurrent int                 `env:"BRIDGECLAW_CHANNELS_SLACK_MAX_CONCURRENT"  json:"max_concurrent"`
	RateLimit     int                 `env:"BRIDGECLAW_CHANNELS_SLACK_RATE_LIMIT"      json:"rate_limit"`
	RateLimitHour int                 `env:"BRIDGECLAW_CHANNELS_SLACK_RATE_LIMIT_HOUR" json:"rate_limit_hour"`
}

type ConsoleConfig struct {
	Enabled bool `env:"BRIDGECLAW_CHANNELS_CONSOLE_ENABLED" json:"enabled"`
}

type GatewayConfig struct {
	Host string `env:"BRIDGECLAW_GATEWAY_HOST" json:"host"`
	Port int    `env:"BRIDGECLAW_GATEWAY_PORT" json:"port"`
}

type SessionConfig struct {
	Dir string `env:"BRIDGECLAW_SESSION_DIR" json:"dir"`
}

// MaintenanceConfig schedules background housekeeping with cron
// expressions. Empty expressions disable the corresponding job.
type MaintenanceConfig struct {
	PairingPurgeCron   string `env:"BRIDGECLAW_MAINTENANCE_PAIRING_PURGE_CRON"   json:"pairing_purge_cron"`
	RateLimitResetCron string `env:"BRIDGECLAW_MAINTENANCE_RATE_LIMIT_RESET_CRON" json:"rate_limit_reset_cron"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Provider:  "anthropic",
				MaxTokens: 4096,
			},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Maintenance: MaintenanceConfig{
			PairingPurgeCron: "*/5 * * * *",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Pure-env deployments carry no file; the overlay still applies.
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			cfg.normalize()
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.normalize()

	for i := range cfg.ModelList {
		if err := cfg.ModelList[i].Validate(); err != nil {
			return nil, fmt.Errorf("model_list[%d]: %w", i, err)
		}
	}

	return cfg, nil
}

// Save writes the config back to the file it was loaded from. A config
// that was never loaded from disk is left alone.
func (c *Config) Save() error {
	if c.path == "" {
		return nil
	}
	return SaveConfig(c.path, c)
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) normalize() {
	c.Channels.Discord.Normalize()
	if c.Session.Dir == "" {
		home, _ := os.UserHomeDir()
		c.Session.Dir = filepath.Join(home, ".bridgeclaw", "sessions")
	}
}

// GetModelConfig returns the model_list entry for modelName, or nil when
// the name is unknown.
func (c *Config) GetModelConfig(modelName string) *ModelConfig {
	for i := range c.ModelList {
		if c.ModelList[i].ModelName == modelName {
			return &c.ModelList[i]
		}
	}
	return nil
}
