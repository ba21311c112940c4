package conf

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "LARKGATE"

// Config is the application configuration.
type Config struct {
	Feishu  FeishuConfig  `mapstructure:"feishu"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	History HistoryConfig `mapstructure:"history"`
	Media   MediaConfig   `mapstructure:"media"`
	Render  RenderConfig  `mapstructure:"render"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Session SessionConfig `mapstructure:"session"`
	Debug   bool          `mapstructure:"debug"`
}

// FeishuConfig contains the platform app credentials.
type FeishuConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BotName   string `mapstructure:"bot_name"`
	// BotOpenID is resolved at startup when empty.
	BotOpenID string `mapstructure:"bot_open_id"`
}

// PolicyConfig decides which chats and senders the bot acts for.
type PolicyConfig struct {
	// DM is "pairing" or "allowlist". "pairing" admits every sender; a
	// pairing handshake is not implemented yet.
	DM          string   `mapstructure:"dm"`
	DMAllowlist []string `mapstructure:"dm_allowlist"`

	// Group is "open", "pairing" or "allowlist". "pairing" behaves like
	// "open" (every group admitted); a pairing handshake is not implemented
	// yet. Use "allowlist" to restrict groups.
	Group          string   `mapstructure:"group"`
	GroupAllowlist []string `mapstructure:"group_allowlist"`

	// RequireMention is the global default for group chats; per-group
	// overrides win.
	RequireMention bool `mapstructure:"require_mention"`

	// Groups holds per-group overrides keyed by chat ID.
	Groups map[string]GroupPolicy `mapstructure:"groups"`
}

// GroupPolicy overrides the global policy for one group chat.
type GroupPolicy struct {
	// RequireMention, when set, overrides the global flag.
	RequireMention *bool `mapstructure:"require_mention"`
	// Senders, when non-empty, is the per-group sender allowlist.
	Senders []string `mapstructure:"senders"`
}

// HistoryConfig bounds the passive buffer and the active history fetch.
type HistoryConfig struct {
	BufferLimit  int `mapstructure:"buffer_limit"`
	DefaultFetch int `mapstructure:"default_fetch"`
	MaxFetch     int `mapstructure:"max_fetch"`
}

// MediaConfig bounds media resolution.
type MediaConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// RenderConfig selects and tunes the reply render strategy.
type RenderConfig struct {
	// Mode is "card" (progressive card) or "text" (simple chunked sends).
	Mode      string `mapstructure:"mode"`
	ForceCard bool   `mapstructure:"force_card"`
	// ThrottleMS is the minimum interval between card updates.
	ThrottleMS int `mapstructure:"throttle_ms"`
}

// Throttle returns the card update throttle as a duration.
func (r RenderConfig) Throttle() time.Duration {
	return time.Duration(r.ThrottleMS) * time.Millisecond
}

// AgentConfig points at the OpenAI-compatible downstream agent.
type AgentConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// SessionConfig locates the session bookkeeping store.
type SessionConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// Load reads configuration from the optional file path plus LARKGATE_*
// environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Session.DBPath == "" {
		homeDir, _ := os.UserHomeDir()
		cfg.Session.DBPath = filepath.Join(homeDir, ".larkgate", "sessions.db")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("policy.dm", "pairing")
	v.SetDefault("policy.group", "allowlist")
	v.SetDefault("policy.require_mention", true)
	v.SetDefault("history.buffer_limit", 50)
	v.SetDefault("history.default_fetch", 200)
	v.SetDefault("history.max_fetch", 1000)
	v.SetDefault("media.dir", filepath.Join(os.TempDir(), "larkgate-media"))
	v.SetDefault("media.max_bytes", int64(30*1024*1024))
	v.SetDefault("render.mode", "card")
	v.SetDefault("render.throttle_ms", 700)
	v.SetDefault("agent.model", "gpt-4o-mini")
	v.SetDefault("debug", false)
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
		return &ConfigError{Field: "feishu.app_id/feishu.app_secret", Message: "required"}
	}
	if c.Agent.APIKey == "" {
		return &ConfigError{Field: "agent.api_key", Message: "required"}
	}
	switch c.Policy.DM {
	case "pairing", "allowlist":
	default:
		return &ConfigError{Field: "policy.dm", Message: "must be pairing or allowlist"}
	}
	switch c.Policy.Group {
	case "open", "pairing", "allowlist":
	default:
		return &ConfigError{Field: "policy.group", Message: "must be open, pairing or allowlist"}
	}
	switch c.Render.Mode {
	case "card", "text":
	default:
		return &ConfigError{Field: "render.mode", Message: "must be card or text"}
	}
	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
