package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	envConfigPath = "BOTHIVE_CONFIG"
	envPublicURL  = "BOTHIVE_PUBLIC_URL"

	botTokenEnvPrefix = "BOTHIVE_BOT_"
	botTokenEnvSuffix = "_TOKEN"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Ask     AskConfig     `json:"ask"`
	Bots    []BotConfig   `json:"bots"`
	Logging LoggingConfig `json:"logging,omitempty"`
}

// ServerConfig configures the shared webhook listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// PublicURL is the externally reachable base URL used when registering
	// Telegram webhooks. Webhook registration is skipped when empty.
	PublicURL string `json:"public_url"`
}

// AskConfig configures the upstream answer API shared by assistant bots.
type AskConfig struct {
	BaseURL               string `json:"base_url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// BotConfig describes one registered bot.
type BotConfig struct {
	Name string `json:"name"`
	// Kind selects the handler set: "assistant", "info" or "ping".
	Kind  string `json:"kind"`
	Token string `json:"token"`
	// SessionFile is the per-bot conversation-token store path. Only the
	// assistant kind uses it.
	SessionFile string `json:"session_file,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints the JSON schema cannot express.
func (c *Config) Validate() error {
	if len(c.Bots) == 0 {
		return fmt.Errorf("config has no bots")
	}

	names := make(map[string]struct{}, len(c.Bots))
	tokens := make(map[string]struct{}, len(c.Bots))
	for _, bot := range c.Bots {
		name := strings.TrimSpace(bot.Name)
		if name == "" {
			return fmt.Errorf("bot name is required")
		}
		if _, ok := names[name]; ok {
			return fmt.Errorf("duplicate bot name %q", name)
		}
		names[name] = struct{}{}

		token := strings.TrimSpace(bot.Token)
		if token != "" {
			if _, ok := tokens[token]; ok {
				return fmt.Errorf("duplicate bot token for %q", name)
			}
			tokens[token] = struct{}{}
		}
	}

	return nil
}

// applyEnvOverrides injects env-driven settings on top of file config.
//
// Bot tokens come from BOTHIVE_BOT_<NAME>_TOKEN so secrets stay out of config.json.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if publicURL := strings.TrimSpace(os.Getenv(envPublicURL)); publicURL != "" {
		cfg.Server.PublicURL = publicURL
	}

	for i := range cfg.Bots {
		if token := strings.TrimSpace(os.Getenv(botTokenEnv(cfg.Bots[i].Name))); token != "" {
			cfg.Bots[i].Token = token
		}
	}
}

// botTokenEnv maps a bot name to its token environment variable.
func botTokenEnv(name string) string {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	return botTokenEnvPrefix + normalized + botTokenEnvSuffix
}

// findConfigPath resolves the active config file location.
//
// Precedence is BOTHIVE_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
