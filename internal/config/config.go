package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = ".zapmcp"
	DefaultConfigFile = "config.json"
	DefaultDBFile     = ".zapmcp/history.db"
)

// Load reads the config file and returns a populated Config. A missing file
// is not an error; defaults and environment variables still apply. The
// configPath flag may override the default location.
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	v := newViper(home)
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file exists but is malformed.
			if !isNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandPaths(&cfg, home)
	return &cfg, nil
}

func newViper(home string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, home)
	return v
}

// Save writes the config to disk as JSON.
func Save(cfg *Config, configPath string) error {
	path, err := ConfigPath(configPath)
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Set updates a single dotted key (e.g. "zap.api_url") in the config file,
// converting value to the type of the key's default. Unknown keys are
// rejected.
func Set(configPath, key, value string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}
	path, err := ConfigPath(configPath)
	if err != nil {
		return err
	}

	defaults := viper.New()
	setDefaults(defaults, home)
	key = strings.ToLower(strings.TrimSpace(key))
	like := defaults.Get(key)
	if like == nil {
		return fmt.Errorf("unknown config key %q", key)
	}
	if _, isSection := like.(map[string]any); isSection {
		return fmt.Errorf("%q is a section; set one of its keys instead", key)
	}

	// No AutomaticEnv here so environment overrides are never written back.
	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v, home)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	typed, err := coerce(like, value)
	if err != nil {
		return fmt.Errorf("config key %q: %w", key, err)
	}
	v.Set(key, typed)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// coerce converts raw to the dynamic type of like.
func coerce(like any, raw string) (any, error) {
	switch like.(type) {
	case bool:
		return strconv.ParseBool(raw)
	case int, int64:
		return strconv.Atoi(raw)
	case float64:
		return strconv.ParseFloat(raw, 64)
	case time.Duration:
		if _, err := time.ParseDuration(raw); err != nil {
			return nil, err
		}
		return raw, nil
	case []string, []any:
		if strings.TrimSpace(raw) == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	default:
		return raw, nil
	}
}

// ConfigPath returns the effective config file path.
func ConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// EnsureDir creates ~/.zapmcp if it doesn't exist.
func EnsureDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	d := filepath.Join(home, DefaultConfigDir)
	if err := os.MkdirAll(d, 0o700); err != nil {
		return fmt.Errorf("creating directory %s: %w", d, err)
	}
	return nil
}

// setDefaults populates viper with sensible out-of-the-box values.
func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)

	v.SetDefault("zap.api_url", "http://127.0.0.1:8080")
	v.SetDefault("zap.api_key", "")
	v.SetDefault("zap.requests_per_second", 10.0)
	v.SetDefault("zap.poll_interval", 2*time.Second)
	v.SetDefault("zap.http_timeout", 30*time.Second)
	v.SetDefault("zap.report_dir", "reports")

	v.SetDefault("scan.max_concurrent", 5)
	v.SetDefault("scan.timeout", time.Hour)
	v.SetDefault("scan.retention", 10*time.Minute)
	v.SetDefault("scan.reap_interval", time.Minute)
	v.SetDefault("scan.probe_timeout", 5*time.Second)
	v.SetDefault("scan.top_n", 5)
	v.SetDefault("scan.default_report_format", "html")

	v.SetDefault("events.buffer_size", 64)
	v.SetDefault("events.slow_subscriber_timeout", 5*time.Second)

	v.SetDefault("analysis.provider", "local")
	v.SetDefault("analysis.fallback", []string{})
	v.SetDefault("analysis.local_host", "localhost")
	v.SetDefault("analysis.local_port", 7456)
	v.SetDefault("analysis.model", "claude-instant-v1")
	v.SetDefault("analysis.max_tokens", 1000)
	v.SetDefault("analysis.temperature", 0.7)
	v.SetDefault("analysis.anthropic_api_key", "")
	v.SetDefault("analysis.azure_endpoint", "")
	v.SetDefault("analysis.azure_api_key", "")
	v.SetDefault("analysis.azure_deployment", "")
	v.SetDefault("analysis.profile", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(home, DefaultDBFile))
	v.SetDefault("database.dsn", "")
	v.SetDefault("history.enabled", true)

	v.SetDefault("notify.events", []string{"scan_error"})
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.secret", "")
	v.SetDefault("notify.slack.webhook_url", "")
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", "")
	v.SetDefault("notify.email.smtp_host", "")
	v.SetDefault("notify.email.smtp_port", 587)
	v.SetDefault("notify.email.username", "")
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.email.from", "")
	v.SetDefault("notify.email.to", "")
	v.SetDefault("notify.email.use_tls", false)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "zapmcp")

	v.SetDefault("mcp.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")
}

// Redacted returns a copy of cfg with secrets masked for display.
func Redacted(cfg *Config) Config {
	out := *cfg
	out.ZAP.APIKey = mask(out.ZAP.APIKey)
	out.Analysis.AnthropicKey = mask(out.Analysis.AnthropicKey)
	out.Analysis.AzureKey = mask(out.Analysis.AzureKey)
	out.Notify.Webhook.Secret = mask(out.Notify.Webhook.Secret)
	out.Notify.Slack.WebhookURL = mask(out.Notify.Slack.WebhookURL)
	out.Notify.Telegram.BotToken = mask(out.Notify.Telegram.BotToken)
	out.Notify.Email.Password = mask(out.Notify.Email.Password)
	out.Analysis.Fallback = append([]string(nil), cfg.Analysis.Fallback...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "…" + s[len(s)-4:]
}

// expandPaths resolves ~ in configured paths.
func expandPaths(cfg *Config, home string) {
	cfg.Database.Path = expandHome(cfg.Database.Path, home)
	cfg.Log.Dir = expandHome(cfg.Log.Dir, home)
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file")
}
