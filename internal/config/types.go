package config

import "time"

// Config is the root configuration structure for zapmcp.
// Serialised to ~/.zapmcp/config.json.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   json:"server"`
	ZAP      ZAPConfig      `mapstructure:"zap"      json:"zap"`
	Scan     ScanConfig     `mapstructure:"scan"     json:"scan"`
	Events   EventsConfig   `mapstructure:"events"   json:"events"`
	Analysis AnalysisConfig `mapstructure:"analysis" json:"analysis"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	History  HistoryConfig  `mapstructure:"history"  json:"history"`
	Notify   NotifyConfig   `mapstructure:"notify"   json:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  json:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"  json:"tracing"`
	MCP      MCPConfig      `mapstructure:"mcp"      json:"mcp"`
	Log      LogConfig      `mapstructure:"log"      json:"log"`
}

// ServerConfig controls the HTTP gateway listener.
type ServerConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// ZAPConfig points at the ZAP daemon API.
type ZAPConfig struct {
	APIURL string `mapstructure:"api_url" json:"api_url"`
	APIKey string `mapstructure:"api_key" json:"api_key"`
	// RequestsPerSecond caps calls to the ZAP API across all scans.
	RequestsPerSecond float64       `mapstructure:"requests_per_second" json:"requests_per_second"`
	PollInterval      time.Duration `mapstructure:"poll_interval"       json:"poll_interval"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"        json:"http_timeout"`
	// ReportDir is where ZAP writes generated reports. The path is resolved by
	// the ZAP daemon, not by zapmcp.
	ReportDir string `mapstructure:"report_dir" json:"report_dir"`
}

// ScanConfig controls orchestrator limits and retention.
type ScanConfig struct {
	MaxConcurrent       int           `mapstructure:"max_concurrent"        json:"max_concurrent"`
	Timeout             time.Duration `mapstructure:"timeout"               json:"timeout"`
	Retention           time.Duration `mapstructure:"retention"             json:"retention"`
	ReapInterval        time.Duration `mapstructure:"reap_interval"         json:"reap_interval"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"         json:"probe_timeout"`
	TopN                int           `mapstructure:"top_n"                 json:"top_n"`
	DefaultReportFormat string        `mapstructure:"default_report_format" json:"default_report_format"`
}

// EventsConfig sizes the per-subscriber event buffers.
type EventsConfig struct {
	BufferSize            int           `mapstructure:"buffer_size"             json:"buffer_size"`
	SlowSubscriberTimeout time.Duration `mapstructure:"slow_subscriber_timeout" json:"slow_subscriber_timeout"`
}

// AnalysisConfig selects and configures the LLM analysis backend.
type AnalysisConfig struct {
	// Provider is "local" (default), "anthropic", "azure" or "none".
	Provider string `mapstructure:"provider" json:"provider"`
	// Fallback lists providers tried in order when the primary fails.
	Fallback []string `mapstructure:"fallback" json:"fallback"`

	// LocalHost and LocalPort locate the websocket model server used by the
	// "local" provider (ws://host:port/ws).
	LocalHost string `mapstructure:"local_host" json:"local_host"`
	LocalPort int    `mapstructure:"local_port" json:"local_port"`

	Model       string  `mapstructure:"model"       json:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"  json:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" json:"temperature"`

	AnthropicKey string `mapstructure:"anthropic_api_key" json:"anthropic_api_key"`

	AzureEndpoint   string `mapstructure:"azure_endpoint"   json:"azure_endpoint"`
	AzureKey        string `mapstructure:"azure_api_key"    json:"azure_api_key"`
	AzureDeployment string `mapstructure:"azure_deployment" json:"azure_deployment"`

	// Profile is the scan profile applied when a request names none.
	Profile string `mapstructure:"profile" json:"profile"`
}

// DatabaseConfig controls the history archive backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
}

// HistoryConfig toggles the write-only scan archive.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// NotifyConfig controls outbound notifications on terminal scan events.
type NotifyConfig struct {
	// Events lists the event types that trigger a notification
	// (scan_complete, scan_error).
	Events   []string       `mapstructure:"events"  json:"events"`
	Webhook  WebhookConfig  `mapstructure:"webhook"  json:"webhook"`
	Slack    SlackConfig    `mapstructure:"slack"    json:"slack"`
	Telegram TelegramConfig `mapstructure:"telegram" json:"telegram"`
	Email    EmailConfig    `mapstructure:"email"    json:"email"`
}

// WebhookConfig holds the generic HTTP webhook target.
type WebhookConfig struct {
	URL    string `mapstructure:"url"    json:"url"`
	Secret string `mapstructure:"secret" json:"secret"`
}

// SlackConfig holds the Slack incoming webhook URL.
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}

// TelegramConfig holds the bot token and chat that receive messages.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" json:"bot_token"`
	ChatID   string `mapstructure:"chat_id"   json:"chat_id"`
}

// EmailConfig holds SMTP delivery settings. UseTLS dials implicit TLS
// (usually port 465); otherwise SendMail upgrades with STARTTLS when offered.
type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host" json:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port" json:"smtp_port"`
	Username string `mapstructure:"username"  json:"username"`
	Password string `mapstructure:"password"  json:"password"`
	From     string `mapstructure:"from"      json:"from"`
	To       string `mapstructure:"to"        json:"to"`
	UseTLS   bool   `mapstructure:"use_tls"   json:"use_tls"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// TracingConfig configures OTLP trace export. An empty Endpoint disables it.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"     json:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"     json:"insecure"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

type MCPConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// LogConfig controls log verbosity and the gateway log directory.
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	Dir   string `mapstructure:"dir"   json:"dir"`
}
