package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Pool     PoolConfig     `yaml:"pool"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	LogWatch LogWatchConfig `yaml:"logwatch"`
	Telegram TelegramConfig `yaml:"telegram"`
	History  HistoryConfig  `yaml:"history"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// StoreConfig locates the two persisted documents and the instance lock.
// ActivePath is shared with the external client application; ReservePath
// is owned by this process.
type StoreConfig struct {
	ActivePath  string `yaml:"active_path"`
	ReservePath string `yaml:"reserve_path"`
	LockPath    string `yaml:"lock_path"`
}

// OracleConfig contains the remote endpoints used for token refresh and
// usage queries.
type OracleConfig struct {
	RefreshURL string `yaml:"refresh_url"`
	UsageURL   string `yaml:"usage_url"`
	ClientID   string `yaml:"client_id"`
	// Timeout applies to each remote call (query or refresh).
	Timeout time.Duration `yaml:"timeout"`
	// ShutdownTimeout bounds the final usage query during shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PoolConfig contains failover policy thresholds.
type PoolConfig struct {
	// WarnThreshold marks a credential low-quota and excludes it from
	// failover candidate selection. Default: 0.9.
	WarnThreshold float64 `yaml:"warn_threshold"`
	// ExhaustThreshold triggers the blocking quota warning on
	// user-initiated checks. Default: 0.99.
	ExhaustThreshold float64 `yaml:"exhaust_threshold"`
}

// MonitorConfig contains the fixed-interval usage poller configuration.
type MonitorConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// LogWatchConfig contains the payment-error log watcher configuration.
type LogWatchConfig struct {
	Enabled bool `yaml:"enabled"`
	// Globs are the log file patterns to watch.
	Globs []string `yaml:"globs"`
	// Pattern is the payment-error regular expression matched against
	// freshly appended log content.
	Pattern      string        `yaml:"pattern"`
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// TelegramConfig contains failover notification configuration.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// HistoryConfig contains the check/failover event history configuration.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
	// RetentionDays bounds how long events are kept. Default: 30.
	RetentionDays int `yaml:"retention_days"`
}

// DefaultActivePath returns the conventional location of the active
// credential document written by the client application.
func DefaultActivePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".factory", "auth.json")
	}
	return filepath.Join(home, ".factory", "auth.json")
}

// DefaultLogGlob returns the conventional client log location.
func DefaultLogGlob() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".factory", "logs", "*.log")
	}
	return filepath.Join(home, ".factory", "logs", "*.log")
}

// Validate validates the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Oracle.Validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if err := c.LogWatch.Validate(); err != nil {
		return fmt.Errorf("logwatch: %w", err)
	}
	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.HTTPPort == 0 {
		s.HTTPPort = 8642
	}
	if s.HTTPPort < 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	return nil
}

// Validate validates store configuration.
func (s *StoreConfig) Validate() error {
	if s.ActivePath == "" {
		s.ActivePath = DefaultActivePath()
	}
	if s.ReservePath == "" {
		s.ReservePath = "tokens.json"
	}
	if s.LockPath == "" {
		s.LockPath = filepath.Join(filepath.Dir(s.ReservePath), ".droidpool.lock")
	}
	return nil
}

// Validate validates oracle configuration.
func (o *OracleConfig) Validate() error {
	if o.RefreshURL == "" {
		o.RefreshURL = "https://api.workos.com/user_management/authenticate"
	}
	if o.UsageURL == "" {
		o.UsageURL = "https://app.factory.ai/api/organization/members/chat-usage"
	}
	if o.ClientID == "" {
		o.ClientID = "client_01HNM792M5G5G1A2THWPXKFMXB"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 5 * time.Second
	}
	return nil
}

// Validate validates pool thresholds.
func (p *PoolConfig) Validate() error {
	if p.WarnThreshold <= 0 {
		p.WarnThreshold = 0.9
	}
	if p.ExhaustThreshold <= 0 {
		p.ExhaustThreshold = 0.99
	}
	if p.WarnThreshold > 1 || p.ExhaustThreshold > 1 {
		return fmt.Errorf("thresholds must be in (0, 1]")
	}
	if p.WarnThreshold > p.ExhaustThreshold {
		return fmt.Errorf("warn_threshold must not exceed exhaust_threshold")
	}
	return nil
}

// Validate validates monitor configuration.
func (m *MonitorConfig) Validate() error {
	if m.CheckInterval <= 0 {
		m.CheckInterval = 90 * time.Second
	}
	return nil
}

// Validate validates log watcher configuration.
func (l *LogWatchConfig) Validate() error {
	if len(l.Globs) == 0 {
		l.Globs = []string{DefaultLogGlob()}
	}
	if l.Pattern == "" {
		l.Pattern = `Ready for more\? Reload your tokens.*?https://app\.factory\.ai/settings/billing`
	}
	if l.ScanInterval <= 0 {
		l.ScanInterval = time.Second
	}
	return nil
}

// Validate validates history configuration.
func (h *HistoryConfig) Validate() error {
	if h.DBPath == "" {
		h.DBPath = "./data/droidpool.db"
	}
	if h.RetentionDays <= 0 {
		h.RetentionDays = 30
	}
	return nil
}
