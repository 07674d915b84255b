package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig          `yaml:"server"`
	Printer  PrinterConfig         `yaml:"printer"`
	Queue    QueueConfig           `yaml:"queue"`
	Journal  JournalConfig         `yaml:"journal"`
	Pages    map[string]PageConfig `yaml:"pages"`
	Auth     AuthConfig            `yaml:"auth"`
	Webhooks []WebhookConfig       `yaml:"webhooks"`
	Logging  LoggingConfig         `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type PrinterConfig struct {
	SysfsRoot   string        `yaml:"sysfs_root"`
	DevRoot     string        `yaml:"dev_root"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

type QueueConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	PrinterBackoff time.Duration `yaml:"printer_backoff"`
	ListLimit      int           `yaml:"list_limit"`
}

type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type PageConfig struct {
	WidthMM  float64 `yaml:"width_mm"`
	HeightMM float64 `yaml:"height_mm"`
	GapMM    float64 `yaml:"gap_mm"`
	DPI      int     `yaml:"dpi"`
}

type AuthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	JWTSecret    string        `yaml:"jwt_secret"`
	PasswordHash string        `yaml:"password_hash"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type WebhookConfig struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Printer: PrinterConfig{
			SysfsRoot:   "/sys",
			DevRoot:     "/dev",
			SendTimeout: 10 * time.Second,
		},
		Queue: QueueConfig{
			PollInterval:   500 * time.Millisecond,
			PrinterBackoff: 3 * time.Second,
			ListLimit:      50,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          "./data/history.db",
			RetentionDays: 30,
		},
		Pages: map[string]PageConfig{
			"default": {WidthMM: 40, HeightMM: 30, GapMM: 2, DPI: 203},
			"small":   {WidthMM: 30, HeightMM: 20, GapMM: 2, DPI: 203},
			"large":   {WidthMM: 60, HeightMM: 40, GapMM: 3, DPI: 203},
		},
		Auth: AuthConfig{
			Enabled:  false,
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the config file over built-in defaults, then applies
// environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LPS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LPS_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("LPS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LPS_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Printer.SendTimeout < 0 {
		return fmt.Errorf("printer send timeout must be non-negative")
	}

	if c.Queue.PollInterval < 0 {
		return fmt.Errorf("queue poll interval must be non-negative")
	}

	if c.Queue.PrinterBackoff < 0 {
		return fmt.Errorf("queue printer backoff must be non-negative")
	}

	if c.Queue.ListLimit < 1 {
		return fmt.Errorf("queue list limit must be at least 1")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal path is required when the journal is enabled")
	}

	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("journal retention days must be non-negative")
	}

	if _, ok := c.Pages["default"]; !ok {
		return fmt.Errorf("pages must include a \"default\" preset")
	}

	validDPI := map[int]bool{
		203: true,
		300: true,
		600: true,
	}

	for name, page := range c.Pages {
		if page.WidthMM <= 0 || page.HeightMM <= 0 {
			return fmt.Errorf("page %q must have positive width and height", name)
		}
		if page.GapMM < 0 {
			return fmt.Errorf("page %q gap must be non-negative", name)
		}
		if !validDPI[page.DPI] {
			return fmt.Errorf("page %q has unsupported DPI %d (valid: 203, 300, 600)", name, page.DPI)
		}
	}

	if c.Auth.Enabled {
		if c.Auth.PasswordHash == "" {
			return fmt.Errorf("auth password hash is required when auth is enabled")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth token ttl must be positive")
		}
	}

	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d is missing a url", i)
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}
