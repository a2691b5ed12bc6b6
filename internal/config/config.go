package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr       string `mapstructure:"addr" yaml:"addr"`
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`
	KeysFile   string `mapstructure:"keys_file" yaml:"keys_file"`
}

// MailConfig holds the IMAP and SMTP settings for the single mailbox the
// assistant manages. The mailbox is explicit configuration, not an implicit
// environment lookup, so isolated instances can run side by side in tests.
type MailConfig struct {
	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
	From     string `mapstructure:"from" yaml:"from"`

	// NotifyAddress, when set, receives a copy of the booking announcement
	// whenever a thread reaches the booked state.
	NotifyAddress string `mapstructure:"notify_address" yaml:"notify_address"`

	// AllowedSenders, when non-empty, limits who the assistant answers.
	// Entries are address globs such as "*@corp.example".
	AllowedSenders []string `mapstructure:"allowed_senders" yaml:"allowed_senders"`
}

// CalendarConfig holds the calendar provider API settings.
type CalendarConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	CalendarID string `mapstructure:"calendar_id" yaml:"calendar_id"`
}

// ModelConfig holds the language-model API settings.
type ModelConfig struct {
	APIURL    string `mapstructure:"api_url" yaml:"api_url"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	Name      string `mapstructure:"name" yaml:"name"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// SchedulingConfig holds the negotiation knobs.
type SchedulingConfig struct {
	Timezone          string        `mapstructure:"timezone" yaml:"timezone"`
	BusinessStartHour int           `mapstructure:"business_start_hour" yaml:"business_start_hour"`
	BusinessEndHour   int           `mapstructure:"business_end_hour" yaml:"business_end_hour"`
	SlotCount         int           `mapstructure:"slot_count" yaml:"slot_count"`
	BufferMinutes     int           `mapstructure:"buffer_minutes" yaml:"buffer_minutes"`
	WindowDays        int           `mapstructure:"window_days" yaml:"window_days"`
	WidenedWindowDays int           `mapstructure:"widened_window_days" yaml:"widened_window_days"`
	Inactivity        time.Duration `mapstructure:"inactivity" yaml:"inactivity"`
	MaxClarifications int           `mapstructure:"max_clarifications" yaml:"max_clarifications"`
}

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Mail       MailConfig       `mapstructure:"mail" yaml:"mail"`
	Calendar   CalendarConfig   `mapstructure:"calendar" yaml:"calendar"`
	Model      ModelConfig      `mapstructure:"model" yaml:"model"`
	Scheduling SchedulingConfig `mapstructure:"scheduling" yaml:"scheduling"`
	DBPath     string           `mapstructure:"db_path" yaml:"db_path"`
}

// Location resolves the configured timezone, falling back to UTC.
func (c SchedulingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":7380")
	v.SetDefault("server.keys_file", "rdv.keys.yaml")
	v.SetDefault("mail.imap_port", "993")
	v.SetDefault("mail.smtp_port", "587")
	v.SetDefault("mail.tls", true)
	v.SetDefault("calendar.calendar_id", "primary")
	v.SetDefault("model.max_tokens", 1024)
	v.SetDefault("scheduling.timezone", "America/Toronto")
	v.SetDefault("scheduling.business_start_hour", 9)
	v.SetDefault("scheduling.business_end_hour", 18)
	v.SetDefault("scheduling.slot_count", 3)
	v.SetDefault("scheduling.buffer_minutes", 30)
	v.SetDefault("scheduling.window_days", 7)
	v.SetDefault("scheduling.widened_window_days", 14)
	v.SetDefault("scheduling.inactivity", 72*time.Hour)
	v.SetDefault("scheduling.max_clarifications", 3)
	v.SetDefault("db_path", "rdv.db")
}

// Default returns the built-in configuration, used when no file exists.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads YAML configuration from path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return Default(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Scheduling.BusinessStartHour < 0 || c.Scheduling.BusinessEndHour > 24 ||
		c.Scheduling.BusinessStartHour >= c.Scheduling.BusinessEndHour {
		return fmt.Errorf("business hours out of range: %d-%d",
			c.Scheduling.BusinessStartHour, c.Scheduling.BusinessEndHour)
	}
	if c.Scheduling.SlotCount <= 0 {
		return fmt.Errorf("slot_count must be positive")
	}
	if c.Scheduling.WidenedWindowDays < c.Scheduling.WindowDays {
		return fmt.Errorf("widened_window_days must be >= window_days")
	}
	return nil
}
