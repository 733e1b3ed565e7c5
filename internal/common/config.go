package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string                  `toml:"environment"` // "development" or "production"
	Server      ServerConfig            `toml:"server"`
	Storage     StorageConfig           `toml:"storage"`
	Logging     LoggingConfig           `toml:"logging"`
	Queue       QueueConfig             `toml:"queue"`
	Schedules   SchedulesConfig         `toml:"schedules"`
	Recording   RecordingConfig         `toml:"recording"`
	Extraction  ExtractionConfig        `toml:"extraction"`
	CRM         CRMConfig               `toml:"crm"`
	Matcher     MatcherConfig           `toml:"matcher"`
	Reconcile   ReconcileConfig         `toml:"reconcile"`
	Tickets     TicketsConfig           `toml:"tickets"`
	Sweep       SweepConfig             `toml:"sweep"`
	Poller      PollerConfig            `toml:"poller"`
	Alerts      AlertsConfig            `toml:"alerts"`
	Tenants     map[string]TenantConfig `toml:"tenants"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	QueuePath      string `toml:"queue_path"`               // Queue database directory (defaults to Path + "-queue")
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// QueueConfig controls the durable queue substrate
type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g. "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Workers per queue
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g. "5m" - redelivery timeout for in-flight messages
	MaxAttempts       int    `toml:"max_attempts"`       // Attempts before a message dead-letters
	RatePerMinute     int    `toml:"rate_per_minute"`    // Per-queue job rate limit (0 = unlimited)
	WaitingThreshold  int    `toml:"waiting_threshold"`  // Waiting count above which a queue reports unhealthy
}

// SchedulesConfig holds cron expressions for the recurring pipeline jobs
type SchedulesConfig struct {
	Timezone     string `toml:"timezone"`       // IANA timezone for cron evaluation
	Reconcile    string `toml:"reconcile"`      // Primary reconciliation sweep
	MissedCalls  string `toml:"missed_calls"`   // Missed-call poller
	AutoComplete string `toml:"auto_complete"`  // Wrapup auto-completion sweep
	StaleCleanup string `toml:"stale_cleanup"`  // Stale pending-job reaper
}

// RecordingConfig configures the external recording store client
type RecordingConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout string `toml:"request_timeout"` // HTTP request timeout
	RateLimit      int    `toml:"rate_limit"`      // Requests per second
}

// ExtractionConfig configures the transcript classification capability
type ExtractionConfig struct {
	Provider    string  `toml:"provider"` // "claude" or "gemini"
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"` // Minimum interval between calls, e.g. "1s"
	Temperature float32 `toml:"temperature"`
	// HangupMaxDuration is the call length below which the local heuristic
	// may short-circuit extraction entirely.
	HangupMaxDuration string `toml:"hangup_max_duration"`
}

// CRMConfig configures the ticketing/CRM client
type CRMConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout string `toml:"request_timeout"`
	RateLimit      int    `toml:"rate_limit"` // Requests per second
	PipelineID     int64  `toml:"pipeline_id"`
	StageID        int64  `toml:"stage_id"`
	CategoryID     int64  `toml:"category_id"`
	PriorityID     int64  `toml:"priority_id"`
	// UnmatchedHouseholdID receives tickets for callers that cannot be
	// resolved to a known customer.
	UnmatchedHouseholdID string `toml:"unmatched_household_id"`
	// SystemAgentID is the fallback "AI Agent" identity for ticket assignment.
	SystemAgentID   string `toml:"system_agent_id"`
	SystemAgentName string `toml:"system_agent_name"`
}

// MatcherConfig controls recording-store matching behavior
type MatcherConfig struct {
	TimeWindow   string `toml:"time_window"`   // Search window around call start, default "15m"
	SuffixDigits int    `toml:"suffix_digits"` // Digits compared in fuzzy phone match
}

// ReconcileConfig controls the transcript reconciliation worker
type ReconcileConfig struct {
	MaxAttempts int      `toml:"max_attempts"` // Attempts before a job fails to manual review
	RetryDelays []string `toml:"retry_delays"` // Delay table, attempt-indexed, last value repeats
	BatchSize   int      `toml:"batch_size"`   // Pending jobs processed per trigger run
}

// TicketsConfig controls auto-ticket creation guards
type TicketsConfig struct {
	Enabled        bool     `toml:"enabled"`
	DedupWindow    string   `toml:"dedup_window"`     // Cross-path duplicate-ticket window, default "1h"
	MinPhoneDigits int      `toml:"min_phone_digits"` // Below this the phone is considered invalid
	TestPhones     []string `toml:"test_phones"`      // Known placeholder caller values
}

// SweepConfig controls the wrapup auto-completion sweep
type SweepConfig struct {
	GracePeriod      string `toml:"grace_period"`      // Minimum pending age before the sweep touches a wrapup
	BacklogThreshold string `toml:"backlog_threshold"` // Age above which wrapups are cleared without side effects
	BatchSize        int    `toml:"batch_size"`
}

// PollerConfig controls the missed-call poller
type PollerConfig struct {
	LookbackWindow string `toml:"lookback_window"` // How far back SearchTranscripts sweeps
	Limit          int    `toml:"limit"`           // Max recordings per sweep
}

// AlertsConfig configures operator alert email
type AlertsConfig struct {
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	To       string `toml:"to"`
	UseTLS   bool   `toml:"use_tls"`
}

// TenantConfig holds per-tenant feature flags
type TenantConfig struct {
	AutoCreateTickets bool `toml:"auto_create_tickets"`
}

// NewDefaultConfig returns a config populated with production defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8951,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/wrapline",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       3,
			VisibilityTimeout: "5m",
			MaxAttempts:       3,
			RatePerMinute:     60, // Respect downstream API quotas
			WaitingThreshold:  100,
		},
		Schedules: SchedulesConfig{
			Timezone:     "America/Chicago",
			Reconcile:    "*/1 * * * *",
			MissedCalls:  "*/5 * * * *",
			AutoComplete: "*/10 * * * *",
			StaleCleanup: "0 * * * *",
		},
		Recording: RecordingConfig{
			RequestTimeout: "30s",
			RateLimit:      5,
		},
		Extraction: ExtractionConfig{
			Provider:          "claude",
			Model:             "", // Provider default applied by the factory
			MaxTokens:         2048,
			Timeout:           "2m",
			RateLimit:         "1s",
			Temperature:       0.2,
			HangupMaxDuration: "35s",
		},
		CRM: CRMConfig{
			RequestTimeout:  "30s",
			RateLimit:       5,
			SystemAgentName: "AI Agent",
		},
		Matcher: MatcherConfig{
			TimeWindow:   "15m", // Empirically tuned; recording-store timestamps drift
			SuffixDigits: 7,
		},
		Reconcile: ReconcileConfig{
			MaxAttempts: 10,
			RetryDelays: []string{"15s", "15s", "30s", "30s", "1m", "2m", "5m", "5m", "10m", "15m"},
			BatchSize:   50,
		},
		Tickets: TicketsConfig{
			Enabled:        true,
			DedupWindow:    "1h", // Empirically tuned cross-path duplicate window
			MinPhoneDigits: 7,
			TestPhones:     []string{"PlayFile", "anonymous", "restricted", "unavailable"},
		},
		Sweep: SweepConfig{
			GracePeriod:      "10m",
			BacklogThreshold: "168h", // 7 days
			BatchSize:        50,
		},
		Poller: PollerConfig{
			LookbackWindow: "2h",
			Limit:          100,
		},
		Alerts: AlertsConfig{
			SMTPPort: 587,
			UseTLS:   true,
		},
		Tenants: map[string]TenantConfig{},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies WRAPLINE_* environment variables over file values
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("WRAPLINE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("WRAPLINE_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("WRAPLINE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("WRAPLINE_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("WRAPLINE_RECORDING_API_KEY"); v != "" {
		config.Recording.APIKey = v
	}
	if v := os.Getenv("WRAPLINE_CRM_API_KEY"); v != "" {
		config.CRM.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.Extraction.APIKey == "" {
		config.Extraction.APIKey = v
	}
	if v := os.Getenv("WRAPLINE_EXTRACTION_API_KEY"); v != "" {
		config.Extraction.APIKey = v
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks structural validity plus cron expressions and durations
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, expr := range map[string]string{
		"schedules.reconcile":     c.Schedules.Reconcile,
		"schedules.missed_calls":  c.Schedules.MissedCalls,
		"schedules.auto_complete": c.Schedules.AutoComplete,
		"schedules.stale_cleanup": c.Schedules.StaleCleanup,
	} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("invalid cron expression for %s: %w", name, err)
		}
	}

	for name, d := range map[string]string{
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"matcher.time_window":      c.Matcher.TimeWindow,
		"tickets.dedup_window":     c.Tickets.DedupWindow,
		"sweep.grace_period":       c.Sweep.GracePeriod,
		"sweep.backlog_threshold":  c.Sweep.BacklogThreshold,
		"poller.lookback_window":   c.Poller.LookbackWindow,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	for i, d := range c.Reconcile.RetryDelays {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid reconcile.retry_delays[%d]: %w", i, err)
		}
	}

	return nil
}

// MustDuration parses a duration that Validate already checked
func MustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
