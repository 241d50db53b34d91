// Package config loads and validates the okkqc configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration shared by every okkqc command.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"OKK_DB_PATH"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"OKK_LOG_LEVEL"`
	// LogFormat is json or console.
	LogFormat string `mapstructure:"OKK_LOG_FORMAT"`

	// MatchWindow is the maximum call-to-order distance (e.g. "48h").
	MatchWindow string `mapstructure:"OKK_MATCH_WINDOW"`
	// MatchBatchSize is the number of calls per matching batch.
	MatchBatchSize int `mapstructure:"OKK_MATCH_BATCH_SIZE"`

	// JudgeURL is the chat-completions base URL of the AI judge. Empty
	// disables semantic checks (they report a dependency failure).
	JudgeURL    string `mapstructure:"OKK_JUDGE_URL"`
	JudgeAPIKey string `mapstructure:"OKK_JUDGE_API_KEY"`
	JudgeModel  string `mapstructure:"OKK_JUDGE_MODEL"`
	// JudgeTimeout bounds one judge request (e.g. "20s").
	JudgeTimeout string `mapstructure:"OKK_JUDGE_TIMEOUT"`
	// JudgeRetries is the number of retries on transport errors.
	JudgeRetries int `mapstructure:"OKK_JUDGE_RETRIES"`
	// JudgeBudget caps judge calls per rule run; 0 is unlimited.
	JudgeBudget int `mapstructure:"OKK_JUDGE_BUDGET"`

	// WorkingStatuses is a comma-separated list of status codes counted as
	// active work in efficiency reports.
	WorkingStatuses string `mapstructure:"OKK_WORKING_STATUSES"`
	// ControlledManagers is a comma-separated manager whitelist; empty means all.
	ControlledManagers string `mapstructure:"OKK_CONTROLLED_MANAGERS"`
	// MinCallSeconds is the shortest call counted as a real conversation.
	MinCallSeconds int `mapstructure:"OKK_MIN_CALL_SECONDS"`

	// RuleLookback is the default rule-run window ending now (e.g. "24h").
	RuleLookback string `mapstructure:"OKK_RULE_LOOKBACK"`

	matchWindow  time.Duration
	judgeTimeout time.Duration
	ruleLookback time.Duration
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path. A missing file is ignored.
func LoadFile(envFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("OKK_DB_PATH", "okk.db")
	v.SetDefault("OKK_LOG_LEVEL", "info")
	v.SetDefault("OKK_LOG_FORMAT", "json")
	v.SetDefault("OKK_MATCH_WINDOW", "48h")
	v.SetDefault("OKK_MATCH_BATCH_SIZE", 200)
	v.SetDefault("OKK_JUDGE_URL", "")
	v.SetDefault("OKK_JUDGE_API_KEY", "")
	v.SetDefault("OKK_JUDGE_MODEL", "gpt-4o-mini")
	v.SetDefault("OKK_JUDGE_TIMEOUT", "20s")
	v.SetDefault("OKK_JUDGE_RETRIES", 1)
	v.SetDefault("OKK_JUDGE_BUDGET", 0)
	v.SetDefault("OKK_WORKING_STATUSES", "")
	v.SetDefault("OKK_CONTROLLED_MANAGERS", "")
	v.SetDefault("OKK_MIN_CALL_SECONDS", 20)
	v.SetDefault("OKK_RULE_LOOKBACK", "24h")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("config: OKK_DB_PATH must be set")
	}

	var err error
	if c.matchWindow, err = positiveDuration("OKK_MATCH_WINDOW", c.MatchWindow); err != nil {
		return err
	}
	if c.judgeTimeout, err = positiveDuration("OKK_JUDGE_TIMEOUT", c.JudgeTimeout); err != nil {
		return err
	}
	if c.ruleLookback, err = positiveDuration("OKK_RULE_LOOKBACK", c.RuleLookback); err != nil {
		return err
	}

	if c.MatchBatchSize <= 0 {
		return errors.New("config: OKK_MATCH_BATCH_SIZE must be positive")
	}
	if c.JudgeRetries < 0 {
		return errors.New("config: OKK_JUDGE_RETRIES must not be negative")
	}
	if c.JudgeBudget < 0 {
		return errors.New("config: OKK_JUDGE_BUDGET must not be negative")
	}
	if c.MinCallSeconds < 0 {
		return errors.New("config: OKK_MIN_CALL_SECONDS must not be negative")
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("config: OKK_LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

func positiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return d, nil
}

// MatchWindowDuration returns the parsed OKK_MATCH_WINDOW.
func (c *Config) MatchWindowDuration() time.Duration { return c.matchWindow }

// JudgeTimeoutDuration returns the parsed OKK_JUDGE_TIMEOUT.
func (c *Config) JudgeTimeoutDuration() time.Duration { return c.judgeTimeout }

// RuleLookbackDuration returns the parsed OKK_RULE_LOOKBACK.
func (c *Config) RuleLookbackDuration() time.Duration { return c.ruleLookback }

// WorkingStatusList returns the working statuses from the comma-separated config.
func (c *Config) WorkingStatusList() []string {
	return splitList(c.WorkingStatuses)
}

// ControlledManagerList returns the manager whitelist from the comma-separated config.
func (c *Config) ControlledManagerList() []string {
	return splitList(c.ControlledManagers)
}

// JudgeEnabled reports whether a judge endpoint is configured.
func (c *Config) JudgeEnabled() bool {
	return strings.TrimSpace(c.JudgeURL) != ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
