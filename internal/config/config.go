package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ligustah/splice/internal/logging"
	"github.com/ligustah/splice/internal/progress"
	"github.com/ligustah/splice/internal/transform"
	"github.com/ligustah/splice/pkg/sharded"
	"gopkg.in/yaml.v3"
)

// Config defines configuration for the splice CLI.
type Config struct {
	Input       string `yaml:"input"`
	Output      string `yaml:"output"`
	Bucket      string `yaml:"bucket"`
	Object      string `yaml:"object"`
	Workers     int    `yaml:"workers"`
	MailboxSize int    `yaml:"mailbox_size"`
	BufferSize  int64  `yaml:"buffer_size"`
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Progress    bool   `yaml:"progress"`

	// Replace holds extra "FROM=TO" byte replacements applied after From
	// and To, in order.
	Replace []string `yaml:"replace"`

	Force       bool   `yaml:"force"`

	// MaxConsecutiveFailures stops a run after this many ranges fail in a
	// row. 0 disables it.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	Compression   string      `yaml:"compression"`
	StateInterval int         `yaml:"state_interval"`
	Log           LogConfig   `yaml:"log"`
	Retry         RetryConfig `yaml:"retry"`
}

// LogConfig defines structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// RetryConfig defines retry behavior for URL inputs.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Workers:       runtime.NumCPU(),
		MailboxSize:   100,
		BufferSize:    1024 * 1024, // 1MiB
		From:          ";",
		To:            ":",
		StateInterval: 10,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Input                  string          `yaml:"input"`
	Output                 string          `yaml:"output"`
	Bucket                 string          `yaml:"bucket"`
	Object                 string          `yaml:"object"`
	Workers                int             `yaml:"workers"`
	MailboxSize            int             `yaml:"mailbox_size"`
	BufferSize             string          `yaml:"buffer_size"`
	From                   string          `yaml:"from"`
	To                     string          `yaml:"to"`
	Replace                []string        `yaml:"replace"`
	Progress               bool            `yaml:"progress"`
	Force                  bool            `yaml:"force"`
	MaxConsecutiveFailures int             `yaml:"max_consecutive_failures"`
	Compression            string          `yaml:"compression"`
	StateInterval          int             `yaml:"state_interval"`
	Log                    LogConfig       `yaml:"log"`
	Retry                  yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file. Fields missing from the
// file keep their defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	override := Config{
		Input:                  yc.Input,
		Output:                 yc.Output,
		Bucket:                 yc.Bucket,
		Object:                 yc.Object,
		Workers:                yc.Workers,
		MailboxSize:            yc.MailboxSize,
		From:                   yc.From,
		To:                     yc.To,
		Replace:                yc.Replace,
		Progress:               yc.Progress,
		Force:                  yc.Force,
		MaxConsecutiveFailures: yc.MaxConsecutiveFailures,
		Compression:            yc.Compression,
		StateInterval:          yc.StateInterval,
		Log:                    yc.Log,
		Retry:                  RetryConfig{Attempts: yc.Retry.Attempts},
	}
	if yc.BufferSize != "" {
		size, err := progress.ParseBytes(yc.BufferSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse buffer_size: %w", err)
		}
		override.BufferSize = size
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		override.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		override.Retry.MaxBackoff = d
	}

	return Default().Merge(override), nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SPLICE_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"SPLICE_INPUT":       &c.Input,
		"SPLICE_OUTPUT":      &c.Output,
		"SPLICE_BUCKET":      &c.Bucket,
		"SPLICE_OBJECT":      &c.Object,
		"SPLICE_FROM":        &c.From,
		"SPLICE_TO":          &c.To,
		"SPLICE_COMPRESSION": &c.Compression,
		"SPLICE_LOG_LEVEL":   &c.Log.Level,
		"SPLICE_LOG_FORMAT":  &c.Log.Format,
		"SPLICE_LOG_FILE":    &c.Log.File,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SPLICE_WORKERS":                  &c.Workers,
		"SPLICE_MAILBOX_SIZE":             &c.MailboxSize,
		"SPLICE_MAX_CONSECUTIVE_FAILURES": &c.MaxConsecutiveFailures,
		"SPLICE_STATE_INTERVAL":           &c.StateInterval,
		"SPLICE_RETRY_ATTEMPTS":           &c.Retry.Attempts,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("SPLICE_BUFFER_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse SPLICE_BUFFER_SIZE: %w", err)
		}
		c.BufferSize = size
	}
	if v := os.Getenv("SPLICE_REPLACE"); v != "" {
		c.Replace = strings.Fields(v)
	}
	if v := os.Getenv("SPLICE_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("SPLICE_FORCE"); v != "" {
		c.Force = v == "true" || v == "1"
	}
	if v := os.Getenv("SPLICE_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SPLICE_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("SPLICE_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SPLICE_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate checks the settings shared by every command. Commands check the
// inputs and outputs they need themselves.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.MailboxSize <= 0 {
		return errors.New("config: mailbox_size must be positive")
	}
	if c.BufferSize <= 0 {
		return errors.New("config: buffer_size must be positive")
	}
	if c.MaxConsecutiveFailures < 0 {
		return errors.New("config: max_consecutive_failures must not be negative")
	}
	if _, err := c.Transform(); err != nil {
		return err
	}
	if _, err := sharded.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !validLevel(c.Log.Level) {
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	return nil
}

// Transform returns the byte replacement configured by From and To followed
// by the Replace pairs.
func (c *Config) Transform() (transform.Func, error) {
	from, err := transform.ParseByte(c.From)
	if err != nil {
		return nil, fmt.Errorf("config: from: %w", err)
	}
	to, err := transform.ParseByte(c.To)
	if err != nil {
		return nil, fmt.Errorf("config: to: %w", err)
	}

	fns := []transform.Func{transform.Replace(from, to)}
	for _, pair := range c.Replace {
		fn, err := transform.ParseReplacement(pair)
		if err != nil {
			return nil, fmt.Errorf("config: replace: %w", err)
		}
		fns = append(fns, fn)
	}
	return transform.Chain(fns...), nil
}

func validLevel(level string) bool {
	if level == "" {
		return true
	}
	for _, l := range logging.ValidLevels() {
		if strings.EqualFold(l, level) {
			return true
		}
	}
	return false
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Input != "" {
		c.Input = override.Input
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.Bucket != "" {
		c.Bucket = override.Bucket
	}
	if override.Object != "" {
		c.Object = override.Object
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.MailboxSize != 0 {
		c.MailboxSize = override.MailboxSize
	}
	if override.BufferSize != 0 {
		c.BufferSize = override.BufferSize
	}
	if override.From != "" {
		c.From = override.From
	}
	if override.To != "" {
		c.To = override.To
	}
	if len(override.Replace) > 0 {
		c.Replace = override.Replace
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Force {
		c.Force = override.Force
	}
	if override.MaxConsecutiveFailures != 0 {
		c.MaxConsecutiveFailures = override.MaxConsecutiveFailures
	}
	if override.Compression != "" {
		c.Compression = override.Compression
	}
	if override.StateInterval != 0 {
		c.StateInterval = override.StateInterval
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	if override.Log.File != "" {
		c.Log.File = override.Log.File
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}
