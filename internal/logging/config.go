package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid logging config")

// Config controls how a Logger encodes, filters and ships entries.
type Config struct {
	Level  zapcore.Level
	Format string

	Output    OutputConfig
	Sampling  SamplingConfig
	Redaction RedactionConfig

	// Fields are attached to every entry.
	Fields map[string]string
}

// OutputConfig selects the sinks.
type OutputConfig struct {
	Console bool
	OTEL    bool

	// Stderr moves the console sink off stdout, which belongs to stdio
	// protocols and the TUI.
	Stderr bool
}

// SamplingConfig throttles repeated entries below error level. Errors are
// never sampled.
type SamplingConfig struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// RedactionConfig lists the field keys and value patterns that never reach
// a sink in clear text.
type RedactionConfig struct {
	Enabled  bool
	Keys     []string
	Patterns []string
}

// NewDefaultConfig returns the production configuration.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Console: true},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Keys:    []string{"api_key", "authorization", "password", "secret", "token"},
			Patterns: []string{
				`\bsk-[A-Za-z0-9_-]{16,}`,
				`(?i)bearer\s+\S+`,
			},
		},
		Fields: map[string]string{"service": "ragchat"},
	}
}

// Validate reports the first problem with c.
func (c *Config) Validate() error {
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: format must be json or console, got %q", ErrInvalidConfig, c.Format)
	}
	if !c.Output.Console && !c.Output.OTEL {
		return fmt.Errorf("%w: no output enabled", ErrInvalidConfig)
	}
	if c.Sampling.Enabled && (c.Sampling.Tick <= 0 || c.Sampling.Initial <= 0) {
		return fmt.Errorf("%w: sampling needs a positive tick and initial count", ErrInvalidConfig)
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("%w: redaction pattern %q: %v", ErrInvalidConfig, p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("%w: constant fields need a key and a value", ErrInvalidConfig)
		}
	}
	return nil
}
