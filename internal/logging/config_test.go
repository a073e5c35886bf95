package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Output.Console)
	assert.False(t, cfg.Output.Stderr)
	assert.True(t, cfg.Sampling.Enabled)
	assert.Contains(t, cfg.Redaction.Keys, "api_key")
	assert.Equal(t, "ragchat", cfg.Fields["service"])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown format", func(c *Config) { c.Format = "xml" }},
		{"no output", func(c *Config) { c.Output = OutputConfig{} }},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }},
		{"zero initial", func(c *Config) { c.Sampling.Initial = 0 }},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"[unclosed"} }},
		{"empty field key", func(c *Config) { c.Fields = map[string]string{"": "x"} }},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"env": ""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfig_ValidateSkipsDisabledSections(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling = SamplingConfig{}
	cfg.Redaction = RedactionConfig{Patterns: []string{"[unclosed"}}
	assert.NoError(t, cfg.Validate())
}
