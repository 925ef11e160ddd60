package trajingest

import (
	"testing"

	"github.com/bmizerany/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, nil, cfg.Validate())
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, RetryIndividually, cfg.RetryPolicy)
}

func TestConfig_Validate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"workers":       func(c *Config) { c.Workers = 0 },
		"min":           func(c *Config) { c.MinBatchSize = 0 },
		"max below min": func(c *Config) { c.MinBatchSize = 10; c.MaxBatchSize = 5 },
		"size above":    func(c *Config) { c.BatchSize = 501 },
		"duration":      func(c *Config) { c.MaxBatchDuration = -1 },
		"rows":          func(c *Config) { c.MaxBatchRows = -1 },
		"consecutive":   func(c *Config) { c.MaxConsecutiveFailures = 0 },
		"row errors":    func(c *Config) { c.MaxRowErrorsPerUnit = -1 },
		"policy":        func(c *Config) { c.RetryPolicy = "twice" },
		"growth":        func(c *Config) { c.GrowthFactor = 0.9 },
		"shrink":        func(c *Config) { c.ShrinkFactor = 1.5 },
		"watermarks":    func(c *Config) { c.LowWatermark = 30000 },
		"window":        func(c *Config) { c.ThroughputWindow = 0 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.NotEqual(t, nil, cfg.Validate(), name)
	}

	// controller settings are ignored when not adaptive
	cfg := DefaultConfig()
	cfg.Adaptive = false
	cfg.GrowthFactor = 0
	assert.Equal(t, nil, cfg.Validate())
}

func TestParseRetryPolicy(t *testing.T) {
	p, err := ParseRetryPolicy(" Split ")
	assert.Equal(t, nil, err)
	assert.Equal(t, RetrySplit, p)
	p, err = ParseRetryPolicy("")
	assert.Equal(t, nil, err)
	assert.Equal(t, RetryIndividually, p)
	_, err = ParseRetryPolicy("always")
	assert.NotEqual(t, nil, err)
}
