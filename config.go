package trajingest

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// RetryPolicy decides what happens to the members of a rolled back batch.
type RetryPolicy string

const (
	// RetryNone marks every member failed.
	RetryNone RetryPolicy = "none"
	// RetryIndividually retries every member once in a batch of its own.
	RetryIndividually RetryPolicy = "individually"
	// RetrySplit retries the members once as two half-size batches.
	RetrySplit RetryPolicy = "split"
)

// ParseRetryPolicy converts a policy name into a RetryPolicy.
func ParseRetryPolicy(s string) (RetryPolicy, error) {
	p := RetryPolicy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case RetryNone, RetryIndividually, RetrySplit:
		return p, nil
	case "":
		return RetryIndividually, nil
	}
	return "", errors.Errorf("unknown retry policy: %q", s)
}

// Config holds the policy of a pipeline. It is copied into the pipeline when built.
type Config struct {
	// Workers is the number of lanes, each with its own sink session and transport connection.
	Workers int `mapstructure:"workers"`

	// BatchSize is the initial target batch size in units.
	BatchSize    int `mapstructure:"batch_size"`
	MinBatchSize int `mapstructure:"min_batch_size"`
	MaxBatchSize int `mapstructure:"max_batch_size"`
	// MaxBatchDuration closes a batch once it has been open this long. 0 disables.
	MaxBatchDuration time.Duration `mapstructure:"max_batch_duration"`
	// MaxBatchRows closes a batch once its estimated rows reach it. 0 disables.
	MaxBatchRows int64 `mapstructure:"max_batch_rows"`

	// Adaptive enables the throughput controller. Watermarks are in rows per second.
	Adaptive         bool    `mapstructure:"adaptive"`
	HighWatermark    float64 `mapstructure:"high_watermark"`
	LowWatermark     float64 `mapstructure:"low_watermark"`
	GrowthFactor     float64 `mapstructure:"growth_factor"`
	ShrinkFactor     float64 `mapstructure:"shrink_factor"`
	ThroughputWindow int     `mapstructure:"throughput_window"`

	RetryPolicy RetryPolicy `mapstructure:"retry_policy"`
	// SkipFailedOnResume settles failed units in the checkpoint so the next run does not re-attempt them.
	SkipFailedOnResume bool `mapstructure:"skip_failed_on_resume"`
	// MaxConsecutiveFailures batch failures in a row caused by the sink or the
	// transport terminate a lane.
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
	// MaxRowErrorsPerUnit fails a unit with more malformed rows than this. 0 disables.
	MaxRowErrorsPerUnit int `mapstructure:"max_row_errors_per_unit"`
	// MaxLoggedRowErrors malformed rows are logged per unit, the rest only counted.
	MaxLoggedRowErrors int `mapstructure:"max_logged_row_errors"`
	// RowErrorLogRate limits malformed row logging across all lanes, per second. 0 disables.
	RowErrorLogRate float64 `mapstructure:"row_error_log_rate"`
	// StopOnLaneFailure stops every lane once one lane fails.
	StopOnLaneFailure bool `mapstructure:"stop_on_lane_failure"`
	// ProgressEvery logs progress every n finished units. 0 disables.
	ProgressEvery int `mapstructure:"progress_every"`
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		Workers:                16,
		BatchSize:              50,
		MinBatchSize:           1,
		MaxBatchSize:           500,
		MaxBatchDuration:       5 * time.Minute,
		Adaptive:               true,
		HighWatermark:          25000,
		LowWatermark:           5000,
		GrowthFactor:           1.2,
		ShrinkFactor:           0.8,
		ThroughputWindow:       20,
		RetryPolicy:            RetryIndividually,
		MaxConsecutiveFailures: 3,
		MaxLoggedRowErrors:     5,
		RowErrorLogRate:        20,
		ProgressEvery:          50,
	}
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return errors.Errorf("workers must be >= 1, got %d", c.Workers)
	case c.MinBatchSize < 1:
		return errors.Errorf("min batch size must be >= 1, got %d", c.MinBatchSize)
	case c.MaxBatchSize < c.MinBatchSize:
		return errors.Errorf("max batch size %d is less than min batch size %d", c.MaxBatchSize, c.MinBatchSize)
	case c.BatchSize < c.MinBatchSize || c.BatchSize > c.MaxBatchSize:
		return errors.Errorf("batch size %d is outside [%d, %d]", c.BatchSize, c.MinBatchSize, c.MaxBatchSize)
	case c.MaxBatchDuration < 0:
		return errors.New("max batch duration must not be negative")
	case c.MaxBatchRows < 0:
		return errors.New("max batch rows must not be negative")
	case c.MaxConsecutiveFailures < 1:
		return errors.Errorf("max consecutive failures must be >= 1, got %d", c.MaxConsecutiveFailures)
	case c.MaxRowErrorsPerUnit < 0, c.MaxLoggedRowErrors < 0, c.ProgressEvery < 0, c.RowErrorLogRate < 0:
		return errors.New("row error limits and progress interval must not be negative")
	}
	if _, err := ParseRetryPolicy(string(c.RetryPolicy)); err != nil {
		return err
	}
	if !c.Adaptive {
		return nil
	}
	switch {
	case c.GrowthFactor < 1:
		return errors.Errorf("growth factor must be >= 1, got %v", c.GrowthFactor)
	case c.ShrinkFactor <= 0 || c.ShrinkFactor > 1:
		return errors.Errorf("shrink factor must be in (0, 1], got %v", c.ShrinkFactor)
	case c.LowWatermark < 0 || c.HighWatermark <= c.LowWatermark:
		return errors.Errorf("watermarks must satisfy 0 <= low < high, got low=%v high=%v", c.LowWatermark, c.HighWatermark)
	case c.ThroughputWindow < 1:
		return errors.Errorf("throughput window must be >= 1, got %d", c.ThroughputWindow)
	}
	return nil
}
