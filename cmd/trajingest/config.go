package main

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/chararch/trajingest"
	"github.com/chararch/trajingest/record"
)

const envPrefix = "TRAJINGEST"

// Settings is everything the CLI reads from file, environment and flags.
type Settings struct {
	Name        string             `mapstructure:"name"`
	LogLevel    string             `mapstructure:"log_level"`
	MetricsAddr string             `mapstructure:"metrics_addr"`
	Source      SourceSettings     `mapstructure:"source"`
	Layout      LayoutSettings     `mapstructure:"layout"`
	Sink        SinkSettings       `mapstructure:"sink"`
	Checkpoint  CheckpointSettings `mapstructure:"checkpoint"`
	Pipeline    trajingest.Config  `mapstructure:"pipeline"`
}

// SourceSettings locates the input files.
type SourceSettings struct {
	// Location is a local directory, user@host:/dir or an sftp://, ftp:// or file:// URL.
	Location    string        `mapstructure:"location"`
	Suffix      string        `mapstructure:"suffix"`
	Pattern     string        `mapstructure:"pattern"`
	Password    string        `mapstructure:"password"`
	KeyFile     string        `mapstructure:"key_file"`
	KnownHosts  string        `mapstructure:"known_hosts"`
	Insecure    bool          `mapstructure:"insecure"`
	ConnTimeout time.Duration `mapstructure:"conn_timeout"`
	AvgRowBytes int64         `mapstructure:"avg_row_bytes"`
}

// LayoutSettings describes the delimited row format.
type LayoutSettings struct {
	Delimiter   string `mapstructure:"delimiter"`
	IDColumn    int    `mapstructure:"id_column"`
	GeomColumn  int    `mapstructure:"geometry_column"`
	TimeColumn  int    `mapstructure:"time_column"`
	GroupColumn int    `mapstructure:"group_column"`
	TimeLayout  string `mapstructure:"time_layout"`
	TimeZone    string `mapstructure:"time_zone"`
	SRID        int    `mapstructure:"srid"`
	GenerateIDs bool   `mapstructure:"generate_ids"`
}

// SinkSettings selects and configures the target database.
type SinkSettings struct {
	Driver         string   `mapstructure:"driver"`
	DSN            string   `mapstructure:"dsn"`
	Schema         string   `mapstructure:"schema"`
	Table          string   `mapstructure:"table"`
	Columns        []string `mapstructure:"columns"`
	LockTable      string   `mapstructure:"lock_table"`
	PartitionQuery string   `mapstructure:"partition_query"`
}

// CheckpointSettings selects where progress is kept.
type CheckpointSettings struct {
	// Backend is one of file, bolt, mysql or none.
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	// InitSchema creates the mysql checkpoint tables when missing.
	InitSchema bool `mapstructure:"init_schema"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "trajectory")
	v.SetDefault("log_level", "info")

	// keys without a default or a flag are invisible to environment lookups
	v.SetDefault("metrics_addr", "")
	v.SetDefault("source.location", "")
	v.SetDefault("source.password", "")
	v.SetDefault("source.key_file", "")
	v.SetDefault("source.known_hosts", "")
	v.SetDefault("source.insecure", false)
	v.SetDefault("source.pattern", "")
	v.SetDefault("source.avg_row_bytes", 0)
	v.SetDefault("source.suffix", ".tbl")
	v.SetDefault("source.conn_timeout", 30*time.Second)
	v.SetDefault("layout.generate_ids", false)
	v.SetDefault("sink.dsn", "")
	v.SetDefault("sink.schema", "")
	v.SetDefault("sink.columns", []string{})
	v.SetDefault("sink.lock_table", "")
	v.SetDefault("sink.partition_query", "")
	v.SetDefault("checkpoint.dsn", "")
	v.SetDefault("checkpoint.init_schema", false)

	layout := record.DefaultLayout()
	v.SetDefault("layout.delimiter", layout.Delimiter)
	v.SetDefault("layout.id_column", layout.IDColumn)
	v.SetDefault("layout.geometry_column", layout.GeometryColumn)
	v.SetDefault("layout.time_column", layout.TimeColumn)
	v.SetDefault("layout.group_column", layout.GroupColumn)
	v.SetDefault("layout.time_layout", layout.TimeLayout)
	v.SetDefault("layout.time_zone", record.DefaultTimeZone)
	v.SetDefault("layout.srid", layout.DefaultSRID)

	v.SetDefault("sink.driver", "postgres")
	v.SetDefault("sink.table", "trajectory")

	v.SetDefault("checkpoint.backend", "file")
	v.SetDefault("checkpoint.dir", ".trajingest")
	v.SetDefault("checkpoint.path", ".trajingest/checkpoint.db")

	cfg := trajingest.DefaultConfig()
	v.SetDefault("pipeline.workers", cfg.Workers)
	v.SetDefault("pipeline.batch_size", cfg.BatchSize)
	v.SetDefault("pipeline.min_batch_size", cfg.MinBatchSize)
	v.SetDefault("pipeline.max_batch_size", cfg.MaxBatchSize)
	v.SetDefault("pipeline.max_batch_duration", cfg.MaxBatchDuration)
	v.SetDefault("pipeline.max_batch_rows", cfg.MaxBatchRows)
	v.SetDefault("pipeline.adaptive", cfg.Adaptive)
	v.SetDefault("pipeline.high_watermark", cfg.HighWatermark)
	v.SetDefault("pipeline.low_watermark", cfg.LowWatermark)
	v.SetDefault("pipeline.growth_factor", cfg.GrowthFactor)
	v.SetDefault("pipeline.shrink_factor", cfg.ShrinkFactor)
	v.SetDefault("pipeline.throughput_window", cfg.ThroughputWindow)
	v.SetDefault("pipeline.retry_policy", string(cfg.RetryPolicy))
	v.SetDefault("pipeline.skip_failed_on_resume", cfg.SkipFailedOnResume)
	v.SetDefault("pipeline.max_consecutive_failures", cfg.MaxConsecutiveFailures)
	v.SetDefault("pipeline.max_row_errors_per_unit", cfg.MaxRowErrorsPerUnit)
	v.SetDefault("pipeline.max_logged_row_errors", cfg.MaxLoggedRowErrors)
	v.SetDefault("pipeline.row_error_log_rate", cfg.RowErrorLogRate)
	v.SetDefault("pipeline.stop_on_lane_failure", cfg.StopOnLaneFailure)
	v.SetDefault("pipeline.progress_every", cfg.ProgressEvery)
}

// flagKeys maps command line flags to their config keys.
var flagKeys = map[string]string{
	"name":                  "name",
	"log-level":             "log_level",
	"metrics-addr":          "metrics_addr",
	"source":                "source.location",
	"suffix":                "source.suffix",
	"pattern":               "source.pattern",
	"key-file":              "source.key_file",
	"known-hosts":           "source.known_hosts",
	"insecure":              "source.insecure",
	"sink":                  "sink.driver",
	"dsn":                   "sink.dsn",
	"table":                 "sink.table",
	"lock-table":            "sink.lock_table",
	"checkpoint":            "checkpoint.backend",
	"checkpoint-dir":        "checkpoint.dir",
	"checkpoint-path":       "checkpoint.path",
	"checkpoint-dsn":        "checkpoint.dsn",
	"workers":               "pipeline.workers",
	"batch-size":            "pipeline.batch_size",
	"adaptive":              "pipeline.adaptive",
	"retry-policy":          "pipeline.retry_policy",
	"skip-failed-on-resume": "pipeline.skip_failed_on_resume",
	"stop-on-lane-failure":  "pipeline.stop_on_lane_failure",
}

// LoadSettings reads the config file (optional), TRAJINGEST_ environment
// variables and the flags that were set, in increasing precedence.
func LoadSettings(configPath string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("trajingest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/trajingest")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "bind flag %s", name)
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	policy, err := trajingest.ParseRetryPolicy(string(s.Pipeline.RetryPolicy))
	if err != nil {
		return nil, err
	}
	s.Pipeline.RetryPolicy = policy
	if err := s.Pipeline.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline config")
	}
	return &s, nil
}

// RecordLayout converts the layout settings.
func (s LayoutSettings) RecordLayout() (record.Layout, error) {
	layout := record.Layout{
		Delimiter:      s.Delimiter,
		IDColumn:       s.IDColumn,
		GeometryColumn: s.GeomColumn,
		TimeColumn:     s.TimeColumn,
		GroupColumn:    s.GroupColumn,
		TimeLayout:     s.TimeLayout,
		DefaultSRID:    s.SRID,
		GenerateIDs:    s.GenerateIDs,
	}
	if s.TimeZone != "" {
		loc, err := time.LoadLocation(s.TimeZone)
		if err != nil {
			return layout, errors.Wrapf(err, "unknown time zone %q", s.TimeZone)
		}
		layout.Location = loc
	}
	return layout, nil
}
