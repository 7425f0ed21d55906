// Package config handles loading and validation of evextract.yaml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/evextract/pkg/types"
)

// FileName is the default configuration file name.
const FileName = "evextract.yaml"

// Load reads and parses evextract.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile reads, overrides from the environment, and validates a config file.
func LoadFile(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML and fills defaults. It does not validate.
func Parse(data []byte) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *types.ProjectConfig) {
	if cfg.Batch.Prefix == "" {
		cfg.Batch.Prefix = types.DefaultSubjectPrefix
	}
	if len(cfg.Batch.Subjects) == 0 && cfg.Batch.RangeStart == 0 && cfg.Batch.RangeEnd == 0 {
		cfg.Batch.RangeStart = types.DefaultRangeStart
		cfg.Batch.RangeEnd = types.DefaultRangeEnd
	}
	if cfg.Batch.BreakerThreshold == nil {
		threshold := types.DefaultBreakerThreshold
		cfg.Batch.BreakerThreshold = &threshold
	}
	if cfg.Batch.OnFailure == "" {
		cfg.Batch.OnFailure = types.FailureSkip
	}
	if cfg.Batch.Parallelism <= 0 {
		cfg.Batch.Parallelism = 1
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "evextract"
	}
}

// ApplyEnv overrides credentials and paths from the environment. The
// standard AWS variables take precedence over the file.
func ApplyEnv(cfg *types.ProjectConfig) error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&cfg.AWS.Region, "AWS_REGION", "AWS_DEFAULT_REGION")
	setString(&cfg.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&cfg.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&cfg.AWS.SessionToken, "AWS_SESSION_TOKEN")
	setString(&cfg.Athena.Database, "EVEXTRACT_DATABASE")
	setString(&cfg.Athena.OutputBucket, "EVEXTRACT_OUTPUT_BUCKET")
	setString(&cfg.Reference.Path, "EVEXTRACT_REFERENCE")
	setString(&cfg.Output.Dir, "EVEXTRACT_OUTPUT_DIR")
	setString(&cfg.LogLevel, "EVEXTRACT_LOG_LEVEL")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	if v := os.Getenv("EVEXTRACT_PARALLELISM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EVEXTRACT_PARALLELISM: %w", err)
		}
		cfg.Batch.Parallelism = n
	}
	return nil
}

// Validate checks required fields and value ranges.
func Validate(cfg *types.ProjectConfig) error {
	if cfg.Athena.Table == "" {
		return fmt.Errorf("athena.table is required")
	}
	if cfg.Athena.OutputBucket == "" {
		return fmt.Errorf("athena.outputBucket is required")
	}
	if cfg.Reference.Path == "" {
		return fmt.Errorf("reference.path is required")
	}
	if cfg.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if len(cfg.Batch.Subjects) == 0 && cfg.Batch.RangeEnd <= cfg.Batch.RangeStart {
		return fmt.Errorf("batch.rangeEnd (%d) must be greater than batch.rangeStart (%d)", cfg.Batch.RangeEnd, cfg.Batch.RangeStart)
	}
	if !cfg.Batch.OnFailure.Valid() {
		return fmt.Errorf("batch.onFailure %q must be one of skip, halt, retry", cfg.Batch.OnFailure)
	}
	if cfg.Batch.Parallelism < 1 {
		return fmt.Errorf("batch.parallelism must be at least 1")
	}
	if cfg.Batch.Breaker() < 0 {
		return fmt.Errorf("batch.breakerThreshold must not be negative")
	}
	if (cfg.AWS.AccessKeyID == "") != (cfg.AWS.SecretAccessKey == "") {
		return fmt.Errorf("aws.accessKeyId and aws.secretAccessKey must be set together")
	}
	return nil
}
