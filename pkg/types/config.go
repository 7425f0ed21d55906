package types

// ProjectConfig is the top-level evextract.yaml configuration.
type ProjectConfig struct {
	AWS       AWSConfig       `yaml:"aws" json:"aws"`
	Athena    AthenaConfig    `yaml:"athena" json:"athena"`
	Reference ReferenceConfig `yaml:"reference" json:"reference"`
	Batch     BatchConfig     `yaml:"batch" json:"batch"`
	Output    OutputConfig    `yaml:"output" json:"output"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
	LogLevel  string          `yaml:"logLevel,omitempty" json:"logLevel,omitempty"`
}

// AWSConfig holds static credentials. Empty keys fall back to the default
// credential chain.
type AWSConfig struct {
	Region          string `yaml:"region" json:"region"`
	AccessKeyID     string `yaml:"accessKeyId,omitempty" json:"-"`
	SecretAccessKey string `yaml:"secretAccessKey,omitempty" json:"-"`
	SessionToken    string `yaml:"sessionToken,omitempty" json:"-"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// AthenaConfig describes where queries run and where results land.
type AthenaConfig struct {
	Database     string     `yaml:"database" json:"database"`
	Table        string     `yaml:"table" json:"table"`
	Workgroup    string     `yaml:"workgroup,omitempty" json:"workgroup,omitempty"`
	OutputBucket string     `yaml:"outputBucket" json:"outputBucket"`
	OutputFolder string     `yaml:"outputFolder" json:"outputFolder"`
	Columns      []string   `yaml:"columns,omitempty" json:"columns,omitempty"`
	DeleteResult bool       `yaml:"deleteResult,omitempty" json:"deleteResult,omitempty"`
	Preflight    bool       `yaml:"preflight,omitempty" json:"preflight,omitempty"` // check the table in the Glue catalog first
	Poll         PollConfig `yaml:"poll,omitempty" json:"poll,omitempty"`
}

// PollConfig controls status polling. Durations are Go duration strings;
// defaults are a fixed 10s interval, capped at 1m, with a 30m deadline.
type PollConfig struct {
	Interval    string  `yaml:"interval,omitempty" json:"interval,omitempty"`
	MaxInterval string  `yaml:"maxInterval,omitempty" json:"maxInterval,omitempty"`
	Multiplier  float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	MaxWait     string  `yaml:"maxWait,omitempty" json:"maxWait,omitempty"`
}

// ReferenceConfig locates the subject reference spreadsheet.
type ReferenceConfig struct {
	Path         string `yaml:"path" json:"path"`
	Sheet        string `yaml:"sheet,omitempty" json:"sheet,omitempty"`
	IDColumn     string `yaml:"idColumn,omitempty" json:"idColumn,omitempty"`
	BeginColumn  string `yaml:"beginColumn,omitempty" json:"beginColumn,omitempty"`
	EndColumn    string `yaml:"endColumn,omitempty" json:"endColumn,omitempty"`
	LeftColumn   string `yaml:"leftColumn,omitempty" json:"leftColumn,omitempty"`
	RightColumn  string `yaml:"rightColumn,omitempty" json:"rightColumn,omitempty"`
	PrefixLength int    `yaml:"prefixLength,omitempty" json:"prefixLength,omitempty"`
}

// Batch defaults: subjects U211 through U232 and a breaker that opens after
// five consecutive transient failures.
const (
	DefaultSubjectPrefix    = "U"
	DefaultRangeStart       = 211
	DefaultRangeEnd         = 233
	DefaultBreakerThreshold = 5
)

// BatchConfig selects subjects and decides failure handling.
// A nil BreakerThreshold means DefaultBreakerThreshold; zero disables the breaker.
type BatchConfig struct {
	Prefix           string        `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	RangeStart       int           `yaml:"rangeStart" json:"rangeStart"`
	RangeEnd         int           `yaml:"rangeEnd" json:"rangeEnd"` // exclusive
	Subjects         []string      `yaml:"subjects,omitempty" json:"subjects,omitempty"`
	OnFailure        FailurePolicy `yaml:"onFailure,omitempty" json:"onFailure,omitempty"`
	Retry            RetryPolicy   `yaml:"retry,omitempty" json:"retry,omitempty"`
	Parallelism      int           `yaml:"parallelism,omitempty" json:"parallelism,omitempty"`
	BreakerThreshold *int          `yaml:"breakerThreshold,omitempty" json:"breakerThreshold,omitempty"`
	SkipExisting     bool          `yaml:"skipExisting,omitempty" json:"skipExisting,omitempty"`
}

// Breaker returns the effective breaker threshold.
func (b BatchConfig) Breaker() int {
	if b.BreakerThreshold == nil {
		return DefaultBreakerThreshold
	}
	return *b.BreakerThreshold
}

// RetryPolicy configures per-subject retries of transient failures.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	BackoffSeconds    int     `yaml:"backoffSeconds,omitempty" json:"backoffSeconds,omitempty"`
	BackoffMultiplier float64 `yaml:"backoffMultiplier,omitempty" json:"backoffMultiplier,omitempty"`
}

// OutputConfig controls where subject files are written.
type OutputConfig struct {
	Dir         string `yaml:"dir" json:"dir"`
	S3Bucket    string `yaml:"s3Bucket,omitempty" json:"s3Bucket,omitempty"`
	S3Prefix    string `yaml:"s3Prefix,omitempty" json:"s3Prefix,omitempty"`
	IndexColumn bool   `yaml:"indexColumn,omitempty" json:"indexColumn,omitempty"`
	Manifest    bool   `yaml:"manifest,omitempty" json:"manifest,omitempty"`
}

// TelemetryConfig enables OTLP export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}
