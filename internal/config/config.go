package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CurrentVersion is the config schema version written by Save
const CurrentVersion = 1

// EnvPrefix prefixes every environment override, e.g. LIBRARIAN_CALIBRATION_MINSAMPLES
const EnvPrefix = "LIBRARIAN"

// Config represents the complete ledger configuration
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Storage       StorageConfig       `json:"storage" mapstructure:"storage"`
	Calibration   CalibrationConfig   `json:"calibration" mapstructure:"calibration"`
	Contradiction ContradictionConfig `json:"contradiction" mapstructure:"contradiction"`
	Verification  VerificationConfig  `json:"verification" mapstructure:"verification"`
	Outcomes      OutcomesConfig      `json:"outcomes" mapstructure:"outcomes"`
	Cache         CacheConfig         `json:"cache" mapstructure:"cache"`
	Metrics       MetricsConfig       `json:"metrics" mapstructure:"metrics"`
	Logging       LoggingConfig       `json:"logging" mapstructure:"logging"`
}

// StorageConfig controls the database and the StorageFault retry policy
type StorageConfig struct {
	RetryMaxTries          int `json:"retryMaxTries" mapstructure:"retryMaxTries"`
	RetryInitialMs         int `json:"retryInitialMs" mapstructure:"retryInitialMs"`
	RetryMaxMs             int `json:"retryMaxMs" mapstructure:"retryMaxMs"`
	BusyTimeoutMs          int `json:"busyTimeoutMs" mapstructure:"busyTimeoutMs"`
	CompressThresholdBytes int `json:"compressThresholdBytes" mapstructure:"compressThresholdBytes"`
}

// CalibrationConfig controls bucketing and the confidence boundary
type CalibrationConfig struct {
	Enabled                  bool    `json:"enabled" mapstructure:"enabled"`
	MinSamples               int     `json:"minSamples" mapstructure:"minSamples"`
	BucketCount              int     `json:"bucketCount" mapstructure:"bucketCount"`
	Partition                string  `json:"partition" mapstructure:"partition"` // fixed, adaptive
	ZScore                   float64 `json:"zScore" mapstructure:"zScore"`
	RecomputeIntervalSeconds int     `json:"recomputeIntervalSeconds" mapstructure:"recomputeIntervalSeconds"`
	// RecomputeSchedule overrides the interval, e.g. "daily at 03:00" or "every 15m"
	RecomputeSchedule string `json:"recomputeSchedule" mapstructure:"recomputeSchedule"`
}

// ContradictionConfig controls contradiction flagging
type ContradictionConfig struct {
	WindowHours int `json:"windowHours" mapstructure:"windowHours"`
}

// VerificationConfig controls the layered verification pipeline
type VerificationConfig struct {
	FalseStatementsPath      string  `json:"falseStatementsPath" mapstructure:"falseStatementsPath"`
	EntailmentThreshold      float64 `json:"entailmentThreshold" mapstructure:"entailmentThreshold"`
	AcceptEntailment         bool    `json:"acceptEntailment" mapstructure:"acceptEntailment"`
	EscalationTimeoutSeconds int     `json:"escalationTimeoutSeconds" mapstructure:"escalationTimeoutSeconds"`
	EscalationRatePerSecond  float64 `json:"escalationRatePerSecond" mapstructure:"escalationRatePerSecond"`
	EscalationBurst          int     `json:"escalationBurst" mapstructure:"escalationBurst"`
}

// OutcomesConfig controls the outcome collector queue
type OutcomesConfig struct {
	QueueSize int `json:"queueSize" mapstructure:"queueSize"`
	Workers   int `json:"workers" mapstructure:"workers"`
}

// CacheConfig controls the resident claim cache
type CacheConfig struct {
	ClaimTtlSeconds        int `json:"claimTtlSeconds" mapstructure:"claimTtlSeconds"`
	CleanupIntervalSeconds int `json:"cleanupIntervalSeconds" mapstructure:"cleanupIntervalSeconds"`
}

// MetricsConfig controls Prometheus collectors
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
	Stderr bool   `json:"stderr" mapstructure:"stderr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  CurrentVersion,
		RepoRoot: ".",
		Storage: StorageConfig{
			RetryMaxTries:          5,
			RetryInitialMs:         20,
			RetryMaxMs:             1000,
			BusyTimeoutMs:          5000,
			CompressThresholdBytes: 4096,
		},
		Calibration: CalibrationConfig{
			Enabled:                  true,
			MinSamples:               30,
			BucketCount:              10,
			Partition:                "fixed",
			ZScore:                   1.96,
			RecomputeIntervalSeconds: 300,
		},
		Contradiction: ContradictionConfig{
			WindowHours: 24 * 30,
		},
		Verification: VerificationConfig{
			EntailmentThreshold:      0.6,
			AcceptEntailment:         true,
			EscalationTimeoutSeconds: 600,
			EscalationRatePerSecond:  2,
			EscalationBurst:          4,
		},
		Outcomes: OutcomesConfig{
			QueueSize: 256,
			Workers:   2,
		},
		Cache: CacheConfig{
			ClaimTtlSeconds:        3600,
			CleanupIntervalSeconds: 600,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "librarian",
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// RecomputeInterval returns the background recalibration period
func (c CalibrationConfig) RecomputeInterval() time.Duration {
	return time.Duration(c.RecomputeIntervalSeconds) * time.Second
}

// RecomputeExpression returns the schedule expression for background
// recalibration, or "" when it is off.
func (c CalibrationConfig) RecomputeExpression() string {
	if c.RecomputeSchedule != "" {
		return c.RecomputeSchedule
	}
	if c.RecomputeIntervalSeconds > 0 {
		return fmt.Sprintf("every %ds", c.RecomputeIntervalSeconds)
	}
	return ""
}

// Window returns the contradiction recency window
func (c ContradictionConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// EscalationTimeout returns how long an escalation may stay pending
func (c VerificationConfig) EscalationTimeout() time.Duration {
	return time.Duration(c.EscalationTimeoutSeconds) * time.Second
}

// ClaimTTL returns how long a claim stays resident in memory
func (c CacheConfig) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTtlSeconds) * time.Second
}

// CleanupInterval returns the cache janitor period
func (c CacheConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// EnvOverride records one environment variable that changed a value
type EnvOverride struct {
	EnvVar    string `json:"envVar"`
	Path      string `json:"path"`
	FromValue string `json:"value"`
}

// LoadResult contains a loaded config plus where it came from
type LoadResult struct {
	Config       *Config       `json:"config"`
	ConfigPath   string        `json:"configPath,omitempty"`
	UsedDefaults bool          `json:"usedDefaults"`
	EnvOverrides []EnvOverride `json:"envOverrides,omitempty"`
}

// LoadConfig loads configuration from <dataDir>/config.json with env overrides
func LoadConfig(dataDir string) (*Config, error) {
	result, err := LoadConfigWithDetails(dataDir)
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadConfigWithDetails loads configuration and reports its provenance.
// A missing file yields defaults (still subject to env overrides).
func LoadConfigWithDetails(dataDir string) (*LoadResult, error) {
	v := viper.New()

	defaults, err := Flatten(DefaultConfig())
	if err != nil {
		return nil, err
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(dataDir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	result := &LoadResult{}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		result.UsedDefaults = true
	} else {
		result.ConfigPath = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	result.Config = &cfg
	result.EnvOverrides = detectEnvOverrides(defaults)

	return result, nil
}

// Save writes the configuration to <dataDir>/config.json
func (c *Config) Save(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported config version %d", c.Version)}
	}
	if c.Calibration.MinSamples < 1 {
		return &ConfigError{Field: "calibration.minSamples", Message: "must be at least 1"}
	}
	if c.Calibration.BucketCount < 1 {
		return &ConfigError{Field: "calibration.bucketCount", Message: "must be at least 1"}
	}
	switch c.Calibration.Partition {
	case "fixed", "adaptive":
	default:
		return &ConfigError{Field: "calibration.partition", Message: "must be 'fixed' or 'adaptive'"}
	}
	if c.Calibration.ZScore <= 0 {
		return &ConfigError{Field: "calibration.zScore", Message: "must be positive"}
	}
	if c.Verification.EntailmentThreshold < 0 || c.Verification.EntailmentThreshold > 1 {
		return &ConfigError{Field: "verification.entailmentThreshold", Message: "must be within [0,1]"}
	}
	if c.Outcomes.QueueSize < 1 || c.Outcomes.Workers < 1 {
		return &ConfigError{Field: "outcomes", Message: "queueSize and workers must be positive"}
	}
	if c.Storage.RetryMaxTries < 1 {
		return &ConfigError{Field: "storage.retryMaxTries", Message: "must be at least 1"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// Flatten turns the config into dotted keys so every key is known to viper
// AutomaticEnv and can be listed by config show.
func Flatten(cfg *Config) (map[string]interface{}, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	var walk func(prefix string, node map[string]interface{})
	walk = func(prefix string, node map[string]interface{}) {
		for k, v := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := v.(map[string]interface{}); ok {
				walk(key, child)
				continue
			}
			out[key] = v
		}
	}
	walk("", tree)
	return out, nil
}

func detectEnvOverrides(keys map[string]interface{}) []EnvOverride {
	var overrides []EnvOverride
	for key := range keys {
		envVar := EnvVarFor(key)
		if value, ok := os.LookupEnv(envVar); ok {
			overrides = append(overrides, EnvOverride{EnvVar: envVar, Path: key, FromValue: value})
		}
	}
	sort.Slice(overrides, func(i, j int) bool { return overrides[i].Path < overrides[j].Path })
	return overrides
}

// EnvVarFor returns the environment variable that overrides a dotted key
func EnvVarFor(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// SupportedEnvVars lists every override variable, sorted
func SupportedEnvVars() []string {
	keys, err := Flatten(DefaultConfig())
	if err != nil {
		return nil
	}
	vars := make([]string, 0, len(keys))
	for key := range keys {
		vars = append(vars, EnvVarFor(key))
	}
	sort.Strings(vars)
	return vars
}
