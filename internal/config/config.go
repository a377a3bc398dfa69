// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override (DOUBLEX_ANALYSIS_APIS, ...).
const EnvPrefix = "DOUBLEX"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Analysis() AnalysisConfig
	Output() OutputConfig
	Batch() BatchConfig

	// Analysis Setters
	SetAnalysisChrome(bool)
	SetAnalysisAPIs(string)

	// Output Setters
	SetOutputFormat(string)

	// Batch Setters
	SetBatchConcurrency(int)
}

// Config holds the entire application configuration. Sections are reached
// through the Interface getters.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	AnalysisCfg AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	OutputCfg   OutputConfig   `mapstructure:"output" yaml:"output"`
	BatchCfg    BatchConfig    `mapstructure:"batch" yaml:"batch"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Analysis() AnalysisConfig { return c.AnalysisCfg }
func (c *Config) Output() OutputConfig     { return c.OutputCfg }
func (c *Config) Batch() BatchConfig       { return c.BatchCfg }

// -- Setters (CLI flag overrides) --
func (c *Config) SetAnalysisChrome(b bool)  { c.AnalysisCfg.Chrome = b }
func (c *Config) SetAnalysisAPIs(s string)  { c.AnalysisCfg.APIs = s }
func (c *Config) SetOutputFormat(f string)  { c.OutputCfg.Format = f }
func (c *Config) SetBatchConcurrency(n int) { c.BatchCfg.Concurrency = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL
// disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// AnalysisConfig tunes one extension analysis.
type AnalysisConfig struct {
	// Chrome selects the chrome.* API naming; false means browser.*.
	Chrome bool `mapstructure:"chrome" yaml:"chrome"`
	// APIs is "permissions", "all" or the path of a sink catalog file.
	APIs              string        `mapstructure:"apis" yaml:"apis"`
	LinkTimeout       time.Duration `mapstructure:"link_timeout" yaml:"link_timeout"`
	ProvenanceTimeout time.Duration `mapstructure:"provenance_timeout" yaml:"provenance_timeout"`
	BuildTimeout      time.Duration `mapstructure:"build_timeout" yaml:"build_timeout"`
	MaxDepth          int           `mapstructure:"max_depth" yaml:"max_depth"`
	FoldTimeout       time.Duration `mapstructure:"fold_timeout" yaml:"fold_timeout"`
}

// OutputConfig selects how results are rendered.
type OutputConfig struct {
	// Format is json, sarif or both.
	Format string `mapstructure:"format" yaml:"format"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// BatchConfig configures the batch runner.
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "doublex")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Analysis --
	v.SetDefault("analysis.chrome", true)
	v.SetDefault("analysis.apis", "permissions")
	v.SetDefault("analysis.link_timeout", "600s")
	v.SetDefault("analysis.provenance_timeout", "10s")
	v.SetDefault("analysis.build_timeout", "120s")
	v.SetDefault("analysis.max_depth", 2000)
	v.SetDefault("analysis.fold_timeout", "50ms")

	// -- Output --
	v.SetDefault("output.format", "json")
	v.SetDefault("output.pretty", true)

	// -- Batch --
	v.SetDefault("batch.concurrency", 4)
}

// NewViper returns a viper instance with defaults applied and DOUBLEX_*
// environment overrides bound.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Sensitive settings come from the environment only.
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in path-valued settings.
func (c *Config) expandPaths() error {
	var err error
	if c.LoggerCfg.LogFile, err = ExpandPath(c.LoggerCfg.LogFile); err != nil {
		return fmt.Errorf("logger.log_file: %w", err)
	}
	switch c.AnalysisCfg.APIs {
	case "permissions", "all":
	default:
		if c.AnalysisCfg.APIs, err = ExpandPath(c.AnalysisCfg.APIs); err != nil {
			return fmt.Errorf("analysis.apis: %w", err)
		}
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return p, nil
	}
	return homedir.Expand(p)
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AnalysisCfg.Validate(); err != nil {
		return fmt.Errorf("analysis configuration invalid: %w", err)
	}
	switch c.OutputCfg.Format {
	case "json", "sarif", "both":
	default:
		return fmt.Errorf("output.format must be one of json, sarif, both; got %q", c.OutputCfg.Format)
	}
	if c.BatchCfg.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be a positive integer")
	}
	return nil
}

// Validate checks the analysis settings.
func (a *AnalysisConfig) Validate() error {
	if a.APIs == "" {
		return fmt.Errorf("apis must be 'permissions', 'all' or a file path")
	}
	if a.LinkTimeout <= 0 || a.ProvenanceTimeout <= 0 || a.BuildTimeout <= 0 {
		return fmt.Errorf("link_timeout, provenance_timeout and build_timeout must be positive durations")
	}
	if a.MaxDepth <= 0 {
		return fmt.Errorf("max_depth must be greater than 0")
	}
	if a.FoldTimeout <= 0 {
		return fmt.Errorf("fold_timeout must be a positive duration")
	}
	return nil
}
