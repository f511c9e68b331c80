// Package config provides configuration loading and validation for monodeps.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
)

// Sentinel validation errors.
var (
	ErrSchema             = errors.New("configuration does not match schema")
	ErrInvalidMaxFileSize = errors.New("invalid max file size")
)

// EnvPrefix prefixes environment variables overriding config keys.
const EnvPrefix = "MONODEPS"

// maxFileSizeCeiling bounds analysis.max_file_size at 1 TiB.
const maxFileSizeCeiling = 1 << 40

//go:embed schema.json
var schemaJSON []byte

// Config holds all configuration for a monodeps run.
type Config struct {
	Output   OutputConfig   `json:"output"   mapstructure:"output"`
	Search   SearchConfig   `json:"search"   mapstructure:"search"`
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis"`
	Python   PythonConfig   `json:"python"   mapstructure:"python"`
	Registry RegistryConfig `json:"registry" mapstructure:"registry"`
	Logging  LoggingConfig  `json:"logging"  mapstructure:"logging"`
}

// OutputConfig selects where and how results are written.
type OutputConfig struct {
	Path   string `json:"path"   mapstructure:"path"`
	Format string `json:"format" mapstructure:"format"`
}

// SearchConfig controls the module search path.
type SearchConfig struct {
	Paths       []string `json:"paths"        mapstructure:"paths"`
	EnvVars     []string `json:"env_vars"     mapstructure:"env_vars"`
	IgnorePaths []string `json:"ignore_paths" mapstructure:"ignore_paths"`
}

// AnalysisConfig controls the traversal.
type AnalysisConfig struct {
	// Workers is the parser pool size; zero means one per CPU.
	Workers            int    `json:"workers"              mapstructure:"workers"`
	MaxFileSize        string `json:"max_file_size"        mapstructure:"max_file_size"`
	ScanParentPackages bool   `json:"scan_parent_packages" mapstructure:"scan_parent_packages"`
}

// PythonConfig describes the Python installation used for classification
// and version lookup.
type PythonConfig struct {
	// Detect asks Interpreter for its stdlib and site-packages directories
	// when StdlibDir or SitePackages are unset.
	Detect        bool     `json:"detect"         mapstructure:"detect"`
	Interpreter   string   `json:"interpreter"    mapstructure:"interpreter"`
	StdlibDir     string   `json:"stdlib_dir"     mapstructure:"stdlib_dir"`
	SitePackages  []string `json:"site_packages"  mapstructure:"site_packages"`
	UseVirtualenv bool     `json:"use_virtualenv" mapstructure:"use_virtualenv"`
}

// RegistryConfig tunes installed-version lookups.
type RegistryConfig struct {
	CacheSize   int `json:"cache_size"  mapstructure:"cache_size"`
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `json:"level"  mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// MaxFileSizeBytes parses Analysis.MaxFileSize.
func (c *Config) MaxFileSizeBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.Analysis.MaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidMaxFileSize, c.Analysis.MaxFileSize, err)
	}

	if n == 0 || n > maxFileSizeCeiling {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMaxFileSize, c.Analysis.MaxFileSize)
	}

	return int64(n), nil
}

// LoadConfig loads configuration from defaults, an optional config file and
// MONODEPS_* environment variables. With an empty path, monodeps.yaml is
// searched for in the working directory, ./config and ~/.config/monodeps.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("monodeps")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("$HOME/.config/monodeps")
	}

	viperCfg.SetEnvPrefix(EnvPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	return decode(viperCfg)
}

// Default returns the configuration built from defaults and environment
// variables only.
func Default() (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)
	viperCfg.SetEnvPrefix(EnvPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return decode(viperCfg)
}

func decode(viperCfg *viper.Viper) (*Config, error) {
	var config Config

	unmarshalErr := viperCfg.UnmarshalExact(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := Validate(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("output.path", DefaultOutputPath)
	viperCfg.SetDefault("output.format", DefaultOutputFormat)

	viperCfg.SetDefault("search.paths", []string{})
	viperCfg.SetDefault("search.env_vars", DefaultSearchEnvVars)
	viperCfg.SetDefault("search.ignore_paths", []string{})

	viperCfg.SetDefault("analysis.workers", DefaultAnalysisWorkers)
	viperCfg.SetDefault("analysis.max_file_size", DefaultAnalysisMaxFileSize)
	viperCfg.SetDefault("analysis.scan_parent_packages", DefaultAnalysisScanParentPackages)

	viperCfg.SetDefault("python.detect", DefaultPythonDetect)
	viperCfg.SetDefault("python.interpreter", DefaultPythonInterpreter)
	viperCfg.SetDefault("python.stdlib_dir", "")
	viperCfg.SetDefault("python.site_packages", []string{})
	viperCfg.SetDefault("python.use_virtualenv", DefaultPythonUseVirtualenv)

	viperCfg.SetDefault("registry.cache_size", DefaultRegistryCacheSize)
	viperCfg.SetDefault("registry.concurrency", DefaultRegistryConcurrency)

	viperCfg.SetDefault("logging.level", DefaultLoggingLevel)
	viperCfg.SetDefault("logging.format", DefaultLoggingFormat)
}

// Validate checks the configuration against the embedded JSON schema and
// the semantic rules the schema cannot express.
func Validate(config *Config) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			details = append(details, verr.Field()+": "+verr.Description())
		}

		return fmt.Errorf("%w: %s", ErrSchema, strings.Join(details, "; "))
	}

	if _, err := config.MaxFileSizeBytes(); err != nil {
		return err
	}

	return nil
}
