// Package config handles kfilter configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--a, --q, --log-level, etc.)
//  2. Environment variables (KFILTER_*)
//  3. Config file (kfilter.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	kf := filter.NewScalarFromConfig(cfg.Model.Filter)
//
// Environment Variables (all use KFILTER_ prefix):
//
// Model:
//   - KFILTER_PRESET="default", "constant" or "smoothing"
//   - KFILTER_A=1.0 (state transition)
//   - KFILTER_H=1.0 (observation coefficient)
//   - KFILTER_Q=0.001 (process noise variance)
//   - KFILTER_R=1.0 (measurement noise variance)
//   - KFILTER_X0=0.0 (initial state)
//   - KFILTER_P0=1.0 (initial covariance)
//
// Input / Output:
//   - KFILTER_INPUT="-" (file path, "-" for stdin)
//   - KFILTER_INPUT_FORMAT="auto", "text", "csv" or "json"
//   - KFILTER_OUTPUT="-"
//   - KFILTER_OUTPUT_FORMAT="text", "json" or "table"
//   - KFILTER_RESIDUAL_SIGMA=3.0 (0 disables residual warnings)
//
// Logging:
//   - KFILTER_LOG_LEVEL="INFO"
//   - KFILTER_LOG_FORMAT="text" or "json"
//   - KFILTER_LOG_OUTPUT="stderr", "stdout" or a file path
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/scalarkalman/pkg/filter"
)

// Config holds all kfilter configuration.
//
// Configuration is organized into logical sections:
//   - Model: filter coefficients and initial conditions
//   - Input: where observations come from and how they are encoded
//   - Output: where estimates go and how they are rendered
//   - Monitor: residual monitoring
//   - Logging: logging configuration
type Config struct {
	Model   ModelConfig
	Input   InputConfig
	Output  OutputConfig
	Monitor MonitorConfig
	Logging LoggingConfig
}

// ModelConfig holds the filter model.
type ModelConfig struct {
	// Preset the coefficients started from (default, constant, smoothing)
	// Env: KFILTER_PRESET
	Preset string
	// Filter is the resolved model passed to filter.NewScalarFromConfig
	Filter filter.Config
}

// InputConfig describes the observation source.
type InputConfig struct {
	// Path to read observations from ("-" = stdin)
	Path string
	// Format (auto, text, csv, json)
	Format string
	// Column for CSV input (0-based)
	Column int
	// JSONPath selects the value of each element of a JSON array of objects
	JSONPath string
}

// OutputConfig describes where estimates are written.
type OutputConfig struct {
	// Path to write to ("-" = stdout)
	Path string
	// Format (text, json, table)
	Format string
}

// MonitorConfig holds residual monitoring settings.
type MonitorConfig struct {
	// ResidualSigma warns when |y| > ResidualSigma*sqrt(S). 0 disables.
	ResidualSigma float64
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string
	// Format (json, text)
	Format string
	// Output (stdout, stderr, or file path)
	Output string
	// MaxSizeMB before a log file is rotated
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep
	MaxBackups int
	// MaxAgeDays to keep rotated files
	MaxAgeDays int
	// Compress rotated files
	Compress bool
}

// Presets maps preset names to filter configs.
var Presets = map[string]func() filter.Config{
	"default":   filter.DefaultConfig,
	"constant":  filter.ConstantConfig,
	"smoothing": filter.SmoothingConfig,
}

// PresetNames returns the preset names in a stable order.
func PresetNames() []string {
	return []string{"default", "constant", "smoothing"}
}

// LoadDefaults returns a Config with built-in defaults only.
func LoadDefaults() *Config {
	return &Config{
		Model: ModelConfig{
			Preset: "default",
			Filter: filter.DefaultConfig(),
		},
		Input: InputConfig{
			Path:   "-",
			Format: "auto",
		},
		Output: OutputConfig{
			Path:   "-",
			Format: "text",
		},
		Monitor: MonitorConfig{
			ResidualSigma: 3.0,
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadFromEnv returns defaults overridden by KFILTER_* environment variables.
func LoadFromEnv() *Config {
	config := LoadDefaults()
	applyEnv(config)
	return config
}

// applyEnv overrides config with any KFILTER_* variables that are set.
func applyEnv(config *Config) {
	if v := os.Getenv("KFILTER_PRESET"); v != "" {
		if preset, ok := Presets[strings.ToLower(v)]; ok {
			config.Model.Preset = strings.ToLower(v)
			config.Model.Filter = preset()
		}
	}

	m := &config.Model.Filter
	m.Transition = getEnvFloat("KFILTER_A", m.Transition)
	m.Observation = getEnvFloat("KFILTER_H", m.Observation)
	m.ProcessNoise = getEnvFloat("KFILTER_Q", m.ProcessNoise)
	m.MeasurementNoise = getEnvFloat("KFILTER_R", m.MeasurementNoise)
	m.InitialState = getEnvFloat("KFILTER_X0", m.InitialState)
	m.InitialCovariance = getEnvFloat("KFILTER_P0", m.InitialCovariance)

	config.Input.Path = getEnv("KFILTER_INPUT", config.Input.Path)
	config.Input.Format = getEnv("KFILTER_INPUT_FORMAT", config.Input.Format)
	config.Input.Column = getEnvInt("KFILTER_INPUT_COLUMN", config.Input.Column)
	config.Input.JSONPath = getEnv("KFILTER_INPUT_JSON_PATH", config.Input.JSONPath)
	config.Output.Path = getEnv("KFILTER_OUTPUT", config.Output.Path)
	config.Output.Format = getEnv("KFILTER_OUTPUT_FORMAT", config.Output.Format)
	config.Monitor.ResidualSigma = getEnvFloat("KFILTER_RESIDUAL_SIGMA", config.Monitor.ResidualSigma)

	config.Logging.Level = getEnv("KFILTER_LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("KFILTER_LOG_FORMAT", config.Logging.Format)
	config.Logging.Output = getEnv("KFILTER_LOG_OUTPUT", config.Logging.Output)
	config.Logging.MaxSizeMB = getEnvInt("KFILTER_LOG_MAX_SIZE_MB", config.Logging.MaxSizeMB)
	config.Logging.MaxBackups = getEnvInt("KFILTER_LOG_MAX_BACKUPS", config.Logging.MaxBackups)
	config.Logging.MaxAgeDays = getEnvInt("KFILTER_LOG_MAX_AGE_DAYS", config.Logging.MaxAgeDays)
	config.Logging.Compress = getEnvBool("KFILTER_LOG_COMPRESS", config.Logging.Compress)
}

// Validate checks formats, levels and that model coefficients are finite.
//
// The sign of Q and R is not checked; a negative noise variance is a model
// error the filter will happily run with.
func (c *Config) Validate() error {
	if _, ok := Presets[c.Model.Preset]; !ok && c.Model.Preset != "" {
		return fmt.Errorf("unknown preset %q (want one of %s)", c.Model.Preset, strings.Join(PresetNames(), ", "))
	}

	m := c.Model.Filter
	for name, v := range map[string]float64{
		"A":  m.Transition,
		"H":  m.Observation,
		"Q":  m.ProcessNoise,
		"R":  m.MeasurementNoise,
		"x0": m.InitialState,
		"P0": m.InitialCovariance,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("model coefficient %s must be finite, got %v", name, v)
		}
	}

	switch strings.ToLower(c.Input.Format) {
	case "auto", "text", "csv", "json":
	default:
		return fmt.Errorf("invalid input format: %q", c.Input.Format)
	}
	if c.Input.Column < 0 {
		return fmt.Errorf("invalid input column: %d", c.Input.Column)
	}

	switch strings.ToLower(c.Output.Format) {
	case "text", "json", "table":
	default:
		return fmt.Errorf("invalid output format: %q", c.Output.Format)
	}

	if c.Monitor.ResidualSigma < 0 {
		return fmt.Errorf("residual sigma must be >= 0, got %v", c.Monitor.ResidualSigma)
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	return nil
}

// String returns a representation suitable for logging and debugging.
func (c *Config) String() string {
	m := c.Model.Filter
	return fmt.Sprintf(
		"Config{Preset: %s, A: %g, H: %g, Q: %g, R: %g, x0: %g, P0: %g, Input: %s(%s), Output: %s(%s)}",
		c.Model.Preset,
		m.Transition, m.Observation, m.ProcessNoise, m.MeasurementNoise,
		m.InitialState, m.InitialCovariance,
		c.Input.Path, c.Input.Format,
		c.Output.Path, c.Output.Format,
	)
}

// YAMLConfig represents the YAML configuration file structure.
//
// Model values are pointers so that an explicit 0 in the file (a common
// choice for Q or x0) overrides the preset.
type YAMLConfig struct {
	Model struct {
		Preset            string   `yaml:"preset"`
		Transition        *float64 `yaml:"a"`
		Observation       *float64 `yaml:"h"`
		ProcessNoise      *float64 `yaml:"q"`
		MeasurementNoise  *float64 `yaml:"r"`
		InitialState      *float64 `yaml:"x0"`
		InitialCovariance *float64 `yaml:"p0"`
	} `yaml:"model"`

	Input struct {
		Path     string `yaml:"path"`
		Format   string `yaml:"format"`
		Column   *int   `yaml:"column"`
		JSONPath string `yaml:"json_path"`
	} `yaml:"input"`

	Output struct {
		Path   string `yaml:"path"`
		Format string `yaml:"format"`
	} `yaml:"output"`

	Monitor struct {
		ResidualSigma *float64 `yaml:"residual_sigma"`
	} `yaml:"monitor"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		Output     string `yaml:"output"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// LoadFromFile loads defaults, then the YAML file at configPath, then
// environment variables. A missing file (or an empty path) is not an error.
func LoadFromFile(configPath string) (*Config, error) {
	// Step 1: Start with built-in defaults
	config := LoadDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := applyYAML(config, data); err != nil {
				return nil, err
			}
		case os.IsNotExist(err):
			// Defaults + env only
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Step 3: Environment overrides file
	applyEnv(config)

	return config, nil
}

// applyYAML overlays a YAML document onto config.
func applyYAML(config *Config, data []byte) error {
	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// === Model ===
	if p := strings.ToLower(yamlCfg.Model.Preset); p != "" {
		preset, ok := Presets[p]
		if !ok {
			return fmt.Errorf("unknown preset %q in config file", yamlCfg.Model.Preset)
		}
		config.Model.Preset = p
		config.Model.Filter = preset()
	}
	m := &config.Model.Filter
	setFloat(&m.Transition, yamlCfg.Model.Transition)
	setFloat(&m.Observation, yamlCfg.Model.Observation)
	setFloat(&m.ProcessNoise, yamlCfg.Model.ProcessNoise)
	setFloat(&m.MeasurementNoise, yamlCfg.Model.MeasurementNoise)
	setFloat(&m.InitialState, yamlCfg.Model.InitialState)
	setFloat(&m.InitialCovariance, yamlCfg.Model.InitialCovariance)

	// === Input / Output ===
	if yamlCfg.Input.Path != "" {
		config.Input.Path = yamlCfg.Input.Path
	}
	if yamlCfg.Input.Format != "" {
		config.Input.Format = yamlCfg.Input.Format
	}
	if yamlCfg.Input.Column != nil {
		config.Input.Column = *yamlCfg.Input.Column
	}
	if yamlCfg.Input.JSONPath != "" {
		config.Input.JSONPath = yamlCfg.Input.JSONPath
	}
	if yamlCfg.Output.Path != "" {
		config.Output.Path = yamlCfg.Output.Path
	}
	if yamlCfg.Output.Format != "" {
		config.Output.Format = yamlCfg.Output.Format
	}
	setFloat(&config.Monitor.ResidualSigma, yamlCfg.Monitor.ResidualSigma)

	// === Logging ===
	if yamlCfg.Logging.Level != "" {
		config.Logging.Level = yamlCfg.Logging.Level
	}
	if yamlCfg.Logging.Format != "" {
		config.Logging.Format = yamlCfg.Logging.Format
	}
	if yamlCfg.Logging.Output != "" {
		config.Logging.Output = yamlCfg.Logging.Output
	}
	if yamlCfg.Logging.MaxSizeMB > 0 {
		config.Logging.MaxSizeMB = yamlCfg.Logging.MaxSizeMB
	}
	if yamlCfg.Logging.MaxBackups > 0 {
		config.Logging.MaxBackups = yamlCfg.Logging.MaxBackups
	}
	if yamlCfg.Logging.MaxAgeDays > 0 {
		config.Logging.MaxAgeDays = yamlCfg.Logging.MaxAgeDays
	}
	if yamlCfg.Logging.Compress {
		config.Logging.Compress = true
	}

	return nil
}

// ToYAML renders config in the same layout LoadFromFile reads.
func (c *Config) ToYAML() ([]byte, error) {
	var out YAMLConfig
	m := c.Model.Filter
	out.Model.Preset = c.Model.Preset
	out.Model.Transition = &m.Transition
	out.Model.Observation = &m.Observation
	out.Model.ProcessNoise = &m.ProcessNoise
	out.Model.MeasurementNoise = &m.MeasurementNoise
	out.Model.InitialState = &m.InitialState
	out.Model.InitialCovariance = &m.InitialCovariance

	out.Input.Path = c.Input.Path
	out.Input.Format = c.Input.Format
	column := c.Input.Column
	out.Input.Column = &column
	out.Input.JSONPath = c.Input.JSONPath
	out.Output.Path = c.Output.Path
	out.Output.Format = c.Output.Format
	sigma := c.Monitor.ResidualSigma
	out.Monitor.ResidualSigma = &sigma

	out.Logging.Level = c.Logging.Level
	out.Logging.Format = c.Logging.Format
	out.Logging.Output = c.Logging.Output
	out.Logging.MaxSizeMB = c.Logging.MaxSizeMB
	out.Logging.MaxBackups = c.Logging.MaxBackups
	out.Logging.MaxAgeDays = c.Logging.MaxAgeDays
	out.Logging.Compress = c.Logging.Compress

	return yaml.Marshal(&out)
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.kfilter/config.yaml
//  2. Current working directory (kfilter.yaml)
//  3. ~/.config/kfilter/config.yaml (XDG)
func FindConfigFile() string {
	var candidates []string

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".kfilter", "config.yaml"))
	}

	candidates = append(candidates, "kfilter.yaml")

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "kfilter", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}
