package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/pipeline-recipes/internal/metadata"
	"github.com/eugenenazirov/pipeline-recipes/internal/scaffold"
	"github.com/eugenenazirov/pipeline-recipes/internal/tfx"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "RECIPE_"

const (
	defaultTemplatesDir    = "templates"
	defaultDownloadTimeout = 5 * time.Minute
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	TemplatesDir      string        `env:"TEMPLATES_DIR"`
	TFXBinary         string        `env:"TFX_BINARY"`
	PipBinary         string        `env:"PIP_BINARY"`
	Engine            string        `env:"ENGINE"`
	SkaffoldURL       string        `env:"SKAFFOLD_URL"`
	DownloadTimeout   time.Duration `env:"DOWNLOAD_TIMEOUT"`
	MaxRenderPasses   int           `env:"MAX_RENDER_PASSES"`
	LenientReferences bool          `env:"LENIENT_REFERENCES"`
	LogLevel          string        `env:"LOG_LEVEL"`
	LogFormat         string        `env:"LOG_FORMAT"`
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	TemplatesDir      string      `yaml:"templates_dir"`
	TFX               yamlTFX     `yaml:"tfx"`
	SkaffoldURL       string      `yaml:"skaffold_url"`
	DownloadTimeout   string      `yaml:"download_timeout"`
	MaxRenderPasses   int         `yaml:"max_render_passes"`
	LenientReferences *bool       `yaml:"lenient_references"`
	Log               yamlLogging `yaml:"log"`
}

// yamlTFX represents the tfx section in YAML.
type yamlTFX struct {
	Binary string `yaml:"binary"`
	Pip    string `yaml:"pip"`
	Engine string `yaml:"engine"`
}

// yamlLogging represents the log section in YAML.
type yamlLogging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile        string
	TemplatesDir      *string
	MaxRenderPasses   *int
	LenientReferences *bool
	LogLevel          *string
	LogFormat         *string
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, err
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		TemplatesDir:    defaultTemplatesDir,
		TFXBinary:       "tfx",
		PipBinary:       "pip",
		Engine:          tfx.DefaultEngine,
		SkaffoldURL:     scaffold.DefaultSkaffoldURL,
		DownloadTimeout: defaultDownloadTimeout,
		MaxRenderPasses: metadata.DefaultMaxPasses,
		LogLevel:        defaultLogLevel,
		LogFormat:       defaultLogFormat,
	}
}

// applyEnvConfig overlays RECIPE_* environment variables. Unset variables
// keep the current value.
func applyEnvConfig(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.TemplatesDir != "" {
		cfg.TemplatesDir = yamlCfg.TemplatesDir
	}
	if yamlCfg.TFX.Binary != "" {
		cfg.TFXBinary = yamlCfg.TFX.Binary
	}
	if yamlCfg.TFX.Pip != "" {
		cfg.PipBinary = yamlCfg.TFX.Pip
	}
	if yamlCfg.TFX.Engine != "" {
		cfg.Engine = yamlCfg.TFX.Engine
	}
	if yamlCfg.SkaffoldURL != "" {
		cfg.SkaffoldURL = yamlCfg.SkaffoldURL
	}

	if yamlCfg.DownloadTimeout != "" {
		d, err := time.ParseDuration(yamlCfg.DownloadTimeout)
		if err != nil {
			return fmt.Errorf("parse download_timeout: %w", err)
		}
		cfg.DownloadTimeout = d
	}

	if yamlCfg.MaxRenderPasses != 0 {
		cfg.MaxRenderPasses = yamlCfg.MaxRenderPasses
	}
	if yamlCfg.LenientReferences != nil {
		cfg.LenientReferences = *yamlCfg.LenientReferences
	}

	if yamlCfg.Log.Level != "" {
		cfg.LogLevel = yamlCfg.Log.Level
	}
	if yamlCfg.Log.Format != "" {
		cfg.LogFormat = yamlCfg.Log.Format
	}
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.TemplatesDir != nil && *overrides.TemplatesDir != "" {
		cfg.TemplatesDir = *overrides.TemplatesDir
	}
	if overrides.MaxRenderPasses != nil && *overrides.MaxRenderPasses > 0 {
		cfg.MaxRenderPasses = *overrides.MaxRenderPasses
	}
	if overrides.LenientReferences != nil {
		cfg.LenientReferences = *overrides.LenientReferences
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.LogFormat != nil && *overrides.LogFormat != "" {
		cfg.LogFormat = *overrides.LogFormat
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.MaxRenderPasses <= 0 {
		return fmt.Errorf("max render passes must be > 0, got %d", cfg.MaxRenderPasses)
	}
	if cfg.DownloadTimeout < 0 {
		return fmt.Errorf("download timeout must be >= 0, got %s", cfg.DownloadTimeout)
	}
	if strings.TrimSpace(cfg.TFXBinary) == "" || strings.TrimSpace(cfg.PipBinary) == "" {
		return fmt.Errorf("tfx and pip binaries cannot be empty")
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		return fmt.Errorf("engine cannot be empty")
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", cfg.LogFormat)
	}
	return nil
}
