// Package config provides configuration loading for cyclekit.
//
// Configuration is loaded using Viper, supporting YAML config files and
// environment variable overrides. The defaults work out of the box; a config
// file only needs the keys it changes.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (CYCLEKIT_ prefix, e.g. CYCLEKIT_OUTPUT_DIR)
//  2. Config file specified by CYCLEKIT_CONFIG_PATH
//  3. ~/.config/cyclekit/cyclekit.yaml
//  4. ./cyclekit.yaml
//  5. [DefaultConfig] defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration container.
type Config struct {
	// DefaultFormats are the formats `convert` renders when no --format flag
	// is given. Valid names: biologic, neware, tomato, pybamm, battinfo.
	DefaultFormats []string `mapstructure:"default_formats"`

	// OutputDir is where convert writes artifacts. Default: current directory.
	OutputDir string `mapstructure:"output_dir"`

	// LogLevel sets diagnostic verbosity: debug, info, warn, or error.
	LogLevel string `mapstructure:"log_level"`

	// Biologic configures the EC-Lab exporter.
	Biologic BiologicConfig `mapstructure:"biologic"`

	// Tomato configures the tomato exporter.
	Tomato TomatoConfig `mapstructure:"tomato"`
}

// BiologicConfig sets the potential control range written into .mps headers.
// Step voltages outside this range fail the export.
type BiologicConfig struct {
	MinVoltageV float64 `mapstructure:"min_voltage_V"`
	MaxVoltageV float64 `mapstructure:"max_voltage_V"`
}

// TomatoConfig sets the data output directory written into tomato payloads.
type TomatoConfig struct {
	OutputPath string `mapstructure:"output_path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultFormats: []string{"biologic"},
		OutputDir:      ".",
		LogLevel:       "info",
		Biologic:       BiologicConfig{MinVoltageV: 0, MaxVoltageV: 5},
		Tomato:         TomatoConfig{OutputPath: "C:/tomato_data/"},
	}
}

// Loader handles Viper-based configuration loading.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader wired with defaults, search paths, and the
// CYCLEKIT_ environment prefix.
func NewLoader() *Loader {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("default_formats", defaults.DefaultFormats)
	v.SetDefault("output_dir", defaults.OutputDir)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("biologic.min_voltage_V", defaults.Biologic.MinVoltageV)
	v.SetDefault("biologic.max_voltage_V", defaults.Biologic.MaxVoltageV)
	v.SetDefault("tomato.output_path", defaults.Tomato.OutputPath)

	v.SetEnvPrefix("CYCLEKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("cyclekit")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "cyclekit"))
	}
	v.AddConfigPath(".")

	return &Loader{v: v}
}

// Load reads configuration from the environment and the first config file
// found. A missing config file is not an error; a malformed one is.
func (l *Loader) Load() (*Config, error) {
	if path := os.Getenv("CYCLEKIT_CONFIG_PATH"); path != "" {
		l.v.SetConfigFile(path)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return &cfg, nil
}
