// Package config loads the devhandler command configuration.
//
// Configuration comes from a YAML (or TOML) file and DEVHANDLER_ environment
// variables, e.g. DEVHANDLER_LOGGING_LEVEL=DEBUG or
// DEVHANDLER_HANDLER_MAX_PROBE_ATTEMPTS=5.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	devhandler "github.com/ehrlich-b/go-devhandler"
	"github.com/ehrlich-b/go-devhandler/internal/logging"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// Config is the complete command configuration
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Handler tunes the probe and passthrough behaviour of every handler
	Handler devhandler.HandlerParams `mapstructure:"handler" yaml:"handler"`

	// ShutdownTimeout bounds detaching all devices on exit
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	Devices []DeviceConfig `mapstructure:"devices" validate:"dive" yaml:"devices"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig controls the Prometheus endpoint of serve
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Address string `mapstructure:"address" validate:"required_if=Enabled true" yaml:"address"`

	Path string `mapstructure:"path" validate:"required_if=Enabled true" yaml:"path"`
}

// DeviceConfig describes one logical unit to attach. Exactly one of Path
// and Emulated must be set.
type DeviceConfig struct {
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	Type string `mapstructure:"type" validate:"required,oneof=cdrom rom disk tape modisk mod" yaml:"type"`

	// Path is a SCSI generic node such as /dev/sg0
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	Emulated *EmulatedConfig `mapstructure:"emulated" yaml:"emulated,omitempty"`

	LUN uint8 `mapstructure:"lun" yaml:"lun"`

	// SCSILevel as reported by INQUIRY; 2 or lower puts the LUN in the CDB
	SCSILevel int `mapstructure:"scsi_level" validate:"min=0,max=5" yaml:"scsi_level"`
}

// EmulatedConfig is the geometry of in-memory media
type EmulatedConfig struct {
	BlockSize uint32 `mapstructure:"block_size" validate:"max=65536" yaml:"block_size"`

	Blocks uint64 `mapstructure:"blocks" validate:"gt=0" yaml:"blocks"`

	// UnitAttentions is the number of unit attentions reported after power
	// on; -1 reports them forever
	UnitAttentions int `mapstructure:"unit_attentions" validate:"min=-1" yaml:"unit_attentions"`

	// ControlPage makes the media answer MODE SENSE for the control page
	ControlPage bool `mapstructure:"control_page" yaml:"control_page"`
}

// DeviceType maps Type to a peripheral device type
func (d DeviceConfig) DeviceType() (scsi.DeviceType, error) {
	return scsi.ParseDeviceType(d.Type)
}

// Level returns the SCSI level, SPC-3 when unset
func (d DeviceConfig) Level() scsi.Level {
	if d.SCSILevel == 0 {
		return scsi.LevelSPC3
	}
	return scsi.Level(d.SCSILevel)
}

// Load reads configuration from configPath (or the default location when
// empty), applies environment overrides and defaults, and validates.
// A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Marshal renders cfg as YAML
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// SaveConfig writes cfg to path as YAML
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variables, defaults and the config file
func setupViper(v *viper.Viper, configPath string) {
	// Example: DEVHANDLER_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DEVHANDLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register every scalar key so environment variables apply without a file
	registerDefaults(v, GetDefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func registerDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.address", cfg.Metrics.Address)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
	v.SetDefault("handler.max_probe_attempts", cfg.Handler.MaxProbeAttempts)
	v.SetDefault("handler.probe_timeout", cfg.Handler.ProbeTimeout.String())
	v.SetDefault("handler.probe_transport_retries", cfg.Handler.ProbeTransportRetries)
	v.SetDefault("handler.passthrough_retries", cfg.Handler.PassthroughRetries)
	v.SetDefault("handler.response_buffer_size", cfg.Handler.ResponseBufferSize)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout.String())
}

// readConfigFile reports whether a config file was read. A missing file is
// not an error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Explicit config files surface as *fs.PathError
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the decode hooks for custom types
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		trimStringDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s" and raw nanosecond counts
// to time.Duration
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// trimStringDecodeHook strips surrounding whitespace from string values
func trimStringDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.String {
			return data, nil
		}
		s, ok := data.(string)
		if !ok {
			return data, nil
		}
		return strings.TrimSpace(s), nil
	}
}

// NewLogger builds a logger from the logging section. The returned closer
// releases a log file when one was opened.
func NewLogger(cfg LoggingConfig) (*logging.Logger, io.Closer, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = cfg.Format

	var closer io.Closer = io.NopCloser(nil)
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		lc.Output = os.Stderr
	case "stdout":
		lc.Output = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		lc.Output = f
		lc.NoColor = true
		closer = f
	}
	return logging.NewLogger(lc), closer, nil
}

// getConfigDir returns $XDG_CONFIG_HOME/devhandler, ~/.config/devhandler or
// the current directory as a last resort
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "devhandler")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "devhandler")
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
