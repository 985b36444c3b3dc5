package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	devhandler "github.com/ehrlich-b/go-devhandler"
)

// GetDefaultConfig returns the configuration used when no file is present
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values with defaults and normalizes case.
// Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyHandlerDefaults(&cfg.Handler)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	for i := range cfg.Devices {
		applyDeviceDefaults(&cfg.Devices[i])
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.Format = strings.ToLower(cfg.Format)

	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Address == "" {
		cfg.Address = ":9287"
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
}

func applyHandlerDefaults(p *devhandler.HandlerParams) {
	d := devhandler.DefaultParams()
	if p.MaxProbeAttempts == 0 {
		p.MaxProbeAttempts = d.MaxProbeAttempts
	}
	if p.ProbeTimeout == 0 {
		p.ProbeTimeout = d.ProbeTimeout
	}
	if p.ResponseBufferSize == 0 {
		p.ResponseBufferSize = d.ResponseBufferSize
	}
	// ProbeTransportRetries and PassthroughRetries keep an explicit 0
}

func applyDeviceDefaults(d *DeviceConfig) {
	d.Type = strings.ToLower(d.Type)
	if d.Emulated != nil && d.Emulated.BlockSize == 0 && d.Type != "tape" {
		if typ, err := d.DeviceType(); err == nil {
			d.Emulated.BlockSize = defaultBlockSize(typ)
		}
	}
}

func defaultBlockSize(typ interface{ String() string }) uint32 {
	switch typ.String() {
	case "cdrom":
		return 1 << devhandler.DefaultCDROMBlockShift
	case "modisk":
		return 1 << devhandler.DefaultMODiskBlockShift
	}
	return 1 << devhandler.DefaultDiskBlockShift
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags and cross-field rules
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return describeValidation(err)
	}

	seen := make(map[string]bool, len(cfg.Devices))
	for i, d := range cfg.Devices {
		if seen[d.Name] {
			return fmt.Errorf("devices[%d]: duplicate device name %q", i, d.Name)
		}
		seen[d.Name] = true

		if (d.Path == "") == (d.Emulated == nil) {
			return fmt.Errorf("devices[%d] (%s): exactly one of path and emulated must be set", i, d.Name)
		}
		if d.Emulated != nil && d.Emulated.BlockSize != 0 && d.Emulated.BlockSize&(d.Emulated.BlockSize-1) != 0 {
			return fmt.Errorf("devices[%d] (%s): block_size %d is not a power of two", i, d.Name, d.Emulated.BlockSize)
		}
	}
	return nil
}

// describeValidation turns validator errors into one readable error
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed on the '%s' tag (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
