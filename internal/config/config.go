// Package config defines the resolved option set a sweep runs with. The
// engine consumes an already-validated Config; flag and file parsing live in
// the CLI layer.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/netsweep/netsweep/internal/errors"
	"github.com/netsweep/netsweep/internal/logging"
)

// Probe methods.
const (
	ProbeMethodTCP  = "tcp"
	ProbeMethodICMP = "icmp"
)

// Config is the complete option set for one sweep.
type Config struct {
	// Targets are the address specifications to sweep: single addresses,
	// CIDR blocks, or hostnames.
	Targets []string `yaml:"targets" mapstructure:"targets" validate:"required,min=1,dive,required"`

	// Ports is the port set scanned on every live host.
	Ports []int `yaml:"ports" mapstructure:"ports" validate:"required,min=1,dive,min=1,max=65535"`

	// MaxConcurrency caps in-flight probe and scan operations.
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency" validate:"min=1"`

	// MaxRate caps operation starts per second across all phases.
	MaxRate float64 `yaml:"max_rate" mapstructure:"max_rate" validate:"gt=0"`

	// MaxCandidates bounds enumeration of large CIDR blocks.
	MaxCandidates int `yaml:"max_candidates" mapstructure:"max_candidates" validate:"min=1"`

	// ProbeMethod selects the reachability check: tcp or icmp.
	ProbeMethod string `yaml:"probe_method" mapstructure:"probe_method" validate:"oneof=tcp icmp"`

	// ProbePorts is the small fixed port set used by the tcp probe method.
	ProbePorts []int `yaml:"probe_ports" mapstructure:"probe_ports" validate:"dive,min=1,max=65535"`

	// Per-operation timeouts.
	ProbeTimeout  time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout" validate:"gt=0"`
	ScanTimeout   time.Duration `yaml:"scan_timeout" mapstructure:"scan_timeout" validate:"gt=0"`
	BannerTimeout time.Duration `yaml:"banner_timeout" mapstructure:"banner_timeout" validate:"gt=0"`

	// Retry policy for transient resource errors only.
	MaxRetries     int           `yaml:"max_retries" mapstructure:"max_retries" validate:"min=0"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" mapstructure:"retry_base_delay" validate:"gt=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" mapstructure:"retry_max_delay" validate:"gt=0"`

	// ScanDeadline bounds the whole sweep. Zero disables the deadline.
	ScanDeadline time.Duration `yaml:"scan_deadline" mapstructure:"scan_deadline" validate:"min=0"`

	// Logging configuration for the sweep.
	Logging logging.Config `yaml:"logging" mapstructure:"logging"`
}

// Default returns a configuration with sensible defaults. Targets must still
// be supplied by the caller.
func Default() *Config {
	return &Config{
		Ports:          []int{21, 22, 23, 25, 53, 80, 110, 143, 443, 445, 993, 995, 3306, 3389, 5432, 8080},
		MaxConcurrency: 50,
		MaxRate:        200,
		MaxCandidates:  65536,
		ProbeMethod:    ProbeMethodTCP,
		ProbePorts:     []int{80, 443, 22},
		ProbeTimeout:   2 * time.Second,
		ScanTimeout:    2 * time.Second,
		BannerTimeout:  500 * time.Millisecond,
		MaxRetries:     2,
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxDelay:  2 * time.Second,
		Logging:        logging.DefaultConfig(),
	}
}

// Load reads a configuration file and merges it over the defaults. A missing
// file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WrapConfigError("failed to read config file", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapConfigError("failed to parse config file", err)
	}
	// Targets may still come from flags, so validation happens after the
	// caller finishes layering options.
	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration before any work is dispatched. A failure
// here is the only error class that aborts a sweep outright.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.NewConfigError(fe.Field(),
				fmt.Sprintf("failed %q validation", fe.Tag()), fe.Value())
		}
		return errors.WrapConfigError("configuration validation failed", err)
	}

	// Cross-field checks the struct tags cannot express.
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return errors.NewConfigError("retry_max_delay",
			"must be at least retry_base_delay", c.RetryMaxDelay)
	}
	if c.ProbeMethod == ProbeMethodTCP && len(c.ProbePorts) == 0 {
		return errors.NewConfigError("probe_ports",
			"tcp probe method requires at least one probe port", nil)
	}
	if c.BannerTimeout > c.ScanTimeout {
		return errors.NewConfigError("banner_timeout",
			"must not exceed scan_timeout", c.BannerTimeout)
	}
	return nil
}
