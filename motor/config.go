package motor

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/tachdev/govern/motor/errors"
)

// Defaults match the EV3 large motor profile the regulator was tuned
// against: 1 count per degree sampled every 4ms, 360 deg/s at 6000 deg/s^2.
const (
	DefaultPeriod       = 4 * time.Millisecond
	DefaultSpeed        = 360.0
	DefaultAcceleration = 6000.0
	DefaultMaxSpeed     = 900.0

	DefaultStallError = 50.0
	DefaultStallTime  = time.Second
)

// Config is the device file: a schema version plus one section per motor.
type Config struct {
	Version int                    `yaml:"version"`
	Motors  map[string]MotorConfig `yaml:"motors"`
}

// MotorConfig carries everything needed to bind and regulate one motor.
type MotorConfig struct {
	Node uint32 `yaml:"node"`
	Bus  string `yaml:"bus"`

	CountsPerDegree float64 `yaml:"counts_per_degree"`
	LoopPeriodMS    int     `yaml:"loop_period_ms"`

	Speed        float64 `yaml:"speed"`
	Acceleration float64 `yaml:"acceleration"`
	MaxSpeed     float64 `yaml:"max_speed"`

	Stall StallConfig `yaml:"stall"`
	Law   LawConfig   `yaml:"law"`
}

type StallConfig struct {
	Error  float64 `yaml:"error"`
	TimeMS int     `yaml:"time_ms"`
}

type LawConfig struct {
	KP float64 `yaml:"kp"`
	KD float64 `yaml:"kd"`
	KV float64 `yaml:"kv"`
}

type yamlMotorConfig MotorConfig

// UnmarshalYAML fills in profile defaults so a section only needs to name
// what it overrides.
func (c *MotorConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	ym := yamlMotorConfig(defaultMotorConfig())
	if err := unmarshal(&ym); err != nil {
		return err
	}
	*c = MotorConfig(ym)
	return nil
}

func defaultMotorConfig() MotorConfig {
	return MotorConfig{
		CountsPerDegree: 1,
		LoopPeriodMS:    int(DefaultPeriod / time.Millisecond),
		Speed:           DefaultSpeed,
		Acceleration:    DefaultAcceleration,
		MaxSpeed:        DefaultMaxSpeed,
		Stall: StallConfig{
			Error:  DefaultStallError,
			TimeMS: int(DefaultStallTime / time.Millisecond),
		},
		Law: LawConfig{
			KP: 1.0,
			KD: 0.01,
			KV: 0.11,
		},
	}
}

// DefaultMotorConfig returns the standard profile, for callers constructing
// motors without a device file.
func DefaultMotorConfig() MotorConfig {
	return defaultMotorConfig()
}

func (c MotorConfig) validate(name string) error {
	switch {
	case c.CountsPerDegree <= 0:
		return errors.ConfigurationError{Motor: name, Field: "counts_per_degree", Reason: "must be positive"}
	case c.LoopPeriodMS <= 0:
		return errors.ConfigurationError{Motor: name, Field: "loop_period_ms", Reason: "must be positive"}
	case c.Speed < 0:
		return errors.ConfigurationError{Motor: name, Field: "speed", Reason: "must not be negative"}
	case c.Acceleration <= 0:
		return errors.ConfigurationError{Motor: name, Field: "acceleration", Reason: "must be positive"}
	case c.MaxSpeed <= 0:
		return errors.ConfigurationError{Motor: name, Field: "max_speed", Reason: "must be positive"}
	case c.Stall.Error <= 0:
		return errors.ConfigurationError{Motor: name, Field: "stall.error", Reason: "must be positive"}
	case c.Stall.TimeMS <= 0:
		return errors.ConfigurationError{Motor: name, Field: "stall.time_ms", Reason: "must be positive"}
	case c.Law.KP <= 0:
		return errors.ConfigurationError{Motor: name, Field: "law.kp", Reason: "must be positive"}
	}
	return nil
}

func (c MotorConfig) period() time.Duration {
	return time.Duration(c.LoopPeriodMS) * time.Millisecond
}

func (c MotorConfig) stallTime() time.Duration {
	return time.Duration(c.Stall.TimeMS) * time.Millisecond
}

// ReadConfig parses and validates a device file.
func ReadConfig(r io.Reader) (Config, error) {
	var config Config

	raw, err := io.ReadAll(r)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return config, err
	}

	if config.Version != 1 {
		return config, fmt.Errorf("unable to work with version %d", config.Version)
	}
	for name, mc := range config.Motors {
		if err := mc.validate(name); err != nil {
			return config, err
		}
	}

	return config, nil
}

// LoadConfig reads a device file from disk.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	return ReadConfig(f)
}
