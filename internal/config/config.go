// Package config defines the typed configuration surface an embedding
// application uses to wire the outbox subsystems, loaded through viper the
// same way the rest of this codebase loads its service configuration.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/relaykit/outbox/internal/instance"
	"github.com/relaykit/outbox/internal/resilience"
	"github.com/relaykit/outbox/internal/scheduler"
)

// DeploymentProfile selects which storage adapter backs the repositories.
type DeploymentProfile string

const (
	ProfilePostgres DeploymentProfile = "postgres"
	ProfileSQLite   DeploymentProfile = "sqlite"
	ProfileMemory   DeploymentProfile = "memory"
)

// StorageConfig configures the persistence adapter.
type StorageConfig struct {
	Profile     DeploymentProfile `mapstructure:"profile" validate:"oneof=postgres sqlite memory"`
	DSN         string            `mapstructure:"dsn"`
	MaxConns    int32             `mapstructure:"max_conns" validate:"gte=0"`
	ConnTimeout time.Duration     `mapstructure:"conn_timeout" validate:"gte=0"`
}

// RedisConfig configures the optional cross-instance trigger bus.
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Channel string `mapstructure:"channel"`
}

// SchedulerConfig mirrors scheduler.Config in mapstructure form.
type SchedulerConfig struct {
	PollInterval       time.Duration              `mapstructure:"poll_interval" validate:"gt=0"`
	BatchSize          int                        `mapstructure:"batch_size" validate:"gt=0"`
	Workers            int                        `mapstructure:"workers" validate:"gt=0"`
	KeySelectionMode   scheduler.KeySelectionMode `mapstructure:"key_selection_mode"`
	StopOnFirstFailure bool                       `mapstructure:"stop_on_first_failure"`
}

// InstanceConfig mirrors instance.Config in mapstructure form.
type InstanceConfig struct {
	HeartbeatInterval       time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	StaleAfter              time.Duration `mapstructure:"stale_after" validate:"gtfield=HeartbeatInterval"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout" validate:"gte=0"`
}

// FixedRetryConfig configures resilience.KindFixed.
type FixedRetryConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

// LinearRetryConfig configures resilience.KindLinear.
type LinearRetryConfig struct {
	Initial   time.Duration `mapstructure:"initial"`
	Increment time.Duration `mapstructure:"increment"`
	Max       time.Duration `mapstructure:"max"`
}

// ExponentialRetryConfig configures resilience.KindExponential.
type ExponentialRetryConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Multiplier float64       `mapstructure:"multiplier"`
	Max        time.Duration `mapstructure:"max"`
}

// RetryConfig is the default retry policy applied to handlers that don't
// register one of their own, keyed by Policy's Kind.
type RetryConfig struct {
	MaxRetries        int                    `mapstructure:"max_retries" validate:"gte=0"`
	Policy            resilience.Kind        `mapstructure:"policy" validate:"oneof=FIXED LINEAR EXPONENTIAL"`
	JitterMS          int                    `mapstructure:"jitter_ms" validate:"gte=0"`
	IncludeExceptions []string               `mapstructure:"include_exceptions"`
	ExcludeExceptions []string               `mapstructure:"exclude_exceptions"`
	Fixed             FixedRetryConfig       `mapstructure:"fixed"`
	Linear            LinearRetryConfig      `mapstructure:"linear"`
	Exponential       ExponentialRetryConfig `mapstructure:"exponential"`
}

// ToPolicyConfig translates the declarative RetryConfig into the
// resilience.Config New() expects, picking the sub-group matching Policy.
func (c RetryConfig) ToPolicyConfig() resilience.Config {
	cfg := resilience.Config{
		Kind:       c.Policy,
		MaxRetries: c.MaxRetries,
		Classifier: resilience.Default{FQN: resilience.FQNClassifier{
			Include: c.IncludeExceptions,
			Exclude: c.ExcludeExceptions,
		}},
	}
	if c.JitterMS > 0 {
		cfg.Jitter = true
		cfg.JitterMax = time.Duration(c.JitterMS) * time.Millisecond
	}
	switch c.Policy {
	case resilience.KindLinear:
		cfg.BaseDelay = c.Linear.Initial
		cfg.Increment = c.Linear.Increment
		cfg.MaxDelay = c.Linear.Max
	case resilience.KindExponential:
		cfg.BaseDelay = c.Exponential.Initial
		cfg.Multiplier = c.Exponential.Multiplier
		cfg.MaxDelay = c.Exponential.Max
	default:
		cfg.BaseDelay = c.Fixed.Delay
	}
	return cfg
}

// RetentionConfig controls the housekeeper's sweep cadence.
type RetentionConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Retention     time.Duration `mapstructure:"retention"`
}

// Config is the complete, typed configuration of an outbox deployment.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Instance  InstanceConfig  `mapstructure:"instance"`
	Retention RetentionConfig `mapstructure:"retention"`
	Retry     RetryConfig     `mapstructure:"retry"`
}

// Default returns a Config with the same defaults documented in the
// individual subsystem packages.
func Default() Config {
	instCfg := instance.DefaultConfig()
	schedCfg := scheduler.DefaultConfig()
	houseCfg := scheduler.DefaultHousekeeperConfig()
	return Config{
		Storage: StorageConfig{
			Profile:     ProfilePostgres,
			MaxConns:    10,
			ConnTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Channel: "outbox:poll-trigger",
		},
		Scheduler: SchedulerConfig{
			PollInterval:       schedCfg.PollInterval,
			BatchSize:          schedCfg.BatchSize,
			Workers:            schedCfg.Workers,
			KeySelectionMode:   schedCfg.KeySelectionMode,
			StopOnFirstFailure: schedCfg.StopOnFirstFailure,
		},
		Instance: InstanceConfig{
			HeartbeatInterval:       instCfg.HeartbeatInterval,
			StaleAfter:              instCfg.StaleAfter,
			GracefulShutdownTimeout: instCfg.GracefulShutdownTimeout,
		},
		Retention: RetentionConfig{
			SweepInterval: houseCfg.Interval,
			Retention:     houseCfg.Retention,
		},
		Retry: RetryConfig{
			MaxRetries: 5,
			Policy:     resilience.KindExponential,
			JitterMS:   200,
			Exponential: ExponentialRetryConfig{
				Initial:    100 * time.Millisecond,
				Multiplier: 2.0,
				Max:        30 * time.Second,
			},
			Fixed:  FixedRetryConfig{Delay: 500 * time.Millisecond},
			Linear: LinearRetryConfig{Initial: 100 * time.Millisecond, Increment: 50 * time.Millisecond, Max: 5 * time.Second},
		},
	}
}

// Load reads configuration from path (if non-empty), overlaying Default().
// OUTBOX_-prefixed environment variables are consulted only for keys the
// file itself sets, and nested keys are looked up with their dots intact
// (OUTBOX_STORAGE.DSN), since no env binding or key replacer is configured;
// with an empty path no environment variable is read.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("outbox")
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshalling: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate rejects combinations that would silently misbehave at runtime.
// Structural constraints (ranges, required-if pairs, field comparisons) are
// declared as `validate` struct tags and checked in one pass; constraints
// that depend on a field's own semantics rather than its shape stay as Go
// code below.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, len(verrs))
			for i, e := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", e.Namespace(), e.Tag())
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("config: invalid: %w", err)
	}
	if c.Storage.Profile != ProfileMemory && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn is required for profile %q", c.Storage.Profile)
	}
	return nil
}
