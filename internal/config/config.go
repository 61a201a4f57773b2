// Package config loads runtime settings for the cmdbase binaries from an
// optional YAML file and CMDBASE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/me/cmdbase/internal/logging"
	"github.com/me/cmdbase/pkg/command"
)

// EnvPrefix is prepended to every environment override, e.g. CMDBASE_ROBOT_PERIOD.
const EnvPrefix = "CMDBASE"

type (
	// Config holds every runtime setting.
	Config struct {
		Robot     Robot     `mapstructure:"robot"`
		Scheduler Scheduler `mapstructure:"scheduler"`
		Log       Log       `mapstructure:"log"`
		Journal   Journal   `mapstructure:"journal"`
		Server    Server    `mapstructure:"server"`
	}

	// Robot configures the periodic driver.
	Robot struct {
		Period   time.Duration `mapstructure:"period"`
		Watchdog bool          `mapstructure:"watchdog"`
		Mode     string        `mapstructure:"mode"`
	}

	// Scheduler configures the task scheduler.
	Scheduler struct {
		PanicPolicy      string `mapstructure:"panic_policy"`
		StrictReschedule bool   `mapstructure:"strict_reschedule"`
	}

	// Log configures slog output.
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	}

	// Journal configures lifecycle event persistence. An empty path disables it.
	Journal struct {
		Path string `mapstructure:"path"`
	}

	// Server configures the dashboard.
	Server struct {
		Addr string `mapstructure:"addr"`
	}
)

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Robot:     Robot{Period: 20 * time.Millisecond, Watchdog: true, Mode: "disabled"},
		Scheduler: Scheduler{PanicPolicy: command.PanicPropagate.String()},
		Log:       Log{Level: "info", Format: "text"},
		Server:    Server{Addr: ":8080"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("robot.period", d.Robot.Period)
	v.SetDefault("robot.watchdog", d.Robot.Watchdog)
	v.SetDefault("robot.mode", d.Robot.Mode)
	v.SetDefault("scheduler.panic_policy", d.Scheduler.PanicPolicy)
	v.SetDefault("scheduler.strict_reschedule", d.Scheduler.StrictReschedule)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("server.addr", d.Server.Addr)
}

// Load reads path (if non-empty) and applies environment overrides on top of
// the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if c.Robot.Period <= 0 {
		errs = append(errs, fmt.Errorf("robot.period must be positive, got %s", c.Robot.Period))
	}
	if _, ok := command.ParsePanicPolicy(c.Scheduler.PanicPolicy); !ok {
		errs = append(errs, fmt.Errorf("scheduler.panic_policy: unknown policy %q", c.Scheduler.PanicPolicy))
	}
	if err := logging.ValidateFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	return errors.Join(errs...)
}

// PanicPolicy returns the parsed scheduler panic policy.
func (c Config) PanicPolicy() command.PanicPolicy {
	p, _ := command.ParsePanicPolicy(c.Scheduler.PanicPolicy)
	return p
}
