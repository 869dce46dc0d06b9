// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Protocol ProtocolConfig `mapstructure:"protocol" yaml:"protocol"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Waiter   WaiterConfig   `mapstructure:"waiter" yaml:"waiter"`
	Replay   ReplayConfig   `mapstructure:"replay" yaml:"replay"`
}

// LoggerConfig configures the zap logger and optional rotated file output.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ProtocolConfig tunes the debugging-protocol client. Retries use a fixed
// delay, no backoff: the waiter and evaluation timeouts elsewhere in the
// stack dominate overall latency anyway.
type ProtocolConfig struct {
	// Endpoint is the DevTools HTTP endpoint used for target discovery.
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// EngineConfig tunes the decision engine's evaluation and arbitration.
type EngineConfig struct {
	// EvaluationTimeout bounds each variant's evaluation independently.
	EvaluationTimeout time.Duration `mapstructure:"evaluation_timeout" yaml:"evaluation_timeout"`
	// ActionTimeout bounds one whole executeAction call.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// MinConfidence is the advisory arbitration floor. When no found result
	// reaches it the engine still takes the best found result; the floor
	// only decides whether that is logged as a degraded pick.
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	// SelectOpenWait is the brief pause between opening a select control
	// and clicking an option.
	SelectOpenWait time.Duration `mapstructure:"select_open_wait" yaml:"select_open_wait"`
	// Weights optionally overrides the static per-tag strategy weights.
	Weights map[string]float64 `mapstructure:"weights" yaml:"weights"`
}

// WaiterConfig tunes the actionability waiter.
type WaiterConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StabilityWindow time.Duration `mapstructure:"stability_window" yaml:"stability_window"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ReplayConfig tunes the replay command.
type ReplayConfig struct {
	// ScreenshotDir receives best-effort failure screenshots; empty
	// disables capture.
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	KeepGoing     bool   `mapstructure:"keep_going" yaml:"keep_going"`
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// Logger
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "rewind-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "magenta")
	v.SetDefault("logger.colors.info", "cyan")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "red")
	v.SetDefault("logger.colors.panic", "red")
	v.SetDefault("logger.colors.fatal", "red")

	// Protocol
	v.SetDefault("protocol.endpoint", "http://127.0.0.1:9222")
	v.SetDefault("protocol.dial_timeout", 10*time.Second)
	v.SetDefault("protocol.command_timeout", 15*time.Second)
	v.SetDefault("protocol.max_retries", 2)
	v.SetDefault("protocol.retry_delay", 150*time.Millisecond)

	// Engine
	v.SetDefault("engine.evaluation_timeout", 5*time.Second)
	v.SetDefault("engine.action_timeout", 30*time.Second)
	v.SetDefault("engine.min_confidence", 0.3)
	v.SetDefault("engine.select_open_wait", 150*time.Millisecond)

	// Waiter
	v.SetDefault("waiter.poll_interval", 100*time.Millisecond)
	v.SetDefault("waiter.stability_window", 300*time.Millisecond)
	v.SetDefault("waiter.timeout", 5*time.Second)

	// Replay
	v.SetDefault("replay.screenshot_dir", "")
	v.SetDefault("replay.keep_going", false)
}

// Default returns a fully populated configuration for library use, without
// touching any config file or environment.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Unmarshal of pure defaults cannot fail; guard anyway.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: unmarshalling defaults: %v", err))
	}
	return &cfg
}

// Validate rejects configurations the components cannot operate under.
func (c *Config) Validate() error {
	if c.Protocol.MaxRetries < 0 {
		return fmt.Errorf("protocol.max_retries must be >= 0, got %d", c.Protocol.MaxRetries)
	}
	if c.Protocol.RetryDelay < 0 {
		return fmt.Errorf("protocol.retry_delay must be >= 0, got %v", c.Protocol.RetryDelay)
	}
	if c.Engine.MinConfidence < 0 || c.Engine.MinConfidence > 1 {
		return fmt.Errorf("engine.min_confidence must be within [0,1], got %v", c.Engine.MinConfidence)
	}
	if c.Waiter.PollInterval <= 0 {
		return fmt.Errorf("waiter.poll_interval must be positive, got %v", c.Waiter.PollInterval)
	}
	if c.Waiter.StabilityWindow < c.Waiter.PollInterval {
		return fmt.Errorf("waiter.stability_window (%v) must cover at least one poll interval (%v)",
			c.Waiter.StabilityWindow, c.Waiter.PollInterval)
	}
	for tag, w := range c.Engine.Weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("engine.weights[%s] must be within [0,1], got %v", tag, w)
		}
	}
	return nil
}
