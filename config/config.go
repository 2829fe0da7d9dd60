// Package config provides YAML-based configuration loading for smartcfg.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	Kernel       KernelConfig       `mapstructure:"kernel"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Radio        RadioConfig        `mapstructure:"radio"`

	// HeartbeatMS is the heartbeat task period; 0 disables the task.
	HeartbeatMS uint32 `mapstructure:"heartbeat_ms"`
	// MetricsAddr is the listen address for /metrics; empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// KernelConfig sizes the scheduler.
type KernelConfig struct {
	TickRateHz    uint32 `mapstructure:"tick_rate_hz"`
	HeapBytes     uint32 `mapstructure:"heap_bytes"`
	MaxPriorities uint32 `mapstructure:"max_priorities"`
}

// ProvisioningConfig configures the SmartConfig worker task.
type ProvisioningConfig struct {
	WorkerName     string `mapstructure:"worker_name"`
	WorkerStack    uint32 `mapstructure:"worker_stack"`
	WorkerPriority uint8  `mapstructure:"worker_priority"`
	// WorkerCore is 0 or 1; -1 leaves placement to the scheduler.
	WorkerCore int `mapstructure:"worker_core"`
	// Protocol: esptouch, airkiss, esptouch+airkiss, esptouch-v2
	Protocol string `mapstructure:"protocol"`
}

// RadioConfig describes the simulated network used on host builds.
type RadioConfig struct {
	// Kind is "sim" or "netlink".
	Kind        string `mapstructure:"kind"`
	SSID        string `mapstructure:"ssid"`
	Password    string `mapstructure:"password"`
	BSSID       string `mapstructure:"bssid"`
	IP          string `mapstructure:"ip"`
	StepDelayMS uint32 `mapstructure:"step_delay_ms"`
}

// StepDelay returns StepDelayMS as a duration.
func (r RadioConfig) StepDelay() time.Duration {
	return time.Duration(r.StepDelayMS) * time.Millisecond
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/smartcfg.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Kernel: KernelConfig{
			TickRateHz:    100,
			HeapBytes:     320 * 1024,
			MaxPriorities: 25,
		},
		Provisioning: ProvisioningConfig{
			WorkerName:     "smartconfig",
			WorkerStack:    4096,
			WorkerPriority: 3,
			WorkerCore:     0,
			Protocol:       "esptouch",
		},
		Radio: RadioConfig{
			Kind:        "sim",
			SSID:        "home",
			Password:    "secret1",
			IP:          "192.168.4.2",
			StepDelayMS: 200,
		},
		HeartbeatMS: 1000,
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix SMARTCFG and `.`/`-` are replaced with `_`.
// Example: SMARTCFG_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SMARTCFG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("kernel.tick_rate_hz", cfg.Kernel.TickRateHz)
	v.SetDefault("kernel.heap_bytes", cfg.Kernel.HeapBytes)
	v.SetDefault("kernel.max_priorities", cfg.Kernel.MaxPriorities)
	v.SetDefault("provisioning.worker_name", cfg.Provisioning.WorkerName)
	v.SetDefault("provisioning.worker_stack", cfg.Provisioning.WorkerStack)
	v.SetDefault("provisioning.worker_priority", cfg.Provisioning.WorkerPriority)
	v.SetDefault("provisioning.worker_core", cfg.Provisioning.WorkerCore)
	v.SetDefault("provisioning.protocol", cfg.Provisioning.Protocol)
	v.SetDefault("radio.kind", cfg.Radio.Kind)
	v.SetDefault("radio.ssid", cfg.Radio.SSID)
	v.SetDefault("radio.password", cfg.Radio.Password)
	v.SetDefault("radio.bssid", cfg.Radio.BSSID)
	v.SetDefault("radio.ip", cfg.Radio.IP)
	v.SetDefault("radio.step_delay_ms", cfg.Radio.StepDelayMS)
	v.SetDefault("heartbeat_ms", cfg.HeartbeatMS)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)

	if path == "" {
		if envPath := os.Getenv("SMARTCFG_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("smartcfg")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".smartcfg"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	if c.Kernel.TickRateHz == 0 || c.Kernel.TickRateHz > 1000 {
		return fmt.Errorf("invalid kernel.tick_rate_hz: %d", c.Kernel.TickRateHz)
	}
	if c.Provisioning.WorkerCore < -1 || c.Provisioning.WorkerCore > 1 {
		return fmt.Errorf("invalid provisioning.worker_core: %d", c.Provisioning.WorkerCore)
	}
	if c.Kernel.MaxPriorities != 0 && uint32(c.Provisioning.WorkerPriority) >= c.Kernel.MaxPriorities {
		return fmt.Errorf("provisioning.worker_priority %d out of range [0,%d)", c.Provisioning.WorkerPriority, c.Kernel.MaxPriorities)
	}
	if strings.ContainsRune(c.Provisioning.WorkerName, 0) {
		return fmt.Errorf("invalid provisioning.worker_name: %q", c.Provisioning.WorkerName)
	}
	c.Provisioning.Protocol = strings.ToLower(strings.TrimSpace(c.Provisioning.Protocol))
	if _, err := ParseProtocol(c.Provisioning.Protocol); err != nil {
		return err
	}
	c.Radio.Kind = strings.ToLower(strings.TrimSpace(c.Radio.Kind))
	switch c.Radio.Kind {
	case "sim", "netlink":
	default:
		return fmt.Errorf("invalid radio.kind: %q", c.Radio.Kind)
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
