// Package config loads shipctl's runtime configuration via Viper
// (file + environment + defaults) and supports hot reload via
// fsnotify, following the teacher's viperConfigManager pattern.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	DataDir         string   `mapstructure:"data_dir"`
	DescriptorDir   string   `mapstructure:"descriptor_dir"`
	Concurrency     int      `mapstructure:"concurrency"`
	StrictHealth    bool     `mapstructure:"strict_health"`
	AllowedLicenses []string `mapstructure:"allowed_licenses"`
	CredentialBackend string `mapstructure:"credential_backend"` // "env" or "keychain"
	Logging struct {
		Level string `mapstructure:"level"`
		Path  string `mapstructure:"path"`
	} `mapstructure:"logging"`
	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
	Notifier struct {
		WebhookURL string `mapstructure:"webhook_url"`
	} `mapstructure:"notifier"`
}

// Validate checks invariants the rest of the system assumes hold.
func (c *Config) Validate() []error {
	var errs []error
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, fmt.Errorf("data_dir must not be empty"))
	}
	switch c.CredentialBackend {
	case "env", "keychain":
	default:
		errs = append(errs, fmt.Errorf("credential_backend must be \"env\" or \"keychain\", got %q", c.CredentialBackend))
	}
	return errs
}

// DefaultConfig returns the baseline configuration applied before any
// file or environment override.
func DefaultConfig() *Config {
	c := &Config{
		DataDir:           "./.shipctl",
		DescriptorDir:     "./descriptors",
		Concurrency:       5,
		StrictHealth:      false,
		AllowedLicenses:   nil,
		CredentialBackend: "env",
	}
	c.Logging.Level = "info"
	c.Logging.Path = "logs/shipctl.log"
	c.Metrics.Enabled = true
	c.Metrics.Addr = ":9090"
	return c
}

// Manager loads, validates and watches configuration, mirroring the
// teacher's viperConfigManager.
type Manager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

func NewManager(configPath string) *Manager {
	return &Manager{configPath: configPath, watchChan: make(chan Config, 1)}
}

// Load reads configuration from the file (if present), environment
// (prefix SHIPCTL) and defaults, in that order of increasing priority
// is inverted for env vs explicit file value per viper's own
// precedence (explicit Set > flag > env > config file > default).
func (m *Manager) Load() error {
	m.viper = viper.New()
	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
		m.viper.SetConfigType("yaml")
	}
	m.viper.SetEnvPrefix("SHIPCTL")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("config: read %s: %w", m.configPath, err)
			}
		}
	}
	return m.unmarshal()
}

func (m *Manager) Get() *Config { return m.config }

func (m *Manager) Validate() error {
	if errs := m.config.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("config: validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return nil
}

// Watch hot-reloads the config file via fsnotify, pushing the new
// value on the returned channel. Only meaningful when configPath is
// set to a real file.
func (m *Manager) Watch() <-chan Config {
	if m.configPath == "" {
		return m.watchChan
	}
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshal(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
		}
	})
	return m.watchChan
}

func (m *Manager) setDefaults() {
	d := DefaultConfig()
	m.viper.SetDefault("data_dir", d.DataDir)
	m.viper.SetDefault("descriptor_dir", d.DescriptorDir)
	m.viper.SetDefault("concurrency", d.Concurrency)
	m.viper.SetDefault("strict_health", d.StrictHealth)
	m.viper.SetDefault("allowed_licenses", d.AllowedLicenses)
	m.viper.SetDefault("credential_backend", d.CredentialBackend)
	m.viper.SetDefault("logging.level", d.Logging.Level)
	m.viper.SetDefault("logging.path", d.Logging.Path)
	m.viper.SetDefault("metrics.enabled", d.Metrics.Enabled)
	m.viper.SetDefault("metrics.addr", d.Metrics.Addr)
	m.viper.SetDefault("notifier.webhook_url", d.Notifier.WebhookURL)
}

func (m *Manager) unmarshal() error {
	cfg := &Config{}
	if err := m.viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	m.config = cfg
	return nil
}
