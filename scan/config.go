package scan

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level scanner configuration.
type Config struct {
	// Platform tags outgoing verification payloads. Default: "twitter".
	Platform string `yaml:"platform"`
	// URL is the timeline page to observe.
	URL string `yaml:"url"`
	// Interval between periodic passes. Default: 2s.
	Interval time.Duration `yaml:"scan_interval"`
	// Debounce is the quiet window after scroll/mutation bursts before
	// an extra pass fires. Default: 500ms.
	Debounce time.Duration `yaml:"debounce"`
	// MinContentLength drops trivially short posts. Default: 10.
	MinContentLength int `yaml:"min_content_length"`
	// LedgerCapacity bounds the processed-pair set. Default: 10000.
	LedgerCapacity int `yaml:"ledger_capacity"`
	// DBPath is the local state database (settings + gate).
	// Default: "vigil.db".
	DBPath string `yaml:"db_path"`
	// WaitlistSource tags waitlist enrollments. Default: "vigil".
	WaitlistSource string `yaml:"waitlist_source"`

	Browser   BrowserConfig   `yaml:"browser"`
	Authority AuthorityConfig `yaml:"authority"`
	Sinks     []SinkConfig    `yaml:"sinks"`
}

// BrowserConfig configures the Chrome session. Flags override it.
type BrowserConfig struct {
	// Remote is the websocket URL of an existing Chrome to attach to.
	Remote string `yaml:"remote"`
	// Headful runs a visible Chrome under Xvfb.
	Headful bool `yaml:"headful"`
	// XvfbDisplay for headful mode.
	XvfbDisplay string `yaml:"xvfb_display"`
}

// AuthorityConfig points at the verification authority.
type AuthorityConfig struct {
	BaseURL string `yaml:"base_url"`
	// Timeout bounds each authority request. Default: 15s.
	Timeout time.Duration `yaml:"timeout"`
}

// SinkConfig defines one output backend.
type SinkConfig struct {
	// Type is "stdout" or "webhook".
	Type string `yaml:"type"`
	// URL is required for webhook sinks.
	URL string `yaml:"url"`
}

// Defaults returns a Config with all tunables at their defaults.
func Defaults() Config {
	return Config{
		Platform:         "twitter",
		URL:              "https://x.com/home",
		Interval:         2 * time.Second,
		Debounce:         500 * time.Millisecond,
		MinContentLength: 10,
		LedgerCapacity:   10_000,
		DBPath:           "vigil.db",
		WaitlistSource:   "vigil",
	}
}

func (c *Config) applyDefaults() {
	d := Defaults()
	if c.Platform == "" {
		c.Platform = d.Platform
	}
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = d.MinContentLength
	}
	if c.LedgerCapacity <= 0 {
		c.LedgerCapacity = d.LedgerCapacity
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.WaitlistSource == "" {
		c.WaitlistSource = d.WaitlistSource
	}
}

// Validate checks the config for inconsistencies.
func (c *Config) Validate() error {
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("scan: sink %d: webhook requires url", i)
			}
		default:
			return fmt.Errorf("scan: sink %d: unknown type %q", i, s.Type)
		}
	}
	return nil
}

// LoadConfigFile reads a YAML configuration file, applying defaults for
// unset fields.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scan: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("scan: parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
