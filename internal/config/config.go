// Package config loads and validates the Murmur agent configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/murmur/internal/models"
)

// Duration wraps time.Duration so yaml values can be written as "30s", "5m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ConnectivityConfig configures the connectivity probe.
type ConnectivityConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	// Address is the endpoint dialed to decide up/down.
	Address string   `yaml:"address"`
	Timeout Duration `yaml:"timeout"`
}

// ProcessConfig configures the named-process liveness probe.
type ProcessConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	// Names lists the process names to watch.
	Names []string `yaml:"names"`
	// StartCommands maps a process name to the command used to restart it.
	StartCommands map[string][]string `yaml:"start_commands"`
}

// TempDirConfig configures the directory-size probe and the cleanup fixer.
type TempDirConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	// Path defaults to os.TempDir() when empty.
	Path string `yaml:"path"`
	// MaxFileAge is the age past which the cleanup fixer deletes files.
	MaxFileAge Duration `yaml:"max_file_age"`
}

// MonitorsConfig groups the per-monitor sections.
type MonitorsConfig struct {
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Process      ProcessConfig      `yaml:"process"`
	TempDir      TempDirConfig      `yaml:"tempdir"`
}

// RuleConfig is the on-disk form of one detection rule.
type RuleConfig struct {
	ID         string   `yaml:"id"`
	Kinds      []string `yaml:"kinds"`
	ClearKinds []string `yaml:"clear_kinds"`
	Target     string   `yaml:"target"`
	Threshold  int      `yaml:"threshold"`
	MinValue   int64    `yaml:"min_value"`
	Window     Duration `yaml:"window"`
	Fixer      string   `yaml:"fixer"`
	Cooldown   Duration `yaml:"cooldown"`
}

// HistoryConfig bounds the audit log retention.
type HistoryConfig struct {
	MaxRecords int      `yaml:"max_records"`
	MaxAge     Duration `yaml:"max_age"`
	// KeepRecent records are never evicted regardless of age.
	KeepRecent    int      `yaml:"keep_recent"`
	PruneInterval Duration `yaml:"prune_interval"`
}

// Config holds the full agent configuration. Loaded once at startup,
// immutable afterwards.
type Config struct {
	Listen             string         `yaml:"listen"`
	Monitors           MonitorsConfig `yaml:"monitors"`
	Rules              []RuleConfig   `yaml:"rules"`
	FixTimeout         Duration       `yaml:"fix_timeout"`
	MaxConcurrentFixes int            `yaml:"max_concurrent_fixes"`
	History            HistoryConfig  `yaml:"history"`
}

// DefaultConfig returns the default configuration, mirroring the stock
// rule set: repeated connectivity drops trigger a reconnect, a frozen or
// missing watched process triggers a restart, temp-dir growth triggers a
// cleanup.
func DefaultConfig() *Config {
	return &Config{
		Listen: "127.0.0.1:7467",
		Monitors: MonitorsConfig{
			Connectivity: ConnectivityConfig{
				Enabled:  true,
				Interval: Duration(5 * time.Second),
				Address:  "8.8.8.8:53",
				Timeout:  Duration(3 * time.Second),
			},
			Process: ProcessConfig{
				Enabled:       false,
				Interval:      Duration(10 * time.Second),
				Names:         []string{},
				StartCommands: map[string][]string{},
			},
			TempDir: TempDirConfig{
				Enabled:    true,
				Interval:   Duration(10 * time.Minute),
				MaxFileAge: Duration(24 * time.Hour),
			},
		},
		Rules: []RuleConfig{
			{
				ID:         "wifi_instability",
				Kinds:      []string{string(models.KindConnDown)},
				ClearKinds: []string{string(models.KindConnUp)},
				Threshold:  2,
				Window:     Duration(5 * time.Minute),
				Fixer:      "reconnect",
				Cooldown:   Duration(10 * time.Minute),
			},
			{
				ID:         "proc_freeze",
				Kinds:      []string{string(models.KindProcFrozen), string(models.KindProcMissing)},
				ClearKinds: []string{string(models.KindProcRunning)},
				Threshold:  1,
				Window:     Duration(time.Minute),
				Fixer:      "restartproc",
				Cooldown:   Duration(5 * time.Minute),
			},
			{
				ID:        "temp_files",
				Kinds:     []string{string(models.KindDirSize)},
				Threshold: 1,
				MinValue:  2 << 30, // 2 GiB
				Window:    Duration(time.Hour),
				Fixer:     "tempclean",
				Cooldown:  Duration(2 * time.Hour),
			},
		},
		FixTimeout:         Duration(30 * time.Second),
		MaxConcurrentFixes: 4,
		History: HistoryConfig{
			MaxRecords:    10000,
			MaxAge:        Duration(7 * 24 * time.Hour),
			KeepRecent:    100,
			PruneInterval: Duration(10 * time.Minute),
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromHome loads configuration from ~/.murmur/config.yaml.
func LoadConfigFromHome() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	path := filepath.Join(home, ".murmur", "config.yaml")
	return LoadConfig(path)
}

// Validate checks that the configuration is usable. Any error here is
// fatal at startup; nothing else about the config is fatal.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.FixTimeout <= 0 {
		return fmt.Errorf("fix_timeout must be positive")
	}
	if c.MaxConcurrentFixes < 1 {
		return fmt.Errorf("max_concurrent_fixes must be at least 1")
	}
	if c.History.KeepRecent < 0 {
		return fmt.Errorf("history.keep_recent cannot be negative")
	}

	if c.Monitors.Connectivity.Enabled {
		if c.Monitors.Connectivity.Interval <= 0 {
			return fmt.Errorf("connectivity monitor interval must be positive")
		}
		if c.Monitors.Connectivity.Address == "" {
			return fmt.Errorf("connectivity monitor address cannot be empty")
		}
	}
	if c.Monitors.Process.Enabled {
		if c.Monitors.Process.Interval <= 0 {
			return fmt.Errorf("process monitor interval must be positive")
		}
		if len(c.Monitors.Process.Names) == 0 {
			return fmt.Errorf("process monitor enabled but no process names configured")
		}
	}
	if c.Monitors.TempDir.Enabled && c.Monitors.TempDir.Interval <= 0 {
		return fmt.Errorf("tempdir monitor interval must be positive")
	}

	seen := make(map[string]bool)
	for i, r := range c.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: id cannot be empty", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = true
		if len(r.Kinds) == 0 {
			return fmt.Errorf("rule %q: at least one observation kind required", r.ID)
		}
		if r.Threshold < 1 {
			return fmt.Errorf("rule %q: threshold must be at least 1", r.ID)
		}
		if r.Window <= 0 {
			return fmt.Errorf("rule %q: window must be positive", r.ID)
		}
		if r.Cooldown <= 0 {
			return fmt.Errorf("rule %q: cooldown must be positive", r.ID)
		}
		if r.Fixer == "" {
			return fmt.Errorf("rule %q: fixer cannot be empty", r.ID)
		}
	}
	return nil
}

// BuildRules converts the configured rules to their domain form.
func (c *Config) BuildRules() []models.Rule {
	rules := make([]models.Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		rule := models.Rule{
			ID:          r.ID,
			Target:      r.Target,
			Threshold:   r.Threshold,
			MinValue:    r.MinValue,
			Window:      r.Window.Std(),
			TargetFixer: r.Fixer,
			Cooldown:    r.Cooldown.Std(),
		}
		for _, k := range r.Kinds {
			rule.Kinds = append(rule.Kinds, models.ObservationKind(k))
		}
		for _, k := range r.ClearKinds {
			rule.ClearKinds = append(rule.ClearKinds, models.ObservationKind(k))
		}
		rules = append(rules, rule)
	}
	return rules
}
