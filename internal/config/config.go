package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models brosync.yml. It is loaded once and passed by value to
// component constructors; nothing mutates it after Load.
type Config struct {
	Registry struct {
		Token          string `yaml:"token"`
		ProjectID      string `yaml:"project_id"`
		Demo           bool   `yaml:"demo"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"registry"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	XMLDir string `yaml:"xml_dir"`
	Runner struct {
		Workers           int `yaml:"workers"`
		PassBudgetSeconds int `yaml:"pass_budget_seconds"`
		IntervalSeconds   int `yaml:"interval_seconds"`
	} `yaml:"runner"`
	Server struct {
		Listen string `yaml:"listen"`
		Token  string `yaml:"token"`
	} `yaml:"server"`
	Defaults struct {
		// Party used for demo deliveries regardless of the well owner.
		DemoAccountableParty string `yaml:"demo_accountable_party"`
	} `yaml:"defaults"`
}

// Load reads and validates config from path. A missing file yields defaults,
// so a fully env-configured deployment needs no file at all.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid config yaml: %w", err)
	}
	return cfg, nil
}

// Default returns the baseline configuration.
func Default() Config {
	var cfg Config
	cfg.Registry.TimeoutSeconds = 30
	cfg.Database.URL = "file:brosync.db"
	cfg.XMLDir = "registrations"
	cfg.Runner.Workers = 4
	cfg.Runner.PassBudgetSeconds = 300
	cfg.Runner.IntervalSeconds = 600
	cfg.Server.Listen = ":8080"
	cfg.Defaults.DemoAccountableParty = "27376655"
	return cfg
}

// Overrides carries environment values resolved by the CLI layer.
type Overrides struct {
	Token     string
	ProjectID string
	Demo      *bool
	DBURL     string
	XMLDir    string
}

// Apply returns a copy of cfg with non-empty overrides applied.
func (c Config) Apply(o Overrides) Config {
	if o.Token != "" {
		c.Registry.Token = o.Token
	}
	if o.ProjectID != "" {
		c.Registry.ProjectID = o.ProjectID
	}
	if o.Demo != nil {
		c.Registry.Demo = *o.Demo
	}
	if o.DBURL != "" {
		c.Database.URL = o.DBURL
	}
	if o.XMLDir != "" {
		c.XMLDir = o.XMLDir
	}
	return c
}

// Validate ensures everything the sync engine needs before touching a row.
func (c Config) Validate() error {
	if c.Registry.Token == "" {
		return fmt.Errorf("registry token is required (config registry.token or REGISTRY_TOKEN)")
	}
	if c.Registry.ProjectID == "" {
		return fmt.Errorf("registry project id is required (config registry.project_id or REGISTRY_PROJECT_ID)")
	}
	if c.Registry.TimeoutSeconds <= 0 {
		return fmt.Errorf("registry.timeout_seconds must be positive")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.XMLDir == "" {
		return fmt.Errorf("xml_dir is required")
	}
	if c.Runner.Workers <= 0 {
		return fmt.Errorf("runner.workers must be positive")
	}
	return nil
}

// RegistryTimeout is the per-call deadline for registry requests.
func (c Config) RegistryTimeout() time.Duration {
	return time.Duration(c.Registry.TimeoutSeconds) * time.Second
}

// PassBudget is the overall deadline for one sync pass.
func (c Config) PassBudget() time.Duration {
	return time.Duration(c.Runner.PassBudgetSeconds) * time.Second
}

// Interval is the sleep between passes in loop mode.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Runner.IntervalSeconds) * time.Second
}
