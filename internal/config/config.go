package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config models alertline.yml.
type Config struct {
	Draft struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"draft"`
	DSL struct {
		DefaultAtTime   string `yaml:"default_at_time"`
		DefaultTimezone string `yaml:"default_timezone"`
	} `yaml:"dsl"`
	Server struct {
		Addr            string `yaml:"addr"`
		BasePath        string `yaml:"base_path"`
		AllowUserHeader bool   `yaml:"allow_user_header"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is an outbound subscriber to the rule event log, typically
// the job scheduler that runs registered rules.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var atTimeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Draft.TTL <= 0 {
		return fmt.Errorf("config.draft.ttl must be > 0")
	}
	if !atTimeRe.MatchString(c.DSL.DefaultAtTime) {
		return fmt.Errorf("config.dsl.default_at_time must be HH:MM, got %q", c.DSL.DefaultAtTime)
	}
	if c.DSL.DefaultTimezone == "" {
		return fmt.Errorf("config.dsl.default_timezone is required")
	}
	if _, err := time.LoadLocation(c.DSL.DefaultTimezone); err != nil {
		return fmt.Errorf("config.dsl.default_timezone: %w", err)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url must be an absolute http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "alertline.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with alertline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses config over the defaults and validates it, so a file
// only needs the keys it overrides.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `draft:
  ttl: 2h

dsl:
  default_at_time: "09:00"
  default_timezone: Europe/Madrid

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allow_user_header: false

metrics:
  enabled: true

# webhooks:
#   - url: http://127.0.0.1:9090/hooks/alertline
#     events: [rule.schedule.registered]
#     secret: change-me
webhooks: []
`
