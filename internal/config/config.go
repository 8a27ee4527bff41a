package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration
type Config struct {
	ARI       ARIConfig       `yaml:"ari"`
	Dial      DialConfig      `yaml:"dial"`
	Recording RecordingConfig `yaml:"recording"`
	Control   ControlConfig   `yaml:"control"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Verbose   bool            `yaml:"verbose"`
}

type ARIConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Trunk    string `yaml:"trunk"`
	App      string `yaml:"app"`
}

type DialConfig struct {
	OutboundNumber     string `yaml:"outbound_number"`
	OutboundNumberFile string `yaml:"outbound_number_file"`
	TargetEndpoint     string `yaml:"target_endpoint"`
	TargetExtension    string `yaml:"target_extension"`
	TargetContext      string `yaml:"target_context"`
	CallTimeout        int    `yaml:"call_timeout"` // seconds, passed to originate
	MaxConcurrent      int    `yaml:"max_concurrent"`
	CallerID           string `yaml:"caller_id"`
}

type RecordingConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

type ControlConfig struct {
	Port   int    `yaml:"port"`
	Secret string `yaml:"secret"`
}

type MySQLConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Database      string `yaml:"database"`
	Table         string `yaml:"table"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	MaxIdleConns  int    `yaml:"max_idle_conns"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load builds the configuration. An optional YAML file (ARIDIALER_CONFIG)
// provides base values; environment variables always win, so a /start
// re-trigger picks up whatever the operator exported since boot.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("ARIDIALER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ARI: ARIConfig{
			App: "outbound_dialer",
		},
		Dial: DialConfig{
			TargetExtension: "777",
			TargetContext:   "default2",
			CallTimeout:     30,
			MaxConcurrent:   1,
		},
		Recording: RecordingConfig{
			Format: "wav",
		},
		Control: ControlConfig{
			Port: 3000,
		},
		MySQL: MySQLConfig{
			Port:         3306,
			Table:        "call_leg_timelines",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
	}
}

func overrideWithEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&cfg.ARI.URL, "ARI_URL")
	setStr(&cfg.ARI.Username, "ARI_USERNAME")
	setStr(&cfg.ARI.Password, "ARI_PASSWORD")
	setStr(&cfg.ARI.Trunk, "ARI_TRUNK")
	setStr(&cfg.ARI.App, "STASIS_APP")

	setStr(&cfg.Dial.OutboundNumber, "OUTBOUND_NUMBER")
	setStr(&cfg.Dial.OutboundNumberFile, "OUTBOUND_NUMBER_FILE")
	setStr(&cfg.Dial.TargetEndpoint, "TARGET_ENDPOINT")
	setStr(&cfg.Dial.TargetExtension, "TARGET_EXTENSION")
	setStr(&cfg.Dial.TargetContext, "TARGET_CONTEXT")
	setInt(&cfg.Dial.CallTimeout, "CALL_TIMEOUT")
	setStr(&cfg.Dial.CallerID, "CALLER_ID")

	// MAX_CC is handled apart from setInt so a non-numeric value fails
	// validation instead of silently keeping the default.
	if v := os.Getenv("MAX_CC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dial.MaxConcurrent = n
		} else {
			cfg.Dial.MaxConcurrent = -1
		}
	}

	setStr(&cfg.Recording.Dir, "RECORDINGS_DIR")
	setStr(&cfg.Recording.Format, "RECORDING_FORMAT")

	setInt(&cfg.Control.Port, "CONTROL_PORT")
	setStr(&cfg.Control.Secret, "CONTROL_SECRET")

	setStr(&cfg.MySQL.Host, "MYSQL_HOST")
	setInt(&cfg.MySQL.Port, "MYSQL_PORT")
	setStr(&cfg.MySQL.Username, "MYSQL_USER")
	setStr(&cfg.MySQL.Password, "MYSQL_PASSWORD")
	setStr(&cfg.MySQL.Database, "MYSQL_DATABASE")
	setStr(&cfg.MySQL.Table, "MYSQL_TABLE")
	setInt(&cfg.MySQL.RetentionDays, "MYSQL_RETENTION_DAYS")

	if v := os.Getenv("VERBOSE"); v == "1" || v == "true" {
		cfg.Verbose = true
	}
}

// Validate checks mandatory fields. Violations are fatal at start.
func (c *Config) Validate() error {
	if c.ARI.URL == "" {
		return fmt.Errorf("ARI_URL is required")
	}
	if c.ARI.Username == "" || c.ARI.Password == "" {
		return fmt.Errorf("ARI_USERNAME and ARI_PASSWORD are required")
	}
	if c.ARI.Trunk == "" {
		return fmt.Errorf("ARI_TRUNK is required")
	}
	if c.Dial.OutboundNumber == "" && c.Dial.OutboundNumberFile == "" {
		return fmt.Errorf("one of OUTBOUND_NUMBER or OUTBOUND_NUMBER_FILE is required")
	}
	if c.Dial.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CC must be a positive integer")
	}
	if c.Dial.CallTimeout <= 0 {
		return fmt.Errorf("CALL_TIMEOUT must be a positive integer")
	}
	if c.Recording.Dir == "" {
		return fmt.Errorf("RECORDINGS_DIR is required")
	}
	return nil
}

// PartnerEndpoint is the endpoint the second leg is originated to: an
// explicit TARGET_ENDPOINT if configured, otherwise the local extension.
func (c *Config) PartnerEndpoint() string {
	if c.Dial.TargetEndpoint != "" {
		return c.Dial.TargetEndpoint
	}
	return fmt.Sprintf("Local/%s@%s", c.Dial.TargetExtension, c.Dial.TargetContext)
}

// TrunkEndpoint builds the outbound trunk endpoint for a destination number.
func (c *Config) TrunkEndpoint(number string) string {
	return fmt.Sprintf("PJSIP/%s@%s", number, c.ARI.Trunk)
}

// Enabled reports whether persistence is configured at all.
func (c *MySQLConfig) Enabled() bool {
	return c.Host != "" && c.Database != ""
}

// DSN returns the Data Source Name for MySQL.
func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}
