package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tidwall/gjson"
)

// Config represents the complete gateway configuration.
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Backend cluster configuration
	Backend BackendConfig `mapstructure:"backend"`

	// Governance rule configuration
	Governance GovernanceFileConfig `mapstructure:"governance"`

	// Traffic capture configuration
	Capture CaptureConfig `mapstructure:"capture"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains listener-related settings.
type ServerConfig struct {
	// Addr to accept proxied traffic on (e.g., ":9200")
	Addr string `mapstructure:"addr"`

	// AdminAddr serves the read-only admin API and metrics. Empty
	// disables it.
	AdminAddr string `mapstructure:"admin_addr"`

	// ReadTimeout for client connections
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout for client connections
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout closes connections with no traffic in either direction
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// BackendConfig contains settings for the proxied search cluster.
type BackendConfig struct {
	// Addr is the host:port of the backend
	Addr string `mapstructure:"addr"`

	// DialTimeout bounds backend connection establishment
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// GovernanceFileConfig points at the governance rule file and bounds the
// live-path request buffer.
type GovernanceFileConfig struct {
	// RulesFile is the path to the governance rules JSON document
	RulesFile string `mapstructure:"rules_file"`

	// MaxRequestBytes caps request buffering on the live path
	MaxRequestBytes int `mapstructure:"max_request_bytes"`
}

// CaptureConfig contains traffic capture settings.
type CaptureConfig struct {
	// Enabled determines if traffic capture is active
	Enabled bool `mapstructure:"enabled"`

	// MaxContentBytes caps captured body size per message
	MaxContentBytes int `mapstructure:"max_content_bytes"`

	// KeepResponseBody captures response bodies in addition to
	// status and headers
	KeepResponseBody bool `mapstructure:"keep_response_body"`

	// SAMLUserIDXPath overrides the XPath used to pull the user id out of
	// SAML assertions
	SAMLUserIDXPath string `mapstructure:"saml_user_id_xpath"`

	// SAMLTokenCookieName overrides the session cookie name
	SAMLTokenCookieName string `mapstructure:"saml_token_cookie_name"`

	// Targets lists the capture sinks; every sink receives every record
	Targets []TargetConfig `mapstructure:"targets"`
}

// TargetConfig defines one capture sink.
type TargetConfig struct {
	// Type of target: "log", "sqlite", "kafka"
	Type string `mapstructure:"type"`

	// Path for file-based targets (log file, sqlite database)
	Path string `mapstructure:"path"`

	// MaxSizeMB for log rotation
	MaxSizeMB int `mapstructure:"max_size_mb"`

	// MaxBackups for log rotation
	MaxBackups int `mapstructure:"max_backups"`

	// MaxAgeDays for log rotation
	MaxAgeDays int `mapstructure:"max_age_days"`

	// Brokers for kafka targets
	Brokers []string `mapstructure:"brokers"`

	// Topic for kafka targets
	Topic string `mapstructure:"topic"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format is the log format: text, json
	Format string `mapstructure:"format"`

	// Output is where to write logs: stdout, stderr, or file path
	Output string `mapstructure:"output"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":9200",
			AdminAddr:    ":9600",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Backend: BackendConfig{
			Addr:        "localhost:9201",
			DialTimeout: 10 * time.Second,
		},
		Governance: GovernanceFileConfig{
			RulesFile:       "governance.json",
			MaxRequestBytes: DefaultMaxCaptureBytes,
		},
		Capture: CaptureConfig{
			Enabled:         true,
			MaxContentBytes: DefaultMaxCaptureBytes,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// It searches for config files in the following order:
// 1. Explicit path (if provided)
// 2. ./gateway.yaml, ./gateway.yml, ./gateway.json, ./gateway.toml
// 3. $HOME/.gateway/config.yaml
// 4. /etc/gateway/config.yaml
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("gateway")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.gateway")
	v.AddConfigPath("/etc/gateway")

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found is OK - use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromReader loads configuration from raw bytes.
// Useful for testing or embedded configs.
func LoadConfigFromReader(configType string, data []byte) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	v.SetConfigType(configType)

	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Server defaults
	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.admin_addr", defaults.Server.AdminAddr)
	v.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", defaults.Server.IdleTimeout)

	// Backend defaults
	v.SetDefault("backend.addr", defaults.Backend.Addr)
	v.SetDefault("backend.dial_timeout", defaults.Backend.DialTimeout)

	// Governance defaults
	v.SetDefault("governance.rules_file", defaults.Governance.RulesFile)
	v.SetDefault("governance.max_request_bytes", defaults.Governance.MaxRequestBytes)

	// Capture defaults
	v.SetDefault("capture.enabled", defaults.Capture.Enabled)
	v.SetDefault("capture.max_content_bytes", defaults.Capture.MaxContentBytes)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output", defaults.Logging.Output)
}

// LoadGovernanceConfig reads and compiles a governance rules document:
//
//	{
//	  "rules": [
//	    {"ruleClass": "<name>", "ruleConfig": {"<param>": <value>, ...}},
//	    ...
//	  ],
//	  "bypassKey": "<string|null>",
//	  "disableAllGovernanceRules": <bool>
//	}
//
// Rule classes may be bare names or fully qualified legacy names. String
// parameter values pass through verbatim; anything else is re-serialized to
// its compact JSON text before reaching the rule constructor.
func LoadGovernanceConfig(path string) (*GovernanceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read governance config: %w", err)
	}
	return ParseGovernanceConfig(data)
}

// ParseGovernanceConfig compiles a governance rules document from bytes.
func ParseGovernanceConfig(data []byte) (*GovernanceConfig, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("governance config is not valid JSON")
	}
	root := gjson.ParseBytes(data)

	cfg := &GovernanceConfig{
		DisableAll: objMember(root, "disableAllGovernanceRules").Bool(),
	}
	if key := objMember(root, "bypassKey"); key.Type == gjson.String {
		cfg.BypassKey = key.String()
	}

	var err error
	objMember(root, "rules").ForEach(func(_, entry gjson.Result) bool {
		class := objMember(entry, "ruleClass").String()
		if class == "" {
			err = fmt.Errorf("rule entry missing ruleClass")
			return false
		}

		params := make(map[string]string)
		objMember(entry, "ruleConfig").ForEach(func(key, value gjson.Result) bool {
			params[key.String()] = paramText(value)
			return true
		})

		rule, ruleErr := NewRule(class, params)
		if ruleErr != nil {
			err = ruleErr
			return false
		}
		name := class
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		cfg.Rules = append(cfg.Rules, ConfiguredRule{Name: name, Rule: rule})
		return true
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// paramText renders a rule config value the way constructors expect it:
// strings verbatim, everything else as compact JSON.
func paramText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(v.Raw)); err != nil {
		return v.Raw
	}
	return buf.String()
}

// BuildCaptureTarget assembles the configured sinks behind a single fanout.
// The returned closers release target resources on shutdown.
func (c *CaptureConfig) BuildCaptureTarget() (*Fanout, []func() error, error) {
	var targets []CaptureTarget
	var closers []func() error

	for _, tc := range c.Targets {
		switch tc.Type {
		case "log":
			t := NewLogTarget(LogTargetConfig{
				Path:       tc.Path,
				MaxSizeMB:  tc.MaxSizeMB,
				MaxBackups: tc.MaxBackups,
				MaxAgeDays: tc.MaxAgeDays,
			})
			targets = append(targets, t)
			closers = append(closers, t.Close)

		case "sqlite":
			t, err := NewSQLiteTarget(tc.Path)
			if err != nil {
				return nil, nil, fmt.Errorf("sqlite target: %w", err)
			}
			targets = append(targets, t)
			closers = append(closers, t.Close)

		case "kafka":
			t := NewKafkaTarget(KafkaTargetConfig{Brokers: tc.Brokers, Topic: tc.Topic})
			targets = append(targets, t)
			closers = append(closers, t.Close)

		default:
			return nil, nil, fmt.Errorf("unknown capture target type: %s", tc.Type)
		}
	}

	return NewFanout(targets...), closers, nil
}

// WriteExampleConfig writes an example configuration file.
func WriteExampleConfig(path string) error {
	example := `# OpenSearch Traffic Gateway Configuration

server:
  # Address to accept proxied traffic on
  addr: ":9200"

  # Read-only admin API and metrics. Empty disables it.
  admin_addr: ":9600"

  # Timeouts
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s

backend:
  # The OpenSearch cluster to proxy
  addr: "localhost:9201"
  dial_timeout: 10s

governance:
  # Governance rules document
  rules_file: "governance.json"

  # Cap on buffered request size on the live path
  max_request_bytes: 209715200

capture:
  # Enable/disable traffic capture
  enabled: true

  # Cap on captured body size per message; larger bodies are truncated
  max_content_bytes: 209715200

  # Capture response bodies in addition to status and headers
  keep_response_body: false

  # SAML identity extraction overrides (defaults shown)
  # saml_user_id_xpath: "/Assertion/Subject/NameID[text()]"
  # saml_token_cookie_name: "security_authentication_saml1"

  # Capture sinks; every sink receives every record
  targets:
    - type: log
      path: "/var/log/gateway/captured-traffic.log"
      max_size_mb: 512
      max_backups: 10
      max_age_days: 14

    # - type: sqlite
    #   path: "/var/lib/gateway/capture.db"

    # - type: kafka
    #   brokers: ["localhost:9092"]
    #   topic: "captured-traffic"

logging:
  # Log level: debug, info, warn, error
  level: "info"

  # Log format: text, json
  format: "text"

  # Output: stdout, stderr, or file path
  output: "stderr"
`

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
