package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a marmot engine process. It maps
// directly onto the Session bootstrap input: a role, the two transport
// endpoints, the local session secret, and (for a join) the group being
// joined plus the pubkeys the host already trusts.
type Config struct {
	Environment string `yaml:"environment" json:"environment"`

	Role              string   `yaml:"role" json:"role"` // "create" or "join"
	SignallingURL     string   `yaml:"signalling_url" json:"signalling_url"`
	MoQURL            string   `yaml:"moq_url" json:"moq_url"`
	SessionID         string   `yaml:"session_id" json:"session_id"`
	Secret            string   `yaml:"secret" json:"secret"` // hex-encoded 32-byte identity seed
	GroupID           string   `yaml:"group_id,omitempty" json:"group_id,omitempty"`
	AdminPubkeys      []string `yaml:"admin_pubkeys,omitempty" json:"admin_pubkeys,omitempty"`
	PeerPubkeys       []string `yaml:"peer_pubkeys,omitempty" json:"peer_pubkeys,omitempty"`
	BootstrapTimeout  time.Duration `yaml:"bootstrap_timeout" json:"bootstrap_timeout"`
	BootstrapHeartbeat time.Duration `yaml:"bootstrap_heartbeat" json:"bootstrap_heartbeat"`

	Logging *LoggingConfig `yaml:"logging" json:"logging"`
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics"`
}

// LoggingConfig configures the engine's structured logger.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"` // json, pretty
	Output   string `yaml:"output" json:"output"` // stdout, stderr, file
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig configures the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// Role constants.
const (
	RoleCreate = "create"
	RoleJoin   = "join"
)

// LoadFromFile loads configuration from a YAML or JSON file, applies
// environment variable substitution, then fills in defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	SubstituteEnvVarsInConfig(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing JSON or YAML by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the invariants a Session bootstrap requires before the
// controller can be started.
func (cfg *Config) Validate() error {
	switch cfg.Role {
	case RoleCreate, RoleJoin:
	default:
		return fmt.Errorf("config: role must be %q or %q, got %q", RoleCreate, RoleJoin, cfg.Role)
	}
	if cfg.SignallingURL == "" {
		return fmt.Errorf("config: signalling_url is required")
	}
	if cfg.MoQURL == "" {
		return fmt.Errorf("config: moq_url is required")
	}
	if cfg.SessionID == "" {
		return fmt.Errorf("config: session_id is required")
	}
	if cfg.Secret == "" {
		return fmt.Errorf("config: secret is required")
	}
	if cfg.Role == RoleJoin && cfg.GroupID == "" {
		return fmt.Errorf("config: group_id is required when role is %q", RoleJoin)
	}
	return nil
}

// setDefaults fills zero-valued fields with the engine's defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.BootstrapTimeout == 0 {
		cfg.BootstrapTimeout = 60 * time.Second
	}
	if cfg.BootstrapHeartbeat == 0 {
		cfg.BootstrapHeartbeat = 2 * time.Second
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
