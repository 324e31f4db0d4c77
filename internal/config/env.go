package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig recursively substitutes environment variables in a Config.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.SignallingURL = SubstituteEnvVars(cfg.SignallingURL)
	cfg.MoQURL = SubstituteEnvVars(cfg.MoQURL)
	cfg.Secret = SubstituteEnvVars(cfg.Secret)
	cfg.GroupID = SubstituteEnvVars(cfg.GroupID)

	for i, pk := range cfg.AdminPubkeys {
		cfg.AdminPubkeys[i] = SubstituteEnvVars(pk)
	}
	for i, pk := range cfg.PeerPubkeys {
		cfg.PeerPubkeys[i] = SubstituteEnvVars(pk)
	}

	if cfg.Logging != nil {
		cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
		cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
		cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
		cfg.Logging.FilePath = SubstituteEnvVars(cfg.Logging.FilePath)
	}
	if cfg.Metrics != nil {
		cfg.Metrics.Addr = SubstituteEnvVars(cfg.Metrics.Addr)
		cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
	}
}

// GetEnvironment returns the current environment from MARMOT_ENV or ENVIRONMENT,
// defaulting to "development".
func GetEnvironment() string {
	env := os.Getenv("MARMOT_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in the production environment.
func IsProduction() bool {
	return GetEnvironment() == "production"
}
