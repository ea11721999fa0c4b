package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	goenv "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// DotEnvFile is loaded from the working directory when present. Variables
// already set in the process environment win.
var DotEnvFile = ".env"

// Load builds and validates the configuration. configPath may be empty, in
// which case only defaults, .env and the process environment are used.
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read layers the configuration sources without validating the result.
// The doctor uses it to report every problem at once.
func Read(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}
		if err := loadConfigFile(absPath, cfg); err != nil {
			return nil, err
		}
		cfg.SourceFile = absPath
	}

	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", DotEnvFile, err)
	}

	if _, err := goenv.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	size, err := parseMaxBodySize(cfg.MaxBodySizeRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid max_body_size %q: %w", cfg.MaxBodySizeRaw, err)
	}
	cfg.MaxBodySize = size
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", path)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	interpolateNode(&root)

	if err := root.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// interpolateNode expands ${VAR} references in every scalar of the document.
func interpolateNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		n.Value = interpolateEnv(n.Value)
		return
	}
	for _, child := range n.Content {
		interpolateNode(child)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate checks required and structural settings, stopping at the first
// problem.
func Validate(cfg *Config) error {
	if err := RequireValue("WEBHOOK_SECRET", cfg.WebhookSecret); err != nil {
		return err
	}
	if err := RequireValue("DATABASE_URL", cfg.DatabaseURL); err != nil {
		return err
	}

	if !ValidLogLevel(cfg.LogLevel) {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("log_format must be json or text (got %q)", cfg.LogFormat)
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("listen address %q: %w", cfg.Listen, err)
	}
	if cfg.InsertTimeout <= 0 {
		return fmt.Errorf("insert_timeout must be positive")
	}
	return nil
}

// RequireValue fails with ErrConfigurationMissing when value is empty or still
// holds an unexpanded ${VAR} reference.
func RequireValue(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is not set", ErrConfigurationMissing, name)
	}
	if m := envVarPattern.FindStringSubmatch(value); m != nil {
		return fmt.Errorf("%w: %s references unset environment variable ${%s}", ErrConfigurationMissing, name, m[1])
	}
	return nil
}

// ValidLogLevel reports whether level names a supported log level.
func ValidLogLevel(level string) bool {
	_, ok := validLogLevels[strings.ToLower(level)]
	return ok
}

var validLogLevels = map[string]struct{}{
	"debug":   {},
	"info":    {},
	"warn":    {},
	"warning": {},
	"error":   {},
}
