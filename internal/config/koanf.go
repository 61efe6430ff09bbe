package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "LIVESYNC_"

	// ConfigPathEnvVar names a config file when no path is passed to Load.
	ConfigPathEnvVar = "LIVESYNC_CONFIG"
)

// DefaultConfigPaths are searched in order when no file is named.
var DefaultConfigPaths = []string{
	"livesync.yaml",
	"config/livesync.yaml",
}

// sliceConfigPaths accept comma-separated strings from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"gateway.keys",
}

// Load builds the configuration from defaults, the YAML file at path (or
// the first one found), and LIVESYNC_ environment variables, then
// validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if len(cfg.Panels) == 0 {
		cfg.Panels = DefaultPanels()
	}
	if len(cfg.Groups) == 0 {
		cfg.Groups = DefaultGroups()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the validated built-in configuration.
func Default() *Config {
	cfg := defaultConfig()
	cfg.Panels = DefaultPanels()
	cfg.Groups = DefaultGroups()
	return cfg
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps LIVESYNC_BACKEND__BASE_URL to backend.base_url.
// A double underscore separates sections so field names keep theirs.
func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field uniqueness.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, len(verrs))
		for i, fe := range verrs {
			msgs[i] = fmt.Sprintf("%s failed %s", fe.Namespace(), describeTag(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	panels := make(map[string]struct{}, len(c.Panels))
	for _, p := range c.Panels {
		if _, dup := panels[p.ID]; dup {
			return fmt.Errorf("duplicate panel id %q", p.ID)
		}
		panels[p.ID] = struct{}{}
	}
	groups := make(map[string]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		if _, dup := groups[g.Name]; dup {
			return fmt.Errorf("duplicate group name %q", g.Name)
		}
		groups[g.Name] = struct{}{}
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
