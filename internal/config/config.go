// Package config loads the service configuration: tier defaults, an optional
// YAML file validated against an embedded JSON schema, then environment
// overrides.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// DefaultPath is the config file looked up when no path is given.
const DefaultPath = "trialrisk.yaml"

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "trialrisk.schema.json"

// Environment variables that override file settings.
const (
	EnvConfig    = "TRIALRISK_CONFIG"
	EnvTier      = "TRIALRISK_TIER"
	EnvDebug     = "TRIALRISK_DEBUG"
	EnvDetector  = "TRIALRISK_DETECTOR"
	EnvDataDir   = "TRIALRISK_DATA_DIR"
	EnvOutputDir = "TRIALRISK_OUTPUT_DIR"
	EnvSchedule  = "TRIALRISK_SCHEDULE"
	EnvPort      = "TRIALRISK_PORT"
)

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add config schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return schema, nil
}

// FromEnv loads the file named by TRIALRISK_CONFIG, or DefaultPath.
func FromEnv() (*domain.Config, error) {
	return Load(os.Getenv(EnvConfig))
}

// Load builds the configuration. An empty path means DefaultPath, which may
// be absent; an explicit path must exist.
func Load(path string) (*domain.Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		data = nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return Parse(data)
}

// Parse applies YAML data (possibly empty) and the environment on top of the
// tier defaults.
func Parse(data []byte) (*domain.Config, error) {
	var raw map[string]any
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: config is not valid YAML: %v", domain.ErrInvalidInput, err)
		}
		if err := Validate(raw); err != nil {
			return nil, err
		}
	}

	tier := domain.TierCommunity
	if t, ok := raw["tier"].(string); ok {
		tier = domain.Tier(t)
	}
	if t := os.Getenv(EnvTier); t != "" {
		tier = domain.Tier(strings.ToLower(t))
	}

	cfg := domain.DefaultConfig()
	if tier == domain.TierPro {
		cfg = domain.ProConfig()
	}
	if raw != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	}
	cfg.Tier = tier

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks a decoded YAML document against the config schema.
func Validate(doc map[string]any) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(leafErrors(verr), "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func leafErrors(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		path := strings.Join(err.InstanceLocation, ".")
		if path == "" {
			path = "(root)"
		}
		return []string{path + ": " + err.Error()}
	}
	var out []string
	for _, cause := range err.Causes {
		out = append(out, leafErrors(cause)...)
	}
	return out
}

func applyEnv(cfg *domain.Config) error {
	if os.Getenv(EnvDebug) == "true" {
		cfg.Logging.Level = "debug"
	}
	if v := os.Getenv(EnvDetector); v != "" {
		cfg.Anomaly.Method = strings.ToLower(v)
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.Pipeline.DataDir = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		cfg.Pipeline.OutputDir = v
	}
	if v, ok := os.LookupEnv(EnvSchedule); ok {
		cfg.Scheduler.Cron = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%w: %s=%q is not a valid port", domain.ErrInvalidInput, EnvPort, v)
		}
		cfg.Server.Port = port
	}
	return nil
}
