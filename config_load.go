package aigateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/protorelay/gateway/registry"
)

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// knownProviderTypes is the closed set a ProviderConfig.Type must match
// (§9 "Dynamic dispatch across provider families" redesign).
var knownProviderTypes = map[string]bool{
	string(registry.KindOpenAIFamily):        true,
	string(registry.KindGeminiFamily):        true,
	string(registry.KindCodeWhispererFamily): true,
	string(registry.KindLocalOpenAICompat):   true,
}

// ValidateConfig validates a Config for correctness: every provider
// references a known type, every category's primary target names an
// existing provider and a model that provider serves, and every
// category ends up with at least one eligible binding once backups are
// accounted for.
func ValidateConfig(cfg Config) error {
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("server.port must be a positive integer")
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}

	for name, p := range cfg.Providers {
		if !knownProviderTypes[p.Type] {
			return fmt.Errorf("provider %q: unknown type %q", name, p.Type)
		}
		if p.Endpoint == "" {
			return fmt.Errorf("provider %q: endpoint is required", name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %q: at least one model is required", name)
		}
		if err := validateCredentials(name, p.Authentication.Credentials); err != nil {
			return err
		}
	}

	if len(cfg.Routing.Categories) == 0 {
		return fmt.Errorf("at least one routing category is required")
	}

	for cat, c := range cfg.Routing.Categories {
		if err := validateTarget(cfg, cat, "primary", c.Primary); err != nil {
			return err
		}
		for i, b := range c.Backups {
			if err := validateTarget(cfg, cat, fmt.Sprintf("backups[%d]", i), b); err != nil {
				return err
			}
		}
		if c.Primary.Provider == "" {
			return fmt.Errorf("category %q: primary target is required", cat)
		}
		switch c.LoadBalancing.Strategy {
		case "", "weighted", "round_robin", "least_connections", "response_time", "single_fallback":
		default:
			return fmt.Errorf("category %q: unknown loadBalancing.strategy %q", cat, c.LoadBalancing.Strategy)
		}
	}

	if cfg.Routing.GlobalSettings.DefaultCategory != "" {
		if _, ok := cfg.Routing.Categories[cfg.Routing.GlobalSettings.DefaultCategory]; !ok {
			return fmt.Errorf("globalSettings.defaultCategory %q has no matching routing category", cfg.Routing.GlobalSettings.DefaultCategory)
		}
	}
	if fp := cfg.Routing.GlobalSettings.FallbackProvider; fp != "" {
		if _, ok := cfg.Providers[fp]; !ok {
			return fmt.Errorf("globalSettings.fallbackProvider %q does not reference a configured provider", fp)
		}
	}

	return nil
}

// validateTarget checks that a CategoryTarget names an existing
// provider whose models list contains the referenced model — the
// "primary routing target must reference an existing provider+model"
// rule applies identically to backups.
func validateTarget(cfg Config, category, label string, t CategoryTarget) error {
	if t.Provider == "" && t.Model == "" {
		return nil // unset backup slot, not an error
	}
	p, ok := cfg.Providers[t.Provider]
	if !ok {
		return fmt.Errorf("category %q %s: provider %q is not configured", category, label, t.Provider)
	}
	if !containsString(p.Models, t.Model) {
		return fmt.Errorf("category %q %s: model %q is not in provider %q's models list", category, label, t.Model, t.Provider)
	}
	return nil
}

func validateCredentials(provider string, c Credentials) error {
	if c.APIKey == "" && len(c.APIKeys) == 0 && len(c.Tokens) == 0 {
		return fmt.Errorf("provider %q: authentication requires apiKey, apiKeys, or tokens", provider)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
