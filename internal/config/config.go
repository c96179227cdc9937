// Package config loads and validates the governance circuit's configuration:
// detection thresholds, deliberation templates, and gate composition.
// Structure and validation style follow the teacher's config package exactly
// — a root Config with one field per component, Defaults(), Load(), and a
// Validate() that accumulates every violation instead of failing fast.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// builtinMetricNames are the seven metric names spec.md's data model
// recognizes without any host registration.
var builtinMetricNames = map[string]bool{
	"file-count":       true,
	"directory-depth":  true,
	"filename-entropy": true,
	"self-reference":   true,
	"growth-rate":      true,
	"reflex-pattern":   true,
	"custom":           true,
}

// builtinPredicates are the gate ConditionCheck predicates registered out of
// the box, matching S2's required condition set.
var builtinPredicates = map[string]bool{
	"logging_enabled":    true,
	"rollback_available": true,
	"scope_bounded":      true,
}

// Config is the root configuration object for one circuit-hosting process.
type Config struct {
	Metrics       []MetricConfig      `yaml:"metrics"`
	Deliberation  DeliberationConfig  `yaml:"deliberation"`
	Gates         GatesConfig         `yaml:"gates"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// MetricConfig configures one detection threshold.
type MetricConfig struct {
	Name      string  `yaml:"name"`
	Threshold float64 `yaml:"threshold"`
	Enabled   bool    `yaml:"enabled"`
}

// DimensionConfig is one weighted question within a deliberation template.
type DimensionConfig struct {
	Name     string  `yaml:"name"`
	Question string  `yaml:"question"`
	Weight   float64 `yaml:"weight"`
}

// TemplateConfig is a named, weighted set of deliberation dimensions.
type TemplateConfig struct {
	Name       string            `yaml:"name"`
	Dimensions []DimensionConfig `yaml:"dimensions"`
}

// DeliberationConfig configures the Deliberator: available templates and the
// per-provider vote deadline.
type DeliberationConfig struct {
	Templates       []TemplateConfig `yaml:"templates"`
	ProviderTimeout time.Duration    `yaml:"provider_timeout"`
}

// GatesConfig configures the Intervenor's predicate registry and default
// gate deadlines.
type GatesConfig struct {
	Predicates            []string      `yaml:"predicates"`
	HumanApprovalTimeout  time.Duration `yaml:"human_approval_timeout"`
	MultiApproveTimeout   time.Duration `yaml:"multi_approve_timeout"`
}

// StorageConfig configures the bbolt-backed audit/event store.
type StorageConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// ObservabilityConfig configures the metrics/log surface.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Defaults returns a Config populated with the same built-in templates named
// in spec.md §4.3 (btb_dimensions, self_modification, minimal) and the
// example threshold set from spec.md §6.
func Defaults() Config {
	return Config{
		Metrics: []MetricConfig{
			{Name: "file-count", Threshold: 100, Enabled: true},
			{Name: "filename-entropy", Threshold: 0.85, Enabled: true},
		},
		Deliberation: DeliberationConfig{
			Templates: []TemplateConfig{
				{
					Name: "btb_dimensions",
					Dimensions: []DimensionConfig{
						{Name: "legibility", Question: "Is the proposed action legible to a reviewer?", Weight: 0.2},
						{Name: "reversibility", Question: "How reversible is the proposed action?", Weight: 0.3},
						{Name: "auditability", Question: "Can the action be audited after the fact?", Weight: 0.2},
						{Name: "governance", Question: "Does the action respect governance boundaries?", Weight: 0.2},
						{Name: "paradigm-safety", Question: "Does the action risk a paradigm shift in behavior?", Weight: 0.1},
					},
				},
				{
					Name: "self_modification",
					Dimensions: []DimensionConfig{
						{Name: "scope-limitation", Question: "Is the modification scope bounded?", Weight: 0.25},
						{Name: "human-veto", Question: "Can a human veto the modification?", Weight: 0.25},
						{Name: "rollback-capability", Question: "Can the modification be rolled back?", Weight: 0.25},
						{Name: "transparency", Question: "Is the modification transparent to operators?", Weight: 0.25},
					},
				},
				{
					Name: "minimal",
					Dimensions: []DimensionConfig{
						{Name: "risk-level", Question: "What is the overall risk level?", Weight: 0.5},
						{Name: "reversibility", Question: "How reversible is the proposed action?", Weight: 0.5},
					},
				},
			},
			ProviderTimeout: 5 * time.Second,
		},
		Gates: GatesConfig{
			Predicates:           []string{"logging_enabled", "rollback_available", "scope_bounded"},
			HumanApprovalTimeout: 30 * time.Second,
			MultiApproveTimeout:  30 * time.Second,
		},
		Storage: StorageConfig{
			Path:          "govcircuit.db",
			RetentionDays: 30,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9090",
			LogLevel:    "info",
		},
	}
}

// Load reads the YAML file at path, merges it over Defaults(), and validates
// the result. A missing file is an error; an empty file yields the defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate %q: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks cfg for internal consistency, accumulating every violation
// found into a single multi-line error rather than stopping at the first.
func Validate(cfg *Config) error {
	var problems []string

	knownCustom := map[string]bool{}
	for _, m := range cfg.Metrics {
		if m.Name == "" {
			problems = append(problems, "metrics: entry with empty name")
			continue
		}
		if !builtinMetricNames[m.Name] && !knownCustom[m.Name] {
			problems = append(problems, fmt.Sprintf("metrics: unrecognized metric name %q", m.Name))
		}
		if m.Threshold <= 0 {
			problems = append(problems, fmt.Sprintf("metrics[%s]: threshold must be positive, got %v", m.Name, m.Threshold))
		}
	}

	for _, tmpl := range cfg.Deliberation.Templates {
		if tmpl.Name == "" {
			problems = append(problems, "deliberation.templates: entry with empty name")
			continue
		}
		var sum float64
		for _, d := range tmpl.Dimensions {
			sum += d.Weight
		}
		if len(tmpl.Dimensions) > 0 && (sum < 1.0-1e-6 || sum > 1.0+1e-6) {
			problems = append(problems, fmt.Sprintf("deliberation.templates[%s]: dimension weights sum to %v, want 1.0", tmpl.Name, sum))
		}
	}
	if cfg.Deliberation.ProviderTimeout <= 0 {
		problems = append(problems, "deliberation.provider_timeout must be positive")
	}

	for _, p := range cfg.Gates.Predicates {
		if !builtinPredicates[p] {
			problems = append(problems, fmt.Sprintf("gates.predicates: unrecognized predicate %q", p))
		}
	}
	if cfg.Gates.HumanApprovalTimeout <= 0 {
		problems = append(problems, "gates.human_approval_timeout must be positive")
	}
	if cfg.Gates.MultiApproveTimeout <= 0 {
		problems = append(problems, "gates.multi_approve_timeout must be positive")
	}

	if cfg.Storage.Path == "" {
		problems = append(problems, "storage.path must not be empty")
	}
	if cfg.Storage.RetentionDays <= 0 {
		problems = append(problems, "storage.retention_days must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// TemplateByName returns the named deliberation template, or the zero
// TemplateConfig and false if no template by that name is configured.
func (c *Config) TemplateByName(name string) (TemplateConfig, bool) {
	for _, t := range c.Deliberation.Templates {
		if t.Name == name {
			return t, true
		}
	}
	return TemplateConfig{}, false
}

// RecognizedPredicates reports whether every name in names is a registered
// gate predicate, per the configured predicate registry.
func (c *Config) RecognizedPredicates(names []string) bool {
	allowed := make(map[string]bool, len(c.Gates.Predicates))
	for _, p := range c.Gates.Predicates {
		allowed[p] = true
	}
	for _, n := range names {
		if !allowed[n] {
			return false
		}
	}
	return true
}
