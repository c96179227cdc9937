package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/octoreflex/govcircuit/internal/config"
)

func TestDefaults_PassesValidate(t *testing.T) {
	cfg := config.Defaults()
	if err := config.Validate(&cfg); err != nil {
		t.Fatalf("defaults must validate cleanly: %v", err)
	}
}

func TestValidate_RejectsUnrecognizedMetricName(t *testing.T) {
	cfg := config.Defaults()
	cfg.Metrics = append(cfg.Metrics, config.MetricConfig{Name: "gpu-temp", Threshold: 1, Enabled: true})
	if err := config.Validate(&cfg); err == nil {
		t.Fatal("expected error for unrecognized metric name")
	}
}

func TestValidate_RejectsBadWeightSum(t *testing.T) {
	cfg := config.Defaults()
	cfg.Deliberation.Templates = []config.TemplateConfig{
		{
			Name: "broken",
			Dimensions: []config.DimensionConfig{
				{Name: "a", Weight: 0.3},
				{Name: "b", Weight: 0.3},
			},
		},
	}
	if err := config.Validate(&cfg); err == nil {
		t.Fatal("expected error for weights not summing to 1.0")
	}
}

func TestValidate_AccumulatesMultipleProblems(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Path = ""
	cfg.Storage.RetentionDays = 0
	err := config.Validate(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "storage.path") || !strings.Contains(msg, "storage.retention_days") {
		t.Errorf("expected both violations reported, got: %s", msg)
	}
}

func TestLoad_MergesOverDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "storage:\n  path: custom.db\n  retention_days: 7\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Path != "custom.db" || cfg.Storage.RetentionDays != 7 {
		t.Errorf("expected file values to override defaults, got %+v", cfg.Storage)
	}
	if len(cfg.Metrics) == 0 {
		t.Error("expected default metrics to survive merge when file doesn't override them")
	}
}

func TestLoad_MissingFileIsError(t *testing.T) {
	if _, err := config.Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTemplateByName_FindsBuiltinTemplate(t *testing.T) {
	cfg := config.Defaults()
	tmpl, ok := cfg.TemplateByName("self_modification")
	if !ok {
		t.Fatal("expected self_modification to be found")
	}
	if len(tmpl.Dimensions) != 4 {
		t.Errorf("expected 4 dimensions, got %d", len(tmpl.Dimensions))
	}
}

func TestTemplateByName_UnknownNameReportsFalse(t *testing.T) {
	cfg := config.Defaults()
	if _, ok := cfg.TemplateByName("nonexistent"); ok {
		t.Fatal("expected false for an unconfigured template name")
	}
}
