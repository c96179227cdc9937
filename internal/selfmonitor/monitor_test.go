package selfmonitor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/eventbus"
	"github.com/octoreflex/govcircuit/internal/selfmonitor"
)

func TestCheck_UntestedRatioAboveThresholdProducesEvent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "a.go"), "package pkg\n\nfunc One() {}\nfunc Two() {}\nfunc Three() {}\n")

	logger := zap.NewNop()
	bus := eventbus.New(logger)
	thresholds := selfmonitor.DefaultThresholds()
	thresholds.UntestedRatio = 0.1

	mon := selfmonitor.New(logger, root, thresholds, bus, nil)
	_, events, err := mon.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	found := false
	for _, ev := range events {
		if ev.Metric == selfmonitor.MetricUntestedRatio {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an untested-ratio threshold event, got %+v", events)
	}
}

func TestCheck_NothingCrossesThresholdsProducesNoEvents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "a.go"), "package pkg\n\nfunc One() {}\n")
	writeFile(t, filepath.Join(root, "pkg", "a_test.go"), "package pkg\n\nfunc TestOne(t *testing.T) {}\n")

	logger := zap.NewNop()
	mon := selfmonitor.New(logger, root, selfmonitor.DefaultThresholds(), nil, nil)
	_, events, err := mon.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no threshold events on a clean small tree, got %+v", events)
	}
}

func TestCheck_PublishesEventsToBus(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "a.go"), "package pkg\n\nfunc One() {}\nfunc Two() {}\n")

	logger := zap.NewNop()
	bus := eventbus.New(logger)
	var delivered int
	bus.Subscribe("threshold.detected", func(eventbus.Event) error {
		delivered++
		return nil
	})

	thresholds := selfmonitor.DefaultThresholds()
	thresholds.UntestedRatio = 0
	mon := selfmonitor.New(logger, root, thresholds, bus, nil)
	_, events, err := mon.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if delivered != len(events) {
		t.Fatalf("expected one bus delivery per event (%d), got %d", len(events), delivered)
	}
}

func TestProposeConfigChange_WithNoCircuitReturnsError(t *testing.T) {
	logger := zap.NewNop()
	mon := selfmonitor.New(logger, t.TempDir(), selfmonitor.DefaultThresholds(), nil, nil)
	_, err := mon.ProposeConfigChange(context.Background(), selfmonitor.ConfigChangeProposal{
		Field: "UntestedRatio", OldValue: 0.3, NewValue: 0.5,
	})
	if err == nil {
		t.Fatal("expected an error when no circuit is configured to gate self-reconfiguration")
	}
}

func TestScanRepo_ReportsDriftWhenImplOutpacesDoc(t *testing.T) {
	root := t.TempDir()
	docPath := filepath.Join(root, "pkg", "doc.go")
	implPath := filepath.Join(root, "pkg", "impl.go")
	writeFile(t, docPath, "// Package pkg does things.\npackage pkg\n")
	writeFile(t, implPath, "package pkg\n\nfunc Do() {}\n")

	future := time.Now().Add(60 * 24 * time.Hour)
	if err := os.Chtimes(implPath, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	metrics, err := selfmonitor.ScanRepo(root)
	if err != nil {
		t.Fatalf("ScanRepo: %v", err)
	}
	if len(metrics.DocImplDriftFiles) != 1 {
		t.Fatalf("expected drift flagged for pkg, got %+v", metrics.DocImplDriftFiles)
	}
}
