// Package main — bench/cmd/latency/main.go
//
// Circuit decision latency measurement tool.
//
// Measures the wall-clock time of one Circuit.Run call, from proposal
// submission to the returned Result, for a fixed proposal that always
// crosses the file-count threshold at Warning severity, deliberated by two
// automated providers (technical and ethical). Depending on the simulated
// best outcome they vote Proceed (no gates) or Conditional (ConditionCheck
// then HumanApproval, auto-approved by the tool).
//
// Method:
//  1. Builds a Circuit wired the same way cmd/govcircuitd does, against an
//     in-memory config (no storage, no metrics server).
//  2. Runs -iterations Circuit.Run calls back to back.
//  3. Records each call's latency in microseconds to a histogram bucket and
//     to a CSV file.
//
// The measurement includes:
//   - Detection threshold evaluation
//   - Monte-Carlo simulation (100 runs by default)
//   - Deliberation vote collection and aggregation
//   - Intervention gate evaluation (none on a Proceed iteration; ConditionCheck
//     and an auto-approved HumanApproval on a Conditional one)
//
// It does NOT include:
//   - Storage or metrics I/O (cmd/govcircuitd persists separately)
//   - Network transport of any kind
//
// Output CSV columns:
//
//	iteration, latency_us, applied
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/circuit"
	"github.com/octoreflex/govcircuit/internal/config"
	"github.com/octoreflex/govcircuit/internal/deliberation"
	"github.com/octoreflex/govcircuit/internal/detection"
	"github.com/octoreflex/govcircuit/internal/intervention"
	"github.com/octoreflex/govcircuit/internal/simulation"
)

func main() {
	iterations := flag.Int("iterations", 1000, "Number of Circuit.Run calls to measure")
	outputFile := flag.String("output", "latency_raw.csv", "Output CSV file path")
	p99TargetUs := flag.Int("p99-target-us", 50000, "p99 latency target in microseconds; exit 1 if exceeded")
	flag.Parse()

	// Lock to OS thread to minimise scheduling jitter.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	_ = w.Write([]string{"iteration", "latency_us", "applied"})

	humanChannel := intervention.NewMemApprovalChannel("bench")
	c := buildCircuit(humanChannel)
	proposal := circuit.Proposal{
		Target:   "bench",
		Readings: []circuit.MetricReading{{Metric: "file-count", Value: 85}}, // Warning tier
	}

	// Some iterations may deliberate to Conditional and gate on human
	// approval; auto-approve on a tight loop so the benchmark measures
	// circuit overhead rather than operator response time.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				humanChannel.Resolve(true, "bench-auto")
			case <-done:
				return
			}
		}
	}()

	var totalApplied int
	hist := make([]int, 200001) // 0-200000us buckets

	for i := 0; i < *iterations; i++ {
		start := time.Now()
		result, err := c.Run(context.Background(), proposal)
		latency := time.Since(start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "circuit.Run error at iteration %d: %v\n", i, err)
			os.Exit(1)
		}

		applied := result.Enforcement != nil && result.Enforcement.Applied
		if applied {
			totalApplied++
		}

		latencyUs := int(latency.Microseconds())
		if latencyUs < len(hist) {
			hist[latencyUs]++
		}

		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.Itoa(latencyUs),
			strconv.FormatBool(applied),
		})
	}

	p50, p95, p99 := computePercentiles(hist, *iterations)

	fmt.Printf("Circuit Decision Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  Applied: %d/%d (%.1f%%)\n", totalApplied, *iterations,
		float64(totalApplied)/float64(*iterations)*100)
	fmt.Printf("  p50: %dus\n", p50)
	fmt.Printf("  p95: %dus\n", p95)
	fmt.Printf("  p99: %dus\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	if p99 > *p99TargetUs {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dus exceeds %dus target\n", p99, *p99TargetUs)
		os.Exit(1)
	}
}

// buildCircuit wires a Circuit over the default config with two automated
// providers (technical and ethical) and humanChannel for HumanApproval gates,
// mirroring cmd/govcircuitd's wiring minus storage/metrics/operator.
func buildCircuit(humanChannel intervention.ApprovalChannel) *circuit.Circuit {
	cfg := config.Defaults()
	template, _ := cfg.TemplateByName("btb_dimensions")
	logger := zap.NewNop()

	return circuit.New(
		logger,
		detection.New(logger, cfg.Metrics),
		simulation.New(logger),
		deliberation.New(logger),
		intervention.New(logger),
		nil,
		[]deliberation.VoteProvider{
			deliberation.NewAutomatedProvider("technical-automated", deliberation.Technical),
			deliberation.NewAutomatedProvider("ethical-automated", deliberation.Ethical),
		},
		template,
		cfg.Deliberation.ProviderTimeout,
		intervention.NewStaticPredicateRegistry(cfg.Gates.Predicates),
		humanChannel,
		intervention.NewPauseSignal(),
		cfg.Gates.HumanApprovalTimeout,
	)
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
