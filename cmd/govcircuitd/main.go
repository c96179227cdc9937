// Package main — cmd/govcircuitd/main.go
//
// Governance circuit daemon entrypoint.
//
// Startup sequence:
//  1. Load and validate config from the path named by -config.
//  2. Initialise structured logger (zap).
//  3. Open BoltDB storage.
//  4. Prune stale ledger entries.
//  5. Start Prometheus metrics server (loopback only).
//  6. Wire Detection, Simulation, Deliberation, Intervention into one Circuit.
//  7. Run the proposal named by -target against the circuit, print the result.
//
// On config validation failure: exit 1 immediately.
// On storage open failure: exit 1 immediately.
// Exit codes for a completed -target run: 0 Proceed/applied, 1 Reject,
// Pause, or cancellation, 2 Defer, 3 Conditional awaiting external action,
// 4 internal error (SimulationInstability, PolicyViolation, canonicalization
// failure).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/circuit"
	"github.com/octoreflex/govcircuit/internal/config"
	"github.com/octoreflex/govcircuit/internal/deliberation"
	"github.com/octoreflex/govcircuit/internal/detection"
	"github.com/octoreflex/govcircuit/internal/eventbus"
	"github.com/octoreflex/govcircuit/internal/intervention"
	"github.com/octoreflex/govcircuit/internal/observability"
	"github.com/octoreflex/govcircuit/internal/operator"
	"github.com/octoreflex/govcircuit/internal/selfmonitor"
	"github.com/octoreflex/govcircuit/internal/simulation"
	"github.com/octoreflex/govcircuit/internal/storage"
)

func main() {
	configPath := flag.String("config", "govcircuit.yaml", "path to config.yaml")
	target := flag.String("target", "", "identifier of the proposed action to evaluate")
	metric := flag.String("metric", detection.MetricFileCount, "metric name to evaluate against its configured threshold")
	value := flag.Float64("value", 0, "measured value for -metric")
	templateName := flag.String("template", "btb_dimensions", "deliberation template to apply")
	selfCheck := flag.Bool("selfcheck", false, "run the self-monitor over the repository at -root instead of a proposal")
	root := flag.String("root", ".", "repository root for -selfcheck")
	operatorSocket := flag.String("operator-socket", "", "Unix socket path for the operator gate-resolution server; empty disables it")
	flag.Parse()

	cfg := config.Defaults()
	if *configPath != "" {
		if loaded, err := config.Load(*configPath); err == nil {
			cfg = *loaded
		} else if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("govcircuitd starting", zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.Storage.Path, cfg.Storage.RetentionDays)
	if err != nil {
		logger.Fatal("storage open failed", zap.Error(err), zap.String("path", cfg.Storage.Path))
	}
	defer db.Close() //nolint:errcheck

	pruned, err := db.PruneOldEntries()
	if err != nil {
		logger.Warn("ledger pruning failed", zap.Error(err))
	} else {
		logger.Info("ledger pruned", zap.Int("deleted", pruned))
	}

	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	logger.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	bus := eventbus.New(logger).WithMetrics(metrics)
	bus.Subscribe("*", func(ev eventbus.Event) error {
		payload, _ := json.Marshal(ev.Payload)
		return db.AppendEvent(storage.EventRecord{
			Topic: ev.Topic, Payload: payload, Source: ev.Source, Timestamp: ev.Timestamp, EventID: ev.EventID,
		})
	})

	template, ok := cfg.TemplateByName(*templateName)
	if !ok {
		logger.Fatal("unrecognized deliberation template", zap.String("template", *templateName))
	}

	humanChannel := intervention.NewMemApprovalChannel("operator")
	predicateRegistry := intervention.NewStaticPredicateRegistry(cfg.Gates.Predicates)
	pauseSignal := intervention.NewPauseSignal()

	enforcementBudget := intervention.NewBudget(100, time.Minute)
	defer enforcementBudget.Close()

	c := circuit.New(
		logger,
		detection.New(logger, cfg.Metrics).WithMetrics(metrics),
		simulation.New(logger).WithMetrics(metrics),
		deliberation.New(logger).WithMetrics(metrics),
		intervention.New(logger).WithBudget(enforcementBudget).WithMetrics(metrics),
		bus,
		[]deliberation.VoteProvider{
			deliberation.NewAutomatedProvider("technical-automated", deliberation.Technical),
			deliberation.NewAutomatedProvider("ethical-automated", deliberation.Ethical),
		},
		template,
		cfg.Deliberation.ProviderTimeout,
		predicateRegistry,
		humanChannel,
		pauseSignal,
		cfg.Gates.HumanApprovalTimeout,
	).WithMetrics(metrics)

	if *operatorSocket != "" {
		opServer := operator.NewServer(*operatorSocket,
			map[string]*intervention.MemApprovalChannel{humanChannel.ID(): humanChannel},
			pauseSignal, enforcementBudget, logger)
		go func() {
			if err := opServer.ListenAndServe(ctx); err != nil {
				logger.Error("operator server error", zap.Error(err))
			}
		}()
		logger.Info("operator server started", zap.String("socket", *operatorSocket))
	} else {
		// No operator socket configured: fall back to auto-granting any
		// HumanApproval gate after a fixed delay, since nothing else can
		// resolve it. A real deployment always sets -operator-socket instead.
		go func() {
			select {
			case <-time.After(200 * time.Millisecond):
				logger.Info("auto-approving pending gate (no operator socket configured)")
				humanChannel.Resolve(true, "govcircuitd-auto")
			case <-ctx.Done():
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	if *selfCheck {
		runSelfCheck(logger, bus, *root)
		return
	}

	if *target == "" {
		fmt.Fprintln(os.Stderr, "FATAL: -target is required unless -selfcheck is set")
		os.Exit(1)
	}

	proposal := circuit.Proposal{
		Target: *target,
		Readings: []circuit.MetricReading{
			{Metric: *metric, Value: *value},
		},
	}

	result, err := c.Run(ctx, proposal)
	if err != nil {
		// Every error that escapes Run is one of the taxonomy's fatal or
		// surfaced kinds (Timeout and Cancelled are always absorbed locally
		// by the stage that owns the wait) — SimulationInstability,
		// PolicyViolation, IntegrityError, or InvalidArgument (a
		// canonicalization failure, or a -metric the config does not
		// define). All of them are exit 4 per §6.
		logger.Error("circuit run failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "FATAL: circuit run failed: %v\n", err)
		os.Exit(4)
	}

	if result.Enforcement != nil {
		for seq, entry := range result.Enforcement.AuditTrail {
			details, _ := json.Marshal(entry.Details)
			if err := db.AppendAuditEntry(storage.AuditRecord{
				SessionID: result.Enforcement.DecisionHash, Seq: int64(seq), Timestamp: entry.Timestamp,
				Action: entry.Action, Actor: entry.Actor, Details: details,
				PreviousHash: entry.PreviousHash, EntryHash: entry.EntryHash,
			}); err != nil {
				logger.Warn("audit entry persist failed", zap.Error(err))
			}
		}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatal("result encode failed", zap.Error(err))
	}
	fmt.Println(string(out))

	os.Exit(exitCode(result))
}

// exitCode maps a circuit Result to a process exit status per §6's table:
// 0 Proceed/applied, 1 Reject/Pause/cancelled, 2 Defer, 3 Conditional
// awaiting external action. Internal errors (SimulationInstability,
// PolicyViolation, canonicalization failure) are exit 4, handled separately
// at the c.Run call site since they never produce a Result at all.
func exitCode(result *circuit.Result) int {
	if result.Cancelled {
		return 1
	}
	if result.Deliberation == nil {
		// Trivial no-threshold path: NoThreshold always applies.
		return 0
	}
	switch result.Deliberation.Decision {
	case deliberation.Proceed:
		if result.Enforcement != nil && result.Enforcement.Applied {
			return 0
		}
		return 1
	case deliberation.Reject, deliberation.Pause:
		return 1
	case deliberation.Defer:
		return 2
	case deliberation.Conditional:
		return 3
	default:
		return 1
	}
}

func runSelfCheck(logger *zap.Logger, bus *eventbus.Bus, root string) {
	mon := selfmonitor.New(logger, root, selfmonitor.DefaultThresholds(), bus, nil)
	repoMetrics, events, err := mon.Check()
	if err != nil {
		logger.Fatal("self-check failed", zap.Error(err))
	}
	logger.Info("self-check complete",
		zap.Int("modules", len(repoMetrics.LinesPerModule)),
		zap.Int("total_functions", repoMetrics.TotalFunctions),
		zap.Float64("untested_ratio", repoMetrics.UntestedFunctionRatio),
		zap.Int("events", len(events)))
	out, _ := json.MarshalIndent(events, "", "  ")
	fmt.Println(string(out))
}
