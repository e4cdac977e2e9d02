// Command netdash runs one-shot diagnostics against the dashboard core.
//
// # Usage
//
//	netdash --config netdash.yaml --node core-1 --command ping
//
// With no --node it prints the topology and the health of every node.
//
// # Configuration
//
// Configuration can be provided via:
// - Config file (--config)
// - Environment variables (NETDASH_*)
// - A .env file in the working directory
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opswatch/netdash"
	"github.com/opswatch/netdash/internal/config"
	"github.com/opswatch/netdash/internal/settings"
	"github.com/opswatch/netdash/pkg/types"
)

func main() {
	var (
		configFile   = flag.String("config", "", "Path to config file")
		settingsFile = flag.String("settings", "", "Path to the persisted settings file")
		nodeID       = flag.String("node", "", "Node id to diagnose")
		command      = flag.String("command", "ping", "Diagnostic command: ping, traceroute or network_test")
		simulated    = flag.Bool("simulated", false, "Force simulated mode for this run")
		live         = flag.Bool("live", false, "Force live mode for this run")
		debug        = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	opts := netdash.Options{Logger: logger}
	if *settingsFile != "" {
		opts.Persister = settings.NewFileStore(*settingsFile)
	}

	core, err := netdash.New(cfg, opts)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	if *simulated {
		core.Settings().SetSimulated(true)
	}
	if *live {
		core.Settings().SetSimulated(false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if *nodeID == "" {
		printTopology(core)
		return
	}

	var result types.DiagnosticResult
	switch *command {
	case "ping":
		result = core.Ping(ctx, *nodeID)
	case "traceroute":
		result = core.Traceroute(ctx, *nodeID)
	case "network_test":
		result = core.NetworkTest(ctx, *nodeID)
	default:
		logger.Error("unknown command", "command", *command)
		os.Exit(1)
	}

	for _, line := range result.Lines {
		fmt.Println(line)
	}
	if !result.Success {
		os.Exit(1)
	}
}

func printTopology(core *netdash.Core) {
	for _, node := range core.Store().Nodes() {
		fmt.Printf("%-12s  %-24s  %-15s  %s\n", node.ID, node.Name, node.Address, node.Tier)
	}
}
