// Package netdash is the observability core of a network health dashboard.
//
// A Core owns the topology store, the operating-mode settings, the HTTP client
// for remote diagnostic services and the dispatcher that ties them together.
// Frontends call into the Core for diagnostics and read state back through
// the store.
package netdash

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/opswatch/netdash/internal/client"
	"github.com/opswatch/netdash/internal/config"
	"github.com/opswatch/netdash/internal/dispatch"
	"github.com/opswatch/netdash/internal/mock"
	"github.com/opswatch/netdash/internal/settings"
	"github.com/opswatch/netdash/internal/store"
	"github.com/opswatch/netdash/pkg/types"
)

// Options are optional overrides for New. Zero values select defaults.
type Options struct {
	Logger *slog.Logger

	// Persister stores the simulated/live choice across sessions. Nil keeps
	// the choice session-only.
	Persister settings.Persister

	// HTTPClient overrides the transport used for diagnostic services.
	HTTPClient *http.Client
}

// Core wires the dashboard subsystems together.
type Core struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	settings *settings.Settings
	client   *client.Client
	dispatch *dispatch.Dispatcher

	endpoints []types.Endpoint
	done      chan struct{}
}

// New builds a Core from the configuration, seeds the topology and starts
// watching for mode changes. Callers should Close the Core when done.
func New(cfg *config.Config, opts Options) (*Core, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	st := store.New(cfg.Thresholds, logger)
	st.LoadTopology(cfg.Topology.DomainNodes(), cfg.Topology.DomainConnections())

	sets := settings.New(opts.Persister, cfg.Features.SimulatedDefault, logger)

	httpClient := client.New(client.Config{
		Paths:      servicePaths(cfg.Paths),
		HTTPClient: opts.HTTPClient,
	})

	endpoints := cfg.DomainEndpoints()

	c := &Core{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		settings: sets,
		client:   httpClient,
		dispatch: dispatch.New(dispatch.Config{
			Store:              st,
			Settings:           sets,
			Client:             httpClient,
			Mock:               mock.NewGenerator(),
			Endpoints:          endpoints,
			Logger:             logger,
			RequestTimeout:     cfg.Timeouts.Request,
			NetworkTestTimeout: cfg.Timeouts.NetworkTest,
			HealthCheckTimeout: cfg.Timeouts.HealthCheck,
			EnableNetworkTest:  cfg.Features.EnableNetworkTest,
			RequestsPerSecond:  cfg.Limits.RequestsPerSecond,
			Burst:              cfg.Limits.Burst,
		}),
		endpoints: endpoints,
		done:      make(chan struct{}),
	}

	go c.watchMode(sets.Subscribe())

	logger.Info("core initialized",
		"nodes", len(cfg.Topology.Nodes),
		"endpoints", len(endpoints),
		"simulated", sets.Simulated())
	return c, nil
}

// watchMode invalidates in-flight metric feedback whenever the operating mode
// flips, so samples gathered under the old mode cannot land on the new one.
func (c *Core) watchMode(changes <-chan bool) {
	for {
		select {
		case simulated := <-changes:
			c.store.Invalidate()
			c.logger.Info("mode switched, topology generation bumped", "simulated", simulated)
		case <-c.done:
			return
		}
	}
}

// Close stops background work. The Core must not be used afterwards.
func (c *Core) Close() {
	close(c.done)
}

// Store exposes topology state, filters and diagnostic history.
func (c *Core) Store() *store.Store {
	return c.store
}

// Settings exposes the operating-mode settings.
func (c *Core) Settings() *settings.Settings {
	return c.settings
}

// Ping runs a ping diagnostic against the node.
func (c *Core) Ping(ctx context.Context, nodeID string) types.DiagnosticResult {
	return c.dispatch.Ping(ctx, nodeID)
}

// Traceroute runs a path trace against the node.
func (c *Core) Traceroute(ctx context.Context, nodeID string) types.DiagnosticResult {
	return c.dispatch.Traceroute(ctx, nodeID)
}

// NetworkTest runs a throughput test against the node.
func (c *Core) NetworkTest(ctx context.Context, nodeID string) types.DiagnosticResult {
	return c.dispatch.NetworkTest(ctx, nodeID)
}

// Reload refreshes the topology. In simulated mode the configured seed is
// reloaded. In live mode the endpoints are tried in order and the first
// successful fetch replaces the topology; if none respond the current
// topology is kept and the last error is returned.
func (c *Core) Reload(ctx context.Context) error {
	if c.settings.Simulated() {
		c.store.LoadTopology(c.cfg.Topology.DomainNodes(), c.cfg.Topology.DomainConnections())
		return nil
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		resp, err := c.client.FetchTopology(ctx, endpoint.URL)
		if err != nil {
			c.logger.Warn("topology fetch failed",
				"endpoint", endpoint.ID, "url", endpoint.URL, "error", err)
			lastErr = err
			continue
		}
		c.store.LoadTopology(resp.Nodes, resp.Connections)
		c.logger.Info("topology reloaded",
			"endpoint", endpoint.ID, "nodes", len(resp.Nodes))
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured")
	}
	return fmt.Errorf("reloading topology: %w", lastErr)
}

// servicePaths maps configured paths onto the client contract, leaving blanks
// to the client defaults.
func servicePaths(p config.PathsConfig) client.Paths {
	defaults := client.DefaultPaths()
	out := client.Paths{
		Health:      p.Health,
		Ping:        p.Ping,
		Traceroute:  p.Traceroute,
		NetworkTest: p.NetworkTest,
		Topology:    p.Topology,
	}
	if out.Health == "" {
		out.Health = defaults.Health
	}
	if out.Ping == "" {
		out.Ping = defaults.Ping
	}
	if out.Traceroute == "" {
		out.Traceroute = defaults.Traceroute
	}
	if out.NetworkTest == "" {
		out.NetworkTest = defaults.NetworkTest
	}
	if out.Topology == "" {
		out.Topology = defaults.Topology
	}
	return out
}
