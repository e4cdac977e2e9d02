// Package dispatch orchestrates diagnostic commands against monitored nodes.
//
// # Lifecycle of a Diagnostic
//
//  1. Look up the target node; resolve the serving endpoint (live mode)
//  2. Health pre-check the endpoint with a short timeout
//  3. Execute the command under its timeout budget
//  4. Normalize the response (or the failure) into a DiagnosticResult
//  5. Record the result and feed extracted metrics back into the topology
//
// Failures never propagate as errors: every failure mode becomes a
// DiagnosticResult with Success=false and an ErrorKind, recorded in history
// like any success, so the operator always sees what happened.
//
// Live failures stay visible: the dispatcher never substitutes a synthetic
// response when a live call fails. Simulated mode is an explicit operator
// choice, not an error fallback.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/opswatch/netdash/internal/client"
	"github.com/opswatch/netdash/internal/mock"
	"github.com/opswatch/netdash/internal/resolver"
	"github.com/opswatch/netdash/internal/settings"
	"github.com/opswatch/netdash/internal/store"
	"github.com/opswatch/netdash/pkg/types"
)

// Dispatcher runs diagnostics and writes their outcomes into the store.
// Independent targets run concurrently; a second request for the same
// (target, command) pair while one is in flight is rejected.
type Dispatcher struct {
	store    *store.Store
	settings *settings.Settings
	client   *client.Client
	mock     *mock.Generator

	endpoints []types.Endpoint
	logger    *slog.Logger

	requestTimeout     time.Duration
	networkTestTimeout time.Duration
	healthTimeout      time.Duration
	networkTestEnabled bool

	limitRate  rate.Limit
	limitBurst int
	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	inflightMu sync.Mutex
	inflight   map[inflightKey]struct{}
}

type inflightKey struct {
	target  string
	command types.CommandKind
}

// Config for the dispatcher.
type Config struct {
	Store    *store.Store
	Settings *settings.Settings
	Client   *client.Client
	Mock     *mock.Generator

	Endpoints []types.Endpoint
	Logger    *slog.Logger

	// RequestTimeout bounds ping and traceroute calls; NetworkTestTimeout
	// bounds the throughput test; HealthCheckTimeout bounds the pre-check.
	RequestTimeout     time.Duration
	NetworkTestTimeout time.Duration
	HealthCheckTimeout time.Duration

	EnableNetworkTest bool

	// Outbound request rate per endpoint.
	RequestsPerSecond float64
	Burst             int
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if cfg.Mock == nil {
		cfg.Mock = mock.NewGenerator()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.NetworkTestTimeout <= 0 {
		cfg.NetworkTestTimeout = 20 * time.Second
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = 5 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}

	return &Dispatcher{
		store:              cfg.Store,
		settings:           cfg.Settings,
		client:             cfg.Client,
		mock:               cfg.Mock,
		endpoints:          cfg.Endpoints,
		logger:             cfg.Logger,
		requestTimeout:     cfg.RequestTimeout,
		networkTestTimeout: cfg.NetworkTestTimeout,
		healthTimeout:      cfg.HealthCheckTimeout,
		networkTestEnabled: cfg.EnableNetworkTest,
		limitRate:          rate.Limit(cfg.RequestsPerSecond),
		limitBurst:         cfg.Burst,
		limiters:           make(map[string]*rate.Limiter),
		inflight:           make(map[inflightKey]struct{}),
	}
}

// Ping runs a ping diagnostic against the node.
func (d *Dispatcher) Ping(ctx context.Context, nodeID string) types.DiagnosticResult {
	return d.run(ctx, types.CommandPing, nodeID)
}

// Traceroute runs a path trace against the node.
func (d *Dispatcher) Traceroute(ctx context.Context, nodeID string) types.DiagnosticResult {
	return d.run(ctx, types.CommandTraceroute, nodeID)
}

// NetworkTest runs a throughput test against the node. Only available in
// live mode with the feature enabled.
func (d *Dispatcher) NetworkTest(ctx context.Context, nodeID string) types.DiagnosticResult {
	return d.run(ctx, types.CommandNetworkTest, nodeID)
}

func (d *Dispatcher) run(ctx context.Context, command types.CommandKind, nodeID string) types.DiagnosticResult {
	node, ok := d.store.NodeByID(nodeID)
	if !ok {
		// Unknown ids are not an error condition worth remembering; the UI
		// may hold a stale id across a reload.
		d.logger.Warn("diagnostic requested for unknown node", "node", nodeID)
		return failure(command, nodeID, "", fmt.Sprintf("unknown node %s", nodeID))
	}
	target := node.Address

	release, ok := d.acquire(target, command)
	if !ok {
		return failure(command, target, "",
			fmt.Sprintf("%s to %s already in flight", command, target))
	}
	defer release()

	generation := d.store.Generation()
	simulated := d.settings.Simulated()

	if command == types.CommandNetworkTest {
		if simulated {
			return d.record(failure(command, target, types.ErrFeatureDisabled,
				"network test is only available in live mode"))
		}
		if !d.networkTestEnabled {
			return d.record(failure(command, target, types.ErrFeatureDisabled,
				"network test is disabled by configuration"))
		}
	}

	if simulated {
		return d.record(d.simulate(command, target, node.Tier))
	}

	result := d.live(ctx, command, target)
	d.record(result)

	if result.Metrics != nil {
		sample := types.MetricsSample{
			Latency:    &result.Metrics.AvgLatency,
			PacketLoss: &result.Metrics.PacketLoss,
		}
		d.store.ApplyMetricsUpdate(generation, node.ID, sample)
	}
	return result
}

// simulate produces a synthetic result shaped by the node's last known tier.
func (d *Dispatcher) simulate(command types.CommandKind, target string, tier types.HealthTier) types.DiagnosticResult {
	switch command {
	case types.CommandTraceroute:
		return d.mock.Traceroute(target, tier)
	default:
		return d.mock.Ping(target, tier)
	}
}

// live resolves the endpoint, pre-checks it and executes the command.
func (d *Dispatcher) live(ctx context.Context, command types.CommandKind, target string) types.DiagnosticResult {
	endpoint := resolver.Resolve(target, d.endpoints, d.store.Nodes())
	if endpoint == nil {
		return failure(command, target, types.ErrNoEndpointConfigured,
			fmt.Sprintf("no diagnostic endpoint configured for %s", target))
	}

	if err := d.limiter(endpoint.URL).Wait(ctx); err != nil {
		return failure(command, target, types.ErrRequestTimeout,
			fmt.Sprintf("%s to %s timed out waiting for request slot", command, target))
	}

	healthCtx, cancel := context.WithTimeout(ctx, d.healthTimeout)
	err := d.client.CheckHealth(healthCtx, endpoint.URL)
	cancel()
	if err != nil {
		d.logger.Warn("endpoint health check failed",
			"endpoint", endpoint.ID, "url", endpoint.URL, "error", err)
		return failure(command, target, types.ErrEndpointUnreachable,
			fmt.Sprintf("endpoint %s (%s) unreachable", endpoint.Name, endpoint.URL))
	}

	timeout := d.requestTimeout
	if command == types.CommandNetworkTest {
		timeout = d.networkTestTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch command {
	case types.CommandPing:
		resp, err := d.client.Ping(callCtx, endpoint.URL, target)
		if err != nil {
			return d.failureFromError(command, target, timeout, err)
		}
		return normalizePing(resp)

	case types.CommandTraceroute:
		resp, err := d.client.Traceroute(callCtx, endpoint.URL, target)
		if err != nil {
			return d.failureFromError(command, target, timeout, err)
		}
		return normalizeTraceroute(resp)

	default:
		resp, err := d.client.NetworkTest(callCtx, endpoint.URL, target)
		if err != nil {
			return d.failureFromError(command, target, timeout, err)
		}
		return normalizeNetworkTest(resp)
	}
}

// failureFromError normalizes a transport-level failure.
func (d *Dispatcher) failureFromError(command types.CommandKind, target string, timeout time.Duration, err error) types.DiagnosticResult {
	var statusErr *client.StatusError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return failure(command, target, types.ErrRequestTimeout,
			fmt.Sprintf("%s to %s timed out after %v", command, target, timeout))

	case errors.As(err, &statusErr):
		return failure(command, target, types.ErrRequestFailed,
			fmt.Sprintf("%s to %s failed with status %d", command, target, statusErr.StatusCode))

	case errors.Is(err, client.ErrMalformed):
		return failure(command, target, types.ErrMalformedResponse,
			fmt.Sprintf("%s to %s returned an unreadable response", command, target))

	default:
		return failure(command, target, types.ErrEndpointUnreachable,
			fmt.Sprintf("%s to %s failed: %v", command, target, err))
	}
}

// record appends the result to the history.
func (d *Dispatcher) record(result types.DiagnosticResult) types.DiagnosticResult {
	d.store.RecordDiagnostic(result)
	if !result.Success {
		d.logger.Info("diagnostic failed",
			"command", result.Command, "target", result.Target, "kind", result.ErrorKind)
	}
	return result
}

// acquire claims the (target, command) in-flight slot.
func (d *Dispatcher) acquire(target string, command types.CommandKind) (func(), bool) {
	key := inflightKey{target: target, command: command}

	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	if _, exists := d.inflight[key]; exists {
		return nil, false
	}
	d.inflight[key] = struct{}{}

	return func() {
		d.inflightMu.Lock()
		defer d.inflightMu.Unlock()
		delete(d.inflight, key)
	}, true
}

// limiter returns the rate limiter for an endpoint URL, creating it lazily.
func (d *Dispatcher) limiter(url string) *rate.Limiter {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()

	l, ok := d.limiters[url]
	if !ok {
		l = rate.NewLimiter(d.limitRate, d.limitBurst)
		d.limiters[url] = l
	}
	return l
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// normalizePing renders a ping response. Anything short of total loss counts
// as a (possibly partial) success.
func normalizePing(resp *client.PingResponse) types.DiagnosticResult {
	loss := resp.Stats.Packets.Loss

	lines := []string{
		fmt.Sprintf("PING %s (%s) 56(84) bytes of data.", resp.Host, resp.Host),
	}
	for _, probe := range resp.Responses {
		lines = append(lines, fmt.Sprintf("%d bytes from %s: icmp_seq=%d ttl=%d time=%g ms",
			probe.Bytes, probe.Host, probe.ICMPSeq, probe.TTL, probe.Time))
	}
	lines = append(lines,
		fmt.Sprintf("--- %s ping statistics ---", resp.Host),
		fmt.Sprintf("%d packets transmitted, %d received, %g%% packet loss, time %gms",
			resp.Stats.Packets.Transmitted, resp.Stats.Packets.Received, loss, resp.Stats.Packets.Time),
		fmt.Sprintf("rtt min/avg/max/mdev = %g/%g/%g/%g ms",
			resp.Stats.RTT.Min, resp.Stats.RTT.Avg, resp.Stats.RTT.Max, resp.Stats.RTT.Mdev),
	)

	return types.DiagnosticResult{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Command:   types.CommandPing,
		Target:    resp.Host,
		Lines:     lines,
		Success:   loss < 100,
		Metrics: &types.DiagnosticMetrics{
			MinLatency: resp.Stats.RTT.Min,
			MaxLatency: resp.Stats.RTT.Max,
			AvgLatency: resp.Stats.RTT.Avg,
			PacketLoss: loss,
		},
	}
}

// normalizeTraceroute renders a traceroute response. The trace succeeded iff
// a responder at the final hop is the destination itself.
func normalizeTraceroute(resp *client.TracerouteResponse) types.DiagnosticResult {
	success := false
	if len(resp.Hops) > 0 {
		for _, r := range resp.Hops[len(resp.Hops)-1].Responses {
			if r.Host == resp.Destination {
				success = true
				break
			}
		}
	}

	lines := []string{
		fmt.Sprintf("traceroute to %s (%s), 30 hops max, 60 byte packets",
			resp.Destination, resp.Destination),
	}
	for _, hop := range resp.Hops {
		responses := make([]string, len(hop.Responses))
		for i, r := range hop.Responses {
			responses[i] = fmt.Sprintf("%s (%s) %g ms", r.Host, r.Host, r.Time)
		}
		lines = append(lines, fmt.Sprintf("%d  %s", hop.Hop, strings.Join(responses, "  ")))
	}

	return types.DiagnosticResult{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Command:   types.CommandTraceroute,
		Target:    resp.Destination,
		Lines:     lines,
		Success:   success,
	}
}

// normalizeNetworkTest renders a throughput test response. Jitter stands in
// for latency in the extracted metrics; there is no per-probe RTT here.
func normalizeNetworkTest(resp *client.NetworkTestResponse) types.DiagnosticResult {
	var jitter float64
	var lost, total int
	if len(resp.End.Streams) > 0 {
		jitter = resp.End.Streams[0].UDP.JitterMs
		lost = resp.End.Streams[0].UDP.LostPackets
		total = resp.End.Streams[0].UDP.Packets
	}
	if total == 0 {
		total = 1
	}
	loss := float64(lost) / float64(total) * 100

	lines := []string{
		fmt.Sprintf("Network test to %s:%d", resp.Start.ConnectingTo.Host, resp.Start.ConnectingTo.Port),
		fmt.Sprintf("Protocol: %s", resp.Start.TestStart.Protocol),
		fmt.Sprintf("Duration: %.2f seconds", resp.End.Sum.Seconds),
		fmt.Sprintf("Bits per second: %d", int64(math.Round(resp.End.Sum.BitsPerSecond))),
		fmt.Sprintf("Jitter: %.4f ms", jitter),
		fmt.Sprintf("Packet loss: %.2f%%", loss),
		fmt.Sprintf("CPU utilization: %.2f%%", resp.End.CPUUtilizationPercent.HostTotal),
	}

	return types.DiagnosticResult{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Command:   types.CommandNetworkTest,
		Target:    resp.Start.ConnectingTo.Host,
		Lines:     lines,
		Success:   true,
		Metrics: &types.DiagnosticMetrics{
			AvgLatency: jitter,
			PacketLoss: loss,
		},
	}
}

// failure builds an unsuccessful result carrying the error as data.
func failure(command types.CommandKind, target string, kind types.ErrorKind, message string) types.DiagnosticResult {
	return types.DiagnosticResult{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Command:   command,
		Target:    target,
		Lines:     []string{message},
		Success:   false,
		ErrorKind: kind,
	}
}
