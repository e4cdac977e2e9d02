package dispatch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opswatch/netdash/internal/client"
	"github.com/opswatch/netdash/internal/settings"
	"github.com/opswatch/netdash/internal/store"
	"github.com/opswatch/netdash/pkg/types"
)

const pingBody = `{
	"host": "1.1.11.5",
	"responses": [
		{"bytes": 64, "host": "1.1.11.5", "icmp_seq": 1, "ttl": 57, "time": 12.4},
		{"bytes": 64, "host": "1.1.11.5", "icmp_seq": 2, "ttl": 57, "time": 11.9}
	],
	"stats": {
		"packets": {"transmitted": 2, "received": 2, "loss": 0, "time": 1001},
		"rtt": {"min": 11.9, "avg": 12.15, "max": 12.4, "mdev": 0.25}
	}
}`

const tracerouteBody = `{
	"destination": "1.1.11.5",
	"hops": [
		{"hop": 1, "responses": [{"host": "10.0.0.1", "time": 0.8}]},
		{"hop": 2, "responses": [{"host": "1.1.11.5", "time": 12.1}]}
	]
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNode() types.Node {
	return types.Node{
		ID:      "core-1",
		Name:    "Core Router",
		Type:    types.NodeRouter,
		Address: "1.1.11.5",
		Tier:    types.TierHealthy,
	}
}

// newTestDispatcher wires a dispatcher against a single endpoint URL with a
// loaded one-node topology.
func newTestDispatcher(t *testing.T, endpointURL string, simulated bool) (*Dispatcher, *store.Store) {
	t.Helper()

	st := store.New(types.DefaultThresholds(), testLogger())
	st.LoadTopology([]types.Node{testNode()}, nil)

	var endpoints []types.Endpoint
	if endpointURL != "" {
		endpoints = []types.Endpoint{{
			ID:     "ep-1",
			Name:   "test endpoint",
			URL:    endpointURL,
			NodeID: "core-1",
		}}
	}

	d := New(Config{
		Store:             st,
		Settings:          settings.New(nil, simulated, testLogger()),
		Client:            client.New(client.Config{}),
		Endpoints:         endpoints,
		Logger:            testLogger(),
		EnableNetworkTest: true,
		RequestsPerSecond: 1000,
		Burst:             100,
	})
	return d, st
}

func TestPingLiveSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case strings.HasPrefix(r.URL.Path, "/ping/"):
			w.Write([]byte(pingBody))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d, st := newTestDispatcher(t, srv.URL, false)
	result := d.Ping(context.Background(), "core-1")

	if !result.Success {
		t.Fatalf("Success = false, want true: %v", result.Lines)
	}
	if result.Command != types.CommandPing {
		t.Errorf("Command = %q, want %q", result.Command, types.CommandPing)
	}
	if result.ErrorKind != "" {
		t.Errorf("ErrorKind = %q, want empty", result.ErrorKind)
	}
	if result.Metrics == nil {
		t.Fatal("Metrics = nil, want populated")
	}
	if result.Metrics.AvgLatency != 12.15 {
		t.Errorf("AvgLatency = %v, want 12.15", result.Metrics.AvgLatency)
	}
	if got := result.Lines[0]; got != "PING 1.1.11.5 (1.1.11.5) 56(84) bytes of data." {
		t.Errorf("header line = %q", got)
	}
	if got := result.Lines[len(result.Lines)-1]; got != "rtt min/avg/max/mdev = 11.9/12.15/12.4/0.25 ms" {
		t.Errorf("rtt line = %q", got)
	}

	// The extracted sample flows back into the node.
	node, _ := st.NodeByID("core-1")
	if node.Metrics.Latency != 12.15 {
		t.Errorf("node latency = %v, want 12.15", node.Metrics.Latency)
	}
	if node.Tier != types.TierHealthy {
		t.Errorf("node tier = %q, want healthy", node.Tier)
	}

	history := st.History()
	if len(history) != 1 || history[0].ID != result.ID {
		t.Errorf("history = %d entries, want the ping recorded", len(history))
	}
}

func TestPingLiveDegradedFeedback(t *testing.T) {
	body := strings.Replace(pingBody, `"avg": 12.15`, `"avg": 75.0`, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	d, st := newTestDispatcher(t, srv.URL, false)
	d.Ping(context.Background(), "core-1")

	node, _ := st.NodeByID("core-1")
	if node.Tier != types.TierDegraded {
		t.Errorf("node tier = %q, want degraded after 75ms average", node.Tier)
	}
}

func TestTracerouteLiveSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(tracerouteBody))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv.URL, false)
	result := d.Traceroute(context.Background(), "core-1")

	if !result.Success {
		t.Fatalf("Success = false, want true: %v", result.Lines)
	}
	if got := result.Lines[0]; got != "traceroute to 1.1.11.5 (1.1.11.5), 30 hops max, 60 byte packets" {
		t.Errorf("header line = %q", got)
	}
	if got := result.Lines[2]; got != "2  1.1.11.5 (1.1.11.5) 12.1 ms" {
		t.Errorf("final hop line = %q", got)
	}
	if result.Metrics != nil {
		t.Error("traceroute should not extract metrics")
	}
}

func TestTracerouteDestinationNotReached(t *testing.T) {
	body := strings.Replace(tracerouteBody, `{"host": "1.1.11.5", "time": 12.1}`,
		`{"host": "10.0.0.9", "time": 12.1}`, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv.URL, false)
	result := d.Traceroute(context.Background(), "core-1")

	if result.Success {
		t.Error("Success = true for a trace that never reached the destination")
	}
}

func TestRequestTimeoutRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(pingBody))
	}))
	defer srv.Close()

	d, st := newTestDispatcher(t, srv.URL, false)
	d.requestTimeout = 30 * time.Millisecond

	result := d.Ping(context.Background(), "core-1")

	if result.Success {
		t.Fatal("Success = true, want timeout failure")
	}
	if result.ErrorKind != types.ErrRequestTimeout {
		t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, types.ErrRequestTimeout)
	}
	if history := st.History(); len(history) != 1 {
		t.Errorf("history = %d entries, want the failure recorded", len(history))
	}
}

func TestHealthCheckFailureUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv.URL, false)
	result := d.Ping(context.Background(), "core-1")

	if result.ErrorKind != types.ErrEndpointUnreachable {
		t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, types.ErrEndpointUnreachable)
	}
}

func TestServerErrorRequestFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv.URL, false)
	result := d.Ping(context.Background(), "core-1")

	if result.ErrorKind != types.ErrRequestFailed {
		t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, types.ErrRequestFailed)
	}
	if !strings.Contains(result.Lines[0], "500") {
		t.Errorf("failure line should carry the status: %q", result.Lines[0])
	}
}

func TestMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv.URL, false)
	result := d.Ping(context.Background(), "core-1")

	if result.ErrorKind != types.ErrMalformedResponse {
		t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, types.ErrMalformedResponse)
	}
}

func TestNoEndpointConfigured(t *testing.T) {
	d, st := newTestDispatcher(t, "", false)
	result := d.Ping(context.Background(), "core-1")

	if result.ErrorKind != types.ErrNoEndpointConfigured {
		t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, types.ErrNoEndpointConfigured)
	}
	if history := st.History(); len(history) != 1 {
		t.Errorf("history = %d entries, want the failure recorded", len(history))
	}
}

func TestNetworkTestSimulatedDisabled(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	d, st := newTestDispatcher(t, srv.URL, true)
	result := d.NetworkTest(context.Background(), "core-1")

	if result.ErrorKind != types.ErrFeatureDisabled {
		t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, types.ErrFeatureDisabled)
	}
	if called {
		t.Error("simulated network test must not touch the endpoint")
	}
	if history := st.History(); len(history) != 1 {
		t.Errorf("history = %d entries, want the refusal recorded", len(history))
	}
}

func TestNetworkTestFeatureFlagOff(t *testing.T) {
	d, _ := newTestDispatcher(t, "http://127.0.0.1:1", false)
	d.networkTestEnabled = false

	result := d.NetworkTest(context.Background(), "core-1")
	if result.ErrorKind != types.ErrFeatureDisabled {
		t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, types.ErrFeatureDisabled)
	}
}

func TestNetworkTestLive(t *testing.T) {
	const body = `{
		"start": {
			"connecting_to": {"host": "1.1.11.5", "port": 5201},
			"test_start": {"protocol": "UDP"}
		},
		"end": {
			"sum": {"seconds": 10.0, "bits_per_second": 94371840},
			"streams": [{"udp": {"jitter_ms": 0.042, "lost_packets": 3, "packets": 1200}}],
			"cpu_utilization_percent": {"host_total": 2.1}
		}
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv.URL, false)
	result := d.NetworkTest(context.Background(), "core-1")

	if !result.Success {
		t.Fatalf("Success = false: %v", result.Lines)
	}
	if result.Metrics == nil {
		t.Fatal("Metrics = nil")
	}
	if result.Metrics.PacketLoss != 0.25 {
		t.Errorf("PacketLoss = %v, want 0.25", result.Metrics.PacketLoss)
	}
	if got := result.Lines[3]; got != "Bits per second: 94371840" {
		t.Errorf("throughput line = %q", got)
	}
}

func TestSimulatedPingUsesMock(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	d, st := newTestDispatcher(t, srv.URL, true)
	result := d.Ping(context.Background(), "core-1")

	if called {
		t.Error("simulated ping must not touch the endpoint")
	}
	if !result.Success {
		t.Errorf("mock ping for a healthy node should succeed: %v", result.Lines)
	}
	if result.Target != "1.1.11.5" {
		t.Errorf("Target = %q, want node address", result.Target)
	}
	if history := st.History(); len(history) != 1 {
		t.Errorf("history = %d entries, want 1", len(history))
	}
}

func TestUnknownNodeNotRecorded(t *testing.T) {
	d, st := newTestDispatcher(t, "", true)
	result := d.Ping(context.Background(), "nope")

	if result.Success {
		t.Error("unknown node should fail")
	}
	if history := st.History(); len(history) != 0 {
		t.Errorf("history = %d entries, want 0 for an unknown node", len(history))
	}
}

func TestInflightGuard(t *testing.T) {
	d, _ := newTestDispatcher(t, "", true)

	release, ok := d.acquire("1.1.11.5", types.CommandPing)
	if !ok {
		t.Fatal("first acquire refused")
	}

	if _, ok := d.acquire("1.1.11.5", types.CommandPing); ok {
		t.Error("duplicate (target, command) acquire should be refused")
	}
	if rel, ok := d.acquire("1.1.11.5", types.CommandTraceroute); !ok {
		t.Error("different command on same target should be allowed")
	} else {
		rel()
	}

	release()
	if rel, ok := d.acquire("1.1.11.5", types.CommandPing); !ok {
		t.Error("acquire after release should succeed")
	} else {
		rel()
	}
}

func TestStaleGenerationMetricsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(pingBody))
	}))
	defer srv.Close()

	d, st := newTestDispatcher(t, srv.URL, false)

	// A reload between dispatch and completion invalidates the sample. The
	// dispatcher captures the generation up front, so bumping it here stands
	// in for a concurrent reload.
	gen := st.Generation()
	st.Invalidate()

	result := d.live(context.Background(), types.CommandPing, "1.1.11.5")
	st.ApplyMetricsUpdate(gen, "core-1", types.MetricsSample{
		Latency:    &result.Metrics.AvgLatency,
		PacketLoss: &result.Metrics.PacketLoss,
	})

	node, _ := st.NodeByID("core-1")
	if node.Metrics.Latency != 0 {
		t.Errorf("stale sample applied: latency = %v, want 0", node.Metrics.Latency)
	}
}
