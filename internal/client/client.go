// Package client provides the HTTP client for remote diagnostic services.
//
// # Operations
//
// - CheckHealth: bounded-timeout probe against the service health path
// - Ping / Traceroute / NetworkTest: diagnostic command calls
// - FetchTopology: full node/connection refresh
//
// Every call is context-bound; the caller owns the timeout budget. Errors are
// typed so the dispatcher can normalize them: a non-2xx status surfaces as
// *StatusError, an undecodable body wraps ErrMalformed.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/opswatch/netdash/pkg/types"
)

// ErrMalformed marks a response body that did not match the service contract.
var ErrMalformed = errors.New("malformed response")

// StatusError is a non-success HTTP status from a diagnostic service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// Paths are the service paths relative to an endpoint base URL.
type Paths struct {
	Health      string
	Ping        string
	Traceroute  string
	NetworkTest string
	Topology    string
}

// DefaultPaths returns the stock service paths.
func DefaultPaths() Paths {
	return Paths{
		Health:      "/health",
		Ping:        "/ping",
		Traceroute:  "/traceroute",
		NetworkTest: "/network_test",
		Topology:    "/topology",
	}
}

// Client talks to remote diagnostic services. The zero timeout http.Client is
// intentional: deadlines come from the request context.
type Client struct {
	httpClient *http.Client
	paths      Paths
}

// Config for the client.
type Config struct {
	Paths      Paths
	HTTPClient *http.Client
}

// New creates a diagnostic service client.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Paths == (Paths{}) {
		cfg.Paths = DefaultPaths()
	}
	return &Client{
		httpClient: cfg.HTTPClient,
		paths:      cfg.Paths,
	}
}

// =============================================================================
// WIRE FORMATS
// =============================================================================

// PingResponse is the ping path contract.
type PingResponse struct {
	Host      string      `json:"host"`
	Responses []PingProbe `json:"responses"`
	Stats     PingStats   `json:"stats"`
}

// PingProbe is one echo reply.
type PingProbe struct {
	Bytes   int     `json:"bytes"`
	Host    string  `json:"host"`
	ICMPSeq int     `json:"icmp_seq"`
	TTL     int     `json:"ttl"`
	Time    float64 `json:"time"`
}

// PingStats aggregates a ping run.
type PingStats struct {
	Packets PacketStats `json:"packets"`
	RTT     RTTStats    `json:"rtt"`
}

// PacketStats counts transmitted and received probes.
type PacketStats struct {
	Transmitted int     `json:"transmitted"`
	Received    int     `json:"received"`
	Loss        float64 `json:"loss"`
	Time        float64 `json:"time"`
}

// RTTStats are round-trip time aggregates in milliseconds.
type RTTStats struct {
	Min  float64 `json:"min"`
	Avg  float64 `json:"avg"`
	Max  float64 `json:"max"`
	Mdev float64 `json:"mdev"`
}

// TracerouteResponse is the traceroute path contract.
type TracerouteResponse struct {
	Destination string          `json:"destination"`
	Hops        []TracerouteHop `json:"hops"`
}

// TracerouteHop is one hop with its per-probe responders.
type TracerouteHop struct {
	Hop       int           `json:"hop"`
	Responses []HopResponse `json:"responses"`
}

// HopResponse is a single responder at a hop.
type HopResponse struct {
	Host string  `json:"host"`
	Time float64 `json:"time"`
}

// NetworkTestResponse is the network_test path contract (iperf-style).
type NetworkTestResponse struct {
	Start struct {
		ConnectingTo struct {
			Host string `json:"host"`
			Port int    `json:"port"`
		} `json:"connecting_to"`
		TestStart struct {
			Protocol string `json:"protocol"`
		} `json:"test_start"`
	} `json:"start"`
	End struct {
		Sum struct {
			Seconds       float64 `json:"seconds"`
			BitsPerSecond float64 `json:"bits_per_second"`
		} `json:"sum"`
		Streams []struct {
			UDP struct {
				JitterMs    float64 `json:"jitter_ms"`
				LostPackets int     `json:"lost_packets"`
				Packets     int     `json:"packets"`
			} `json:"udp"`
		} `json:"streams"`
		CPUUtilizationPercent struct {
			HostTotal float64 `json:"host_total"`
		} `json:"cpu_utilization_percent"`
	} `json:"end"`
}

// TopologyResponse is the topology path contract.
type TopologyResponse struct {
	Nodes       []types.Node       `json:"nodes"`
	Connections []types.Connection `json:"connections"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// CheckHealth probes the endpoint's health path.
func (c *Client) CheckHealth(ctx context.Context, baseURL string) error {
	resp, err := c.get(ctx, baseURL+c.paths.Health)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return nil
}

// Ping runs a ping against the target through the endpoint.
func (c *Client) Ping(ctx context.Context, baseURL, target string) (*PingResponse, error) {
	var out PingResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s%s/%s", baseURL, c.paths.Ping, target), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Traceroute runs a path trace to the target through the endpoint.
func (c *Client) Traceroute(ctx context.Context, baseURL, target string) (*TracerouteResponse, error) {
	var out TracerouteResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s%s/%s", baseURL, c.paths.Traceroute, target), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NetworkTest runs a throughput test to the target through the endpoint.
func (c *Client) NetworkTest(ctx context.Context, baseURL, target string) (*NetworkTestResponse, error) {
	var out NetworkTestResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s%s/%s", baseURL, c.paths.NetworkTest, target), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchTopology pulls the full node/connection set from the endpoint.
func (c *Client) FetchTopology(ctx context.Context, baseURL string) (*TopologyResponse, error) {
	var out TopologyResponse
	if err := c.getJSON(ctx, baseURL+c.paths.Topology, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// getJSON performs a GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// get performs a GET request with standard headers.
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "netdash/1.0")

	return c.httpClient.Do(req)
}

// statusError extracts an error from a failed response.
func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
