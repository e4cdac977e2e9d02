// Package config handles dashboard core configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Environment variables (NETDASH_*), optionally via a .env file
// 2. Config file (YAML)
// 3. Defaults
//
// # Example Config File
//
//	endpoints:
//	  - id: whiskey1
//	    name: Whiskey1
//	    url: http://localhost:31800
//	    node_id: whiskey1
//
//	topology:
//	  nodes:
//	    - id: whiskey1
//	      name: Whiskey1
//	      ip: 1.1.11.1
//	      lat: 40.7128
//	      lng: -74.0060
//	      city: New York
//	      region: NY
//	      type: server
//	  connections:
//	    - id: conn-w1-r1
//	      source: whiskey1
//	      target: router1
//	      bandwidth: 1000
//
//	thresholds:
//	  latency: {degraded: 50, critical: 100}
//	  packet_loss: {degraded: 1, critical: 5}
//
//	timeouts:
//	  request: 10s
//	  network_test: 20s
//	  health_check: 5s
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opswatch/netdash/pkg/types"
)

// Config is the complete core configuration.
type Config struct {
	Endpoints  []EndpointConfig `yaml:"endpoints"`
	Topology   TopologyConfig   `yaml:"topology"`
	Thresholds types.Thresholds `yaml:"thresholds"`
	Paths      PathsConfig      `yaml:"paths"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
	Features   FeatureConfig    `yaml:"features"`
	Limits     LimitConfig      `yaml:"limits"`
}

// EndpointConfig declares one remote diagnostic service.
type EndpointConfig struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	URL    string `yaml:"url" json:"url"`
	NodeID string `yaml:"node_id,omitempty" json:"node_id,omitempty"`
}

// TopologyConfig is the static node/connection seed.
type TopologyConfig struct {
	Nodes       []NodeConfig       `yaml:"nodes"`
	Connections []ConnectionConfig `yaml:"connections"`
}

// NodeConfig declares a monitored node.
type NodeConfig struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	IP     string  `yaml:"ip" json:"ip"`
	Lat    float64 `yaml:"lat" json:"lat"`
	Lng    float64 `yaml:"lng" json:"lng"`
	City   string  `yaml:"city" json:"city"`
	Region string  `yaml:"region" json:"region"`
	Type   string  `yaml:"type" json:"type"`
}

// ConnectionConfig declares a link between two nodes.
type ConnectionConfig struct {
	ID        string  `yaml:"id" json:"id"`
	Source    string  `yaml:"source" json:"source"`
	Target    string  `yaml:"target" json:"target"`
	Bandwidth float64 `yaml:"bandwidth,omitempty" json:"bandwidth,omitempty"`
}

// PathsConfig are the service paths relative to an endpoint base URL.
type PathsConfig struct {
	Health      string `yaml:"health"`
	Ping        string `yaml:"ping"`
	Traceroute  string `yaml:"traceroute"`
	NetworkTest string `yaml:"network_test"`
	Topology    string `yaml:"topology"`
}

// TimeoutConfig holds the per-command-family budgets. Request covers ping and
// traceroute; the throughput test gets its own, longer budget.
type TimeoutConfig struct {
	Request     time.Duration `yaml:"request"`
	NetworkTest time.Duration `yaml:"network_test"`
	HealthCheck time.Duration `yaml:"health_check"`
}

// FeatureConfig holds feature flags.
type FeatureConfig struct {
	EnableNetworkTest bool `yaml:"enable_network_test"`
	SimulatedDefault  bool `yaml:"simulated_default"`
}

// LimitConfig bounds outbound request rates per endpoint.
type LimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Thresholds: types.DefaultThresholds(),
		Paths: PathsConfig{
			Health:      "/health",
			Ping:        "/ping",
			Traceroute:  "/traceroute",
			NetworkTest: "/network_test",
			Topology:    "/topology",
		},
		Timeouts: TimeoutConfig{
			Request:     10 * time.Second,
			NetworkTest: 20 * time.Second,
			HealthCheck: 5 * time.Second,
		},
		Features: FeatureConfig{
			EnableNetworkTest: true,
			SimulatedDefault:  true,
		},
		Limits: LimitConfig{
			RequestsPerSecond: 4,
			Burst:             2,
		},
	}
}

// Load reads the YAML file, then applies environment overrides. A .env file
// in the working directory is honored when present. An empty path skips the
// file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides:
// - NETDASH_ENDPOINTS (JSON array of endpoint objects)
// - NETDASH_NODES, NETDASH_CONNECTIONS (JSON arrays)
// - NETDASH_THRESHOLDS (JSON object)
// - NETDASH_REQUEST_TIMEOUT, NETDASH_NETWORK_TEST_TIMEOUT (durations)
// - NETDASH_ENABLE_NETWORK_TEST, NETDASH_SIMULATED_DEFAULT (true/false)
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("NETDASH_ENDPOINTS"); v != "" {
		var endpoints []EndpointConfig
		if err := json.Unmarshal([]byte(v), &endpoints); err == nil {
			c.Endpoints = endpoints
		}
	}
	if v := os.Getenv("NETDASH_NODES"); v != "" {
		var nodes []NodeConfig
		if err := json.Unmarshal([]byte(v), &nodes); err == nil {
			c.Topology.Nodes = nodes
		}
	}
	if v := os.Getenv("NETDASH_CONNECTIONS"); v != "" {
		var conns []ConnectionConfig
		if err := json.Unmarshal([]byte(v), &conns); err == nil {
			c.Topology.Connections = conns
		}
	}
	if v := os.Getenv("NETDASH_THRESHOLDS"); v != "" {
		var th types.Thresholds
		if err := json.Unmarshal([]byte(v), &th); err == nil {
			c.Thresholds = th
		}
	}
	if v := os.Getenv("NETDASH_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeouts.Request = d
		}
	}
	if v := os.Getenv("NETDASH_NETWORK_TEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeouts.NetworkTest = d
		}
	}
	if v := os.Getenv("NETDASH_ENABLE_NETWORK_TEST"); v != "" {
		c.Features.EnableNetworkTest = v == "true"
	}
	if v := os.Getenv("NETDASH_SIMULATED_DEFAULT"); v != "" {
		c.Features.SimulatedDefault = v == "true"
	}
}

// Validate checks that the configuration is internally consistent. This is
// the only place where bad input is a hard error; everything downstream of
// startup degrades to representable failures.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Topology.Nodes))
	for _, n := range c.Topology.Nodes {
		node := n.Node()
		if err := node.Validate(); err != nil {
			return err
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %s", n.ID)
		}
		seen[n.ID] = true
	}

	for _, e := range c.Endpoints {
		if err := e.Endpoint().Validate(); err != nil {
			return err
		}
	}

	if c.Timeouts.Request <= 0 {
		return fmt.Errorf("timeouts.request must be positive")
	}
	if c.Timeouts.NetworkTest <= 0 {
		return fmt.Errorf("timeouts.network_test must be positive")
	}
	return nil
}

// Node converts the config entry to a domain node. Freshly configured nodes
// start in the unknown tier until a diagnostic observes them.
func (n NodeConfig) Node() types.Node {
	return types.Node{
		ID:       n.ID,
		Name:     n.Name,
		Address:  n.IP,
		Location: types.LatLng{Lat: n.Lat, Lng: n.Lng},
		City:     n.City,
		Region:   n.Region,
		Tier:     types.TierUnknown,
		Type:     types.NodeType(n.Type),
	}
}

// Connection converts the config entry to a domain connection.
func (c ConnectionConfig) Connection() types.Connection {
	return types.Connection{
		ID:     c.ID,
		Source: c.Source,
		Target: c.Target,
		Tier:   types.TierUnknown,
		Metrics: types.ConnectionMetrics{
			Bandwidth: c.Bandwidth,
		},
	}
}

// Endpoint converts the config entry to a domain endpoint.
func (e EndpointConfig) Endpoint() types.Endpoint {
	return types.Endpoint{
		ID:     e.ID,
		Name:   e.Name,
		URL:    e.URL,
		NodeID: e.NodeID,
	}
}

// DomainNodes converts the whole topology seed to domain nodes.
func (t TopologyConfig) DomainNodes() []types.Node {
	out := make([]types.Node, len(t.Nodes))
	for i, n := range t.Nodes {
		out[i] = n.Node()
	}
	return out
}

// DomainConnections converts the whole topology seed to domain connections.
func (t TopologyConfig) DomainConnections() []types.Connection {
	out := make([]types.Connection, len(t.Connections))
	for i, c := range t.Connections {
		out[i] = c.Connection()
	}
	return out
}

// DomainEndpoints converts the endpoint list to domain endpoints.
func (c *Config) DomainEndpoints() []types.Endpoint {
	out := make([]types.Endpoint, len(c.Endpoints))
	for i, e := range c.Endpoints {
		out[i] = e.Endpoint()
	}
	return out
}
