// Package types defines the core domain types shared across the dashboard core.
//
// # Design Principles
//
// 1. Simplicity: Types represent the domain model directly, no ORM abstractions
// 2. Serialization: All types are JSON-serializable for API transport
// 3. Immutability: DiagnosticResults are never mutated once created
// 4. Validation: Types include Validate() methods for business rule enforcement
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// HEALTH TIERS
// =============================================================================

// HealthTier is the discrete health classification of a node or connection.
type HealthTier string

const (
	// TierUnknown - no metrics observed yet
	TierUnknown HealthTier = "unknown"
	// TierHealthy - all metrics within thresholds
	TierHealthy HealthTier = "healthy"
	// TierDegraded - at least one metric past its degraded threshold
	TierDegraded HealthTier = "degraded"
	// TierCritical - at least one metric past its critical threshold
	TierCritical HealthTier = "critical"
)

// Severity orders tiers for escalation: unknown < healthy < degraded < critical.
func (t HealthTier) Severity() int {
	switch t {
	case TierHealthy:
		return 1
	case TierDegraded:
		return 2
	case TierCritical:
		return 3
	default:
		return 0
	}
}

// Valid reports whether t is one of the defined tiers.
func (t HealthTier) Valid() bool {
	switch t {
	case TierUnknown, TierHealthy, TierDegraded, TierCritical:
		return true
	}
	return false
}

// =============================================================================
// TOPOLOGY
// =============================================================================

// NodeType classifies monitored devices.
type NodeType string

const (
	NodeServer  NodeType = "server"
	NodeRouter  NodeType = "router"
	NodeSwitch  NodeType = "switch"
	NodeGateway NodeType = "gateway"
)

// LatLng is a geographic coordinate for map placement.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NodeMetrics is the last known metrics snapshot for a node.
type NodeMetrics struct {
	Latency    float64 `json:"latency"`     // ms
	PacketLoss float64 `json:"packet_loss"` // percent
	Uptime     float64 `json:"uptime"`      // percent
	Load       float64 `json:"load"`        // percent
}

// Node is a monitored device on the topology map.
//
// Nodes are created from static configuration or a remote topology fetch and
// live for the whole session. Only the tier, latency and packet loss fields
// change afterwards, driven by diagnostic results.
type Node struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Address  string      `json:"ip"`
	Location LatLng      `json:"location"`
	City     string      `json:"city"`
	Region   string      `json:"region"`
	Tier     HealthTier  `json:"status"`
	Metrics  NodeMetrics `json:"metrics"`
	Type     NodeType    `json:"type"`
}

// Validate checks required node fields.
func (n Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if n.Address == "" {
		return fmt.Errorf("node %s: address is required", n.ID)
	}
	return nil
}

// ConnectionMetrics is the metrics snapshot for a connection.
type ConnectionMetrics struct {
	Latency     float64 `json:"latency"`     // ms
	Bandwidth   float64 `json:"bandwidth"`   // Mbps
	PacketLoss  float64 `json:"packet_loss"` // percent
	Utilization float64 `json:"utilization"` // percent
}

// Connection is a link between two nodes, referenced by id on both ends.
// A connection does not own its endpoints; a dangling reference means the
// connection is simply not rendered, it is not a data-model error.
//
// The tier is derived: it is only ever written by the cascade from an
// adjacent node's tier change, never set directly.
type Connection struct {
	ID      string            `json:"id"`
	Source  string            `json:"source"`
	Target  string            `json:"target"`
	Tier    HealthTier        `json:"status"`
	Metrics ConnectionMetrics `json:"metrics"`
}

// Touches reports whether the connection references the given node id.
func (c Connection) Touches(nodeID string) bool {
	return c.Source == nodeID || c.Target == nodeID
}

// =============================================================================
// THRESHOLDS
// =============================================================================

// Band is a degraded/critical threshold pair for one metric.
type Band struct {
	Degraded float64 `json:"degraded" yaml:"degraded"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// Thresholds are the per-metric classification boundaries.
// Loaded once from configuration and immutable for the session.
// Uptime bands are carried for display but do not drive classification.
type Thresholds struct {
	Latency    Band `json:"latency" yaml:"latency"`
	PacketLoss Band `json:"packet_loss" yaml:"packet_loss"`
	Uptime     Band `json:"uptime" yaml:"uptime"`
}

// DefaultThresholds returns the stock classification boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Latency:    Band{Degraded: 50, Critical: 100},
		PacketLoss: Band{Degraded: 1, Critical: 5},
		Uptime:     Band{Degraded: 99, Critical: 95},
	}
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// CommandKind identifies a diagnostic command.
type CommandKind string

const (
	CommandPing        CommandKind = "ping"
	CommandTraceroute  CommandKind = "traceroute"
	CommandNetworkTest CommandKind = "network_test"
)

// ErrorKind classifies a failed diagnostic. Failures are data, not panics:
// every kind is carried on an unsuccessful DiagnosticResult so that history,
// UI and tests treat failures uniformly with successes.
type ErrorKind string

const (
	ErrNoEndpointConfigured ErrorKind = "no_endpoint_configured"
	ErrEndpointUnreachable  ErrorKind = "endpoint_unreachable"
	ErrRequestTimeout       ErrorKind = "request_timeout"
	ErrRequestFailed        ErrorKind = "request_failed"
	ErrMalformedResponse    ErrorKind = "malformed_response"
	ErrFeatureDisabled      ErrorKind = "feature_disabled"
)

// DiagnosticMetrics is the metric subset extracted from a diagnostic run.
type DiagnosticMetrics struct {
	MinLatency float64 `json:"min_latency"`
	MaxLatency float64 `json:"max_latency"`
	AvgLatency float64 `json:"avg_latency"`
	PacketLoss float64 `json:"packet_loss"`
}

// MetricsSample is a partial metrics reading fed back into the topology.
// Nil fields mean the reading did not observe that metric.
type MetricsSample struct {
	Latency    *float64 `json:"latency,omitempty"`     // ms
	PacketLoss *float64 `json:"packet_loss,omitempty"` // percent
}

// Empty reports whether the sample carries no metric at all.
func (s MetricsSample) Empty() bool {
	return s.Latency == nil && s.PacketLoss == nil
}

// DiagnosticResult is the immutable outcome of one diagnostic run.
type DiagnosticResult struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Command   CommandKind        `json:"command"`
	Target    string             `json:"target"`
	Lines     []string           `json:"results"`
	Success   bool               `json:"success"`
	Metrics   *DiagnosticMetrics `json:"metrics,omitempty"`
	ErrorKind ErrorKind          `json:"error_kind,omitempty"`
}

// =============================================================================
// ENDPOINTS AND FILTERS
// =============================================================================

// Endpoint is a configured remote diagnostic service instance.
type Endpoint struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	NodeID string `json:"node_id,omitempty"` // associated node, if any
}

// Validate checks required endpoint fields.
func (e Endpoint) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("endpoint id is required")
	}
	if e.URL == "" {
		return fmt.Errorf("endpoint %s: url is required", e.ID)
	}
	return nil
}

// Filters narrow the visible node set. They never mutate the node collection.
type Filters struct {
	Status     []HealthTier `json:"status"`
	SearchTerm string       `json:"search_term"`
}

// FilterUpdate is a partial filter change. Nil fields are left untouched;
// a non-nil Status replaces the whole status set, a non-nil SearchTerm
// replaces the whole term (set-replace semantics, not element-wise merge).
type FilterUpdate struct {
	Status     []HealthTier
	SearchTerm *string
}
