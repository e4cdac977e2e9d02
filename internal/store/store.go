// Package store is the single source of truth for topology state: nodes,
// connections, the current selection, active filters and the diagnostic
// history.
//
// All mutations commit under one write lock, so a reader never observes a
// node tier without its cascaded connection tiers. Operations addressing a
// node id that does not exist are deliberate no-ops, not errors; the UI may
// hold stale ids across a reload.
//
// Reloading the topology bumps a generation counter. Metric feedback from
// diagnostics started before the reload carries the old generation and is
// dropped, so a stale result can never resurrect replaced state. History
// entries are exempt: results are tagged with their own target and timestamp
// and land harmlessly.
package store

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/opswatch/netdash/internal/status"
	"github.com/opswatch/netdash/pkg/types"
)

// HistoryCap bounds the diagnostic history, newest first.
const HistoryCap = 10

// Store holds the canonical topology state.
type Store struct {
	mu     sync.RWMutex
	logger *slog.Logger

	thresholds types.Thresholds

	nodes       []types.Node
	nodeIndex   map[string]int
	connections []types.Connection

	selectedID string
	filters    types.Filters
	history    []types.DiagnosticResult
	generation uint64
}

// New creates an empty store. The default filter shows every tier that has
// been observed (unknown nodes have no health to filter on and stay visible
// through the status set).
func New(thresholds types.Thresholds, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Store{
		logger:     logger,
		thresholds: thresholds,
		nodeIndex:  make(map[string]int),
		filters: types.Filters{
			Status: []types.HealthTier{
				types.TierHealthy, types.TierDegraded, types.TierCritical, types.TierUnknown,
			},
		},
	}
}

// Generation returns the current topology generation. Dispatchers capture it
// before a diagnostic and hand it back with the metric feedback.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Invalidate marks every in-flight diagnostic stale without touching the
// topology. Used on mode switches.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// LoadTopology replaces the full node and connection collections, clears the
// selection and invalidates in-flight diagnostics.
func (s *Store) LoadTopology(nodes []types.Node, connections []types.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make([]types.Node, len(nodes))
	copy(s.nodes, nodes)
	s.connections = make([]types.Connection, len(connections))
	copy(s.connections, connections)

	s.nodeIndex = make(map[string]int, len(s.nodes))
	for i, n := range s.nodes {
		s.nodeIndex[n.ID] = i
	}

	s.selectedID = ""
	s.generation++

	s.logger.Info("topology loaded",
		"nodes", len(s.nodes),
		"connections", len(s.connections),
		"generation", s.generation)
}

// SelectNode sets the current selection. An empty id clears it; ids are not
// validated against the node set.
func (s *Store) SelectNode(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedID = id
}

// SelectedNodeID returns the current selection, "" when nothing is selected.
func (s *Store) SelectedNodeID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

// UpdateFilters merges a partial filter change. A non-nil status set replaces
// the whole set; a non-nil search term replaces the whole term.
func (s *Store) UpdateFilters(update types.FilterUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if update.Status != nil {
		s.filters.Status = make([]types.HealthTier, len(update.Status))
		copy(s.filters.Status, update.Status)
	}
	if update.SearchTerm != nil {
		s.filters.SearchTerm = *update.SearchTerm
	}
}

// Filters returns a copy of the current filter state.
func (s *Store) Filters() types.Filters {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := types.Filters{
		Status:     make([]types.HealthTier, len(s.filters.Status)),
		SearchTerm: s.filters.SearchTerm,
	}
	copy(out.Status, s.filters.Status)
	return out
}

// RecordDiagnostic prepends a result to the history and truncates it to
// HistoryCap entries. The eviction is silent.
func (s *Store) RecordDiagnostic(result types.DiagnosticResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]types.DiagnosticResult, 0, len(s.history)+1)
	history = append(history, result)
	history = append(history, s.history...)
	if len(history) > HistoryCap {
		history = history[:HistoryCap]
	}
	s.history = history
}

// History returns the diagnostic history, newest first.
func (s *Store) History() []types.DiagnosticResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.DiagnosticResult, len(s.history))
	copy(out, s.history)
	return out
}

// ApplyMetricsUpdate feeds a metrics sample into a node: the node's latency
// and packet loss snapshot fields are updated, the node is reclassified and
// its new tier cascades onto incident connections, all under one lock.
//
// Updates carrying a stale generation, an unknown node id or an empty sample
// are no-ops.
func (s *Store) ApplyMetricsUpdate(generation uint64, nodeID string, sample types.MetricsSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		s.logger.Debug("dropping stale metrics update",
			"node", nodeID, "generation", generation, "current", s.generation)
		return
	}
	if sample.Empty() {
		return
	}

	i, ok := s.nodeIndex[nodeID]
	if !ok {
		return
	}

	node := s.nodes[i]
	if sample.Latency != nil {
		node.Metrics.Latency = *sample.Latency
	}
	if sample.PacketLoss != nil {
		node.Metrics.PacketLoss = *sample.PacketLoss
	}
	node.Tier = status.Classify(sample, s.thresholds)
	s.nodes[i] = node

	updated := status.Cascade(node, s.connections)
	for _, conn := range updated {
		for j := range s.connections {
			if s.connections[j].ID == conn.ID {
				s.connections[j] = conn
				break
			}
		}
	}

	s.logger.Debug("metrics applied",
		"node", nodeID, "tier", node.Tier, "cascaded", len(updated))
}

// FilteredNodes returns the nodes visible under the current filters: tier in
// the status set, and name, address or city containing the search term
// case-insensitively.
func (s *Store) FilteredNodes() []types.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	term := strings.ToLower(s.filters.SearchTerm)

	var out []types.Node
	for _, n := range s.nodes {
		if !tierIn(n.Tier, s.filters.Status) {
			continue
		}
		if term != "" && !matchesTerm(n, term) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// NodeByID returns a node by id.
func (s *Store) NodeByID(id string) (types.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.nodeIndex[id]
	if !ok {
		return types.Node{}, false
	}
	return s.nodes[i], true
}

// Nodes returns a copy of the full node collection.
func (s *Store) Nodes() []types.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// Connections returns a copy of the full connection collection.
func (s *Store) Connections() []types.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Connection, len(s.connections))
	copy(out, s.connections)
	return out
}

// ConnectionsForNode returns every connection touching the node.
func (s *Store) ConnectionsForNode(id string) []types.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Connection
	for _, c := range s.connections {
		if c.Touches(id) {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot is a consistent read view for the rendering layer.
type Snapshot struct {
	Nodes       []types.Node
	Connections []types.Connection
	SelectedID  string
	Generation  uint64
}

// Snapshot returns the current topology, selection and generation in one
// consistent view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Nodes:       make([]types.Node, len(s.nodes)),
		Connections: make([]types.Connection, len(s.connections)),
		SelectedID:  s.selectedID,
		Generation:  s.generation,
	}
	copy(snap.Nodes, s.nodes)
	copy(snap.Connections, s.connections)
	return snap
}

func tierIn(tier types.HealthTier, set []types.HealthTier) bool {
	for _, t := range set {
		if t == tier {
			return true
		}
	}
	return false
}

func matchesTerm(n types.Node, term string) bool {
	return strings.Contains(strings.ToLower(n.Name), term) ||
		strings.Contains(strings.ToLower(n.Address), term) ||
		strings.Contains(strings.ToLower(n.City), term)
}
