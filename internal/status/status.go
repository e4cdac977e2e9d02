// Package status classifies metrics samples into health tiers and cascades a
// node's tier onto its incident connections.
//
// Both functions are pure: absence of data yields TierUnknown, never an error.
//
// # Escalation Model
//
// Cascade only ever raises a connection's tier, it never lowers one. A shared
// connection receives metrics from either endpoint at different times;
// one-directional escalation avoids tier flapping while those readings are
// partial. The tier is driven by the last-mutated endpoint, not recomputed
// jointly from both ends.
package status

import (
	"github.com/opswatch/netdash/pkg/types"
)

// Classify maps a metrics sample to a health tier using the given thresholds.
//
// Returns TierUnknown when the sample carries no relevant metric. Otherwise
// the critical boundaries are checked before the degraded ones, so a reading
// past both always classifies as critical.
func Classify(sample types.MetricsSample, th types.Thresholds) types.HealthTier {
	if sample.Empty() {
		return types.TierUnknown
	}

	if sample.Latency != nil && *sample.Latency >= th.Latency.Critical {
		return types.TierCritical
	}
	if sample.PacketLoss != nil && *sample.PacketLoss >= th.PacketLoss.Critical {
		return types.TierCritical
	}

	if sample.Latency != nil && *sample.Latency >= th.Latency.Degraded {
		return types.TierDegraded
	}
	if sample.PacketLoss != nil && *sample.PacketLoss >= th.PacketLoss.Degraded {
		return types.TierDegraded
	}

	return types.TierHealthy
}

// Cascade propagates the node's tier onto every connection touching it and
// returns the connections whose tier changed. Connections not referencing the
// node are never returned.
//
// Escalation rules:
//   - critical node: incident connections become critical unconditionally
//   - degraded node: incident connections below critical become degraded
//   - healthy or unknown node: no change (no downgrade path)
func Cascade(node types.Node, connections []types.Connection) []types.Connection {
	if node.Tier != types.TierCritical && node.Tier != types.TierDegraded {
		return nil
	}

	var updated []types.Connection
	for _, conn := range connections {
		if !conn.Touches(node.ID) {
			continue
		}

		switch {
		case node.Tier == types.TierCritical && conn.Tier != types.TierCritical:
			conn.Tier = types.TierCritical
		case node.Tier == types.TierDegraded && conn.Tier.Severity() < types.TierDegraded.Severity():
			conn.Tier = types.TierDegraded
		default:
			continue
		}
		updated = append(updated, conn)
	}
	return updated
}
