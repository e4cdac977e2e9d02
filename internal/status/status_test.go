package status

import (
	"testing"

	"github.com/opswatch/netdash/pkg/types"
)

func f(v float64) *float64 { return &v }

func TestClassify(t *testing.T) {
	th := types.DefaultThresholds()

	tests := []struct {
		name   string
		sample types.MetricsSample
		want   types.HealthTier
	}{
		{
			name:   "empty sample",
			sample: types.MetricsSample{},
			want:   types.TierUnknown,
		},
		{
			name:   "clean reading",
			sample: types.MetricsSample{Latency: f(12), PacketLoss: f(0)},
			want:   types.TierHealthy,
		},
		{
			name:   "latency at degraded boundary",
			sample: types.MetricsSample{Latency: f(50)},
			want:   types.TierDegraded,
		},
		{
			name:   "latency at critical boundary",
			sample: types.MetricsSample{Latency: f(100)},
			want:   types.TierCritical,
		},
		{
			name:   "loss at degraded boundary",
			sample: types.MetricsSample{PacketLoss: f(1)},
			want:   types.TierDegraded,
		},
		{
			name:   "loss at critical boundary",
			sample: types.MetricsSample{PacketLoss: f(5)},
			want:   types.TierCritical,
		},
		{
			name:   "critical loss wins over healthy latency",
			sample: types.MetricsSample{Latency: f(8), PacketLoss: f(80)},
			want:   types.TierCritical,
		},
		{
			name:   "critical latency wins over degraded loss",
			sample: types.MetricsSample{Latency: f(250), PacketLoss: f(2)},
			want:   types.TierCritical,
		},
		{
			name:   "latency only, no loss reading",
			sample: types.MetricsSample{Latency: f(70)},
			want:   types.TierDegraded,
		},
		{
			name:   "loss only, no latency reading",
			sample: types.MetricsSample{PacketLoss: f(0.2)},
			want:   types.TierHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.sample, th)
			if got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func testConnections() []types.Connection {
	return []types.Connection{
		{ID: "conn-1-2", Source: "node-1", Target: "node-2", Tier: types.TierHealthy},
		{ID: "conn-1-3", Source: "node-1", Target: "node-3", Tier: types.TierDegraded},
		{ID: "conn-2-3", Source: "node-2", Target: "node-3", Tier: types.TierHealthy},
	}
}

func TestCascade_CriticalEscalatesEverything(t *testing.T) {
	node := types.Node{ID: "node-1", Tier: types.TierCritical}

	updated := Cascade(node, testConnections())

	if len(updated) != 2 {
		t.Fatalf("expected 2 updated connections, got %d", len(updated))
	}
	for _, conn := range updated {
		if !conn.Touches("node-1") {
			t.Errorf("connection %s does not touch node-1", conn.ID)
		}
		if conn.Tier != types.TierCritical {
			t.Errorf("connection %s: got %s, want critical", conn.ID, conn.Tier)
		}
	}
}

func TestCascade_DegradedDoesNotTouchCritical(t *testing.T) {
	conns := []types.Connection{
		{ID: "conn-1-2", Source: "node-1", Target: "node-2", Tier: types.TierCritical},
		{ID: "conn-1-3", Source: "node-1", Target: "node-3", Tier: types.TierHealthy},
		{ID: "conn-1-4", Source: "node-1", Target: "node-4", Tier: types.TierUnknown},
	}
	node := types.Node{ID: "node-1", Tier: types.TierDegraded}

	updated := Cascade(node, conns)

	if len(updated) != 2 {
		t.Fatalf("expected 2 updated connections, got %d", len(updated))
	}
	for _, conn := range updated {
		if conn.ID == "conn-1-2" {
			t.Error("critical connection must not be downgraded by a degraded node")
		}
		if conn.Tier != types.TierDegraded {
			t.Errorf("connection %s: got %s, want degraded", conn.ID, conn.Tier)
		}
	}
}

func TestCascade_HealthyNeverDowngrades(t *testing.T) {
	node := types.Node{ID: "node-1", Tier: types.TierHealthy}

	if updated := Cascade(node, testConnections()); updated != nil {
		t.Errorf("healthy node must not change any connection, got %d updates", len(updated))
	}

	node.Tier = types.TierUnknown
	if updated := Cascade(node, testConnections()); updated != nil {
		t.Errorf("unknown node must not change any connection, got %d updates", len(updated))
	}
}

func TestCascade_UnrelatedConnectionsUntouched(t *testing.T) {
	node := types.Node{ID: "node-9", Tier: types.TierCritical}

	if updated := Cascade(node, testConnections()); updated != nil {
		t.Errorf("no connection touches node-9, got %d updates", len(updated))
	}
}

func TestCascade_Idempotent(t *testing.T) {
	node := types.Node{ID: "node-1", Tier: types.TierCritical}
	conns := testConnections()

	first := Cascade(node, conns)
	for _, u := range first {
		for i := range conns {
			if conns[i].ID == u.ID {
				conns[i] = u
			}
		}
	}

	if second := Cascade(node, conns); second != nil {
		t.Errorf("second cascade should be a no-op, got %d updates", len(second))
	}
}
