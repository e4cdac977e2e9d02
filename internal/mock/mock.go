// Package mock generates synthetic diagnostic responses for simulated mode.
//
// The structural shape of each response is deterministic for a given tier;
// only filler values (per-probe jitter, hop addresses) are randomized. Tests
// construct a generator with a fixed seed to pin the filler values.
//
// Shapes by assumed tier:
//   - healthy:  clean 4-probe ping at ~12ms, 5-hop traceroute
//   - degraded: 15% loss with a no-response probe mixed in, 8 hops
//   - critical: 80% loss, only the last probe answers at ~250ms, 12 hops
//     with the final 3 rendered unresponsive
//
// An unknown tier has no observed data to imitate and is generated with the
// healthy shape.
package mock

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/opswatch/netdash/pkg/types"
)

// Baseline latency and loss per assumed tier.
const (
	healthyLatency  = 12
	degradedLatency = 120
	criticalLatency = 250

	healthyLoss  = 0
	degradedLoss = 15
	criticalLoss = 80
)

// Generator produces synthetic diagnostic results.
type Generator struct {
	rand *rand.Rand
}

// NewGenerator returns a generator with a time-based seed.
func NewGenerator() *Generator {
	return NewGeneratorWithSeed(time.Now().UnixNano())
}

// NewGeneratorWithSeed returns a generator with a fixed seed.
func NewGeneratorWithSeed(seed int64) *Generator {
	return &Generator{rand: rand.New(rand.NewSource(seed))}
}

// Ping synthesizes a ping run against the target, shaped by its assumed tier.
func (g *Generator) Ping(target string, tier types.HealthTier) types.DiagnosticResult {
	latency := baseLatency(tier)
	loss := baseLoss(tier)
	success := tier != types.TierCritical

	lines := []string{
		fmt.Sprintf("PING %s (%s) 56(84) bytes of data.", target, target),
	}

	switch tier {
	case types.TierDegraded:
		for i := 1; i <= 4; i++ {
			if i == 2 {
				lines = append(lines, fmt.Sprintf("No response from %s: icmp_seq=%d", target, i))
				continue
			}
			lines = append(lines, probeLine(target, i, latency+g.rand.Intn(5)))
		}
		lines = append(lines,
			fmt.Sprintf("--- %s ping statistics ---", target),
			fmt.Sprintf("4 packets transmitted, 3 received, %d%% packet loss, time 3007ms", loss),
			rttLine(latency),
		)
	case types.TierCritical:
		for i := 1; i <= 4; i++ {
			if i < 4 {
				lines = append(lines, fmt.Sprintf("No response from %s: icmp_seq=%d", target, i))
				continue
			}
			lines = append(lines, probeLine(target, i, latency+g.rand.Intn(150)))
		}
		lines = append(lines,
			fmt.Sprintf("--- %s ping statistics ---", target),
			fmt.Sprintf("4 packets transmitted, 1 received, %d%% packet loss, time 3009ms", loss),
			fmt.Sprintf("rtt min/avg/max/mdev = %d/%d/%d/%g ms", latency, latency, latency, float64(latency)*0.1),
		)
	default:
		for i := 1; i <= 4; i++ {
			lines = append(lines, probeLine(target, i, latency+g.rand.Intn(5)))
		}
		lines = append(lines,
			fmt.Sprintf("--- %s ping statistics ---", target),
			fmt.Sprintf("4 packets transmitted, 4 received, %d%% packet loss, time 3004ms", loss),
			rttLine(latency),
		)
	}

	return types.DiagnosticResult{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Command:   types.CommandPing,
		Target:    target,
		Lines:     lines,
		Success:   success,
		Metrics: &types.DiagnosticMetrics{
			MinLatency: float64(latency - 2),
			MaxLatency: float64(latency + 5),
			AvgLatency: float64(latency),
			PacketLoss: float64(loss),
		},
	}
}

// Traceroute synthesizes a path trace to the target, shaped by its assumed
// tier. Hop count scales with tier; a critical run leaves the final hops
// unresponsive and never echoes the target, which marks the trace failed.
func (g *Generator) Traceroute(target string, tier types.HealthTier) types.DiagnosticResult {
	success := tier != types.TierCritical

	hopCount := 5
	switch tier {
	case types.TierDegraded:
		hopCount = 8
	case types.TierCritical:
		hopCount = 12
	}

	lines := []string{
		fmt.Sprintf("traceroute to %s (%s), 30 hops max, 60 byte packets", target, target),
	}

	for i := 1; i <= hopCount; i++ {
		if tier == types.TierCritical && i > hopCount-3 {
			lines = append(lines, fmt.Sprintf("%d  * * *", i))
			continue
		}
		base := i * 10
		lines = append(lines, fmt.Sprintf("%d  hop-%d.example.com (192.168.%d.%d)  %d ms  %d ms  %d ms",
			i, i, i/2, i*10,
			base+g.rand.Intn(5), base+g.rand.Intn(5), base+g.rand.Intn(5)))
	}

	if success {
		final := hopCount*10 + g.rand.Intn(10)
		lines = append(lines, fmt.Sprintf("%d  %s (%s)  %d ms  %d ms  %d ms",
			hopCount+1, target, target, final, final+2, final+1))
	}

	return types.DiagnosticResult{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Command:   types.CommandTraceroute,
		Target:    target,
		Lines:     lines,
		Success:   success,
	}
}

func probeLine(target string, seq, latency int) string {
	return fmt.Sprintf("64 bytes from %s: icmp_seq=%d ttl=64 time=%d ms", target, seq, latency)
}

func rttLine(latency int) string {
	return fmt.Sprintf("rtt min/avg/max/mdev = %d/%d/%d/%g ms",
		latency-2, latency, latency+5, float64(latency)*0.1)
}

func baseLatency(tier types.HealthTier) int {
	switch tier {
	case types.TierDegraded:
		return degradedLatency
	case types.TierCritical:
		return criticalLatency
	default:
		return healthyLatency
	}
}

func baseLoss(tier types.HealthTier) int {
	switch tier {
	case types.TierDegraded:
		return degradedLoss
	case types.TierCritical:
		return criticalLoss
	default:
		return healthyLoss
	}
}
