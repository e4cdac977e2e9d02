// Package resolver maps diagnostic targets to configured service endpoints.
//
// The mapping is a heuristic, not a routing table: the first two dot-separated
// octets of the target address are matched against the address of each
// endpoint's associated node. A target like 1.1.11.5 lands on the endpoint
// whose node sits in 1.1.x.x. Addresses that match no prefix fall back to the
// first configured endpoint, which keeps resolution deterministic when the
// topology and the endpoint list drift apart.
package resolver

import (
	"strings"

	"github.com/opswatch/netdash/pkg/types"
)

// Resolve picks the endpoint to use for the given target address.
//
// Returns nil only when no endpoints are configured at all; callers must
// treat that as a hard failure rather than retry.
func Resolve(target string, endpoints []types.Endpoint, nodes []types.Node) *types.Endpoint {
	if len(endpoints) == 0 {
		return nil
	}

	prefix := addressPrefix(target)

	byID := make(map[string]types.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	for i, ep := range endpoints {
		if ep.NodeID == "" {
			continue
		}
		node, ok := byID[ep.NodeID]
		if !ok {
			continue
		}
		if strings.HasPrefix(node.Address, prefix) {
			return &endpoints[i]
		}
	}

	// Deterministic default: the first configured endpoint.
	return &endpoints[0]
}

// addressPrefix returns the first two dot-separated octets of an address.
// Shorter addresses are used whole.
func addressPrefix(addr string) string {
	parts := strings.SplitN(addr, ".", 3)
	if len(parts) < 3 {
		return addr
	}
	return parts[0] + "." + parts[1]
}
