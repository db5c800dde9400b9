package graph

import "ctxpack/internal/resolver"

// UnresolvedReasonCounts tallies unresolved references across all nodes.
func (m *Manifest) UnresolvedReasonCounts() map[resolver.Reason]int {
	counts := make(map[resolver.Reason]int)
	if m == nil {
		return counts
	}
	for _, n := range m.Nodes {
		for _, u := range n.Unresolved {
			reason := u.Reason
			if reason == "" {
				reason = resolver.ReasonNotFound
			}
			counts[reason]++
		}
	}
	return counts
}
