package bundle

import (
	"sort"
	"time"

	"ctxpack/internal/contract"
	"ctxpack/internal/resolver"
)

// Version is stamped into meta.source. Overridden at link time for releases.
var Version = "dev"

// Bundle is one entry point's materialized context.
type Bundle struct {
	EntryID    string    `json:"entryId"`
	Depth      int       `json:"depth"`
	CreatedAt  time.Time `json:"createdAt"`
	BundleHash string    `json:"bundleHash"`
	Graph      Graph     `json:"graph"`
	Meta       Meta      `json:"meta"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type Node struct {
	EntryID      string             `json:"entryId"`
	SemanticHash string             `json:"semanticHash"`
	FileHash     string             `json:"fileHash"`
	Contract     *contract.Contract `json:"contract,omitempty"`
}

// Edge is a resolved dependency pair, serialized as [from, to].
type Edge [2]string

func (e Edge) From() string { return e[0] }
func (e Edge) To() string   { return e[1] }

type Meta struct {
	Missing   []Missing `json:"missing"`
	Source    string    `json:"source"`
	Truncated bool      `json:"truncated,omitempty"`
}

// Missing is a reference that is not part of the bundle, with the reason why.
type Missing struct {
	Name         string          `json:"name"`
	Source       string          `json:"source,omitempty"`
	Reason       resolver.Reason `json:"reason"`
	ReferencedBy string          `json:"referencedBy"`
}

// Options bounds a traversal.
type Options struct {
	// Depth is the maximum number of dependency hops from the entry.
	Depth int
	// MaxNodes caps the node count. Zero means unbounded.
	MaxNodes int
	// Now stamps createdAt; defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the bounds used when nothing is configured.
func DefaultOptions() Options {
	return Options{Depth: 3, MaxNodes: 50}
}

// Contains reports whether id is a node of the bundle.
func (b *Bundle) Contains(id string) bool {
	for _, n := range b.Graph.Nodes {
		if n.EntryID == id {
			return true
		}
	}
	return false
}

// NodeIDs lists the bundle's node ids in traversal order.
func (b *Bundle) NodeIDs() []string {
	ids := make([]string, 0, len(b.Graph.Nodes))
	for _, n := range b.Graph.Nodes {
		ids = append(ids, n.EntryID)
	}
	return ids
}

// Sort orders bundles by entryId in place.
func Sort(bundles []*Bundle) {
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].EntryID < bundles[j].EntryID })
}
