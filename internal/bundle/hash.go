package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// SemanticDigest hashes the bundle's nodes by semantic hash only, so two
// bundles that differ only cosmetically share a digest.
func (b *Bundle) SemanticDigest() string {
	return b.computeHash(true)
}

// Rehash recomputes the bundle hash, e.g. after decoding.
func (b *Bundle) Rehash() string {
	return b.computeHash(false)
}

func (b *Bundle) computeHash(semanticOnly bool) string {
	lines := make([]string, 0, len(b.Graph.Nodes))
	for _, n := range b.Graph.Nodes {
		if semanticOnly {
			lines = append(lines, "node "+n.EntryID+" "+n.SemanticHash)
		} else {
			lines = append(lines, "node "+n.EntryID+" "+n.FileHash+" "+n.SemanticHash)
		}
	}
	sort.Strings(lines)

	edges := make([]string, 0, len(b.Graph.Edges))
	for _, e := range b.Graph.Edges {
		edges = append(edges, "edge "+e.From()+" "+e.To())
	}
	sort.Strings(edges)

	h := sha256.New()
	h.Write([]byte(strings.Join(lines, "\n")))
	h.Write([]byte("\n--\n"))
	h.Write([]byte(strings.Join(edges, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
