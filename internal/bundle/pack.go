// Package bundle assembles depth-bounded dependency subgraphs for entry points.
package bundle

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"ctxpack/internal/graph"
	"ctxpack/internal/resolver"
)

// ErrEntryNotFound is returned when the requested entry is not in the manifest.
var ErrEntryNotFound = errors.New("entry not found in manifest")

type queueItem struct {
	id    string
	depth int
}

// Pack walks the manifest breadth-first from entryID and returns the bundle.
func Pack(entryID string, m *graph.Manifest, opts Options) (*Bundle, error) {
	if !m.Has(entryID) {
		return nil, fmt.Errorf("failed to pack %q: %w", entryID, ErrEntryNotFound)
	}
	if opts.Depth < 0 {
		opts.Depth = 0
	}

	order := map[string]int{entryID: 0}
	included := []string{entryID}
	queue := []queueItem{{id: entryID, depth: 0}}
	truncated := false

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= opts.Depth {
			continue
		}
		for _, dep := range m.GetDependencies(cur.id) {
			if _, seen := order[dep]; seen {
				continue
			}
			if opts.MaxNodes > 0 && len(included) >= opts.MaxNodes {
				truncated = true
				continue
			}
			order[dep] = len(included)
			included = append(included, dep)
			queue = append(queue, queueItem{id: dep, depth: cur.depth + 1})
		}
	}

	b := &Bundle{
		EntryID: entryID,
		Depth:   opts.Depth,
		Meta: Meta{
			Missing:   []Missing{},
			Source:    "ctxpack@" + Version,
			Truncated: truncated,
		},
	}

	var edges []Edge
	seenMissing := make(map[[2]string]bool)
	addMissing := func(ms Missing) {
		ref := ms.Source
		if ref == "" {
			ref = ms.Name
		}
		key := [2]string{ref, ms.ReferencedBy}
		if seenMissing[key] {
			return
		}
		seenMissing[key] = true
		b.Meta.Missing = append(b.Meta.Missing, ms)
	}

	for _, id := range included {
		node := m.Nodes[id]
		b.Graph.Nodes = append(b.Graph.Nodes, Node{
			EntryID:      id,
			SemanticHash: node.SemanticHash,
			FileHash:     node.FileHash,
			Contract:     m.Contract(id),
		})

		var missing []Missing
		for _, u := range node.Unresolved {
			missing = append(missing, Missing{Name: u.Name, Source: u.Source, Reason: u.Reason, ReferencedBy: id})
		}
		for _, dep := range node.Dependencies {
			pos, ok := order[dep]
			if !ok {
				missing = append(missing, Missing{Name: dep, Reason: resolver.ReasonMaxDepth, ReferencedBy: id})
				continue
			}
			edges = append(edges, Edge{id, dep})
			if pos <= order[id] && reaches(m, order, dep, id) {
				missing = append(missing, Missing{Name: dep, Reason: resolver.ReasonCircular, ReferencedBy: id})
			}
		}
		sort.SliceStable(missing, func(i, j int) bool {
			if missing[i].Name != missing[j].Name {
				return missing[i].Name < missing[j].Name
			}
			return missing[i].Source < missing[j].Source
		})
		for _, ms := range missing {
			addMissing(ms)
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	if edges == nil {
		edges = []Edge{}
	}
	b.Graph.Edges = edges
	b.BundleHash = b.computeHash(false)

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	b.CreatedAt = now().UTC()
	return b, nil
}

// reaches reports whether to is reachable from from using only edges between
// nodes in the bundle.
func reaches(m *graph.Manifest, in map[string]int, from, to string) bool {
	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		for _, next := range m.GetDependencies(cur) {
			if _, ok := in[next]; !ok || visited[next] {
				continue
			}
			visited[next] = true
			stack = append(stack, next)
		}
	}
	return false
}

// PackRoots packs every root of the manifest. Per-root failures are returned
// keyed by entryId and do not stop the others.
func PackRoots(m *graph.Manifest, opts Options) ([]*Bundle, map[string]error) {
	var bundles []*Bundle
	failed := make(map[string]error)
	for _, id := range m.Roots {
		b, err := Pack(id, m, opts)
		if err != nil {
			failed[id] = err
			continue
		}
		bundles = append(bundles, b)
	}
	Sort(bundles)
	return bundles, failed
}
