package graph

import (
	"sort"

	"ctxpack/internal/contract"
	"ctxpack/internal/resolver"
)

// Build derives the manifest from a contract set. Duplicate entryIds are
// collapsed first so every key maps to exactly one contract.
func Build(contracts []*contract.Contract) *Manifest {
	live := contract.Dedupe(contracts)

	m := &Manifest{
		Version:   ManifestVersion,
		Nodes:     make(map[string]*Node, len(live)),
		Roots:     []string{},
		Leaves:    []string{},
		contracts: make(map[string]*contract.Contract, len(live)),
	}

	keys := make([]string, 0, len(live))
	for _, c := range live {
		keys = append(keys, c.EntryID)
		m.contracts[c.EntryID] = c
		m.Nodes[c.EntryID] = &Node{
			Dependencies: []string{},
			Dependents:   []string{},
			SemanticHash: c.SemanticHash,
			FileHash:     c.FileHash,
		}
	}
	ix := resolver.NewIndex(keys)

	deps := make(map[string]map[string]bool, len(live))
	dependents := make(map[string]map[string]bool, len(live))
	for _, c := range live {
		node := m.Nodes[c.EntryID]
		seenMissing := make(map[Unresolved]bool)

		for _, ref := range c.References() {
			target, ok := ix.ResolveDependency(ref, c.EntryID)
			if !ok {
				u := Unresolved{Name: ref.Name, Source: ref.Source, Reason: resolver.Classify(c.EntryID, ref)}
				if !seenMissing[u] {
					seenMissing[u] = true
					node.Unresolved = append(node.Unresolved, u)
				}
				continue
			}
			if target == c.EntryID {
				continue
			}
			addEdge(deps, c.EntryID, target)
			addEdge(dependents, target, c.EntryID)
		}
	}

	for _, id := range keys {
		node := m.Nodes[id]
		node.Dependencies = sortedSet(deps[id])
		node.Dependents = sortedSet(dependents[id])
		if len(node.Dependents) == 0 {
			m.Roots = append(m.Roots, id)
		}
		if len(node.Dependencies) == 0 {
			m.Leaves = append(m.Leaves, id)
		}
	}
	return m
}

// Contract returns the contract behind id, if the manifest carries contracts.
func (m *Manifest) Contract(id string) *contract.Contract {
	if m == nil {
		return nil
	}
	return m.contracts[id]
}

// Contracts returns the attached contracts sorted by entryId.
func (m *Manifest) Contracts() []*contract.Contract {
	if m == nil {
		return nil
	}
	out := make([]*contract.Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}

// WithContracts attaches contract payloads to a manifest loaded from disk.
// Contracts for ids not in the manifest are ignored.
func (m *Manifest) WithContracts(contracts []*contract.Contract) *Manifest {
	m.contracts = make(map[string]*contract.Contract, len(m.Nodes))
	for _, c := range contract.Dedupe(contracts) {
		if _, ok := m.Nodes[c.EntryID]; ok {
			m.contracts[c.EntryID] = c
		}
	}
	return m
}

// Has reports whether id is a node of the manifest.
func (m *Manifest) Has(id string) bool {
	if m == nil {
		return false
	}
	_, ok := m.Nodes[id]
	return ok
}

// IsRoot reports whether id is a node with no dependents.
func (m *Manifest) IsRoot(id string) bool {
	n, ok := m.Nodes[id]
	return ok && len(n.Dependents) == 0
}

// GetDependencies returns the resolved dependencies of id.
func (m *Manifest) GetDependencies(id string) []string {
	if n, ok := m.Nodes[id]; ok {
		return n.Dependencies
	}
	return nil
}

// GetDependents returns the nodes that depend on id.
func (m *Manifest) GetDependents(id string) []string {
	if n, ok := m.Nodes[id]; ok {
		return n.Dependents
	}
	return nil
}

func addEdge(edges map[string]map[string]bool, from, to string) {
	set := edges[from]
	if set == nil {
		set = make(map[string]bool)
		edges[from] = set
	}
	set[to] = true
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
