package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// FileHash hashes raw source bytes. Any byte change moves it.
func FileHash(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// SemanticHash hashes only the observable structure of a unit. Both inputs are
// normalized first, so ordering differences in the extraction do not matter.
func SemanticHash(comp Composition, iface Interface) string {
	payload := struct {
		Composition Composition `json:"composition"`
		Interface   Interface   `json:"interface"`
	}{
		Composition: normalizeComposition(comp),
		Interface:   normalizeInterface(iface),
	}
	// Marshal of plain structs and sorted slices cannot fail.
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normalizeComposition(c Composition) Composition {
	out := Composition{
		Components: sortedUnique(c.Components),
		Hooks:      sortedUnique(c.Hooks),
		Functions:  sortedUnique(c.Functions),
		Variables:  sortedUnique(c.Variables),
	}

	merged := make(map[string][]string)
	for _, imp := range c.Imports {
		if imp.Source == "" {
			continue
		}
		merged[imp.Source] = append(merged[imp.Source], imp.Names...)
	}
	if len(merged) > 0 {
		sources := make([]string, 0, len(merged))
		for s := range merged {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		out.Imports = make([]Import, 0, len(sources))
		for _, s := range sources {
			out.Imports = append(out.Imports, Import{Source: s, Names: sortedUnique(merged[s])})
		}
	}
	return out
}

func normalizeInterface(i Interface) Interface {
	out := Interface{
		Events:  sortedUnique(i.Events),
		State:   sortedUnique(i.State),
		Exports: sortedUnique(i.Exports),
	}

	if len(i.Props) > 0 {
		byName := make(map[string]Prop, len(i.Props))
		for _, p := range i.Props {
			if p.Name == "" {
				continue
			}
			byName[p.Name] = p
		}
		names := make([]string, 0, len(byName))
		for n := range byName {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out.Props = append(out.Props, byName[n])
		}
	}
	return out
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
