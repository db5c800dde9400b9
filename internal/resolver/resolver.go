// Package resolver maps dependency references onto manifest keys.
package resolver

import (
	"path"
	"sort"
	"strings"

	"ctxpack/internal/contract"
)

// Reason explains why a reference did not become an edge.
type Reason string

const (
	ReasonExternal    Reason = "external package"
	ReasonNotFound    Reason = "file not found"
	ReasonOutsideScan Reason = "outside scan path"
	ReasonMaxDepth    Reason = "max depth exceeded"
	ReasonCircular    Reason = "circular dependency"
)

// Index is a lookup structure over a fixed set of manifest keys.
// All candidate lists are kept sorted so ambiguous lookups are stable.
type Index struct {
	keys   []string
	set    map[string]bool
	byStem map[string][]string
}

// NewIndex builds an index over keys. Keys are normalized; duplicates collapse.
func NewIndex(keys []string) *Index {
	ix := &Index{
		set:    make(map[string]bool, len(keys)),
		byStem: make(map[string][]string),
	}
	for _, k := range keys {
		k = contract.NormalizeEntryID(k)
		if k == "" || ix.set[k] {
			continue
		}
		ix.set[k] = true
		ix.keys = append(ix.keys, k)
	}
	sort.Strings(ix.keys)

	for _, k := range ix.keys {
		stem := contract.Stem(k)
		ix.byStem[stem] = append(ix.byStem[stem], k)
		// An index file also answers to its directory name.
		if stem == "index" {
			if dir := path.Dir(k); dir != "." {
				name := path.Base(dir)
				ix.byStem[name] = append(ix.byStem[name], k)
			}
		}
	}
	for stem := range ix.byStem {
		sort.Strings(ix.byStem[stem])
	}
	return ix
}

// Keys returns the sorted key set.
func (ix *Index) Keys() []string { return ix.keys }

// Has reports whether key is present.
func (ix *Index) Has(key string) bool { return ix.set[key] }

// ResolveKey maps input onto a key: exact match, then match ignoring the
// extension, then a bare name against filename stems.
func (ix *Index) ResolveKey(input string) (string, bool) {
	n := contract.NormalizeEntryID(input)
	if n == "" {
		return "", false
	}
	if ix.set[n] {
		return n, true
	}

	want := trimSourceExt(n)
	for _, k := range ix.keys {
		if trimSourceExt(k) == want {
			return k, true
		}
	}

	if strings.Contains(n, "/") {
		return "", false
	}
	if cands := ix.byStem[n]; len(cands) > 0 {
		return cands[0], true
	}
	return "", false
}

// ResolveDependency resolves ref as seen from the unit at parentKey.
// Relative specifiers are resolved against the parent's directory only.
// Name-only references prefer the parent's directory before a global search.
func (ix *Index) ResolveDependency(ref contract.Reference, parentKey string) (string, bool) {
	if ref.External {
		return "", false
	}
	dir := path.Dir(contract.NormalizeEntryID(parentKey))

	if ref.Source != "" {
		target, ok := joinSpecifier(dir, ref.Source)
		if !ok {
			return "", false
		}
		return ix.probe(target)
	}

	if ref.Name == "" {
		return "", false
	}
	if k, ok := ix.probe(path.Join(dir, ref.Name)); ok {
		return k, true
	}
	return ix.ResolveKey(ref.Name)
}

// Classify returns the diagnostic reason for a reference that did not resolve.
func Classify(parentKey string, ref contract.Reference) Reason {
	if ref.External {
		return ReasonExternal
	}
	if ref.Source != "" {
		if _, ok := joinSpecifier(path.Dir(contract.NormalizeEntryID(parentKey)), ref.Source); !ok {
			return ReasonOutsideScan
		}
	}
	return ReasonNotFound
}

// probe tries base as a file, with each conventional extension, and as a
// directory index.
func (ix *Index) probe(base string) (string, bool) {
	if base == "" || base == "." {
		return "", false
	}
	if ix.set[base] {
		return base, true
	}
	// "./x.js" may name a TypeScript source compiled to x.js.
	if ext := path.Ext(base); ext == ".js" || ext == ".jsx" || ext == ".mjs" || ext == ".cjs" {
		stripped := strings.TrimSuffix(base, ext)
		for _, alt := range []string{".ts", ".tsx", ".mts", ".cts"} {
			if ix.set[stripped+alt] {
				return stripped + alt, true
			}
		}
	}
	for _, ext := range contract.SourceExtensions {
		if ix.set[base+ext] {
			return base + ext, true
		}
	}
	for _, ext := range contract.SourceExtensions {
		if k := base + "/index" + ext; ix.set[k] {
			return k, true
		}
	}
	return "", false
}

// joinSpecifier resolves a relative or root-anchored specifier to a key-shaped
// path. It fails when the result escapes the scan root.
func joinSpecifier(dir, spec string) (string, bool) {
	var joined string
	if strings.HasPrefix(spec, "/") {
		joined = path.Clean(strings.TrimPrefix(spec, "/"))
	} else {
		joined = path.Join(dir, spec)
	}
	if joined == ".." || strings.HasPrefix(joined, "../") {
		return "", false
	}
	return contract.NormalizeEntryID(joined), true
}

func trimSourceExt(p string) string {
	ext := path.Ext(p)
	for _, e := range contract.SourceExtensions {
		if ext == e {
			return strings.TrimSuffix(p, ext)
		}
	}
	if ext == ".mts" || ext == ".cts" {
		return strings.TrimSuffix(p, ext)
	}
	return p
}

// ResolveKey is a convenience wrapper for one-off lookups.
func ResolveKey(keys []string, input string) (string, bool) {
	return NewIndex(keys).ResolveKey(input)
}

// ResolveDependency is a convenience wrapper for one-off lookups.
// A name that looks like a path is treated as a relative import.
func ResolveDependency(keys []string, name, parentKey string) (string, bool) {
	ref := contract.Reference{Name: name}
	if contract.IsRelative(name) {
		ref = contract.Reference{Name: contract.Stem(name), Source: name}
	}
	return NewIndex(keys).ResolveDependency(ref, parentKey)
}
