// Package analysis classifies changes between contract and bundle generations.
package analysis

import (
	"sort"

	"ctxpack/internal/bundle"
	"ctxpack/internal/contract"
)

// ChangeKind describes how an artifact moved between two generations.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeRemoved   ChangeKind = "removed"
	ChangeUnchanged ChangeKind = "unchanged"
	// ChangeCosmetic means the bytes moved but the structure did not.
	ChangeCosmetic ChangeKind = "cosmetic"
	ChangeSemantic ChangeKind = "semantic"
)

// ClassifyContract compares two versions of one unit. Either may be nil.
func ClassifyContract(prev, next *contract.Contract) ChangeKind {
	switch {
	case prev == nil && next == nil:
		return ChangeUnchanged
	case prev == nil:
		return ChangeAdded
	case next == nil:
		return ChangeRemoved
	}
	return classifyHashes(prev.FileHash, next.FileHash, prev.SemanticHash, next.SemanticHash)
}

// BundleChange is the classification of one bundle id.
type BundleChange struct {
	EntryID string
	Kind    ChangeKind
}

// DiffBundles classifies every bundle id present in either list, sorted by id.
// Unchanged bundles are included.
func DiffBundles(old, updated []*bundle.Bundle) []BundleChange {
	before := indexBundles(old)
	after := indexBundles(updated)

	ids := make(map[string]bool, len(before)+len(after))
	for id := range before {
		ids[id] = true
	}
	for id := range after {
		ids[id] = true
	}

	out := make([]BundleChange, 0, len(ids))
	for id := range ids {
		out = append(out, BundleChange{EntryID: id, Kind: classifyBundle(before[id], after[id])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}

// Changed filters out unchanged entries.
func Changed(changes []BundleChange) []BundleChange {
	var out []BundleChange
	for _, c := range changes {
		if c.Kind != ChangeUnchanged {
			out = append(out, c)
		}
	}
	return out
}

func classifyBundle(prev, next *bundle.Bundle) ChangeKind {
	switch {
	case prev == nil && next == nil:
		return ChangeUnchanged
	case prev == nil:
		return ChangeAdded
	case next == nil:
		return ChangeRemoved
	}
	return classifyHashes(prev.BundleHash, next.BundleHash, prev.SemanticDigest(), next.SemanticDigest())
}

func classifyHashes(prevFile, nextFile, prevSem, nextSem string) ChangeKind {
	switch {
	case prevSem != nextSem:
		return ChangeSemantic
	case prevFile != nextFile:
		return ChangeCosmetic
	default:
		return ChangeUnchanged
	}
}

func indexBundles(bundles []*bundle.Bundle) map[string]*bundle.Bundle {
	m := make(map[string]*bundle.Bundle, len(bundles))
	for _, b := range bundles {
		if b != nil {
			m[b.EntryID] = b
		}
	}
	return m
}
