package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"ctxpack/internal/analysis"
	"ctxpack/internal/bundle"
	"ctxpack/internal/contract"
	"ctxpack/internal/graph"
	"ctxpack/internal/index"
	"ctxpack/internal/metrics"
)

// Skip reasons beyond those reported by index.BuildFile.
const (
	SkipUnsupported = "unsupported"
	SkipOutside     = "outside root"
)

// Change is one entry whose contract moved during a rebuild.
type Change struct {
	EntryID string
	Kind    analysis.ChangeKind
}

// Skip is a changed path that produced no new contract.
type Skip struct {
	Path   string
	Reason string
	Err    error
}

// RebuildResult reports what one incremental rebuild did.
type RebuildResult struct {
	Changed        []Change
	Skipped        []Skip
	FalsePositives []string
	NewRoots       []string
	Affected       []string
	Rebuilt        []string
	Retained       []string
	Dropped        []string

	Manifest *graph.Manifest
	Bundles  []*bundle.Bundle
}

// ChangedIDs lists the entryIds in Changed.
func (r *RebuildResult) ChangedIDs() []string {
	ids := make([]string, 0, len(r.Changed))
	for _, ch := range r.Changed {
		ids = append(ids, ch.EntryID)
	}
	return ids
}

// Empty reports whether the rebuild left the committed outputs as they were.
func (r *RebuildResult) Empty() bool {
	return len(r.Changed) == 0 && len(r.Rebuilt) == 0 && len(r.Dropped) == 0
}

// Reconcile brings a seeded cache in line with the disk. files is a fresh
// listing of the root; every cached entryId is checked as well, so files
// deleted or edited while nothing was watching are picked up. Files whose
// fileHash still matches are skipped without extraction.
func (c *Cache) Reconcile(ctx context.Context, files []string) (*RebuildResult, error) {
	c.mu.Lock()
	paths := make([]string, 0, len(files)+len(c.contracts))
	for id := range c.contracts {
		paths = append(paths, id)
	}
	c.mu.Unlock()

	return c.IncrementalRebuild(ctx, append(paths, files...))
}

// IncrementalRebuild applies a batch of changed paths. Paths may be absolute
// or relative to the cache root. The new contracts, manifest and bundles are
// committed together; if ctx is cancelled before the commit nothing changes.
func (c *Cache) IncrementalRebuild(ctx context.Context, changedPaths []string) (*RebuildResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	res := &RebuildResult{}

	contracts := make(map[string]*contract.Contract, len(c.contracts))
	for id, ct := range c.contracts {
		contracts[id] = ct
	}
	var superseded []*contract.Contract
	changed := make(map[string]bool)

	// 1. Per changed file
	for _, id := range c.normalizePaths(changedPaths, res) {
		if err := ctx.Err(); err != nil {
			c.metrics.ObserveRebuild("cancelled", time.Since(start))
			return nil, err
		}

		existing, tracked := contracts[id]
		if !c.include(id) {
			if tracked {
				// No longer part of the scanned set.
				delete(contracts, id)
				superseded = append(superseded, existing)
				changed[id] = true
				res.Changed = append(res.Changed, Change{EntryID: id, Kind: analysis.ChangeRemoved})
				continue
			}
			res.Skipped = append(res.Skipped, Skip{Path: id, Reason: SkipUnsupported})
			continue
		}

		src, err := os.ReadFile(filepath.Join(c.root, filepath.FromSlash(id)))
		if errors.Is(err, fs.ErrNotExist) {
			if tracked {
				delete(contracts, id)
				superseded = append(superseded, existing)
				changed[id] = true
				res.Changed = append(res.Changed, Change{EntryID: id, Kind: analysis.ChangeRemoved})
			}
			continue
		}
		if err != nil {
			c.skip(res, id, index.SkipRead, err)
			continue
		}

		if tracked && existing.FileHash == contract.FileHash(src) {
			res.FalsePositives = append(res.FalsePositives, id)
			c.metrics.FalsePositive()
			continue
		}

		built, err := index.BuildSource(id, src, c.extractor, contract.BuildOptions{})
		if err != nil {
			reason := index.SkipBuild
			var se *index.SkipError
			if errors.As(err, &se) {
				reason = se.Reason
			}
			c.skip(res, id, reason, err)
			continue
		}
		c.metrics.ContractBuilt()

		next := contract.MergeUpdate(existing, built)
		if tracked {
			superseded = append(superseded, existing)
		}
		contracts[id] = next
		changed[id] = true
		res.Changed = append(res.Changed, Change{EntryID: id, Kind: analysis.ClassifyContract(existing, next)})
	}

	// 2. One contract per entryId
	live := contract.Dedupe(sortedContracts(contracts))

	// 3. Full manifest
	manifest := graph.Build(live)

	// 4. New roots
	for _, id := range manifest.Roots {
		if c.manifest == nil || !c.manifest.IsRoot(id) {
			res.NewRoots = append(res.NewRoots, id)
		}
	}

	// 5. Affected bundles. A node whose resolved links moved invalidates the
	// bundles holding it even if its own source did not change.
	for id := range relinked(c.manifest, manifest) {
		changed[id] = true
	}
	affected := make(map[string]bool)
	for id := range changed {
		for b := range c.componentToBundles[id] {
			affected[b] = true
		}
	}
	for _, id := range res.NewRoots {
		affected[id] = true
	}
	res.Affected = sortedKeys(affected)

	previous := make(map[string]*bundle.Bundle, len(c.bundles))
	for _, b := range c.bundles {
		previous[b.EntryID] = b
	}

	// 6. Selective re-pack
	var bundles []*bundle.Bundle
	for _, id := range res.Affected {
		if !manifest.IsRoot(id) {
			if _, ok := previous[id]; ok {
				res.Dropped = append(res.Dropped, id)
			}
			continue
		}
		b, err := c.pack(id, manifest, c.packOpts)
		if err != nil {
			if prev, ok := previous[id]; ok {
				c.logger.Warn("pack failed, keeping previous bundle", "entry_id", id, "err", err)
				bundles = append(bundles, prev)
				res.Retained = append(res.Retained, id)
			} else {
				c.logger.Warn("pack failed", "entry_id", id, "err", err)
			}
			continue
		}
		bundles = append(bundles, b)
		res.Rebuilt = append(res.Rebuilt, id)
	}

	// 7. Carry forward the rest while their entry is still a root
	carried := 0
	for _, b := range c.bundles {
		if affected[b.EntryID] {
			continue
		}
		if manifest.IsRoot(b.EntryID) {
			bundles = append(bundles, b)
			carried++
			continue
		}
		res.Dropped = append(res.Dropped, b.EntryID)
	}

	// 8. Commit
	if err := ctx.Err(); err != nil {
		c.metrics.ObserveRebuild("cancelled", time.Since(start))
		return nil, err
	}

	// 9. Deterministic order
	bundle.Sort(bundles)
	sort.Strings(res.Dropped)

	c.contracts = contracts
	for _, old := range superseded {
		c.history.Add(old.FileHash, old)
	}
	c.manifest = manifest
	c.bundles = bundles
	c.componentToBundles = reverseIndex(bundles)

	res.Manifest = manifest
	res.Bundles = append([]*bundle.Bundle(nil), bundles...)

	c.metrics.Bundles(metrics.BundleRebuilt, len(res.Rebuilt))
	c.metrics.Bundles(metrics.BundleRetained, len(res.Retained))
	c.metrics.Bundles(metrics.BundleCarried, carried)
	c.metrics.Bundles(metrics.BundleDropped, len(res.Dropped))
	c.metrics.ObserveRebuild("ok", time.Since(start))

	c.logger.Info("incremental rebuild",
		"changed", len(res.Changed),
		"skipped", len(res.Skipped),
		"false_positives", len(res.FalsePositives),
		"rebuilt", len(res.Rebuilt),
		"retained", len(res.Retained),
		"dropped", len(res.Dropped),
		"duration", time.Since(start),
	)
	return res, nil
}

func (c *Cache) skip(res *RebuildResult, id, reason string, err error) {
	c.logger.Warn("skipping changed file", "path", id, "reason", reason, "err", err)
	c.metrics.FileSkipped(reason)
	res.Skipped = append(res.Skipped, Skip{Path: id, Reason: reason, Err: err})
}

// normalizePaths maps changed paths onto unique entryIds, sorted.
func (c *Cache) normalizePaths(paths []string, res *RebuildResult) []string {
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		if filepath.IsAbs(p) {
			rel, err := filepath.Rel(c.root, p)
			if err != nil {
				res.Skipped = append(res.Skipped, Skip{Path: p, Reason: SkipOutside, Err: err})
				continue
			}
			p = rel
		}
		id := contract.NormalizeEntryID(filepath.ToSlash(p))
		if id == "" || id == ".." || strings.HasPrefix(id, "../") {
			res.Skipped = append(res.Skipped, Skip{Path: p, Reason: SkipOutside})
			continue
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// relinked returns the nodes present in both manifests whose resolved
// dependencies or unresolved diagnostics differ.
func relinked(prev, next *graph.Manifest) map[string]bool {
	out := make(map[string]bool)
	if prev == nil {
		return out
	}
	for id, n := range next.Nodes {
		p, ok := prev.Nodes[id]
		if !ok {
			continue
		}
		if !slices.Equal(p.Dependencies, n.Dependencies) || !slices.Equal(p.Unresolved, n.Unresolved) {
			out[id] = true
		}
	}
	return out
}
