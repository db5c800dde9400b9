// Package pipeline owns the long-lived watch state and keeps it current as
// files change.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"ctxpack/internal/bundle"
	"ctxpack/internal/contract"
	"ctxpack/internal/graph"
	"ctxpack/internal/metrics"
)

const defaultHistorySize = 256

// Options configures a watch cache.
type Options struct {
	// Root is the project directory that entryIds are relative to.
	Root      string
	Extractor contract.Extractor
	Pack      bundle.Options
	// HistorySize bounds the superseded-contract history.
	HistorySize int
	// Include decides whether a changed entryId is tracked. Defaults to
	// Extractor.Supports.
	Include func(entryID string) bool

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

type packFunc func(entryID string, m *graph.Manifest, opts bundle.Options) (*bundle.Bundle, error)

// Cache is the incremental state of one watch session. It is mutated only by
// IncrementalRebuild; rebuilds are serialized.
type Cache struct {
	mu sync.Mutex

	root      string
	extractor contract.Extractor
	packOpts  bundle.Options
	include   func(string) bool
	logger    *slog.Logger
	metrics   *metrics.Recorder
	pack      packFunc

	sessionID          string
	contracts          map[string]*contract.Contract
	history            *lru.Cache[string, *contract.Contract]
	componentToBundles map[string]map[string]bool
	manifest           *graph.Manifest
	bundles            []*bundle.Bundle
}

// InitializeWatchCache builds the initial state from seed contracts: dedupe,
// build the manifest, pack every root, index bundle membership.
func InitializeWatchCache(ctx context.Context, opts Options, seed []*contract.Contract) (*Cache, error) {
	if opts.Extractor == nil {
		return nil, fmt.Errorf("watch cache requires an extractor")
	}
	size := opts.HistorySize
	if size <= 0 {
		size = defaultHistorySize
	}
	history, err := lru.New[string, *contract.Contract](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create history: %w", err)
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", opts.Root, err)
	}

	c := &Cache{
		root:      root,
		extractor: opts.Extractor,
		packOpts:  opts.Pack,
		include:   opts.Include,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		pack:      bundle.Pack,
		sessionID: uuid.NewString(),
		history:   history,
	}
	if c.include == nil {
		c.include = opts.Extractor.Supports
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("session", c.sessionID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	live := contract.Dedupe(seed)
	c.contracts = make(map[string]*contract.Contract, len(live))
	for _, ct := range live {
		c.contracts[ct.EntryID] = ct
	}
	c.manifest = graph.Build(live)

	for _, id := range c.manifest.Roots {
		b, err := c.pack(id, c.manifest, c.packOpts)
		if err != nil {
			c.logger.Warn("initial pack failed", "entry_id", id, "err", err)
			continue
		}
		c.bundles = append(c.bundles, b)
	}
	bundle.Sort(c.bundles)
	c.componentToBundles = reverseIndex(c.bundles)

	c.logger.Info("watch cache initialized", "contracts", len(c.contracts), "bundles", len(c.bundles))
	return c, nil
}

// SessionID identifies this cache in logs and artifacts.
func (c *Cache) SessionID() string { return c.sessionID }

// Manifest returns the last committed manifest.
func (c *Cache) Manifest() *graph.Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manifest
}

// Bundles returns the last committed bundle list, sorted by entryId.
func (c *Cache) Bundles() []*bundle.Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*bundle.Bundle(nil), c.bundles...)
}

// Contract returns the live contract for entryID.
func (c *Cache) Contract(entryID string) (*contract.Contract, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.contracts[entryID]
	return ct, ok
}

// Contracts returns every live contract sorted by entryId.
func (c *Cache) Contracts() []*contract.Contract {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedContracts(c.contracts)
}

// Superseded looks up a replaced contract by its file hash.
func (c *Cache) Superseded(fileHash string) (*contract.Contract, bool) {
	return c.history.Get(fileHash)
}

// BundlesContaining lists the bundle ids that include entryID as a node.
func (c *Cache) BundlesContaining(entryID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.componentToBundles[entryID])
}

func reverseIndex(bundles []*bundle.Bundle) map[string]map[string]bool {
	idx := make(map[string]map[string]bool)
	for _, b := range bundles {
		for _, id := range b.NodeIDs() {
			set := idx[id]
			if set == nil {
				set = make(map[string]bool)
				idx[id] = set
			}
			set[b.EntryID] = true
		}
	}
	return idx
}

func sortedContracts(m map[string]*contract.Contract) []*contract.Contract {
	out := make([]*contract.Contract, 0, len(m))
	for _, ct := range m {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
