// Package index performs the full initial build of a project's contracts.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"ctxpack/internal/contract"
	"ctxpack/internal/crawler"
	"ctxpack/internal/graph"
	"ctxpack/internal/metrics"
)

// Skip reasons reported in Result.Skipped and to metrics.
const (
	SkipRead    = "read"
	SkipExtract = "extract"
	SkipBuild   = "build"
)

// SkipError records why one file produced no contract.
type SkipError struct {
	Reason string
	Err    error
}

func (e *SkipError) Error() string { return e.Reason + ": " + e.Err.Error() }
func (e *SkipError) Unwrap() error { return e.Err }

// Result is the output of a full build.
type Result struct {
	Contracts []*contract.Contract
	Manifest  *graph.Manifest
	// Skipped maps entryId to the reason it produced no contract.
	Skipped map[string]error
}

// Builder orchestrates a full scan: crawl, extract in parallel, then link.
type Builder struct {
	crawler     *crawler.Crawler
	extractor   contract.Extractor
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

// Option configures a Builder.
type Option func(*Builder)

// WithConcurrency bounds the number of files processed at once.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(b *Builder) { b.metrics = r }
}

// NewBuilder creates a new builder.
func NewBuilder(c *crawler.Crawler, ext contract.Extractor, opts ...Option) *Builder {
	b := &Builder{
		crawler:     c,
		extractor:   ext,
		concurrency: runtime.NumCPU(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build scans root and constructs every contract, then the manifest.
// Per-file failures are counted in Result.Skipped and never abort the build.
func (b *Builder) Build(ctx context.Context, root string) (*Result, error) {
	files, err := b.crawler.Files(root)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	var (
		mu        sync.Mutex
		contracts = make([]*contract.Contract, 0, len(files))
		skipped   = make(map[string]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, rel := range files {
		rel := rel
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := BuildFile(root, rel, b.extractor, contract.BuildOptions{})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				skipped[rel] = err
				b.recordSkip(rel, err)
				return nil
			}
			contracts = append(contracts, c)
			b.metrics.ContractBuilt()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build cancelled: %w", err)
	}

	sort.Slice(contracts, func(i, j int) bool { return contracts[i].EntryID < contracts[j].EntryID })
	if len(skipped) > 0 {
		b.logger.Warn("files skipped during full build", "count", len(skipped), "root", root)
	}

	return &Result{
		Contracts: contracts,
		Manifest:  graph.Build(contracts),
		Skipped:   skipped,
	}, nil
}

func (b *Builder) recordSkip(rel string, err error) {
	reason := SkipBuild
	if se, ok := err.(*SkipError); ok {
		reason = se.Reason
	}
	b.logger.Warn("skipping file", "path", rel, "reason", reason, "err", err)
	b.metrics.FileSkipped(reason)
}

// BuildFile reads and extracts a single file into a contract. entryID is the
// slash-separated path relative to root. Errors are *SkipError.
func BuildFile(root, entryID string, ext contract.Extractor, opts contract.BuildOptions) (*contract.Contract, error) {
	src, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(entryID)))
	if err != nil {
		return nil, &SkipError{Reason: SkipRead, Err: err}
	}
	return BuildSource(entryID, src, ext, opts)
}

// BuildSource extracts already-read bytes into a contract.
func BuildSource(entryID string, src []byte, ext contract.Extractor, opts contract.BuildOptions) (*contract.Contract, error) {
	extraction, err := ext.Extract(entryID, src)
	if err != nil {
		return nil, &SkipError{Reason: SkipExtract, Err: err}
	}
	c, err := contract.Build(entryID, extraction, src, opts)
	if err != nil {
		return nil, &SkipError{Reason: SkipBuild, Err: err}
	}
	return c, nil
}
