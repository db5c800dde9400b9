package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"ctxpack/internal/analysis"
	"ctxpack/internal/bundle"
	"ctxpack/internal/config"
	"ctxpack/internal/contract"
	"ctxpack/internal/crawler"
	"ctxpack/internal/extractor"
	"ctxpack/internal/git"
	"ctxpack/internal/graph"
	"ctxpack/internal/index"
	"ctxpack/internal/metrics"
	"ctxpack/internal/pipeline"
	"ctxpack/internal/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:     "ctxpack",
		Short:   "Build dependency-aware context bundles for UI source trees",
		Version: version,
	}
	configPath string
	dbPath     string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	bundle.Version = version

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ctxpack.yaml", "Path to the config file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the contract store (SQLite); overrides store.path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	updateCmd.Flags().String("base", "HEAD", "Git ref whose diff is listed with the result; the rebuild itself compares every file with the last snapshot")
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	packCmd.Flags().Int("depth", -1, "Override pack.depth")
	packCmd.Flags().Int("max-nodes", -1, "Override pack.max_nodes")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(packCmd)
}

// env bundles everything the commands share once config is loaded.
type env struct {
	cfg     *config.Config
	root    string
	ext     *extractor.Extractor
	crawler *crawler.Crawler
	store   *storage.SQLiteStore
	logger  *slog.Logger
}

func setup(rootArg []string) *env {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if len(rootArg) > 0 {
		cfg.Project.Root = rootArg[0]
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if cfg.Store.Path != "" {
		if cfg.Store.Path, err = filepath.Abs(cfg.Store.Path); err != nil {
			log.Fatalf("Failed to resolve store path: %v", err)
		}
	}

	root, err := filepath.Abs(cfg.Project.Root)
	if err != nil {
		log.Fatalf("Failed to resolve project root: %v", err)
	}
	cfg.Project.Root = root

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ext, err := extractor.NewExtractor(cfg.Project.Languages...)
	if err != nil {
		log.Fatalf("Failed to create extractor: %v", err)
	}

	e := &env{
		cfg:     cfg,
		root:    root,
		ext:     ext,
		crawler: crawler.NewCrawler(ext.Supports, cfg.Project.Ignore...),
		logger:  logger,
	}
	if cfg.Store.Path != "" {
		e.store, err = storage.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
	}
	return e
}

func (e *env) close() {
	if e.store != nil {
		e.store.Close()
	}
}

func (e *env) packOptions() bundle.Options {
	return bundle.Options{Depth: e.cfg.Pack.Depth, MaxNodes: e.cfg.Pack.MaxNodes}
}

func (e *env) writer() *pipeline.ArtifactWriter {
	w := &pipeline.ArtifactWriter{
		ManifestPath: e.cfg.OutputPath(e.cfg.Output.Manifest),
		BundlesPath:  e.cfg.OutputPath(e.cfg.Output.Bundles),
		Logger:       e.logger,
	}
	if e.cfg.Output.Sidecars {
		w.SidecarDir = e.cfg.SidecarDir()
	}
	if e.store != nil {
		w.Store = e.store
	}
	return w
}

func (e *env) include(rel string) bool {
	return e.crawler.Includes(e.root, rel)
}

func (e *env) fullBuild(ctx context.Context, rec *metrics.Recorder) *index.Result {
	b := index.NewBuilder(e.crawler, e.ext, index.WithLogger(e.logger), index.WithMetrics(rec))
	res, err := b.Build(ctx, e.root)
	if err != nil {
		log.Fatalf("Build failed: %v", err)
	}
	for path, err := range res.Skipped {
		log.Printf("⚠️ Skipped %s: %v", path, err)
	}
	return res
}

// seed returns the last known contracts: the store first, then sidecars,
// then a fresh scan. fresh is set when nothing was persisted.
func (e *env) seed(ctx context.Context, rec *metrics.Recorder) (cs []*contract.Contract, fresh bool) {
	if e.store != nil {
		cs, err := e.store.LoadContracts(ctx)
		if err != nil {
			log.Fatalf("Failed to load contracts: %v", err)
		}
		if len(cs) > 0 {
			fmt.Printf("🔄 Loaded %d contracts from %s\n", len(cs), e.cfg.Store.Path)
			return cs, false
		}
	}
	if e.cfg.Output.Sidecars {
		cs, skipped, err := contract.LoadSidecars(e.cfg.SidecarDir())
		if err != nil {
			log.Fatalf("Failed to load sidecars: %v", err)
		}
		for path, err := range skipped {
			log.Printf("⚠️ Ignoring sidecar %s: %v", path, err)
		}
		if len(cs) > 0 {
			fmt.Printf("🔄 Loaded %d contracts from sidecars\n", len(cs))
			return cs, false
		}
	}
	fmt.Println("🚀 No previous state, scanning project...")
	return e.fullBuild(ctx, rec).Contracts, true
}

// reconcile checks a seeded cache against the current tree plus extra paths.
func (e *env) reconcile(ctx context.Context, cache *pipeline.Cache, extra ...string) *pipeline.RebuildResult {
	files, err := e.crawler.Files(e.root)
	if err != nil {
		log.Fatalf("Failed to list project files: %v", err)
	}
	res, err := cache.Reconcile(ctx, append(files, extra...))
	if err != nil {
		log.Fatalf("Failed to reconcile with disk: %v", err)
	}
	for _, s := range res.Skipped {
		if s.Reason != pipeline.SkipUnsupported {
			log.Printf("⚠️ Skipped %s (%s): %v", s.Path, s.Reason, s.Err)
		}
	}
	return res
}

func (e *env) cache(ctx context.Context, seed []*contract.Contract, rec *metrics.Recorder) *pipeline.Cache {
	c, err := pipeline.InitializeWatchCache(ctx, pipeline.Options{
		Root:        e.root,
		Extractor:   e.ext,
		Pack:        e.packOptions(),
		HistorySize: e.cfg.Watch.HistorySize,
		Include:     e.include,
		Logger:      e.logger,
		Metrics:     rec,
	}, seed)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	return c
}

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Scan the project and write contracts, manifest and bundles",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setup(args)
		defer e.close()
		ctx := cmd.Context()

		fmt.Printf("📂 Scanning directory: %s\n", e.root)
		start := time.Now()
		res := e.fullBuild(ctx, nil)
		fmt.Printf("✅ Manifest built in %v. Found %d units, %d roots.\n",
			time.Since(start), len(res.Manifest.Nodes), len(res.Manifest.Roots))

		for reason, n := range res.Manifest.UnresolvedReasonCounts() {
			fmt.Printf("  -> %d unresolved references: %s\n", n, reason)
		}

		fmt.Println("📦 Packing bundles...")
		bundles, failed := bundle.PackRoots(res.Manifest, e.packOptions())
		for id, err := range failed {
			log.Printf("⚠️ Failed to pack %s: %v", id, err)
		}

		fmt.Println("💾 Writing artifacts...")
		if err := e.writer().WriteAll(ctx, res.Manifest, bundles); err != nil {
			log.Fatalf("Failed to write artifacts: %v", err)
		}

		fmt.Printf("🎉 Scan complete! %d bundles in %s\n", len(bundles), e.cfg.OutputPath(""))
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Incrementally rebuild bundles for files changed since the last snapshot",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := setup(nil)
		defer e.close()
		ctx := cmd.Context()
		base, _ := cmd.Flags().GetString("base")

		// 1. Previous state
		seed, fresh := e.seed(ctx, nil)
		cache := e.cache(ctx, seed, nil)
		if fresh {
			if err := e.writer().WriteAll(ctx, cache.Manifest(), cache.Bundles()); err != nil {
				log.Fatalf("Failed to write artifacts: %v", err)
			}
			fmt.Printf("✅ No previous snapshot; wrote %d bundles from a full scan.\n", len(cache.Bundles()))
			return
		}
		before := cache.Bundles()

		// 2. Local git changes, listed alongside. Deleted paths are no longer on
		// disk, so they are passed to the rebuild explicitly.
		changes, err := git.GetChangedFiles(e.root, base)
		if err != nil {
			log.Printf("⚠️ Skipping git diff against %s: %v", base, err)
		}
		for _, ch := range changes {
			fmt.Printf("📝 %s: %d changed lines since %s\n", ch.Path, len(ch.ChangedLines), base)
		}

		// 3. Rebuild against the snapshot
		res := e.reconcile(ctx, cache, git.Paths(changes)...)
		if res.Empty() {
			fmt.Println("✅ No changes detected.")
			return
		}
		fmt.Printf("📊 %d contracts changed, %d unchanged on disk.\n", len(res.Changed), len(res.FalsePositives))

		// 4. Impact
		fmt.Println("🔍 Analyzing impact...")
		report := analysis.NewAnalyzer(res.Manifest).AnalyzeImpact(res.ChangedIDs())
		fmt.Printf("  -> %d units directly affected\n", len(report.DirectlyAffected))
		fmt.Printf("  -> %d units indirectly affected (dependents)\n", len(report.IndirectlyAffected))
		for _, ch := range analysis.Changed(analysis.DiffBundles(before, res.Bundles)) {
			fmt.Printf("  -> bundle %s: %s\n", ch.EntryID, ch.Kind)
		}

		// 5. Persist
		if err := e.writer().WriteRebuild(ctx, res); err != nil {
			log.Fatalf("Failed to write artifacts: %v", err)
		}
		fmt.Printf("✅ %d bundles rebuilt, %d retained, %d dropped.\n", len(res.Rebuilt), len(res.Retained), len(res.Dropped))
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch the project and keep bundles up to date",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setup(args)
		defer e.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec := metrics.NewRecorder(reg)

		addr := e.cfg.Metrics.Addr
		if flag, _ := cmd.Flags().GetString("metrics-addr"); flag != "" {
			addr = flag
		}
		if addr != "" {
			srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Printf("⚠️ Metrics server stopped: %v", err)
				}
			}()
			defer srv.Close()
			fmt.Printf("📈 Serving metrics on %s/metrics\n", addr)
		}

		seed, fresh := e.seed(ctx, rec)
		cache := e.cache(ctx, seed, rec)
		if !fresh {
			res := e.reconcile(ctx, cache)
			fmt.Printf("🔄 %d contracts changed since the last snapshot\n", len(res.Changed))
		}
		writer := e.writer()
		if err := writer.WriteAll(ctx, cache.Manifest(), cache.Bundles()); err != nil {
			log.Fatalf("Failed to write artifacts: %v", err)
		}

		session, err := pipeline.NewSession(cache, writer, pipeline.WatcherOptions{
			Debounce: e.cfg.Watch.Debounce,
			IgnoreDir: func(name string) bool {
				return slices.Contains(crawler.DefaultIgnored, name) || slices.Contains(e.cfg.Project.Ignore, name)
			},
			IgnorePaths: []string{e.cfg.OutputPath(""), e.cfg.Store.Path},
			Logger:      e.logger,
		})
		if err != nil {
			log.Fatalf("Failed to start watcher: %v", err)
		}
		session.OnRebuild = func(res *pipeline.RebuildResult) {
			fmt.Printf("🔄 %d changed, %d bundles rebuilt\n", len(res.Changed), len(res.Rebuilt))
		}

		fmt.Printf("👀 Watching %s (session %s)\n", e.root, cache.SessionID())
		if err := session.Run(ctx); err != nil {
			log.Fatalf("Watch failed: %v", err)
		}
		fmt.Println("👋 Stopped.")
	},
}

var packCmd = &cobra.Command{
	Use:   "pack <entryId>",
	Short: "Print the bundle for one entry from the saved manifest",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setup(nil)
		defer e.close()

		m, err := graph.LoadManifest(e.cfg.OutputPath(e.cfg.Output.Manifest))
		if err != nil {
			log.Fatalf("Failed to load manifest (run 'ctxpack scan' first): %v", err)
		}
		cs, _, err := contract.LoadSidecars(e.cfg.SidecarDir())
		if err != nil {
			log.Fatalf("Failed to load sidecars: %v", err)
		}
		m.WithContracts(cs)

		opts := e.packOptions()
		if d, _ := cmd.Flags().GetInt("depth"); d >= 0 {
			opts.Depth = d
		}
		if n, _ := cmd.Flags().GetInt("max-nodes"); n >= 0 {
			opts.MaxNodes = n
		}

		b, err := bundle.Pack(contract.NormalizeEntryID(args[0]), m, opts)
		if err != nil {
			log.Fatalf("%v", err)
		}
		out, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode bundle: %v", err)
		}
		fmt.Println(string(out))
	},
}
