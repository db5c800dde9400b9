package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxpack/internal/analysis"
	"ctxpack/internal/bundle"
	"ctxpack/internal/contract"
	"ctxpack/internal/crawler"
	"ctxpack/internal/graph"
	"ctxpack/internal/index"
	"ctxpack/internal/resolver"
)

// lineExtractor reads "import X" lines as relative imports of ./X. Other lines
// are ignored, so they behave like comments. "BROKEN" fails extraction.
type lineExtractor struct{}

func (lineExtractor) Supports(p string) bool { return strings.HasSuffix(p, ".tsx") }

func (lineExtractor) Extract(p string, src []byte) (*contract.Extraction, error) {
	if strings.Contains(string(src), "BROKEN") {
		return nil, errors.New("cannot parse")
	}
	ext := &contract.Extraction{Kind: contract.KindComponent, Language: "tsx"}
	for _, line := range strings.Split(string(src), "\n") {
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "import "); ok {
			ext.Composition.Imports = append(ext.Composition.Imports, contract.Import{Source: "./" + name, Names: []string{name}})
		}
	}
	return ext, nil
}

type fixture struct {
	t     *testing.T
	root  string
	cache *Cache
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	f := &fixture{t: t, root: t.TempDir()}
	var seed []*contract.Contract
	for rel, body := range files {
		f.write(rel, body)
		c, err := index.BuildFile(f.root, rel, lineExtractor{}, contract.BuildOptions{})
		require.NoError(t, err)
		seed = append(seed, c)
	}

	cache, err := InitializeWatchCache(context.Background(), Options{
		Root:      f.root,
		Extractor: lineExtractor{},
		Pack:      bundle.Options{Depth: 5},
	}, seed)
	require.NoError(t, err)
	f.cache = cache
	return f
}

func (f *fixture) write(rel, body string) {
	p := filepath.Join(f.root, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.WriteFile(p, []byte(body), 0o644))
}

func (f *fixture) remove(rel string) {
	require.NoError(f.t, os.Remove(filepath.Join(f.root, rel)))
}

func (f *fixture) rebuild(paths ...string) *RebuildResult {
	res, err := f.cache.IncrementalRebuild(context.Background(), paths)
	require.NoError(f.t, err)
	return res
}

func bundleFor(bundles []*bundle.Bundle, id string) *bundle.Bundle {
	for _, b := range bundles {
		if b.EntryID == id {
			return b
		}
	}
	return nil
}

func TestInitializeWatchCache(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": "leaf\n"})

	assert.NotEmpty(t, f.cache.SessionID())
	assert.Equal(t, []string{"A.tsx"}, f.cache.Manifest().Roots)
	require.Len(t, f.cache.Bundles(), 1)
	assert.Equal(t, []string{"A.tsx"}, f.cache.BundlesContaining("B.tsx"))
	assert.Len(t, f.cache.Contracts(), 2)
}

func TestIncrementalRebuild_EmptyBatchIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": "", "C.tsx": ""})
	before := f.cache.Bundles()

	res := f.rebuild()
	assert.Empty(t, res.Changed)
	assert.Empty(t, res.Affected)
	assert.Equal(t, before, res.Bundles)
	assert.Equal(t, before, f.cache.Bundles())
}

func TestIncrementalRebuild_FalsePositiveSkip(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": ""})
	f.write("B.tsx", "")

	res := f.rebuild("B.tsx")
	assert.Equal(t, []string{"B.tsx"}, res.FalsePositives)
	assert.Empty(t, res.Changed)
	assert.Empty(t, res.Rebuilt)
}

func TestIncrementalRebuild_CommentOnlyEdit(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": "// one\n"})
	before := f.cache.Bundles()
	oldB, _ := f.cache.Contract("B.tsx")

	f.write("B.tsx", "// two\n")
	res := f.rebuild(filepath.Join(f.root, "B.tsx"))

	assert.Equal(t, []Change{{EntryID: "B.tsx", Kind: analysis.ChangeCosmetic}}, res.Changed)
	assert.Equal(t, []string{"A.tsx"}, res.Rebuilt)

	newB, _ := f.cache.Contract("B.tsx")
	assert.NotEqual(t, oldB.FileHash, newB.FileHash)
	assert.Equal(t, oldB.SemanticHash, newB.SemanticHash)
	assert.Equal(t, oldB.Revision+1, newB.Revision)

	hist, ok := f.cache.Superseded(oldB.FileHash)
	require.True(t, ok)
	assert.Same(t, oldB, hist)

	assert.Equal(t, []analysis.BundleChange{{EntryID: "A.tsx", Kind: analysis.ChangeCosmetic}},
		analysis.Changed(analysis.DiffBundles(before, res.Bundles)))
}

func TestIncrementalRebuild_CuratedFieldsSurvive(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": ""})
	c, _ := f.cache.Contract("A.tsx")
	c.Description = "entry page"

	f.write("A.tsx", "import B\n")
	f.rebuild("A.tsx")

	got, _ := f.cache.Contract("A.tsx")
	assert.Equal(t, "entry page", got.Description)
}

func TestIncrementalRebuild_DeleteReportsMissing(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": ""})
	f.remove("B.tsx")

	res := f.rebuild("B.tsx")
	assert.Equal(t, []Change{{EntryID: "B.tsx", Kind: analysis.ChangeRemoved}}, res.Changed)

	a := bundleFor(res.Bundles, "A.tsx")
	require.NotNil(t, a)
	assert.Equal(t, []string{"A.tsx"}, a.NodeIDs())
	assert.Equal(t, []bundle.Missing{{Name: "B", Source: "./B", Reason: resolver.ReasonNotFound, ReferencedBy: "A.tsx"}}, a.Meta.Missing)
	assert.Empty(t, f.cache.BundlesContaining("B.tsx"))
}

func TestIncrementalRebuild_NewRootGetsBundle(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": "import C\n", "C.tsx": ""})
	require.Len(t, f.cache.Bundles(), 1)

	f.write("A.tsx", "nothing\n")
	res := f.rebuild("A.tsx")

	assert.Equal(t, []string{"B.tsx"}, res.NewRoots)
	require.Len(t, res.Bundles, 2)
	assert.Equal(t, "A.tsx", res.Bundles[0].EntryID)
	assert.Equal(t, "B.tsx", res.Bundles[1].EntryID)
	assert.Equal(t, []string{"B.tsx", "C.tsx"}, res.Bundles[1].NodeIDs())
}

func TestIncrementalRebuild_DropsBundleThatIsNoLongerRoot(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "", "B.tsx": ""})
	require.Len(t, f.cache.Bundles(), 2)

	f.write("A.tsx", "import B\n")
	res := f.rebuild("A.tsx")

	assert.Equal(t, []string{"B.tsx"}, res.Dropped)
	require.Len(t, res.Bundles, 1)
	assert.Equal(t, []string{"A.tsx", "B.tsx"}, res.Bundles[0].NodeIDs())
}

func TestIncrementalRebuild_AddedDependencyRelinksDependents(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import C\n"})
	require.Len(t, f.cache.Bundles()[0].Meta.Missing, 1)

	f.write("C.tsx", "")
	res := f.rebuild("C.tsx")

	assert.Equal(t, []Change{{EntryID: "C.tsx", Kind: analysis.ChangeAdded}}, res.Changed)
	require.Len(t, res.Bundles, 1)
	assert.Equal(t, []string{"A.tsx", "C.tsx"}, res.Bundles[0].NodeIDs())
	assert.Empty(t, res.Bundles[0].Meta.Missing)
}

func TestIncrementalRebuild_PackFailureRetainsPrevious(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": ""})
	prev := f.cache.Bundles()[0]

	f.cache.pack = func(string, *graph.Manifest, bundle.Options) (*bundle.Bundle, error) {
		return nil, errors.New("boom")
	}
	f.write("B.tsx", "edited\n")
	res := f.rebuild("B.tsx")

	assert.Equal(t, []string{"A.tsx"}, res.Retained)
	require.Len(t, res.Bundles, 1)
	assert.Same(t, prev, res.Bundles[0])
	assert.Equal(t, []string{"A.tsx"}, f.cache.BundlesContaining("B.tsx"))
}

func TestIncrementalRebuild_ExtractionFailureKeepsContract(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": ""})
	old, _ := f.cache.Contract("B.tsx")

	f.write("B.tsx", "BROKEN")
	f.write("notes.md", "x")
	res := f.rebuild("B.tsx", "notes.md", "../escape.tsx")

	require.Len(t, res.Skipped, 3)
	reasons := map[string]string{}
	for _, s := range res.Skipped {
		reasons[s.Path] = s.Reason
	}
	assert.Equal(t, index.SkipExtract, reasons["B.tsx"])
	assert.Equal(t, SkipUnsupported, reasons["notes.md"])
	assert.Equal(t, SkipOutside, reasons["../escape.tsx"])

	cur, _ := f.cache.Contract("B.tsx")
	assert.Same(t, old, cur)
}

func TestIncrementalRebuild_CancelledBeforeCommit(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": ""})
	before := f.cache.Bundles()
	old, _ := f.cache.Contract("B.tsx")

	f.write("B.tsx", "changed\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.cache.IncrementalRebuild(ctx, []string{"B.tsx"})
	assert.ErrorIs(t, err, context.Canceled)

	cur, _ := f.cache.Contract("B.tsx")
	assert.Same(t, old, cur)
	assert.Equal(t, before, f.cache.Bundles())
}

func TestSession_HandleBatchWritesArtifacts(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": ""})
	out := filepath.Join(t.TempDir(), "out")
	writer := &ArtifactWriter{
		ManifestPath: filepath.Join(out, "manifest.json"),
		BundlesPath:  filepath.Join(out, "bundles.json"),
		SidecarDir:   filepath.Join(out, "contracts"),
	}
	require.NoError(t, writer.WriteAll(context.Background(), f.cache.Manifest(), f.cache.Bundles()))
	require.FileExists(t, contract.SidecarPath(writer.SidecarDir, "B.tsx"))

	s, err := NewSession(f.cache, writer, WatcherOptions{})
	require.NoError(t, err)
	var seen *RebuildResult
	s.OnRebuild = func(r *RebuildResult) { seen = r }

	f.remove("B.tsx")
	s.HandleBatch([]FileChange{{Path: filepath.Join(f.root, "B.tsx"), Op: FileOpRemove}})

	require.NotNil(t, seen)
	assert.NoFileExists(t, contract.SidecarPath(writer.SidecarDir, "B.tsx"))

	m, err := graph.LoadManifest(writer.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"A.tsx"}, m.Roots)

	bundles, err := bundle.ReadFile(writer.BundlesPath)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Len(t, bundles[0].Meta.Missing, 1)
}

func TestSession_UnchangedBatchWritesNothing(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": ""})
	out := filepath.Join(f.root, "out")
	writer := &ArtifactWriter{
		ManifestPath: filepath.Join(out, "manifest.json"),
		BundlesPath:  filepath.Join(out, "bundles.json"),
	}

	s, err := NewSession(f.cache, writer, WatcherOptions{})
	require.NoError(t, err)
	calls := 0
	s.OnRebuild = func(*RebuildResult) { calls++ }

	f.write("out/bundles.json", "[]")
	s.HandleBatch([]FileChange{
		{Path: filepath.Join(out, "bundles.json"), Op: FileOpWrite},
		{Path: filepath.Join(f.root, "B.tsx"), Op: FileOpWrite},
	})

	assert.Zero(t, calls)
	assert.NoFileExists(t, writer.ManifestPath)
}

func TestSession_OutputInsideRootSettles(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": ""})
	out := filepath.Join(f.root, "out")
	writer := &ArtifactWriter{
		ManifestPath: filepath.Join(out, "manifest.json"),
		BundlesPath:  filepath.Join(out, "bundles.json"),
		SidecarDir:   filepath.Join(out, "contracts"),
	}
	require.NoError(t, writer.WriteAll(context.Background(), f.cache.Manifest(), f.cache.Bundles()))

	s, err := NewSession(f.cache, writer, WatcherOptions{
		Debounce:    30 * time.Millisecond,
		IgnorePaths: []string{out},
	})
	require.NoError(t, err)
	var rebuilds atomic.Int32
	s.OnRebuild = func(*RebuildResult) { rebuilds.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the tree.
	time.Sleep(100 * time.Millisecond)
	f.write("B.tsx", "edited\n")

	require.Eventually(t, func() bool { return rebuilds.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), rebuilds.Load())
}

func TestReconcile_PicksUpChangesMadeWhileStopped(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\nimport C\n", "B.tsx": ""})
	f.remove("B.tsx")
	f.write("C.tsx", "")

	files, err := crawler.NewCrawler(lineExtractor{}.Supports).Files(f.root)
	require.NoError(t, err)

	res, err := f.cache.Reconcile(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, []Change{
		{EntryID: "B.tsx", Kind: analysis.ChangeRemoved},
		{EntryID: "C.tsx", Kind: analysis.ChangeAdded},
	}, res.Changed)
	assert.Equal(t, []string{"A.tsx"}, res.FalsePositives)

	_, ok := f.cache.Contract("B.tsx")
	assert.False(t, ok)
	a := bundleFor(res.Bundles, "A.tsx")
	require.NotNil(t, a)
	assert.Equal(t, []string{"A.tsx", "C.tsx"}, a.NodeIDs())
	assert.Equal(t, []bundle.Missing{{Name: "B", Source: "./B", Reason: resolver.ReasonNotFound, ReferencedBy: "A.tsx"}}, a.Meta.Missing)
}

func TestReconcile_UnchangedTreeIsEmpty(t *testing.T) {
	f := newFixture(t, map[string]string{"A.tsx": "import B\n", "B.tsx": ""})

	res, err := f.cache.Reconcile(context.Background(), []string{"A.tsx", "B.tsx"})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, []string{"A.tsx", "B.tsx"}, res.FalsePositives)
}

func TestFileWatcher_DebouncesBatches(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "out"), 0o755))
	db := filepath.Join(root, "ctxpack.db")

	batches := make(chan []FileChange, 10)
	w, err := NewFileWatcher(root, func(ch []FileChange) { batches <- ch }, WatcherOptions{
		Debounce:    50 * time.Millisecond,
		IgnoreDir:   func(name string) bool { return name == "node_modules" },
		IgnorePaths: []string{filepath.Join(root, "out"), db},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	p := filepath.Join(root, "A.tsx")
	require.NoError(t, os.WriteFile(p, []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(p, []byte("2"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "x.tsx"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "out", "bundles.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(db, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(db+"-journal", []byte("x"), 0o644))

	select {
	case batch := <-batches:
		require.Len(t, batch, 1)
		assert.Equal(t, p, batch[0].Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
	}
}

func TestDeduplicateChanges(t *testing.T) {
	got := deduplicateChanges([]FileChange{
		{Path: "a", Op: FileOpCreate},
		{Path: "b", Op: FileOpWrite},
		{Path: "a", Op: FileOpRemove},
	})
	assert.Equal(t, []FileChange{{Path: "a", Op: FileOpRemove}, {Path: "b", Op: FileOpWrite}}, got)
}
