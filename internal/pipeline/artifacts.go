package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"ctxpack/internal/analysis"
	"ctxpack/internal/bundle"
	"ctxpack/internal/contract"
	"ctxpack/internal/graph"
	"ctxpack/internal/storage"
)

// ArtifactWriter persists committed state: manifest file, bundle file,
// per-file sidecars and, optionally, the contract store.
type ArtifactWriter struct {
	ManifestPath string
	BundlesPath  string
	// SidecarDir receives <entryId>.contract.json files. Empty disables sidecars.
	SidecarDir string
	// Store receives a snapshot after every write. Nil disables it.
	Store  storage.ContractStore
	Logger *slog.Logger
}

// WriteAll writes every artifact, including a sidecar for every contract.
func (w *ArtifactWriter) WriteAll(ctx context.Context, m *graph.Manifest, bundles []*bundle.Bundle) error {
	if err := w.writeGraph(ctx, m, bundles); err != nil {
		return err
	}
	if w.SidecarDir == "" {
		return nil
	}
	for _, c := range m.Contracts() {
		if err := contract.WriteSidecar(w.SidecarDir, c); err != nil {
			return err
		}
	}
	return nil
}

// WriteRebuild writes the artifacts for one rebuild, touching only the
// sidecars of changed entries.
func (w *ArtifactWriter) WriteRebuild(ctx context.Context, res *RebuildResult) error {
	if err := w.writeGraph(ctx, res.Manifest, res.Bundles); err != nil {
		return err
	}
	if w.SidecarDir == "" {
		return nil
	}
	for _, ch := range res.Changed {
		if ch.Kind == analysis.ChangeRemoved {
			err := os.Remove(contract.SidecarPath(w.SidecarDir, ch.EntryID))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to remove sidecar for %s: %w", ch.EntryID, err)
			}
			continue
		}
		if c := res.Manifest.Contract(ch.EntryID); c != nil {
			if err := contract.WriteSidecar(w.SidecarDir, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *ArtifactWriter) writeGraph(ctx context.Context, m *graph.Manifest, bundles []*bundle.Bundle) error {
	if w.ManifestPath != "" {
		if err := m.Save(w.ManifestPath); err != nil {
			return err
		}
	}
	if w.BundlesPath != "" {
		if err := bundle.WriteFile(w.BundlesPath, bundles); err != nil {
			return err
		}
	}
	if w.Store != nil {
		if err := w.Store.SaveSnapshot(ctx, m); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
	}
	return nil
}
