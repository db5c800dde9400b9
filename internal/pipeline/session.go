package pipeline

import (
	"context"
	"log/slog"
)

// Session connects a file watcher to a cache and an artifact writer.
// A failed rebuild is logged and the session keeps running.
type Session struct {
	cache   *Cache
	writer  *ArtifactWriter
	watcher *FileWatcher
	logger  *slog.Logger
	ctx     context.Context

	// OnRebuild, if set, observes every committed rebuild.
	OnRebuild func(*RebuildResult)
}

// NewSession creates a session watching the cache root.
func NewSession(cache *Cache, writer *ArtifactWriter, opts WatcherOptions) (*Session, error) {
	s := &Session{
		cache:  cache,
		writer: writer,
		logger: cache.logger,
		ctx:    context.Background(),
	}
	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	w, err := NewFileWatcher(cache.root, s.HandleBatch, opts)
	if err != nil {
		return nil, err
	}
	s.watcher = w
	return s, nil
}

// Run watches until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	if err := s.watcher.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("watching", "root", s.cache.root)

	<-ctx.Done()
	s.watcher.Stop()
	return nil
}

// HandleBatch rebuilds for one debounced batch and writes the result.
func (s *Session) HandleBatch(changes []FileChange) {
	paths := make([]string, 0, len(changes))
	for _, ch := range changes {
		paths = append(paths, ch.Path)
	}

	res, err := s.cache.IncrementalRebuild(s.ctx, paths)
	if err != nil {
		s.logger.Error("incremental rebuild failed", "paths", len(paths), "err", err)
		return
	}
	if res.Empty() {
		// Rewriting identical artifacts would only feed events back to the watcher.
		s.logger.Debug("batch left outputs unchanged", "paths", len(paths), "skipped", len(res.Skipped))
		return
	}
	if s.writer != nil {
		if err := s.writer.WriteRebuild(s.ctx, res); err != nil {
			s.logger.Error("failed to write artifacts", "err", err)
		}
	}
	if s.OnRebuild != nil {
		s.OnRebuild(res)
	}
}
