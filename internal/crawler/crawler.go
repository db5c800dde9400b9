package crawler

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnored are directory names never descended into.
var DefaultIgnored = []string{".git", "node_modules", "vendor", "dist", "build", "coverage", ".next", ".ctxpack"}

// Crawler scans a directory for source files the extractor can handle.
type Crawler struct {
	supports func(path string) bool
	ignored  map[string]bool
}

// NewCrawler creates a new crawler. supports decides which files are analyzable;
// extra names are added to the ignored directory set.
func NewCrawler(supports func(path string) bool, extra ...string) *Crawler {
	ignored := make(map[string]bool, len(DefaultIgnored)+len(extra))
	for _, name := range DefaultIgnored {
		ignored[name] = true
	}
	for _, name := range extra {
		if name != "" {
			ignored[name] = true
		}
	}
	return &Crawler{supports: supports, ignored: ignored}
}

// ScanProject walks root and calls onFile with each analyzable file's
// slash-separated path relative to root, in lexical order.
func (c *Crawler) ScanProject(root string, onFile func(rel string) error) error {
	gi := loadGitignore(root)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == root {
				return nil
			}
			if c.ignored[d.Name()] || (gi != nil && gi.MatchesPath(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		if !c.supports(rel) {
			return nil
		}
		return onFile(rel)
	})
}

// Files returns every analyzable file under root, sorted.
func (c *Crawler) Files(root string) ([]string, error) {
	var files []string
	err := c.ScanProject(root, func(rel string) error {
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Includes reports whether rel (relative to root) would be picked up by a scan.
// Used to filter watcher events without re-walking the tree.
func (c *Crawler) Includes(root, rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || strings.HasPrefix(rel, "../") || !c.supports(rel) {
		return false
	}
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if c.ignored[dir] {
			return false
		}
	}
	if gi := loadGitignore(root); gi != nil && gi.MatchesPath(rel) {
		return false
	}
	return true
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
