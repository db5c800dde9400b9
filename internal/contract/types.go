package contract

import (
	"encoding/json"
	"path"
	"sort"
	"strings"
)

// SchemaVersion is written into every contract so stale sidecars can be told apart.
const SchemaVersion = 1

// Kind classifies what a unit exposes.
type Kind string

const (
	KindComponent Kind = "component"
	KindHook      Kind = "hook"
	KindModule    Kind = "module"
)

// Contract is the structural snapshot of one analyzable unit.
type Contract struct {
	Version     int         `json:"version"`
	EntryID     string      `json:"entryId" validate:"required,entrypath"`
	Kind        Kind        `json:"kind" validate:"omitempty,oneof=component hook module"`
	Language    string      `json:"language,omitempty"`
	Composition Composition `json:"composition"`
	Interface   Interface   `json:"interface"`

	FileHash     string `json:"fileHash" validate:"required,sha256hex"`
	SemanticHash string `json:"semanticHash" validate:"required,sha256hex"`
	Revision     uint64 `json:"revision"`

	// Enrichments attached by style/backend collaborators. Opaque to this package.
	Style   json.RawMessage `json:"style,omitempty"`
	Backend json.RawMessage `json:"backend,omitempty"`

	// Curated fields survive regeneration (see MergeUpdate).
	Description string             `json:"description,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Links       []Link             `json:"links,omitempty" validate:"dive"`
}

// Composition lists the structural facts found in a unit.
type Composition struct {
	Components []string `json:"components,omitempty"`
	Hooks      []string `json:"hooks,omitempty"`
	Functions  []string `json:"functions,omitempty"`
	Variables  []string `json:"variables,omitempty"`
	Imports    []Import `json:"imports,omitempty"`
}

// Import is one import declaration: a module specifier and the local names it binds.
type Import struct {
	Source string   `json:"source"`
	Names  []string `json:"names,omitempty"`
}

// Interface is the externally observable signature of a unit.
type Interface struct {
	Props   []Prop   `json:"props,omitempty"`
	Events  []string `json:"events,omitempty"`
	State   []string `json:"state,omitempty"`
	Exports []string `json:"exports,omitempty"`
}

// Prop is one declared parameter of a component.
type Prop struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// Link is a manually attached reference.
type Link struct {
	Label string `json:"label,omitempty"`
	URL   string `json:"url" validate:"required"`
}

// Reference is one declared dependency of a contract.
type Reference struct {
	// Name is the bare name: an import's filename stem, a package specifier,
	// or a component identifier.
	Name string
	// Source is the import specifier, empty for name-only references.
	Source string
	// External is set for bare (package) import specifiers.
	External bool
}

// IsRelative reports whether an import specifier points into the scanned tree.
func IsRelative(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		spec == "." || spec == ".." || strings.HasPrefix(spec, "/")
}

// References lists the declared dependencies of c in a stable order.
func (c *Contract) References() []Reference {
	if c == nil {
		return nil
	}

	seen := make(map[Reference]bool)
	var refs []Reference
	add := func(r Reference) {
		if r.Name == "" || seen[r] {
			return
		}
		seen[r] = true
		refs = append(refs, r)
	}

	// Names declared in the unit itself never point at another file.
	bound := make(map[string]bool)
	for _, n := range c.Composition.Functions {
		bound[n] = true
	}
	for _, n := range c.Composition.Variables {
		bound[n] = true
	}
	for _, imp := range c.Composition.Imports {
		if imp.Source == "" {
			continue
		}
		for _, n := range imp.Names {
			bound[n] = true
		}
		if IsRelative(imp.Source) {
			if isAsset(imp.Source) {
				continue
			}
			add(Reference{Name: Stem(imp.Source), Source: imp.Source})
		} else {
			add(Reference{Name: imp.Source, Source: imp.Source, External: true})
		}
	}

	for _, comp := range c.Composition.Components {
		// Member expressions like Foo.Bar are bound through Foo.
		head, _, _ := strings.Cut(comp, ".")
		if bound[head] {
			continue
		}
		add(Reference{Name: head})
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Name != refs[j].Name {
			return refs[i].Name < refs[j].Name
		}
		return refs[i].Source < refs[j].Source
	})
	return refs
}

// SourceExtensions are the file extensions an import may omit, in lookup order.
var SourceExtensions = []string{".tsx", ".ts", ".jsx", ".js", ".mjs", ".cjs"}

var assetExtensions = map[string]bool{
	".css": true, ".scss": true, ".sass": true, ".less": true,
	".svg": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".json": true, ".md": true, ".html": true, ".woff": true, ".woff2": true,
}

// isAsset reports whether a relative specifier names a non-code file such as a stylesheet.
func isAsset(spec string) bool {
	return assetExtensions[strings.ToLower(path.Ext(spec))]
}

// Stem returns the last path element without its extension.
func Stem(p string) string {
	base := path.Base(strings.TrimSuffix(p, "/"))
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// NormalizeEntryID converts a path into the canonical entryId form:
// forward slashes, no leading "./" or "/", cleaned.
func NormalizeEntryID(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")
	for strings.HasPrefix(p, "./") {
		p = strings.TrimPrefix(p, "./")
	}
	if p == "." {
		return ""
	}
	return p
}
