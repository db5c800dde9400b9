package graph

import (
	"ctxpack/internal/contract"
	"ctxpack/internal/resolver"
)

// ManifestVersion is the on-disk manifest format version.
const ManifestVersion = 1

// Node is one entry of the manifest.
type Node struct {
	Dependencies []string     `json:"dependencies"`
	Dependents   []string     `json:"dependents"`
	SemanticHash string       `json:"semanticHash"`
	FileHash     string       `json:"fileHash,omitempty"`
	Unresolved   []Unresolved `json:"unresolved,omitempty"`
}

// Unresolved is a declared reference that did not map onto any manifest key.
// Source is the import specifier; name-only references leave it empty.
type Unresolved struct {
	Name   string          `json:"name"`
	Source string          `json:"source,omitempty"`
	Reason resolver.Reason `json:"reason"`
}

// Manifest is the dependency graph over every live contract.
// It is derived data: always rebuilt in full by Build.
type Manifest struct {
	Version int              `json:"version"`
	Nodes   map[string]*Node `json:"nodes"`
	Roots   []string         `json:"roots"`
	Leaves  []string         `json:"leaves"`

	contracts map[string]*contract.Contract
}
