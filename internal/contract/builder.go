package contract

import (
	"encoding/json"
	"fmt"
)

// Extraction is what a language extractor reports for one file.
type Extraction struct {
	Kind        Kind
	Language    string
	Composition Composition
	Interface   Interface

	// Optional enrichments produced alongside the structural facts.
	Style   json.RawMessage
	Backend json.RawMessage
}

// Extractor turns source bytes into an Extraction. Implementations must be
// deterministic for identical input and may fail per file.
type Extractor interface {
	Supports(path string) bool
	Extract(path string, src []byte) (*Extraction, error)
}

// BuildOptions carries the inputs that do not come from the extractor.
type BuildOptions struct {
	// Revision is stamped onto the contract. Zero means 1.
	Revision uint64

	Description string
	Metrics     map[string]float64
	Links       []Link
}

// Build creates a contract for entryID from an extraction and the source it was
// extracted from. The entryID is normalized before validation.
func Build(entryID string, ext *Extraction, src []byte, opts BuildOptions) (*Contract, error) {
	if ext == nil {
		return nil, fmt.Errorf("%w: no extraction for %q", ErrInvalidContract, entryID)
	}

	comp := normalizeComposition(ext.Composition)
	iface := normalizeInterface(ext.Interface)

	rev := opts.Revision
	if rev == 0 {
		rev = 1
	}

	c := &Contract{
		Version:      SchemaVersion,
		EntryID:      NormalizeEntryID(entryID),
		Kind:         ext.Kind,
		Language:     ext.Language,
		Composition:  comp,
		Interface:    iface,
		FileHash:     FileHash(src),
		SemanticHash: SemanticHash(comp, iface),
		Revision:     rev,
		Style:        ext.Style,
		Backend:      ext.Backend,
		Description:  opts.Description,
		Metrics:      opts.Metrics,
		Links:        opts.Links,
	}
	if c.Kind == "" {
		c.Kind = KindModule
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// MergeUpdate combines a freshly built contract with the one it replaces.
// Re-derived fields always come from updated; curated fields fall back to
// existing when updated leaves them empty. The result is a new value.
func MergeUpdate(existing, updated *Contract) *Contract {
	if updated == nil {
		return existing
	}
	merged := *updated
	if existing == nil {
		return &merged
	}

	if merged.Description == "" {
		merged.Description = existing.Description
	}
	if len(merged.Metrics) == 0 && len(existing.Metrics) > 0 {
		merged.Metrics = make(map[string]float64, len(existing.Metrics))
		for k, v := range existing.Metrics {
			merged.Metrics[k] = v
		}
	}
	if len(merged.Links) == 0 && len(existing.Links) > 0 {
		merged.Links = append([]Link(nil), existing.Links...)
	}

	rev := merged.Revision
	if existing.Revision > rev {
		rev = existing.Revision
	}
	if existing.FileHash != merged.FileHash {
		rev++
	}
	merged.Revision = rev
	return &merged
}
