package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorruptManifest is returned when a manifest file exists but cannot be decoded.
var ErrCorruptManifest = errors.New("corrupt manifest")

// Save writes the manifest as indented JSON, replacing path atomically.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return writeFileAtomic(path, data)
}

// LoadManifest reads a manifest file. The returned manifest carries no
// contracts; attach them with WithContracts before packing.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w: %v", path, ErrCorruptManifest, err)
	}
	if m.Nodes == nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w: missing nodes", path, ErrCorruptManifest)
	}
	return &m, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
