package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile stores bundles as an ordered JSON list, sorted by entryId.
func WriteFile(path string, bundles []*Bundle) error {
	out := make([]*Bundle, len(bundles))
	copy(out, bundles)
	Sort(out)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode bundles: %w", err)
	}
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

// ReadFile loads a bundle list written by WriteFile.
func ReadFile(path string) ([]*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundles %s: %w", path, err)
	}
	var bundles []*Bundle
	if err := json.Unmarshal(data, &bundles); err != nil {
		return nil, fmt.Errorf("failed to decode bundles %s: %w", path, err)
	}
	return bundles, nil
}
