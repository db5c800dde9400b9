package contract

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SidecarExt is appended to the entryId to name a sidecar file.
const SidecarExt = ".contract.json"

// SidecarPath returns where the sidecar for entryID lives under dir.
func SidecarPath(dir, entryID string) string {
	return filepath.Join(dir, filepath.FromSlash(entryID)+SidecarExt)
}

// WriteSidecar stores c as a standalone JSON file under dir.
func WriteSidecar(dir string, c *Contract) error {
	p := SidecarPath(dir, c.EntryID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create sidecar dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode contract %s: %w", c.EntryID, err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sidecar %s: %w", p, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace sidecar %s: %w", p, err)
	}
	return nil
}

// ReadSidecar decodes and validates one sidecar file.
func ReadSidecar(p string) (*Contract, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar %s: %w", p, err)
	}
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode sidecar %s: %w", p, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("sidecar %s: %w", p, err)
	}
	return &c, nil
}

// LoadSidecars reads every sidecar below dir. Unreadable or invalid files are
// returned in skipped rather than failing the load. A missing dir yields nothing.
func LoadSidecars(dir string) (contracts []*Contract, skipped map[string]error, err error) {
	skipped = make(map[string]error)
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == dir && os.IsNotExist(walkErr) {
				return filepath.SkipDir
			}
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), SidecarExt) {
			return nil
		}
		c, err := ReadSidecar(p)
		if err != nil {
			skipped[p] = err
			return nil
		}
		contracts = append(contracts, c)
		return nil
	})
	if err != nil {
		return nil, skipped, fmt.Errorf("failed to walk sidecars in %s: %w", dir, err)
	}
	return contracts, skipped, nil
}
