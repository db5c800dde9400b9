package git

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ChangedFile is one file touched by a diff.
type ChangedFile struct {
	// Path is the new name, or the old name for deletions.
	Path         string
	Deleted      bool
	ChangedLines []int
}

// GetChangedFiles runs git diff in root and returns the changed files with line numbers.
func GetChangedFiles(root, baseRef string) ([]ChangedFile, error) {
	cmd := exec.Command("git", "diff", "-U0", "--no-color", baseRef)
	cmd.Dir = root
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff failed: %w", err)
	}

	return parseDiff(output)
}

// Paths returns the distinct paths of changes, sorted.
func Paths(changes []ChangedFile) []string {
	seen := make(map[string]bool, len(changes))
	out := make([]string, 0, len(changes))
	for _, ch := range changes {
		if ch.Path == "" || seen[ch.Path] {
			continue
		}
		seen[ch.Path] = true
		out = append(out, ch.Path)
	}
	sort.Strings(out)
	return out
}

func parseDiff(output []byte) ([]ChangedFile, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(string(output))).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}

	changes := make([]ChangedFile, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		ch := ChangedFile{ChangedLines: []int{}}
		newName := stripPrefix(fd.NewName)
		if newName == "" {
			ch.Path = stripPrefix(fd.OrigName)
			ch.Deleted = true
		} else {
			ch.Path = newName
		}
		if ch.Path == "" {
			continue
		}

		for _, h := range fd.Hunks {
			// A zero-length hunk is a pure deletion; no line survives in the new file.
			for i := int32(0); i < h.NewLines; i++ {
				ch.ChangedLines = append(ch.ChangedLines, int(h.NewStartLine+i))
			}
		}
		changes = append(changes, ch)
	}
	return changes, nil
}

// stripPrefix removes git's a/ and b/ markers; /dev/null becomes empty.
func stripPrefix(name string) string {
	if name == "/dev/null" || name == "" {
		return ""
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}
