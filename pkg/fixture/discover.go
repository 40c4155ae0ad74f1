package fixture

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultExtensions are the fixture extensions used when none are configured.
var DefaultExtensions = []string{".c"}

// Discover lists fixture files directly under dir, sorted by path.
// A non-empty filter keeps only files whose name stem contains it.
func Discover(dir string, exts []string, filter string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading fixture directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if !slices.Contains(exts, ext) {
			continue
		}
		if filter != "" && !strings.Contains(strings.TrimSuffix(name, ext), filter) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}

	slices.Sort(paths)
	return paths, nil
}
