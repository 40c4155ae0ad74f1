package harness

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"

	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"

	"github.com/715d/m6809test/internal/config"
)

const expectedFile = "expected.yaml"

// Scenario is one txtar archive unpacked into a fixture directory.
type Scenario struct {
	// Name is the archive name without extension.
	Name string

	// Dir holds the unpacked fixtures and configuration.
	Dir string

	// Fixtures lists the unpacked fixture paths, sorted.
	Fixtures []string

	Expected Expectation
}

// LoadScenario unpacks the archive at path into a temporary directory. The
// archive must contain expected.yaml; every other file is written out, and
// the default configuration is added unless the archive has its own.
func LoadScenario(t *testing.T, path string) *Scenario {
	t.Helper()

	ar, err := txtar.ParseFile(path)
	require.NoError(t, err)

	sc := &Scenario{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Dir:  t.TempDir(),
	}

	var haveExpected, haveConfig bool
	for _, f := range ar.Files {
		if f.Name == expectedFile {
			require.NoError(t, yaml.Unmarshal(f.Data, &sc.Expected), "%s: %s", path, expectedFile)
			haveExpected = true
			continue
		}
		if f.Name == config.FileName {
			haveConfig = true
		}

		dst := filepath.Join(sc.Dir, filepath.FromSlash(f.Name))
		require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
		require.NoError(t, os.WriteFile(dst, f.Data, 0o644))
		if filepath.Ext(f.Name) == ".c" {
			sc.Fixtures = append(sc.Fixtures, dst)
		}
	}
	require.True(t, haveExpected, "%s: missing %s", path, expectedFile)

	if !haveConfig {
		require.NoError(t, os.WriteFile(filepath.Join(sc.Dir, config.FileName), []byte(defaultConfig), 0o644))
	}

	slices.Sort(sc.Fixtures)
	return sc
}

// DiscoverScenarios lists the scenario archives under dir.
func DiscoverScenarios(t *testing.T, dir string) []string {
	t.Helper()

	paths, err := filepath.Glob(filepath.Join(dir, "*.txtar"))
	require.NoError(t, err)
	slices.Sort(paths)
	return paths
}
