package runner

import (
	"fmt"
	"os/exec"

	"github.com/puzpuzpuz/xsync/v4"
)

// Lookup resolves program names to absolute paths, caching results so that
// preflight and every case share one PATH scan per program.
type Lookup struct {
	cache *xsync.Map[string, lookupResult]
}

type lookupResult struct {
	path string
	err  error
}

// NewLookup returns an empty Lookup.
func NewLookup() *Lookup {
	return &Lookup{cache: xsync.NewMap[string, lookupResult]()}
}

// Path returns the resolved path for name.
func (l *Lookup) Path(name string) (string, error) {
	if r, ok := l.cache.Load(name); ok {
		return r.path, r.err
	}
	path, err := exec.LookPath(name)
	if err != nil {
		err = fmt.Errorf("tool %q not found: %w", name, err)
	}
	r, _ := l.cache.LoadOrStore(name, lookupResult{path: path, err: err})
	return r.path, r.err
}

// Len returns the number of cached lookups.
func (l *Lookup) Len() int {
	return l.cache.Size()
}
