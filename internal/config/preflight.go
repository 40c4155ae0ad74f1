package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/715d/m6809test/internal/runner"
	"github.com/715d/m6809test/pkg/build"
)

// ResolveRoot fills in Toolchain.Root from the compiler's location on PATH
// when it was not configured. The compiler is expected at <root>/bin.
func (c *Config) ResolveRoot(lookup *runner.Lookup) {
	if c.Toolchain.Root != "" {
		return
	}
	path, err := lookup.Path(DefaultCompiler)
	if err != nil {
		return
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	c.Toolchain.Root = filepath.Dir(filepath.Dir(path))
}

// Preflight checks that every stage program and the emulator can be found.
// It must pass before any case is scheduled.
func (c *Config) Preflight(lookup *runner.Lookup) error {
	vars := c.Vars()
	// Per-case placeholders never name the program itself.
	for _, name := range []string{"src", "work", "artifact", "map", "name", "entry"} {
		vars[name] = ""
	}

	var errs []error
	check := func(what string, argv []string) {
		if len(argv) == 0 {
			return
		}
		if strings.Contains(argv[0], "{root}") && c.Toolchain.Root == "" {
			errs = append(errs, fmt.Errorf("%s: toolchain root unknown: set toolchain.root or $%s, or put %s on PATH", what, EnvToolchain, DefaultCompiler))
			return
		}
		program, err := build.Expand(argv[:1], vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
			return
		}
		if len(program) == 0 {
			errs = append(errs, fmt.Errorf("%s: empty program", what))
			return
		}
		if _, err := lookup.Path(program[0]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}

	for _, s := range c.Stages() {
		check("stage "+s.Name, s.Argv)
	}
	check("emulator", c.EmulatorArgv())

	if len(errs) == 0 {
		return nil
	}
	return &Error{Path: c.Path, Err: errors.Join(errs...)}
}
