package build

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {name} references inside an argument.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// splatPattern matches an argument that is exactly {name...}.
var splatPattern = regexp.MustCompile(`^\{([A-Za-z_][A-Za-z0-9_]*)\.\.\.\}$`)

// maxExpandDepth bounds variables that refer to other variables.
const maxExpandDepth = 8

// Expand substitutes vars into an argv template. An argument of the form
// {name...} is replaced by the whitespace-separated fields of name and
// vanishes when name is empty. Unknown placeholders are an error.
func Expand(argv []string, vars map[string]string) ([]string, error) {
	out := make([]string, 0, len(argv))
	for _, arg := range argv {
		if m := splatPattern.FindStringSubmatch(arg); m != nil {
			v, err := lookup(vars, m[1], 0)
			if err != nil {
				return nil, err
			}
			out = append(out, strings.Fields(v)...)
			continue
		}
		s, err := expandString(arg, vars, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func expandString(s string, vars map[string]string, depth int) (string, error) {
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(s, func(ref string) string {
		v, err := lookup(vars, ref[1:len(ref)-1], depth)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	})
	return out, firstErr
}

func lookup(vars map[string]string, name string, depth int) (string, error) {
	if depth >= maxExpandDepth {
		return "", fmt.Errorf("variable %q: expansion too deep", name)
	}
	v, ok := vars[name]
	if !ok {
		return "", fmt.Errorf("undefined placeholder {%s}", name)
	}
	return expandString(v, vars, depth+1)
}
