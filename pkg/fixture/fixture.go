// Package fixture parses the annotation block at the top of a conformance test source.
package fixture

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefectStatus classifies a fixture as an ordinary case or a known-defect reproduction.
type DefectStatus int

const (
	// DefectNone marks an ordinary case that must build and exit with its EXPECT value.
	DefectNone DefectStatus = iota

	// ExpectCompileFailure marks a known defect that makes the toolchain fail or crash.
	ExpectCompileFailure

	// ExpectWrongRuntimeResult marks a known defect that builds but miscomputes.
	ExpectWrongRuntimeResult
)

// String returns the short name used in reports.
func (d DefectStatus) String() string {
	switch d {
	case DefectNone:
		return "none"
	case ExpectCompileFailure:
		return "compile"
	case ExpectWrongRuntimeResult:
		return "runtime"
	default:
		return fmt.Sprintf("DefectStatus(%d)", int(d))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d DefectStatus) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DefectStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*d = DefectNone
	case "compile":
		*d = ExpectCompileFailure
	case "runtime":
		*d = ExpectWrongRuntimeResult
	default:
		return fmt.Errorf("unknown defect status %q", text)
	}
	return nil
}

// TestCase is one parsed fixture. It is never mutated after Parse returns.
type TestCase struct {
	// Path identifies the fixture, relative to the fixture root when known.
	Path string

	// Source is the raw program text.
	Source []byte

	// Expected is the exit code a correct compiler produces. Valid only if HasExpected.
	Expected int

	// HasExpected reports whether an EXPECT marker was present.
	HasExpected bool

	// Defect is the known-defect status.
	Defect DefectStatus

	// Note joins the XFAIL and BUG texts. It is never matched against.
	Note string
}

// Name returns the file name without directory or extension.
func (tc *TestCase) Name() string {
	base := filepath.Base(tc.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseError reports a malformed or missing annotation.
type ParseError struct {
	Path string
	Line int    // 1-based; points at the offending line, or 1 when a marker is missing
	Text string // the offending line, if any
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s: %q", e.Path, e.Line, e.Msg, e.Text)
}

// Annotation patterns, matched against the comment text with the comment leader removed.
var (
	// expectPattern matches "EXPECT: 42"
	expectPattern = regexp.MustCompile(`^EXPECT:\s*(.*)$`)

	// xfailPattern matches "XFAIL: text" and "XFAIL(kind): text"
	xfailPattern = regexp.MustCompile(`^XFAIL(?:\(([^)]*)\))?:\s*(.*)$`)

	// bugPattern matches "BUG: text"
	bugPattern = regexp.MustCompile(`^BUG:\s*(.*)$`)

	// looseExpectPattern and looseXFAILPattern catch misspelled markers that
	// the strict patterns above reject, e.g. "xfail:" or "XFAIL (compile):".
	looseExpectPattern = regexp.MustCompile(`(?i)^EXPECT\s*[:(=]`)
	looseXFAILPattern  = regexp.MustCompile(`(?i)^XFAIL\b`)

	// compileHintPattern matches the prose used by fixtures whose defect is a build failure.
	compileHintPattern = regexp.MustCompile(`(?i)\b(?:fails? to compile|will not compile)\b`)
)

// ParseFile reads path and parses it. The case is named relative to root when possible.
func ParseFile(root, path string) (*TestCase, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	name := path
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			name = rel
		}
	}
	return Parse(name, src)
}

// Parse extracts the annotation block from src.
func Parse(path string, src []byte) (*TestCase, error) {
	tc := &TestCase{Path: path, Source: src}

	var (
		xfailLine   int
		xfailKind   string
		xfailText   string
		bugs        []string
	)

	lines, err := leadingComments(src)
	if err != nil {
		return nil, &ParseError{Path: path, Line: 1, Msg: err.Error()}
	}

	for _, l := range lines {
		if m := expectPattern.FindStringSubmatch(l.text); m != nil {
			if tc.HasExpected {
				return nil, &ParseError{Path: path, Line: l.num, Text: l.text, Msg: "duplicate EXPECT marker"}
			}
			v, err := strconv.Atoi(strings.TrimSpace(m[1]))
			if err != nil {
				return nil, &ParseError{Path: path, Line: l.num, Text: l.text, Msg: "EXPECT value is not a decimal integer"}
			}
			tc.Expected = v
			tc.HasExpected = true
			continue
		}

		if m := xfailPattern.FindStringSubmatch(l.text); m != nil {
			if xfailLine != 0 {
				return nil, &ParseError{Path: path, Line: l.num, Text: l.text, Msg: "duplicate XFAIL marker"}
			}
			xfailLine = l.num
			xfailKind = strings.TrimSpace(m[1])
			xfailText = strings.TrimSpace(m[2])
			if xfailKind != "" && xfailKind != "compile" && xfailKind != "runtime" {
				return nil, &ParseError{Path: path, Line: l.num, Text: l.text, Msg: "XFAIL kind must be compile or runtime"}
			}
			continue
		}

		if m := bugPattern.FindStringSubmatch(l.text); m != nil {
			if s := strings.TrimSpace(m[1]); s != "" {
				bugs = append(bugs, s)
			}
			continue
		}

		// Near misses are errors, not prose.
		switch {
		case looseExpectPattern.MatchString(l.text):
			return nil, &ParseError{Path: path, Line: l.num, Text: l.text, Msg: "malformed EXPECT marker"}
		case looseXFAILPattern.MatchString(l.text):
			return nil, &ParseError{Path: path, Line: l.num, Text: l.text, Msg: "malformed XFAIL marker"}
		}
	}

	if xfailLine != 0 {
		// Only prose at or below the XFAIL line describes the current defect;
		// earlier lines may be history.
		compileHint := false
		for _, l := range lines {
			if l.num >= xfailLine && compileHintPattern.MatchString(l.text) {
				compileHint = true
				break
			}
		}

		switch {
		case xfailKind == "compile":
			tc.Defect = ExpectCompileFailure
		case xfailKind == "runtime":
			tc.Defect = ExpectWrongRuntimeResult
		case compileHint, strings.HasPrefix(xfailText, "ICE"):
			tc.Defect = ExpectCompileFailure
		default:
			tc.Defect = ExpectWrongRuntimeResult
		}
	}

	notes := make([]string, 0, len(bugs)+1)
	if xfailText != "" {
		notes = append(notes, xfailText)
	}
	tc.Note = strings.Join(append(notes, bugs...), "; ")

	if !tc.HasExpected {
		switch tc.Defect {
		case DefectNone:
			return nil, &ParseError{Path: path, Line: 1, Msg: "missing EXPECT marker"}
		case ExpectWrongRuntimeResult:
			return nil, &ParseError{Path: path, Line: xfailLine, Msg: "runtime known-defect case requires EXPECT with the correct result"}
		}
	}

	return tc, nil
}

type commentLine struct {
	num  int
	text string
}

// leadingComments returns the text of the comments that precede the first line of code.
func leadingComments(src []byte) ([]commentLine, error) {
	var out []commentLine

	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	inBlock := false
	num := 0
	for scanner.Scan() {
		num++
		line := strings.TrimSpace(scanner.Text())

		if inBlock {
			text, closed := strings.CutSuffix(line, "*/")
			if i := strings.Index(text, "*/"); i >= 0 {
				// Code follows the block on the same line.
				out = append(out, commentLine{num: num, text: trimBlockLeader(text[:i])})
				return out, nil
			}
			out = append(out, commentLine{num: num, text: trimBlockLeader(text)})
			if closed {
				inBlock = false
			}
			continue
		}

		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "//"):
			out = append(out, commentLine{num: num, text: strings.TrimSpace(strings.TrimPrefix(line, "//"))})
		case strings.HasPrefix(line, "/*"):
			text := strings.TrimPrefix(line, "/*")
			if i := strings.Index(text, "*/"); i >= 0 {
				out = append(out, commentLine{num: num, text: trimBlockLeader(text[:i])})
				if strings.TrimSpace(text[i+2:]) != "" {
					return out, nil
				}
				continue
			}
			out = append(out, commentLine{num: num, text: trimBlockLeader(text)})
			inBlock = true
		default:
			return out, nil
		}
	}
	return out, scanner.Err()
}

func trimBlockLeader(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "*")
	return strings.TrimSpace(s)
}
