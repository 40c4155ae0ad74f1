package conformance

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/m6809test/pkg/classify"
	"github.com/715d/m6809test/pkg/fixture"
)

func reportOf(verdicts map[string]classify.Verdict) *Report {
	agg := newAggregator(len(verdicts))
	for path, v := range verdicts {
		agg.Add(CaseResult{Path: path, Verdict: v, Reason: string(v)})
	}
	return agg.report()
}

func TestReport_Success(t *testing.T) {
	tests := []struct {
		name     string
		verdicts map[string]classify.Verdict
		want     bool
	}{
		{name: "empty", verdicts: nil, want: true},
		{name: "pass_and_xfail", verdicts: map[string]classify.Verdict{"a.c": classify.Pass, "b.c": classify.ExpectedFailure}, want: true},
		{name: "fail", verdicts: map[string]classify.Verdict{"a.c": classify.Pass, "b.c": classify.Fail}},
		{name: "regression", verdicts: map[string]classify.Verdict{"a.c": classify.Regression}},
		{name: "error", verdicts: map[string]classify.Verdict{"a.c": classify.HarnessError}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := reportOf(tt.verdicts)
			require.Equal(t, tt.want, r.Success())
			if tt.want {
				require.Equal(t, 0, r.ExitCode())
				require.Empty(t, r.Attention())
			} else {
				require.Equal(t, 1, r.ExitCode())
				require.NotEmpty(t, r.Attention())
			}
		})
	}
}

func TestReport_CountsEveryVerdict(t *testing.T) {
	r := reportOf(map[string]classify.Verdict{"a.c": classify.Pass})
	require.Len(t, r.Counts, len(classify.Verdicts))
	require.Equal(t, 1, r.Counts[classify.Pass])
	require.Equal(t, 0, r.Counts[classify.Regression])
}

func TestReport_JSONFile(t *testing.T) {
	expected := 42
	r := reportOf(map[string]classify.Verdict{"b.c": classify.Regression, "a.c": classify.Pass})
	r.RunID = "run-1"
	r.Cases[1].Defect = fixture.ExpectWrongRuntimeResult
	r.Cases[1].Expected = &expected

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))
	require.Contains(t, buf.String(), `"defect": "runtime"`)
	require.Contains(t, buf.String(), `"regression": 1`)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, r.Counts, got.Counts)
	c, ok := got.Lookup("b.c")
	require.True(t, ok)
	require.Equal(t, fixture.ExpectWrongRuntimeResult, c.Defect)
	require.Equal(t, 42, *c.Expected)

	_, ok = got.Lookup("z.c")
	require.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = ReadFile(path)
	require.Error(t, err)
}

func TestDiff(t *testing.T) {
	before := reportOf(map[string]classify.Verdict{
		"same.c":    classify.Pass,
		"fixed.c":   classify.ExpectedFailure,
		"broke.c":   classify.Pass,
		"removed.c": classify.Fail,
	})
	after := reportOf(map[string]classify.Verdict{
		"same.c":  classify.Pass,
		"fixed.c": classify.Regression,
		"broke.c": classify.Fail,
		"added.c": classify.Pass,
	})

	got := Diff(before, after)
	require.Equal(t, []Change{
		{Path: "added.c", New: classify.Pass},
		{Path: "broke.c", Old: classify.Pass, New: classify.Fail},
		{Path: "fixed.c", Old: classify.ExpectedFailure, New: classify.Regression},
		{Path: "removed.c", Old: classify.Fail},
	}, got)

	require.Equal(t, "added.c: added (pass)", got[0].String())
	require.Equal(t, "broke.c: pass -> fail", got[1].String())
	require.Equal(t, "removed.c: removed (was fail)", got[3].String())

	require.Empty(t, Diff(before, before))
}
