package build

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	vars := map[string]string{
		"root":   "/opt/gcc6809",
		"work":   "/tmp/w",
		"cflags": "-I{root}/include  -DNDEBUG",
		"empty":  "",
		"self":   "{self}",
	}

	tests := []struct {
		name    string
		argv    []string
		want    []string
		wantErr string
	}{
		{
			name: "plain_and_nested",
			argv: []string{"{root}/bin/m6809-unknown-none-gcc", "-S", "{cflags}", "-o", "{work}/test.s"},
			want: []string{"/opt/gcc6809/bin/m6809-unknown-none-gcc", "-S", "-I/opt/gcc6809/include  -DNDEBUG", "-o", "/tmp/w/test.s"},
		},
		{
			name: "splat_fields",
			argv: []string{"gcc", "{cflags...}", "x.c"},
			want: []string{"gcc", "-I/opt/gcc6809/include", "-DNDEBUG", "x.c"},
		},
		{
			name: "empty_splat_vanishes",
			argv: []string{"gcc", "{empty...}", "x.c"},
			want: []string{"gcc", "x.c"},
		},
		{
			name: "literal_braces_untouched",
			argv: []string{"-b", ".text=0x2000", "{not valid}"},
			want: []string{"-b", ".text=0x2000", "{not valid}"},
		},
		{
			name:    "undefined",
			argv:    []string{"{nope}"},
			wantErr: "undefined placeholder {nope}",
		},
		{
			name:    "undefined_splat",
			argv:    []string{"{nope...}"},
			wantErr: "undefined placeholder {nope}",
		},
		{
			name:    "recursive",
			argv:    []string{"{self}"},
			wantErr: "expansion too deep",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.argv, vars)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
