package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trcr/internal/corerules"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestReadSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.cue"), "// b")
	writeFile(t, filepath.Join(dir, "nested", "a.cue"), "// a")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	single := filepath.Join(t.TempDir(), "one.cue")
	writeFile(t, single, "// one")

	srcs, err := ReadSources(CoreRules, dir, single)
	require.NoError(t, err)

	var names []string
	for _, s := range srcs {
		names = append(names, s.Filename)
	}
	assert.Equal(t, []string{
		corerules.Filename,
		filepath.Join(dir, "b.cue"),
		filepath.Join(dir, "nested", "a.cue"),
		single,
	}, names)
	assert.Equal(t, corerules.Bytes(), srcs[0].Data)
	assert.Equal(t, "// one", string(srcs[3].Data))
}

func TestReadSourcesErrors(t *testing.T) {
	tests := []struct {
		name  string
		paths func(t *testing.T) []string
	}{
		{"missing path", func(t *testing.T) []string { return []string{filepath.Join(t.TempDir(), "nope.cue")} }},
		{"empty directory", func(t *testing.T) []string { return []string{t.TempDir()} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSources(tt.paths(t)...)
			assert.Error(t, err)
		})
	}
}

func TestReadSourcesCompileTogether(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "extra.cue"), `
rule: "py-xss-markup": {
	description: "Untrusted data wrapped as safe markup"
	cwe: ["CWE-79"]
	severity: "medium"
	kind:     "sink"
	match: [{
		type: "markupsafe"
		call: "Markup"
		taint: [0]
	}]
}
`)
	srcs, err := ReadSources(CoreRules, dir)
	require.NoError(t, err)

	res, err := CompileAll(t.Context(), srcs)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Len(t, res.Rules, 16)
}
