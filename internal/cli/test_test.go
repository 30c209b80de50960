package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trcr/internal/harness"
)

const scenariosDir = "../harness/testdata/scenarios"

func TestTestCheckedInScenarios(t *testing.T) {
	out, err := execute(t, "test", scenariosDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ core_sinks (4 match(es)) [golden matched]")
	assert.Contains(t, out, "✓ isolation")
	assert.Contains(t, out, "✓ sanitized")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestFilterJSON(t *testing.T) {
	out, err := execute(t, "test", "--format", "json", "--filter", "core*", scenariosDir)
	require.NoError(t, err)

	env := decode[harness.SuiteResult](t, out)
	assert.Equal(t, "ok", env.Status)
	require.Len(t, env.Data.Scenarios, 1)
	assert.Equal(t, "core_sinks", env.Data.Scenarios[0].Name)
	assert.Equal(t, harness.GoldenMatched, env.Data.Scenarios[0].Golden)
}

func TestTestFailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`
name: wrong
description: expects a match that cannot happen
rules: ["@core"]
entities:
  - id: a.py:1:1
    name: loads
    type: json
    args: [{value: body, tainted: true}]
assertions:
  - type: match_contains
    rule: py-code-injection-eval
`), 0o644))

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong (0 match(es))")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")

	out, err = execute(t, "test", "--format", "json", dir)
	require.Error(t, err)
	env := decode[harness.SuiteResult](t, out)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "E_TEST_FAILED", env.Error.Code)
	assert.Equal(t, 1, env.Data.Failed)
}

func TestTestRulesDirAndUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "markup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: markup
description: rules resolved against --rules-dir
rules: [markup.cue]
entities:
  - id: t.py:4:8
    type: markupsafe
    name: Markup
    args: [{value: html, tainted: true}]
expect:
  - rule: py-xss-markup
    entity: t.py:4:8
`), 0o644))

	out, err := execute(t, "test", "--rules-dir", markupRules, "--update", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "[golden updated]")
	assert.FileExists(t, harness.GoldenPath(path))

	out, err = execute(t, "test", "--rules-dir", markupRules, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "[golden matched]")
}

func TestTestCommandErrors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f.yaml")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{"missing dir", []string{"test", filepath.Join(t.TempDir(), "nope")}},
		{"not a dir", []string{"test", file}},
		{"missing rules dir", []string{"test", "--rules-dir", filepath.Join(t.TempDir(), "nope"), scenariosDir}},
		{"bad filter", []string{"test", "--filter", "[", scenariosDir}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}
