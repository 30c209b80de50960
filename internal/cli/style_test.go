package cli

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trcr/internal/ir"
)

func TestStylingDisabledWithoutColor(t *testing.T) {
	f := &OutputFormatter{Format: "text", Writer: &bytes.Buffer{}}

	assert.Equal(t, "critical", f.severity(ir.SeverityCritical))
	assert.Equal(t, "low     ", f.severity(ir.SeverityLow))
	assert.Equal(t, "✓", f.mark(true))
	assert.Equal(t, "✗", f.mark(false))
	assert.Equal(t, "!", f.warn("!"))
}

func TestColorEnabled(t *testing.T) {
	assert.False(t, colorEnabled(&bytes.Buffer{}), "buffers are never terminals")

	tmp, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer tmp.Close()
	assert.False(t, colorEnabled(tmp), "regular files are not terminals")

	t.Setenv("NO_COLOR", "1")
	assert.False(t, colorEnabled(os.Stdout))
}
