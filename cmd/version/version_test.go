package version

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cooodecat/otto-handler/app"
)

func TestNewCmdVersion(t *testing.T) {
	cmd := NewCmdVersion()

	assert.Equal(t, "version", cmd.Use)
	assert.Contains(t, cmd.Long, "Display version information for Otto")
	assert.Empty(t, cmd.Flags().FlagUsages())
	assert.True(t, cmd.Runnable())
}

func TestVersionOutput(t *testing.T) {
	original := app.Version
	app.Version = "1.4.2"
	t.Cleanup(func() { app.Version = original })

	cmd := NewCmdVersion()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "1.4.2\n", out.String())
}
