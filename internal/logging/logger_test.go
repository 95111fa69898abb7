package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Urban-Render/server/internal/config"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "server.log")

	logger, err := New(config.LoggingConfig{Level: "info", Format: "json", Output: out})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("render finished")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"render finished"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNew_RejectsBadSettings(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = New(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
