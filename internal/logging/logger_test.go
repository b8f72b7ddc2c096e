package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "ledger.log")

	logger, err := New("test", "warn", file)
	require.NoError(t, err)
	logger.Debug("audit finished")
	_ = logger.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"audit finished"`)
	assert.Contains(t, string(data), `"env":"test"`)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("test", "loud", "")
	assert.Error(t, err)
}
