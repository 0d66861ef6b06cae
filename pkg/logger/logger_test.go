package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ocrtool.log")
	require.NoError(t, Init(Config{Level: "debug", Format: "json", Output: "file", FilePath: path, MaxSize: 1}))
	t.Cleanup(func() { SetLogger(nil) })

	WithField("gate", "Gate 01").Info("[Restart] Success: FRONT")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"[Restart] Success: FRONT"`)
	assert.Contains(t, string(data), `"gate":"Gate 01"`)
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(Config{Level: "loud", Output: "console"}))
	t.Cleanup(func() { SetLogger(nil) })
	assert.Equal(t, "info", GetLogger().GetLevel().String())
}
