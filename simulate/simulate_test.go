package simulate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAndStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
devices:
  ocr-1:
    username: jetson
    password: pw
    responses:
      "cat /etc/hostname": "lane-1\n"
  ocr-2:
    username: jetson
    password: pw
    delay: 50ms
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, 50*time.Millisecond, cfg.Devices["ocr-2"].Delay)
	assert.Equal(t, "lane-1\n", cfg.Devices["ocr-1"].Responses["cat /etc/hostname"])

	m, err := Start(cfg)
	require.NoError(t, err)
	defer m.Stop()

	assert.Equal(t, []string{"ocr-1", "ocr-2"}, m.Names())
	assert.NotEmpty(t, m.Addr("ocr-1"))
	assert.NotEqual(t, m.Addr("ocr-1"), m.Addr("ocr-2"))
	assert.Empty(t, m.Addr("missing"))
}

func TestRespond(t *testing.T) {
	srv, err := NewServer(DeviceConfig{Hostname: "lane", Responses: map[string]string{"date": "now"}})
	require.NoError(t, err)

	out, _, status, drop := srv.respond("uptime")
	assert.Contains(t, out, " up 3 days,")
	assert.Zero(t, status)
	assert.False(t, drop)

	out, _, _, _ = srv.respond("date")
	assert.Equal(t, "now", out)

	out, _, _, _ = srv.respond("hostname")
	assert.Equal(t, "lane\n", out)

	_, _, _, drop = srv.respond("echo 'x' | sudo -S reboot now")
	assert.True(t, drop)

	_, stderr, status, _ := srv.respond("foo --bar")
	assert.Equal(t, uint32(127), status)
	assert.Contains(t, stderr, "foo: command not found")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}
