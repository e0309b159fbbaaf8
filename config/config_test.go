package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Server.Addr, cfg.Server.Addr)
	assert.Equal(t, def.Scrcpy.Options, cfg.Scrcpy.Options)
	assert.Equal(t, 10*time.Second, cfg.ADB.AuthTimeout.Duration)
	assert.False(t, cfg.QuickInfo.CaptureScreenshot)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screencopy.toml")
	content := `
[server]
addr = "127.0.0.1:9000"

[adb]
auth_timeout = "3s"

[scrcpy]
server_path = "/opt/scrcpy-server"
version = "2.4"
video_codec = "h265"
codec_options = "profile=1"

[quick_info]
capture_screenshot = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("SCREENCOPY_MAX_SIZE", "1024")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.ADB.AuthTimeout.Duration)
	assert.Equal(t, "/opt/scrcpy-server", cfg.Scrcpy.ServerPath)
	assert.Equal(t, "2.4", cfg.Scrcpy.Version)
	assert.Equal(t, "h265", cfg.Scrcpy.VideoCodec)
	assert.Equal(t, "profile=1", cfg.Scrcpy.CodecOptions)
	assert.Equal(t, 1024, cfg.Scrcpy.MaxSize)
	assert.True(t, cfg.QuickInfo.CaptureScreenshot)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\naddr="), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestInitDatabaseInMemory(t *testing.T) {
	db, err := InitDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='sessions'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "sessions", name)
}
