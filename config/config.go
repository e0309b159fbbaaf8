package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"screencopy/scrcpy"
)

const DefaultConfigPath = "screencopy.toml"

type Config struct {
	Server    ServerConfig    `toml:"server"`
	ADB       ADBConfig       `toml:"adb"`
	Scrcpy    ScrcpyConfig    `toml:"scrcpy"`
	QuickInfo QuickInfoConfig `toml:"quick_info"`
	Log       LogConfig       `toml:"log"`
	Database  DatabaseConfig  `toml:"database"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type ADBConfig struct {
	Path          string   `toml:"path"`
	CredentialDir string   `toml:"credential_dir"`
	AuthTimeout   Duration `toml:"auth_timeout"`
}

type ScrcpyConfig struct {
	// ServerPath is the local server binary pushed before every launch.
	ServerPath string `toml:"server_path"`
	RemotePath string `toml:"remote_path"`
	scrcpy.Options
}

type QuickInfoConfig struct {
	CaptureScreenshot bool `toml:"capture_screenshot"`
}

type LogConfig struct {
	Dir   string `toml:"dir"`
	Level string `toml:"level"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// Duration decodes TOML strings like "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		ADB: ADBConfig{
			Path:          "adb",
			CredentialDir: filepath.Join(home, ".screencopy"),
			AuthTimeout:   Duration{10 * time.Second},
		},
		Scrcpy: ScrcpyConfig{
			ServerPath: filepath.Join(".", "assets", "scrcpy-server"),
			RemotePath: scrcpy.DefaultRemotePath,
			Options:    scrcpy.DefaultOptions(),
		},
		Log:      LogConfig{Dir: "log", Level: "info"},
		Database: DatabaseConfig{Path: DatabasePath},
	}
}

// Load reads path over the defaults (a missing file is fine), then applies
// SCREENCOPY_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.Server.Addr = getEnv("SCREENCOPY_ADDR", cfg.Server.Addr)
	cfg.ADB.Path = getEnv("SCREENCOPY_ADB_PATH", cfg.ADB.Path)
	cfg.ADB.CredentialDir = getEnv("SCREENCOPY_CREDENTIAL_DIR", cfg.ADB.CredentialDir)
	cfg.Scrcpy.ServerPath = getEnv("SCREENCOPY_SERVER_PATH", cfg.Scrcpy.ServerPath)
	cfg.Scrcpy.Version = getEnv("SCREENCOPY_SERVER_VERSION", cfg.Scrcpy.Version)
	cfg.Scrcpy.VideoCodec = getEnv("SCREENCOPY_VIDEO_CODEC", cfg.Scrcpy.VideoCodec)
	cfg.Scrcpy.MaxSize = getEnvInt("SCREENCOPY_MAX_SIZE", cfg.Scrcpy.MaxSize)
	cfg.Scrcpy.VideoBitRate = getEnvInt("SCREENCOPY_BIT_RATE", cfg.Scrcpy.VideoBitRate)
	cfg.Log.Level = getEnv("SCREENCOPY_LOG_LEVEL", cfg.Log.Level)
	cfg.Database.Path = getEnv("SCREENCOPY_DB_PATH", cfg.Database.Path)

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must be set")
	}
	if c.Scrcpy.ServerPath == "" {
		return errors.New("scrcpy.server_path must be set")
	}
	if c.Scrcpy.RemotePath == "" {
		return errors.New("scrcpy.remote_path must be set")
	}
	if c.Scrcpy.Version == "" {
		return errors.New("scrcpy.version must be set")
	}
	return nil
}

// getEnv gets environment variable with fallback default
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
