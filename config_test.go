package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7070", cfg.Server.Addr)
	assert.Equal(t, 60*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 20*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, int64(32<<20), cfg.Fetch.MaxBytes)
	assert.True(t, cfg.Exiftool.Enabled)
	assert.Equal(t, 200, cfg.Storage.ThumbnailSize)
	assert.Equal(t, filepath.Join("./output", "phototagger.db"), cfg.Storage.DBPath)
	assert.Empty(t, cfg.Storage.SrcRoot, "HTTP batch stays off until a source root is configured")
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phototagger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  request_timeout: 5s
fetch:
  max_bytes: 1024
storage:
  dest_folder: /srv/photos
  workers: 8
archive:
  enabled: true
  bucket: photos
  endpoint: minio:9000
log:
  format: json
`), 0o644))

	t.Setenv("PHOTOTAGGER_SERVER_ADDR", ":9100")
	t.Setenv("PHOTOTAGGER_GEOCODE_API_KEY", "k")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, int64(1024), cfg.Fetch.MaxBytes)
	assert.Equal(t, 8, cfg.Storage.Workers)
	assert.Equal(t, filepath.Join("/srv/photos", "phototagger.db"), cfg.Storage.DBPath)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "photos", cfg.Archive.Bucket)
	assert.Equal(t, "embedded", cfg.Archive.Prefix)
	assert.Equal(t, "k", cfg.Geocode.APIKey)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigLogLevelFlag(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	require.NoError(t, flags.Parse([]string{"--log-level", "debug"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	t.Setenv("PHOTOTAGGER_ARCHIVE_ENABLED", "true")
	_, err = LoadConfig("", nil)
	assert.EqualError(t, err, "archive.bucket is required when the archive is enabled")
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	require.NoError(t, setupLogging(LogConfig{Level: "warn", Format: "json"}))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	assert.Error(t, setupLogging(LogConfig{Level: "loud"}))
	assert.Error(t, setupLogging(LogConfig{Level: "info", Format: "xml"}))
}
