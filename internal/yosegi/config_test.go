package yosegi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "yosegi.toml")
	content := `
threads = 4
overlays = ["/srv/recipes", "."]
ignored_features = ["job-count"]
build_cache = "https://cache.example.com/artifacts"
git_reference_dirs = ["https://git.example.com/,/mirror/"]

[features]
arch = "arm64"

[upload]
endpoint = "https://s3.example.com"
bucket = "artifacts"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, []string{"/srv/recipes", "."}, cfg.Overlays)
	assert.Equal(t, []string{"job-count"}, cfg.IgnoredFeatures)
	assert.Equal(t, "https://cache.example.com/artifacts", cfg.BuildCache)
	assert.Equal(t, "arm64", cfg.Features["arch"])
	assert.Equal(t, "artifacts", cfg.Upload.Bucket)
	assert.Equal(t, "native", cfg.DefaultNamespace)
}

func TestLoadConfigMissingFileIsFine(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Threads)
	assert.Equal(t, "native", cfg.DefaultNamespace)
}

func TestLoadConfigBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yosegi.toml")
	require.NoError(t, os.WriteFile(path, []byte("threads = [not-valid"), 0o644))
	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("YOSEGI_THREADS", "8")
	t.Setenv("YOSEGI_BUILD_CACHE", "https://env.example.com/cache/")
	t.Setenv("YOSEGI_OVERLAYS", "/a:/b")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, "https://env.example.com/cache", cfg.BuildCache)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Overlays)
}
