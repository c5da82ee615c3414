package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("ENGRAM_DATA_DIR", tmpDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, tmpDir, cfg.DataDir)
	assert.Equal(t, Default().Domains, cfg.Domains)
	assert.Equal(t, Default().BootURIs, cfg.BootURIs)
	assert.Equal(t, 10, cfg.RecentLimit)
	assert.NotEmpty(t, cfg.APIAddr)
}

func TestLoad_ReadsYAML(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("ENGRAM_DATA_DIR", tmpDir)

	yaml := `
domains:
  - core
  - research
boot_uris:
  - core://identity
recent_limit: 25
api_addr: "127.0.0.1:9999"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yaml), 0600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"core", "research"}, cfg.Domains)
	assert.Equal(t, []string{"core://identity"}, cfg.BootURIs)
	assert.Equal(t, 25, cfg.RecentLimit)
	assert.Equal(t, "127.0.0.1:9999", cfg.APIAddr)
}

func TestLoad_EnvOverridesFileDataDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("ENGRAM_DATA_DIR", tmpDir)

	yaml := "data_dir: /somewhere/else\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yaml), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, tmpDir, cfg.DataDir)
}

func TestLoad_BadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("ENGRAM_DATA_DIR", tmpDir)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("domains: [unclosed"), 0600))

	_, err := Load()
	assert.Error(t, err)
}
