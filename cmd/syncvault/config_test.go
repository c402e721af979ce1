package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestParseCLIConfig_Valid(t *testing.T) {
	path := writeConfig(t, `
default_vault = "notes"

[vault.notes]
uri = "file:///data/notes"

[vault.backup]
uri = "s3://localhost:9000/backup?access_key=ak&secret_key=sk"
`)

	cfg, err := parseCLIConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "notes", cfg.DefaultVault)
	assert.Len(t, cfg.Vaults, 2)
	assert.Equal(t, "file:///data/notes", cfg.Vaults["notes"].URI)
}

func TestParseCLIConfig_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, `
default_valut = "notes"

[vault.notes]
uri = "file:///data/notes"
`)

	_, err := parseCLIConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_valut")
}

func TestParseCLIConfig_MissingURIRejected(t *testing.T) {
	path := writeConfig(t, `
[vault.notes]
`)

	_, err := parseCLIConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no uri")
}

func TestLoadCLIConfig_ExplicitMissingFileFails(t *testing.T) {
	_, err := loadCLIConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadCLIConfig_DefaultMissingFileIsEmpty(t *testing.T) {
	// Point the home directory somewhere with no config file.
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadCLIConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Vaults)
}
