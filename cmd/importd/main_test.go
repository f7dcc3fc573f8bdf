package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMigrateCommands(t *testing.T) {
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("DB_NAME", filepath.Join(t.TempDir(), "cli.db"))

	out, err := execute(t, "migrate", "up")
	require.NoError(t, err)
	assert.Equal(t, "schema version 1\n", out)

	out, err = execute(t, "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, "schema version 1\n", out)

	out, err = execute(t, "migrate", "down")
	require.NoError(t, err)
	assert.Equal(t, "schema version 0\n", out)
}

func TestMigrateDownRejectsBadSteps(t *testing.T) {
	_, err := execute(t, "migrate", "down", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-negative")
}

func TestImportCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("DB_NAME", filepath.Join(dir, "cli.db"))
	t.Setenv("STORAGE_BASE_DIR", filepath.Join(dir, "blobs"))
	t.Setenv("IMPORTD_METRICS_ENABLED", "false")

	file := filepath.Join(dir, "products.csv")
	require.NoError(t, os.WriteFile(file, []byte("name,product_code\nAnvil,A-1\nBolt,B-2\n"), 0o644))

	out, err := execute(t, "import", file, "--map", "0=name,1=product_code")
	require.NoError(t, err)
	assert.Contains(t, out, "completed: 2/2 rows processed, 2 succeeded, 0 failed")
}

func TestParseMapping(t *testing.T) {
	m, err := parseMapping(map[string]string{"0": "name", "3": "price"})
	require.NoError(t, err)
	assert.Equal(t, "price", m[3])

	_, err = parseMapping(nil)
	assert.Error(t, err)
	_, err = parseMapping(map[string]string{"first": "name"})
	assert.ErrorContains(t, err, "column index")
}
