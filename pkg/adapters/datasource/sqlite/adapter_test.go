package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createSQLiteFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.sqlite")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE products (id INTEGER PRIMARY KEY, sku TEXT, price REAL)`)
	require.NoError(t, err)
	return path
}

func TestAdapter_TestConnection(t *testing.T) {
	path := createSQLiteFile(t)
	adapter := NewAdapter(&Config{Path: path})

	require.NoError(t, adapter.TestConnection(context.Background()))
	assert.Equal(t, path, adapter.AttachTarget())
	assert.Equal(t, "SQLITE", adapter.AttachType())
}

func TestAdapter_TestConnectionMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sqlite")
	err := NewAdapter(&Config{Path: path}).TestConnection(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "preflight must not create the file")
}

func TestAdapter_TestConnectionNotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.sqlite")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not a sqlite database\n", 200)), 0o600))

	assert.Error(t, NewAdapter(&Config{Path: path}).TestConnection(context.Background()))
}

func TestFromMap_RequiresPath(t *testing.T) {
	_, err := FromMap(map[string]any{})
	assert.ErrorContains(t, err, "path is required")
}
