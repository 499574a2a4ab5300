package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

// newTestEngine creates an in-memory instance manager closed at test end.
func newTestEngine(t *testing.T, cfg engine.ManagerConfig) *engine.Manager {
	t.Helper()
	cfg.InMemory = true
	m := engine.NewManager(cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// borrow opens the instance for key and borrows a connection returned at
// test end.
func borrow(t *testing.T, m *engine.Manager, key engine.Key) *engine.Conn {
	t.Helper()
	ctx := context.Background()
	_, err := m.GetInstance(ctx, key, true)
	require.NoError(t, err)
	conn, err := m.GetConnection(ctx, key)
	require.NoError(t, err)
	t.Cleanup(func() { m.ReturnConnection(key, conn) })
	return conn
}

// poolUsage reports the in-use and outstanding connections of key.
func poolUsage(t *testing.T, m *engine.Manager, key engine.Key) (inUse, outstanding int) {
	t.Helper()
	inst, err := m.GetInstance(context.Background(), key, false)
	require.NoError(t, err)
	s := inst.Stats(time.Now())
	return s.InUse, s.Outstanding
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// createDuckDBFile writes a DuckDB database with customers and orders.
func createDuckDBFile(t *testing.T, dir string) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(dir, "crm.duckdb")
	db, err := engine.OpenDuckDB(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		"CREATE TABLE customers (id INTEGER, name VARCHAR, email VARCHAR)",
		"CREATE TABLE orders (id INTEGER, customer_id INTEGER, amount DOUBLE)",
		"INSERT INTO customers VALUES (1, 'Ada', 'ada@example.com'), (2, 'Linus', 'linus@example.com')",
		"INSERT INTO orders VALUES (10, 1, 12.5), (11, 2, 7.0)",
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return path
}

type observedSchema struct {
	Workspace  string
	RelationID string
	Schema     *models.Schema
}

// recordingObserver captures emitted schemas.
type recordingObserver struct {
	mu    sync.Mutex
	calls []observedSchema
}

func (o *recordingObserver) ObserveSchema(ctx context.Context, workspace, relationID string, schema *models.Schema) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, observedSchema{Workspace: workspace, RelationID: relationID, Schema: schema})
}

func (o *recordingObserver) observed() []observedSchema {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observedSchema(nil), o.calls...)
}
