package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

func TestListAvailable_ClassifiesCatalog(t *testing.T) {
	workspace := t.TempDir()
	dbPath := createDuckDBFile(t, workspace)

	m := newTestEngine(t, engine.ManagerConfig{})
	conn := borrow(t, m, engine.Key{Workspace: workspace, ConversationID: "c1"})
	ctx := context.Background()
	for _, stmt := range []string{
		"CREATE TABLE orders (id INTEGER)",
		"CREATE VIEW orders_view AS SELECT * FROM orders",
		"CREATE SCHEMA staging",
		"CREATE TABLE staging.raw_orders (id INTEGER)",
		"ATTACH " + engine.QuoteLiteral(dbPath) + " AS ds_7 (READ_ONLY)",
	} {
		_, err := conn.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	sheets, err := ListAvailable(ctx, conn, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, []models.SheetInfo{
		{Name: "customers", Type: models.SheetTypeAttachedTable, Database: "ds_7", Schema: "main", FullPath: "ds_7.main.customers"},
		{Name: "orders", Type: models.SheetTypeAttachedTable, Database: "ds_7", Schema: "main", FullPath: "ds_7.main.orders"},
		{Name: "orders", Type: models.SheetTypeTable},
		{Name: "orders_view", Type: models.SheetTypeView},
		{Name: "raw_orders", Type: models.SheetTypeAttachedTable, Schema: "staging", FullPath: "staging.raw_orders"},
	}, sheets)
}

func TestListAvailable_IntrospectionFailureDefaultsToView(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM duckdb_tables()")).
		WillReturnRows(sqlmock.NewRows([]string{"path"}).
			AddRow("ds_7.public.orders").
			AddRow("orders_view").
			AddRow("summary").
			AddRow("ds_7.analytics.q.2024"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.tables")).
		WithArgs("orders_view").
		WillReturnError(errors.New("catalog unavailable"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.tables")).
		WithArgs("summary").
		WillReturnRows(sqlmock.NewRows([]string{"table_type"}).AddRow("BASE TABLE"))

	sheets, err := ListAvailable(context.Background(), db, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []models.SheetInfo{
		{Name: "orders", Type: models.SheetTypeAttachedTable, Database: "ds_7", Schema: "public", FullPath: "ds_7.public.orders"},
		{Name: "orders_view", Type: models.SheetTypeView},
		{Name: "summary", Type: models.SheetTypeTable},
		{Name: "q.2024", Type: models.SheetTypeAttachedTable, Database: "ds_7", Schema: "analytics", FullPath: "ds_7.analytics.q.2024"},
	}, sheets)
}

func TestListAvailable_UnknownRelationDefaultsToView(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM duckdb_tables()")).
		WillReturnRows(sqlmock.NewRows([]string{"path"}).AddRow("vanished"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.tables")).
		WithArgs("vanished").
		WillReturnRows(sqlmock.NewRows([]string{"table_type"}))

	sheets, err := ListAvailable(context.Background(), db, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []models.SheetInfo{{Name: "vanished", Type: models.SheetTypeView}}, sheets)
}

func TestListAvailable_EnumerationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM duckdb_tables()")).WillReturnError(errors.New("boom"))

	_, err = ListAvailable(context.Background(), db, zap.NewNop())
	assert.ErrorIs(t, err, apperrors.ErrIntrospectionFailed)
}

func TestListAvailableSheets_ReturnsConnection(t *testing.T) {
	workspace := t.TempDir()
	writeFile(t, workspace, "sales.csv", salesCSV)

	m := newTestEngine(t, engine.ManagerConfig{PoolMaxConns: 1})
	key := engine.Key{Workspace: workspace, ConversationID: "c1"}

	svc := NewListingService(m, zaptest.NewLogger(t))
	empty, err := svc.ListAvailableSheets(context.Background(), ListRequest{ConversationID: "c1", Workspace: workspace})
	require.NoError(t, err)
	assert.Zero(t, empty.Count)
	assert.NotNil(t, empty.Sheets)

	conn, err := m.GetConnection(context.Background(), key)
	require.NoError(t, err)
	_, err = NewViewMaterializer(nil, nil, zaptest.NewLogger(t)).Materialize(context.Background(), conn,
		&models.Datasource{ID: "s", Name: "sales", Type: models.DatasourceTypeCSV, Config: map[string]any{"path": "sales.csv"}})
	m.ReturnConnection(key, conn)
	require.NoError(t, err)

	result, err := svc.ListAvailableSheets(context.Background(), ListRequest{ConversationID: "c1", Workspace: workspace})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, []models.SheetInfo{{Name: "sales", Type: models.SheetTypeView}}, result.Sheets)

	inUse, outstanding := poolUsage(t, m, key)
	assert.Zero(t, inUse)
	assert.Zero(t, outstanding)
}
