package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
	"github.com/ekaya-inc/ekaya-analyst/pkg/repositories"
)

func TestExtractDatasourceSchema_AttachesAndObserves(t *testing.T) {
	workspace := t.TempDir()
	dbPath := createDuckDBFile(t, workspace)
	repo := repositories.NewMemoryDatasourceRepository(
		&models.Datasource{ID: "crm", Name: "CRM", Type: models.DatasourceTypeDuckDB, Config: map[string]any{"path": dbPath}},
	)

	m := newTestEngine(t, engine.ManagerConfig{PoolMaxConns: 1})
	observer := &recordingObserver{}
	attacher := NewForeignAttacher(testForeignConfig(), observer, zaptest.NewLogger(t))
	svc := NewSchemaExtractionService(m, repo, attacher, zaptest.NewLogger(t))

	key := engine.Key{Workspace: workspace, ConversationID: "c1"}
	res, err := svc.ExtractDatasourceSchema(context.Background(), ExtractSchemaRequest{
		ConversationID: key.ConversationID,
		Workspace:      key.Workspace,
		DatasourceID:   "crm",
	})
	require.NoError(t, err)
	assert.Equal(t, "ds_crm", res.Alias)
	assert.Len(t, res.Tables, 2)
	require.Len(t, observer.observed(), 1)

	inUse, outstanding := poolUsage(t, m, key)
	assert.Zero(t, inUse)
	assert.Zero(t, outstanding)
}

func TestExtractDatasourceSchema_Rejections(t *testing.T) {
	repo := repositories.NewMemoryDatasourceRepository(
		&models.Datasource{ID: "sales", Name: "Sales", Type: models.DatasourceTypeCSV, Config: map[string]any{"path": "sales.csv"}},
	)
	m := newTestEngine(t, engine.ManagerConfig{})
	svc := NewSchemaExtractionService(m, repo, &mockAttacher{}, zaptest.NewLogger(t))
	workspace := t.TempDir()

	_, err := svc.ExtractDatasourceSchema(context.Background(), ExtractSchemaRequest{
		ConversationID: "c1", Workspace: workspace, DatasourceID: "sales",
	})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedDatasource)

	_, err = svc.ExtractDatasourceSchema(context.Background(), ExtractSchemaRequest{
		ConversationID: "c1", Workspace: workspace, DatasourceID: "missing",
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
