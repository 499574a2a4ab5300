package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
	"github.com/ekaya-inc/ekaya-analyst/pkg/repositories"
)

// failingRepository fails every fetch.
type failingRepository struct {
	repositories.DatasourceRepository
	err error
}

func (r *failingRepository) FetchByIDs(ctx context.Context, ids []string) ([]*models.Datasource, error) {
	return nil, r.err
}

func TestLoadDatasources_PreservesOrderAndReportsUnknown(t *testing.T) {
	repo := repositories.NewMemoryDatasourceRepository(
		&models.Datasource{ID: "a", Name: "A", Type: models.DatasourceTypeCSV},
		&models.Datasource{ID: "b", Name: "B", Type: models.DatasourceTypePostgres},
	)

	loaded := LoadDatasources(context.Background(), []string{"b", "missing", "a"}, repo)

	require.Len(t, loaded, 3)
	assert.Equal(t, "b", loaded[0].ID)
	assert.Equal(t, "B", loaded[0].Name())
	assert.NoError(t, loaded[0].Err)

	assert.Equal(t, "missing", loaded[1].ID)
	assert.Nil(t, loaded[1].Datasource)
	assert.Equal(t, "", loaded[1].Name())
	assert.ErrorIs(t, loaded[1].Err, apperrors.ErrNotFound)

	assert.Equal(t, "a", loaded[2].ID)
	assert.Equal(t, models.DatasourceTypeCSV, loaded[2].Datasource.Type)
}

func TestLoadDatasources_RepositoryFailureRecordedPerID(t *testing.T) {
	repoErr := errors.New("catalog unreadable")
	loaded := LoadDatasources(context.Background(), []string{"a", "b"}, &failingRepository{err: repoErr})

	require.Len(t, loaded, 2)
	for _, l := range loaded {
		assert.ErrorIs(t, l.Err, repoErr)
		assert.Nil(t, l.Datasource)
	}
}

func TestLoadDatasources_Empty(t *testing.T) {
	loaded := LoadDatasources(context.Background(), nil, &failingRepository{err: errors.New("unused")})
	assert.Empty(t, loaded)
}

func TestGroupByType(t *testing.T) {
	notFound := errors.New("nope")
	loaded := []LoadedDatasource{
		{ID: "csv", Datasource: &models.Datasource{ID: "csv", Type: models.DatasourceTypeCSV}},
		{ID: "pg", Datasource: &models.Datasource{ID: "pg", Type: models.DatasourceTypePostgres}},
		{ID: "gone", Err: notFound},
		{ID: "xlsx", Datasource: &models.Datasource{ID: "xlsx", Type: models.DatasourceTypeXLSX}},
		{ID: "odd", Datasource: &models.Datasource{ID: "odd", Type: "oracle"}},
		{ID: "db", Datasource: &models.Datasource{ID: "db", Type: models.DatasourceTypeDuckDB}},
	}

	g := GroupByType(loaded)

	ids := func(ls []LoadedDatasource) []string {
		out := make([]string, len(ls))
		for i, l := range ls {
			out[i] = l.ID
		}
		return out
	}
	assert.Equal(t, []string{"csv", "xlsx"}, ids(g.Native))
	assert.Equal(t, []string{"pg", "db"}, ids(g.Foreign))
	assert.Equal(t, []string{"gone", "odd"}, ids(g.Failed))
	assert.ErrorIs(t, g.Failed[0].Err, notFound)
	assert.ErrorIs(t, g.Failed[1].Err, apperrors.ErrUnsupportedDatasource)

	// The input is not modified.
	assert.NoError(t, loaded[4].Err)
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "q3_sales_report", viewBaseName(&models.Datasource{ID: "x", Name: "Q3 Sales-Report!"}))
	assert.Equal(t, "ds_abc123", viewBaseName(&models.Datasource{ID: "abc123", Name: "  "}))
	assert.Equal(t, "ds_2024", viewBaseName(&models.Datasource{ID: "2024", Name: "2024 budget"}))
	assert.Equal(t, "550e8400", shortID("550e8400-e29b-41d4-a716-446655440000"))
	assert.Equal(t, "ds_550e8400_e29b", AliasFor("550E8400-e29b"))
	assert.Equal(t, "ds_x", AliasFor("--"))
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/ws/data/a.csv", resolvePath("/ws", "data/a.csv"))
	assert.Equal(t, "/abs/a.csv", resolvePath("/ws", "/abs/a.csv"))
	assert.Equal(t, "s3://bucket/a.csv", resolvePath("/ws", "s3://bucket/a.csv"))
	assert.Equal(t, "", resolvePath("/ws", ""))
}

func TestSelectDatasourceIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, selectDatasourceIDs([]string{"a", "b", "a", "", "c"}, nil))
	assert.Equal(t, []string{"c", "a"}, selectDatasourceIDs([]string{"c", "b", "a"}, []string{"a", "c", "z"}))
	assert.Empty(t, selectDatasourceIDs([]string{"a"}, []string{}))
}
