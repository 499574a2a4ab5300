package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{"host": "db", "user": "root", "database": "shop", "port": float64(3307)})
	require.NoError(t, err)
	assert.Equal(t, 3307, cfg.Port)

	cfg, err = FromMap(map[string]any{"host": "db", "user": "root", "database": "shop"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPort(), cfg.Port)

	_, err = FromMap(map[string]any{"host": "db", "user": "root"})
	assert.ErrorContains(t, err, "database is required")
}

func TestAdapter_AttachTargetAndDSN(t *testing.T) {
	adapter := &Adapter{
		config: &Config{Host: "db", Port: 3306, User: "root", Password: "s3cret", Database: "shop"},
		host:   "db",
	}

	assert.Equal(t, "mysql", adapter.Extension())
	assert.Equal(t, "MYSQL", adapter.AttachType())
	assert.Equal(t, "host=db port=3306 user=root database=shop password=s3cret", adapter.AttachTarget())

	dsn := adapter.driverConfig().FormatDSN()
	assert.Contains(t, dsn, "root:s3cret@tcp(db:3306)/shop")
}

func TestRegistered(t *testing.T) {
	_, ok := datasource.Lookup(models.DatasourceTypeMySQL)
	assert.True(t, ok)
}

func TestAdapter_TestConnectionUnreachable(t *testing.T) {
	adapter := NewAdapter(&Config{Host: "127.0.0.1", Port: 1, User: "root", Database: "x"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.Error(t, adapter.TestConnection(ctx))
}
