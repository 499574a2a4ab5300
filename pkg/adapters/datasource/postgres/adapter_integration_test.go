package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-analyst/pkg/testhelpers"
)

func TestAdapter_TestConnection_Integration(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)

	cfg, err := FromMap(testDB.Config())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, NewAdapter(cfg).TestConnection(ctx))

	bad := *cfg
	bad.Password = "wrong"
	assert.Error(t, NewAdapter(&bad).TestConnection(ctx))
}
