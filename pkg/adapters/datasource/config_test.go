package datasource

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

func TestDecodeConfig_WeakTypes(t *testing.T) {
	var cfg struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	}

	require.NoError(t, DecodeConfig(map[string]any{"host": "db", "port": float64(5433)}, &cfg))
	assert.Equal(t, "db", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)

	require.NoError(t, DecodeConfig(map[string]any{"port": "6543"}, &cfg))
	assert.Equal(t, 6543, cfg.Port)
}

func TestKeywordValue(t *testing.T) {
	assert.Equal(t, "host=localhost", KeywordValue("host", "localhost"))
	assert.Equal(t, "password=''", KeywordValue("password", ""))
	assert.Equal(t, `password='it\'s secret'`, KeywordValue("password", "it's secret"))
	assert.Equal(t, `password='a\\b'`, KeywordValue("password", `a\b`))
}

type stubAdapter struct{ ConnectionTester }

func (stubAdapter) Extension() string    { return "" }
func (stubAdapter) AttachType() string   { return "" }
func (stubAdapter) AttachTarget() string { return "" }

func TestRegistry(t *testing.T) {
	const testType models.DatasourceType = "registry-test"
	Register(testType, func(config map[string]any) (ForeignAdapter, error) {
		return stubAdapter{}, nil
	})

	factory, ok := Lookup(testType)
	require.True(t, ok)
	adapter, err := factory(nil)
	require.NoError(t, err)
	assert.Equal(t, stubAdapter{}, adapter)

	_, ok = Lookup("unknown")
	assert.False(t, ok)
	assert.Contains(t, Types(), testType)
	assert.True(t, slices.IsSorted(Types()))
}
