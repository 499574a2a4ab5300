package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractParameters(t *testing.T) {
	assert.Equal(t,
		[]string{"user_id", "min_total"},
		ExtractParameters("SELECT * FROM t WHERE a = {{user_id}} AND b > {{min_total}} OR c = {{user_id}}"))
	assert.Nil(t, ExtractParameters("SELECT 1"))
	assert.Nil(t, ExtractParameters("SELECT {{1bad}}, { {x} }"))
}

func TestFindParametersInStringLiterals(t *testing.T) {
	assert.Equal(t, []string{"name"}, FindParametersInStringLiterals("SELECT 'Hello {{name}}' FROM users"))
	assert.Empty(t, FindParametersInStringLiterals("SELECT * FROM users WHERE name = {{name}}"))
	assert.Empty(t, FindParametersInStringLiterals("SELECT 'it''s' , {{name}}"))
}

func TestBindParameters(t *testing.T) {
	bound, values, err := BindParameters(
		"SELECT * FROM orders WHERE customer = {{customer}} AND total > {{min_total}} OR referrer = {{customer}}",
		map[string]any{"customer": "c-1", "min_total": 10.5},
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders WHERE customer = $1 AND total > $2 OR referrer = $1", bound)
	assert.Equal(t, []any{"c-1", 10.5}, values)
}

func TestBindParameters_NoParameters(t *testing.T) {
	bound, values, err := BindParameters("SELECT 1", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", bound)
	assert.Empty(t, values)
}

func TestBindParameters_Errors(t *testing.T) {
	_, _, err := BindParameters("SELECT {{a}}", map[string]any{})
	assert.ErrorContains(t, err, "{{a}} used in SQL but not supplied")

	_, _, err = BindParameters("SELECT {{a}}", map[string]any{"a": 1, "b": 2})
	assert.ErrorContains(t, err, "'b' is supplied but not used")

	_, _, err = BindParameters("SELECT '{{a}}'", map[string]any{"a": 1})
	assert.ErrorContains(t, err, "inside a string literal")
}
