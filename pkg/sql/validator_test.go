package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndNormalize_ReadOnly(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
		kind  StatementKind
	}{
		{"select", "SELECT * FROM orders", "SELECT * FROM orders", StatementSelect},
		{"trailing semicolon", "SELECT 1;  \n", "SELECT 1", StatementSelect},
		{"lowercase with", "with t as (select 1) select * from t", "with t as (select 1) select * from t", StatementSelect},
		{"from first", "FROM orders LIMIT 3", "FROM orders LIMIT 3", StatementSelect},
		{"parenthesized", "(SELECT 1) UNION (SELECT 2)", "(SELECT 1) UNION (SELECT 2)", StatementSelect},
		{"leading comment", "-- top customers\nSELECT 1", "-- top customers\nSELECT 1", StatementSelect},
		{"block comment", "/* hi */ SELECT 1", "/* hi */ SELECT 1", StatementSelect},
		{"semicolon in string", "SELECT 'a;b'", "SELECT 'a;b'", StatementSelect},
		{"semicolon in identifier", `SELECT "x;y" FROM t`, `SELECT "x;y" FROM t`, StatementSelect},
		{"describe", "DESCRIBE orders", "DESCRIBE orders", StatementDescribe},
		{"summarize", "SUMMARIZE orders;", "SUMMARIZE orders", StatementDescribe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateAndNormalize(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.NormalizedSQL)
			assert.Equal(t, tt.kind, result.Kind)
		})
	}
}

func TestValidateAndNormalize_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		query string
		err   error
	}{
		{"empty", "   ", ErrEmptyQuery},
		{"only semicolon", ";", ErrEmptyQuery},
		{"two statements", "SELECT 1; SELECT 2", ErrMultipleStatements},
		{"injection tail", "SELECT 1; DROP TABLE orders;", ErrMultipleStatements},
		{"insert", "INSERT INTO orders VALUES (1)", ErrNotReadOnly},
		{"drop", "drop view orders", ErrNotReadOnly},
		{"attach", "ATTACH 'x.db' AS x", ErrNotReadOnly},
		{"copy", "COPY orders TO 'out.csv'", ErrNotReadOnly},
		{"unterminated comment", "/* SELECT 1", ErrNotReadOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateAndNormalize(tt.query)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestValidationResult_Limitable(t *testing.T) {
	assert.True(t, ValidationResult{Kind: StatementSelect}.Limitable())
	assert.False(t, ValidationResult{Kind: StatementDescribe}.Limitable())
}

func TestHasSemicolonOutsideStrings(t *testing.T) {
	assert.False(t, hasSemicolonOutsideStrings("SELECT 'it''s; fine'"))
	assert.False(t, hasSemicolonOutsideStrings(`SELECT 'a\'; b'`))
	assert.True(t, hasSemicolonOutsideStrings("SELECT 1; SELECT 2"))
}

func TestWrapWithLimit(t *testing.T) {
	assert.Equal(t, "SELECT * FROM (SELECT 1) AS limited_query LIMIT 11", WrapWithLimit("SELECT 1", 11))
}
