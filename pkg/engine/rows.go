package engine

import (
	"database/sql"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

// ScanRows reads at most limit rows into tagged values. Truncated is set
// when more rows were available. limit <= 0 reads everything.
func ScanRows(rows *sql.Rows, limit int) (*models.QueryResult, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	result := &models.QueryResult{
		Columns: make([]models.QueryColumn, len(columnTypes)),
		Rows:    []map[string]models.Value{},
	}
	for i, ct := range columnTypes {
		result.Columns[i] = models.QueryColumn{
			Name:         ct.Name(),
			DatabaseType: ct.DatabaseTypeName(),
			Kind:         models.KindForDatabaseType(ct.DatabaseTypeName()),
		}
	}

	values := make([]any, len(columnTypes))
	pointers := make([]any, len(columnTypes))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if limit > 0 && len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]models.Value, len(columnTypes))
		for i, col := range result.Columns {
			row[col.Name] = ConvertValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// ConvertValue maps a value scanned from the DuckDB driver onto a tagged
// value. Nested values (lists, structs, maps) become text.
func ConvertValue(v any) models.Value {
	switch x := v.(type) {
	case nil:
		return models.NullValue()
	case int:
		return models.IntegerValue(int64(x))
	case int8:
		return models.IntegerValue(int64(x))
	case int16:
		return models.IntegerValue(int64(x))
	case int32:
		return models.IntegerValue(int64(x))
	case int64:
		return models.IntegerValue(x)
	case uint8:
		return models.IntegerValue(int64(x))
	case uint16:
		return models.IntegerValue(int64(x))
	case uint32:
		return models.IntegerValue(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return models.TextValue(fmt.Sprint(x))
		}
		return models.IntegerValue(int64(x))
	case float32:
		return models.FloatValue(float64(x))
	case float64:
		return models.FloatValue(x)
	case bool:
		return models.BooleanValue(x)
	case string:
		return models.TextValue(x)
	case []byte:
		return models.TextValue(string(x))
	case time.Time:
		return models.DateValue(x)
	case *big.Int:
		if x == nil {
			return models.NullValue()
		}
		if x.IsInt64() {
			return models.IntegerValue(x.Int64())
		}
		return models.TextValue(x.String())
	case duckdb.Decimal:
		return models.FloatValue(decimalToFloat(x))
	case fmt.Stringer:
		return models.TextValue(x.String())
	}
	return models.TextValue(fmt.Sprint(v))
}

func decimalToFloat(d duckdb.Decimal) float64 {
	if d.Value == nil {
		return 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Scale)), nil)
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(d.Value), new(big.Float).SetInt(scale)).Float64()
	return f
}
