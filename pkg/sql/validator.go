// Package sql validates agent-supplied queries before they reach an engine
// instance.
package sql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrEmptyQuery indicates there is nothing to run after normalization.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrNotReadOnly indicates the statement could modify the instance.
	ErrNotReadOnly = errors.New("only read-only statements are permitted")
)

// StatementKind is the leading keyword class of a statement.
type StatementKind string

const (
	StatementSelect   StatementKind = "select"   // SELECT, WITH, FROM, VALUES, TABLE
	StatementDescribe StatementKind = "describe" // DESCRIBE, SHOW, SUMMARIZE, EXPLAIN
)

var statementKinds = map[string]StatementKind{
	"SELECT":    StatementSelect,
	"WITH":      StatementSelect,
	"FROM":      StatementSelect,
	"VALUES":    StatementSelect,
	"TABLE":     StatementSelect,
	"DESCRIBE":  StatementDescribe,
	"SHOW":      StatementDescribe,
	"SUMMARIZE": StatementDescribe,
	"EXPLAIN":   StatementDescribe,
}

// ValidationResult contains the normalized SQL and its statement kind.
type ValidationResult struct {
	NormalizedSQL string
	Kind          StatementKind
}

// Limitable reports whether the statement can be wrapped in an outer
// SELECT ... LIMIT.
func (r ValidationResult) Limitable() bool {
	return r.Kind == StatementSelect
}

// ValidateAndNormalize strips the trailing semicolon, rejects multiple
// statements and rejects anything but read-only statements.
func ValidateAndNormalize(sqlQuery string) (*ValidationResult, error) {
	normalized := stripTrailingSemicolon(strings.TrimSpace(sqlQuery))
	if normalized == "" {
		return nil, ErrEmptyQuery
	}

	if hasSemicolonOutsideStrings(normalized) {
		return nil, ErrMultipleStatements
	}

	keyword := leadingKeyword(normalized)
	kind, ok := statementKinds[keyword]
	if !ok {
		return nil, fmt.Errorf("%w: statement starts with %q", ErrNotReadOnly, keyword)
	}

	return &ValidationResult{NormalizedSQL: normalized, Kind: kind}, nil
}

// leadingKeyword returns the first word of the statement in upper case,
// skipping comments and opening parentheses.
func leadingKeyword(sqlQuery string) string {
	s := sqlQuery
	for {
		s = strings.TrimLeft(s, " \t\n\r(")
		switch {
		case strings.HasPrefix(s, "--"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
				continue
			}
			return ""
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = s[i+2:]
				continue
			}
			return ""
		}
		break
	}

	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_')
	})
	if end < 0 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals and quoted identifiers.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// A doubled quote ('') exits and immediately re-enters.
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace around it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimRight(strings.TrimSuffix(sqlQuery, ";"), " \t\n\r")
	}
	return sqlQuery
}

// WrapWithLimit caps a limitable statement at limit rows.
func WrapWithLimit(sqlQuery string, limit int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS limited_query LIMIT %d", sqlQuery, limit)
}
