package sql

import (
	"fmt"
	"regexp"
	"sort"
)

// parameterRegex matches {{parameter_name}} placeholders in SQL templates.
// Parameter names must start with a letter or underscore, followed by any
// number of alphanumeric characters or underscores.
var parameterRegex = regexp.MustCompile(`\{\{([a-zA-Z_]\w*)\}\}`)

// ExtractParameters finds all {{param}} placeholders in SQL and returns
// a deduplicated list of parameter names in order of first appearance.
func ExtractParameters(sqlQuery string) []string {
	matches := parameterRegex.FindAllStringSubmatch(sqlQuery, -1)
	seen := make(map[string]bool)
	var params []string

	for _, match := range matches {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			params = append(params, name)
		}
	}

	return params
}

// FindParametersInStringLiterals returns the names of {{param}} placeholders
// that appear inside single-quoted literals, where a positional placeholder
// would be read as text.
func FindParametersInStringLiterals(sqlQuery string) []string {
	var problems []string
	seen := make(map[string]bool)

	inString := false
	stringStart := 0
	for i := 0; i < len(sqlQuery); i++ {
		if sqlQuery[i] != '\'' {
			continue
		}
		if !inString {
			inString = true
			stringStart = i
			continue
		}
		if i+1 < len(sqlQuery) && sqlQuery[i+1] == '\'' {
			i++
			continue
		}
		for _, match := range parameterRegex.FindAllStringSubmatch(sqlQuery[stringStart+1:i], -1) {
			if !seen[match[1]] {
				seen[match[1]] = true
				problems = append(problems, match[1])
			}
		}
		inString = false
	}

	return problems
}

// BindParameters replaces {{param}} placeholders with DuckDB positional
// parameters ($1, $2, ...) and returns the values in binding order. A name
// used several times is bound once. Every placeholder needs a value and
// every value needs a placeholder.
//
//	BindParameters("SELECT * FROM t WHERE a = {{x}} OR b = {{x}}", map[string]any{"x": 1})
//	// "SELECT * FROM t WHERE a = $1 OR b = $1", []any{1}
func BindParameters(sqlQuery string, values map[string]any) (string, []any, error) {
	if inLiterals := FindParametersInStringLiterals(sqlQuery); len(inLiterals) > 0 {
		return "", nil, fmt.Errorf("parameter {{%s}} is inside a string literal", inLiterals[0])
	}

	names := ExtractParameters(sqlQuery)
	used := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := values[name]; !ok {
			return "", nil, fmt.Errorf("parameter {{%s}} used in SQL but not supplied", name)
		}
		used[name] = true
	}

	var unused []string
	for name := range values {
		if !used[name] {
			unused = append(unused, name)
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		return "", nil, fmt.Errorf("parameter '%s' is supplied but not used in SQL", unused[0])
	}

	positions := make(map[string]int, len(names))
	ordered := make([]any, 0, len(names))
	bound := parameterRegex.ReplaceAllStringFunc(sqlQuery, func(match string) string {
		name := parameterRegex.FindStringSubmatch(match)[1]
		pos, ok := positions[name]
		if !ok {
			ordered = append(ordered, values[name])
			pos = len(ordered)
			positions[name] = pos
		}
		return fmt.Sprintf("$%d", pos)
	})

	return bound, ordered, nil
}
