package sql

import (
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a parameter value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Name of the parameter that failed the check
	ParamValue  any    // The value that was checked
}

// CheckParameterForInjection uses libinjection to detect SQL injection
// patterns in a parameter value. Only strings are checked; other types
// return nil.
//
//	CheckParameterForInjection("region", "EMEA")                   // nil
//	CheckParameterForInjection("search", "'; DROP TABLE users--") // IsSQLi == true
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			ParamName:   paramName,
			ParamValue:  value,
		}
	}

	return nil
}

// CheckAllParameters returns one result per parameter that failed the
// injection check, ordered by parameter name. Empty when all are clean.
func CheckAllParameters(params map[string]any) []*InjectionCheckResult {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var results []*InjectionCheckResult
	for _, name := range names {
		if result := CheckParameterForInjection(name, params[name]); result != nil {
			results = append(results, result)
		}
	}
	return results
}
