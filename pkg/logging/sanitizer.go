package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength is the maximum length of a query to log
	MaxQueryLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// key=value credentials in libpq-style ATTACH targets. Quoted values may contain spaces.
	passwordPattern = regexp.MustCompile(`(?i)\b(password|passwd|pwd|pass)\s*=\s*('[^']*'|"[^"]*"|[^;&\s']+)`)

	// user:pass@ in URLs (postgresql://, mysql://, https://)
	urlCredentialsPattern = regexp.MustCompile(`://[^/\s:@]+:[^\s]*@([^/\s@?]+)`)

	// user:pass@tcp(host:port) in go-sql-driver/mysql DSNs
	mysqlDSNPattern = regexp.MustCompile(`^[^:@/\s]+:[^\s]*@(tcp|unix)\(`)

	// access tokens carried in export URLs or error messages
	tokenPattern = regexp.MustCompile(`(?i)\b(access_token|token|api[_-]?key|key)=[A-Za-z0-9._\-]{16,}`)
)

// SanitizeConnectionString removes credentials from a connection string,
// ATTACH target, or DSN before it is logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = urlCredentialsPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@${1}")
	sanitized = mysqlDSNPattern.ReplaceAllString(sanitized, RedactedText+"@${1}(")
	sanitized = tokenPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	return sanitized
}

// SanitizeError sanitizes an error message that may echo a connection
// string back, as DuckDB does for failed ATTACH statements.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeConnectionString(err.Error())
}

// SanitizeQuery truncates and sanitizes a SQL statement for logging.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	return SanitizeConnectionString(TruncateString(query, MaxQueryLogLength))
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
