package datasource

import "context"

// ConnectionTester tests database connectivity.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid credentials.
	// Returns nil if connection is healthy, error otherwise.
	TestConnection(ctx context.Context) error
}

// ForeignAdapter describes how one kind of external database is attached
// to a DuckDB instance by reference.
type ForeignAdapter interface {
	ConnectionTester

	// Extension is the DuckDB extension that provides the attach type, or
	// "" when the engine supports the format natively.
	Extension() string

	// AttachType is the TYPE option of the ATTACH statement, or "" for a
	// DuckDB database file.
	AttachType() string

	// AttachTarget is the connection string or path passed to ATTACH.
	// It may contain credentials and must be sanitized before logging.
	AttachTarget() string
}
