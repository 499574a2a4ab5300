package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ekaya-inc/ekaya-analyst/pkg/retry"
)

// PostgresImage is the image used for foreign-datasource integration tests.
const PostgresImage = "postgres:16-alpine"

// TestDB holds a shared PostgreSQL container acting as a foreign datasource.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
	Host      string
	Port      int
	User      string
	Password  string
	Database  string
}

// Config returns the datasource config map for this database, in the shape
// stored in the datasource catalog.
func (db *TestDB) Config() map[string]any {
	return map[string]any{
		"host":     db.Host,
		"port":     db.Port,
		"user":     db.User,
		"password": db.Password,
		"database": db.Database,
		"ssl_mode": "disable",
	}
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests,
// seeded with a small customers/orders schema. The container is created
// once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

const seedSQL = `
CREATE TABLE IF NOT EXISTS customers (id BIGINT PRIMARY KEY, name TEXT, email TEXT);
CREATE TABLE IF NOT EXISTS orders (id BIGINT PRIMARY KEY, customer_id BIGINT REFERENCES customers(id), amount NUMERIC(10,2));
INSERT INTO customers VALUES (1, 'Ada', 'ada@example.com'), (2, 'Grace', 'grace@example.com') ON CONFLICT DO NOTHING;
INSERT INTO orders VALUES (10, 1, 12.50), (11, 2, 99.00) ON CONFLICT DO NOTHING;
`

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "test_data",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/test_data?sslmode=disable",
		host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCfg := &retry.Config{MaxRetries: 10, InitialDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 1.5}
	if err := retry.Do(ctx, pingCfg, func() error { return pool.Ping(ctx) }); err != nil {
		return nil, fmt.Errorf("test database not reachable: %w", err)
	}

	if _, err := pool.Exec(ctx, seedSQL); err != nil {
		return nil, fmt.Errorf("failed to seed test database: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
		Host:      host,
		Port:      port.Int(),
		User:      "ekaya",
		Password:  "test_password",
		Database:  "test_data",
	}, nil
}
