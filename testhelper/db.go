package testhelper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/aquamarinepk/evbus/config"
	"github.com/aquamarinepk/evbus/log"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupTestDB creates an isolated Postgres test environment for the
// optional client/persistence session store.
// In CI (when DB_HOST is set), it reuses the existing instance. Locally,
// it spins up a testcontainer for complete isolation.
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	ctx := context.Background()

	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		return setupCIDatabase(t, ctx)
	}

	return setupTestContainer(t, ctx)
}

func setupCIDatabase(t *testing.T, ctx context.Context) (*sql.DB, func()) {
	t.Helper()

	dbHost := os.Getenv("DB_HOST")
	dbPort := getEnvOrDefault("DB_PORT", "5432")
	dbUser := getEnvOrDefault("DB_USER", "postgres")
	dbPassword := getEnvOrDefault("DB_PASSWORD", "postgres")
	dbName := getEnvOrDefault("DB_NAME", "postgres")

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost, dbPort, dbUser, dbPassword, dbName,
	)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		t.Fatalf("cannot open database: %v", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Fatalf("cannot ping database: %v", err)
	}

	cleanup := func() {
		_, _ = db.ExecContext(context.Background(), "DROP TABLE IF EXISTS client_sessions")
		db.Close()
	}

	return db, cleanup
}

func setupTestContainer(t *testing.T, ctx context.Context) (*sql.DB, func()) {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatalf("cannot start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("cannot get connection string: %v", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		t.Fatalf("cannot open database: %v", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Fatalf("cannot ping database: %v", err)
	}

	cleanup := func() {
		db.Close()
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("cannot terminate container: %v", err)
		}
	}

	return db, cleanup
}

// SetupTestPersistenceConfig returns a config.PersistenceConfig pointed at
// an isolated Postgres instance for client/persistence store tests.
func SetupTestPersistenceConfig(t *testing.T) (config.PersistenceConfig, func()) {
	t.Helper()
	ctx := context.Background()

	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		return setupCIPersistenceConfig(t, ctx)
	}

	return setupTestContainerPersistenceConfig(t, ctx)
}

func setupCIPersistenceConfig(t *testing.T, ctx context.Context) (config.PersistenceConfig, func()) {
	t.Helper()

	dbHost := os.Getenv("DB_HOST")
	dbPort := 5432
	fmt.Sscanf(getEnvOrDefault("DB_PORT", "5432"), "%d", &dbPort)

	cfg := config.PersistenceConfig{
		Driver:   "postgres",
		Host:     dbHost,
		Port:     dbPort,
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		Database: getEnvOrDefault("DB_NAME", "postgres"),
		SSLMode:  "disable",
	}

	db, err := sql.Open("pgx", cfg.ConnectionString())
	if err != nil {
		t.Fatalf("cannot open database: %v", err)
	}

	cleanup := func() {
		_, _ = db.ExecContext(context.Background(), "DROP TABLE IF EXISTS client_sessions")
		db.Close()
	}

	return cfg, cleanup
}

func setupTestContainerPersistenceConfig(t *testing.T, ctx context.Context) (config.PersistenceConfig, func()) {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatalf("cannot start postgres container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("cannot get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("cannot get container port: %v", err)
	}

	cfg := config.PersistenceConfig{
		Driver:   "postgres",
		Host:     host,
		Port:     port.Int(),
		User:     "postgres",
		Password: "postgres",
		Database: "testdb",
		SSLMode:  "disable",
	}

	cleanup := func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("cannot terminate container: %v", err)
		}
	}

	return cfg, cleanup
}

// TestLogger returns a logger suitable for testing
func TestLogger() log.Logger {
	return log.NewLogger("error")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
