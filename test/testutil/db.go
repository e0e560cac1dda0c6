package testutil

import (
	"os"
	"testing"

	"github.com/songdex/songdex/internal/config"
	"github.com/songdex/songdex/internal/storage/postgres"
)

// OpenTestBackend connects to the postgres instance named by TEST_DB_HOST
// and skips the test when none is configured. The database needs the
// pgvector and pg_trgm extensions installed.
func OpenTestBackend(t *testing.T, dim int) (*postgres.PostgresBackend, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	b, err := postgres.Open(config.PostgresConfig{
		Host:     host,
		Port:     5432,
		User:     "songdex",
		Password: "songdex_pass",
		DBName:   "songdex_test",
		SSLMode:  "disable",
		MaxConns: 4,
	}, dim)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	return b, func() {
		_ = b.Close()
	}
}
