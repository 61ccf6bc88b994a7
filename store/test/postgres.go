package test

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	// postgres driver
	_ "github.com/lib/pq"
)

// GetPostgresDSN returns a DSN pointing at a fresh schema in the database
// named by POSTGRES_TEST_DSN, so parallel tests never see each other's rows.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()

	base := os.Getenv("POSTGRES_TEST_DSN")
	if base == "" {
		t.Skip("POSTGRES_TEST_DSN is not set")
	}

	schema := "t_" + uuid.New().String()[:8]
	conn, err := sql.Open("postgres", base)
	if err != nil {
		t.Fatalf("failed to open postgres: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Exec("CREATE SCHEMA " + schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		cleanup, err := sql.Open("postgres", base)
		if err != nil {
			t.Logf("failed to reopen postgres: %v", err)
			return
		}
		defer cleanup.Close()
		if _, err := cleanup.ExecContext(context.Background(), "DROP SCHEMA "+schema+" CASCADE"); err != nil {
			t.Logf("failed to drop schema %s: %v", schema, err)
		}
	})

	return withSearchPath(base, schema)
}

// withSearchPath appends a search_path option to a URL or key/value DSN.
func withSearchPath(dsn, schema string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + schema
	}
	return dsn + " search_path=" + schema
}
