package test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hrygo/groupmind/internal/profile"
	"github.com/hrygo/groupmind/store"
	"github.com/hrygo/groupmind/store/db"
)

// NewTestingStore opens a migrated store for the driver selected by
// GROUPMIND_TEST_DRIVER (sqlite by default). Postgres reads its DSN from
// POSTGRES_TEST_DSN and the test is skipped when it is not set.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	p := getTestingProfile(t)
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(dbDriver, p)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("failed to close store: %v", err)
		}
	})
	return s
}

func getTestingProfile(t *testing.T) *profile.Profile {
	driver := getDriverFromEnv()
	p := &profile.Profile{
		Mode:                  "dev",
		Driver:                driver,
		ContextMaxTokens:      128000,
		ContextThresholdRatio: 0.8,
	}

	switch driver {
	case "postgres":
		p.DSN = GetPostgresDSN(t)
	default:
		p.Data = t.TempDir()
		p.DSN = filepath.Join(p.Data, "groupmind_test.db")
	}
	return p
}

func getDriverFromEnv() string {
	driver := os.Getenv("GROUPMIND_TEST_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}
