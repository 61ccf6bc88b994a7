package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/groupmind/internal/profile"
	"github.com/hrygo/groupmind/store"
	"github.com/hrygo/groupmind/store/db/postgres"
	"github.com/hrygo/groupmind/store/db/sqlite"
)

// Supported drivers:
//
//   - postgres: production. Vector similarity needs the pgvector extension.
//   - sqlite: development and single node. Vectors are compared in Go.

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
