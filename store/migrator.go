package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

// Migration layout:
//
//   - migration/{driver}/LATEST.sql is the full schema, applied once to an
//     empty database inside a single transaction.
//   - migration/postgres/vector.sql adds the pgvector column. It runs on every
//     start and may fail when the extension is not installed; long-term memory
//     then works without vector similarity.

//go:embed migration
var migrationFS embed.FS

const (
	// LatestSchemaFileName is the name of the latest schema file.
	LatestSchemaFileName = "LATEST.sql"
	vectorSchemaFileName = "vector.sql"
)

// Migrate initializes the schema when needed and enables optional extensions.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.preMigrate(ctx); err != nil {
		return errors.Wrap(err, "failed to pre-migrate")
	}
	if s.profile.Driver == "postgres" {
		s.enableVector(ctx)
	}
	return nil
}

// preMigrate checks if the database is initialized and applies the latest schema if not.
func (s *Store) preMigrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		return nil
	}

	filePath := s.getMigrationBasePath() + LatestSchemaFileName
	bytes, err := migrationFS.ReadFile(filePath)
	if err != nil {
		return errors.Errorf("failed to read latest schema file: %s", err)
	}

	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	slog.Info("initializing new database with latest schema", slog.String("file", filePath))
	if err := s.execute(ctx, tx, string(bytes)); err != nil {
		return errors.Errorf("failed to execute SQL file %s, err %s", filePath, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	slog.Info("database initialized successfully", slog.String("driver", s.profile.Driver))
	return nil
}

// enableVector applies vector.sql in its own transaction and only warns on failure.
func (s *Store) enableVector(ctx context.Context) {
	filePath := s.getMigrationBasePath() + vectorSchemaFileName
	bytes, err := migrationFS.ReadFile(filePath)
	if err != nil {
		slog.Warn("vector schema file missing", slog.String("file", filePath), slog.String("error", err.Error()))
		return
	}

	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		slog.Warn("failed to start vector migration", slog.String("error", err.Error()))
		return
	}
	defer tx.Rollback()

	if err := s.execute(ctx, tx, string(bytes)); err != nil {
		slog.Warn("pgvector unavailable, long-term memory falls back to lexical retrieval",
			slog.String("error", err.Error()))
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Warn("failed to commit vector migration", slog.String("error", err.Error()))
	}
}

func (s *Store) getMigrationBasePath() string {
	return fmt.Sprintf("migration/%s/", s.profile.Driver)
}

// execute executes a SQL script within a transaction.
// PostgreSQL (lib/pq) gets one statement per ExecContext call.
func (s *Store) execute(ctx context.Context, tx *sql.Tx, script string) error {
	if s.profile.Driver != "postgres" {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			return errors.Wrap(err, "failed to execute statement")
		}
		return nil
	}
	for i, stmt := range splitSQL(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute statement %d: %s", i+1, stmt)
		}
	}
	return nil
}

// splitSQL splits a script on semicolons that are outside single quotes,
// dollar quotes and line comments.
func splitSQL(script string) []string {
	var (
		statements []string
		current    strings.Builder
		inQuote    bool
		dollarTag  string
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		ch := script[i]
		switch {
		case dollarTag != "":
			if strings.HasPrefix(script[i:], dollarTag) {
				current.WriteString(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
				continue
			}
		case inQuote:
			if ch == '\'' {
				inQuote = false
			}
		case ch == '\'':
			inQuote = true
		case ch == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
			continue
		case ch == '$':
			if end := strings.IndexByte(script[i+1:], '$'); end >= 0 {
				tag := script[i : i+end+2]
				if isDollarTag(tag) {
					dollarTag = tag
					current.WriteString(tag)
					i += len(tag) - 1
					continue
				}
			}
		case ch == ';':
			flush()
			continue
		}
		current.WriteByte(ch)
	}
	flush()
	return statements
}

func isDollarTag(tag string) bool {
	for _, r := range tag[1 : len(tag)-1] {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
