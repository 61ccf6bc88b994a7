package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSQL(t *testing.T) {
	t.Run("statements and comments", func(t *testing.T) {
		stmts := splitSQL(`
-- first table
CREATE TABLE a (id TEXT); -- trailing
CREATE TABLE b (note TEXT DEFAULT 'x;y');
`)
		require.Len(t, stmts, 2)
		assert.Equal(t, "CREATE TABLE a (id TEXT)", stmts[0])
		assert.Contains(t, stmts[1], "'x;y'")
	})

	t.Run("dollar quoted body", func(t *testing.T) {
		stmts := splitSQL(`CREATE FUNCTION f() RETURNS void AS $$ BEGIN PERFORM 1; END; $$ LANGUAGE plpgsql;
SELECT 1;`)
		require.Len(t, stmts, 2)
		assert.Contains(t, stmts[0], "PERFORM 1; END;")
	})

	t.Run("embedded schemas exist", func(t *testing.T) {
		for _, path := range []string{
			"migration/postgres/LATEST.sql",
			"migration/postgres/vector.sql",
			"migration/sqlite/LATEST.sql",
		} {
			data, err := migrationFS.ReadFile(path)
			require.NoError(t, err, path)
			assert.NotEmpty(t, splitSQL(string(data)), path)
		}
	})
}
