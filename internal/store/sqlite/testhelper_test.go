package sqlite

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/jrsteele09/go-auth-lifecycle/vault"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory database with migrations applied. The
// database name is derived from the test name so parallel tests stay isolated.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		url.PathEscape(t.Name()),
	)
	db, err := open(dsn, ":memory:")
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db.Writer))

	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func testSealer(t *testing.T) *vault.Sealer {
	t.Helper()

	key, err := vault.GenerateKey()
	require.NoError(t, err)
	return vault.NewSealer(vault.New(), key)
}
