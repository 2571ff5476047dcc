package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/meridianid/audit-ledger-backend/internal/testutil/containers"
)

// TestDB provisions a throwaway postgres container with the ledger schema
// applied from the real migration files
type TestDB struct {
	t       *testing.T
	db      *sql.DB
	connStr string
}

// NewTestDB starts a postgres container, waits for it, and applies every
// up migration. The container is torn down with the test.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	pg, err := containers.NewPostgresContainer(TestContext(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	db, err := sql.Open("postgres", pg.ConnectionString)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	require.NoError(t, db.Ping())

	tdb := &TestDB{
		t:       t,
		db:      db,
		connStr: pg.ConnectionString,
	}
	tdb.applyMigrations()
	return tdb
}

// DB returns the underlying database connection
func (tdb *TestDB) DB() *sql.DB {
	return tdb.db
}

// ConnectionString returns the DSN of the test database, for code under
// test that manages its own pool
func (tdb *TestDB) ConnectionString() string {
	return tdb.connStr
}

// TruncateTables empties all ledger tables for test isolation. The
// immutability trigger blocks deletes, so purge mode is enabled first.
func (tdb *TestDB) TruncateTables() {
	tdb.t.Helper()

	tables := []string{
		"archive_metadata",
		"offline_merge_records",
		"security_incidents",
		"chain_verification_runs",
		"chain_tips",
		"audit_events",
	}

	_, err := tdb.db.Exec("SET ledger.allow_purge = 'on'")
	require.NoError(tdb.t, err)
	for _, table := range tables {
		_, err := tdb.db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(tdb.t, err)
	}
	_, err = tdb.db.Exec("SET ledger.allow_purge = 'off'")
	require.NoError(tdb.t, err)
}

// applyMigrations runs every up migration from the migrations directory in
// lexical order
func (tdb *TestDB) applyMigrations() {
	tdb.t.Helper()

	dir := migrationsDir(tdb.t)
	entries, err := os.ReadDir(dir)
	require.NoError(tdb.t, err)

	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	require.NotEmpty(tdb.t, files, "no migration files found in %s", dir)

	for _, file := range files {
		content, err := os.ReadFile(file)
		require.NoError(tdb.t, err)
		_, err = tdb.db.Exec(string(content))
		require.NoError(tdb.t, err, "failed to apply %s", file)
	}
}

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")
}
