package factory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/craftd/internal/errs"
)

func TestParse(t *testing.T) {
	cases := []struct {
		dsn, driver, target string
	}{
		{"postgres://user@localhost/db", DriverPostgres, "postgres://user@localhost/db"},
		{" POSTGRESQL://u@h/db ", DriverPostgres, "POSTGRESQL://u@h/db"},
		{"sqlite://:memory:", DriverSQLite, ":memory:"},
		{"sqlite:///var/lib/craftd/craftd.db", DriverSQLite, "/var/lib/craftd/craftd.db"},
		{"file::memory:?cache=shared", DriverSQLite, "file::memory:?cache=shared"},
		{"data/craftd.db", DriverSQLite, "data/craftd.db"},
	}
	for _, tc := range cases {
		driver, target, err := Parse(tc.dsn)
		require.NoError(t, err, tc.dsn)
		assert.Equal(t, tc.driver, driver, tc.dsn)
		assert.Equal(t, tc.target, target, tc.dsn)
	}

	for _, bad := range []string{"", "   ", "sqlite://", "mysql://root@db/craftd"} {
		_, _, err := Parse(bad)
		assert.ErrorIs(t, err, errs.ErrValidation, bad)
	}
}

func TestSQLiteFile(t *testing.T) {
	assert.Equal(t, "", sqliteFile(":memory:"))
	assert.Equal(t, "", sqliteFile("file::memory:?cache=shared"))
	assert.Equal(t, "", sqliteFile("file:jobs?mode=memory&cache=shared"))
	assert.Equal(t, "/tmp/x.db", sqliteFile("file:/tmp/x.db?_pragma=busy_timeout(3000)"))
	assert.Equal(t, "a/b.db", sqliteFile("a/b.db"))
}

func TestNewFromDSN(t *testing.T) {
	// sql.Open does not connect, so no server is needed
	pg, err := NewFromDSN("postgres://user@localhost/db")
	require.NoError(t, err)
	_ = pg.Close()

	mem, err := NewFromDSN("sqlite://:memory:")
	require.NoError(t, err)
	_ = mem.Close()

	path := filepath.Join(t.TempDir(), "nested", "dir", "craftd.db")
	st, err := NewFromDSN(path)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	assert.DirExists(t, filepath.Dir(path))

	_, err = NewFromDSN("")
	assert.ErrorIs(t, err, errs.ErrValidation)
}
