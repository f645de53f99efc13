package factory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/store"
	pg "github.com/loykin/craftd/internal/store/postgres"
	sq "github.com/loykin/craftd/internal/store/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Parse reports which driver serves dsn and the DSN that driver expects.
//
//	postgres://... | postgresql://...  postgres
//	sqlite://<path> | file:<path> | <path>  sqlite
func Parse(dsn string) (driver, target string, err error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case d == "":
		return "", "", errs.Validation("store dsn is empty")
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return DriverPostgres, d, nil
	case strings.HasPrefix(ld, "sqlite://"):
		d = d[len("sqlite://"):]
	case strings.Contains(ld, "://"):
		return "", "", errs.Validation("store dsn %q: unsupported scheme", dsn)
	}
	if d == "" {
		return "", "", errs.Validation("store dsn %q: missing sqlite path", dsn)
	}
	return DriverSQLite, d, nil
}

// NewFromDSN opens the store dsn names. For a sqlite file the parent
// directory is created first.
func NewFromDSN(dsn string) (store.Store, error) {
	driver, target, err := Parse(dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverPostgres {
		return pg.New(target)
	}
	if p := sqliteFile(target); p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return sq.New(target)
}

// sqliteFile returns the on-disk path of target, or "" for in-memory databases.
func sqliteFile(target string) string {
	p := strings.TrimPrefix(target, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == ":memory:" || strings.Contains(target, "mode=memory") {
		return ""
	}
	return p
}
