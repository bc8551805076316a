package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens the SQLite database behind the given URL with foreign keys on.
// Accepted forms: "file:path.db", a bare path, or ":memory:".
func Open(url string) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("empty database url")
	}
	dsn := url
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		dsn = "file:" + dsn
	}
	if !strings.Contains(dsn, "_pragma") && dsn != ":memory:" {
		dsn = fmt.Sprintf("%s?cache=shared&_pragma=foreign_keys(1)", dsn)
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Row identity partitioning keeps writers disjoint; a single connection
	// avoids SQLITE_BUSY between them.
	conn.SetMaxOpenConns(1)
	return conn, nil
}
