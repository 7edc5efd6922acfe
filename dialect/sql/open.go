package sql

import (
	"database/sql"

	// Drivers registered for the dialects this module supports.
	_ "github.com/go-sql-driver/mysql"  // mysql
	_ "github.com/jackc/pgx/v5/stdlib" // pgx
	_ "github.com/lib/pq"              // postgres
	_ "modernc.org/sqlite"             // sqlite

	"github.com/syssam/strata/dialect"
)

// OpenSQLite opens a sqlite database (modernc.org/sqlite, cgo-free).
// Use ":memory:" or "file::memory:?cache=shared" for an in-memory
// database.
func OpenSQLite(source string) (*Driver, error) {
	return Open(dialect.SQLite, source)
}

// OpenPostgres opens a postgres database through the pgx stdlib
// adapter.
func OpenPostgres(source string) (*Driver, error) {
	db, err := sql.Open("pgx", source)
	if err != nil {
		return nil, err
	}
	return NewDriver(dialect.Postgres, Conn{db, dialect.Postgres}), nil
}

// OpenPostgresPQ opens a postgres database through the lib/pq driver.
func OpenPostgresPQ(source string) (*Driver, error) {
	db, err := sql.Open("postgres", source)
	if err != nil {
		return nil, err
	}
	return NewDriver(dialect.Postgres, Conn{db, dialect.Postgres}), nil
}

// OpenMySQL opens a mysql database.
func OpenMySQL(source string) (*Driver, error) {
	return Open(dialect.MySQL, source)
}
