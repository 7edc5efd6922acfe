// Package dialect provides the database backend abstraction for strata.
//
// It defines the dialect constants and the Driver/Tx/ExecQuerier
// interfaces that the query engine, the connection pool and the
// transaction manager execute against. Backend-specific behavior lives
// in dialect/sql; everything above it talks to these interfaces only.
package dialect

import (
	"context"
	"fmt"
	"log/slog"
)

// Supported dialects.
const (
	// SQLite is the sqlite dialect.
	SQLite = "sqlite"
	// Postgres is the postgres dialect.
	Postgres = "postgres"
	// MySQL is the mysql dialect.
	MySQL = "mysql"
)

// ExecQuerier wraps the two standard database operations used by the
// engine: Exec for statements that report affected rows, and Query for
// statements that return rows.
type ExecQuerier interface {
	// Exec executes a statement that does not return rows. The args
	// argument is expected to be a []any and v an optional *sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a statement that returns rows. The args argument
	// is expected to be a []any and v a *sql.Rows wrapper.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all database operations.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	// The provided context is used until the transaction is committed or rolled back.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps transactional operations.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

type nopTx struct {
	Driver
}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

// NopTx returns a Tx with a no-op Commit / Rollback operations.
func NopTx(d Driver) Tx {
	return nopTx{d}
}

// DebugDriver is a driver that logs all driver operations.
type DebugDriver struct {
	Driver                               // underlying driver.
	log    func(context.Context, ...any) // log function. defaults to slog.
}

// Debug gets a driver and an optional logging function, and returns
// a new debugged-driver that prints all outgoing operations.
func Debug(d Driver, logger ...func(context.Context, ...any)) Driver {
	logf := func(ctx context.Context, v ...any) {
		slog.InfoContext(ctx, fmt.Sprint(v...))
	}
	if len(logger) == 1 {
		logf = logger[0]
	}
	return &DebugDriver{d, logf}
}

// Exec logs its params and calls the underlying driver Exec method.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log(ctx, fmt.Sprintf("driver.Exec: query=%v args=%v", query, args))
	return d.Driver.Exec(ctx, query, args, v)
}

// Query logs its params and calls the underlying driver Query method.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log(ctx, fmt.Sprintf("driver.Query: query=%v args=%v", query, args))
	return d.Driver.Query(ctx, query, args, v)
}

// Tx adds an log-id for the transaction and calls the underlying driver Tx command.
func (d *DebugDriver) Tx(ctx context.Context) (Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	d.log(ctx, "driver.Tx: started")
	return &DebugTx{tx, d.log, ctx}, nil
}

// DebugTx is a transaction implementation that logs all transaction operations.
type DebugTx struct {
	Tx                                // underlying transaction.
	log func(context.Context, ...any) // log function. defaults to slog.
	ctx context.Context               // underlying transaction context.
}

// Exec logs its params and calls the underlying transaction Exec method.
func (d *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	d.log(ctx, fmt.Sprintf("Tx.Exec: query=%v args=%v", query, args))
	return d.Tx.Exec(ctx, query, args, v)
}

// Query logs its params and calls the underlying transaction Query method.
func (d *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	d.log(ctx, fmt.Sprintf("Tx.Query: query=%v args=%v", query, args))
	return d.Tx.Query(ctx, query, args, v)
}

// Commit logs this step and calls the underlying transaction Commit method.
func (d *DebugTx) Commit() error {
	d.log(d.ctx, "Tx.Commit")
	return d.Tx.Commit()
}

// Rollback logs this step and calls the underlying transaction Rollback method.
func (d *DebugTx) Rollback() error {
	d.log(d.ctx, "Tx.Rollback")
	return d.Tx.Rollback()
}
