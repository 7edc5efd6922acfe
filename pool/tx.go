package pool

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"github.com/syssam/strata/dialect"
	strsql "github.com/syssam/strata/dialect/sql"
)

// Tx is a transaction bound to one pooled connection. It implements
// dialect.Tx and adds savepoint management on top.
//
// A Tx is not safe for concurrent use; serialize access the same way
// you would with database/sql.Tx.
type Tx struct {
	conn *Conn
	tx   *sql.Tx

	mu         sync.Mutex
	done       bool
	savepoints []string
	autoSeq    int
}

// BeginTx starts a transaction on a pooled connection with the given
// options. The connection returns to the pool when the transaction
// commits or rolls back.
func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.conn.BeginTx(ctx, opts)
	if err != nil {
		conn.Release()
		return nil, err
	}
	return &Tx{conn: conn, tx: tx}, nil
}

// Tx implements dialect.Driver.
func (p *Pool) Tx(ctx context.Context) (dialect.Tx, error) {
	return p.BeginTx(ctx, nil)
}

// Exec implements dialect.ExecQuerier within the transaction.
func (tx *Tx) Exec(ctx context.Context, query string, args, v any) error {
	return strsql.Conn{ExecQuerier: tx.tx}.Exec(ctx, query, args, v)
}

// Query implements dialect.ExecQuerier within the transaction.
func (tx *Tx) Query(ctx context.Context, query string, args, v any) error {
	return strsql.Conn{ExecQuerier: tx.tx}.Query(ctx, query, args, v)
}

// Commit commits the transaction and returns the connection to the
// pool.
func (tx *Tx) Commit() error {
	return tx.finish((*sql.Tx).Commit)
}

// Rollback rolls the transaction back and returns the connection to
// the pool.
func (tx *Tx) Rollback() error {
	return tx.finish((*sql.Tx).Rollback)
}

// Close rolls the transaction back unless it was already completed.
// It is safe to defer unconditionally.
func (tx *Tx) Close() error {
	if err := tx.Rollback(); err != nil && err != ErrTxDone {
		return err
	}
	return nil
}

func (tx *Tx) finish(op func(*sql.Tx) error) error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return ErrTxDone
	}
	tx.done = true
	tx.savepoints = nil
	tx.mu.Unlock()
	err := op(tx.tx)
	// A failed commit or rollback leaves the connection state unknown.
	if err != nil {
		tx.conn.Close()
		return err
	}
	tx.conn.Release()
	return nil
}

// validSavepointName restricts names to identifier characters, so they
// embed safely in the savepoint statements across all dialects.
func validSavepointName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// Savepoint creates a savepoint with the given name, or an
// auto-generated one if name is empty, and returns the name used.
func (tx *Tx) Savepoint(ctx context.Context, name string) (string, error) {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return "", ErrTxDone
	}
	if name == "" {
		tx.autoSeq++
		name = "sp_" + strconv.Itoa(tx.autoSeq)
	}
	tx.mu.Unlock()
	if !validSavepointName(name) {
		return "", fmt.Errorf("pool: invalid savepoint name %q", name)
	}
	if err := tx.Exec(ctx, "SAVEPOINT "+name, []any{}, nil); err != nil {
		return "", err
	}
	tx.mu.Lock()
	tx.savepoints = append(tx.savepoints, name)
	tx.mu.Unlock()
	return name, nil
}

// RollbackTo rolls back to the named savepoint, discarding work done
// since it was created. The savepoint itself remains active and can be
// rolled back to again or released.
func (tx *Tx) RollbackTo(ctx context.Context, name string) error {
	if err := tx.truncateSavepoints(name, true); err != nil {
		return err
	}
	return tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name, []any{}, nil)
}

// Release releases the named savepoint, keeping the work done since it
// was created. Savepoints created after it are released as well.
func (tx *Tx) Release(ctx context.Context, name string) error {
	if err := tx.truncateSavepoints(name, false); err != nil {
		return err
	}
	return tx.Exec(ctx, "RELEASE SAVEPOINT "+name, []any{}, nil)
}

// truncateSavepoints pops savepoints created after name; keep retains
// name itself on the stack (rollback-to semantics), otherwise it is
// popped too (release semantics).
func (tx *Tx) truncateSavepoints(name string, keep bool) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	for i := len(tx.savepoints) - 1; i >= 0; i-- {
		if tx.savepoints[i] == name {
			if keep {
				tx.savepoints = tx.savepoints[:i+1]
			} else {
				tx.savepoints = tx.savepoints[:i]
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNoSavepoint, name)
}

// WithSavepoint runs fn inside a savepoint. If fn returns an error the
// work since the savepoint is rolled back and the error is returned;
// otherwise the savepoint is released. An optional name overrides the
// auto-generated one.
func (tx *Tx) WithSavepoint(ctx context.Context, fn func(context.Context) error, name ...string) error {
	var sp string
	if len(name) > 0 {
		sp = name[0]
	}
	sp, err := tx.Savepoint(ctx, sp)
	if err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if rerr := tx.RollbackTo(ctx, sp); rerr != nil {
			return fmt.Errorf("%w: rolling back to savepoint: %v", err, rerr)
		}
		// The savepoint served its purpose; drop it.
		if rerr := tx.Release(ctx, sp); rerr != nil {
			return fmt.Errorf("%w: releasing savepoint: %v", err, rerr)
		}
		return err
	}
	return tx.Release(ctx, sp)
}

type txCtxKey struct{}

// NewTxContext returns a context carrying the transaction. Code that
// accepts a context can then join the ambient transaction with
// TxFromContext or Pool.RunInTx.
func NewTxContext(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// TxFromContext returns the ambient transaction carried by the
// context, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txCtxKey{}).(*Tx)
	return tx, ok
}

// RunInTx runs fn in a transaction. If the context already carries an
// ambient transaction, fn joins it inside a savepoint, so an error in
// fn undoes only its own work and the outer transaction decides the
// final outcome. Otherwise a new transaction is started, made ambient
// for fn, and committed if fn returns nil or rolled back if it
// returns an error.
func (p *Pool) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return tx.WithSavepoint(ctx, func(ctx context.Context) error {
			return fn(ctx, tx)
		})
	}
	tx, err := p.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	ctx = NewTxContext(ctx, tx)
	if err := fn(ctx, tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && rerr != ErrTxDone {
			return fmt.Errorf("%w: rolling back: %v", err, rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil && err != ErrTxDone {
		return err
	}
	return nil
}

var _ dialect.Tx = (*Tx)(nil)
