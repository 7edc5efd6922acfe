// Package strata is a database access engine: typed predicate and
// update expressions compile to parameterized SQL, a fluent query
// builder accumulates filters, includes, grouping, pagination, set
// operations, CTEs and window functions, and repositories layer
// optimistic concurrency control with pluggable conflict resolution on
// top of a bounded connection pool with savepoint-capable
// transactions.
package strata

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/pool"
	"github.com/syssam/strata/schema"
)

const defaultBatchSize = 100

// Repository executes typed operations for one entity type. It wraps
// the Create/Update paths with version-column checks and conflict
// resolution, and hands out query builders for reads.
type Repository[T any] struct {
	drv      dialect.Driver
	table    *schema.Table[T]
	strategy Strategy[T]
	batch    int
	cache    Cache
	cacheTTL time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	lastSQL string
}

// RepositoryOption configures a Repository.
type RepositoryOption[T any] func(*Repository[T])

// WithStrategy sets the conflict resolution strategy. Defaults to
// Throw.
func WithStrategy[T any](s Strategy[T]) RepositoryOption[T] {
	return func(r *Repository[T]) { r.strategy = s }
}

// WithBatchSize caps the rows per multi-row INSERT in CreateBulk.
// Defaults to 100.
func WithBatchSize[T any](n int) RepositoryOption[T] {
	return func(r *Repository[T]) { r.batch = n }
}

// WithCache caches query results in c with the given TTL. Writes
// through the repository invalidate the entity's cache entries.
func WithCache[T any](c Cache, ttl time.Duration) RepositoryOption[T] {
	return func(r *Repository[T]) { r.cache, r.cacheTTL = c, ttl }
}

// WithLogger sets the logger used for statement logging. Defaults to
// slog.Default.
func WithLogger[T any](l *slog.Logger) RepositoryOption[T] {
	return func(r *Repository[T]) { r.log = l }
}

// NewRepository returns a Repository for the given table executing on
// the given driver.
func NewRepository[T any](drv dialect.Driver, table *schema.Table[T], opts ...RepositoryOption[T]) *Repository[T] {
	r := &Repository[T]{
		drv:      drv,
		table:    table,
		strategy: Throw[T](),
		batch:    defaultBatchSize,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Table returns the table metadata the repository operates on.
func (r *Repository[T]) Table() *schema.Table[T] { return r.table }

// LastSQL returns the most recently executed statement text, for
// diagnostics and tests.
func (r *Repository[T]) LastSQL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSQL
}

func (r *Repository[T]) recordSQL(ctx context.Context, query string, args []any) {
	r.mu.Lock()
	r.lastSQL = query
	r.mu.Unlock()
	r.log.DebugContext(ctx, "strata: executing", "query", query, "args", args)
}

// conn returns the execution target, joining the ambient transaction
// if the context carries one.
func (r *Repository[T]) conn(ctx context.Context) dialect.ExecQuerier {
	if tx, ok := pool.TxFromContext(ctx); ok {
		return tx
	}
	return r.drv
}

// Create inserts the entity. Field defaults populate unset fields
// first, and a declared version field is initialized to 1 regardless
// of the caller-supplied value. A database-generated key is read back
// into the entity.
func (r *Repository[T]) Create(ctx context.Context, e *T) error {
	if vf, ok := r.table.VersionField(); ok {
		vf.SetValue(e, int64(1))
	}
	ib := sql.Dialect(r.drv.Dialect()).
		Insert(r.table.Name).
		Columns(r.table.InsertColumns()...).
		Values(r.table.InsertValues(e)...)
	pk := r.table.PK()
	returning := pk.Auto && r.drv.Dialect() != dialect.MySQL
	if returning {
		col, _ := r.table.ColumnName(pk.Name)
		ib.Returning(col)
	}
	query, args := ib.Query()
	if err := ib.Err(); err != nil {
		return err
	}
	r.recordSQL(ctx, query, args)
	switch {
	case returning:
		var rows sql.Rows
		if err := r.conn(ctx).Query(ctx, query, args, &rows); err != nil {
			return err
		}
		if err := scanID(&rows, pk, e); err != nil {
			return err
		}
	case pk.Auto:
		var res sql.Result
		if err := r.conn(ctx).Exec(ctx, query, args, &res); err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		pk.SetValue(e, id)
	default:
		if err := r.conn(ctx).Exec(ctx, query, args, nil); err != nil {
			return err
		}
	}
	r.invalidate(ctx)
	return nil
}

func scanID[T any](rows *sql.Rows, pk schema.Field[T], e *T) error {
	defer rows.Close()
	if !rows.Next() {
		return fmt.Errorf("strata: insert returned no generated key")
	}
	if err := rows.Scan(pk.Ptr(e)); err != nil {
		return err
	}
	return rows.Err()
}

// CreateBulk inserts the entities in multi-row batches. Generated keys
// are read back on backends that support RETURNING; on mysql they are
// derived from the first key of each batch.
func (r *Repository[T]) CreateBulk(ctx context.Context, es []*T) error {
	if len(es) == 0 {
		return nil
	}
	vf, versioned := r.table.VersionField()
	for _, e := range es {
		if versioned {
			vf.SetValue(e, int64(1))
		}
	}
	for start := 0; start < len(es); start += r.batch {
		end := min(start+r.batch, len(es))
		if err := r.insertBatch(ctx, es[start:end]); err != nil {
			return err
		}
	}
	r.invalidate(ctx)
	return nil
}

func (r *Repository[T]) insertBatch(ctx context.Context, es []*T) error {
	ib := sql.Dialect(r.drv.Dialect()).
		Insert(r.table.Name).
		Columns(r.table.InsertColumns()...)
	for _, e := range es {
		ib.Values(r.table.InsertValues(e)...)
	}
	pk := r.table.PK()
	returning := pk.Auto && r.drv.Dialect() != dialect.MySQL
	if returning {
		col, _ := r.table.ColumnName(pk.Name)
		ib.Returning(col)
	}
	query, args := ib.Query()
	if err := ib.Err(); err != nil {
		return err
	}
	r.recordSQL(ctx, query, args)
	switch {
	case returning:
		var rows sql.Rows
		if err := r.conn(ctx).Query(ctx, query, args, &rows); err != nil {
			return err
		}
		defer rows.Close()
		for i, e := range es {
			if !rows.Next() {
				return fmt.Errorf("strata: insert returned %d generated keys, want %d", i, len(es))
			}
			if err := rows.Scan(pk.Ptr(e)); err != nil {
				return err
			}
		}
		return rows.Err()
	case pk.Auto:
		var res sql.Result
		if err := r.conn(ctx).Exec(ctx, query, args, &res); err != nil {
			return err
		}
		// MySQL reports the first key of the batch; the rest follow
		// sequentially under the default auto-increment lock mode.
		first, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for i, e := range es {
			pk.SetValue(e, first+int64(i))
		}
		return nil
	default:
		return r.conn(ctx).Exec(ctx, query, args, nil)
	}
}

// Get returns the entity with the given primary key, or a typed
// not-found error.
func (r *Repository[T]) Get(ctx context.Context, id any) (*T, error) {
	pkCol, _ := r.table.ColumnName(r.table.PK().Name)
	s := sql.Dialect(r.drv.Dialect()).
		Select(r.table.Columns()...).
		From(sql.Table(r.table.Name)).
		Where(sql.EQ(pkCol, id))
	query, args := s.Query()
	if err := s.Err(); err != nil {
		return nil, err
	}
	r.recordSQL(ctx, query, args)
	var rows sql.Rows
	if err := r.conn(ctx).Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, NewNotFoundErrorWithID(r.table.Label, id)
	}
	e := new(T)
	if err := rows.Scan(r.table.ScanDest(e)...); err != nil {
		return nil, err
	}
	return e, rows.Err()
}

// Update persists the entity's updatable fields. For a versioned
// entity the statement matches the primary key and the entity's
// current version and bumps the version server-side; zero affected
// rows signals a conflict, resolved per the repository strategy. An
// optional baseline snapshot feeds the merge strategy's three-way
// diff.
//
// The returned entity is the persisted state: the input entity with
// its version advanced, the database row under DatabaseWins, or the
// merged row under Merge.
func (r *Repository[T]) Update(ctx context.Context, e *T, baseline ...*T) (*T, error) {
	pk := r.table.PK()
	id := pk.Get(e)
	vf, versioned := r.table.VersionField()
	if !versioned {
		// No version column: last write wins with no detection.
		n, err := r.updateRow(ctx, e, nil, 0)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, NewNotFoundErrorWithID(r.table.Label, id)
		}
		r.invalidate(ctx)
		return e, nil
	}
	expected := versionOf(vf.Get(e))
	n, err := r.updateRow(ctx, e, &vf, expected)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		vf.SetValue(e, expected+1)
		r.invalidate(ctx)
		return e, nil
	}
	var base *T
	if len(baseline) > 0 {
		base = baseline[0]
	}
	return r.resolve(ctx, e, base, id, expected)
}

// updateRow issues one UPDATE and reports the affected row count.
// With a version field the statement carries the version guard and the
// server-side bump.
func (r *Repository[T]) updateRow(ctx context.Context, e *T, vf *schema.Field[T], expected int64) (int64, error) {
	pk := r.table.PK()
	pkCol, _ := r.table.ColumnName(pk.Name)
	ub := sql.Dialect(r.drv.Dialect()).Update(r.table.Name)
	for _, f := range r.table.UpdateFields() {
		col, _ := r.table.ColumnName(f.Name)
		ub.Set(col, f.Get(e))
	}
	if vf != nil {
		vcol, _ := r.table.ColumnName(vf.Name)
		ub.Add(vcol, 1)
		ub.Where(sql.And(sql.EQ(pkCol, pk.Get(e)), sql.EQ(vcol, expected)))
	} else {
		ub.Where(sql.EQ(pkCol, pk.Get(e)))
	}
	query, args := ub.Query()
	if err := ub.Err(); err != nil {
		return 0, err
	}
	r.recordSQL(ctx, query, args)
	var res sql.Result
	if err := r.conn(ctx).Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// resolve dispatches the configured strategy after a versioned update
// matched zero rows. Every non-throwing path re-reads the persisted
// row and retries the write exactly once.
func (r *Repository[T]) resolve(ctx context.Context, e, base *T, id any, expected int64) (*T, error) {
	if r.strategy.kind == kindThrow {
		return nil, NewConflictError(r.table.Label, id, expected)
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		// The row is gone; no strategy can resolve a deleted target.
		return nil, err
	}
	vf, _ := r.table.VersionField()
	curVersion := versionOf(vf.Get(current))
	switch r.strategy.kind {
	case kindClientWins:
		return r.retry(ctx, e, curVersion, id)
	case kindDatabaseWins:
		return current, nil
	case kindMerge:
		if base == nil {
			return nil, ErrNoBaseline
		}
		merged := r.strategy.merge(r.table, &Conflict[T]{Current: current, Incoming: e, Baseline: base})
		return r.retry(ctx, merged, curVersion, id)
	case kindCustom:
		resolved, err := r.strategy.custom(ctx, &Conflict[T]{Current: current, Incoming: e, Baseline: base})
		if err != nil {
			return nil, err
		}
		return r.retry(ctx, resolved, curVersion, id)
	default:
		return nil, NewConflictError(r.table.Label, id, expected)
	}
}

func (r *Repository[T]) retry(ctx context.Context, e *T, version int64, id any) (*T, error) {
	vf, _ := r.table.VersionField()
	n, err := r.updateRow(ctx, e, &vf, version)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, NewConflictError(r.table.Label, id, version)
	}
	vf.SetValue(e, version+1)
	r.invalidate(ctx)
	return e, nil
}

// UpdateMany applies the assignments to every row matching the
// predicate and reports the affected row count. Assignment expressions
// may reference the row's own fields; they compile to column
// references so the backend evaluates them per row.
func (r *Repository[T]) UpdateMany(ctx context.Context, where expr.Node, set expr.Set) (int64, error) {
	cols := r.table.ExprColumns()
	d := r.drv.Dialect()
	ub := sql.Dialect(d).Update(r.table.Name)
	ub.SetFunc(func(b *sql.Builder) {
		res, err := expr.Translate(set, cols, expr.WithDialect(d), expr.WithArgOffset(b.Total()))
		if err != nil {
			b.AddError(err)
			return
		}
		b.Append(res.SQL, res.Args...)
	})
	if where != nil {
		ub.Where(exprP[T](where, cols, d))
	}
	query, args := ub.Query()
	if err := ub.Err(); err != nil {
		return 0, err
	}
	r.recordSQL(ctx, query, args)
	var res sql.Result
	if err := r.conn(ctx).Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	r.invalidate(ctx)
	return res.RowsAffected()
}

// Delete removes the entity with the given primary key.
func (r *Repository[T]) Delete(ctx context.Context, id any) error {
	pkCol, _ := r.table.ColumnName(r.table.PK().Name)
	db := sql.Dialect(r.drv.Dialect()).
		Delete(r.table.Name).
		Where(sql.EQ(pkCol, id))
	query, args := db.Query()
	r.recordSQL(ctx, query, args)
	var res sql.Result
	if err := r.conn(ctx).Exec(ctx, query, args, &res); err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return NewNotFoundErrorWithID(r.table.Label, id)
	}
	r.invalidate(ctx)
	return nil
}

// DeleteMany removes every row matching the predicate and reports the
// affected row count.
func (r *Repository[T]) DeleteMany(ctx context.Context, where expr.Node) (int64, error) {
	db := sql.Dialect(r.drv.Dialect()).Delete(r.table.Name)
	if where != nil {
		db.Where(exprP[T](where, r.table.ExprColumns(), r.drv.Dialect()))
	}
	query, args := db.Query()
	if err := db.Err(); err != nil {
		return 0, err
	}
	r.recordSQL(ctx, query, args)
	var res sql.Result
	if err := r.conn(ctx).Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	r.invalidate(ctx)
	return res.RowsAffected()
}

func (r *Repository[T]) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.DeletePrefix(ctx, r.table.Name+":"); err != nil {
		r.log.WarnContext(ctx, "strata: cache invalidation failed", "table", r.table.Name, "error", err)
	}
}

// exprP wraps a typed expression as a builder predicate, sharing the
// builder's placeholder numbering.
func exprP[T any](n expr.Node, cols expr.Columns, d string) *sql.Predicate {
	return sql.P(func(b *sql.Builder) {
		res, err := expr.Translate(n, cols, expr.WithDialect(d), expr.WithArgOffset(b.Total()))
		if err != nil {
			b.AddError(err)
			return
		}
		b.Append(res.SQL, res.Args...)
	})
}

// versionOf normalizes the version field value to int64.
func versionOf(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	default:
		return reflect.ValueOf(v).Int()
	}
}
