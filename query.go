package strata

import (
	"context"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/schema"
)

// Query is a fluent builder over one entity type. Fluent calls append
// to the statement description; BuildSQL and the terminal operations
// compile it deterministically, so building is idempotent and a query
// can be compiled for inspection before execution.
type Query[T any] struct {
	repo *Repository[T]
	sel  *sql.Selector
	errs []error

	// Entity columns render ahead of raw and window selections so scan
	// order stays stable; see finalize.
	scanFields []schema.Field[T]
	rawSelects []func(*sql.Selector)
	includes   []Relation[T]
	finalized  bool
}

// Query returns a new query over the repository's entity type.
func (r *Repository[T]) Query() *Query[T] {
	return &Query[T]{
		repo:       r,
		sel:        sql.Dialect(r.drv.Dialect()).Select().From(sql.Table(r.table.Name)),
		scanFields: r.table.Fields,
	}
}

// Where appends a typed predicate. Multiple calls AND their predicates
// in call order.
func (q *Query[T]) Where(n expr.Node) *Query[T] {
	q.sel.Where(exprP[T](n, q.repo.table.ExprColumns(), q.repo.drv.Dialect()))
	return q
}

// Select restricts the query to the named fields. Unselected fields
// keep their zero value on the materialized entities.
func (q *Query[T]) Select(fields ...string) *Query[T] {
	selected := make([]schema.Field[T], 0, len(fields))
	for _, name := range fields {
		f, ok := q.repo.table.Field(name)
		if !ok {
			q.errs = append(q.errs, fmt.Errorf("strata: unknown field %q on %s", name, q.repo.table.Label))
			continue
		}
		selected = append(selected, f)
	}
	q.scanFields = selected
	return q
}

// OrderBy appends an ascending sort key. Later calls append further
// keys that break ties in declared order.
func (q *Query[T]) OrderBy(field string) *Query[T] {
	return q.order(field, sql.Asc)
}

// OrderByDesc appends a descending sort key.
func (q *Query[T]) OrderByDesc(field string) *Query[T] {
	return q.order(field, sql.Desc)
}

func (q *Query[T]) order(field string, dir func(string) string) *Query[T] {
	col, ok := q.repo.table.ColumnName(field)
	if !ok {
		q.errs = append(q.errs, fmt.Errorf("strata: unknown field %q on %s", field, q.repo.table.Label))
		return q
	}
	q.sel.OrderBy(dir(q.sel.C(col)))
	return q
}

// Skip sets the row offset. Legal without Take.
func (q *Query[T]) Skip(n int) *Query[T] {
	q.sel.Offset(n)
	return q
}

// Take caps the number of returned rows.
func (q *Query[T]) Take(n int) *Query[T] {
	q.sel.Limit(n)
	return q
}

// Distinct eliminates duplicate rows.
func (q *Query[T]) Distinct() *Query[T] {
	q.sel.Distinct()
	return q
}

// GroupBy groups by the named fields, for aggregate queries consumed
// through Rows. For client-side group enumeration over entities, use
// GroupsBy instead.
func (q *Query[T]) GroupBy(fields ...string) *Query[T] {
	for _, name := range fields {
		col, ok := q.repo.table.ColumnName(name)
		if !ok {
			q.errs = append(q.errs, fmt.Errorf("strata: unknown field %q on %s", name, q.repo.table.Label))
			continue
		}
		q.sel.GroupBy(col)
	}
	return q
}

// Having appends a typed predicate over grouped rows. Aggregate calls
// (expr.Count, Sum, Avg, Min, Max) render to their SQL equivalents.
func (q *Query[T]) Having(n expr.Node) *Query[T] {
	q.sel.Having(exprP[T](n, q.repo.table.ExprColumns(), q.repo.drv.Dialect()))
	return q
}

// Include attaches the given relations to the materialized entities,
// one batched follow-up query per relation.
func (q *Query[T]) Include(rels ...Relation[T]) *Query[T] {
	q.includes = append(q.includes, rels...)
	return q
}

// Union combines this query with the other, eliminating duplicates.
func (q *Query[T]) Union(o *Query[T]) *Query[T] { return q.setOp(o, (*sql.Selector).Union) }

// UnionAll combines this query with the other, keeping duplicates.
func (q *Query[T]) UnionAll(o *Query[T]) *Query[T] { return q.setOp(o, (*sql.Selector).UnionAll) }

// Intersect keeps only rows present in both queries.
func (q *Query[T]) Intersect(o *Query[T]) *Query[T] { return q.setOp(o, (*sql.Selector).Intersect) }

// Except keeps only rows absent from the other query.
func (q *Query[T]) Except(o *Query[T]) *Query[T] { return q.setOp(o, (*sql.Selector).Except) }

func (q *Query[T]) setOp(o *Query[T], op func(*sql.Selector, sql.Querier) *sql.Selector) *Query[T] {
	o.finalize()
	q.errs = append(q.errs, o.errs...)
	op(q.sel, o.sel)
	return q
}

// With prepends a named CTE with the given body, referenced from the
// query by name (typically through FromRaw or JoinRaw).
func (q *Query[T]) With(name string, body sql.Querier) *Query[T] {
	q.sel.With(name, body)
	return q
}

// WithRecursive prepends a recursive CTE; the recursive part may
// reference the CTE name.
func (q *Query[T]) WithRecursive(name string, anchor, recursive sql.Querier) *Query[T] {
	q.sel.WithRecursive(name, anchor, recursive)
	return q
}

// Window appends a window function to the select list under the given
// alias. Window columns are not scanned into entities; consume them
// through Rows, or ignore them when materializing.
func (q *Query[T]) Window(alias string, w *sql.WindowBuilder) *Query[T] {
	q.rawSelects = append(q.rawSelects, func(s *sql.Selector) {
		s.SelectWindow(alias, w)
	})
	return q
}

// SelectExpr appends a computed select-list expression under the given
// alias, rendered through the translator. Computed columns are not
// scanned into entities; consume them through Rows, or ignore them when
// materializing.
func (q *Query[T]) SelectExpr(alias string, n expr.Node) *Query[T] {
	q.rawSelects = append(q.rawSelects, func(s *sql.Selector) {
		cols := q.repo.table.ExprColumns()
		d := q.repo.drv.Dialect()
		s.SelectExpr(func(b *sql.Builder) {
			res, err := expr.Translate(n, cols, expr.WithDialect(d), expr.WithArgOffset(b.Total()))
			if err != nil {
				b.AddError(err)
				return
			}
			b.Append(res.SQL, res.Args...)
			b.WriteString(" AS ").Ident(alias)
		})
	})
	return q
}

// WhereRaw appends a raw predicate with `{n}` positional parameter
// substitution, bypassing the translator.
func (q *Query[T]) WhereRaw(fragment string, args ...any) *Query[T] {
	q.sel.WhereRaw(fragment, args...)
	return q
}

// SelectRaw appends a raw select-list expression. Raw columns are not
// scanned into entities.
func (q *Query[T]) SelectRaw(fragment string, args ...any) *Query[T] {
	q.rawSelects = append(q.rawSelects, func(s *sql.Selector) {
		s.SelectRaw(fragment, args...)
	})
	return q
}

// JoinRaw appends a raw join fragment, join keywords included.
func (q *Query[T]) JoinRaw(fragment string, args ...any) *Query[T] {
	q.sel.JoinRaw(fragment, args...)
	return q
}

// FromRaw replaces the FROM item with a raw fragment.
func (q *Query[T]) FromRaw(fragment string, args ...any) *Query[T] {
	q.sel.FromRaw(fragment, args...)
	return q
}

// finalize pins the select list: entity columns first, raw and window
// selections after. Further fluent calls still apply; re-building
// re-renders from current state.
func (q *Query[T]) finalize() {
	if q.finalized {
		return
	}
	q.finalized = true
	cols := make([]string, len(q.scanFields))
	for i, f := range q.scanFields {
		col, _ := q.repo.table.ColumnName(f.Name)
		cols[i] = col
	}
	q.sel.Columns(cols...)
	for _, fn := range q.rawSelects {
		fn(q.sel)
	}
}

// BuildSQL compiles the query and returns the SQL text with its
// ordered parameters. It is idempotent and does not execute anything.
func (q *Query[T]) BuildSQL() (string, []any, error) {
	q.finalize()
	query, args := q.sel.Query()
	if err := errors.Join(append(q.errs, q.sel.Err())...); err != nil {
		return "", nil, err
	}
	return query, args, nil
}

// All executes the query and materializes every row.
func (q *Query[T]) All(ctx context.Context) ([]*T, error) {
	query, args, err := q.BuildSQL()
	if err != nil {
		return nil, err
	}
	key := cacheKey(q.repo.table.Name, query, args)
	if es, ok := q.cached(ctx, key); ok {
		return es, nil
	}
	q.repo.recordSQL(ctx, query, args)
	var rows sql.Rows
	if err := q.repo.conn(ctx).Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	es, err := q.scanAll(&rows)
	if err != nil {
		return nil, err
	}
	for _, rel := range q.includes {
		if err := rel.load(ctx, q.repo.conn(ctx), q.repo.drv.Dialect(), es); err != nil {
			return nil, err
		}
	}
	q.store(ctx, key, es)
	return es, nil
}

func (q *Query[T]) scanAll(rows *sql.Rows) ([]*T, error) {
	defer rows.Close()
	// Raw and window selections trail the entity columns and are
	// discarded during materialization.
	discard := make([]any, len(q.rawSelects))
	for i := range discard {
		discard[i] = new(any)
	}
	var es []*T
	for rows.Next() {
		e := new(T)
		dest := make([]any, 0, len(q.scanFields)+len(discard))
		for _, f := range q.scanFields {
			dest = append(dest, f.Ptr(e))
		}
		dest = append(dest, discard...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		es = append(es, e)
	}
	return es, rows.Err()
}

// First executes the query and returns the first row, or a typed
// not-found error.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	q.Take(1)
	es, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(es) == 0 {
		return nil, NewNotFoundError(q.repo.table.Label)
	}
	return es[0], nil
}

// Only executes the query expecting exactly one row. Zero rows yield a
// not-found error, more than one a not-singular error.
func (q *Query[T]) Only(ctx context.Context) (*T, error) {
	q.Take(2)
	es, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(es) {
	case 0:
		return nil, NewNotFoundError(q.repo.table.Label)
	case 1:
		return es[0], nil
	default:
		return nil, NewNotSingularErrorWithCount(q.repo.table.Label, len(es))
	}
}

// Count returns the number of rows the query matches, by wrapping the
// compiled query in a COUNT subquery.
func (q *Query[T]) Count(ctx context.Context) (int64, error) {
	query, args, err := q.BuildSQL()
	if err != nil {
		return 0, err
	}
	cs := sql.Dialect(q.repo.drv.Dialect()).Select().
		SelectRaw("COUNT(*)").
		FromSelect(sql.RawQuery(query, args...), "count_sub")
	cq, cargs := cs.Query()
	q.repo.recordSQL(ctx, cq, cargs)
	var rows sql.Rows
	if err := q.repo.conn(ctx).Query(ctx, cq, cargs, &rows); err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, rows.Err()
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, rows.Err()
}

// Exist reports whether the query matches any row.
func (q *Query[T]) Exist(ctx context.Context) (bool, error) {
	n, err := q.Count(ctx)
	return n > 0, err
}

// Rows executes the compiled query and returns the raw rows, for
// aggregate and window queries whose shape does not match the entity.
// The caller owns the rows and must close them.
func (q *Query[T]) Rows(ctx context.Context) (*sql.Rows, error) {
	query, args, err := q.BuildSQL()
	if err != nil {
		return nil, err
	}
	q.repo.recordSQL(ctx, query, args)
	var rows sql.Rows
	if err := q.repo.conn(ctx).Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	return &rows, nil
}

// Group is one client-side group: the grouping key and the fully
// materialized member rows.
type Group[T any] struct {
	Key  any
	Rows []*T
}

// Count returns the number of rows in the group.
func (g Group[T]) Count() int { return len(g.Rows) }

// GroupsBy materializes the query results and groups them client-side
// by the named field, preserving first-seen key order. Per-group
// aggregates are computed over the materialized rows with the SumBy,
// AvgBy, MinBy and MaxBy helpers, without a further round-trip.
func (q *Query[T]) GroupsBy(ctx context.Context, field string) ([]Group[T], error) {
	f, ok := q.repo.table.Field(field)
	if !ok {
		return nil, fmt.Errorf("strata: unknown field %q on %s", field, q.repo.table.Label)
	}
	es, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	var groups []Group[T]
	index := make(map[any]int)
	for _, e := range es {
		key := f.Get(e)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group[T]{Key: key})
		}
		groups[i].Rows = append(groups[i].Rows, e)
	}
	return groups, nil
}

// SumBy sums f over the rows.
func SumBy[T any](rows []*T, f func(*T) float64) float64 {
	var sum float64
	for _, e := range rows {
		sum += f(e)
	}
	return sum
}

// AvgBy averages f over the rows. It returns 0 for an empty slice.
func AvgBy[T any](rows []*T, f func(*T) float64) float64 {
	if len(rows) == 0 {
		return 0
	}
	return SumBy(rows, f) / float64(len(rows))
}

// MinBy returns the minimum of f over the rows.
func MinBy[T any](rows []*T, f func(*T) float64) float64 {
	var m float64
	for i, e := range rows {
		if v := f(e); i == 0 || v < m {
			m = v
		}
	}
	return m
}

// MaxBy returns the maximum of f over the rows.
func MaxBy[T any](rows []*T, f func(*T) float64) float64 {
	var m float64
	for i, e := range rows {
		if v := f(e); i == 0 || v > m {
			m = v
		}
	}
	return m
}

// cached returns the cached result set for the key, if caching is on
// and the entry decodes. Includes are not cached; queries with
// includes skip the cache entirely.
func (q *Query[T]) cached(ctx context.Context, key string) ([]*T, bool) {
	if q.repo.cache == nil || len(q.includes) > 0 {
		return nil, false
	}
	data, err := q.repo.cache.Get(ctx, key)
	if err != nil || data == nil {
		return nil, false
	}
	var es []*T
	if err := msgpack.Unmarshal(data, &es); err != nil {
		return nil, false
	}
	return es, true
}

func (q *Query[T]) store(ctx context.Context, key string, es []*T) {
	if q.repo.cache == nil || len(q.includes) > 0 {
		return
	}
	data, err := msgpack.Marshal(es)
	if err != nil {
		return
	}
	if err := q.repo.cache.Set(ctx, key, data, q.repo.cacheTTL); err != nil {
		q.repo.log.WarnContext(ctx, "strata: cache store failed", "error", err)
	}
}

func cacheKey(table, query string, args []any) string {
	return fmt.Sprintf("%s:%s:%v", table, query, args)
}
