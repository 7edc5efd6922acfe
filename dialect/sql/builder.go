// The builders in this file compose parameterized SQL statements. They
// follow one rule throughout: caller values bind as placeholders (`?`,
// or `$n` on postgres), identifiers are quoted per dialect, and raw
// fragments are an explicit, documented escape hatch.
package sql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/strata/dialect"
)

// Querier wraps the Query method. It is implemented by all statement
// builders and by raw queriers used for CTE bodies and set operations.
type Querier interface {
	// Query returns the compiled statement and its ordered parameters.
	Query() (string, []any)
}

// state is shared by nested queriers so placeholder numbering stays
// positional across the whole compiled statement.
type state interface {
	SetDialect(string)
	SetTotal(int)
}

// Builder is the base query builder that statement builders render
// into. It tracks the dialect, the bound parameters and any errors
// collected while rendering.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
	total   int
	errs    []error
}

// SetDialect sets the builder dialect.
func (b *Builder) SetDialect(d string) { b.dialect = d }

// Dialect returns the builder dialect.
func (b *Builder) Dialect() string { return b.dialect }

// SetTotal sets the parameter count already bound before this builder;
// it offsets $n numbering on postgres.
func (b *Builder) SetTotal(total int) { b.total = total }

// Total returns the number of parameters bound so far, including any
// offset set by SetTotal.
func (b *Builder) Total() int { return b.total }

// WriteString appends the given string verbatim.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Pad appends a single space.
func (b *Builder) Pad() *Builder { return b.WriteString(" ") }

// Comma appends ", ".
func (b *Builder) Comma() *Builder { return b.WriteString(", ") }

// Quote returns the identifier quoted for the builder dialect.
// Qualified identifiers quote each part; strings that are not plain
// identifiers (stars, calls, aliases) pass through verbatim.
func (b *Builder) Quote(ident string) string {
	if ident == "*" || strings.ContainsAny(ident, "()*? ") {
		return ident
	}
	q := `"`
	if b.dialect == dialect.MySQL {
		q = "`"
	}
	if strings.HasPrefix(ident, q) {
		return ident
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		if p != "*" {
			parts[i] = q + p + q
		}
	}
	return strings.Join(parts, ".")
}

// Ident appends the quoted identifier.
func (b *Builder) Ident(s string) *Builder {
	return b.WriteString(b.Quote(s))
}

// IdentComma appends the quoted identifiers separated by commas.
func (b *Builder) IdentComma(ss ...string) *Builder {
	for i, s := range ss {
		if i > 0 {
			b.Comma()
		}
		b.Ident(s)
	}
	return b
}

// Arg binds one parameter and appends its placeholder marker.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	b.total++
	if b.dialect == dialect.Postgres {
		b.sb.WriteByte('$')
		b.sb.WriteString(strconv.Itoa(b.total))
	} else {
		b.sb.WriteByte('?')
	}
	return b
}

// Args binds the parameters and appends their placeholders separated
// by commas.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.Comma()
		}
		b.Arg(v)
	}
	return b
}

// Append appends a pre-rendered fragment whose placeholders are
// already in final form, binding its parameters.
func (b *Builder) Append(sql string, args ...any) *Builder {
	b.sb.WriteString(sql)
	b.args = append(b.args, args...)
	b.total += len(args)
	return b
}

// Raw appends a caller-supplied fragment, substituting `{0}`, `{1}`,
// ... markers with bound parameters in the referenced order. Text
// outside the markers is written verbatim; the caller assumes
// responsibility for its correctness.
func (b *Builder) Raw(fragment string, args ...any) *Builder {
	for {
		open := strings.IndexByte(fragment, '{')
		if open < 0 {
			b.sb.WriteString(fragment)
			return b
		}
		close := strings.IndexByte(fragment[open:], '}')
		if close < 0 {
			b.sb.WriteString(fragment)
			return b
		}
		idx, err := strconv.Atoi(fragment[open+1 : open+close])
		if err != nil || idx < 0 || idx >= len(args) {
			b.AddError(fmt.Errorf("dialect/sql: raw fragment references parameter {%s} out of %d", fragment[open+1:open+close], len(args)))
			return b
		}
		b.sb.WriteString(fragment[:open])
		b.Arg(args[idx])
		fragment = fragment[open+close+1:]
	}
}

// Nested appends the rendering of fn wrapped in parentheses.
func (b *Builder) Nested(fn func(*Builder)) *Builder {
	b.sb.WriteByte('(')
	fn(b)
	b.sb.WriteByte(')')
	return b
}

// Join renders the given querier into this builder, sharing dialect
// and parameter numbering.
func (b *Builder) Join(q Querier) *Builder {
	if s, ok := q.(state); ok {
		s.SetDialect(b.dialect)
		s.SetTotal(b.total)
	}
	query, args := q.Query()
	b.sb.WriteString(query)
	b.args = append(b.args, args...)
	b.total += len(args)
	if e, ok := q.(interface{ Err() error }); ok {
		if err := e.Err(); err != nil {
			b.AddError(err)
		}
	}
	return b
}

// AddError records an error encountered while building the statement.
func (b *Builder) AddError(err error) *Builder {
	b.errs = append(b.errs, err)
	return b
}

// Err returns the errors collected while building, joined.
func (b *Builder) Err() error { return errors.Join(b.errs...) }

// String returns the statement text built so far.
func (b *Builder) String() string { return b.sb.String() }

// Query implements Querier.
func (b *Builder) Query() (string, []any) { return b.sb.String(), b.args }

// Asc returns an ascending order term for the given column.
func Asc(column string) string { return column + " ASC" }

// Desc returns a descending order term for the given column.
func Desc(column string) string { return column + " DESC" }

// DialectBuilder prefixes all root builders with the given dialect.
type DialectBuilder struct {
	dialect string
}

// Dialect creates a builder factory for the given dialect.
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: name}
}

// Select creates a Selector for the configured dialect.
func (d *DialectBuilder) Select(columns ...string) *Selector {
	s := Select(columns...)
	s.dialect = d.dialect
	return s
}

// Insert creates an InsertBuilder for the configured dialect.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	b := Insert(table)
	b.dialect = d.dialect
	return b
}

// Update creates an UpdateBuilder for the configured dialect.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	b := Update(table)
	b.dialect = d.dialect
	return b
}

// Delete creates a DeleteBuilder for the configured dialect.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	b := Delete(table)
	b.dialect = d.dialect
	return b
}

// RawQuerier wraps pre-written SQL (for example a CTE body) with its
// parameters so it can compose with the builders.
type RawQuerier struct {
	SQL     string
	RawArgs []any
}

// RawQuery returns a Querier for the given SQL and parameters.
func RawQuery(sql string, args ...any) *RawQuerier {
	return &RawQuerier{SQL: sql, RawArgs: args}
}

// Query implements Querier.
func (r *RawQuerier) Query() (string, []any) { return r.SQL, r.RawArgs }

// Predicate is a where-clause predicate composed of render functions.
type Predicate struct {
	fns []func(*Builder)
}

// P creates a predicate from custom render functions.
func P(fns ...func(*Builder)) *Predicate {
	return &Predicate{fns: fns}
}

func (p *Predicate) render(b *Builder) {
	for _, fn := range p.fns {
		fn(b)
	}
}

// clone keeps predicate composition non-destructive.
func (p *Predicate) clone() *Predicate {
	return &Predicate{fns: append([]func(*Builder){}, p.fns...)}
}

func binaryP(column, op string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" " + op + " ").Arg(v)
	})
}

// EQ returns a column = value predicate.
func EQ(column string, v any) *Predicate { return binaryP(column, "=", v) }

// NEQ returns a column <> value predicate.
func NEQ(column string, v any) *Predicate { return binaryP(column, "<>", v) }

// GT returns a column > value predicate.
func GT(column string, v any) *Predicate { return binaryP(column, ">", v) }

// GTE returns a column >= value predicate.
func GTE(column string, v any) *Predicate { return binaryP(column, ">=", v) }

// LT returns a column < value predicate.
func LT(column string, v any) *Predicate { return binaryP(column, "<", v) }

// LTE returns a column <= value predicate.
func LTE(column string, v any) *Predicate { return binaryP(column, "<=", v) }

// Like returns a column LIKE pattern predicate. The pattern binds as a
// parameter.
func Like(column, pattern string) *Predicate { return binaryP(column, "LIKE", pattern) }

// ColumnsEQ returns a column = column predicate (no parameters).
func ColumnsEQ(c1, c2 string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(c1).WriteString(" = ").Ident(c2)
	})
}

// In returns a column IN (values...) predicate. An empty value list
// compiles to FALSE so the predicate can never match.
func In(column string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("FALSE")
			return
		}
		b.Ident(column).WriteString(" IN ")
		b.Nested(func(b *Builder) {
			b.Args(vs...)
		})
	})
}

// NotIn returns a column NOT IN (values...) predicate. An empty value
// list compiles to TRUE.
func NotIn(column string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("TRUE")
			return
		}
		b.Ident(column).WriteString(" NOT IN ")
		b.Nested(func(b *Builder) {
			b.Args(vs...)
		})
	})
}

// IsNull returns a column IS NULL predicate.
func IsNull(column string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" IS NULL")
	})
}

// NotNull returns a column IS NOT NULL predicate.
func NotNull(column string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" IS NOT NULL")
	})
}

// ExprP returns a raw predicate with `{n}` positional parameter
// substitution, bypassing identifier quoting and the translator.
func ExprP(fragment string, args ...any) *Predicate {
	return P(func(b *Builder) {
		b.Raw(fragment, args...)
	})
}

// And joins the predicates with AND, parenthesizing each side.
func And(ps ...*Predicate) *Predicate {
	return nary("AND", ps)
}

// Or joins the predicates with OR, parenthesizing each side.
func Or(ps ...*Predicate) *Predicate {
	return nary("OR", ps)
}

func nary(op string, ps []*Predicate) *Predicate {
	if len(ps) == 1 {
		return ps[0].clone()
	}
	return P(func(b *Builder) {
		for i, p := range ps {
			if i > 0 {
				b.WriteString(" " + op + " ")
			}
			b.Nested(p.render)
		}
	})
}

// Not negates the given predicate.
func Not(p *Predicate) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("NOT ")
		b.Nested(p.render)
	})
}

// SelectTable is a FROM-clause table, optionally aliased.
type SelectTable struct {
	name string
	as   string
}

// Table returns a new table reference.
func Table(name string) *SelectTable {
	return &SelectTable{name: name}
}

// As sets the table alias.
func (t *SelectTable) As(alias string) *SelectTable {
	t.as = alias
	return t
}

// C returns the given column qualified by the table alias (or name).
func (t *SelectTable) C(column string) string {
	if t.as != "" {
		return t.as + "." + column
	}
	return t.name + "." + column
}

// ref renders the FROM-clause form of the table.
func (t *SelectTable) ref(b *Builder) {
	b.Ident(t.name)
	if t.as != "" {
		b.WriteString(" AS ").Ident(t.as)
	}
}

type tableView interface {
	view(b *Builder)
}

func (t *SelectTable) view(b *Builder) { t.ref(b) }

// rawView is a verbatim FROM/JOIN item.
type rawView struct {
	fragment string
	args     []any
}

func (r rawView) view(b *Builder) { b.Raw(r.fragment, r.args...) }

// queryView is a parenthesized subquery used as a table.
type queryView struct {
	q  Querier
	as string
}

func (v queryView) view(b *Builder) {
	b.Nested(func(b *Builder) { b.Join(v.q) })
	if v.as != "" {
		b.WriteString(" AS ").Ident(v.as)
	}
}

type join struct {
	kind  string
	table tableView
	on    *Predicate
	raw   *rawView
}

type setOp struct {
	op string
	q  Querier
}

type cte struct {
	name      string
	recursive bool
	query     Querier // non-recursive body.
	anchor    Querier // recursive anchor part.
	recur     Querier // recursive part referencing the CTE name.
}

// Selector builds a SELECT statement. Fluent calls append to the
// underlying statement description; Query compiles it deterministically
// and is idempotent.
type Selector struct {
	dialect   string
	baseTotal int
	errs      []error
	renderErr error
	ctes      []cte
	distinct  bool
	columns   []func(*Builder)
	from      []tableView
	joins     []join
	where     *Predicate
	groupBy   []string
	having    *Predicate
	orders    []string
	limit     *int
	offset    *int
	setOps    []setOp
}

// Select returns a Selector with the given select-list columns.
func Select(columns ...string) *Selector {
	s := &Selector{}
	return s.Columns(columns...)
}

// SetDialect implements state.
func (s *Selector) SetDialect(d string) { s.dialect = d }

// SetTotal implements state.
func (s *Selector) SetTotal(total int) { s.baseTotal = total }

// Columns appends plain columns to the select list.
func (s *Selector) Columns(columns ...string) *Selector {
	for _, c := range columns {
		c := c
		s.columns = append(s.columns, func(b *Builder) { b.Ident(c) })
	}
	return s
}

// SelectRaw appends a raw select-list expression with `{n}` positional
// parameter substitution.
func (s *Selector) SelectRaw(fragment string, args ...any) *Selector {
	s.columns = append(s.columns, func(b *Builder) { b.Raw(fragment, args...) })
	return s
}

// SelectExpr appends a pre-rendered select-list expression with bound
// parameters (as produced by the expression translator).
func (s *Selector) SelectExpr(fn func(*Builder)) *Selector {
	s.columns = append(s.columns, fn)
	return s
}

// SelectWindow appends a window function to the select list under the
// given alias.
func (s *Selector) SelectWindow(alias string, w *WindowBuilder) *Selector {
	s.columns = append(s.columns, func(b *Builder) {
		w.render(b)
		b.WriteString(" AS ").Ident(alias)
	})
	return s
}

// From sets the primary table.
func (s *Selector) From(t *SelectTable) *Selector {
	s.from = append(s.from, t)
	return s
}

// FromSelect uses the given querier as a derived table.
func (s *Selector) FromSelect(q Querier, alias string) *Selector {
	s.from = append(s.from, queryView{q: q, as: alias})
	return s
}

// FromRaw sets a raw FROM item with `{n}` positional parameter
// substitution.
func (s *Selector) FromRaw(fragment string, args ...any) *Selector {
	s.from = append(s.from, rawView{fragment: fragment, args: args})
	return s
}

// C returns the given column qualified by the primary table.
func (s *Selector) C(column string) string {
	if len(s.from) > 0 {
		if t, ok := s.from[0].(*SelectTable); ok {
			return t.C(column)
		}
	}
	return column
}

// Where appends the predicate to the WHERE clause. Multiple calls AND
// their predicates in call order.
func (s *Selector) Where(p *Predicate) *Selector {
	if s.where == nil {
		s.where = p
	} else {
		s.where = And(s.where, p)
	}
	return s
}

// WhereRaw appends a raw predicate with `{n}` positional parameter
// substitution.
func (s *Selector) WhereRaw(fragment string, args ...any) *Selector {
	return s.Where(ExprP(fragment, args...))
}

// Join appends an INNER JOIN on the given table.
func (s *Selector) Join(t *SelectTable) *Selector {
	s.joins = append(s.joins, join{kind: "JOIN", table: t})
	return s
}

// LeftJoin appends a LEFT JOIN on the given table.
func (s *Selector) LeftJoin(t *SelectTable) *Selector {
	s.joins = append(s.joins, join{kind: "LEFT JOIN", table: t})
	return s
}

// RightJoin appends a RIGHT JOIN on the given table.
func (s *Selector) RightJoin(t *SelectTable) *Selector {
	s.joins = append(s.joins, join{kind: "RIGHT JOIN", table: t})
	return s
}

// On sets the join condition of the most recent join to c1 = c2.
func (s *Selector) On(c1, c2 string) *Selector {
	return s.OnP(ColumnsEQ(c1, c2))
}

// OnP sets the join condition of the most recent join to the given
// predicate.
func (s *Selector) OnP(p *Predicate) *Selector {
	if len(s.joins) == 0 {
		s.errs = append(s.errs, errors.New("dialect/sql: On without a join"))
		return s
	}
	j := &s.joins[len(s.joins)-1]
	if j.on == nil {
		j.on = p
	} else {
		j.on = And(j.on, p)
	}
	return s
}

// JoinRaw appends a raw join fragment with `{n}` positional parameter
// substitution. The fragment must include the join keywords.
func (s *Selector) JoinRaw(fragment string, args ...any) *Selector {
	s.joins = append(s.joins, join{raw: &rawView{fragment: fragment, args: args}})
	return s
}

// GroupBy appends grouping columns.
func (s *Selector) GroupBy(columns ...string) *Selector {
	s.groupBy = append(s.groupBy, columns...)
	return s
}

// Having sets the HAVING predicate.
func (s *Selector) Having(p *Predicate) *Selector {
	if s.having == nil {
		s.having = p
	} else {
		s.having = And(s.having, p)
	}
	return s
}

// OrderBy appends order terms. Use Asc/Desc to set direction; a bare
// column orders ascending.
func (s *Selector) OrderBy(columns ...string) *Selector {
	s.orders = append(s.orders, columns...)
	return s
}

// Limit sets the LIMIT clause.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the OFFSET clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// Distinct marks the select list DISTINCT.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// Union combines this query with the given one, eliminating duplicates.
func (s *Selector) Union(q Querier) *Selector {
	s.setOps = append(s.setOps, setOp{op: "UNION", q: q})
	return s
}

// UnionAll combines this query with the given one, keeping duplicates.
func (s *Selector) UnionAll(q Querier) *Selector {
	s.setOps = append(s.setOps, setOp{op: "UNION ALL", q: q})
	return s
}

// Intersect keeps only rows present in both queries.
func (s *Selector) Intersect(q Querier) *Selector {
	s.setOps = append(s.setOps, setOp{op: "INTERSECT", q: q})
	return s
}

// Except keeps only rows absent from the given query.
func (s *Selector) Except(q Querier) *Selector {
	s.setOps = append(s.setOps, setOp{op: "EXCEPT", q: q})
	return s
}

// With prepends a named CTE with the given body.
func (s *Selector) With(name string, q Querier) *Selector {
	s.ctes = append(s.ctes, cte{name: name, query: q})
	return s
}

// WithRecursive prepends a recursive CTE with the given anchor and
// recursive parts; the recursive part may reference the CTE name.
func (s *Selector) WithRecursive(name string, anchor, recursive Querier) *Selector {
	s.ctes = append(s.ctes, cte{name: name, recursive: true, anchor: anchor, recur: recursive})
	return s
}

// Err returns errors collected while building, plus the error of the
// latest render, if any.
func (s *Selector) Err() error {
	errs := s.errs
	if s.renderErr != nil {
		errs = append(errs[:len(errs):len(errs)], s.renderErr)
	}
	return errors.Join(errs...)
}

// Query compiles the SELECT statement. It renders from the current
// statement description only, so repeated calls return the same
// result until the selector is mutated again.
func (s *Selector) Query() (string, []any) {
	b := &Builder{dialect: s.dialect, total: s.baseTotal}
	s.renderCTEs(b)
	if len(s.setOps) > 0 {
		b.Nested(s.renderCore)
		for _, op := range s.setOps {
			b.WriteString(" " + op.op + " ")
			b.Nested(func(b *Builder) { b.Join(op.q) })
		}
	} else {
		s.renderCore(b)
	}
	s.renderTail(b)
	s.renderErr = b.Err()
	return b.Query()
}

func (s *Selector) renderCTEs(b *Builder) {
	if len(s.ctes) == 0 {
		return
	}
	b.WriteString("WITH ")
	for _, c := range s.ctes {
		if c.recursive {
			// RECURSIVE qualifies the whole WITH clause.
			b.WriteString("RECURSIVE ")
			break
		}
	}
	for i, c := range s.ctes {
		if i > 0 {
			b.Comma()
		}
		b.Ident(c.name).WriteString(" AS ")
		b.Nested(func(b *Builder) {
			if c.recursive {
				b.Nested(func(b *Builder) { b.Join(c.anchor) })
				b.WriteString(" UNION ALL ")
				b.Nested(func(b *Builder) { b.Join(c.recur) })
			} else {
				b.Join(c.query)
			}
		})
	}
	b.Pad()
}

func (s *Selector) renderCore(b *Builder) {
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.columns) == 0 {
		b.WriteString("*")
	}
	for i, col := range s.columns {
		if i > 0 {
			b.Comma()
		}
		col(b)
	}
	if len(s.from) > 0 {
		b.WriteString(" FROM ")
		for i, t := range s.from {
			if i > 0 {
				b.Comma()
			}
			t.view(b)
		}
	}
	for _, j := range s.joins {
		b.Pad()
		if j.raw != nil {
			j.raw.view(b)
			continue
		}
		b.WriteString(j.kind).Pad()
		j.table.view(b)
		if j.on != nil {
			b.WriteString(" ON ")
			j.on.render(b)
		}
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where.render(b)
	}
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.IdentComma(s.groupBy...)
	}
	if s.having != nil {
		b.WriteString(" HAVING ")
		s.having.render(b)
	}
}

func (s *Selector) renderTail(b *Builder) {
	if len(s.orders) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.orders {
			if i > 0 {
				b.Comma()
			}
			b.Ident(o)
		}
	}
	if s.limit != nil {
		b.WriteString(" LIMIT ").WriteString(strconv.Itoa(*s.limit))
	}
	if s.offset != nil {
		// OFFSET without LIMIT is legal on sqlite/postgres only with
		// an explicit LIMIT on mysql.
		if s.limit == nil && s.dialect == dialect.MySQL {
			b.WriteString(" LIMIT 18446744073709551615")
		}
		b.WriteString(" OFFSET ").WriteString(strconv.Itoa(*s.offset))
	}
}

// InsertBuilder builds an INSERT statement.
type InsertBuilder struct {
	dialect   string
	baseTotal int
	errs      []error
	renderErr error
	table     string
	columns   []string
	values    [][]any
	defaults  bool
	returning []string
}

// Insert returns an InsertBuilder for the given table.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// SetDialect implements state.
func (i *InsertBuilder) SetDialect(d string) { i.dialect = d }

// SetTotal implements state.
func (i *InsertBuilder) SetTotal(total int) { i.baseTotal = total }

// Columns sets the insert columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Values appends one row of values. Multiple calls build a multi-row
// INSERT.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Default builds an all-defaults insert.
func (i *InsertBuilder) Default() *InsertBuilder {
	i.defaults = true
	return i
}

// Returning appends a RETURNING clause. It is a no-op on mysql.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = append(i.returning, columns...)
	return i
}

// Err returns errors collected while building, plus the error of the
// latest render, if any.
func (i *InsertBuilder) Err() error {
	errs := i.errs
	if i.renderErr != nil {
		errs = append(errs[:len(errs):len(errs)], i.renderErr)
	}
	return errors.Join(errs...)
}

// Query compiles the INSERT statement.
func (i *InsertBuilder) Query() (string, []any) {
	b := &Builder{dialect: i.dialect, total: i.baseTotal}
	b.WriteString("INSERT INTO ").Ident(i.table)
	switch {
	case i.defaults && i.dialect == dialect.MySQL:
		b.WriteString(" () VALUES ()")
	case i.defaults:
		b.WriteString(" DEFAULT VALUES")
	default:
		b.WriteString(" (").IdentComma(i.columns...).WriteString(") VALUES ")
		for r, row := range i.values {
			if len(row) != len(i.columns) {
				b.AddError(fmt.Errorf("dialect/sql: insert row %d has %d values for %d columns", r, len(row), len(i.columns)))
				break
			}
			if r > 0 {
				b.Comma()
			}
			b.Nested(func(b *Builder) { b.Args(row...) })
		}
	}
	if len(i.returning) > 0 && i.dialect != dialect.MySQL {
		b.WriteString(" RETURNING ").IdentComma(i.returning...)
	}
	i.renderErr = b.Err()
	return b.Query()
}

// UpdateBuilder builds an UPDATE statement.
type UpdateBuilder struct {
	dialect   string
	baseTotal int
	errs      []error
	renderErr error
	table     string
	sets      []func(*Builder)
	where     *Predicate
	returning []string
}

// Update returns an UpdateBuilder for the given table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// SetDialect implements state.
func (u *UpdateBuilder) SetDialect(d string) { u.dialect = d }

// SetTotal implements state.
func (u *UpdateBuilder) SetTotal(total int) { u.baseTotal = total }

// Set assigns the value to the column.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.sets = append(u.sets, func(b *Builder) {
		b.Ident(column).WriteString(" = ").Arg(v)
	})
	return u
}

// Add assigns column = column + value, evaluated by the backend
// per-row.
func (u *UpdateBuilder) Add(column string, v any) *UpdateBuilder {
	u.sets = append(u.sets, func(b *Builder) {
		b.Ident(column).WriteString(" = ").Ident(column).WriteString(" + ").Arg(v)
	})
	return u
}

// SetRaw appends a raw SET fragment with `{n}` positional parameter
// substitution.
func (u *UpdateBuilder) SetRaw(fragment string, args ...any) *UpdateBuilder {
	u.sets = append(u.sets, func(b *Builder) {
		b.Raw(fragment, args...)
	})
	return u
}

// SetFunc appends a SET fragment rendered by fn (used by the
// expression translator integration).
func (u *UpdateBuilder) SetFunc(fn func(*Builder)) *UpdateBuilder {
	u.sets = append(u.sets, fn)
	return u
}

// Where appends the predicate to the WHERE clause, ANDed with any
// previous one.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	if u.where == nil {
		u.where = p
	} else {
		u.where = And(u.where, p)
	}
	return u
}

// Returning appends a RETURNING clause. It is a no-op on mysql.
func (u *UpdateBuilder) Returning(columns ...string) *UpdateBuilder {
	u.returning = append(u.returning, columns...)
	return u
}

// Err returns errors collected while building, plus the error of the
// latest render, if any.
func (u *UpdateBuilder) Err() error {
	errs := u.errs
	if u.renderErr != nil {
		errs = append(errs[:len(errs):len(errs)], u.renderErr)
	}
	return errors.Join(errs...)
}

// Query compiles the UPDATE statement.
func (u *UpdateBuilder) Query() (string, []any) {
	b := &Builder{dialect: u.dialect, total: u.baseTotal}
	if len(u.sets) == 0 {
		u.errs = append(u.errs, errors.New("dialect/sql: update without SET clause"))
	}
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	for i, set := range u.sets {
		if i > 0 {
			b.Comma()
		}
		set(b)
	}
	if u.where != nil {
		b.WriteString(" WHERE ")
		u.where.render(b)
	}
	if len(u.returning) > 0 && u.dialect != dialect.MySQL {
		b.WriteString(" RETURNING ").IdentComma(u.returning...)
	}
	u.renderErr = b.Err()
	return b.Query()
}

// DeleteBuilder builds a DELETE statement.
type DeleteBuilder struct {
	dialect   string
	baseTotal int
	errs      []error
	renderErr error
	table     string
	where     *Predicate
}

// Delete returns a DeleteBuilder for the given table.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// SetDialect implements state.
func (d *DeleteBuilder) SetDialect(dl string) { d.dialect = dl }

// SetTotal implements state.
func (d *DeleteBuilder) SetTotal(total int) { d.baseTotal = total }

// Where appends the predicate to the WHERE clause, ANDed with any
// previous one.
func (d *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	if d.where == nil {
		d.where = p
	} else {
		d.where = And(d.where, p)
	}
	return d
}

// Err returns errors collected while building, plus the error of the
// latest render, if any.
func (d *DeleteBuilder) Err() error {
	errs := d.errs
	if d.renderErr != nil {
		errs = append(errs[:len(errs):len(errs)], d.renderErr)
	}
	return errors.Join(errs...)
}

// Query compiles the DELETE statement.
func (d *DeleteBuilder) Query() (string, []any) {
	b := &Builder{dialect: d.dialect, total: d.baseTotal}
	b.WriteString("DELETE FROM ").Ident(d.table)
	if d.where != nil {
		b.WriteString(" WHERE ")
		d.where.render(b)
	}
	d.renderErr = b.Err()
	return b.Query()
}

// WindowBound is one frame bound of a window specification.
type WindowBound struct {
	kind  boundKind
	count int
}

type boundKind uint8

const (
	boundUnboundedPreceding boundKind = iota
	boundPreceding
	boundCurrentRow
	boundFollowing
	boundUnboundedFollowing
)

// UnboundedPreceding returns the UNBOUNDED PRECEDING frame bound.
func UnboundedPreceding() WindowBound { return WindowBound{kind: boundUnboundedPreceding} }

// Preceding returns an n PRECEDING frame bound.
func Preceding(n int) WindowBound { return WindowBound{kind: boundPreceding, count: n} }

// CurrentRow returns the CURRENT ROW frame bound.
func CurrentRow() WindowBound { return WindowBound{kind: boundCurrentRow} }

// Following returns an n FOLLOWING frame bound.
func Following(n int) WindowBound { return WindowBound{kind: boundFollowing, count: n} }

// UnboundedFollowing returns the UNBOUNDED FOLLOWING frame bound.
func UnboundedFollowing() WindowBound { return WindowBound{kind: boundUnboundedFollowing} }

func (w WindowBound) render(b *Builder) {
	switch w.kind {
	case boundUnboundedPreceding:
		b.WriteString("UNBOUNDED PRECEDING")
	case boundPreceding:
		b.WriteString(strconv.Itoa(w.count) + " PRECEDING")
	case boundCurrentRow:
		b.WriteString("CURRENT ROW")
	case boundFollowing:
		b.WriteString(strconv.Itoa(w.count) + " FOLLOWING")
	case boundUnboundedFollowing:
		b.WriteString("UNBOUNDED FOLLOWING")
	}
}

// WindowBuilder builds a window-function expression:
// FUNC(args) OVER (PARTITION BY ... ORDER BY ... ROWS BETWEEN ... AND ...).
type WindowBuilder struct {
	fn        string
	args      []string
	partition []string
	orders    []string
	framed    bool
	lo, hi    WindowBound
}

// Window returns a WindowBuilder for the given function over the given
// column arguments.
func Window(fn string, args ...string) *WindowBuilder {
	return &WindowBuilder{fn: fn, args: args}
}

// RowNumber returns a ROW_NUMBER() window builder.
func RowNumber() *WindowBuilder { return Window("ROW_NUMBER") }

// PartitionBy appends partition keys.
func (w *WindowBuilder) PartitionBy(columns ...string) *WindowBuilder {
	w.partition = append(w.partition, columns...)
	return w
}

// OrderBy appends order terms. Use Asc/Desc to set direction.
func (w *WindowBuilder) OrderBy(columns ...string) *WindowBuilder {
	w.orders = append(w.orders, columns...)
	return w
}

// Rows sets the frame to ROWS BETWEEN lo AND hi.
func (w *WindowBuilder) Rows(lo, hi WindowBound) *WindowBuilder {
	w.framed = true
	w.lo, w.hi = lo, hi
	return w
}

func (w *WindowBuilder) render(b *Builder) {
	b.WriteString(w.fn + "(")
	b.IdentComma(w.args...)
	b.WriteString(") OVER ")
	b.Nested(func(b *Builder) {
		wrote := false
		if len(w.partition) > 0 {
			b.WriteString("PARTITION BY ")
			b.IdentComma(w.partition...)
			wrote = true
		}
		if len(w.orders) > 0 {
			if wrote {
				b.Pad()
			}
			b.WriteString("ORDER BY ")
			b.IdentComma(w.orders...)
			wrote = true
		}
		if w.framed {
			if wrote {
				b.Pad()
			}
			b.WriteString("ROWS BETWEEN ")
			w.lo.render(b)
			b.WriteString(" AND ")
			w.hi.render(b)
		}
	})
}
