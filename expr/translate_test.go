package expr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/expr"
)

var cols = expr.Columns{
	"id":      {Name: "id", Type: expr.TypeInt},
	"name":    {Name: "name", Type: expr.TypeString},
	"salary":  {Name: "salary", Type: expr.TypeFloat},
	"bonus":   {Name: "bonus", Type: expr.TypeFloat},
	"active":  {Name: "active", Type: expr.TypeBool},
	"company": {Name: "company_id", Type: expr.TypeInt},
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		node expr.Node
		sql  string
		args []any
	}{
		{
			name: "constant binds as parameter",
			node: expr.EQ(expr.F("name"), expr.V("a8m")),
			sql:  `("name" = ?)`,
			args: []any{"a8m"},
		},
		{
			name: "field against field",
			node: expr.GT(expr.F("salary"), expr.F("bonus")),
			sql:  `("salary" > "bonus")`,
		},
		{
			name: "arithmetic fully parenthesized",
			node: expr.Add(expr.F("salary"), expr.F("bonus")),
			sql:  `("salary" + "bonus")`,
		},
		{
			name: "nested binary keeps structure",
			node: expr.Mul(expr.Add(expr.F("salary"), expr.F("bonus")), expr.V(2)),
			sql:  `(("salary" + "bonus") * ?)`,
			args: []any{2},
		},
		{
			name: "and/or nest left to right",
			node: expr.And(
				expr.GTE(expr.F("salary"), expr.V(100.0)),
				expr.EQ(expr.F("active"), expr.V(true)),
				expr.NEQ(expr.F("id"), expr.V(1)),
			),
			sql:  `((("salary" >= ?) AND ("active" = ?)) AND ("id" <> ?))`,
			args: []any{100.0, true, 1},
		},
		{
			name: "not wraps operand",
			node: expr.Not(expr.EQ(expr.F("active"), expr.V(true))),
			sql:  `NOT (("active" = ?))`,
			args: []any{true},
		},
		{
			name: "conditional",
			node: expr.If(
				expr.GT(expr.F("salary"), expr.V(100.0)),
				expr.V("high"),
				expr.V("low"),
			),
			sql:  `CASE WHEN ("salary" > ?) THEN ? ELSE ? END`,
			args: []any{100.0, "high", "low"},
		},
		{
			name: "nested conditionals nest case bodies",
			node: expr.If(
				expr.GT(expr.F("salary"), expr.V(100.0)),
				expr.V("high"),
				expr.If(expr.GT(expr.F("salary"), expr.V(50.0)), expr.V("mid"), expr.V("low")),
			),
			sql:  `CASE WHEN ("salary" > ?) THEN ? ELSE CASE WHEN ("salary" > ?) THEN ? ELSE ? END END`,
			args: []any{100.0, "high", 50.0, "mid", "low"},
		},
		{
			name: "upper and lower",
			node: expr.EQ(expr.Upper(expr.F("name")), expr.Lower(expr.V("A8M"))),
			sql:  `(UPPER("name") = LOWER(?))`,
			args: []any{"A8M"},
		},
		{
			name: "contains wraps both sides",
			node: expr.Contains(expr.F("name"), "8"),
			sql:  `("name" LIKE ?)`,
			args: []any{"%8%"},
		},
		{
			name: "prefix wraps right side only",
			node: expr.HasPrefix(expr.F("name"), "a"),
			sql:  `("name" LIKE ?)`,
			args: []any{"a%"},
		},
		{
			name: "suffix wraps left side only",
			node: expr.HasSuffix(expr.F("name"), "m"),
			sql:  `("name" LIKE ?)`,
			args: []any{"%m"},
		},
		{
			// Wildcards in the needle pass through to the backend
			// unescaped; callers escape when they need a literal match.
			name: "wildcards in the needle pass through",
			node: expr.Contains(expr.F("name"), "50%"),
			sql:  `("name" LIKE ?)`,
			args: []any{"%50%%"},
		},
		{
			name: "substr corrects to one-based",
			node: expr.Substr(expr.F("name"), 0, 2),
			sql:  `SUBSTR("name", ?, ?)`,
			args: []any{1, 2},
		},
		{
			name: "replace",
			node: expr.Replace(expr.F("name"), expr.V("a"), expr.V("b")),
			sql:  `REPLACE("name", ?, ?)`,
			args: []any{"a", "b"},
		},
		{
			name: "round",
			node: expr.Round(expr.F("salary"), 2),
			sql:  `ROUND("salary", ?)`,
			args: []any{2},
		},
		{
			name: "coalesce",
			node: expr.Coalesce(expr.F("bonus"), expr.V(0.0)),
			sql:  `COALESCE("bonus", ?)`,
			args: []any{0.0},
		},
		{
			name: "concat folds to nested operators",
			node: expr.Concat(expr.F("name"), expr.V(" "), expr.F("name")),
			sql:  `(("name" || ?) || "name")`,
			args: []any{" "},
		},
		{
			name: "count star",
			node: expr.GT(expr.Count(), expr.V(5)),
			sql:  `(COUNT(*) > ?)`,
			args: []any{5},
		},
		{
			name: "aggregates over a field",
			node: expr.GTE(expr.Avg(expr.F("salary")), expr.Sum(expr.F("bonus"))),
			sql:  `(AVG("salary") >= SUM("bonus"))`,
		},
		{
			name: "min and max aggregates",
			node: expr.GT(expr.Max(expr.F("salary")), expr.Min(expr.F("salary"))),
			sql:  `(MAX("salary") > MIN("salary"))`,
		},
		{
			name: "set renders pairs in declaration order",
			node: expr.Assigns(
				expr.A("salary", expr.Mul(expr.F("salary"), expr.V(1.1))),
				expr.A("active", expr.V(false)),
			),
			sql:  `"salary" = ("salary" * ?), "active" = ?`,
			args: []any{1.1, false},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := expr.Translate(tt.node, cols)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, res.SQL)
			assert.Equal(t, tt.args, res.Args)
		})
	}
}

func TestTranslateDialects(t *testing.T) {
	t.Parallel()

	t.Run("postgres numbers placeholders", func(t *testing.T) {
		t.Parallel()
		res, err := expr.Translate(
			expr.And(
				expr.EQ(expr.F("name"), expr.V("a8m")),
				expr.GT(expr.F("salary"), expr.V(10.0)),
			),
			cols,
			expr.WithDialect(dialect.Postgres),
		)
		require.NoError(t, err)
		assert.Equal(t, `(("name" = $1) AND ("salary" > $2))`, res.SQL)
		assert.Equal(t, []any{"a8m", 10.0}, res.Args)
	})

	t.Run("postgres respects arg offset", func(t *testing.T) {
		t.Parallel()
		res, err := expr.Translate(
			expr.EQ(expr.F("id"), expr.V(3)),
			cols,
			expr.WithDialect(dialect.Postgres),
			expr.WithArgOffset(2),
		)
		require.NoError(t, err)
		assert.Equal(t, `("id" = $3)`, res.SQL)
	})

	t.Run("mysql quotes with backticks and uses CONCAT", func(t *testing.T) {
		t.Parallel()
		res, err := expr.Translate(
			expr.Concat(expr.F("name"), expr.V("!")),
			cols,
			expr.WithDialect(dialect.MySQL),
		)
		require.NoError(t, err)
		assert.Equal(t, "CONCAT(`name`, ?)", res.SQL)
	})

	t.Run("now literal per dialect", func(t *testing.T) {
		t.Parallel()
		res, err := expr.Translate(expr.Now(), cols)
		require.NoError(t, err)
		assert.Equal(t, "DATETIME('now')", res.SQL)

		res, err = expr.Translate(expr.Now(), cols, expr.WithDialect(dialect.Postgres))
		require.NoError(t, err)
		assert.Equal(t, "NOW()", res.SQL)
	})

	t.Run("greatest/least spell MAX/MIN on sqlite", func(t *testing.T) {
		t.Parallel()
		res, err := expr.Translate(expr.Greatest(expr.F("salary"), expr.F("bonus")), cols)
		require.NoError(t, err)
		assert.Equal(t, `MAX("salary", "bonus")`, res.SQL)

		res, err = expr.Translate(expr.Greatest(expr.F("salary"), expr.F("bonus")), cols, expr.WithDialect(dialect.Postgres))
		require.NoError(t, err)
		assert.Equal(t, `GREATEST("salary", "bonus")`, res.SQL)
	})
}

func TestTranslateErrors(t *testing.T) {
	t.Parallel()

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		_, err := expr.Translate(expr.EQ(expr.F("nope"), expr.V(1)), cols)
		require.Error(t, err)
		assert.True(t, expr.IsUnknownField(err))
		assert.Contains(t, err.Error(), `"nope"`)
	})

	t.Run("unsupported call", func(t *testing.T) {
		t.Parallel()
		_, err := expr.Translate(expr.Call{Fn: "sin", Args: []expr.Node{expr.F("salary")}}, cols)
		require.Error(t, err)
		assert.True(t, expr.IsUnsupportedExpr(err))
		assert.Contains(t, err.Error(), "sin")
	})

	t.Run("unsupported operator", func(t *testing.T) {
		t.Parallel()
		_, err := expr.Translate(expr.Binary{Op: "<=>", X: expr.F("id"), Y: expr.V(1)}, cols)
		require.Error(t, err)
		assert.True(t, expr.IsUnsupportedExpr(err))
	})

	t.Run("type mismatch on comparison", func(t *testing.T) {
		t.Parallel()
		_, err := expr.Translate(expr.EQ(expr.F("id"), expr.V("one")), cols)
		require.Error(t, err)
		assert.True(t, expr.IsTypeMismatch(err))
	})

	t.Run("type mismatch on assignment", func(t *testing.T) {
		t.Parallel()
		_, err := expr.Translate(expr.Assigns(expr.A("salary", expr.V("lots"))), cols)
		require.Error(t, err)
		assert.True(t, expr.IsTypeMismatch(err))
	})

	t.Run("int constant assigns to float column", func(t *testing.T) {
		t.Parallel()
		_, err := expr.Translate(expr.Assigns(expr.A("salary", expr.V(100))), cols)
		require.NoError(t, err)
	})

	t.Run("unknown assignment target", func(t *testing.T) {
		t.Parallel()
		_, err := expr.Translate(expr.Assigns(expr.A("nope", expr.V(1))), cols)
		require.Error(t, err)
		assert.True(t, expr.IsUnknownField(err))
	})
}
