package sql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/dialect"
)

func TestSelector(t *testing.T) {
	t.Parallel()

	t.Run("simple", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.SQLite).
			Select("id", "name", "email").
			From(Table("users")).
			Query()
		assert.Equal(t, `SELECT "id", "name", "email" FROM "users"`, query)
		assert.Empty(t, args)
	})

	t.Run("where accumulates with AND", func(t *testing.T) {
		t.Parallel()
		s := Dialect(dialect.SQLite).
			Select("id").
			From(Table("users")).
			Where(EQ("active", true))
		s.Where(GT("age", 18))
		query, args := s.Query()
		assert.Equal(t, `SELECT "id" FROM "users" WHERE ("active" = ?) AND ("age" > ?)`, query)
		assert.Equal(t, []any{true, 18}, args)
	})

	t.Run("join with alias", func(t *testing.T) {
		t.Parallel()
		users := Table("users").As("u")
		posts := Table("posts").As("p")
		query, args := Dialect(dialect.SQLite).
			Select("u.id", "p.title").
			From(users).
			Join(posts).On(users.C("id"), posts.C("user_id")).
			Where(EQ("u.active", true)).
			OrderBy("u.created_at").
			Limit(10).
			Query()
		assert.Equal(t, `SELECT "u"."id", "p"."title" FROM "users" AS "u" JOIN "posts" AS "p" ON "u"."id" = "p"."user_id" WHERE "u"."active" = ? ORDER BY "u"."created_at" LIMIT 10`, query)
		assert.Equal(t, []any{true}, args)
	})

	t.Run("postgres placeholders numbered", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.Postgres).
			Select("id").
			From(Table("users")).
			Where(And(EQ("name", "a8m"), In("org", "fb", "ent"))).
			Query()
		assert.Equal(t, `SELECT "id" FROM "users" WHERE ("name" = $1) AND ("org" IN ($2, $3))`, query)
		assert.Equal(t, []any{"a8m", "fb", "ent"}, args)
	})

	t.Run("empty IN compiles to FALSE", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.SQLite).
			Select("id").
			From(Table("users")).
			Where(In("org")).
			Query()
		assert.Equal(t, `SELECT "id" FROM "users" WHERE FALSE`, query)
		assert.Empty(t, args)
	})

	t.Run("group by and having", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.SQLite).
			Select("company_id").
			SelectRaw("COUNT(*)").
			From(Table("employees")).
			GroupBy("company_id").
			Having(ExprP("COUNT(*) > {0}", 5)).
			Query()
		assert.Equal(t, `SELECT "company_id", COUNT(*) FROM "employees" GROUP BY "company_id" HAVING COUNT(*) > ?`, query)
		assert.Equal(t, []any{5}, args)
	})

	t.Run("offset and limit", func(t *testing.T) {
		t.Parallel()
		query, _ := Dialect(dialect.SQLite).
			Select("id").
			From(Table("users")).
			OrderBy("id").
			Limit(10).
			Offset(20).
			Query()
		assert.Equal(t, `SELECT "id" FROM "users" ORDER BY "id" LIMIT 10 OFFSET 20`, query)
	})

	t.Run("order direction helpers", func(t *testing.T) {
		t.Parallel()
		query, _ := Dialect(dialect.SQLite).
			Select("id").
			From(Table("users")).
			OrderBy(Desc("created_at"), Asc("id")).
			Query()
		assert.Equal(t, `SELECT "id" FROM "users" ORDER BY created_at DESC, id ASC`, query)
	})

	t.Run("distinct", func(t *testing.T) {
		t.Parallel()
		query, _ := Dialect(dialect.SQLite).
			Select("company_id").
			From(Table("employees")).
			Distinct().
			Query()
		assert.Equal(t, `SELECT DISTINCT "company_id" FROM "employees"`, query)
	})

	t.Run("mysql quotes with backticks", func(t *testing.T) {
		t.Parallel()
		query, _ := Dialect(dialect.MySQL).
			Select("id").
			From(Table("users")).
			Where(EQ("name", "a8m")).
			Query()
		assert.Equal(t, "SELECT `id` FROM `users` WHERE `name` = ?", query)
	})
}

func TestSelectorSetOps(t *testing.T) {
	t.Parallel()

	t.Run("union wraps both sides", func(t *testing.T) {
		t.Parallel()
		other := Select("name").From(Table("admins"))
		query, args := Dialect(dialect.SQLite).
			Select("name").
			From(Table("users")).
			Where(EQ("active", true)).
			Union(other).
			Query()
		assert.Equal(t, `(SELECT "name" FROM "users" WHERE "active" = ?) UNION (SELECT "name" FROM "admins")`, query)
		assert.Equal(t, []any{true}, args)
	})

	t.Run("union all keeps duplicates keyword", func(t *testing.T) {
		t.Parallel()
		query, _ := Dialect(dialect.SQLite).
			Select("name").From(Table("a")).
			UnionAll(Select("name").From(Table("b"))).
			Query()
		assert.Equal(t, `(SELECT "name" FROM "a") UNION ALL (SELECT "name" FROM "b")`, query)
	})

	t.Run("intersect and except", func(t *testing.T) {
		t.Parallel()
		query, _ := Dialect(dialect.SQLite).
			Select("name").From(Table("a")).
			Intersect(Select("name").From(Table("b"))).
			Query()
		assert.Contains(t, query, " INTERSECT ")

		query, _ = Dialect(dialect.SQLite).
			Select("name").From(Table("a")).
			Except(Select("name").From(Table("b"))).
			Query()
		assert.Contains(t, query, " EXCEPT ")
	})

	t.Run("postgres numbering spans set operands", func(t *testing.T) {
		t.Parallel()
		other := Select("name").From(Table("admins")).Where(EQ("level", 3))
		query, args := Dialect(dialect.Postgres).
			Select("name").
			From(Table("users")).
			Where(EQ("active", true)).
			Union(other).
			Query()
		assert.Equal(t, `(SELECT "name" FROM "users" WHERE "active" = $1) UNION (SELECT "name" FROM "admins" WHERE "level" = $2)`, query)
		assert.Equal(t, []any{true, 3}, args)
	})
}

func TestSelectorCTE(t *testing.T) {
	t.Parallel()

	t.Run("plain cte", func(t *testing.T) {
		t.Parallel()
		body := Select("id").From(Table("employees")).Where(GT("salary", 1000))
		query, args := Dialect(dialect.SQLite).
			Select("id").
			From(Table("top_earners")).
			With("top_earners", body).
			Query()
		assert.Equal(t, `WITH "top_earners" AS (SELECT "id" FROM "employees" WHERE "salary" > ?) SELECT "id" FROM "top_earners"`, query)
		assert.Equal(t, []any{1000}, args)
	})

	t.Run("recursive cte", func(t *testing.T) {
		t.Parallel()
		anchor := RawQuery(`SELECT "id", "manager_id" FROM "employees" WHERE "manager_id" IS NULL`)
		recur := RawQuery(`SELECT e."id", e."manager_id" FROM "employees" e JOIN "chain" c ON e."manager_id" = c."id"`)
		query, _ := Dialect(dialect.SQLite).
			Select("id").
			From(Table("chain")).
			WithRecursive("chain", anchor, recur).
			Query()
		assert.Contains(t, query, `WITH RECURSIVE "chain" AS ((SELECT`)
		assert.Contains(t, query, `) UNION ALL (`)
	})
}

func TestSelectorRaw(t *testing.T) {
	t.Parallel()

	t.Run("where raw substitutes positional args", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.SQLite).
			Select("id").
			From(Table("users")).
			WhereRaw("age BETWEEN {0} AND {1}", 18, 65).
			Query()
		assert.Equal(t, `SELECT "id" FROM "users" WHERE age BETWEEN ? AND ?`, query)
		assert.Equal(t, []any{18, 65}, args)
	})

	t.Run("raw args can repeat and reorder", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.SQLite).
			Select("id").
			From(Table("users")).
			WhereRaw("name = {1} OR nickname = {1} OR email = {0}", "a@b.c", "a8m").
			Query()
		assert.Equal(t, `SELECT "id" FROM "users" WHERE name = ? OR nickname = ? OR email = ?`, query)
		assert.Equal(t, []any{"a8m", "a8m", "a@b.c"}, args)
	})

	t.Run("from raw and join raw", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.SQLite).
			Select("id").
			FromRaw("generate_series({0}, {1}) AS g", 1, 10).
			JoinRaw("JOIN users ON users.id = g.value").
			Query()
		assert.Equal(t, `SELECT "id" FROM generate_series(?, ?) AS g JOIN users ON users.id = g.value`, query)
		assert.Equal(t, []any{1, 10}, args)
	})

	t.Run("out of range marker is an error", func(t *testing.T) {
		t.Parallel()
		s := Dialect(dialect.SQLite).
			Select("id").
			From(Table("users")).
			WhereRaw("age > {3}", 1)
		s.Query()
		require.Error(t, s.Err())
	})
}

func TestSelectorWindow(t *testing.T) {
	t.Parallel()

	t.Run("row number over partition", func(t *testing.T) {
		t.Parallel()
		w := RowNumber().PartitionBy("company_id").OrderBy(Desc("salary"))
		query, _ := Dialect(dialect.SQLite).
			Select("id").
			SelectWindow("rank", w).
			From(Table("employees")).
			Query()
		assert.Equal(t, `SELECT "id", ROW_NUMBER() OVER (PARTITION BY "company_id" ORDER BY salary DESC) AS "rank" FROM "employees"`, query)
	})

	t.Run("frame bounds", func(t *testing.T) {
		t.Parallel()
		w := Window("SUM", "salary").
			OrderBy("hired_at").
			Rows(UnboundedPreceding(), CurrentRow())
		query, _ := Dialect(dialect.SQLite).
			Select("id").
			SelectWindow("running_total", w).
			From(Table("employees")).
			Query()
		assert.Contains(t, query, `SUM("salary") OVER (ORDER BY "hired_at" ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW)`)
	})

	t.Run("numeric bounds", func(t *testing.T) {
		t.Parallel()
		w := Window("AVG", "salary").
			OrderBy("hired_at").
			Rows(Preceding(3), Following(1))
		query, _ := Dialect(dialect.SQLite).
			Select("id").
			SelectWindow("moving_avg", w).
			From(Table("employees")).
			Query()
		assert.Contains(t, query, "ROWS BETWEEN 3 PRECEDING AND 1 FOLLOWING")
	})
}

func TestInsertBuilder(t *testing.T) {
	t.Parallel()

	t.Run("multi row", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.SQLite).
			Insert("users").
			Columns("name", "age").
			Values("a8m", 30).
			Values("nati", 28).
			Query()
		assert.Equal(t, `INSERT INTO "users" ("name", "age") VALUES (?, ?), (?, ?)`, query)
		assert.Equal(t, []any{"a8m", 30, "nati", 28}, args)
	})

	t.Run("returning on postgres", func(t *testing.T) {
		t.Parallel()
		query, _ := Dialect(dialect.Postgres).
			Insert("users").
			Columns("name").
			Values("a8m").
			Returning("id").
			Query()
		assert.Equal(t, `INSERT INTO "users" ("name") VALUES ($1) RETURNING "id"`, query)
	})

	t.Run("returning dropped on mysql", func(t *testing.T) {
		t.Parallel()
		query, _ := Dialect(dialect.MySQL).
			Insert("users").
			Columns("name").
			Values("a8m").
			Returning("id").
			Query()
		assert.Equal(t, "INSERT INTO `users` (`name`) VALUES (?)", query)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		query, _ := Dialect(dialect.SQLite).Insert("users").Default().Query()
		assert.Equal(t, `INSERT INTO "users" DEFAULT VALUES`, query)

		query, _ = Dialect(dialect.MySQL).Insert("users").Default().Query()
		assert.Equal(t, "INSERT INTO `users` () VALUES ()", query)
	})

	t.Run("mismatched row arity is an error", func(t *testing.T) {
		t.Parallel()
		i := Dialect(dialect.SQLite).
			Insert("users").
			Columns("name", "age").
			Values("a8m")
		i.Query()
		require.Error(t, i.Err())
	})
}

func TestUpdateBuilder(t *testing.T) {
	t.Parallel()

	t.Run("set and where", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.SQLite).
			Update("users").
			Set("name", "a8m").
			Set("age", 30).
			Where(EQ("id", 1)).
			Query()
		assert.Equal(t, `UPDATE "users" SET "name" = ?, "age" = ? WHERE "id" = ?`, query)
		assert.Equal(t, []any{"a8m", 30, 1}, args)
	})

	t.Run("add renders self referential set", func(t *testing.T) {
		t.Parallel()
		query, args := Dialect(dialect.SQLite).
			Update("employees").
			Add("version", 1).
			Where(And(EQ("id", 7), EQ("version", 3))).
			Query()
		assert.Equal(t, `UPDATE "employees" SET "version" = "version" + ? WHERE ("id" = ?) AND ("version" = ?)`, query)
		assert.Equal(t, []any{1, 7, 3}, args)
	})

	t.Run("empty set is an error", func(t *testing.T) {
		t.Parallel()
		u := Dialect(dialect.SQLite).Update("users").Where(EQ("id", 1))
		u.Query()
		require.Error(t, u.Err())
	})
}

func TestDeleteBuilder(t *testing.T) {
	t.Parallel()

	query, args := Dialect(dialect.Postgres).
		Delete("users").
		Where(In("id", 1, 2, 3)).
		Query()
	assert.Equal(t, `DELETE FROM "users" WHERE "id" IN ($1, $2, $3)`, query)
	assert.Equal(t, []any{1, 2, 3}, args)
}

func TestSelectorRecompileErr(t *testing.T) {
	t.Parallel()
	bad := errors.New("bad fragment")
	s := Dialect(dialect.SQLite).
		Select("id").
		From(Table("users")).
		Where(P(func(b *Builder) { b.AddError(bad) }))

	s.Query()
	first := s.Err()
	require.ErrorIs(t, first, bad)

	// Recompiling reports the same render error once, not stacked per
	// call.
	s.Query()
	s.Query()
	assert.Equal(t, first.Error(), s.Err().Error())
}
