package sql_test

import (
	"testing"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
)

func BenchmarkSelector_Query(b *testing.B) {
	for i := 0; i < b.N; i++ {
		sql.Dialect(dialect.Postgres).
			Select("id", "name", "salary").
			From(sql.Table("employees").As("e")).
			Join(sql.Table("companies").As("c")).
			On("e.company_id", "c.id").
			Where(sql.And(sql.GT("e.salary", 100), sql.EQ("c.region", "eu"))).
			OrderBy(sql.Desc("e.salary")).
			Limit(10).
			Query()
	}
}

func BenchmarkInsert_Query(b *testing.B) {
	for i := 0; i < b.N; i++ {
		sql.Dialect(dialect.SQLite).
			Insert("employees").
			Columns("name", "salary", "version").
			Values("a8m", 100, 1).
			Values("nat", 200, 1).
			Query()
	}
}
