package expr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/expr"
)

func BenchmarkTranslate(b *testing.B) {
	cols := expr.Columns{
		"Name":   {Name: "name", Type: expr.TypeString},
		"Salary": {Name: "salary", Type: expr.TypeFloat},
		"Age":    {Name: "age", Type: expr.TypeInt},
	}
	n := expr.And(
		expr.GT(expr.F("Salary"), expr.V(100.0)),
		expr.Or(
			expr.HasPrefix(expr.F("Name"), "a"),
			expr.LT(expr.F("Age"), expr.V(30)),
		),
	)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := expr.Translate(n, cols)
		require.NoError(b, err)
	}
}
