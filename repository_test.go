package strata_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	strsql "github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/schema"
)

type employee struct {
	ID      int64
	Name    string
	Company int64
	Salary  float64
	Version int64
}

var employeeTable = schema.MustTable("employee",
	schema.Field[employee]{Name: "ID", Type: expr.TypeInt, PK: true, Auto: true,
		Get: func(e *employee) any { return e.ID }, Ptr: func(e *employee) any { return &e.ID }},
	schema.Field[employee]{Name: "Name", Type: expr.TypeString,
		Get: func(e *employee) any { return e.Name }, Ptr: func(e *employee) any { return &e.Name }},
	schema.Field[employee]{Name: "Company", Type: expr.TypeInt,
		Get: func(e *employee) any { return e.Company }, Ptr: func(e *employee) any { return &e.Company }},
	schema.Field[employee]{Name: "Salary", Type: expr.TypeFloat,
		Get: func(e *employee) any { return e.Salary }, Ptr: func(e *employee) any { return &e.Salary }},
	schema.Field[employee]{Name: "Version", Type: expr.TypeInt, Version: true,
		Get: func(e *employee) any { return e.Version }, Ptr: func(e *employee) any { return &e.Version }},
)

var dbSeq atomic.Int64

// openDriver opens a dedicated shared-cache in-memory database per
// test, so parallel tests never see each other's rows.
func openDriver(t *testing.T) *strsql.Driver {
	t.Helper()
	dsn := fmt.Sprintf("file:strata_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	drv, err := strsql.OpenSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	err = drv.Exec(context.Background(), `CREATE TABLE employees (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		company INTEGER NOT NULL,
		salary REAL NOT NULL,
		version INTEGER NOT NULL
	)`, []any{}, nil)
	require.NoError(t, err)
	return drv
}

func seedEmployee(t *testing.T, r *strata.Repository[employee], name string, company int64, salary float64) *employee {
	t.Helper()
	e := &employee{Name: name, Company: company, Salary: salary}
	require.NoError(t, r.Create(context.Background(), e))
	return e
}

func TestRepositoryCreate(t *testing.T) {
	t.Parallel()
	r := strata.NewRepository(openDriver(t), employeeTable)
	ctx := context.Background()

	e := &employee{Name: "a8m", Company: 50, Salary: 100, Version: 99}
	require.NoError(t, r.Create(ctx, e))

	// Generated key read back; version forced to 1 server-side.
	assert.Equal(t, int64(1), e.ID)
	assert.Equal(t, int64(1), e.Version)

	got, err := r.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestRepositoryCreateBulk(t *testing.T) {
	t.Parallel()
	r := strata.NewRepository(openDriver(t), employeeTable, strata.WithBatchSize[employee](2))
	ctx := context.Background()

	es := make([]*employee, 5)
	for i := range es {
		es[i] = &employee{Name: fmt.Sprintf("e%d", i), Company: 1, Salary: float64(i)}
	}
	require.NoError(t, r.CreateBulk(ctx, es))

	for i, e := range es {
		assert.Equal(t, int64(i+1), e.ID)
		assert.Equal(t, int64(1), e.Version)
	}
	n, err := r.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestRepositoryGetNotFound(t *testing.T) {
	t.Parallel()
	r := strata.NewRepository(openDriver(t), employeeTable)
	_, err := r.Get(context.Background(), 404)
	assert.True(t, strata.IsNotFound(err))
}

func TestRepositoryUpdate(t *testing.T) {
	t.Parallel()
	r := strata.NewRepository(openDriver(t), employeeTable)
	ctx := context.Background()
	e := seedEmployee(t, r, "a8m", 50, 100)

	e.Salary = 120
	updated, err := r.Update(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := r.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 120.0, got.Salary)
	assert.Equal(t, int64(2), got.Version)
	assert.Contains(t, r.LastSQL(), "SELECT")
}

func TestRepositoryUpdateConflictThrow(t *testing.T) {
	t.Parallel()
	r := strata.NewRepository(openDriver(t), employeeTable)
	ctx := context.Background()
	e := seedEmployee(t, r, "a8m", 50, 100)

	fresh, err := r.Get(ctx, e.ID)
	require.NoError(t, err)
	stale, err := r.Get(ctx, e.ID)
	require.NoError(t, err)

	fresh.Salary = 110
	_, err = r.Update(ctx, fresh)
	require.NoError(t, err)

	stale.Salary = 90
	_, err = r.Update(ctx, stale)
	require.True(t, strata.IsConflict(err))
	var cerr *strata.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, int64(1), cerr.ExpectedVersion())

	// The winning write is intact.
	got, err := r.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 110.0, got.Salary)
}

func TestRepositoryUpdateClientWins(t *testing.T) {
	t.Parallel()
	drv := openDriver(t)
	base := strata.NewRepository(drv, employeeTable)
	r := strata.NewRepository(drv, employeeTable, strata.WithStrategy(strata.ClientWins[employee]()))
	ctx := context.Background()
	e := seedEmployee(t, base, "a8m", 50, 100)

	fresh, _ := base.Get(ctx, e.ID)
	stale, _ := base.Get(ctx, e.ID)
	fresh.Salary = 110
	_, err := base.Update(ctx, fresh) // database now at version 2
	require.NoError(t, err)

	stale.Salary = 90
	resolved, err := r.Update(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resolved.Version)

	got, err := base.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 90.0, got.Salary)
	assert.Equal(t, int64(3), got.Version)
}

func TestRepositoryUpdateDatabaseWins(t *testing.T) {
	t.Parallel()
	drv := openDriver(t)
	base := strata.NewRepository(drv, employeeTable)
	r := strata.NewRepository(drv, employeeTable, strata.WithStrategy(strata.DatabaseWins[employee]()))
	ctx := context.Background()
	e := seedEmployee(t, base, "a8m", 50, 100)

	fresh, _ := base.Get(ctx, e.ID)
	stale, _ := base.Get(ctx, e.ID)
	fresh.Salary = 110
	_, err := base.Update(ctx, fresh)
	require.NoError(t, err)

	stale.Salary = 90
	resolved, err := r.Update(ctx, stale)
	require.NoError(t, err)

	// Incoming changes discarded, persisted row returned unchanged.
	assert.Equal(t, 110.0, resolved.Salary)
	assert.Equal(t, int64(2), resolved.Version)
	got, err := base.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 110.0, got.Salary)
	assert.Equal(t, int64(2), got.Version)
}

func TestRepositoryUpdateMerge(t *testing.T) {
	t.Parallel()
	drv := openDriver(t)
	base := strata.NewRepository(drv, employeeTable)
	r := strata.NewRepository(drv, employeeTable, strata.WithStrategy(strata.Merge[employee]()))
	ctx := context.Background()
	e := seedEmployee(t, base, "A", 50, 100)

	baseline, _ := base.Get(ctx, e.ID)
	incoming, _ := base.Get(ctx, e.ID)
	concurrent, _ := base.Get(ctx, e.ID)

	// A concurrent writer renames; the incoming update moves company.
	concurrent.Name = "B"
	_, err := base.Update(ctx, concurrent)
	require.NoError(t, err)

	incoming.Company = 100
	merged, err := r.Update(ctx, incoming, baseline)
	require.NoError(t, err)

	// Each field takes the side that changed.
	assert.Equal(t, "B", merged.Name)
	assert.Equal(t, int64(100), merged.Company)
	assert.Equal(t, int64(3), merged.Version)

	got, err := base.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Name)
	assert.Equal(t, int64(100), got.Company)
}

func TestRepositoryUpdateMergeIgnored(t *testing.T) {
	t.Parallel()
	drv := openDriver(t)
	base := strata.NewRepository(drv, employeeTable)
	r := strata.NewRepository(drv, employeeTable, strata.WithStrategy(strata.Merge[employee]("Salary")))
	ctx := context.Background()
	e := seedEmployee(t, base, "A", 50, 100)

	baseline, _ := base.Get(ctx, e.ID)
	incoming, _ := base.Get(ctx, e.ID)
	concurrent, _ := base.Get(ctx, e.ID)

	concurrent.Salary = 200
	_, err := base.Update(ctx, concurrent)
	require.NoError(t, err)

	// The ignored field keeps the database value even though the
	// incoming side changed it too.
	incoming.Salary = 500
	merged, err := r.Update(ctx, incoming, baseline)
	require.NoError(t, err)
	assert.Equal(t, 200.0, merged.Salary)
}

func TestRepositoryUpdateMergeNoBaseline(t *testing.T) {
	t.Parallel()
	drv := openDriver(t)
	base := strata.NewRepository(drv, employeeTable)
	r := strata.NewRepository(drv, employeeTable, strata.WithStrategy(strata.Merge[employee]()))
	ctx := context.Background()
	e := seedEmployee(t, base, "A", 50, 100)

	fresh, _ := base.Get(ctx, e.ID)
	stale, _ := base.Get(ctx, e.ID)
	fresh.Salary = 110
	_, err := base.Update(ctx, fresh)
	require.NoError(t, err)

	stale.Salary = 90
	_, err = r.Update(ctx, stale)
	assert.ErrorIs(t, err, strata.ErrNoBaseline)
}

func TestRepositoryUpdateCustomResolver(t *testing.T) {
	t.Parallel()
	drv := openDriver(t)
	base := strata.NewRepository(drv, employeeTable)
	resolver := func(ctx context.Context, c *strata.Conflict[employee]) (*employee, error) {
		// Keep the persisted row but take the larger salary.
		resolved := *c.Current
		if c.Incoming.Salary > resolved.Salary {
			resolved.Salary = c.Incoming.Salary
		}
		return &resolved, nil
	}
	r := strata.NewRepository(drv, employeeTable, strata.WithStrategy(strata.Custom(resolver)))
	ctx := context.Background()
	e := seedEmployee(t, base, "A", 50, 100)

	fresh, _ := base.Get(ctx, e.ID)
	stale, _ := base.Get(ctx, e.ID)
	fresh.Salary = 110
	_, err := base.Update(ctx, fresh)
	require.NoError(t, err)

	stale.Salary = 300
	resolved, err := r.Update(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, 300.0, resolved.Salary)
	assert.Equal(t, "A", resolved.Name)
	assert.Equal(t, int64(3), resolved.Version)
}

func TestRepositoryUpdateDeletedRow(t *testing.T) {
	t.Parallel()
	drv := openDriver(t)
	r := strata.NewRepository(drv, employeeTable, strata.WithStrategy(strata.ClientWins[employee]()))
	ctx := context.Background()
	e := seedEmployee(t, r, "A", 50, 100)
	require.NoError(t, r.Delete(ctx, e.ID))

	e.Salary = 90
	_, err := r.Update(ctx, e)
	assert.True(t, strata.IsNotFound(err))
}

func TestRepositoryUpdateMany(t *testing.T) {
	t.Parallel()
	r := strata.NewRepository(openDriver(t), employeeTable)
	ctx := context.Background()
	seedEmployee(t, r, "a", 1, 100)
	seedEmployee(t, r, "b", 1, 200)
	seedEmployee(t, r, "c", 2, 300)

	// Self-referential SET evaluated per row by the backend.
	n, err := r.UpdateMany(ctx,
		expr.EQ(expr.F("Company"), expr.V(1)),
		expr.Assigns(expr.A("Salary", expr.Mul(expr.F("Salary"), expr.V(2.0)))),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	es, err := r.Query().OrderBy("ID").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200.0, es[0].Salary)
	assert.Equal(t, 400.0, es[1].Salary)
	assert.Equal(t, 300.0, es[2].Salary)
}

func TestRepositoryUpdateManyTranslationError(t *testing.T) {
	t.Parallel()
	r := strata.NewRepository(openDriver(t), employeeTable)
	_, err := r.UpdateMany(context.Background(),
		expr.EQ(expr.F("Nope"), expr.V(1)),
		expr.Assigns(expr.A("Salary", expr.V(1.0))),
	)
	assert.True(t, expr.IsUnknownField(err))
}

func TestRepositoryDelete(t *testing.T) {
	t.Parallel()
	r := strata.NewRepository(openDriver(t), employeeTable)
	ctx := context.Background()
	e := seedEmployee(t, r, "a", 1, 100)

	require.NoError(t, r.Delete(ctx, e.ID))
	assert.True(t, strata.IsNotFound(r.Delete(ctx, e.ID)))

	n, err := r.DeleteMany(ctx, expr.GT(expr.F("Salary"), expr.V(0.0)))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
