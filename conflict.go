package strata

import (
	"context"

	"github.com/syssam/strata/schema"
)

// Conflict carries the three row states a resolver may consult when a
// versioned update loses the race: the row currently persisted, the
// incoming row that failed to apply, and the baseline snapshot the
// caller started from (nil unless supplied to Update).
type Conflict[T any] struct {
	Current  *T
	Incoming *T
	Baseline *T
}

// Resolver resolves a concurrency conflict by producing the row state
// to persist. Returning an error surfaces the conflict to the caller.
type Resolver[T any] func(ctx context.Context, c *Conflict[T]) (*T, error)

type strategyKind uint8

const (
	kindThrow strategyKind = iota
	kindClientWins
	kindDatabaseWins
	kindMerge
	kindCustom
)

// Strategy selects how a repository resolves concurrency conflicts.
// The zero value is Throw. Strategies form a closed set dispatched by
// switch, so adding one is a compile-visible change.
type Strategy[T any] struct {
	kind    strategyKind
	ignored map[string]bool
	custom  Resolver[T]
}

// Throw surfaces every conflict as a ConflictError and never mutates
// data. This is the default.
func Throw[T any]() Strategy[T] {
	return Strategy[T]{kind: kindThrow}
}

// ClientWins re-issues the update with the caller's values against the
// current database version, retried once.
func ClientWins[T any]() Strategy[T] {
	return Strategy[T]{kind: kindClientWins}
}

// DatabaseWins discards the incoming changes and returns the currently
// persisted row unchanged.
func DatabaseWins[T any]() Strategy[T] {
	return Strategy[T]{kind: kindDatabaseWins}
}

// Merge resolves conflicts with a field-by-field three-way merge of
// the baseline snapshot, the persisted row and the incoming row. The
// named fields are excluded from the merge and always take the
// persisted value.
func Merge[T any](ignored ...string) Strategy[T] {
	set := make(map[string]bool, len(ignored))
	for _, f := range ignored {
		set[f] = true
	}
	return Strategy[T]{kind: kindMerge, ignored: set}
}

// Custom delegates conflict resolution to the given resolver. The
// resolved row is re-applied against the current database version,
// retried once.
func Custom[T any](r Resolver[T]) Strategy[T] {
	return Strategy[T]{kind: kindCustom, custom: r}
}

// merge performs the three-way merge over the table's updatable
// fields. Per field: if neither side diverged from the baseline, the
// baseline value stays; if one side diverged, that side wins; if both
// diverged, the incoming value wins. Ignored fields take the persisted
// value unconditionally.
func (s Strategy[T]) merge(t *schema.Table[T], c *Conflict[T]) *T {
	merged := new(T)
	for _, f := range t.Fields {
		// Key, generated and version columns always carry the
		// persisted state.
		if f.PK || f.Auto || f.Version || s.ignored[f.Name] {
			f.CopyField(merged, c.Current)
			continue
		}
		base := f.Get(c.Baseline)
		cur := f.Get(c.Current)
		in := f.Get(c.Incoming)
		switch {
		case !schema.Equal(in, base):
			f.CopyField(merged, c.Incoming)
		case !schema.Equal(cur, base):
			f.CopyField(merged, c.Current)
		default:
			f.CopyField(merged, c.Baseline)
		}
	}
	return merged
}
