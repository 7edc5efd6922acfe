package strata

import (
	"context"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/schema"
)

// Relation describes how related rows attach to a parent entity.
// Loading is batched: one follow-up query per relation collects every
// related row for the whole parent set with a keyed IN filter, then
// attaches each row to its owners.
type Relation[P any] struct {
	name string
	load func(ctx context.Context, conn dialect.ExecQuerier, d string, parents []*P) error
}

// Name returns the relation name.
func (r Relation[P]) Name() string { return r.name }

// HasMany declares a one-to-many relation: child rows whose foreign
// key matches the parent key attach as a slice. parentKey reads the
// matched key from a parent, childFK names the foreign-key field on
// the child table, and attach stores the loaded children on a parent.
// Nested relations load one level deeper, keyed off the attached
// children.
func HasMany[P, C any](name string, child *schema.Table[C], parentKey func(*P) any, childFK string, attach func(*P, []*C), nested ...Relation[C]) Relation[P] {
	return Relation[P]{
		name: name,
		load: func(ctx context.Context, conn dialect.ExecQuerier, d string, parents []*P) error {
			byKey, err := loadChildren(ctx, conn, d, child, childFK, parents, parentKey, nested)
			if err != nil {
				return err
			}
			for _, p := range parents {
				attach(p, byKey[parentKey(p)])
			}
			return nil
		},
	}
}

// HasOne declares a one-to-one relation: at most one child row
// attaches per parent. When several child rows share a key, the first
// returned row wins.
func HasOne[P, C any](name string, child *schema.Table[C], parentKey func(*P) any, childFK string, attach func(*P, *C), nested ...Relation[C]) Relation[P] {
	return Relation[P]{
		name: name,
		load: func(ctx context.Context, conn dialect.ExecQuerier, d string, parents []*P) error {
			byKey, err := loadChildren(ctx, conn, d, child, childFK, parents, parentKey, nested)
			if err != nil {
				return err
			}
			for _, p := range parents {
				if cs := byKey[parentKey(p)]; len(cs) > 0 {
					attach(p, cs[0])
				}
			}
			return nil
		},
	}
}

// loadChildren runs the one batched query for a relation level and
// groups the rows by foreign-key value.
func loadChildren[P, C any](ctx context.Context, conn dialect.ExecQuerier, d string, child *schema.Table[C], childFK string, parents []*P, parentKey func(*P) any, nested []Relation[C]) (map[any][]*C, error) {
	keys := distinctKeys(parents, parentKey)
	if len(keys) == 0 {
		return nil, nil
	}
	fk, ok := child.Field(childFK)
	if !ok {
		return nil, NewNotFoundError(child.Label + "." + childFK)
	}
	fkCol, _ := child.ColumnName(childFK)
	s := sql.Dialect(d).
		Select(child.Columns()...).
		From(sql.Table(child.Name)).
		Where(sql.In(fkCol, keys...))
	query, args := s.Query()
	if err := s.Err(); err != nil {
		return nil, err
	}
	var rows sql.Rows
	if err := conn.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	var children []*C
	byKey := make(map[any][]*C)
	err := func() error {
		defer rows.Close()
		for rows.Next() {
			c := new(C)
			if err := rows.Scan(child.ScanDest(c)...); err != nil {
				return err
			}
			children = append(children, c)
			byKey[fk.Get(c)] = append(byKey[fk.Get(c)], c)
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, err
	}
	for _, rel := range nested {
		if err := rel.load(ctx, conn, d, children); err != nil {
			return nil, err
		}
	}
	return byKey, nil
}

func distinctKeys[P any](parents []*P, key func(*P) any) []any {
	seen := make(map[any]bool, len(parents))
	keys := make([]any, 0, len(parents))
	for _, p := range parents {
		k := key(p)
		if k == nil || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}
