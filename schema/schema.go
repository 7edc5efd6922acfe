// Package schema describes how entity types map onto database tables.
//
// A Table holds one Field per column with typed accessor closures, so
// reading and writing entities needs no reflection on the scan path.
// Table metadata drives the query engine: column lists for SELECT,
// scan destinations, insert and update values, primary-key and
// version-column lookup, and the column typing used by the expression
// translator.
package schema

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"

	"github.com/syssam/strata/expr"
)

// Field describes one column of an entity type.
type Field[T any] struct {
	// Name is the logical field name used in errors and relations.
	Name string
	// Column is the database column. Derived from Name (snake_case)
	// when empty.
	Column string
	// Type is the value type used by the expression translator for
	// type checking.
	Type expr.Type
	// Get returns the field value of the entity.
	Get func(*T) any
	// Ptr returns a pointer to the field, used as a scan destination.
	Ptr func(*T) any
	// PK marks the primary-key column.
	PK bool
	// Auto marks a database-generated column (auto-increment keys).
	// Auto columns are omitted from INSERT column lists.
	Auto bool
	// Version marks the optimistic-concurrency version column.
	Version bool
	// Immutable columns are set on insert and never updated.
	Immutable bool
	// Nullable columns accept NULL.
	Nullable bool
	// Default provides a value for zero-valued fields on insert, e.g.
	// UUID or Now.
	Default func() any
}

// column returns the database column of the field.
func (f Field[T]) column() string {
	if f.Column != "" {
		return f.Column
	}
	return snakeCase(f.Name)
}

// snakeCase converts a Go identifier to snake_case, keeping acronym
// runs as one word: "EmployeeID" becomes "employee_id", "URLPath"
// becomes "url_path".
func snakeCase(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	rs := []rune(name)
	for i, r := range rs {
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}
		if i > 0 && (!unicode.IsUpper(rs[i-1]) || (i+1 < len(rs) && unicode.IsLower(rs[i+1]))) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Table maps an entity type onto a database table.
type Table[T any] struct {
	// Name is the table name. Derived from Label (snake_case, plural)
	// when empty.
	Name string
	// Label is the entity label used in error messages, e.g. "user".
	Label string
	// Fields are the table columns in declaration order.
	Fields []Field[T]
}

// NewTable builds a Table for the given label and fields, deriving the
// table name and column names, and validates the result.
func NewTable[T any](label string, fields ...Field[T]) (*Table[T], error) {
	t := &Table[T]{Label: label, Fields: fields}
	if t.Name == "" {
		t.Name = inflect.Pluralize(snakeCase(label))
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// MustTable is like NewTable but panics on an invalid definition. Use
// it for package-level table variables.
func MustTable[T any](label string, fields ...Field[T]) *Table[T] {
	t, err := NewTable(label, fields...)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks the table definition: a primary key must exist, at
// most one version column, no duplicate columns, and every field must
// carry both accessors.
func (t *Table[T]) Validate() error {
	if len(t.Fields) == 0 {
		return fmt.Errorf("schema: table %q has no fields", t.Name)
	}
	var pks, versions int
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		col := f.column()
		if seen[col] {
			return fmt.Errorf("schema: table %q has duplicate column %q", t.Name, col)
		}
		seen[col] = true
		if f.Get == nil || f.Ptr == nil {
			return fmt.Errorf("schema: field %q of table %q is missing an accessor", f.Name, t.Name)
		}
		if f.PK {
			pks++
		}
		if f.Version {
			versions++
			if f.Type != expr.TypeInt {
				return fmt.Errorf("schema: version field %q of table %q must be an integer", f.Name, t.Name)
			}
		}
	}
	if pks != 1 {
		return fmt.Errorf("schema: table %q must have exactly one primary key, has %d", t.Name, pks)
	}
	if versions > 1 {
		return fmt.Errorf("schema: table %q has %d version fields", t.Name, versions)
	}
	return nil
}

// PK returns the primary-key field.
func (t *Table[T]) PK() Field[T] {
	for _, f := range t.Fields {
		if f.PK {
			return f
		}
	}
	panic(fmt.Sprintf("schema: table %q has no primary key", t.Name))
}

// VersionField returns the version field, if the table has one.
func (t *Table[T]) VersionField() (Field[T], bool) {
	for _, f := range t.Fields {
		if f.Version {
			return f, true
		}
	}
	return Field[T]{}, false
}

// Field returns the field with the given logical name.
func (t *Table[T]) Field(name string) (Field[T], bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field[T]{}, false
}

// Columns returns all database columns in declaration order.
func (t *Table[T]) Columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.column()
	}
	return cols
}

// InsertColumns returns the columns written on INSERT, excluding
// database-generated ones.
func (t *Table[T]) InsertColumns() []string {
	cols := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		if !f.Auto {
			cols = append(cols, f.column())
		}
	}
	return cols
}

// UpdateFields returns the fields written on UPDATE, excluding the
// primary key, generated, immutable and version columns. The version
// column is bumped separately by the concurrency controller.
func (t *Table[T]) UpdateFields() []Field[T] {
	fields := make([]Field[T], 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.PK || f.Auto || f.Immutable || f.Version {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// InsertValues returns the values of the insert columns, applying
// field defaults to zero-valued fields.
func (t *Table[T]) InsertValues(e *T) []any {
	vals := make([]any, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Auto {
			continue
		}
		v := f.Get(e)
		if f.Default != nil && isZero(v) {
			v = f.Default()
			assign(f.Ptr(e), v)
		}
		vals = append(vals, v)
	}
	return vals
}

// ScanDest returns scan destinations for all columns in declaration
// order, matching Columns.
func (t *Table[T]) ScanDest(e *T) []any {
	dest := make([]any, len(t.Fields))
	for i, f := range t.Fields {
		dest[i] = f.Ptr(e)
	}
	return dest
}

// ColumnName returns the database column of the given logical field
// name, for use in hand-written fragments.
func (t *Table[T]) ColumnName(name string) (string, bool) {
	f, ok := t.Field(name)
	if !ok {
		return "", false
	}
	return f.column(), true
}

// ExprColumns returns the column typing consumed by the expression
// translator, keyed by logical field name.
func (t *Table[T]) ExprColumns() expr.Columns {
	cols := make(expr.Columns, len(t.Fields))
	for _, f := range t.Fields {
		cols[f.Name] = expr.Column{Name: f.column(), Type: f.Type}
	}
	return cols
}

// CopyField copies the field value from src to dst.
func (f Field[T]) CopyField(dst, src *T) {
	assign(f.Ptr(dst), f.Get(src))
}

// SetValue stores v into the field of e, converting between compatible
// kinds (e.g. int64 into an int field).
func (f Field[T]) SetValue(e *T, v any) {
	assign(f.Ptr(e), v)
}

// assign stores v through the pointer ptr. Types must match; table
// accessors guarantee they do.
func assign(ptr, v any) {
	rv := reflect.ValueOf(ptr).Elem()
	if v == nil {
		rv.Set(reflect.Zero(rv.Type()))
		return
	}
	rv.Set(reflect.ValueOf(v).Convert(rv.Type()))
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}
