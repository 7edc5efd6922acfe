package expr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/strata/dialect"
)

// Type is the coarse value type of a column, used to reject obviously
// mistyped constants before any SQL reaches the backend.
type Type uint8

// Column types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeTime
	TypeBytes
	TypeOther
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeTime:
		return "time"
	case TypeBytes:
		return "bytes"
	case TypeOther:
		return "other"
	default:
		return "invalid"
	}
}

// TypeOf reports the coarse type of a Go value. Unrecognized values
// report TypeOther and are exempt from mismatch checks.
func TypeOf(v any) Type {
	switch v.(type) {
	case nil:
		return TypeInvalid
	case bool:
		return TypeBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInt
	case float32, float64:
		return TypeFloat
	case string:
		return TypeString
	case time.Time:
		return TypeTime
	case []byte:
		return TypeBytes
	default:
		return TypeOther
	}
}

// Column is the translation target of one entity field.
type Column struct {
	Name string // column name, rendered verbatim as an identifier.
	Type Type   // optional; TypeInvalid disables mismatch checks.
}

// Columns maps entity field names to their columns. The translator
// treats it as a read-only lookup table.
type Columns map[string]Column

// Result is the translator's sole output artifact: one SQL fragment
// and its ordered parameter values. The fragment contains exactly one
// placeholder marker per parameter, in positional order.
type Result struct {
	SQL  string
	Args []any
}

// Option configures a translation.
type Option func(*translator)

// WithDialect sets the target dialect. Defaults to dialect.SQLite.
func WithDialect(d string) Option {
	return func(t *translator) { t.dialect = d }
}

// WithArgOffset offsets numbered placeholders ($n on postgres) so a
// fragment can be appended to a statement that already binds offset
// parameters. It has no effect on ?-style dialects.
func WithArgOffset(n int) Option {
	return func(t *translator) { t.offset = n }
}

// Translate compiles the given tree into a parameterized SQL fragment.
// Set nodes render as SET-clause pairs (column = expr) in declaration
// order; any other node renders as a single expression.
func Translate(n Node, cols Columns, opts ...Option) (Result, error) {
	t := &translator{dialect: dialect.SQLite, cols: cols}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.render(n); err != nil {
		return Result{}, err
	}
	return Result{SQL: t.sb.String(), Args: t.args}, nil
}

type translator struct {
	dialect string
	cols    Columns
	offset  int
	sb      strings.Builder
	args    []any
}

// arg appends a parameter and writes its placeholder marker.
func (t *translator) arg(v any) {
	t.args = append(t.args, v)
	if t.dialect == dialect.Postgres {
		t.sb.WriteByte('$')
		t.sb.WriteString(strconv.Itoa(t.offset + len(t.args)))
	} else {
		t.sb.WriteByte('?')
	}
}

// ident writes a quoted column identifier.
func (t *translator) ident(name string) {
	q := byte('"')
	if t.dialect == dialect.MySQL {
		q = '`'
	}
	t.sb.WriteByte(q)
	t.sb.WriteString(name)
	t.sb.WriteByte(q)
}

func (t *translator) column(name string) (Column, error) {
	c, ok := t.cols[name]
	if !ok {
		return Column{}, &UnknownFieldError{Name: name}
	}
	return c, nil
}

func (t *translator) render(n Node) error {
	switch n := n.(type) {
	case Value:
		t.arg(n.V)
	case Field:
		c, err := t.column(n.Name)
		if err != nil {
			return err
		}
		t.ident(c.Name)
	case Binary:
		return t.binary(n)
	case Unary:
		switch n.Op {
		case UnaryNot:
			t.sb.WriteString("NOT (")
		case UnaryNeg:
			t.sb.WriteString("-(")
		default:
			return &UnsupportedExprError{Expr: string(n.Op)}
		}
		if err := t.render(n.X); err != nil {
			return err
		}
		t.sb.WriteByte(')')
	case Cond:
		t.sb.WriteString("CASE WHEN ")
		if err := t.render(n.When); err != nil {
			return err
		}
		t.sb.WriteString(" THEN ")
		if err := t.render(n.Then); err != nil {
			return err
		}
		t.sb.WriteString(" ELSE ")
		if err := t.render(n.Else); err != nil {
			return err
		}
		t.sb.WriteString(" END")
	case Call:
		return t.call(n)
	case Set:
		for i, a := range n.Assigns {
			if i > 0 {
				t.sb.WriteString(", ")
			}
			c, err := t.column(a.Field)
			if err != nil {
				return err
			}
			if err := t.checkAssign(a.Field, c, a.Expr); err != nil {
				return err
			}
			t.ident(c.Name)
			t.sb.WriteString(" = ")
			if err := t.render(a.Expr); err != nil {
				return err
			}
		}
	case nil:
		return &UnsupportedExprError{Expr: "<nil>"}
	default:
		return &UnsupportedExprError{Expr: fmt.Sprintf("%T", n)}
	}
	return nil
}

func (t *translator) binary(n Binary) error {
	switch n.Op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod,
		OpEQ, OpNEQ, OpLT, OpLTE, OpGT, OpGTE,
		OpAnd, OpOr, OpConcat:
	default:
		return &UnsupportedExprError{Expr: string(n.Op)}
	}
	if err := t.checkOperands(n); err != nil {
		return err
	}
	// MySQL has no || concat operator in default SQL mode.
	if n.Op == OpConcat && t.dialect == dialect.MySQL {
		t.sb.WriteString("CONCAT(")
		if err := t.render(n.X); err != nil {
			return err
		}
		t.sb.WriteString(", ")
		if err := t.render(n.Y); err != nil {
			return err
		}
		t.sb.WriteByte(')')
		return nil
	}
	t.sb.WriteByte('(')
	if err := t.render(n.X); err != nil {
		return err
	}
	t.sb.WriteByte(' ')
	t.sb.WriteString(string(n.Op))
	t.sb.WriteByte(' ')
	if err := t.render(n.Y); err != nil {
		return err
	}
	t.sb.WriteByte(')')
	return nil
}

func (t *translator) call(n Call) error {
	argn := func(want int) error {
		if len(n.Args) != want {
			return &UnsupportedExprError{Expr: fmt.Sprintf("%s with %d args", n.Fn, len(n.Args))}
		}
		return nil
	}
	fn := func(name string, args ...Node) error {
		t.sb.WriteString(name)
		t.sb.WriteByte('(')
		for i, a := range args {
			if i > 0 {
				t.sb.WriteString(", ")
			}
			if err := t.render(a); err != nil {
				return err
			}
		}
		t.sb.WriteByte(')')
		return nil
	}
	switch n.Fn {
	case FuncUpper:
		if err := argn(1); err != nil {
			return err
		}
		return fn("UPPER", n.Args...)
	case FuncLower:
		if err := argn(1); err != nil {
			return err
		}
		return fn("LOWER", n.Args...)
	case FuncContains, FuncHasPrefix, FuncHasSuffix:
		return t.like(n)
	case FuncSubstr:
		return t.substr(n)
	case FuncReplace:
		if err := argn(3); err != nil {
			return err
		}
		return fn("REPLACE", n.Args...)
	case FuncRound:
		if err := argn(2); err != nil {
			return err
		}
		return fn("ROUND", n.Args...)
	case FuncGreatest, FuncLeast:
		if err := argn(2); err != nil {
			return err
		}
		// SQLite spells the two-argument scalar variants MAX/MIN.
		name := map[Func]string{FuncGreatest: "GREATEST", FuncLeast: "LEAST"}[n.Fn]
		if t.dialect == dialect.SQLite {
			name = map[Func]string{FuncGreatest: "MAX", FuncLeast: "MIN"}[n.Fn]
		}
		return fn(name, n.Args...)
	case FuncCoalesce:
		if len(n.Args) < 2 {
			return &UnsupportedExprError{Expr: fmt.Sprintf("%s with %d args", n.Fn, len(n.Args))}
		}
		return fn("COALESCE", n.Args...)
	case FuncCount:
		if len(n.Args) == 0 {
			t.sb.WriteString("COUNT(*)")
			return nil
		}
		if err := argn(1); err != nil {
			return err
		}
		return fn("COUNT", n.Args...)
	case FuncSum, FuncAvg, FuncMin, FuncMax:
		if err := argn(1); err != nil {
			return err
		}
		return fn(strings.ToUpper(string(n.Fn)), n.Args...)
	case FuncNow:
		if err := argn(0); err != nil {
			return err
		}
		switch t.dialect {
		case dialect.SQLite:
			t.sb.WriteString("DATETIME('now')")
		default:
			t.sb.WriteString("NOW()")
		}
		return nil
	default:
		return &UnsupportedExprError{Expr: string(n.Fn)}
	}
}

// like renders Contains/HasPrefix/HasSuffix as a LIKE comparison with
// the match pattern bound as a parameter, never inlined.
func (t *translator) like(n Call) error {
	if len(n.Args) != 2 {
		return &UnsupportedExprError{Expr: fmt.Sprintf("%s with %d args", n.Fn, len(n.Args))}
	}
	v, ok := n.Args[1].(Value)
	if !ok {
		return &UnsupportedExprError{Expr: string(n.Fn) + " with non-constant pattern"}
	}
	s, ok := v.V.(string)
	if !ok {
		return &TypeMismatchError{Field: string(n.Fn), Column: TypeString, Value: TypeOf(v.V)}
	}
	t.sb.WriteByte('(')
	if err := t.render(n.Args[0]); err != nil {
		return err
	}
	t.sb.WriteString(" LIKE ")
	switch n.Fn {
	case FuncContains:
		t.arg("%" + s + "%")
	case FuncHasPrefix:
		t.arg(s + "%")
	case FuncHasSuffix:
		t.arg("%" + s)
	}
	t.sb.WriteByte(')')
	return nil
}

// substr renders SUBSTR with the one-based offset correction applied:
// a constant start binds as start+1, any other start expression renders
// as (start + 1).
func (t *translator) substr(n Call) error {
	if len(n.Args) != 3 {
		return &UnsupportedExprError{Expr: fmt.Sprintf("%s with %d args", n.Fn, len(n.Args))}
	}
	t.sb.WriteString("SUBSTR(")
	if err := t.render(n.Args[0]); err != nil {
		return err
	}
	t.sb.WriteString(", ")
	if v, ok := n.Args[1].(Value); ok {
		start, ok := asInt(v.V)
		if !ok {
			return &TypeMismatchError{Field: string(n.Fn), Column: TypeInt, Value: TypeOf(v.V)}
		}
		t.arg(start + 1)
	} else {
		t.sb.WriteByte('(')
		if err := t.render(n.Args[1]); err != nil {
			return err
		}
		t.sb.WriteString(" + 1)")
	}
	t.sb.WriteString(", ")
	if err := t.render(n.Args[2]); err != nil {
		return err
	}
	t.sb.WriteByte(')')
	return nil
}

// checkOperands rejects a constant compared or combined with a field
// whose declared column type cannot hold it.
func (t *translator) checkOperands(n Binary) error {
	switch n.Op {
	case OpAnd, OpOr:
		return nil
	}
	check := func(f Field, v Value) error {
		c, ok := t.cols[f.Name]
		if !ok {
			// Reported by render with the proper error.
			return nil
		}
		return t.check(f.Name, c, v)
	}
	if f, ok := n.X.(Field); ok {
		if v, ok := n.Y.(Value); ok {
			return check(f, v)
		}
	}
	if f, ok := n.Y.(Field); ok {
		if v, ok := n.X.(Value); ok {
			return check(f, v)
		}
	}
	return nil
}

func (t *translator) checkAssign(field string, c Column, e Node) error {
	v, ok := e.(Value)
	if !ok {
		return nil
	}
	return t.check(field, c, v)
}

func (t *translator) check(field string, c Column, v Value) error {
	vt := TypeOf(v.V)
	if c.Type == TypeInvalid || c.Type == TypeOther || vt == TypeInvalid || vt == TypeOther {
		return nil
	}
	if c.Type == vt {
		return nil
	}
	// Ints assign to float columns without loss.
	if c.Type == TypeFloat && vt == TypeInt {
		return nil
	}
	return &TypeMismatchError{Field: field, Column: c.Type, Value: vt}
}

func asInt(v any) (int, bool) {
	switch v := v.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}
