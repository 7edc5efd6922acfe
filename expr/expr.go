// Package expr defines the typed expression tree that callers use to
// describe predicates, projections and update assignments, and the
// translator that compiles a tree into one parameterized SQL fragment.
//
// Trees are immutable once built. Every constant binds as a statement
// parameter, never as inline SQL text; identifiers resolve through a
// caller-supplied field-to-column map and fail loudly when unknown.
//
// Building a predicate:
//
//	p := expr.And(
//		expr.GT(expr.F("salary"), expr.V(50000)),
//		expr.HasPrefix(expr.F("name"), "A"),
//	)
//
// Translating it:
//
//	res, err := expr.Translate(p, cols, expr.WithDialect(dialect.Postgres))
//	// res.SQL  == `(("salary" > $1) AND ("name" LIKE $2))`
//	// res.Args == []any{50000, "A%"}
package expr

// Node is one node of a predicate/projection/update tree.
// Implementations are Value, Field, Binary, Unary, Cond, Call and Set.
type Node interface {
	node()
}

// A Value is a caller-supplied constant. It always compiles to a
// placeholder with the value appended to the parameter list.
type Value struct {
	V any
}

// A Field references an entity field by name. It compiles to the mapped
// column name; an unmapped name fails translation.
type Field struct {
	Name string
}

// Op is a binary operator.
type Op string

// Binary operators supported by the translator.
const (
	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"
	OpDiv Op = "/"
	OpMod Op = "%"

	OpEQ  Op = "="
	OpNEQ Op = "<>"
	OpLT  Op = "<"
	OpLTE Op = "<="
	OpGT  Op = ">"
	OpGTE Op = ">="

	OpAnd Op = "AND"
	OpOr  Op = "OR"

	// OpConcat is the string concatenation operator. Chains of more
	// than two operands nest as binary concat nodes.
	OpConcat Op = "||"
)

// Binary applies Op to two operands. Rendering is always fully
// parenthesized, so nested trees compose without precedence ambiguity.
type Binary struct {
	Op   Op
	X, Y Node
}

// UnaryOp is a unary operator.
type UnaryOp string

// Unary operators supported by the translator.
const (
	UnaryNot UnaryOp = "NOT"
	UnaryNeg UnaryOp = "-"
)

// Unary applies UnaryOp to one operand.
type Unary struct {
	Op UnaryOp
	X  Node
}

// Cond is a conditional expression. It compiles to
// CASE WHEN <when> THEN <then> ELSE <else> END; nested conditionals
// nest their CASE bodies, there is no flattening.
type Cond struct {
	When, Then, Else Node
}

// Func identifies a recognized call. Anything outside this closed set
// fails translation with an UnsupportedExprError.
type Func string

// Recognized calls.
const (
	FuncUpper     Func = "upper"
	FuncLower     Func = "lower"
	FuncContains  Func = "contains"
	FuncHasPrefix Func = "has_prefix"
	FuncHasSuffix Func = "has_suffix"
	FuncSubstr    Func = "substr"
	FuncReplace   Func = "replace"
	FuncRound     Func = "round"
	FuncGreatest  Func = "greatest"
	FuncLeast     Func = "least"
	FuncCoalesce  Func = "coalesce"
	FuncNow       Func = "now"
	FuncCount     Func = "count"
	FuncSum       Func = "sum"
	FuncAvg       Func = "avg"
	FuncMin       Func = "min"
	FuncMax       Func = "max"
)

// Call applies a recognized function to its arguments.
type Call struct {
	Fn   Func
	Args []Node
}

// Assign pairs a target field with the expression producing its value.
type Assign struct {
	Field string
	Expr  Node
}

// Set is a member-initializer: an ordered list of field assignments.
// It is used for projections and for batch-update SET clauses. An
// assignment expression may reference the row's own fields; those
// compile to column references so the backend evaluates them per-row.
type Set struct {
	Assigns []Assign
}

func (Value) node()  {}
func (Field) node()  {}
func (Binary) node() {}
func (Unary) node()  {}
func (Cond) node()   {}
func (Call) node()   {}
func (Set) node()    {}

// V returns a constant node.
func V(v any) Value { return Value{V: v} }

// F returns a field reference node.
func F(name string) Field { return Field{Name: name} }

// Add returns x + y.
func Add(x, y Node) Binary { return Binary{Op: OpAdd, X: x, Y: y} }

// Sub returns x - y.
func Sub(x, y Node) Binary { return Binary{Op: OpSub, X: x, Y: y} }

// Mul returns x * y.
func Mul(x, y Node) Binary { return Binary{Op: OpMul, X: x, Y: y} }

// Div returns x / y.
func Div(x, y Node) Binary { return Binary{Op: OpDiv, X: x, Y: y} }

// Mod returns x % y.
func Mod(x, y Node) Binary { return Binary{Op: OpMod, X: x, Y: y} }

// EQ returns x = y.
func EQ(x, y Node) Binary { return Binary{Op: OpEQ, X: x, Y: y} }

// NEQ returns x <> y.
func NEQ(x, y Node) Binary { return Binary{Op: OpNEQ, X: x, Y: y} }

// LT returns x < y.
func LT(x, y Node) Binary { return Binary{Op: OpLT, X: x, Y: y} }

// LTE returns x <= y.
func LTE(x, y Node) Binary { return Binary{Op: OpLTE, X: x, Y: y} }

// GT returns x > y.
func GT(x, y Node) Binary { return Binary{Op: OpGT, X: x, Y: y} }

// GTE returns x >= y.
func GTE(x, y Node) Binary { return Binary{Op: OpGTE, X: x, Y: y} }

// And folds the given predicates into a left-nested AND tree.
// It panics on an empty argument list.
func And(ps ...Node) Node { return fold(OpAnd, ps) }

// Or folds the given predicates into a left-nested OR tree.
// It panics on an empty argument list.
func Or(ps ...Node) Node { return fold(OpOr, ps) }

// Not negates the given predicate.
func Not(p Node) Unary { return Unary{Op: UnaryNot, X: p} }

// Neg returns the arithmetic negation of x.
func Neg(x Node) Unary { return Unary{Op: UnaryNeg, X: x} }

// Concat folds the given operands into a left-nested string
// concatenation tree. It panics on an empty argument list.
func Concat(xs ...Node) Node { return fold(OpConcat, xs) }

func fold(op Op, xs []Node) Node {
	if len(xs) == 0 {
		panic("expr: fold on empty operand list")
	}
	n := xs[0]
	for _, x := range xs[1:] {
		n = Binary{Op: op, X: n, Y: x}
	}
	return n
}

// If returns a conditional expression.
func If(when, then, els Node) Cond { return Cond{When: when, Then: then, Else: els} }

// Upper returns UPPER(x).
func Upper(x Node) Call { return Call{Fn: FuncUpper, Args: []Node{x}} }

// Lower returns LOWER(x).
func Lower(x Node) Call { return Call{Fn: FuncLower, Args: []Node{x}} }

// Contains matches rows where x contains the given substring.
// The substring binds as a parameter wrapped in % wildcards.
func Contains(x Node, sub string) Call { return Call{Fn: FuncContains, Args: []Node{x, V(sub)}} }

// HasPrefix matches rows where x starts with the given prefix.
func HasPrefix(x Node, prefix string) Call {
	return Call{Fn: FuncHasPrefix, Args: []Node{x, V(prefix)}}
}

// HasSuffix matches rows where x ends with the given suffix.
func HasSuffix(x Node, suffix string) Call {
	return Call{Fn: FuncHasSuffix, Args: []Node{x, V(suffix)}}
}

// Substr returns the substring of x starting at the zero-based offset
// start with the given length. SQL SUBSTR is one-based; translation
// applies the +1 correction.
func Substr(x Node, start, length int) Call {
	return Call{Fn: FuncSubstr, Args: []Node{x, V(start), V(length)}}
}

// Replace returns REPLACE(x, old, new).
func Replace(x, old, new Node) Call { return Call{Fn: FuncReplace, Args: []Node{x, old, new}} }

// Round returns ROUND(x, digits).
func Round(x Node, digits int) Call { return Call{Fn: FuncRound, Args: []Node{x, V(digits)}} }

// Greatest returns the larger of x and y.
func Greatest(x, y Node) Call { return Call{Fn: FuncGreatest, Args: []Node{x, y}} }

// Least returns the smaller of x and y.
func Least(x, y Node) Call { return Call{Fn: FuncLeast, Args: []Node{x, y}} }

// Coalesce returns the first non-null of its arguments.
func Coalesce(xs ...Node) Call { return Call{Fn: FuncCoalesce, Args: xs} }

// Now returns the backend's current-timestamp expression.
func Now() Call { return Call{Fn: FuncNow} }

// Count returns the COUNT aggregate: COUNT(*) with no argument,
// COUNT(x) with one.
func Count(x ...Node) Call { return Call{Fn: FuncCount, Args: x} }

// Sum returns the SUM aggregate over x.
func Sum(x Node) Call { return Call{Fn: FuncSum, Args: []Node{x}} }

// Avg returns the AVG aggregate over x.
func Avg(x Node) Call { return Call{Fn: FuncAvg, Args: []Node{x}} }

// Min returns the MIN aggregate over x.
func Min(x Node) Call { return Call{Fn: FuncMin, Args: []Node{x}} }

// Max returns the MAX aggregate over x.
func Max(x Node) Call { return Call{Fn: FuncMax, Args: []Node{x}} }

// Assigns builds a Set from the given assignments in declaration order.
func Assigns(assigns ...Assign) Set { return Set{Assigns: assigns} }

// A returns one assignment for use with Assigns.
func A(field string, e Node) Assign { return Assign{Field: field, Expr: e} }
