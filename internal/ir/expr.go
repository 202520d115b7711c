package ir

import (
	"fmt"
	"strings"
)

// Expr is implemented by every expression node. Types are computed on
// demand so that signals resized or resolved after the expression was built
// are observed.
type Expr interface {
	Type() *SignalType
	isExpr()
}

// Ref reads a wire, register or constant.
type Ref struct {
	Signal *Signal
}

// Lit is a literal value. Typ may be shared with other nodes so that a later
// resize is visible everywhere.
type Lit struct {
	Value uint64
	Typ   *SignalType
}

// BinExpr models a binary arithmetic or bitwise operation.
type BinExpr struct {
	Op    BinOp
	Left  Expr
	Right Expr
}

// CompareExpr produces a 1-bit result.
type CompareExpr struct {
	Predicate ComparePredicate
	Left      Expr
	Right     Expr
}

// NotExpr is the bitwise complement of Value.
type NotExpr struct {
	Value Expr
}

// IndexExpr reads one word of a Memory signal.
type IndexExpr struct {
	Memory *Signal
	Index  Expr
}

func (Ref) isExpr()         {}
func (Lit) isExpr()         {}
func (BinExpr) isExpr()     {}
func (CompareExpr) isExpr() {}
func (NotExpr) isExpr()     {}
func (IndexExpr) isExpr()   {}

func (r *Ref) Type() *SignalType { return r.Signal.Type }

func (l *Lit) Type() *SignalType { return l.Typ }

func (b *BinExpr) Type() *SignalType {
	return b.Left.Type().ResultFor(b.Op, b.Right.Type())
}

func (c *CompareExpr) Type() *SignalType { return &SignalType{Width: 1} }

func (n *NotExpr) Type() *SignalType { return n.Value.Type() }

func (i *IndexExpr) Type() *SignalType { return i.Memory.Type }

// BinOp enumerates supported binary ops.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	And
	Or
	Xor
	Shl
	ShrU
	ShrS
)

// ComparePredicate enumerates comparison predicates.
type ComparePredicate int

const (
	CompareEQ ComparePredicate = iota
	CompareNE
	CompareSLT
	CompareSLE
	CompareSGT
	CompareSGE
	CompareULT
	CompareULE
	CompareUGT
	CompareUGE
)

// IsSigned reports whether the predicate interprets operands as signed.
func (p ComparePredicate) IsSigned() bool {
	switch p {
	case CompareSLT, CompareSLE, CompareSGT, CompareSGE:
		return true
	}
	return false
}

// R wraps a signal into a Ref expression.
func R(sig *Signal) Expr { return &Ref{Signal: sig} }

// Num returns an unsigned literal of the given width.
func Num(value uint64, width int) Expr {
	return &Lit{Value: value, Typ: &SignalType{Width: width}}
}

// LitOf returns a literal whose type is shared with typ.
func LitOf(value uint64, typ *SignalType) Expr {
	return &Lit{Value: value, Typ: typ}
}

// At reads mem[index].
func At(mem *Signal, index Expr) Expr { return &IndexExpr{Memory: mem, Index: index} }

// Bin builds a binary expression.
func Bin(op BinOp, a, b Expr) Expr { return &BinExpr{Op: op, Left: a, Right: b} }

func Plus(a, b Expr) Expr    { return Bin(Add, a, b) }
func Minus(a, b Expr) Expr   { return Bin(Sub, a, b) }
func Product(a, b Expr) Expr { return Bin(Mul, a, b) }
func BitAnd(a, b Expr) Expr  { return Bin(And, a, b) }
func BitOr(a, b Expr) Expr   { return Bin(Or, a, b) }
func Not(a Expr) Expr        { return &NotExpr{Value: a} }

// Eq and the other comparison helpers pick the signed predicate when both
// operands are signed.
func Eq(a, b Expr) Expr { return &CompareExpr{Predicate: CompareEQ, Left: a, Right: b} }
func Ne(a, b Expr) Expr { return &CompareExpr{Predicate: CompareNE, Left: a, Right: b} }
func Lt(a, b Expr) Expr { return compare(CompareULT, CompareSLT, a, b) }
func Le(a, b Expr) Expr { return compare(CompareULE, CompareSLE, a, b) }
func Gt(a, b Expr) Expr { return compare(CompareUGT, CompareSGT, a, b) }
func Ge(a, b Expr) Expr { return compare(CompareUGE, CompareSGE, a, b) }

func compare(unsigned, signed ComparePredicate, a, b Expr) Expr {
	pred := unsigned
	if a.Type().Signed && b.Type().Signed {
		pred = signed
	}
	return &CompareExpr{Predicate: pred, Left: a, Right: b}
}

// FormatExpr renders an expression in a compact Verilog-like syntax.
func FormatExpr(e Expr) string {
	var b strings.Builder
	formatExpr(&b, e)
	return b.String()
}

func formatExpr(b *strings.Builder, e Expr) {
	switch x := e.(type) {
	case nil:
		b.WriteString("<nil>")
	case *Ref:
		b.WriteString(x.Signal.Name)
	case *Lit:
		width := 0
		if x.Typ != nil {
			width = x.Typ.Width
		}
		fmt.Fprintf(b, "%d'd%d", width, x.Value)
	case *BinExpr:
		b.WriteByte('(')
		formatExpr(b, x.Left)
		fmt.Fprintf(b, " %s ", binOpSymbol(x.Op))
		formatExpr(b, x.Right)
		b.WriteByte(')')
	case *CompareExpr:
		b.WriteByte('(')
		formatExpr(b, x.Left)
		fmt.Fprintf(b, " %s ", compareSymbol(x.Predicate))
		formatExpr(b, x.Right)
		b.WriteByte(')')
	case *NotExpr:
		b.WriteByte('~')
		formatExpr(b, x.Value)
	case *IndexExpr:
		b.WriteString(x.Memory.Name)
		b.WriteByte('[')
		formatExpr(b, x.Index)
		b.WriteByte(']')
	default:
		fmt.Fprintf(b, "<unknown expr %T>", e)
	}
}

func binOpSymbol(op BinOp) string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case And:
		return "&"
	case Or:
		return "|"
	case Xor:
		return "^"
	case Shl:
		return "<<"
	case ShrU:
		return ">>"
	case ShrS:
		return ">>>"
	default:
		return "?"
	}
}

func compareSymbol(pred ComparePredicate) string {
	switch pred {
	case CompareEQ:
		return "=="
	case CompareNE:
		return "!="
	case CompareSLT, CompareULT:
		return "<"
	case CompareSLE, CompareULE:
		return "<="
	case CompareSGT, CompareUGT:
		return ">"
	case CompareSGE, CompareUGE:
		return ">="
	default:
		return "?"
	}
}
