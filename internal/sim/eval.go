package sim

import (
	"github.com/holiman/uint256"

	"hdlc/internal/ir"
)

func (s *Simulator) eval(e ir.Expr) *uint256.Int {
	w := width(e.Type())
	switch x := e.(type) {
	case *ir.Ref:
		v, ok := s.values[x.Signal]
		if !ok {
			return new(uint256.Int)
		}
		return truncate(new(uint256.Int).Set(v), w)
	case *ir.Lit:
		return truncate(uint256.NewInt(x.Value), w)
	case *ir.NotExpr:
		v := s.eval(x.Value)
		return truncate(new(uint256.Int).Not(v), w)
	case *ir.IndexExpr:
		idx := s.eval(x.Index)
		words := s.mems[x.Memory]
		if !idx.IsUint64() || idx.Uint64() >= uint64(len(words)) {
			return new(uint256.Int)
		}
		return truncate(new(uint256.Int).Set(words[idx.Uint64()]), w)
	case *ir.BinExpr:
		return s.evalBin(x, w)
	case *ir.CompareExpr:
		if s.evalCompare(x) {
			return uint256.NewInt(1)
		}
		return new(uint256.Int)
	default:
		return new(uint256.Int)
	}
}

func (s *Simulator) evalBin(x *ir.BinExpr, w int) *uint256.Int {
	left := s.eval(x.Left)
	right := s.eval(x.Right)
	z := new(uint256.Int)
	switch x.Op {
	case ir.Shl, ir.ShrU, ir.ShrS:
		if !right.IsUint64() || right.Uint64() >= 256 {
			if x.Op == ir.ShrS && signBit(left, width(x.Left.Type())) {
				return truncate(z.Not(z), w)
			}
			return z
		}
		n := uint(right.Uint64())
		switch x.Op {
		case ir.Shl:
			z.Lsh(left, n)
		case ir.ShrU:
			z.Rsh(left, n)
		default:
			z.SRsh(signExtend(left, width(x.Left.Type())), n)
		}
		return truncate(z, w)
	}

	a := fit(left, x.Left.Type(), w)
	b := fit(right, x.Right.Type(), w)
	switch x.Op {
	case ir.Add:
		z.Add(a, b)
	case ir.Sub:
		z.Sub(a, b)
	case ir.Mul:
		z.Mul(a, b)
	case ir.And:
		z.And(a, b)
	case ir.Or:
		z.Or(a, b)
	case ir.Xor:
		z.Xor(a, b)
	}
	return truncate(z, w)
}

func (s *Simulator) evalCompare(x *ir.CompareExpr) bool {
	lt, rt := x.Left.Type(), x.Right.Type()
	left, right := s.eval(x.Left), s.eval(x.Right)
	if x.Predicate.IsSigned() {
		a := signExtend(left, width(lt))
		b := signExtend(right, width(rt))
		switch x.Predicate {
		case ir.CompareSLT:
			return a.Slt(b)
		case ir.CompareSLE:
			return !a.Sgt(b)
		case ir.CompareSGT:
			return a.Sgt(b)
		default:
			return !a.Slt(b)
		}
	}
	w := width(lt)
	if rw := width(rt); rw > w {
		w = rw
	}
	a, b := fit(left, lt, w), fit(right, rt, w)
	switch x.Predicate {
	case ir.CompareEQ:
		return a.Eq(b)
	case ir.CompareNE:
		return !a.Eq(b)
	case ir.CompareULT:
		return a.Lt(b)
	case ir.CompareULE:
		return !a.Gt(b)
	case ir.CompareUGT:
		return a.Gt(b)
	default:
		return !a.Lt(b)
	}
}

func width(t *ir.SignalType) int {
	if t == nil || t.Width < 0 {
		return 0
	}
	if t.Width > ir.MaxWidth {
		return ir.MaxWidth
	}
	return t.Width
}

func mask(w int) *uint256.Int {
	m := new(uint256.Int)
	m.Not(m)
	return m.Rsh(m, uint(ir.MaxWidth-w))
}

// truncate keeps the low w bits of v in place.
func truncate(v *uint256.Int, w int) *uint256.Int {
	if w >= ir.MaxWidth {
		return v
	}
	if w <= 0 {
		return v.Clear()
	}
	return v.And(v, mask(w))
}

func signBit(v *uint256.Int, w int) bool {
	if w <= 0 || w > ir.MaxWidth {
		return false
	}
	return new(uint256.Int).Rsh(v, uint(w-1)).Uint64()&1 == 1
}

// signExtend returns v, read as a w-bit two's complement number, widened to
// the full word.
func signExtend(v *uint256.Int, w int) *uint256.Int {
	z := new(uint256.Int).Set(v)
	if w >= ir.MaxWidth || !signBit(v, w) {
		return z
	}
	hi := mask(w)
	hi.Not(hi)
	return z.Or(z, hi)
}

// fit converts v of type typ to a w-bit value, sign extending signed types.
func fit(v *uint256.Int, typ *ir.SignalType, w int) *uint256.Int {
	z := new(uint256.Int).Set(v)
	if typ != nil && typ.Signed {
		z = signExtend(z, width(typ))
	}
	return truncate(z, w)
}
