package designs

import (
	"hdlc/internal/ir"
	"hdlc/internal/seq"
)

func init() {
	register(Design{Name: "accumulate", Summary: "a<=1; b<=2; 10 times a<=a+b", Build: accumulate})
	register(Design{Name: "factorial", Summary: "recursive factorial of 5", Build: factorial})
	register(Design{Name: "breakloop", Summary: "infinite loop left by break", Build: breakLoop})
	register(Design{Name: "twocalls", Summary: "one function called from two sites", Build: twoCalls})
	register(Design{Name: "overflow", Summary: "recursion past a depth-1 stack with a handler", Build: overflow})
	register(Design{Name: "gcd", Summary: "subtractive gcd with while and if/else", Build: gcd})
	register(Design{Name: "memsum", Summary: "fill a memory, then sum it with each", Build: memSum})
}

func accumulate(opts Options) (*Result, error) {
	m := newTop("accumulate")
	a := m.AddPort("a", ir.Output, ir.Unsigned(8))
	return elaborate(m, opts, []Expectation{{"a", 21}}, func(s *seq.Sequencer) {
		b := s.Reg("b", ir.Unsigned(8))
		s.Assign(a, ir.Num(1, 8))
		s.Assign(b, ir.Num(2, 8))
		s.Times(10, func(ir.Expr) {
			s.Assign(a, ir.Plus(ir.R(a), ir.R(b)))
		})
		s.Terminate()
	})
}

func factorial(opts Options) (*Result, error) {
	m := newTop("factorial")
	result := m.AddPort("result", ir.Output, ir.Unsigned(16))
	u16 := ir.Unsigned(16)
	return elaborate(m, opts, []Expectation{{"result", 120}}, func(s *seq.Sequencer) {
		var fact *seq.Function
		fact = s.Def("fact", seq.FuncOptions{Returns: &u16}, func(s *seq.Sequencer, args []ir.Expr) {
			n := args[0]
			s.If(ir.Le(n, ir.Num(1, 8)), func() {
				s.Return(ir.Num(1, 16))
			})
			s.Return(ir.Product(n, s.Call(fact, ir.Minus(n, ir.Num(1, 8)))))
		})
		s.Assign(result, s.Call(fact, ir.Num(5, 8)))
		s.Terminate()
	})
}

func breakLoop(opts Options) (*Result, error) {
	m := newTop("breakloop")
	x := m.AddPort("x", ir.Output, ir.Unsigned(8))
	done := m.AddPort("done", ir.Output, ir.Bit)
	// The test sees x before the increment of its own state.
	return elaborate(m, opts, []Expectation{{"done", 1}, {"x", 24}}, func(s *seq.Sequencer) {
		s.Assign(x, ir.Num(0, 8))
		s.Assign(done, ir.Num(0, 1))
		s.Loop(func() {
			s.Assign(x, ir.Plus(ir.R(x), ir.Num(3, 8)))
			s.If(ir.Ge(ir.R(x), ir.Num(20, 8)), func() {
				s.Break()
			})
		})
		s.Assign(done, ir.Num(1, 1))
		s.Terminate()
	})
}

func twoCalls(opts Options) (*Result, error) {
	m := newTop("twocalls")
	a := m.AddPort("a", ir.Output, ir.Unsigned(8))
	b := m.AddPort("b", ir.Output, ir.Unsigned(8))
	return elaborate(m, opts, []Expectation{{"a", 6}, {"b", 8}}, func(s *seq.Sequencer) {
		inc := s.Def("inc", seq.FuncOptions{}, func(s *seq.Sequencer, args []ir.Expr) {
			s.Return(ir.Plus(args[0], ir.Num(1, 8)))
		})
		s.Assign(a, s.Call(inc, ir.Num(5, 8)))
		s.Assign(b, s.Call(inc, ir.Num(7, 8)))
		s.Terminate()
	})
}

func overflow(opts Options) (*Result, error) {
	m := newTop("overflow")
	count := m.AddPort("count", ir.Output, ir.Unsigned(8))
	ovf := m.AddPort("ovf", ir.Output, ir.Bit)
	return elaborate(m, opts, []Expectation{{"count", 1}, {"ovf", 1}}, func(s *seq.Sequencer) {
		s.Assign(count, ir.Num(0, 8))
		s.Assign(ovf, ir.Num(0, 1))
		var down *seq.Function
		down = s.Def("down", seq.FuncOptions{
			Depth:    1,
			Overflow: func(s *seq.Sequencer) { s.Assign(ovf, ir.Num(1, 1)) },
		}, func(s *seq.Sequencer, args []ir.Expr) {
			s.Assign(count, ir.Plus(ir.R(count), ir.Num(1, 8)))
			s.If(ir.Ne(args[0], ir.Num(0, 4)), func() {
				s.Call(down, ir.Minus(args[0], ir.Num(1, 4)))
			})
			s.Return(nil)
		})
		s.Call(down, ir.Num(3, 4))
		s.Terminate()
	})
}

func gcd(opts Options) (*Result, error) {
	m := newTop("gcd")
	a := m.AddPort("a", ir.Output, ir.Unsigned(8))
	b := m.AddPort("b", ir.Output, ir.Unsigned(8))
	return elaborate(m, opts, []Expectation{{"a", 6}, {"b", 6}}, func(s *seq.Sequencer) {
		s.Assign(a, ir.Num(48, 8))
		s.Assign(b, ir.Num(18, 8))
		s.Step()
		s.While(ir.Ne(ir.R(a), ir.R(b)), func() {
			s.If(ir.Gt(ir.R(a), ir.R(b)), func() {
				s.Assign(a, ir.Minus(ir.R(a), ir.R(b)))
			})
			s.Else(func() {
				s.Assign(b, ir.Minus(ir.R(b), ir.R(a)))
			})
		})
		s.Terminate()
	})
}

func memSum(opts Options) (*Result, error) {
	m := newTop("memsum")
	total := m.AddPort("total", ir.Output, ir.Unsigned(8))
	return elaborate(m, opts, []Expectation{{"total", 46}}, func(s *seq.Sequencer) {
		mem := s.Memory("mem", ir.Unsigned(8), 4)
		s.Assign(total, ir.Num(0, 8))
		s.Times(4, func(i ir.Expr) {
			s.AssignAt(mem, i, ir.Plus(i, ir.Num(10, 8)))
		})
		s.Each(mem, func(elem, _ ir.Expr) {
			s.Assign(total, ir.Plus(ir.R(total), elem))
		})
		s.Terminate()
	})
}
