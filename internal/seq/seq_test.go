package seq

import (
	"bytes"
	"math/bits"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"hdlc/internal/diag"
	"hdlc/internal/fsm"
	"hdlc/internal/ir"
	"hdlc/internal/sim"
)

func newModule() *ir.Module {
	m := ir.NewModule("top")
	clk := m.AddPort("clk", ir.Input, ir.Bit)
	rst := m.AddPort("rst", ir.Input, ir.Bit)
	m.AddPort("start", ir.Input, ir.Bit)
	m.Clock = ir.PosedgeOf(clk)
	m.Reset = ir.R(rst)
	return m
}

func options(m *ir.Module, name string) Options {
	return Options{Name: name, Start: ir.R(m.Signal("start"))}
}

func mustBuild(t *testing.T, m *ir.Module, opts Options, body func(s *Sequencer)) *Sequencer {
	t.Helper()
	sq, err := Build(m, opts, body)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return sq
}

// boot resets the design and pulses start.
func boot(t *testing.T, m *ir.Module) *sim.Simulator {
	t.Helper()
	s, err := sim.New(m)
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	steps := []func() error{
		func() error { return s.Set("rst", 1) },
		s.Tick,
		func() error { return s.Set("rst", 0) },
		func() error { return s.Set("start", 1) },
		s.Tick,
		func() error { return s.Set("start", 0) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("boot: %v", err)
		}
	}
	return s
}

// runToIdle ticks until the sequencer is back in its end state and returns
// the state index seen after every tick.
func runToIdle(t *testing.T, sq *Sequencer, s *sim.Simulator, probe func()) []int {
	t.Helper()
	codes := make(map[uint64]int)
	for i := 0; i < sq.FSM.Len(); i++ {
		codes[sq.FSM.Code(fsm.StateID(i))] = i
	}
	var trace []int
	for n := 0; n < 1000; n++ {
		if err := s.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if probe != nil {
			probe()
		}
		v, err := s.Get(sq.FSM.Current.Name)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		idx, ok := codes[v]
		if !ok {
			t.Fatalf("state register holds %#x, not a state code", v)
		}
		trace = append(trace, idx)
		if idx == int(sq.End()) && len(trace) > 1 {
			return trace
		}
	}
	t.Fatalf("sequencer did not return to idle, trace %v", trace)
	return nil
}

func get(t *testing.T, s *sim.Simulator, name string) uint64 {
	t.Helper()
	v, err := s.Get(name)
	if err != nil {
		t.Fatalf("Get(%s): %v", name, err)
	}
	return v
}

func accumulate(s *Sequencer) {
	a := s.Reg("a", ir.Unsigned(8))
	b := s.Reg("b", ir.Unsigned(8))
	s.Assign(a, ir.Num(1, 8))
	s.Assign(b, ir.Num(2, 8))
	s.Times(10, func(ir.Expr) {
		s.Assign(a, ir.Plus(ir.R(a), ir.R(b)))
	})
	s.Terminate()
}

func TestAccumulateScenario(t *testing.T) {
	for _, enc := range []fsm.Encoding{fsm.Binary, fsm.OneHot} {
		t.Run(enc.String(), func(t *testing.T) {
			m := newModule()
			opts := options(m, "acc")
			opts.Encoding = enc
			sq := mustBuild(t, m, opts, accumulate)
			if got := sq.FSM.Len() - 1; got != 4 {
				t.Fatalf("non-idle states = %d, want 4", got)
			}

			busy := m.NewWire("busy", ir.Bit)
			m.AddProcess(&ir.Process{
				Name:        "busy",
				Sensitivity: ir.Combinational,
				Body:        []ir.Stmt{&ir.Assign{Dest: busy, Value: sq.Alive()}},
			})

			s := boot(t, m)
			sawBusy := false
			trace := runToIdle(t, sq, s, func() {
				if v, _ := s.Get("busy"); v == 1 {
					sawBusy = true
				}
			})
			want := []int{1, 2, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 4, 0}
			if diff := cmp.Diff(want, trace); diff != "" {
				t.Fatalf("state trace mismatch (-want +got):\n%s", diff)
			}
			if a := get(t, s, "a"); a != 21 {
				t.Fatalf("a = %d, want 21", a)
			}
			if !sawBusy || get(t, s, "busy") != 0 {
				t.Fatalf("alive flag must be set while running and clear when idle")
			}
		})
	}
}

func TestSequencerWaitsForStart(t *testing.T) {
	m := newModule()
	sq := mustBuild(t, m, options(m, "acc"), accumulate)
	s, err := sim.New(m)
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	_ = s.Set("rst", 1)
	_ = s.Tick()
	_ = s.Set("rst", 0)
	if _, err := s.Run(20, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v := get(t, s, sq.FSM.Current.Name); v != sq.FSM.Code(sq.End()) {
		t.Fatalf("state = %d without start, want idle", v)
	}
}

func TestBreakTargetsLoopExit(t *testing.T) {
	m := newModule()
	var brk, yes fsm.StateID
	sq := mustBuild(t, m, options(m, "brk"), func(s *Sequencer) {
		c := s.Reg("c", ir.Bit)
		yes = s.Loop(func() {
			s.If(ir.R(c), func() { brk = s.Break() })
		})
	})
	rows := sq.FSM.Table()
	edges := rows[brk].Edges
	last := edges[len(edges)-1]
	if last.To != int(yes)+1 {
		t.Fatalf("break goes to %d, want loop exit %d", last.To, int(yes)+1)
	}
	if last.Cond != "" {
		t.Fatalf("break must be unconditional, got %q", last.Cond)
	}
}

func TestLoopEdgesAreSymmetric(t *testing.T) {
	m := newModule()
	var yes fsm.StateID
	sq := mustBuild(t, m, options(m, "w"), func(s *Sequencer) {
		c := s.Reg("c", ir.Bit)
		x := s.Reg("x", ir.Unsigned(4))
		yes = s.While(ir.R(c), func() {
			s.Assign(x, ir.Plus(ir.R(x), ir.Num(1, 4)))
		})
	})
	head := yes - 1
	rows := sq.FSM.Table()
	want := []fsm.Edge{{Cond: "c", To: int(head) + 1}, {Cond: "!c", To: int(yes) + 1}}
	if diff := cmp.Diff(want, rows[head].Edges[1:]); diff != "" {
		t.Fatalf("header edges (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, rows[yes].Edges[1:]); diff != "" {
		t.Fatalf("body edges (-want +got):\n%s", diff)
	}

	m = newModule()
	sq = mustBuild(t, m, options(m, "l"), func(s *Sequencer) {
		yes = s.Loop(func() { s.Step() })
	})
	rows = sq.FSM.Table()
	head = yes - 2
	for _, id := range []fsm.StateID{head, yes} {
		edges := rows[id].Edges
		if got := edges[len(edges)-1]; got != (fsm.Edge{To: int(head) + 1}) {
			t.Fatalf("state %d: infinite loop edge = %+v, want unconditional %d", id, got, head+1)
		}
	}
}

func TestIfElse(t *testing.T) {
	m := newModule()
	sq := mustBuild(t, m, options(m, "ie"), func(s *Sequencer) {
		sel := s.Reg("sel", ir.Bit)
		x := s.Reg("x", ir.Unsigned(4))
		s.Assign(sel, ir.Num(0, 1))
		s.If(ir.R(sel), func() {
			s.Assign(x, ir.Num(1, 4))
		})
		s.Else(func() {
			s.Assign(x, ir.Num(2, 4))
		})
		s.Terminate()
	})
	s := boot(t, m)
	runToIdle(t, sq, s, nil)
	if x := get(t, s, "x"); x != 2 {
		t.Fatalf("x = %d, want else branch value 2", x)
	}
}

func TestEnumeratorContinue(t *testing.T) {
	m := newModule()
	sq := mustBuild(t, m, options(m, "ec"), func(s *Sequencer) {
		sum := s.Reg("sum", ir.Unsigned(8))
		s.Times(6, func(i ir.Expr) {
			s.If(ir.Eq(ir.BitAnd(i, ir.Num(1, 3)), ir.Num(1, 3)), func() {
				s.Continue()
			})
			s.Assign(sum, ir.Plus(ir.R(sum), i))
		})
		s.Terminate()
	})
	s := boot(t, m)
	runToIdle(t, sq, s, nil)
	// 0 + 2 + 4
	if sum := get(t, s, "sum"); sum != 6 {
		t.Fatalf("sum = %d, want 6", sum)
	}
}

func TestEachVisitsMemory(t *testing.T) {
	m := newModule()
	sq := mustBuild(t, m, options(m, "each"), func(s *Sequencer) {
		mem := s.Memory("mem", ir.Unsigned(8), 4)
		total := s.Reg("total", ir.Unsigned(8))
		s.Times(4, func(i ir.Expr) {
			s.AssignAt(mem, i, ir.Plus(i, ir.Num(10, 8)))
		})
		s.Each(mem, func(elem, _ ir.Expr) {
			s.Assign(total, ir.Plus(ir.R(total), elem))
		})
		s.Terminate()
	})
	s := boot(t, m)
	runToIdle(t, sq, s, nil)
	if total := get(t, s, "total"); total != 10+11+12+13 {
		t.Fatalf("total = %d, want 46", total)
	}
}

func TestLabelAndGoto(t *testing.T) {
	m := newModule()
	sq := mustBuild(t, m, options(m, "lg"), func(s *Sequencer) {
		x := s.Reg("x", ir.Unsigned(4))
		s.Label("top")
		s.Assign(x, ir.Plus(ir.R(x), ir.Num(1, 4)))
		s.If(ir.Eq(ir.R(x), ir.Num(3, 4)), func() { s.Terminate() })
		s.Goto("top")
	})
	if id, ok := sq.FSM.Lookup("top"); !ok || id != sq.Start() {
		t.Fatalf("label top = %d, %v; want start state", id, ok)
	}
	s := boot(t, m)
	runToIdle(t, sq, s, nil)
	// The test reads x before the increment of the same state lands.
	if x := get(t, s, "x"); x != 4 {
		t.Fatalf("x = %d, want 4", x)
	}
}

func TestCallTwiceUsesDistinctReturnAddresses(t *testing.T) {
	m := newModule()
	var inc *Function
	sq := mustBuild(t, m, options(m, "call"), func(s *Sequencer) {
		a := s.Reg("a", ir.Unsigned(8))
		b := s.Reg("b", ir.Unsigned(8))
		inc = s.Def("inc", FuncOptions{}, func(s *Sequencer, args []ir.Expr) {
			s.Return(ir.Plus(args[0], ir.Num(1, 8)))
		})
		s.Assign(a, s.Call(inc, ir.Num(5, 8)))
		s.Assign(b, s.Call(inc, ir.Num(7, 8)))
		s.Terminate()
	})
	if n := len(inc.Instances()); n != 1 {
		t.Fatalf("instances = %d, want 1", n)
	}
	inst := inc.Instances()[0]
	addrs := returnAddrs(sq, inst)
	if len(addrs) != 2 || addrs[0] == addrs[1] {
		t.Fatalf("return addresses = %v, want two distinct values", addrs)
	}
	if inst.Ret.Type.Width != 8 {
		t.Fatalf("return register width = %d, want 8", inst.Ret.Type.Width)
	}

	s := boot(t, m)
	runToIdle(t, sq, s, nil)
	if a, b := get(t, s, "a"), get(t, s, "b"); a != 6 || b != 8 {
		t.Fatalf("a, b = %d, %d; want 6, 8", a, b)
	}
	if sp := get(t, s, inst.SP.Name); sp != 0 {
		t.Fatalf("sp = %d after both returns, want 0", sp)
	}
}

func returnAddrs(sq *Sequencer, inst *Instance) []uint64 {
	var out []uint64
	var walk func([]ir.Stmt)
	walk = func(stmts []ir.Stmt) {
		for _, stmt := range stmts {
			switch st := stmt.(type) {
			case *ir.Assign:
				if st.Dest == inst.ReturnAddr {
					out = append(out, st.Value.(*ir.Lit).Value)
				}
			case *ir.If:
				walk(st.Then)
				walk(st.Else)
			}
		}
	}
	for i := 0; i < sq.FSM.Len(); i++ {
		walk(sq.FSM.State(fsm.StateID(i)).Body)
	}
	return out
}

func TestRecursionReusesInstance(t *testing.T) {
	m := newModule()
	var down *Function
	sq := mustBuild(t, m, options(m, "rec"), func(s *Sequencer) {
		down = s.Def("down", FuncOptions{Depth: 2}, func(s *Sequencer, args []ir.Expr) {
			s.If(ir.Ne(args[0], ir.Num(0, 4)), func() {
				s.Call(down, ir.Minus(args[0], ir.Num(1, 4)))
			})
			s.Return(nil)
		})
		s.Call(down, ir.Num(1, 4))
		s.Terminate()
	})
	if n := len(down.Instances()); n != 1 {
		t.Fatalf("instances = %d, want 1", n)
	}
	inst := down.Instances()[0]
	if inst.Depth.Value != 2 || inst.SP.Type.Width != 2 || inst.ReturnAddr.Depth != 2 {
		t.Fatalf("stack not resized: depth=%d sp width=%d ret depth=%d",
			inst.Depth.Value, inst.SP.Type.Width, inst.ReturnAddr.Depth)
	}

	s := boot(t, m)
	sps := []uint64{get(t, s, inst.SP.Name)}
	runToIdle(t, sq, s, func() {
		v := get(t, s, inst.SP.Name)
		if v != sps[len(sps)-1] {
			sps = append(sps, v)
		}
	})
	if diff := cmp.Diff([]uint64{0, 1, 2, 1, 0}, sps); diff != "" {
		t.Fatalf("sp sequence (-want +got):\n%s", diff)
	}
}

func overflowDesign(handler bool) func(s *Sequencer) {
	return func(s *Sequencer) {
		count := s.Reg("count", ir.Unsigned(8))
		ovf := s.Reg("ovf", ir.Bit)
		opts := FuncOptions{Depth: 1}
		if handler {
			opts.Overflow = func(s *Sequencer) { s.Assign(ovf, ir.Num(1, 1)) }
		}
		var g *Function
		g = s.Def("g", opts, func(s *Sequencer, args []ir.Expr) {
			s.Assign(count, ir.Plus(ir.R(count), ir.Num(1, 8)))
			s.If(ir.Ne(args[0], ir.Num(0, 4)), func() {
				s.Call(g, ir.Minus(args[0], ir.Num(1, 4)))
			})
			s.Return(nil)
		})
		s.Call(g, ir.Num(3, 4))
		s.Terminate()
	}
}

func TestOverflowSkipsCall(t *testing.T) {
	for _, handler := range []bool{false, true} {
		m := newModule()
		sq := mustBuild(t, m, options(m, "ovf"), overflowDesign(handler))
		s := boot(t, m)
		runToIdle(t, sq, s, nil)
		if c := get(t, s, "count"); c != 1 {
			t.Fatalf("handler=%v: count = %d, want 1 (nested call skipped)", handler, c)
		}
		want := uint64(0)
		if handler {
			want = 1
		}
		if o := get(t, s, "ovf"); o != want {
			t.Fatalf("handler=%v: ovf = %d, want %d", handler, o, want)
		}
		if sp := get(t, s, "g_sp"); sp != 0 {
			t.Fatalf("handler=%v: sp = %d, want 0", handler, sp)
		}
	}
}

func TestOneHotHasSingleActiveState(t *testing.T) {
	designs := map[string]func(s *Sequencer){
		"accumulate": accumulate,
		"overflow":   overflowDesign(true),
	}
	for name, body := range designs {
		t.Run(name, func(t *testing.T) {
			m := newModule()
			opts := options(m, "hot")
			opts.Encoding = fsm.OneHot
			sq := mustBuild(t, m, opts, body)
			s := boot(t, m)
			runToIdle(t, sq, s, func() {
				v := get(t, s, sq.FSM.Current.Name)
				if n := bits.OnesCount64(v); n != 1 {
					t.Fatalf("state register %#x has %d bits set", v, n)
				}
			})
		})
	}
}

func TestNextStateIsTotal(t *testing.T) {
	m := newModule()
	sq := mustBuild(t, m, options(m, "total"), overflowDesign(true))
	n := sq.FSM.Len()
	for _, row := range sq.FSM.Table() {
		for _, e := range row.Edges {
			switch {
			case e.To < 0 && strings.HasPrefix(e.Expr, "?"):
				t.Fatalf("state %d: edge to undeclared state %s", row.Index, e.Expr)
			case e.To < 0 && e.Expr == "":
				t.Fatalf("state %d: edge without a target", row.Index)
			case e.To > n:
				// n itself is the successor of the last state and maps to the default.
				t.Fatalf("state %d: edge to %d beyond %d states", row.Index, e.To, n)
			}
		}
	}
	for _, inst := range sq.Functions()[0].Instances() {
		for _, addr := range returnAddrs(sq, inst) {
			if addr >= uint64(n) {
				t.Fatalf("return address %d is not a state", addr)
			}
		}
	}
}

func TestElaborationErrors(t *testing.T) {
	tests := []struct {
		name string
		body func(s *Sequencer)
		want error
	}{
		{"break outside loop", func(s *Sequencer) { s.Break() }, ErrNoLoop},
		{"continue outside loop", func(s *Sequencer) { s.Continue() }, ErrNoLoop},
		{"return outside function", func(s *Sequencer) { s.Return(nil) }, ErrOutsideFunction},
		{"else without if", func(s *Sequencer) { s.Else(func() {}) }, ErrElseWithoutIf},
		{"control inside when", func(s *Sequencer) {
			s.Loop(func() {
				s.When(ir.Num(1, 1), func() { s.Break() }, nil)
			})
		}, ErrNestedControl},
		{"unknown goto", func(s *Sequencer) { s.Goto("nowhere") }, fsm.ErrUnknownState},
		{"duplicate label", func(s *Sequencer) {
			s.Label("x")
			s.Step()
			s.Label("x")
		}, fsm.ErrDuplicateState},
		{"break does not cross function", func(s *Sequencer) {
			f := s.Def("f", FuncOptions{}, func(s *Sequencer, _ []ir.Expr) { s.Break() })
			s.Loop(func() { s.Call(f) })
		}, ErrNoLoop},
		{"return type", func(s *Sequencer) {
			f := s.Def("f", FuncOptions{}, func(s *Sequencer, args []ir.Expr) {
				s.Return(ir.Num(1, 4))
				s.Return(ir.Num(1, 16))
			})
			s.Call(f)
		}, ErrReturnType},
		{"depth conflict", func(s *Sequencer) {
			var f *Function
			f = s.Def("f", FuncOptions{}, func(s *Sequencer, args []ir.Expr) {
				s.CallDepth(f, 4, args[0])
				s.CallDepth(f, 8, args[0])
			})
			s.Call(f, ir.Num(1, 4))
		}, ErrDepthConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			rep := diag.NewReporter(&buf, "text")
			m := newModule()
			opts := options(m, "bad")
			opts.Reporter = rep
			sq, err := Build(m, opts, tt.body)
			if errors.Cause(err) != tt.want {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if sq != nil {
				t.Fatalf("failed build must not return a sequencer")
			}
			if !rep.HasErrors() {
				t.Fatalf("error was not reported, output %q", buf.String())
			}
		})
	}
}

func TestDeterministicNumbering(t *testing.T) {
	tables := make([][]fsm.Row, 2)
	for i := range tables {
		m := newModule()
		sq := mustBuild(t, m, options(m, "det"), overflowDesign(true))
		tables[i] = sq.FSM.Table()
	}
	if diff := cmp.Diff(tables[0], tables[1]); diff != "" {
		t.Fatalf("state tables differ between builds:\n%s", diff)
	}
}
