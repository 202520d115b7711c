package fsm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"hdlc/internal/ir"
)

func newModule() (*ir.Module, *ir.Signal) {
	m := ir.NewModule("top")
	clk := m.AddPort("clk", ir.Input, ir.Bit)
	rst := m.AddPort("rst", ir.Input, ir.Bit)
	m.Clock = ir.PosedgeOf(clk)
	m.Reset = ir.R(rst)
	return m, m.AddPort("go", ir.Input, ir.Bit)
}

func mustState(t *testing.T, f *FSM, name string) StateID {
	t.Helper()
	id, err := f.NewState(name)
	if err != nil {
		t.Fatalf("NewState(%q): %v", name, err)
	}
	return id
}

func TestTableListsFallthroughThenGotos(t *testing.T) {
	m, goSig := newModule()
	f := New(m, Options{Name: "ctl"})
	idle := mustState(t, f, "idle")
	work := mustState(t, f, "")
	mustState(t, f, "done")
	f.Goto(idle, Branch(ir.R(goSig), After(idle), To(idle)))
	f.Goto(work, Jump(Named("idle")))

	want := []Row{
		{Index: 0, Code: 0, Name: "idle", Edges: []Edge{{To: 1}, {Cond: "go", To: 1}, {Cond: "!go", To: 0}}},
		{Index: 1, Code: 1, Edges: []Edge{{To: 2}, {To: 0}}},
		{Index: 2, Code: 2, Name: "done", Edges: []Edge{{To: 3}}},
	}
	if diff := cmp.Diff(want, f.Table()); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
	if err := f.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
}

func TestBuildEmitsUpdateBodyAndTransitions(t *testing.T) {
	m, _ := newModule()
	f := New(m, Options{Name: "ctl"})
	for i := 0; i < 4; i++ {
		mustState(t, f, "")
	}
	if err := f.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if f.Type.Width != 3 {
		t.Fatalf("binary width for 4 states = %d, want 3", f.Type.Width)
	}
	if f.Current.Type != f.Type || f.Next.Type != f.Type {
		t.Fatalf("state signals must share the state type")
	}
	type proc struct {
		Name string
		Sens ir.Sensitivity
	}
	var got []proc
	for _, p := range m.Processes {
		got = append(got, proc{p.Name, p.Sensitivity})
	}
	want := []proc{
		{"ctl_update", ir.Sequential},
		{"ctl_body", ir.Sequential},
		{"ctl_transitions", ir.Combinational},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("processes mismatch (-want +got):\n%s", diff)
	}
	if err := f.Build(); errors.Cause(err) != ErrBuilt {
		t.Fatalf("second Build error = %v, want ErrBuilt", err)
	}
}

func TestGotoUnknownNameFailsAtBuild(t *testing.T) {
	m, _ := newModule()
	f := New(m, Options{})
	s := mustState(t, f, "")
	f.Goto(s, Jump(Named("later")))
	// Declaring the name afterwards is enough.
	mustState(t, f, "later")
	if err := f.Build(); err != nil {
		t.Fatalf("forward named goto: %v", err)
	}

	m2, _ := newModule()
	g := New(m2, Options{})
	s = mustState(t, g, "")
	g.Goto(s, Jump(Named("missing")))
	err := g.Build()
	if errors.Cause(err) != ErrUnknownState {
		t.Fatalf("Build error = %v, want ErrUnknownState", err)
	}
}

func TestInvalidStateIDFailsAtBuild(t *testing.T) {
	m, _ := newModule()
	f := New(m, Options{})
	s := mustState(t, f, "")
	f.AddBody(s+5, &ir.Assign{Dest: f.Next, Value: f.CodeExpr(s)})
	f.Goto(-1, Jump(To(s)))
	if got := len(f.State(s).Body); got != 0 {
		t.Fatalf("valid state gained %d statements", got)
	}
	err := f.Build()
	if errors.Cause(err) != ErrUnknownState {
		t.Fatalf("Build error = %v, want ErrUnknownState", err)
	}
	if !strings.Contains(err.Error(), "body on state 5 of 1") {
		t.Fatalf("error does not name the first bad reference: %v", err)
	}
}

func TestDuplicateStateName(t *testing.T) {
	m, _ := newModule()
	f := New(m, Options{})
	mustState(t, f, "loop")
	if _, err := f.NewState("loop"); errors.Cause(err) != ErrDuplicateState {
		t.Fatalf("error = %v, want ErrDuplicateState", err)
	}
}

func TestOneHotCodes(t *testing.T) {
	m, _ := newModule()
	f := New(m, Options{Encoding: OneHot})
	for i := 0; i < 3; i++ {
		mustState(t, f, "")
	}
	got := []uint64{f.Code(0), f.Code(1), f.Code(2), f.Code(3)}
	want := []uint64{1, 2, 4, 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("codes mismatch (-want +got):\n%s", diff)
	}
	if err := f.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if f.Type.Width != 3 {
		t.Fatalf("onehot width = %d, want 3", f.Type.Width)
	}
}

func TestBuildWithoutClock(t *testing.T) {
	m := ir.NewModule("bare")
	f := New(m, Options{})
	mustState(t, f, "")
	if err := f.Build(); errors.Cause(err) != ErrNoClock {
		t.Fatalf("error = %v, want ErrNoClock", err)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	dump := func() string {
		m, goSig := newModule()
		f := New(m, Options{Name: "ctl"})
		a := mustState(t, f, "a")
		b := mustState(t, f, "b")
		f.AddBody(b, &ir.Assign{Dest: m.Signal("go"), Value: ir.Num(1, 1)})
		f.Goto(a, Branch(ir.R(goSig), To(b), To(a)))
		f.Goto(b, Jump(Dynamic(ir.R(goSig))))
		if err := f.Build(); err != nil {
			t.Fatalf("Build: %v", err)
		}
		var buf bytes.Buffer
		ir.DumpModule(m, &buf)
		return buf.String()
	}
	first, second := dump(), dump()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("builds differ:\n%s", diff)
	}
}
