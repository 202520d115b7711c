// Package seq compiles structured control flow (steps, conditionals, loops,
// breaks and function calls) into a single synchronous state machine.
//
// A Sequencer is the compilation context: statements emitted through it
// accumulate in program order until a control construct cuts them into a
// state. Targets that do not exist yet are recorded as fsm transitions and
// resolved when the machine is built.
package seq

import (
	"github.com/pkg/errors"

	"hdlc/internal/diag"
	"hdlc/internal/fsm"
	"hdlc/internal/ir"
)

// Options configures a sequencer. Nil Clock and Reset fall back to the
// module's ambient ones. A nil Start makes the sequencer free running: it
// leaves the end state again right after reaching it.
type Options struct {
	Name     string
	Clock    *ir.Event
	Start    ir.Expr
	Reset    ir.Expr
	Encoding fsm.Encoding
	Reporter *diag.Reporter
}

// Sequencer is one compiled control-flow program.
type Sequencer struct {
	Module *ir.Module
	FSM    *fsm.FSM

	opts     Options
	b        *ir.Builder
	run      *ir.Signal
	end      fsm.StateID
	frames   []*frame
	building []*Instance
	label    string
	fixups   []fixup
	funcs    []*Function
}

// frame is one level of lexical nesting.
type frame struct {
	// loop is set on frames opened for a loop body.
	loop   bool
	anchor fsm.StateID
	breaks []fsm.StateID
	// conts are continue sites of enumerators, resolved like the loop tail.
	conts []fsm.StateID
	// next emits the enumerator increment; nil for plain loops.
	next func()

	// fn marks the body frame of a function; loops do not extend past it.
	fn *Instance

	ifYes    fsm.StateID
	hasIfYes bool
}

// fixup is a literal whose value is the encoding of a state, patched once
// the state count is final.
type fixup struct {
	lit   *ir.Lit
	state fsm.StateID
}

// Build runs body against a fresh sequencer and emits the resulting machine
// into m. Elaboration errors abort body and are returned; they are also
// reported to opts.Reporter when one is set.
func Build(m *ir.Module, opts Options, body func(s *Sequencer)) (s *Sequencer, err error) {
	if opts.Name == "" {
		opts.Name = "seq"
	}
	s = &Sequencer{
		Module: m,
		opts:   opts,
		b:      ir.NewBuilder(m),
		frames: []*frame{{}},
	}
	s.FSM = fsm.New(m, fsm.Options{
		Name:     opts.Name,
		Clock:    opts.Clock,
		Reset:    opts.Reset,
		Encoding: opts.Encoding,
	})
	s.run = m.NewReg(opts.Name+"_run", ir.Bit)

	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			s, err = nil, b.err
		}
	}()

	s.end = s.newState("")
	s.FSM.Goto(s.end, fsm.Branch(ir.R(s.run), fsm.After(s.end), fsm.To(s.end)))
	s.FSM.Defaults = append(s.FSM.Defaults, s.runDefaults()...)
	s.FSM.OnReset = append(s.FSM.OnReset, &ir.Assign{Dest: s.run, Value: ir.Num(0, 1)})

	body(s)
	if s.b.Pending() || s.label != "" {
		s.Step()
	}
	s.finish()
	return s, nil
}

func (s *Sequencer) runDefaults() []ir.Stmt {
	if s.opts.Start == nil {
		return []ir.Stmt{&ir.Assign{Dest: s.run, Value: ir.Num(1, 1)}}
	}
	return []ir.Stmt{
		&ir.Assign{Dest: s.run, Value: ir.Num(0, 1)},
		&ir.If{
			Cond: s.opts.Start,
			Then: []ir.Stmt{&ir.Assign{Dest: s.run, Value: ir.Num(1, 1)}},
		},
	}
}

func (s *Sequencer) finish() {
	for _, fn := range s.funcs {
		for _, inst := range fn.instances {
			if inst.Ret.Type.IsUnknown() {
				inst.Ret.Type.Width = 1
				s.notef(fn.Name, "no value returned, return register is 1 bit")
			}
		}
	}
	for _, fx := range s.fixups {
		fx.lit.Value = s.FSM.Code(fx.state)
	}
	if err := s.FSM.Build(); err != nil {
		s.fail(err)
	}
	s.notef(s.opts.Name, "%d states, %s encoding, %d-bit state register",
		s.FSM.Len(), s.FSM.Encoding(), s.FSM.Type.Width)
}

// Name returns the sequencer name.
func (s *Sequencer) Name() string { return s.opts.Name }

// End returns the idle state. It is always state 0.
func (s *Sequencer) End() fsm.StateID { return s.end }

// Start returns the first state of the program.
func (s *Sequencer) Start() fsm.StateID { return s.end + 1 }

// Run returns the run flag register.
func (s *Sequencer) Run() *ir.Signal { return s.run }

// Alive is true while the machine is outside its end state.
func (s *Sequencer) Alive() ir.Expr {
	return ir.Ne(ir.R(s.FSM.Current), s.FSM.CodeExpr(s.end))
}

// Functions returns the functions defined so far.
func (s *Sequencer) Functions() []*Function { return s.funcs }

// Reg declares a register. Names are made unique within the module.
func (s *Sequencer) Reg(name string, typ ir.SignalType) *ir.Signal {
	return s.Module.NewReg(name, typ)
}

// Memory declares an indexed register array.
func (s *Sequencer) Memory(name string, elem ir.SignalType, depth int) *ir.Signal {
	return s.Module.NewMemory(name, elem, depth)
}

// Assign emits dst <= value into the current state.
func (s *Sequencer) Assign(dst *ir.Signal, value ir.Expr) {
	s.b.Assign(dst, value)
}

// AssignAt emits mem[index] <= value into the current state.
func (s *Sequencer) AssignAt(mem *ir.Signal, index, value ir.Expr) {
	s.b.AssignAt(mem, index, value)
}

// When emits a conditional statement inside the current state. Control
// constructs are not allowed in its branches. otherwise may be nil.
func (s *Sequencer) When(cond ir.Expr, then, otherwise func()) {
	s.b.If(cond, then, otherwise)
}

// Step cuts every statement emitted since the previous step into a new state
// and returns it.
func (s *Sequencer) Step() fsm.StateID {
	if d := s.b.Depth(); d > 0 {
		s.fail(errors.Wrapf(ErrNestedControl, "%s: %d conditional block(s) open", s.opts.Name, d))
	}
	name := s.label
	s.label = ""
	id := s.newState(name)
	s.FSM.AddBody(id, s.b.Take()...)
	s.top().hasIfYes = false
	return id
}

func (s *Sequencer) newState(name string) fsm.StateID {
	id, err := s.FSM.NewState(name)
	if err != nil {
		s.fail(err)
	}
	if name != "" {
		s.notef(s.opts.Name, "state %d %q", id, name)
	} else {
		s.notef(s.opts.Name, "state %d", id)
	}
	return id
}

func (s *Sequencer) top() *frame {
	return s.frames[len(s.frames)-1]
}

func (s *Sequencer) push(f *frame) {
	s.frames = append(s.frames, f)
}

func (s *Sequencer) pop() *frame {
	f := s.top()
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

func (s *Sequencer) fail(err error) {
	if s.opts.Reporter != nil {
		s.opts.Reporter.Error(s.opts.Name, err.Error())
	}
	panic(bailout{err: err})
}

func (s *Sequencer) notef(where, format string, args ...interface{}) {
	if s.opts.Reporter != nil {
		s.opts.Reporter.Notef(where, format, args...)
	}
}
