// Package fsm allocates the states of a synchronous finite state machine and
// lowers them into a registered current-state update, a clocked per-state
// body dispatch and a combinational next-state function.
//
// States are referenced by StateID. Transitions are plain data whose targets
// are resolved when the machine is built, so a transition may name a state
// that is allocated after the transition was recorded.
package fsm

import (
	"fmt"

	"github.com/pkg/errors"

	"hdlc/internal/ir"
)

var (
	ErrUnknownState   = errors.New("goto to undeclared state")
	ErrDuplicateState = errors.New("state name already declared")
	ErrNoClock        = errors.New("no clock event")
	ErrTooManyStates  = errors.New("too many states for encoding")
	ErrBuilt          = errors.New("fsm already built")
)

// StateID is the index of a state in declaration order.
type StateID int

// Encoding selects how state indices are written to the state register.
type Encoding int

const (
	// Binary writes the index itself.
	Binary Encoding = iota
	// OneHot writes 1<<index.
	OneHot
)

func (e Encoding) String() string {
	if e == OneHot {
		return "onehot"
	}
	return "binary"
}

// Options configures a machine. Nil Clock and Reset fall back to the
// module's ambient clock and reset.
type Options struct {
	Name     string
	Clock    *ir.Event
	Reset    ir.Expr
	Encoding Encoding
	// Default is entered when the current state matches no declared state.
	Default StateID
}

// State is one node of the machine.
type State struct {
	ID    StateID
	Name  string
	Body  []ir.Stmt
	Gotos []Transition
}

// FSM owns the ordered list of states.
type FSM struct {
	// Type is the state register type; its width is fixed by Build and
	// shared by every literal returned from CodeExpr.
	Type    *ir.SignalType
	Current *ir.Signal
	Next    *ir.Signal

	// Defaults run every active cycle before the state body.
	Defaults []ir.Stmt
	// OnReset runs instead of the state body while reset is asserted.
	OnReset []ir.Stmt

	opts   Options
	module *ir.Module
	states []*State
	names  map[string]StateID
	built  bool
	// err is the first invalid state reference, reported by Build.
	err    error
}

// New declares the state register and next-state wire of a machine in m.
func New(m *ir.Module, opts Options) *FSM {
	if opts.Name == "" {
		opts.Name = "fsm"
	}
	if opts.Clock == nil {
		opts.Clock = m.Clock
	}
	if opts.Reset == nil {
		opts.Reset = m.Reset
	}
	f := &FSM{
		Type:   &ir.SignalType{Width: 1},
		opts:   opts,
		module: m,
		names:  make(map[string]StateID),
	}
	f.Current = m.NewReg(opts.Name+"_state", *f.Type)
	f.Current.Type = f.Type
	f.Next = m.NewWire(opts.Name+"_next", *f.Type)
	f.Next.Type = f.Type
	return f
}

// Name returns the machine name.
func (f *FSM) Name() string { return f.opts.Name }

// Encoding returns the state encoding.
func (f *FSM) Encoding() Encoding { return f.opts.Encoding }

// Len returns the number of declared states.
func (f *FSM) Len() int { return len(f.states) }

// NewState allocates a state whose index is the current state count. The
// returned handle may receive gotos before its body is known.
func (f *FSM) NewState(name string) (StateID, error) {
	if f.built {
		return -1, errors.Wrapf(ErrBuilt, "%s: new state %q", f.opts.Name, name)
	}
	id := StateID(len(f.states))
	if name != "" {
		if prev, ok := f.names[name]; ok {
			return -1, errors.Wrapf(ErrDuplicateState, "%s: %q (state %d)", f.opts.Name, name, prev)
		}
		f.names[name] = id
	}
	f.states = append(f.states, &State{ID: id, Name: name})
	return id, nil
}

// State returns the state with the given id, or nil.
func (f *FSM) State(id StateID) *State {
	if id < 0 || int(id) >= len(f.states) {
		return nil
	}
	return f.states[id]
}

// Lookup finds a state by name.
func (f *FSM) Lookup(name string) (StateID, bool) {
	id, ok := f.names[name]
	return id, ok
}

// AddBody appends statements to the body of a state. An unknown id makes
// Build fail.
func (f *FSM) AddBody(id StateID, stmts ...ir.Stmt) {
	if st := f.valid(id, "body"); st != nil {
		st.Body = append(st.Body, stmts...)
	}
}

// Goto appends a transition to a state. Later transitions override earlier
// ones when their conditions hold. An unknown id makes Build fail.
func (f *FSM) Goto(id StateID, tr Transition) {
	if st := f.valid(id, "goto"); st != nil {
		st.Gotos = append(st.Gotos, tr)
	}
}

func (f *FSM) valid(id StateID, what string) *State {
	st := f.State(id)
	if st == nil && f.err == nil {
		f.err = errors.Wrapf(ErrUnknownState, "%s: %s on state %d of %d", f.opts.Name, what, id, len(f.states))
	}
	return st
}

// Code returns the register encoding of a state index.
func (f *FSM) Code(id StateID) uint64 {
	if f.opts.Encoding == OneHot {
		if id < 0 || int(id) >= len(f.states) || id >= 64 {
			id = f.opts.Default
		}
		return 1 << uint(id)
	}
	return uint64(id)
}

// CodeExpr returns the encoding of id as a literal of the state type.
func (f *FSM) CodeExpr(id StateID) ir.Expr {
	return ir.LitOf(f.Code(id), f.Type)
}

// IsIn returns the 1-bit expression current == id.
func (f *FSM) IsIn(id StateID) ir.Expr {
	return ir.Eq(ir.R(f.Current), f.CodeExpr(id))
}

// Build emits the machine into its module. It may be called once.
func (f *FSM) Build() error {
	if f.built {
		return errors.Wrap(ErrBuilt, f.opts.Name)
	}
	if f.err != nil {
		return f.err
	}
	if f.opts.Clock == nil || f.opts.Clock.Signal == nil {
		return errors.Wrap(ErrNoClock, f.opts.Name)
	}
	if err := f.sizeState(); err != nil {
		return err
	}

	next, err := f.nextStateBody()
	if err != nil {
		return err
	}
	f.built = true

	update := []ir.Stmt{&ir.Assign{Dest: f.Current, Value: ir.R(f.Next)}}
	if f.opts.Reset != nil {
		update = []ir.Stmt{&ir.If{
			Cond: f.opts.Reset,
			Then: []ir.Stmt{&ir.Assign{Dest: f.Current, Value: f.CodeExpr(0)}},
			Else: update,
		}}
	}
	f.module.AddProcess(&ir.Process{
		Name:        f.opts.Name + "_update",
		Sensitivity: ir.Sequential,
		Clock:       f.opts.Clock,
		Body:        update,
	})

	dispatch := &ir.Case{Selector: ir.R(f.Current)}
	for _, st := range f.states {
		dispatch.Arms = append(dispatch.Arms, ir.CaseArm{
			Value: f.Code(st.ID),
			Body:  st.Body,
		})
	}
	body := append(append([]ir.Stmt{}, f.Defaults...), dispatch)
	if f.opts.Reset != nil {
		body = []ir.Stmt{&ir.If{Cond: f.opts.Reset, Then: f.OnReset, Else: body}}
	}
	f.module.AddProcess(&ir.Process{
		Name:        f.opts.Name + "_body",
		Sensitivity: ir.Sequential,
		Clock:       f.opts.Clock,
		Body:        body,
	})

	f.module.AddProcess(&ir.Process{
		Name:        f.opts.Name + "_transitions",
		Sensitivity: ir.Combinational,
		Body:        next,
	})
	return nil
}

func (f *FSM) sizeState() error {
	n := len(f.states)
	switch f.opts.Encoding {
	case OneHot:
		if n > 64 {
			return errors.Wrapf(ErrTooManyStates, "%s: %d states, onehot supports 64", f.opts.Name, n)
		}
		f.Type.Width = n
		if f.Type.Width == 0 {
			f.Type.Width = 1
		}
	default:
		// Room for index n, the implicit successor of the last state.
		f.Type.Width = ir.BitsFor(uint64(n))
	}
	f.Type.Signed = false
	return nil
}

func (f *FSM) nextStateBody() ([]ir.Stmt, error) {
	sel := &ir.Case{Selector: ir.R(f.Current)}
	for _, st := range f.states {
		stmts := []ir.Stmt{f.assignNext(f.fallthroughIndex(st.ID))}
		for i, tr := range st.Gotos {
			stmt, err := f.lowerTransition(tr)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: state %s goto %d", f.opts.Name, f.label(st), i)
			}
			stmts = append(stmts, stmt)
		}
		sel.Arms = append(sel.Arms, ir.CaseArm{Value: f.Code(st.ID), Body: stmts})
	}
	sel.Default = []ir.Stmt{f.assignNext(f.opts.Default)}
	return []ir.Stmt{sel}, nil
}

func (f *FSM) fallthroughIndex(id StateID) StateID {
	return id + 1
}

func (f *FSM) lowerTransition(tr Transition) (ir.Stmt, error) {
	then, err := f.assignTarget(tr.Then)
	if err != nil {
		return nil, err
	}
	if tr.Cond == nil {
		return then, nil
	}
	stmt := &ir.If{Cond: tr.Cond, Then: []ir.Stmt{then}}
	if tr.Else != nil {
		other, err := f.assignTarget(tr.Else)
		if err != nil {
			return nil, err
		}
		stmt.Else = []ir.Stmt{other}
	}
	return stmt, nil
}

func (f *FSM) assignTarget(t Target) (ir.Stmt, error) {
	if dyn, ok := t.(exprTarget); ok {
		return &ir.Assign{Dest: f.Next, Value: dyn.expr}, nil
	}
	id, err := f.resolve(t)
	if err != nil {
		return nil, err
	}
	return f.assignNext(id), nil
}

func (f *FSM) assignNext(id StateID) ir.Stmt {
	return &ir.Assign{Dest: f.Next, Value: f.CodeExpr(f.clamp(id))}
}

// clamp maps indices outside the machine to the default state, except the
// binary successor of the last state which is kept literally.
func (f *FSM) clamp(id StateID) StateID {
	n := StateID(len(f.states))
	if id >= 0 && id < n {
		return id
	}
	if id == n && f.opts.Encoding == Binary {
		return id
	}
	return f.opts.Default
}

func (f *FSM) resolve(t Target) (StateID, error) {
	switch x := t.(type) {
	case stateTarget:
		return x.id + StateID(x.delta), nil
	case namedTarget:
		id, ok := f.names[x.name]
		if !ok {
			return -1, errors.Wrapf(ErrUnknownState, "%q", x.name)
		}
		return id + StateID(x.delta), nil
	default:
		return -1, fmt.Errorf("%s: unsupported target %T", f.opts.Name, t)
	}
}

func (f *FSM) label(st *State) string {
	if st.Name != "" {
		return fmt.Sprintf("%d (%s)", st.ID, st.Name)
	}
	return fmt.Sprintf("%d", st.ID)
}
