package seq

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"hdlc/internal/fsm"
	"hdlc/internal/ir"
)

// maxElaboration bounds nested function instantiation.
const maxElaboration = 32

// FuncOptions configures a function.
type FuncOptions struct {
	// Depth is the call stack depth used once the function turns out to be
	// recursive. Zero derives it from the widest argument.
	Depth int
	// Returns fixes the return register type up front.
	Returns *ir.SignalType
	// Overflow, if set, is elaborated after every call site and runs instead
	// of the call when the stack is full.
	Overflow func(s *Sequencer)
}

// Function is a definition. It is instantiated once per list of argument
// types.
type Function struct {
	Name string

	opts      FuncOptions
	body      func(s *Sequencer, args []ir.Expr)
	instances []*Instance
}

// Instance is a function monomorphized for one list of argument types. Its
// call stack is one memory per argument plus one for return addresses.
type Instance struct {
	Func     *Function
	ArgTypes []ir.SignalType

	Args       []*ir.Signal
	ReturnAddr *ir.Signal
	SP         *ir.Signal
	Depth      *ir.Signal
	Ret        *ir.Signal
	Entry      fsm.StateID

	spType   *ir.SignalType
	resolved bool
	sized    bool
}

// Instances returns the instances created so far.
func (f *Function) Instances() []*Instance { return f.instances }

// Def declares a function. body is elaborated on the first call with a new
// list of argument types.
func (s *Sequencer) Def(name string, opts FuncOptions, body func(s *Sequencer, args []ir.Expr)) *Function {
	fn := &Function{Name: name, opts: opts, body: body}
	s.funcs = append(s.funcs, fn)
	return fn
}

// Call calls fn and returns its return register. Read it in the states that
// follow the call.
func (s *Sequencer) Call(fn *Function, args ...ir.Expr) ir.Expr {
	return s.CallDepth(fn, 0, args...)
}

// CallDepth is Call with an explicit stack depth request for a recursive
// call site. The first recursive call fixes the depth; later requests must
// agree with it.
func (s *Sequencer) CallDepth(fn *Function, depth int, args ...ir.Expr) ir.Expr {
	types := make([]ir.SignalType, len(args))
	for i, a := range args {
		types[i] = *a.Type()
	}

	if inst := s.elaborating(fn, types); inst != nil {
		s.resize(inst, depth)
		s.callExisting(inst, args)
		return ir.R(inst.Ret)
	}
	if inst := lookup(fn, types); inst != nil {
		s.callExisting(inst, args)
		return ir.R(inst.Ret)
	}
	inst := s.instantiate(fn, types)
	s.callFirst(inst, args)
	return ir.R(inst.Ret)
}

// Return returns from the function being elaborated. value may be nil.
func (s *Sequencer) Return(value ir.Expr) fsm.StateID {
	if len(s.building) == 0 {
		s.fail(errors.Wrapf(ErrOutsideFunction, "%s: state %d", s.opts.Name, s.FSM.Len()))
	}
	return s.makeReturn(s.building[len(s.building)-1], value)
}

func (s *Sequencer) elaborating(fn *Function, types []ir.SignalType) *Instance {
	for i := len(s.building) - 1; i >= 0; i-- {
		if inst := s.building[i]; inst.matches(fn, types) {
			return inst
		}
	}
	return nil
}

func lookup(fn *Function, types []ir.SignalType) *Instance {
	for _, inst := range fn.instances {
		if inst.matches(fn, types) {
			return inst
		}
	}
	return nil
}

func (inst *Instance) matches(fn *Function, types []ir.SignalType) bool {
	if inst.Func != fn || len(inst.ArgTypes) != len(types) {
		return false
	}
	for i := range types {
		if !inst.ArgTypes[i].Equal(&types[i]) {
			return false
		}
	}
	return true
}

func (s *Sequencer) instantiate(fn *Function, types []ir.SignalType) *Instance {
	if len(s.building) >= maxElaboration {
		s.fail(errors.Wrapf(ErrNoConvergence, "%s(%s): argument types keep changing", fn.Name, describe(types)))
	}
	m := s.Module
	prefix := fn.Name
	if len(fn.instances) > 0 {
		prefix = fmt.Sprintf("%s_%d", fn.Name, len(fn.instances))
	}
	inst := &Instance{Func: fn, ArgTypes: types}

	inst.SP = m.NewReg(prefix+"_sp", ir.Unsigned(1))
	inst.spType = inst.SP.Type
	inst.Depth = m.NewConst(prefix+"_depth", 1, *inst.spType)
	inst.Depth.Type = inst.spType
	for i, t := range types {
		inst.Args = append(inst.Args, m.NewMemory(fmt.Sprintf("%s_arg%d", prefix, i), t, 1))
	}
	inst.ReturnAddr = m.NewMemory(prefix+"_ret_addr", *s.FSM.Type, 1)
	inst.ReturnAddr.Type = s.FSM.Type

	inst.Ret = m.NewReg(prefix+"_ret", ir.SignalType{})
	if fn.opts.Returns != nil {
		*inst.Ret.Type = *fn.opts.Returns
		inst.resolved = true
	}

	s.FSM.OnReset = append(s.FSM.OnReset, &ir.Assign{Dest: inst.SP, Value: ir.LitOf(0, inst.spType)})
	fn.instances = append(fn.instances, inst)
	s.notef(fn.Name, "instance %s(%s)", prefix, describe(types))
	return inst
}

// resize fixes the stack depth the first time recursion is detected.
func (s *Sequencer) resize(inst *Instance, request int) {
	fn := inst.Func
	if inst.sized {
		if request != 0 && request != inst.depth() {
			s.fail(errors.Wrapf(ErrDepthConflict, "%s: depth %d requested, fixed at %d",
				fn.Name, request, inst.depth()))
		}
		return
	}
	depth := request
	if depth == 0 {
		depth = fn.opts.Depth
	}
	if depth == 0 {
		for _, t := range inst.ArgTypes {
			if t.Width > depth {
				depth = t.Width
			}
		}
		s.notef(fn.Name, "recursion depth %d guessed from argument width", depth)
	}
	if depth < 1 {
		depth = 1
	}
	inst.sized = true
	inst.spType.Width = ir.BitsFor(uint64(depth))
	inst.Depth.Value = uint64(depth)
	for _, mem := range inst.Args {
		mem.Depth = depth
	}
	inst.ReturnAddr.Depth = depth
}

func (inst *Instance) depth() int { return int(inst.Depth.Value) }

// pushCall emits the guarded stack push for a call site. Statements emitted
// before the call get their own state so that the arguments see their
// effect. The return address is patched in when the continuation state is
// known.
func (s *Sequencer) pushCall(inst *Instance, args []ir.Expr) *ir.Lit {
	if s.b.Pending() {
		s.Step()
	}
	sp := ir.R(inst.SP)
	ret := &ir.Lit{Typ: s.FSM.Type}
	s.b.If(ir.Lt(sp, ir.R(inst.Depth)), func() {
		for i, a := range args {
			s.b.AssignAt(inst.Args[i], sp, a)
		}
		s.b.AssignAt(inst.ReturnAddr, sp, ret)
		s.b.Assign(inst.SP, ir.Plus(sp, ir.LitOf(1, inst.spType)))
	}, nil)
	return ret
}

// callFirst elaborates the body right after the call state.
func (s *Sequencer) callFirst(inst *Instance, args []ir.Expr) {
	ret := s.pushCall(inst, args)
	call := s.Step()
	inst.Entry = call + 1

	s.building = append(s.building, inst)
	s.frames = append(s.frames, &frame{fn: inst})
	top := ir.Minus(ir.R(inst.SP), ir.LitOf(1, inst.spType))
	formals := make([]ir.Expr, len(inst.Args))
	for i, mem := range inst.Args {
		formals[i] = ir.At(mem, top)
	}
	inst.Func.body(s, formals)
	last := s.makeReturn(inst, nil)
	s.pop()
	s.building = s.building[:len(s.building)-1]

	s.finishCall(inst, call, ret, last+1)
}

// callExisting jumps into a body elaborated earlier.
func (s *Sequencer) callExisting(inst *Instance, args []ir.Expr) {
	ret := s.pushCall(inst, args)
	call := s.Step()
	s.finishCall(inst, call, ret, call+1)
}

// finishCall places the overflow handler at skip and wires the call state.
func (s *Sequencer) finishCall(inst *Instance, call fsm.StateID, ret *ir.Lit, skip fsm.StateID) {
	resume := skip
	if h := inst.Func.opts.Overflow; h != nil {
		h(s)
		resume = s.Step() + 1
	}
	s.fixups = append(s.fixups, fixup{lit: ret, state: resume})
	s.FSM.Goto(call, fsm.Branch(ir.Lt(ir.R(inst.SP), ir.R(inst.Depth)), fsm.To(inst.Entry), fsm.To(skip)))
}

// makeReturn assigns the return value and pops the frame. The return state
// reads the address at sp-1 before the pop takes effect.
func (s *Sequencer) makeReturn(inst *Instance, value ir.Expr) fsm.StateID {
	s.Step()
	if value != nil {
		s.resolveReturn(inst, value)
		s.b.Assign(inst.Ret, value)
	}
	st := s.Step()
	top := ir.Minus(ir.R(inst.SP), ir.LitOf(1, inst.spType))
	s.FSM.AddBody(st, &ir.Assign{Dest: inst.SP, Value: top})
	s.FSM.Goto(st, fsm.Jump(fsm.Dynamic(ir.At(inst.ReturnAddr, top))))
	return st
}

func (s *Sequencer) resolveReturn(inst *Instance, value ir.Expr) {
	t := value.Type()
	if t.IsUnknown() {
		return
	}
	if !inst.resolved {
		*inst.Ret.Type = *t
		inst.resolved = true
		return
	}
	if !t.FitsWithin(inst.Ret.Type) {
		s.fail(errors.Wrapf(ErrReturnType, "%s: %s returned, register is %s",
			inst.Func.Name, t.Description(), inst.Ret.Type.Description()))
	}
}

func describe(types []ir.SignalType) string {
	parts := make([]string, len(types))
	for i := range types {
		parts[i] = types[i].Description()
	}
	return strings.Join(parts, ", ")
}
