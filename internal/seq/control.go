package seq

import (
	"github.com/pkg/errors"

	"hdlc/internal/fsm"
	"hdlc/internal/ir"
)

// If runs body only when cond holds and returns the closing state of the
// branch. An Else may follow immediately.
func (s *Sequencer) If(cond ir.Expr, body func()) fsm.StateID {
	st := s.Step()
	s.push(&frame{})
	body()
	yes := s.Step()
	s.pop()
	s.FSM.Goto(st, fsm.Branch(cond, fsm.After(st), fsm.After(yes)))
	f := s.top()
	f.ifYes, f.hasIfYes = yes, true
	return yes
}

// Else runs body when the condition of the preceding If did not hold.
func (s *Sequencer) Else(body func()) fsm.StateID {
	f := s.top()
	if !f.hasIfYes || s.b.Pending() {
		s.fail(errors.Wrapf(ErrElseWithoutIf, "%s: after state %d", s.opts.Name, s.FSM.Len()-1))
	}
	yes := f.ifYes
	f.hasIfYes = false
	s.push(&frame{})
	body()
	no := s.Step()
	s.pop()
	s.FSM.Goto(yes, fsm.Jump(fsm.After(no)))
	return no
}

// While repeats body as long as cond holds. cond is tested before the first
// iteration and after every iteration.
func (s *Sequencer) While(cond ir.Expr, body func()) fsm.StateID {
	return s.loop(cond, cond, nil, body)
}

// Loop repeats body forever; Break is the only way out.
func (s *Sequencer) Loop(body func()) fsm.StateID {
	return s.loop(nil, nil, nil, body)
}

// loop builds a header state and the body states. head is tested when
// leaving the header, tail when leaving the last body state. next, if set,
// is emitted at the end of every iteration.
func (s *Sequencer) loop(head, tail ir.Expr, next func(), body func()) fsm.StateID {
	st := s.Step()
	f := &frame{loop: true, anchor: st + 1, next: next}
	s.push(f)
	body()
	if next != nil {
		next()
	}
	yes := s.Step()
	s.pop()

	s.FSM.Goto(st, loopEdge(head, st, yes))
	s.FSM.Goto(yes, loopEdge(tail, st, yes))
	for _, c := range f.conts {
		s.FSM.Goto(c, loopEdge(tail, st, yes))
	}
	for _, b := range f.breaks {
		s.FSM.Goto(b, fsm.Jump(fsm.After(yes)))
	}
	f.breaks, f.conts = nil, nil
	return yes
}

func loopEdge(cond ir.Expr, st, yes fsm.StateID) fsm.Transition {
	if cond == nil {
		return fsm.Jump(fsm.After(st))
	}
	return fsm.Branch(cond, fsm.After(st), fsm.After(yes))
}

// Break leaves the innermost loop.
func (s *Sequencer) Break() fsm.StateID {
	st := s.Step()
	f := s.nearestLoop("break", st)
	f.breaks = append(f.breaks, st)
	return st
}

// Continue starts the next iteration of the innermost loop. In a plain loop
// it jumps to the first body state without testing the condition; in an
// enumerator it advances the index and tests it first.
func (s *Sequencer) Continue() fsm.StateID {
	f := s.nearestLoop("continue", fsm.StateID(s.FSM.Len()))
	if f.next != nil {
		f.next()
		st := s.Step()
		f.conts = append(f.conts, st)
		return st
	}
	st := s.Step()
	s.FSM.Goto(st, fsm.Jump(fsm.To(f.anchor)))
	return st
}

// Terminate returns to the end state.
func (s *Sequencer) Terminate() fsm.StateID {
	st := s.Step()
	s.FSM.Goto(st, fsm.Jump(fsm.To(s.end)))
	return st
}

func (s *Sequencer) nearestLoop(what string, at fsm.StateID) *frame {
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		if f.loop {
			return f
		}
		if f.fn != nil {
			break
		}
	}
	s.fail(errors.Wrapf(ErrNoLoop, "%s: %s at state %d", s.opts.Name, what, at))
	return nil
}

// Label names the state that receives the statements emitted next.
func (s *Sequencer) Label(name string) {
	if _, ok := s.FSM.Lookup(name); ok || name == s.label {
		s.fail(errors.Wrapf(fsm.ErrDuplicateState, "%s: label %q", s.opts.Name, name))
	}
	if s.b.Pending() || s.label != "" {
		s.Step()
	}
	s.label = name
}

// Goto jumps to the state named by a Label, which may appear later.
func (s *Sequencer) Goto(name string) fsm.StateID {
	st := s.Step()
	s.FSM.Goto(st, fsm.Jump(fsm.Named(name)))
	return st
}

// For runs body n times with the index counting from zero. The index
// register has the type of n.
func (s *Sequencer) For(n ir.Expr, body func(i ir.Expr)) fsm.StateID {
	if s.b.Pending() || s.label != "" {
		s.Step()
	}
	typ := n.Type()
	idx := s.Reg("i", *typ)
	idx.Type = typ
	i := ir.R(idx)
	one := ir.LitOf(1, typ)
	s.Assign(idx, ir.LitOf(0, typ))
	head := ir.Lt(ir.LitOf(0, typ), n)
	tail := ir.Lt(ir.Plus(i, one), n)
	next := func() { s.Assign(idx, ir.Plus(i, one)) }
	return s.loop(head, tail, next, func() { body(i) })
}

// Times runs body n times.
func (s *Sequencer) Times(n int, body func(i ir.Expr)) fsm.StateID {
	return s.For(ir.Num(uint64(n), ir.BitsFor(uint64(n))), body)
}

// Each runs body once per word of mem, passing the word and its index.
func (s *Sequencer) Each(mem *ir.Signal, body func(elem, i ir.Expr)) fsm.StateID {
	n := uint64(mem.Depth)
	return s.For(ir.Num(n, ir.BitsFor(n)), func(i ir.Expr) {
		body(ir.At(mem, i), i)
	})
}
