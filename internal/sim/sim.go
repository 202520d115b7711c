// Package sim is a cycle-based simulator for ir modules. Values are kept as
// 256-bit words masked to the width of their signal.
package sim

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"hdlc/internal/ir"
)

var (
	ErrUnknownSignal = errors.New("unknown signal")
	ErrNotMemory     = errors.New("signal is not a memory")
	ErrNoSettle      = errors.New("combinational logic does not settle")
)

// settleLimit bounds the number of passes over the combinational processes.
const settleLimit = 64

// Simulator holds the state of one module.
type Simulator struct {
	module *ir.Module
	values map[*ir.Signal]*uint256.Int
	mems   map[*ir.Signal][]*uint256.Int
	cycle  uint64
}

type write struct {
	dest  *ir.Signal
	index int
	value *uint256.Int
}

// New returns a simulator with every register, wire and memory word at zero.
func New(m *ir.Module) (*Simulator, error) {
	s := &Simulator{
		module: m,
		values: make(map[*ir.Signal]*uint256.Int),
		mems:   make(map[*ir.Signal][]*uint256.Int),
	}
	for _, name := range m.SignalNames() {
		sig := m.Signals[name]
		switch sig.Kind {
		case ir.Memory:
			words := make([]*uint256.Int, sig.Depth)
			for i := range words {
				words[i] = new(uint256.Int)
			}
			s.mems[sig] = words
		case ir.Const:
			s.values[sig] = truncate(uint256.NewInt(sig.Value), width(sig.Type))
		default:
			s.values[sig] = new(uint256.Int)
		}
	}
	if err := s.settle(); err != nil {
		return nil, err
	}
	return s, nil
}

// Cycle returns the number of clock edges simulated so far.
func (s *Simulator) Cycle() uint64 { return s.cycle }

// Set drives a signal, usually an input port, and settles the combinational
// logic.
func (s *Simulator) Set(name string, v uint64) error {
	sig, err := s.scalar(name)
	if err != nil {
		return err
	}
	s.values[sig] = truncate(uint256.NewInt(v), width(sig.Type))
	return s.settle()
}

// Value returns the full-width value of a signal.
func (s *Simulator) Value(name string) (*uint256.Int, error) {
	sig, err := s.scalar(name)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(s.values[sig]), nil
}

// Get returns the low 64 bits of a signal.
func (s *Simulator) Get(name string) (uint64, error) {
	v, err := s.Value(name)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// Word returns the low 64 bits of mem[index]. Out-of-range reads yield zero.
func (s *Simulator) Word(name string, index int) (uint64, error) {
	sig := s.module.Signal(name)
	if sig == nil {
		return 0, errors.Wrap(ErrUnknownSignal, name)
	}
	words, ok := s.mems[sig]
	if !ok {
		return 0, errors.Wrap(ErrNotMemory, name)
	}
	if index < 0 || index >= len(words) {
		return 0, nil
	}
	return words[index].Uint64(), nil
}

// Tick simulates one clock period: processes triggered on a rising edge run
// first, then those triggered on a falling edge. Within an edge every
// process reads the values from before the edge and the last write to a
// destination wins.
func (s *Simulator) Tick() error {
	for _, edge := range []ir.Edge{ir.Posedge, ir.Negedge} {
		var pending []write
		for _, proc := range s.module.Processes {
			if proc.Sensitivity != ir.Sequential || proc.Clock == nil || proc.Clock.Edge != edge {
				continue
			}
			s.exec(proc.Body, func(w write) { pending = append(pending, w) })
		}
		for _, w := range pending {
			s.store(w)
		}
		if err := s.settle(); err != nil {
			return errors.Wrapf(err, "cycle %d", s.cycle)
		}
	}
	s.cycle++
	return nil
}

// Run ticks until done returns true or max cycles elapsed. done is checked
// before each tick and may be nil. The number of ticks is returned.
func (s *Simulator) Run(max int, done func(*Simulator) bool) (int, error) {
	for n := 0; n < max; n++ {
		if done != nil && done(s) {
			return n, nil
		}
		if err := s.Tick(); err != nil {
			return n, err
		}
	}
	return max, nil
}

func (s *Simulator) scalar(name string) (*ir.Signal, error) {
	sig := s.module.Signal(name)
	if sig == nil {
		return nil, errors.Wrap(ErrUnknownSignal, name)
	}
	if sig.Kind == ir.Memory {
		return nil, errors.Wrapf(ErrNotMemory, "%s is a memory, use Word", name)
	}
	return sig, nil
}

func (s *Simulator) settle() error {
	for pass := 0; pass < settleLimit; pass++ {
		changed := false
		for _, proc := range s.module.Processes {
			if proc.Sensitivity != ir.Combinational {
				continue
			}
			for _, w := range s.final(proc.Body) {
				if s.store(w) {
					changed = true
				}
			}
		}
		if !changed {
			return nil
		}
	}
	return ErrNoSettle
}

type slot struct {
	dest  *ir.Signal
	index int
}

// final runs stmts and keeps the last write to every scalar and memory word,
// in order of first write.
func (s *Simulator) final(stmts []ir.Stmt) []write {
	var out []write
	pos := make(map[slot]int)
	s.exec(stmts, func(w write) {
		k := slot{w.dest, w.index}
		if i, ok := pos[k]; ok {
			out[i] = w
			return
		}
		pos[k] = len(out)
		out = append(out, w)
	})
	return out
}

// store applies a write and reports whether the stored value changed.
func (s *Simulator) store(w write) bool {
	if w.index < 0 {
		old := s.values[w.dest]
		if old != nil && old.Eq(w.value) {
			return false
		}
		s.values[w.dest] = w.value
		return true
	}
	words := s.mems[w.dest]
	if w.index >= len(words) {
		return false
	}
	if words[w.index].Eq(w.value) {
		return false
	}
	words[w.index] = w.value
	return true
}

func (s *Simulator) exec(stmts []ir.Stmt, emit func(write)) {
	for _, stmt := range stmts {
		switch st := stmt.(type) {
		case *ir.Assign:
			v := fit(s.eval(st.Value), st.Value.Type(), width(st.Dest.Type))
			w := write{dest: st.Dest, index: -1, value: v}
			if st.Index != nil {
				idx := s.eval(st.Index)
				if !idx.IsUint64() || idx.Uint64() >= uint64(len(s.mems[st.Dest])) {
					continue
				}
				w.index = int(idx.Uint64())
			}
			emit(w)
		case *ir.If:
			if !s.eval(st.Cond).IsZero() {
				s.exec(st.Then, emit)
			} else {
				s.exec(st.Else, emit)
			}
		case *ir.Case:
			sel := s.eval(st.Selector)
			body := st.Default
			for _, arm := range st.Arms {
				if sel.Eq(truncate(uint256.NewInt(arm.Value), width(st.Selector.Type()))) {
					body = arm.Body
					break
				}
			}
			s.exec(body, emit)
		}
	}
}
