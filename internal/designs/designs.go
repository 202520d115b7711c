// Package designs bundles example sequencer designs together with the values
// their outputs hold once they finish.
package designs

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"hdlc/internal/diag"
	"hdlc/internal/fsm"
	"hdlc/internal/ir"
	"hdlc/internal/seq"
	"hdlc/internal/sim"
)

var ErrTimeout = errors.New("design did not finish")

// Options are passed to every design builder.
type Options struct {
	Encoding fsm.Encoding
	Reporter *diag.Reporter
}

// Expectation is the final value of one output.
type Expectation struct {
	Signal string
	Value  uint64
}

// Result is an elaborated design.
type Result struct {
	Design *ir.Design
	Module *ir.Module
	Seq    *seq.Sequencer
	Expect []Expectation
}

// Design is a named builder.
type Design struct {
	Name    string
	Summary string
	Build   func(opts Options) (*Result, error)
}

var registry = map[string]Design{}

func register(d Design) {
	registry[d.Name] = d
}

// All returns every design sorted by name.
func All() []Design {
	out := make([]Design, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a design by name.
func Lookup(name string) (Design, bool) {
	d, ok := registry[name]
	return d, ok
}

// newTop declares the clk, rst and start inputs shared by every design.
func newTop(name string) *ir.Module {
	m := ir.NewModule(name)
	clk := m.AddPort("clk", ir.Input, ir.Bit)
	rst := m.AddPort("rst", ir.Input, ir.Bit)
	m.AddPort("start", ir.Input, ir.Bit)
	m.Clock = ir.PosedgeOf(clk)
	m.Reset = ir.R(rst)
	return m
}

// elaborate builds the sequencer of m and drives the busy output from it.
func elaborate(m *ir.Module, opts Options, expect []Expectation, body func(s *seq.Sequencer)) (*Result, error) {
	sq, err := seq.Build(m, seq.Options{
		Name:     "ctl",
		Start:    ir.R(m.Signal("start")),
		Encoding: opts.Encoding,
		Reporter: opts.Reporter,
	}, body)
	if err != nil {
		return nil, errors.Wrap(err, m.Name)
	}
	busy := m.AddPort("busy", ir.Output, ir.Bit)
	m.AddProcess(&ir.Process{
		Name:        "busy",
		Sensitivity: ir.Combinational,
		Body:        []ir.Stmt{&ir.Assign{Dest: busy, Value: sq.Alive()}},
	})
	return &Result{
		Design: &ir.Design{Modules: []*ir.Module{m}, TopLevel: m},
		Module: m,
		Seq:    sq,
		Expect: expect,
	}, nil
}

// Run resets the design, pulses start and ticks until busy falls again.
// probe, if set, is called after every tick with the tick number.
func Run(res *Result, max int, probe func(s *sim.Simulator, tick int)) (*sim.Simulator, int, error) {
	s, err := sim.New(res.Module)
	if err != nil {
		return nil, 0, err
	}
	boot := []struct {
		name  string
		value uint64
	}{{"rst", 1}, {"rst", 0}, {"start", 1}, {"start", 0}}
	for i, b := range boot {
		if err := s.Set(b.name, b.value); err != nil {
			return nil, 0, err
		}
		if i%2 == 0 {
			if err := s.Tick(); err != nil {
				return nil, 0, err
			}
		}
	}
	started := false
	for tick := 1; tick <= max; tick++ {
		if err := s.Tick(); err != nil {
			return s, tick, err
		}
		if probe != nil {
			probe(s, tick)
		}
		busy, err := s.Get("busy")
		if err != nil {
			return s, tick, err
		}
		if busy == 1 {
			started = true
		} else if started {
			return s, tick, nil
		}
	}
	return s, max, errors.Wrapf(ErrTimeout, "%s after %d cycles", res.Module.Name, max)
}

// Check compares the outputs of a finished simulation with the expectations.
func Check(s *sim.Simulator, res *Result) error {
	for _, e := range res.Expect {
		got, err := s.Get(e.Signal)
		if err != nil {
			return err
		}
		if got != e.Value {
			return fmt.Errorf("%s: %s = %d, want %d", res.Module.Name, e.Signal, got, e.Value)
		}
	}
	return nil
}
