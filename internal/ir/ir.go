package ir

import (
	"fmt"
	"sort"
)

// Design is the top-level hardware description consisting of one or more modules.
type Design struct {
	Modules  []*Module
	TopLevel *Module
}

// Module models a hardware module with ports, signals and processes.
type Module struct {
	Name      string
	Ports     []Port
	Signals   map[string]*Signal
	Processes []*Process

	// Clock and Reset are the ambient clock event and reset condition used by
	// generators that are not given an explicit one.
	Clock *Event
	Reset Expr

	names map[string]int
}

// NewModule returns an empty module ready for signal declarations.
func NewModule(name string) *Module {
	return &Module{
		Name:    name,
		Signals: make(map[string]*Signal),
		names:   make(map[string]int),
	}
}

// Port represents a module IO port.
type Port struct {
	Name      string
	Direction PortDirection
	Type      *SignalType
	Signal    *Signal
}

// PortDirection enumerates supported port directions.
type PortDirection int

const (
	Input PortDirection = iota
	Output
	InOut
)

// Signal captures a hardware wire, register, constant or memory.
type Signal struct {
	Name  string
	Type  *SignalType
	Kind  SignalKind
	Value uint64
	// Depth is the number of words of a Memory signal.
	Depth int
}

// SignalKind classifies how a signal is driven.
type SignalKind int

const (
	Wire SignalKind = iota
	Reg
	Const
	Memory
)

// Process groups statements under a specific clocking scheme. Assignments in
// a Sequential process take effect on the clock edge (last write wins);
// assignments in a Combinational process are immediate.
type Process struct {
	Name        string
	Sensitivity Sensitivity
	Clock       *Event
	Body        []Stmt
}

// Sensitivity indicates whether process is combinational or sequential.
type Sensitivity int

const (
	Combinational Sensitivity = iota
	Sequential
)

// Edge selects the active clock edge of an Event.
type Edge int

const (
	Posedge Edge = iota
	Negedge
)

// Event is a clock edge on a 1-bit signal.
type Event struct {
	Signal *Signal
	Edge   Edge
}

// PosedgeOf returns the rising-edge event of sig.
func PosedgeOf(sig *Signal) *Event {
	return &Event{Signal: sig, Edge: Posedge}
}

// UniqueName returns prefix if it is still free in the module, otherwise
// prefix_N for the smallest N that is free. The name is reserved.
func (m *Module) UniqueName(prefix string) string {
	if prefix == "" {
		prefix = "tmp"
	}
	if m.names == nil {
		m.names = make(map[string]int)
	}
	name := prefix
	for m.taken(name) {
		m.names[prefix]++
		name = fmt.Sprintf("%s_%d", prefix, m.names[prefix])
	}
	if _, ok := m.names[name]; !ok {
		m.names[name] = 0
	}
	return name
}

func (m *Module) taken(name string) bool {
	if _, ok := m.Signals[name]; ok {
		return true
	}
	_, ok := m.names[name]
	return ok
}

func (m *Module) declare(name string, kind SignalKind, typ SignalType) *Signal {
	t := typ
	sig := &Signal{
		Name: m.UniqueName(name),
		Type: &t,
		Kind: kind,
	}
	m.Signals[sig.Name] = sig
	return sig
}

// NewReg declares a register of the given type. The name is made unique.
func (m *Module) NewReg(name string, typ SignalType) *Signal {
	return m.declare(name, Reg, typ)
}

// NewWire declares a combinationally driven signal.
func (m *Module) NewWire(name string, typ SignalType) *Signal {
	return m.declare(name, Wire, typ)
}

// NewMemory declares an indexed register array of depth words.
func (m *Module) NewMemory(name string, elem SignalType, depth int) *Signal {
	sig := m.declare(name, Memory, elem)
	sig.Depth = depth
	return sig
}

// NewConst declares a named constant.
func (m *Module) NewConst(name string, value uint64, typ SignalType) *Signal {
	sig := m.declare(name, Const, typ)
	sig.Value = value
	return sig
}

// AddPort declares a port and its backing signal.
func (m *Module) AddPort(name string, dir PortDirection, typ SignalType) *Signal {
	kind := Wire
	if dir == Output {
		kind = Reg
	}
	sig := m.declare(name, kind, typ)
	m.Ports = append(m.Ports, Port{
		Name:      sig.Name,
		Direction: dir,
		Type:      sig.Type,
		Signal:    sig,
	})
	return sig
}

// AddProcess appends a process to the module.
func (m *Module) AddProcess(proc *Process) {
	m.Processes = append(m.Processes, proc)
}

// Signal looks a signal up by name.
func (m *Module) Signal(name string) *Signal {
	return m.Signals[name]
}

// SignalNames returns the declared signal names in sorted order.
func (m *Module) SignalNames() []string {
	names := make([]string, 0, len(m.Signals))
	for name := range m.Signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
