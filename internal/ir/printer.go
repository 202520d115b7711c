package ir

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a simple human-readable representation of the design.
func Dump(design *Design, w io.Writer) {
	if design == nil {
		fmt.Fprintln(w, "<nil design>")
		return
	}
	for _, module := range design.Modules {
		DumpModule(module, w)
		fmt.Fprintln(w)
	}
}

// DumpModule writes one module.
func DumpModule(module *Module, w io.Writer) {
	fmt.Fprintf(w, "module %s\n", module.Name)
	dumpPorts(module, w)
	dumpSignals(module, w)
	dumpProcesses(module, w)
}

func dumpPorts(module *Module, w io.Writer) {
	if len(module.Ports) == 0 {
		return
	}
	fmt.Fprintln(w, "  ports:")
	for _, port := range module.Ports {
		fmt.Fprintf(w, "    %s %s %s\n",
			portDirection(port.Direction),
			port.Name,
			port.Type.Description(),
		)
	}
}

func dumpSignals(module *Module, w io.Writer) {
	if len(module.Signals) == 0 {
		return
	}
	fmt.Fprintln(w, "  signals:")
	for _, name := range module.SignalNames() {
		sig := module.Signals[name]
		extra := ""
		switch sig.Kind {
		case Const:
			extra = fmt.Sprintf(" = %d", sig.Value)
		case Memory:
			extra = fmt.Sprintf(" [%d]", sig.Depth)
		}
		fmt.Fprintf(w, "    %-12s %-6s %s%s\n",
			sig.Name,
			signalKind(sig.Kind),
			sig.Type.Description(),
			extra,
		)
	}
}

func dumpProcesses(module *Module, w io.Writer) {
	for idx, proc := range module.Processes {
		fmt.Fprintf(w, "  process %d %s (%s)\n", idx, proc.Name, sensitivity(proc))
		dumpStmts(w, proc.Body, 2)
	}
}

func dumpStmts(w io.Writer, stmts []Stmt, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *Assign:
			dest := s.Dest.Name
			if s.Index != nil {
				dest = fmt.Sprintf("%s[%s]", dest, FormatExpr(s.Index))
			}
			fmt.Fprintf(w, "%s%s <= %s\n", indent, dest, FormatExpr(s.Value))
		case *If:
			fmt.Fprintf(w, "%sif %s\n", indent, FormatExpr(s.Cond))
			dumpStmts(w, s.Then, depth+1)
			if len(s.Else) > 0 {
				fmt.Fprintf(w, "%selse\n", indent)
				dumpStmts(w, s.Else, depth+1)
			}
		case *Case:
			fmt.Fprintf(w, "%scase %s\n", indent, FormatExpr(s.Selector))
			for _, arm := range s.Arms {
				fmt.Fprintf(w, "%s  when %d\n", indent, arm.Value)
				dumpStmts(w, arm.Body, depth+2)
			}
			if len(s.Default) > 0 {
				fmt.Fprintf(w, "%s  default\n", indent)
				dumpStmts(w, s.Default, depth+2)
			}
		default:
			fmt.Fprintf(w, "%s<unknown stmt %T>\n", indent, stmt)
		}
	}
}

func portDirection(dir PortDirection) string {
	switch dir {
	case Input:
		return "in "
	case Output:
		return "out"
	case InOut:
		return "io "
	default:
		return "?"
	}
}

func sensitivity(proc *Process) string {
	if proc.Sensitivity != Sequential {
		return "combinational"
	}
	if proc.Clock == nil || proc.Clock.Signal == nil {
		return "sequential"
	}
	edge := "posedge"
	if proc.Clock.Edge == Negedge {
		edge = "negedge"
	}
	return fmt.Sprintf("sequential %s %s", edge, proc.Clock.Signal.Name)
}

func signalKind(k SignalKind) string {
	switch k {
	case Wire:
		return "wire"
	case Reg:
		return "reg"
	case Const:
		return "const"
	case Memory:
		return "mem"
	default:
		return "?"
	}
}
