package fsm

import "hdlc/internal/ir"

// Row describes one state and its outgoing edges in emission order: the
// implicit fall-through first, then each goto (later edges override earlier
// ones when their condition holds).
type Row struct {
	Index int
	Code  uint64
	Name  string
	Edges []Edge
}

// Edge is one candidate successor. Cond is empty for unconditional edges and
// prefixed with "!" for the else side of a branch. To is -1 when the target is
// computed at run time (see Expr) or names an undeclared state.
type Edge struct {
	Cond string
	To   int
	Expr string
}

// Table returns the structure of the machine. Indices are reported without
// clamping so that successor arithmetic is visible.
func (f *FSM) Table() []Row {
	rows := make([]Row, 0, len(f.states))
	for _, st := range f.states {
		row := Row{
			Index: int(st.ID),
			Code:  f.Code(st.ID),
			Name:  st.Name,
			Edges: []Edge{{To: int(st.ID) + 1}},
		}
		for _, tr := range st.Gotos {
			cond := ""
			if tr.Cond != nil {
				cond = ir.FormatExpr(tr.Cond)
			}
			row.Edges = append(row.Edges, f.edge(cond, tr.Then))
			if tr.Cond != nil && tr.Else != nil {
				row.Edges = append(row.Edges, f.edge("!"+cond, tr.Else))
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func (f *FSM) edge(cond string, t Target) Edge {
	switch x := t.(type) {
	case exprTarget:
		return Edge{Cond: cond, To: -1, Expr: ir.FormatExpr(x.expr)}
	case namedTarget:
		if id, ok := f.names[x.name]; ok {
			return Edge{Cond: cond, To: int(id) + x.delta}
		}
		return Edge{Cond: cond, To: -1, Expr: "?" + x.name}
	case stateTarget:
		return Edge{Cond: cond, To: int(x.id) + x.delta}
	default:
		return Edge{Cond: cond, To: -1}
	}
}
