package passes

import (
	"fmt"

	"hdlc/internal/diag"
	"hdlc/internal/ir"
)

// WidthCheck verifies that every signal has a resolved width and reports
// implicit truncation or sign changes in assignments and operators.
type WidthCheck struct {
	reporter *diag.Reporter
	module   string
	errors   int
}

// NewWidthCheck constructs the pass. reporter is optional but recommended
// so the pass can surface precise diagnostics.
func NewWidthCheck(reporter *diag.Reporter) *WidthCheck {
	return &WidthCheck{reporter: reporter}
}

// Name implements the Pass interface.
func (w *WidthCheck) Name() string {
	return "width-check"
}

// Run executes the pass over the entire design.
func (w *WidthCheck) Run(design *ir.Design) error {
	if design == nil {
		return fmt.Errorf("width check requires a non-nil design")
	}
	w.errors = 0
	for _, module := range design.Modules {
		w.visitModule(module)
	}
	if w.errors > 0 {
		return fmt.Errorf("width check reported %d error(s)", w.errors)
	}
	return nil
}

func (w *WidthCheck) visitModule(module *ir.Module) {
	if module == nil {
		return
	}
	w.module = module.Name
	for _, name := range module.SignalNames() {
		sig := module.Signals[name]
		if sig.Type.IsUnknown() {
			w.errorf(name, "width is unresolved")
			continue
		}
		if sig.Type.Width > ir.MaxWidth {
			w.errorf(name, "width %d exceeds %d bits", sig.Type.Width, ir.MaxWidth)
		}
		if sig.Kind == ir.Memory && sig.Depth <= 0 {
			w.errorf(name, "memory depth %d", sig.Depth)
		}
	}
	for _, proc := range module.Processes {
		w.visitStmts(proc.Body)
	}
}

func (w *WidthCheck) visitStmts(stmts []ir.Stmt) {
	for _, stmt := range stmts {
		switch st := stmt.(type) {
		case *ir.Assign:
			w.checkAssign(st)
		case *ir.If:
			w.checkExpr(st.Cond)
			w.visitStmts(st.Then)
			w.visitStmts(st.Else)
		case *ir.Case:
			w.checkExpr(st.Selector)
			width := st.Selector.Type().Width
			for _, arm := range st.Arms {
				if width < 64 && arm.Value>>uint(width) != 0 {
					w.errorf(w.module, "case value %d does not fit selector %s",
						arm.Value, ir.FormatExpr(st.Selector))
				}
				w.visitStmts(arm.Body)
			}
			w.visitStmts(st.Default)
		}
	}
}

func (w *WidthCheck) checkAssign(st *ir.Assign) {
	w.checkExpr(st.Value)
	if st.Index != nil {
		w.checkExpr(st.Index)
		if st.Dest.Kind != ir.Memory {
			w.errorf(st.Dest.Name, "indexed assignment to a non-memory signal")
		}
	}
	src, dst := st.Value.Type(), st.Dest.Type
	if src.IsUnknown() || dst.IsUnknown() {
		return
	}
	if !src.FitsWithin(dst) {
		w.warnf(st.Dest.Name, "assignment from %s (%s) truncates to %s",
			ir.FormatExpr(st.Value), src.Description(), dst.Description())
	}
	if !src.SignedCompatible(dst) {
		w.warnf(st.Dest.Name, "assignment from %s (%s) changes signedness to %s",
			ir.FormatExpr(st.Value), src.Description(), dst.Description())
	}
}

func (w *WidthCheck) checkExpr(e ir.Expr) {
	switch x := e.(type) {
	case *ir.BinExpr:
		w.checkExpr(x.Left)
		w.checkExpr(x.Right)
		if x.Op == ir.Shl || x.Op == ir.ShrU || x.Op == ir.ShrS {
			return
		}
		if !x.Left.Type().SignedCompatible(x.Right.Type()) {
			w.warnf(w.module, "mixed signed/unsigned operands in %s", ir.FormatExpr(x))
		}
	case *ir.CompareExpr:
		w.checkExpr(x.Left)
		w.checkExpr(x.Right)
		if !x.Left.Type().SignedCompatible(x.Right.Type()) {
			w.warnf(w.module, "mixed signed/unsigned compare %s", ir.FormatExpr(x))
		}
	case *ir.NotExpr:
		w.checkExpr(x.Value)
	case *ir.IndexExpr:
		w.checkExpr(x.Index)
		if x.Memory.Kind != ir.Memory {
			w.errorf(x.Memory.Name, "indexed read of a non-memory signal")
		}
	}
}

func (w *WidthCheck) errorf(where, format string, args ...interface{}) {
	w.errors++
	if w.reporter != nil {
		w.reporter.Error(where, fmt.Sprintf(format, args...))
	}
}

func (w *WidthCheck) warnf(where, format string, args ...interface{}) {
	if w.reporter != nil {
		w.reporter.Warning(where, fmt.Sprintf(format, args...))
	}
}
