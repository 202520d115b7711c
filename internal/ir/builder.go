package ir

// Builder accumulates statements in program order. Nested conditionals open
// a fresh block which is closed when their callback returns.
type Builder struct {
	Module *Module
	blocks [][]Stmt
}

// NewBuilder returns a builder that declares its signals in m.
func NewBuilder(m *Module) *Builder {
	return &Builder{
		Module: m,
		blocks: make([][]Stmt, 1),
	}
}

// Depth returns the number of conditional blocks currently open.
func (b *Builder) Depth() int {
	return len(b.blocks) - 1
}

// Emit appends a statement to the innermost open block.
func (b *Builder) Emit(stmt Stmt) {
	top := len(b.blocks) - 1
	b.blocks[top] = append(b.blocks[top], stmt)
}

// Assign emits dst <= value.
func (b *Builder) Assign(dst *Signal, value Expr) {
	b.Emit(&Assign{Dest: dst, Value: value})
}

// AssignAt emits mem[index] <= value.
func (b *Builder) AssignAt(mem *Signal, index, value Expr) {
	b.Emit(&Assign{Dest: mem, Index: index, Value: value})
}

// If emits a conditional whose branches are produced by the callbacks.
// otherwise may be nil. The emitted node is returned so that callers can
// extend its branches later.
func (b *Builder) If(cond Expr, then func(), otherwise func()) *If {
	stmt := &If{Cond: cond}
	stmt.Then = b.collect(then)
	if otherwise != nil {
		stmt.Else = b.collect(otherwise)
	}
	b.Emit(stmt)
	return stmt
}

// Case emits a case statement; arms maps each selector value to a callback.
func (b *Builder) Case(sel Expr, values []uint64, arm func(value uint64), otherwise func()) *Case {
	stmt := &Case{Selector: sel}
	for _, v := range values {
		v := v
		stmt.Arms = append(stmt.Arms, CaseArm{
			Value: v,
			Body:  b.collect(func() { arm(v) }),
		})
	}
	if otherwise != nil {
		stmt.Default = b.collect(otherwise)
	}
	b.Emit(stmt)
	return stmt
}

// Take removes and returns every statement of the outermost block.
func (b *Builder) Take() []Stmt {
	stmts := b.blocks[0]
	b.blocks[0] = nil
	return stmts
}

// Pending reports whether the outermost block holds statements.
func (b *Builder) Pending() bool {
	return len(b.blocks[0]) > 0
}

func (b *Builder) collect(fn func()) []Stmt {
	b.blocks = append(b.blocks, nil)
	if fn != nil {
		fn()
	}
	top := len(b.blocks) - 1
	stmts := b.blocks[top]
	b.blocks = b.blocks[:top]
	return stmts
}
