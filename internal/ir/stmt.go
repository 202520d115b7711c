package ir

// Stmt is implemented by every statement node.
type Stmt interface {
	isStmt()
}

// Assign writes Value into Dest, or into Dest[Index] when Dest is a memory.
type Assign struct {
	Dest  *Signal
	Index Expr
	Value Expr
}

// If is a two-way conditional. Else may be empty.
type If struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
}

// Case dispatches on Selector. Arms are tested in order; Default runs when
// no arm matches.
type Case struct {
	Selector Expr
	Arms     []CaseArm
	Default  []Stmt
}

// CaseArm is one `when` branch of a Case.
type CaseArm struct {
	Value uint64
	Body  []Stmt
}

func (Assign) isStmt() {}
func (If) isStmt()     {}
func (Case) isStmt()   {}
