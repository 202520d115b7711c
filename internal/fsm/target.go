package fsm

import "hdlc/internal/ir"

// Target is the destination of a transition.
type Target interface {
	isTarget()
}

type stateTarget struct {
	id    StateID
	delta int
}

type namedTarget struct {
	name  string
	delta int
}

type exprTarget struct {
	expr ir.Expr
}

func (stateTarget) isTarget() {}
func (namedTarget) isTarget() {}
func (exprTarget) isTarget()  {}

// To targets state id.
func To(id StateID) Target { return stateTarget{id: id} }

// After targets the state allocated right after id.
func After(id StateID) Target { return stateTarget{id: id, delta: 1} }

// Named targets the state declared with name; the name is looked up when the
// machine is built.
func Named(name string) Target { return namedTarget{name: name} }

// Dynamic targets the state whose encoding is the value of expr.
func Dynamic(expr ir.Expr) Target { return exprTarget{expr: expr} }

// Transition sets the next state to Then, or, when Cond is non-nil, to Then
// if Cond holds and to Else (when given) otherwise.
type Transition struct {
	Cond ir.Expr
	Then Target
	Else Target
}

// Jump is an unconditional transition.
func Jump(t Target) Transition { return Transition{Then: t} }

// Branch is a two-way conditional transition.
func Branch(cond ir.Expr, then, otherwise Target) Transition {
	return Transition{Cond: cond, Then: then, Else: otherwise}
}
