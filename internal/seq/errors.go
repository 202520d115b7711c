package seq

import "github.com/pkg/errors"

var (
	ErrNoLoop          = errors.New("no loop for break or continue")
	ErrOutsideFunction = errors.New("return outside a function")
	ErrElseWithoutIf   = errors.New("else without a preceding if")
	ErrReturnType      = errors.New("return value does not fit the return register")
	ErrDepthConflict   = errors.New("recursion depth already fixed")
	ErrNestedControl   = errors.New("control construct inside a conditional statement")
	ErrNoConvergence   = errors.New("function instantiation does not converge")
)

// bailout carries an elaboration error out of user callbacks up to Build.
type bailout struct {
	err error
}
