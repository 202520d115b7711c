// Package passes holds checks that run over an elaborated design.
package passes

import (
	"fmt"

	"hdlc/internal/ir"
)

// Pass inspects or rewrites a design.
type Pass interface {
	Name() string
	Run(design *ir.Design) error
}

// Manager runs passes in the order they were added.
type Manager struct {
	passes []Pass
}

func NewManager() *Manager {
	return &Manager{}
}

// Add appends a pass.
func (m *Manager) Add(p Pass) {
	m.passes = append(m.passes, p)
}

// Run stops at the first failing pass.
func (m *Manager) Run(design *ir.Design) error {
	for _, p := range m.passes {
		if err := p.Run(design); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}
