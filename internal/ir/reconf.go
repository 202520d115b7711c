package ir

import (
	"github.com/pkg/errors"
)

// ErrPortMismatch is returned when a reconfiguration variant does not expose
// the same ports as the main variant.
var ErrPortMismatch = errors.New("reconfigurable variant port mismatch")

// Reconf is a reconfigurable slot: a set of module variants sharing the port
// list of the first (main) variant.
type Reconf struct {
	Name     string
	Variants []*Module
}

// Main returns the first variant, or nil.
func (r *Reconf) Main() *Module {
	if len(r.Variants) == 0 {
		return nil
	}
	return r.Variants[0]
}

// Add registers a variant. Every variant after the first must declare the
// same ports, in the same order, with the same directions and types.
func (r *Reconf) Add(variant *Module) error {
	main := r.Main()
	if main == nil {
		r.Variants = append(r.Variants, variant)
		return nil
	}
	if len(main.Ports) != len(variant.Ports) {
		return errors.Wrapf(ErrPortMismatch, "%s: variant %s has %d ports, main %s has %d",
			r.Name, variant.Name, len(variant.Ports), main.Name, len(main.Ports))
	}
	for i, want := range main.Ports {
		got := variant.Ports[i]
		if got.Name != want.Name || got.Direction != want.Direction || !got.Type.Equal(want.Type) {
			return errors.Wrapf(ErrPortMismatch, "%s: variant %s port %d is %s %s %s, want %s %s %s",
				r.Name, variant.Name, i,
				portDirection(got.Direction), got.Name, got.Type.Description(),
				portDirection(want.Direction), want.Name, want.Type.Description())
		}
	}
	r.Variants = append(r.Variants, variant)
	return nil
}
