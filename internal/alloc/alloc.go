// Package alloc assigns word-aligned addresses to signals from a fixed range.
// Allocation is a monotonic bump with no free.
package alloc

import (
	"github.com/pkg/errors"

	"hdlc/internal/ir"
)

var (
	ErrRangeOverflow = errors.New("address range exhausted")
	ErrWordSize      = errors.New("word size must be positive")
	ErrUnsized       = errors.New("signal width is unresolved")
)

// Range is an inclusive address interval.
type Range struct {
	First uint64
	Last  uint64
}

// Allocator hands out addresses in Range.
type Allocator struct {
	wordSize int
	rng      Range
	head     uint64
	addrs    map[*ir.Signal]uint64
	order    []*ir.Signal
}

// New returns an allocator whose head starts at rng.First.
func New(wordSize int, rng Range) (*Allocator, error) {
	if wordSize <= 0 {
		return nil, errors.Wrapf(ErrWordSize, "got %d", wordSize)
	}
	return &Allocator{
		wordSize: wordSize,
		rng:      rng,
		head:     rng.First,
		addrs:    make(map[*ir.Signal]uint64),
	}, nil
}

// Size returns the number of words sig occupies. Memories take one slot per
// word.
func (a *Allocator) Size(sig *ir.Signal) uint64 {
	bits := uint64(sig.Type.Width)
	if sig.Kind == ir.Memory && sig.Depth > 1 {
		bits *= uint64(sig.Depth)
	}
	w := uint64(a.wordSize)
	return (bits + w - 1) / w
}

// Allocate returns the address of sig, reserving it on first use.
func (a *Allocator) Allocate(sig *ir.Signal) (uint64, error) {
	if addr, ok := a.addrs[sig]; ok {
		return addr, nil
	}
	if sig.Type.IsUnknown() {
		return 0, errors.Wrap(ErrUnsized, sig.Name)
	}
	size := a.Size(sig)
	if a.head+size > a.rng.Last {
		return 0, errors.Wrapf(ErrRangeOverflow, "%s needs %d word(s) at %#x, range ends at %#x",
			sig.Name, size, a.head, a.rng.Last)
	}
	addr := a.head
	a.head += size
	a.addrs[sig] = addr
	a.order = append(a.order, sig)
	return addr, nil
}

// Get returns the address of sig without allocating.
func (a *Allocator) Get(sig *ir.Signal) (uint64, bool) {
	addr, ok := a.addrs[sig]
	return addr, ok
}

// Head returns the next free address.
func (a *Allocator) Head() uint64 { return a.head }

// Entry is one allocated signal.
type Entry struct {
	Name    string
	Address uint64
	Words   uint64
}

// Entries lists allocations in the order they were made.
func (a *Allocator) Entries() []Entry {
	out := make([]Entry, 0, len(a.order))
	for _, sig := range a.order {
		out = append(out, Entry{Name: sig.Name, Address: a.addrs[sig], Words: a.Size(sig)})
	}
	return out
}
