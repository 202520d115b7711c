package ir

import "fmt"

// MaxWidth is the widest signal the IR supports.
const MaxWidth = 256

// SignalType records width/sign metadata for a signal. A zero width means the
// type has not been resolved yet.
type SignalType struct {
	Width  int
	Signed bool
}

// Unsigned returns an unsigned type of the given width.
func Unsigned(width int) SignalType {
	return SignalType{Width: width}
}

// Signed returns a signed type of the given width.
func Signed(width int) SignalType {
	return SignalType{Width: width, Signed: true}
}

// Bit is the 1-bit unsigned type used for conditions.
var Bit = SignalType{Width: 1}

// IsUnknown reports whether the width is still unresolved.
func (t *SignalType) IsUnknown() bool {
	return t == nil || t.Width <= 0
}

// Equal reports whether both types have the same width and signedness.
func (t *SignalType) Equal(o *SignalType) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.Width == o.Width && t.Signed == o.Signed
}

// FitsWithin reports whether every value of t can be stored in o without
// truncation.
func (t *SignalType) FitsWithin(o *SignalType) bool {
	if t.IsUnknown() || o.IsUnknown() {
		return true
	}
	if t.Signed == o.Signed {
		return t.Width <= o.Width
	}
	if !t.Signed && o.Signed {
		return t.Width < o.Width
	}
	return false
}

// SignedCompatible reports whether t and o agree on signedness.
func (t *SignalType) SignedCompatible(o *SignalType) bool {
	if t.IsUnknown() || o.IsUnknown() {
		return true
	}
	return t.Signed == o.Signed
}

// ResultFor returns the type produced by applying op to t and o.
func (t *SignalType) ResultFor(op BinOp, o *SignalType) *SignalType {
	switch op {
	case Shl, ShrU, ShrS:
		return &SignalType{Width: t.Width, Signed: t.Signed}
	}
	width := t.Width
	if o != nil && o.Width > width {
		width = o.Width
	}
	signed := t.Signed && o != nil && o.Signed
	return &SignalType{Width: width, Signed: signed}
}

// Description renders the type as e.g. "u8" or "s16".
func (t *SignalType) Description() string {
	if t.IsUnknown() {
		return "unresolved"
	}
	return fmt.Sprintf("%s%d", signPrefix(t.Signed), t.Width)
}

// BitsFor returns the number of bits needed to represent n (at least 1).
func BitsFor(n uint64) int {
	width := 1
	for n > 1 {
		n >>= 1
		width++
	}
	return width
}

func signPrefix(signed bool) string {
	if signed {
		return "s"
	}
	return "u"
}
