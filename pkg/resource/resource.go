// Package resource arbitrates I/O memory ranges, I/O port ranges and DMA
// channels between device nodes.
//
// Every claim belongs to an owner (normally a registry node). Claims of the
// same type never intersect; an Acquire that would create an intersection
// fails and leaves the claim lists exactly as they were.
package resource

import (
	"errors"
	"fmt"
)

// Resource errors.
var (
	ErrBadValue     = errors.New("invalid resource")
	ErrResourceBusy = errors.New("resource already claimed")
)

// Type selects one of the claim lists.
type Type uint8

const (
	// Memory is an I/O memory range.
	Memory Type = iota + 1
	// Port is an I/O port range; ports are 16 bit.
	Port
	// DMA is an ISA DMA channel.
	DMA
)

// MaxPort is one past the highest addressable port.
const MaxPort = 0x10000

// MaxDMAChannel is the highest valid DMA channel number.
const MaxDMAChannel = 8

// String returns the type name.
func (t Type) String() string {
	switch t {
	case Memory:
		return "memory"
	case Port:
		return "port"
	case DMA:
		return "dma"
	default:
		return "unknown"
	}
}

// Resource describes one requested range. For DMA the channel number is in
// Base and Length is ignored.
type Resource struct {
	Type   Type
	Base   uint64
	Length uint64
}

// String implements fmt.Stringer.
func (r Resource) String() string {
	if r.Type == DMA {
		return fmt.Sprintf("dma channel %d", r.Base)
	}
	return fmt.Sprintf("%s %#x-%#x", r.Type, r.Base, r.Base+r.Length-1)
}

// normalize validates r and returns it in canonical form.
func (r Resource) normalize() (Resource, error) {
	switch r.Type {
	case DMA:
		if r.Base > MaxDMAChannel {
			return r, fmt.Errorf("%w: dma channel %d", ErrBadValue, r.Base)
		}
		r.Length = 1
		return r, nil
	case Memory, Port:
	default:
		return r, fmt.Errorf("%w: type %d", ErrBadValue, r.Type)
	}

	if r.Length == 0 {
		return r, fmt.Errorf("%w: empty %s range", ErrBadValue, r.Type)
	}
	end := r.Base + r.Length
	if end < r.Base {
		return r, fmt.Errorf("%w: %s range wraps", ErrBadValue, r.Type)
	}
	if r.Type == Port && end > MaxPort {
		return r, fmt.Errorf("%w: port range %#x+%#x", ErrBadValue, r.Base, r.Length)
	}
	return r, nil
}

// overlaps reports whether the half-open ranges of a and b intersect.
func overlaps(a, b Resource) bool {
	return a.Base < b.Base+b.Length && b.Base < a.Base+a.Length
}
