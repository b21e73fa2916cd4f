// Package idgen hands out small numeric IDs per generator name.
//
// Drivers use it to number the devices they publish ("disk/virtual/ram/0",
// "disk/virtual/ram/1", ...). Each name owns a bitmap of MaxID slots; the
// lowest free slot is returned. A generator disappears once its last ID is
// freed, so its numbering restarts at zero.
package idgen

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

// MaxID is the number of IDs per generator.
const MaxID = 64

// Allocator errors.
var (
	ErrNoMoreIDs = errors.New("no more ids")
	ErrBadValue  = errors.New("id not allocated")
)

// Allocator maps generator names to ID bitmaps. The zero value is not
// usable; call New.
type Allocator struct {
	mu         sync.Mutex
	generators map[string]uint64
}

// New creates an empty Allocator.
func New() *Allocator {
	return &Allocator{generators: make(map[string]uint64)}
}

// Create returns the lowest free ID of the named generator.
func (a *Allocator) Create(name string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	used := a.generators[name]
	if used == ^uint64(0) {
		return -1, fmt.Errorf("%w: generator %q", ErrNoMoreIDs, name)
	}
	id := bits.TrailingZeros64(^used)
	a.generators[name] = used | 1<<id
	return id, nil
}

// Free returns id to the named generator.
func (a *Allocator) Free(name string, id int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	used, ok := a.generators[name]
	if !ok || id < 0 || id >= MaxID || used&(1<<id) == 0 {
		return fmt.Errorf("%w: %s/%d", ErrBadValue, name, id)
	}
	used &^= 1 << id
	if used == 0 {
		delete(a.generators, name)
		return nil
	}
	a.generators[name] = used
	return nil
}

// InUse returns the number of IDs currently handed out by the generator.
func (a *Allocator) InUse(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return bits.OnesCount64(a.generators[name])
}
