package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type owner struct{ name string }

func TestAcquireValidation(t *testing.T) {
	a := NewArbiter()
	o := &owner{"n"}

	tests := []struct {
		name string
		r    Resource
		ok   bool
	}{
		{"memory", Resource{Type: Memory, Base: 0xfe000000, Length: 0x1000}, true},
		{"port at top", Resource{Type: Port, Base: 0xfff0, Length: 0x10}, true},
		{"port past 16 bit", Resource{Type: Port, Base: 0xfff0, Length: 0x11}, false},
		{"dma 8", Resource{Type: DMA, Base: 8}, true},
		{"dma 9", Resource{Type: DMA, Base: 9}, false},
		{"empty range", Resource{Type: Memory, Base: 0x1000}, false},
		{"wrapping range", Resource{Type: Memory, Base: ^uint64(0) - 1, Length: 4}, false},
		{"unknown type", Resource{Type: 42, Base: 1, Length: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Acquire(o, tt.r)
			if tt.ok {
				assert.NoError(t, err)
				a.Release(o, tt.r)
			} else {
				assert.ErrorIs(t, err, ErrBadValue)
			}
		})
	}
}

func TestAcquireRejectsOverlap(t *testing.T) {
	a := NewArbiter()
	first := &owner{"first"}
	second := &owner{"second"}

	require.NoError(t, a.Acquire(first, Resource{Type: Port, Base: 0x100, Length: 0x10}))

	tests := []struct {
		name string
		r    Resource
	}{
		{"identical", Resource{Type: Port, Base: 0x100, Length: 0x10}},
		{"contained", Resource{Type: Port, Base: 0x104, Length: 0x2}},
		{"containing", Resource{Type: Port, Base: 0xf0, Length: 0x40}},
		{"crossing start", Resource{Type: Port, Base: 0xf8, Length: 0x10}},
		{"crossing end", Resource{Type: Port, Base: 0x10f, Length: 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(a.Claims(Port))
			err := a.Acquire(second, tt.r)
			assert.ErrorIs(t, err, ErrResourceBusy)
			assert.Len(t, a.Claims(Port), before)
		})
	}

	// adjacent ranges do not intersect
	assert.NoError(t, a.Acquire(second, Resource{Type: Port, Base: 0x110, Length: 0x10}))
	assert.NoError(t, a.Acquire(second, Resource{Type: Port, Base: 0xf0, Length: 0x10}))
}

func TestAcquireIsAtomic(t *testing.T) {
	a := NewArbiter()
	held := &owner{"held"}
	o := &owner{"o"}

	require.NoError(t, a.Acquire(held, Resource{Type: DMA, Base: 3}))

	err := a.Acquire(o,
		Resource{Type: Memory, Base: 0x1000, Length: 0x100},
		Resource{Type: Port, Base: 0x60, Length: 1},
		Resource{Type: DMA, Base: 3},
	)
	require.ErrorIs(t, err, ErrResourceBusy)

	assert.Empty(t, a.Claims(Memory))
	assert.Empty(t, a.Claims(Port))
	assert.Len(t, a.Claims(DMA), 1)
	assert.Empty(t, a.Owned(o))
}

func TestAcquireConflictWithinCall(t *testing.T) {
	a := NewArbiter()
	o := &owner{"o"}

	err := a.Acquire(o,
		Resource{Type: Memory, Base: 0x1000, Length: 0x100},
		Resource{Type: Memory, Base: 0x1080, Length: 0x100},
	)
	assert.ErrorIs(t, err, ErrResourceBusy)
	assert.Empty(t, a.Claims(Memory))
}

func TestTypesAreIndependent(t *testing.T) {
	a := NewArbiter()
	o := &owner{"o"}

	require.NoError(t, a.Acquire(o, Resource{Type: Memory, Base: 0x60, Length: 4}))
	assert.NoError(t, a.Acquire(o, Resource{Type: Port, Base: 0x60, Length: 4}))
}

func TestReleaseOwner(t *testing.T) {
	a := NewArbiter()
	x := &owner{"x"}
	y := &owner{"y"}

	require.NoError(t, a.Acquire(x,
		Resource{Type: Memory, Base: 0, Length: 0x10},
		Resource{Type: DMA, Base: 1},
	))
	require.NoError(t, a.Acquire(y, Resource{Type: Memory, Base: 0x10, Length: 0x10}))

	a.ReleaseOwner(x)

	assert.Empty(t, a.Owned(x))
	assert.Len(t, a.Owned(y), 1)
	assert.NoError(t, a.Acquire(y, Resource{Type: Memory, Base: 0, Length: 0x10}))
}

func TestResourceString(t *testing.T) {
	assert.Equal(t, "port 0x60-0x64", Resource{Type: Port, Base: 0x60, Length: 5}.String())
	assert.Equal(t, "dma channel 2", Resource{Type: DMA, Base: 2}.String())
}
