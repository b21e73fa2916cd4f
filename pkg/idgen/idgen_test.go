package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateReturnsLowestFree(t *testing.T) {
	a := New()

	for want := 0; want < 3; want++ {
		id, err := a.Create("disk")
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	require.NoError(t, a.Free("disk", 1))

	id, err := a.Create("disk")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestGeneratorsAreIndependent(t *testing.T) {
	a := New()

	id, err := a.Create("disk")
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	id, err = a.Create("net")
	require.NoError(t, err)
	assert.Equal(t, 0, id)
}

func TestExhaustion(t *testing.T) {
	a := New()
	for i := 0; i < MaxID; i++ {
		_, err := a.Create("x")
		require.NoError(t, err)
	}

	_, err := a.Create("x")
	assert.ErrorIs(t, err, ErrNoMoreIDs)
	assert.Equal(t, MaxID, a.InUse("x"))
}

func TestFreeInvalid(t *testing.T) {
	a := New()

	assert.ErrorIs(t, a.Free("missing", 0), ErrBadValue)

	_, err := a.Create("x")
	require.NoError(t, err)
	assert.ErrorIs(t, a.Free("x", 5), ErrBadValue)
	assert.ErrorIs(t, a.Free("x", -1), ErrBadValue)
	assert.ErrorIs(t, a.Free("x", MaxID), ErrBadValue)
}

func TestGeneratorDroppedWhenEmpty(t *testing.T) {
	a := New()

	_, err := a.Create("x")
	require.NoError(t, err)
	require.NoError(t, a.Free("x", 0))

	assert.Equal(t, 0, a.InUse("x"))
	assert.ErrorIs(t, a.Free("x", 0), ErrBadValue)
}

func TestConcurrentCreateIsUnique(t *testing.T) {
	a := New()

	var wg sync.WaitGroup
	ids := make(chan int, MaxID)
	for i := 0; i < MaxID; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.Create("x")
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, MaxID)
}
