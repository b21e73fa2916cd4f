package resource

import (
	"fmt"
	"slices"
	"sync"
)

// Claim is a resource held by an owner.
type Claim struct {
	Resource
	Owner any
}

// Arbiter keeps one claim list per resource type.
type Arbiter struct {
	mu     sync.Mutex
	claims map[Type][]Claim
}

// NewArbiter creates an Arbiter with empty claim lists.
func NewArbiter() *Arbiter {
	return &Arbiter{claims: make(map[Type][]Claim)}
}

// Acquire claims every resource in rs for owner. The call is atomic: if any
// resource is illegal or collides with an existing claim, the claims taken
// so far by this call are dropped and the error is returned.
func (a *Arbiter) Acquire(owner any, rs ...Resource) error {
	normalized := make([]Resource, 0, len(rs))
	for _, r := range rs {
		n, err := r.normalize()
		if err != nil {
			return err
		}
		normalized = append(normalized, n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	taken := 0
	for _, r := range normalized {
		if c, busy := a.conflictLocked(r); busy {
			a.dropLastLocked(normalized[:taken])
			return fmt.Errorf("%w: %s held by %v", ErrResourceBusy, c.Resource, c.Owner)
		}
		a.claims[r.Type] = append(a.claims[r.Type], Claim{Resource: r, Owner: owner})
		taken++
	}
	return nil
}

// Release drops one claim of owner matching r. It is a no-op if there is
// no such claim.
func (a *Arbiter) Release(owner any, r Resource) {
	n, err := r.normalize()
	if err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	list := a.claims[n.Type]
	for i, c := range list {
		if c.Owner == owner && c.Resource == n {
			a.claims[n.Type] = slices.Delete(list, i, i+1)
			return
		}
	}
}

// ReleaseOwner drops every claim held by owner.
func (a *Arbiter) ReleaseOwner(owner any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for t, list := range a.claims {
		a.claims[t] = slices.DeleteFunc(list, func(c Claim) bool {
			return c.Owner == owner
		})
	}
}

// Claims returns a copy of the claim list of type t.
func (a *Arbiter) Claims(t Type) []Claim {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.claims[t])
}

// Owned returns the resources currently held by owner.
func (a *Arbiter) Owned(owner any) []Resource {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Resource
	for _, t := range []Type{Memory, Port, DMA} {
		for _, c := range a.claims[t] {
			if c.Owner == owner {
				out = append(out, c.Resource)
			}
		}
	}
	return out
}

func (a *Arbiter) conflictLocked(r Resource) (Claim, bool) {
	for _, c := range a.claims[r.Type] {
		if overlaps(c.Resource, r) {
			return c, true
		}
	}
	return Claim{}, false
}

// dropLastLocked removes the claims appended for rs, newest first.
func (a *Arbiter) dropLastLocked(rs []Resource) {
	for i := len(rs) - 1; i >= 0; i-- {
		t := rs[i].Type
		list := a.claims[t]
		a.claims[t] = list[:len(list)-1]
	}
}
