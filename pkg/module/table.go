package module

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Table errors.
var (
	ErrNotFound  = errors.New("module not found")
	ErrExists    = errors.New("module already registered")
	ErrInUse     = errors.New("module in use")
	ErrNotDriver = errors.New("module is not a driver")
	ErrNotDevice = errors.New("module is not a device module")
	ErrNotLoaded = errors.New("module not loaded")
	ErrBadName   = errors.New("invalid module name")
)

type entry struct {
	impl any
	refs int
	seq  uint64
}

// Table maps module names to implementations and counts references taken
// with Get. A module can only be unregistered while unreferenced.
type Table struct {
	mu      sync.Mutex
	modules map[string]*entry
	nextSeq uint64
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{modules: make(map[string]*entry)}
}

// Register adds a module under name.
func (t *Table) Register(name string, impl any) error {
	if name == "" || strings.HasPrefix(name, "/") || impl == nil {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.modules[name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	t.nextSeq++
	t.modules[name] = &entry{impl: impl, seq: t.nextSeq}
	return nil
}

// Unregister removes a module. It fails with ErrInUse while references
// are outstanding.
func (t *Table) Unregister(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.modules[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.refs > 0 {
		return fmt.Errorf("%w: %s has %d references", ErrInUse, name, e.refs)
	}
	delete(t.modules, name)
	return nil
}

// Get returns the module and takes a reference on it.
func (t *Table) Get(name string) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e.refs++
	return e.impl, nil
}

// Lookup returns the module without taking a reference.
func (t *Table) Lookup(name string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.modules[name]
	if !ok {
		return nil, false
	}
	return e.impl, true
}

// GetDriver is Get for driver modules.
func (t *Table) GetDriver(name string) (Driver, error) {
	impl, err := t.Get(name)
	if err != nil {
		return nil, err
	}
	d, ok := impl.(Driver)
	if !ok {
		t.Put(name)
		return nil, fmt.Errorf("%w: %s", ErrNotDriver, name)
	}
	return d, nil
}

// GetDevice is Get for device modules.
func (t *Table) GetDevice(name string) (DeviceModule, error) {
	impl, err := t.Get(name)
	if err != nil {
		return nil, err
	}
	d, ok := impl.(DeviceModule)
	if !ok {
		t.Put(name)
		return nil, fmt.Errorf("%w: %s", ErrNotDevice, name)
	}
	return d, nil
}

// Put drops a reference taken by Get.
func (t *Table) Put(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.modules[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.refs == 0 {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	e.refs--
	return nil
}

// RefCount returns the number of outstanding references of a module.
func (t *Table) RefCount(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.modules[name]; ok {
		return e.refs
	}
	return 0
}

// List returns the names below the path prefix that end in suffix, in
// registration order. An empty prefix lists every module.
func (t *Table) List(prefix, suffix string) []string {
	prefix = strings.Trim(prefix, "/")

	t.mu.Lock()
	defer t.mu.Unlock()

	var names []string
	for name := range t.modules {
		if prefix != "" && name != prefix && !strings.HasPrefix(name, prefix+"/") {
			continue
		}
		if suffix != "" && !strings.HasSuffix(name, "/"+suffix) && name != suffix {
			continue
		}
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Compare(t.modules[a].seq, t.modules[b].seq)
	})
	return names
}
