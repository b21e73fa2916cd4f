package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/idgen"
	"github.com/haiku/devmgr/pkg/log"
	"github.com/haiku/devmgr/pkg/module"
	"github.com/haiku/devmgr/pkg/resource"
)

// Registry errors.
var (
	ErrAlreadyRegistered = errors.New("node already registered")
	ErrBusy              = errors.New("node busy")
	ErrNotFound          = errors.New("node not found")
	ErrBadValue          = errors.New("bad value")
	ErrNoInit            = errors.New("driver not initialized")
	ErrNotInitialized    = errors.New("registry not initialized")
)

// Priorities used to order siblings. Nodes that may get several dynamic
// children sort after the others.
const (
	priorityDefault  = 100
	priorityMultiple = 0
)

// Options configures a Registry.
type Options struct {
	// Modules resolves driver and device module names. Required.
	Modules *module.Table

	// Publisher receives published devices. It can be set later with
	// SetPublisher; devices published before that are only recorded.
	Publisher device.Publisher

	// Arbiter tracks resource claims. A private one is created if nil.
	Arbiter *resource.Arbiter

	// IDs is the ID allocator handed to drivers. Created if nil.
	IDs *idgen.Allocator

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// EventLog receives structured events (optional).
	EventLog log.Logger

	// Session is copied into every event.
	Session string
}

// Registry owns the device node tree.
type Registry struct {
	mu     sync.Mutex
	attrMu sync.RWMutex

	modules   *module.Table
	publisher device.Publisher
	arbiter   *resource.Arbiter
	ids       *idgen.Allocator

	root   *Node
	nextID uint32

	// pending counts registrations in progress; the last one to finish
	// drops the initialization kept alive for registration.
	pending int

	// genericContext is the devfs path of the running Probe.
	genericContext string

	nextDeviceID uint32

	logger   *slog.Logger
	eventLog log.Logger
	session  string
}

// New creates a registry with the built-in root and generic driver modules
// registered in opts.Modules. Call Init to build the tree.
func New(opts Options) (*Registry, error) {
	if opts.Modules == nil {
		return nil, fmt.Errorf("%w: module table required", ErrBadValue)
	}
	r := &Registry{
		modules:   opts.Modules,
		publisher: opts.Publisher,
		arbiter:   opts.Arbiter,
		ids:       opts.IDs,
		logger:    opts.Logger,
		eventLog:  opts.EventLog,
		session:   opts.Session,
	}
	if r.arbiter == nil {
		r.arbiter = resource.NewArbiter()
	}
	if r.ids == nil {
		r.ids = idgen.New()
	}
	if err := registerBuiltins(r.modules); err != nil {
		return nil, err
	}
	return r, nil
}

// Init registers the root node and the generic node below it.
func (r *Registry) Init(ctx context.Context) error {
	ctx, unlock := r.lock(ctx)
	defer unlock()

	if r.root != nil {
		return fmt.Errorf("%w: already initialized", ErrBadValue)
	}
	if _, err := r.RegisterNode(ctx, nil, RootModuleName, rootAttrs(), nil); err != nil {
		return fmt.Errorf("register root: %w", err)
	}
	if _, err := r.RegisterNode(ctx, r.root, GenericModuleName, genericAttrs(), nil); err != nil {
		return fmt.Errorf("register generic node: %w", err)
	}
	return nil
}

// SetPublisher sets the devfs instance devices are published to.
func (r *Registry) SetPublisher(p device.Publisher) {
	r.mu.Lock()
	r.publisher = p
	r.mu.Unlock()
}

// Modules returns the module table.
func (r *Registry) Modules() *module.Table { return r.modules }

// Arbiter returns the resource arbiter.
func (r *Registry) Arbiter() *resource.Arbiter { return r.arbiter }

// IDs returns the ID allocator.
func (r *Registry) IDs() *idgen.Allocator { return r.ids }

// CreateID returns the lowest free ID of the named generator.
func (r *Registry) CreateID(name string) (int, error) { return r.ids.Create(name) }

// FreeID returns an ID to its generator.
func (r *Registry) FreeID(name string, id int) error { return r.ids.Free(name, id) }

// RegisterNode creates a node below parent (nil only for the root), claims
// its resources, initializes its driver and registers its children. Drivers
// call it through Node.RegisterChild.
func (r *Registry) RegisterNode(ctx context.Context, parent *Node, moduleName string, attrs []attr.Attr, rs []resource.Resource) (*Node, error) {
	if moduleName == "" {
		return nil, fmt.Errorf("%w: empty module name", ErrBadValue)
	}
	for _, a := range attrs {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadValue, err)
		}
	}

	ctx, unlock := r.lock(ctx)
	defer unlock()

	if parent == nil && r.root != nil {
		return nil, fmt.Errorf("%w: root already registered", ErrBadValue)
	}
	if parent != nil && parent.isRemoved() {
		return nil, fmt.Errorf("%w: parent %s was removed", ErrBadValue, parent.module)
	}
	if parent != nil && parent.findDuplicate(attrs) != nil {
		r.debugLog("duplicate node rejected", "module", moduleName, "parent", parent.module)
		return nil, fmt.Errorf("%w: %s below %s", ErrAlreadyRegistered, moduleName, parent.module)
	}

	r.nextID++
	n := &Node{
		r:        r,
		id:       r.nextID,
		module:   moduleName,
		parent:   parent,
		attrs:    attr.CloneAll(attrs),
		refs:     1,
		priority: priorityDefault,
	}
	if v, ok := attr.Find(n.attrs, attr.Flags, attr.TypeUint32); ok {
		n.flags = Flags(v.Uint()) & publicFlags
	}
	if n.flags&FindMultipleChildren != 0 {
		n.priority = priorityMultiple
	}

	if err := r.arbiter.Acquire(n, rs...); err != nil {
		r.logError(n, "acquire resources", err)
		return nil, err
	}
	for _, res := range rs {
		r.logResource(n, res, true)
	}

	if parent != nil {
		parent.addChild(n)
	} else {
		r.root = n
	}

	r.pending++
	err := r.register(ctx, n)
	r.pending--

	if err != nil {
		r.discard(ctx, n)
		if r.pending == 0 && r.root != nil {
			r.uninitUnused(ctx, r.root)
		}
		r.logError(n, "register", err)
		return nil, err
	}

	n.registered = true
	r.logState(n, log.StateEntityNode, "", "registered", "")

	if r.pending == 0 {
		r.uninitUnused(ctx, r.root)
	}
	return n, nil
}

// UnregisterNode marks n and its descendants removed, notifies them deepest
// first and drops the tree's reference. It returns ErrBusy when n is still
// referenced and destruction was deferred.
func (r *Registry) UnregisterNode(ctx context.Context, n *Node) error {
	ctx, unlock := r.lock(ctx)
	defer unlock()

	r.deviceRemoved(ctx, n)
	if !n.destroyed {
		return fmt.Errorf("%w: %s has %d references", ErrBusy, n.module, n.refs)
	}
	return nil
}

// GetDriver returns the node's loaded driver and its cookie.
func (r *Registry) GetDriver(ctx context.Context, n *Node) (module.Driver, any, error) {
	_, unlock := r.lock(ctx)
	defer unlock()

	if n.driver == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoInit, n.module)
	}
	return n.driver, n.cookie, nil
}

// Root returns the root node with a reference the caller must Put.
func (r *Registry) Root(ctx context.Context) (*Node, error) {
	_, unlock := r.lock(ctx)
	defer unlock()

	if r.root == nil {
		return nil, ErrNotInitialized
	}
	r.root.acquire()
	return r.root, nil
}

// GetParent returns n's parent with a reference the caller must Put.
func (r *Registry) GetParent(ctx context.Context, n *Node) (*Node, error) {
	_, unlock := r.lock(ctx)
	defer unlock()

	if n.parent == nil {
		return nil, fmt.Errorf("%w: %s has no parent", ErrNotFound, n.module)
	}
	n.parent.acquire()
	return n.parent, nil
}

// NextChild returns the first registered child of parent after last whose
// attributes match attrs. The reference on last is dropped and one on the
// result taken. ErrNotFound ends the iteration.
func (r *Registry) NextChild(ctx context.Context, parent *Node, attrs []attr.Attr, last *Node) (*Node, error) {
	ctx, unlock := r.lock(ctx)
	defer unlock()

	start := 0
	if last != nil {
		for i, c := range parent.children {
			if c == last {
				start = i + 1
				break
			}
		}
	}

	var next *Node
	for _, c := range parent.children[start:] {
		if !c.registered || c.isRemoved() {
			continue
		}
		if r.matches(c, attrs) {
			next = c
			break
		}
	}

	if next != nil {
		next.acquire()
	}
	if last != nil {
		r.release(ctx, last)
	}
	if next == nil {
		return nil, ErrNotFound
	}
	return next, nil
}

// FindChild returns the first registered child (or descendant when
// recursive is set) matching attrs, with a reference the caller must Put.
func (r *Registry) FindChild(ctx context.Context, parent *Node, attrs []attr.Attr, recursive bool) (*Node, error) {
	_, unlock := r.lock(ctx)
	defer unlock()

	if found := r.findChild(parent, attrs, recursive); found != nil {
		found.acquire()
		return found, nil
	}
	return nil, ErrNotFound
}

func (r *Registry) findChild(parent *Node, attrs []attr.Attr, recursive bool) *Node {
	for _, c := range parent.children {
		if !c.registered || c.isRemoved() {
			continue
		}
		if r.matches(c, attrs) {
			return c
		}
		if recursive {
			if found := r.findChild(c, attrs, true); found != nil {
				return found
			}
		}
	}
	return nil
}

func (r *Registry) matches(n *Node, attrs []attr.Attr) bool {
	r.attrMu.RLock()
	defer r.attrMu.RUnlock()
	return attr.Match(n.attrs, attrs)
}

// Acquire takes an additional reference on n.
func (r *Registry) Acquire(ctx context.Context, n *Node) {
	_, unlock := r.lock(ctx)
	defer unlock()
	n.acquire()
}

// Put drops a reference taken by Root, GetParent, NextChild, FindChild or
// Acquire. Dropping the last one destroys the node synchronously.
func (r *Registry) Put(ctx context.Context, n *Node) {
	ctx, unlock := r.lock(ctx)
	defer unlock()
	r.release(ctx, n)
}

// debugLog logs a debug message if logging is enabled.
func (r *Registry) debugLog(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *Registry) logEvent(e log.Event) {
	if r.eventLog == nil {
		return
	}
	e.Timestamp = time.Now()
	e.Session = r.session
	e.Layer = log.LayerRegistry
	r.eventLog.Log(e)
}

func (r *Registry) logState(n *Node, entity log.StateEntity, oldState, newState, reason string) {
	r.logEvent(log.Event{
		Category: log.CategoryState,
		NodeID:   n.id,
		Module:   n.module,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (r *Registry) logDriver(n *Node, driver, searchPath string, support float32, selected bool) {
	r.logEvent(log.Event{
		Category: log.CategoryDriver,
		NodeID:   n.id,
		Module:   n.module,
		Driver: &log.DriverEvent{
			Driver:     driver,
			Support:    support,
			Selected:   selected,
			SearchPath: searchPath,
		},
	})
}

func (r *Registry) logResource(n *Node, res resource.Resource, acquired bool) {
	r.logEvent(log.Event{
		Category: log.CategoryResource,
		NodeID:   n.id,
		Module:   n.module,
		Resource: &log.ResourceEvent{
			Type:     res.Type.String(),
			Base:     res.Base,
			Length:   res.Length,
			Acquired: acquired,
		},
	})
}

func (r *Registry) logError(n *Node, op string, err error) {
	r.debugLog("registry operation failed", "module", n.module, "op", op, "error", err)
	r.logEvent(log.Event{
		Category: log.CategoryError,
		NodeID:   n.id,
		Module:   n.module,
		Error: &log.ErrorEventData{
			Layer:   log.LayerRegistry,
			Message: err.Error(),
			Context: op,
		},
	})
}
