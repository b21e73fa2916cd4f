package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/device"
	"github.com/haiku/devmgr/pkg/log"
	"github.com/haiku/devmgr/pkg/module"
)

type recorder struct {
	calls []string
}

func (r *recorder) add(s string) {
	if r != nil {
		r.calls = append(r.calls, s)
	}
}

func (r *recorder) index(s string) int {
	for i, c := range r.calls {
		if c == s {
			return i
		}
	}
	return -1
}

// fakeDriver registers a child bound to itself. With bus set it only
// supports parents on that bus.
type fakeDriver struct {
	name    string
	support float32
	bus     string
	child   []attr.Attr
	initErr error
	rec     *recorder
}

func (d *fakeDriver) SupportsDevice(_ context.Context, parent module.Node) float32 {
	if d.bus != "" {
		if b, ok := parent.String(attr.Bus, false); !ok || b != d.bus {
			return 0
		}
	}
	return d.support
}

func (d *fakeDriver) RegisterDevice(ctx context.Context, parent module.Node) error {
	attrs := d.child
	if attrs == nil {
		attrs = []attr.Attr{attr.String(attr.PrettyName, d.name)}
	}
	_, err := parent.RegisterChild(ctx, d.name, attrs, nil)
	return err
}

func (d *fakeDriver) InitDriver(_ context.Context, node module.Node) (any, error) {
	d.rec.add("init " + d.name)
	if d.initErr != nil {
		return nil, d.initErr
	}
	return node, nil
}

func (d *fakeDriver) UninitDriver(context.Context, any) {
	d.rec.add("uninit " + d.name)
}

func (d *fakeDriver) DeviceRemoved(context.Context, module.Node) {
	d.rec.add("removed " + d.name)
}

// fakeDevice is a read-only device module over a byte slice.
type fakeDevice struct {
	data []byte
	rec  *recorder
}

func (m *fakeDevice) InitDevice(_ context.Context, driverCookie any) (any, error) {
	m.rec.add("init device")
	return driverCookie, nil
}

func (m *fakeDevice) UninitDevice(context.Context, any) { m.rec.add("uninit device") }

func (m *fakeDevice) Open(_ any, path string, _ int) (device.Cookie, error) { return path, nil }

func (m *fakeDevice) Close(device.Cookie) error { return nil }

func (m *fakeDevice) Free(device.Cookie) error { return nil }

func (m *fakeDevice) Read(_ device.Cookie, pos int64, buf []byte) (int, error) {
	if pos >= int64(len(m.data)) {
		return 0, nil
	}
	return copy(buf, m.data[pos:]), nil
}

type captureLog struct {
	events []log.Event
}

func (c *captureLog) Log(e log.Event) { c.events = append(c.events, e) }

func newTestRegistry(t *testing.T, opts Options, mods ...*fakeDriver) *Registry {
	t.Helper()
	if opts.Modules == nil {
		opts.Modules = module.NewTable()
	}
	for _, m := range mods {
		require.NoError(t, opts.Modules.Register(m.name, m))
	}
	r, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, r.Init(context.Background()))
	return r
}

func rootOf(t *testing.T, r *Registry) *Node {
	t.Helper()
	root, err := r.Root(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { r.Put(context.Background(), root) })
	return root
}

func childModules(n *Node) []string {
	var out []string
	for _, c := range n.liveChildren() {
		out = append(out, c.module)
	}
	return out
}

func pretty(name string) []attr.Attr {
	return []attr.Attr{attr.String(attr.PrettyName, name)}
}
