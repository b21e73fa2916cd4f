package device

import (
	"context"
	"errors"
)

// Status errors shared across the device boundary.
var (
	ErrBadValue     = errors.New("bad value")
	ErrNotAllowed   = errors.New("operation not allowed")
	ErrNotSupported = errors.New("operation not supported")
	ErrNoDevice     = errors.New("no such device")
	ErrDisconnected = errors.New("device disconnected")
)

// Cookie is the per-open state a device hands out from Open.
type Cookie = any

// Capability is a set of optional operations a device implements.
type Capability uint8

const (
	// HasSelect means Select is implemented.
	HasSelect Capability = 1 << iota
	// HasDeselect means Deselect is implemented.
	HasDeselect
	// HasRead means Read is implemented.
	HasRead
	// HasWrite means Write is implemented.
	HasWrite
	// HasIO means the request based IO hook is implemented.
	HasIO
)

// Has reports whether every capability in want is set.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Select events.
const (
	EventRead uint8 = iota + 1
	EventWrite
	EventError
	EventPriorityRead
	EventPriorityWrite
	EventHighPriorityRead
	EventHighPriorityWrite
	EventDisconnected
)

// OutputOnly reports whether event is only ever reported by a device and
// cannot be waited for on its own.
func OutputOnly(event uint8) bool {
	return event == EventError || event == EventDisconnected
}

// SelectSync receives select notifications.
type SelectSync interface {
	Notify(event uint8) error
}

// Request is a vectored I/O request for devices with the IO capability.
type Request struct {
	Write       bool
	Offset      int64
	Vecs        [][]byte
	Transferred int
}

// Length returns the total number of bytes described by the vectors.
func (r *Request) Length() int {
	n := 0
	for _, v := range r.Vecs {
		n += len(v)
	}
	return n
}

// Device is the capability contract of a publishable device.
type Device interface {
	Capabilities() Capability

	// InitDevice and UninitDevice bracket the opens of the device. ctx is
	// the context of the first open; a registry callback passes its own
	// context so that the device can take the registry lock again.
	InitDevice(ctx context.Context) error
	UninitDevice(ctx context.Context)

	Open(path string, mode int) (Cookie, error)
	Read(c Cookie, pos int64, buf []byte) (int, error)
	Write(c Cookie, pos int64, buf []byte) (int, error)
	IO(c Cookie, req *Request) error
	Control(c Cookie, op uint32, arg any) error
	Select(c Cookie, event uint8, sync SelectSync) error
	Deselect(c Cookie, event uint8, sync SelectSync) error
	Close(c Cookie) error
	Free(c Cookie) error

	// Removed is called once devfs has dropped its last reference.
	Removed()
}

// Publisher makes devices visible under a path. Devfs implements it.
type Publisher interface {
	PublishDevice(path string, d Device) error
	UnpublishDevice(d Device, disconnect bool) error
}

// Base implements every optional operation as unsupported. Device kinds
// embed it and override what they provide.
type Base struct{}

func (Base) Capabilities() Capability { return 0 }
func (Base) InitDevice(context.Context) error { return nil }
func (Base) UninitDevice(context.Context) {}
func (Base) Open(string, int) (Cookie, error) { return nil, nil }
func (Base) Read(Cookie, int64, []byte) (int, error) { return 0, ErrNotSupported }
func (Base) Write(Cookie, int64, []byte) (int, error) { return 0, ErrNotSupported }
func (Base) IO(Cookie, *Request) error { return ErrNotSupported }
func (Base) Control(Cookie, uint32, any) error { return ErrBadValue }
func (Base) Select(Cookie, uint8, SelectSync) error { return ErrNotSupported }
func (Base) Deselect(Cookie, uint8, SelectSync) error { return ErrNotSupported }
func (Base) Close(Cookie) error { return nil }
func (Base) Free(Cookie) error { return nil }
func (Base) Removed() {}
