package legacy

import (
	"errors"
	"fmt"
	"go/constant"
	"sync"

	"github.com/haiku/devmgr/pkg/device"
)

// Exported symbol names of a driver image.
const (
	SymbolVersion        = "APIVersion"
	SymbolInitHardware   = "InitHardware"
	SymbolInitDriver     = "InitDriver"
	SymbolUninitDriver   = "UninitDriver"
	SymbolUninitHardware = "UninitHardware"
	SymbolPublishDevices = "PublishDevices"
	SymbolFindDevice     = "FindDevice"
)

// CurrentVersion is the newest image version understood. Version 1 images
// have no select hooks.
const CurrentVersion = 2

// Image errors.
var (
	ErrBadImage     = errors.New("invalid driver image")
	ErrImageMissing = errors.New("driver image not found")
)

// Hooks are the device entry points a driver returns from FindDevice.
// Missing hooks make the operation unsupported.
type Hooks struct {
	Open     func(name string, mode int) (any, error)
	Close    func(cookie any) error
	Free     func(cookie any) error
	Control  func(cookie any, op uint32, arg any) error
	Read     func(cookie any, pos int64, buf []byte) (int, error)
	Write    func(cookie any, pos int64, buf []byte) (int, error)
	Select   func(cookie any, event uint8, sync device.SelectSync) error
	Deselect func(cookie any, event uint8, sync device.SelectSync) error
}

// Image is a loaded driver image.
type Image interface {
	// Lookup returns the exported symbol called name.
	Lookup(name string) (any, bool)
	// Close unloads the image.
	Close() error
}

// Loader loads driver images from backing files.
type Loader interface {
	Load(path string) (Image, error)
}

// Exports are the resolved symbols of an image.
type Exports struct {
	Version        int32
	InitHardware   func() error
	InitDriver     func() error
	UninitDriver   func()
	UninitHardware func()
	PublishDevices func() []string
	FindDevice     func(name string) *Hooks
}

// Resolve looks up the exports of img. PublishDevices and FindDevice are
// mandatory; a missing version marker means version 1.
func Resolve(img Image) (*Exports, error) {
	e := &Exports{Version: 1}

	if v, ok := img.Lookup(SymbolVersion); ok {
		switch v := v.(type) {
		case int32:
			e.Version = v
		case int:
			e.Version = int32(v)
		case int64:
			e.Version = int32(v)
		case constant.Value:
			n, exact := constant.Int64Val(v)
			if !exact {
				return nil, fmt.Errorf("%w: %s is not an integer", ErrBadImage, SymbolVersion)
			}
			e.Version = int32(n)
		default:
			return nil, fmt.Errorf("%w: %s has type %T", ErrBadImage, SymbolVersion, v)
		}
	}
	if e.Version < 1 || e.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: image version %d", device.ErrNotSupported, e.Version)
	}

	var err error
	if e.InitHardware, err = optional[func() error](img, SymbolInitHardware); err != nil {
		return nil, err
	}
	if e.InitDriver, err = optional[func() error](img, SymbolInitDriver); err != nil {
		return nil, err
	}
	if e.UninitDriver, err = optional[func()](img, SymbolUninitDriver); err != nil {
		return nil, err
	}
	if e.UninitHardware, err = optional[func()](img, SymbolUninitHardware); err != nil {
		return nil, err
	}
	if e.PublishDevices, err = optional[func() []string](img, SymbolPublishDevices); err != nil {
		return nil, err
	}
	if e.FindDevice, err = optional[func(string) *Hooks](img, SymbolFindDevice); err != nil {
		return nil, err
	}
	if e.PublishDevices == nil || e.FindDevice == nil {
		return nil, fmt.Errorf("%w: %s and %s are required", ErrBadImage, SymbolPublishDevices, SymbolFindDevice)
	}
	return e, nil
}

func optional[T any](img Image, name string) (T, error) {
	var zero T
	v, ok := img.Lookup(name)
	if !ok || v == nil {
		return zero, nil
	}
	fn, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s has type %T, want %T", ErrBadImage, name, v, zero)
	}
	return fn, nil
}

// StaticImage is an in-memory image mapping symbol names to values.
type StaticImage map[string]any

// Lookup implements Image.
func (s StaticImage) Lookup(name string) (any, bool) {
	v, ok := s[name]
	return v, ok
}

// Close implements Image.
func (StaticImage) Close() error { return nil }

// StaticLoader serves images built by Go functions, keyed by path. Every
// Load calls the factory again, like loading a fresh copy of a binary.
type StaticLoader struct {
	mu      sync.Mutex
	factory map[string]func() Image
	loads   map[string]int
}

// NewStaticLoader creates an empty StaticLoader.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{
		factory: make(map[string]func() Image),
		loads:   make(map[string]int),
	}
}

// Add registers the image factory for path.
func (l *StaticLoader) Add(path string, factory func() Image) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factory[path] = factory
}

// Load implements Loader.
func (l *StaticLoader) Load(path string) (Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.factory[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImageMissing, path)
	}
	l.loads[path]++
	return f(), nil
}

// Loads returns how often path was loaded.
func (l *StaticLoader) Loads(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[path]
}

var (
	_ Loader = (*StaticLoader)(nil)
	_ Image  = StaticImage(nil)
)
