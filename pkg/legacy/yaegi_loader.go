package legacy

import (
	"fmt"
	"go/constant"
	"go/parser"
	"go/token"
	"reflect"

	"github.com/spf13/afero"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/haiku/devmgr/pkg/device"
)

// Symbols are the non-standard packages an interpreted image may import.
var Symbols = interp.Exports{
	"github.com/haiku/devmgr/pkg/legacy/legacy": {
		"Hooks":          reflect.ValueOf((*Hooks)(nil)),
		"CurrentVersion": reflect.ValueOf(constant.MakeFromLiteral("2", token.INT, 0)),
	},
	"github.com/haiku/devmgr/pkg/device/device": {
		"ErrBadValue":     reflect.ValueOf(&device.ErrBadValue).Elem(),
		"ErrNotAllowed":   reflect.ValueOf(&device.ErrNotAllowed).Elem(),
		"ErrNotSupported": reflect.ValueOf(&device.ErrNotSupported).Elem(),
		"ErrNoDevice":     reflect.ValueOf(&device.ErrNoDevice).Elem(),

		"Geometry":   reflect.ValueOf((*device.Geometry)(nil)),
		"SelectSync": reflect.ValueOf((*device.SelectSync)(nil)),

		"GetDeviceSize":   reflect.ValueOf(device.GetDeviceSize),
		"GetGeometry":     reflect.ValueOf(device.GetGeometry),
		"FlushDriveCache": reflect.ValueOf(device.FlushDriveCache),
		"EventRead":       reflect.ValueOf(device.EventRead),
		"EventWrite":      reflect.ValueOf(device.EventWrite),
	},
}

// YaegiLoader loads images written as Go source. The file declares any
// package name and exports the image symbols as package level functions
// and an optional APIVersion constant:
//
//	package nulldrv
//
//	import "github.com/haiku/devmgr/pkg/legacy"
//
//	const APIVersion = 2
//
//	func PublishDevices() []string { return []string{"misc/null"} }
//	func FindDevice(name string) *legacy.Hooks { ... }
type YaegiLoader struct {
	fs afero.Fs
}

// NewYaegiLoader creates a loader reading sources from fs.
func NewYaegiLoader(fs afero.Fs) *YaegiLoader {
	return &YaegiLoader{fs: fs}
}

// Load implements Loader.
func (l *YaegiLoader) Load(path string) (Image, error) {
	src, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageMissing, err)
	}

	f, err := parser.ParseFile(token.NewFileSet(), path, src, parser.PackageClauseOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadImage, path, err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib: %w", err)
	}
	if err := i.Use(Symbols); err != nil {
		return nil, fmt.Errorf("load symbols: %w", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadImage, path, err)
	}
	return &yaegiImage{interp: i, pkg: f.Name.Name}, nil
}

type yaegiImage struct {
	interp *interp.Interpreter
	pkg    string
}

func (img *yaegiImage) Lookup(name string) (any, bool) {
	if img.interp == nil {
		return nil, false
	}
	v, err := img.interp.Eval(img.pkg + "." + name)
	if err != nil || !v.IsValid() {
		return nil, false
	}
	return v.Interface(), true
}

func (img *yaegiImage) Close() error {
	img.interp = nil
	return nil
}

var _ Loader = (*YaegiLoader)(nil)
