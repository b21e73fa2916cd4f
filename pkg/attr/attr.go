package attr

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Well-known attribute names.
const (
	PrettyName = "device/pretty name"
	Mapping    = "device/mapping"
	Bus        = "device/bus"
	FixedChild = "device/fixed child"
	Flags      = "device/flags"
	VendorID   = "device/vendor"
	DeviceID   = "device/id"
	Type       = "device/type"
	SubType    = "device/subtype"
	Interface  = "device/interface"
	UniqueID   = "device/unique id"
)

// Attribute errors.
var (
	ErrInvalidName  = errors.New("attribute name is empty")
	ErrInvalidValue = errors.New("attribute value does not match its type")
)

// DataType identifies the type of an attribute value.
type DataType uint8

const (
	// TypeUint8 is an unsigned 8-bit integer.
	TypeUint8 DataType = iota + 1
	// TypeUint16 is an unsigned 16-bit integer.
	TypeUint16
	// TypeUint32 is an unsigned 32-bit integer.
	TypeUint32
	// TypeUint64 is an unsigned 64-bit integer.
	TypeUint64
	// TypeString is a UTF-8 string.
	TypeString
	// TypeRaw is an opaque byte slice.
	TypeRaw
)

// String returns the data type name.
func (t DataType) String() string {
	switch t {
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeString:
		return "string"
	case TypeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Attr is a typed node attribute. The value is an owned copy: constructors
// and Clone never share the raw byte slice with the caller.
type Attr struct {
	Name string
	Type DataType
	num  uint64
	str  string
	raw  []byte
}

// Uint8 creates a uint8 attribute.
func Uint8(name string, v uint8) Attr { return Attr{Name: name, Type: TypeUint8, num: uint64(v)} }

// Uint16 creates a uint16 attribute.
func Uint16(name string, v uint16) Attr { return Attr{Name: name, Type: TypeUint16, num: uint64(v)} }

// Uint32 creates a uint32 attribute.
func Uint32(name string, v uint32) Attr { return Attr{Name: name, Type: TypeUint32, num: uint64(v)} }

// Uint64 creates a uint64 attribute.
func Uint64(name string, v uint64) Attr { return Attr{Name: name, Type: TypeUint64, num: v} }

// String creates a string attribute.
func String(name, v string) Attr { return Attr{Name: name, Type: TypeString, str: v} }

// Raw creates a raw attribute holding a copy of v.
func Raw(name string, v []byte) Attr {
	return Attr{Name: name, Type: TypeRaw, raw: bytes.Clone(v)}
}

// Uint returns the numeric value. It is zero for string and raw attributes.
func (a Attr) Uint() uint64 { return a.num }

// Str returns the string value.
func (a Attr) Str() string { return a.str }

// Bytes returns a copy of the raw value.
func (a Attr) Bytes() []byte { return bytes.Clone(a.raw) }

// Clone returns a deep copy of the attribute.
func (a Attr) Clone() Attr {
	a.raw = bytes.Clone(a.raw)
	return a
}

// Validate checks the attribute is well formed.
func (a Attr) Validate() error {
	if a.Name == "" {
		return ErrInvalidName
	}
	switch a.Type {
	case TypeUint8:
		if a.num > 0xff {
			return fmt.Errorf("%w: %s", ErrInvalidValue, a.Name)
		}
	case TypeUint16:
		if a.num > 0xffff {
			return fmt.Errorf("%w: %s", ErrInvalidValue, a.Name)
		}
	case TypeUint32:
		if a.num > 0xffffffff {
			return fmt.Errorf("%w: %s", ErrInvalidValue, a.Name)
		}
	case TypeUint64, TypeString, TypeRaw:
	default:
		return fmt.Errorf("%w: %s has type %d", ErrInvalidValue, a.Name, a.Type)
	}
	return nil
}

// Compare orders two attributes of the same type. Attributes of different
// types never compare equal; -1 is returned. Raw values of different length
// are unequal before their contents are looked at.
func Compare(a, b Attr) int {
	if a.Type != b.Type {
		return -1
	}
	switch a.Type {
	case TypeString:
		return strings.Compare(a.str, b.str)
	case TypeRaw:
		if len(a.raw) != len(b.raw) {
			if len(a.raw) < len(b.raw) {
				return -1
			}
			return 1
		}
		return bytes.Compare(a.raw, b.raw)
	default:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	}
}

// Equal reports whether both attributes have the same name, type and value.
func Equal(a, b Attr) bool {
	return a.Name == b.Name && Compare(a, b) == 0
}

// ValueString formats the value for display.
func (a Attr) ValueString() string {
	switch a.Type {
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		return fmt.Sprintf("%#x (%d)", a.num, a.num)
	case TypeString:
		return fmt.Sprintf("%q", a.str)
	case TypeRaw:
		return fmt.Sprintf("raw, size %d", len(a.raw))
	default:
		return "?"
	}
}

// String implements fmt.Stringer.
func (a Attr) String() string {
	return fmt.Sprintf("%s : %s : %s", a.Name, a.Type, a.ValueString())
}

// Find returns the first attribute called name with the given type.
func Find(attrs []Attr, name string, typ DataType) (Attr, bool) {
	for _, a := range attrs {
		if a.Name == name && a.Type == typ {
			return a, true
		}
	}
	return Attr{}, false
}

// Match reports whether every attribute in want is present in have under
// the same name with an equal value. Only the first attribute of a given
// name in have is considered.
func Match(have, want []Attr) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h.Name != w.Name {
				continue
			}
			found = true
			if Compare(h, w) != 0 {
				return false
			}
			break
		}
		if !found {
			return false
		}
	}
	return true
}

// CloneAll deep-copies a list of attributes.
func CloneAll(attrs []Attr) []Attr {
	out := make([]Attr, len(attrs))
	for i, a := range attrs {
		out[i] = a.Clone()
	}
	return out
}
