// Package inspect provides inspection utilities for the device manager.
//
// The inspect package offers:
//   - Parsing node references ("#12", "12") and attribute filters
//     ("bus=ram", "device/vendor:uint16=0x8086")
//   - Snapshots of the node tree and listings of devfs directories
//   - Text formatting of both for the interactive shell
package inspect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/haiku/devmgr/pkg/attr"
)

// Parse errors.
var (
	ErrEmptyRef      = errors.New("empty node reference")
	ErrInvalidNumber = errors.New("invalid numeric value")
	ErrInvalidFilter = errors.New("invalid attribute filter")
)

// ParseNodeRef parses a node ID, written as "12", "#12" or "0xc".
func ParseNodeRef(input string) (uint32, error) {
	s := strings.TrimPrefix(strings.TrimSpace(input), "#")
	if s == "" {
		return 0, ErrEmptyRef
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidNumber, input)
	}
	return uint32(v), nil
}

// ParseFilter parses "name=value" into an attribute.
//
// The name is either an alias from the name table or a full attribute name.
// The type of an alias comes from the table; a full name defaults to string
// and can carry an explicit type as "name:type". Numbers accept decimal,
// hex (0x) and octal (0) notation.
func ParseFilter(input string) (attr.Attr, error) {
	key, value, ok := strings.Cut(strings.TrimSpace(input), "=")
	if !ok || key == "" {
		return attr.Attr{}, fmt.Errorf("%w: %q", ErrInvalidFilter, input)
	}

	name, typ := key, attr.TypeString
	if n, t, ok := strings.Cut(key, ":"); ok {
		parsed, found := ParseDataType(t)
		if !found {
			return attr.Attr{}, fmt.Errorf("%w: unknown type %q", ErrInvalidFilter, t)
		}
		name, typ = n, parsed
	} else if known, found := ResolveAttrName(key); found {
		name, typ = known.Name, known.Type
	}

	a, err := makeAttr(name, typ, value)
	if err != nil {
		return attr.Attr{}, err
	}
	return a, nil
}

// ParseFilters parses every argument with ParseFilter.
func ParseFilters(args []string) ([]attr.Attr, error) {
	out := make([]attr.Attr, 0, len(args))
	for _, arg := range args {
		a, err := ParseFilter(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func makeAttr(name string, typ attr.DataType, value string) (attr.Attr, error) {
	bits := 0
	switch typ {
	case attr.TypeString:
		return attr.String(name, value), nil
	case attr.TypeRaw:
		return attr.Raw(name, []byte(value)), nil
	case attr.TypeUint8:
		bits = 8
	case attr.TypeUint16:
		bits = 16
	case attr.TypeUint32:
		bits = 32
	case attr.TypeUint64:
		bits = 64
	}

	v, err := strconv.ParseUint(value, 0, bits)
	if err != nil {
		return attr.Attr{}, fmt.Errorf("%w: %s=%s", ErrInvalidNumber, name, value)
	}
	switch typ {
	case attr.TypeUint8:
		return attr.Uint8(name, uint8(v)), nil
	case attr.TypeUint16:
		return attr.Uint16(name, uint16(v)), nil
	case attr.TypeUint32:
		return attr.Uint32(name, uint32(v)), nil
	default:
		return attr.Uint64(name, v), nil
	}
}
