package inspect

import (
	"strings"

	"github.com/haiku/devmgr/pkg/attr"
	"github.com/haiku/devmgr/pkg/drivers/ramdisk"
)

// KnownAttr is a well-known attribute with its short alias.
type KnownAttr struct {
	Alias string
	Name  string
	Type  attr.DataType
}

// knownAttrs is the alias table, in display order.
var knownAttrs = []KnownAttr{
	{"pretty", attr.PrettyName, attr.TypeString},
	{"mapping", attr.Mapping, attr.TypeString},
	{"bus", attr.Bus, attr.TypeString},
	{"fixed", attr.FixedChild, attr.TypeString},
	{"flags", attr.Flags, attr.TypeUint32},
	{"vendor", attr.VendorID, attr.TypeUint16},
	{"id", attr.DeviceID, attr.TypeUint16},
	{"type", attr.Type, attr.TypeUint16},
	{"subtype", attr.SubType, attr.TypeUint16},
	{"interface", attr.Interface, attr.TypeUint16},
	{"unique", attr.UniqueID, attr.TypeString},
	{"size", ramdisk.SizeAttr, attr.TypeUint64},
}

// KnownAttrs returns a copy of the alias table.
func KnownAttrs() []KnownAttr {
	out := make([]KnownAttr, len(knownAttrs))
	copy(out, knownAttrs)
	return out
}

// ResolveAttrName resolves an alias or a full attribute name
// (case-insensitive).
func ResolveAttrName(name string) (KnownAttr, bool) {
	for _, k := range knownAttrs {
		if strings.EqualFold(k.Alias, name) || strings.EqualFold(k.Name, name) {
			return k, true
		}
	}
	return KnownAttr{}, false
}

// GetAttrAlias returns the alias of a full attribute name, or "" if it has
// none.
func GetAttrAlias(name string) string {
	for _, k := range knownAttrs {
		if k.Name == name {
			return k.Alias
		}
	}
	return ""
}

// ParseDataType resolves a type name as printed by attr.DataType.String.
func ParseDataType(name string) (attr.DataType, bool) {
	for t := attr.TypeUint8; t <= attr.TypeRaw; t++ {
		if strings.EqualFold(t.String(), name) {
			return t, true
		}
	}
	return 0, false
}
