package mapi

import (
	"fmt"
	"strconv"
	"strings"
)

// PropertyID is the class and type encoded in a property entry name.
type PropertyID struct {
	Class string // four lowercase hex digits, not validated
	Type  int
}

// ParseEntryName splits "__substg1.0_CCCCTTTT" into class and type. It
// reports false for names without the prefix, for names too short to carry
// both fields, and when the type is not hexadecimal.
func ParseEntryName(name string) (PropertyID, bool) {
	rest, ok := strings.CutPrefix(name, EntryPrefix)
	if !ok || len(rest) < 8 {
		return PropertyID{}, false
	}
	rest = strings.ToLower(rest)
	typ, err := strconv.ParseUint(rest[4:8], 16, 16)
	if err != nil {
		return PropertyID{}, false
	}
	return PropertyID{Class: rest[:4], Type: int(typ)}, true
}

// EntryName formats the ID back into a property entry name.
func (id PropertyID) EntryName() string {
	return fmt.Sprintf("%s%s%04x", EntryPrefix, id.Class, id.Type)
}

// ParseClass converts a class string into its numeric code.
func ParseClass(class string) (uint16, bool) {
	v, err := strconv.ParseUint(class, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// ClassString formats a numeric class the way entry names carry it.
func ClassString(code uint16) string {
	return fmt.Sprintf("%04x", code)
}
