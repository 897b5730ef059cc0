package mapi

import (
	"encoding/hex"
	"io"
	"strconv"
	"strings"
)

// sentinelClass marks stream-level records that carry no property.
const sentinelClass = "0000"

// StreamEntry is a virtual document entry synthesized from one record of a
// properties stream. Its Name follows the "__substg1.0_CCCCTTTT" convention
// so it can be classified like a real entry.
type StreamEntry struct {
	Name string
	Data []byte
}

// UnpackPropertyStream splits a packed properties stream into virtual
// entries. Only records with an inline fixed-width payload produce an entry;
// variable-length properties live in their own entries elsewhere in the
// directory. A truncated record ends the loop and the entries collected so
// far are returned.
func UnpackPropertyStream(r io.Reader) []StreamEntry {
	var entries []StreamEntry
	var header [4]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return entries
		}
		tag := headerTag(header)
		class := tag[:4]
		typ, err := strconv.ParseUint(tag[4:], 16, 16)
		if err != nil {
			return entries
		}

		if class == sentinelClass {
			if _, ok := readInline(r, int(typ)); !ok {
				return entries
			}
			continue
		}

		var flags [4]byte
		if _, err := io.ReadFull(r, flags[:]); err != nil {
			return entries
		}
		payload, ok := readInline(r, int(typ))
		if !ok {
			return entries
		}
		if payload != nil {
			entries = append(entries, StreamEntry{Name: EntryPrefix + tag, Data: payload})
		}
	}
}

// headerTag reverses the little-endian record header into "CCCCTTTT".
func headerTag(b [4]byte) string {
	return strings.ToUpper(hex.EncodeToString([]byte{b[3], b[2], b[1], b[0]}))
}

// readInline consumes the record body for typ. It returns the inline payload
// (nil for variable-length and unknown types) and false on a short read.
func readInline(r io.Reader, typ int) ([]byte, bool) {
	switch inlineSize(typ) {
	case sizeVariable:
		var size [4]byte
		_, err := io.ReadFull(r, size[:])
		return nil, err == nil
	case 4:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, false
		}
		return append([]byte(nil), buf[:4]...), true
	case 8:
		buf := make([]byte, 8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, false
		}
		return buf, true
	default:
		return nil, true
	}
}

const sizeVariable = -1

// inlineSize reports how a type is laid out inside a properties stream:
// sizeVariable when only a size field is present, 4 for values followed by 4
// bytes of padding, 8 for unpadded 8-byte values and 0 for types with no body.
func inlineSize(typ int) int {
	switch typ {
	case PtypGUID, PtypString8, PtypString, PtypObject, PtypBinary:
		return sizeVariable
	case PtypInteger32, PtypFloating32, PtypErrorCode, PtypBoolean, PtypInteger16:
		return 4
	case PtypFloating64, PtypFloatingTime, PtypCurrency, PtypInteger64, PtypTime:
		return 8
	default:
		return 0
	}
}
