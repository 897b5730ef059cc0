// Package rtf turns PR_RTF_COMPRESSED payloads into RTF text (MS-OXRTFCP)
// and reduces that RTF to best-effort HTML.
package rtf

import (
	"encoding/binary"

	"github.com/rotisserie/eris"
)

const (
	magicCompressed   = 0x75465A4C // "LZFu"
	magicUncompressed = 0x414C454D // "MELA"

	headerSize = 16
	dictSize   = 4096

	// maxRawSize caps the output buffer so a forged header cannot force a
	// huge allocation.
	maxRawSize = 64 << 20
)

// initialDict seeds positions 0..206 of the circular dictionary.
var initialDict = []byte("{\\rtf1\\ansi\\mac\\deff0\\deftab720{\\fonttbl;}" +
	"{\\f0\\fnil \\froman \\fswiss \\fmodern \\fscript " +
	"\\fdecor MS Sans SerifSymbolArialTimes New Roman" +
	"Courier{\\colortbl\\red0\\green0\\blue0\r\n\\par " +
	"\\pard\\plain\\f0\\fs20\\b\\i\\u\\tab\\tx")

// ErrInvalidRTF is returned for payloads without a recognised header.
var ErrInvalidRTF = eris.New("invalid compressed RTF")

// Decompress expands a PR_RTF_COMPRESSED payload. Uncompressed ("MELA")
// payloads are returned as-is after the header. The CRC field is ignored.
func Decompress(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, eris.Wrapf(ErrInvalidRTF, "payload of %d bytes is shorter than the header", len(data))
	}
	compSize := binary.LittleEndian.Uint32(data[0:4])
	rawSize := binary.LittleEndian.Uint32(data[4:8])
	magic := binary.LittleEndian.Uint32(data[8:12])

	switch magic {
	case magicUncompressed:
		end := headerSize + int(rawSize)
		if end > len(data) || end < headerSize {
			end = len(data)
		}
		return append([]byte(nil), data[headerSize:end]...), nil
	case magicCompressed:
		end := int(compSize) + 4
		if end > len(data) || end < headerSize {
			end = len(data)
		}
		return lzfu(data[headerSize:end], int(rawSize)), nil
	default:
		return nil, eris.Wrapf(ErrInvalidRTF, "unknown compression type %#08x", magic)
	}
}

func lzfu(in []byte, rawSize int) []byte {
	var dict [dictSize]byte
	copy(dict[:], initialDict)
	write := len(initialDict)

	if rawSize < 0 || rawSize > maxRawSize {
		rawSize = maxRawSize
	}
	out := make([]byte, 0, rawSize)

	pos := 0
	for pos < len(in) && len(out) < rawSize {
		control := in[pos]
		pos++
		for bit := 0; bit < 8 && pos < len(in) && len(out) < rawSize; bit++ {
			if control&(1<<bit) == 0 {
				b := in[pos]
				pos++
				out = append(out, b)
				dict[write] = b
				write = (write + 1) % dictSize
				continue
			}

			if pos+1 >= len(in) {
				return out
			}
			ref := int(in[pos])<<8 | int(in[pos+1])
			pos += 2
			offset := ref >> 4
			length := ref&0x0F + 2
			if offset == write {
				return out
			}
			for i := 0; i < length && len(out) < rawSize; i++ {
				b := dict[(offset+i)%dictSize]
				out = append(out, b)
				dict[write] = b
				write = (write + 1) % dictSize
			}
		}
	}
	return out
}
