package mapi

import (
	"encoding/binary"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindBinary
	KindTime
	KindInteger
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindTime:
		return "time"
	case KindInteger:
		return "integer"
	default:
		return "unknown"
	}
}

// Value is a decoded property payload. Only the field matching Kind is set.
type Value struct {
	Kind    Kind
	Text    string
	Bytes   []byte
	Time    time.Time
	Integer int64
}

// Text returns a text value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Binary returns a binary value.
func Binary(b []byte) Value { return Value{Kind: KindBinary, Bytes: b} }

// Timestamp returns a time value.
func Timestamp(t time.Time) Value { return Value{Kind: KindTime, Time: t} }

// Integer returns an integer value.
func Integer(n int64) Value { return Value{Kind: KindInteger, Integer: n} }

// IsZero reports whether v carries nothing.
func (v Value) IsZero() bool { return v.Kind == KindUnknown }

// JavaDateLayout is the layout Time values are rendered with by String.
const JavaDateLayout = "Mon Jan 02 15:04:05 MST 2006"

// String renders the value as text. Binary payloads are read as Windows-1252.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindBinary:
		s, err := charmap.Windows1252.NewDecoder().Bytes(v.Bytes)
		if err != nil {
			return string(v.Bytes)
		}
		return string(s)
	case KindTime:
		return v.Time.Format(JavaDateLayout)
	case KindInteger:
		return strconv.FormatInt(v.Integer, 10)
	default:
		return ""
	}
}

// fileTimeEpochOffsetMillis is the distance between 1601-01-01 and 1970-01-01.
const fileTimeEpochOffsetMillis = 11644473600000

// FileTimeToTime converts a FILETIME (100ns ticks since 1601) to UTC time at
// millisecond precision.
func FileTimeToTime(ft int64) time.Time {
	return time.UnixMilli(ft/10000 - fileTimeEpochOffsetMillis).UTC()
}

// TimeToFileTime is the inverse of FileTimeToTime.
func TimeToFileTime(t time.Time) int64 {
	return (t.UnixMilli() + fileTimeEpochOffsetMillis) * 10000
}

// DecodeReader reads a property payload from r and decodes it as typ.
// Binary payloads never fail: a read error yields an empty value.
func DecodeReader(r io.Reader, typ int) (Value, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		if typ == PtypBinary {
			return Binary([]byte{}), nil
		}
		return Value{}, eris.Wrapf(err, "read property of type %#x", typ)
	}
	return Decode(data, typ)
}

// Decode converts a raw payload into a Value according to typ. Types with no
// mapping return an unknown Value and ErrUnsupportedType.
func Decode(data []byte, typ int) (Value, error) {
	switch typ {
	case PtypString8:
		s, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return Value{}, eris.Wrap(err, "decode 8-bit string")
		}
		return Text(string(s)), nil
	case PtypString:
		return Text(decodeUTF16LE(data)), nil
	case PtypBinary:
		if data == nil {
			data = []byte{}
		}
		return Binary(data), nil
	case PtypTime:
		var buf [8]byte
		copy(buf[:], data)
		return Timestamp(FileTimeToTime(int64(binary.LittleEndian.Uint64(buf[:])))), nil
	case PtypInteger16:
		if len(data) < 2 {
			return Value{}, ErrShortValue
		}
		return Integer(int64(int16(binary.LittleEndian.Uint16(data)))), nil
	case PtypInteger32, PtypBoolean:
		if len(data) < 4 {
			return Value{}, ErrShortValue
		}
		return Integer(int64(int32(binary.LittleEndian.Uint32(data)))), nil
	case PtypInteger64:
		if len(data) < 8 {
			return Value{}, ErrShortValue
		}
		return Integer(int64(binary.LittleEndian.Uint64(data))), nil
	default:
		return Value{}, eris.Wrapf(ErrUnsupportedType, "type %#04x", typ)
	}
}

// decodeUTF16LE reads pairs of bytes low byte first. A trailing odd byte is
// dropped.
func decodeUTF16LE(data []byte) string {
	data = data[:len(data)&^1]
	s, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(data)
	if err != nil {
		units := make([]rune, 0, len(data)/2)
		for i := 0; i+1 < len(data); i += 2 {
			units = append(units, rune(uint16(data[i+1])<<8|uint16(data[i])))
		}
		return string(units)
	}
	return string(s)
}
