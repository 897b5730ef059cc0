package mapi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/rotisserie/eris"
)

func TestParseEntryNameRoundTrip(t *testing.T) {
	for _, code := range []uint16{0x0037, 0x1000, 0x3701, 0x0e04, 0x800d} {
		class := ClassString(code)
		for _, typ := range []int{PtypString8, PtypString, PtypBinary, PtypTime, PtypInteger32} {
			name := PropertyID{Class: class, Type: typ}.EntryName()
			got, ok := ParseEntryName(name)
			if !ok {
				t.Fatalf("ParseEntryName(%q) not ok", name)
			}
			if got.Class != class || got.Type != typ {
				t.Errorf("ParseEntryName(%q) = %+v, want class %s type %#x", name, got, class, typ)
			}
			if back, _ := ParseClass(got.Class); back != code {
				t.Errorf("ParseClass(%q) = %#x, want %#x", got.Class, back, code)
			}
		}
	}
}

func TestParseEntryName(t *testing.T) {
	tests := []struct {
		name  string
		ok    bool
		class string
		typ   int
	}{
		{"__substg1.0_0037001E", true, "0037", 0x1e},
		{"__substg1.0_3701000D", true, "3701", 0x0d},
		{"__substg1.0_0037001f-0001", true, "0037", 0x1f},
		{"__substg1.0_0037", false, "", 0},
		{"__substg1.0_0037zz1e", false, "", 0},
		{"__properties_version1.0", false, "", 0},
		{"__nameid_version1.0", false, "", 0},
		{"", false, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseEntryName(tt.name)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got.Class != tt.class || got.Type != tt.typ {
				t.Errorf("got %+v, want class %q type %#x", got, tt.class, tt.typ)
			}
		})
	}
}

func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2)
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}

func TestDecodeUnicodeRoundTrip(t *testing.T) {
	for _, s := range []string{"", "Hello", "Grüße aus Köln", "日本語のテキスト", "emoji 😀 pair"} {
		v, err := Decode(encodeUTF16LE(s), PtypString)
		if err != nil {
			t.Fatalf("Decode(%q): %v", s, err)
		}
		if v.Kind != KindText || v.Text != s {
			t.Errorf("Decode(%q) = %+v", s, v)
		}
	}
}

func TestDecodeUnicodeOddByteIgnored(t *testing.T) {
	data := append(encodeUTF16LE("abc"), 0x41)
	v, err := Decode(data, PtypString)
	if err != nil {
		t.Fatal(err)
	}
	if v.Text != "abc" {
		t.Errorf("Text = %q, want %q", v.Text, "abc")
	}
}

func TestDecodeString8(t *testing.T) {
	v, err := Decode([]byte{'c', 'a', 'f', 0xe9}, PtypString8)
	if err != nil {
		t.Fatal(err)
	}
	if v.Text != "café" {
		t.Errorf("Text = %q, want café", v.Text)
	}
}

func TestDecodeFileTime(t *testing.T) {
	tests := []struct {
		ticks int64
		want  time.Time
	}{
		{0, time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)},
		{116444736000000000, time.Unix(0, 0).UTC()},
		{132000000000000000, time.UnixMilli(1555526400000).UTC()},
	}
	for _, tt := range tests {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(tt.ticks))
		v, err := Decode(buf, PtypTime)
		if err != nil {
			t.Fatal(err)
		}
		if v.Kind != KindTime || !v.Time.Equal(tt.want) {
			t.Errorf("ticks %d: got %v, want %v", tt.ticks, v.Time, tt.want)
		}
		if got := TimeToFileTime(v.Time); got != tt.ticks {
			t.Errorf("TimeToFileTime = %d, want %d", got, tt.ticks)
		}
	}
	if want := time.Date(2019, 4, 17, 18, 40, 0, 0, time.UTC); !FileTimeToTime(132000000000000000).Equal(want) {
		t.Errorf("spot check = %v, want %v", FileTimeToTime(132000000000000000), want)
	}
}

func TestDecodeBinary(t *testing.T) {
	v, err := Decode([]byte{1, 2, 3}, PtypBinary)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindBinary || !bytes.Equal(v.Bytes, []byte{1, 2, 3}) {
		t.Errorf("got %+v", v)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestDecodeReaderBinaryFailsSoft(t *testing.T) {
	v, err := DecodeReader(failingReader{}, PtypBinary)
	if err != nil {
		t.Fatalf("DecodeReader: %v", err)
	}
	if v.Kind != KindBinary || len(v.Bytes) != 0 || v.Bytes == nil {
		t.Errorf("got %+v, want empty binary", v)
	}
	if _, err := DecodeReader(failingReader{}, PtypString8); err == nil {
		t.Error("expected error for text read failure")
	}
}

func TestDecodeUnsupported(t *testing.T) {
	v, err := Decode([]byte{1, 2}, PtypGUID)
	if !eris.Is(err, ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
	if !v.IsZero() {
		t.Errorf("value = %+v, want unknown", v)
	}
}

func TestValueString(t *testing.T) {
	if got := Binary([]byte{0x80, 'x'}).String(); got != "€x" {
		t.Errorf("binary String = %q", got)
	}
	if got := Integer(-7).String(); got != "-7" {
		t.Errorf("integer String = %q", got)
	}
	ts := time.Date(2024, 3, 5, 8, 9, 10, 0, time.UTC)
	if got := Timestamp(ts).String(); got != "Tue Mar 05 08:09:10 UTC 2024" {
		t.Errorf("time String = %q", got)
	}
}

// record builds one properties-stream record.
func record(class uint16, typ uint16, body ...byte) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(class)<<16|uint32(typ))
	return append(out, body...)
}

func TestUnpackPropertyStream(t *testing.T) {
	var stream []byte
	// stream-level marker with no body
	stream = append(stream, record(0x0000, 0x0000)...)
	// int32 attach method = 5
	stream = append(stream, record(0x3705, PtypInteger32, 0, 0, 0, 0, 5, 0, 0, 0, 0xff, 0xff, 0xff, 0xff)...)
	// variable-length subject: flags + size only
	stream = append(stream, record(0x0037, PtypString8, 0, 0, 0, 0, 9, 0, 0, 0)...)
	// systime
	stream = append(stream, record(0x3007, PtypTime, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8)...)

	entries := UnpackPropertyStream(bytes.NewReader(stream))
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Name != "__substg1.0_37050003" || !bytes.Equal(entries[0].Data, []byte{5, 0, 0, 0}) {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Name != "__substg1.0_30070040" || !bytes.Equal(entries[1].Data, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	id, ok := ParseEntryName(entries[0].Name)
	if !ok || id.Class != "3705" || id.Type != PtypInteger32 {
		t.Errorf("synthesized name does not classify: %+v %v", id, ok)
	}
}

func TestUnpackPropertyStreamSkipsSentinelBodies(t *testing.T) {
	// message flags record that follows every sentinel
	next := record(0x0e07, PtypInteger32, 0, 0, 0, 0, 9, 0, 0, 0, 0, 0, 0, 0)
	tests := []struct {
		name     string
		sentinel []byte
	}{
		{"int32", record(0x0000, PtypInteger32, 1, 2, 3, 4, 5, 6, 7, 8)},
		{"systime", record(0x0000, PtypTime, 1, 2, 3, 4, 5, 6, 7, 8)},
		{"binary", record(0x0000, PtypBinary, 0xff, 0, 0, 0)},
		{"no body", record(0x0000, 0x0000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := append(append([]byte(nil), tt.sentinel...), next...)
			entries := UnpackPropertyStream(bytes.NewReader(stream))
			if len(entries) != 1 {
				t.Fatalf("got %d entries, want 1: %+v", len(entries), entries)
			}
			if entries[0].Name != "__substg1.0_0E070003" || !bytes.Equal(entries[0].Data, []byte{9, 0, 0, 0}) {
				t.Errorf("entry = %+v", entries[0])
			}
		})
	}
}

func TestUnpackPropertyStreamTruncated(t *testing.T) {
	var stream []byte
	stream = append(stream, record(0x0c15, PtypInteger32, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0)...)
	stream = append(stream, record(0x3705, PtypInteger32, 0, 0, 0, 0, 5)...)
	entries := UnpackPropertyStream(bytes.NewReader(stream))
	if len(entries) != 1 || entries[0].Name != "__substg1.0_0C150003" {
		t.Fatalf("got %+v, want only the complete record", entries)
	}

	if got := UnpackPropertyStream(bytes.NewReader([]byte{1, 2})); len(got) != 0 {
		t.Errorf("short header: got %+v", got)
	}
}
