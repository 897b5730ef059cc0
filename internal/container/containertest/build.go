// Package containertest writes in-memory directory trees as compound files
// (MS-CFB version 3) so tests can feed real .msg bytes through the reader.
package containertest

import (
	"encoding/binary"
	"io"
	"unicode/utf16"

	"github.com/rotisserie/eris"

	"github.com/eslider/msgparse/internal/container"
)

const (
	sectorSize     = 512
	miniSectorSize = 64
	miniCutoff     = 4096
	entrySize      = 128
	maxNameLen     = 31

	freeSect   = 0xFFFFFFFF
	endOfChain = 0xFFFFFFFE
	fatSect    = 0xFFFFFFFD
	noStream   = 0xFFFFFFFF

	typeStorage = 1
	typeStream  = 2
	typeRoot    = 5
)

var signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

type entry struct {
	name   string
	typ    byte
	right  uint32
	child  uint32
	start  uint32
	size   uint64
	sector int // index into bigStreams for regular-sector streams, -1 otherwise
}

type builder struct {
	entries    []*entry
	mini       []byte
	miniFAT    []uint32
	bigStreams [][]byte
}

// Build serialises root and everything below it. Siblings keep their order.
func Build(root container.Directory) ([]byte, error) {
	b := &builder{}
	b.entries = append(b.entries, &entry{name: "Root Entry", typ: typeRoot, right: noStream, child: noStream, sector: -1})
	if err := b.addChildren(0, root); err != nil {
		return nil, err
	}
	return b.bytes(), nil
}

// MustBuild is Build for fixtures that are known to be valid.
func MustBuild(root container.Directory) []byte {
	data, err := Build(root)
	if err != nil {
		panic(err)
	}
	return data
}

func (b *builder) addChildren(parent int, dir container.Directory) error {
	children, err := dir.Entries()
	if err != nil {
		return eris.Wrapf(err, "list %q", dir.Name())
	}
	prev := -1
	for _, c := range children {
		if len(utf16.Encode([]rune(c.Name()))) > maxNameLen {
			return eris.Errorf("entry name %q is too long", c.Name())
		}
		id := len(b.entries)
		e := &entry{name: c.Name(), right: noStream, child: noStream, start: endOfChain, sector: -1}
		b.entries = append(b.entries, e)
		if prev < 0 {
			b.entries[parent].child = uint32(id)
		} else {
			b.entries[prev].right = uint32(id)
		}
		prev = id

		if c.IsDir() {
			e.typ = typeStorage
			sub, err := c.AsDirectory()
			if err != nil {
				return err
			}
			if err := b.addChildren(id, sub); err != nil {
				return err
			}
			continue
		}

		e.typ = typeStream
		rc, err := c.Open()
		if err != nil {
			return eris.Wrapf(err, "open %q", c.Name())
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return eris.Wrapf(err, "read %q", c.Name())
		}
		e.size = uint64(len(data))
		switch {
		case len(data) == 0:
		case len(data) < miniCutoff:
			e.start = b.addMini(data)
		default:
			e.sector = len(b.bigStreams)
			b.bigStreams = append(b.bigStreams, data)
		}
	}
	return nil
}

// addMini appends data to the mini stream and chains its mini sectors.
func (b *builder) addMini(data []byte) uint32 {
	first := uint32(len(b.miniFAT))
	n := sectors(len(data), miniSectorSize)
	for i := 0; i < n; i++ {
		next := uint32(len(b.miniFAT) + 1)
		if i == n-1 {
			next = endOfChain
		}
		b.miniFAT = append(b.miniFAT, next)
	}
	b.mini = append(b.mini, pad(data, miniSectorSize)...)
	return first
}

func sectors(n, size int) int { return (n + size - 1) / size }

func pad(data []byte, size int) []byte {
	out := make([]byte, sectors(len(data), size)*size)
	copy(out, data)
	return out
}

func (b *builder) bytes() []byte {
	dirSectors := sectors(len(b.entries)*entrySize, sectorSize)
	miniFATSectors := sectors(len(b.miniFAT)*4, sectorSize)
	miniStreamSectors := sectors(len(b.mini), sectorSize)
	bigSectors := 0
	for _, s := range b.bigStreams {
		bigSectors += sectors(len(s), sectorSize)
	}
	rest := dirSectors + miniFATSectors + miniStreamSectors + bigSectors
	fatSectors := 1
	for fatSectors*(sectorSize/4) < rest+fatSectors {
		fatSectors++
	}

	fat := make([]uint32, fatSectors*(sectorSize/4))
	for i := range fat {
		fat[i] = freeSect
	}
	next := 0
	chain := func(n int) uint32 {
		if n == 0 {
			return endOfChain
		}
		first := next
		for i := 0; i < n; i++ {
			if i == n-1 {
				fat[next] = endOfChain
			} else {
				fat[next] = uint32(next + 1)
			}
			next++
		}
		return uint32(first)
	}
	for i := 0; i < fatSectors; i++ {
		fat[next] = fatSect
		next++
	}
	dirStart := chain(dirSectors)
	miniFATStart := chain(miniFATSectors)
	miniStreamStart := chain(miniStreamSectors)
	for _, e := range b.entries {
		if e.sector >= 0 {
			e.start = chain(sectors(len(b.bigStreams[e.sector]), sectorSize))
		}
	}
	root := b.entries[0]
	root.start = miniStreamStart
	root.size = uint64(len(b.mini))

	out := make([]byte, sectorSize, sectorSize*(1+next))
	writeHeader(out, fatSectors, dirStart, miniFATStart, miniFATSectors)

	for i := 0; i < fatSectors*(sectorSize/4); i++ {
		out = binary.LittleEndian.AppendUint32(out, fat[i])
	}
	dir := make([]byte, dirSectors*sectorSize)
	for i := 0; i < dirSectors*sectorSize/entrySize; i++ {
		var e *entry
		if i < len(b.entries) {
			e = b.entries[i]
		}
		writeEntry(dir[i*entrySize:(i+1)*entrySize], e)
	}
	out = append(out, dir...)

	miniFAT := make([]byte, 0, miniFATSectors*sectorSize)
	for _, v := range b.miniFAT {
		miniFAT = binary.LittleEndian.AppendUint32(miniFAT, v)
	}
	for len(miniFAT) < miniFATSectors*sectorSize {
		miniFAT = binary.LittleEndian.AppendUint32(miniFAT, freeSect)
	}
	out = append(out, miniFAT...)
	out = append(out, pad(b.mini, sectorSize)...)
	for _, e := range b.entries {
		if e.sector >= 0 {
			out = append(out, pad(b.bigStreams[e.sector], sectorSize)...)
		}
	}
	return out
}

func writeHeader(h []byte, fatSectors int, dirStart, miniFATStart uint32, miniFATSectors int) {
	le := binary.LittleEndian
	copy(h, signature)
	le.PutUint16(h[24:], 0x003E) // minor version
	le.PutUint16(h[26:], 0x0003) // major version
	le.PutUint16(h[28:], 0xFFFE) // byte order
	le.PutUint16(h[30:], 9)      // 512-byte sectors
	le.PutUint16(h[32:], 6)      // 64-byte mini sectors
	le.PutUint32(h[44:], uint32(fatSectors))
	le.PutUint32(h[48:], dirStart)
	le.PutUint32(h[56:], miniCutoff)
	le.PutUint32(h[60:], miniFATStart)
	le.PutUint32(h[64:], uint32(miniFATSectors))
	le.PutUint32(h[68:], endOfChain)
	for i := 0; i < 109; i++ {
		v := uint32(freeSect)
		if i < fatSectors {
			v = uint32(i)
		}
		le.PutUint32(h[76+i*4:], v)
	}
}

func writeEntry(buf []byte, e *entry) {
	le := binary.LittleEndian
	if e == nil {
		le.PutUint32(buf[68:], noStream)
		le.PutUint32(buf[72:], noStream)
		le.PutUint32(buf[76:], noStream)
		return
	}
	name := utf16.Encode([]rune(e.name))
	for i, u := range name {
		le.PutUint16(buf[i*2:], u)
	}
	le.PutUint16(buf[64:], uint16((len(name)+1)*2))
	buf[66] = e.typ
	buf[67] = 1 // black
	le.PutUint32(buf[68:], noStream)
	le.PutUint32(buf[72:], e.right)
	le.PutUint32(buf[76:], e.child)
	le.PutUint32(buf[116:], e.start)
	le.PutUint64(buf[120:], e.size)
}
