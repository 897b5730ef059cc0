// Package parser walks a .msg container and assembles a message.Message
// from the properties found in it.
package parser

import (
	"io"
	"log/slog"
	"strings"

	"github.com/eslider/msgparse/internal/container"
	"github.com/eslider/msgparse/internal/mapi"
	"github.com/eslider/msgparse/internal/message"
	"github.com/rotisserie/eris"
)

// DefaultMaxDepth bounds how deeply embedded messages are followed.
const DefaultMaxDepth = 16

// ErrDepthExceeded is logged when an embedded message is skipped because
// it is nested deeper than the configured limit.
var ErrDepthExceeded = eris.New("embedded message nesting too deep")

// Parser decodes .msg containers. It holds no per-parse state and may be
// shared between goroutines.
type Parser struct {
	logger   *slog.Logger
	router   *message.Router
	maxDepth int
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger used for skipped entries and decode failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// WithRouter replaces the property router.
func WithRouter(r *message.Router) Option {
	return func(p *Parser) { p.router = r }
}

// WithMaxDepth sets the embedded-message nesting limit.
func WithMaxDepth(n int) Option {
	return func(p *Parser) { p.maxDepth = n }
}

// New returns a parser.
func New(opts ...Option) *Parser {
	p := &Parser{maxDepth: DefaultMaxDepth}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.router == nil {
		p.router = message.NewRouter(p.logger)
	}
	if p.maxDepth <= 0 {
		p.maxDepth = DefaultMaxDepth
	}
	return p
}

// ParseFile opens and decodes a .msg file.
func (p *Parser) ParseFile(path string) (*message.Message, error) {
	root, err := container.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return p.Parse(root)
}

// ParseReader decodes a .msg container read fully from r.
func (p *Parser) ParseReader(r io.Reader) (*message.Message, error) {
	root, err := container.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return p.Parse(root)
}

// Parse decodes the container rooted at root. It fails only when the root
// entries cannot be listed; every other problem is logged and the entry
// skipped.
func (p *Parser) Parse(root container.Directory) (*message.Message, error) {
	entries, err := root.Entries()
	if err != nil {
		return nil, eris.Wrapf(err, "list entries of %q", root.Name())
	}
	m := message.New()
	p.walkEntries(entries, p.messageTarget(m), 0)
	m.Finish()
	return m, nil
}

// target receives the properties found while walking one node.
type target struct {
	// msg is set when the node is a message, so attachment and recipient
	// directories are recognised.
	msg   *message.Message
	apply func(mapi.Property)
}

func (p *Parser) messageTarget(m *message.Message) target {
	return target{msg: m, apply: func(prop mapi.Property) { p.router.Apply(m, prop) }}
}

func (p *Parser) walk(dir container.Directory, t target, depth int) {
	entries, err := dir.Entries()
	if err != nil {
		p.logger.Warn("skipping unreadable directory", "dir", dir.Name(), "error", err)
		return
	}
	p.walkEntries(entries, t, depth)
}

func (p *Parser) walkEntries(entries []container.Entry, t target, depth int) {
	for _, e := range entries {
		if !e.IsDir() {
			if err := p.document(e, t.apply); err != nil {
				p.logger.Warn("skipping entry", "entry", e.Name(), "error", err)
			}
			continue
		}

		dir, err := e.AsDirectory()
		if err != nil {
			p.logger.Warn("skipping directory", "entry", e.Name(), "error", err)
			continue
		}
		name := dir.Name()
		switch {
		case t.msg != nil && strings.HasPrefix(name, mapi.AttachDirPrefix):
			p.attachment(dir, t.msg, depth)
		case t.msg != nil && strings.HasPrefix(name, mapi.RecipDirPrefix):
			p.recipient(dir, t.msg, depth)
		default:
			p.walk(dir, t, depth)
		}
	}
}

// recipient builds one recipient from a __recip_version1.0 node.
func (p *Parser) recipient(dir container.Directory, m *message.Message, depth int) {
	rc := message.NewRecipient()
	p.walk(dir, target{apply: func(prop mapi.Property) { p.router.ApplyRecipient(rc, prop) }}, depth)
	m.AddRecipient(rc)
}

// attachment handles an __attach_version1.0 node. Documents describe a file
// attachment; a nested directory holds an embedded message.
func (p *Parser) attachment(dir container.Directory, m *message.Message, depth int) {
	entries, err := dir.Entries()
	if err != nil {
		p.logger.Warn("skipping unreadable attachment", "dir", dir.Name(), "error", err)
		return
	}

	att := message.NewFileAttachment()
	apply := func(prop mapi.Property) { p.router.ApplyAttachment(att, prop) }
	for _, e := range entries {
		if !e.IsDir() {
			if err := p.document(e, apply); err != nil {
				p.logger.Warn("skipping attachment entry", "entry", e.Name(), "error", err)
			}
			continue
		}

		if depth+1 > p.maxDepth {
			p.logger.Warn("skipping embedded message", "entry", e.Name(), "depth", depth+1, "error", ErrDepthExceeded)
			continue
		}
		sub, err := e.AsDirectory()
		if err != nil {
			p.logger.Warn("skipping embedded message", "entry", e.Name(), "error", err)
			continue
		}
		nested := message.New()
		m.AddAttachment(&message.MsgAttachment{Message: nested})
		p.walk(sub, p.messageTarget(nested), depth+1)
		nested.Finish()
	}

	if att.Size > -1 {
		m.AddAttachment(att)
	}
}

// document decodes one document entry and hands the result to apply.
// Properties streams are unpacked and each record routed in turn.
func (p *Parser) document(e container.Entry, apply func(mapi.Property)) error {
	if e.Name() == mapi.PropertiesStreamName {
		records, err := p.unpack(e)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := p.document(container.NewDoc(rec.Name, rec.Data), apply); err != nil {
				p.logger.Warn("skipping packed property", "entry", rec.Name, "error", err)
			}
		}
		return nil
	}

	id, ok := mapi.ParseEntryName(e.Name())
	if !ok {
		p.logger.Debug("ignoring entry", "entry", e.Name())
		return nil
	}
	value, err := p.decode(e, id.Type)
	if err != nil {
		return err
	}
	if value.IsZero() {
		return nil
	}
	apply(mapi.Property{Class: id.Class, Value: value, Size: e.Size()})
	return nil
}

func (p *Parser) unpack(e container.Entry) ([]mapi.StreamEntry, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "open %q", e.Name())
	}
	defer rc.Close()
	return mapi.UnpackPropertyStream(rc), nil
}

// decode reads and converts the entry payload. Unsupported types yield a
// zero Value and no error.
func (p *Parser) decode(e container.Entry, typ int) (mapi.Value, error) {
	rc, err := e.Open()
	if err != nil {
		return mapi.Value{}, eris.Wrapf(err, "open %q", e.Name())
	}
	defer rc.Close()

	v, err := mapi.DecodeReader(rc, typ)
	if eris.Is(err, mapi.ErrUnsupportedType) {
		p.logger.Debug("unsupported property type", "entry", e.Name(), "type", typ)
		return mapi.Value{}, nil
	}
	if err != nil {
		return mapi.Value{}, eris.Wrapf(err, "decode %q", e.Name())
	}
	return v, nil
}
