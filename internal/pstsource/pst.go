// Package pstsource reads Outlook personal storage (.pst/.ost) files and
// assembles every mail item into a message.Message, routed through the same
// property table as .msg files.
package pstsource

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	charsets "github.com/emersion/go-message/charset"
	"github.com/mooijtech/go-pst/v6/pkg"
	"github.com/mooijtech/go-pst/v6/pkg/properties"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"

	"github.com/eslider/msgparse/internal/export"
	"github.com/eslider/msgparse/internal/mapi"
	"github.com/eslider/msgparse/internal/message"
)

func init() {
	// Register extended charsets for go-pst.
	pst.ExtendCharsets(func(name string, enc encoding.Encoding) {
		charsets.RegisterEncoding(name, enc)
	})
}

// Stats counts what a walk produced.
type Stats struct {
	Messages int `json:"messages"`
	// Skipped counts non-mail items (appointments, contacts) and messages
	// the callback could not handle.
	Skipped int `json:"skipped"`
}

// WalkFunc receives each assembled message with the name of its folder.
// Returning an error stops the walk.
type WalkFunc func(folder string, m *message.Message) error

// ProgressFunc receives progress updates during an export.
type ProgressFunc func(phase string, current int)

// Source walks PST files.
type Source struct {
	router *message.Router
	logger *slog.Logger
}

// New returns a source routing properties through router.
func New(router *message.Router, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if router == nil {
		router = message.NewRouter(logger)
	}
	return &Source{router: router, logger: logger}
}

// Walk opens the PST at path and calls fn for every mail item.
func (s *Source) Walk(path string, fn WalkFunc) (Stats, error) {
	var stats Stats

	f, err := os.Open(path)
	if err != nil {
		return stats, eris.Wrap(err, "open PST")
	}
	defer f.Close()

	pstFile, err := pst.New(f)
	if err != nil {
		return stats, eris.Wrap(err, "parse PST")
	}
	defer pstFile.Cleanup()

	err = pstFile.WalkFolders(func(folder *pst.Folder) error {
		iter, err := folder.GetMessageIterator()
		if eris.Is(err, pst.ErrMessagesNotFound) {
			return nil
		} else if err != nil {
			s.logger.Warn("skipping PST folder", "folder", folder.Name, "error", err)
			return nil
		}

		for iter.Next() {
			msg := iter.Value()
			props, ok := msg.Properties.(*properties.Message)
			if !ok {
				stats.Skipped++
				continue
			}
			m := s.Assemble(props)
			s.attachments(msg, m)
			if err := fn(folder.Name, m); err != nil {
				return err
			}
			stats.Messages++
		}
		if iter.Err() != nil {
			s.logger.Warn("PST message iterator", "folder", folder.Name, "error", iter.Err())
		}
		return nil
	})
	return stats, eris.Wrap(err, "walk PST")
}

// mailProperties is the subset of the go-pst message getters that map onto
// routed property classes.
type mailProperties interface {
	GetSubject() string
	GetSenderName() string
	GetSenderEmailAddress() string
	GetDisplayTo() string
	GetDisplayCc() string
	GetBody() string
	GetBodyHtml() string
	GetTransportMessageHeaders() string
	GetInternetMessageId() string
	GetClientSubmitTime() int64
	GetMessageDeliveryTime() int64
}

// Assemble routes the properties of one PST message into a new message and
// finishes it.
func (s *Source) Assemble(p mailProperties) *message.Message {
	m := message.New()
	for _, prop := range propertiesOf(p) {
		s.router.Apply(m, prop)
	}
	m.Finish()
	return m
}

func propertiesOf(p mailProperties) []mapi.Property {
	var out []mapi.Property
	text := func(code uint16, v string) {
		if v != "" {
			out = append(out, mapi.Property{Class: mapi.ClassString(code), Value: mapi.Text(v), Size: int64(len(v))})
		}
	}
	unix := func(code uint16, secs int64) {
		if secs > 0 {
			out = append(out, mapi.Property{Class: mapi.ClassString(code), Value: mapi.Timestamp(time.Unix(secs, 0).UTC()), Size: 8})
		}
	}

	text(mapi.ClassSubject, p.GetSubject())
	text(mapi.ClassSentReprName, p.GetSenderName())
	text(mapi.ClassSenderEmail, p.GetSenderEmailAddress())
	text(mapi.ClassDisplayTo, p.GetDisplayTo())
	text(mapi.ClassDisplayCc, p.GetDisplayCc())
	text(mapi.ClassBody, p.GetBody())
	text(mapi.ClassBodyHTML, p.GetBodyHtml())
	text(mapi.ClassTransportHeaders, p.GetTransportMessageHeaders())
	text(mapi.ClassInternetMessageID, p.GetInternetMessageId())
	unix(mapi.ClassClientSubmitTime, p.GetClientSubmitTime())
	unix(mapi.ClassDeliveryTime, p.GetMessageDeliveryTime())
	return out
}

func (s *Source) attachments(msg *pst.Message, m *message.Message) {
	iter, err := msg.GetAttachmentIterator()
	if eris.Is(err, pst.ErrAttachmentsNotFound) {
		return
	} else if err != nil {
		s.logger.Warn("skipping PST attachments", "subject", m.Subject, "error", err)
		return
	}

	for iter.Next() {
		a := iter.Value()
		att := message.NewFileAttachment()
		apply := func(code uint16, v mapi.Value, size int64) {
			s.router.ApplyAttachment(att, mapi.Property{Class: mapi.ClassString(code), Value: v, Size: size})
		}
		if name := a.GetAttachLongFilename(); name != "" {
			apply(mapi.ClassAttachLongFilename, mapi.Text(name), int64(len(name)))
		}
		if name := a.GetAttachFilename(); name != "" {
			apply(mapi.ClassAttachFilename, mapi.Text(name), int64(len(name)))
		}

		var buf bytes.Buffer
		if _, err := a.WriteTo(&buf); err != nil {
			s.logger.Warn("skipping PST attachment", "name", att.Name(), "error", err)
			continue
		}
		apply(mapi.ClassAttachDataObj, mapi.Binary(buf.Bytes()), int64(buf.Len()))
		if att.Size > -1 {
			m.AddAttachment(att)
		}
	}
	if iter.Err() != nil {
		s.logger.Warn("PST attachment iterator", "subject", m.Subject, "error", iter.Err())
	}
}

// ExportEML writes every mail item of the PST at path as .eml into
// outDir/<folder>/, preserving message dates as file times.
func (s *Source) ExportEML(path, outDir string, onProgress ProgressFunc) (Stats, error) {
	if onProgress == nil {
		onProgress = func(string, int) {}
	}
	written := 0
	failed := 0
	onProgress("extracting", 0)

	stats, err := s.Walk(path, func(folder string, m *message.Message) error {
		dir := filepath.Join(outDir, SanitizeFolderName(folder))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", dir)
		}

		data, err := export.EML(m)
		if err != nil {
			s.logger.Warn("render message", "subject", m.Subject, "error", err)
			failed++
			return nil
		}
		file := filepath.Join(dir, fmt.Sprintf("%s-%d.eml", contentChecksum(data), written))
		if err := os.WriteFile(file, data, 0o644); err != nil {
			s.logger.Warn("write message", "path", file, "error", err)
			failed++
			return nil
		}
		if !m.Date.IsZero() {
			os.Chtimes(file, m.Date, m.Date)
		}

		written++
		if written%100 == 0 {
			onProgress("extracting", written)
		}
		return nil
	})
	stats.Messages -= failed
	stats.Skipped += failed
	onProgress("done", written)
	return stats, err
}

func contentChecksum(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// SanitizeFolderName maps a PST folder name onto a directory name.
func SanitizeFolderName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		return "other"
	}
	if len(name) > 60 {
		name = name[:60]
	}
	return name
}
