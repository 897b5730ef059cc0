// Package export renders parsed messages as RFC 822 (.eml) files and writes
// their attachments into an object store.
package export

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"

	"github.com/eslider/msgparse/internal/message"
)

// WriteEML renders m as a multipart/mixed message: the text and HTML bodies
// as an alternative inline part, file attachments with their MIME tag and
// embedded messages as message/rfc822 parts.
func WriteEML(w io.Writer, m *message.Message) error {
	mw, err := mail.CreateWriter(w, headerOf(m))
	if err != nil {
		return eris.Wrap(err, "create eml writer")
	}
	if err := writeBodies(mw, m); err != nil {
		return err
	}
	for i, a := range m.Attachments {
		if err := writeAttachment(mw, i, a); err != nil {
			return err
		}
	}
	return eris.Wrap(mw.Close(), "close eml writer")
}

// EML returns the rendered message.
func EML(m *message.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteEML(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func headerOf(m *message.Message) mail.Header {
	var h mail.Header
	if !m.Date.IsZero() {
		h.SetDate(m.Date)
	}
	h.SetSubject(m.Subject)
	if id := strings.Trim(strings.TrimSpace(m.MessageID), "<>"); id != "" {
		h.SetMessageID(id)
	}
	if m.FromEmail != "" {
		h.SetAddressList("From", []*mail.Address{{Name: m.FromName, Address: m.FromEmail}})
	}

	to, cc, bcc := addressLists(m)
	if len(to) > 0 {
		h.SetAddressList("To", to)
	}
	if len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	if len(bcc) > 0 {
		h.SetAddressList("Bcc", bcc)
	}
	return h
}

// addressLists sorts recipients by their recipient type, falling back to the
// display-cc/bcc strings for recipients without one. Recipients without an
// SMTP address are left out.
func addressLists(m *message.Message) (to, cc, bcc []*mail.Address) {
	inCc := make(map[*message.Recipient]bool)
	for _, r := range m.CcRecipients() {
		inCc[r] = true
	}
	inBcc := make(map[*message.Recipient]bool)
	for _, r := range m.BccRecipients() {
		inBcc[r] = true
	}

	for _, r := range m.Recipients {
		if !strings.Contains(r.Email, "@") {
			continue
		}
		addr := &mail.Address{Name: r.Name, Address: r.Email}
		switch {
		case r.Type == message.RecipientCc, r.Type == 0 && inCc[r]:
			cc = append(cc, addr)
		case r.Type == message.RecipientBcc, r.Type == 0 && inBcc[r]:
			bcc = append(bcc, addr)
		default:
			to = append(to, addr)
		}
	}
	if len(to) == 0 && m.ToEmail != "" {
		to = append(to, &mail.Address{Name: m.ToName, Address: m.ToEmail})
	}
	return to, cc, bcc
}

func writeBodies(mw *mail.Writer, m *message.Message) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return eris.Wrap(err, "create inline part")
	}
	html := m.HTML()
	if m.BodyText != "" || html == "" {
		if err := writeInline(iw, "text/plain", m.BodyText); err != nil {
			return err
		}
	}
	if html != "" {
		if err := writeInline(iw, "text/html", html); err != nil {
			return err
		}
	}
	return eris.Wrap(iw.Close(), "close inline part")
}

func writeInline(iw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(h)
	if err != nil {
		return eris.Wrapf(err, "create %s part", contentType)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		pw.Close()
		return eris.Wrapf(err, "write %s part", contentType)
	}
	return eris.Wrapf(pw.Close(), "close %s part", contentType)
}

func writeAttachment(mw *mail.Writer, index int, a message.Attachment) error {
	var h mail.AttachmentHeader
	var write func(io.Writer) error

	switch a := a.(type) {
	case *message.FileAttachment:
		contentType := a.MimeTag
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.SetContentType(contentType, nil)
		h.SetFilename(AttachmentName(a, index))
		if a.ContentID != "" {
			h.Set("Content-Id", "<"+strings.Trim(a.ContentID, "<>")+">")
		}
		write = func(w io.Writer) error {
			_, err := w.Write(a.Data)
			return err
		}
	case *message.MsgAttachment:
		if a.Message == nil {
			return nil
		}
		h.SetContentType("message/rfc822", nil)
		h.SetFilename(EmbeddedName(a.Message, index))
		h.Set("Content-Transfer-Encoding", "8bit")
		write = func(w io.Writer) error { return WriteEML(w, a.Message) }
	default:
		return nil
	}

	pw, err := mw.CreateAttachment(h)
	if err != nil {
		return eris.Wrapf(err, "create attachment %d", index)
	}
	if err := write(pw); err != nil {
		pw.Close()
		return eris.Wrapf(err, "write attachment %d", index)
	}
	return eris.Wrapf(pw.Close(), "close attachment %d", index)
}
