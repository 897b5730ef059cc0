package message

import (
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eslider/msgparse/internal/mapi"
	"github.com/eslider/msgparse/internal/rtf"
)

// HTMLConverter turns decompressed RTF into HTML.
type HTMLConverter func(rtf string) (string, error)

// Router maps decoded properties onto message, recipient and attachment
// fields. A zero Router is not usable; build one with NewRouter.
type Router struct {
	logger     *slog.Logger
	decompress func([]byte) ([]byte, error)
	toHTML     HTMLConverter
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDecompressor replaces the compressed-RTF codec.
func WithDecompressor(fn func([]byte) ([]byte, error)) RouterOption {
	return func(r *Router) { r.decompress = fn }
}

// WithHTMLConverter replaces the RTF-to-HTML converter.
func WithHTMLConverter(fn HTMLConverter) RouterOption {
	return func(r *Router) { r.toHTML = fn }
}

// NewRouter returns a router logging to logger (slog.Default when nil).
func NewRouter(logger *slog.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		logger:     logger,
		decompress: rtf.Decompress,
		toHTML:     func(s string) (string, error) { return rtf.ToHTML(s), nil },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type messageField func(r *Router, m *Message, v mapi.Value)

// messageFields is the class-code table for message-level properties.
var messageFields = map[uint16]messageField{
	mapi.ClassMessageClass:      setMessageClass,
	mapi.ClassInternetMessageID: setMessageID,
	mapi.ClassSubject:           setSubject,
	mapi.ClassNormalizedSubject: setSubject,
	mapi.ClassSenderEmail:       setFromEmail,
	mapi.ClassSentReprEmail:     setFromEmail,
	mapi.ClassLastModifierName:  setFromEmail,
	0x800d:                      setFromEmail,
	0x8008:                      setFromEmail,
	mapi.ClassSentReprName:      setFromName,
	mapi.ClassReceivedByEmail:   forceToEmail,
	0x8000:                      setToEmail,
	mapi.ClassDisplayName:       setToName,
	mapi.ClassDisplayTo:         setDisplayTo,
	mapi.ClassDisplayCc:         setDisplayCc,
	mapi.ClassDisplayBcc:        setDisplayBcc,
	mapi.ClassBodyHTML:          setBodyHTML,
	mapi.ClassBody:              setBodyText,
	mapi.ClassRTFCompressed:     (*Router).setBodyRTF,
	mapi.ClassTransportHeaders:  setHeaders,
	mapi.ClassCreationTime:      setCreationTime,
	mapi.ClassLastModifiedTime:  setLastModifiedTime,
	mapi.ClassClientSubmitTime:  setClientSubmitTime,
}

func setMessageClass(_ *Router, m *Message, v mapi.Value) { setFirst(&m.MessageClass, v.String()) }
func setMessageID(_ *Router, m *Message, v mapi.Value)    { setFirst(&m.MessageID, v.String()) }
func setSubject(_ *Router, m *Message, v mapi.Value)      { setFirst(&m.Subject, v.String()) }
func setFromEmail(_ *Router, m *Message, v mapi.Value)    { setEmail(&m.FromEmail, v.String(), false) }
func setFromName(_ *Router, m *Message, v mapi.Value)     { setFirst(&m.FromName, v.String()) }
func forceToEmail(_ *Router, m *Message, v mapi.Value)    { setEmail(&m.ToEmail, v.String(), true) }
func setToEmail(_ *Router, m *Message, v mapi.Value)      { setEmail(&m.ToEmail, v.String(), false) }
func setToName(_ *Router, m *Message, v mapi.Value)       { setFirst(&m.ToName, strings.TrimSpace(v.String())) }
func setDisplayTo(_ *Router, m *Message, v mapi.Value)    { m.DisplayTo = v.String() }
func setDisplayCc(_ *Router, m *Message, v mapi.Value)    { m.DisplayCc = v.String() }
func setDisplayBcc(_ *Router, m *Message, v mapi.Value)   { m.DisplayBcc = v.String() }
func setBodyHTML(_ *Router, m *Message, v mapi.Value)     { setLonger(&m.BodyHTML, v.String()) }
func setBodyText(_ *Router, m *Message, v mapi.Value)     { setFirst(&m.BodyText, v.String()) }

func setCreationTime(_ *Router, m *Message, v mapi.Value) { setFirstTime(&m.CreationDate, v) }

func setLastModifiedTime(_ *Router, m *Message, v mapi.Value) {
	setFirstTime(&m.LastModificationDate, v)
}

func setClientSubmitTime(_ *Router, m *Message, v mapi.Value) {
	setFirstTime(&m.ClientSubmitTime, v)
}

// setHeaders stores the transport headers and seeds the date and sender
// from them when those are still unknown.
func setHeaders(_ *Router, m *Message, v mapi.Value) {
	if m.Headers != "" {
		return
	}
	m.Headers = v.String()
	if m.Date.IsZero() {
		m.Date = DateFromHeaders(m.Headers)
	}
	if m.FromEmail == "" {
		setEmail(&m.FromEmail, FromEmailFromHeaders(m.Headers), false)
	}
}

type recipientField func(rc *Recipient, v mapi.Value)

var recipientFields = map[uint16]recipientField{
	mapi.ClassDisplayName:   setRecipientName,
	mapi.ClassSMTPAddress:   forceRecipientEmail,
	mapi.ClassEmailAddress:  setRecipientEmail,
	mapi.ClassRecipientType: setRecipientType,
}

func setRecipientName(rc *Recipient, v mapi.Value)    { setFirst(&rc.Name, strings.TrimSpace(v.String())) }
func forceRecipientEmail(rc *Recipient, v mapi.Value) { setEmail(&rc.Email, v.String(), true) }
func setRecipientEmail(rc *Recipient, v mapi.Value)   { setEmail(&rc.Email, v.String(), false) }

func setRecipientType(rc *Recipient, v mapi.Value) {
	if v.Kind == mapi.KindInteger {
		rc.Type = RecipientType(v.Integer)
	}
}

type attachmentField func(a *FileAttachment, p mapi.Property)

var attachmentFields = map[uint16]attachmentField{
	mapi.ClassAttachDataObj:      setAttachData,
	mapi.ClassAttachFilename:     func(a *FileAttachment, p mapi.Property) { a.Filename = p.Value.String() },
	mapi.ClassAttachLongFilename: func(a *FileAttachment, p mapi.Property) { a.LongFilename = p.Value.String() },
	mapi.ClassAttachMimeTag:      func(a *FileAttachment, p mapi.Property) { a.MimeTag = p.Value.String() },
	mapi.ClassAttachExtension:    func(a *FileAttachment, p mapi.Property) { a.Extension = p.Value.String() },
	mapi.ClassAttachContentID:    func(a *FileAttachment, p mapi.Property) { a.ContentID = p.Value.String() },
	mapi.ClassAttachMethod:       setAttachMethod,
}

func setAttachData(a *FileAttachment, p mapi.Property) {
	if p.Value.Kind != mapi.KindBinary {
		return
	}
	a.Data = p.Value.Bytes
	a.Size = p.Size
}

func setAttachMethod(a *FileAttachment, p mapi.Property) {
	if p.Value.Kind == mapi.KindInteger {
		a.Method = p.Value.Integer
	}
}

// Apply routes a message-level property. Every property is kept in the
// message's property map whether or not a field claims it.
func (r *Router) Apply(m *Message, p mapi.Property) {
	code, ok := r.code(p)
	if !ok {
		return
	}
	if set, ok := messageFields[code]; ok {
		set(r, m, p.Value)
	}
	if m.properties == nil {
		m.properties = make(map[uint16]mapi.Value)
	}
	m.properties[code] = p.Value
	m.reconcileTo()
}

// ApplyRecipient routes a property found under a recipient node.
func (r *Router) ApplyRecipient(rc *Recipient, p mapi.Property) {
	code, ok := r.code(p)
	if !ok {
		return
	}
	if set, ok := recipientFields[code]; ok {
		set(rc, p.Value)
	}
	if rc.properties == nil {
		rc.properties = make(map[uint16]mapi.Value)
	}
	rc.properties[code] = p.Value
}

// ApplyAttachment routes a property found under an attachment node.
func (r *Router) ApplyAttachment(a *FileAttachment, p mapi.Property) {
	code, ok := r.code(p)
	if !ok {
		return
	}
	if set, ok := attachmentFields[code]; ok {
		set(a, p)
	}
	if a.properties == nil {
		a.properties = make(map[uint16]mapi.Value)
	}
	a.properties[code] = p.Value
}

func (r *Router) code(p mapi.Property) (uint16, bool) {
	if p.Value.IsZero() {
		return 0, false
	}
	code, ok := p.Code()
	if !ok {
		r.logger.Debug("skipping property with malformed class", "class", p.Class)
	}
	return code, ok
}

func (r *Router) setBodyRTF(m *Message, v mapi.Value) {
	if m.BodyRTF != "" {
		return
	}
	if v.Kind != mapi.KindBinary {
		r.logger.Debug("compressed RTF is not binary", "kind", v.Kind)
		return
	}
	raw, err := r.decompress(v.Bytes)
	if err != nil {
		r.logger.Warn("decompress RTF body", "error", err)
		return
	}
	m.BodyRTF = mapi.Binary(raw).String()
	html, err := r.toHTML(m.BodyRTF)
	if err != nil {
		r.logger.Warn("convert RTF body to HTML", "error", err)
		return
	}
	m.ConvertedBodyHTML = html
}

// setFirst writes v into an unset field.
func setFirst(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// setEmail writes addresses containing '@'; without force only into an
// unset field.
func setEmail(dst *string, v string, force bool) {
	if (force || *dst == "") && strings.Contains(v, "@") {
		*dst = v
	}
}

// setLonger always writes unless the stored value is longer.
func setLonger(dst *string, v string) {
	if utf8.RuneCountInString(*dst) > utf8.RuneCountInString(v) {
		return
	}
	*dst = v
}

func setFirstTime(dst *time.Time, v mapi.Value) {
	if !dst.IsZero() {
		return
	}
	switch v.Kind {
	case mapi.KindTime:
		*dst = v.Time
	case mapi.KindText:
		*dst = ParseDateString(v.Text)
	}
}
