// Package message holds the semantic model assembled from decoded MAPI
// properties: the message itself, its recipients and its attachments.
package message

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eslider/msgparse/internal/mapi"
)

// DefaultMessageClass is assumed when no PR_MESSAGE_CLASS was found.
const DefaultMessageClass = "IPM.Note"

// summaryDateLayout renders the Date line of String and LongString.
const summaryDateLayout = "Mon, 2 Jan 2006 15:04:05 MST"

// Message is one decoded .msg container (or an embedded message inside one).
type Message struct {
	MessageClass string `json:"message_class"`
	MessageID    string `json:"message_id,omitempty"`

	FromEmail string `json:"from_email,omitempty"`
	FromName  string `json:"from_name,omitempty"`
	ToEmail   string `json:"to_email,omitempty"`
	ToName    string `json:"to_name,omitempty"`

	DisplayTo  string `json:"display_to,omitempty"`
	DisplayCc  string `json:"display_cc,omitempty"`
	DisplayBcc string `json:"display_bcc,omitempty"`

	Subject           string `json:"subject,omitempty"`
	BodyText          string `json:"body_text,omitempty"`
	BodyRTF           string `json:"body_rtf,omitempty"`
	BodyHTML          string `json:"body_html,omitempty"`
	ConvertedBodyHTML string `json:"converted_body_html,omitempty"`
	Headers           string `json:"headers,omitempty"`

	Date                 time.Time `json:"date,omitzero"`
	ClientSubmitTime     time.Time `json:"client_submit_time,omitzero"`
	CreationDate         time.Time `json:"creation_date,omitzero"`
	LastModificationDate time.Time `json:"last_modification_date,omitzero"`

	Recipients  []*Recipient `json:"recipients"`
	Attachments []Attachment `json:"attachments"`

	properties map[uint16]mapi.Value
}

// New returns an empty message.
func New() *Message {
	return &Message{
		Recipients:  []*Recipient{},
		Attachments: []Attachment{},
		properties:  make(map[uint16]mapi.Value),
	}
}

// RecipientType is PR_RECIPIENT_TYPE.
type RecipientType int64

const (
	RecipientTo  RecipientType = 1
	RecipientCc  RecipientType = 2
	RecipientBcc RecipientType = 3
)

func (t RecipientType) String() string {
	switch t {
	case RecipientTo:
		return "to"
	case RecipientCc:
		return "cc"
	case RecipientBcc:
		return "bcc"
	default:
		return ""
	}
}

// Recipient is one __recip_version1.0 node.
type Recipient struct {
	Name  string        `json:"name,omitempty"`
	Email string        `json:"email,omitempty"`
	Type  RecipientType `json:"type,omitempty"`

	properties map[uint16]mapi.Value
}

// NewRecipient returns an empty recipient.
func NewRecipient() *Recipient {
	return &Recipient{properties: make(map[uint16]mapi.Value)}
}

// Property returns the last value routed for a class code.
func (r *Recipient) Property(code uint16) (mapi.Value, bool) {
	v, ok := r.properties[code]
	return v, ok
}

// String renders the recipient as an address.
func (r *Recipient) String() string {
	return FormatAddress(r.Email, r.Name)
}

// AddAttachment appends an attachment in discovery order.
func (m *Message) AddAttachment(a Attachment) {
	m.Attachments = append(m.Attachments, a)
}

// AddRecipient appends r and uses it as the to-address when none is known
// yet.
func (m *Message) AddRecipient(r *Recipient) {
	m.Recipients = append(m.Recipients, r)
	if m.ToEmail == "" {
		setEmail(&m.ToEmail, r.Email, false)
	}
	if m.ToName == "" {
		m.ToName = strings.TrimSpace(r.Name)
	}
	m.reconcileTo()
}

// ToRecipient returns the first recipient whose name occurs in DisplayTo.
func (m *Message) ToRecipient() *Recipient {
	i := m.findByDisplay(m.DisplayTo)
	if i < 0 {
		return nil
	}
	return m.Recipients[i]
}

// CcRecipients returns recipients whose name occurs in DisplayCc.
func (m *Message) CcRecipients() []*Recipient {
	return m.filterByDisplay(m.DisplayCc)
}

// BccRecipients returns recipients whose name occurs in DisplayBcc.
func (m *Message) BccRecipients() []*Recipient {
	return m.filterByDisplay(m.DisplayBcc)
}

func (m *Message) findByDisplay(display string) int {
	key := strings.TrimSpace(display)
	if key == "" {
		return -1
	}
	for i, r := range m.Recipients {
		name := strings.TrimSpace(r.Name)
		if name != "" && strings.Contains(key, name) {
			return i
		}
	}
	return -1
}

func (m *Message) filterByDisplay(display string) []*Recipient {
	key := strings.TrimSpace(display)
	var out []*Recipient
	if key == "" {
		return out
	}
	for _, r := range m.Recipients {
		name := strings.TrimSpace(r.Name)
		if name != "" && strings.Contains(key, name) {
			out = append(out, r)
		}
	}
	return out
}

// reconcileTo moves the display-to recipient to the front and forces the
// message's to-address from it.
func (m *Message) reconcileTo() {
	i := m.findByDisplay(m.DisplayTo)
	if i < 0 {
		return
	}
	r := m.Recipients[i]
	setEmail(&m.ToEmail, r.Email, true)
	m.ToName = strings.TrimSpace(r.Name)
	if i > 0 {
		copy(m.Recipients[1:i+1], m.Recipients[:i])
		m.Recipients[0] = r
	}
}

// Finish applies defaults once the walk of the message is complete.
func (m *Message) Finish() {
	if m.MessageClass == "" {
		m.MessageClass = DefaultMessageClass
	}
	if m.Date.IsZero() {
		switch {
		case !m.ClientSubmitTime.IsZero():
			m.Date = m.ClientSubmitTime
		case !m.CreationDate.IsZero():
			m.Date = m.CreationDate
		}
	}
	m.reconcileTo()
}

// Property returns the last value routed for a class code.
func (m *Message) Property(code uint16) (mapi.Value, bool) {
	v, ok := m.properties[code]
	return v, ok
}

// PropertyHex looks a property up by its hex class string.
func (m *Message) PropertyHex(class string) (mapi.Value, bool) {
	code, ok := mapi.ParseClass(class)
	if !ok {
		return mapi.Value{}, false
	}
	return m.Property(code)
}

// PropertyCodes lists the class codes seen, ascending.
func (m *Message) PropertyCodes() []uint16 {
	codes := make([]uint16, 0, len(m.properties))
	for c := range m.properties {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// PropertyListing renders every stored property, one per line.
func (m *Message) PropertyListing() string {
	var sb strings.Builder
	for _, c := range m.PropertyCodes() {
		fmt.Fprintf(&sb, "0x%04x / %d: %s\n", c, c, m.properties[c].String())
	}
	return sb.String()
}

// FileAttachments returns the file attachments in order.
func (m *Message) FileAttachments() []*FileAttachment {
	var out []*FileAttachment
	for _, a := range m.Attachments {
		if f, ok := a.(*FileAttachment); ok {
			out = append(out, f)
		}
	}
	return out
}

// HTML returns the native HTML body, or the one converted from RTF.
func (m *Message) HTML() string {
	if m.BodyHTML != "" {
		return m.BodyHTML
	}
	return m.ConvertedBodyHTML
}

// String renders the short From/To/Date/Subject summary.
func (m *Message) String() string {
	var sb strings.Builder
	m.writeHeader(&sb)
	fmt.Fprintf(&sb, "%d attachments.", len(m.Attachments))
	return sb.String()
}

// LongString is String with the body text and one line per attachment.
func (m *Message) LongString() string {
	var sb strings.Builder
	m.writeHeader(&sb)
	sb.WriteString("\n")
	sb.WriteString(m.BodyText)
	if len(m.Attachments) > 0 {
		fmt.Fprintf(&sb, "\n%d attachments.\n", len(m.Attachments))
		for _, a := range m.Attachments {
			sb.WriteString(a.String())
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (m *Message) writeHeader(sb *strings.Builder) {
	fmt.Fprintf(sb, "From: %s\n", FormatAddress(m.FromEmail, m.FromName))
	fmt.Fprintf(sb, "To: %s\n", FormatAddress(m.ToEmail, m.ToName))
	if !m.Date.IsZero() {
		fmt.Fprintf(sb, "Date: %s\n", m.Date.Format(summaryDateLayout))
	}
	if m.Subject != "" {
		fmt.Fprintf(sb, "Subject: %s\n", m.Subject)
	}
}

// FormatAddress renders an address as `"name" <email>`, falling back to
// whichever part is present.
func FormatAddress(email, name string) string {
	switch {
	case email == "":
		return name
	case name == "", strings.EqualFold(email, name):
		return email
	default:
		return fmt.Sprintf("\"%s\" <%s>", name, email)
	}
}
