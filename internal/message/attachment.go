package message

import (
	"encoding/json"

	"github.com/eslider/msgparse/internal/mapi"
)

// Attachment is either a *FileAttachment or a *MsgAttachment.
type Attachment interface {
	// String names the attachment for listings.
	String() string
	isAttachment()
}

// Attachment kinds as reported in JSON.
const (
	KindFile    = "file"
	KindMessage = "message"
)

// FileAttachment is an attached file.
type FileAttachment struct {
	Filename     string `json:"filename,omitempty"`
	LongFilename string `json:"long_filename,omitempty"`
	MimeTag      string `json:"mime_tag,omitempty"`
	Extension    string `json:"extension,omitempty"`
	ContentID    string `json:"content_id,omitempty"`
	Method       int64  `json:"method,omitempty"`
	Data         []byte `json:"-"`
	// Size is the byte size of the data entry, -1 until one was seen.
	Size int64 `json:"size"`

	properties map[uint16]mapi.Value
}

// NewFileAttachment returns an attachment with no data seen yet.
func NewFileAttachment() *FileAttachment {
	return &FileAttachment{Size: -1, properties: make(map[uint16]mapi.Value)}
}

// Name returns the long filename if set, else the short one.
func (a *FileAttachment) Name() string {
	if a.LongFilename != "" {
		return a.LongFilename
	}
	return a.Filename
}

func (a *FileAttachment) String() string { return a.Name() }

func (a *FileAttachment) isAttachment() {}

// Property returns the last value routed for a class code.
func (a *FileAttachment) Property(code uint16) (mapi.Value, bool) {
	v, ok := a.properties[code]
	return v, ok
}

func (a *FileAttachment) MarshalJSON() ([]byte, error) {
	type plain FileAttachment
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{KindFile, (*plain)(a)})
}

// MsgAttachment is an embedded message.
type MsgAttachment struct {
	Message *Message `json:"message"`
}

func (a *MsgAttachment) String() string {
	if a.Message == nil {
		return ""
	}
	return a.Message.String()
}

func (a *MsgAttachment) isAttachment() {}

func (a *MsgAttachment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string   `json:"type"`
		Message *Message `json:"message"`
	}{KindMessage, a.Message})
}
