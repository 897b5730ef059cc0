// Package mapi decodes MAPI properties stored in Outlook .msg containers.
//
// A .msg file is a compound-file tree. Every property of a message, recipient
// or attachment lives in a document entry named "__substg1.0_CCCCTTTT", where
// CCCC is the property class (the field) and TTTT the property type (its
// binary encoding). Small fixed-width properties are packed back-to-back in a
// "__properties_version1.0" stream instead.
package mapi

import "github.com/rotisserie/eris"

// Entry names with a fixed meaning inside a .msg container.
const (
	EntryPrefix          = "__substg1.0_"
	PropertiesStreamName = "__properties_version1.0"
	AttachDirPrefix      = "__attach_version1.0"
	RecipDirPrefix       = "__recip_version1.0"
)

// Property types (PtypXxx in MS-OXCDATA).
const (
	PtypUnspecified  = 0x0000
	PtypInteger16    = 0x0002
	PtypInteger32    = 0x0003
	PtypFloating32   = 0x0004
	PtypFloating64   = 0x0005
	PtypCurrency     = 0x0006
	PtypFloatingTime = 0x0007
	PtypErrorCode    = 0x000A
	PtypBoolean      = 0x000B
	PtypObject       = 0x000D
	PtypInteger64    = 0x0014
	PtypString8      = 0x001E
	PtypString       = 0x001F
	PtypTime         = 0x0040
	PtypGUID         = 0x0048
	PtypBinary       = 0x0102
)

// Property classes routed by the message model.
const (
	ClassMessageClass       = 0x001A // PR_MESSAGE_CLASS
	ClassSubject            = 0x0037 // PR_SUBJECT
	ClassClientSubmitTime   = 0x0039 // PR_CLIENT_SUBMIT_TIME
	ClassSentReprName       = 0x0042 // PR_SENT_REPRESENTING_NAME
	ClassSentReprEmail      = 0x0065 // PR_SENT_REPRESENTING_EMAIL_ADDRESS
	ClassReceivedByEmail    = 0x0076 // PR_RECEIVED_BY_EMAIL_ADDRESS
	ClassTransportHeaders   = 0x007D // PR_TRANSPORT_MESSAGE_HEADERS
	ClassRecipientType      = 0x0C15 // PR_RECIPIENT_TYPE
	ClassSenderEmail        = 0x0C1F // PR_SENDER_EMAIL_ADDRESS
	ClassDisplayBcc         = 0x0E02 // PR_DISPLAY_BCC
	ClassDisplayCc          = 0x0E03 // PR_DISPLAY_CC
	ClassDisplayTo          = 0x0E04 // PR_DISPLAY_TO
	ClassDeliveryTime       = 0x0E06 // PR_MESSAGE_DELIVERY_TIME
	ClassNormalizedSubject  = 0x0E1D // PR_NORMALIZED_SUBJECT
	ClassBody               = 0x1000 // PR_BODY
	ClassRTFCompressed      = 0x1009 // PR_RTF_COMPRESSED
	ClassBodyHTML           = 0x1013 // PR_BODY_HTML
	ClassInternetMessageID  = 0x1035 // PR_INTERNET_MESSAGE_ID
	ClassDisplayName        = 0x3001 // PR_DISPLAY_NAME
	ClassEmailAddress       = 0x3003 // PR_EMAIL_ADDRESS
	ClassCreationTime       = 0x3007 // PR_CREATION_TIME
	ClassLastModifiedTime   = 0x3008 // PR_LAST_MODIFICATION_TIME
	ClassAttachDataObj      = 0x3701 // PR_ATTACH_DATA_BIN / PR_ATTACH_DATA_OBJ
	ClassAttachExtension    = 0x3703 // PR_ATTACH_EXTENSION
	ClassAttachFilename     = 0x3704 // PR_ATTACH_FILENAME
	ClassAttachMethod       = 0x3705 // PR_ATTACH_METHOD
	ClassAttachLongFilename = 0x3707 // PR_ATTACH_LONG_FILENAME
	ClassAttachMimeTag      = 0x370E // PR_ATTACH_MIME_TAG
	ClassAttachContentID    = 0x3712 // PR_ATTACH_CONTENT_ID
	ClassSMTPAddress        = 0x39FE // PR_SMTP_ADDRESS
	ClassLastModifierName   = 0x3FFA // PR_LAST_MODIFIER_NAME
)

var (
	// ErrUnsupportedType is returned by Decode for property types it has no
	// representation for.
	ErrUnsupportedType = eris.New("unsupported property type")

	// ErrShortValue is returned when a fixed-width payload is truncated.
	ErrShortValue = eris.New("property value too short")
)

// Property is one decoded property: the unit handed from decoding to the
// message model.
type Property struct {
	Class string // four lowercase hex digits
	Value Value
	Size  int64 // byte size of the entry the value was read from
}

// Code returns the class as an integer, or false if it is not valid hex.
func (p Property) Code() (uint16, bool) {
	return ParseClass(p.Class)
}
