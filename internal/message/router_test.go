package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/eslider/msgparse/internal/mapi"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func text(class, s string) mapi.Property {
	return mapi.Property{Class: class, Value: mapi.Text(s), Size: int64(len(s))}
}

func TestFirstWriteWins(t *testing.T) {
	fields := []struct {
		class string
		get   func(*Message) string
	}{
		{"001a", func(m *Message) string { return m.MessageClass }},
		{"1035", func(m *Message) string { return m.MessageID }},
		{"0037", func(m *Message) string { return m.Subject }},
		{"0e1d", func(m *Message) string { return m.Subject }},
		{"0042", func(m *Message) string { return m.FromName }},
		{"1000", func(m *Message) string { return m.BodyText }},
		{"3001", func(m *Message) string { return m.ToName }},
	}
	r := NewRouter(quietLogger())
	for _, f := range fields {
		t.Run(f.class, func(t *testing.T) {
			m := New()
			r.Apply(m, text(f.class, "first"))
			r.Apply(m, text(f.class, "second"))
			if got := f.get(m); got != "first" {
				t.Errorf("got %q, want first", got)
			}
		})
	}
}

func TestSubjectAliases(t *testing.T) {
	r := NewRouter(quietLogger())
	m := New()
	r.Apply(m, text("0e1d", "normalized"))
	r.Apply(m, text("0037", "RE: normalized"))
	if m.Subject != "normalized" {
		t.Errorf("Subject = %q", m.Subject)
	}
}

func TestFromEmailRequiresAt(t *testing.T) {
	r := NewRouter(quietLogger())
	m := New()
	r.Apply(m, text("0c1f", "/O=EXCHANGE/OU=ADMIN/CN=JDOE"))
	if m.FromEmail != "" {
		t.Fatalf("FromEmail = %q, want unset", m.FromEmail)
	}
	r.Apply(m, text("0065", "jdoe@example.com"))
	r.Apply(m, text("800d", "other@example.com"))
	if m.FromEmail != "jdoe@example.com" {
		t.Errorf("FromEmail = %q", m.FromEmail)
	}
}

func TestForcedToEmail(t *testing.T) {
	r := NewRouter(quietLogger())
	m := New()
	r.Apply(m, text("8000", "a@example.com"))
	r.Apply(m, text("8000", "b@example.com"))
	if m.ToEmail != "a@example.com" {
		t.Fatalf("ToEmail = %q after 8000 twice", m.ToEmail)
	}
	r.Apply(m, text("0076", "c@example.com"))
	r.Apply(m, text("0076", "d@example.com"))
	r.Apply(m, text("0076", "not-an-address"))
	if m.ToEmail != "d@example.com" {
		t.Errorf("ToEmail = %q, want last forced write", m.ToEmail)
	}
}

func TestHTMLBodyLongerWins(t *testing.T) {
	r := NewRouter(quietLogger())
	m := New()
	r.Apply(m, text("1013", "<p>long body</p>"))
	r.Apply(m, text("1013", "<p>x</p>"))
	if m.BodyHTML != "<p>long body</p>" {
		t.Fatalf("shorter write accepted: %q", m.BodyHTML)
	}
	r.Apply(m, text("1013", "<p>LONG BODY</p>"))
	if m.BodyHTML != "<p>LONG BODY</p>" {
		t.Errorf("equal-length write rejected: %q", m.BodyHTML)
	}
	r.Apply(m, text("1013", "<p>an even longer body</p>"))
	if m.BodyHTML != "<p>an even longer body</p>" {
		t.Errorf("longer write rejected: %q", m.BodyHTML)
	}
}

func TestDisplayLastWriteWins(t *testing.T) {
	r := NewRouter(quietLogger())
	m := New()
	r.Apply(m, text("0e04", "Alice"))
	r.Apply(m, text("0e04", "Alice; Bob"))
	r.Apply(m, text("0e03", "Carol"))
	r.Apply(m, text("0e02", "Dave"))
	if m.DisplayTo != "Alice; Bob" || m.DisplayCc != "Carol" || m.DisplayBcc != "Dave" {
		t.Errorf("display = %q / %q / %q", m.DisplayTo, m.DisplayCc, m.DisplayBcc)
	}
}

func TestPropertyMapKeepsEveryRecord(t *testing.T) {
	r := NewRouter(quietLogger())
	m := New()
	r.Apply(m, text("0037", "Hello"))
	r.Apply(m, text("0037", "Again"))
	r.Apply(m, text("abcd", "unrouted"))
	r.Apply(m, text("zzzz", "malformed"))

	if v, ok := m.Property(0x0037); !ok || v.Text != "Again" {
		t.Errorf("0037 = %+v, %v; want last raw value", v, ok)
	}
	if v, ok := m.PropertyHex("ABCD"); !ok || v.Text != "unrouted" {
		t.Errorf("abcd = %+v, %v", v, ok)
	}
	codes := m.PropertyCodes()
	if len(codes) != 2 || codes[0] != 0x0037 || codes[1] != 0xabcd {
		t.Errorf("PropertyCodes = %v", codes)
	}
	if !strings.Contains(m.PropertyListing(), "0x0037 / 55: Again\n") {
		t.Errorf("PropertyListing = %q", m.PropertyListing())
	}
}

func TestRecipientReconciliation(t *testing.T) {
	r := NewRouter(quietLogger())
	m := New()
	r.Apply(m, text("0e04", "Jane Doe"))

	bob := NewRecipient()
	r.ApplyRecipient(bob, text("3001", "Bob"))
	r.ApplyRecipient(bob, text("39fe", "bob@example.com"))
	m.AddRecipient(bob)
	if m.ToName != "Bob" || m.ToEmail != "bob@example.com" {
		t.Fatalf("first recipient not used as fallback: %q <%s>", m.ToName, m.ToEmail)
	}

	jane := NewRecipient()
	r.ApplyRecipient(jane, text("3001", " Jane Doe "))
	r.ApplyRecipient(jane, text("3003", "jane@example.com"))
	m.AddRecipient(jane)

	if m.Recipients[0] != jane || m.Recipients[1] != bob {
		t.Fatalf("recipients = %v, want Jane first", m.Recipients)
	}
	if m.ToName != "Jane Doe" || m.ToEmail != "jane@example.com" {
		t.Errorf("to = %q <%s>", m.ToName, m.ToEmail)
	}
	if got := m.ToRecipient(); got != jane {
		t.Errorf("ToRecipient = %v", got)
	}
}

func TestReconcileAfterLateDisplayTo(t *testing.T) {
	r := NewRouter(quietLogger())
	m := New()
	for _, name := range []string{"Bob", "", "Jane Doe"} {
		rc := NewRecipient()
		r.ApplyRecipient(rc, text("3001", name))
		m.AddRecipient(rc)
	}
	r.Apply(m, text("0e04", "Jane Doe"))
	if m.Recipients[0].Name != "Jane Doe" || m.ToName != "Jane Doe" {
		t.Errorf("first = %q, ToName = %q", m.Recipients[0].Name, m.ToName)
	}
	if len(m.Recipients) != 3 {
		t.Errorf("len = %d", len(m.Recipients))
	}
}

func TestCcBccRecipients(t *testing.T) {
	r := NewRouter(quietLogger())
	m := New()
	for _, name := range []string{"Ann", "Ben", "Cid"} {
		rc := NewRecipient()
		r.ApplyRecipient(rc, text("3001", name))
		m.AddRecipient(rc)
	}
	r.Apply(m, text("0e03", "Ben; Cid"))
	r.Apply(m, text("0e02", "Ann"))
	if cc := m.CcRecipients(); len(cc) != 2 || cc[0].Name != "Ben" || cc[1].Name != "Cid" {
		t.Errorf("cc = %v", cc)
	}
	if bcc := m.BccRecipients(); len(bcc) != 1 || bcc[0].Name != "Ann" {
		t.Errorf("bcc = %v", bcc)
	}
}

func TestRecipientFields(t *testing.T) {
	r := NewRouter(quietLogger())
	rc := NewRecipient()
	r.ApplyRecipient(rc, text("3003", "first@example.com"))
	r.ApplyRecipient(rc, text("3003", "second@example.com"))
	if rc.Email != "first@example.com" {
		t.Errorf("Email = %q", rc.Email)
	}
	r.ApplyRecipient(rc, text("39fe", "smtp@example.com"))
	if rc.Email != "smtp@example.com" {
		t.Errorf("SMTP address not forced: %q", rc.Email)
	}
	r.ApplyRecipient(rc, mapi.Property{Class: "0c15", Value: mapi.Integer(2)})
	if rc.Type != RecipientCc {
		t.Errorf("Type = %v", rc.Type)
	}
	if _, ok := rc.Property(0x0c15); !ok {
		t.Error("recipient property map missing 0c15")
	}
}

func TestAttachmentFields(t *testing.T) {
	r := NewRouter(quietLogger())
	a := NewFileAttachment()
	if a.Size != -1 {
		t.Fatalf("initial Size = %d", a.Size)
	}
	r.ApplyAttachment(a, text("3704", "a.txt"))
	r.ApplyAttachment(a, text("3707", "a long name.txt"))
	r.ApplyAttachment(a, text("370e", "text/plain"))
	r.ApplyAttachment(a, text("3703", ".txt"))
	r.ApplyAttachment(a, text("3712", "img001"))
	r.ApplyAttachment(a, mapi.Property{Class: "3705", Value: mapi.Integer(1)})
	r.ApplyAttachment(a, mapi.Property{Class: "3701", Value: mapi.Binary([]byte{1, 2, 3}), Size: 3})

	if a.Filename != "a.txt" || a.LongFilename != "a long name.txt" || a.MimeTag != "text/plain" ||
		a.Extension != ".txt" || a.ContentID != "img001" || a.Method != 1 {
		t.Errorf("attachment = %+v", a)
	}
	if !bytes.Equal(a.Data, []byte{1, 2, 3}) || a.Size != 3 {
		t.Errorf("data = %v size = %d", a.Data, a.Size)
	}
	if a.String() != "a long name.txt" {
		t.Errorf("String = %q", a.String())
	}
}

func TestRTFBody(t *testing.T) {
	var calls int
	r := NewRouter(quietLogger(),
		WithDecompressor(func(b []byte) ([]byte, error) {
			calls++
			return append([]byte("rtf:"), b...), nil
		}),
		WithHTMLConverter(func(s string) (string, error) { return "<html>" + s + "</html>", nil }),
	)
	m := New()
	r.Apply(m, mapi.Property{Class: "1009", Value: mapi.Binary([]byte("one"))})
	r.Apply(m, mapi.Property{Class: "1009", Value: mapi.Binary([]byte("two"))})
	if m.BodyRTF != "rtf:one" || m.ConvertedBodyHTML != "<html>rtf:one</html>" {
		t.Errorf("BodyRTF = %q, Converted = %q", m.BodyRTF, m.ConvertedBodyHTML)
	}
	if calls != 1 {
		t.Errorf("decompressed %d times", calls)
	}
	if m.HTML() != m.ConvertedBodyHTML {
		t.Errorf("HTML() should fall back to converted body")
	}
}

func TestRTFFailuresLeaveConvertedUnset(t *testing.T) {
	failing := NewRouter(quietLogger(), WithDecompressor(func([]byte) ([]byte, error) {
		return nil, errors.New("bad framing")
	}))
	m := New()
	failing.Apply(m, mapi.Property{Class: "1009", Value: mapi.Binary([]byte("x"))})
	failing.Apply(m, text("0037", "still routed"))
	if m.BodyRTF != "" || m.ConvertedBodyHTML != "" || m.Subject != "still routed" {
		t.Errorf("m = %+v", m)
	}

	conv := NewRouter(quietLogger(),
		WithDecompressor(func(b []byte) ([]byte, error) { return b, nil }),
		WithHTMLConverter(func(string) (string, error) { return "", errors.New("boom") }),
	)
	m = New()
	conv.Apply(m, mapi.Property{Class: "1009", Value: mapi.Binary([]byte("{\\rtf1}"))})
	if m.BodyRTF != "{\\rtf1}" || m.ConvertedBodyHTML != "" {
		t.Errorf("BodyRTF = %q, Converted = %q", m.BodyRTF, m.ConvertedBodyHTML)
	}
}

func TestTransportHeaders(t *testing.T) {
	headers := "Received: from mx\r\n" +
		"From: \"Jane\" <jane@example.com>\r\n" +
		"Date: not a date\r\n" +
		"Date: Tue, 3 Mar 2020 10:00:00 -0800 (PST)\r\n" +
		"Subject: x\r\n"
	r := NewRouter(quietLogger())
	m := New()
	r.Apply(m, text("007d", headers))
	if m.FromEmail != "jane@example.com" {
		t.Errorf("FromEmail = %q", m.FromEmail)
	}
	want := time.Date(2020, 3, 3, 18, 0, 0, 0, time.UTC)
	if !m.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", m.Date, want)
	}

	m = New()
	r.Apply(m, text("0c1f", "sender@example.com"))
	r.Apply(m, text("007d", headers))
	if m.FromEmail != "sender@example.com" {
		t.Errorf("headers overwrote sender: %q", m.FromEmail)
	}
}

func TestDateFromHeadersNamedZone(t *testing.T) {
	tests := []struct {
		header string
		want   time.Time
	}{
		{"Date: Tue, 5 Mar 2024 08:09:10 PST\r\n", time.Date(2024, 3, 5, 16, 9, 10, 0, time.UTC)},
		{"Date: Tue, 5 Mar 2024 08:09:10 EDT\r\n", time.Date(2024, 3, 5, 12, 9, 10, 0, time.UTC)},
		{"Date: Tue, 5 Mar 2024 08:09:10 CET\r\n", time.Date(2024, 3, 5, 7, 9, 10, 0, time.UTC)},
		{"Date: Tue, 5 Mar 2024 08:09:10 GMT\r\n", time.Date(2024, 3, 5, 8, 9, 10, 0, time.UTC)},
		{"Date: Tue, 5 Mar 2024 08:09:10 +0200\r\n", time.Date(2024, 3, 5, 6, 9, 10, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := DateFromHeaders(tt.header); !got.Equal(tt.want) {
			t.Errorf("DateFromHeaders(%q) = %v, want %v", tt.header, got.UTC(), tt.want)
		}
	}
}

func TestTimeFields(t *testing.T) {
	r := NewRouter(quietLogger())
	m := New()
	created := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	r.Apply(m, mapi.Property{Class: "3007", Value: mapi.Timestamp(created)})
	r.Apply(m, mapi.Property{Class: "3007", Value: mapi.Timestamp(created.Add(time.Hour))})
	r.Apply(m, text("3008", "Tue Mar  5 08:09:10 UTC 2024"))
	r.Apply(m, text("0039", "garbage"))

	if !m.CreationDate.Equal(created) {
		t.Errorf("CreationDate = %v", m.CreationDate)
	}
	if want := time.Date(2024, 3, 5, 8, 9, 10, 0, time.UTC); !m.LastModificationDate.Equal(want) {
		t.Errorf("LastModificationDate = %v", m.LastModificationDate)
	}
	if !m.ClientSubmitTime.IsZero() {
		t.Errorf("ClientSubmitTime = %v, want unset", m.ClientSubmitTime)
	}

	m.Finish()
	if !m.Date.Equal(created) || m.MessageClass != DefaultMessageClass {
		t.Errorf("after Finish: Date = %v, class = %q", m.Date, m.MessageClass)
	}
}

func TestParseDateString(t *testing.T) {
	for _, s := range []string{"Tue Mar 05 08:09:10 UTC 2024", "Tue Mar  5 08:09:10 UTC 2024", "Tue Mar 5 08:09:10 UTC 2024"} {
		if got := ParseDateString(s); got.IsZero() || got.Day() != 5 {
			t.Errorf("ParseDateString(%q) = %v", s, got)
		}
	}
	if got := ParseDateString("Tue Mar 05 08:09:10 PST 2024"); got.UTC().Hour() != 16 {
		t.Errorf("PST date = %v, want 16:09 UTC", got.UTC())
	}
	if got := ParseDateString("2024-03-05"); !got.IsZero() {
		t.Errorf("unexpected parse: %v", got)
	}
}

func TestStringSummary(t *testing.T) {
	m := New()
	m.FromEmail, m.FromName = "jane@example.com", "Jane"
	m.ToEmail = "bob@example.com"
	m.Subject = "Hi"
	m.Date = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	m.AddAttachment(&FileAttachment{Filename: "a.txt", Size: 1})

	want := "From: \"Jane\" <jane@example.com>\n" +
		"To: bob@example.com\n" +
		"Date: Thu, 2 Jan 2020 03:04:05 UTC\n" +
		"Subject: Hi\n" +
		"1 attachments."
	if got := m.String(); got != want {
		t.Errorf("String =\n%s\nwant\n%s", got, want)
	}
	if !strings.HasSuffix(m.LongString(), "1 attachments.\na.txt\n") {
		t.Errorf("LongString = %q", m.LongString())
	}
}

func TestFormatAddress(t *testing.T) {
	tests := []struct{ email, name, want string }{
		{"", "", ""},
		{"a@b.c", "", "a@b.c"},
		{"", "Ann", "Ann"},
		{"a@b.c", "A@B.C", "a@b.c"},
		{"a@b.c", "Ann", `"Ann" <a@b.c>`},
	}
	for _, tt := range tests {
		if got := FormatAddress(tt.email, tt.name); got != tt.want {
			t.Errorf("FormatAddress(%q, %q) = %q, want %q", tt.email, tt.name, got, tt.want)
		}
	}
}

func TestMarshalAttachments(t *testing.T) {
	m := New()
	a := NewFileAttachment()
	a.Filename, a.Data, a.Size = "a.txt", []byte{1}, 1
	nested := New()
	nested.Subject = "inner"
	m.AddAttachment(&MsgAttachment{Message: nested})
	m.AddAttachment(a)

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Attachments []map[string]any `json:"attachments"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Attachments) != 2 {
		t.Fatalf("attachments = %v", decoded.Attachments)
	}
	if decoded.Attachments[0]["type"] != KindMessage || decoded.Attachments[1]["type"] != KindFile {
		t.Errorf("types = %v, %v", decoded.Attachments[0]["type"], decoded.Attachments[1]["type"])
	}
	if decoded.Attachments[1]["filename"] != "a.txt" {
		t.Errorf("file = %v", decoded.Attachments[1])
	}
	if _, leaked := decoded.Attachments[1]["Data"]; leaked {
		t.Error("raw data serialized")
	}
}
