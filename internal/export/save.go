package export

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/eslider/msgparse/internal/message"
	"github.com/eslider/msgparse/internal/storage"
)

const maxNameLen = 120

// SanitizeName turns an attachment or folder name into a single safe path
// element. It returns "" when nothing usable is left.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), ".")
	if len(name) > maxNameLen {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = truncate(name[:len(name)-len(ext)], maxNameLen-len(ext)) + ext
	}
	return name
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xc0 != 0x80 }

// AttachmentName is the file name used for the index-th attachment of a
// message: the long filename, then the short one, then "attachment-N".
func AttachmentName(a *message.FileAttachment, index int) string {
	if name := SanitizeName(a.Name()); name != "" {
		return name
	}
	return fmt.Sprintf("attachment-%d", index+1)
}

// EmbeddedName is the .eml file name of an embedded message.
func EmbeddedName(m *message.Message, index int) string {
	if name := SanitizeName(m.Subject); name != "" {
		return name + ".eml"
	}
	return fmt.Sprintf("embedded-%d.eml", index+1)
}

// SaveAttachments writes every file attachment of m below prefix and returns
// the keys written, in attachment order. Embedded messages are stored as
// prefix/embedded-N/message.eml with their own attachments next to it.
// Clashing names get a numeric prefix.
func SaveAttachments(ctx context.Context, store storage.ObjectStore, prefix string, m *message.Message) ([]string, error) {
	var keys []string
	used := make(map[string]bool)
	embedded := 0
	for i, a := range m.Attachments {
		switch a := a.(type) {
		case *message.FileAttachment:
			name := AttachmentName(a, i)
			if used[name] {
				name = fmt.Sprintf("%d-%s", i+1, name)
			}
			used[name] = true
			key := path.Join(prefix, name)
			if err := store.Put(ctx, key, a.Data); err != nil {
				return keys, err
			}
			keys = append(keys, key)
		case *message.MsgAttachment:
			if a.Message == nil {
				continue
			}
			embedded++
			sub := path.Join(prefix, fmt.Sprintf("embedded-%d", embedded))
			data, err := EML(a.Message)
			if err != nil {
				return keys, err
			}
			key := path.Join(sub, "message.eml")
			if err := store.Put(ctx, key, data); err != nil {
				return keys, err
			}
			keys = append(keys, key)
			nested, err := SaveAttachments(ctx, store, sub, a.Message)
			keys = append(keys, nested...)
			if err != nil {
				return keys, err
			}
		}
	}
	return keys, nil
}
