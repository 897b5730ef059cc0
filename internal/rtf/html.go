package rtf

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// plainWrapperOpen wraps RTF bodies that carry no embedded HTML.
const plainWrapperOpen = `<html><body style="font-family:'Courier',monospace;font-size:10pt;">`

var (
	reHTMLStart = regexp.MustCompile(`(?i)<html[\s>]`)
	reHTMLEnd   = regexp.MustCompile(`(?i)</html>`)

	reLineBreaks = regexp.MustCompile(`[\n\r]+`)
	reHTTPLink   = regexp.MustCompile(`(http://\S+)`)
	reMailtoLink = regexp.MustCompile(`mailto:(\S+@\S+)`)

	reHexEscape = regexp.MustCompile(`\\'([0-9a-fA-F]{2})`)

	reBrRuns = regexp.MustCompile(`( <br/> ( <br/> )+)`)
)

type rewrite struct {
	re   *regexp.Regexp
	repl string
}

// structural groups, applied in order. Escaped braces become character
// references so a second pass does not strip them.
var specialSequences = []rewrite{
	{regexp.MustCompile(`\{\\[^\s\\*]+ [^\s\\}]*\}`), ""},
	{regexp.MustCompile(`\{HYPERLINK[^\}]*\}`), ""},
	{regexp.MustCompile(`\{\\pntext[^\}]*\}`), ""},
	{regexp.MustCompile(`\{\\f\d+[^\}]*\}`), ""},
	{regexp.MustCompile(`\{\\\*\\htmltag\d+[^\}<]+(<.+>)\}`), "${1}"},
	{regexp.MustCompile(`\{\\\*\\htmltag\d+[^\}<]+\}`), ""},
	{regexp.MustCompile(`([^\\])\}+`), "${1}"},
	{regexp.MustCompile(`([^\\])\{+`), "${1}"},
	{regexp.MustCompile(`\\\}`), "&#125;"},
	{regexp.MustCompile(`\\\{`), "&#123;"},
}

// control words, applied in order
var controlSequences = []rewrite{
	{regexp.MustCompile(`\\pard*`), "\n"},
	{regexp.MustCompile(`\\tab`), "\t"},
	{regexp.MustCompile(`\\\*\\\S+`), ""},
	{regexp.MustCompile(`\\\S+`), ""},
}

// ToHTML reduces decompressed RTF to HTML. When the RTF encapsulates an
// HTML body that body is unwrapped; otherwise the text is wrapped in a
// monospace document with line breaks and bare links converted. ToHTML
// never fails: malformed markup is left in the output.
func ToHTML(rtf string) string {
	html, embedded := fetchHTMLSection(rtf)
	if embedded {
		html = replaceHexSequences(html)
		html = applyAll(html, specialSequences)
		html = applyAll(html, controlSequences)
	}
	return replaceLineBreaks(html)
}

// fetchHTMLSection returns the <html>..</html> span of text, or a synthetic
// document wrapping all of it. The flag reports which case applied.
func fetchHTMLSection(text string) (string, bool) {
	if start := reHTMLStart.FindStringIndex(text); start != nil {
		if end := reHTMLEnd.FindStringIndex(text[start[0]:]); end != nil {
			return text[start[0] : start[0]+end[1]], true
		}
	}

	html := plainWrapperOpen + text + "</body></html>"
	html = reLineBreaks.ReplaceAllString(html, " <br/> ")
	html = reHTTPLink.ReplaceAllString(html, `<a href="${1}">${1}</a>`)
	html = reMailtoLink.ReplaceAllString(html, `<a href="mailto:${1}">${1}</a>`)
	return html, false
}

// replaceHexSequences decodes \'XX escapes as Windows-1252 characters.
func replaceHexSequences(text string) string {
	return reHexEscape.ReplaceAllStringFunc(text, func(m string) string {
		v, err := strconv.ParseUint(m[2:], 16, 8)
		if err != nil {
			return m
		}
		return string(charmap.Windows1252.DecodeByte(byte(v)))
	})
}

func applyAll(text string, rules []rewrite) string {
	for _, r := range rules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}

func replaceLineBreaks(text string) string {
	text = reBrRuns.ReplaceAllString(text, " <br/> ")
	text = reLineBreaks.ReplaceAllString(text, "")
	return strings.TrimRight(text, "\x00")
}
