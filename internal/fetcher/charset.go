package fetcher

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText converts data to UTF-8. A non-empty label (an HTML/MIME charset
// name) is tried first; otherwise valid UTF-8 is kept as is, then GB18030
// and finally Latin-1 are attempted.
func DecodeText(data []byte, label string) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if label != "" && !strings.EqualFold(label, "utf-8") && !strings.EqualFold(label, "utf8") {
		if s, ok := decodeWith(label, data); ok {
			return s
		}
	}
	if utf8.Valid(data) {
		return string(data)
	}
	for _, fallback := range []string{"gb18030", "latin1"} {
		if s, ok := decodeWith(fallback, data); ok && utf8.ValidString(s) {
			return s
		}
	}
	return strings.ToValidUTF8(string(data), "")
}

func decodeWith(label string, data []byte) (string, bool) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// charsetFromContentType extracts the charset parameter of a Content-Type
// header value.
func charsetFromContentType(ct string) string {
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}
