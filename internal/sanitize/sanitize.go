// Package sanitize normalizes arbitrary values into strings that are always
// valid UTF-8.
package sanitize

import (
	"fmt"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// String converts v to text and replaces every ill-formed UTF-8 sequence with
// U+FFFD. It never panics; the worst case is an empty string.
func String(v any) (out string) {
	defer func() {
		if recover() != nil {
			out = ""
		}
	}()

	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	case []byte:
		s = string(t)
	case error:
		s = t.Error()
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}

	clean, _, err := transform.String(runes.ReplaceIllFormed(), s)
	if err != nil {
		return ""
	}
	return clean
}

// Map sanitizes both keys and values. A nil map yields an empty one.
func Map(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[String(k)] = String(v)
	}
	return out
}
