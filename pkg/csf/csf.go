// Package csf splits comma separated fields the way GII definition strings and
// configuration values are written: a delimiter character toggles quoting, quoted
// separators belong to the field and the delimiters themselves are dropped.
package csf

import "strings"

// Split returns the fields of s separated by sep. Characters between two delim
// characters are taken literally, including sep.
func Split(s string, sep, delim byte) []string {
	if s == "" {
		return nil
	}
	var (
		fields []string
		cur    strings.Builder
		quoted bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == delim:
			quoted = !quoted
		case c == sep && !quoted:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

// Field returns field n of fields or "" when it does not exist
func Field(fields []string, n int) string {
	if n < 0 || n >= len(fields) {
		return ""
	}
	return fields[n]
}

// Quote wraps s in delim when it holds sep or delim characters
func Quote(s string, sep, delim byte) string {
	if strings.IndexByte(s, sep) < 0 && strings.IndexByte(s, delim) < 0 {
		return s
	}
	return string(delim) + s + string(delim)
}
