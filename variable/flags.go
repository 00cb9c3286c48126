package variable

import "strings"

// Flags is the flag bitset of a Variable
type Flags uint32

// Flag bits, in the order of their definition letters RASLFPHEW
const (
	FlagReadOnly Flags = 1 << iota
	FlagArchive
	FlagShare
	FlagLink
	FlagFunction
	FlagParameter
	FlagHidden
	FlagExport
	FlagWriteable
)

const flagLetters = "RASLFPHEW"

// ParseFlags converts definition letters to flags, unknown letters are ignored
func ParseFlags(s string) Flags {
	var f Flags
	for _, c := range s {
		if i := strings.IndexRune(flagLetters, c); i >= 0 {
			f |= 1 << i
		}
	}
	return f
}

// String returns the definition letters of f
func (f Flags) String() string {
	var b strings.Builder
	for i := 0; i < len(flagLetters); i++ {
		if f&(1<<i) != 0 {
			b.WriteByte(flagLetters[i])
		}
	}
	return b.String()
}

// Has reports whether every bit of m is set
func (f Flags) Has(m Flags) bool {
	return f&m == m
}

// Any reports whether a bit of m is set
func (f Flags) Any(m Flags) bool {
	return f&m != 0
}
