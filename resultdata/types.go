package resultdata

import "strings"

// Type is the element type of the values stored in a block
type Type int

// Element types
const (
	TypeInvalid Type = iota
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
)

var typeInfo = [...]struct {
	name string
	size int
}{
	TypeInvalid: {"INVALID", 1},
	TypeInt8:    {"INT8", 1},
	TypeInt16:   {"INT16", 2},
	TypeInt32:   {"INT32", 4},
	TypeInt64:   {"INT64", 8},
}

// ParseType returns the type named s, TypeInvalid when unknown
func ParseType(s string) Type {
	s = strings.TrimSpace(s)
	for t, info := range typeInfo {
		if strings.EqualFold(info.name, s) {
			return Type(t)
		}
	}
	return TypeInvalid
}

func (t Type) valid() bool {
	return t >= TypeInvalid && int(t) < len(typeInfo)
}

func (t Type) String() string {
	if !t.valid() {
		return typeInfo[TypeInvalid].name
	}
	return typeInfo[t].name
}

// Size returns the size in bytes of one element
func (t Type) Size() int {
	if !t.valid() {
		return typeInfo[TypeInvalid].size
	}
	return typeInfo[t].size
}

// Bits returns the bit width of one element
func (t Type) Bits() int { return t.Size() * 8 }

// Flags is the flag bitset of a ResultData
type Flags uint32

// Flag bits, in the order of their definition letters RASH
const (
	FlagRecycle Flags = 1 << iota
	FlagArchive
	FlagShare
	FlagHidden
)

const flagLetters = "RASH"

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
