package variable

import (
	"bytes"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
)

// Type is the value type of a Variable
type Type int

// Value types
const (
	TypeInvalid Type = iota
	TypeUndefined
	TypeInteger
	TypeFloat
	TypeString
	TypeBinary
)

var typeNames = [...]string{"INVALID", "UNDEF", "INTEGER", "FLOAT", "STRING", "BINARY"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return typeNames[TypeInvalid]
	}
	return typeNames[t]
}

// ParseType maps a type name to its Type, unknown names are TypeInvalid
func ParseType(s string) Type {
	s = strings.TrimSpace(s)
	for i, n := range typeNames {
		if strings.EqualFold(n, s) {
			return Type(i)
		}
	}
	return TypeInvalid
}

// IsNumber reports whether t is an integer or a float
func (t Type) IsNumber() bool {
	return t == TypeInteger || t == TypeFloat
}

// Unlimited marks significant digits that are not limited by a round value
const Unlimited = math.MaxInt

// InvalidText is how an invalid value prints
const InvalidText = "n/a"

const (
	maxPrecision   = 15
	floatTolerance = 1e10
)

// Value is a tagged union of the Variable types
type Value struct {
	typ Type
	i   int64
	f   float64
	s   string
	b   []byte
}

// NewInt returns an integer value
func NewInt(v int64) Value { return Value{typ: TypeInteger, i: v} }

// NewFloat returns a float value
func NewFloat(v float64) Value { return Value{typ: TypeFloat, f: v} }

// NewString returns a string value
func NewString(s string) Value { return Value{typ: TypeString, s: s} }

// NewBinary returns a binary value holding a copy of b
func NewBinary(b []byte) Value {
	return Value{typ: TypeBinary, b: bytes.Clone(b)}
}

// Undefined returns a value holding text not yet bound to a type.
// Definition fields are parsed into undefined values and converted once the type is known.
func Undefined(s string) Value { return Value{typ: TypeUndefined, s: s} }

// Type returns the type of v
func (v Value) Type() Type { return v.typ }

// IsValid reports whether v holds a value
func (v Value) IsValid() bool { return v.typ != TypeInvalid }

// IsZero reports whether v is numerically zero or empty
func (v Value) IsZero() bool {
	switch v.typ {
	case TypeInteger:
		return v.i == 0
	case TypeFloat:
		return v.f == 0
	case TypeString, TypeUndefined:
		return v.s == ""
	case TypeBinary:
		return len(v.b) == 0
	default:
		return true
	}
}

// Int returns v as an integer, floats are truncated
func (v Value) Int() int64 {
	switch v.typ {
	case TypeInteger:
		return v.i
	case TypeFloat:
		return int64(v.f)
	case TypeString, TypeUndefined:
		i, _ := parseInt(v.s)
		return i
	default:
		return 0
	}
}

// Float returns v as a float
func (v Value) Float() float64 {
	switch v.typ {
	case TypeInteger:
		return float64(v.i)
	case TypeFloat:
		return v.f
	case TypeString, TypeUndefined:
		f, _ := parseFloat(v.s)
		return f
	default:
		return 0
	}
}

// Bytes returns the binary content of v
func (v Value) Bytes() []byte {
	switch v.typ {
	case TypeBinary:
		return v.b
	case TypeString, TypeUndefined:
		return []byte(v.s)
	default:
		return nil
	}
}

// String formats v with unlimited precision
func (v Value) String() string {
	return v.Format(Unlimited)
}

// Format renders v, floats with the given number of decimals
func (v Value) Format(digits int) string {
	switch v.typ {
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		if digits == Unlimited {
			return strconv.FormatFloat(v.f, 'f', -1, 64)
		}
		return strconv.FormatFloat(v.f, 'f', min(max(digits, 0), maxPrecision), 64)
	case TypeString, TypeUndefined:
		return v.s
	case TypeBinary:
		return hex.EncodeToString(v.b)
	default:
		return InvalidText
	}
}

func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return float64(i), true
	}
	return 0, false
}

// Convert returns v as type t. The bool is false when the content does not convert.
func (v Value) Convert(t Type) (Value, bool) {
	if v.typ == t {
		return v, true
	}
	switch t {
	case TypeInteger:
		switch v.typ {
		case TypeFloat:
			return NewInt(int64(v.f)), true
		case TypeString, TypeUndefined:
			i, ok := parseInt(v.s)
			return NewInt(i), ok
		case TypeInvalid:
			return NewInt(0), true
		}
	case TypeFloat:
		switch v.typ {
		case TypeInteger:
			return NewFloat(float64(v.i)), true
		case TypeString, TypeUndefined:
			f, ok := parseFloat(v.s)
			return NewFloat(f), ok
		case TypeInvalid:
			return NewFloat(0), true
		}
	case TypeString:
		if v.typ == TypeInvalid {
			return NewString(""), true
		}
		return NewString(v.String()), true
	case TypeBinary:
		switch v.typ {
		case TypeString, TypeUndefined:
			return NewBinary([]byte(v.s)), true
		case TypeInvalid:
			return NewBinary(nil), true
		}
	case TypeUndefined:
		return Undefined(v.String()), true
	case TypeInvalid:
		return Value{}, true
	}
	return v, false
}

// Round rounds a numeric v to a multiple of r. A zero r leaves v untouched.
func (v Value) Round(r Value) Value {
	switch v.typ {
	case TypeInteger:
		ri := r.Int()
		if ri == 0 {
			return v
		}
		return NewInt(((v.i + ri/2) / ri) * ri)
	case TypeFloat:
		rf := r.Float()
		if rf == 0 {
			return v
		}
		return NewFloat(math.Floor(v.f/rf+0.5) * rf)
	default:
		return v
	}
}

// Equal compares two values. Floats compare equal within a relative tolerance,
// strings compare case insensitive.
func (v Value) Equal(o Value) bool {
	if v.typ.IsNumber() && o.typ.IsNumber() {
		if v.typ == TypeInteger && o.typ == TypeInteger {
			return v.i == o.i
		}
		return floatEqual(v.Float(), o.Float())
	}
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeString, TypeUndefined:
		return strings.EqualFold(v.s, o.s)
	case TypeBinary:
		return bytes.Equal(v.b, o.b)
	default:
		return true
	}
}

func floatEqual(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a/(a-b)) >= floatTolerance
}

// Less orders numeric values, other types order by their text
func (v Value) Less(o Value) bool {
	if v.typ.IsNumber() && o.typ.IsNumber() {
		if v.typ == TypeInteger && o.typ == TypeInteger {
			return v.i < o.i
		}
		return v.Float() < o.Float()
	}
	return v.String() < o.String()
}

// Clamp limits a numeric v to [lo, hi]
func (v Value) Clamp(lo, hi Value) Value {
	if hi.Less(v) {
		v, _ = hi.Convert(v.typ)
	}
	if v.Less(lo) {
		v, _ = lo.Convert(v.typ)
	}
	return v
}

// Add returns v + o in the type of v
func (v Value) Add(o Value) Value {
	switch v.typ {
	case TypeInteger:
		return NewInt(v.i + o.Int())
	case TypeFloat:
		return NewFloat(v.f + o.Float())
	default:
		return v
	}
}

// Scale returns v*m+ofs in the type of v
func (v Value) Scale(m, ofs float64) Value {
	switch v.typ {
	case TypeInteger:
		return NewInt(int64(float64(v.i)*m + ofs))
	case TypeFloat:
		return NewFloat(v.f*m + ofs)
	default:
		return v
	}
}

// Digits returns the number of decimals needed to print v without loss,
// negative when v is a multiple of a power of ten. Digits(0.25) is 2, Digits(10) is -1.
func Digits(v float64) int {
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	mant, exp := decompose(v)
	i := len(mant) - 1
	for i > 0 && mant[i] == '0' {
		i--
	}
	return i - exp
}

// Magnitude returns the decimal order of v: Magnitude(0.001234) is -2, Magnitude(123400) is 6
func Magnitude(v float64) int {
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	_, exp := decompose(v)
	return exp + 1
}

// decompose returns the 15 significant digits of |v| and its decimal exponent
func decompose(v float64) (string, int) {
	s := strconv.FormatFloat(math.Abs(v), 'e', maxPrecision-1, 64)
	pos := strings.IndexByte(s, 'e')
	exp, _ := strconv.Atoi(s[pos+1:])
	return strings.Replace(s[:pos], ".", "", 1), exp
}
