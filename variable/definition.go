package variable

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/pkg/csf"
	"github.com/c360/gii/registry"
)

// Definition string field positions
const (
	fieldID = iota
	fieldName
	fieldUnit
	fieldFlags
	fieldDescription
	fieldType
	fieldConvertOption
	fieldRound
	fieldDefault
	fieldMin
	fieldMax
	fieldFirstState
)

const (
	fieldSep   = ','
	fieldQuote = '"'
)

// NameSeparator separates the group levels of a name
const NameSeparator = "|"

// StringKind selects the filtering applied to string values on write
type StringKind int

// String kinds, chosen by a letter in the unit field
const (
	KindNormal StringKind = iota
	KindMultiLine
	KindPath
	KindDirectory
	KindSubdirectory
	KindFilename
)

// State labels an integer value
type State struct {
	Name  string
	Value Value
}

// Definition is the parsed form of a variable definition string
type Definition struct {
	ID            registry.ID
	Name          string
	Unit          string
	Flags         Flags
	Description   string
	Type          Type
	ConvertOption string
	Round         Value
	Default       Value
	Min           Value
	Max           Value
	States        []State
}

var multiLine = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)

func escape(s string) string { return multiLine.Replace(s) }

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// ParseDefinition parses "id,name,unit,flags,description,type,convertOption,round,default,min,max[,label=value]*"
func ParseDefinition(s string) (Definition, error) {
	fields := csf.Split(strings.TrimRight(s, "\r\n"), fieldSep, fieldQuote)
	if len(fields) <= fieldMax {
		return Definition{}, errors.WrapInvalid(
			fmt.Errorf("%w: %d fields in %q", errors.ErrBadDefinition, len(fields), s),
			"Variable", "ParseDefinition", "split fields")
	}

	id, err := strconv.ParseUint(strings.TrimSpace(fields[fieldID]), 0, 64)
	if err != nil {
		return Definition{}, errors.WrapInvalid(
			fmt.Errorf("%w: id %q", errors.ErrBadDefinition, fields[fieldID]),
			"Variable", "ParseDefinition", "parse id")
	}

	d := Definition{
		ID:            registry.ID(id),
		Name:          fields[fieldName],
		Unit:          fields[fieldUnit],
		Flags:         ParseFlags(fields[fieldFlags]),
		Description:   unescape(fields[fieldDescription]),
		Type:          ParseType(fields[fieldType]),
		ConvertOption: fields[fieldConvertOption],
	}

	defText := fields[fieldDefault]
	if d.Type == TypeString && d.Kind() == KindMultiLine {
		defText = unescape(defText)
	}

	raw := []struct {
		dst  *Value
		text string
		name string
	}{
		{&d.Round, fields[fieldRound], "round"},
		{&d.Default, defText, "default"},
		{&d.Min, fields[fieldMin], "min"},
		{&d.Max, fields[fieldMax], "max"},
	}
	for _, r := range raw {
		v, ok := Undefined(r.text).Convert(d.Type)
		if !ok {
			return Definition{}, errors.WrapInvalid(
				fmt.Errorf("%w: %s %q is not %s", errors.ErrBadDefinition, r.name, r.text, d.Type),
				"Variable", "ParseDefinition", "convert "+r.name)
		}
		*r.dst = v
	}

	for _, f := range fields[fieldFirstState:] {
		if f == "" {
			break
		}
		st := State{Name: f}
		if pos := strings.IndexByte(f, '='); pos >= 0 {
			st.Name = f[:pos]
			v, ok := Undefined(f[pos+1:]).Convert(d.Type)
			if !ok {
				return Definition{}, errors.WrapInvalid(
					fmt.Errorf("%w: state %q", errors.ErrBadDefinition, f),
					"Variable", "ParseDefinition", "convert state")
			}
			st.Value = v
		}
		d.States = append(d.States, st)
	}
	return d, nil
}

// Kind returns the string kind selected by the unit field
func (d Definition) Kind() StringKind {
	return stringKind(d.Type, d.Unit)
}

func stringKind(t Type, unit string) StringKind {
	if t != TypeString {
		return KindNormal
	}
	pos := strings.IndexAny(unit, "SNMPDF")
	if pos < 0 {
		return KindNormal
	}
	switch unit[pos] {
	case 'M':
		return KindMultiLine
	case 'P':
		return KindPath
	case 'D':
		return KindDirectory
	case 'S':
		return KindSubdirectory
	case 'F':
		return KindFilename
	default:
		return KindNormal
	}
}

// SigDigits returns the decimals a float variable prints with, derived from the round value
func (d Definition) SigDigits() int {
	if d.Type != TypeFloat {
		return 0
	}
	if d.Round.IsZero() {
		return Unlimited
	}
	return Digits(d.Round.Float())
}

// String rebuilds the definition string
func (d Definition) String() string {
	var b strings.Builder
	field := func(s string) {
		b.WriteString(csf.Quote(s, fieldSep, fieldQuote))
		b.WriteByte(fieldSep)
	}
	def := d.Default.String()
	if d.Type == TypeString && d.Kind() == KindMultiLine {
		def = escape(def)
	}

	b.WriteString(d.ID.String())
	b.WriteByte(fieldSep)
	field(d.Name)
	field(d.Unit)
	field(d.Flags.String())
	field(escape(d.Description))
	field(d.Type.String())
	field(d.ConvertOption)
	field(d.Round.String())
	field(def)
	field(d.Min.String())
	b.WriteString(csf.Quote(d.Max.String(), fieldSep, fieldQuote))
	for _, st := range d.States {
		b.WriteByte(fieldSep)
		b.WriteString(csf.Quote(st.Name+"="+st.Value.String(), fieldSep, fieldQuote))
	}
	return b.String()
}

func zeroDefinition() Definition {
	return Definition{
		Name:          InvalidText,
		Unit:          InvalidText,
		Flags:         FlagReadOnly,
		Description:   InvalidText,
		Type:          TypeInvalid,
		ConvertOption: InvalidText,
		States:        []State{{Name: "?"}},
	}
}
