package variable

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/pkg/csf"
	"github.com/c360/gii/registry"
)

// Update is the text form "(id,value,flags)" of a current value and its flags
type Update struct {
	ID    registry.ID
	Value string
	Flags Flags
}

// String formats u as "(id,value,flags)"
func (u Update) String() string {
	return fmt.Sprintf("(%s,%s,%s)", u.ID, csf.Quote(u.Value, fieldSep, fieldQuote), u.Flags)
}

// ParseUpdate parses the "(id,value,flags)" form
func ParseUpdate(s string) (Update, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return Update{}, errors.WrapInvalid(
			fmt.Errorf("%w: update %q", errors.ErrBadDefinition, s), "Variable", "ParseUpdate", "match parentheses")
	}
	fields := csf.Split(s[1:len(s)-1], fieldSep, fieldQuote)
	if len(fields) != 3 {
		return Update{}, errors.WrapInvalid(
			fmt.Errorf("%w: update %q has %d fields", errors.ErrBadDefinition, s, len(fields)),
			"Variable", "ParseUpdate", "split fields")
	}
	id, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 0, 64)
	if err != nil {
		return Update{}, errors.WrapInvalid(err, "Variable", "ParseUpdate", "parse id")
	}
	return Update{ID: registry.ID(id), Value: fields[1], Flags: ParseFlags(fields[2])}, nil
}

// WriteUpdate returns the update form of the raw current value and flags
func (v *Variable) WriteUpdate() string {
	return Update{ID: v.ID(), Value: v.ref.cur.String(), Flags: v.ref.curFlags}.String()
}

// ApplyUpdate writes the value and the flags of u. Flags only change on an owner.
func (v *Variable) ApplyUpdate(u Update) bool {
	valueChanged := v.updateValue(Undefined(u.Value), false)
	flagsChanged := v.UpdateFlags(u.Flags, false)
	return valueChanged || flagsChanged
}

// ReadUpdate parses s and applies it to the owner of the id it names
func (v *Variable) ReadUpdate(s string) bool {
	return v.space.ApplyUpdate(s)
}
