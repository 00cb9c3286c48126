package resultdata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/pkg/csf"
	"github.com/c360/gii/rangeset"
	"github.com/c360/gii/registry"
)

// Update is the text form "(id,start,stop,flags)" of an access range and the current flags
type Update struct {
	ID    registry.ID
	Range rangeset.Range
	Flags Flags
}

// String formats u as "(id,start,stop,flags)"
func (u Update) String() string {
	return fmt.Sprintf("(%s,%d,%d,%s)", u.ID, u.Range.Start, u.Range.Stop, u.Flags)
}

// ParseUpdate parses the "(id,start,stop,flags)" form
func ParseUpdate(s string) (Update, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return Update{}, errors.WrapInvalid(
			fmt.Errorf("%w: update %q", errors.ErrBadDefinition, s), "ResultData", "ParseUpdate", "match parentheses")
	}
	fields := csf.Split(s[1:len(s)-1], fieldSep, fieldQuote)
	if len(fields) != 4 {
		return Update{}, errors.WrapInvalid(
			fmt.Errorf("%w: update %q has %d fields", errors.ErrBadDefinition, s, len(fields)),
			"ResultData", "ParseUpdate", "split fields")
	}
	var nums [3]int64
	for i := range nums {
		n, err := strconv.ParseInt(strings.TrimSpace(fields[i]), 0, 64)
		if err != nil {
			return Update{}, errors.WrapInvalid(err, "ResultData", "ParseUpdate", "parse number")
		}
		nums[i] = n
	}
	if nums[0] <= 0 {
		return Update{}, errors.WrapInvalid(
			fmt.Errorf("%w: update id %d", errors.ErrBadDefinition, nums[0]), "ResultData", "ParseUpdate", "check id")
	}
	id := registry.ID(nums[0])
	return Update{
		ID:    id,
		Range: rangeset.New(nums[1], nums[2]).WithID(uint64(id)),
		Flags: ParseFlags(strings.TrimSpace(fields[3])),
	}, nil
}

// WriteUpdate returns the update form of the access range and the current flags
func (v *ResultData) WriteUpdate() string {
	return Update{ID: v.ID(), Range: v.ref.managed(), Flags: v.ref.curFlags}.String()
}

// ApplyUpdate moves the access range and the flags of an owner to u. An access range
// that shrank means the channel restarted, so it is cleared first.
func (v *ResultData) ApplyUpdate(u Update, skipSelf bool) bool {
	if !v.IsOwner() {
		return false
	}
	cleared := false
	if u.Range.Stop < v.ref.ranges.Managed().Stop {
		cleared = v.ClearValidations(skipSelf)
	}
	moved := v.SetAccessRange(u.Range, skipSelf)
	flagged := v.UpdateFlags(u.Flags, skipSelf)
	return cleared || moved || flagged
}

// ReadUpdate parses s and applies it to the owner of the id it names
func (v *ResultData) ReadUpdate(s string) bool {
	return v.space.ApplyUpdate(s)
}
