package resultdata

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
	fieldFlags
	fieldDescription
	fieldType
	fieldBlockSize
	fieldSegmentSize
	fieldSignificantBits
	fieldValueOffset
)

const (
	fieldSep   = ','
	fieldQuote = '"'
)

// Definition is the parsed form of a result data definition string
type Definition struct {
	ID          registry.ID
	Name        string
	Flags       Flags
	Description string
	Type        Type
	// BlockSize is the number of elements per block
	BlockSize int64
	// SegmentSize is the number of blocks per storage segment
	SegmentSize     int64
	SignificantBits int
	ValueOffset     int64
}

var escaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)

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

func parseNumber(fields []string, n int, name string) (int64, error) {
	text := strings.TrimSpace(csf.Field(fields, n))
	if text == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: %s %q", errors.ErrBadDefinition, name, text),
			"ResultData", "ParseDefinition", "parse "+name)
	}
	return v, nil
}

// ParseDefinition parses "id,name,flags,description,type,blockSize,segmentSize[,significantBits[,valueOffset]]".
// The result is normalized.
func ParseDefinition(s string) (Definition, error) {
	fields := csf.Split(strings.TrimRight(s, "\r\n"), fieldSep, fieldQuote)
	if len(fields) <= fieldSegmentSize {
		return Definition{}, errors.WrapInvalid(
			fmt.Errorf("%w: %d fields in %q", errors.ErrBadDefinition, len(fields), s),
			"ResultData", "ParseDefinition", "split fields")
	}

	id, err := strconv.ParseUint(strings.TrimSpace(fields[fieldID]), 0, 64)
	if err != nil {
		return Definition{}, errors.WrapInvalid(
			fmt.Errorf("%w: id %q", errors.ErrBadDefinition, fields[fieldID]),
			"ResultData", "ParseDefinition", "parse id")
	}

	d := Definition{
		ID:          registry.ID(id),
		Name:        fields[fieldName],
		Flags:       ParseFlags(fields[fieldFlags]),
		Description: unescape(fields[fieldDescription]),
		Type:        ParseType(fields[fieldType]),
	}
	if d.BlockSize, err = parseNumber(fields, fieldBlockSize, "block size"); err != nil {
		return Definition{}, err
	}
	if d.SegmentSize, err = parseNumber(fields, fieldSegmentSize, "segment size"); err != nil {
		return Definition{}, err
	}
	bits, err := parseNumber(fields, fieldSignificantBits, "significant bits")
	if err != nil {
		return Definition{}, err
	}
	d.SignificantBits = int(bits)
	if d.ValueOffset, err = parseNumber(fields, fieldValueOffset, "value offset"); err != nil {
		return Definition{}, err
	}
	return d.Normalize(), nil
}

// Normalize corrects impossible sizes: a block holds at least one element, the
// significant bits fit the type and a segment is capped at MaxSegmentBytes.
func (d Definition) Normalize() Definition {
	if d.BlockSize <= 0 {
		d.BlockSize = 1
	}
	if width := d.Type.Bits(); d.SignificantBits <= 0 || d.SignificantBits > width {
		d.SignificantBits = width
	}
	if d.SegmentSize < 0 {
		d.SegmentSize = 0
	}
	if limit := MaxSegmentBytes / d.BlockBytes(); d.SegmentSize > limit {
		d.SegmentSize = limit
	}
	return d
}

// BlockBytes returns the size in bytes of one block
func (d Definition) BlockBytes() int64 {
	bs := d.BlockSize
	if bs <= 0 {
		bs = 1
	}
	return bs * int64(d.Type.Size())
}

// String formats d as a definition string
func (d Definition) String() string {
	return strings.Join([]string{
		d.ID.String(),
		csf.Quote(d.Name, fieldSep, fieldQuote),
		d.Flags.String(),
		csf.Quote(escaper.Replace(d.Description), fieldSep, fieldQuote),
		d.Type.String(),
		strconv.FormatInt(d.BlockSize, 10),
		strconv.FormatInt(d.SegmentSize, 10),
		strconv.Itoa(d.SignificantBits),
		strconv.FormatInt(d.ValueOffset, 10),
	}, string(fieldSep))
}

func zeroDefinition() Definition {
	return Definition{
		Name:        "n/a",
		Description: "n/a",
		Type:        TypeInvalid,
	}.Normalize()
}
