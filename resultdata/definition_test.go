package resultdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/registry"
)

func TestParseDefinition(t *testing.T) {
	d, err := ParseDefinition("0x2000,Scan|Amplitude,RA,Amplitude samples,INT16,4,1024,12,2048")
	require.NoError(t, err)

	assert.Equal(t, registry.ID(0x2000), d.ID)
	assert.Equal(t, "Scan|Amplitude", d.Name)
	assert.Equal(t, FlagRecycle|FlagArchive, d.Flags)
	assert.Equal(t, TypeInt16, d.Type)
	assert.Equal(t, int64(4), d.BlockSize)
	assert.Equal(t, int64(1024), d.SegmentSize)
	assert.Equal(t, 12, d.SignificantBits)
	assert.Equal(t, int64(2048), d.ValueOffset)
	assert.Equal(t, int64(8), d.BlockBytes())
}

func TestParseDefinition_Normalizes(t *testing.T) {
	d, err := ParseDefinition("0x2001,Raw,,,INT8,0,100")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.BlockSize)
	assert.Equal(t, 8, d.SignificantBits)
	assert.Equal(t, int64(0), d.ValueOffset)

	d, err = ParseDefinition("0x2002,Wide,,,INT32,1,100,40")
	require.NoError(t, err)
	assert.Equal(t, 32, d.SignificantBits)

	d, err = ParseDefinition("0x2003,Huge,,,INT64,2,99999999")
	require.NoError(t, err)
	assert.Equal(t, int64(MaxSegmentBytes/16), d.SegmentSize)
}

func TestParseDefinition_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  string
	}{
		{"too few fields", "0x2000,Name,,,INT8,1"},
		{"bad id", "zz,Name,,,INT8,1,10"},
		{"bad block size", "0x2000,Name,,,INT8,x,10"},
		{"bad segment size", "0x2000,Name,,,INT8,1,ten"},
		{"bad bits", "0x2000,Name,,,INT8,1,10,b"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseDefinition(test.def)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrBadDefinition)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestDefinition_RoundTrip(t *testing.T) {
	defs := []string{
		"0x2000,Scan|Amplitude,RA,Amplitude samples,INT16,4,1024,12,2048",
		"0x2001,Raw,,\"first, second\",INT8,1,100,8,0",
		"0x2002,Index,H,Line\\nbreak,INT64,2,50,64,0",
	}
	for _, def := range defs {
		d, err := ParseDefinition(def)
		require.NoError(t, err, def)
		assert.Equal(t, def, d.String())
	}
}

func TestTypesAndFlags(t *testing.T) {
	assert.Equal(t, TypeInt32, ParseType("int32"))
	assert.Equal(t, TypeInvalid, ParseType("FLOAT"))
	assert.Equal(t, 8, TypeInt64.Size())
	assert.Equal(t, "INVALID", Type(42).String())

	f := ParseFlags("HSx")
	assert.Equal(t, FlagShare|FlagHidden, f)
	assert.Equal(t, "SH", f.String())
}
