package variable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/registry"
)

func TestParseDefinition(t *testing.T) {
	d, err := ParseDefinition(`0x1000,Machine|Speed,mm/s,AP,"Speed, axis X",FLOAT,len,0.01,1.5,0,20`)
	require.NoError(t, err)

	assert.Equal(t, registry.ID(0x1000), d.ID)
	assert.Equal(t, "Machine|Speed", d.Name)
	assert.Equal(t, "mm/s", d.Unit)
	assert.Equal(t, FlagArchive|FlagParameter, d.Flags)
	assert.Equal(t, "Speed, axis X", d.Description)
	assert.Equal(t, TypeFloat, d.Type)
	assert.Equal(t, "len", d.ConvertOption)
	assert.Equal(t, 0.01, d.Round.Float())
	assert.Equal(t, 1.5, d.Default.Float())
	assert.Equal(t, 20.0, d.Max.Float())
	assert.Equal(t, 2, d.SigDigits())
	assert.Empty(t, d.States)
}

func TestParseDefinition_States(t *testing.T) {
	d, err := ParseDefinition("0x2000,Mode,,S,Operating mode,INTEGER,,1,0,0,2,OFF=0,ON=1,AUTO=2")
	require.NoError(t, err)

	require.Len(t, d.States, 3)
	assert.Equal(t, "AUTO", d.States[2].Name)
	assert.Equal(t, int64(2), d.States[2].Value.Int())
	assert.Equal(t, 0, d.SigDigits())
}

func TestParseDefinition_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"too few fields", "0x1,a,b,c"},
		{"bad id", "zz,Name,,,d,FLOAT,,0.1,0,0,1"},
		{"bad number", "0x1,Name,,,d,FLOAT,,0.1,abc,0,1"},
		{"bad state", "0x1,Name,,,d,INTEGER,,1,0,0,1,ON=yes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition(tt.in)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrBadDefinition)
		})
	}
}

func TestDefinition_RoundTrip(t *testing.T) {
	defs := []string{
		"0x1000,Test|Var,mm,A,Test variable,FLOAT,,0.1,0,0,20",
		"0x2000,Mode,,S,Operating mode,INTEGER,,1,0,0,2,OFF=0,ON=1,AUTO=2",
		`0x3000,Note,M,,"Free text, multiple lines",STRING,,0,a\nb,,`,
		"0xABC,Dir,D,W,Output directory,STRING,,64,out\\,,",
	}
	for _, s := range defs {
		d, err := ParseDefinition(s)
		require.NoError(t, err, s)

		again, err := ParseDefinition(d.String())
		require.NoError(t, err, d.String())
		assert.Equal(t, d, again, s)
	}
}

func TestDefinition_MultiLineDefault(t *testing.T) {
	d, err := ParseDefinition(`0x3000,Note,M,,Text,STRING,,0,line1\nline2,,`)
	require.NoError(t, err)
	assert.Equal(t, KindMultiLine, d.Kind())
	assert.Equal(t, "line1\nline2", d.Default.String())
}

func TestDefinition_StringKinds(t *testing.T) {
	kinds := map[string]StringKind{"": KindNormal, "N": KindNormal, "M": KindMultiLine, "P": KindPath,
		"D": KindDirectory, "S": KindSubdirectory, "F": KindFilename}
	for unit, want := range kinds {
		assert.Equal(t, want, Definition{Type: TypeString, Unit: unit}.Kind(), unit)
	}
	assert.Equal(t, KindNormal, Definition{Type: TypeFloat, Unit: "P"}.Kind())
}
