package infoserver

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gii/metric"
	"github.com/c360/gii/registry"
	"github.com/c360/gii/resultdata"
	"github.com/c360/gii/variable"
)

type fixture struct {
	srv     *Server
	vars    *variable.Space
	results *resultdata.Space
	effects []Effect
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{vars: variable.NewSpace(), results: resultdata.NewSpace()}
	f.srv = New(f.vars, opts...)
	f.srv.trace = func(e Effect) { f.effects = append(f.effects, e) }
	require.True(t, f.srv.Setup("Main", "Device", 0x10000, 0xFF0000, 0xF000))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) variable(t *testing.T, def string) (owner, ref *variable.Variable) {
	t.Helper()
	owner = f.vars.New()
	require.True(t, owner.Setup(def, 0), def)
	ref = f.vars.New()
	require.True(t, ref.SetupID(owner.ID(), false))
	return owner, ref
}

func (f *fixture) result(t *testing.T, def string) *resultdata.ResultData {
	t.Helper()
	r := f.results.New()
	require.True(t, r.Setup(def, 0), def)
	return r
}

func TestTable(t *testing.T) {
	table := NewTable()
	for _, from := range States() {
		assert.Equal(t, EffectNone, table.Effect(from, from), from.String())
		if from != Off {
			assert.Equal(t, EffectAnyToOff, table.Effect(from, Off), from.String())
		}
	}
	assert.Equal(t, EffectRunStart, table.Effect(Off, Run))
	assert.Equal(t, EffectRestart, table.Effect(Stop, Run))
	assert.Equal(t, EffectRestart, table.Effect(Record, Run))
	assert.Equal(t, EffectRecordStart, table.Effect(Run, Record))
	assert.Equal(t, EffectPauseToStop, table.Effect(Pause, Stop))
	assert.Equal(t, EffectNone, table.Effect(Record, Pause))
	assert.Equal(t, EffectIllegal, table.Effect(Off, Pause))
	assert.Equal(t, EffectIllegal, table.Effect(Run, Pause))
	assert.Equal(t, EffectIllegal, table.Effect(Off, State(9)))
	assert.Equal(t, "<unknown>", State(9).String())
	assert.Equal(t, "RECORD", Record.String())
	assert.Equal(t, "B", ClassB.String())
}

func TestServer_EveryTransition(t *testing.T) {
	table := NewTable()
	for _, from := range States() {
		for _, to := range States() {
			f := newFixture(t)
			f.srv.cur = from
			f.effects = nil
			f.srv.SetState(to)

			want := table.Effect(from, to)
			switch {
			case from == to:
				assert.Empty(t, f.effects, "%s to %s", from, to)
				assert.Equal(t, from, f.srv.State())
			case want == EffectIllegal:
				assert.Equal(t, []Effect{EffectAnyToOff}, f.effects, "%s to %s", from, to)
				assert.Equal(t, Off, f.srv.State())
			default:
				assert.Equal(t, []Effect{want}, f.effects, "%s to %s", from, to)
				assert.Equal(t, to, f.srv.State())
			}
			assert.Equal(t, int64(f.srv.State()), f.srv.StateVariable().Cur().Int())
		}
	}
}

func TestServer_StateVariableDefinition(t *testing.T) {
	f := newFixture(t)
	v := f.srv.StateVariable()
	assert.Equal(t, registry.ID(0x10000), v.ID())
	assert.Equal(t, "Device|State", v.Name())
	assert.Equal(t, "Generic information server state Main", v.Description())
	assert.True(t, v.IsFlag(variable.FlagShare))
	require.Len(t, v.States(), 5)
	assert.Equal(t, "PAUSE", v.StateName(variable.NewInt(3)))
	assert.Equal(t, int64(4), v.Max(false).Int())
}

func TestServer_Lifecycle(t *testing.T) {
	f := newFixture(t)
	_, a := f.variable(t, "0x10001,Gain,dB,,Gain,INTEGER,,1,0,0,40")
	_, b := f.variable(t, "0x10002,Range,m,,Range,INTEGER,,1,10,0,100")
	_, c := f.variable(t, "0x10003,Mode,,,Mode,INTEGER,,1,0,0,3")
	fixed, fixedRef := f.variable(t, "0x10004,Serial,,R,Serial,INTEGER,,1,7,0,100")

	f.srv.AttachVariable(a.Owner(), ClassA)
	f.srv.AttachVariable(b.Owner(), ClassB)
	f.srv.AttachVariable(c.Owner(), ClassC)
	f.srv.AttachVariable(fixed, ClassB)

	var seen [][2]State
	f.srv.OnStateChange(func(prev, cur State) { seen = append(seen, [2]State{prev, cur}) })

	f.srv.SetState(Run)
	assert.True(t, b.SetCur(variable.NewInt(20), false))
	assert.True(t, f.srv.IsGeneratingResults())

	f.srv.SetState(Record)
	assert.True(t, a.SetCur(variable.NewInt(5), false), "class A stays writable")
	assert.False(t, b.SetCur(variable.NewInt(30), false))
	assert.False(t, c.SetCur(variable.NewInt(1), false))

	f.srv.SetState(Pause)
	assert.False(t, f.srv.IsGeneratingResults())
	assert.False(t, b.SetCur(variable.NewInt(30), false))

	f.srv.SetState(Stop)
	assert.True(t, b.SetCur(variable.NewInt(30), false), "class B writable after stop")
	assert.False(t, c.SetCur(variable.NewInt(1), false), "class C stays read only")

	f.srv.SetState(Off)
	assert.True(t, c.SetCur(variable.NewInt(1), false))
	assert.True(t, fixed.IsFlag(variable.FlagReadOnly), "read only by definition")
	assert.False(t, fixedRef.SetCur(variable.NewInt(8), false))

	assert.Equal(t, [][2]State{{Off, Run}, {Run, Record}, {Record, Pause}, {Pause, Stop}, {Stop, Off}}, seen)
	assert.Equal(t, []Effect{EffectRunStart, EffectRecordStart, EffectNone, EffectPauseToStop, EffectAnyToOff}, f.effects)
}

func TestServer_ArchiveAndRecycle(t *testing.T) {
	f := newFixture(t)
	archived := f.result(t, "0x10100,Scan|Data,A,Scan data,INT8,1,20")
	plain := f.result(t, "0x10101,Scan|Aux,,Aux data,INT8,1,20")
	require.NoError(t, f.srv.AttachResult(archived))
	require.NoError(t, f.srv.AttachResult(plain))
	assert.False(t, archived.IsFlag(resultdata.FlagArchive), "no archive while off")

	owner, _ := f.variable(t, "0x10005,Note,,A,Note,INTEGER,,1,0,0,10")
	f.srv.AttachVariable(owner, ClassA)
	assert.False(t, owner.IsFlag(variable.FlagArchive))

	require.True(t, archived.BlockWrite(0, 4, make([]byte, 4), true))
	require.Equal(t, 1, archived.CommitValidations(false))
	require.True(t, archived.IsRangeValid(0, 4))

	f.srv.SetState(Run)
	assert.True(t, archived.IsFlag(resultdata.FlagArchive))
	assert.True(t, owner.IsFlag(variable.FlagArchive))
	assert.False(t, plain.IsFlag(resultdata.FlagArchive))
	assert.False(t, archived.IsRangeValid(0, 4), "validations cleared")
	assert.True(t, archived.IsFlag(resultdata.FlagRecycle))

	f.srv.SetState(Record)
	assert.False(t, archived.IsFlag(resultdata.FlagRecycle))

	f.srv.SetState(Off)
	assert.False(t, archived.IsFlag(resultdata.FlagArchive))
	assert.False(t, owner.IsFlag(variable.FlagArchive))
}

func TestServer_Attachments(t *testing.T) {
	f := newFixture(t)
	r := f.result(t, "0x10100,Scan|Data,,Scan data,INT8,1,20")
	require.NoError(t, f.srv.AttachResult(r))
	assert.ErrorIs(t, f.srv.AttachResult(r), ErrDuplicateAttachment)

	owner, _ := f.variable(t, "0x10001,Gain,dB,,Gain,INTEGER,,1,0,0,40")
	f.srv.AttachVariable(owner, ClassA)
	f.srv.AttachVariable(owner, ClassC)
	class, ok := f.srv.ClassOf(owner)
	require.True(t, ok)
	assert.Equal(t, ClassC, class)

	vars, results := f.srv.Attached()
	assert.Equal(t, [3]int{0, 0, 1}, vars)
	assert.Equal(t, 1, results)

	assert.True(t, f.srv.DetachVariable(owner))
	assert.False(t, f.srv.DetachVariable(owner))
	assert.True(t, f.srv.DetachResult(r))
	assert.False(t, f.srv.DetachResult(r))
}

func TestServer_RemoteStateWrite(t *testing.T) {
	f := newFixture(t)
	remote := f.vars.New()
	require.True(t, remote.SetupID(0x10000, false))

	require.True(t, remote.SetCur(variable.NewInt(int64(Run)), false))
	assert.Equal(t, Run, f.srv.State())

	require.True(t, remote.SetCur(variable.NewInt(int64(Pause)), false))
	assert.Equal(t, Off, f.srv.State(), "illegal change recovers to off")
	assert.Equal(t, int64(Off), remote.Cur().Int())
	assert.Equal(t, []Effect{EffectRunStart, EffectAnyToOff}, f.effects)
}

func TestServer_IsServerID(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.srv.IsServerID(0x10000))
	assert.True(t, f.srv.IsServerID(0x10ABC))
	assert.False(t, f.srv.IsServerID(0x11000), "other server")
	assert.False(t, f.srv.IsServerID(0x20000), "other device")

	srv := New(variable.NewSpace())
	defer srv.Close()
	assert.False(t, srv.IsServerID(0))
}

func TestServer_Metrics(t *testing.T) {
	m := metric.NewMetricsRegistry().CoreMetrics()
	f := newFixture(t, WithMetrics(m))
	f.srv.SetState(Run)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InfoState.WithLabelValues("Main")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateChanges.WithLabelValues("Main", "RUN")))
}
