package unitconv

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gii/metric"
	"github.com/c360/gii/registry"
	"github.com/c360/gii/store"
	"github.com/c360/gii/variable"
)

func tables() store.Data {
	return store.Data{
		"Followers": {
			"0x10": "'x',m,0x100",
		},
		"System Metric": {
			"m/s,-1": "m/s,1,0,0",
			"m/s,5":  "mm/s,1000,0,2",
			"m,2":    "mm,1000,0,-1",
			"m,3":    "mm,1000,0,0",
			"s,6":    "µs,1e6,0,0",
			"rad,5":  "deg,57.2958,0,4",
			"°C,1":   "°C,1",
		},
		"System Imperial": {
			"m/s,5": "\"/s,39.3700787401,0,5",
			"°C,1":  "°F,1.8,32,1",
		},
	}
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *variable.Space, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.Replace(tables())
	space := variable.NewSpace()
	srv := NewServer(space, mem, opts...)
	t.Cleanup(srv.Close)
	return srv, space, mem
}

func setup(t *testing.T, space *variable.Space, def string) *variable.Variable {
	t.Helper()
	v := space.New()
	require.True(t, v.Setup(def, 0), def)
	return v
}

func TestSystem(t *testing.T) {
	sys, ok := ParseSystem("imperial")
	require.True(t, ok)
	assert.Equal(t, Imperial, sys)
	assert.Equal(t, "System Imperial", sys.Section())
	assert.Equal(t, "", PassThrough.Section())

	_, ok = ParseSystem("cgs")
	assert.False(t, ok)
	assert.Len(t, Systems(), 3)
}

func TestServer_LookupConversion(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, ok := srv.LookupConversion("", "m/s", 5)
	assert.False(t, ok, "pass through never converts")

	srv.SetUnitSystem(Metric)
	c, ok := srv.LookupConversion("", "m/s", 5)
	require.True(t, ok)
	assert.Equal(t, "mm/s", c.Unit)
	assert.InDelta(t, 1000.0, c.Multiplier, 0.001)
	assert.InDelta(t, 0.0, c.Offset, 0.001)
	assert.Equal(t, 2, c.Digits)

	c, ok = srv.LookupConversion("", "rad", 5)
	require.True(t, ok)
	assert.Equal(t, "deg", c.Unit)
	assert.InDelta(t, 57.2958, c.Multiplier, 0.001)
	assert.Equal(t, 4, c.Digits)

	_, ok = srv.LookupConversion("", "°C", 1)
	assert.False(t, ok, "too few fields")

	srv.SetUnitSystem(Imperial)
	c, ok = srv.LookupConversion("", "°C", 1)
	require.True(t, ok)
	assert.Equal(t, "°F", c.Unit)
	assert.InDelta(t, 1.8, c.Multiplier, 1e-7)
	assert.InDelta(t, 32.0, c.Offset, 1e-7)
	assert.Equal(t, 1, c.Digits)
}

func TestServer_AskHandler(t *testing.T) {
	var asked []Query
	reg := metric.NewMetricsRegistry()
	srv, _, mem := newTestServer(t,
		WithSystem(Metric),
		WithMetrics(reg),
		WithAskHandler(func(q Query) (variable.Conversion, bool) {
			asked = append(asked, q)
			if q.Unit != "Pa" {
				return variable.Conversion{}, false
			}
			return variable.Conversion{Unit: "kPa", Multiplier: 0.001, Digits: 1}, true
		}))

	c, ok := srv.LookupConversion("p", "Pa", 2)
	require.True(t, ok)
	assert.Equal(t, "kPa", c.Unit)
	require.Len(t, asked, 1)
	assert.Equal(t, Query{System: Metric, Option: "p", Unit: "Pa", Digits: 2}, asked[0])

	v, ok := mem.Get("System Metric", "Pa,2")
	require.True(t, ok, "supplied conversion is stored")
	assert.Equal(t, "kPa,0.001,0,1", v)

	_, ok = srv.LookupConversion("", "Pa", 2)
	require.True(t, ok)
	assert.Len(t, asked, 1, "stored conversion is not asked again")

	_, ok = srv.LookupConversion("", "lx", 0)
	assert.False(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.lookups.WithLabelValues("asked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.lookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.lookups.WithLabelValues("miss")))
}

func TestServer_SetConversion(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.NoError(t, srv.SetConversion(Imperial, "m", 3, variable.Conversion{Unit: "ft", Multiplier: 3.28084, Digits: 2}))
	c, ok := srv.Conversion(Imperial, "m", 3)
	require.True(t, ok)
	assert.Equal(t, "ft", c.Unit)

	assert.Error(t, srv.SetConversion(PassThrough, "m", 3, c))
	require.NoError(t, srv.RemoveConversion(Imperial, "m", 3))
	_, ok = srv.Conversion(Imperial, "m", 3)
	assert.False(t, ok)

	_, err := ParseConversion("mm,abc,0,1")
	assert.Error(t, err)
}

func TestServer_ConvertsNewVariables(t *testing.T) {
	srv, space, _ := newTestServer(t, WithSystem(Metric))

	speed := setup(t, space, "0x1,Speed,m/s,,Belt speed,FLOAT,,0.00001,1,0,10")
	assert.Equal(t, "mm/s", speed.ConvertedUnit())

	view := space.New()
	require.True(t, view.SetupID(0x1, false))
	view.SetConverted(true)
	assert.Equal(t, "mm/s", view.Unit(true))
	assert.Equal(t, "1000.00", view.CurString())

	srv.SetUnitSystem(PassThrough)
	assert.Equal(t, "", speed.ConvertedUnit())
	assert.Equal(t, "1.00000", view.CurString())

	srv.SetUnitSystem(Imperial)
	assert.Equal(t, "\"/s", speed.ConvertedUnit())
	assert.Equal(t, "39.37008", view.CurString())
}

func TestServer_Followers(t *testing.T) {
	srv, space, _ := newTestServer(t, WithSystem(Metric))
	require.Equal(t, 1, srv.Load())
	srv.SetEnabled(true)

	master := setup(t, space, "0x10,Sound Velocity,m/s,A,Sound velocity setting,FLOAT,,10,3000,100,10000")
	server := setup(t, space, "0x100,Time of Flight,s,A,High speed velocity setting,FLOAT,,10e-7,33e-06,0,100e-6")

	client := space.New()
	require.True(t, client.SetupID(0x100, true))
	client.SetConverted(true)

	assert.Equal(t, "mm", client.Unit(true))
	assert.Equal(t, "99", client.CurString())
	assert.Equal(t, -1, master.SigDigits(false))
	assert.Equal(t, 6, client.SigDigits(false))

	require.True(t, server.SetCur(variable.NewFloat(100e-6), false))
	assert.Equal(t, "mm", client.Unit(true))
	assert.Equal(t, "300", client.CurString())

	require.True(t, master.SetCur(variable.NewFloat(1500), false))
	assert.Equal(t, "150", client.CurString(), "follows the master value")

	srv.SetEnabled(false)
	assert.Equal(t, "µs", client.Unit(true), "falls back to the regular table")
}

func TestServer_EnableVariable(t *testing.T) {
	srv, space, _ := newTestServer(t, WithSystem(Metric))
	srv.SetEnableID(0x20)
	assert.Equal(t, registry.ID(0x20), srv.EnableID())
	assert.False(t, srv.Enabled())

	enable := setup(t, space, "0x20,Follow,,,Follower conversion,INTEGER,,1,1,0,1")
	assert.True(t, srv.Enabled(), "attached to a non zero value")

	require.True(t, enable.SetCur(variable.NewInt(0), false))
	assert.False(t, srv.Enabled())
	require.True(t, enable.SetCur(variable.NewInt(1), false))
	assert.True(t, srv.Enabled())
}

func TestServer_Entries(t *testing.T) {
	srv, space, mem := newTestServer(t, WithSystem(Metric))
	srv.SetEnabled(true)

	setup(t, space, "0x10,Sound Velocity,m/s,A,Sound velocity setting,FLOAT,,10,3000,100,10000")
	follower := setup(t, space, "0x101,Echo,s,A,Echo time,FLOAT,,10e-7,33e-06,0,100e-6")
	assert.Equal(t, "µs", follower.ConvertedUnit())

	_, err := srv.AddEntry(0, "x", "m")
	assert.Error(t, err)
	_, err = srv.AddEntry(0x10, "x *", "m")
	assert.Error(t, err)

	e, err := srv.AddEntry(0x10, "x / 2", "m", 0x101, 0)
	require.NoError(t, err)
	assert.Equal(t, []registry.ID{0x101}, e.Followers())
	assert.Equal(t, "mm", follower.ConvertedUnit())
	mult, _ := follower.ConvertMultiplier()
	assert.InDelta(t, 1.5e6, mult, 1e-3)

	require.NoError(t, srv.Save())
	v, ok := mem.Get(FollowersSection, "0x10")
	require.True(t, ok)
	assert.Equal(t, "'x / 2',m,0x101", v)

	assert.True(t, srv.RemoveEntry(0x10))
	assert.False(t, srv.RemoveEntry(0x10))
	assert.Equal(t, "µs", follower.ConvertedUnit(), "back to the regular table")

	require.NoError(t, srv.Save())
	assert.Empty(t, mem.Keys(FollowersSection))
}

func TestServer_LoadSaveRoundTrip(t *testing.T) {
	srv, _, mem := newTestServer(t)
	require.NoError(t, mem.Set(FollowersSection, "0x30", "'x*0.5',m,0x31,0x32"))
	require.NoError(t, mem.Set(FollowersSection, "bogus", "'x',m"))
	require.Equal(t, 2, srv.Load())

	entries := srv.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, registry.ID(0x10), entries[0].MasterID())
	assert.Equal(t, registry.ID(0x30), entries[1].MasterID())
	assert.Equal(t, "x*0.5", entries[1].Script())
	assert.Equal(t, "m", entries[1].Unit())
	assert.Equal(t, []registry.ID{0x31, 0x32}, entries[1].Followers())

	require.NoError(t, srv.Save())
	assert.Equal(t, []string{"0x10", "0x30"}, mem.Keys(FollowersSection))
	v, _ := mem.Get(FollowersSection, "0x30")
	assert.Equal(t, "'x*0.5',m,0x31,0x32", v)
}
