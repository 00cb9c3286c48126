package resultdata

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gii/rangeset"
	"github.com/c360/gii/registry"
)

const scanDef = "0x3000,Scan|Data,,Scan data,INT8,1,20"

type recorder struct {
	notes []Notification
}

func (r *recorder) handle(n Notification) { r.notes = append(r.notes, n) }

func (r *recorder) events() []Event {
	out := make([]Event, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Event
	}
	return out
}

func (r *recorder) find(ev Event) []Notification {
	var out []Notification
	for _, n := range r.notes {
		if n.Event == ev {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) reset() { r.notes = nil }

func listen(v *ResultData) *recorder {
	r := &recorder{}
	v.SetHandler(r.handle)
	r.reset()
	return r
}

func newOwner(t *testing.T, s *Space, def string) *ResultData {
	t.Helper()
	v := s.New()
	require.True(t, v.Setup(def, 0), def)
	return v
}

func TestResultData_Scenario(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)
	client := s.New()
	require.True(t, client.SetupID(0x3000, false))

	data := make([]byte, 10)
	for i := range data {
		data[i] = byte(i * 3)
	}
	require.True(t, owner.BlockWrite(0, 10, data, true))
	assert.Equal(t, int64(20), owner.ReservedBlockCount())
	assert.False(t, client.IsRangeValid(1, 3), "written but not committed")

	require.Equal(t, 1, owner.CommitValidations(false))
	assert.True(t, client.IsRangeValid(1, 3))
	assert.Equal(t, rangeset.New(0, 10), client.AccessRange().WithID(0))

	out := make([]byte, 3)
	require.True(t, client.BlockRead(1, 3, out, false))
	assert.Equal(t, []byte{3, 6, 9}, out)
}

func TestResultData_WriteWithoutReserveFails(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)
	assert.False(t, owner.BlockWrite(0, 4, make([]byte, 4), false))

	require.True(t, owner.SetReservedBlockCount(4, false))
	assert.True(t, owner.BlockWrite(0, 4, make([]byte, 4), false))

	ref := s.New()
	require.True(t, ref.SetupID(0x3000, false))
	assert.False(t, ref.BlockWrite(0, 1, []byte{1}, true), "only the owner writes")
}

func TestResultData_AppendAndRangeMonotonicity(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)
	events := listen(owner)

	require.True(t, owner.SetAccessRange(rangeset.New(0, 5), false))
	assert.Equal(t, []Event{EventReserve, EventAccessChange}, events.events())
	assert.Equal(t, int64(20), events.notes[0].Range.Stop)

	events.reset()
	assert.False(t, owner.SetAccessRange(rangeset.New(1, 3), false), "contained range changes nothing")
	assert.Empty(t, events.notes)

	require.True(t, owner.SetAccessRange(rangeset.New(-4, 8), false))
	assert.Equal(t, rangeset.New(0, 8), owner.AccessRange().WithID(0), "clipped at zero and never shrinks")

	require.True(t, owner.BlockWrite(-1, 2, []byte{7, 7}, true))
	assert.Equal(t, []rangeset.Range{rangeset.New(8, 10).WithID(0x3000)}, owner.CommitList())
}

func TestResultData_CommitEvents(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)
	ref := s.New()
	require.True(t, ref.SetupID(0x3000, false))
	events := listen(ref)

	require.True(t, owner.BlockWrite(0, 2, []byte{1, 2}, true))
	require.True(t, owner.BlockWrite(2, 2, []byte{3, 4}, true))
	require.True(t, owner.BlockWrite(6, 2, []byte{7, 8}, true))

	require.Equal(t, 2, owner.CommitValidations(true))
	committed := events.find(EventCommitted)
	require.Len(t, committed, 2)
	assert.Equal(t, rangeset.New(0, 4), committed[0].Range.WithID(0))
	assert.Equal(t, rangeset.New(6, 8), committed[1].Range.WithID(0))
	assert.Len(t, events.find(EventAccessChange), 1)

	events.reset()
	require.True(t, owner.BlockWrite(0, 4, []byte{1, 2, 3, 4}, false))
	assert.Equal(t, 0, owner.CommitValidations(true), "already committed")
	assert.Empty(t, events.notes)
	assert.Equal(t, int64(6), owner.ValidatedList().Blocks())
}

func TestResultData_RequestSatisfy(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)
	ownerEvents := listen(owner)
	require.True(t, owner.SetAccessRange(rangeset.New(0, 10), false))
	ownerEvents.reset()

	client := s.New()
	require.True(t, client.SetupID(0x3000, false))
	clientEvents := listen(client)

	require.True(t, client.RequestRange(rangeset.New(2, 6)))
	gets := ownerEvents.find(EventGetRange)
	require.Len(t, gets, 1)
	assert.Equal(t, rangeset.New(2, 6), gets[0].Range.WithID(0))
	assert.Same(t, client, gets[0].Caller)

	ownerEvents.reset()
	require.True(t, client.RequestRange(rangeset.New(3, 5)), "covered by the pending request")
	assert.Empty(t, ownerEvents.find(EventGetRange))

	require.True(t, owner.BlockWrite(2, 4, []byte{1, 2, 3, 4}, false))
	owner.CommitValidations(false)

	got := clientEvents.find(EventGotRange)
	require.Len(t, got, 2)
	assert.Equal(t, rangeset.New(2, 6), got[0].Range.WithID(0))
	assert.Equal(t, registry.ID(0x3000), registry.ID(got[0].Range.ID))

	assert.True(t, client.RequestRange(rangeset.New(2, 4)), "already valid")
	assert.True(t, client.RequestRange(rangeset.Range{}), "empty request")
	assert.False(t, client.RequestRange(rangeset.New(8, 30)), "out of range")
}

func TestResultData_RequestFailures(t *testing.T) {
	s := NewSpace()
	unattached := s.New()
	assert.False(t, unattached.RequestRange(rangeset.New(0, 1)), "zero reference")

	owner := newOwner(t, s, scanDef)
	require.True(t, owner.SetAccessRange(rangeset.New(0, 10), false))
	client := s.New()
	require.True(t, client.SetupID(0x3000, false))
	assert.False(t, client.RequestRange(rangeset.New(0, 4)), "owner without handler")
}

func TestResultData_RefusedRequestNotRegistered(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)
	require.True(t, owner.SetAccessRange(rangeset.New(0, 10), false))
	client := s.New()
	require.True(t, client.SetupID(0x3000, false))
	clientEvents := listen(client)

	require.False(t, client.RequestRange(rangeset.New(0, 4)))

	// the owner starts listening; the same request must reach it
	ownerEvents := listen(owner)
	require.True(t, client.RequestRange(rangeset.New(0, 4)))
	gets := ownerEvents.find(EventGetRange)
	require.Len(t, gets, 1)
	assert.Equal(t, rangeset.New(0, 4), gets[0].Range.WithID(0))

	require.True(t, owner.BlockWrite(0, 4, []byte{1, 2, 3, 4}, false))
	owner.CommitValidations(false)
	assert.Len(t, clientEvents.find(EventGotRange), 1, "only the accepted request is answered")
}

func TestResultData_BlockReadRequest(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)
	ownerEvents := listen(owner)
	require.True(t, owner.SetAccessRange(rangeset.New(0, 10), false))

	client := s.New()
	require.True(t, client.SetupID(0x3000, false))
	out := make([]byte, 2)
	assert.False(t, client.BlockReadRequest(0, 2, out, true))
	assert.Len(t, ownerEvents.find(EventGetRange), 1)

	require.True(t, owner.BlockWrite(0, 2, []byte{5, 6}, false))
	owner.CommitValidations(false)
	assert.True(t, client.BlockReadRequest(0, 2, out, true))
	assert.Equal(t, []byte{5, 6}, out)

	assert.False(t, client.BlockRead(4, 2, out, false))
	assert.True(t, client.BlockRead(4, 2, out, true), "forced reads skip validation")
}

func TestResultData_ClearValidations(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)
	events := listen(owner)
	assert.False(t, owner.ClearValidations(false), "nothing to clear")

	require.True(t, owner.BlockWrite(0, 4, []byte{1, 2, 3, 4}, true))
	owner.CommitValidations(false)
	events.reset()

	require.True(t, owner.ClearValidations(false))
	assert.Equal(t, []Event{EventClear, EventAccessChange}, events.events())
	assert.True(t, owner.AccessRange().Empty())
	assert.Equal(t, 0, owner.SegmentCount())
	assert.False(t, owner.IsRangeValid(0, 4))
}

func TestResultData_Ownership(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)

	dup := s.New()
	assert.False(t, dup.Setup(scanDef, 0), "duplicate id")
	assert.False(t, dup.Setup("0x0,Zero,,,INT8,1,20", 0), "id 0 is reserved")
	assert.False(t, dup.Setup("0x3001,NoSeg,,,INT8,1,0", 0), "segment size required")
	assert.True(t, dup.Setup(scanDef, 1), "offset id")
	assert.Equal(t, registry.ID(0x3001), dup.ID())

	ref := s.New()
	require.True(t, ref.SetupID(0x3000, false))
	ownerEvents := listen(owner)
	refEvents := listen(ref)

	ref.MakeOwner()
	assert.True(t, ref.IsOwner())
	assert.False(t, owner.IsOwner())
	assert.Equal(t, []Event{EventLostOwner}, ownerEvents.events())
	assert.Equal(t, []Event{EventGetOwner}, refEvents.events())

	got, ok := s.Lookup(0x3000)
	require.True(t, ok)
	assert.Same(t, ref, got)
}

func TestResultData_CloseOwner(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)
	ref := s.New()
	require.True(t, ref.SetupID(0x3000, true))
	events := listen(ref)

	owner.Close()
	assert.Equal(t, []Event{EventInvalid, EventIDChanged}, events.events())
	assert.False(t, ref.IsAttached())
	assert.Equal(t, registry.ID(0x3000), ref.DesiredID())
	assert.Equal(t, 0, s.Len())

	events.reset()
	newOwner(t, s, scanDef)
	assert.True(t, ref.IsAttached(), "desired id reattaches")
	assert.Contains(t, events.events(), EventNewID)
}

func TestResultData_Values(t *testing.T) {
	s := NewSpace()
	rd := newOwner(t, s, "0x3100,Samples,,,INT16,2,10,12,2048")
	assert.Equal(t, uint64(4095), rd.ValueRange())

	data := []byte{0x00, 0xF8, 0x10, 0x00}
	assert.Equal(t, uint64(0x800), rd.ValueU(0, data), "upper bits masked")
	assert.Equal(t, int64(0), rd.Value(0, data))
	assert.Equal(t, int64(16-2048), rd.Value(1, data))
	assert.Equal(t, uint64(0), rd.ValueU(2, data), "index past the data")

	wide := newOwner(t, s, "0x3101,Wide,,,INT64,1,10")
	assert.Equal(t, ^uint64(0), wide.ValueRange())
}

func TestResultData_RecycleFlag(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)

	require.True(t, owner.SetFlag(FlagRecycle, false))
	assert.True(t, owner.IsFlag(FlagRecycle))

	require.True(t, owner.BlockWrite(0, 1, []byte{1}, true))
	assert.False(t, owner.UnsetFlag(FlagRecycle, false), "storage in use")
	assert.True(t, owner.UpdateFlags(FlagArchive, false))
	assert.True(t, owner.IsFlag(FlagRecycle|FlagArchive), "recycle bit kept while storage is in use")
}

func TestResultData_Updates(t *testing.T) {
	s := NewSpace()
	owner := newOwner(t, s, scanDef)
	require.True(t, owner.BlockWrite(0, 6, make([]byte, 6), true))
	owner.CommitValidations(false)
	require.True(t, owner.SetFlag(FlagArchive, false))

	line := owner.WriteUpdate()
	assert.Equal(t, "(0x3000,0,6,A)", line)

	u, err := ParseUpdate(line)
	require.NoError(t, err)
	assert.Equal(t, registry.ID(0x3000), u.ID)

	require.True(t, owner.ReadUpdate("(0x3000,0,12,AH)"))
	assert.Equal(t, int64(12), owner.BlockCount())
	assert.True(t, owner.IsFlag(FlagHidden))

	require.True(t, owner.ReadUpdate("(0x3000,0,3,A)"))
	assert.Equal(t, int64(3), owner.BlockCount(), "shrinking restarts the channel")
	assert.False(t, owner.IsRangeValid(0, 1))

	assert.False(t, owner.ReadUpdate("(0x9999,0,3,A)"))
	_, err = ParseUpdate("0x3000,0,3")
	assert.Error(t, err)
}

func TestSpace_CreateAndWriteUpdates(t *testing.T) {
	s := NewSpace()
	input := strings.Join([]string{
		"; result channels",
		scanDef,
		"0x3001,Broken,,,INT8,1,0",
		"0x3002,Other,A,,INT32,1,8",
	}, "\n")
	created, err := s.Create(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 2, s.Instances())

	var buf bytes.Buffer
	require.NoError(t, s.WriteUpdates(&buf))
	assert.Equal(t, "(0x3000,0,0,)\n(0x3002,0,0,A)\n", buf.String())

	n, err := s.ReadUpdates(strings.NewReader("(0x3000,0,4,)\n(0x3002,0,0,AH)\ngarbage\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
