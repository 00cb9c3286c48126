package rangeset

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RequestOutOfRange(t *testing.T) {
	m := NewManager(true)

	res, _ := m.Request(New(0, 1))
	assert.Equal(t, OutOfRange, res, "empty managed range rejects everything")

	m.SetManaged(New(0, 10))
	res, _ = m.Request(New(5, 11))
	assert.Equal(t, OutOfRange, res)
}

func TestManager_RequestSatisfy(t *testing.T) {
	m := NewManager(true)
	m.SetManaged(New(0, 20))

	res, actual := m.Request(New(2, 6).WithID(1))
	require.Equal(t, Inaccessible, res)
	assert.Equal(t, []Range{New(2, 6)}, actual)

	// an overlapping request only asks for what is not requested yet
	res, actual = m.Request(New(4, 8).WithID(2))
	require.Equal(t, Inaccessible, res)
	assert.Equal(t, []Range{New(6, 8)}, actual)

	// fully requested already
	res, actual = m.Request(New(3, 5).WithID(3))
	assert.Equal(t, Inaccessible, res)
	assert.Empty(t, actual)
	assert.Len(t, m.Requests(), 3)

	satisfied := m.SetAccessible(New(0, 6))
	require.Len(t, satisfied, 2)
	assert.Equal(t, uint64(1), satisfied[0].ID)
	assert.Equal(t, uint64(3), satisfied[1].ID)
	assert.Equal(t, []Range{New(6, 8)}, m.ActualRequests())

	satisfied = m.SetAccessible(New(6, 8))
	require.Len(t, satisfied, 1)
	assert.Equal(t, uint64(2), satisfied[0].ID)
	assert.Empty(t, m.Requests())
	assert.Empty(t, m.ActualRequests())

	res, _ = m.Request(New(1, 7))
	assert.Equal(t, Accessible, res)
	assert.True(t, m.IsAccessible(New(0, 8)))
	assert.False(t, m.IsAccessible(New(0, 9)))
}

func TestManager_CheckDoesNotRegister(t *testing.T) {
	m := NewManager(true)
	assert.Equal(t, OutOfRange, m.Check(New(0, 1)))

	m.SetManaged(New(0, 10))
	m.SetAccessible(New(0, 2))
	assert.Equal(t, Accessible, m.Check(New(0, 2)))
	assert.Equal(t, OutOfRange, m.Check(New(8, 12)))
	assert.Equal(t, Inaccessible, m.Check(New(1, 5)))
	assert.Empty(t, m.Requests())
	assert.Empty(t, m.ActualRequests())

	res, actual := m.Request(New(1, 5))
	assert.Equal(t, Inaccessible, res)
	if diff := cmp.Diff([]Range{New(2, 5)}, actual); diff != "" {
		t.Errorf("actual requests mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_AutoManaged(t *testing.T) {
	m := NewManager(true)
	m.SetAccessible(New(0, 4), New(10, 12))
	assert.Equal(t, New(0, 12), m.Managed())

	assert.True(t, m.SetAutoManaged(false))
	m.SetAccessible(New(20, 30))
	assert.Equal(t, New(0, 12), m.Managed())
}

func TestManager_FlushRequests(t *testing.T) {
	m := NewManager(true)
	m.SetManaged(New(0, 10))
	m.Request(New(0, 2).WithID(1))
	m.Request(New(3, 4).WithID(2))

	m.FlushRequests(1)
	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, uint64(2), reqs[0].ID)

	assert.True(t, m.IsFlushable())
	assert.True(t, m.Flush())
	assert.False(t, m.IsFlushable())
	assert.False(t, m.Flush())
	assert.True(t, m.Managed().Empty())
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "accessible", Accessible.String())
	assert.Equal(t, "inaccessible", Inaccessible.String())
	assert.Equal(t, "out-of-range", OutOfRange.String())
}
