package resultdata

import (
	"github.com/c360/gii/rangeset"
	"github.com/c360/gii/registry"
)

// reference is the state shared by all instances of one id. list[0] is the owner.
type reference struct {
	def       Definition
	curFlags  Flags
	handle    registry.Handle
	data      *Storage
	ranges    *rangeset.Manager
	validated rangeset.Set
	list      []*ResultData
}

func newReference(d Definition) *reference {
	recycle := 0
	if d.Flags.Has(FlagRecycle) {
		recycle = RecycleSize
	}
	return &reference{
		def:      d,
		curFlags: d.Flags,
		data:     NewStorage(d.SegmentSize, d.BlockBytes(), recycle),
		ranges:   rangeset.NewManager(true),
	}
}

func (r *reference) id() uint64 { return uint64(r.def.ID) }

func (r *reference) owner() *ResultData {
	if len(r.list) == 0 {
		return nil
	}
	return r.list[0]
}

func (r *reference) remove(v *ResultData) bool {
	for i, x := range r.list {
		if x == v {
			r.list = append(r.list[:i:i], r.list[i+1:]...)
			return true
		}
	}
	return false
}

func (r *reference) snapshot() []*ResultData {
	out := make([]*ResultData, len(r.list))
	copy(out, r.list)
	return out
}

// managed returns the access range tagged with the reference id
func (r *reference) managed() rangeset.Range {
	return r.ranges.Managed().WithID(r.id())
}

// recycle switches ring reuse of segments, only possible while nothing is stored
func (r *reference) recycle(enable bool) bool {
	if r.data.SegmentCount() > 0 {
		return false
	}
	if enable == (r.data.RecycleCount() > 0) {
		return true
	}
	n := 0
	if enable {
		n = RecycleSize
	}
	return r.data.SetRecycleCount(n)
}
