package resultdata

import (
	"encoding/binary"
	"math"

	"github.com/c360/gii/rangeset"
)

// SetAccessRange widens the access range with r, clipped to non negative blocks.
// Capacity grows to cover the new range first, announced with EventReserve, then
// EventAccessChange follows. It reports whether the access range changed; only an
// owner can change it.
func (v *ResultData) SetAccessRange(r rangeset.Range, skipSelf bool) bool {
	if !v.IsOwner() {
		return false
	}
	ref := v.ref
	cur := ref.ranges.Managed()
	nr := cur.Hull(r).Intersect(rangeset.New(0, math.MaxInt64))
	if nr.Equal(cur) {
		return false
	}
	if nr.Stop > ref.data.BlockCount() {
		if !ref.data.Reserve(nr.Stop) {
			v.space.logger.Warn("Failed to reserve blocks", "id", ref.def.ID, "blocks", nr.Stop)
			return false
		}
		v.emitLocal(EventReserve, rangeset.New(0, ref.data.BlockCount()).WithID(ref.id()), skipSelf)
	}
	ref.ranges.SetManaged(nr)
	v.emitLocal(EventAccessChange, ref.managed(), skipSelf)
	return true
}

// SetReservedBlockCount grows the capacity to n blocks and emits EventReserve.
// Asking for less than the current capacity succeeds without a change.
func (v *ResultData) SetReservedBlockCount(n int64, skipSelf bool) bool {
	if !v.IsOwner() {
		v.space.logger.Debug("Only the owner can reserve blocks", "id", v.ID())
		return false
	}
	ref := v.ref
	if n <= ref.data.BlockCount() {
		return true
	}
	if !ref.data.Reserve(n) {
		v.space.logger.Warn("Failed to reserve blocks", "id", ref.def.ID, "blocks", n)
		return false
	}
	v.emitLocal(EventReserve, rangeset.New(0, ref.data.BlockCount()).WithID(ref.id()), skipSelf)
	return true
}

// BlockWrite writes n blocks from data at block ofs, -1 appends at the stop of the access range.
// Without autoReserve the capacity must already hold the blocks.
// The written range is validated on the next CommitValidations.
func (v *ResultData) BlockWrite(ofs, n int64, data []byte, autoReserve bool) bool {
	if !v.IsOwner() {
		v.space.logger.Debug("Only the owner can write blocks", "id", v.ID())
		return false
	}
	ref := v.ref
	if ofs == -1 {
		ofs = ref.ranges.Managed().Stop
	}
	if ofs < 0 || n < 0 {
		return false
	}
	if ref.data.BlockCount() < ofs+n {
		if !autoReserve || !v.SetReservedBlockCount(ofs+n, false) {
			v.space.logger.Debug("Not enough blocks reserved", "id", ref.def.ID, "offset", ofs, "count", n)
			return false
		}
	}
	if !ref.data.Write(ofs, n, data) {
		v.space.logger.Debug("Block write failed", "id", ref.def.ID, "offset", ofs, "count", n)
		return false
	}
	ref.validated.Add(rangeset.New(ofs, ofs+n).WithID(ref.id()))
	return true
}

// ValidateRange marks r as written without writing it
func (v *ResultData) ValidateRange(r rangeset.Range) {
	if v.IsOwner() {
		v.ref.validated.Add(r.WithID(v.ref.id()))
	}
}

// CommitList returns the written ranges waiting for CommitValidations
func (v *ResultData) CommitList() []rangeset.Range { return v.ref.validated.Ranges() }

// ValidatedList returns the committed ranges
func (v *ResultData) ValidatedList() rangeset.Set { return v.ref.ranges.Accessible() }

// CommitValidations makes the written ranges readable. Requesters whose ranges are
// now complete get EventGotRange, a grown access range is announced with
// EventAccessChange and every merged extent gets its own EventCommitted.
// It returns the number of extents committed.
func (v *ResultData) CommitValidations(skipSelf bool) int {
	if !v.IsOwner() || v.ref.validated.Empty() {
		return 0
	}
	ref := v.ref
	pending := ref.validated
	ref.validated = rangeset.Set{}
	pending.Exclude(ref.ranges.Accessible().Ranges()...)
	extents := pending.Ranges()
	if len(extents) == 0 {
		return 0
	}

	before := ref.ranges.Managed()
	for _, req := range ref.ranges.SetAccessible(extents...) {
		for _, rd := range ref.snapshot() {
			if rd.transID != 0 && rd.transID == req.ID && rd.handler != nil {
				rd.deliver(EventGotRange, v, req.WithID(ref.id()))
			}
		}
	}
	if !before.Equal(ref.ranges.Managed()) {
		v.emitLocal(EventAccessChange, ref.managed(), skipSelf)
	}
	for _, e := range extents {
		v.emitLocal(EventCommitted, e.WithID(ref.id()), skipSelf)
	}
	return len(extents)
}

// ClearValidations drops the uncommitted writes and, when anything was committed or
// requested, clears the channel: EventClear, reset of ranges and storage, EventAccessChange.
// It reports whether the channel was cleared.
func (v *ResultData) ClearValidations(skipSelf bool) bool {
	if !v.IsOwner() {
		return false
	}
	ref := v.ref
	ref.validated.Clear()
	if !ref.ranges.IsFlushable() {
		return false
	}
	v.emitLocal(EventClear, ref.managed(), skipSelf)
	ref.ranges.Flush()
	ref.data.Flush()
	v.emitLocal(EventAccessChange, ref.managed(), skipSelf)
	return true
}

// ClearRequests drops the outstanding requests of this instance
func (v *ResultData) ClearRequests() {
	v.ref.ranges.FlushRequests(v.transID)
}

// RequestRange asks for the blocks of r. It returns true when the blocks are already
// readable or the owner was asked for them with EventGetRange. It fails on the zero
// reference, for ranges outside the access range and when the owner has no handler.
func (v *ResultData) RequestRange(r rangeset.Range) bool {
	ref := v.ref
	if ref.def.ID == 0 {
		return false
	}
	if r.Empty() {
		return true
	}
	switch ref.ranges.Check(r) {
	case rangeset.Accessible:
		return true
	case rangeset.OutOfRange:
		v.space.logger.Debug("Request out of range", "id", ref.def.ID, "range", r, "access", ref.ranges.Managed())
		return false
	}
	owner := ref.owner()
	if owner == nil || owner.handler == nil {
		v.space.logger.Debug("Request impossible, owner has no handler", "id", ref.def.ID, "range", r)
		return false
	}
	_, actual := ref.ranges.Request(r.WithID(v.transID))
	for _, a := range actual {
		owner.deliver(EventGetRange, v, a.WithID(ref.id()))
	}
	return true
}

// IsRangeValid reports whether the n blocks at ofs are committed
func (v *ResultData) IsRangeValid(ofs, n int64) bool {
	if n == 0 {
		return true
	}
	return v.ref.ranges.IsAccessible(rangeset.New(ofs, ofs+n))
}

// BlockRead copies n blocks at ofs to dst. Unless force is set the blocks must be committed.
func (v *ResultData) BlockRead(ofs, n int64, dst []byte, force bool) bool {
	if !force && !v.IsRangeValid(ofs, n) {
		return false
	}
	return v.ref.data.Read(ofs, n, dst)
}

// BlockReadRequest reads like BlockRead. When the blocks are not committed yet and
// autoRequest is set they are requested, the read still reports false.
func (v *ResultData) BlockReadRequest(ofs, n int64, dst []byte, autoRequest bool) bool {
	if v.IsRangeValid(ofs, n) {
		return v.ref.data.Read(ofs, n, dst)
	}
	if autoRequest {
		v.RequestRange(rangeset.New(ofs, ofs+n))
	}
	return false
}

// An index result holds in block i the data block count up to and including
// entry i, so index entries [a,b) cover data blocks [index[a-1], index[b-1]).
func indexBlocks(r rangeset.Range) rangeset.Range {
	return rangeset.Range{Start: max(r.Start-1, 0), Stop: max(r.Stop, 0)}
}

// IsIndexRangeValid reports whether the index blocks describing entries r are committed
func (v *ResultData) IsIndexRangeValid(r rangeset.Range) bool {
	return v.ref.ranges.IsAccessible(indexBlocks(r))
}

// RequestIndexRange requests the index blocks describing entries r
func (v *ResultData) RequestIndexRange(r rangeset.Range) bool {
	return v.RequestRange(indexBlocks(r))
}

// ReadIndexRange returns the data range covered by index entries r
func (v *ResultData) ReadIndexRange(r rangeset.Range) (rangeset.Range, bool) {
	if r.Empty() || r.Start < 0 {
		return rangeset.Range{}, false
	}
	buf := make([]byte, v.BlockBytes())
	var start uint64
	if r.Start > 0 {
		if !v.BlockRead(r.Start-1, 1, buf, false) {
			return rangeset.Range{}, false
		}
		start = v.ValueU(0, buf)
	}
	if !v.BlockRead(r.Stop-1, 1, buf, false) {
		return rangeset.Range{}, false
	}
	return rangeset.New(int64(start), int64(v.ValueU(0, buf))), true
}

// ValueRange returns the largest raw element value
func (v *ResultData) ValueRange() uint64 {
	bits := v.ref.def.SignificantBits
	if bits >= 64 {
		return math.MaxUint64
	}
	return 1<<bits - 1
}

// ValueU returns element idx of data masked to the significant bits
func (v *ResultData) ValueU(idx int, data []byte) uint64 {
	size := v.ref.def.Type.Size()
	pos := idx * size
	if idx < 0 || pos+size > len(data) {
		return 0
	}
	var raw uint64
	switch size {
	case 1:
		raw = uint64(data[pos])
	case 2:
		raw = uint64(binary.LittleEndian.Uint16(data[pos:]))
	case 4:
		raw = uint64(binary.LittleEndian.Uint32(data[pos:]))
	default:
		raw = binary.LittleEndian.Uint64(data[pos:])
	}
	return raw & v.ValueRange()
}

// Value returns element idx of data masked to the significant bits minus the value offset
func (v *ResultData) Value(idx int, data []byte) int64 {
	return int64(v.ValueU(idx, data)) - v.ref.def.ValueOffset
}

// UpdateFlags replaces the current flags of an owner and emits EventFlagsChange when they changed.
// Recycling only toggles while no block is reserved, otherwise the recycle bit keeps its state.
func (v *ResultData) UpdateFlags(f Flags, skipSelf bool) bool {
	if !v.IsOwner() {
		return false
	}
	ref := v.ref
	if (ref.curFlags^f)&FlagRecycle != 0 {
		if !ref.recycle(f.Has(FlagRecycle)) {
			f = f&^FlagRecycle | ref.curFlags&FlagRecycle
		}
	}
	if ref.curFlags == f {
		return false
	}
	ref.curFlags = f
	v.emitLocal(EventFlagsChange, ref.managed(), skipSelf)
	return true
}

// SetFlag sets bits of the current flags on an owner. It fails when recycling cannot be enabled.
func (v *ResultData) SetFlag(f Flags, skipSelf bool) bool {
	if !v.IsOwner() {
		return false
	}
	if f.Has(FlagRecycle) && !v.ref.recycle(true) {
		return false
	}
	v.UpdateFlags(v.ref.curFlags|f, skipSelf)
	return true
}

// UnsetFlag clears bits of the current flags on an owner. It fails when recycling cannot be disabled.
func (v *ResultData) UnsetFlag(f Flags, skipSelf bool) bool {
	if !v.IsOwner() {
		return false
	}
	if f.Has(FlagRecycle) && !v.ref.recycle(false) {
		return false
	}
	v.UpdateFlags(v.ref.curFlags&^f, skipSelf)
	return true
}
