// Package resultdata implements GII ResultData: named channels of fixed size blocks
// written by one owner and read by any number of references.
//
// The owner writes blocks and commits them; committed blocks become readable by every
// instance sharing the id. A reference asks for blocks it needs with RequestRange, the
// owner gets EventGetRange and the requester gets EventGotRange once the blocks are committed.
package resultdata

import (
	"github.com/c360/gii/rangeset"
	"github.com/c360/gii/registry"
)

// ResultData is one instance of a result data channel
type ResultData struct {
	space     *Space
	ref       *reference
	desiredID registry.ID
	handler   Handler
	transID   uint64
	closed    bool
}

// Space returns the space the instance lives in
func (v *ResultData) Space() *Space { return v.space }

// ID returns the id of the attached reference, 0 when unattached
func (v *ResultData) ID() registry.ID { return v.ref.def.ID }

// DesiredID returns the id the instance waits for
func (v *ResultData) DesiredID() registry.ID { return v.desiredID }

// TransID returns the transaction id range requests of this instance are tagged with
func (v *ResultData) TransID() uint64 { return v.transID }

// IsOwner reports whether the instance owns a reference other than the zero one
func (v *ResultData) IsOwner() bool { return v.ref.owner() == v && v.ref.def.ID != 0 }

// IsAttached reports whether the instance is attached to a reference other than the zero one
func (v *ResultData) IsAttached() bool { return v.ref != v.space.zero.ref }

// Owner returns the owner of the attached reference
func (v *ResultData) Owner() *ResultData { return v.ref.owner() }

// UsageCount returns the number of instances sharing the reference
func (v *ResultData) UsageCount() int { return len(v.ref.list) }

// Name returns the name
func (v *ResultData) Name() string { return v.ref.def.Name }

// Description returns the description
func (v *ResultData) Description() string { return v.ref.def.Description }

// Type returns the element type
func (v *ResultData) Type() Type { return v.ref.def.Type }

// Definition returns the normalized definition of the reference
func (v *ResultData) Definition() Definition { return v.ref.def }

// SetupString rebuilds the definition string of the reference
func (v *ResultData) SetupString() string { return v.ref.def.String() }

// Flags returns the current flags
func (v *ResultData) Flags() Flags { return v.ref.curFlags }

// DefinitionFlags returns the flags of the definition
func (v *ResultData) DefinitionFlags() Flags { return v.ref.def.Flags }

// IsFlag reports whether every bit of f is set in the current flags
func (v *ResultData) IsFlag(f Flags) bool { return v.ref.curFlags.Has(f) }

// BlockSize returns the elements per block
func (v *ResultData) BlockSize() int64 { return v.ref.def.BlockSize }

// BlockBytes returns the bytes per block
func (v *ResultData) BlockBytes() int64 { return v.ref.data.BlockBytes() }

// SegmentSize returns the blocks per segment
func (v *ResultData) SegmentSize() int64 { return v.ref.data.SegmentSize() }

// SegmentCount returns the number of reserved segments
func (v *ResultData) SegmentCount() int { return v.ref.data.SegmentCount() }

// BlockCount returns the stop of the access range
func (v *ResultData) BlockCount() int64 { return v.ref.ranges.Managed().Stop }

// ReservedBlockCount returns the block capacity
func (v *ResultData) ReservedBlockCount() int64 { return v.ref.data.BlockCount() }

// ReservedSize returns the bytes allocated for the blocks
func (v *ResultData) ReservedSize() int64 { return v.ref.data.Size() }

// AccessRange returns the range of blocks the owner advertises
func (v *ResultData) AccessRange() rangeset.Range { return v.ref.managed() }

// SignificantBits returns the bits of an element that carry the value
func (v *ResultData) SignificantBits() int { return v.ref.def.SignificantBits }

// ValueOffset returns the offset subtracted from every element value
func (v *ResultData) ValueOffset() int64 { return v.ref.def.ValueOffset }

// SetHandler sets the event handler and notifies EventLinked, nil clears it and notifies EventUnlinked
func (v *ResultData) SetHandler(h Handler) {
	if h != nil {
		v.handler = h
		v.emitPrivate(EventLinked, v.ref.managed())
		return
	}
	if v.handler != nil {
		v.emitPrivate(EventUnlinked, v.ref.managed())
		v.handler = nil
	}
}

// Setup parses def and sets the instance up as owner of id def.ID+idOffset
func (v *ResultData) Setup(def string, idOffset registry.ID) bool {
	d, err := ParseDefinition(def)
	if err != nil {
		v.space.logger.Warn("Invalid result data definition", "definition", def, "error", err)
		return false
	}
	return v.SetupDefinition(d, idOffset)
}

// SetupDefinition sets the instance up as owner of id d.ID+idOffset.
// It fails on id 0, a zero segment size and a duplicate id. On success every
// instance gets EventNewID, instances waiting for the id are attached and the
// instance gets EventSetup.
func (v *ResultData) SetupDefinition(d Definition, idOffset registry.ID) bool {
	if v.closed {
		return false
	}
	s := v.space
	v.attachRef(s.zero.ref)
	v.clearDesiredID()

	d = d.Normalize()
	if d.ID == 0 {
		s.logger.Warn("Result data id 0 is reserved", "name", d.Name)
		return false
	}
	d.ID += idOffset
	if d.SegmentSize == 0 {
		s.logger.Warn("Result data without segment size", "id", d.ID, "name", d.Name)
		return false
	}
	if owner, exists := s.refs.Lookup(d.ID); exists && len(owner.list) > 0 {
		s.logger.Warn("Duplicate result data id",
			"id", d.ID, "name", d.Name, "owner", owner.def.Name)
		return false
	}

	ref := newReference(d)
	h, err := s.refs.Register(d.ID, ref)
	if err != nil {
		s.logger.Warn("Result data id rejected", "id", d.ID, "name", d.Name, "error", err)
		return false
	}
	ref.handle = h

	v.attachRef(ref)
	v.emitGlobal(EventNewID, rangeset.Range{}, false)
	v.attachDesired()
	v.emitPrivate(EventSetup, ref.managed())
	return true
}

// SetupID attaches the instance to the owner of id. With waitForOwner the id becomes the
// desired id so the instance attaches as soon as an owner for it is set up.
// It reports whether an owner was found.
func (v *ResultData) SetupID(id registry.ID, waitForOwner bool) bool {
	if v.closed {
		return false
	}
	if waitForOwner {
		v.setDesiredID(id)
	}
	ref := v.space.zero.ref
	if found, ok := v.space.refs.Lookup(id); ok && id != 0 && len(found.list) > 0 {
		ref = found
	}
	v.attachRef(ref)
	return ref != v.space.zero.ref
}

// MakeOwner takes ownership of the reference. The previous owner gets EventLostOwner,
// then the instance gets EventGetOwner.
func (v *ResultData) MakeOwner() {
	if !v.IsAttached() {
		return
	}
	prev := v.ref.owner()
	if prev == v {
		return
	}
	v.ref.remove(v)
	v.ref.list = append([]*ResultData{v}, v.ref.list...)
	prev.deliver(EventLostOwner, v, v.ref.managed())
	v.emitPrivate(EventGetOwner, v.ref.managed())
}

// Close detaches the instance. Closing an owner invalidates the reference: every
// instance gets EventInvalid and the others fall back to the zero reference keeping
// their desired id.
func (v *ResultData) Close() {
	if v.closed {
		return
	}
	v.emitPrivate(EventRemove, rangeset.Range{})
	v.SetHandler(nil)
	v.ClearRequests()
	v.attachRef(nil)
	v.clearDesiredID()
	v.closed = true
	v.space.forget(v)
}

func (v *ResultData) setDesiredID(id registry.ID) {
	if v.desiredID == id {
		return
	}
	v.clearDesiredID()
	v.desiredID = id
	if id != 0 {
		v.space.refs.Await(id, v)
	}
	v.emitPrivate(EventDesiredID, rangeset.Range{ID: uint64(id)})
}

func (v *ResultData) clearDesiredID() {
	if v.desiredID != 0 {
		v.space.refs.Cancel(v.desiredID, v)
		v.desiredID = 0
	}
}

func (v *ResultData) attachRef(ref *reference) {
	if v.ref == ref {
		return
	}
	s := v.space
	if old := v.ref; old != nil {
		if old != s.zero.ref && old.owner() == v {
			v.emitLocal(EventInvalid, old.managed(), false)
			s.release(old, v)
		} else {
			old.remove(v)
		}
		v.ref = nil
	}
	if ref != nil {
		v.ref = ref
		ref.list = append(ref.list, v)
		v.emitPrivate(EventIDChanged, ref.managed())
	}
}

// release drops a reference whose owner went away
func (s *Space) release(ref *reference, owner *ResultData) {
	ref.remove(owner)
	if !ref.handle.IsZero() {
		s.refs.Unregister(ref.handle)
		ref.handle = registry.Handle{}
	}
	remaining := ref.snapshot()
	ref.list = nil
	for _, x := range remaining {
		x.ref = nil
		x.attachRef(s.zero.ref)
	}
	ref.data.Flush()
}

// attachDesired attaches the instances waiting for the id just set up
func (v *ResultData) attachDesired() int {
	id := v.ref.def.ID
	ref := v.ref
	return v.space.refs.BroadcastNewID(id, func(w *ResultData) {
		if !w.closed && w.desiredID == id && w.ref != ref {
			w.attachRef(ref)
		}
	})
}

func (v *ResultData) deliver(ev Event, caller *ResultData, rng rangeset.Range) {
	if v.closed && ev != EventRemove && ev != EventUnlinked {
		return
	}
	if v.handler != nil {
		v.handler(Notification{Event: ev, Caller: caller, Target: v, Range: rng})
	}
}

func (v *ResultData) emitPrivate(ev Event, rng rangeset.Range) {
	v.deliver(ev, v, rng)
}

// emitLocal delivers ev to a snapshot of the instances sharing the reference
func (v *ResultData) emitLocal(ev Event, rng rangeset.Range, skipSelf bool) int {
	n := 0
	for _, t := range v.ref.snapshot() {
		if skipSelf && t == v {
			continue
		}
		t.deliver(ev, v, rng)
		n++
	}
	return n
}

// emitGlobal delivers ev to every instance of the space
func (v *ResultData) emitGlobal(ev Event, rng rangeset.Range, skipSelf bool) int {
	targets := make([]*ResultData, 0, len(v.space.instances))
	for _, t := range v.space.instances {
		if !skipSelf || t != v {
			targets = append(targets, t)
		}
	}
	for _, t := range targets {
		t.deliver(ev, v, rng)
	}
	return len(targets)
}

// Emit delivers ev carrying the access range with its scope: global, local to the reference or private
func (v *ResultData) Emit(ev Event, skipSelf bool) int {
	rng := v.ref.managed()
	switch {
	case ev.IsGlobal():
		return v.emitGlobal(ev, rng, skipSelf)
	case ev.IsLocal():
		return v.emitLocal(ev, rng, skipSelf)
	default:
		v.emitPrivate(ev, rng)
		return 1
	}
}
