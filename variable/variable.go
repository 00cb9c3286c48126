// Package variable implements GII Variables: named scalar parameters shared between
// an owner instance and any number of references.
//
// Instances live in a Space. The first instance set up with a definition owns the id;
// instances set up with the same id become references that mirror the owner's value
// and flags and receive its events. Writes on a reference go to the shared record unless
// the reference is read only.
package variable

import (
	"strings"

	"github.com/c360/gii/registry"
)

// Variable is one instance of a variable
type Variable struct {
	space     *Space
	ref       *reference
	desiredID registry.ID
	global    bool
	handler   Handler
	converted bool
	temporary *Value
	closed    bool
}

// Space returns the space the instance lives in
func (v *Variable) Space() *Space { return v.space }

// ID returns the id of the attached reference, 0 when unattached
func (v *Variable) ID() registry.ID { return v.ref.def.ID }

// DesiredID returns the id the instance waits for
func (v *Variable) DesiredID() registry.ID { return v.desiredID }

// IsGlobal reports whether the instance takes part in global events
func (v *Variable) IsGlobal() bool { return v.global }

// IsOwner reports whether the instance owns its reference
func (v *Variable) IsOwner() bool { return v.ref.owner() == v }

// IsAttached reports whether the instance is attached to a reference other than the zero one
func (v *Variable) IsAttached() bool { return v.ref != v.space.zero.ref }

// Owner returns the owner of the attached reference
func (v *Variable) Owner() *Variable { return v.ref.owner() }

// UsageCount returns the number of instances sharing the reference
func (v *Variable) UsageCount() int { return len(v.ref.list) }

// Name returns the full name including group levels
func (v *Variable) Name() string { return v.ref.def.Name }

// NameLevels returns the group levels of the name
func (v *Variable) NameLevels() []string {
	return strings.Split(v.ref.def.Name, NameSeparator)
}

// Description returns the description
func (v *Variable) Description() string { return v.ref.def.Description }

// Type returns the value type
func (v *Variable) Type() Type { return v.ref.def.Type }

// IsNumber reports whether the value type is numeric
func (v *Variable) IsNumber() bool { return v.ref.def.Type.IsNumber() }

// ConvertOption returns the conversion option of the definition
func (v *Variable) ConvertOption() string { return v.ref.def.ConvertOption }

// StringKind returns the filtering kind of a string variable
func (v *Variable) StringKind() StringKind { return v.ref.def.Kind() }

// States returns the labelled values
func (v *Variable) States() []State { return v.ref.def.States }

// Definition returns the definition the reference was set up with
func (v *Variable) Definition() Definition { return v.ref.def }

// SetupString rebuilds the definition string of the reference
func (v *Variable) SetupString() string { return v.ref.def.String() }

// Flags returns the current flags
func (v *Variable) Flags() Flags { return v.ref.curFlags }

// DefinitionFlags returns the flags of the definition
func (v *Variable) DefinitionFlags() Flags { return v.ref.def.Flags }

// IsFlag reports whether every bit of f is set in the current flags
func (v *Variable) IsFlag(f Flags) bool { return v.ref.curFlags.Has(f) }

// IsReadOnly reports whether the instance may not change the value.
// An owner is never read only, a reference is when the ReadOnly flag is set.
// Instances attached to the zero reference are always read only.
func (v *Variable) IsReadOnly() bool {
	if !v.IsOwner() && v.ref.curFlags.Has(FlagReadOnly) {
		return true
	}
	return v.ref == v.space.zero.ref
}

// SetHandler sets the event handler and notifies EventLinked, nil clears it and notifies EventUnlinked
func (v *Variable) SetHandler(h Handler) {
	if h != nil {
		v.handler = h
		v.emitPrivate(EventLinked)
		return
	}
	if v.handler != nil {
		v.emitPrivate(EventUnlinked)
		v.handler = nil
	}
}

// Setup parses def and sets the instance up as owner of id def.ID+idOffset
func (v *Variable) Setup(def string, idOffset registry.ID) bool {
	d, err := ParseDefinition(def)
	if err != nil {
		v.space.logger.Warn("Invalid variable definition", "definition", def, "error", err)
		return false
	}
	return v.SetupDefinition(d, idOffset)
}

// SetupDefinition sets the instance up as owner of id d.ID+idOffset.
// Global instances fail on a duplicate id and on id 0. On success every global instance
// gets EventNewID, instances waiting for the id are attached and the instance gets EventSetup.
func (v *Variable) SetupDefinition(d Definition, idOffset registry.ID) bool {
	if v.closed {
		return false
	}
	s := v.space
	localOwner := !v.global && v.IsOwner() && v.IsAttached() && len(v.ref.list) > 1
	if !localOwner {
		v.attachRef(s.zero.ref)
	}
	v.clearDesiredID()

	d.ID += idOffset
	var ref *reference
	switch {
	case localOwner:
		ref = v.ref
	case v.global:
		if owner, exists := s.refs.Lookup(d.ID); exists && len(owner.list) > 0 {
			s.logger.Warn("Duplicate variable id",
				"id", d.ID, "name", d.Name, "owner", owner.def.Name)
			return false
		}
		ref = newReference(true)
	default:
		ref = newReference(false)
	}

	cur := ref.cur
	if !ref.setDefinition(d) {
		s.logger.Warn("Variable definition values do not match type",
			"id", d.ID, "name", d.Name, "type", d.Type)
		if localOwner {
			v.attachRef(s.zero.ref)
		}
		return false
	}
	if localOwner {
		ref.cur = cur
	}

	if v.global {
		h, err := s.refs.Register(d.ID, ref)
		if err != nil {
			s.logger.Warn("Variable id rejected", "id", d.ID, "name", d.Name, "error", err)
			return false
		}
		ref.handle = h
	}

	if localOwner {
		v.emitLocal(EventIDChanged, false)
	} else {
		v.attachRef(ref)
	}
	if v.global {
		v.emitGlobal(EventNewID, false)
		v.attachDesired()
	}
	v.emitPrivate(EventSetup)
	return true
}

// SetupID attaches the instance to the owner of id. With waitForOwner the id becomes the
// desired id so the instance attaches as soon as an owner for it is set up.
// It reports whether an owner was found.
func (v *Variable) SetupID(id registry.ID, waitForOwner bool) bool {
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
func (v *Variable) MakeOwner() {
	if !v.IsAttached() {
		return
	}
	prev := v.ref.owner()
	if prev == v {
		return
	}
	v.ref.remove(v)
	v.ref.list = append([]*Variable{v}, v.ref.list...)
	prev.deliver(EventLostOwner, v)
	v.emitPrivate(EventGetOwner)
}

// Close detaches the instance. Closing an owner invalidates the reference: every
// instance gets EventInvalid and the others fall back to the zero reference keeping
// their desired id.
func (v *Variable) Close() {
	if v.closed {
		return
	}
	v.emitPrivate(EventRemove)
	v.SetHandler(nil)
	v.attachRef(nil)
	v.clearDesiredID()
	v.temporary = nil
	v.closed = true
	v.space.forget(v)
}

func (v *Variable) setDesiredID(id registry.ID) {
	if v.desiredID == id {
		return
	}
	v.clearDesiredID()
	v.desiredID = id
	if id != 0 && v.global {
		v.space.refs.Await(id, v)
	}
	v.emitPrivate(EventDesiredID)
}

func (v *Variable) clearDesiredID() {
	if v.desiredID != 0 {
		v.space.refs.Cancel(v.desiredID, v)
		v.desiredID = 0
	}
}

func (v *Variable) attachRef(ref *reference) {
	if v.ref == ref {
		return
	}
	s := v.space
	// A local instance does not join a global reference, it takes a snapshot of it.
	if ref != nil && ref != s.zero.ref && !v.global && ref.global && v.ref != nil {
		if v.ref == s.zero.ref {
			v.ref.remove(v)
			v.ref = newReference(false)
			v.ref.list = []*Variable{v}
		}
		v.ref.copyFrom(ref)
		v.emitPrivate(EventIDChanged)
		return
	}

	if old := v.ref; old != nil {
		if old != s.zero.ref && old.owner() == v {
			v.emitLocal(EventInvalid, false)
			s.release(old, v)
		} else {
			old.remove(v)
		}
		v.ref = nil
	}
	if ref != nil {
		v.ref = ref
		ref.list = append(ref.list, v)
		v.emitPrivate(EventIDChanged)
	}
}

// release drops a reference whose owner went away
func (s *Space) release(ref *reference, owner *Variable) {
	ref.remove(owner)
	if ref.global && !ref.handle.IsZero() {
		s.refs.Unregister(ref.handle)
		ref.handle = registry.Handle{}
	}
	remaining := ref.snapshot()
	ref.list = nil
	for _, x := range remaining {
		x.ref = nil
		x.attachRef(s.zero.ref)
	}
}

// attachDesired attaches the instances waiting for the id just set up
func (v *Variable) attachDesired() int {
	id := v.ref.def.ID
	ref := v.ref
	return v.space.refs.BroadcastNewID(id, func(w *Variable) {
		if w.global && !w.closed && w.desiredID == id && w.ref != ref {
			w.attachRef(ref)
		}
	})
}

func (v *Variable) deliver(ev Event, caller *Variable) {
	if v.closed && ev != EventRemove && ev != EventUnlinked {
		return
	}
	if v.temporary != nil {
		if (caller != v && ev == EventValueChange) || ev == EventIDChanged || ev == EventConverted {
			v.updateTemporary(true)
		}
	}
	if v.handler != nil {
		v.handler(Notification{Event: ev, Caller: caller, Target: v})
	}
}

func (v *Variable) emitPrivate(ev Event) {
	v.deliver(ev, v)
}

// emitLocal delivers ev to a snapshot of the instances sharing the reference
func (v *Variable) emitLocal(ev Event, skipSelf bool) int {
	n := 0
	for _, t := range v.ref.snapshot() {
		if skipSelf && t == v {
			continue
		}
		t.deliver(ev, v)
		n++
	}
	return n
}

// emitGlobal delivers ev to every global instance. Local instances keep it local.
func (v *Variable) emitGlobal(ev Event, skipSelf bool) int {
	if !v.global {
		return v.emitLocal(ev, skipSelf)
	}
	targets := make([]*Variable, 0, len(v.space.instances))
	for _, t := range v.space.instances {
		if t.global && (!skipSelf || t != v) {
			targets = append(targets, t)
		}
	}
	for _, t := range targets {
		t.deliver(ev, v)
	}
	return len(targets)
}

// Emit delivers ev with its scope: global, local to the reference or private
func (v *Variable) Emit(ev Event, skipSelf bool) int {
	switch {
	case ev.IsGlobal():
		return v.emitGlobal(ev, skipSelf)
	case ev.IsLocal():
		return v.emitLocal(ev, skipSelf)
	default:
		v.emitPrivate(ev)
		return 1
	}
}
