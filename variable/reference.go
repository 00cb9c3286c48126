package variable

import "github.com/c360/gii/registry"

// conversion is the display overlay of a float reference
type conversion struct {
	unit      string
	mult      float64
	ofs       float64
	cur       Value
	def       Value
	min       Value
	max       Value
	rnd       Value
	sigDigits int
}

// reference is the state shared by all instances of one id. list[0] is the owner.
type reference struct {
	def       Definition
	curFlags  Flags
	cur       Value
	sigDigits int
	global    bool
	handle    registry.Handle
	cnv       conversion
	list      []*Variable
}

func newReference(global bool) *reference {
	return &reference{global: global, cnv: conversion{mult: 1, sigDigits: Unlimited}}
}

func (r *reference) owner() *Variable {
	if len(r.list) == 0 {
		return nil
	}
	return r.list[0]
}

func (r *reference) remove(v *Variable) bool {
	for i, x := range r.list {
		if x == v {
			r.list = append(r.list[:i:i], r.list[i+1:]...)
			return true
		}
	}
	return false
}

func (r *reference) snapshot() []*Variable {
	out := make([]*Variable, len(r.list))
	copy(out, r.list)
	return out
}

// setDefinition loads d, converting every value to the definition type
func (r *reference) setDefinition(d Definition) bool {
	ok := true
	conv := func(v Value) Value {
		c, good := v.Convert(d.Type)
		ok = ok && good
		return c
	}
	d.Round = conv(d.Round)
	d.Default = conv(d.Default)
	d.Min = conv(d.Min)
	d.Max = conv(d.Max)
	states := make([]State, len(d.States))
	for i, st := range d.States {
		states[i] = State{Name: st.Name, Value: conv(st.Value)}
	}
	d.States = states

	r.def = d
	r.curFlags = d.Flags
	r.cur = d.Default
	r.sigDigits = d.SigDigits()
	r.cnv = conversion{mult: 1, sigDigits: Unlimited}
	return ok
}

// copyFrom takes over the shared fields of o for a local snapshot
func (r *reference) copyFrom(o *reference) {
	r.def = o.def
	r.def.States = append([]State(nil), o.def.States...)
	r.curFlags = o.curFlags
	r.cur = o.cur
	r.sigDigits = o.sigDigits
	r.cnv = o.cnv
}

func (r *reference) isConvertible() bool {
	return r.def.Type == TypeFloat && r.cnv.unit != ""
}

// toRaw maps a converted value back to the raw scale
func (r *reference) toRaw(v Value) Value {
	if !r.isConvertible() || r.cnv.mult == 0 {
		return v
	}
	f, ok := v.Convert(TypeFloat)
	if !ok {
		return v
	}
	return NewFloat((f.Float() - r.cnv.ofs) / r.cnv.mult)
}

// toConverted maps a raw value to the converted scale
func (r *reference) toConverted(v Value) Value {
	if !r.isConvertible() {
		return v
	}
	f, ok := v.Convert(TypeFloat)
	if !ok {
		return v
	}
	return f.Scale(r.cnv.mult, r.cnv.ofs)
}
