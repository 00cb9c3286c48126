package variable

import "strings"

// Cur returns the value this instance shows: the temporary value when one is held,
// otherwise the current value in the instance's view.
func (v *Variable) Cur() Value {
	if v.temporary != nil {
		return *v.temporary
	}
	return v.CurValue(true)
}

// CurValue returns the shared current value, converted when asked and the instance uses the converted view
func (v *Variable) CurValue(converted bool) Value {
	if converted && v.IsConverted() {
		return v.ref.cnv.cur
	}
	return v.ref.cur
}

// Default returns the default value
func (v *Variable) Default(converted bool) Value {
	if converted && v.IsConverted() {
		return v.ref.cnv.def
	}
	return v.ref.def.Default
}

// Min returns the lower bound
func (v *Variable) Min(converted bool) Value {
	if converted && v.IsConverted() {
		return v.ref.cnv.min
	}
	return v.ref.def.Min
}

// Max returns the upper bound
func (v *Variable) Max(converted bool) Value {
	if converted && v.IsConverted() {
		return v.ref.cnv.max
	}
	return v.ref.def.Max
}

// Round returns the rounding step, for strings the maximum length
func (v *Variable) Round(converted bool) Value {
	if converted && v.IsConverted() {
		return v.ref.cnv.rnd
	}
	return v.ref.def.Round
}

// Unit returns the unit, the converted unit when asked and the instance uses the converted view
func (v *Variable) Unit(converted bool) string {
	if converted && v.IsConverted() {
		return v.ref.cnv.unit
	}
	return v.ref.def.Unit
}

// SigDigits returns the decimals a float prints with
func (v *Variable) SigDigits(converted bool) int {
	if converted && v.IsConverted() {
		return v.ref.cnv.sigDigits
	}
	return v.ref.sigDigits
}

// StateName returns the label of an integer state value or "" when unlabelled
func (v *Variable) StateName(val Value) string {
	for _, st := range v.ref.def.States {
		if st.Value.Equal(val) {
			return st.Name
		}
	}
	return ""
}

// CurString formats the shown value. Integers with states print their label.
func (v *Variable) CurString() string {
	cur := v.Cur()
	switch v.ref.def.Type {
	case TypeInteger:
		if name := v.StateName(cur); name != "" {
			return name
		}
		return cur.Format(0)
	case TypeFloat:
		return cur.Format(v.SigDigits(true))
	default:
		return cur.String()
	}
}

// SetCur writes val, in the instance's view, to the shared value. It returns false when
// the instance is read only or when the clamped and rounded value equals the current one,
// in which case no event is emitted. Otherwise instances sharing the reference get
// EventValueChange, the caller only when skipSelf is false.
func (v *Variable) SetCur(val Value, skipSelf bool) bool {
	if v.temporary != nil {
		return v.updateTempValue(val, skipSelf)
	}
	if v.IsConverted() {
		val = v.ref.toRaw(val)
	}
	return v.updateValue(val, skipSelf)
}

// LoadCur sets the value on an owner without the instance's view, notifying the owner too.
// Used when loading stored values.
func (v *Variable) LoadCur(val Value) bool {
	if !v.IsOwner() || !v.global || v.ref.curFlags.Has(FlagReadOnly) || !v.IsAttached() {
		return false
	}
	nv, ok := val.Convert(v.ref.def.Type)
	if !ok {
		return false
	}
	if v.IsNumber() && !v.ref.def.Max.Equal(v.ref.def.Min) {
		nv = nv.Clamp(v.ref.def.Min, v.ref.def.Max)
	}
	return v.updateValue(nv, false)
}

// Increase adds steps times the round value
func (v *Variable) Increase(steps int, skipSelf bool) bool {
	if !v.IsNumber() || v.ref.def.Round.IsZero() {
		return false
	}
	step := NewInt(int64(steps))
	if v.temporary != nil {
		rnd := v.Round(true)
		return v.updateTempValue(v.temporary.Add(mul(rnd, step)), skipSelf)
	}
	return v.updateValue(v.ref.cur.Add(mul(v.ref.def.Round, step)), skipSelf)
}

func mul(a, b Value) Value {
	if a.Type() == TypeInteger {
		return NewInt(a.Int() * b.Int())
	}
	return NewFloat(a.Float() * b.Float())
}

// normalize converts val to the variable type, clamps and rounds it in the raw or converted scale
func (v *Variable) normalize(val Value, converted bool) (Value, bool) {
	ref := v.ref
	switch ref.def.Type {
	case TypeInteger, TypeFloat:
		nv, ok := val.Convert(ref.def.Type)
		if !ok {
			return val, false
		}
		lo, hi, rnd := ref.def.Min, ref.def.Max, ref.def.Round
		if converted && v.IsConverted() {
			lo, hi, rnd = ref.cnv.min, ref.cnv.max, ref.cnv.rnd
		}
		if !hi.Equal(lo) {
			nv = nv.Clamp(lo, hi)
		}
		if !rnd.IsZero() {
			nv = nv.Round(rnd)
		}
		return nv, true
	case TypeString:
		s := filterString(ref.def.Kind(), val.String())
		if n := ref.def.Round.Int(); n > 0 && int64(len(s)) > n {
			s = s[:n]
		}
		return NewString(s), true
	case TypeBinary:
		return val.Convert(TypeBinary)
	default:
		return val, false
	}
}

func (v *Variable) updateValue(val Value, skipSelf bool) bool {
	if v.IsReadOnly() {
		return false
	}
	nv, ok := v.normalize(val, false)
	if !ok {
		return false
	}
	ref := v.ref
	changed := !ref.cur.Equal(nv)
	ref.cur = nv
	if !changed {
		return false
	}
	if ref.cnv.unit != "" {
		ref.cnv.cur = ref.toConverted(nv)
	}
	v.emitLocal(EventValueChange, skipSelf)
	return true
}

func filterString(kind StringKind, s string) string {
	drop := func(s, chars string) string {
		return strings.Map(func(r rune) rune {
			if strings.ContainsRune(chars, r) {
				return -1
			}
			return r
		}, s)
	}
	switch kind {
	case KindPath:
		return strings.Trim(drop(s, `/*?"<>|,`), " ")
	case KindDirectory:
		s = strings.Trim(drop(s, `/*?"<>|,`), " ")
		if s != "" && !strings.HasSuffix(s, `\`) {
			s += `\`
		}
		return s
	case KindFilename:
		return strings.Trim(drop(s, `/\:*?"<>|,`), " ")
	case KindSubdirectory:
		s = strings.Trim(drop(s, `/:*?"<>|,`), `\ `)
		if s != "" {
			s += `\`
		}
		return s
	default:
		return s
	}
}

// UpdateFlags replaces the current flags of an owner. It emits EventFlagsChange when they changed.
func (v *Variable) UpdateFlags(f Flags, skipSelf bool) bool {
	if !v.IsOwner() || !v.IsAttached() {
		return false
	}
	if v.ref.curFlags == f {
		return false
	}
	v.ref.curFlags = f
	v.emitLocal(EventFlagsChange, skipSelf)
	return true
}

// SetFlag sets bits of the current flags on an owner
func (v *Variable) SetFlag(f Flags, skipSelf bool) bool {
	return v.UpdateFlags(v.ref.curFlags|f, skipSelf)
}

// UnsetFlag clears bits of the current flags on an owner
func (v *Variable) UnsetFlag(f Flags, skipSelf bool) bool {
	return v.UpdateFlags(v.ref.curFlags&^f, skipSelf)
}
