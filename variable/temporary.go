package variable

// SetTemporary switches the instance-private edit value on or off. Switching off
// notifies the instance with EventValueChange when the edit differed from the shared value.
func (v *Variable) SetTemporary(on bool) {
	if on == (v.temporary != nil) {
		return
	}
	if on {
		v.temporary = &Value{}
		v.updateTemporary(false)
		return
	}
	different := !v.temporary.Equal(v.CurValue(true))
	v.temporary = nil
	if different {
		v.emitPrivate(EventValueChange)
	}
}

// IsTemporary reports whether the instance holds an edit value
func (v *Variable) IsTemporary() bool { return v.temporary != nil }

// ApplyTemporary writes the edit value to the shared value
func (v *Variable) ApplyTemporary(skipSelf bool) bool {
	if v.temporary == nil {
		return false
	}
	val := *v.temporary
	if v.IsConverted() {
		val = v.ref.toRaw(val)
	}
	return v.updateValue(val, skipSelf)
}

// IsTemporaryDifferent reports whether the edit value differs from the shared value
func (v *Variable) IsTemporaryDifferent() bool {
	if v.temporary == nil {
		return false
	}
	return !v.temporary.Equal(v.CurValue(true))
}

// UpdateTemporary resets the edit value to the shared value. The instance gets
// EventValueChange unless skipSelf is set.
func (v *Variable) UpdateTemporary(skipSelf bool) bool {
	return v.updateTemporary(skipSelf)
}

func (v *Variable) updateTemporary(skipSelf bool) bool {
	if v.temporary == nil {
		return false
	}
	cur := v.CurValue(true)
	if v.temporary.Type() == cur.Type() && v.temporary.Equal(cur) {
		return false
	}
	*v.temporary = cur
	if !skipSelf {
		v.emitPrivate(EventValueChange)
	}
	return true
}

func (v *Variable) updateTempValue(val Value, skipSelf bool) bool {
	if v.IsReadOnly() {
		return false
	}
	var (
		nv Value
		ok bool
	)
	if v.ref.def.Type == TypeString {
		s := val.String()
		if n := v.ref.def.Round.Int(); n > 0 && int64(len(s)) > n {
			s = s[:n]
		}
		nv, ok = NewString(s), true
	} else {
		nv, ok = v.normalize(val, true)
	}
	if !ok {
		return false
	}
	changed := !v.temporary.Equal(nv)
	*v.temporary = nv
	if changed && !skipSelf {
		v.emitPrivate(EventValueChange)
	}
	return changed
}
