package variable

// IsConverted reports whether the instance shows converted values
func (v *Variable) IsConverted() bool {
	return v.converted && v.ref.isConvertible()
}

// SetConverted selects the converted view for this instance. The instance gets
// EventConverted when the view changes and conversion values exist.
func (v *Variable) SetConverted(enable bool) {
	if v.converted == enable {
		return
	}
	v.converted = enable
	if v.ref.cnv.unit != "" {
		v.emitPrivate(EventConverted)
	}
}

// ConvertedUnit returns the unit of the conversion overlay, "" when values are not converted
func (v *Variable) ConvertedUnit() string { return v.ref.cnv.unit }

// ConvertMultiplier returns the multiplier and offset of the conversion overlay
func (v *Variable) ConvertMultiplier() (mult, offset float64) {
	return v.ref.cnv.mult, v.ref.cnv.ofs
}

// SetConvertValues sets the conversion overlay of a float owner: shown values become
// raw*mult+offset in unit. With digits Unlimited the decimals derive from the raw
// significant digits and the magnitude of mult. Instances sharing the reference get
// EventConverted, the owner included.
func (v *Variable) SetConvertValues(unit string, mult, offset float64, digits int) bool {
	if !v.IsOwner() || !v.IsAttached() || v.ref.def.Type != TypeFloat {
		return false
	}
	ref := v.ref
	c := &ref.cnv
	if c.mult == mult && c.ofs == offset && c.unit == unit {
		if digits == Unlimited || c.sigDigits == digits {
			return true
		}
	}
	prevUnit := c.unit
	c.mult = mult
	c.ofs = offset
	c.cur = ref.cur.Scale(mult, offset)
	c.def = ref.def.Default.Scale(mult, offset)
	c.min = ref.def.Min.Scale(mult, offset)
	c.max = ref.def.Max.Scale(mult, offset)
	c.rnd = ref.def.Round.Scale(mult, 0)
	switch {
	case digits != Unlimited:
		c.sigDigits = digits
	case ref.sigDigits != Unlimited:
		c.sigDigits = ref.sigDigits + Magnitude(mult) + 1
	default:
		c.sigDigits = Unlimited
	}
	c.unit = unit
	if unit != "" || prevUnit != "" {
		v.emitLocal(EventConverted, false)
	}
	return true
}

// SetConvert switches conversion of a float owner with a unit on or off. Switching on asks
// the space's convert handler through EventConvert, or its unit converter when no handler
// is installed. Switching off restores unit values.
func (v *Variable) SetConvert(convert bool) bool {
	if !v.IsOwner() || !v.IsAttached() || v.ref.def.Type != TypeFloat || v.ref.def.Unit == "" {
		return false
	}
	s := v.space
	if !convert {
		if v.ref.cnv.unit == "" {
			return true
		}
		return v.SetConvertValues("", 1, 0, Unlimited)
	}
	if s.convert != nil {
		s.convert(Notification{Event: EventConvert, Caller: v, Target: s.zero})
		return true
	}
	if s.converter == nil {
		return false
	}
	c, ok := s.converter.LookupConversion(v.ref.def.ConvertOption, v.ref.def.Unit, v.ref.sigDigits)
	if !ok {
		return false
	}
	return v.SetConvertValues(c.Unit, c.Multiplier, c.Offset, c.Digits)
}
