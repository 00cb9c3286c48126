package unitconv

import "strings"

// System selects the conversion table applied to variable units
type System int

// Unit systems
const (
	// PassThrough shows values in their own unit
	PassThrough System = iota
	// Metric converts within the metric system depending on precision
	Metric
	// Imperial converts to imperial units
	Imperial
)

var systemNames = [...]string{"PassThrough", "Metric", "Imperial"}

func (s System) String() string {
	if s < 0 || int(s) >= len(systemNames) {
		return "unknown"
	}
	return systemNames[s]
}

// Section returns the store section holding the table of s, "" for PassThrough
func (s System) Section() string {
	if s == PassThrough || s.String() == "unknown" {
		return ""
	}
	return "System " + s.String()
}

// ParseSystem returns the system named s, ignoring case
func ParseSystem(s string) (System, bool) {
	for i, n := range systemNames {
		if strings.EqualFold(n, strings.TrimSpace(s)) {
			return System(i), true
		}
	}
	return PassThrough, false
}

// Systems returns every unit system
func Systems() []System {
	return []System{PassThrough, Metric, Imperial}
}
