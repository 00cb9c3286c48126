package infoserver

// State is the measurement lifecycle state
type State int

// States, in the order of their state variable values
const (
	Off State = iota
	Run
	Record
	Pause
	Stop
	stateCount
)

var stateNames = [...]string{"OFF", "RUN", "RECORD", "PAUSE", "STOP"}

func (s State) String() string {
	if !s.IsValid() {
		return "<unknown>"
	}
	return stateNames[s]
}

// IsValid reports whether s is one of the lifecycle states
func (s State) IsValid() bool { return s >= Off && s < stateCount }

// States returns every state in value order
func States() []State {
	return []State{Off, Run, Record, Pause, Stop}
}

// Effect is the side effect a state transition applies to the attached entities
type Effect int

// Effects
const (
	// EffectNone changes nothing beyond the state itself
	EffectNone Effect = iota
	// EffectIllegal marks a transition that is recovered to Off
	EffectIllegal
	// EffectAnyToOff makes classes B and C writable and clears validations
	EffectAnyToOff
	// EffectRunStart clears validations and enables recycling
	EffectRunStart
	// EffectRestart makes classes B and C writable, clears validations and enables recycling
	EffectRestart
	// EffectRecordStart makes classes B and C read only, clears validations and disables recycling
	EffectRecordStart
	// EffectPauseToStop makes class B writable
	EffectPauseToStop
)

var effectNames = [...]string{"none", "illegal", "anyToOff", "runStart", "restart", "recordStart", "pauseToStop"}

func (e Effect) String() string {
	if e < 0 || int(e) >= len(effectNames) {
		return "unknown"
	}
	return effectNames[e]
}

// Table maps a transition to its effect, indexed by from and to
type Table [stateCount][stateCount]Effect

// NewTable builds the transition table. Unlisted pairs are illegal, staying in a
// state has no effect and every state may go to Off.
func NewTable() Table {
	var t Table
	for from := range t {
		for to := range t[from] {
			if from == to {
				t[from][to] = EffectNone
			} else {
				t[from][to] = EffectIllegal
			}
		}
		if from != int(Off) {
			t[from][Off] = EffectAnyToOff
		}
	}
	t[Off][Run] = EffectRunStart
	t[Stop][Run] = EffectRestart
	t[Off][Record] = EffectRecordStart
	t[Stop][Record] = EffectRecordStart
	t[Run][Record] = EffectRecordStart
	t[Record][Stop] = EffectPauseToStop
	t[Pause][Stop] = EffectPauseToStop
	t[Record][Run] = EffectRestart
	t[Run][Stop] = EffectNone
	t[Record][Pause] = EffectNone
	t[Pause][Record] = EffectNone
	return t
}

// Effect returns the effect of going from one state to another. Invalid states are illegal.
func (t *Table) Effect(from, to State) Effect {
	if !from.IsValid() || !to.IsValid() {
		return EffectIllegal
	}
	return t[from][to]
}

// Class is the write permission tier of an attached variable
type Class int

// Classes
const (
	// ClassA is always writable
	ClassA Class = iota
	// ClassB is read only while recording
	ClassB
	// ClassC is read only while recording and until the next Off or Run
	ClassC
	classCount
)

func (c Class) String() string {
	if c < ClassA || c >= classCount {
		return "?"
	}
	return string("ABC"[c])
}
