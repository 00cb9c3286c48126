package variable

// Event identifies a notification delivered to Variable handlers
type Event int

// Events are grouped by scope: global events reach every global instance, local events
// reach the instances sharing a reference and private events reach one instance.
const (
	// EventNewID announces a newly set up id
	EventNewID Event = iota

	firstLocal
	// EventFlagsChange reports changed current flags
	EventFlagsChange
	// EventValueChange reports a changed current value
	EventValueChange
	// EventInvalid reports the owner going away
	EventInvalid
	// EventConverted reports changed conversion values
	EventConverted

	firstPrivate
	// EventIDChanged reports the instance was attached to another reference
	EventIDChanged
	// EventDesiredID reports a changed desired id
	EventDesiredID
	// EventRemove is sent to an instance being closed
	EventRemove
	// EventGetOwner is sent to an instance becoming owner
	EventGetOwner
	// EventLostOwner is sent to the previous owner
	EventLostOwner
	// EventLinked is sent when a handler is set
	EventLinked
	// EventUnlinked is sent when a handler is cleared
	EventUnlinked
	// EventSetup is sent after a successful setup
	EventSetup
	// EventConvert asks the convert handler to set conversion values on the caller
	EventConvert
)

var eventNames = map[Event]string{
	EventNewID:       "newId",
	EventFlagsChange: "flagsChange",
	EventValueChange: "valueChange",
	EventInvalid:     "invalid",
	EventConverted:   "converted",
	EventIDChanged:   "idChanged",
	EventDesiredID:   "desiredId",
	EventRemove:      "remove",
	EventGetOwner:    "getOwner",
	EventLostOwner:   "lostOwner",
	EventLinked:      "linked",
	EventUnlinked:    "unlinked",
	EventSetup:       "setup",
	EventConvert:     "convert",
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return "unknown"
}

// IsGlobal reports whether e is delivered to every global instance
func (e Event) IsGlobal() bool { return e < firstLocal }

// IsLocal reports whether e is delivered to the instances of one reference
func (e Event) IsLocal() bool { return e > firstLocal && e < firstPrivate }

// Notification is what a handler receives
type Notification struct {
	Event Event
	// Caller is the instance that caused the event
	Caller *Variable
	// Target is the instance the handler is attached to
	Target *Variable
}

// SameInstance reports whether the target caused the event itself
func (n Notification) SameInstance() bool {
	return n.Caller == n.Target
}

// Handler receives the events of one instance
type Handler func(Notification)
