package resultdata

import "github.com/c360/gii/rangeset"

// Event identifies a notification delivered to ResultData handlers
type Event int

// Events are grouped by scope like variable events: global, local to a reference, private.
const (
	// EventNewID announces a newly set up id
	EventNewID Event = iota

	firstLocal
	// EventFlagsChange reports changed current flags
	EventFlagsChange
	// EventAccessChange reports a changed access range
	EventAccessChange
	// EventCommitted reports a committed extent
	EventCommitted
	// EventReserve reports grown capacity, the range stop holds the reserved block count
	EventReserve
	// EventInvalid reports the owner going away
	EventInvalid
	// EventClear is sent before the data is cleared
	EventClear

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
	// EventGotRange is sent to a requester when its requested range became valid
	EventGotRange
	// EventGetRange asks the owner to produce a range
	EventGetRange
	// EventSetup is sent after a successful setup
	EventSetup

	// EventDataValid is sent by a Requester when every range of its request is valid.
	// The range is the requested index range, or the data range for RequestData.
	EventDataValid
	// EventTimedOut is sent by a Requester that gave up waiting on a request
	EventTimedOut
)

var eventNames = map[Event]string{
	EventNewID:        "newId",
	EventFlagsChange:  "flagsChange",
	EventAccessChange: "accessChange",
	EventCommitted:    "committed",
	EventReserve:      "reserve",
	EventInvalid:      "invalid",
	EventClear:        "clear",
	EventIDChanged:    "idChanged",
	EventDesiredID:    "desiredId",
	EventRemove:       "remove",
	EventGetOwner:     "getOwner",
	EventLostOwner:    "lostOwner",
	EventLinked:       "linked",
	EventUnlinked:     "unlinked",
	EventGotRange:     "gotRange",
	EventGetRange:     "getRange",
	EventSetup:        "setup",
	EventDataValid:    "dataValid",
	EventTimedOut:     "timedOut",
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return "unknown"
}

// IsGlobal reports whether e is delivered to every instance of the space
func (e Event) IsGlobal() bool { return e < firstLocal }

// IsLocal reports whether e is delivered to the instances of one reference
func (e Event) IsLocal() bool { return e > firstLocal && e < firstPrivate }

// Notification is what a handler receives
type Notification struct {
	Event  Event
	Caller *ResultData
	Target *ResultData
	Range  rangeset.Range
}

// SameInstance reports whether the target caused the event itself
func (n Notification) SameInstance() bool {
	return n.Caller == n.Target
}

// Handler receives the events of one instance
type Handler func(Notification)
