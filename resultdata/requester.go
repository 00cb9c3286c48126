package resultdata

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/gii/rangeset"
)

// DefaultRequestTimeout is how long a Requester waits on one request stage
const DefaultRequestTimeout = 30 * time.Second

type requestState int

const (
	stateReady requestState = iota
	stateGetIndex
	stateReadIndex
	stateTryData
	stateGetData
	stateApply
	stateWait
)

var requestStateNames = [...]string{"ready", "getIndex", "readIndex", "tryData", "getData", "apply", "wait"}

func (s requestState) String() string {
	if s < 0 || int(s) >= len(requestStateNames) {
		return "unknown"
	}
	return requestStateNames[s]
}

// RequesterOption configures a Requester
type RequesterOption func(*Requester)

// WithRequestTimeout sets how long a request may wait on events. Zero waits forever.
func WithRequestTimeout(d time.Duration) RequesterOption {
	return func(q *Requester) { q.timeout = d }
}

// WithClock replaces the time source used for timeouts
func WithClock(now func() time.Time) RequesterOption {
	return func(q *Requester) { q.now = now }
}

type requestWork struct {
	index        rangeset.Range
	data         rangeset.Range
	indexRequest bool
	requests     map[*ResultData]struct{}
	access       map[*ResultData]struct{}
}

func (w *requestWork) clear() {
	*w = requestWork{
		requests: make(map[*ResultData]struct{}),
		access:   make(map[*ResultData]struct{}),
	}
}

// Requester fetches the same block range from several results at once. The range
// is either given directly or looked up in an index result. When every attached
// result holds the range the link handler gets EventDataValid; a request that
// stalls longer than the timeout ends with EventTimedOut.
//
// A Requester takes over the handlers of the instances attached to it and passes
// their non global events on to the link handler. Like the instances it drives
// it belongs to the goroutine owning the space; Tick must be called from there,
// e.g. with Coordinator.OnTick.
type Requester struct {
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	index *ResultData
	data  []*ResultData
	link  Handler

	state     requestState
	waitFor   requestState
	waitSince time.Time
	work      requestWork

	busy bool
	emit []Notification
}

// NewRequester returns an idle requester logging to the logger of s
func NewRequester(s *Space, opts ...RequesterOption) *Requester {
	q := &Requester{
		logger:  s.logger.With("requester", true),
		timeout: DefaultRequestTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.work.clear()
	return q
}

// SetLink sets the handler receiving the passed on and the requester events, nil clears it
func (q *Requester) SetLink(h Handler) { q.link = h }

// AttachIndex makes rd the index result, nil detaches the current one. The running
// request is abandoned.
func (q *Requester) AttachIndex(rd *ResultData) {
	if q.index == rd {
		return
	}
	if q.index != nil {
		q.index.SetHandler(nil)
	}
	q.index = rd
	if rd != nil {
		rd.SetHandler(q.handle)
	}
	q.Reset()
}

// AttachData adds rd to the results a request fetches. It fails for results
// already attached. The running request is abandoned.
func (q *Requester) AttachData(rd *ResultData) bool {
	if rd == nil {
		return false
	}
	for _, d := range q.data {
		if d == rd {
			q.logger.Warn("Data result attached twice", "id", rd.ID())
			return false
		}
	}
	q.data = append(q.data, rd)
	rd.SetHandler(q.handle)
	q.Reset()
	return true
}

// DetachData removes rd from the data results and clears its handler
func (q *Requester) DetachData(rd *ResultData) bool {
	for i, d := range q.data {
		if d == rd {
			q.data = append(q.data[:i], q.data[i+1:]...)
			rd.SetHandler(nil)
			q.Reset()
			return true
		}
	}
	return false
}

// Close detaches every result
func (q *Requester) Close() {
	for _, d := range q.data {
		d.SetHandler(nil)
	}
	q.data = nil
	q.AttachIndex(nil)
}

// Reset abandons the running request and drops its outstanding range requests
func (q *Requester) Reset() {
	q.setState(stateReady)
	q.work.clear()
	if q.index != nil {
		q.index.ClearRequests()
	}
	for _, d := range q.data {
		d.ClearRequests()
	}
}

// Ready reports whether a new request is accepted
func (q *Requester) Ready() bool { return q.state == stateReady }

// IndexRange returns the index range of the running or last request
func (q *Requester) IndexRange() rangeset.Range { return q.work.index }

// DataRange returns the data range of the running or last request
func (q *Requester) DataRange() rangeset.Range { return q.work.data }

// RequestIndex fetches the data blocks covered by index entries r. It fails when
// another request runs, without index or when r is outside the index access range.
func (q *Requester) RequestIndex(r rangeset.Range) bool {
	if q.state != stateReady || r.Empty() || q.index == nil {
		return false
	}
	if !q.index.AccessRange().Contains(r) {
		q.fail("index request outside access range " + q.index.AccessRange().String())
		return false
	}
	q.work.index = r
	q.setState(stateGetIndex)
	q.process()
	return true
}

// RequestData fetches data blocks r without consulting the index
func (q *Requester) RequestData(r rangeset.Range) bool {
	if q.state != stateReady || r.Empty() {
		return false
	}
	q.work.index = rangeset.Range{}
	q.work.data = r
	q.setState(stateTryData)
	q.process()
	return true
}

// Tick advances a waiting request and times it out
func (q *Requester) Tick() {
	if q.state != stateReady {
		q.process()
	}
}

func (q *Requester) handle(n Notification) {
	if n.Event.IsGlobal() {
		return
	}
	switch n.Event {
	case EventIDChanged, EventClear:
		q.Reset()
	case EventAccessChange:
		if n.Target == q.index || len(q.work.access) == 0 || n.Target.ID() == 0 {
			break
		}
		if _, ok := q.work.access[n.Target]; ok {
			if n.Range.Contains(q.work.data) {
				delete(q.work.access, n.Target)
			}
			if len(q.work.access) == 0 {
				q.process()
			}
		}
	case EventGotRange:
		if n.Target == q.index {
			if !q.work.indexRequest {
				q.fail("unexpected index range " + n.Range.String())
				break
			}
			q.work.indexRequest = false
			q.process()
			break
		}
		if _, ok := q.work.requests[n.Target]; !ok {
			q.fail(fmt.Sprintf("unexpected data range %s of %s", n.Range, n.Target.ID()))
			break
		}
		delete(q.work.requests, n.Target)
		if len(q.work.requests) == 0 {
			q.process()
		}
	}
	if q.link != nil {
		q.link(n)
	}
}

// process runs the state machine. Events arriving while it runs only update the
// work, the running pass picks them up. Requester events go out once it returns.
func (q *Requester) process() {
	if q.busy {
		return
	}
	q.busy = true
	q.step()
	q.busy = false

	for len(q.emit) > 0 {
		n := q.emit[0]
		q.emit = q.emit[1:]
		if q.link != nil {
			q.link(n)
		}
	}
}

func (q *Requester) step() {
	switch q.state {
	case stateReady:
		return
	case stateWait:
		q.wait()
		return
	case stateGetIndex:
		if !q.index.IsIndexRangeValid(q.work.index) {
			q.work.indexRequest = true
			if !q.index.RequestIndexRange(q.work.index) {
				q.work.indexRequest = false
				q.fail("index request failed")
				return
			}
			if q.state == stateReady {
				return
			}
		}
		if q.work.indexRequest {
			q.waitForState(stateReadIndex)
			return
		}
		fallthrough
	case stateReadIndex:
		rng, ok := q.index.ReadIndexRange(q.work.index)
		if !ok {
			q.fail("index read failed")
			return
		}
		q.work.data = rng
		fallthrough
	case stateTryData:
		for _, d := range q.data {
			if d.ID() != 0 && !d.AccessRange().Contains(q.work.data) {
				q.work.access[d] = struct{}{}
			} else {
				delete(q.work.access, d)
			}
		}
		if len(q.work.access) > 0 {
			q.waitForState(stateGetData)
			return
		}
		fallthrough
	case stateGetData:
		for _, d := range q.data {
			if d.ID() == 0 || d.IsRangeValid(q.work.data.Start, q.work.data.Len()) {
				delete(q.work.requests, d)
				continue
			}
			q.work.requests[d] = struct{}{}
			if !d.RequestRange(q.work.data) {
				delete(q.work.requests, d)
				q.fail(fmt.Sprintf("data request of %s failed", d.ID()))
				return
			}
			if q.state == stateReady {
				return
			}
		}
		if len(q.work.requests) > 0 {
			q.waitForState(stateApply)
			return
		}
		fallthrough
	case stateApply:
		if !q.valid() {
			q.fail("data invalidated before apply")
			return
		}
		q.setState(stateReady)
		q.notify(EventDataValid)
	}
}

// wait moves on to the awaited state once its condition holds
func (q *Requester) wait() {
	if q.timeout > 0 && q.now().Sub(q.waitSince) >= q.timeout {
		q.logger.Warn("Request timed out", "waiting_for", q.waitFor, "index", q.work.index,
			"data", q.work.data, "pending_requests", len(q.work.requests), "pending_access", len(q.work.access))
		q.notify(EventTimedOut)
		q.Reset()
		return
	}
	switch q.waitFor {
	case stateReadIndex:
		if q.work.indexRequest {
			return
		}
	case stateGetData:
		if len(q.work.access) > 0 {
			return
		}
	case stateApply:
		if len(q.work.requests) > 0 {
			return
		}
	default:
		q.fail("cannot wait for state " + q.waitFor.String())
		return
	}
	q.setState(q.waitFor)
	q.step()
}

func (q *Requester) valid() bool {
	if !q.work.index.Empty() && !q.index.IsIndexRangeValid(q.work.index) {
		return false
	}
	for _, d := range q.data {
		if d.ID() != 0 && !d.IsRangeValid(q.work.data.Start, q.work.data.Len()) {
			return false
		}
	}
	return true
}

// notify queues ev carrying the index range, or the data range of a direct request
func (q *Requester) notify(ev Event) {
	rng := q.work.index
	if rng.Empty() {
		rng = q.work.data
	}
	q.emit = append(q.emit, Notification{Event: ev, Caller: q.index, Target: q.index, Range: rng})
}

func (q *Requester) setState(s requestState) {
	q.state = s
	q.waitFor = stateReady
}

func (q *Requester) waitForState(s requestState) {
	q.state = stateWait
	q.waitFor = s
	q.waitSince = q.now()
}

func (q *Requester) fail(reason string) {
	q.logger.Warn("Request failed", "reason", reason, "state", q.state, "index", q.work.index, "data", q.work.data)
	q.Reset()
}
