// Package infoserver drives the measurement lifecycle of a GII device.
//
// A Server owns a state variable whose value is the lifecycle State. Writes to
// that variable by other instances, local or remote, request a transition.
// Each transition applies an Effect to the attached variables and results:
// write permission by class, validation clearing and recycling. Transitions
// outside the table are recovered to Off.
package infoserver

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/c360/gii/metric"
	"github.com/c360/gii/pkg/csf"
	"github.com/c360/gii/registry"
	"github.com/c360/gii/resultdata"
	"github.com/c360/gii/variable"
)

// StateObserver is told about every state change
type StateObserver func(prev, cur State)

type attachedVariable struct {
	v       *variable.Variable
	archive bool
}

type attachedResult struct {
	r       *resultdata.ResultData
	archive bool
}

// Server is an information server. It belongs to the coordinator goroutine.
type Server struct {
	table      Table
	state      *variable.Variable
	cur        State
	name       string
	deviceMask registry.ID
	deviceID   registry.ID
	variables  [classCount][]attachedVariable
	results    []attachedResult
	observers  []StateObserver
	metrics    *metric.Metrics
	logger     *slog.Logger
	trace      func(Effect)
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records state changes in m
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a server in state Off. Call Setup to create its state variable.
func New(space *variable.Space, opts ...Option) *Server {
	s := &Server{
		table:  NewTable(),
		logger: slog.Default().With("component", "infoserver"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = space.New()
	s.state.SetHandler(s.handleState)
	return s
}

// Setup creates the state variable with id and resets the attachments. The device
// and server masks select the ids IsServerID accepts.
func (s *Server) Setup(name, prefix string, id, deviceMask, serverMask registry.ID) bool {
	s.flush()
	s.name = name
	s.deviceMask = deviceMask | serverMask
	s.deviceID = id & s.deviceMask

	var b strings.Builder
	fmt.Fprintf(&b, "0x%X,%s,,S,%s,INTEGER,,1,%d,%d,%d",
		uint64(id),
		csf.Quote(prefix+variable.NameSeparator+"State", ',', '"'),
		csf.Quote("Generic information server state "+name, ',', '"'),
		Off, Off, stateCount-1)
	for _, st := range States() {
		fmt.Fprintf(&b, ",%s=%d", st, st)
	}
	if !s.state.Setup(b.String(), 0) {
		s.logger.Warn("State variable setup failed", "name", name, "id", id)
		return false
	}
	s.record()
	return true
}

// Close releases the state variable
func (s *Server) Close() {
	s.state.Close()
}

func (s *Server) flush() {
	s.state.SetupID(0, false)
	for c := range s.variables {
		s.variables[c] = nil
	}
	s.results = nil
	s.cur = Off
	s.deviceMask = 0
	s.deviceID = 0
}

// Name returns the name passed to Setup
func (s *Server) Name() string { return s.name }

// State returns the current state
func (s *Server) State() State { return s.cur }

// StateVariable returns the owner of the state variable
func (s *Server) StateVariable() *variable.Variable { return s.state }

// IsGeneratingResults reports whether results are being produced
func (s *Server) IsGeneratingResults() bool {
	return s.cur == Run || s.cur == Record
}

// IsServerID reports whether id belongs to this server's device
func (s *Server) IsServerID(id registry.ID) bool {
	return s.deviceMask != 0 && id&s.deviceMask == s.deviceID
}

// OnStateChange registers an observer of state changes
func (s *Server) OnStateChange(fn StateObserver) {
	s.observers = append(s.observers, fn)
}

func (s *Server) handleState(n variable.Notification) {
	if n.Event == variable.EventValueChange && !n.SameInstance() {
		s.SetState(State(n.Target.CurValue(false).Int()))
	}
}

// SetState moves to state to and applies the transition effect. An illegal
// transition ends in Off with the any to Off effect.
func (s *Server) SetState(to State) {
	if to == s.cur {
		return
	}
	prev := s.cur
	effect := s.table.Effect(prev, to)
	if effect == EffectIllegal {
		s.logger.Warn("Illegal state change, recovering to OFF", "from", prev, "to", to)
		to = Off
		effect = EffectAnyToOff
	}
	s.cur = to
	s.state.SetCur(variable.NewInt(int64(to)), true)
	s.setArchive(to != Off)
	s.record()
	for _, fn := range s.observers {
		fn(prev, to)
	}
	s.apply(effect)
	s.logger.Debug("State changed", "from", prev, "to", to, "effect", effect)
}

func (s *Server) record() {
	if s.metrics != nil {
		s.metrics.RecordStateChange(s.name, int(s.cur), s.cur.String())
	}
}

func (s *Server) apply(effect Effect) {
	if s.trace != nil {
		s.trace(effect)
	}
	switch effect {
	case EffectRunStart:
		s.clearValidations()
		s.setRecycle(true)
	case EffectRestart:
		s.setWritable(ClassB, true)
		s.setWritable(ClassC, true)
		s.clearValidations()
		s.setRecycle(true)
	case EffectRecordStart:
		s.setWritable(ClassB, false)
		s.setWritable(ClassC, false)
		s.clearValidations()
		s.setRecycle(false)
	case EffectPauseToStop:
		s.setWritable(ClassB, true)
	case EffectAnyToOff:
		s.setWritable(ClassB, true)
		s.setWritable(ClassC, true)
		s.clearValidations()
	}
}

func (s *Server) clearValidations() {
	s.logger.Debug("Clearing validations", "results", len(s.results))
	for _, a := range s.results {
		a.r.ClearValidations(false)
	}
}

// setRecycle switches recycling of the archived results
func (s *Server) setRecycle(enable bool) {
	for _, a := range s.results {
		if !a.archive {
			continue
		}
		if enable {
			a.r.SetFlag(resultdata.FlagRecycle, false)
		} else {
			a.r.UnsetFlag(resultdata.FlagRecycle, false)
		}
	}
}

// setWritable toggles ReadOnly on the variables of class c not read only by definition
func (s *Server) setWritable(c Class, enable bool) {
	for _, a := range s.variables[c] {
		if a.v.DefinitionFlags().Has(variable.FlagReadOnly) {
			continue
		}
		if enable {
			a.v.UnsetFlag(variable.FlagReadOnly, false)
		} else {
			a.v.SetFlag(variable.FlagReadOnly, false)
		}
	}
	s.logger.Debug("Class write access changed", "class", c, "variables", len(s.variables[c]), "writable", enable)
}

// setArchive sets or clears Archive on the entities that carried it when attached
func (s *Server) setArchive(on bool) {
	for c := range s.variables {
		for _, a := range s.variables[c] {
			if a.archive {
				archiveVariable(a.v, on)
			}
		}
	}
	for _, a := range s.results {
		if a.archive {
			archiveResult(a.r, on)
		}
	}
}

func archiveVariable(v *variable.Variable, on bool) {
	if on {
		v.SetFlag(variable.FlagArchive, false)
	} else {
		v.UnsetFlag(variable.FlagArchive, false)
	}
}

func archiveResult(r *resultdata.ResultData, on bool) {
	if on {
		r.SetFlag(resultdata.FlagArchive, false)
	} else {
		r.UnsetFlag(resultdata.FlagArchive, false)
	}
}

// AttachVariable adds v to class c, removing an earlier attachment first.
// An archived variable keeps Archive only while the state is not Off.
func (s *Server) AttachVariable(v *variable.Variable, c Class) {
	if c < ClassA || c >= classCount {
		s.logger.Warn("Invalid variable class", "class", int(c), "id", v.ID())
		return
	}
	s.DetachVariable(v)
	a := attachedVariable{v: v, archive: v.IsFlag(variable.FlagArchive)}
	s.variables[c] = append(s.variables[c], a)
	if a.archive {
		archiveVariable(v, s.cur != Off)
	}
}

// DetachVariable removes v from every class
func (s *Server) DetachVariable(v *variable.Variable) bool {
	found := false
	for c := range s.variables {
		n := len(s.variables[c])
		s.variables[c] = slices.DeleteFunc(s.variables[c], func(a attachedVariable) bool { return a.v == v })
		found = found || len(s.variables[c]) != n
	}
	return found
}

// ClassOf returns the class v is attached to
func (s *Server) ClassOf(v *variable.Variable) (Class, bool) {
	for c := range s.variables {
		for _, a := range s.variables[c] {
			if a.v == v {
				return Class(c), true
			}
		}
	}
	return ClassA, false
}

// AttachResult adds r. Attaching it twice returns ErrDuplicateAttachment.
func (s *Server) AttachResult(r *resultdata.ResultData) error {
	for _, a := range s.results {
		if a.r == r {
			s.logger.Warn("Result attached more than once", "id", r.ID(), "name", r.Name())
			return ErrDuplicateAttachment
		}
	}
	a := attachedResult{r: r, archive: r.IsFlag(resultdata.FlagArchive)}
	s.results = append(s.results, a)
	if a.archive {
		archiveResult(r, s.cur != Off)
	}
	return nil
}

// DetachResult removes r
func (s *Server) DetachResult(r *resultdata.ResultData) bool {
	n := len(s.results)
	s.results = slices.DeleteFunc(s.results, func(a attachedResult) bool { return a.r == r })
	return len(s.results) != n
}

// Attached returns the number of attached variables per class and the number of results
func (s *Server) Attached() (variables [3]int, results int) {
	for c := range s.variables {
		variables[c] = len(s.variables[c])
	}
	return variables, len(s.results)
}
