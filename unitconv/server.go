// Package unitconv converts variable values between unit systems.
//
// A Server keeps one conversion table per unit system in a store.Store. Table
// section "System <Name>" maps "<fromUnit>,<fromPrecision>" to
// "<toUnit>,<multiplier>,<offset>,<toPrecision>". The server installs itself
// as the convert handler of a variable.Space, so every float owner with a
// unit converts as soon as it is set up.
//
// Followers are variables whose conversion depends on the value of another
// variable, the master: a time of flight shown as a distance through a sound
// velocity for instance. They are configured in section "Followers".
//
// A Server belongs to the goroutine owning its variable space.
package unitconv

import (
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/vm"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/metric"
	"github.com/c360/gii/pkg/csf"
	"github.com/c360/gii/registry"
	"github.com/c360/gii/store"
	"github.com/c360/gii/variable"
)

// FollowersSection is the store section holding the follower entries
const FollowersSection = "Followers"

// Query describes a conversion the tables do not hold
type Query struct {
	System System
	Option string
	Unit   string
	Digits int
}

// AskFunc supplies a missing conversion. A supplied conversion is stored in the table.
type AskFunc func(q Query) (variable.Conversion, bool)

// Server converts the variables of a space
type Server struct {
	space      *variable.Space
	store      store.Store
	system     System
	ask        AskFunc
	enable     *variable.Variable
	enabled    bool
	entries    []*Entry
	byFollower map[registry.ID]*Entry
	lookups    *prometheus.CounterVec
	logger     *slog.Logger
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

// WithAskHandler sets the handler supplying missing conversions
func WithAskHandler(ask AskFunc) Option {
	return func(s *Server) { s.ask = ask }
}

// WithSystem sets the initial unit system
func WithSystem(sys System) Option {
	return func(s *Server) { s.system = sys }
}

// WithMetrics counts table lookups in registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) {
		if registry == nil {
			return
		}
		lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "unitconv", Name: "lookups_total",
			Help: "Unit conversion table lookups by result",
		}, []string{"result"})
		if err := registry.RegisterCounterVec("unitconv", "lookups_total", lookups); err != nil {
			s.logger.Warn("Unit conversion metrics not registered", "error", err)
			return
		}
		s.lookups = lookups
	}
}

// NewServer creates a server converting the variables of space with the tables in st
// and installs it as the space's convert handler.
func NewServer(space *variable.Space, st store.Store, opts ...Option) *Server {
	s := &Server{
		space:      space,
		store:      st,
		byFollower: make(map[registry.ID]*Entry),
		logger:     slog.Default().With("component", "unitconv"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.enable = space.New()
	s.enable.SetHandler(s.handleEnable)
	space.SetConvertHandler(s.handleConvert)
	return s
}

// Close removes the server from the space
func (s *Server) Close() {
	s.space.SetConvertHandler(nil)
	s.enable.Close()
	s.flush()
}

// Store returns the store holding the tables
func (s *Server) Store() store.Store { return s.store }

// System returns the unit system applied
func (s *Server) System() System { return s.system }

// SetUnitSystem selects the unit system and converts every variable again
func (s *Server) SetUnitSystem(sys System) {
	if sys == s.system {
		return
	}
	s.system = sys
	s.logger.Info("Unit system changed", "system", sys)
	s.reinitialize()
}

// Enabled reports whether follower conversion is on
func (s *Server) Enabled() bool { return s.enabled }

// SetEnabled switches follower conversion on or off
func (s *Server) SetEnabled(enable bool) {
	if s.enabled == enable {
		return
	}
	s.enabled = enable
	for _, e := range s.entries {
		e.update()
	}
}

// EnableID returns the id of the variable switching follower conversion
func (s *Server) EnableID() registry.ID { return s.enable.DesiredID() }

// SetEnableID makes the value of variable id switch follower conversion: non zero
// enables it. The variable does not need to exist yet.
func (s *Server) SetEnableID(id registry.ID) {
	s.enable.SetupID(id, true)
}

func tableKey(unit string, digits int) string {
	return unit + "," + strconv.Itoa(digits)
}

// FormatConversion returns the table value of c
func FormatConversion(c variable.Conversion) string {
	return c.Unit + "," +
		strconv.FormatFloat(c.Multiplier, 'g', -1, 64) + "," +
		strconv.FormatFloat(c.Offset, 'g', -1, 64) + "," +
		strconv.Itoa(c.Digits)
}

// ParseConversion parses a table value
func ParseConversion(value string) (variable.Conversion, error) {
	parts := strings.Split(value, ",")
	if len(parts) < 4 {
		return variable.Conversion{}, errors.WrapInvalid(errors.ErrInvalidData,
			"Server", "ParseConversion", "split "+value)
	}
	mult, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return variable.Conversion{}, errors.WrapInvalid(err, "Server", "ParseConversion", "parse multiplier")
	}
	ofs, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return variable.Conversion{}, errors.WrapInvalid(err, "Server", "ParseConversion", "parse offset")
	}
	digits, err := strconv.Atoi(strings.TrimSpace(parts[3]))
	if err != nil {
		return variable.Conversion{}, errors.WrapInvalid(err, "Server", "ParseConversion", "parse precision")
	}
	return variable.Conversion{Unit: parts[0], Multiplier: mult, Offset: ofs, Digits: digits}, nil
}

// SetConversion writes the conversion of unit with precision digits into the table of sys
func (s *Server) SetConversion(sys System, unit string, digits int, c variable.Conversion) error {
	section := sys.Section()
	if section == "" || unit == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "SetConversion", "validate system and unit")
	}
	return s.store.Set(section, tableKey(unit, digits), FormatConversion(c))
}

// RemoveConversion deletes a table entry
func (s *Server) RemoveConversion(sys System, unit string, digits int) error {
	section := sys.Section()
	if section == "" {
		return nil
	}
	return s.store.Delete(section, tableKey(unit, digits))
}

// Conversion returns the table entry of unit with precision digits in sys
func (s *Server) Conversion(sys System, unit string, digits int) (variable.Conversion, bool) {
	section := sys.Section()
	if section == "" {
		return variable.Conversion{}, false
	}
	value, ok := s.store.Get(section, tableKey(unit, digits))
	if !ok {
		return variable.Conversion{}, false
	}
	c, err := ParseConversion(value)
	if err != nil {
		s.logger.Warn("Invalid conversion entry", "section", section, "unit", unit, "digits", digits, "error", err)
		return variable.Conversion{}, false
	}
	return c, true
}

// LookupConversion returns the conversion of unit with precision digits in the current
// system. A missing entry is asked for when an ask handler is set. PassThrough never converts.
func (s *Server) LookupConversion(option, unit string, digits int) (variable.Conversion, bool) {
	if s.system == PassThrough {
		return variable.Conversion{}, false
	}
	if c, ok := s.Conversion(s.system, unit, digits); ok {
		s.count("hit")
		return c, true
	}
	if s.ask != nil {
		if c, ok := s.ask(Query{System: s.system, Option: option, Unit: unit, Digits: digits}); ok {
			if err := s.SetConversion(s.system, unit, digits, c); err != nil {
				s.logger.Warn("Supplied conversion not stored", "unit", unit, "digits", digits, "error", err)
			}
			s.count("asked")
			return c, true
		}
	}
	s.count("miss")
	return variable.Conversion{}, false
}

func (s *Server) count(result string) {
	if s.lookups != nil {
		s.lookups.WithLabelValues(result).Inc()
	}
}

func (s *Server) handleConvert(n variable.Notification) {
	if n.Event != variable.EventConvert || s.system == PassThrough {
		return
	}
	s.convertVariable(n.Caller, false)
}

// handleEnable serves the enable variable, which as a global instance also sees every new id
func (s *Server) handleEnable(n variable.Notification) {
	switch n.Event {
	case variable.EventNewID:
		n.Caller.Owner().SetConvert(s.system != PassThrough)
	case variable.EventIDChanged, variable.EventValueChange:
		if n.Target.ID() != 0 {
			s.SetEnabled(!n.Target.CurValue(false).IsZero())
		}
	}
}

// convertVariable sets the conversion values of the owner of v, through its follower
// entry unless regular is set.
func (s *Server) convertVariable(v *variable.Variable, regular bool) {
	owner := v.Owner()
	if !regular {
		if e, ok := s.byFollower[owner.ID()]; ok && e.convert(owner) {
			return
		}
	}
	c, ok := s.LookupConversion(owner.ConvertOption(), owner.Unit(false), owner.SigDigits(false))
	if ok {
		if math.Abs(c.Multiplier) > math.SmallestNonzeroFloat64 {
			owner.SetConvertValues(c.Unit, c.Multiplier, c.Offset, c.Digits)
			return
		}
		s.logger.Warn("Conversion multiplier is zero",
			"unit", owner.Unit(false), "digits", owner.SigDigits(false))
	}
	owner.SetConvert(false)
}

// reinitialize indexes the followers and applies the unit system to every owner
func (s *Server) reinitialize() {
	s.reindex()
	convert := s.system != PassThrough
	for _, owner := range s.space.Owners() {
		owner.SetConvert(convert)
	}
}

func (s *Server) reindex() {
	s.byFollower = make(map[registry.ID]*Entry)
	for _, e := range s.entries {
		for _, id := range e.followers {
			s.byFollower[id] = e
		}
	}
}

// Entries returns the follower entries in configuration order
func (s *Server) Entries() []*Entry {
	return append([]*Entry(nil), s.entries...)
}

// AddEntry makes followers convert through master: factor = script(x = master value),
// converted as unit. An existing entry for master is replaced.
func (s *Server) AddEntry(master registry.ID, script, unit string, followers ...registry.ID) (*Entry, error) {
	if master == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "AddEntry", "validate master id")
	}
	program, err := compileScript(script)
	if err != nil {
		return nil, err
	}
	s.removeEntry(master)
	e := s.newEntry(master, script, program, unit, followers)
	s.reindex()
	e.update()
	return e, nil
}

// RemoveEntry deletes the entry of master. Its followers convert the regular way again.
func (s *Server) RemoveEntry(master registry.ID) bool {
	e := s.removeEntry(master)
	if e == nil {
		return false
	}
	s.reindex()
	for _, id := range e.followers {
		if v, ok := s.space.Lookup(id); ok {
			v.SetConvert(s.system != PassThrough)
		}
	}
	return true
}

func (s *Server) removeEntry(master registry.ID) *Entry {
	for i, e := range s.entries {
		if e.MasterID() == master {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			e.close()
			return e
		}
	}
	return nil
}

func (s *Server) newEntry(master registry.ID, script string, program *vm.Program, unit string, followers []registry.ID) *Entry {
	e := &Entry{
		server:  s,
		master:  s.space.New(),
		script:  script,
		program: program,
		unit:    unit,
	}
	for _, id := range followers {
		if id != 0 {
			e.followers = append(e.followers, id)
		}
	}
	s.entries = append(s.entries, e)
	e.master.SetHandler(e.handle)
	e.master.SetupID(master, true)
	return e
}

func (s *Server) flush() {
	for _, e := range s.entries {
		e.close()
	}
	s.entries = nil
	s.byFollower = make(map[registry.ID]*Entry)
}

// Load rebuilds the follower entries from the store and converts every variable again.
// It returns the number of entries loaded.
func (s *Server) Load() int {
	s.flush()
	for _, key := range s.store.Keys(FollowersSection) {
		id, err := strconv.ParseUint(strings.TrimSpace(key), 0, 64)
		if err != nil || id == 0 {
			s.logger.Warn("Invalid follower master id", "key", key)
			continue
		}
		value, _ := s.store.Get(FollowersSection, key)
		fields := csf.Split(value, ',', '\'')
		script := csf.Field(fields, 0)
		unit := csf.Field(fields, 1)
		var followers []registry.ID
		for _, f := range fields[min(2, len(fields)):] {
			fid, err := strconv.ParseUint(strings.TrimSpace(f), 0, 64)
			if err != nil || fid == 0 {
				continue
			}
			followers = append(followers, registry.ID(fid))
		}
		var program *vm.Program
		if script != "" {
			if program, err = compileScript(script); err != nil {
				s.logger.Warn("Invalid follower script", "master", key, "script", script, "error", err)
			}
		}
		s.newEntry(registry.ID(id), script, program, unit, followers)
	}
	s.reinitialize()
	return len(s.entries)
}

// Save writes the follower entries to the store, removing entries no longer configured
func (s *Server) Save() error {
	keep := make(map[string]bool, len(s.entries))
	for _, e := range s.entries {
		key := "0x" + strings.ToUpper(strconv.FormatUint(uint64(e.MasterID()), 16))
		var b strings.Builder
		b.WriteString("'" + e.script + "'," + e.unit)
		for _, id := range e.followers {
			b.WriteString(",0x" + strings.ToUpper(strconv.FormatUint(uint64(id), 16)))
		}
		if err := s.store.Set(FollowersSection, key, b.String()); err != nil {
			return errors.Wrap(err, "Server", "Save", "write follower "+key)
		}
		keep[key] = true
	}
	for _, key := range s.store.Keys(FollowersSection) {
		if keep[key] {
			continue
		}
		if err := s.store.Delete(FollowersSection, key); err != nil {
			return errors.Wrap(err, "Server", "Save", "delete follower "+key)
		}
	}
	return nil
}
