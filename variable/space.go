package variable

import (
	"bufio"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/registry"
)

// Conversion describes how a unit with a precision converts to another unit
type Conversion struct {
	Unit       string
	Multiplier float64
	Offset     float64
	Digits     int
}

// UnitConverter looks up conversions when the space has no convert handler
type UnitConverter interface {
	LookupConversion(option, unit string, digits int) (Conversion, bool)
}

// Space holds the references of a set of variables: the id registry, the zero
// reference unattached instances point to and the conversion hooks.
//
// A Space is not safe for concurrent use, it belongs to the coordinating goroutine.
type Space struct {
	refs      *registry.Registry[*reference, *Variable]
	zero      *Variable
	instances []*Variable
	convert   Handler
	converter UnitConverter
	logger    *slog.Logger
}

// Option configures a Space
type Option func(*Space)

// WithLogger sets the logger of the space
func WithLogger(l *slog.Logger) Option {
	return func(s *Space) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithUnitConverter sets the converter used when no convert handler is installed
func WithUnitConverter(c UnitConverter) Option {
	return func(s *Space) { s.converter = c }
}

// NewSpace creates a space holding only the zero reference
func NewSpace(opts ...Option) *Space {
	s := &Space{
		refs:   registry.New[*reference, *Variable](),
		logger: slog.Default().With("component", "variable"),
	}
	for _, opt := range opts {
		opt(s)
	}
	zero := newReference(true)
	zero.setDefinition(zeroDefinition())
	s.zero = &Variable{space: s, global: true, ref: zero}
	zero.list = []*Variable{s.zero}
	return s
}

// Zero returns the instance owning the zero reference
func (s *Space) Zero() *Variable { return s.zero }

// New creates a global instance attached to the zero reference
func (s *Space) New() *Variable {
	return s.newInstance(true)
}

// NewLocal creates a local instance. A local owner is not registered and its events
// stay with the instances sharing its reference.
func (s *Space) NewLocal() *Variable {
	return s.newInstance(false)
}

func (s *Space) newInstance(global bool) *Variable {
	v := &Variable{space: s, global: global, ref: s.zero.ref}
	s.zero.ref.list = append(s.zero.ref.list, v)
	s.instances = append(s.instances, v)
	return v
}

func (s *Space) forget(v *Variable) {
	for i, x := range s.instances {
		if x == v {
			s.instances = append(s.instances[:i:i], s.instances[i+1:]...)
			return
		}
	}
}

// SetConvertHandler installs the handler receiving EventConvert for every
// SetConvert(true) call. Passing nil removes it.
func (s *Space) SetConvertHandler(h Handler) {
	s.convert = h
}

// SetUnitConverter sets the converter used when no convert handler is installed
func (s *Space) SetUnitConverter(c UnitConverter) {
	s.converter = c
}

// Lookup returns the owner of id
func (s *Space) Lookup(id registry.ID) (*Variable, bool) {
	ref, ok := s.refs.Lookup(id)
	if !ok || len(ref.list) == 0 {
		return nil, false
	}
	return ref.list[0], true
}

// Owners returns the owners of all registered ids in id order
func (s *Space) Owners() []*Variable {
	var out []*Variable
	s.refs.Each(func(_ registry.ID, ref *reference) bool {
		if len(ref.list) > 0 {
			out = append(out, ref.list[0])
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered ids
func (s *Space) Len() int { return s.refs.Len() }

// Instances returns the number of live instances, the zero instance excluded
func (s *Space) Instances() int { return len(s.instances) }

// Create reads definition lines from r and sets up a global owner for each.
// Lines starting with ';', blank lines and lines of 10 characters or less are skipped.
// Lines failing to set up are logged and skipped.
func (s *Space) Create(r io.Reader) ([]*Variable, error) {
	var out []*Variable
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if len(text) <= 10 || text[0] == ';' {
			continue
		}
		v := s.New()
		if !v.Setup(text, 0) {
			s.logger.Warn("Skipping definition", "line", line, "definition", text)
			v.Close()
			continue
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return out, errors.Wrap(err, "Space", "Create", "read definitions")
	}
	return out, nil
}

// ApplyUpdate applies one "(id,value,flags)" line to the owner of id
func (s *Space) ApplyUpdate(line string) bool {
	u, err := ParseUpdate(line)
	if err != nil {
		s.logger.Debug("Ignoring update", "line", line, "error", err)
		return false
	}
	v, ok := s.Lookup(u.ID)
	if !ok {
		return false
	}
	return v.ApplyUpdate(u)
}

// ReadUpdates applies every update line of r and returns how many changed a variable
func (s *Space) ReadUpdates(r io.Reader) (int, error) {
	n := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if s.ApplyUpdate(sc.Text()) {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return n, errors.Wrap(err, "Space", "ReadUpdates", "read updates")
	}
	return n, nil
}

// WriteUpdates writes the update line of every owner to w
func (s *Space) WriteUpdates(w io.Writer) error {
	for _, v := range s.Owners() {
		if _, err := io.WriteString(w, v.WriteUpdate()+"\n"); err != nil {
			return errors.Wrap(err, "Space", "WriteUpdates", "write update")
		}
	}
	return nil
}
