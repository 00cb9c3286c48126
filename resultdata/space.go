package resultdata

import (
	"bufio"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/registry"
)

// Space holds the references of a set of result data channels.
//
// A Space is not safe for concurrent use, it belongs to the coordinating goroutine.
type Space struct {
	refs      *registry.Registry[*reference, *ResultData]
	zero      *ResultData
	instances []*ResultData
	lastTrans uint64
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

// NewSpace creates a space holding only the zero reference
func NewSpace(opts ...Option) *Space {
	s := &Space{
		refs:   registry.New[*reference, *ResultData](),
		logger: slog.Default().With("component", "resultdata"),
	}
	for _, opt := range opts {
		opt(s)
	}
	zero := newReference(zeroDefinition())
	s.zero = &ResultData{space: s, ref: zero}
	zero.list = []*ResultData{s.zero}
	return s
}

// Zero returns the instance owning the zero reference
func (s *Space) Zero() *ResultData { return s.zero }

// New creates an instance attached to the zero reference. Every instance gets
// its own transaction id to tag its range requests with.
func (s *Space) New() *ResultData {
	s.lastTrans++
	v := &ResultData{space: s, ref: s.zero.ref, transID: s.lastTrans}
	s.zero.ref.list = append(s.zero.ref.list, v)
	s.instances = append(s.instances, v)
	return v
}

func (s *Space) forget(v *ResultData) {
	for i, x := range s.instances {
		if x == v {
			s.instances = append(s.instances[:i:i], s.instances[i+1:]...)
			return
		}
	}
}

// Lookup returns the owner of id
func (s *Space) Lookup(id registry.ID) (*ResultData, bool) {
	ref, ok := s.refs.Lookup(id)
	if !ok || len(ref.list) == 0 {
		return nil, false
	}
	return ref.list[0], true
}

// Owners returns the owners of all registered ids in id order
func (s *Space) Owners() []*ResultData {
	var out []*ResultData
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

// Create reads definition lines from r and sets up an owner for each.
// Lines starting with ';' and lines of 10 characters or less are skipped,
// lines failing to set up are logged and skipped.
func (s *Space) Create(r io.Reader) ([]*ResultData, error) {
	var out []*ResultData
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

// ApplyUpdate applies one "(id,start,stop,flags)" line to the owner of id
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
	return v.ApplyUpdate(u, false)
}

// ReadUpdates applies every update line of r and returns how many changed a channel
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
