package unitconv

import (
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/registry"
	"github.com/c360/gii/variable"
)

// Entry makes the conversion of follower variables depend on the value of a
// master variable. The script computes a factor from the master value x; the
// followers convert as if their unit were the entry unit, scaled by the factor.
type Entry struct {
	server    *Server
	master    *variable.Variable
	script    string
	program   *vm.Program
	unit      string
	followers []registry.ID
}

func compileScript(script string) (*vm.Program, error) {
	program, err := expr.Compile(script, expr.Env(map[string]any{"x": float64(0)}))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Entry", "compileScript", "compile "+script)
	}
	return program, nil
}

// MasterID returns the id the master variable is set up with
func (e *Entry) MasterID() registry.ID { return e.master.DesiredID() }

// Script returns the factor expression
func (e *Entry) Script() string { return e.script }

// Unit returns the unit the followers are converted from
func (e *Entry) Unit() string { return e.unit }

// Followers returns the follower ids
func (e *Entry) Followers() []registry.ID {
	return append([]registry.ID(nil), e.followers...)
}

func (e *Entry) handle(n variable.Notification) {
	switch n.Event {
	case variable.EventValueChange, variable.EventIDChanged:
		e.update()
	}
}

// update converts every existing follower again
func (e *Entry) update() {
	space := e.server.space
	for _, id := range e.followers {
		v, ok := space.Lookup(id)
		if !ok {
			continue
		}
		if !e.convert(v) {
			e.server.convertVariable(v, true)
		}
	}
}

// factor evaluates the script with x set to the master value. A failing script yields 1.
func (e *Entry) factor() float64 {
	if e.program == nil {
		return 1
	}
	out, err := expr.Run(e.program, map[string]any{"x": e.master.CurValue(false).Float()})
	if err != nil {
		e.server.logger.Warn("Follower script failed",
			"master", e.MasterID(), "script", e.script, "error", err)
		return 1
	}
	switch f := out.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int:
		return float64(f)
	case int64:
		return float64(f)
	case bool:
		if f {
			return 1
		}
		return 0
	default:
		e.server.logger.Warn("Follower script result is not a number",
			"master", e.MasterID(), "script", e.script, "result", out)
		return 1
	}
}

// convert sets the conversion values of owner v from the master value. It returns
// false when v must be converted the regular way.
func (e *Entry) convert(v *variable.Variable) bool {
	if !e.server.enabled || e.master.ID() == 0 || e.script == "" {
		return false
	}
	factor := e.factor()
	if math.Abs(factor) <= math.SmallestNonzeroFloat64 {
		return false
	}
	sig := variable.Digits(e.master.Round(false).Float() * factor * v.Round(false).Float())
	c, ok := e.server.LookupConversion(v.ConvertOption(), e.unit, sig)
	if !ok {
		return false
	}
	mult := c.Multiplier * factor
	if math.Abs(mult) <= math.SmallestNonzeroFloat64 {
		e.server.logger.Warn("Conversion multiplier is zero", "unit", e.unit, "digits", sig)
		return false
	}
	return v.SetConvertValues(c.Unit, mult, c.Offset, c.Digits)
}

func (e *Entry) close() {
	e.master.Close()
}
