// Package collector replicates Variables and ResultData over one connection.
//
// A Collector is the Dispatcher of a connection and lives on the coordinating
// goroutine. On the server side it holds a reference instance for every exported
// variable and shared result the peer subscribed to, and turns their events into
// packets. On the client side it holds a mirror owner for every entity the server
// announced, and turns local writes and range requests into packets back.
package collector

import (
	"fmt"
	"log/slog"

	"github.com/c360/gii/connection"
	"github.com/c360/gii/errors"
	"github.com/c360/gii/protocol"
	"github.com/c360/gii/rangeset"
	"github.com/c360/gii/registry"
	"github.com/c360/gii/resultdata"
	"github.com/c360/gii/variable"
)

// Sender queues packets for the peer. connection.Connection implements it.
type Sender interface {
	Enqueue(p protocol.Payload) error
}

// Collector bridges the entity spaces and one connection
type Collector struct {
	role       connection.Role
	vars       *variable.Space
	results    *resultdata.Space
	out        Sender
	logger     *slog.Logger
	maxPayload uint32
	maxResult  int64

	subscribeVariables bool
	subscribeResults   bool

	varWatch    *variable.Variable
	resultWatch *resultdata.ResultData
	variables   map[registry.ID]*variable.Variable
	resultSet   map[registry.ID]*resultdata.ResultData
	closed      bool
}

// Option configures a Collector
type Option func(*Collector)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSubscriptions selects what a client asks the server for in Subscribe
func WithSubscriptions(variables, results bool) Option {
	return func(c *Collector) {
		c.subscribeVariables = variables
		c.subscribeResults = results
	}
}

// WithMaxPayload bounds the size of the data packets sent, it should match the peer's limit
func WithMaxPayload(n uint32) Option {
	return func(c *Collector) {
		if n > protocol.ResultDataSize {
			c.maxPayload = n
		}
	}
}

// DefaultMaxResultBytes bounds the storage a client reserves for one mirrored result
const DefaultMaxResultBytes = 256 << 20

// WithMaxResultBytes bounds the storage a client reserves for one mirrored result.
// Ranges from the server that would need more are protocol errors.
func WithMaxResultBytes(n int64) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxResult = n
		}
	}
}

// New creates a collector for a connection of role. Either space may be nil
// when the process does not carry that kind of entity.
func New(role connection.Role, vars *variable.Space, results *resultdata.Space, out Sender, opts ...Option) *Collector {
	c := &Collector{
		role:               role,
		vars:               vars,
		results:            results,
		out:                out,
		logger:             slog.Default().With("component", "collector"),
		maxPayload:         protocol.DefaultMaxPayloadSize,
		maxResult:          DefaultMaxResultBytes,
		subscribeVariables: true,
		subscribeResults:   true,
		variables:          make(map[registry.ID]*variable.Variable),
		resultSet:          make(map[registry.ID]*resultdata.ResultData),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("role", role.String())
	return c
}

// Variables returns the number of replicated variables
func (c *Collector) Variables() int { return len(c.variables) }

// Results returns the number of replicated results
func (c *Collector) Results() int { return len(c.resultSet) }

// Subscribe sends the Initialize packet of a client
func (c *Collector) Subscribe() error {
	if c.role != connection.RoleClient {
		return nil
	}
	return c.send(&protocol.Initialize{
		Version:             protocol.Version,
		SubscribeVariables:  c.subscribeVariables && c.vars != nil,
		SubscribeResultData: c.subscribeResults && c.results != nil,
	})
}

// Dispatch implements connection.Dispatcher
func (c *Collector) Dispatch(p protocol.Payload) error {
	if c.closed {
		return nil
	}
	switch p := p.(type) {
	case *protocol.Initialize:
		return c.initialize(p)
	case *protocol.VariableInfo:
		return c.variableInfo(p)
	case *protocol.Variable:
		return c.variableValue(p)
	case *protocol.Result:
		return c.result(p)
	default:
		c.logger.Debug("Packet ignored", "type", p.Type())
		return nil
	}
}

// Close detaches every instance the collector holds. Mirrors owned by a client
// collector go away with it, so their local references become unresolved.
func (c *Collector) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.varWatch != nil {
		c.varWatch.Close()
	}
	if c.resultWatch != nil {
		c.resultWatch.Close()
	}
	for id, v := range c.variables {
		v.Close()
		delete(c.variables, id)
	}
	for id, r := range c.resultSet {
		r.Close()
		delete(c.resultSet, id)
	}
}

func (c *Collector) send(p protocol.Payload) error {
	if err := c.out.Enqueue(p); err != nil {
		return errors.WrapTransient(err, "Collector", "send", "enqueue "+p.Type().String())
	}
	return nil
}

// sendLogged queues p from an event handler, where there is no caller to return to
func (c *Collector) sendLogged(p protocol.Payload) {
	if err := c.send(p); err != nil {
		c.logger.Warn("Failed to queue packet", "type", p.Type(), "error", err)
	}
}

func (c *Collector) initialize(p *protocol.Initialize) error {
	if c.role != connection.RoleServer {
		c.logger.Debug("Initialize ignored on client")
		return nil
	}
	if p.Version != protocol.Version {
		c.logger.Warn("Peer protocol version differs", "peer", p.Version, "local", protocol.Version)
	}
	c.logger.Info("Peer subscribed", "variables", p.SubscribeVariables, "results", p.SubscribeResultData)

	if p.SubscribeVariables && c.vars != nil && c.varWatch == nil {
		c.varWatch = c.vars.New()
		c.varWatch.SetHandler(c.watchVariables)
		for _, owner := range c.vars.Owners() {
			if owner.IsFlag(variable.FlagExport) {
				c.exportVariable(owner.ID())
			}
		}
	}
	if p.SubscribeResultData && c.results != nil && c.resultWatch == nil {
		c.resultWatch = c.results.New()
		c.resultWatch.SetHandler(c.watchResults)
		for _, owner := range c.results.Owners() {
			if owner.IsFlag(resultdata.FlagShare) {
				c.shareResult(owner.ID())
			}
		}
	}
	return nil
}

func (c *Collector) watchVariables(n variable.Notification) {
	if n.Event != variable.EventNewID || n.Caller == nil {
		return
	}
	if n.Caller.IsOwner() && n.Caller.IsFlag(variable.FlagExport) {
		c.exportVariable(n.Caller.ID())
	}
}

func (c *Collector) watchResults(n resultdata.Notification) {
	if n.Event != resultdata.EventNewID || n.Caller == nil {
		return
	}
	if n.Caller.IsOwner() && n.Caller.IsFlag(resultdata.FlagShare) {
		c.shareResult(n.Caller.ID())
	}
}

// exportVariable attaches a reference to id and announces it with its current value
func (c *Collector) exportVariable(id registry.ID) {
	if _, ok := c.variables[id]; ok || id == 0 {
		return
	}
	v := c.vars.New()
	if !v.SetupID(id, false) {
		v.Close()
		return
	}
	v.SetHandler(c.serverVariableEvent)
	c.variables[id] = v
	c.sendLogged(&protocol.VariableInfo{ID: id, Definition: v.SetupString()})
	c.sendLogged(variablePacket(v))
}

func variablePacket(v *variable.Variable) *protocol.Variable {
	return &protocol.Variable{
		ID:    v.ID(),
		Flags: uint32(v.Flags()),
		Value: v.CurValue(false).String(),
	}
}

func (c *Collector) serverVariableEvent(n variable.Notification) {
	switch n.Event {
	case variable.EventValueChange, variable.EventFlagsChange:
		if !n.SameInstance() {
			c.sendLogged(variablePacket(n.Target))
		}
	case variable.EventInvalid:
		id := n.Target.ID()
		if c.variables[id] == n.Target {
			delete(c.variables, id)
			c.logger.Debug("Exported variable went away", "id", id)
			n.Target.Close()
		}
	}
}

func (c *Collector) clientVariableEvent(n variable.Notification) {
	if n.Event == variable.EventValueChange && !n.SameInstance() {
		c.sendLogged(variablePacket(n.Target))
	}
}

func (c *Collector) variableInfo(p *protocol.VariableInfo) error {
	if c.role != connection.RoleClient || c.vars == nil {
		c.logger.Debug("Variable info ignored", "id", p.ID)
		return nil
	}
	if old, ok := c.variables[p.ID]; ok {
		old.Close()
		delete(c.variables, p.ID)
	}
	v := c.vars.New()
	if !v.Setup(p.Definition, 0) {
		v.Close()
		c.logger.Warn("Cannot mirror variable", "id", p.ID, "definition", p.Definition)
		return nil
	}
	if v.ID() != p.ID {
		v.Close()
		return errors.WrapInvalid(fmt.Errorf("%w: info for %s defines %s", errors.ErrProtocol, p.ID, v.ID()),
			"Collector", "Dispatch", "mirror variable")
	}
	v.SetHandler(c.clientVariableEvent)
	c.variables[p.ID] = v
	return nil
}

func (c *Collector) variableValue(p *protocol.Variable) error {
	v, ok := c.variables[p.ID]
	if !ok {
		c.logger.Debug("Value for unknown variable", "id", p.ID)
		return nil
	}
	val := variable.Undefined(p.Value)
	if c.role == connection.RoleClient {
		v.SetCur(val, true)
		v.UpdateFlags(variable.Flags(p.Flags), true)
		return nil
	}
	if !v.SetCur(val, true) && v.IsReadOnly() {
		// put the peer's mirror back in line
		c.logger.Debug("Remote write rejected", "id", p.ID, "value", p.Value)
		return c.send(variablePacket(v))
	}
	return nil
}

// shareResult attaches a reference to id and announces its definition and access range
func (c *Collector) shareResult(id registry.ID) {
	if _, ok := c.resultSet[id]; ok || id == 0 {
		return
	}
	r := c.results.New()
	if !r.SetupID(id, false) {
		r.Close()
		return
	}
	r.SetHandler(c.serverResultEvent)
	c.resultSet[id] = r
	c.sendLogged(&protocol.Result{Kind: protocol.ResultInfo, ID: id, Data: []byte(r.SetupString())})
	c.sendLogged(accessPacket(r))
}

func accessPacket(r *resultdata.ResultData) *protocol.Result {
	rng := r.AccessRange()
	return &protocol.Result{Kind: protocol.ResultAccess, ID: r.ID(), Start: rng.Start, Stop: rng.Stop}
}

func (c *Collector) serverResultEvent(n resultdata.Notification) {
	switch n.Event {
	case resultdata.EventAccessChange:
		c.sendLogged(accessPacket(n.Target))
	case resultdata.EventGotRange:
		c.sendData(n.Target, n.Range)
	case resultdata.EventInvalid:
		id := n.Target.ID()
		if c.resultSet[id] == n.Target {
			delete(c.resultSet, id)
			c.logger.Debug("Shared result went away", "id", id)
			n.Target.Close()
		}
	}
}

// sendData queues the committed blocks of rng, split so each packet fits the payload limit
func (c *Collector) sendData(r *resultdata.ResultData, rng rangeset.Range) {
	bb := r.BlockBytes()
	if bb <= 0 {
		return
	}
	per := (int64(c.maxPayload) - protocol.ResultDataSize) / bb
	if per < 1 {
		per = 1
	}
	for ofs := rng.Start; ofs < rng.Stop; ofs += per {
		n := min(per, rng.Stop-ofs)
		buf := make([]byte, n*bb)
		if !r.BlockRead(ofs, n, buf, false) {
			c.logger.Debug("Blocks not readable", "id", r.ID(), "offset", ofs, "count", n)
			return
		}
		c.sendLogged(&protocol.Result{Kind: protocol.ResultData, ID: r.ID(), Start: ofs, Stop: ofs + n, Data: buf})
	}
}

func (c *Collector) clientResultEvent(n resultdata.Notification) {
	if n.Event == resultdata.EventGetRange && !n.SameInstance() {
		c.sendLogged(&protocol.Result{Kind: protocol.ResultRequest, ID: n.Target.ID(), Start: n.Range.Start, Stop: n.Range.Stop})
	}
}

func (c *Collector) result(p *protocol.Result) error {
	if c.results == nil {
		c.logger.Debug("Result packet ignored", "id", p.ID, "kind", p.Kind)
		return nil
	}
	if p.Kind == protocol.ResultInfo {
		return c.resultInfo(p)
	}
	r, ok := c.resultSet[p.ID]
	if !ok {
		c.logger.Debug("Result packet for unknown id", "id", p.ID, "kind", p.Kind)
		return nil
	}
	rng := rangeset.New(p.Start, p.Stop)

	switch {
	case p.Kind == protocol.ResultRequest && c.role == connection.RoleServer:
		if r.IsRangeValid(rng.Start, rng.Len()) {
			c.sendData(r, rng)
			return nil
		}
		if !r.RequestRange(rng) {
			c.logger.Debug("Range request refused", "id", p.ID, "range", rng)
		}
	case p.Kind == protocol.ResultAccess && c.role == connection.RoleClient:
		if err := c.checkRange(r, p); err != nil {
			return err
		}
		if !rng.Contains(r.AccessRange()) {
			r.ClearValidations(true)
		}
		r.SetAccessRange(rng, true)
	case p.Kind == protocol.ResultData && c.role == connection.RoleClient:
		if err := c.checkRange(r, p); err != nil {
			return err
		}
		n := rng.Len()
		if int64(len(p.Data)) != n*r.BlockBytes() {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %d bytes for %d blocks of %s", errors.ErrProtocol, len(p.Data), n, p.ID),
				"Collector", "Dispatch", "write result data")
		}
		if !r.BlockWrite(rng.Start, n, p.Data, true) {
			c.logger.Warn("Result data not written", "id", p.ID, "range", rng)
			return nil
		}
		r.CommitValidations(true)
	default:
		c.logger.Debug("Result packet ignored", "id", p.ID, "kind", p.Kind, "role", c.role)
	}
	return nil
}

// checkRange rejects server ranges that are reversed, negative or would make
// the mirror reserve more than maxResult bytes
func (c *Collector) checkRange(r *resultdata.ResultData, p *protocol.Result) error {
	if p.Start < 0 || p.Stop < p.Start {
		return errors.WrapInvalid(
			fmt.Errorf("%w: range [%d,%d) of %s", errors.ErrProtocol, p.Start, p.Stop, p.ID),
			"Collector", "Dispatch", "check result range")
	}
	if bb := r.BlockBytes(); bb > 0 && p.Stop > c.maxResult/bb {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s needs %d blocks of %d bytes, limit %d bytes", errors.ErrProtocol, p.ID, p.Stop, bb, c.maxResult),
			"Collector", "Dispatch", "check result range")
	}
	return nil
}

func (c *Collector) resultInfo(p *protocol.Result) error {
	if c.role != connection.RoleClient {
		c.logger.Debug("Result info ignored on server", "id", p.ID)
		return nil
	}
	if old, ok := c.resultSet[p.ID]; ok {
		old.Close()
		delete(c.resultSet, p.ID)
	}
	def := string(p.Data)
	r := c.results.New()
	if !r.Setup(def, 0) {
		r.Close()
		c.logger.Warn("Cannot mirror result", "id", p.ID, "definition", def)
		return nil
	}
	if r.ID() != p.ID {
		r.Close()
		return errors.WrapInvalid(fmt.Errorf("%w: info for %s defines %s", errors.ErrProtocol, p.ID, r.ID()),
			"Collector", "Dispatch", "mirror result")
	}
	r.SetHandler(c.clientResultEvent)
	c.resultSet[p.ID] = r
	return nil
}
