// Package correlator matches asynchronous broker events to the request that
// caused them. Every request gets a unique id, a pending entry and a set of
// listeners keyed by (event name, axis, id); all of them are removed exactly once,
// whichever of match, end-of-stream, window close, timeout, cancellation,
// send failure or connection loss happens first.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"llm-autotrader/internal/broker/transport"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/metrics"
	"llm-autotrader/internal/types"
)

// FirstID is where request ids start. Broker order ids live on their own
// axis, but error events carry either kind of id.
const FirstID int64 = 1_000_000

// Axis is the id space a call is correlated on.
type Axis uint8

const (
	AxisRequest Axis = iota
	AxisOrder
)

func (a Axis) String() string {
	if a == AxisOrder {
		return "order"
	}
	return "request"
}

// ErrNotSent means the call never reached the transport.
var ErrNotSent = errors.New("request not sent")

const DefaultTimeout = 10 * time.Second

type Kind string

const (
	KindHistoricalData  Kind = "historical_data"
	KindQuote           Kind = "quote"
	KindOptionChain     Kind = "option_chain"
	KindOptionContract  Kind = "option_contract"
	KindContractDetails Kind = "contract_details"
	KindNews            Kind = "news"
	KindFundamentals    Kind = "fundamentals"
	KindAccountSummary  Kind = "account_summary"
	KindSymbolSearch    Kind = "symbol_search"
	KindOrderAck        Kind = "order_ack"
)

// Call describes one correlated request.
//
// With neither EndEvent nor Window set the first data event resolves the call.
// With EndEvent set, data events accumulate until the end event arrives.
// With Window set, data events accumulate until the window closes.
type Call struct {
	Kind    Kind
	Op      string
	Payload any

	// ID is used instead of an allocated id when non-zero. Order-axis
	// calls must set it to the broker order id.
	ID   int64
	Axis Axis

	// SuccessCodes are error codes that resolve the call successfully,
	// with the error event as its only event.
	SuccessCodes []int

	DataEvents []string
	EndEvent   string
	Window     time.Duration

	Timeout          time.Duration
	PartialOnTimeout bool
}

type Result struct {
	ID      int64
	Events  []transport.Event
	Partial bool
}

// Sender is the outbound half of a transport.
type Sender interface {
	Send(req transport.Request) error
}

type outcome struct {
	res Result
	err error
}

type key struct {
	axis Axis
	id   int64
}

type pending struct {
	key      key
	id       int64
	call     Call
	created  time.Time
	events   []transport.Event
	resolved bool
	timers   []*time.Timer
	done     chan outcome
}

type Correlator struct {
	sender Sender

	mu        sync.Mutex
	nextID    int64
	avoid     func(id int64) bool
	pending   map[key]*pending
	listeners map[string]map[key]*pending
}

func New(sender Sender) *Correlator {
	return &Correlator{
		sender:    sender,
		nextID:    FirstID,
		pending:   make(map[key]*pending),
		listeners: make(map[string]map[key]*pending),
	}
}

// AvoidIDs makes request-id allocation skip ids for which fn is true, so an
// error event for a known order id is never mistaken for a request error.
func (c *Correlator) AvoidIDs(fn func(id int64) bool) {
	c.mu.Lock()
	c.avoid = fn
	c.mu.Unlock()
}

// NextID allocates a request id without registering anything.
func (c *Correlator) NextID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocLocked()
}

func (c *Correlator) allocLocked() int64 {
	for {
		id := c.nextID
		c.nextID++
		if c.avoid != nil && c.avoid(id) {
			continue
		}
		if _, busy := c.pending[key{AxisRequest, id}]; busy {
			continue
		}
		return id
	}
}

// Do sends the call and blocks until it resolves.
func (c *Correlator) Do(ctx context.Context, call Call) (Result, error) {
	p, err := c.register(call)
	if err != nil {
		return Result{}, fmt.Errorf("%s request: %w: %w", call.Kind, ErrNotSent, err)
	}

	req := transport.Request{Op: call.Op, ReqID: p.id, Payload: call.Payload}
	if err := c.sender.Send(req); err != nil {
		c.finish(p, outcome{err: fmt.Errorf("%s request %d: %w: %w: %v", call.Kind, p.id, ErrNotSent, types.ErrConnection, err)}, "connection")
	}

	select {
	case o := <-p.done:
		return o.res, o.err
	case <-ctx.Done():
		c.finish(p, outcome{err: ctx.Err()}, "cancelled")
		o := <-p.done
		return o.res, o.err
	}
}

func (c *Correlator) register(call Call) (*pending, error) {
	if call.Timeout <= 0 {
		call.Timeout = DefaultTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := call.ID
	switch {
	case id == 0 && call.Axis == AxisOrder:
		return nil, errors.New("order call without an order id")
	case id == 0:
		id = c.allocLocked()
	}
	k := key{call.Axis, id}
	if _, dup := c.pending[k]; dup {
		return nil, fmt.Errorf("%s id %d already pending", call.Axis, id)
	}

	p := &pending{
		key:     k,
		id:      id,
		call:    call,
		created: time.Now(),
		done:    make(chan outcome, 1),
	}
	c.pending[k] = p
	for _, name := range c.eventNames(call) {
		m := c.listeners[name]
		if m == nil {
			m = make(map[key]*pending)
			c.listeners[name] = m
		}
		m[k] = p
	}

	if call.Window > 0 {
		p.timers = append(p.timers, time.AfterFunc(call.Window, func() { c.closeWindow(p) }))
	}
	p.timers = append(p.timers, time.AfterFunc(call.Timeout, func() { c.expire(p) }))

	metrics.PendingAdd(1)
	return p, nil
}

func (c *Correlator) eventNames(call Call) []string {
	names := append([]string{transport.EventError}, call.DataEvents...)
	if call.EndEvent != "" {
		names = append(names, call.EndEvent)
	}
	return names
}

// Dispatch routes ev to its pending request. It reports whether ev was consumed.
func (c *Correlator) Dispatch(ev transport.Event) bool { return c.dispatch(AxisRequest, ev) }

// DispatchOrder routes ev, whose id is a broker order id, to the pending
// order acknowledgement.
func (c *Correlator) DispatchOrder(ev transport.Event) bool { return c.dispatch(AxisOrder, ev) }

func (c *Correlator) dispatch(axis Axis, ev transport.Event) bool {
	if ev.ReqID <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.listeners[ev.Name][key{axis, ev.ReqID}]
	if p == nil || p.resolved {
		return false
	}

	switch {
	case ev.Name == transport.EventError && slices.Contains(p.call.SuccessCodes, ev.Code):
		c.finishLocked(p, outcome{res: Result{ID: p.id, Events: []transport.Event{ev}}}, "ok")
	case ev.Name == transport.EventError:
		c.finishLocked(p, outcome{err: &types.ProtocolError{ReqID: ev.ReqID, Code: ev.Code, Message: ev.Message}}, "error")
	case ev.Name == p.call.EndEvent:
		c.finishLocked(p, outcome{res: Result{ID: p.id, Events: p.events}}, "ok")
	case p.call.EndEvent == "" && p.call.Window == 0:
		c.finishLocked(p, outcome{res: Result{ID: p.id, Events: []transport.Event{ev}}}, "ok")
	default:
		p.events = append(p.events, ev)
	}
	return true
}

// FailAll resolves every pending request with err.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, p := range c.pending {
		c.finishLocked(p, outcome{err: fmt.Errorf("%s request %d: %w", p.call.Kind, p.id, err)}, "connection")
		n++
	}
	return n
}

// IsPending reports whether request id is awaiting resolution.
func (c *Correlator) IsPending(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key{AxisRequest, id}]
	return ok
}

// IsOrderPending reports whether an acknowledgement for order id is awaited.
func (c *Correlator) IsOrderPending(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key{AxisOrder, id}]
	return ok
}

func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ListenerCount is the number of registered (event, id) listeners.
func (c *Correlator) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.listeners {
		n += len(m)
	}
	return n
}

func (c *Correlator) closeWindow(p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.resolved {
		return
	}
	c.finishLocked(p, outcome{res: Result{ID: p.id, Events: p.events}}, "ok")
}

func (c *Correlator) expire(p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.resolved {
		return
	}

	logger.Debug(context.Background(), "Broker request timed out",
		"kind", string(p.call.Kind), "id", p.id, "events", len(p.events), "elapsed", time.Since(p.created).String())

	if p.call.PartialOnTimeout && len(p.events) > 0 {
		c.finishLocked(p, outcome{res: Result{ID: p.id, Events: p.events, Partial: true}}, "partial")
		return
	}
	c.finishLocked(p, outcome{err: fmt.Errorf("%s request %d: %w", p.call.Kind, p.id, types.ErrRequestTimeout)}, "timeout")
}

func (c *Correlator) finish(p *pending, o outcome, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(p, o, label)
}

// finishLocked is the single resolution point. Later calls for p are no-ops.
func (c *Correlator) finishLocked(p *pending, o outcome, label string) {
	if p.resolved {
		return
	}
	p.resolved = true

	for _, t := range p.timers {
		t.Stop()
	}
	delete(c.pending, p.key)
	for _, name := range c.eventNames(p.call) {
		if m := c.listeners[name]; m != nil {
			delete(m, p.key)
			if len(m) == 0 {
				delete(c.listeners, name)
			}
		}
	}

	if errors.Is(o.err, context.Canceled) || errors.Is(o.err, context.DeadlineExceeded) {
		label = "cancelled"
	}
	metrics.PendingAdd(-1)
	metrics.ObserveRequest(string(p.call.Kind), label)

	p.done <- o
}
