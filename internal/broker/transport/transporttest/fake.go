// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"sync"

	"llm-autotrader/internal/broker/transport"
)

// Responder reacts to a sent request, usually by emitting events.
type Responder func(f *Fake, req transport.Request)

// Fake records sent requests and delivers events synchronously to the handler.
type Fake struct {
	mu        sync.Mutex
	handler   transport.Handler
	sent      []transport.Request
	connected bool
	dials     int

	responder Responder
	dialErr   error
	dialGate  chan struct{}
	silent    bool
	sendErr   error
}

var _ transport.Transport = (*Fake)(nil)

func New() *Fake {
	return &Fake{}
}

// OnSend installs a responder called after each recorded request.
func (f *Fake) OnSend(r Responder) {
	f.mu.Lock()
	f.responder = r
	f.mu.Unlock()
}

// FailDial makes subsequent dials return err.
func (f *Fake) FailDial(err error) {
	f.mu.Lock()
	f.dialErr = err
	f.mu.Unlock()
}

// HoldDial blocks dials until the returned release func is called.
func (f *Fake) HoldDial() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.dialGate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Silent suppresses the connected event after a successful dial.
func (f *Fake) Silent(silent bool) {
	f.mu.Lock()
	f.silent = silent
	f.mu.Unlock()
}

// FailSend makes Send return err without recording.
func (f *Fake) FailSend(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *Fake) SetHandler(h transport.Handler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *Fake) Dial(ctx context.Context) error {
	f.mu.Lock()
	f.dials++
	gate, err := f.dialGate, f.dialErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.connected = true
	silent := f.silent
	f.mu.Unlock()

	if !silent {
		f.Emit(transport.Event{Name: transport.EventConnected})
	}
	return nil
}

func (f *Fake) Send(req transport.Request) error {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	if !f.connected {
		f.mu.Unlock()
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, req)
	r := f.responder
	f.mu.Unlock()

	if r != nil {
		r(f, req)
	}
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	was := f.connected
	f.connected = false
	f.mu.Unlock()
	if was {
		f.Emit(transport.Event{Name: transport.EventClosed})
	}
	return nil
}

// Drop simulates the remote side going away.
func (f *Fake) Drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.Emit(transport.Event{Name: transport.EventDisconnected, Message: "connection reset"})
}

// Emit delivers ev to the handler on the caller's goroutine.
func (f *Fake) Emit(ev transport.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// EmitData marshals data into an event for id.
func (f *Fake) EmitData(name string, id int64, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	f.Emit(transport.Event{Name: name, ReqID: id, Data: raw})
}

// EmitError emits a broker error event.
func (f *Fake) EmitError(id int64, code int, msg string) {
	f.Emit(transport.Event{Name: transport.EventError, ReqID: id, Code: code, Message: msg})
}

func (f *Fake) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *Fake) Sent() []transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Request(nil), f.sent...)
}

// SentOp returns requests with the given op, in send order.
func (f *Fake) SentOp(op string) []transport.Request {
	var out []transport.Request
	for _, r := range f.Sent() {
		if r.Op == op {
			out = append(out, r)
		}
	}
	return out
}

// DecodePayload round-trips req.Payload through JSON into v.
func DecodePayload(req transport.Request, v any) error {
	raw, err := json.Marshal(req.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
