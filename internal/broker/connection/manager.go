// Package connection owns the single broker connection: its state machine,
// single-flight connects, push-event handling and standing subscriptions.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"llm-autotrader/internal/broker/correlator"
	"llm-autotrader/internal/broker/transport"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/metrics"
	"llm-autotrader/internal/types"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

const DefaultConnectTimeout = 30 * time.Second

type Config struct {
	ConnectTimeout time.Duration
	Account        string
}

type Manager struct {
	cfg  Config
	tr   transport.Transport
	corr *correlator.Correlator
	snap *Snapshot
	subs *Subscriptions

	sf    singleflight.Group
	state atomic.Int32

	mu     sync.Mutex
	waiter chan error // current attempt, signalled by connected or disconnected
}

func New(tr transport.Transport, cfg Config) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	m := &Manager{
		cfg:  cfg,
		tr:   tr,
		corr: correlator.New(tr),
		snap: NewSnapshot(),
		subs: newSubscriptions(tr, cfg.Account),
	}
	m.corr.AvoidIDs(m.snap.IsOrder)
	tr.SetHandler(m.handle)
	return m
}

func (m *Manager) Correlator() *correlator.Correlator { return m.corr }
func (m *Manager) Snapshot() *Snapshot                { return m.snap }
func (m *Manager) Subscriptions() *Subscriptions      { return m.subs }

// Send writes an uncorrelated request, such as a cancel.
func (m *Manager) Send(req transport.Request) error {
	if err := m.tr.Send(req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	return nil
}

func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) IsConnected() bool { return m.State() == Connected }

func (m *Manager) setState(s State) State {
	prev := State(m.state.Swap(int32(s)))
	metrics.SetConnectionState(int(s))
	return prev
}

// Connect is idempotent. Concurrent callers share one attempt; each may stop
// waiting through its own ctx without cancelling the attempt.
func (m *Manager) Connect(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}
	ch := m.sf.DoChan("connect", func() (any, error) {
		return nil, m.attempt()
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) attempt() error {
	if m.IsConnected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	waiter := make(chan error, 1)
	m.mu.Lock()
	m.waiter = waiter
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.waiter == waiter {
			m.waiter = nil
		}
		m.mu.Unlock()
	}()

	m.setState(Connecting)
	logger.Info(ctx, "Connecting to broker", "timeout", m.cfg.ConnectTimeout.String())

	if err := m.tr.Dial(ctx); err != nil {
		m.setState(Disconnected)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("connect: %w after %s", types.ErrRequestTimeout, m.cfg.ConnectTimeout)
		}
		return fmt.Errorf("%w: %v", types.ErrConnection, err)
	}

	select {
	case err := <-waiter:
		if err != nil {
			return err
		}
		logger.Info(ctx, "Broker connected")
		return nil
	case <-ctx.Done():
		m.setState(Disconnected)
		_ = m.tr.Close()
		logger.Warn(ctx, "Broker connect timed out", "timeout", m.cfg.ConnectTimeout.String())
		return fmt.Errorf("connect: %w after %s", types.ErrRequestTimeout, m.cfg.ConnectTimeout)
	}
}

func (m *Manager) signal(err error) {
	m.mu.Lock()
	w := m.waiter
	m.waiter = nil
	m.mu.Unlock()
	if w != nil {
		w <- err
	}
}

// Close stops subscriptions and closes the transport.
func (m *Manager) Close(ctx context.Context) error {
	if m.IsConnected() {
		if err := m.subs.Stop(); err != nil {
			logger.Warn(ctx, "Failed to stop subscriptions", "error", err)
		}
	}
	err := m.tr.Close()
	m.onDisconnect("closed by client")
	return err
}

func (m *Manager) handle(ev transport.Event) {
	ctx := context.Background()

	switch ev.Name {
	case transport.EventConnected:
		m.onConnected(ctx)

	case transport.EventDisconnected, transport.EventClosed:
		m.onDisconnect(ev.Name + " " + ev.Message)

	case transport.EventError:
		m.handleError(ctx, ev)

	case transport.EventNextValidID:
		var msg nextValidIDMsg
		if err := ev.Decode(&msg); err != nil {
			logger.Warn(ctx, "Bad nextValidId event", "error", err)
			return
		}
		m.snap.SetNextOrderID(msg.OrderID)
		logger.Debug(ctx, "Order id baseline", "next_order_id", msg.OrderID)

	case transport.EventPosition:
		var msg positionMsg
		if err := ev.Decode(&msg); err != nil {
			logger.Warn(ctx, "Bad position event", "error", err)
			return
		}
		m.snap.applyPosition(msg)

	case transport.EventPositionEnd:
		m.subs.markFresh()

	case transport.EventUpdateAccountValue:
		var msg accountValueMsg
		if err := ev.Decode(&msg); err != nil {
			logger.Warn(ctx, "Bad account value event", "error", err)
			return
		}
		m.snap.applyAccountValue(msg)

	case transport.EventOrderStatus:
		var msg orderStatusMsg
		if err := ev.Decode(&msg); err == nil {
			m.snap.applyOrderStatus(ev.ReqID, msg)
		}
		m.corr.DispatchOrder(ev)

	case transport.EventOpenOrder:
		var msg openOrderMsg
		if err := ev.Decode(&msg); err == nil {
			m.snap.applyOpenOrder(ev.ReqID, msg)
		}
		m.corr.DispatchOrder(ev)

	default:
		if !m.corr.Dispatch(ev) {
			logger.Debug(ctx, "Unmatched broker event", "event", ev.Name, "id", ev.ReqID)
		}
	}
}

func (m *Manager) handleError(ctx context.Context, ev transport.Event) {
	if IsInformational(ev.Code) {
		logger.Debug(ctx, "Broker notice", "code", ev.Code, "message", ev.Message)
		return
	}
	if ev.ReqID <= 0 {
		if connectivityLostCodes[ev.Code] {
			logger.Warn(ctx, "Broker connectivity lost", "code", ev.Code, "message", ev.Message)
			m.onDisconnect(fmt.Sprintf("code %d: %s", ev.Code, ev.Message))
			return
		}
		logger.Warn(ctx, "Broker error without request", "code", ev.Code, "message", ev.Message)
		return
	}

	if m.snap.IsOrder(ev.ReqID) {
		switch {
		case orderWarningCodes[ev.Code]:
			logger.Info(ctx, "Order warning", "order_id", ev.ReqID, "code", ev.Code, "message", ev.Message)
			return
		case ev.Code == CodeOrderCanceled:
			m.snap.markOrderCancelled(ev.ReqID)
			logger.Info(ctx, "Order cancelled", "order_id", ev.ReqID)
		default:
			m.snap.markOrderError(ev.ReqID, ev.Code, ev.Message)
			logger.Warn(ctx, "Order rejected by broker", "order_id", ev.ReqID, "code", ev.Code, "message", ev.Message)
		}
		if !m.corr.DispatchOrder(ev) {
			logger.Debug(ctx, "Order error without a pending acknowledgement", "order_id", ev.ReqID, "code", ev.Code)
		}
		return
	}
	if !m.corr.Dispatch(ev) {
		logger.Debug(ctx, "Broker error for unknown request", "id", ev.ReqID, "code", ev.Code, "message", ev.Message)
	}
}

func (m *Manager) onConnected(ctx context.Context) {
	m.setState(Connected)
	m.signal(nil)

	if err := m.tr.Send(transport.Request{Op: transport.OpReqIDs}); err != nil {
		logger.Warn(ctx, "Failed to request order id baseline", "error", err)
	}
	if err := m.subs.Start(); err != nil {
		logger.Warn(ctx, "Failed to start push subscriptions", "error", err)
	}
}

func (m *Manager) onDisconnect(reason string) {
	prev := m.setState(Disconnected)
	m.signal(fmt.Errorf("%w: %s", types.ErrConnection, reason))

	failed := m.corr.FailAll(types.ErrConnection)
	m.subs.markStale()
	m.snap.resetOrderIDs()

	if prev != Disconnected || failed > 0 {
		logger.Warn(context.Background(), "Broker disconnected",
			"reason", reason, "previous_state", prev.String(), "failed_requests", failed)
	}
}
