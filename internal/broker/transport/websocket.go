package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"llm-autotrader/internal/logger"
)

const writeWait = 10 * time.Second

// WebSocket frames requests and events as JSON text messages.
type WebSocket struct {
	url       string
	heartbeat time.Duration
	dialer    *websocket.Dialer

	mu      sync.Mutex // guards conn and serializes writes
	conn    *websocket.Conn
	handler atomic.Pointer[Handler]
	closing atomic.Bool
}

var _ Transport = (*WebSocket)(nil)

func NewWebSocket(url string, heartbeat time.Duration) *WebSocket {
	return &WebSocket{
		url:       url,
		heartbeat: heartbeat,
		dialer:    websocket.DefaultDialer,
	}
}

func (w *WebSocket) SetHandler(h Handler) {
	w.handler.Store(&h)
}

func (w *WebSocket) emit(ev Event) {
	if h := w.handler.Load(); h != nil && *h != nil {
		(*h)(ev)
	}
}

func (w *WebSocket) Dial(ctx context.Context) error {
	logger.Info(ctx, "Dialing broker websocket", "url", w.url)

	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}

	w.mu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
	}
	w.conn = conn
	w.mu.Unlock()
	w.closing.Store(false)

	if w.heartbeat > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * w.heartbeat))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * w.heartbeat))
		})
	}

	done := make(chan struct{})
	go w.readLoop(conn, done)
	if w.heartbeat > 0 {
		go w.pingLoop(conn, done)
	}

	w.emit(Event{Name: EventConnected})
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.detach(conn)
			if w.closing.Load() {
				w.emit(Event{Name: EventClosed})
			} else {
				logger.Warn(context.Background(), "Broker websocket read failed", "error", err)
				w.emit(Event{Name: EventDisconnected, Message: err.Error()})
			}
			return
		}
		if w.heartbeat > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * w.heartbeat))
		}

		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			logger.Warn(context.Background(), "Dropping malformed broker frame", "error", err, "bytes", len(msg))
			continue
		}
		if ev.Name == "" {
			continue
		}
		w.emit(ev)
	}
}

func (w *WebSocket) pingLoop(conn *websocket.Conn, done chan struct{}) {
	t := time.NewTicker(w.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			// WriteControl may run concurrently with WriteJSON.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Warn(context.Background(), "Broker heartbeat failed", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (w *WebSocket) detach(conn *websocket.Conn) {
	w.mu.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	w.mu.Unlock()
	_ = conn.Close()
}

func (w *WebSocket) Send(req Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return ErrNotConnected
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send %s: %w", req.Op, err)
	}
	return nil
}

func (w *WebSocket) Close() error {
	w.closing.Store(true)

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}
