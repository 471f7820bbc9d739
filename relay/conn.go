package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
)

const (
	// Keepalive tuning for the persistent relay connection.
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
)

var (
	ErrConnClosed  = errors.New("relay connection closed")
	ErrTimeout     = errors.New("relay request timed out")
	ErrPendingKind = errors.New("a request of this kind is already pending")
)

// NotifyFunc receives frames that did not match any pending request
// (broadcast notifications and stray responses). It must not block; slow
// consumers should buffer internally.
type NotifyFunc func(*Frame)

// ErrorHandler lets a request re-interpret a relay error frame. Returning
// (payload, true) resolves the request successfully with the synthesized
// payload; returning (nil, false) leaves the error in place.
type ErrorHandler func(*ErrorPayload) (json.RawMessage, bool)

type pendingResult struct {
	frame    *Frame
	relayErr *ErrorPayload
}

// Conn wraps the websocket and correlates inbound frames to pending requests
// by kind. There is no request id on the wire: callers must ensure only one
// request per response kind is outstanding at a time; Request enforces this
// and fails fast on a duplicate.
type Conn struct {
	log    slog.Logger
	ws     *websocket.Conn
	notify NotifyFunc

	writeMu sync.Mutex // serializes websocket writes

	mu       sync.Mutex
	pending  map[Kind]chan pendingResult
	closed   bool
	closeErr error

	quit chan struct{}
}

// Dial opens the persistent duplex connection and starts the read loop.
func Dial(ctx context.Context, url string, log slog.Logger, notify NotifyFunc) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	return NewConn(ws, log, notify), nil
}

// NewConn wraps an established websocket. Used directly by tests that run an
// in-process relay.
func NewConn(ws *websocket.Conn, log slog.Logger, notify NotifyFunc) *Conn {
	c := &Conn{
		log:     log,
		ws:      ws,
		notify:  notify,
		pending: make(map[Kind]chan pendingResult),
		quit:    make(chan struct{}),
	}
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readLoop()
	go c.pingLoop()
	return c
}

// Close tears down the connection. All pending requests fail with
// ErrConnClosed.
func (c *Conn) Close() error {
	c.shutdown(ErrConnClosed)
	return c.ws.Close()
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	waiters := c.pending
	c.pending = make(map[Kind]chan pendingResult)
	c.mu.Unlock()
	close(c.quit)

	for _, ch := range waiters {
		select {
		case ch <- pendingResult{}:
		default:
		}
	}
}

func (c *Conn) readLoop() {
	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.log.Debugf("relay read loop ended: %v", err)
			c.shutdown(fmt.Errorf("%w: %v", ErrConnClosed, err))
			return
		}
		c.dispatch(&f)
	}
}

func (c *Conn) pingLoop() {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debugf("relay ping failed: %v", err)
			}
		}
	}
}

func (c *Conn) dispatch(f *Frame) {
	if f.Kind == KindError {
		var ep ErrorPayload
		if err := json.Unmarshal(f.Payload, &ep); err != nil {
			ep = ErrorPayload{Message: string(f.Payload)}
		}
		// Error frames carry no kind correlation: resolve every pending
		// request. With the one-outstanding-request-per-kind discipline this
		// reaches exactly the caller that triggered it.
		c.mu.Lock()
		waiters := make([]chan pendingResult, 0, len(c.pending))
		for _, ch := range c.pending {
			waiters = append(waiters, ch)
		}
		c.mu.Unlock()
		if len(waiters) == 0 {
			c.log.Warnf("relay error with no pending request: %s", ep.Error())
			return
		}
		for _, ch := range waiters {
			select {
			case ch <- pendingResult{relayErr: &ep}:
			default:
			}
		}
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[f.Kind]
	c.mu.Unlock()
	if ok {
		select {
		case ch <- pendingResult{frame: f}:
		default:
			// Listener already resolved (late duplicate); fall through to
			// the notification path so redeliveries are still observable.
			if c.notify != nil {
				c.notify(f)
			}
		}
		return
	}
	if c.notify != nil {
		c.notify(f)
		return
	}
	c.log.Debugf("dropping unsolicited frame kind=%s", f.Kind)
}

// Send writes a frame without waiting for any response.
func (c *Conn) Send(kind Kind, payload any) error {
	f, err := NewFrame(kind, payload)
	if err != nil {
		return err
	}
	return c.writeFrame(f)
}

func (c *Conn) writeFrame(f *Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.closeErr
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Kind, err)
	}
	return nil
}

// Request sends a frame and suspends until a frame of respKind arrives, an
// error frame resolves the call, the timeout elapses, or ctx is cancelled.
// Timeouts deregister the listener; no retry is attempted here. onErr may be
// nil.
func (c *Conn) Request(ctx context.Context, reqKind Kind, payload any, respKind Kind, timeout time.Duration, onErr ErrorHandler) (json.RawMessage, error) {
	ch := make(chan pendingResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.closeErr
	}
	if _, dup := c.pending[respKind]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPendingKind, respKind)
	}
	c.pending[respKind] = ch
	c.mu.Unlock()

	deregister := func() {
		c.mu.Lock()
		if c.pending[respKind] == ch {
			delete(c.pending, respKind)
		}
		c.mu.Unlock()
	}
	defer deregister()

	if err := c.Send(reqKind, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.relayErr != nil {
			if onErr != nil {
				if synth, ok := onErr(res.relayErr); ok {
					return synth, nil
				}
			}
			return nil, res.relayErr
		}
		if res.frame == nil {
			// Resolved by shutdown.
			c.mu.Lock()
			err := c.closeErr
			c.mu.Unlock()
			if err == nil {
				err = ErrConnClosed
			}
			return nil, err
		}
		return res.frame.Payload, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, reqKind, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		c.mu.Lock()
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
}

// RequestInto is Request plus unmarshalling into out.
func (c *Conn) RequestInto(ctx context.Context, reqKind Kind, payload any, respKind Kind, timeout time.Duration, onErr ErrorHandler, out any) error {
	raw, err := c.Request(ctx, reqKind, payload, respKind, timeout, onErr)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", respKind, err)
	}
	return nil
}
