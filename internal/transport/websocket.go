// Package transport adapts WebSocket connections to the byte streams of a
// voice session. Inbound binary messages are raw PCM chunks; outbound binary
// messages are synthesized audio chunks.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/voice"
)

var (
	// ErrTooManySessions is returned by [Host.Admit] when the session limit is
	// reached.
	ErrTooManySessions = errors.New("transport: too many sessions")

	// ErrUnavailable is returned by [Host.Admit] while the server is draining
	// or cannot serve sessions.
	ErrUnavailable = errors.New("transport: service unavailable")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1 << 20
)

// Host admits and runs the session behind each accepted connection.
type Host interface {
	// Admit reserves a session slot before the upgrade. The returned release
	// func frees it. An error wrapping ErrTooManySessions or ErrUnavailable
	// rejects the request with 503.
	Admit() (release func(), err error)

	// Serve runs the session until the connection ends. ctx is cancelled
	// when the client goes away.
	Serve(ctx context.Context, conn *Conn) error
}

// Conn is one upgraded connection. It implements [voice.Inbound] and
// [voice.Outbound].
type Conn struct {
	ws           *websocket.Conn
	ctx          context.Context
	writeTimeout time.Duration
	remoteAddr   string
	log          *slog.Logger

	pumpOnce sync.Once
	msgs     chan []byte
	readErr  error // set before msgs is closed
	done     chan struct{}
}

var (
	_ voice.Inbound  = (*Conn)(nil)
	_ voice.Outbound = (*Conn)(nil)
)

// RemoteAddr returns the client address of the upgrade request.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Receive returns the next binary message. Text messages are ignored. A
// normal close by the client returns io.EOF. Cancelling ctx abandons the
// wait without closing the socket, so the handler can still close it
// cleanly.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.pumpOnce.Do(func() { go c.pump() })
	select {
	case data, ok := <-c.msgs:
		if !ok {
			return nil, c.readErr
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pump reads on the connection context; a cancelled read would close the
// socket.
func (c *Conn) pump() {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.readErr = io.EOF
			default:
				c.readErr = fmt.Errorf("transport: read: %w", err)
			}
			close(c.msgs)
			return
		}
		if typ != websocket.MessageBinary {
			c.log.Debug("ignoring text message", "bytes", len(data))
			continue
		}
		select {
		case c.msgs <- data:
		case <-c.done:
			return
		}
	}
}

// Send writes chunk as one binary message. ctx gates the write but does not
// bound it: a cancelled write would close the socket, so the write itself
// runs on the connection context with the configured timeout.
func (c *Conn) Send(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	if err := c.ws.Write(wctx, websocket.MessageBinary, chunk); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Option configures a [Handler].
type Option func(*Handler)

// WithWriteTimeout bounds each outbound write. Defaults to 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithReadLimit caps the size of one inbound message. Defaults to 1 MiB.
func WithReadLimit(n int64) Option {
	return func(h *Handler) { h.readLimit = n }
}

// WithOriginPatterns allows cross-origin upgrades from the given host
// patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// Handler upgrades requests to WebSocket and hands them to a [Host].
type Handler struct {
	host         Host
	writeTimeout time.Duration
	readLimit    int64
	origins      []string
	log          *slog.Logger
}

// NewHandler returns a handler serving voice sessions through host.
func NewHandler(host Host, opts ...Option) *Handler {
	h := &Handler{
		host:         host,
		writeTimeout: defaultWriteTimeout,
		readLimit:    defaultReadLimit,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	release, err := h.host.Admit()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrTooManySessions) || errors.Is(err, ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		h.log.Warn("session rejected", "remote_addr", r.RemoteAddr, "err", err)
		http.Error(w, err.Error(), status)
		return
	}
	defer release()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		// Accept has already written the response.
		h.log.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(h.readLimit)

	conn := &Conn{
		ws:           ws,
		ctx:          r.Context(),
		writeTimeout: h.writeTimeout,
		remoteAddr:   r.RemoteAddr,
		log:          h.log.With("remote_addr", r.RemoteAddr),
		msgs:         make(chan []byte),
		done:         make(chan struct{}),
	}
	err = h.host.Serve(r.Context(), conn)
	close(conn.done)
	if err != nil {
		_ = ws.Close(websocket.StatusInternalError, "session error")
		return
	}
	_ = ws.Close(websocket.StatusNormalClosure, "")
}
