package broadcast

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	appLog "simcal/internal/log"
)

const writeTimeout = 5 * time.Second

// lockedWriter serializes frame writes from Send and from the control
// frame replies the read loop produces.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type readWriter struct {
	io.Reader
	io.Writer
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(writeTimeout)
}

// Hub is the WebSocket side of a hosted session. It accepts client
// connections on ServeHTTP, relays every message a client sends to all
// other clients, and doubles as the Transport of the hosting process.
type Hub struct {
	mu       sync.RWMutex
	conns    map[*hubConn]struct{}
	handlers []func(Message)
	closed   bool
}

type hubConn struct {
	conn   net.Conn
	remote string
	wmu    sync.Mutex
}

func (c *hubConn) write(ctx context.Context, p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline(ctx)); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(c.conn, ws.OpText, p)
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*hubConn]struct{})}
}

// ServeHTTP upgrades the request to a WebSocket and serves it until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, brw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		appLog.Error("broadcast: websocket upgrade failed", err, "remote", r.RemoteAddr)
		return
	}
	hc := &hubConn{conn: conn, remote: r.RemoteAddr}

	h.mu.Lock()
	h.conns[hc] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	appLog.Info("broadcast: client connected", "remote", hc.remote, "clients", n)

	var reader io.Reader = conn
	if brw != nil && brw.Reader != nil {
		reader = brw.Reader
	}
	go h.readLoop(hc, reader)
}

func (h *Hub) readLoop(hc *hubConn, r io.Reader) {
	defer h.drop(hc)
	rw := readWriter{Reader: r, Writer: lockedWriter{mu: &hc.wmu, w: hc.conn}}
	for {
		p, op, err := wsutil.ReadClientData(rw)
		if err != nil {
			appLog.Debug("broadcast: client read ended", "remote", hc.remote, "err", err.Error())
			return
		}
		if op != ws.OpText {
			continue
		}
		m, err := decode(p)
		if err != nil {
			appLog.Error("broadcast: dropping bad message", err, "remote", hc.remote)
			continue
		}
		h.relay(context.Background(), p, hc)
		h.deliver(m)
	}
}

func (h *Hub) drop(hc *hubConn) {
	h.mu.Lock()
	_, ok := h.conns[hc]
	delete(h.conns, hc)
	n := len(h.conns)
	h.mu.Unlock()
	if ok {
		_ = hc.conn.Close()
		appLog.Info("broadcast: client disconnected", "remote", hc.remote, "clients", n)
	}
}

// relay writes p to every connection except from.
func (h *Hub) relay(ctx context.Context, p []byte, from *hubConn) {
	h.mu.RLock()
	targets := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(ctx, p); err != nil {
			appLog.Error("broadcast: write to client failed", err, "remote", c.remote)
			h.drop(c)
		}
	}
}

func (h *Hub) deliver(m Message) {
	h.mu.RLock()
	handlers := append([]func(Message){}, h.handlers...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(m)
	}
}

// Send broadcasts m to every connected client.
func (h *Hub) Send(ctx context.Context, m Message) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	p, err := encode(m)
	if err != nil {
		return err
	}
	h.relay(ctx, p, nil)
	return nil
}

func (h *Hub) OnReceive(fn func(Message)) {
	h.mu.Lock()
	h.handlers = append(h.handlers, fn)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.drop(c)
	}
	return nil
}

var _ Transport = (*Hub)(nil)
