package broadcast

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	appLog "simcal/internal/log"
)

var ErrDisconnected = errors.New("broadcast: not connected to hub")

const defaultRedial = 2 * time.Second

// Client is the Transport of a process that joins a hosted session. It
// keeps redialing the hub until closed.
type Client struct {
	url    string
	redial time.Duration
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	conn     net.Conn
	wmu      sync.Mutex
	handlers []func(Message)
}

// Dial connects to the hub at url (ws:// or wss://). The first connection
// must succeed; later drops are redialed in the background.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, r, err := dial(ctx, url)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{url: url, redial: defaultRedial, cancel: cancel, done: make(chan struct{})}
	c.conn = conn
	go c.run(runCtx, conn, r)
	return c, nil
}

func dial(ctx context.Context, url string) (net.Conn, io.Reader, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	if br != nil {
		return conn, br, nil
	}
	return conn, conn, nil
}

func (c *Client) run(ctx context.Context, conn net.Conn, r io.Reader) {
	defer close(c.done)
	for {
		c.readLoop(conn, r)
		c.setConn(nil)
		_ = conn.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.redial):
			}
			var err error
			conn, r, err = dial(ctx, c.url)
			if err == nil && ctx.Err() != nil {
				_ = conn.Close()
				return
			}
			if err == nil {
				appLog.Info("broadcast: reconnected to hub", "url", c.url)
				c.setConn(conn)
				break
			}
			appLog.Debug("broadcast: redial failed", "url", c.url, "err", err.Error())
		}
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) readLoop(conn net.Conn, r io.Reader) {
	rw := readWriter{Reader: r, Writer: lockedWriter{mu: &c.wmu, w: conn}}
	for {
		p, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			appLog.Debug("broadcast: hub read ended", "url", c.url, "err", err.Error())
			return
		}
		if op != ws.OpText {
			continue
		}
		m, err := decode(p)
		if err != nil {
			appLog.Error("broadcast: dropping bad message", err, "url", c.url)
			continue
		}
		c.mu.RLock()
		handlers := append([]func(Message){}, c.handlers...)
		c.mu.RUnlock()
		for _, fn := range handlers {
			fn(m)
		}
	}
}

func (c *Client) Send(ctx context.Context, m Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrDisconnected
	}
	p, err := encode(m)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.SetWriteDeadline(deadline(ctx)); err != nil {
		return err
	}
	return wsutil.WriteClientMessage(conn, ws.OpText, p)
}

func (c *Client) OnReceive(fn func(Message)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

// Close stops redialing and closes the connection.
func (c *Client) Close() error {
	c.cancel()
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	<-c.done
	return err
}

var _ Transport = (*Client)(nil)
