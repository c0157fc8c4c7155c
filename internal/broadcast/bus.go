package broadcast

import (
	"context"
	"sync"
)

// Bus is an in-process broadcast medium. Every endpoint joined to it sees
// the messages sent by the others, synchronously and in send order.
type Bus struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
}

func NewBus() *Bus { return &Bus{} }

// Join adds an endpoint.
func (b *Bus) Join() *Endpoint {
	e := &Endpoint{bus: b}
	b.mu.Lock()
	b.endpoints = append(b.endpoints, e)
	b.mu.Unlock()
	return e
}

func (b *Bus) leave(e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, other := range b.endpoints {
		if other == e {
			b.endpoints = append(b.endpoints[:i], b.endpoints[i+1:]...)
			return
		}
	}
}

func (b *Bus) peers(except *Endpoint) []*Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Endpoint, 0, len(b.endpoints))
	for _, e := range b.endpoints {
		if e != except {
			out = append(out, e)
		}
	}
	return out
}

// Endpoint is one client's view of a Bus.
type Endpoint struct {
	bus *Bus

	mu       sync.RWMutex
	handlers []func(Message)
	closed   bool
}

func (e *Endpoint) Send(ctx context.Context, m Message) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	for _, peer := range e.bus.peers(e) {
		if err := ctx.Err(); err != nil {
			return err
		}
		peer.deliver(m)
	}
	return nil
}

func (e *Endpoint) OnReceive(fn func(Message)) {
	e.mu.Lock()
	e.handlers = append(e.handlers, fn)
	e.mu.Unlock()
}

func (e *Endpoint) deliver(m Message) {
	e.mu.RLock()
	handlers := append([]func(Message){}, e.handlers...)
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(m)
	}
}

// Close leaves the bus.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.bus.leave(e)
	return nil
}
