package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"simcal/internal/events"
	appLog "simcal/internal/log"
	"simcal/internal/model"
	"simcal/internal/notes"
)

type ClockSink interface {
	Apply(date model.Date, elapsed float64)
}

type ElectionSink interface {
	HandleClaim(from string)
	HandleHeartbeat(from string)
	IsLeader() bool
}

type NoteSink interface {
	Upsert(n notes.Note) (notes.Note, error)
	Remove(id string) error
}

// Routes are the local components incoming messages are handed to. Any
// of them may be nil.
type Routes struct {
	Clock    ClockSink
	Election ElectionSink
	Notes    NoteSink
}

const (
	queueSize          = 64
	defaultSendTimeout = 5 * time.Second
)

// Coordinator is the only component that talks to the Transport. Incoming
// messages from other clients are routed to the bound components; outgoing
// messages are queued and sent in order on a background goroutine, so
// callers never wait on the network.
type Coordinator struct {
	id          string
	tr          Transport
	sendTimeout time.Duration

	mu     sync.RWMutex
	routes Routes

	queue   chan Message
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	pendMu  sync.Mutex
	pendC   *sync.Cond
	pending int

	received events.Topic[Message]
}

func NewCoordinator(id string, tr Transport) *Coordinator {
	c := &Coordinator{
		id:          id,
		tr:          tr,
		sendTimeout: defaultSendTimeout,
		queue:       make(chan Message, queueSize),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	c.pendC = sync.NewCond(&c.pendMu)
	tr.OnReceive(c.receive)
	go c.sendLoop()
	return c
}

func (c *Coordinator) ID() string { return c.id }

// Bind sets the components incoming messages are routed to.
func (c *Coordinator) Bind(r Routes) {
	c.mu.Lock()
	c.routes = r
	c.mu.Unlock()
}

// Received publishes every message from another client after it has been
// routed.
func (c *Coordinator) Received() *events.Topic[Message] { return &c.received }

func (c *Coordinator) receive(m Message) {
	if m.From == c.id || m.From == "" {
		return
	}
	c.mu.RLock()
	r := c.routes
	c.mu.RUnlock()

	switch m.Kind {
	case LeaderClaim:
		if r.Election != nil {
			r.Election.HandleClaim(m.From)
		}
	case LeaderHeartbeat:
		if r.Election != nil {
			r.Election.HandleHeartbeat(m.From)
		}
	case DateChanged:
		if r.Clock == nil || m.Date == nil {
			break
		}
		if r.Election != nil && r.Election.IsLeader() {
			appLog.Debug("broadcast: leader ignores foreign date", "from", m.From)
			break
		}
		r.Clock.Apply(*m.Date, m.Elapsed)
	case NoteUpdated:
		if r.Notes == nil || m.Note == nil {
			break
		}
		if _, err := r.Notes.Upsert(*m.Note); err != nil {
			appLog.Error("broadcast: failed to apply note update", err, "note", m.Note.ID, "from", m.From)
		}
	case NoteRemoved:
		if r.Notes == nil {
			break
		}
		if err := r.Notes.Remove(m.NoteID); err != nil && !errors.Is(err, notes.ErrNotFound) {
			appLog.Error("broadcast: failed to apply note removal", err, "note", m.NoteID, "from", m.From)
		}
	default:
		appLog.Debug("broadcast: ignoring message", "type", string(m.Kind), "from", m.From)
		return
	}
	c.received.Publish(m)
}

func (c *Coordinator) AnnounceClaim() {
	c.enqueue(Message{Kind: LeaderClaim})
}

func (c *Coordinator) AnnounceHeartbeat() {
	c.enqueue(Message{Kind: LeaderHeartbeat})
}

// BroadcastDate tells the other clients the clock now shows date with
// elapsed seconds into that day.
func (c *Coordinator) BroadcastDate(date model.Date, elapsed float64) {
	c.enqueue(Message{Kind: DateChanged, Date: &date, Elapsed: elapsed})
}

func (c *Coordinator) BroadcastNote(n notes.Note) {
	c.enqueue(Message{Kind: NoteUpdated, NoteID: n.ID, Note: &n})
}

func (c *Coordinator) BroadcastNoteRemoved(id string) {
	c.enqueue(Message{Kind: NoteRemoved, NoteID: id})
}

func (c *Coordinator) enqueue(m Message) {
	m.From = c.id
	select {
	case <-c.done:
		return
	default:
	}

	c.pendMu.Lock()
	c.pending++
	c.pendMu.Unlock()

	select {
	case c.queue <- m:
	default:
		appLog.Warn("broadcast: send queue full; dropping message", "type", string(m.Kind))
		c.finish()
	}
}

func (c *Coordinator) finish() {
	c.pendMu.Lock()
	c.pending--
	if c.pending == 0 {
		c.pendC.Broadcast()
	}
	c.pendMu.Unlock()
}

func (c *Coordinator) sendLoop() {
	defer close(c.stopped)
	for {
		select {
		case m := <-c.queue:
			c.send(m)
		case <-c.done:
			for {
				select {
				case m := <-c.queue:
					c.send(m)
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) send(m Message) {
	defer c.finish()
	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()
	if err := c.tr.Send(ctx, m); err != nil {
		appLog.Error("broadcast: send failed", err, "type", string(m.Kind))
	}
}

// Flush blocks until every queued message has been handed to the
// transport.
func (c *Coordinator) Flush() {
	c.pendMu.Lock()
	for c.pending > 0 {
		c.pendC.Wait()
	}
	c.pendMu.Unlock()
}

// Close sends what is still queued and stops the send loop. It does not
// close the transport.
func (c *Coordinator) Close() {
	c.once.Do(func() { close(c.done) })
	<-c.stopped
}
