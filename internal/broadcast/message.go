// Package broadcast carries clock, election and note messages between
// clients. Coordinator routes them; Bus, Hub and Client move them.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"simcal/internal/model"
	"simcal/internal/notes"
)

var ErrClosed = errors.New("broadcast: transport closed")

type Kind string

const (
	DateChanged     Kind = "date_changed"
	LeaderClaim     Kind = "leader_claim"
	LeaderHeartbeat Kind = "leader_heartbeat"
	NoteUpdated     Kind = "note_updated"
	NoteRemoved     Kind = "note_removed"
)

// Message is the single wire envelope. From is the sending client's id;
// the remaining fields depend on Kind.
type Message struct {
	Kind    Kind        `json:"type"`
	From    string      `json:"from"`
	Date    *model.Date `json:"date,omitempty"`
	Elapsed float64     `json:"elapsed,omitempty"`
	NoteID  string      `json:"note_id,omitempty"`
	Note    *notes.Note `json:"note,omitempty"`
}

// Transport is a broadcast channel shared by every client of a session.
// Send must not deliver a message back to its own receive handlers.
type Transport interface {
	Send(ctx context.Context, m Message) error
	OnReceive(fn func(Message))
}

func encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func decode(p []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(p, &m); err != nil {
		return Message{}, fmt.Errorf("broadcast: decode message: %w", err)
	}
	switch m.Kind {
	case DateChanged:
		if m.Date == nil {
			return Message{}, fmt.Errorf("broadcast: %s without date", m.Kind)
		}
	case NoteUpdated:
		if m.Note == nil {
			return Message{}, fmt.Errorf("broadcast: %s without note", m.Kind)
		}
	case LeaderClaim, LeaderHeartbeat, NoteRemoved:
	default:
		return Message{}, fmt.Errorf("broadcast: unknown message type %q", m.Kind)
	}
	return m, nil
}
