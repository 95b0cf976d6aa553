// Package events publishes router and registry events to downstream
// consumers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeAdmitted = "verdict.admitted"
	TypeRejected = "verdict.rejected"
	TypeHalted   = "account.halted"
	TypeResumed  = "account.resumed"
)

// Event is the JSON document published for every verdict and account state
// change.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Account    string    `json:"account"`
	Action     string    `json:"action,omitempty"`
	Route      string    `json:"route,omitempty"`
	Caller     string    `json:"caller,omitempty"`
	Target     string    `json:"target,omitempty"`
	Nonce      uint64    `json:"nonce"`
	Reason     string    `json:"reason,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New returns an event with a fresh id.
func New(typ, account string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Account:    account,
		OccurredAt: at.UTC(),
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// Memory keeps published events for inspection.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory returns an empty in-memory publisher.
func NewMemory() *Memory { return &Memory{} }

// Publish implements Publisher.
func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Close implements Publisher.
func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType filters Events by type.
func (m *Memory) OfType(typ string) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
