// Package events publishes domain events about charges, rules and charge
// entries to a log or a Kafka topic.
package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeChargeCreated  = "charge.created"
	TypeRulePublished  = "rule.published"
	TypeRulesImported  = "rules.imported"
	TypeRulesExpired   = "rules.expired"
	TypeEntrySubmitted = "charge_entry.submitted"
	TypeEntryApproved  = "charge_entry.approved"
	TypeEntryRejected  = "charge_entry.rejected"
)

// Event is a domain event. ChargeCode keys the event so that every event of
// one charge lands on the same partition.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ChargeCode string    `json:"charge_code"`
	SubjectID  string    `json:"subject_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// New builds an event with a fresh ID and the current time.
func New(eventType, chargeCode, subjectID string, payload any) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		ChargeCode: chargeCode,
		SubjectID:  subjectID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NoopPublisher) Close() error { return nil }

// MemoryPublisher keeps published events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// Close implements Publisher.
func (p *MemoryPublisher) Close() error { return nil }

// Events returns the published events, optionally restricted to types.
func (p *MemoryPublisher) Events(types ...string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(types) == 0 {
		return slices.Clone(p.events)
	}
	var out []Event
	for _, e := range p.events {
		if slices.Contains(types, e.Type) {
			out = append(out, e)
		}
	}
	return out
}
