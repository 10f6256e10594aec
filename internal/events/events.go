// Package events fans reservation lifecycle events out to in-process
// subscribers after the owning transaction has committed.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	TypeCheckedIn  = "reservation.checked_in"
	TypeCheckedOut = "reservation.checked_out"
	TypeCharged    = "reservation.charged"
)

// Event is a committed domain fact.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ReservationPayload is the body of reservation events.
type ReservationPayload struct {
	ReservationID int64  `json:"reservation_id"`
	Plate         string `json:"plate,omitempty"`
	SpotID        int64  `json:"spot_id"`
	RateID        int64  `json:"rate_id,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Balance       string `json:"balance,omitempty"`
}

// New builds an event with a fresh id and the payload marshalled to JSON.
func New(eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}, nil
}

// Handler reacts to an event.
type Handler func(ctx context.Context, event Event) error

// Publisher is what producers depend on.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Bus is an in-process pub/sub. Handlers run synchronously in subscription
// order; a failing handler is logged and does not stop the others.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	logger      zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]Handler),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers handler for eventType. The type "*" receives all events.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers["*"]...)
	b.mu.RUnlock()

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().Err(err).Str("event_id", event.ID).Str("type", event.Type).Msg("event handler failed")
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
