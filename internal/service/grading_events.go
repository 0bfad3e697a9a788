package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// GradingEvent describes one step of a grading pass, used to stream bulk
// progress to observers and to notify other services over NATS.
type GradingEvent struct {
	BatchID      string    `json:"batch_id,omitempty"`
	SubmissionID uint      `json:"submission_id"`
	Phase        string    `json:"phase"`
	Success      bool      `json:"success"`
	Score        *float64  `json:"score,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Grading event phases.
const (
	PhaseStarted   = "started"
	PhaseGraded    = "graded"
	PhaseFailed    = "failed"
	PhaseCancelled = "cancelled"
)

const eventBufferSize = 16

// GradingEventBus fans grading events out to in-process subscribers (the
// websocket progress stream) and mirrors them onto a NATS subject when a
// connection is configured. Publishing never blocks: slow subscribers drop
// events rather than stalling the grading pipeline.
type GradingEventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan GradingEvent
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
}

// NewGradingEventBus constructs the bus. conn may be nil to disable the
// NATS mirror.
func NewGradingEventBus(conn *nats.Conn, subject string, logger zerolog.Logger) *GradingEventBus {
	if subject == "" {
		subject = "portal.grading.events"
	}

	return &GradingEventBus{
		subscribers: make(map[string][]chan GradingEvent),
		nats:        conn,
		natsSubject: subject,
		logger:      logger.With().Str("component", "grading_event_bus").Logger(),
	}
}

// Subscribe registers an observer for one batch id. The returned cancel
// function must be called when the observer disconnects.
func (b *GradingEventBus) Subscribe(batchID string) (<-chan GradingEvent, func()) {
	ch := make(chan GradingEvent, eventBufferSize)

	b.mu.Lock()
	b.subscribers[batchID] = append(b.subscribers[batchID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[batchID]
		for i, sub := range subs {
			if sub == ch {
				b.subscribers[batchID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subscribers[batchID]) == 0 {
			delete(b.subscribers, batchID)
		}
	}

	return ch, cancel
}

// Publish delivers the event to batch subscribers and the NATS mirror.
func (b *GradingEventBus) Publish(event GradingEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if event.BatchID != "" {
		b.mu.RLock()
		for _, sub := range b.subscribers[event.BatchID] {
			select {
			case sub <- event:
			default:
			}
		}
		b.mu.RUnlock()
	}

	if b.nats != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			b.logger.Warn().Err(err).Msg("failed to marshal grading event")
			return
		}
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			b.logger.Warn().Err(err).Msg("failed to publish grading event")
		}
	}
}
