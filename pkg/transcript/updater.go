package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// GradeUpdate is published whenever a grading pass persists a final score.
type GradeUpdate struct {
	UserID       uint      `json:"user_id"`
	AssignmentID uint      `json:"assignment_id"`
	Score        float64   `json:"score"`
	PassID       string    `json:"pass_id"`
	GradedAt     time.Time `json:"graded_at"`
}

// Updater propagates final grades to the transcript system. Implementations
// must be safe to call fire-and-forget: a failed update never rolls back
// the persisted grade.
type Updater interface {
	UpdateGrade(ctx context.Context, update GradeUpdate) error
}

const defaultSubject = "portal.transcript.grade"

// NATSUpdater publishes grade updates onto a NATS subject consumed by the
// transcript service.
type NATSUpdater struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSUpdater constructs the publisher. Subject falls back to the
// default transcript subject when empty.
func NewNATSUpdater(conn *nats.Conn, subject string, logger zerolog.Logger) (*NATSUpdater, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if subject == "" {
		subject = defaultSubject
	}

	return &NATSUpdater{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "transcript_updater").Logger(),
	}, nil
}

// UpdateGrade publishes the grade update event.
func (u *NATSUpdater) UpdateGrade(_ context.Context, update GradeUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal grade update: %w", err)
	}

	if err := u.conn.Publish(u.subject, payload); err != nil {
		return fmt.Errorf("publish grade update: %w", err)
	}

	u.logger.Debug().
		Uint("user_id", update.UserID).
		Uint("assignment_id", update.AssignmentID).
		Float64("score", update.Score).
		Msg("transcript grade update published")
	return nil
}

// Noop is an Updater that discards updates; used when NATS is not
// configured.
type Noop struct{}

// UpdateGrade implements Updater.
func (Noop) UpdateGrade(context.Context, GradeUpdate) error { return nil }
