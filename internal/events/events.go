package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const Producer = "event-messaging"

// Routing keys.
const (
	KeyAttendanceUpdated = "attendance.updated.v1"
	KeyMessageFailed     = "message.failed.v1"
)

type Meta struct {
	CorrelationID *string   `json:"correlation_id,omitempty"`
	ID            string    `json:"id"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope stamps data with a fresh id and the current time. The event
// type doubles as the routing key.
func NewEnvelope(eventType string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Producer: Producer,
			Time:     time.Now().UTC(),
			Type:     eventType,
		},
		Data: data,
	}
}

// WithCorrelation sets the correlation id, typically the provider message id
// that caused the event.
func (e Envelope) WithCorrelation(id string) Envelope {
	if id != "" {
		e.Meta.CorrelationID = &id
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type AttendanceUpdated struct {
	ParticipantID string `json:"participant_id"`
	EventID       string `json:"event_id"`
	Attendance    string `json:"attendance"`
	MessageID     string `json:"message_id"`
	Phone         string `json:"phone"`
}

type MessageFailed struct {
	MessageID string `json:"message_id"`
	Phone     string `json:"phone"`
	Code      int    `json:"code,omitempty"`
	Title     string `json:"title,omitempty"`
}
