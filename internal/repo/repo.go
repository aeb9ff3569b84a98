package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/event-messaging/internal/model"
)

var ErrNotFound = errors.New("not found")

// TokenStore persists message tokens. Put never overwrites an existing row.
type TokenStore interface {
	Put(ctx context.Context, token model.MessageToken) error
	GetByMessageID(ctx context.Context, messageID string) (*model.MessageToken, error)
	GetLatestUnprocessedByPhone(ctx context.Context, phone string) (*model.MessageToken, error)
	MarkProcessed(ctx context.Context, messageID string) error
	Delete(ctx context.Context, messageID string) error
	ListUnprocessed(ctx context.Context, limit, offset int) ([]model.MessageToken, error)
	CountUnprocessed(ctx context.Context) (int64, error)
}

type ParticipantRepository interface {
	Get(ctx context.Context, id string) (*model.Participant, error)
	// FindLatestByPhone matches phone exactly or after stripping punctuation
	// from the stored value. The most recently created participant wins.
	FindLatestByPhone(ctx context.Context, phone string) (*model.Participant, error)
	SetAttendance(ctx context.Context, participantID, eventID string, attendance model.Attendance) error
	ListPendingReminder(ctx context.Context, eventID string, tier model.ReminderTier) ([]model.Participant, error)
	MarkReminderSent(ctx context.Context, participantID string, tier model.ReminderTier, at time.Time) error
}

type EventRepository interface {
	Get(ctx context.Context, id string) (*model.Event, error)
	// ListUpcoming returns active events with from < starts_at <= to.
	ListUpcoming(ctx context.Context, from, to time.Time) ([]model.Event, error)
}
