package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/LeventeLantos/event-messaging/internal/model"
	"github.com/LeventeLantos/event-messaging/internal/repo"
	"github.com/LeventeLantos/event-messaging/internal/retry"
)

var ErrQueueFull = errors.New("invitation queue is full")

type InviteKind string

const (
	KindInvitation          InviteKind = "invitation"
	KindBookingConfirmation InviteKind = "booking_confirmation"
)

type InviteJob struct {
	EventID        string
	ParticipantIDs []string
	Kind           InviteKind
}

// InviteQueue sends invitations in the background, one message at a time with
// a fixed pause between messages. Outcomes are only logged.
type InviteQueue struct {
	notifier     ParticipantNotifier
	events       repo.EventRepository
	participants repo.ParticipantRepository
	templates    Templates
	delay        time.Duration
	sleep        func(ctx context.Context, d time.Duration) error

	jobs chan InviteJob
	log  *slog.Logger
}

func NewInviteQueue(
	notifier ParticipantNotifier,
	events repo.EventRepository,
	participants repo.ParticipantRepository,
	templates Templates,
	delay time.Duration,
	size int,
	logger *slog.Logger,
) *InviteQueue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InviteQueue{
		notifier:     notifier,
		events:       events,
		participants: participants,
		templates:    templates,
		delay:        delay,
		sleep:        retry.Sleep,
		jobs:         make(chan InviteJob, size),
		log:          logger,
	}
}

// Enqueue never blocks.
func (q *InviteQueue) Enqueue(job InviteJob) error {
	if job.Kind == "" {
		job.Kind = KindInvitation
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes jobs until ctx is done. Jobs still queued at that point are
// dropped.
func (q *InviteQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(q.jobs); n > 0 {
				q.log.Warn("invitation queue stopped with pending jobs", "pending", n)
			}
			return nil
		case job := <-q.jobs:
			q.process(ctx, job)
		}
	}
}

func (q *InviteQueue) process(ctx context.Context, job InviteJob) {
	event, err := q.events.Get(ctx, job.EventID)
	if err != nil {
		q.log.Error("invitation event lookup failed", "event_id", job.EventID, "error", err)
		return
	}

	sent, failed := 0, 0
	for i, pid := range job.ParticipantIDs {
		if i > 0 && q.delay > 0 {
			if err := q.sleep(ctx, q.delay); err != nil {
				q.log.Warn("invitation batch interrupted",
					"event_id", job.EventID,
					"sent", sent,
					"remaining", len(job.ParticipantIDs)-i,
				)
				return
			}
		}

		if err := q.inviteOne(ctx, job.Kind, pid, *event); err != nil {
			failed++
			q.log.Error("invitation failed",
				"kind", string(job.Kind),
				"event_id", job.EventID,
				"participant_id", pid,
				"error", err,
			)
			continue
		}
		sent++
	}

	q.log.Info("invitation batch done",
		"kind", string(job.Kind),
		"event_id", job.EventID,
		"sent", sent,
		"failed", failed,
	)
}

var errWrongEvent = errors.New("participant belongs to another event")

func (q *InviteQueue) inviteOne(ctx context.Context, kind InviteKind, participantID string, event model.Event) error {
	p, err := q.participants.Get(ctx, participantID)
	if err != nil {
		return err
	}
	if p.EventID != event.ID {
		return errWrongEvent
	}

	msg := q.templates.InvitationMessage(*p, event)
	if kind == KindBookingConfirmation {
		msg = q.templates.BookingConfirmationMessage(*p, event)
	}

	res, err := q.notifier.Notify(ctx, *p, msg)
	if err != nil {
		return err
	}
	q.log.Debug("invitation sent", "participant_id", p.ID, "message_id", res.MessageID)
	return nil
}

func (k InviteKind) Valid() bool {
	return k == KindInvitation || k == KindBookingConfirmation
}
