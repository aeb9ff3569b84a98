// Package reminder sends the tiered pre-event reminders. The per-participant
// sent timestamp for a tier is the only guard against sending twice.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LeventeLantos/event-messaging/internal/client"
	"github.com/LeventeLantos/event-messaging/internal/model"
	"github.com/LeventeLantos/event-messaging/internal/repo"
	"github.com/LeventeLantos/event-messaging/internal/service"
)

var ErrMissingField = errors.New("missing required field")

// Tier pairs a reminder tier with how far ahead of an event it fires.
type Tier struct {
	Tier   model.ReminderTier
	Window time.Duration
}

func DefaultTiers() []Tier {
	return []Tier{
		{Tier: model.Tier12h, Window: 12 * time.Hour},
		{Tier: model.Tier3h, Window: 3 * time.Hour},
	}
}

type Summary struct {
	Sent    int
	Failed  int
	Skipped int
}

type Job struct {
	events       repo.EventRepository
	participants repo.ParticipantRepository
	notifier     service.ParticipantNotifier
	templates    service.Templates
	tiers        []Tier

	now func() time.Time
	log *slog.Logger
}

func NewJob(
	events repo.EventRepository,
	participants repo.ParticipantRepository,
	notifier service.ParticipantNotifier,
	templates service.Templates,
	tiers []Tier,
	logger *slog.Logger,
) *Job {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		events:       events,
		participants: participants,
		notifier:     notifier,
		templates:    templates,
		tiers:        tiers,
		now:          time.Now,
		log:          logger,
	}
}

func (j *Job) WithClock(now func() time.Time) *Job {
	j.now = now
	return j
}

// Run is the scheduler tick body.
func (j *Job) Run(ctx context.Context) error {
	_, err := j.RunOnce(ctx)
	return err
}

// RunOnce processes every tier once. Only failures to list events or
// participants are returned; per-participant failures are logged and counted.
func (j *Job) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	var errs []error

	for _, tier := range j.tiers {
		if err := j.runTier(ctx, tier, &sum); err != nil {
			errs = append(errs, fmt.Errorf("tier %s: %w", tier.Tier, err))
		}
	}

	if sum.Sent+sum.Failed+sum.Skipped > 0 {
		j.log.Info("reminders processed", "sent", sum.Sent, "failed", sum.Failed, "skipped", sum.Skipped)
	}
	return sum, errors.Join(errs...)
}

func (j *Job) runTier(ctx context.Context, tier Tier, sum *Summary) error {
	now := j.now()
	upcoming, err := j.events.ListUpcoming(ctx, now, now.Add(tier.Window))
	if err != nil {
		return fmt.Errorf("list upcoming events: %w", err)
	}

	var errs []error
	for _, event := range upcoming {
		pending, err := j.participants.ListPendingReminder(ctx, event.ID, tier.Tier)
		if err != nil {
			errs = append(errs, fmt.Errorf("list participants for event %s: %w", event.ID, err))
			continue
		}

		for _, p := range pending {
			if ctx.Err() != nil {
				return errors.Join(append(errs, ctx.Err())...)
			}
			j.remind(ctx, tier.Tier, p, event, sum)
		}
	}
	return errors.Join(errs...)
}

func (j *Job) remind(ctx context.Context, tier model.ReminderTier, p model.Participant, event model.Event, sum *Summary) {
	attrs := []any{
		"participant_id", p.ID,
		"event_id", event.ID,
		"phone", p.Phone,
		"tier", string(tier),
	}

	if err := validate(tier, p, event); err != nil {
		sum.Skipped++
		j.log.Warn("reminder skipped", append(attrs, "error", err)...)
		return
	}

	msg, err := j.templates.Reminder(tier, p, event)
	if err != nil {
		sum.Skipped++
		j.log.Warn("reminder skipped", append(attrs, "error", err)...)
		return
	}

	res, err := j.notifier.Notify(ctx, p, msg)
	if err != nil {
		sum.Failed++
		if client.IsBlocked(err) {
			j.log.Error("reminder blocked by provider", append(attrs, "error", err)...)
			return
		}
		j.log.Warn("reminder send failed", append(attrs, "error", err)...)
		return
	}

	if err := j.participants.MarkReminderSent(ctx, p.ID, tier, j.now()); err != nil {
		// sent but unrecorded: the next tick sends once more
		sum.Failed++
		j.log.Error("record reminder failed", append(attrs, "message_id", res.MessageID, "error", err)...)
		return
	}

	sum.Sent++
	j.log.Info("reminder sent", append(attrs, "message_id", res.MessageID)...)
}

func validate(tier model.ReminderTier, p model.Participant, event model.Event) error {
	var missing []string
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, "participant name")
	}
	if strings.TrimSpace(event.Name) == "" {
		missing = append(missing, "event name")
	}
	if tier == model.Tier12h && strings.TrimSpace(event.Venue) == "" {
		missing = append(missing, "venue")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}
