package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/event-messaging/internal/model"
	"github.com/LeventeLantos/event-messaging/internal/phone"
	"github.com/LeventeLantos/event-messaging/internal/repo"
)

type TemplateSender interface {
	Send(ctx context.Context, msg model.TemplateMessage) (model.SendResult, error)
}

// ParticipantNotifier sends a template to a participant and remembers the
// message for reply correlation.
type ParticipantNotifier interface {
	Notify(ctx context.Context, p model.Participant, msg model.TemplateMessage) (model.SendResult, error)
}

type Notifier struct {
	sender TemplateSender
	tokens repo.TokenStore
	phones *phone.Normalizer
	now    func() time.Time
	log    *slog.Logger
}

var _ ParticipantNotifier = (*Notifier)(nil)

func NewNotifier(sender TemplateSender, tokens repo.TokenStore, phones *phone.Normalizer, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sender: sender,
		tokens: tokens,
		phones: phones,
		now:    time.Now,
		log:    logger,
	}
}

// Notify addresses msg to p. A token write failure after a successful send is
// logged but not returned: the message is out and the phone fallback can
// still correlate a reply.
func (n *Notifier) Notify(ctx context.Context, p model.Participant, msg model.TemplateMessage) (model.SendResult, error) {
	to, err := n.phones.Normalize(p.Phone)
	if err != nil {
		return model.SendResult{}, err
	}
	msg.To = to

	res, err := n.sender.Send(ctx, msg)
	if err != nil {
		return model.SendResult{}, err
	}

	name := msg.Name
	token := model.MessageToken{
		MessageID:     res.MessageID,
		ParticipantID: p.ID,
		EventID:       p.EventID,
		Phone:         to,
		TemplateName:  &name,
		CreatedAt:     n.now(),
	}
	if err := n.tokens.Put(ctx, token); err != nil {
		n.log.Error("store message token failed",
			"message_id", res.MessageID,
			"participant_id", p.ID,
			"event_id", p.EventID,
			"error", err,
		)
	}
	return res, nil
}
