package service

import (
	"fmt"

	"github.com/LeventeLantos/event-messaging/internal/model"
)

// Quick-reply payloads carried by invitation buttons.
const (
	PayloadYes = "YES"
	PayloadNo  = "NO"
)

const eventTimeLayout = "Mon 02 Jan 2006, 15:04 MST"

// Templates names the approved templates used for each flow.
type Templates struct {
	Language            string
	Invitation          string
	Reminder12h         string
	Reminder3h          string
	BookingConfirmation string
}

// InvitationMessage asks p to confirm attendance at e with yes/no quick replies.
func (t Templates) InvitationMessage(p model.Participant, e model.Event) model.TemplateMessage {
	return model.TemplateMessage{
		To:       p.Phone,
		Name:     t.Invitation,
		Language: t.Language,
		Components: []model.TemplateComponent{
			model.TextParams(model.ComponentBody, p.Name, e.Name, e.Venue, e.StartsAt.UTC().Format(eventTimeLayout)),
			model.QuickReply("0", PayloadYes),
			model.QuickReply("1", PayloadNo),
		},
	}
}

// Reminder builds the message for tier. The 12 hour reminder includes the
// venue, the 3 hour one only the start time.
func (t Templates) Reminder(tier model.ReminderTier, p model.Participant, e model.Event) (model.TemplateMessage, error) {
	msg := model.TemplateMessage{To: p.Phone, Language: t.Language}
	when := e.StartsAt.UTC().Format(eventTimeLayout)

	switch tier {
	case model.Tier12h:
		msg.Name = t.Reminder12h
		msg.Components = []model.TemplateComponent{
			model.TextParams(model.ComponentHeader, e.Name),
			model.TextParams(model.ComponentBody, p.Name, e.Name, e.Venue, when),
		}
	case model.Tier3h:
		msg.Name = t.Reminder3h
		msg.Components = []model.TemplateComponent{
			model.TextParams(model.ComponentBody, p.Name, e.Name, when),
		}
	default:
		return model.TemplateMessage{}, fmt.Errorf("unknown reminder tier %q", tier)
	}
	return msg, nil
}

// BookingConfirmationMessage asks p to confirm a booking for e. Tokens for this
// template are deleted once answered.
func (t Templates) BookingConfirmationMessage(p model.Participant, e model.Event) model.TemplateMessage {
	return model.TemplateMessage{
		To:       p.Phone,
		Name:     t.BookingConfirmation,
		Language: t.Language,
		Components: []model.TemplateComponent{
			model.TextParams(model.ComponentBody, p.Name, e.Name),
			model.QuickReply("0", PayloadYes),
			model.QuickReply("1", PayloadNo),
		},
	}
}
