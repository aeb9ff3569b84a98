package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/LeventeLantos/event-messaging/internal/cache"
	"github.com/LeventeLantos/event-messaging/internal/events"
	"github.com/LeventeLantos/event-messaging/internal/model"
	"github.com/LeventeLantos/event-messaging/internal/phone"
	"github.com/LeventeLantos/event-messaging/internal/repo"
	"github.com/LeventeLantos/event-messaging/internal/webhook"
)

const defaultReplayWindow = 24 * time.Hour

// Correlator applies classified webhook events to tokens and participants.
// It never returns errors; every failure ends in the log.
type Correlator struct {
	tokens       repo.TokenStore
	participants repo.ParticipantRepository
	phones       *phone.Normalizer
	dedup        cache.Deduper
	publisher    events.Publisher

	confirmationTemplate string

	now func() time.Time
	log *slog.Logger
}

func NewCorrelator(tokens repo.TokenStore, participants repo.ParticipantRepository, phones *phone.Normalizer, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		tokens:       tokens,
		participants: participants,
		phones:       phones,
		dedup:        cache.NewMemoryDeduper(defaultReplayWindow),
		publisher:    events.NewLogPublisher(logger),
		now:          time.Now,
		log:          logger,
	}
}

func (c *Correlator) WithDeduper(d cache.Deduper) *Correlator {
	c.dedup = d
	return c
}

func (c *Correlator) WithPublisher(p events.Publisher) *Correlator {
	c.publisher = p
	return c
}

// WithConfirmationTemplate names the template whose tokens are deleted rather
// than marked processed once answered.
func (c *Correlator) WithConfirmationTemplate(name string) *Correlator {
	c.confirmationTemplate = name
	return c
}

func (c *Correlator) HandleBatch(ctx context.Context, b webhook.Batch) {
	for _, ev := range b.Messages {
		c.handleMessage(ctx, ev)
	}
	hasMessages := b.HasMessages()
	for _, ev := range b.Statuses {
		c.handleStatus(ctx, ev, hasMessages)
	}
}

type reply struct {
	messageID string
	contextID string
	phone     string
	values    []string
}

func (c *Correlator) handleMessage(ctx context.Context, ev webhook.Event) {
	switch m := ev.(type) {
	case webhook.ButtonReply:
		c.handleReply(ctx, reply{
			messageID: m.MessageID,
			contextID: m.ContextMessageID,
			phone:     m.Phone,
			values:    []string{m.Text, m.Payload},
		})
	case webhook.InteractiveButtonReply:
		c.handleReply(ctx, reply{
			messageID: m.MessageID,
			contextID: m.ContextMessageID,
			phone:     m.Phone,
			values:    []string{m.ButtonID, m.ButtonTitle},
		})
	case webhook.ListReply:
		c.handleReply(ctx, reply{
			messageID: m.MessageID,
			contextID: m.ContextMessageID,
			phone:     m.Phone,
			values:    []string{m.RowID, m.RowTitle},
		})
	case webhook.TextMessage:
		c.log.Info("text message received",
			"message_id", m.MessageID,
			"phone", m.Phone,
			"length", len(m.Body),
		)
	case webhook.Unrecognized:
		c.log.Warn("unrecognized webhook message dropped", "message_id", m.MessageID, "reason", m.Reason)
	default:
		c.log.Warn("unhandled webhook message", "type", fmt.Sprintf("%T", ev))
	}
}

type target struct {
	participantID string
	eventID       string
	token         *model.MessageToken
	// answered is set when the quoted message was already consumed.
	answered bool
}

func (c *Correlator) handleReply(ctx context.Context, r reply) {
	if !c.firstDelivery(ctx, "reply:"+r.messageID) {
		return
	}

	canonical, err := c.phones.NormalizeInbound(r.phone)
	if err != nil {
		c.log.Warn("reply from invalid phone", "message_id", r.messageID, "phone", r.phone, "error", err)
		return
	}

	t, ok := c.resolve(ctx, r.contextID, canonical, r.phone)
	if !ok {
		c.log.Warn("reply could not be correlated",
			"message_id", r.messageID,
			"context_message_id", r.contextID,
			"phone", canonical,
		)
		return
	}
	if t.answered {
		c.log.Info("reply to an answered message ignored",
			"message_id", r.messageID,
			"context_message_id", r.contextID,
			"participant_id", t.participantID,
			"event_id", t.eventID,
		)
		return
	}

	attendance, ok := MatchAttendance(r.values...)
	if !ok {
		c.log.Warn("reply is neither yes nor no",
			"message_id", r.messageID,
			"participant_id", t.participantID,
			"event_id", t.eventID,
			"values", r.values,
		)
		return
	}

	if err := c.participants.SetAttendance(ctx, t.participantID, t.eventID, attendance); err != nil {
		level := slog.LevelError
		if errors.Is(err, repo.ErrNotFound) {
			level = slog.LevelWarn
		}
		c.log.Log(ctx, level, "set attendance failed",
			"participant_id", t.participantID,
			"event_id", t.eventID,
			"error", err,
		)
		return
	}

	correlation := r.messageID
	if t.token != nil {
		correlation = t.token.MessageID
		c.consume(ctx, t.token)
	}

	c.log.Info("attendance updated",
		"participant_id", t.participantID,
		"event_id", t.eventID,
		"attendance", string(attendance),
		"message_id", correlation,
	)

	c.publish(ctx, events.KeyAttendanceUpdated, correlation, events.AttendanceUpdated{
		ParticipantID: t.participantID,
		EventID:       t.eventID,
		Attendance:    string(attendance),
		MessageID:     correlation,
		Phone:         canonical,
	})
}

// resolve finds who a reply belongs to: the referenced token, then the newest
// open token for the phone, then a participant whose stored phone matches one
// of the probe forms. A referenced token that is already processed ends the
// search with answered set; the phone lookups run only when the context id is
// absent or unknown.
func (c *Correlator) resolve(ctx context.Context, contextID, canonical, raw string) (target, bool) {
	if contextID != "" {
		tok, err := c.tokens.GetByMessageID(ctx, contextID)
		switch {
		case err == nil:
			return target{participantID: tok.ParticipantID, eventID: tok.EventID, token: tok, answered: tok.Processed}, true
		case err != nil && !errors.Is(err, repo.ErrNotFound):
			c.log.Error("token lookup failed", "message_id", contextID, "error", err)
		}
	}

	tok, err := c.tokens.GetLatestUnprocessedByPhone(ctx, canonical)
	switch {
	case err == nil:
		return target{participantID: tok.ParticipantID, eventID: tok.EventID, token: tok}, true
	case !errors.Is(err, repo.ErrNotFound):
		c.log.Error("token lookup by phone failed", "phone", canonical, "error", err)
	}

	p, ok := c.findParticipant(ctx, raw)
	if !ok {
		return target{}, false
	}
	return target{participantID: p.ID, eventID: p.EventID}, true
}

func (c *Correlator) findParticipant(ctx context.Context, raw string) (*model.Participant, bool) {
	for _, probe := range c.phones.Candidates(raw) {
		p, err := c.participants.FindLatestByPhone(ctx, probe)
		if err == nil {
			return p, true
		}
		if !errors.Is(err, repo.ErrNotFound) {
			c.log.Error("participant lookup failed", "phone", probe, "error", err)
			return nil, false
		}
	}
	return nil, false
}

func (c *Correlator) consume(ctx context.Context, tok *model.MessageToken) {
	var err error
	if c.confirmationTemplate != "" && tok.TemplateName != nil && *tok.TemplateName == c.confirmationTemplate {
		err = c.tokens.Delete(ctx, tok.MessageID)
	} else {
		err = c.tokens.MarkProcessed(ctx, tok.MessageID)
	}
	if err != nil {
		c.log.Error("consume message token failed", "message_id", tok.MessageID, "error", err)
	}
}

func (c *Correlator) handleStatus(ctx context.Context, ev webhook.Event, hasMessages bool) {
	s, ok := ev.(webhook.StatusUpdate)
	if !ok {
		if u, isUnrecognized := ev.(webhook.Unrecognized); isUnrecognized {
			c.log.Warn("unrecognized status dropped", "message_id", u.MessageID, "reason", u.Reason)
		}
		return
	}
	if !c.firstDelivery(ctx, "status:"+s.MessageID+":"+string(s.Status)) {
		return
	}

	tok, err := c.tokens.GetByMessageID(ctx, s.MessageID)
	switch {
	case err == nil:
		c.log.Info("message status",
			"message_id", s.MessageID,
			"status", string(s.Status),
			"participant_id", tok.ParticipantID,
			"event_id", tok.EventID,
		)
	case errors.Is(err, repo.ErrNotFound):
		if s.Status != webhook.StatusFailed && !hasMessages {
			c.storeProvisional(ctx, s)
		}
	default:
		c.log.Error("token lookup failed", "message_id", s.MessageID, "error", err)
	}

	if s.Status == webhook.StatusFailed {
		c.reportFailure(ctx, s)
	}
}

// storeProvisional records a token for a message sent outside this process so
// a later reply can still be correlated.
func (c *Correlator) storeProvisional(ctx context.Context, s webhook.StatusUpdate) {
	p, ok := c.findParticipant(ctx, s.Phone)
	if !ok {
		c.log.Warn("status for unknown message and phone", "message_id", s.MessageID, "phone", s.Phone)
		return
	}

	canonical, err := c.phones.NormalizeInbound(s.Phone)
	if err != nil {
		canonical = p.Phone
	}

	token := model.MessageToken{
		MessageID:     s.MessageID,
		ParticipantID: p.ID,
		EventID:       p.EventID,
		Phone:         canonical,
		CreatedAt:     c.now(),
	}
	if err := c.tokens.Put(ctx, token); err != nil {
		c.log.Error("store provisional token failed", "message_id", s.MessageID, "error", err)
		return
	}
	c.log.Info("provisional token stored",
		"message_id", s.MessageID,
		"participant_id", p.ID,
		"event_id", p.EventID,
	)
}

func (c *Correlator) reportFailure(ctx context.Context, s webhook.StatusUpdate) {
	data := events.MessageFailed{MessageID: s.MessageID, Phone: s.Phone}
	attrs := []any{"message_id", s.MessageID, "phone", s.Phone}
	for _, e := range s.Errors {
		attrs = append(attrs, "code", e.Code, "title", e.Title, "details", e.ErrorData.Details)
		if data.Code == 0 {
			data.Code = e.Code
			data.Title = e.Title
		}
	}
	c.log.Error("message delivery failed", attrs...)
	c.publish(ctx, events.KeyMessageFailed, s.MessageID, data)
}

func (c *Correlator) firstDelivery(ctx context.Context, key string) bool {
	if c.dedup == nil {
		return true
	}
	first, err := c.dedup.FirstSeen(ctx, key)
	if err != nil {
		c.log.Warn("replay check failed, processing anyway", "key", key, "error", err)
		return true
	}
	if !first {
		c.log.Debug("duplicate webhook delivery dropped", "key", key)
	}
	return first
}

func (c *Correlator) publish(ctx context.Context, key, correlation string, data any) {
	if c.publisher == nil {
		return
	}
	env := events.NewEnvelope(key, data).WithCorrelation(correlation)
	if err := c.publisher.Publish(ctx, key, env); err != nil {
		c.log.Warn("publish event failed", "key", key, "error", err)
	}
}

// MatchAttendance looks for "yes" in any value, then for "no". Matching is
// case-insensitive containment.
func MatchAttendance(values ...string) (model.Attendance, bool) {
	folded := make([]string, 0, len(values))
	for _, v := range values {
		folded = append(folded, cases.Fold().String(v))
	}
	for _, v := range folded {
		if strings.Contains(v, "yes") {
			return model.AttendanceYes, true
		}
	}
	for _, v := range folded {
		if strings.Contains(v, "no") {
			return model.AttendanceNo, true
		}
	}
	return "", false
}
