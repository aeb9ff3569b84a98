package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/LeventeLantos/event-messaging/internal/client"
	"github.com/LeventeLantos/event-messaging/internal/model"
	"github.com/LeventeLantos/event-messaging/internal/phone"
	"github.com/LeventeLantos/event-messaging/internal/repo"
	"github.com/LeventeLantos/event-messaging/internal/scheduler"
	"github.com/LeventeLantos/event-messaging/internal/service"
	"github.com/LeventeLantos/event-messaging/internal/webhook"
)

type BatchHandler interface {
	HandleBatch(ctx context.Context, b webhook.Batch)
}

type InviteEnqueuer interface {
	Enqueue(job service.InviteJob) error
}

type Deps struct {
	Scheduler    *scheduler.Scheduler
	Tokens       repo.TokenStore
	Participants repo.ParticipantRepository
	Sender       service.TemplateSender
	Notifier     service.ParticipantNotifier
	Correlator   BatchHandler
	Invites      InviteEnqueuer
	VerifyToken  string
	Logger       *slog.Logger
}

type Handler struct {
	sched        *scheduler.Scheduler
	tokens       repo.TokenStore
	participants repo.ParticipantRepository
	sender       service.TemplateSender
	notifier     service.ParticipantNotifier
	correlator   BatchHandler
	invites      InviteEnqueuer
	verifyToken  string
	log          *slog.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sched:        d.Scheduler,
		tokens:       d.Tokens,
		participants: d.Participants,
		sender:       d.Sender,
		notifier:     d.Notifier,
		correlator:   d.Correlator,
		invites:      d.Invites,
		verifyToken:  d.VerifyToken,
		log:          logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) ListPendingTokens(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.tokens.ListUnprocessed(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	total, err := h.tokens.CountUnprocessed(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.MessageToken{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

type sendTemplateRequest struct {
	To            string                    `json:"to"`
	Template      string                    `json:"template"`
	Language      string                    `json:"language"`
	Components    []model.TemplateComponent `json:"components"`
	ParticipantID string                    `json:"participantId"`
	EventID       string                    `json:"eventId"`
}

// SendTemplate sends one template synchronously. When a participant is named
// the message is addressed to that participant and a reply token is stored.
func (h *Handler) SendTemplate(w http.ResponseWriter, r *http.Request) {
	var req sendTemplateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_body", "reason": err.Error()})
		return
	}

	msg := model.TemplateMessage{
		To:         req.To,
		Name:       req.Template,
		Language:   req.Language,
		Components: req.Components,
	}

	var (
		res model.SendResult
		err error
	)
	if req.ParticipantID != "" {
		res, err = h.notifyParticipant(r.Context(), req, msg)
	} else {
		res, err = h.sender.Send(r.Context(), msg)
	}
	if err != nil {
		h.writeSendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

var errEventMismatch = errors.New("participant does not belong to event")

func (h *Handler) notifyParticipant(ctx context.Context, req sendTemplateRequest, msg model.TemplateMessage) (model.SendResult, error) {
	p, err := h.participants.Get(ctx, req.ParticipantID)
	if err != nil {
		return model.SendResult{}, err
	}
	if req.EventID != "" && req.EventID != p.EventID {
		return model.SendResult{}, errEventMismatch
	}
	if msg.Name == "" {
		return model.SendResult{}, service.ErrInvalidTemplate
	}
	return h.notifier.Notify(ctx, *p, msg)
}

func (h *Handler) writeSendError(w http.ResponseWriter, err error) {
	var verr *phone.ValidationError
	var ese *client.ExternalServiceError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_phone", "reason": string(verr.Reason)})
	case errors.Is(err, service.ErrInvalidTemplate):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_template", "reason": err.Error()})
	case errors.Is(err, errEventMismatch):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_participant", "reason": err.Error()})
	case errors.Is(err, repo.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "participant_not_found"})
	case errors.As(err, &ese):
		h.log.Warn("template send failed", "code", ese.Code, "kind", string(ese.Kind), "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": ese.Error(),
			"code":  ese.Code,
			"kind":  string(ese.Kind),
		})
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type inviteRequest struct {
	ParticipantIDs []string `json:"participantIds"`
	Kind           string   `json:"kind"`
}

// EnqueueInvitations accepts the batch and returns before any message is sent.
func (h *Handler) EnqueueInvitations(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")

	var req inviteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_body", "reason": err.Error()})
		return
	}
	if len(req.ParticipantIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_body", "reason": "participantIds is empty"})
		return
	}

	kind := service.InviteKind(req.Kind)
	if kind == "" {
		kind = service.KindInvitation
	}
	if !kind.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_body", "reason": "unknown kind " + strconv.Quote(req.Kind)})
		return
	}

	err := h.invites.Enqueue(service.InviteJob{EventID: eventID, ParticipantIDs: req.ParticipantIDs, Kind: kind})
	if errors.Is(err, service.ErrQueueFull) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"queued": len(req.ParticipantIDs), "eventId": eventID})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
