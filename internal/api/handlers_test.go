package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeventeLantos/event-messaging/internal/client"
	"github.com/LeventeLantos/event-messaging/internal/model"
	"github.com/LeventeLantos/event-messaging/internal/phone"
	"github.com/LeventeLantos/event-messaging/internal/repo"
	"github.com/LeventeLantos/event-messaging/internal/scheduler"
	"github.com/LeventeLantos/event-messaging/internal/service"
	"github.com/LeventeLantos/event-messaging/internal/webhook"
)

type fakeTokens struct {
	repo.TokenStore

	// capture args
	gotLimit  int
	gotOffset int

	// behavior
	items []model.MessageToken
	total int64
	err   error
}

func (f *fakeTokens) ListUnprocessed(ctx context.Context, limit, offset int) ([]model.MessageToken, error) {
	f.gotLimit = limit
	f.gotOffset = offset
	return f.items, f.err
}

func (f *fakeTokens) CountUnprocessed(ctx context.Context) (int64, error) {
	return f.total, f.err
}

type fakeParticipants struct {
	repo.ParticipantRepository
	byID map[string]model.Participant
}

func (f *fakeParticipants) Get(ctx context.Context, id string) (*model.Participant, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &p, nil
}

type fakeSender struct {
	got []model.TemplateMessage
	res model.SendResult
	err error
}

func (f *fakeSender) Send(ctx context.Context, msg model.TemplateMessage) (model.SendResult, error) {
	f.got = append(f.got, msg)
	return f.res, f.err
}

type fakeNotifier struct {
	gotParticipant []model.Participant
	res            model.SendResult
}

func (f *fakeNotifier) Notify(ctx context.Context, p model.Participant, msg model.TemplateMessage) (model.SendResult, error) {
	f.gotParticipant = append(f.gotParticipant, p)
	return f.res, nil
}

type fakeCorrelator struct {
	mu      sync.Mutex
	batches []webhook.Batch
	ctxErr  error
}

func (f *fakeCorrelator) HandleBatch(ctx context.Context, b webhook.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
	f.ctxErr = ctx.Err()
}

type fakeInvites struct {
	jobs []service.InviteJob
	err  error
}

func (f *fakeInvites) Enqueue(job service.InviteJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type testDeps struct {
	tokens       *fakeTokens
	participants *fakeParticipants
	sender       *fakeSender
	notifier     *fakeNotifier
	correlator   *fakeCorrelator
	invites      *fakeInvites
}

func newTestDeps() *testDeps {
	return &testDeps{
		tokens:       &fakeTokens{},
		participants: &fakeParticipants{byID: map[string]model.Participant{}},
		sender:       &fakeSender{},
		notifier:     &fakeNotifier{},
		correlator:   &fakeCorrelator{},
		invites:      &fakeInvites{},
	}
}

func newTestServer(t *testing.T, d *testDeps) (*scheduler.Scheduler, http.Handler) {
	t.Helper()

	// Long interval so only the immediate tick happens (noop anyway).
	s, err := scheduler.New("reminders", time.Hour, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}

	h := NewHandler(Deps{
		Scheduler:    s,
		Tokens:       d.tokens,
		Participants: d.participants,
		Sender:       d.sender,
		Notifier:     d.notifier,
		Correlator:   d.correlator,
		Invites:      d.invites,
		VerifyToken:  "s3cret",
	})
	return s, Router(h)
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func serve(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s, mux := newTestServer(t, newTestDeps())
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/v1/health", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}

	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	s, mux := newTestServer(t, newTestDeps())
	defer s.Stop()

	// Initially should be false.
	{
		rr := serve(mux, http.MethodGet, "/v1/scheduler/status", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running {
			t.Fatalf("expected running=false, got %v", body)
		}
		if body["name"] != "reminders" || body["interval"] != "1h0m0s" {
			t.Fatalf("unexpected status body %v", body)
		}
	}

	// Start
	{
		rr := serve(mux, http.MethodPost, "/v1/scheduler/start", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || !running {
			t.Fatalf("expected running=true after start, got %v", body)
		}
	}

	// Stop
	{
		rr := serve(mux, http.MethodPost, "/v1/scheduler/stop", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running {
			t.Fatalf("expected running=false after stop, got %v", body)
		}
	}
}

func TestVerifyWebhook(t *testing.T) {
	s, mux := newTestServer(t, newTestDeps())
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=s3cret&hub.challenge=1158201444", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "1158201444" {
		t.Fatalf("expected challenge echoed, got %q", got)
	}

	for _, target := range []string{
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1",
		"/webhook?hub.mode=unsubscribe&hub.verify_token=s3cret&hub.challenge=1",
		"/webhook",
	} {
		rr := serve(mux, http.MethodGet, target, "")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", target, rr.Code)
		}
	}
}

const webhookBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "123"},
        "messages": [{
          "from": "919123456789",
          "id": "wamid.reply",
          "timestamp": "1760000000",
          "type": "button",
          "context": {"from": "15550001111", "id": "wamid.invite"},
          "button": {"text": "Yes", "payload": "YES"}
        }]
      }
    }]
  }]
}`

func TestReceiveWebhook_DispatchesBatches(t *testing.T) {
	d := newTestDeps()
	s, mux := newTestServer(t, d)
	defer s.Stop()

	rr := serve(mux, http.MethodPost, "/webhook", webhookBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	if len(d.correlator.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(d.correlator.batches))
	}
	b := d.correlator.batches[0]
	if len(b.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(b.Messages))
	}
	reply, ok := b.Messages[0].(webhook.ButtonReply)
	if !ok {
		t.Fatalf("expected ButtonReply, got %T", b.Messages[0])
	}
	if reply.ContextMessageID != "wamid.invite" || reply.Payload != "YES" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestReceiveWebhook_SurvivesClientCancel(t *testing.T) {
	d := newTestDeps()
	s, mux := newTestServer(t, d)
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(webhookBody)).WithContext(ctx)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(d.correlator.batches) != 1 {
		t.Fatalf("expected batch to be handled, got %d", len(d.correlator.batches))
	}
	if d.correlator.ctxErr != nil {
		t.Fatalf("expected processing context to outlive the request, got %v", d.correlator.ctxErr)
	}
}

func TestReceiveWebhook_MalformedBodyStillAcknowledged(t *testing.T) {
	d := newTestDeps()
	s, mux := newTestServer(t, d)
	defer s.Stop()

	rr := serve(mux, http.MethodPost, "/webhook", `{"entry": [`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if len(d.correlator.batches) != 0 {
		t.Fatalf("expected no batches, got %d", len(d.correlator.batches))
	}
}

func TestSendTemplate_Success(t *testing.T) {
	d := newTestDeps()
	d.sender.res = model.SendResult{MessageID: "wamid.1", WaID: "919123456789"}
	s, mux := newTestServer(t, d)
	defer s.Stop()

	rr := serve(mux, http.MethodPost, "/v1/messages/template", `{"to":"9123456789","template":"event_invitation","language":"en"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	body := decodeJSON(t, rr)
	if body["messageId"] != "wamid.1" || body["waId"] != "919123456789" {
		t.Fatalf("unexpected body %v", body)
	}
	if len(d.sender.got) != 1 || d.sender.got[0].Name != "event_invitation" {
		t.Fatalf("unexpected sends %+v", d.sender.got)
	}
}

func TestSendTemplate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid phone",
			err:        &phone.ValidationError{Input: "12", Reason: phone.ReasonTooShort},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_phone",
		},
		{
			name:       "invalid template",
			err:        service.ErrInvalidTemplate,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_template",
		},
		{
			name:       "provider rejected",
			err:        &client.ExternalServiceError{StatusCode: 401, Code: 190, Kind: client.KindPermanent, Message: "token expired"},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps()
			d.sender.err = tt.err
			s, mux := newTestServer(t, d)
			defer s.Stop()

			rr := serve(mux, http.MethodPost, "/v1/messages/template", `{"to":"12","template":"x"}`)
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d body=%q", tt.wantStatus, rr.Code, rr.Body.String())
			}

			body := decodeJSON(t, rr)
			if tt.wantError != "" && body["error"] != tt.wantError {
				t.Fatalf("expected error %q, got %v", tt.wantError, body)
			}
			if tt.wantStatus == http.StatusBadGateway {
				if body["code"] != float64(190) || body["kind"] != "permanent" {
					t.Fatalf("unexpected provider error body %v", body)
				}
			}
		})
	}
}

func TestSendTemplate_ToParticipant(t *testing.T) {
	d := newTestDeps()
	d.participants.byID["p1"] = model.Participant{ID: "p1", EventID: "e1", Name: "Asha", Phone: "+919123456789"}
	d.notifier.res = model.SendResult{MessageID: "wamid.2"}
	s, mux := newTestServer(t, d)
	defer s.Stop()

	rr := serve(mux, http.MethodPost, "/v1/messages/template", `{"template":"event_invitation","participantId":"p1","eventId":"e1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if len(d.notifier.gotParticipant) != 1 || d.notifier.gotParticipant[0].ID != "p1" {
		t.Fatalf("expected notifier to be used, got %+v", d.notifier.gotParticipant)
	}
	if len(d.sender.got) != 0 {
		t.Fatalf("expected raw sender unused, got %d sends", len(d.sender.got))
	}

	rr = serve(mux, http.MethodPost, "/v1/messages/template", `{"template":"event_invitation","participantId":"p1","eventId":"e2"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mismatched event, got %d", rr.Code)
	}

	rr = serve(mux, http.MethodPost, "/v1/messages/template", `{"template":"event_invitation","participantId":"missing"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestEnqueueInvitations(t *testing.T) {
	d := newTestDeps()
	s, mux := newTestServer(t, d)
	defer s.Stop()

	rr := serve(mux, http.MethodPost, "/v1/events/e1/invitations", `{"participantIds":["p1","p2"]}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%q", rr.Code, rr.Body.String())
	}
	if len(d.invites.jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(d.invites.jobs))
	}
	job := d.invites.jobs[0]
	if job.EventID != "e1" || len(job.ParticipantIDs) != 2 || job.Kind != service.KindInvitation {
		t.Fatalf("unexpected job %+v", job)
	}

	rr = serve(mux, http.MethodPost, "/v1/events/e1/invitations", `{"participantIds":["p1"],"kind":"booking_confirmation"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%q", rr.Code, rr.Body.String())
	}
	if d.invites.jobs[1].Kind != service.KindBookingConfirmation {
		t.Fatalf("expected booking confirmation kind, got %q", d.invites.jobs[1].Kind)
	}
}

func TestEnqueueInvitations_Rejections(t *testing.T) {
	d := newTestDeps()
	s, mux := newTestServer(t, d)
	defer s.Stop()

	for _, body := range []string{
		`{"participantIds":[]}`,
		`{"participantIds":["p1"],"kind":"survey"}`,
		`not json`,
	} {
		rr := serve(mux, http.MethodPost, "/v1/events/e1/invitations", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
	}

	d.invites.err = service.ErrQueueFull
	rr := serve(mux, http.MethodPost, "/v1/events/e1/invitations", `{"participantIds":["p1"]}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestListPendingTokens_DefaultsAndArgs(t *testing.T) {
	d := newTestDeps()
	d.tokens.items = []model.MessageToken{{MessageID: "wamid.1", ParticipantID: "p1", EventID: "e1", Phone: "+919123456789"}}
	d.tokens.total = 7
	s, mux := newTestServer(t, d)
	defer s.Stop()

	// No query params => defaults (limit=50, offset=0)
	rr := serve(mux, http.MethodGet, "/v1/tokens/pending", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if d.tokens.gotLimit != 50 || d.tokens.gotOffset != 0 {
		t.Fatalf("expected repo called with limit=50 offset=0, got limit=%d offset=%d", d.tokens.gotLimit, d.tokens.gotOffset)
	}

	body := decodeJSON(t, rr)
	items, ok := body["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected 1 item, got %v", body)
	}
	if body["total"] != float64(7) {
		t.Fatalf("expected total 7, got %v", body["total"])
	}

	rr = serve(mux, http.MethodGet, "/v1/tokens/pending?limit=10&offset=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if d.tokens.gotLimit != 10 || d.tokens.gotOffset != 5 {
		t.Fatalf("expected limit=10 offset=5, got limit=%d offset=%d", d.tokens.gotLimit, d.tokens.gotOffset)
	}

	serve(mux, http.MethodGet, "/v1/tokens/pending?limit=abc&offset=zzz", "")
	if d.tokens.gotLimit != 50 || d.tokens.gotOffset != 0 {
		t.Fatalf("expected defaults on invalid input, got limit=%d offset=%d", d.tokens.gotLimit, d.tokens.gotOffset)
	}
}

func TestListPendingTokens_RepoErrorReturns500(t *testing.T) {
	d := newTestDeps()
	d.tokens.err = errors.New("db down")
	s, mux := newTestServer(t, d)
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/v1/tokens/pending", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "db down") {
		t.Fatalf("expected error body to contain repo error, got %q", rr.Body.String())
	}
}

func TestRouterRoot(t *testing.T) {
	s, mux := newTestServer(t, newTestDeps())
	defer s.Stop()

	rr := serve(mux, http.MethodGet, "/", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "event-messaging" {
		t.Fatalf("expected body %q, got %q", "event-messaging", got)
	}
}
