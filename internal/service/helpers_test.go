package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/event-messaging/internal/events"
	"github.com/LeventeLantos/event-messaging/internal/model"
	"github.com/LeventeLantos/event-messaging/internal/repo"
)

var testNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stores struct {
	tokens       *countingTokens
	participants *repo.ParticipantRepo
	events       *repo.EventRepo
}

func newStores(t *testing.T) stores {
	t.Helper()
	db, err := repo.Open(context.Background(), repo.DriverSQLite, filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return stores{
		tokens:       &countingTokens{TokenStore: repo.NewTokenRepo(db)},
		participants: repo.NewParticipantRepo(db),
		events:       repo.NewEventRepo(db),
	}
}

func (s stores) seedEvent(t *testing.T, e model.Event) {
	t.Helper()
	require.NoError(t, s.events.Create(context.Background(), e))
}

func (s stores) seedParticipant(t *testing.T, p model.Participant) {
	t.Helper()
	require.NoError(t, s.participants.Create(context.Background(), p))
}

func (s stores) seedToken(t *testing.T, tok model.MessageToken) {
	t.Helper()
	require.NoError(t, s.tokens.Put(context.Background(), tok))
}

func (s stores) attendance(t *testing.T, participantID string) model.Attendance {
	t.Helper()
	p, err := s.participants.Get(context.Background(), participantID)
	require.NoError(t, err)
	return p.Attendance
}

// countingTokens counts state transitions on top of a real store.
type countingTokens struct {
	repo.TokenStore
	marks   atomic.Int32
	deletes atomic.Int32
}

func (c *countingTokens) MarkProcessed(ctx context.Context, messageID string) error {
	c.marks.Add(1)
	return c.TokenStore.MarkProcessed(ctx, messageID)
}

func (c *countingTokens) Delete(ctx context.Context, messageID string) error {
	c.deletes.Add(1)
	return c.TokenStore.Delete(ctx, messageID)
}

// fakeClient records every template it is asked to send. errs are returned
// for the first calls in order; ids override the generated message ids.
type fakeClient struct {
	mu   sync.Mutex
	sent []model.TemplateMessage
	errs []error
	ids  []string
	noID bool
}

func (f *fakeClient) SendTemplate(_ context.Context, msg model.TemplateMessage) (model.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, msg)
	i := len(f.sent) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return model.SendResult{}, f.errs[i]
	}
	if f.noID {
		return model.SendResult{}, nil
	}
	id := fmt.Sprintf("wamid.%d", len(f.sent))
	if i < len(f.ids) {
		id = f.ids[i]
	}
	return model.SendResult{MessageID: id, WaID: strings.TrimPrefix(msg.To, "+")}, nil
}

func (f *fakeClient) calls() []model.TemplateMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.TemplateMessage(nil), f.sent...)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	envs []events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, key string, msg events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.envs = append(p.envs, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func strPtr(s string) *string { return &s }
