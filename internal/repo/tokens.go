package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/LeventeLantos/event-messaging/internal/model"
)

type TokenRepo struct {
	db *sql.DB
}

var _ TokenStore = (*TokenRepo)(nil)

func NewTokenRepo(db *sql.DB) *TokenRepo {
	return &TokenRepo{db: db}
}

const tokenColumns = `message_id, participant_id, event_id, phone, template_name, processed, created_at`

func (r *TokenRepo) Put(ctx context.Context, t model.MessageToken) error {
	var tmpl sql.NullString
	if t.TemplateName != nil {
		tmpl = sql.NullString{String: *t.TemplateName, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO NOTHING
	`, t.MessageID, t.ParticipantID, t.EventID, t.Phone, tmpl, t.Processed, t.CreatedAt.UTC())
	return err
}

func (r *TokenRepo) GetByMessageID(ctx context.Context, messageID string) (*model.MessageToken, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM message_tokens
		WHERE message_id = $1
	`, messageID)
	return scanToken(row)
}

func (r *TokenRepo) GetLatestUnprocessedByPhone(ctx context.Context, phone string) (*model.MessageToken, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM message_tokens
		WHERE phone = $1 AND processed = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, phone, false)
	return scanToken(row)
}

func (r *TokenRepo) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE message_tokens
		SET processed = $1
		WHERE message_id = $2
	`, true, messageID)
	return err
}

func (r *TokenRepo) Delete(ctx context.Context, messageID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM message_tokens WHERE message_id = $1`, messageID)
	return err
}

func (r *TokenRepo) ListUnprocessed(ctx context.Context, limit, offset int) ([]model.MessageToken, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM message_tokens
		WHERE processed = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, false, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MessageToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TokenRepo) CountUnprocessed(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM message_tokens WHERE processed = $1
	`, false).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(s scanner) (*model.MessageToken, error) {
	var t model.MessageToken
	var tmpl sql.NullString
	if err := s.Scan(
		&t.MessageID,
		&t.ParticipantID,
		&t.EventID,
		&t.Phone,
		&tmpl,
		&t.Processed,
		&t.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if tmpl.Valid {
		name := tmpl.String
		t.TemplateName = &name
	}
	return &t, nil
}
