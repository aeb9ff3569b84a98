package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/LeventeLantos/event-messaging/internal/model"
)

type EventRepo struct {
	db *sql.DB
}

var _ EventRepository = (*EventRepo)(nil)

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

const eventColumns = `id, name, venue, starts_at, active, created_at`

func (r *EventRepo) Create(ctx context.Context, e model.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.Name, e.Venue, e.StartsAt.UTC(), e.Active, e.CreatedAt.UTC())
	return err
}

func (r *EventRepo) Get(ctx context.Context, id string) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = $1
	`, id)
	return scanEvent(row)
}

func (r *EventRepo) ListUpcoming(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE active = $1
		  AND starts_at > $2
		  AND starts_at <= $3
		ORDER BY starts_at ASC
	`, true, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEvent(s scanner) (*model.Event, error) {
	var e model.Event
	if err := s.Scan(&e.ID, &e.Name, &e.Venue, &e.StartsAt, &e.Active, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}
