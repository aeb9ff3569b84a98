package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/event-messaging/internal/model"
)

type ParticipantRepo struct {
	db  *sql.DB
	now func() time.Time
}

var _ ParticipantRepository = (*ParticipantRepo)(nil)

func NewParticipantRepo(db *sql.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db, now: time.Now}
}

var tierColumns = map[model.ReminderTier]string{
	model.Tier12h: "reminder_12h_sent_at",
	model.Tier3h:  "reminder_3h_sent_at",
}

func tierColumn(tier model.ReminderTier) (string, error) {
	col, ok := tierColumns[tier]
	if !ok {
		return "", fmt.Errorf("unknown reminder tier %q", tier)
	}
	return col, nil
}

const participantColumns = `id, event_id, name, phone, attendance,
	reminder_12h_sent_at, reminder_3h_sent_at, created_at, updated_at`

// Create inserts p. Phone is stored as given; callers normalize it first.
func (r *ParticipantRepo) Create(ctx context.Context, p model.Participant) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if p.Attendance == "" {
		p.Attendance = model.AttendancePending
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO participants (id, event_id, name, phone, attendance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.EventID, p.Name, p.Phone, string(p.Attendance), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return err
}

func (r *ParticipantRepo) Get(ctx context.Context, id string) (*model.Participant, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE id = $1
	`, id)
	return scanParticipant(row)
}

func (r *ParticipantRepo) FindLatestByPhone(ctx context.Context, phone string) (*model.Participant, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE phone = $1
		   OR REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(phone, ' ', ''), '-', ''), '(', ''), ')', ''), '.', '') = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, phone)
	return scanParticipant(row)
}

func (r *ParticipantRepo) SetAttendance(ctx context.Context, participantID, eventID string, attendance model.Attendance) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE participants
		SET attendance = $1, updated_at = $2
		WHERE id = $3 AND event_id = $4
	`, string(attendance), r.now().UTC(), participantID, eventID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ParticipantRepo) ListPendingReminder(ctx context.Context, eventID string, tier model.ReminderTier) ([]model.Participant, error) {
	col, err := tierColumn(tier)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE event_id = $1
		  AND phone <> ''
		  AND `+col+` IS NULL
		ORDER BY created_at ASC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *ParticipantRepo) MarkReminderSent(ctx context.Context, participantID string, tier model.ReminderTier, at time.Time) error {
	col, err := tierColumn(tier)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE participants
		SET `+col+` = $1, updated_at = $2
		WHERE id = $3
	`, at.UTC(), r.now().UTC(), participantID)
	return err
}

func scanParticipant(s scanner) (*model.Participant, error) {
	var p model.Participant
	var attendance string
	var sent12h, sent3h sql.NullTime

	if err := s.Scan(
		&p.ID,
		&p.EventID,
		&p.Name,
		&p.Phone,
		&attendance,
		&sent12h,
		&sent3h,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p.Attendance = model.Attendance(attendance)
	if sent12h.Valid {
		t := sent12h.Time
		p.Reminder12hSentAt = &t
	}
	if sent3h.Valid {
		t := sent3h.Time
		p.Reminder3hSentAt = &t
	}
	return &p, nil
}
