package model

import "time"

type Attendance string

const (
	AttendancePending Attendance = "pending"
	AttendanceYes     Attendance = "yes"
	AttendanceNo      Attendance = "no"
)

// ReminderTier names one lead-time window before an event. Each tier has its
// own sent timestamp per participant.
type ReminderTier string

const (
	Tier12h ReminderTier = "12h"
	Tier3h  ReminderTier = "3h"
)

type Event struct {
	ID        string
	Name      string
	Venue     string
	StartsAt  time.Time
	Active    bool
	CreatedAt time.Time
}

type Participant struct {
	ID         string
	EventID    string
	Name       string
	Phone      string
	Attendance Attendance

	Reminder12hSentAt *time.Time
	Reminder3hSentAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReminderSentAt returns the sent timestamp for tier, nil when the reminder
// has not gone out yet.
func (p Participant) ReminderSentAt(tier ReminderTier) *time.Time {
	switch tier {
	case Tier12h:
		return p.Reminder12hSentAt
	case Tier3h:
		return p.Reminder3hSentAt
	}
	return nil
}
