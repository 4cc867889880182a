package models

import (
	"time"

	"github.com/google/uuid"
)

// MeetingStatus is the lifecycle state of a meeting.
type MeetingStatus string

const (
	StatusScheduled MeetingStatus = "scheduled"
	StatusOngoing   MeetingStatus = "ongoing"
	StatusCompleted MeetingStatus = "completed"
	StatusCancelled MeetingStatus = "cancelled"
)

// Valid reports whether s is a known meeting status.
func (s MeetingStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Participant roles. Every meeting has exactly one of each.
const (
	RoleProvider = "provider"
	RoleCustomer = "customer"
)

// Participant is one of the two parties of a meeting. Membership is fixed at
// creation; joined_at/left_at are stamped by the lifecycle manager.
type Participant struct {
	UserID   uuid.UUID  `json:"user_id"`
	Role     string     `json:"role"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Meeting is the scheduled live session for one booking (1:1 via booking_id).
type Meeting struct {
	ID              uuid.UUID     `json:"id"`
	BookingID       string        `json:"booking_id"`
	MeetingURL      string        `json:"meeting_url"`
	StartTime       time.Time     `json:"start_time"`
	DurationMinutes int           `json:"duration_minutes"`
	EndTime         time.Time     `json:"end_time"`
	Status          MeetingStatus `json:"status"`
	Participants    []Participant `json:"participants"`
	CreatedBy       uuid.UUID     `json:"created_by"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ParticipantByUser returns the participant entry for userID, or nil.
func (m *Meeting) ParticipantByUser(userID uuid.UUID) *Participant {
	for i := range m.Participants {
		if m.Participants[i].UserID == userID {
			return &m.Participants[i]
		}
	}
	return nil
}

// Expired reports whether the meeting's end time has passed.
func (m *Meeting) Expired(now time.Time) bool {
	return now.After(m.EndTime)
}

// MeetingDetail is a meeting expanded with participant display data.
type MeetingDetail struct {
	Meeting
	ParticipantDetails []ParticipantDetail `json:"participant_details"`
}

// ParticipantDetail pairs a participant with user display fields.
type ParticipantDetail struct {
	Participant
	Name     string  `json:"name"`
	ImageURL string  `json:"image_url,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
}
