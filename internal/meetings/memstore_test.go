package meetings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devjunction/backend/internal/models"
)

// memStore is an in-memory Store with the same conditional-operation semantics
// as the PostgreSQL repository.
type memStore struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*models.Meeting
	byBooking map[string]uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		byID:      make(map[uuid.UUID]*models.Meeting),
		byBooking: make(map[string]uuid.UUID),
	}
}

func cloneMeeting(m *models.Meeting) *models.Meeting {
	out := *m
	out.Participants = make([]models.Participant, len(m.Participants))
	copy(out.Participants, m.Participants)
	return &out
}

func (s *memStore) Insert(_ context.Context, m *models.Meeting) (*models.Meeting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byBooking[m.BookingID]; ok {
		return cloneMeeting(s.byID[id]), false, nil
	}
	now := time.Now()
	stored := cloneMeeting(m)
	stored.ID = uuid.New()
	stored.EndTime = m.StartTime.Add(time.Duration(m.DurationMinutes) * time.Minute)
	stored.Status = models.StatusScheduled
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.byID[stored.ID] = stored
	s.byBooking[stored.BookingID] = stored.ID
	return cloneMeeting(stored), true, nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMeeting(m), nil
}

func (s *memStore) GetByBookingID(_ context.Context, bookingID string) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byBooking[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMeeting(s.byID[id]), nil
}

func (s *memStore) UpdateStatus(_ context.Context, id uuid.UUID, to models.MeetingStatus, allowedFrom []models.MeetingStatus) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	for _, from := range allowedFrom {
		if m.Status == from {
			m.Status = to
			m.UpdatedAt = time.Now()
			return cloneMeeting(m), nil
		}
	}
	return nil, nil
}

func (s *memStore) StampParticipant(_ context.Context, id uuid.UUID, userID uuid.UUID, field string, at time.Time) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	p := m.ParticipantByUser(userID)
	if p == nil {
		return nil, nil
	}
	switch field {
	case "joined_at":
		if p.JoinedAt == nil {
			t := at
			p.JoinedAt = &t
		}
	case "left_at":
		if p.LeftAt == nil {
			t := at
			p.LeftAt = &t
		}
	}
	m.UpdatedAt = time.Now()
	return cloneMeeting(m), nil
}

func (s *memStore) ListUpcoming(_ context.Context, userID uuid.UUID) ([]models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Meeting
	for _, m := range s.byID {
		if m.ParticipantByUser(userID) == nil {
			continue
		}
		if m.Status != models.StatusScheduled && m.Status != models.StatusOngoing {
			continue
		}
		out = append(out, *cloneMeeting(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memStore) DeleteExpired(_ context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.byID {
		if m.ParticipantByUser(userID) == nil {
			continue
		}
		if m.Status != models.StatusScheduled && m.Status != models.StatusOngoing {
			continue
		}
		if m.EndTime.Before(now) {
			delete(s.byID, id)
			delete(s.byBooking, m.BookingID)
			n++
		}
	}
	return n, nil
}
