package meetings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devjunction/backend/internal/models"
)

// Store is the durable meeting record, the source of truth for status and
// participant timestamps. Implemented by Repository; tests use an in-memory fake.
type Store interface {
	Insert(ctx context.Context, m *models.Meeting) (*models.Meeting, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	GetByBookingID(ctx context.Context, bookingID string) (*models.Meeting, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to models.MeetingStatus, allowedFrom []models.MeetingStatus) (*models.Meeting, error)
	StampParticipant(ctx context.Context, id uuid.UUID, userID uuid.UUID, field string, at time.Time) (*models.Meeting, error)
	ListUpcoming(ctx context.Context, userID uuid.UUID) ([]models.Meeting, error)
	DeleteExpired(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
}

// UserDirectory resolves participant display data for meeting details.
type UserDirectory interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.User, error)
}

// ExpiryScheduler enqueues a deferred sweep for a meeting once its end time
// passes. Optional; the read-path sweep in ListUpcoming works without it.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, meetingID uuid.UUID, endTime time.Time) error
}

// allowedFrom maps a target status to the statuses it may be entered from.
var allowedFrom = map[models.MeetingStatus][]models.MeetingStatus{
	models.StatusOngoing:   {models.StatusScheduled},
	models.StatusCompleted: {models.StatusScheduled, models.StatusOngoing},
	models.StatusCancelled: {models.StatusScheduled, models.StatusOngoing},
}

// Service is the meeting lifecycle manager: idempotent creation, guarded
// status transitions, join/leave stamps and expiry sweeping.
type Service struct {
	store   Store
	users   UserDirectory
	expiry  ExpiryScheduler
	logger  *zap.Logger
	nowFunc func() time.Time
}

// NewService creates a lifecycle manager. users and expiry may be nil.
func NewService(store Store, users UserDirectory, expiry ExpiryScheduler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, users: users, expiry: expiry, logger: logger, nowFunc: time.Now}
}

// CreateParams carries the fields for EnsureMeeting. All of them are ignored
// when a meeting for the booking already exists (first writer wins).
type CreateParams struct {
	BookingID       string
	MeetingURL      string
	StartTime       time.Time
	DurationMinutes int
	CreatedBy       uuid.UUID
	Participants    []models.Participant
}

func (p CreateParams) validate() error {
	if p.BookingID == "" {
		return fmt.Errorf("%w: booking_id is required", ErrInvalidParams)
	}
	if p.MeetingURL == "" {
		return fmt.Errorf("%w: meeting_url is required", ErrInvalidParams)
	}
	if p.StartTime.IsZero() {
		return fmt.Errorf("%w: start_time is required", ErrInvalidParams)
	}
	if p.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidParams)
	}
	if len(p.Participants) != 2 {
		return fmt.Errorf("%w: exactly two participants required", ErrInvalidParams)
	}
	roles := map[string]int{}
	for _, pt := range p.Participants {
		if pt.UserID == uuid.Nil {
			return fmt.Errorf("%w: participant user_id is required", ErrInvalidParams)
		}
		if pt.Role != models.RoleProvider && pt.Role != models.RoleCustomer {
			return fmt.Errorf("%w: participant role must be %s or %s", ErrInvalidParams, models.RoleProvider, models.RoleCustomer)
		}
		roles[pt.Role]++
	}
	if roles[models.RoleProvider] != 1 || roles[models.RoleCustomer] != 1 {
		return fmt.Errorf("%w: participants must be one %s and one %s", ErrInvalidParams, models.RoleProvider, models.RoleCustomer)
	}
	return nil
}

// EnsureMeeting idempotently creates the meeting for a booking. The returned
// bool reports whether this call performed the insert; concurrent calls with
// the same booking id converge on a single stored meeting.
func (s *Service) EnsureMeeting(ctx context.Context, p CreateParams) (*models.Meeting, bool, error) {
	if err := p.validate(); err != nil {
		return nil, false, err
	}
	m := &models.Meeting{
		BookingID:       p.BookingID,
		MeetingURL:      p.MeetingURL,
		StartTime:       p.StartTime,
		DurationMinutes: p.DurationMinutes,
		CreatedBy:       p.CreatedBy,
		Participants:    p.Participants,
	}
	stored, created, err := s.store.Insert(ctx, m)
	if err != nil {
		return nil, false, err
	}
	if created && s.expiry != nil {
		if err := s.expiry.ScheduleExpiry(ctx, stored.ID, stored.EndTime); err != nil {
			s.logger.Warn("schedule expiry", zap.String("meeting_id", stored.ID.String()), zap.Error(err))
		}
	}
	return stored, created, nil
}

// SetStatus applies a status transition. Repeating the current status is a
// no-op success; any other disallowed transition returns ErrInvalidTransition
// with the meeting unchanged.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to models.MeetingStatus) (*models.Meeting, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	from, ok := allowedFrom[to]
	if !ok {
		// scheduled is a creation-only state; nothing transitions back into it.
		from = nil
	}
	updated, err := s.store.UpdateStatus(ctx, id, to, from)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		return updated, nil
	}
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
}

// RecordJoin stamps joined_at for the participant. Already-joined is a no-op;
// a non-participant user gets ErrParticipantNotFound.
func (s *Service) RecordJoin(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Meeting, error) {
	return s.stamp(ctx, id, userID, "joined_at")
}

// RecordLeave stamps left_at, symmetric to RecordJoin.
func (s *Service) RecordLeave(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Meeting, error) {
	return s.stamp(ctx, id, userID, "left_at")
}

func (s *Service) stamp(ctx context.Context, id uuid.UUID, userID uuid.UUID, field string) (*models.Meeting, error) {
	m, err := s.store.StampParticipant(ctx, id, userID, field, s.nowFunc())
	if err != nil {
		return nil, err
	}
	if m != nil {
		return m, nil
	}
	// Zero rows: missing meeting or non-participant; re-read to tell them apart.
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrParticipantNotFound
}

// GetByBookingID returns the meeting for a booking id.
func (s *Service) GetByBookingID(ctx context.Context, bookingID string) (*models.Meeting, error) {
	return s.store.GetByBookingID(ctx, bookingID)
}

// GetDetails returns a meeting expanded with participant display data.
func (s *Service) GetDetails(ctx context.Context, id uuid.UUID) (*models.MeetingDetail, error) {
	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &models.MeetingDetail{Meeting: *m}
	if s.users == nil {
		return detail, nil
	}
	ids := make([]uuid.UUID, 0, len(m.Participants))
	for _, p := range m.Participants {
		ids = append(ids, p.UserID)
	}
	found, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		// Display data is best-effort; the meeting itself is authoritative.
		s.logger.Warn("resolve participants", zap.String("meeting_id", id.String()), zap.Error(err))
		return detail, nil
	}
	for _, p := range m.Participants {
		pd := models.ParticipantDetail{Participant: p}
		if u, ok := found[p.UserID]; ok {
			pd.Name = u.Name
			pd.ImageURL = u.ImageURL
			pd.Rating = u.Rating
		}
		detail.ParticipantDetails = append(detail.ParticipantDetails, pd)
	}
	return detail, nil
}

// ListUpcoming returns the user's scheduled and ongoing meetings ordered by
// start time. Expired candidates are permanently deleted first (destructive
// read); repeated calls are idempotent since deleted meetings stop appearing.
func (s *Service) ListUpcoming(ctx context.Context, userID uuid.UUID) ([]models.Meeting, error) {
	now := s.nowFunc()
	deleted, err := s.store.DeleteExpired(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if deleted > 0 {
		s.logger.Info("expired meetings swept", zap.String("user_id", userID.String()), zap.Int64("count", deleted))
	}
	return s.store.ListUpcoming(ctx, userID)
}

// PeerJoined records a signaling-room join against the correlated meeting
// (room id == booking id). Failures are logged, never surfaced to the relay.
func (s *Service) PeerJoined(ctx context.Context, roomID, userID string) {
	s.recordPresence(ctx, roomID, userID, "joined_at")
}

// PeerLeft is the counterpart of PeerJoined for room departures.
func (s *Service) PeerLeft(ctx context.Context, roomID, userID string) {
	s.recordPresence(ctx, roomID, userID, "left_at")
}

func (s *Service) recordPresence(ctx context.Context, roomID, userID, field string) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return
	}
	m, err := s.store.GetByBookingID(ctx, roomID)
	if err != nil {
		return
	}
	if _, err := s.stamp(ctx, m.ID, uid, field); err != nil {
		s.logger.Debug("room presence not recorded",
			zap.String("room_id", roomID), zap.String("user_id", userID), zap.Error(err))
	}
}
