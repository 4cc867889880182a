package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devjunction/backend/internal/models"
)

const meetingColumns = `id, booking_id, meeting_url, start_time, duration_minutes, end_time, status, participants, created_by, created_at, updated_at`

// Repository is the PostgreSQL-backed meeting store. All multi-step invariants
// (idempotent create, guarded transitions, participant stamps) are pushed down
// into single conditional statements so a crash mid-call cannot leave a
// meeting half-updated.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meeting repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	var m models.Meeting
	var participants []byte
	err := row.Scan(&m.ID, &m.BookingID, &m.MeetingURL, &m.StartTime, &m.DurationMinutes,
		&m.EndTime, &m.Status, &participants, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(participants, &m.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	return &m, nil
}

// Insert conditionally creates the meeting for its booking id. Returns the
// stored meeting and whether this call performed the insert; a concurrent or
// earlier creation wins and is returned unchanged (upsert-as-get).
func (r *Repository) Insert(ctx context.Context, m *models.Meeting) (*models.Meeting, bool, error) {
	participants, err := json.Marshal(m.Participants)
	if err != nil {
		return nil, false, fmt.Errorf("encode participants: %w", err)
	}
	const q = `INSERT INTO meetings (id, booking_id, meeting_url, start_time, duration_minutes, end_time, status, participants, created_by)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $3 + make_interval(mins => $4), $5, $6, $7)
		ON CONFLICT (booking_id) DO NOTHING
		RETURNING ` + meetingColumns
	stored, err := scanMeeting(r.pool.QueryRow(ctx, q,
		m.BookingID, m.MeetingURL, m.StartTime, m.DurationMinutes, models.StatusScheduled, participants, m.CreatedBy))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert meeting: %w", err)
	}
	// Lost the insert to an existing row; hand back the first writer's meeting.
	existing, err := r.GetByBookingID(ctx, m.BookingID)
	if err != nil {
		// The existing row was deleted between the conflict and the read.
		if errors.Is(err, ErrNotFound) {
			return nil, false, ErrConflict
		}
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID returns a meeting by id, or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`
	m, err := scanMeeting(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetByBookingID returns the meeting for a booking, or ErrNotFound.
func (r *Repository) GetByBookingID(ctx context.Context, bookingID string) (*models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings WHERE booking_id = $1`
	m, err := scanMeeting(r.pool.QueryRow(ctx, q, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// UpdateStatus applies a guarded transition: the status is set to "to" only if
// the current status is one of allowedFrom. Returns the updated meeting, or
// nil when no row matched (missing meeting or disallowed current status).
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, to models.MeetingStatus, allowedFrom []models.MeetingStatus) (*models.Meeting, error) {
	from := make([]string, len(allowedFrom))
	for i, s := range allowedFrom {
		from[i] = string(s)
	}
	const q = `UPDATE meetings SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING ` + meetingColumns
	m, err := scanMeeting(r.pool.QueryRow(ctx, q, id, to, from))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	return m, nil
}

// StampParticipant sets joined_at or left_at for the
// given participant inside the embedded list, only where it is still unset
// (first stamp wins). Returns nil when the meeting is missing or the user is
// not a participant.
func (r *Repository) StampParticipant(ctx context.Context, id uuid.UUID, userID uuid.UUID, field string, at time.Time) (*models.Meeting, error) {
	if field != "joined_at" && field != "left_at" {
		return nil, fmt.Errorf("unknown participant field %q", field)
	}
	const q = `UPDATE meetings SET participants = (
			SELECT COALESCE(jsonb_agg(
				CASE WHEN p->>'user_id' = $2 AND p->>$3 IS NULL
					THEN jsonb_set(p, ARRAY[$3], to_jsonb($4::timestamptz))
					ELSE p
				END ORDER BY ord), '[]'::jsonb)
			FROM jsonb_array_elements(participants) WITH ORDINALITY AS t(p, ord)
		), updated_at = NOW()
		WHERE id = $1
		  AND participants @> jsonb_build_array(jsonb_build_object('user_id', $2::text))
		RETURNING ` + meetingColumns
	m, err := scanMeeting(r.pool.QueryRow(ctx, q, id, userID.String(), field, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stamp participant: %w", err)
	}
	return m, nil
}

// ListUpcoming returns the user's meetings with status scheduled or ongoing,
// ordered by start time ascending. This is the expiry sweep's candidate set.
func (r *Repository) ListUpcoming(ctx context.Context, userID uuid.UUID) ([]models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings
		WHERE participants @> jsonb_build_array(jsonb_build_object('user_id', $1::text))
		  AND status IN ('scheduled', 'ongoing')
		ORDER BY start_time ASC`
	rows, err := r.pool.Query(ctx, q, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// DeleteExpired permanently removes the user's scheduled/ongoing meetings whose
// end time has passed. Returns the number of meetings deleted.
func (r *Repository) DeleteExpired(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	const q = `DELETE FROM meetings
		WHERE participants @> jsonb_build_array(jsonb_build_object('user_id', $1::text))
		  AND status IN ('scheduled', 'ongoing')
		  AND end_time < $2`
	tag, err := r.pool.Exec(ctx, q, userID.String(), now)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredByID removes a single meeting if its end time has passed and it
// was never completed or cancelled. Used by the background sweep worker.
func (r *Repository) DeleteExpiredByID(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	const q = `DELETE FROM meetings
		WHERE id = $1 AND status IN ('scheduled', 'ongoing') AND end_time < $2`
	tag, err := r.pool.Exec(ctx, q, id, now)
	if err != nil {
		return false, fmt.Errorf("delete expired by id: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
