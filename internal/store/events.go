package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultEventLimit caps List when no limit is given.
const DefaultEventLimit = 100

// Session is one supervisor lifetime.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Event is a stored tracking event. X and Y are nil when the event carried
// no position.
type Event struct {
	ID        string
	SessionID string
	Kind      string
	FromState string
	ToState   string
	X, Y      *float64
	Remaining int
	CreatedAt time.Time
}

// EventRepository stores sessions and their tracking events.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// StartSession creates a new session and returns it.
func (r *EventRepository) StartSession() (*Session, error) {
	sess := &Session{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}
	_, err := r.db.Exec(`INSERT INTO sessions (id, started_at) VALUES (?, ?)`, sess.ID, sess.StartedAt)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// EndSession marks a session as ended.
func (r *EventRepository) EndSession(id string) error {
	result, err := r.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, time.Now(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetSession retrieves a session by its ID.
func (r *EventRepository) GetSession(id string) (*Session, error) {
	sess := &Session{}
	var ended sql.NullTime

	err := r.db.QueryRow(`SELECT id, started_at, ended_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.StartedAt, &ended)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if ended.Valid {
		sess.EndedAt = &ended.Time
	}
	return sess, nil
}

// Create inserts e, assigning its ID and timestamp when unset.
func (r *EventRepository) Create(e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO tracking_events (id, session_id, kind, from_state, to_state, x, y, remaining, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Kind, e.FromState, e.ToState, nullFloat(e.X), nullFloat(e.Y), e.Remaining, e.CreatedAt,
	)
	return err
}

// List returns the most recent events, newest first. limit <= 0 selects
// DefaultEventLimit.
func (r *EventRepository) List(limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	return r.query(
		`SELECT id, session_id, kind, from_state, to_state, x, y, remaining, created_at
		 FROM tracking_events ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
}

// ListBySession returns a session's events in the order they happened.
func (r *EventRepository) ListBySession(sessionID string) ([]*Event, error) {
	return r.query(
		`SELECT id, session_id, kind, from_state, to_state, x, y, remaining, created_at
		 FROM tracking_events WHERE session_id = ? ORDER BY created_at, rowid`,
		sessionID,
	)
}

// CountByKind returns the number of events of each kind.
func (r *EventRepository) CountByKind() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT kind, COUNT(*) FROM tracking_events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// PruneBefore deletes events older than t and returns how many were removed.
func (r *EventRepository) PruneBefore(t time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM tracking_events WHERE created_at < ?`, t)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *EventRepository) query(q string, args ...any) ([]*Event, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var x, y sql.NullFloat64
		err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.FromState, &e.ToState, &x, &y, &e.Remaining, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		if x.Valid && y.Valid {
			e.X, e.Y = &x.Float64, &y.Float64
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
