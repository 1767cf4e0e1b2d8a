package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/torpedo-one/torpedo/pkg/models"
)

// SessionStore handles session persistence
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a new session store
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a new session
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (
			id, client_addr, provider_addr, provider_idx, state,
			url, secret,
			cpus, gpus, duration_hours, gpu_type, service_type, disk_gb, ram_gb,
			paid_amount, quote_usd_cents,
			created_at, initialised_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.ClientAddr, session.ProviderAddr, session.ProviderIndex, session.State,
		nullString(session.URL), nullString(session.Secret),
		session.Request.CPUs, session.Request.GPUs, session.Request.DurationHours,
		session.Request.GPUType, session.Request.ServiceType,
		session.Request.DiskGB, session.Request.RAMGB,
		session.PaidAmount, session.QuoteUSDCents,
		session.CreatedAt, nullTime(session.InitialisedAt), nullTime(session.StartedAt), nullTime(session.CompletedAt),
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Get retrieves a session by ID
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, sessionSelect+" WHERE id = ?", id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// Update persists the mutable handoff fields of a session.
func (s *SessionStore) Update(ctx context.Context, session *models.Session) error {
	query := `
		UPDATE sessions SET
			state = ?,
			url = ?,
			secret = ?,
			initialised_at = ?,
			started_at = ?,
			completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		session.State,
		nullString(session.URL),
		nullString(session.Secret),
		nullTime(session.InitialisedAt),
		nullTime(session.StartedAt),
		nullTime(session.CompletedAt),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a session. Used only to roll back a createSession whose
// engagement marking failed; completed sessions stay as audit records.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SessionFilter defines criteria for filtering sessions
type SessionFilter struct {
	ClientAddr   string
	ProviderAddr string
	State        models.SessionState
	Limit        int
}

// List returns sessions matching the filter, newest first.
func (s *SessionStore) List(ctx context.Context, filter SessionFilter) ([]*models.Session, error) {
	query := sessionSelect + " WHERE 1=1"
	var args []interface{}

	if filter.ClientAddr != "" {
		query += " AND client_addr = ?"
		args = append(args, filter.ClientAddr)
	}
	if filter.ProviderAddr != "" {
		query += " AND provider_addr = ?"
		args = append(args, filter.ProviderAddr)
	}
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// CountByState returns the number of sessions per handoff state.
func (s *SessionStore) CountByState(ctx context.Context) (map[models.SessionState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM sessions GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SessionState]int)
	for rows.Next() {
		var state models.SessionState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[state] = count
	}
	return counts, rows.Err()
}

const sessionSelect = `
	SELECT
		id, client_addr, provider_addr, provider_idx, state,
		url, secret,
		cpus, gpus, duration_hours, gpu_type, service_type, disk_gb, ram_gb,
		paid_amount, quote_usd_cents,
		created_at, initialised_at, started_at, completed_at
	FROM sessions
`

func scanSession(row scanner) (*models.Session, error) {
	session := &models.Session{}
	var url, secret sql.NullString
	var initialisedAt, startedAt, completedAt sql.NullTime

	err := row.Scan(
		&session.ID, &session.ClientAddr, &session.ProviderAddr, &session.ProviderIndex, &session.State,
		&url, &secret,
		&session.Request.CPUs, &session.Request.GPUs, &session.Request.DurationHours,
		&session.Request.GPUType, &session.Request.ServiceType,
		&session.Request.DiskGB, &session.Request.RAMGB,
		&session.PaidAmount, &session.QuoteUSDCents,
		&session.CreatedAt, &initialisedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	session.URL = url.String
	session.Secret = secret.String
	if initialisedAt.Valid {
		session.InitialisedAt = &initialisedAt.Time
	}
	if startedAt.Valid {
		session.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		session.CompletedAt = &completedAt.Time
	}

	return session, nil
}

// nullTime converts an optional time to sql.NullTime
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
