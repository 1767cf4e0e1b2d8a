package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/torpedo-one/torpedo/pkg/models"
)

// ProviderStore persists provider capacity records. Record indices are
// assigned by the registry in registration order and never reused.
type ProviderStore struct {
	db *DB
}

// NewProviderStore creates a new provider store
func NewProviderStore(db *DB) *ProviderStore {
	return &ProviderStore{db: db}
}

// Insert persists a new provider record under its assigned index.
func (s *ProviderStore) Insert(ctx context.Context, rec *models.ProviderRecord) error {
	query := `
		INSERT INTO providers (
			idx, owner,
			cpus, gpus, disk_gb, ram_gb,
			available_until, max_duration_hours,
			gpu_type, service_type,
			engaged, session_id, registered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.Index, rec.Owner,
		rec.CPUs, rec.GPUs, rec.DiskGB, rec.RAMGB,
		rec.AvailableUntil, rec.MaxDurationHours,
		rec.GPUType, rec.ServiceType,
		rec.Engaged, nullString(rec.SessionID), rec.RegisteredAt,
	)

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert provider record: %w", err)
	}

	return nil
}

// Get retrieves a provider record by index.
func (s *ProviderStore) Get(ctx context.Context, index int64) (*models.ProviderRecord, error) {
	row := s.db.QueryRowContext(ctx, providerSelect+" WHERE idx = ?", index)

	rec, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider record: %w", err)
	}
	return rec, nil
}

// List returns all provider records in registration order.
func (s *ProviderStore) List(ctx context.Context) ([]*models.ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx, providerSelect+" ORDER BY idx ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list provider records: %w", err)
	}
	defer rows.Close()

	var records []*models.ProviderRecord
	for rows.Next() {
		rec, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider records: %w", err)
	}

	return records, nil
}

// UpdateEngagement toggles the engagement fields of a record. These are the
// only mutable columns; everything else is immutable after registration.
func (s *ProviderStore) UpdateEngagement(ctx context.Context, index int64, engaged bool, sessionID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE providers SET engaged = ?, session_id = ? WHERE idx = ?`,
		engaged, nullString(sessionID), index,
	)
	if err != nil {
		return fmt.Errorf("failed to update provider engagement: %w", err)
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

const providerSelect = `
	SELECT
		idx, owner,
		cpus, gpus, disk_gb, ram_gb,
		available_until, max_duration_hours,
		gpu_type, service_type,
		engaged, session_id, registered_at
	FROM providers
`

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanProvider(row scanner) (*models.ProviderRecord, error) {
	rec := &models.ProviderRecord{}
	var sessionID sql.NullString

	err := row.Scan(
		&rec.Index, &rec.Owner,
		&rec.CPUs, &rec.GPUs, &rec.DiskGB, &rec.RAMGB,
		&rec.AvailableUntil, &rec.MaxDurationHours,
		&rec.GPUType, &rec.ServiceType,
		&rec.Engaged, &sessionID, &rec.RegisteredAt,
	)
	if err != nil {
		return nil, err
	}

	rec.SessionID = sessionID.String
	return rec, nil
}

// nullString converts an empty string to a SQL NULL
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
