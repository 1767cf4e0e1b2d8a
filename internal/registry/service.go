// Package registry holds the arena of registered provider capacity records.
// Records are append-only and immutable after admission except for the
// engagement fields, which the marketplace toggles through SetEngaged and
// ClearEngaged. Every record is persisted write-through so the pool survives
// a restart.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/torpedo-one/torpedo/internal/metrics"
	"github.com/torpedo-one/torpedo/pkg/models"
)

// DefaultMinLeadTime is how far ahead of registration a provider's
// availability window must extend.
const DefaultMinLeadTime = 4 * time.Hour

// ProviderStore is the persistence the registry writes through to.
type ProviderStore interface {
	Insert(ctx context.Context, rec *models.ProviderRecord) error
	UpdateEngagement(ctx context.Context, index int64, engaged bool, sessionID string) error
	List(ctx context.Context) ([]*models.ProviderRecord, error)
}

// Service is the provider-record arena with admission checks.
type Service struct {
	store   ProviderStore
	logger  *slog.Logger
	minLead time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	records []*models.ProviderRecord
}

// Option configures the registry service
type Option func(*Service)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMinLeadTime sets the admission lead-time policy
func WithMinLeadTime(d time.Duration) Option {
	return func(s *Service) {
		s.minLead = d
	}
}

// WithTimeFunc sets a custom time source (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(s *Service) {
		s.now = fn
	}
}

// New creates a registry service. Call Load before serving traffic to
// rehydrate the arena from storage.
func New(store ProviderStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  slog.Default(),
		minLead: DefaultMinLeadTime,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Load rehydrates the arena from storage in registration order.
func (s *Service) Load(ctx context.Context) error {
	records, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load provider records: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = records
	engaged := 0
	for _, rec := range records {
		if rec.Engaged {
			engaged++
		}
	}
	metrics.ProvidersEngaged.Set(float64(engaged))

	s.logger.Info("registry loaded",
		slog.Int("records", len(records)),
		slog.Int("engaged", engaged))
	return nil
}

// Register admits a new capacity record and returns its index. The record's
// engagement fields and index are owned by the registry; callers fill in
// only identity, capacity, availability and classification.
func (s *Service) Register(ctx context.Context, rec *models.ProviderRecord) (int64, error) {
	if rec.CPUs < 1 {
		metrics.RegistrationRejections.WithLabelValues("invalid_capacity").Inc()
		return 0, fmt.Errorf("register with %d CPUs: %w", rec.CPUs, ErrInvalidCapacity)
	}
	if rec.GPUs < 0 || rec.DiskGB < 0 || rec.RAMGB < 0 || rec.MaxDurationHours < 0 {
		metrics.RegistrationRejections.WithLabelValues("invalid_capacity").Inc()
		return 0, fmt.Errorf("register with negative capacity: %w", ErrInvalidCapacity)
	}

	now := s.now()
	if rec.AvailableUntil.Before(now.Add(s.minLead)) {
		metrics.RegistrationRejections.WithLabelValues("insufficient_lead_time").Inc()
		return 0, fmt.Errorf("register available until %s (need %s of lead): %w",
			rec.AvailableUntil.Format(time.RFC3339), s.minLead, ErrInsufficientLeadTime)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	admitted := *rec
	admitted.Index = int64(len(s.records))
	admitted.Engaged = false
	admitted.SessionID = ""
	admitted.RegisteredAt = now

	if err := s.store.Insert(ctx, &admitted); err != nil {
		return 0, fmt.Errorf("persist provider record: %w", err)
	}

	s.records = append(s.records, &admitted)
	metrics.ProvidersRegistered.Inc()

	s.logger.Info("provider registered",
		slog.Int64("index", admitted.Index),
		slog.String("owner", admitted.Owner),
		slog.Int("cpus", admitted.CPUs),
		slog.Int("gpus", admitted.GPUs))

	return admitted.Index, nil
}

// Get returns a copy of the record at the given index.
func (s *Service) Get(index int64) (models.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= int64(len(s.records)) {
		return models.ProviderRecord{}, fmt.Errorf("index %d of %d records: %w", index, len(s.records), ErrOutOfRange)
	}
	return *s.records[index], nil
}

// Count returns the number of registered records.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns copies of all records in registration order.
func (s *Service) Snapshot() []models.ProviderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ProviderRecord, len(s.records))
	for i, rec := range s.records {
		out[i] = *rec
	}
	return out
}

// OwnedBy returns copies of every record owned by the given account, in
// registration order.
func (s *Service) OwnedBy(owner string) []models.ProviderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ProviderRecord
	for _, rec := range s.records {
		if rec.Owner == owner {
			out = append(out, *rec)
		}
	}
	return out
}

// PoolTotals aggregates capacity over all records, engaged or not, plus the
// largest remaining availability window at call time.
func (s *Service) PoolTotals() models.PoolTotals {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var totals models.PoolTotals
	for _, rec := range s.records {
		totals.CPUs += rec.CPUs
		totals.GPUs += rec.GPUs
		totals.DiskGB += rec.DiskGB
		totals.RAMGB += rec.RAMGB
		if window := rec.RemainingWindow(now); window > totals.MaxWindow {
			totals.MaxWindow = window
		}
	}
	return totals
}

// SetEngaged binds a record to a session. Fails if the record is already
// engaged; persistence failures leave the arena unchanged.
func (s *Service) SetEngaged(ctx context.Context, index int64, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= int64(len(s.records)) {
		return fmt.Errorf("engage index %d: %w", index, ErrOutOfRange)
	}
	rec := s.records[index]
	if rec.Engaged {
		return fmt.Errorf("engage index %d bound to session %s: %w", index, rec.SessionID, ErrAlreadyEngaged)
	}

	if err := s.store.UpdateEngagement(ctx, index, true, sessionID); err != nil {
		return fmt.Errorf("persist engagement: %w", err)
	}

	rec.Engaged = true
	rec.SessionID = sessionID
	metrics.ProvidersEngaged.Inc()
	return nil
}

// ClearEngaged releases a record back to the pool.
func (s *Service) ClearEngaged(ctx context.Context, index int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= int64(len(s.records)) {
		return fmt.Errorf("release index %d: %w", index, ErrOutOfRange)
	}
	rec := s.records[index]
	if !rec.Engaged {
		return fmt.Errorf("release index %d: %w", index, ErrNotEngaged)
	}

	if err := s.store.UpdateEngagement(ctx, index, false, ""); err != nil {
		return fmt.Errorf("persist release: %w", err)
	}

	rec.Engaged = false
	rec.SessionID = ""
	metrics.ProvidersEngaged.Dec()
	return nil
}
