// Package marketplace is the factory-level entry point: it composes the
// registry, matcher and pricing engine, creates sessions, and owns the
// engagement lifecycle of provider records.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/torpedo-one/torpedo/internal/logging"
	"github.com/torpedo-one/torpedo/internal/matcher"
	"github.com/torpedo-one/torpedo/internal/metrics"
	"github.com/torpedo-one/torpedo/internal/pricing"
	"github.com/torpedo-one/torpedo/internal/registry"
	"github.com/torpedo-one/torpedo/internal/storage"
	"github.com/torpedo-one/torpedo/pkg/models"
)

// SessionStore is the session persistence the marketplace needs.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter storage.SessionFilter) ([]*models.Session, error)
}

// Service is the marketplace factory.
type Service struct {
	registry *registry.Service
	matcher  *matcher.Matcher
	pricing  *pricing.Engine
	sessions SessionStore
	logger   *slog.Logger
	account  string
	now      func() time.Time

	// mu makes match-then-engage a single critical section and serializes
	// session transitions: no concurrent CreateSession can claim the provider
	// selected by another, and no two transitions can both load the same
	// prior state.
	mu sync.Mutex
}

// Option configures the marketplace service
type Option func(*Service)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTimeFunc sets a custom time source (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(s *Service) {
		s.now = fn
	}
}

// New creates the marketplace. account is the marketplace's own principal,
// the only caller allowed to read a session's party addresses.
func New(reg *registry.Service, m *matcher.Matcher, pe *pricing.Engine, sessions SessionStore, account string, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		matcher:  m,
		pricing:  pe,
		sessions: sessions,
		logger:   slog.Default(),
		account:  account,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Account returns the marketplace principal.
func (s *Service) Account() string {
	return s.account
}

// RegisterProvider admits a capacity record for the calling account.
func (s *Service) RegisterProvider(ctx context.Context, owner string, rec models.ProviderRecord) (int64, error) {
	rec.Owner = owner

	index, err := s.registry.Register(ctx, &rec)
	if err != nil {
		return 0, err
	}

	logging.Audit(ctx, "register_provider",
		"provider_index", index,
		"owner", owner,
		"cpus", rec.CPUs,
		"gpus", rec.GPUs)
	return index, nil
}

// ViewProvider returns the record at the given index.
func (s *Service) ViewProvider(index int64) (models.ProviderRecord, error) {
	return s.registry.Get(index)
}

// PoolTotals aggregates capacity over the whole pool.
func (s *Service) PoolTotals() models.PoolTotals {
	return s.registry.PoolTotals()
}

// QuoteUSDCents prices a request in USD cents.
func (s *Service) QuoteUSDCents(req models.SessionRequest) int64 {
	return s.pricing.QuoteUSDCents(req)
}

// RequiredSettlement prices a request in settlement base units at the
// oracle's current price.
func (s *Service) RequiredSettlement(ctx context.Context, req models.SessionRequest) (*big.Int, error) {
	return s.pricing.RequiredSettlement(ctx, req)
}

// CheckEngaged reports whether any record owned by the account is engaged.
func (s *Service) CheckEngaged(owner string) (bool, error) {
	records := s.registry.OwnedBy(owner)
	if len(records) == 0 {
		return false, fmt.Errorf("check engagement of %s: %w", owner, ErrNoProviderRecord)
	}
	for _, rec := range records {
		if rec.Engaged {
			return true, nil
		}
	}
	return false, nil
}

// SessionOf returns the session handle bound to the account's engaged
// record.
func (s *Service) SessionOf(owner string) (string, error) {
	records := s.registry.OwnedBy(owner)
	if len(records) == 0 {
		return "", fmt.Errorf("session of %s: %w", owner, ErrNoProviderRecord)
	}
	for _, rec := range records {
		if rec.Engaged {
			return rec.SessionID, nil
		}
	}
	return "", fmt.Errorf("session of %s: %w", owner, registry.ErrNotEngaged)
}

// CreateSession quotes the request, gates on payment, matches a provider and
// creates the session, engaging the matched record. Either every effect
// lands or none does.
func (s *Service) CreateSession(ctx context.Context, client string, req models.SessionRequest, payment *big.Int) (*models.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Oracle I/O stays outside the critical section
	required, err := s.pricing.RequiredSettlement(ctx, req)
	if err != nil {
		metrics.SessionCreateFailures.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("price request: %w", err)
	}

	paid := payment
	if paid == nil {
		paid = new(big.Int)
	}
	if paid.Cmp(required) < 0 {
		metrics.SessionCreateFailures.WithLabelValues("insufficient_payment").Inc()
		return nil, &InsufficientPaymentError{Required: required, Paid: paid}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, err := s.matcher.FindEligible(s.registry.Snapshot(), req, now)
	if err != nil {
		metrics.SessionCreateFailures.WithLabelValues("no_eligible_provider").Inc()
		return nil, err
	}

	session := &models.Session{
		ID:            uuid.New().String(),
		ClientAddr:    client,
		ProviderAddr:  rec.Owner,
		ProviderIndex: rec.Index,
		FactoryAddr:   s.account,
		Request:       req,
		State:         models.StateCreated,
		PaidAmount:    paid.String(),
		QuoteUSDCents: s.pricing.QuoteUSDCents(req),
		CreatedAt:     now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		metrics.SessionCreateFailures.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("persist session: %w", err)
	}

	if err := s.registry.SetEngaged(ctx, rec.Index, session.ID); err != nil {
		// Roll the session back so a failed call leaves no visible effect
		if delErr := s.sessions.Delete(ctx, session.ID); delErr != nil {
			s.logger.Error("failed to roll back session after engagement failure",
				slog.String("session_id", session.ID),
				slog.String("error", delErr.Error()))
		}
		metrics.SessionCreateFailures.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("engage provider %d: %w", rec.Index, err)
	}

	metrics.SessionsCreated.Inc()
	metrics.SessionsByState.WithLabelValues(string(models.StateCreated)).Inc()

	logging.Audit(ctx, "create_session",
		"session_id", session.ID,
		"client", client,
		"provider_index", rec.Index,
		"provider", rec.Owner,
		"quote_usd_cents", session.QuoteUSDCents)

	return session, nil
}

// InitialiseSession stores the provider's connection details on the session.
// The details are write-once: a second call finds the session initialised and
// fails with ErrInvalidState.
func (s *Service) InitialiseSession(ctx context.Context, sessionID, caller, url, secret string) error {
	// Transitions are load-modify-write; the lock keeps them serial
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	prev := session.State
	if err := session.Initialise(caller, url, secret, s.now()); err != nil {
		return err
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	s.swapStateGauge(prev, session.State)
	logging.Audit(ctx, "initialise_session", "session_id", sessionID, "provider", caller)
	return nil
}

// StartSession hands the connection details to the client.
func (s *Service) StartSession(ctx context.Context, sessionID, caller string) (url, secret string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return "", "", err
	}

	prev := session.State
	url, secret, err = session.Start(caller, s.now())
	if err != nil {
		return "", "", err
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		return "", "", fmt.Errorf("persist session: %w", err)
	}

	s.swapStateGauge(prev, session.State)
	logging.Audit(ctx, "start_session", "session_id", sessionID, "client", caller)
	return url, secret, nil
}

// CompleteSession ends the rental and releases the matched provider back to
// the pool.
func (s *Service) CompleteSession(ctx context.Context, sessionID, caller string) error {
	// Serialized with CreateSession so release and match never interleave
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	prev := session.State
	if err := session.Complete(caller, s.now()); err != nil {
		return err
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	if err := s.registry.ClearEngaged(ctx, session.ProviderIndex); err != nil {
		// The session is already closed; an unengaged record is not fatal
		s.logger.Warn("release after completion failed",
			slog.String("session_id", sessionID),
			slog.Int64("provider_index", session.ProviderIndex),
			slog.String("error", err.Error()))
	}

	s.swapStateGauge(prev, session.State)
	logging.Audit(ctx, "complete_session",
		"session_id", sessionID,
		"caller", caller,
		"provider_index", session.ProviderIndex)
	return nil
}

// ListSessions returns sessions visible to the caller. The marketplace
// principal sees every session; any other account sees only sessions where it
// is the bound party in the given role (client unless role is "provider").
func (s *Service) ListSessions(ctx context.Context, caller, role string, state models.SessionState, limit int) ([]*models.Session, error) {
	filter := storage.SessionFilter{State: state, Limit: limit}
	switch {
	case caller == s.account:
	case role == "provider":
		filter.ProviderAddr = caller
	default:
		filter.ClientAddr = caller
	}

	sessions, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for _, session := range sessions {
		session.FactoryAddr = s.account
	}
	return sessions, nil
}

// SessionRequest returns the request embedded in a session. Unrestricted.
func (s *Service) SessionRequest(ctx context.Context, sessionID string) (models.SessionRequest, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return models.SessionRequest{}, err
	}
	return session.Request, nil
}

// SessionParties returns the client and provider bound to a session. Only
// the marketplace principal may call this.
func (s *Service) SessionParties(ctx context.Context, sessionID, caller string) (client, provider string, err error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	return session.Parties(caller)
}

// GetSession returns a session view for one of its parties or the
// marketplace principal.
func (s *Service) GetSession(ctx context.Context, sessionID, caller string) (*models.Session, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if caller != session.ClientAddr && caller != session.ProviderAddr && caller != s.account {
		return nil, fmt.Errorf("read session %s: %w", sessionID, models.ErrUnauthorized)
	}
	return session, nil
}

func (s *Service) loadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &SessionNotFoundError{ID: sessionID}
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	// The factory principal is deployment state, not session state
	session.FactoryAddr = s.account
	return session, nil
}

func (s *Service) swapStateGauge(from, to models.SessionState) {
	if from == to {
		return
	}
	metrics.SessionsByState.WithLabelValues(string(from)).Dec()
	metrics.SessionsByState.WithLabelValues(string(to)).Inc()
}
