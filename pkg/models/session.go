package models

import (
	"errors"
	"fmt"
	"time"
)

// Session state machine errors.
var (
	// ErrUnauthorized is returned when a caller is not the party bound to
	// the operation it attempted.
	ErrUnauthorized = errors.New("caller not authorized")

	// ErrInvalidState is returned when an operation is not valid for the
	// session's current state.
	ErrInvalidState = errors.New("invalid session state")
)

// SessionState is the explicit handoff state of a session.
type SessionState string

const (
	StateCreated     SessionState = "created"     // matched, waiting for the provider
	StateInitialised SessionState = "initialised" // provider posted connection details
	StateStarted     SessionState = "started"     // client retrieved connection details
	StateCompleted   SessionState = "completed"   // rental over, provider released
)

// Session is the per-rental handoff object created once per successful match.
// The client, provider and embedded request are fixed at creation; only the
// connection details and state advance, and only through the transition
// methods below.
type Session struct {
	ID string `json:"id"`

	ClientAddr    string `json:"client_addr"`
	ProviderAddr  string `json:"provider_addr"`
	ProviderIndex int64  `json:"provider_index"`
	FactoryAddr   string `json:"-"`

	Request SessionRequest `json:"request"`

	State  SessionState `json:"state"`
	URL    string       `json:"-"`
	Secret string       `json:"-"`

	// Escrowed payment in settlement base units (decimal string) and the
	// USD quote it covered, in cents.
	PaidAmount    string `json:"paid_amount"`
	QuoteUSDCents int64  `json:"quote_usd_cents"`

	// Transition timestamps are pointers so unset ones are omitted from the
	// JSON view rather than serialized as the zero time.
	CreatedAt     time.Time  `json:"created_at"`
	InitialisedAt *time.Time `json:"initialised_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Initialise stores the provider's connection details. Valid only in state
// created, and only for the bound provider.
func (s *Session) Initialise(caller, url, secret string, now time.Time) error {
	if caller != s.ProviderAddr {
		return fmt.Errorf("initialise session %s: %w", s.ID, ErrUnauthorized)
	}
	if s.State != StateCreated {
		return fmt.Errorf("initialise session %s in state %q: %w", s.ID, s.State, ErrInvalidState)
	}
	s.URL = url
	s.Secret = secret
	s.State = StateInitialised
	s.InitialisedAt = &now
	return nil
}

// Start hands the stored connection details to the client. Valid only in
// state initialised, and only for the bound client.
func (s *Session) Start(caller string, now time.Time) (url, secret string, err error) {
	if caller != s.ClientAddr {
		return "", "", fmt.Errorf("start session %s: %w", s.ID, ErrUnauthorized)
	}
	if s.State != StateInitialised {
		return "", "", fmt.Errorf("start session %s in state %q: %w", s.ID, s.State, ErrInvalidState)
	}
	s.State = StateStarted
	s.StartedAt = &now
	return s.URL, s.Secret, nil
}

// Complete ends the rental so the marketplace can release the provider back
// to the pool. Either bound party may complete a session once the provider
// has initialised it.
func (s *Session) Complete(caller string, now time.Time) error {
	if caller != s.ClientAddr && caller != s.ProviderAddr {
		return fmt.Errorf("complete session %s: %w", s.ID, ErrUnauthorized)
	}
	if s.State != StateInitialised && s.State != StateStarted {
		return fmt.Errorf("complete session %s in state %q: %w", s.ID, s.State, ErrInvalidState)
	}
	s.State = StateCompleted
	s.CompletedAt = &now
	return nil
}

// Parties returns the bound client and provider addresses. Restricted to the
// factory principal that created the session.
func (s *Session) Parties(caller string) (client, provider string, err error) {
	if caller != s.FactoryAddr {
		return "", "", fmt.Errorf("read parties of session %s: %w", s.ID, ErrUnauthorized)
	}
	return s.ClientAddr, s.ProviderAddr, nil
}

// IsTerminal reports whether the session has finished its handoff lifecycle.
func (s *Session) IsTerminal() bool {
	return s.State == StateCompleted
}
