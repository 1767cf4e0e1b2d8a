package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() *Session {
	return &Session{
		ID:           "sess-1",
		ClientAddr:   "client-1",
		ProviderAddr: "provider-1",
		FactoryAddr:  "factory",
		State:        StateCreated,
		Request: SessionRequest{
			CPUs:          0,
			GPUs:          1,
			DurationHours: 2,
			GPUType:       GPUTypeConsumer,
			ServiceType:   ServiceTypeCompute,
			DiskGB:        4,
			RAMGB:         2,
		},
	}
}

func TestSession_HandoffRoundTrip(t *testing.T) {
	s := newTestSession()
	now := time.Now()

	err := s.Initialise("provider-1", "https://example/node-1/", "secret1", now)
	require.NoError(t, err)
	assert.Equal(t, StateInitialised, s.State)

	url, secret, err := s.Start("client-1", now)
	require.NoError(t, err)
	assert.Equal(t, "https://example/node-1/", url)
	assert.Equal(t, "secret1", secret)
	assert.Equal(t, StateStarted, s.State)
}

func TestSession_StartBeforeInitialise(t *testing.T) {
	s := newTestSession()

	_, _, err := s.Start("client-1", time.Now())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateCreated, s.State)
}

func TestSession_InitialiseWrongCaller(t *testing.T) {
	s := newTestSession()

	err := s.Initialise("client-1", "https://example/", "x", time.Now())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, StateCreated, s.State)
}

func TestSession_InitialiseTwice(t *testing.T) {
	s := newTestSession()
	now := time.Now()

	require.NoError(t, s.Initialise("provider-1", "https://example/", "x", now))
	err := s.Initialise("provider-1", "https://example/", "y", now)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, "x", s.Secret)
}

func TestSession_StartWrongCaller(t *testing.T) {
	s := newTestSession()
	now := time.Now()
	require.NoError(t, s.Initialise("provider-1", "https://example/", "x", now))

	_, _, err := s.Start("provider-1", now)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, StateInitialised, s.State)
}

func TestSession_Complete(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		started bool
		wantErr error
	}{
		{name: "client after start", caller: "client-1", started: true},
		{name: "provider after start", caller: "provider-1", started: true},
		{name: "provider before start", caller: "provider-1", started: false},
		{name: "third party", caller: "mallory", started: true, wantErr: ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession()
			now := time.Now()
			require.NoError(t, s.Initialise("provider-1", "https://example/", "x", now))
			if tt.started {
				_, _, err := s.Start("client-1", now)
				require.NoError(t, err)
			}

			err := s.Complete(tt.caller, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, s.IsTerminal())
				return
			}
			require.NoError(t, err)
			assert.True(t, s.IsTerminal())
		})
	}
}

func TestSession_CompleteFromCreated(t *testing.T) {
	s := newTestSession()
	err := s.Complete("client-1", time.Now())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSession_PartiesRestrictedToFactory(t *testing.T) {
	s := newTestSession()

	client, provider, err := s.Parties("factory")
	require.NoError(t, err)
	assert.Equal(t, "client-1", client)
	assert.Equal(t, "provider-1", provider)

	_, _, err = s.Parties("client-1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSession_ViewOmitsUnsetTimestamps(t *testing.T) {
	s := newTestSession()
	s.CreatedAt = time.Now()

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "initialised_at")
	assert.NotContains(t, string(raw), "started_at")
	assert.NotContains(t, string(raw), "0001-01-01")

	require.NoError(t, s.Initialise("provider-1", "https://example/", "x", time.Now()))
	raw, err = json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "initialised_at")
	assert.NotContains(t, string(raw), "started_at")
}

func TestSessionRequest_Validate(t *testing.T) {
	valid := SessionRequest{CPUs: 2, GPUs: 1, DurationHours: 1, DiskGB: 10, RAMGB: 2}
	assert.NoError(t, valid.Validate())

	zeroDuration := valid
	zeroDuration.DurationHours = 0
	assert.ErrorIs(t, zeroDuration.Validate(), ErrInvalidRequest)

	negative := valid
	negative.DiskGB = -1
	assert.ErrorIs(t, negative.Validate(), ErrInvalidRequest)
}
