// Package matcher filters the registered pool for records that can serve a
// request and picks one deterministically.
package matcher

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/torpedo-one/torpedo/pkg/models"
)

// ErrNoEligibleProvider is returned when no registered record can serve the
// request.
var ErrNoEligibleProvider = errors.New("no eligible provider")

// Matcher selects providers for session requests.
type Matcher struct {
	logger *slog.Logger
}

// Option configures the matcher
type Option func(*Matcher)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

// New creates a matcher
func New(opts ...Option) *Matcher {
	m := &Matcher{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindEligible returns the first record, in registration order, that can
// serve the request at the given instant. Registration order is the
// tie-break among multiple eligible records, so repeated calls over the same
// pool pick the same provider.
func (m *Matcher) FindEligible(records []models.ProviderRecord, req models.SessionRequest, now time.Time) (models.ProviderRecord, error) {
	for _, rec := range records {
		if Eligible(rec, req, now) {
			m.logger.Debug("matched provider",
				slog.Int64("index", rec.Index),
				slog.String("owner", rec.Owner))
			return rec, nil
		}
	}

	return models.ProviderRecord{}, fmt.Errorf("request [cpus=%d gpus=%d duration=%dh]: %w",
		req.CPUs, req.GPUs, req.DurationHours, ErrNoEligibleProvider)
}

// Eligible reports whether a single record can serve the request: unengaged,
// capacity at or above every requested quantity, duration within the
// record's maximum, exact classification match, and enough of the
// availability window left to host the full duration starting now.
func Eligible(rec models.ProviderRecord, req models.SessionRequest, now time.Time) bool {
	if rec.Engaged {
		return false
	}
	if rec.CPUs < req.CPUs || rec.GPUs < req.GPUs || rec.DiskGB < req.DiskGB || rec.RAMGB < req.RAMGB {
		return false
	}
	if rec.MaxDurationHours < req.DurationHours {
		return false
	}
	if rec.GPUType != req.GPUType || rec.ServiceType != req.ServiceType {
		return false
	}
	if rec.RemainingWindow(now) < req.Duration() {
		return false
	}
	return true
}
