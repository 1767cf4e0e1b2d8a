package models

import (
	"errors"
	"time"
)

// ErrInvalidRequest is returned when a session request fails validation.
var ErrInvalidRequest = errors.New("invalid session request")

// SessionRequest is a client's desired resource bundle and duration. It is
// ephemeral until a match succeeds, at which point it is embedded immutably
// in the resulting session.
type SessionRequest struct {
	CPUs          int         `json:"cpus"`
	GPUs          int         `json:"gpus"`
	DurationHours int         `json:"duration_hours"`
	GPUType       GPUType     `json:"gpu_type"`
	ServiceType   ServiceType `json:"service_type"`
	DiskGB        int         `json:"disk_gb"`
	RAMGB         int         `json:"ram_gb"`
}

// Validate checks the request invariants: all quantities non-negative and a
// strictly positive duration.
func (r SessionRequest) Validate() error {
	if r.CPUs < 0 || r.GPUs < 0 || r.DiskGB < 0 || r.RAMGB < 0 {
		return ErrInvalidRequest
	}
	if r.DurationHours <= 0 {
		return ErrInvalidRequest
	}
	return nil
}

// Duration returns the requested session length.
func (r SessionRequest) Duration() time.Duration {
	return time.Duration(r.DurationHours) * time.Hour
}
