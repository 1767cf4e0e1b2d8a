package models

import "time"

// GPUType classifies the GPU hardware a provider offers. A request is only
// matched against records carrying the exact same classification.
type GPUType int

const (
	GPUTypeNone       GPUType = iota // CPU-only capacity
	GPUTypeConsumer                  // consumer-grade cards (RTX class)
	GPUTypeDatacenter                // datacenter cards (A/H class)
)

// ServiceType classifies the workload a provider is willing to host.
type ServiceType int

const (
	ServiceTypeCompute   ServiceType = iota // general batch compute
	ServiceTypeInference                    // model inference hosting
	ServiceTypeTraining                     // model training
)

// ProviderRecord is one registered unit of rentable capacity. Records are
// immutable after registration except for the engagement fields, which are
// toggled exclusively by the marketplace during match and session completion.
type ProviderRecord struct {
	Index int64  `json:"index"`
	Owner string `json:"owner"`

	// Capacity
	CPUs   int `json:"cpus"`
	GPUs   int `json:"gpus"`
	DiskGB int `json:"disk_gb"`
	RAMGB  int `json:"ram_gb"`

	// Availability
	AvailableUntil   time.Time `json:"available_until"`
	MaxDurationHours int       `json:"max_duration_hours"`

	// Classification
	GPUType     GPUType     `json:"gpu_type"`
	ServiceType ServiceType `json:"service_type"`

	// Engagement status, owned by the marketplace
	Engaged   bool   `json:"engaged"`
	SessionID string `json:"session_id,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
}

// RemainingWindow returns how much serving time the record has left at the
// given instant. Negative once the availability window has elapsed.
func (r *ProviderRecord) RemainingWindow(now time.Time) time.Duration {
	return r.AvailableUntil.Sub(now)
}

// PoolTotals aggregates capacity across every registered record, engaged or
// not. MaxWindow is the largest remaining availability window at the time the
// aggregation ran; it shrinks between calls as wall-clock time advances.
type PoolTotals struct {
	CPUs      int           `json:"cpus"`
	GPUs      int           `json:"gpus"`
	MaxWindow time.Duration `json:"max_window"`
	DiskGB    int           `json:"disk_gb"`
	RAMGB     int           `json:"ram_gb"`
}
