package cmd

import "fmt"

// CLI-side mirrors of the API JSON. Timestamps stay strings because the CLI
// displays them verbatim.

// ProviderRecord is a registered capacity record as served by the API
type ProviderRecord struct {
	Index            int64  `json:"index"`
	Owner            string `json:"owner"`
	CPUs             int    `json:"cpus"`
	GPUs             int    `json:"gpus"`
	DiskGB           int    `json:"disk_gb"`
	RAMGB            int    `json:"ram_gb"`
	AvailableUntil   string `json:"available_until"`
	MaxDurationHours int    `json:"max_duration_hours"`
	GPUType          int    `json:"gpu_type"`
	ServiceType      int    `json:"service_type"`
	Engaged          bool   `json:"engaged"`
	SessionID        string `json:"session_id,omitempty"`
	RegisteredAt     string `json:"registered_at"`
}

// PoolTotals aggregates capacity over the whole pool
type PoolTotals struct {
	CPUs      int   `json:"cpus"`
	GPUs      int   `json:"gpus"`
	MaxWindow int64 `json:"max_window"`
	DiskGB    int   `json:"disk_gb"`
	RAMGB     int   `json:"ram_gb"`
}

// SessionRequest is a resource request
type SessionRequest struct {
	CPUs          int `json:"cpus"`
	GPUs          int `json:"gpus"`
	DurationHours int `json:"duration_hours"`
	GPUType       int `json:"gpu_type"`
	ServiceType   int `json:"service_type"`
	DiskGB        int `json:"disk_gb"`
	RAMGB         int `json:"ram_gb"`
}

// Session is a rental session as served by the API
type Session struct {
	ID            string         `json:"id"`
	ClientAddr    string         `json:"client_addr"`
	ProviderAddr  string         `json:"provider_addr"`
	ProviderIndex int64          `json:"provider_index"`
	Request       SessionRequest `json:"request"`
	State         string         `json:"state"`
	PaidAmount    string         `json:"paid_amount"`
	QuoteUSDCents int64          `json:"quote_usd_cents"`
	CreatedAt     string         `json:"created_at"`
}

// QuoteResponse carries a quote in both currencies
type QuoteResponse struct {
	USDCents           int64  `json:"usd_cents"`
	RequiredSettlement string `json:"required_settlement"`
}

var gpuTypeNames = []string{"none", "consumer", "datacenter"}
var serviceTypeNames = []string{"compute", "inference", "training"}

func parseGPUType(s string) (int, error) {
	for i, name := range gpuTypeNames {
		if s == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown gpu type %q (expected none, consumer or datacenter)", s)
}

func parseServiceType(s string) (int, error) {
	for i, name := range serviceTypeNames {
		if s == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown service type %q (expected compute, inference or training)", s)
}

func gpuTypeName(i int) string {
	if i >= 0 && i < len(gpuTypeNames) {
		return gpuTypeNames[i]
	}
	return fmt.Sprintf("unknown(%d)", i)
}

func serviceTypeName(i int) string {
	if i >= 0 && i < len(serviceTypeNames) {
		return serviceTypeNames[i]
	}
	return fmt.Sprintf("unknown(%d)", i)
}
