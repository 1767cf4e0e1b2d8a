package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGPUType(t *testing.T) {
	for want, name := range gpuTypeNames {
		got, err := parseGPUType(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := parseGPUType("quantum")
	assert.Error(t, err)
}

func TestParseServiceType(t *testing.T) {
	for want, name := range serviceTypeNames {
		got, err := parseServiceType(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := parseServiceType("mining")
	assert.Error(t, err)
}

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest(2, 1, 3, 10, 4, "consumer", "inference")
	require.NoError(t, err)

	assert.Equal(t, SessionRequest{
		CPUs:          2,
		GPUs:          1,
		DurationHours: 3,
		GPUType:       1,
		ServiceType:   1,
		DiskGB:        10,
		RAMGB:         4,
	}, req)

	_, err = buildRequest(1, 0, 1, 0, 0, "bad", "compute")
	assert.Error(t, err)
}

func TestTypeNames(t *testing.T) {
	assert.Equal(t, "datacenter", gpuTypeName(2))
	assert.Equal(t, "training", serviceTypeName(2))
	assert.Contains(t, gpuTypeName(7), "unknown")
}
