package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	registerCPUs        int
	registerGPUs        int
	registerDiskGB      int
	registerRAMGB       int
	registerUntil       string
	registerMaxDuration int
	registerGPUType     string
	registerServiceType string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a provider capacity record",
	Long: `Register a unit of rentable capacity owned by the acting account.

The availability window must extend at least the server's minimum lead
time past registration (4 hours by default).`,
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)

	registerCmd.Flags().IntVar(&registerCPUs, "cpus", 1, "CPU cores offered (minimum 1)")
	registerCmd.Flags().IntVar(&registerGPUs, "gpus", 0, "GPUs offered")
	registerCmd.Flags().IntVar(&registerDiskGB, "disk", 0, "Disk offered, GB")
	registerCmd.Flags().IntVar(&registerRAMGB, "ram", 0, "RAM offered, GB")
	registerCmd.Flags().StringVar(&registerUntil, "until", "", "Availability window end, RFC3339 (required)")
	registerCmd.Flags().IntVar(&registerMaxDuration, "max-duration", 24, "Longest session accepted, hours")
	registerCmd.Flags().StringVar(&registerGPUType, "gpu-type", "none", "GPU classification (none, consumer, datacenter)")
	registerCmd.Flags().StringVar(&registerServiceType, "service-type", "compute", "Service classification (compute, inference, training)")
}

func runRegister(cmd *cobra.Command, args []string) error {
	if err := requireAccount(); err != nil {
		return err
	}

	if registerUntil == "" {
		return fmt.Errorf("--until is required")
	}
	until, err := time.Parse(time.RFC3339, registerUntil)
	if err != nil {
		return fmt.Errorf("invalid --until value %q: expected RFC3339", registerUntil)
	}

	gpuType, err := parseGPUType(registerGPUType)
	if err != nil {
		return err
	}
	serviceType, err := parseServiceType(registerServiceType)
	if err != nil {
		return err
	}

	resp, err := apiDo(http.MethodPost, "/api/v1/providers", map[string]any{
		"cpus":               registerCPUs,
		"gpus":               registerGPUs,
		"disk_gb":            registerDiskGB,
		"ram_gb":             registerRAMGB,
		"available_until":    until.Format(time.RFC3339),
		"max_duration_hours": registerMaxDuration,
		"gpu_type":           gpuType,
		"service_type":       serviceType,
	})
	if err != nil {
		return err
	}

	var result struct {
		Index int64  `json:"index"`
		Owner string `json:"owner"`
	}
	if err := decodeOrError(resp, http.StatusCreated, &result); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(result)
	}

	fmt.Printf("Registered provider record %d for %s.\n", result.Index, result.Owner)
	return nil
}
