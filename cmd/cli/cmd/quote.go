package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	quoteCPUs        int
	quoteGPUs        int
	quoteDuration    int
	quoteDiskGB      int
	quoteRAMGB       int
	quoteGPUType     string
	quoteServiceType string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Quote a resource request",
	Long: `Quote a resource request in USD and in settlement base units at the
current oracle price. The quote depends only on the request, never on
which provider would serve it.`,
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().IntVar(&quoteCPUs, "cpus", 0, "CPU cores requested")
	quoteCmd.Flags().IntVar(&quoteGPUs, "gpus", 0, "GPUs requested")
	quoteCmd.Flags().IntVar(&quoteDuration, "duration", 1, "Session length, hours")
	quoteCmd.Flags().IntVar(&quoteDiskGB, "disk", 0, "Disk requested, GB")
	quoteCmd.Flags().IntVar(&quoteRAMGB, "ram", 0, "RAM requested, GB")
	quoteCmd.Flags().StringVar(&quoteGPUType, "gpu-type", "none", "GPU classification (none, consumer, datacenter)")
	quoteCmd.Flags().StringVar(&quoteServiceType, "service-type", "compute", "Service classification (compute, inference, training)")
}

func runQuote(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(quoteCPUs, quoteGPUs, quoteDuration, quoteDiskGB, quoteRAMGB, quoteGPUType, quoteServiceType)
	if err != nil {
		return err
	}

	resp, err := apiDo(http.MethodPost, "/api/v1/quotes", req)
	if err != nil {
		return err
	}

	var quote QuoteResponse
	if err := decodeOrError(resp, http.StatusOK, &quote); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(quote)
	}

	fmt.Printf("Quote:      $%d.%02d\n", quote.USDCents/100, quote.USDCents%100)
	fmt.Printf("Settlement: %s base units\n", quote.RequiredSettlement)
	return nil
}

func buildRequest(cpus, gpus, duration, disk, ram int, gpuType, serviceType string) (SessionRequest, error) {
	gt, err := parseGPUType(gpuType)
	if err != nil {
		return SessionRequest{}, err
	}
	st, err := parseServiceType(serviceType)
	if err != nil {
		return SessionRequest{}, err
	}
	return SessionRequest{
		CPUs:          cpus,
		GPUs:          gpus,
		DurationHours: duration,
		GPUType:       gt,
		ServiceType:   st,
		DiskGB:        disk,
		RAMGB:         ram,
	}, nil
}
