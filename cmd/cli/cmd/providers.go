package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect registered provider records",
}

var providersGetCmd = &cobra.Command{
	Use:   "get [index]",
	Short: "Get a provider record by index",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvidersGet,
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show aggregate pool capacity",
	RunE:  runPool,
}

func init() {
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(poolCmd)

	providersCmd.AddCommand(providersGetCmd)
}

func runProvidersGet(cmd *cobra.Command, args []string) error {
	index, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid index %q", args[0])
	}

	resp, err := apiDo(http.MethodGet, fmt.Sprintf("/api/v1/providers/%d", index), nil)
	if err != nil {
		return err
	}

	var rec ProviderRecord
	if err := decodeOrError(resp, http.StatusOK, &rec); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(rec)
	}

	fmt.Printf("Index:           %d\n", rec.Index)
	fmt.Printf("Owner:           %s\n", rec.Owner)
	fmt.Printf("CPUs:            %d\n", rec.CPUs)
	fmt.Printf("GPUs:            %d (%s)\n", rec.GPUs, gpuTypeName(rec.GPUType))
	fmt.Printf("Disk:            %d GB\n", rec.DiskGB)
	fmt.Printf("RAM:             %d GB\n", rec.RAMGB)
	fmt.Printf("Service Type:    %s\n", serviceTypeName(rec.ServiceType))
	fmt.Printf("Available Until: %s\n", rec.AvailableUntil)
	fmt.Printf("Max Duration:    %dh\n", rec.MaxDurationHours)
	fmt.Printf("Engaged:         %t\n", rec.Engaged)
	if rec.SessionID != "" {
		fmt.Printf("Session:         %s\n", rec.SessionID)
	}
	return nil
}

func runPool(cmd *cobra.Command, args []string) error {
	resp, err := apiDo(http.MethodGet, "/api/v1/pool", nil)
	if err != nil {
		return err
	}

	var totals PoolTotals
	if err := decodeOrError(resp, http.StatusOK, &totals); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(totals)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CPUS\tGPUS\tDISK GB\tRAM GB\tMAX WINDOW")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\n",
		totals.CPUs, totals.GPUs, totals.DiskGB, totals.RAMGB,
		time.Duration(totals.MaxWindow))
	w.Flush()
	return nil
}
