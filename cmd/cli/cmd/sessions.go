package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	createCPUs        int
	createGPUs        int
	createDuration    int
	createDiskGB      int
	createRAMGB       int
	createGPUType     string
	createServiceType string
	createPayment     string

	initialiseURL    string
	initialiseSecret string

	listRole  string
	listState string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Create sessions and drive the connection handoff",
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Rent capacity matching a resource request",
	Long: `Create a session as the acting account. The payment must cover the
quoted amount in settlement base units; run "torpedo quote" first with
the same request to see the requirement.`,
	RunE: runSessionsCreate,
}

var sessionsGetCmd = &cobra.Command{
	Use:   "get [session-id]",
	Short: "Get session details (parties and marketplace only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsGet,
}

var sessionsInitialiseCmd = &cobra.Command{
	Use:   "initialise [session-id]",
	Short: "Post connection details as the bound provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsInitialise,
}

var sessionsStartCmd = &cobra.Command{
	Use:   "start [session-id]",
	Short: "Retrieve connection details as the bound client",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsStart,
}

var sessionsCompleteCmd = &cobra.Command{
	Use:   "complete [session-id]",
	Short: "End the rental and release the provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsComplete,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions visible to the acting account",
	RunE:  runSessionsList,
}

var sessionsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the acting provider's engagement status",
	RunE:  runSessionsStatus,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)

	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsGetCmd)
	sessionsCmd.AddCommand(sessionsInitialiseCmd)
	sessionsCmd.AddCommand(sessionsStartCmd)
	sessionsCmd.AddCommand(sessionsCompleteCmd)
	sessionsCmd.AddCommand(sessionsStatusCmd)

	sessionsCreateCmd.Flags().IntVar(&createCPUs, "cpus", 0, "CPU cores requested")
	sessionsCreateCmd.Flags().IntVar(&createGPUs, "gpus", 0, "GPUs requested")
	sessionsCreateCmd.Flags().IntVar(&createDuration, "duration", 1, "Session length, hours")
	sessionsCreateCmd.Flags().IntVar(&createDiskGB, "disk", 0, "Disk requested, GB")
	sessionsCreateCmd.Flags().IntVar(&createRAMGB, "ram", 0, "RAM requested, GB")
	sessionsCreateCmd.Flags().StringVar(&createGPUType, "gpu-type", "none", "GPU classification (none, consumer, datacenter)")
	sessionsCreateCmd.Flags().StringVar(&createServiceType, "service-type", "compute", "Service classification (compute, inference, training)")
	sessionsCreateCmd.Flags().StringVar(&createPayment, "payment", "", "Payment in settlement base units (required)")

	sessionsListCmd.Flags().StringVar(&listRole, "role", "", "List as client or provider (default client)")
	sessionsListCmd.Flags().StringVar(&listState, "state", "", "Filter by state (created, initialised, started, completed)")

	sessionsInitialiseCmd.Flags().StringVar(&initialiseURL, "url", "", "Connection URL (required)")
	sessionsInitialiseCmd.Flags().StringVar(&initialiseSecret, "secret", "", "Connection secret (required)")
}

func runSessionsCreate(cmd *cobra.Command, args []string) error {
	if err := requireAccount(); err != nil {
		return err
	}
	if createPayment == "" {
		return fmt.Errorf("--payment is required")
	}

	req, err := buildRequest(createCPUs, createGPUs, createDuration, createDiskGB, createRAMGB, createGPUType, createServiceType)
	if err != nil {
		return err
	}

	resp, err := apiDo(http.MethodPost, "/api/v1/sessions", map[string]any{
		"request": req,
		"payment": createPayment,
	})
	if err != nil {
		return err
	}

	var session Session
	if err := decodeOrError(resp, http.StatusCreated, &session); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(session)
	}

	fmt.Printf("Session created: %s\n", session.ID)
	fmt.Printf("Provider:        %s (record %d)\n", session.ProviderAddr, session.ProviderIndex)
	fmt.Printf("Quote:           $%d.%02d\n", session.QuoteUSDCents/100, session.QuoteUSDCents%100)
	fmt.Printf("State:           %s\n", session.State)
	return nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	if err := requireAccount(); err != nil {
		return err
	}

	params := url.Values{}
	if listRole != "" {
		params.Set("role", listRole)
	}
	if listState != "" {
		params.Set("state", listState)
	}

	path := "/api/v1/sessions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp, err := apiDo(http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	var result struct {
		Sessions []Session `json:"sessions"`
		Count    int       `json:"count"`
	}
	if err := decodeOrError(resp, http.StatusOK, &result); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(result)
	}

	if len(result.Sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLIENT\tPROVIDER\tSTATE\tQUOTE\tCREATED")
	fmt.Fprintln(w, "--\t------\t--------\t-----\t-----\t-------")
	for _, session := range result.Sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%d.%02d\t%s\n",
			session.ID,
			session.ClientAddr,
			session.ProviderAddr,
			session.State,
			session.QuoteUSDCents/100, session.QuoteUSDCents%100,
			session.CreatedAt,
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d sessions\n", result.Count)
	return nil
}

func runSessionsGet(cmd *cobra.Command, args []string) error {
	if err := requireAccount(); err != nil {
		return err
	}

	resp, err := apiDo(http.MethodGet, "/api/v1/sessions/"+args[0], nil)
	if err != nil {
		return err
	}

	var session Session
	if err := decodeOrError(resp, http.StatusOK, &session); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(session)
	}

	fmt.Printf("Session ID:  %s\n", session.ID)
	fmt.Printf("Client:      %s\n", session.ClientAddr)
	fmt.Printf("Provider:    %s (record %d)\n", session.ProviderAddr, session.ProviderIndex)
	fmt.Printf("State:       %s\n", session.State)
	fmt.Printf("Quote:       $%d.%02d\n", session.QuoteUSDCents/100, session.QuoteUSDCents%100)
	fmt.Printf("Paid:        %s base units\n", session.PaidAmount)
	fmt.Printf("Created At:  %s\n", session.CreatedAt)
	fmt.Printf("Request:     %d cpus, %d gpus (%s), %d GB disk, %d GB ram, %dh %s\n",
		session.Request.CPUs, session.Request.GPUs, gpuTypeName(session.Request.GPUType),
		session.Request.DiskGB, session.Request.RAMGB,
		session.Request.DurationHours, serviceTypeName(session.Request.ServiceType))
	return nil
}

func runSessionsInitialise(cmd *cobra.Command, args []string) error {
	if err := requireAccount(); err != nil {
		return err
	}
	if initialiseURL == "" || initialiseSecret == "" {
		return fmt.Errorf("--url and --secret are required")
	}

	resp, err := apiDo(http.MethodPost, "/api/v1/sessions/"+args[0]+"/initialise", map[string]any{
		"url":    initialiseURL,
		"secret": initialiseSecret,
	})
	if err != nil {
		return err
	}
	if err := decodeOrError(resp, http.StatusOK, nil); err != nil {
		return err
	}

	fmt.Printf("Session %s initialised.\n", args[0])
	return nil
}

func runSessionsStart(cmd *cobra.Command, args []string) error {
	if err := requireAccount(); err != nil {
		return err
	}

	resp, err := apiDo(http.MethodPost, "/api/v1/sessions/"+args[0]+"/start", nil)
	if err != nil {
		return err
	}

	var result struct {
		SessionID string `json:"session_id"`
		URL       string `json:"url"`
		Secret    string `json:"secret"`
	}
	if err := decodeOrError(resp, http.StatusOK, &result); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(result)
	}

	fmt.Printf("Session %s started.\n", result.SessionID)
	fmt.Printf("URL:    %s\n", result.URL)
	fmt.Printf("Secret: %s\n", result.Secret)
	return nil
}

func runSessionsComplete(cmd *cobra.Command, args []string) error {
	if err := requireAccount(); err != nil {
		return err
	}

	resp, err := apiDo(http.MethodPost, "/api/v1/sessions/"+args[0]+"/complete", nil)
	if err != nil {
		return err
	}
	if err := decodeOrError(resp, http.StatusOK, nil); err != nil {
		return err
	}

	fmt.Printf("Session %s completed.\n", args[0])
	return nil
}

func runSessionsStatus(cmd *cobra.Command, args []string) error {
	if err := requireAccount(); err != nil {
		return err
	}

	resp, err := apiDo(http.MethodGet, "/api/v1/providers/status", nil)
	if err != nil {
		return err
	}

	var status struct {
		Account   string `json:"account"`
		Engaged   bool   `json:"engaged"`
		SessionID string `json:"session_id,omitempty"`
	}
	if err := decodeOrError(resp, http.StatusOK, &status); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(status)
	}

	if !status.Engaged {
		fmt.Printf("%s is not engaged.\n", status.Account)
		return nil
	}
	fmt.Printf("%s is engaged in session %s.\n", status.Account, status.SessionID)
	return nil
}
