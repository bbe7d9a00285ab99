package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/provenance/internal/collector"
	"github.com/Iron-Ham/provenance/internal/errors"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <session-id>",
	Short: "Ask the collector to verify a finalized session",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the collector is reachable",
	Args:  cobra.NoArgs,
	RunE:  runPing,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(pingCmd)
}

func newCollector() (*collector.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return collector.New(cfg.Collector.BaseURL)
}

func runVerify(cmd *cobra.Command, args []string) error {
	client, err := newCollector()
	if err != nil {
		return err
	}

	result, err := client.Verify(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to verify session %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	if !result.Verified {
		_, _ = fmt.Fprintln(out, errorStyle.Render("Session "+args[0]+" not verified: "+result.Message))
		return errors.New("session not verified")
	}
	_, _ = fmt.Fprintln(out, successStyle.Render("Session "+args[0]+" verified: "+result.Message))
	return nil
}

func runPing(cmd *cobra.Command, args []string) error {
	client, err := newCollector()
	if err != nil {
		return err
	}

	health, err := client.Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("collector at %s is unavailable: %w", client.BaseURL(), err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) at %s\n",
		health.Name, health.Version, successStyle.Render(health.Status), client.BaseURL())
	return nil
}
