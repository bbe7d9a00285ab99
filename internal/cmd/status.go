package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/provenance/internal/control"
	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active session",
	Long:  `Display the session the local recorder is currently capturing into, if any.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	stateDir := cfg.Paths.ResolveStateDir()

	store, err := session.NewFileStore(stateDir)
	if err != nil {
		return fmt.Errorf("failed to open state directory: %w", err)
	}

	record, err := store.LoadStatus(cmd.Context())
	if errors.Is(err, session.ErrNotFound) {
		_, _ = fmt.Fprintln(out, control.MsgIdle)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session status: %w", err)
	}

	if record.Stale() {
		_, _ = fmt.Fprintln(out, control.MsgIdle)
		_, _ = fmt.Fprintln(out, mutedStyle.Render(
			fmt.Sprintf("Session %s was left open by a recorder that exited (pid %d).", record.SessionID, record.PID)))
		return nil
	}

	_, _ = fmt.Fprintln(out, successStyle.Render(control.MsgActive+record.SessionID))
	_, _ = fmt.Fprintf(out, "Started: %s\n", record.StartedAt.Local().Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(out, "PID: %d\n", record.PID)
	if lock, ok := session.IsLocked(stateDir); ok {
		_, _ = fmt.Fprintf(out, "Context: %s\n", lock.ContextID)
	}
	return nil
}
