package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/provenance/internal/control"
	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/input"
	"github.com/Iron-Ham/provenance/internal/logging"
	"github.com/Iron-Ham/provenance/internal/recorder"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record terminal keystrokes into a new session",
	Long: `Start a collector session and record every key typed on stdin until
Ctrl-C or Ctrl-D is pressed, the input ends, or the process is signalled.
Pending keystrokes are flushed and the session is finalized before exit.

When stdin is not a terminal it is read as a plain stream, e.g.:
  echo "hello" | provenance record`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	rec, err := recorder.New(cfg, recorder.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create recorder: %w", err)
	}
	defer func() { _ = rec.Close(context.Background()) }()
	watchConfig(rec, logger)

	src := keySource(cmd.InOrStdin(), logger)
	if err := rec.Attach(src); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	handler := control.NewHandler(rec, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp := handler.Start(ctx)
	_, _ = fmt.Fprintln(out, styleResponse(resp))
	if resp.Outcome != control.OutcomeOK {
		return errors.New(resp.Message)
	}
	_, _ = fmt.Fprintln(out, mutedStyle.Render("Recording from "+src.Surface()+". Press Ctrl-C or Ctrl-D to stop."))

	runErr := src.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Warn("input ended with error", "error", runErr.Error())
	}

	// Stop runs on a fresh context so a signal still lets pending events out.
	resp = handler.Stop(context.Background())
	_, _ = fmt.Fprintln(out, styleResponse(resp))
	if resp.Delivered > 0 || resp.Dropped > 0 {
		_, _ = fmt.Fprintf(out, "%s\n", mutedStyle.Render(fmt.Sprintf("Final flush: %d delivered, %d dropped", resp.Delivered, resp.Dropped)))
	}
	if resp.Outcome != control.OutcomeOK {
		return errors.New(resp.Message)
	}
	return nil
}

// keySource picks raw terminal capture when r is a terminal and plain stream
// capture otherwise.
func keySource(r io.Reader, logger *logging.Logger) *input.KeySource {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return input.NewTerminal(f, logger)
	}
	return input.NewStream(r, logger)
}
