package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/provenance/internal/control"
	"github.com/Iron-Ham/provenance/internal/input"
	"github.com/Iron-Ham/provenance/internal/recorder"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the control endpoint and the page capture socket",
	Long: `Run a local control server for browser pages and other clients.

Endpoints:
  POST /start    start a session
  POST /stop     flush pending keystrokes and finalize the session
  GET  /status   report the active session
  GET  /capture  websocket accepting {"key": "a"} and {"type": "unload"} frames

The active session is stopped before the server exits.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr  string
	serveStart bool
)

// closeTimeout bounds the final flush and finalize on exit.
const closeTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from server.addr)")
	serveCmd.Flags().BoolVar(&serveStart, "start", false, "start a session immediately")
}

func runServe(cmd *cobra.Command, args []string) error {
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
	watchConfig(rec, logger)

	bridge := input.NewWebSocketBridge(cfg.Server.AllowedOrigins, logger)
	bridge.OnUnload(rec.Flush)
	if err := rec.Attach(bridge); err != nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render("Page capture unavailable: "+err.Error()))
	}

	handler := control.NewHandler(rec, logger)
	server := control.NewServer(handler, bridge, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if serveStart {
		_, _ = fmt.Fprintln(out, styleResponse(handler.Start(ctx)))
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	_, _ = fmt.Fprintln(out, accentStyle.Render("Listening on http://"+addr))

	serveErr := server.ListenAndServe(ctx, addr)
	bridge.Close()

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if rec.Session().ID != "" {
		_, _ = fmt.Fprintln(out, styleResponse(handler.Stop(closeCtx)))
	}
	if err := rec.Close(closeCtx); err != nil {
		logger.Warn("recorder close failed", "error", err.Error())
	}
	return serveErr
}
