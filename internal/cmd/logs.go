package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/provenance/internal/logging"
	"github.com/Iron-Ham/provenance/internal/util"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View recorder logs",
	Long: `View and filter the recorder log in the state directory.

Examples:
  # Show the last 50 lines
  provenance logs

  # Show everything logged for one session
  provenance logs -s 42 -n 0

  # Follow logs in real-time
  provenance logs -f

  # Only delivery problems from the last hour
  provenance logs --level warn --since 1h --grep "batch|deliver"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsSessionID string
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
	logsWrap      bool
)

// maxFieldLen caps how much of a single field value is shown.
const maxFieldLen = 200

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsSessionID, "session", "s", "", "Only show entries for this session ID")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
	logsCmd.Flags().BoolVar(&logsWrap, "wrap", false, "Wrap long lines instead of cutting them at the terminal width")
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Msg       string         `json:"msg"`
	SessionID string         `json:"session_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Extra     map[string]any `json:"-"`
}

// UnmarshalJSON keeps fields other than the known ones in Extra.
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type alias logEntry
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, known := range []string{"time", "level", "msg", "session_id", "component"} {
		delete(all, known)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter selects the entries to display.
type logFilter struct {
	sessionID string
	minLevel  int
	since     time.Time
	grep      *regexp.Regexp
	width     int // 0 disables line truncation
}

// levelPriority returns the priority of a log level for filtering
func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

func (f *logFilter) passes(entry *logEntry) bool {
	if f.sessionID != "" && entry.SessionID != f.sessionID {
		return false
	}
	if f.minLevel >= 0 && levelPriority(entry.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && entry.Time.Before(f.since) {
		return false
	}
	if f.grep != nil {
		searchText := entry.Msg
		for _, v := range entry.Extra {
			searchText += " " + fmt.Sprintf("%v", v)
		}
		if !f.grep.MatchString(searchText) {
			return false
		}
	}
	return true
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry *logEntry) string {
	var sb strings.Builder

	sb.WriteString(mutedStyle.Render("[" + entry.Time.Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(levelStyle(entry.Level).Render("[" + strings.ToUpper(entry.Level) + "]"))
	sb.WriteString(" ")
	sb.WriteString(entry.Msg)

	if entry.SessionID != "" {
		sb.WriteString(" ")
		sb.WriteString(accentStyle.Render("session_id=" + entry.SessionID))
	}
	if entry.Component != "" {
		sb.WriteString(" ")
		sb.WriteString(accentStyle.Render("component=" + entry.Component))
	}

	keys := make([]string, 0, len(entry.Extra))
	for k := range entry.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(accentStyle.Render(k + "="))
		sb.WriteString(util.Truncate(fmt.Sprintf("%v", entry.Extra[k]), maxFieldLen))
	}

	return sb.String()
}

// formatLine renders one raw log line, or returns false if it is filtered out.
// Lines that are not JSON are shown as-is.
func formatLine(line string, f *logFilter) (string, bool) {
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return f.fit(line), true
	}
	if !f.passes(&entry) {
		return "", false
	}
	return f.fit(formatLogEntry(&entry)), true
}

func (f *logFilter) fit(line string) string {
	if f.width <= 0 {
		return line
	}
	return util.TruncateStyled(line, f.width)
}

// terminalWidth returns the width of out when it is a terminal, else 0.
func terminalWidth(out io.Writer) int {
	file, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil {
		return 0
	}
	return width
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	logPath := filepath.Join(cfg.Paths.ResolveStateDir(), logging.LogFileName)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		_, _ = fmt.Fprintln(out, "No logs found.")
		_, _ = fmt.Fprintln(out, "Logs are stored at:", logPath)
		return nil
	}

	filter := &logFilter{sessionID: logsSessionID, minLevel: -1}
	if !logsWrap {
		filter.width = terminalWidth(out)
	}
	if logsLevel != "" {
		filter.minLevel = levelPriority(logging.ParseLevel(logsLevel))
	}
	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.since = time.Now().Add(-duration)
	}
	if logsGrep != "" {
		filter.grep, err = regexp.Compile(logsGrep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
	}

	if logsFollow {
		return followLogs(cmd.Context(), out, logPath, filter)
	}
	return displayLogs(out, logPath, logsTail, filter)
}

// displayLogs prints the last tail matching entries of the log file.
func displayLogs(out io.Writer, logPath string, tail int, filter *logFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if formatted, ok := formatLine(line, filter); ok {
			entries = append(entries, formatted)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	for _, entry := range entries {
		_, _ = fmt.Fprintln(out, entry)
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, "No matching log entries found.")
	}
	return nil
}

// followLogs implements tail -f behavior for the log file until ctx is done.
func followLogs(ctx context.Context, out io.Writer, logPath string, filter *logFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	var partial string
	for {
		chunk, err := reader.ReadString('\n')
		partial += chunk
		if err == io.EOF {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}

		line := strings.TrimSpace(partial)
		partial = ""
		if line == "" {
			continue
		}
		if formatted, ok := formatLine(line, filter); ok {
			_, _ = fmt.Fprintln(out, formatted)
		}
	}
}
