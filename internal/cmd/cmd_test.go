package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/provenance/internal/collector"
	"github.com/Iron-Ham/provenance/internal/config"
	"github.com/Iron-Ham/provenance/internal/logging"
	"github.com/Iron-Ham/provenance/internal/session"
	"github.com/Iron-Ham/provenance/internal/testutil"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

// setupTestEnvironment isolates viper and the config directory, and points
// the state directory at a temp dir which it returns.
func setupTestEnvironment(t *testing.T) string {
	t.Helper()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	stateDir := t.TempDir()

	viper.Reset()
	viper.Set("paths.state_dir", stateDir)
	t.Cleanup(func() {
		viper.Reset()
		rootCmd.SetIn(nil)
	})
	return stateDir
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "provenance" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "provenance")
	}

	expectedCmds := []string{"record", "serve", "status", "verify", "ping", "config", "logs"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, name := range expectedCmds {
		if !cmdMap[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestRecordCommand_Stream(t *testing.T) {
	setupTestEnvironment(t)
	fake := testutil.NewFakeCollector(t)
	viper.Set("collector.base_url", fake.URL())

	rootCmd.SetIn(strings.NewReader("hi\r\n"))
	out, err := executeCommand(rootCmd, "record")
	if err != nil {
		t.Fatalf("record failed: %v\n%s", err, out)
	}

	for _, want := range []string{"Session started: 1", "Session finalized successfully."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	var keys []string
	for _, e := range fake.Events("1") {
		keys = append(keys, e.Character)
	}
	if strings.Join(keys, ",") != "h,i,Enter" {
		t.Errorf("collector keys = %v, want [h i Enter]", keys)
	}
	if !fake.Finalized("1") {
		t.Error("session was not finalized")
	}
}

func TestRecordCommand_StartFailure(t *testing.T) {
	setupTestEnvironment(t)
	fake := testutil.NewFakeCollector(t)
	fake.FailStart(-1)
	viper.Set("collector.base_url", fake.URL())

	rootCmd.SetIn(strings.NewReader("ignored"))
	out, err := executeCommand(rootCmd, "record")
	if err == nil {
		t.Fatal("record should fail when the collector rejects start")
	}
	if !strings.Contains(out, "Failed to start session.") {
		t.Errorf("output missing start failure:\n%s", out)
	}
	if n := fake.CallCount(testutil.OpEvents); n != 0 {
		t.Errorf("events calls = %d, want 0", n)
	}
}

func TestStatusCommand(t *testing.T) {
	tests := []struct {
		name   string
		record *session.StatusRecord
		want   []string
	}{
		{
			name: "no session",
			want: []string{"No active session."},
		},
		{
			name:   "live session",
			record: &session.StatusRecord{SessionID: "9", StartedAt: time.Now(), PID: os.Getpid()},
			want:   []string{"Session active: 9", "PID: "},
		},
		{
			name:   "recorder exited",
			record: &session.StatusRecord{SessionID: "9", StartedAt: time.Now(), PID: 1 << 23},
			want:   []string{"No active session.", "Session 9 was left open"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stateDir := setupTestEnvironment(t)
			if tt.record != nil {
				store, err := session.NewFileStore(stateDir)
				if err != nil {
					t.Fatalf("NewFileStore failed: %v", err)
				}
				if err := store.SaveStatus(context.Background(), *tt.record); err != nil {
					t.Fatalf("SaveStatus failed: %v", err)
				}
			}

			out, err := executeCommand(rootCmd, "status")
			if err != nil {
				t.Fatalf("status failed: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestVerifyCommand(t *testing.T) {
	setupTestEnvironment(t)
	fake := testutil.NewFakeCollector(t)
	viper.Set("collector.base_url", fake.URL())

	client, err := collector.New(fake.URL())
	if err != nil {
		t.Fatalf("collector.New failed: %v", err)
	}
	ctx := context.Background()
	open, _ := client.StartSession(ctx)
	done, _ := client.StartSession(ctx)
	if err := client.FinalizeSession(ctx, done); err != nil {
		t.Fatalf("FinalizeSession failed: %v", err)
	}

	out, err := executeCommand(rootCmd, "verify", done)
	if err != nil {
		t.Fatalf("verify finalized session failed: %v", err)
	}
	if !strings.Contains(out, "verified: Verification successful.") {
		t.Errorf("output = %q", out)
	}

	out, err = executeCommand(rootCmd, "verify", open)
	if err == nil {
		t.Error("verify of an open session should fail")
	}
	if !strings.Contains(out, "not verified") {
		t.Errorf("output = %q", out)
	}

	if _, err := executeCommand(rootCmd, "verify", "404"); err == nil {
		t.Error("verify of an unknown session should fail")
	}
}

func TestPingCommand(t *testing.T) {
	setupTestEnvironment(t)
	fake := testutil.NewFakeCollector(t)
	viper.Set("collector.base_url", fake.URL())

	out, err := executeCommand(rootCmd, "ping")
	if err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if !strings.Contains(out, fake.URL()) {
		t.Errorf("output = %q", out)
	}

	viper.Set("collector.base_url", "http://127.0.0.1:1")
	if _, err := executeCommand(rootCmd, "ping"); err == nil {
		t.Error("ping of an unreachable collector should fail")
	}
}

func TestConfigCommands(t *testing.T) {
	setupTestEnvironment(t)

	out, err := executeCommand(rootCmd, "config", "init")
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out, config.ConfigFile()) {
		t.Errorf("output = %q", out)
	}
	data, err := os.ReadFile(config.ConfigFile())
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "count_threshold: 10") {
		t.Errorf("config file missing defaults:\n%s", data)
	}

	if _, err := executeCommand(rootCmd, "config", "init"); err == nil {
		t.Error("second config init should fail")
	}

	out, err = executeCommand(rootCmd, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "flush_interval_ms: 2000") {
		t.Errorf("config show output:\n%s", out)
	}
}

func TestConfigSet(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr bool
	}{
		{name: "int", key: "capture.count_threshold", value: "20"},
		{name: "string", key: "collector.base_url", value: "http://collector:9000"},
		{name: "bool", key: "logging.enabled", value: "false"},
		{name: "unknown key", key: "capture.nope", value: "1", wantErr: true},
		{name: "not an int", key: "capture.count_threshold", value: "ten", wantErr: true},
		{name: "not a bool", key: "logging.enabled", value: "yes", wantErr: true},
		{name: "fails validation", key: "capture.count_threshold", value: "0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupTestEnvironment(t)

			_, err := executeCommand(rootCmd, "config", "set", tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("config set error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			data, err := os.ReadFile(config.ConfigFile())
			if err != nil {
				t.Fatalf("config file not written: %v", err)
			}
			leaf := tt.key[strings.LastIndex(tt.key, ".")+1:]
			if !strings.Contains(string(data), leaf+": "+tt.value) {
				t.Errorf("config file missing %s:\n%s", tt.key, data)
			}
		})
	}
}

func TestLogFilter(t *testing.T) {
	line := `{"time":"2026-01-02T10:00:00Z","level":"WARN","msg":"batch delivery failed","session_id":"7","component":"buffer","batch_size":10}`

	tests := []struct {
		name   string
		filter logFilter
		want   bool
	}{
		{name: "no filter", filter: logFilter{minLevel: -1}, want: true},
		{name: "matching session", filter: logFilter{sessionID: "7", minLevel: -1}, want: true},
		{name: "other session", filter: logFilter{sessionID: "8", minLevel: -1}, want: false},
		{name: "level below", filter: logFilter{minLevel: levelPriority(logging.LevelInfo)}, want: true},
		{name: "level above", filter: logFilter{minLevel: levelPriority(logging.LevelError)}, want: false},
		{name: "since earlier", filter: logFilter{minLevel: -1, since: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, want: true},
		{name: "since later", filter: logFilter{minLevel: -1, since: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}, want: false},
		{name: "grep message", filter: logFilter{minLevel: -1, grep: regexp.MustCompile("deliver")}, want: true},
		{name: "grep extra", filter: logFilter{minLevel: -1, grep: regexp.MustCompile("^batch delivery failed 10$")}, want: true},
		{name: "grep miss", filter: logFilter{minLevel: -1, grep: regexp.MustCompile("finalize")}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatted, ok := formatLine(line, &tt.filter)
			if ok != tt.want {
				t.Fatalf("formatLine() ok = %v, want %v", ok, tt.want)
			}
			if ok && !strings.Contains(formatted, "batch_size=") {
				t.Errorf("formatted line missing extra field: %q", formatted)
			}
		})
	}

	if got, ok := formatLine("not json", &logFilter{sessionID: "7"}); !ok || got != "not json" {
		t.Errorf("raw line = %q, %v", got, ok)
	}
}

func TestLogsCommand(t *testing.T) {
	stateDir := setupTestEnvironment(t)
	logger, err := logging.NewLogger(stateDir, logging.LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.WithSession("1").Info("session started")
	logger.WithSession("2").Warn("batch delivery failed")
	_ = logger.Close()

	logsSessionID, logsTail = "2", 0
	t.Cleanup(func() { logsSessionID, logsTail = "", 50 })

	out, err := executeCommand(rootCmd, "logs")
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if !strings.Contains(out, "batch delivery failed") || strings.Contains(out, "session started") {
		t.Errorf("logs output:\n%s", out)
	}
}

func TestLogsCommand_NoFile(t *testing.T) {
	stateDir := setupTestEnvironment(t)

	out, err := executeCommand(rootCmd, "logs")
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if !strings.Contains(out, filepath.Join(stateDir, logging.LogFileName)) {
		t.Errorf("output = %q", out)
	}
}
