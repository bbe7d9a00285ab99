package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/provenance/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify provenance configuration",
	Long: `View or modify provenance configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  provenance config set capture.count_threshold 20
  provenance config set collector.base_url http://collector:8000

Valid keys:
  capture.count_threshold      - Flush once this many keystrokes are buffered
  capture.flush_interval_ms    - Flush once this much time passed since the last flush
  capture.max_buffered_events  - Cap on buffered keystrokes (0 = unlimited)
  collector.base_url           - Collector root URL
  server.addr                  - Listen address for 'provenance serve'
  logging.enabled              - Write recorder.log (true/false)
  logging.level                - Log level: debug, info, warn, error
  paths.state_dir              - Directory for logs, lock and session status

A running recorder picks up capture.count_threshold and
capture.flush_interval_ms without a restart.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/provenance/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

// settableKeys maps each key accepted by 'config set' to its value kind.
var settableKeys = map[string]string{
	"capture.count_threshold":     "int",
	"capture.flush_interval_ms":   "int",
	"capture.max_buffered_events": "int",
	"collector.base_url":          "string",
	"server.addr":                 "string",
	"logging.enabled":             "bool",
	"logging.level":               "string",
	"paths.state_dir":             "string",
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		_, _ = fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		_, _ = fmt.Fprintln(out, "Config file: (none - using defaults)")
	}
	_, _ = fmt.Fprintf(out, "State directory: %s\n\n", cfg.Paths.ResolveStateDir())

	data, err := config.Render(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	keyType, ok := settableKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'provenance config set --help' to see valid keys", key)
	}

	var typedValue any
	switch keyType {
	case "string":
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typedValue = intVal
	}

	viper.Set(key, typedValue)
	if _, err := loadConfig(); err != nil {
		return err
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	_, _ = fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'provenance config set' to modify values", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := config.Render(config.Default())
	if err != nil {
		return err
	}
	if err := os.WriteFile(configFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		_, _ = fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		_, _ = fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	_, _ = fmt.Fprintln(out, "\nSearch paths:")
	_, _ = fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	_, _ = fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	_, _ = fmt.Fprintf(out, "\nEnvironment variables: PROVENANCE_* (e.g., %s)\n",
		"PROVENANCE_"+strings.ToUpper(strings.ReplaceAll("collector.base_url", ".", "_")))
	return nil
}
