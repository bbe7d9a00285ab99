package cmd

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/provenance/internal/config"
	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/logging"
	"github.com/Iron-Ham/provenance/internal/recorder"
)

var rootCmd = &cobra.Command{
	Use:   "provenance",
	Short: "Record keystrokes into collector sessions",
	Long: `Provenance records keystrokes typed into a terminal or a browser page
and delivers them in batches to a remote collector, grouped into sessions
that can later be verified.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/provenance/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PROVENANCE")
	// e.g., PROVENANCE_COLLECTOR_BASE_URL for collector.base_url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadConfig returns the validated effective configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// newLogger opens the recorder log in the state directory, or returns a
// NopLogger when logging is disabled.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLogger(cfg.Paths.ResolveStateDir(), cfg.Logging.Level)
}

// watchConfig reapplies the flush policy whenever the config file changes.
// It does nothing when no config file was read.
func watchConfig(rec *recorder.Recorder, logger *logging.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := config.Load()
		if err != nil {
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err.Error())
			return
		}
		rec.ApplyConfig(cfg)
	})
	viper.WatchConfig()
	logger.Debug("watching config file", "file", viper.ConfigFileUsed())
}
