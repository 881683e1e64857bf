// Package cmd implements the CLI commands for mediasift.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/observability"
	"github.com/mediasift/mediasift/internal/version"
)

// Exit codes.
const (
	exitOK          = 0
	exitUserError   = 1
	exitUnreachable = 2
	exitInterrupted = 130
)

// exitError carries a specific process exit code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// serverURL is the base URL client commands talk to.
var serverURL string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "mediasift",
	Short:   "Local multimodal media search engine",
	Version: version.Short(),
	Long: `mediasift indexes local media libraries (images, video, audio, text)
into modality-specific vector spaces and answers natural-language,
query-by-example, and person-scoped searches across them.

The serve command runs the full engine: catalog, vector store, ingest
workers, filesystem watcher, and HTTP API. The remaining commands are
thin clients that talk to a running server.`,
}

// Execute runs the root command and maps errors to process exit codes:
// 0 success, 1 user error, 2 backend unreachable, 130 interrupted.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", exit.err)
		}
		return exit.code
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	return exitUserError
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// These flags are not bound to viper; Changed() gates the override so
	// the priority stays CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mediasift.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "base URL of the mediasift server (client commands)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/mediasift")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mediasift")
	}

	viper.SetEnvPrefix("MEDIASIFT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the default slog logger. Client commands log to
// stderr so stdout stays clean for JSON output.
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logCfg := config.LoggingConfig{
		Level:  strings.ToLower(level),
		Format: strings.ToLower(format),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
