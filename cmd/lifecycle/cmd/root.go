// Package cmd provides the CLI commands for the lifecycle tool.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	instanceID string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "Identity and credential lifecycle tool",
	Long: `lifecycle keeps a client signed in to the identity backend, mirrors the
issuer's API credentials locally and serves the single-session registry.

Configuration:
  Config is loaded from lifecycle.yaml in the current directory or $HOME/.lifecycle/.
  Environment variables override config values with the LIFECYCLE_ prefix.
  Example: LIFECYCLE_IDENTITY_BASE_URL=https://id.example.com/api

Commands:
  login       Sign in, store the token set and open a session
  status      Show the stored sign-in state
  check       Ask the backend who the current token belongs to
  logout      Sign out locally and remotely
  keys        Verify, sync, list and reveal mirrored credentials
  vault       Generate keys and seal/unseal values
  serve       Run the session and credential HTTP service`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		return setupLogging(c.GetLogLevel())
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./lifecycle.yaml)")
	rootCmd.PersistentFlags().StringVar(&instanceID, "instance", "cli", "client instance whose token set is used")
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	return nil
}
